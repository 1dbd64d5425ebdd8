package models

import "time"

// Subscription представляет один период доступа пользователя.
// У пользователя одновременно может быть не более одной активной подписки;
// истёкшие записи не удаляются и остаются как история.
type Subscription struct {
	ID         int64
	UserID     int64
	IsActive   bool
	ExpiryDate time.Time
	PlanType   string // "trial", "paid_m1", "paid_m3", "paid_m12"

	// Одноразовые флаги уведомлений. Сбрасываются только продлением.
	Notified24h    bool
	Notified0h     bool
	ExpiredHandled bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Remaining возвращает оставшееся время подписки относительно now.
func (s *Subscription) Remaining(now time.Time) time.Duration {
	return s.ExpiryDate.Sub(now)
}
