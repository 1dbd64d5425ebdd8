package models

import "time"

// Статусы платежа. Переход из pending в терминальный статус происходит
// ровно один раз; payment_id провайдера — якорь идемпотентности.
const (
	PaymentPending   = "pending"
	PaymentSucceeded = "succeeded"
	PaymentCanceled  = "canceled"
	PaymentRefunded  = "refunded"
)

// Payment представляет одну транзакцию платёжного провайдера.
type Payment struct {
	ID          int64
	PaymentID   string // Идентификатор платежа у провайдера (уникальный)
	UserID      int64
	PlanType    string // "m1", "m3", "m12"
	Amount      float64
	Currency    string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt *time.Time
}
