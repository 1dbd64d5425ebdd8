// Package models содержит доменные структуры движка подписок:
// пользователи, серверы, подписки, ключи и платежи.
package models

import "time"

// User представляет конечного клиента сервиса.
// UserUUID назначается один раз при первом контакте и больше не меняется:
// этот же UUID используется как идентификатор клиента на всех панелях.
type User struct {
	ID         int64     // Внутренний идентификатор
	ExternalID string    // Стабильный внешний идентификатор (уникальный)
	UserUUID   string    // Федеративный UUID пользователя
	TrialUsed  bool      // Был ли уже использован пробный период
	Email      string    // Контакт для почтовых уведомлений, может быть пустым
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// KeyEmail возвращает детерминированную метку клиента на панели.
// Метка строится только из внешнего идентификатора, поэтому повторная
// синхронизация находит существующую запись, а не плодит дубликаты.
func (u *User) KeyEmail() string {
	return "user-" + u.ExternalID
}
