package models

// Виды уведомлений, публикуемых движком во внешний нотификатор.
const (
	NotifyExpiring24h   = "expiring-24h"
	NotifyExpiringToday = "expiring-today"
	NotifyExpired       = "expired"
	NotifyPaymentDone   = "payment-applied"
	NotifyTrialStarted  = "trial-started"
)

// Notification представляет одно событие для внешнего нотификатора.
// Доставка — забота нотификатора, движок события не перепосылает.
type Notification struct {
	UserExternalID string `json:"user_external_id"`
	Kind           string `json:"kind"`
	PlanType       string `json:"plan_type,omitempty"`
	ExpiryDate     string `json:"expiry_date,omitempty"`
	Email          string `json:"email,omitempty"` // Адрес доставки, если известен
}
