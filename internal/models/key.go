package models

import "time"

// Статусы синхронизации ключа с панелью.
const (
	KeySyncPending = "pending"
	KeySyncSynced  = "synced"
	KeySyncError   = "error"
)

// Key представляет учётную запись, которая должна существовать на одном
// конкретном сервере для одной подписки. Пара (subscription, server)
// уникальна; KeyUUID всегда равен федеративному UUID владельца.
type Key struct {
	ID             int64
	SubscriptionID int64
	ServerID       int64
	KeyUUID        string
	Email          string // Метка клиента на панели, ключ поиска
	SyncStatus     string // pending | synced | error
	LastSyncAt     *time.Time
	SyncError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// KeyWithServer объединяет ключ и его сервер для построения ссылок подключения.
type KeyWithServer struct {
	Key    Key
	Server Server
}
