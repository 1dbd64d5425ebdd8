package repository

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestDataFactory содержит методы для создания тестовых данных
type TestDataFactory struct {
	storage *Storage
}

// NewTestDataFactory создает новую фабрику тестовых данных
func NewTestDataFactory(storage *Storage) *TestDataFactory {
	return &TestDataFactory{storage: storage}
}

// CreateUser создает тестового пользователя и возвращает его ID.
func (f *TestDataFactory) CreateUser(t *testing.T, externalID string) int64 {
	t.Helper()
	var id int64
	err := f.storage.DB.QueryRow(`INSERT INTO users (external_id, user_uuid)
		VALUES ($1, $2) RETURNING id`,
		externalID, uuid.New().String()).Scan(&id)
	require.NoError(t, err)
	return id
}

// CreateServer создает тестовый сервер и возвращает его ID.
func (f *TestDataFactory) CreateServer(t *testing.T, name string, isActive bool) int64 {
	t.Helper()
	var id int64
	err := f.storage.DB.QueryRow(`INSERT INTO servers
		(name, is_active, api_url, api_username, api_password, inbound_id,
		 host, port, public_key, short_ids, domain, security, network_type, flow, fingerprint, spider_x)
		VALUES ($1, $2, 'http://panel.local:2053', 'admin', 'admin', 1,
		 'vpn.example.com', 443, 'pbk', 'abcd', 'yahoo.com', 'reality', 'tcp', 'xtls-rprx-vision', 'chrome', '/')
		RETURNING id`, name, isActive).Scan(&id)
	require.NoError(t, err)
	return id
}

// CreateSubscription создает тестовую подписку и возвращает её ID.
func (f *TestDataFactory) CreateSubscription(t *testing.T, userID int64, isActive bool, expiry time.Time, planType string) int64 {
	t.Helper()
	var id int64
	err := f.storage.DB.QueryRow(`INSERT INTO subscriptions (user_id, is_active, expiry_date, plan_type)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		userID, isActive, expiry, planType).Scan(&id)
	require.NoError(t, err)
	return id
}

// CreatePendingPayment создает тестовый платёж в статусе pending.
func (f *TestDataFactory) CreatePendingPayment(t *testing.T, providerPaymentID string, userID int64, planType string) {
	t.Helper()
	_, err := f.storage.DB.Exec(`INSERT INTO payments (payment_id, user_id, plan_type, amount, currency, status)
		VALUES ($1, $2, $3, 130, 'RUB', 'pending')`,
		providerPaymentID, userID, planType)
	require.NoError(t, err)
}
