// Package reconciler содержит бизнес-логику синхронизации ключей подписки
// с набором активных серверов.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/swagavpn/provisioner/internal/lib/sl"
	"github.com/swagavpn/provisioner/internal/metrics"
	"github.com/swagavpn/provisioner/internal/models"
	"github.com/swagavpn/provisioner/internal/xui"
)

// ErrSubscriptionNotActive возвращается при попытке синхронизировать
// неактивную подписку.
var ErrSubscriptionNotActive = errors.New("subscription is not active")

// KeyRepository определяет методы хранилища для работы с ключами и серверами.
type KeyRepository interface {
	// ListActiveServers возвращает серверы, участвующие в синхронизации.
	ListActiveServers(ctx context.Context) ([]*models.Server, error)
	// GetServerByID возвращает сервер по ID.
	GetServerByID(ctx context.Context, id int64) (*models.Server, error)
	// EnsureKey создает запись ключа для пары (подписка, сервер), если её нет.
	EnsureKey(ctx context.Context, subscriptionID, serverID int64, keyUUID, email string) error
	// ListKeysBySubscription возвращает все ключи подписки.
	ListKeysBySubscription(ctx context.Context, subscriptionID int64) ([]*models.Key, error)
	// MarkKeySynced отмечает ключ как синхронизированный.
	MarkKeySynced(ctx context.Context, keyID int64, at time.Time) error
	// MarkKeyError записывает ошибку синхронизации ключа.
	MarkKeyError(ctx context.Context, keyID int64, detail string, at time.Time) error
	// DeleteKey удаляет запись ключа.
	DeleteKey(ctx context.Context, keyID int64) error
}

// CredentialGateway описывает операции с панелью сервера.
type CredentialGateway interface {
	// CreateCredential создает учётную запись на панели сервера.
	CreateCredential(ctx context.Context, srv *models.Server, credentialUUID, email string, expiry time.Time) error
	// UpdateCredential переписывает учётную запись панели новым сроком действия.
	UpdateCredential(ctx context.Context, srv *models.Server, credentialUUID, email string, expiry time.Time) error
	// DeleteCredential удаляет учётную запись с панели сервера.
	DeleteCredential(ctx context.Context, srv *models.Server, credentialUUID string) error
}

// Outcome итог синхронизации одного сервера.
type Outcome struct {
	ServerID   int64
	ServerName string
	Synced     bool
	Err        error
}

// Service реализует синхронизацию ключей. Отказ одного сервера никогда
// не влияет на остальные: каждый сервер обрабатывается независимо.
type Service struct {
	repo    KeyRepository
	gateway CredentialGateway
	log     *slog.Logger
}

// New создает новый экземпляр Service.
func New(repo KeyRepository, gateway CredentialGateway, log *slog.Logger) *Service {
	return &Service{repo: repo, gateway: gateway, log: log}
}

// Reconcile приводит набор ключей подписки к набору активных серверов:
// добирает недостающие записи и досинхронизирует все несинхронизированные.
// Повторный вызов трогает только ключи, не достигшие статуса synced.
func (s *Service) Reconcile(ctx context.Context, sub *models.Subscription, user *models.User) ([]Outcome, error) {
	if !sub.IsActive {
		return nil, ErrSubscriptionNotActive
	}

	servers, err := s.repo.ListActiveServers(ctx)
	if err != nil {
		return nil, err
	}

	serverByID := make(map[int64]*models.Server, len(servers))
	for _, srv := range servers {
		serverByID[srv.ID] = srv
		if err := s.repo.EnsureKey(ctx, sub.ID, srv.ID, user.UserUUID, user.KeyEmail()); err != nil {
			s.log.Error("failed to ensure key row",
				slog.Int64("subscription_id", sub.ID),
				slog.Int64("server_id", srv.ID),
				sl.Err(err))
			return nil, err
		}
	}

	keys, err := s.repo.ListKeysBySubscription(ctx, sub.ID)
	if err != nil {
		return nil, err
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []Outcome
	)
	for _, key := range keys {
		srv, ok := serverByID[key.ServerID]
		if !ok {
			// Ключ ссылается на выключенный сервер, им займется teardown.
			continue
		}
		if key.SyncStatus == models.KeySyncSynced {
			mu.Lock()
			outcomes = append(outcomes, Outcome{ServerID: srv.ID, ServerName: srv.Name, Synced: true})
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(key *models.Key, srv *models.Server) {
			defer wg.Done()
			outcome := s.syncKey(ctx, key, srv, sub.ExpiryDate)
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
		}(key, srv)
	}
	wg.Wait()

	return outcomes, nil
}

func (s *Service) syncKey(ctx context.Context, key *models.Key, srv *models.Server, expiry time.Time) Outcome {
	err := s.gateway.CreateCredential(ctx, srv, key.KeyUUID, key.Email, expiry)
	if errors.Is(err, xui.ErrAlreadyExists) {
		// Учётная запись уже на панели: она могла быть создана с прежним
		// сроком, поэтому доносим до панели актуальный expiry.
		err = s.gateway.UpdateCredential(ctx, srv, key.KeyUUID, key.Email, expiry)
	}
	now := time.Now().UTC()
	if err != nil {
		metrics.ReconcileKeys.WithLabelValues(srv.Name, "failed").Inc()
		s.log.Error("failed to sync key",
			slog.Int64("key_id", key.ID),
			slog.String("server", srv.Name),
			sl.Err(err))
		if markErr := s.repo.MarkKeyError(ctx, key.ID, err.Error(), now); markErr != nil {
			s.log.Error("failed to record key error", slog.Int64("key_id", key.ID), sl.Err(markErr))
		}
		return Outcome{ServerID: srv.ID, ServerName: srv.Name, Synced: false, Err: err}
	}

	if markErr := s.repo.MarkKeySynced(ctx, key.ID, now); markErr != nil {
		s.log.Error("failed to mark key synced", slog.Int64("key_id", key.ID), sl.Err(markErr))
		return Outcome{ServerID: srv.ID, ServerName: srv.Name, Synced: false, Err: markErr}
	}
	metrics.ReconcileKeys.WithLabelValues(srv.Name, "synced").Inc()
	return Outcome{ServerID: srv.ID, ServerName: srv.Name, Synced: true}
}

// Teardown удаляет учётные записи подписки со всех серверов и локальные
// записи ключей. Недоступность панели не мешает удалению локальной записи:
// ключ на недоступном сервере протухнет вместе с учёткой по expiryTime.
func (s *Service) Teardown(ctx context.Context, sub *models.Subscription) error {
	keys, err := s.repo.ListKeysBySubscription(ctx, sub.ID)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func(key *models.Key) {
			defer wg.Done()
			s.teardownKey(ctx, key)
		}(key)
	}
	wg.Wait()

	return nil
}

func (s *Service) teardownKey(ctx context.Context, key *models.Key) {
	srv, err := s.repo.GetServerByID(ctx, key.ServerID)
	if err != nil {
		s.log.Error("failed to load server for teardown",
			slog.Int64("key_id", key.ID),
			slog.Int64("server_id", key.ServerID),
			sl.Err(err))
	} else {
		err = s.gateway.DeleteCredential(ctx, srv, key.KeyUUID)
		switch {
		case errors.Is(err, xui.ErrNotFound):
			// Уже удалена, порядок.
		case err != nil:
			s.log.Error("failed to delete credential",
				slog.Int64("key_id", key.ID),
				slog.String("server", srv.Name),
				sl.Err(err))
		default:
			metrics.ReconcileKeys.WithLabelValues(srv.Name, "deleted").Inc()
		}
	}

	if err := s.repo.DeleteKey(ctx, key.ID); err != nil {
		s.log.Error("failed to delete key row", slog.Int64("key_id", key.ID), sl.Err(err))
	}
}
