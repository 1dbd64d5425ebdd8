// Package access содержит выдачу ссылок подключения по активной подписке.
package access

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/swagavpn/provisioner/internal/lib/sl"
	"github.com/swagavpn/provisioner/internal/lib/vless"
	"github.com/swagavpn/provisioner/internal/models"
)

// Ошибки уровня сервиса.
var (
	// ErrUserNotFound пользователь неизвестен движку.
	ErrUserNotFound = errors.New("user not found")
	// ErrNoActiveSubscription у пользователя нет активной подписки.
	ErrNoActiveSubscription = errors.New("no active subscription")
)

// cacheTTL ограничивает жизнь закэшированных ссылок: помимо явной
// инвалидации при продлении, набор серверов может поменять оператор.
const cacheTTL = 5 * time.Minute

// Repository определяет методы хранилища для выдачи доступа.
type Repository interface {
	// GetUserByExternalID возвращает пользователя по внешнему идентификатору.
	GetUserByExternalID(ctx context.Context, externalID string) (*models.User, bool, error)
	// GetActiveSubscriptionByUserID возвращает активную подписку пользователя.
	GetActiveSubscriptionByUserID(ctx context.Context, userID int64) (*models.Subscription, bool, error)
	// ListSyncedKeysWithServers возвращает синхронизированные ключи с серверами.
	ListSyncedKeysWithServers(ctx context.Context, subscriptionID int64) ([]*models.KeyWithServer, error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	// Get пытается получить значение из кеша по ключу.
	Get(key string, result any) (bool, error)
	// Set сохраняет значение в кеш с временем жизни.
	Set(key string, value any, expiration time.Duration) error
}

// Link одна ссылка подключения к конкретному серверу.
type Link struct {
	ServerName string `json:"server_name"`
	URL        string `json:"url"`
	Deeplink   string `json:"deeplink"`
}

// Access набор ссылок пользователя и срок действия подписки.
type Access struct {
	PlanType   string    `json:"plan_type"`
	ExpiryDate time.Time `json:"expiry_date"`
	Links      []Link    `json:"links"`
}

// Service выдает ссылки подключения, кэшируя результат по пользователю.
type Service struct {
	repo  Repository
	cache Cache
	log   *slog.Logger
}

// New создает новый экземпляр Service.
func New(repo Repository, cache Cache, log *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, log: log}
}

// Links возвращает ссылки подключения по всем серверам, где ключ
// пользователя синхронизирован. Несинхронизированные ключи в выдачу
// не попадают: их доберёт следующий reconcile.
func (s *Service) Links(ctx context.Context, externalID string) (*Access, error) {
	cacheKey := "access:" + externalID

	var cached Access
	found, err := s.cache.Get(cacheKey, &cached)
	if err != nil {
		s.log.Warn("failed to read access cache", slog.String("key", cacheKey), sl.Err(err))
	}
	if found {
		return &cached, nil
	}

	user, found, err := s.repo.GetUserByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrUserNotFound
	}

	sub, found, err := s.repo.GetActiveSubscriptionByUserID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if !found || !sub.ExpiryDate.After(time.Now().UTC()) {
		return nil, ErrNoActiveSubscription
	}

	keys, err := s.repo.ListSyncedKeysWithServers(ctx, sub.ID)
	if err != nil {
		return nil, err
	}

	access := &Access{
		PlanType:   sub.PlanType,
		ExpiryDate: sub.ExpiryDate,
		Links:      make([]Link, 0, len(keys)),
	}
	for _, kw := range keys {
		url := vless.BuildLink(kw.Key.KeyUUID, &kw.Server)
		access.Links = append(access.Links, Link{
			ServerName: kw.Server.Name,
			URL:        url,
			Deeplink:   vless.BuildDeeplink(url),
		})
	}

	if err := s.cache.Set(cacheKey, access, cacheTTL); err != nil {
		s.log.Warn("failed to cache access links", slog.String("key", cacheKey), sl.Err(err))
	}

	return access, nil
}
