// Package payment содержит бизнес-логику применения платежей и активации
// пробного периода.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/swagavpn/provisioner/internal/lib/sl"
	"github.com/swagavpn/provisioner/internal/models"
	"github.com/swagavpn/provisioner/internal/services/reconciler"
	"github.com/swagavpn/provisioner/internal/yookassa"
)

// Ошибки уровня сервиса.
var (
	// ErrUnknownPayment платёж с таким идентификатором провайдера не найден.
	ErrUnknownPayment = errors.New("unknown payment")
	// ErrPaymentAlreadyTerminal платёж уже отменён или возвращён.
	ErrPaymentAlreadyTerminal = errors.New("payment already in terminal status")
	// ErrTrialAlreadyUsed пробный период уже был использован.
	ErrTrialAlreadyUsed = errors.New("trial already used")
	// ErrUnknownPlan запрошен несуществующий или бесплатный тариф.
	ErrUnknownPlan = errors.New("unknown plan")
)

// Repository определяет методы хранилища для платежей и подписок.
type Repository interface {
	// GetOrCreateUser возвращает пользователя, создавая его при первом контакте.
	GetOrCreateUser(ctx context.Context, externalID string) (*models.User, error)
	// GetUserByID возвращает пользователя по внутреннему ID.
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	// SetUserEmail сохраняет контактный адрес пользователя.
	SetUserEmail(ctx context.Context, id int64, email string) error
	// GetActiveSubscriptionByUserID возвращает текущую активную подписку.
	GetActiveSubscriptionByUserID(ctx context.Context, userID int64) (*models.Subscription, bool, error)
	// CreatePayment сохраняет новый pending-платёж.
	CreatePayment(ctx context.Context, payment models.Payment) (int64, error)
	// GetPaymentByProviderID возвращает платёж по идентификатору провайдера.
	GetPaymentByProviderID(ctx context.Context, providerPaymentID string) (*models.Payment, bool, error)
	// MarkPaymentTerminal переводит pending-платёж в терминальный статус.
	MarkPaymentTerminal(ctx context.Context, providerPaymentID, status string) (bool, error)
	// MarkPaymentRefunded переводит успешный платёж в refunded.
	MarkPaymentRefunded(ctx context.Context, providerPaymentID string) (bool, error)
	// ApplyPaymentSucceeded атомарно применяет платёж к подписке.
	ApplyPaymentSucceeded(ctx context.Context, providerPaymentID, planType string, extendBy time.Duration, now time.Time) (*models.Subscription, bool, error)
	// ActivateTrial атомарно включает пробный период.
	ActivateTrial(ctx context.Context, userID int64, planType string, duration time.Duration, now time.Time) (*models.Subscription, bool, error)
}

// Provider описывает платёжного провайдера.
type Provider interface {
	// CreatePayment создает платёж и возвращает ссылку подтверждения.
	CreatePayment(ctx context.Context, req yookassa.CreatePaymentRequest) (*yookassa.CreatePaymentResponse, error)
	// GetPaymentStatus возвращает текущий статус платежа у провайдера.
	GetPaymentStatus(ctx context.Context, paymentID string) (string, error)
}

// Reconciler синхронизирует ключи подписки после её изменения.
type Reconciler interface {
	Reconcile(ctx context.Context, sub *models.Subscription, user *models.User) ([]reconciler.Outcome, error)
	Teardown(ctx context.Context, sub *models.Subscription) error
}

// Notifier отправляет события внешнему нотификатору.
type Notifier interface {
	Notify(ctx context.Context, userExternalID, kind string, payload models.Notification)
}

// Cache описывает инвалидацию кэша ссылок доступа.
type Cache interface {
	Invalidate(key string) error
}

// Service реализует применение платежей, активацию триала и создание
// платежей у провайдера.
type Service struct {
	repo       Repository
	provider   Provider
	reconciler Reconciler
	notifier   Notifier
	cache      Cache
	catalog    *models.Catalog
	returnURL  string
	log        *slog.Logger
}

// New создает новый экземпляр Service.
func New(repo Repository, provider Provider, reconciler Reconciler, notifier Notifier,
	cache Cache, catalog *models.Catalog, returnURL string, log *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		provider:   provider,
		reconciler: reconciler,
		notifier:   notifier,
		cache:      cache,
		catalog:    catalog,
		returnURL:  returnURL,
		log:        log,
	}
}

// InitiatedPayment результат создания платежа у провайдера.
type InitiatedPayment struct {
	PaymentID       string
	ConfirmationURL string
}

// InitiatePayment создает платёж у провайдера и записывает его локально
// в статусе pending. Подписка на этом шаге не меняется. Непустой email
// запоминается как контакт для почтовых уведомлений.
func (s *Service) InitiatePayment(ctx context.Context, externalID, planID, email string) (*InitiatedPayment, error) {
	if !s.catalog.Paid(planID) {
		return nil, ErrUnknownPlan
	}
	plan, err := s.catalog.Get(planID)
	if err != nil {
		return nil, ErrUnknownPlan
	}

	user, err := s.repo.GetOrCreateUser(ctx, externalID)
	if err != nil {
		return nil, err
	}
	s.rememberEmail(ctx, user, email)

	resp, err := s.provider.CreatePayment(ctx, yookassa.CreatePaymentRequest{
		Amount: yookassa.Amount{
			Value:    fmt.Sprintf("%d.00", plan.PriceRUB),
			Currency: "RUB",
		},
		Confirmation: yookassa.Confirmation{
			Type:      "redirect",
			ReturnURL: s.returnURL,
		},
		Capture:     true,
		Description: fmt.Sprintf("SWAGA VPN, тариф %s", planID),
		Metadata: map[string]string{
			"external_id": externalID,
			"plan":        planID,
		},
	})
	if err != nil {
		return nil, err
	}

	_, err = s.repo.CreatePayment(ctx, models.Payment{
		PaymentID: resp.ID,
		UserID:    user.ID,
		PlanType:  planID,
		Amount:    float64(plan.PriceRUB),
		Currency:  "RUB",
		Status:    models.PaymentPending,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("payment initiated",
		slog.String("payment_id", resp.ID),
		slog.String("user", externalID),
		slog.String("plan", planID))

	return &InitiatedPayment{
		PaymentID:       resp.ID,
		ConfirmationURL: resp.Confirmation.ConfirmationURL,
	}, nil
}

// ApplySuccessfulPayment применяет успешный платёж: переводит его в
// succeeded и продлевает либо создаёт подписку, затем синхронизирует ключи
// и шлёт уведомление. Повторный вызов для уже применённого платежа ничего
// не делает и возвращает nil: якорь идемпотентности хранится в базе.
func (s *Service) ApplySuccessfulPayment(ctx context.Context, providerPaymentID string) error {
	payment, found, err := s.repo.GetPaymentByProviderID(ctx, providerPaymentID)
	if err != nil {
		return err
	}
	if !found {
		return ErrUnknownPayment
	}

	switch payment.Status {
	case models.PaymentSucceeded:
		return nil
	case models.PaymentCanceled, models.PaymentRefunded:
		return ErrPaymentAlreadyTerminal
	}

	plan, err := s.catalog.Get(payment.PlanType)
	if err != nil {
		return err
	}

	prev, hadPrev, err := s.repo.GetActiveSubscriptionByUserID(ctx, payment.UserID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	sub, applied, err := s.repo.ApplyPaymentSucceeded(ctx, providerPaymentID,
		plan.SubscriptionPlanType(), plan.Duration(), now)
	if err != nil {
		return err
	}
	if !applied {
		// Конкурентная доставка webhook успела раньше.
		return nil
	}

	user, err := s.repo.GetUserByID(ctx, payment.UserID)
	if err != nil {
		return err
	}

	s.log.Info("payment applied",
		slog.String("payment_id", providerPaymentID),
		slog.String("user", user.ExternalID),
		slog.String("plan", payment.PlanType),
		slog.Time("expiry", sub.ExpiryDate))

	s.teardownReplaced(ctx, prev, hadPrev, sub)
	s.afterSubscriptionChange(ctx, sub, user, models.NotifyPaymentDone)
	return nil
}

// ActivateTrial включает пробный период. Повторная активация невозможна:
// guarded UPDATE по trial_used выигрывает ровно один раз.
func (s *Service) ActivateTrial(ctx context.Context, externalID, email string) (*models.Subscription, error) {
	user, err := s.repo.GetOrCreateUser(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if user.TrialUsed {
		return nil, ErrTrialAlreadyUsed
	}
	s.rememberEmail(ctx, user, email)

	plan, err := s.catalog.Get(models.PlanTrial)
	if err != nil {
		return nil, err
	}

	prev, hadPrev, err := s.repo.GetActiveSubscriptionByUserID(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sub, applied, err := s.repo.ActivateTrial(ctx, user.ID, plan.SubscriptionPlanType(), plan.Duration(), now)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, ErrTrialAlreadyUsed
	}

	s.log.Info("trial activated",
		slog.String("user", externalID),
		slog.Time("expiry", sub.ExpiryDate))

	s.teardownReplaced(ctx, prev, hadPrev, sub)
	s.afterSubscriptionChange(ctx, sub, user, models.NotifyTrialStarted)
	return sub, nil
}

// ProcessWebhookEvent обрабатывает одно событие провайдера.
func (s *Service) ProcessWebhookEvent(ctx context.Context, event, providerPaymentID string) error {
	switch event {
	case "payment.succeeded":
		return s.ApplySuccessfulPayment(ctx, providerPaymentID)
	case "payment.canceled":
		applied, err := s.repo.MarkPaymentTerminal(ctx, providerPaymentID, models.PaymentCanceled)
		if err != nil {
			return err
		}
		if !applied {
			s.log.Info("cancel ignored, payment not pending",
				slog.String("payment_id", providerPaymentID))
		}
		return nil
	case "refund.succeeded":
		applied, err := s.repo.MarkPaymentRefunded(ctx, providerPaymentID)
		if err != nil {
			return err
		}
		if !applied {
			s.log.Info("refund ignored, payment not succeeded",
				slog.String("payment_id", providerPaymentID))
		}
		return nil
	default:
		s.log.Info("ignoring unknown webhook event", slog.String("event", event))
		return nil
	}
}

// SyncPaymentStatus опрашивает провайдера и применяет узнанный статус.
// Запасной путь для случая, когда webhook задержался, а пользователь уже
// вернулся со страницы оплаты. Возвращает статус платежа у провайдера.
func (s *Service) SyncPaymentStatus(ctx context.Context, providerPaymentID string) (string, error) {
	_, found, err := s.repo.GetPaymentByProviderID(ctx, providerPaymentID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrUnknownPayment
	}

	status, err := s.provider.GetPaymentStatus(ctx, providerPaymentID)
	if err != nil {
		return "", err
	}

	switch status {
	case "succeeded":
		if err := s.ApplySuccessfulPayment(ctx, providerPaymentID); err != nil {
			return "", err
		}
	case "canceled":
		if _, err := s.repo.MarkPaymentTerminal(ctx, providerPaymentID, models.PaymentCanceled); err != nil {
			return "", err
		}
	}
	return status, nil
}

// rememberEmail сохраняет непустой контактный адрес пользователя. Отказ
// только логируется: адрес не обязателен для применения платежа.
func (s *Service) rememberEmail(ctx context.Context, user *models.User, email string) {
	if email == "" || email == user.Email {
		return
	}
	if err := s.repo.SetUserEmail(ctx, user.ID, email); err != nil {
		s.log.Warn("failed to store user email",
			slog.String("user", user.ExternalID), sl.Err(err))
		return
	}
	user.Email = email
}

// teardownReplaced убирает ключи подписки, закрытой транзакцией применения:
// активная, но уже просроченная подписка не продлевается, а заменяется
// новой строкой. Вызывается до reconcile новой подписки, потому что обе
// используют один федеративный UUID клиента на панелях.
func (s *Service) teardownReplaced(ctx context.Context, prev *models.Subscription, hadPrev bool, sub *models.Subscription) {
	if !hadPrev || prev.ID == sub.ID {
		return
	}
	if err := s.reconciler.Teardown(ctx, prev); err != nil {
		s.log.Error("failed to tear down replaced subscription",
			slog.Int64("subscription_id", prev.ID), sl.Err(err))
	}
}

// afterSubscriptionChange выполняет постэффекты изменения подписки.
// Подписка уже закоммичена, поэтому отказы здесь только логируются:
// синхронизацию доберёт следующий reconcile, доставка уведомлений не
// гарантируется движком.
func (s *Service) afterSubscriptionChange(ctx context.Context, sub *models.Subscription, user *models.User, notifyKind string) {
	if err := s.cache.Invalidate("access:" + user.ExternalID); err != nil {
		s.log.Warn("failed to invalidate access cache",
			slog.String("user", user.ExternalID), sl.Err(err))
	}

	if _, err := s.reconciler.Reconcile(ctx, sub, user); err != nil {
		s.log.Error("post-change reconcile failed",
			slog.Int64("subscription_id", sub.ID), sl.Err(err))
	}

	s.notifier.Notify(ctx, user.ExternalID, notifyKind, models.Notification{
		PlanType:   sub.PlanType,
		ExpiryDate: sub.ExpiryDate.Format(time.RFC3339),
		Email:      user.Email,
	})
}
