package payment

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/swagavpn/provisioner/internal/models"
	"github.com/swagavpn/provisioner/internal/services/reconciler"
	"github.com/swagavpn/provisioner/internal/yookassa"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) GetOrCreateUser(ctx context.Context, externalID string) (*models.User, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *RepoMock) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *RepoMock) SetUserEmail(ctx context.Context, id int64, email string) error {
	return m.Called(ctx, id, email).Error(0)
}
func (m *RepoMock) GetActiveSubscriptionByUserID(ctx context.Context, userID int64) (*models.Subscription, bool, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.Subscription), args.Bool(1), args.Error(2)
}
func (m *RepoMock) CreatePayment(ctx context.Context, payment models.Payment) (int64, error) {
	args := m.Called(ctx, payment)
	return args.Get(0).(int64), args.Error(1)
}
func (m *RepoMock) GetPaymentByProviderID(ctx context.Context, providerPaymentID string) (*models.Payment, bool, error) {
	args := m.Called(ctx, providerPaymentID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.Payment), args.Bool(1), args.Error(2)
}
func (m *RepoMock) MarkPaymentTerminal(ctx context.Context, providerPaymentID, status string) (bool, error) {
	args := m.Called(ctx, providerPaymentID, status)
	return args.Bool(0), args.Error(1)
}
func (m *RepoMock) MarkPaymentRefunded(ctx context.Context, providerPaymentID string) (bool, error) {
	args := m.Called(ctx, providerPaymentID)
	return args.Bool(0), args.Error(1)
}
func (m *RepoMock) ApplyPaymentSucceeded(ctx context.Context, providerPaymentID, planType string, extendBy time.Duration, now time.Time) (*models.Subscription, bool, error) {
	args := m.Called(ctx, providerPaymentID, planType, extendBy, now)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.Subscription), args.Bool(1), args.Error(2)
}
func (m *RepoMock) ActivateTrial(ctx context.Context, userID int64, planType string, duration time.Duration, now time.Time) (*models.Subscription, bool, error) {
	args := m.Called(ctx, userID, planType, duration, now)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.Subscription), args.Bool(1), args.Error(2)
}

type ProviderMock struct{ mock.Mock }

func (m *ProviderMock) CreatePayment(ctx context.Context, req yookassa.CreatePaymentRequest) (*yookassa.CreatePaymentResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*yookassa.CreatePaymentResponse), args.Error(1)
}

func (m *ProviderMock) GetPaymentStatus(ctx context.Context, paymentID string) (string, error) {
	args := m.Called(ctx, paymentID)
	return args.String(0), args.Error(1)
}

type ReconcilerMock struct{ mock.Mock }

func (m *ReconcilerMock) Reconcile(ctx context.Context, sub *models.Subscription, user *models.User) ([]reconciler.Outcome, error) {
	args := m.Called(ctx, sub, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]reconciler.Outcome), args.Error(1)
}

func (m *ReconcilerMock) Teardown(ctx context.Context, sub *models.Subscription) error {
	return m.Called(ctx, sub).Error(0)
}

type NotifierMock struct{ mock.Mock }

func (m *NotifierMock) Notify(ctx context.Context, userExternalID, kind string, payload models.Notification) {
	m.Called(ctx, userExternalID, kind, payload)
}

type CacheMock struct{ mock.Mock }

func (m *CacheMock) Invalidate(key string) error {
	return m.Called(key).Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func newService(repo *RepoMock, provider *ProviderMock, rec *ReconcilerMock, notifier *NotifierMock, cache *CacheMock) *Service {
	catalog := models.NewCatalog(7, 130, 350, 800)
	return New(repo, provider, rec, notifier, cache, catalog, "https://t.me/swaga_vpn_bot", newNoopLogger())
}

func TestApplySuccessfulPayment_UnknownPayment(t *testing.T) {
	repo := new(RepoMock)
	svc := newService(repo, new(ProviderMock), new(ReconcilerMock), new(NotifierMock), new(CacheMock))

	repo.On("GetPaymentByProviderID", mock.Anything, "pay-404").Return(nil, false, nil).Once()

	err := svc.ApplySuccessfulPayment(context.Background(), "pay-404")
	assert.ErrorIs(t, err, ErrUnknownPayment)
}

func TestApplySuccessfulPayment_IdempotentReapply(t *testing.T) {
	repo := new(RepoMock)
	rec := new(ReconcilerMock)
	svc := newService(repo, new(ProviderMock), rec, new(NotifierMock), new(CacheMock))

	repo.On("GetPaymentByProviderID", mock.Anything, "pay-1").
		Return(&models.Payment{PaymentID: "pay-1", Status: models.PaymentSucceeded}, true, nil).Once()

	err := svc.ApplySuccessfulPayment(context.Background(), "pay-1")
	require.NoError(t, err)
	repo.AssertNotCalled(t, "ApplyPaymentSucceeded",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	rec.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything, mock.Anything)
}

func TestApplySuccessfulPayment_AlreadyCanceled(t *testing.T) {
	repo := new(RepoMock)
	svc := newService(repo, new(ProviderMock), new(ReconcilerMock), new(NotifierMock), new(CacheMock))

	repo.On("GetPaymentByProviderID", mock.Anything, "pay-2").
		Return(&models.Payment{PaymentID: "pay-2", Status: models.PaymentCanceled}, true, nil).Once()

	err := svc.ApplySuccessfulPayment(context.Background(), "pay-2")
	assert.ErrorIs(t, err, ErrPaymentAlreadyTerminal)
}

func TestApplySuccessfulPayment_AppliesAndReconciles(t *testing.T) {
	repo := new(RepoMock)
	rec := new(ReconcilerMock)
	notifier := new(NotifierMock)
	cache := new(CacheMock)
	svc := newService(repo, new(ProviderMock), rec, notifier, cache)

	user := &models.User{ID: 5, ExternalID: "100500", UserUUID: "uuid-1", Email: "user@example.com"}
	sub := &models.Subscription{ID: 10, UserID: 5, IsActive: true, PlanType: "paid_m3",
		ExpiryDate: time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)}

	repo.On("GetPaymentByProviderID", mock.Anything, "pay-3").
		Return(&models.Payment{PaymentID: "pay-3", UserID: 5, PlanType: models.PlanM3, Status: models.PaymentPending}, true, nil).Once()
	repo.On("GetActiveSubscriptionByUserID", mock.Anything, int64(5)).Return(sub, true, nil).Once()
	repo.On("ApplyPaymentSucceeded", mock.Anything, "pay-3", "paid_m3",
		90*24*time.Hour, mock.Anything).Return(sub, true, nil).Once()
	repo.On("GetUserByID", mock.Anything, int64(5)).Return(user, nil).Once()
	cache.On("Invalidate", "access:100500").Return(nil).Once()
	rec.On("Reconcile", mock.Anything, sub, user).Return([]reconciler.Outcome{}, nil).Once()
	notifier.On("Notify", mock.Anything, "100500", models.NotifyPaymentDone,
		mock.MatchedBy(func(n models.Notification) bool {
			return n.PlanType == "paid_m3" && n.ExpiryDate != "" && n.Email == "user@example.com"
		})).Once()

	err := svc.ApplySuccessfulPayment(context.Background(), "pay-3")
	require.NoError(t, err)
	repo.AssertExpectations(t)
	rec.AssertExpectations(t)
	notifier.AssertExpectations(t)
	cache.AssertExpectations(t)
	rec.AssertNotCalled(t, "Teardown", mock.Anything, mock.Anything)
}

func TestApplySuccessfulPayment_LostRaceIsNoop(t *testing.T) {
	repo := new(RepoMock)
	rec := new(ReconcilerMock)
	svc := newService(repo, new(ProviderMock), rec, new(NotifierMock), new(CacheMock))

	repo.On("GetPaymentByProviderID", mock.Anything, "pay-4").
		Return(&models.Payment{PaymentID: "pay-4", UserID: 5, PlanType: models.PlanM1, Status: models.PaymentPending}, true, nil).Once()
	repo.On("GetActiveSubscriptionByUserID", mock.Anything, int64(5)).Return(nil, false, nil).Once()
	repo.On("ApplyPaymentSucceeded", mock.Anything, "pay-4", "paid_m1",
		30*24*time.Hour, mock.Anything).Return(nil, false, nil).Once()

	err := svc.ApplySuccessfulPayment(context.Background(), "pay-4")
	require.NoError(t, err)
	rec.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything, mock.Anything)
}

func TestActivateTrial_AlreadyUsed(t *testing.T) {
	repo := new(RepoMock)
	svc := newService(repo, new(ProviderMock), new(ReconcilerMock), new(NotifierMock), new(CacheMock))

	repo.On("GetOrCreateUser", mock.Anything, "100500").
		Return(&models.User{ID: 5, ExternalID: "100500", TrialUsed: true}, nil).Once()

	_, err := svc.ActivateTrial(context.Background(), "100500", "")
	assert.ErrorIs(t, err, ErrTrialAlreadyUsed)
	repo.AssertNotCalled(t, "ActivateTrial",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestActivateTrial_LostRace(t *testing.T) {
	repo := new(RepoMock)
	svc := newService(repo, new(ProviderMock), new(ReconcilerMock), new(NotifierMock), new(CacheMock))

	repo.On("GetOrCreateUser", mock.Anything, "100500").
		Return(&models.User{ID: 5, ExternalID: "100500"}, nil).Once()
	repo.On("GetActiveSubscriptionByUserID", mock.Anything, int64(5)).Return(nil, false, nil).Once()
	repo.On("ActivateTrial", mock.Anything, int64(5), models.PlanTrial,
		7*24*time.Hour, mock.Anything).Return(nil, false, nil).Once()

	_, err := svc.ActivateTrial(context.Background(), "100500", "")
	assert.ErrorIs(t, err, ErrTrialAlreadyUsed)
}

func TestActivateTrial_Success(t *testing.T) {
	repo := new(RepoMock)
	rec := new(ReconcilerMock)
	notifier := new(NotifierMock)
	cache := new(CacheMock)
	svc := newService(repo, new(ProviderMock), rec, notifier, cache)

	user := &models.User{ID: 5, ExternalID: "100500", UserUUID: "uuid-1"}
	sub := &models.Subscription{ID: 11, UserID: 5, IsActive: true, PlanType: models.PlanTrial,
		ExpiryDate: time.Now().Add(7 * 24 * time.Hour)}

	repo.On("GetOrCreateUser", mock.Anything, "100500").Return(user, nil).Once()
	repo.On("GetActiveSubscriptionByUserID", mock.Anything, int64(5)).Return(nil, false, nil).Once()
	repo.On("ActivateTrial", mock.Anything, int64(5), models.PlanTrial,
		7*24*time.Hour, mock.Anything).Return(sub, true, nil).Once()
	cache.On("Invalidate", "access:100500").Return(nil).Once()
	rec.On("Reconcile", mock.Anything, sub, user).Return([]reconciler.Outcome{}, nil).Once()
	notifier.On("Notify", mock.Anything, "100500", models.NotifyTrialStarted, mock.Anything).Once()

	got, err := svc.ActivateTrial(context.Background(), "100500", "")
	require.NoError(t, err)
	assert.Equal(t, sub, got)
	repo.AssertExpectations(t)
}

func TestInitiatePayment_UnknownPlan(t *testing.T) {
	svc := newService(new(RepoMock), new(ProviderMock), new(ReconcilerMock), new(NotifierMock), new(CacheMock))

	_, err := svc.InitiatePayment(context.Background(), "100500", "m99", "")
	assert.ErrorIs(t, err, ErrUnknownPlan)

	_, err = svc.InitiatePayment(context.Background(), "100500", models.PlanTrial, "")
	assert.ErrorIs(t, err, ErrUnknownPlan)
}

func TestInitiatePayment_Success(t *testing.T) {
	repo := new(RepoMock)
	provider := new(ProviderMock)
	svc := newService(repo, provider, new(ReconcilerMock), new(NotifierMock), new(CacheMock))

	repo.On("GetOrCreateUser", mock.Anything, "100500").
		Return(&models.User{ID: 5, ExternalID: "100500"}, nil).Once()
	provider.On("CreatePayment", mock.Anything, mock.MatchedBy(func(req yookassa.CreatePaymentRequest) bool {
		return req.Amount.Value == "130.00" && req.Amount.Currency == "RUB" &&
			req.Confirmation.Type == "redirect" && req.Capture &&
			req.Metadata["plan"] == models.PlanM1
	})).Return(&yookassa.CreatePaymentResponse{
		ID:     "pay-7",
		Status: "pending",
		Confirmation: yookassa.Confirmation{
			Type:            "redirect",
			ConfirmationURL: "https://yookassa.ru/checkout/pay-7",
		},
	}, nil).Once()
	repo.On("CreatePayment", mock.Anything, mock.MatchedBy(func(p models.Payment) bool {
		return p.PaymentID == "pay-7" && p.UserID == 5 &&
			p.PlanType == models.PlanM1 && p.Status == models.PaymentPending
	})).Return(int64(1), nil).Once()

	got, err := svc.InitiatePayment(context.Background(), "100500", models.PlanM1, "")
	require.NoError(t, err)
	assert.Equal(t, "pay-7", got.PaymentID)
	assert.Equal(t, "https://yookassa.ru/checkout/pay-7", got.ConfirmationURL)
	repo.AssertExpectations(t)
	provider.AssertExpectations(t)
}

func TestProcessWebhookEvent_Routing(t *testing.T) {
	tests := []struct {
		name       string
		event      string
		setupMocks func(r *RepoMock)
	}{
		{
			name:  "canceled marks terminal from pending",
			event: "payment.canceled",
			setupMocks: func(r *RepoMock) {
				r.On("MarkPaymentTerminal", mock.Anything, "pay-9", models.PaymentCanceled).
					Return(true, nil).Once()
			},
		},
		{
			name:  "refund marks refunded",
			event: "refund.succeeded",
			setupMocks: func(r *RepoMock) {
				r.On("MarkPaymentRefunded", mock.Anything, "pay-9").Return(true, nil).Once()
			},
		},
		{
			name:       "unknown event ignored",
			event:      "deal.closed",
			setupMocks: func(_ *RepoMock) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(RepoMock)
			svc := newService(repo, new(ProviderMock), new(ReconcilerMock), new(NotifierMock), new(CacheMock))
			tt.setupMocks(repo)

			err := svc.ProcessWebhookEvent(context.Background(), tt.event, "pay-9")
			require.NoError(t, err)
			repo.AssertExpectations(t)
		})
	}
}

func TestApplySuccessfulPayment_ReplacesExpiredSubscription(t *testing.T) {
	repo := new(RepoMock)
	rec := new(ReconcilerMock)
	notifier := new(NotifierMock)
	cache := new(CacheMock)
	svc := newService(repo, new(ProviderMock), rec, notifier, cache)

	user := &models.User{ID: 5, ExternalID: "100500", UserUUID: "uuid-1"}
	prev := &models.Subscription{ID: 9, UserID: 5, IsActive: true, PlanType: models.PlanTrial,
		ExpiryDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	sub := &models.Subscription{ID: 10, UserID: 5, IsActive: true, PlanType: "paid_m1",
		ExpiryDate: time.Date(2026, 9, 28, 0, 0, 0, 0, time.UTC)}

	repo.On("GetPaymentByProviderID", mock.Anything, "pay-5").
		Return(&models.Payment{PaymentID: "pay-5", UserID: 5, PlanType: models.PlanM1, Status: models.PaymentPending}, true, nil).Once()
	repo.On("GetActiveSubscriptionByUserID", mock.Anything, int64(5)).Return(prev, true, nil).Once()
	repo.On("ApplyPaymentSucceeded", mock.Anything, "pay-5", "paid_m1",
		30*24*time.Hour, mock.Anything).Return(sub, true, nil).Once()
	repo.On("GetUserByID", mock.Anything, int64(5)).Return(user, nil).Once()
	// Протухшая подписка убирается с панелей до разливки новой,
	// иначе её ключи остались бы на серверах навсегда.
	rec.On("Teardown", mock.Anything, prev).Return(nil).Once()
	cache.On("Invalidate", "access:100500").Return(nil).Once()
	rec.On("Reconcile", mock.Anything, sub, user).Return([]reconciler.Outcome{}, nil).Once()
	notifier.On("Notify", mock.Anything, "100500", models.NotifyPaymentDone, mock.Anything).Once()

	err := svc.ApplySuccessfulPayment(context.Background(), "pay-5")
	require.NoError(t, err)
	repo.AssertExpectations(t)
	rec.AssertExpectations(t)
}

func TestInitiatePayment_StoresEmail(t *testing.T) {
	repo := new(RepoMock)
	provider := new(ProviderMock)
	svc := newService(repo, provider, new(ReconcilerMock), new(NotifierMock), new(CacheMock))

	repo.On("GetOrCreateUser", mock.Anything, "100500").
		Return(&models.User{ID: 5, ExternalID: "100500"}, nil).Once()
	repo.On("SetUserEmail", mock.Anything, int64(5), "user@example.com").Return(nil).Once()
	provider.On("CreatePayment", mock.Anything, mock.Anything).
		Return(&yookassa.CreatePaymentResponse{ID: "pay-8", Status: "pending"}, nil).Once()
	repo.On("CreatePayment", mock.Anything, mock.Anything).Return(int64(1), nil).Once()

	_, err := svc.InitiatePayment(context.Background(), "100500", models.PlanM1, "user@example.com")
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestSyncPaymentStatus(t *testing.T) {
	t.Run("unknown payment", func(t *testing.T) {
		repo := new(RepoMock)
		svc := newService(repo, new(ProviderMock), new(ReconcilerMock), new(NotifierMock), new(CacheMock))

		repo.On("GetPaymentByProviderID", mock.Anything, "pay-404").Return(nil, false, nil).Once()

		_, err := svc.SyncPaymentStatus(context.Background(), "pay-404")
		assert.ErrorIs(t, err, ErrUnknownPayment)
	})

	t.Run("pending stays pending", func(t *testing.T) {
		repo := new(RepoMock)
		provider := new(ProviderMock)
		svc := newService(repo, provider, new(ReconcilerMock), new(NotifierMock), new(CacheMock))

		repo.On("GetPaymentByProviderID", mock.Anything, "pay-6").
			Return(&models.Payment{PaymentID: "pay-6", UserID: 5, PlanType: models.PlanM1, Status: models.PaymentPending}, true, nil).Once()
		provider.On("GetPaymentStatus", mock.Anything, "pay-6").Return("pending", nil).Once()

		status, err := svc.SyncPaymentStatus(context.Background(), "pay-6")
		require.NoError(t, err)
		assert.Equal(t, "pending", status)
		repo.AssertNotCalled(t, "ApplyPaymentSucceeded",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("canceled marks terminal", func(t *testing.T) {
		repo := new(RepoMock)
		provider := new(ProviderMock)
		svc := newService(repo, provider, new(ReconcilerMock), new(NotifierMock), new(CacheMock))

		repo.On("GetPaymentByProviderID", mock.Anything, "pay-6").
			Return(&models.Payment{PaymentID: "pay-6", UserID: 5, PlanType: models.PlanM1, Status: models.PaymentPending}, true, nil).Once()
		provider.On("GetPaymentStatus", mock.Anything, "pay-6").Return("canceled", nil).Once()
		repo.On("MarkPaymentTerminal", mock.Anything, "pay-6", models.PaymentCanceled).
			Return(true, nil).Once()

		status, err := svc.SyncPaymentStatus(context.Background(), "pay-6")
		require.NoError(t, err)
		assert.Equal(t, "canceled", status)
		repo.AssertExpectations(t)
	})

	t.Run("succeeded applies payment", func(t *testing.T) {
		repo := new(RepoMock)
		provider := new(ProviderMock)
		rec := new(ReconcilerMock)
		notifier := new(NotifierMock)
		cache := new(CacheMock)
		svc := newService(repo, provider, rec, notifier, cache)

		user := &models.User{ID: 5, ExternalID: "100500", UserUUID: "uuid-1"}
		sub := &models.Subscription{ID: 10, UserID: 5, IsActive: true, PlanType: "paid_m1",
			ExpiryDate: time.Date(2026, 9, 28, 0, 0, 0, 0, time.UTC)}

		// Платёж перечитывается при применении, поэтому без Once.
		repo.On("GetPaymentByProviderID", mock.Anything, "pay-6").
			Return(&models.Payment{PaymentID: "pay-6", UserID: 5, PlanType: models.PlanM1, Status: models.PaymentPending}, true, nil)
		provider.On("GetPaymentStatus", mock.Anything, "pay-6").Return("succeeded", nil).Once()
		repo.On("GetActiveSubscriptionByUserID", mock.Anything, int64(5)).Return(nil, false, nil).Once()
		repo.On("ApplyPaymentSucceeded", mock.Anything, "pay-6", "paid_m1",
			30*24*time.Hour, mock.Anything).Return(sub, true, nil).Once()
		repo.On("GetUserByID", mock.Anything, int64(5)).Return(user, nil).Once()
		cache.On("Invalidate", "access:100500").Return(nil).Once()
		rec.On("Reconcile", mock.Anything, sub, user).Return([]reconciler.Outcome{}, nil).Once()
		notifier.On("Notify", mock.Anything, "100500", models.NotifyPaymentDone, mock.Anything).Once()

		status, err := svc.SyncPaymentStatus(context.Background(), "pay-6")
		require.NoError(t, err)
		assert.Equal(t, "succeeded", status)
		repo.AssertExpectations(t)
		rec.AssertExpectations(t)
	})
}
