// Package scheduler содержит фоновый обход подписок: напоминания об
// окончании и обработку истечения.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/swagavpn/provisioner/internal/lib/sl"
	"github.com/swagavpn/provisioner/internal/metrics"
	"github.com/swagavpn/provisioner/internal/models"
)

// SubscriptionRepository определяет методы хранилища для обхода подписок.
type SubscriptionRepository interface {
	// ListSweepCandidates возвращает активные подписки с expiry_date не позже deadline.
	ListSweepCandidates(ctx context.Context, deadline time.Time) ([]*models.Subscription, error)
	// MarkNotified24h взводит флаг напоминания за сутки. false, если уже взведён.
	MarkNotified24h(ctx context.Context, id int64) (bool, error)
	// MarkNotified0h взводит флаг напоминания в день окончания. false, если уже взведён.
	MarkNotified0h(ctx context.Context, id int64) (bool, error)
	// DeactivateExpired гасит истёкшую подписку. false, если она уже обработана.
	DeactivateExpired(ctx context.Context, id int64, now time.Time) (bool, error)
	// GetUserByID возвращает владельца подписки.
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// Teardowner удаляет ключи истёкшей подписки со всех серверов.
type Teardowner interface {
	Teardown(ctx context.Context, sub *models.Subscription) error
}

// Notifier отправляет события внешнему нотификатору.
type Notifier interface {
	Notify(ctx context.Context, userExternalID, kind string, payload models.Notification)
}

// Service реализует один проход обхода. Каждое действие одноразовое:
// guarded UPDATE по флагу выигрывает ровно один раз, поэтому два
// конкурирующих прохода не продублируют ни уведомление, ни teardown.
type Service struct {
	repo       SubscriptionRepository
	teardowner Teardowner
	notifier   Notifier
	log        *slog.Logger
}

// New создает новый экземпляр Service.
func New(repo SubscriptionRepository, teardowner Teardowner, notifier Notifier, log *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		teardowner: teardowner,
		notifier:   notifier,
		log:        log,
	}
}

// RunSweep выполняет один проход: истёкшие подписки гасятся с teardown,
// по приближающимся рассылаются напоминания. Ошибка одной подписки
// логируется и не прерывает проход.
func (s *Service) RunSweep(ctx context.Context) error {
	now := time.Now().UTC()

	subs, err := s.repo.ListSweepCandidates(ctx, now.Add(24*time.Hour))
	if err != nil {
		return err
	}

	for _, sub := range subs {
		if err := s.sweepOne(ctx, sub, now); err != nil {
			s.log.Error("sweep failed for subscription",
				slog.Int64("subscription_id", sub.ID), sl.Err(err))
		}
	}

	metrics.SweepRuns.Inc()
	s.log.Info("sweep completed", slog.Int("candidates", len(subs)))
	return nil
}

func (s *Service) sweepOne(ctx context.Context, sub *models.Subscription, now time.Time) error {
	user, err := s.repo.GetUserByID(ctx, sub.UserID)
	if err != nil {
		return err
	}

	payload := models.Notification{
		PlanType:   sub.PlanType,
		ExpiryDate: sub.ExpiryDate.Format(time.RFC3339),
		Email:      user.Email,
	}

	if !sub.ExpiryDate.After(now) {
		return s.handleExpired(ctx, sub, user, now, payload)
	}

	if sub.Remaining(now) <= 24*time.Hour && !sub.Notified24h {
		applied, err := s.repo.MarkNotified24h(ctx, sub.ID)
		if err != nil {
			return err
		}
		if applied {
			metrics.SweepActions.WithLabelValues("reminder_24h").Inc()
			s.notifier.Notify(ctx, user.ExternalID, models.NotifyExpiring24h, payload)
		}
	}

	if sameDay(sub.ExpiryDate, now) && !sub.Notified0h {
		applied, err := s.repo.MarkNotified0h(ctx, sub.ID)
		if err != nil {
			return err
		}
		if applied {
			metrics.SweepActions.WithLabelValues("reminder_0h").Inc()
			s.notifier.Notify(ctx, user.ExternalID, models.NotifyExpiringToday, payload)
		}
	}

	return nil
}

func (s *Service) handleExpired(ctx context.Context, sub *models.Subscription, user *models.User, now time.Time, payload models.Notification) error {
	applied, err := s.repo.DeactivateExpired(ctx, sub.ID, now)
	if err != nil {
		return err
	}
	if !applied {
		// Конкурирующий проход уже погасил её, либо подписку успели продлить.
		return nil
	}

	metrics.SweepActions.WithLabelValues("expired").Inc()
	s.log.Info("subscription expired",
		slog.Int64("subscription_id", sub.ID),
		slog.String("user", user.ExternalID))

	if err := s.teardowner.Teardown(ctx, sub); err != nil {
		s.log.Error("teardown failed",
			slog.Int64("subscription_id", sub.ID), sl.Err(err))
	}

	s.notifier.Notify(ctx, user.ExternalID, models.NotifyExpired, payload)
	return nil
}

// sameDay сравнивает календарные дни в UTC.
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
