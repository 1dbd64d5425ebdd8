package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/swagavpn/provisioner/internal/models"
)

const subscriptionColumns = `id, user_id, is_active, expiry_date, plan_type,
	notified_24h, notified_0h, expired_handled, created_at, updated_at`

func scanSubscription(row interface{ Scan(...any) error }) (*models.Subscription, error) {
	sub := &models.Subscription{}
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.IsActive, &sub.ExpiryDate, &sub.PlanType,
		&sub.Notified24h, &sub.Notified0h, &sub.ExpiredHandled,
		&sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	return sub, nil
}

// GetActiveSubscriptionByUserID возвращает текущую активную подписку пользователя.
func (s *Storage) GetActiveSubscriptionByUserID(ctx context.Context, userID int64) (*models.Subscription, bool, error) {
	const op = "storage.GetActiveSubscriptionByUserID"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE user_id = $1 AND is_active = true
			  ORDER BY expiry_date DESC
			  LIMIT 1`
	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return sub, true, nil
}

// GetSubscriptionByID возвращает подписку по идентификатору.
func (s *Storage) GetSubscriptionByID(ctx context.Context, id int64) (*models.Subscription, error) {
	const op = "storage.GetSubscriptionByID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE id = $1`
	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// ListSweepCandidates возвращает активные подписки, истекающие до deadline.
// Каждая строка читается одним запросом, поэтому решение обхода по ней
// видит либо состояние до продления, либо после, но не смесь.
func (s *Storage) ListSweepCandidates(ctx context.Context, deadline time.Time) ([]*models.Subscription, error) {
	const op = "storage.ListSweepCandidates"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE is_active = true AND expiry_date <= $1
			  ORDER BY expiry_date`
	rows, err := s.DB.QueryContext(ctx, query, deadline)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// MarkNotified24h взводит флаг 24-часового напоминания. Возвращает false,
// если флаг уже был взведён (например, параллельным обходом).
func (s *Storage) MarkNotified24h(ctx context.Context, id int64) (bool, error) {
	return s.setSubscriptionFlag(ctx, "storage.MarkNotified24h", "notified_24h", id)
}

// MarkNotified0h взводит флаг напоминания в день окончания.
func (s *Storage) MarkNotified0h(ctx context.Context, id int64) (bool, error) {
	return s.setSubscriptionFlag(ctx, "storage.MarkNotified0h", "notified_0h", id)
}

func (s *Storage) setSubscriptionFlag(ctx context.Context, op, column string, id int64) (bool, error) {
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := fmt.Sprintf(`UPDATE subscriptions
			  SET %s = true, updated_at = now()
			  WHERE id = $1 AND %s = false`, column, column)
	result, err := s.DB.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected > 0, nil
}

// DeactivateExpired переводит истёкшую подписку в неактивное состояние
// и взводит expired_handled. Возвращает false, если подписка уже обработана
// или была продлена после выборки кандидатов.
func (s *Storage) DeactivateExpired(ctx context.Context, id int64, now time.Time) (bool, error) {
	const op = "storage.DeactivateExpired"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET is_active = false, expired_handled = true, updated_at = now()
			  WHERE id = $1 AND is_active = true AND expired_handled = false
			    AND expiry_date <= $2`
	result, err := s.DB.ExecContext(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected > 0, nil
}

// upsertActiveSubscription продлевает активную непросроченную подписку
// пользователя от её текущей даты окончания либо создаёт новую от now.
// Вызывается только внутри транзакции применения платежа или триала.
func upsertActiveSubscription(ctx context.Context, tx *sql.Tx, userID int64, planType string, extendBy time.Duration, now time.Time) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE user_id = $1 AND is_active = true
			  ORDER BY expiry_date DESC
			  LIMIT 1
			  FOR UPDATE`
	current, err := scanSubscription(tx.QueryRowContext(ctx, query, userID))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if current != nil && current.ExpiryDate.After(now) {
		// Продление стопкой: от текущей даты окончания, не от now.
		update := `UPDATE subscriptions
				   SET expiry_date = expiry_date + $2, plan_type = $3,
				       notified_24h = false, notified_0h = false, expired_handled = false,
				       updated_at = now()
				   WHERE id = $1
				   RETURNING ` + subscriptionColumns
		sub, err := scanSubscription(tx.QueryRowContext(ctx, update, current.ID, extendBy, planType))
		if err != nil {
			return nil, err
		}
		// Панели хранят прежний expiryTime, поэтому ключи уходят обратно
		// в pending: следующий reconcile перенесёт новый срок на каждую.
		if _, err := tx.ExecContext(ctx,
			`UPDATE keys SET sync_status = $2, updated_at = now()
			 WHERE subscription_id = $1`, sub.ID, models.KeySyncPending); err != nil {
			return nil, err
		}
		return sub, nil
	}

	if current != nil {
		// Активная, но уже просроченная подписка: закрываем её, платёж
		// открывает новый период вместо воскрешения старой строки.
		close := `UPDATE subscriptions
				  SET is_active = false, expired_handled = true, updated_at = now()
				  WHERE id = $1`
		if _, err := tx.ExecContext(ctx, close, current.ID); err != nil {
			return nil, err
		}
	}

	insert := `INSERT INTO subscriptions (user_id, is_active, expiry_date, plan_type)
			   VALUES ($1, true, $2, $3)
			   RETURNING ` + subscriptionColumns
	return scanSubscription(tx.QueryRowContext(ctx, insert, userID, now.Add(extendBy), planType))
}

// ActivateTrial атомарно взводит флаг использованного триала и создаёт
// подписку. Возвращает applied = false, если триал уже был использован.
func (s *Storage) ActivateTrial(ctx context.Context, userID int64, planType string, duration time.Duration, now time.Time) (*models.Subscription, bool, error) {
	const op = "storage.ActivateTrial"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	// Защита от гонки двух активаций: выигрывает ровно один UPDATE.
	result, err := tx.ExecContext(ctx,
		`UPDATE users SET trial_used = true, updated_at = now()
		 WHERE id = $1 AND trial_used = false`, userID)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return nil, false, nil
	}

	sub, err := upsertActiveSubscription(ctx, tx, userID, planType, duration, now)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return sub, true, nil
}
