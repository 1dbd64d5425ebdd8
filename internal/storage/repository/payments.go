package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/swagavpn/provisioner/internal/models"
)

const paymentColumns = `id, payment_id, user_id, plan_type, amount, currency, status,
	created_at, updated_at, processed_at`

func scanPayment(row interface{ Scan(...any) error }) (*models.Payment, error) {
	p := &models.Payment{}
	var processedAt sql.NullTime
	if err := row.Scan(&p.ID, &p.PaymentID, &p.UserID, &p.PlanType, &p.Amount,
		&p.Currency, &p.Status, &p.CreatedAt, &p.UpdatedAt, &processedAt); err != nil {
		return nil, err
	}
	if processedAt.Valid {
		p.ProcessedAt = &processedAt.Time
	}
	return p, nil
}

// CreatePayment сохраняет новый платёж в статусе pending и возвращает его ID.
// Уникальность payment_id гарантирует база.
func (s *Storage) CreatePayment(ctx context.Context, payment models.Payment) (int64, error) {
	const op = "storage.CreatePayment"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO payments (payment_id, user_id, plan_type, amount, currency, status)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  RETURNING id`
	var newID int64
	err := s.DB.QueryRowContext(ctx, query,
		payment.PaymentID, payment.UserID, payment.PlanType, payment.Amount,
		payment.Currency, payment.Status).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// GetPaymentByProviderID возвращает платёж по идентификатору провайдера.
func (s *Storage) GetPaymentByProviderID(ctx context.Context, providerPaymentID string) (*models.Payment, bool, error) {
	const op = "storage.GetPaymentByProviderID"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + paymentColumns + `
			  FROM payments
			  WHERE payment_id = $1`
	payment, err := scanPayment(s.DB.QueryRowContext(ctx, query, providerPaymentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return payment, true, nil
}

// MarkPaymentTerminal переводит pending-платёж в терминальный статус
// (canceled или refunded). Возвращает false, если платёж уже не pending.
func (s *Storage) MarkPaymentTerminal(ctx context.Context, providerPaymentID, status string) (bool, error) {
	const op = "storage.MarkPaymentTerminal"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE payments
			  SET status = $2, updated_at = now()
			  WHERE payment_id = $1 AND status = $3`
	result, err := s.DB.ExecContext(ctx, query, providerPaymentID, status, models.PaymentPending)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected > 0, nil
}

// MarkPaymentRefunded переводит успешный платёж в refunded. Возврат не
// отматывает подписку, он только фиксируется в истории платежей.
func (s *Storage) MarkPaymentRefunded(ctx context.Context, providerPaymentID string) (bool, error) {
	const op = "storage.MarkPaymentRefunded"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE payments
			  SET status = $2, updated_at = now()
			  WHERE payment_id = $1 AND status = $3`
	result, err := s.DB.ExecContext(ctx, query, providerPaymentID, models.PaymentRefunded, models.PaymentSucceeded)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected > 0, nil
}

// ApplyPaymentSucceeded атомарно переводит платёж в succeeded и продлевает
// либо создаёт подписку. Возвращает applied = false, если платёж уже не в
// pending: две гонящиеся доставки webhook не могут примениться обе, потому
// что выигрывает ровно один guarded UPDATE.
func (s *Storage) ApplyPaymentSucceeded(ctx context.Context, providerPaymentID, planType string, extendBy time.Duration, now time.Time) (*models.Subscription, bool, error) {
	const op = "storage.ApplyPaymentSucceeded"
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

	var userID int64
	err = tx.QueryRowContext(ctx,
		`UPDATE payments
		 SET status = $2, processed_at = $3, updated_at = now()
		 WHERE payment_id = $1 AND status = $4
		 RETURNING user_id`,
		providerPaymentID, models.PaymentSucceeded, now, models.PaymentPending).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	sub, err := upsertActiveSubscription(ctx, tx, userID, planType, extendBy, now)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return sub, true, nil
}
