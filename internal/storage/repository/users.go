package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/swagavpn/provisioner/internal/models"
)

// GetOrCreateUser возвращает пользователя по внешнему идентификатору,
// создавая запись при первом контакте. Федеративный UUID назначается
// только при создании и далее не меняется.
func (s *Storage) GetOrCreateUser(ctx context.Context, externalID string) (*models.User, error) {
	const op = "storage.GetOrCreateUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	// ON CONFLICT DO NOTHING: при гонке двух первых контактов выигрывает
	// одна вставка, вторая просто читает готовую строку.
	query := `INSERT INTO users (external_id, user_uuid)
			  VALUES ($1, $2)
			  ON CONFLICT (external_id) DO NOTHING`
	if _, err := s.DB.ExecContext(ctx, query, externalID, uuid.New().String()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user, found, err := s.GetUserByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !found {
		return nil, fmt.Errorf("%s: user disappeared after insert", op)
	}
	return user, nil
}

// GetUserByExternalID возвращает пользователя по внешнему идентификатору.
func (s *Storage) GetUserByExternalID(ctx context.Context, externalID string) (*models.User, bool, error) {
	const op = "storage.GetUserByExternalID"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, external_id, user_uuid, trial_used, COALESCE(email, ''), created_at, updated_at
			  FROM users
			  WHERE external_id = $1`
	u := &models.User{}
	err := s.DB.QueryRowContext(ctx, query, externalID).Scan(
		&u.ID, &u.ExternalID, &u.UserUUID, &u.TrialUsed, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return u, true, nil
}

// GetUserByID возвращает пользователя по внутреннему идентификатору.
func (s *Storage) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	const op = "storage.GetUserByID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, external_id, user_uuid, trial_used, COALESCE(email, ''), created_at, updated_at
			  FROM users
			  WHERE id = $1`
	u := &models.User{}
	err := s.DB.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.ExternalID, &u.UserUUID, &u.TrialUsed, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// SetUserEmail сохраняет контактный адрес для почтовых уведомлений.
func (s *Storage) SetUserEmail(ctx context.Context, id int64, email string) error {
	const op = "storage.SetUserEmail"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users SET email = $2, updated_at = now() WHERE id = $1`
	if _, err := s.DB.ExecContext(ctx, query, id, email); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
