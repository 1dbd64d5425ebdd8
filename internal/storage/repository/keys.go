package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/swagavpn/provisioner/internal/models"
)

const keyColumns = `id, subscription_id, server_id, key_uuid, email, sync_status,
	last_sync_at, sync_error, created_at, updated_at`

func scanKey(row interface{ Scan(...any) error }) (*models.Key, error) {
	k := &models.Key{}
	if err := row.Scan(&k.ID, &k.SubscriptionID, &k.ServerID, &k.KeyUUID, &k.Email,
		&k.SyncStatus, &k.LastSyncAt, &k.SyncError, &k.CreatedAt, &k.UpdatedAt); err != nil {
		return nil, err
	}
	return k, nil
}

// EnsureKey создаёт pending-ключ для пары (подписка, сервер), если его ещё
// нет. Повторный вызов и гонка двух синхронизаций упираются в уникальное
// ограничение и не плодят дубликатов.
func (s *Storage) EnsureKey(ctx context.Context, subscriptionID, serverID int64, keyUUID, email string) error {
	const op = "storage.EnsureKey"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO keys (subscription_id, server_id, key_uuid, email, sync_status)
			  VALUES ($1, $2, $3, $4, $5)
			  ON CONFLICT (subscription_id, server_id) DO NOTHING`
	if _, err := s.DB.ExecContext(ctx, query, subscriptionID, serverID, keyUUID, email, models.KeySyncPending); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListKeysBySubscription возвращает все ключи подписки.
func (s *Storage) ListKeysBySubscription(ctx context.Context, subscriptionID int64) ([]*models.Key, error) {
	const op = "storage.ListKeysBySubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + keyColumns + `
			  FROM keys
			  WHERE subscription_id = $1
			  ORDER BY server_id`
	rows, err := s.DB.QueryContext(ctx, query, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []*models.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// MarkKeySynced отмечает успешную синхронизацию ключа с панелью.
func (s *Storage) MarkKeySynced(ctx context.Context, keyID int64, at time.Time) error {
	const op = "storage.MarkKeySynced"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE keys
			  SET sync_status = $2, last_sync_at = $3, sync_error = NULL, updated_at = now()
			  WHERE id = $1`
	if _, err := s.DB.ExecContext(ctx, query, keyID, models.KeySyncSynced, at); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// MarkKeyError записывает ошибку синхронизации ключа.
func (s *Storage) MarkKeyError(ctx context.Context, keyID int64, detail string, at time.Time) error {
	const op = "storage.MarkKeyError"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	if len(detail) > 500 {
		detail = detail[:500]
	}
	query := `UPDATE keys
			  SET sync_status = $2, sync_error = $3, last_sync_at = $4, updated_at = now()
			  WHERE id = $1`
	if _, err := s.DB.ExecContext(ctx, query, keyID, models.KeySyncError, detail, at); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteKey удаляет локальную запись ключа.
func (s *Storage) DeleteKey(ctx context.Context, keyID int64) error {
	const op = "storage.DeleteKey"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	if _, err := s.DB.ExecContext(ctx, `DELETE FROM keys WHERE id = $1`, keyID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListSyncedKeysWithServers возвращает синхронизированные ключи подписки
// вместе с их активными серверами, для построения ссылок подключения.
func (s *Storage) ListSyncedKeysWithServers(ctx context.Context, subscriptionID int64) ([]*models.KeyWithServer, error) {
	const op = "storage.ListSyncedKeysWithServers"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT k.` + "id, k.subscription_id, k.server_id, k.key_uuid, k.email, k.sync_status, k.last_sync_at, k.sync_error, k.created_at, k.updated_at, " +
		`s.id, s.name, s.is_active, s.api_url, s.api_username, s.api_password, s.inbound_id,
		 s.host, s.port, s.public_key, s.short_ids, s.domain, s.security, s.network_type, s.flow,
		 s.fingerprint, s.spider_x, s.xhttp_host, s.xhttp_path, s.xhttp_mode, s.created_at, s.updated_at
		 FROM keys k
		 JOIN servers s ON s.id = k.server_id
		 WHERE k.subscription_id = $1 AND k.sync_status = 'synced' AND s.is_active = true
		 ORDER BY s.id`
	rows, err := s.DB.QueryContext(ctx, query, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []*models.KeyWithServer
	for rows.Next() {
		item := &models.KeyWithServer{}
		var xhttpHost, xhttpPath, xhttpMode *string
		if err := rows.Scan(
			&item.Key.ID, &item.Key.SubscriptionID, &item.Key.ServerID, &item.Key.KeyUUID,
			&item.Key.Email, &item.Key.SyncStatus, &item.Key.LastSyncAt, &item.Key.SyncError,
			&item.Key.CreatedAt, &item.Key.UpdatedAt,
			&item.Server.ID, &item.Server.Name, &item.Server.IsActive, &item.Server.APIURL,
			&item.Server.APIUsername, &item.Server.APIPassword, &item.Server.InboundID,
			&item.Server.Host, &item.Server.Port, &item.Server.PublicKey, &item.Server.ShortIDs,
			&item.Server.Domain, &item.Server.Security, &item.Server.NetworkType, &item.Server.Flow,
			&item.Server.Fingerprint, &item.Server.SpiderX, &xhttpHost, &xhttpPath, &xhttpMode,
			&item.Server.CreatedAt, &item.Server.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if xhttpHost != nil {
			item.Server.XHTTPHost = *xhttpHost
		}
		if xhttpPath != nil {
			item.Server.XHTTPPath = *xhttpPath
		}
		if xhttpMode != nil {
			item.Server.XHTTPMode = *xhttpMode
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
