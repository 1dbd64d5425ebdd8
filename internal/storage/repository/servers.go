package repository

import (
	"context"
	"fmt"

	"github.com/swagavpn/provisioner/internal/models"
)

const serverColumns = `id, name, is_active, api_url, api_username, api_password, inbound_id,
	host, port, public_key, short_ids, domain, security, network_type, flow,
	fingerprint, spider_x, xhttp_host, xhttp_path, xhttp_mode, created_at, updated_at`

func scanServer(row interface{ Scan(...any) error }) (*models.Server, error) {
	srv := &models.Server{}
	var xhttpHost, xhttpPath, xhttpMode *string
	if err := row.Scan(&srv.ID, &srv.Name, &srv.IsActive, &srv.APIURL, &srv.APIUsername,
		&srv.APIPassword, &srv.InboundID, &srv.Host, &srv.Port, &srv.PublicKey,
		&srv.ShortIDs, &srv.Domain, &srv.Security, &srv.NetworkType, &srv.Flow,
		&srv.Fingerprint, &srv.SpiderX, &xhttpHost, &xhttpPath, &xhttpMode,
		&srv.CreatedAt, &srv.UpdatedAt); err != nil {
		return nil, err
	}
	if xhttpHost != nil {
		srv.XHTTPHost = *xhttpHost
	}
	if xhttpPath != nil {
		srv.XHTTPPath = *xhttpPath
	}
	if xhttpMode != nil {
		srv.XHTTPMode = *xhttpMode
	}
	return srv, nil
}

// ListActiveServers возвращает все активные серверы.
func (s *Storage) ListActiveServers(ctx context.Context) ([]*models.Server, error) {
	const op = "storage.ListActiveServers"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + serverColumns + `
			  FROM servers
			  WHERE is_active = true
			  ORDER BY id`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []*models.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, srv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// GetServerByID возвращает сервер по идентификатору.
func (s *Storage) GetServerByID(ctx context.Context, id int64) (*models.Server, error) {
	const op = "storage.GetServerByID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + serverColumns + `
			  FROM servers
			  WHERE id = $1`
	srv, err := scanServer(s.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return srv, nil
}
