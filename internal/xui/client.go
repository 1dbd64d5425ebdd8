// Package xui реализует клиент панели 3x-ui (форк MHSanaei) — удалённое
// хранилище учётных записей. Панель аутентифицирует сессию cookie после
// POST /login; истёкшая сессия отвечает 401 и требует повторного входа.
package xui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/swagavpn/provisioner/internal/models"
)

// Ошибки панели, на которые реагирует синхронизация.
var (
	// ErrAlreadyExists панель отклонила создание, потому что клиент с такой
	// меткой уже есть. Для синхронизации это успех, а не ошибка.
	ErrAlreadyExists = errors.New("client already exists on panel")
	// ErrNotFound клиент с такой меткой на панели отсутствует.
	ErrNotFound = errors.New("client not found on panel")
	// ErrAuthFailed вход в панель не удался.
	ErrAuthFailed = errors.New("panel authentication failed")
)

// Panel — шлюз к панелям 3x-ui. Реквизиты конкретной панели передаются
// в каждый вызов, сессия живёт в пределах одного вызова.
type Panel struct {
	timeout time.Duration
}

// NewPanel создаёт шлюз с ограничением времени на один запрос к панели.
func NewPanel(timeout time.Duration) *Panel {
	return &Panel{timeout: timeout}
}

// CreateCredential создаёт клиента на панели сервера. Дубликат метки
// возвращается как ErrAlreadyExists.
func (p *Panel) CreateCredential(ctx context.Context, srv *models.Server, credentialUUID, email string, expiry time.Time) error {
	const op = "xui.CreateCredential"

	s, err := p.newSession(ctx, srv)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	client := Credential{
		ID:         credentialUUID,
		Email:      email,
		Enable:     true,
		ExpiryTime: expiry.UnixMilli(),
		Flow:       srv.Flow,
		SubID:      randomSubID(),
	}
	settings, err := json.Marshal(inboundSettings{Clients: []Credential{client}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	resp, err := s.post(ctx, "/panel/api/inbounds/addClient", addClientRequest{
		ID:       srv.InboundID,
		Settings: string(settings),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !resp.Success {
		msg := strings.ToLower(resp.Msg)
		if strings.Contains(msg, "duplicate") || strings.Contains(msg, "already exist") {
			return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
		}
		return fmt.Errorf("%s: panel rejected addClient: %s", op, resp.Msg)
	}
	return nil
}

// UpdateCredential переписывает клиента панели, прежде всего его
// expiryTime. Отсутствующий клиент возвращается как ErrNotFound.
func (p *Panel) UpdateCredential(ctx context.Context, srv *models.Server, credentialUUID, email string, expiry time.Time) error {
	const op = "xui.UpdateCredential"

	s, err := p.newSession(ctx, srv)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	client := Credential{
		ID:         credentialUUID,
		Email:      email,
		Enable:     true,
		ExpiryTime: expiry.UnixMilli(),
		Flow:       srv.Flow,
	}
	settings, err := json.Marshal(inboundSettings{Clients: []Credential{client}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	resp, err := s.post(ctx, "/panel/api/inbounds/updateClient/"+credentialUUID, addClientRequest{
		ID:       srv.InboundID,
		Settings: string(settings),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !resp.Success {
		msg := strings.ToLower(resp.Msg)
		if strings.Contains(msg, "not found") || strings.Contains(msg, "no client") {
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return fmt.Errorf("%s: panel rejected updateClient: %s", op, resp.Msg)
	}
	return nil
}

// ListCredentials возвращает всех клиентов входящего подключения сервера.
func (p *Panel) ListCredentials(ctx context.Context, srv *models.Server) ([]Credential, error) {
	const op = "xui.ListCredentials"

	s, err := p.newSession(ctx, srv)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := s.get(ctx, fmt.Sprintf("/panel/api/inbounds/get/%d", srv.InboundID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("%s: panel rejected get inbound: %s", op, resp.Msg)
	}

	var ib inbound
	if err := json.Unmarshal(resp.Obj, &ib); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// settings — JSON-строка внутри JSON-объекта.
	var settings inboundSettings
	if err := json.Unmarshal([]byte(ib.Settings), &settings); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return settings.Clients, nil
}

// DeleteCredential удаляет клиента панели по его UUID. Отсутствующий
// клиент возвращается как ErrNotFound.
func (p *Panel) DeleteCredential(ctx context.Context, srv *models.Server, credentialUUID string) error {
	const op = "xui.DeleteCredential"

	s, err := p.newSession(ctx, srv)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	resp, err := s.post(ctx, "/panel/api/inbounds/delClient", deleteClientRequest{
		ID:       srv.InboundID,
		ClientID: credentialUUID,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !resp.Success {
		msg := strings.ToLower(resp.Msg)
		if strings.Contains(msg, "not found") || strings.Contains(msg, "no client") {
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return fmt.Errorf("%s: panel rejected delClient: %s", op, resp.Msg)
	}
	return nil
}

// session cookie-сессия одной панели в пределах одного вызова шлюза.
type session struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

func (p *Panel) newSession(ctx context.Context, srv *models.Server) (*session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	s := &session{
		baseURL:  strings.TrimRight(srv.APIURL, "/"),
		username: srv.APIUsername,
		password: srv.APIPassword,
		httpClient: &http.Client{
			Timeout: p.timeout,
			Jar:     jar,
		},
	}
	if err := s.login(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) login(ctx context.Context) error {
	resp, err := s.do(ctx, http.MethodPost, "/login", loginRequest{
		Username: s.username,
		Password: s.password,
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%w: %s", ErrAuthFailed, resp.Msg)
	}
	return nil
}

func (s *session) get(ctx context.Context, path string) (*apiResponse, error) {
	return s.withReauth(ctx, http.MethodGet, path, nil)
}

func (s *session) post(ctx context.Context, path string, body any) (*apiResponse, error) {
	return s.withReauth(ctx, http.MethodPost, path, body)
}

// withReauth повторяет запрос один раз после повторного входа, если сессия
// панели истекла между login и самим вызовом.
func (s *session) withReauth(ctx context.Context, method, path string, body any) (*apiResponse, error) {
	resp, err := s.do(ctx, method, path, body)
	if errors.Is(err, errSessionExpired) {
		if err := s.login(ctx); err != nil {
			return nil, err
		}
		return s.do(ctx, method, path, body)
	}
	return resp, err
}

var errSessionExpired = errors.New("panel session expired")

func (s *session) do(ctx context.Context, method, path string, body any) (*apiResponse, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusUnauthorized {
		return nil, errSessionExpired
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("panel returned status %d", httpResp.StatusCode)
	}

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	var resp apiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("unexpected panel response: %s", strings.TrimSpace(string(raw)))
	}
	return &resp, nil
}

const subIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomSubID() string {
	b := make([]byte, 16)
	for i := range b {
		b[i] = subIDAlphabet[rand.Intn(len(subIDAlphabet))]
	}
	return string(b)
}
