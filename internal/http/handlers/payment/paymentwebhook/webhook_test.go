package paymentwebhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	paymentservice "github.com/swagavpn/provisioner/internal/services/payment"
)

type ServiceMock struct{ mock.Mock }

func (m *ServiceMock) ProcessWebhookEvent(ctx context.Context, event, providerPaymentID string) error {
	return m.Called(ctx, event, providerPaymentID).Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

const succeededBody = `{"event":"payment.succeeded","object":{"id":"pay-1","status":"succeeded","amount":{"value":"130.00","currency":"RUB"}}}`

func TestWebhook_ValidSignatureApplies(t *testing.T) {
	service := new(ServiceMock)
	handler := New(newNoopLogger(), service, "topsecret")

	service.On("ProcessWebhookEvent", mock.Anything, "payment.succeeded", "pay-1").Return(nil).Once()

	body := []byte(succeededBody)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(body))
	req.Header.Set("X-Api-Signature", sign("topsecret", body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	service.AssertExpectations(t)
}

func TestWebhook_InvalidSignatureRejected(t *testing.T) {
	service := new(ServiceMock)
	handler := New(newNoopLogger(), service, "topsecret")

	body := []byte(succeededBody)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(body))
	req.Header.Set("X-Api-Signature", sign("wrong-secret", body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	service.AssertNotCalled(t, "ProcessWebhookEvent", mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhook_MissingSignatureRejected(t *testing.T) {
	service := new(ServiceMock)
	handler := New(newNoopLogger(), service, "topsecret")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader([]byte(succeededBody)))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_CheckDisabledWithoutSecret(t *testing.T) {
	service := new(ServiceMock)
	handler := New(newNoopLogger(), service, "")

	service.On("ProcessWebhookEvent", mock.Anything, "payment.succeeded", "pay-1").Return(nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader([]byte(succeededBody)))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	service.AssertExpectations(t)
}

func TestWebhook_BadPayload(t *testing.T) {
	service := new(ServiceMock)
	handler := New(newNoopLogger(), service, "")

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "{broken"},
		{name: "no payment id", body: `{"event":"payment.succeeded","object":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader([]byte(tt.body)))
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestWebhook_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		serviceErr error
		wantStatus int
	}{
		{name: "unknown payment", serviceErr: paymentservice.ErrUnknownPayment, wantStatus: http.StatusNotFound},
		{name: "terminal payment", serviceErr: paymentservice.ErrPaymentAlreadyTerminal, wantStatus: http.StatusConflict},
		{name: "storage error", serviceErr: errors.New("db down"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(ServiceMock)
			handler := New(newNoopLogger(), service, "")
			service.On("ProcessWebhookEvent", mock.Anything, "payment.succeeded", "pay-1").
				Return(tt.serviceErr).Once()

			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader([]byte(succeededBody)))
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}
