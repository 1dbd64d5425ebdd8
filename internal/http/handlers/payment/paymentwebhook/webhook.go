// Package paymentwebhook обрабатывает webhook-события платёжного провайдера.
package paymentwebhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/swagavpn/provisioner/internal/lib/sl"
	"github.com/swagavpn/provisioner/internal/metrics"
	paymentservice "github.com/swagavpn/provisioner/internal/services/payment"
)

// Service определяет интерфейс применения webhook-событий.
type Service interface {
	ProcessWebhookEvent(ctx context.Context, event, providerPaymentID string) error
}

// Handler обрабатывает webhook платёжного провайдера. 200 возвращается
// только после локального коммита: провайдер перепосылает событие до
// успешного ответа, а идемпотентность применения держит база.
type Handler struct {
	log           *slog.Logger
	service       Service
	webhookSecret string // Секрет для проверки подписи, пустой отключает проверку
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service, secret string) *Handler {
	return &Handler{
		log:           log,
		service:       service,
		webhookSecret: secret,
	}
}

// Payload тело webhook-события ЮKassa.
type Payload struct {
	Event  string `json:"event"`
	Object struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"amount"`
		Metadata map[string]string `json:"metadata"`
	} `json:"object"`
}

// verifySignature проверяет подпись из заголовка X-Api-Signature.
func (h *Handler) verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expectedSig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expectedSig), []byte(signature))
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(slog.String("op", op))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer func() { _ = r.Body.Close() }()

	if h.webhookSecret != "" {
		signature := r.Header.Get("X-Api-Signature")
		if signature == "" || !h.verifySignature(body, signature) {
			log.Error("invalid or missing webhook signature")
			metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Error("failed to unmarshal webhook payload", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if payload.Object.ID == "" {
		log.Error("webhook payload without payment id", slog.String("event", payload.Event))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event := strings.ToLower(payload.Event)
	err = h.service.ProcessWebhookEvent(r.Context(), event, payload.Object.ID)
	switch {
	case errors.Is(err, paymentservice.ErrUnknownPayment):
		log.Error("webhook for unknown payment", slog.String("payment_id", payload.Object.ID))
		metrics.WebhookEvents.WithLabelValues(event, "ignored").Inc()
		w.WriteHeader(http.StatusNotFound)
		return
	case errors.Is(err, paymentservice.ErrPaymentAlreadyTerminal):
		log.Error("webhook conflicts with terminal payment status",
			slog.String("payment_id", payload.Object.ID))
		metrics.WebhookEvents.WithLabelValues(event, "error").Inc()
		w.WriteHeader(http.StatusConflict)
		return
	case err != nil:
		log.Error("failed to process webhook event", sl.Err(err))
		metrics.WebhookEvents.WithLabelValues(event, "error").Inc()
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	metrics.WebhookEvents.WithLabelValues(event, "applied").Inc()
	log.Info("webhook processed successfully",
		slog.String("event", payload.Event),
		slog.String("payment_id", payload.Object.ID))
	w.WriteHeader(http.StatusOK)
}
