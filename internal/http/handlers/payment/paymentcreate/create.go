// Package paymentcreate обрабатывает создание платежей у провайдера.
package paymentcreate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/swagavpn/provisioner/internal/http/response"
	"github.com/swagavpn/provisioner/internal/lib/sl"
	paymentservice "github.com/swagavpn/provisioner/internal/services/payment"
)

// CreatePaymentRequest представляет запрос на создание платежа.
type CreatePaymentRequest struct {
	ExternalID string `json:"external_id" validate:"required"`
	Plan       string `json:"plan" validate:"required,oneof=m1 m3 m12"`
	Email      string `json:"email,omitempty" validate:"omitempty,email"` // Контакт для уведомлений
}

// CreatePaymentResponse представляет ответ с данными для оплаты.
type CreatePaymentResponse struct {
	PaymentID       string `json:"payment_id"`
	ConfirmationURL string `json:"confirmation_url"`
}

// Service определяет интерфейс для создания платежей.
type Service interface {
	InitiatePayment(ctx context.Context, externalID, planID, email string) (*paymentservice.InitiatedPayment, error)
}

// Handler обрабатывает запросы на создание платежей.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate // Валидатор структуры входящих данных
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.create"
	log := h.log.With(slog.String("op", op))

	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	initiated, err := h.service.InitiatePayment(r.Context(), req.ExternalID, req.Plan, req.Email)
	if err != nil {
		log.Error("failed to initiate payment", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to initiate payment"))
		return
	}

	log.Info("payment initiated",
		slog.String("payment_id", initiated.PaymentID),
		slog.String("user", req.ExternalID))
	render.JSON(w, r, response.StatusOKWithData(CreatePaymentResponse{
		PaymentID:       initiated.PaymentID,
		ConfirmationURL: initiated.ConfirmationURL,
	}))
}
