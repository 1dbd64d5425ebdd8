// Package trial обрабатывает активацию пробного периода.
package trial

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/swagavpn/provisioner/internal/http/response"
	"github.com/swagavpn/provisioner/internal/lib/sl"
	"github.com/swagavpn/provisioner/internal/models"
	paymentservice "github.com/swagavpn/provisioner/internal/services/payment"
)

// ActivateTrialRequest представляет запрос на активацию триала.
type ActivateTrialRequest struct {
	ExternalID string `json:"external_id" validate:"required"`
	Email      string `json:"email,omitempty" validate:"omitempty,email"` // Контакт для уведомлений
}

// ActivateTrialResponse представляет сводку созданной подписки.
type ActivateTrialResponse struct {
	PlanType   string    `json:"plan_type"`
	ExpiryDate time.Time `json:"expiry_date"`
}

// Service определяет интерфейс активации пробного периода.
type Service interface {
	ActivateTrial(ctx context.Context, externalID, email string) (*models.Subscription, error)
}

// Handler обрабатывает запросы на активацию пробного периода.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
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
	const op = "handlers.trial"
	log := h.log.With(slog.String("op", op))

	var req ActivateTrialRequest
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

	sub, err := h.service.ActivateTrial(r.Context(), req.ExternalID, req.Email)
	if errors.Is(err, paymentservice.ErrTrialAlreadyUsed) {
		log.Info("trial already used", slog.String("user", req.ExternalID))
		w.WriteHeader(http.StatusConflict)
		render.JSON(w, r, response.Error("trial already used"))
		return
	}
	if err != nil {
		log.Error("failed to activate trial", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to activate trial"))
		return
	}

	log.Info("trial activated", slog.String("user", req.ExternalID))
	render.JSON(w, r, response.StatusOKWithData(ActivateTrialResponse{
		PlanType:   sub.PlanType,
		ExpiryDate: sub.ExpiryDate,
	}))
}
