// Package paymentstatus обрабатывает опрос статуса платежа у провайдера.
// Запасной путь для бота: webhook мог задержаться, а пользователь уже
// вернулся со страницы оплаты и ждёт доступ.
package paymentstatus

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"

	"github.com/swagavpn/provisioner/internal/http/response"
	"github.com/swagavpn/provisioner/internal/lib/sl"
	paymentservice "github.com/swagavpn/provisioner/internal/services/payment"
)

// PaymentStatusResponse представляет текущий статус платежа.
type PaymentStatusResponse struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
}

// Service определяет интерфейс опроса статуса платежа.
type Service interface {
	SyncPaymentStatus(ctx context.Context, providerPaymentID string) (string, error)
}

// Handler обрабатывает запросы статуса платежа.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.status"
	log := h.log.With(slog.String("op", op))

	paymentID := chi.URLParam(r, "paymentID")
	if paymentID == "" {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("payment id is required"))
		return
	}

	status, err := h.service.SyncPaymentStatus(r.Context(), paymentID)
	if errors.Is(err, paymentservice.ErrUnknownPayment) {
		log.Info("unknown payment", slog.String("payment_id", paymentID))
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("unknown payment"))
		return
	}
	if err != nil {
		log.Error("failed to sync payment status", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to check payment"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(PaymentStatusResponse{
		PaymentID: paymentID,
		Status:    status,
	}))
}
