// Package access обрабатывает выдачу ссылок подключения.
package access

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/swagavpn/provisioner/internal/http/response"
	"github.com/swagavpn/provisioner/internal/lib/sl"
	accessservice "github.com/swagavpn/provisioner/internal/services/access"
)

// Service определяет интерфейс выдачи ссылок доступа.
type Service interface {
	Links(ctx context.Context, externalID string) (*accessservice.Access, error)
}

// Handler обрабатывает запросы на выдачу ссылок подключения.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.access"
	log := h.log.With(slog.String("op", op))

	externalID := r.URL.Query().Get("external_id")
	if externalID == "" {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("external_id is required"))
		return
	}

	acc, err := h.service.Links(r.Context(), externalID)
	switch {
	case errors.Is(err, accessservice.ErrUserNotFound):
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("user not found"))
		return
	case errors.Is(err, accessservice.ErrNoActiveSubscription):
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("no active subscription"))
		return
	case err != nil:
		log.Error("failed to build access links", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to build access links"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(acc))
}
