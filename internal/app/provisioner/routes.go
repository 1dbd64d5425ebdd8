// Package provisioner предоставляет маршруты основного сервиса.
package provisioner

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	accesshandler "github.com/swagavpn/provisioner/internal/http/handlers/access"
	"github.com/swagavpn/provisioner/internal/http/handlers/health"
	"github.com/swagavpn/provisioner/internal/http/handlers/payment/paymentcreate"
	"github.com/swagavpn/provisioner/internal/http/handlers/payment/paymentstatus"
	"github.com/swagavpn/provisioner/internal/http/handlers/payment/paymentwebhook"
	"github.com/swagavpn/provisioner/internal/http/handlers/trial"
	accessservice "github.com/swagavpn/provisioner/internal/services/access"
	paymentservice "github.com/swagavpn/provisioner/internal/services/payment"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, payments *paymentservice.Service, access *accessservice.Service, webhookSecret string) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/payments", paymentcreate.New(logger, payments).ServeHTTP)
		r.Get("/payments/{paymentID}", paymentstatus.New(logger, payments).ServeHTTP)
		r.Post("/trial", trial.New(logger, payments).ServeHTTP)
		r.Get("/access", accesshandler.New(logger, access).ServeHTTP)

		// Webhook endpoint (подпись проверяет сам обработчик)
		r.Post("/payments/webhook", paymentwebhook.New(logger, payments, webhookSecret).ServeHTTP)
	})

	r.Get("/health", health.New(logger).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
}
