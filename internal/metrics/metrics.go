// Package metrics регистрирует счетчики prometheus для движка подписок.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEvents счетчик обработанных событий платёжного провайдера.
	// result: applied, duplicate, ignored, rejected, error.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provisioner_webhook_events_total",
		Help: "Processed payment provider webhook events by result.",
	}, []string{"event", "result"})

	// ReconcileKeys счетчик исходов синхронизации ключей по серверам.
	// outcome: synced, failed, deleted.
	ReconcileKeys = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provisioner_reconcile_keys_total",
		Help: "Key reconciliation outcomes per server.",
	}, []string{"server", "outcome"})

	// SweepRuns счетчик запусков фонового обхода подписок.
	SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provisioner_sweep_runs_total",
		Help: "Completed lifecycle sweep runs.",
	})

	// SweepActions счетчик действий обхода: reminder_24h, reminder_0h, expired.
	SweepActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provisioner_sweep_actions_total",
		Help: "Lifecycle sweep actions by kind.",
	}, []string{"action"})
)
