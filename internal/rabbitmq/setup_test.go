package rabbitmq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swagavpn/provisioner/internal/models"
)

func TestGetNotificationQueues(t *testing.T) {
	queues := GetNotificationQueues()

	require.NotEmpty(t, queues, "queues list should not be empty")

	wantKeys := []string{
		models.NotifyExpiring24h,
		models.NotifyExpiringToday,
		models.NotifyExpired,
		models.NotifyPaymentDone,
		models.NotifyTrialStarted,
	}

	gotKeys := map[string]bool{}
	for _, q := range queues {
		assert.Equal(t, EventsQueue, q.QueueName, "все события идут в одну очередь воркера")
		assert.Falsef(t, gotKeys[q.RoutingKey], "duplicate routing key: %s", q.RoutingKey)
		gotKeys[q.RoutingKey] = true
	}

	for _, key := range wantKeys {
		assert.Truef(t, gotKeys[key], "missing binding for %s", key)
	}
}
