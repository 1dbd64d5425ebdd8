package rabbitmq

import (
	"fmt"

	"github.com/streadway/amqp"

	"github.com/swagavpn/provisioner/internal/models"
)

// NotificationsExchange имя exchange событий движка.
const NotificationsExchange = "notifications"

// EventsQueue очередь, которую читает воркер отправки уведомлений.
const EventsQueue = "notification.events"

// QueueConfig описывает очередь и её ключ маршрутизации.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// GetNotificationQueues возвращает привязки очереди уведомлений:
// каждое событие движка маршрутизируется своим ключом.
func GetNotificationQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: EventsQueue, RoutingKey: models.NotifyExpiring24h},
		{QueueName: EventsQueue, RoutingKey: models.NotifyExpiringToday},
		{QueueName: EventsQueue, RoutingKey: models.NotifyExpired},
		{QueueName: EventsQueue, RoutingKey: models.NotifyPaymentDone},
		{QueueName: EventsQueue, RoutingKey: models.NotifyTrialStarted},
	}
}

// SetupChannel открывает канал, объявляет exchange и привязывает очереди.
func SetupChannel(conn *amqp.Connection, queues []QueueConfig) (*amqp.Channel, error) {
	const op = "rabbitmq.SetupChannel"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := ch.Qos(10, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	err = ch.ExchangeDeclare(
		NotificationsExchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			q.QueueName,
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to declare queue %s: %w", op, q.QueueName, err)
		}

		err = ch.QueueBind(
			q.QueueName,
			q.RoutingKey,
			NotificationsExchange,
			false,
			nil,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to bind queue %s with routing key %s: %w", op, q.QueueName, q.RoutingKey, err)
		}
	}

	return ch, nil
}
