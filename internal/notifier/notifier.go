// Package notifier отправляет события движка внешнему нотификатору.
// Отправка — fire-and-forget: ошибка публикации логируется и никогда
// не возвращается в поток применения платежа или обхода подписок.
package notifier

import (
	"context"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/swagavpn/provisioner/internal/lib/sl"
	"github.com/swagavpn/provisioner/internal/models"
	"github.com/swagavpn/provisioner/internal/rabbitmq"
)

// AMQPNotifier публикует события в exchange уведомлений.
type AMQPNotifier struct {
	ch  *amqp.Channel
	log *slog.Logger
}

// New создает новый экземпляр AMQPNotifier.
func New(ch *amqp.Channel, log *slog.Logger) *AMQPNotifier {
	return &AMQPNotifier{ch: ch, log: log}
}

// Notify публикует одно событие. Вид события служит ключом маршрутизации.
func (n *AMQPNotifier) Notify(_ context.Context, userExternalID, kind string, payload models.Notification) {
	payload.UserExternalID = userExternalID
	payload.Kind = kind

	if err := rabbitmq.PublishMessage(n.ch, rabbitmq.NotificationsExchange, kind, payload); err != nil {
		n.log.Error("failed to publish notification",
			slog.String("kind", kind),
			slog.String("user", userExternalID),
			sl.Err(err))
	}
}
