// Package sender содержит воркер почтовой доставки уведомлений.
package sender

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/swagavpn/provisioner/internal/lib/sl"
	"github.com/swagavpn/provisioner/internal/lib/smtp"
	"github.com/swagavpn/provisioner/internal/models"
)

// Service доставляет уведомления движка по e-mail. События без адреса
// доставки подтверждаются и пропускаются: для таких пользователей
// доставкой занимается бот.
type Service struct {
	transport smtp.TransportInterface
	log       *slog.Logger
}

// New создает новый экземпляр Service.
func New(transport smtp.TransportInterface, log *slog.Logger) *Service {
	return &Service{transport: transport, log: log}
}

// HandleEvent обрабатывает одно событие из очереди уведомлений.
func (s *Service) HandleEvent(body []byte) error {
	var message models.Notification
	if err := json.Unmarshal(body, &message); err != nil {
		s.log.Error("failed to unmarshal notification", sl.Err(err))
		return fmt.Errorf("error unmarshalling message: %w", err)
	}

	if message.Email == "" {
		s.log.Info("notification has no email, skipping",
			slog.String("kind", message.Kind),
			slog.String("user", message.UserExternalID))
		return nil
	}

	subject, bodyText := composeMessage(message)
	return s.sendEmail([]string{message.Email}, subject, bodyText)
}

func composeMessage(n models.Notification) (subject, body string) {
	switch n.Kind {
	case models.NotifyExpiring24h:
		subject = "Подписка SWAGA VPN заканчивается завтра"
		body = fmt.Sprintf("Здравствуйте!\n\nВаша подписка SWAGA VPN заканчивается %s.\n\nПродлите её заранее, чтобы доступ не прерывался.", n.ExpiryDate)
	case models.NotifyExpiringToday:
		subject = "Подписка SWAGA VPN заканчивается сегодня"
		body = fmt.Sprintf("Здравствуйте!\n\nВаша подписка SWAGA VPN заканчивается сегодня, %s.\n\nПосле окончания доступ будет отключён.", n.ExpiryDate)
	case models.NotifyExpired:
		subject = "Подписка SWAGA VPN закончилась"
		body = "Здравствуйте!\n\nВаша подписка SWAGA VPN закончилась, доступ отключён.\n\nОформите новую подписку, чтобы восстановить доступ."
	case models.NotifyPaymentDone:
		subject = "Оплата SWAGA VPN получена"
		body = fmt.Sprintf("Здравствуйте!\n\nОплата получена, подписка продлена до %s.\n\nСпасибо, что остаётесь с нами.", n.ExpiryDate)
	case models.NotifyTrialStarted:
		subject = "Пробный период SWAGA VPN активирован"
		body = fmt.Sprintf("Здравствуйте!\n\nПробный период активирован до %s.", n.ExpiryDate)
	default:
		subject = "Уведомление SWAGA VPN"
		body = fmt.Sprintf("Здравствуйте!\n\nСобытие по вашей подписке: %s.", n.Kind)
	}
	return subject, body
}

func (s *Service) sendEmail(to []string, subject, bodyText string) error {
	msg := strings.Join([]string{
		"From: " + s.transport.GetSMTPUser(),
		"To: " + strings.Join(to, ";"),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		bodyText,
	}, "\r\n")

	client, err := s.transport.Connect()
	if err != nil {
		s.log.Error("failed to connect to SMTP server", sl.Err(err))
		return err
	}
	defer func() { _ = client.Close() }()

	if err := client.Mail(s.transport.GetSMTPUser()); err != nil {
		s.log.Error("failed to set MAIL FROM", slog.String("from", s.transport.GetSMTPUser()), sl.Err(err))
		return err
	}

	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			s.log.Error("failed to set RCPT TO", slog.String("recipient", addr), sl.Err(err))
			return err
		}
	}

	wc, err := client.Data()
	if err != nil {
		s.log.Error("failed to get Data writer", sl.Err(err))
		return err
	}

	if _, err = wc.Write([]byte(msg)); err != nil {
		s.log.Error("failed to write email body", sl.Err(err))
		return err
	}

	if err = wc.Close(); err != nil {
		s.log.Error("failed to close Data writer", sl.Err(err))
		return err
	}

	if err = client.Quit(); err != nil {
		s.log.Error("failed to quit SMTP client", sl.Err(err))
		return err
	}

	s.log.Info("email sent successfully", slog.String("to", strings.Join(to, ";")))
	return nil
}
