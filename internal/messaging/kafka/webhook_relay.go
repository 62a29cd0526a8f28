package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

// WebhookHandler обрабатывает подписанное событие провайдера.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// NewWebhookRelay возвращает обработчик farmoms.payment.events: value сообщения содержит
// тело события провайдера, header signature содержит его подпись.
// Сообщения с неверной подписью или неразборчивым телом отбрасываются без повторов.
func NewWebhookRelay(handler WebhookHandler, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.New().WithField("component", "payment-events-relay")
	}
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		err := handler.HandleWebhook(ctx, message.Value, headerValue(message, HeaderSignature))
		switch {
		case err == nil:
			return nil
		case errors.Is(err, domain.ErrInvalidSignature), errors.Is(err, domain.ErrInvalidArgument):
			logger.WithError(err).WithFields(log.Fields{
				"partition": message.Partition,
				"offset":    message.Offset,
			}).Warn("payment event dropped")
			return nil
		default:
			return err
		}
	}
}
