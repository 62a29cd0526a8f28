package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

// DLQEnvelope упаковывает исходное событие и причину отказа для DLQ.
// Утилита dlq-reprocess разворачивает его обратно в событие заказа.
type DLQEnvelope struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

func newDLQEnvelope(msg domain.OutboxMessage, cause error, at time.Time) DLQEnvelope {
	payload := json.RawMessage(msg.Payload)
	if !json.Valid(payload) {
		payload, _ = json.Marshal(string(msg.Payload))
	}
	return DLQEnvelope{
		OutboxID:       msg.ID,
		AggregateType:  msg.AggregateType,
		AggregateID:    msg.AggregateID,
		EventType:      msg.EventType,
		Payload:        payload,
		PublishError:   cause.Error(),
		DLQPublishedAt: at,
	}
}

func (w *Worker) sendToDLQ(msg domain.OutboxMessage, cause error) error {
	if w.dlq == nil {
		return nil
	}
	body, err := json.Marshal(newDLQEnvelope(msg, cause, w.now()))
	if err != nil {
		return fmt.Errorf("encode dlq envelope: %w", err)
	}

	dead := msg
	dead.Payload = body
	if err := w.dlq.Publish(dead); err != nil {
		return fmt.Errorf("publish %s to dlq: %w", msg.ID, err)
	}
	w.metrics.RecordPublish(resultDLQ)
	return nil
}
