package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

type recordingWebhookHandler struct {
	err        error
	payloads   []string
	signatures []string
}

func (h *recordingWebhookHandler) HandleWebhook(_ context.Context, payload []byte, signature string) error {
	h.payloads = append(h.payloads, string(payload))
	h.signatures = append(h.signatures, signature)
	return h.err
}

func paymentMessage(signature string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic: TopicPaymentEvents,
		Value: []byte(`{"type":"payment_intent.succeeded"}`),
		Headers: []*sarama.RecordHeader{
			{Key: []byte("content-type"), Value: []byte("application/json")},
			{Key: []byte(HeaderSignature), Value: []byte(signature)},
		},
	}
}

func TestWebhookRelay_PassesPayloadAndSignature(t *testing.T) {
	handler := &recordingWebhookHandler{}
	relay := NewWebhookRelay(handler, testLogger())

	require.NoError(t, relay(context.Background(), paymentMessage("t=1,v1=abc")))
	require.Equal(t, []string{`{"type":"payment_intent.succeeded"}`}, handler.payloads)
	require.Equal(t, []string{"t=1,v1=abc"}, handler.signatures)
}

func TestWebhookRelay_DropsUnverifiableEvents(t *testing.T) {
	for _, err := range []error{
		domain.ErrInvalidSignature,
		fmt.Errorf("%w: malformed event", domain.ErrInvalidArgument),
	} {
		relay := NewWebhookRelay(&recordingWebhookHandler{err: err}, nil)
		require.NoError(t, relay(context.Background(), paymentMessage("bad")))
	}
}

func TestWebhookRelay_ReturnsProcessingErrors(t *testing.T) {
	boom := errors.New("store unavailable")
	relay := NewWebhookRelay(&recordingWebhookHandler{err: boom}, testLogger())

	require.ErrorIs(t, relay(context.Background(), paymentMessage("sig")), boom)
}

func TestWebhookRelay_MissingSignatureHeader(t *testing.T) {
	handler := &recordingWebhookHandler{}
	relay := NewWebhookRelay(handler, testLogger())

	require.NoError(t, relay(context.Background(), &sarama.ConsumerMessage{Value: []byte("{}")}))
	require.Equal(t, []string{""}, handler.signatures)
}
