package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

func TestMarkPaidIsIdempotent(t *testing.T) {
	order := makeOrder()
	now := time.Now().UTC()

	require.Equal(t, domain.PaymentUpdateApplied, order.MarkPaid("ch_1", order.TotalMinor, now))
	first := order

	require.Equal(t, domain.PaymentUpdateDuplicate, order.MarkPaid("ch_1", order.TotalMinor, now.Add(time.Minute)))
	assert.Equal(t, first, order)
}

func TestMarkPaidKeepsFirstTransaction(t *testing.T) {
	order := makeOrder()
	order.MarkPaid("ch_1", 100, time.Now())

	assert.Equal(t, domain.PaymentUpdateConflict, order.MarkPaid("ch_2", 100, time.Now()))
	assert.Equal(t, "ch_1", order.TransactionID)
	require.NotNil(t, order.PaymentAmountMinor)
	assert.EqualValues(t, 100, *order.PaymentAmountMinor)
}

func TestMarkPaidDoesNotOverrideRefund(t *testing.T) {
	order := makeOrder()
	order.PaymentStatus = domain.PaymentStatusRefunded

	assert.Equal(t, domain.PaymentUpdateIgnored, order.MarkPaid("ch_1", 100, time.Now()))
	assert.Equal(t, domain.PaymentStatusRefunded, order.PaymentStatus)
	assert.Empty(t, order.TransactionID)
}

func TestMarkPaidAfterFailure(t *testing.T) {
	order := makeOrder()
	require.Equal(t, domain.PaymentUpdateApplied, order.MarkPaymentFailed(time.Now()))
	require.Equal(t, domain.PaymentUpdateApplied, order.MarkPaid("ch_9", 10, time.Now()))
	assert.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
}

func TestMarkPaymentFailed(t *testing.T) {
	order := makeOrder()
	assert.Equal(t, domain.PaymentUpdateApplied, order.MarkPaymentFailed(time.Now()))
	assert.Equal(t, domain.PaymentUpdateDuplicate, order.MarkPaymentFailed(time.Now()))

	order = makeOrder()
	order.MarkPaid("ch_1", 1, time.Now())
	assert.Equal(t, domain.PaymentUpdateIgnored, order.MarkPaymentFailed(time.Now()))
	assert.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
}

func TestAttachIntent(t *testing.T) {
	order := makeOrder()
	order.AttachIntent("pi_1", time.Now())
	assert.Equal(t, "pi_1", order.PaymentIntentID)
	assert.Equal(t, domain.PaymentMethodCard, order.PaymentMethod)
}
