package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/payment-reconciler/internal/event"
	"github.com/jnst/payment-reconciler/internal/model"
)

type stubIPNVerifier struct {
	err    error
	bodies [][]byte
}

func (v *stubIPNVerifier) VerifyIPN(_ context.Context, body []byte) error {
	v.bodies = append(v.bodies, body)

	return v.err
}

type recordingDispatcher struct {
	classifications []model.EventClassification
	err             error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, c model.EventClassification) error {
	d.classifications = append(d.classifications, c)

	return d.err
}

func (*recordingDispatcher) RunDelayed(context.Context, *model.DelayedJob) error {
	return nil
}

func newTestWebhookService(ipn *stubIPNVerifier, dispatcher *recordingDispatcher) WebhookService {
	verifier := NewVerificationServiceImpl(ipn, "acct_platform", discardLogger())
	svc := NewWebhookServiceImpl(verifier, event.NewDefaultRouter(), dispatcher, discardLogger()).(*WebhookServiceImpl)
	svc.now = fixedNow

	return svc
}

func stripePayload(eventType, account string) *model.InboundPayload {
	raw := map[string]any{
		"id":   "evt_1",
		"type": eventType,
		"data": map[string]any{"object": map[string]any{"id": "ch_1", "object": "charge"}},
	}
	if account != "" {
		raw["account"] = account
	}

	return &model.InboundPayload{Processor: model.ProcessorStripe, Raw: raw}
}

func TestVerificationService_Verify(t *testing.T) {
	t.Run("stripe connected account", func(t *testing.T) {
		svc := NewVerificationServiceImpl(&stubIPNVerifier{}, "acct_platform", discardLogger())

		v, err := svc.Verify(context.Background(), stripePayload("charge.succeeded", "acct_seller"))

		require.NoError(t, err)
		assert.Equal(t, "acct_seller", v.AccountScope)
		assert.True(t, v.Connected)
	})

	t.Run("stripe platform account", func(t *testing.T) {
		svc := NewVerificationServiceImpl(&stubIPNVerifier{}, "acct_platform", discardLogger())

		v, err := svc.Verify(context.Background(), stripePayload("charge.succeeded", "acct_platform"))

		require.NoError(t, err)
		assert.False(t, v.Connected)
	})

	t.Run("ipn body is echoed to the verifier", func(t *testing.T) {
		ipn := &stubIPNVerifier{}
		svc := NewVerificationServiceImpl(ipn, "", discardLogger())
		body := []byte("txn_id=T1&payment_status=Completed&receiver_id=MERCH1")

		v, err := svc.Verify(context.Background(), &model.InboundPayload{
			Processor: model.ProcessorPayPal,
			Body:      body,
			Raw:       map[string]any{"txn_id": "T1", "payment_status": "Completed", "receiver_id": "MERCH1"},
			IPN:       true,
		})

		require.NoError(t, err)
		assert.Equal(t, [][]byte{body}, ipn.bodies)
		assert.Equal(t, "MERCH1", v.AccountScope)
	})

	t.Run("ipn rejection is a verification failure", func(t *testing.T) {
		svc := NewVerificationServiceImpl(&stubIPNVerifier{err: errors.New("INVALID")}, "", discardLogger())

		_, err := svc.Verify(context.Background(), &model.InboundPayload{Processor: model.ProcessorPayPal, Raw: map[string]any{}, IPN: true})

		require.ErrorIs(t, err, model.ErrVerificationFailed)
	})

	t.Run("json legacy message is verified by shape", func(t *testing.T) {
		ipn := &stubIPNVerifier{err: errors.New("INVALID")}
		svc := NewVerificationServiceImpl(ipn, "", discardLogger())
		body := []byte(`{"txn_type":"masspay","unique_id_1":"PO-1","status_1":"Completed"}`)

		_, err := svc.Verify(context.Background(), &model.InboundPayload{
			Processor: model.ProcessorPayPal,
			Body:      body,
			Raw:       map[string]any{"txn_type": "masspay", "unique_id_1": "PO-1", "status_1": "Completed"},
		})

		require.ErrorIs(t, err, model.ErrVerificationFailed)
		assert.Equal(t, [][]byte{body}, ipn.bodies)
	})

	t.Run("rest webhooks skip the ipn round trip", func(t *testing.T) {
		ipn := &stubIPNVerifier{}
		svc := NewVerificationServiceImpl(ipn, "", discardLogger())

		_, err := svc.Verify(context.Background(), &model.InboundPayload{
			Processor: model.ProcessorPayPal,
			Raw:       map[string]any{"event_type": "PAYMENT.CAPTURE.COMPLETED"},
		})

		require.NoError(t, err)
		assert.Empty(t, ipn.bodies)
	})
}

func TestWebhookService_Handle(t *testing.T) {
	t.Run("stripe charge event is handled inline", func(t *testing.T) {
		dispatcher := &recordingDispatcher{}
		svc := newTestWebhookService(&stubIPNVerifier{}, dispatcher)

		outcome, err := svc.Handle(context.Background(), stripePayload("charge.succeeded", "acct_seller"))

		require.NoError(t, err)
		assert.Equal(t, model.OutcomeHandled, outcome)
		require.Len(t, dispatcher.classifications, 1)
		c := dispatcher.classifications[0]
		assert.Equal(t, model.DestinationCharge, c.Destination)
		assert.True(t, c.Connected)
		assert.Equal(t, "ch_1", c.Event.ResourceID(model.ResourceCharge))
		assert.Equal(t, testNow, c.Event.ReceivedAt)
	})

	t.Run("unrouted stripe event is discarded", func(t *testing.T) {
		svc := newTestWebhookService(&stubIPNVerifier{}, &recordingDispatcher{})

		outcome, err := svc.Handle(context.Background(), stripePayload("customer.created", ""))

		require.NoError(t, err)
		assert.Equal(t, model.OutcomeDiscarded, outcome)
	})

	t.Run("legacy ipn is scheduled", func(t *testing.T) {
		dispatcher := &recordingDispatcher{}
		svc := newTestWebhookService(&stubIPNVerifier{}, dispatcher)

		outcome, err := svc.Handle(context.Background(), &model.InboundPayload{
			Processor: model.ProcessorPayPal,
			Body:      []byte("txn_type=web_accept&txn_id=T1&payment_status=Completed"),
			Raw:       map[string]any{"txn_type": "web_accept", "txn_id": "T1", "payment_status": "Completed"},
			IPN:       true,
		})

		require.NoError(t, err)
		assert.Equal(t, model.OutcomeScheduled, outcome)
		assert.Equal(t, event.LegacyDispatchDelay, dispatcher.classifications[0].Delay)
	})

	t.Run("unverified ipn is dropped quietly", func(t *testing.T) {
		dispatcher := &recordingDispatcher{}
		svc := newTestWebhookService(&stubIPNVerifier{err: errors.New("INVALID")}, dispatcher)

		outcome, err := svc.Handle(context.Background(), &model.InboundPayload{
			Processor: model.ProcessorPayPal,
			Raw:       map[string]any{"txn_id": "T1"},
			IPN:       true,
		})

		require.NoError(t, err)
		assert.Equal(t, model.OutcomeDropped, outcome)
		assert.Empty(t, dispatcher.classifications)
	})

	t.Run("json legacy masspay failing verification never reaches dispatch", func(t *testing.T) {
		ipn := &stubIPNVerifier{err: errors.New("INVALID")}
		dispatcher := &recordingDispatcher{}
		svc := newTestWebhookService(ipn, dispatcher)
		body := []byte(`{"txn_type":"masspay","unique_id_1":"PO-1","status_1":"Completed"}`)
		raw, isIPN, err := event.DecodePayPal(body, "application/json")
		require.NoError(t, err)

		outcome, err := svc.Handle(context.Background(), &model.InboundPayload{
			Processor: model.ProcessorPayPal,
			Body:      body,
			Raw:       raw,
			IPN:       isIPN,
		})

		require.NoError(t, err)
		assert.Equal(t, model.OutcomeDropped, outcome)
		assert.Len(t, ipn.bodies, 1)
		assert.Empty(t, dispatcher.classifications)
	})

	t.Run("ipn transport timeout is dropped", func(t *testing.T) {
		ipn := &stubIPNVerifier{err: &model.ProcessorError{
			Kind:      model.ErrorKindVerificationFailed,
			Processor: model.ProcessorPayPal,
			Message:   "IPN verification transport failure",
			Err:       context.DeadlineExceeded,
		}}
		dispatcher := &recordingDispatcher{}
		svc := newTestWebhookService(ipn, dispatcher)

		outcome, err := svc.Handle(context.Background(), &model.InboundPayload{
			Processor: model.ProcessorPayPal,
			Body:      []byte("txn_type=web_accept&txn_id=T1&payment_status=Completed"),
			Raw:       map[string]any{"txn_type": "web_accept", "txn_id": "T1", "payment_status": "Completed"},
			IPN:       true,
		})

		require.NoError(t, err)
		assert.Equal(t, model.OutcomeDropped, outcome)
		assert.Empty(t, dispatcher.classifications)
	})

	t.Run("malformed payload is reported", func(t *testing.T) {
		svc := newTestWebhookService(&stubIPNVerifier{}, &recordingDispatcher{})

		_, err := svc.Handle(context.Background(), &model.InboundPayload{Processor: model.ProcessorStripe, Raw: map[string]any{"id": "evt_1"}})

		require.ErrorIs(t, err, model.ErrMalformedEvent)
	})

	t.Run("handler failure is returned for redelivery", func(t *testing.T) {
		boom := fmt.Errorf("charge handler failed: %w", errors.New("db down"))
		svc := newTestWebhookService(&stubIPNVerifier{}, &recordingDispatcher{err: boom})

		_, err := svc.Handle(context.Background(), stripePayload("charge.succeeded", ""))

		require.ErrorIs(t, err, boom)
	})
}
