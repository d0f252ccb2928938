package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch chan *CloudEvent) *CloudEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestEventBus_TypedSubscription(t *testing.T) {
	bus := NewEventBus()
	routed := bus.Subscribe(TypeClaimRouted)

	bus.Emit(TypeClaimIngested, "/pipeline/ingest", "corr-1", map[string]interface{}{"claim_id": "C1"})
	bus.Emit(TypeClaimRouted, "/pipeline/clearinghouse", "corr-1", map[string]interface{}{"payer_id": "P1"})

	ev := recv(t, routed)
	assert.Equal(t, TypeClaimRouted, ev.Type)
	assert.Equal(t, "corr-1", ev.Subject)
	assert.Equal(t, "P1", ev.PayerID, "payer_id in data should populate the envelope")

	select {
	case extra := <-routed:
		t.Fatalf("unexpected extra event: %s", extra.Type)
	default:
	}
}

func TestEventBus_AllSubscriberSeesEverything(t *testing.T) {
	bus := NewEventBus()
	all := bus.Subscribe()

	bus.Emit(TypeClaimIngested, "/pipeline/ingest", "a", nil)
	bus.Emit(TypeRemittanceIssued, "/pipeline/payer", "b", nil)

	assert.Equal(t, TypeClaimIngested, recv(t, all).Type)
	assert.Equal(t, TypeRemittanceIssued, recv(t, all).Type)
}

func TestEventBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TypeAgingAlert)
	require.Equal(t, 1, bus.SubscriberCount())

	bus.Unsubscribe(ch)
	assert.Equal(t, 0, bus.SubscriberCount())
	_, open := <-ch
	assert.False(t, open)
}

func TestEventBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewEventBus()
	bus.bufferSize = 1
	ch := bus.Subscribe(TypeClaimBilled)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Emit(TypeClaimBilled, "/pipeline/billing", "x", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	<-ch // at least one delivered
}

func TestCloudEvent_JSONRoundTrip(t *testing.T) {
	ev := NewCloudEvent(TypeRemittanceIssued, "/pipeline/payer", "corr-9",
		map[string]interface{}{"payer_id": "MEDICARE", "status": "APPROVED"})
	raw, err := ev.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"specversion":"1.0"`)
	assert.Contains(t, string(raw), `"payerid":"MEDICARE"`)
}
