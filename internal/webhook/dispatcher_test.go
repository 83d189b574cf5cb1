package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type failingDeduper struct{}

func (failingDeduper) MarkSeen(context.Context, string) (bool, error) {
	return false, errors.New("store unavailable")
}

func TestMemoryDeduper(t *testing.T) {
	d := NewMemoryDeduper(time.Hour)
	ctx := context.Background()

	first, err := d.MarkSeen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = d.MarkSeen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, first)

	first, err = d.MarkSeen(ctx, "evt_2")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestMemoryDeduper_Expiry(t *testing.T) {
	d := NewMemoryDeduper(time.Minute)
	now := time.Now()
	d.now = func() time.Time { return now }

	first, _ := d.MarkSeen(context.Background(), "evt_1")
	require.True(t, first)

	now = now.Add(2 * time.Minute)
	first, _ = d.MarkSeen(context.Background(), "evt_1")
	assert.True(t, first, "expired entries are forgotten")
}

func TestDispatcher_RoutesToHandler(t *testing.T) {
	d := NewDispatcher(NewMemoryDeduper(time.Hour), testLogger())

	var got Event
	d.Register("stripe", "payment_intent.succeeded", func(_ context.Context, evt Event) error {
		got = evt
		return nil
	})

	d.Dispatch(context.Background(), Event{
		ID:     "evt_1",
		Vendor: "stripe",
		Type:   "payment_intent.succeeded",
		Raw:    json.RawMessage(`{"id":"evt_1"}`),
	})

	assert.Equal(t, "evt_1", got.ID)
	assert.Equal(t, "payment_intent.succeeded", got.Type)
}

func TestDispatcher_SkipsDuplicates(t *testing.T) {
	d := NewDispatcher(NewMemoryDeduper(time.Hour), testLogger())

	var calls atomic.Int32
	d.Register("stripe", "payment_intent.succeeded", func(context.Context, Event) error {
		calls.Add(1)
		return nil
	})

	evt := Event{ID: "evt_1", Vendor: "stripe", Type: "payment_intent.succeeded"}
	d.Dispatch(context.Background(), evt)
	d.Dispatch(context.Background(), evt)

	assert.Equal(t, int32(1), calls.Load())
}

func TestDispatcher_ProcessesDespiteDedupeFailure(t *testing.T) {
	d := NewDispatcher(failingDeduper{}, testLogger())

	var calls atomic.Int32
	d.Register("stripe", "payment_intent.succeeded", func(context.Context, Event) error {
		calls.Add(1)
		return nil
	})

	d.Dispatch(context.Background(), Event{ID: "evt_1", Vendor: "stripe", Type: "payment_intent.succeeded"})

	assert.Equal(t, int32(1), calls.Load(), "dedupe store errors must not drop events")
}

func TestDispatcher_UnknownTypeIgnored(t *testing.T) {
	d := NewDispatcher(NewMemoryDeduper(time.Hour), testLogger())

	// No handler registered; Dispatch must not panic and must not error out.
	d.Dispatch(context.Background(), Event{ID: "evt_1", Vendor: "stripe", Type: "charge.refunded"})
}

func TestDispatcher_HandlerErrorSwallowed(t *testing.T) {
	d := NewDispatcher(NewMemoryDeduper(time.Hour), testLogger())

	d.Register("zoho", "invoice.paid", func(context.Context, Event) error {
		return errors.New("downstream unavailable")
	})

	// Processing failures are logged, never surfaced: the sender gets 200.
	d.Dispatch(context.Background(), Event{ID: "zev_1", Vendor: "zoho", Type: "invoice.paid"})
}

func TestParseEvent_Stripe(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)

	evt, err := ParseEvent("stripe", body)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", evt.ID)
	assert.Equal(t, "payment_intent.succeeded", evt.Type)
	assert.Equal(t, "stripe", evt.Vendor)
	assert.JSONEq(t, string(body), string(evt.Raw))
	assert.JSONEq(t, `{"id":"pi_1"}`, string(evt.Data), "Data is the unwrapped object, not the envelope")
}

func TestParseEvent_Zoho(t *testing.T) {
	evt, err := ParseEvent("zoho", []byte(`{"event_id":"zev_9","event_type":"salesorder.created","data":{"salesorder_id":"so-9"}}`))
	require.NoError(t, err)
	assert.Equal(t, "zev_9", evt.ID)
	assert.Equal(t, "salesorder.created", evt.Type)
	assert.JSONEq(t, `{"salesorder_id":"so-9"}`, string(evt.Data))
}

func TestParseEvent_Errors(t *testing.T) {
	_, err := ParseEvent("shopify", []byte(`{}`))
	assert.ErrorContains(t, err, "unknown webhook vendor")

	_, err = ParseEvent("stripe", []byte(`not json`))
	assert.Error(t, err)

	_, err = ParseEvent("zoho", []byte(`{"event_id":"zev_1"}`))
	assert.ErrorContains(t, err, "no type")
}
