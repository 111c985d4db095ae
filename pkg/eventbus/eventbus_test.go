package eventbus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/castellan/pkg/events"
	"github.com/castellan/castellan/pkg/models"
)

func newTestBus(t *testing.T) *WatermillEventBus {
	t.Helper()

	bus := NewGoChannelBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestPublishSubscribe_RoundTrip(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan events.Event, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx, func(_ context.Context, event events.Event) error {
		received <- event

		return nil
	}))

	require.NoError(t, bus.Publish(ctx, events.RunStarted{
		BaseEvent:   events.NewBaseEvent(events.RunStartedEvent, "run-1", "corr-1"),
		ActionCount: 3,
	}))
	require.NoError(t, bus.Publish(ctx, events.ActionFinished{
		BaseEvent: events.NewBaseEvent(events.ActionFinishedEvent, "run-1", "corr-1"),
		ActionID:  "a1",
		Kind:      models.KindServiceCall,
		Domain:    "light",
		Service:   "turn_on",
		State:     models.StateSuccess,
		Attempts:  1,
		Duration:  50 * time.Millisecond,
	}))
	require.NoError(t, bus.Publish(ctx, events.RunFinished{
		BaseEvent:      events.NewBaseEvent(events.RunFinishedEvent, "run-1", "corr-1"),
		OverallSuccess: true,
		ResultCount:    1,
	}))

	var got []events.Event

	for len(got) < 3 {
		select {
		case event := <-received:
			got = append(got, event)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for events, got %d of 3", len(got))
		}
	}

	started, ok := got[0].(*events.RunStarted)
	require.True(t, ok, "expected RunStarted, got %T", got[0])
	assert.Equal(t, "run-1", started.RunID)
	assert.Equal(t, 3, started.ActionCount)

	finished, ok := got[1].(*events.ActionFinished)
	require.True(t, ok, "expected ActionFinished, got %T", got[1])
	assert.Equal(t, "a1", finished.ActionID)
	assert.Equal(t, models.StateSuccess, finished.State)
	assert.Equal(t, "corr-1", finished.CorrelationID)

	runDone, ok := got[2].(*events.RunFinished)
	require.True(t, ok, "expected RunFinished, got %T", got[2])
	assert.True(t, runDone.OverallSuccess)
	assert.Equal(t, 1, runDone.ResultCount)
}
