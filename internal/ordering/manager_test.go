package ordering

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawrns/camp-sub015/internal/domain"
)

var base = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func event(id string, offsetSec int) domain.Event {
	return domain.Event{
		ID:        id,
		Channel:   "conv-1",
		Type:      domain.EventAssignmentUpdated,
		Timestamp: base.Add(time.Duration(offsetSec) * time.Second),
	}
}

func collect(ids *[]string) Handler {
	return func(_ context.Context, ev domain.Event) error {
		*ids = append(*ids, ev.ID)
		return nil
	}
}

func TestFlush_ReordersByTimestamp(t *testing.T) {
	m := NewManager()
	now := base.Add(10 * time.Second)

	// Arrival order 3, 1, 2.
	require.NoError(t, m.ProcessEvent(now, event("ev-3", 3)))
	require.NoError(t, m.ProcessEvent(now, event("ev-1", 1)))
	require.NoError(t, m.ProcessEvent(now, event("ev-2", 2)))

	var ids []string
	require.NoError(t, m.Flush(context.Background(), "conv-1", collect(&ids)))
	assert.Equal(t, []string{"ev-1", "ev-2", "ev-3"}, ids)
}

func TestProcessEvent_DeliveredIDNeverRedelivered(t *testing.T) {
	m := NewManager()
	now := base.Add(10 * time.Second)

	require.NoError(t, m.ProcessEvent(now, event("ev-1", 1)))
	var ids []string
	require.NoError(t, m.Flush(context.Background(), "conv-1", collect(&ids)))
	require.Equal(t, []string{"ev-1"}, ids)

	// The at-least-once source re-submits the same event.
	require.NoError(t, m.ProcessEvent(now, event("ev-1", 1)))
	require.NoError(t, m.Flush(context.Background(), "conv-1", collect(&ids)))
	assert.Equal(t, []string{"ev-1"}, ids, "a delivered ID must be suppressed")
}

func TestProcessEvent_DuplicateBufferedIDDropped(t *testing.T) {
	m := NewManager()
	now := base.Add(10 * time.Second)

	require.NoError(t, m.ProcessEvent(now, event("ev-1", 1)))
	require.NoError(t, m.ProcessEvent(now, event("ev-1", 1)))
	assert.Equal(t, 1, m.Buffered("conv-1"))
}

func TestProcessEvent_StaleEventEvicted(t *testing.T) {
	m := NewManager(WithMaxAge(time.Minute))
	now := base.Add(10 * time.Minute)

	require.NoError(t, m.ProcessEvent(now, event("ev-old", 0)))
	assert.Equal(t, 0, m.Buffered("conv-1"), "events past the age window are dropped on ingest")
}

func TestProcessEvent_BufferCapEvictsOldestFirst(t *testing.T) {
	m := NewManager(WithMaxBuffer(3))
	now := base.Add(10 * time.Second)

	for i := 1; i <= 5; i++ {
		require.NoError(t, m.ProcessEvent(now, event(fmt.Sprintf("ev-%d", i), i)))
	}
	require.Equal(t, 3, m.Buffered("conv-1"))

	var ids []string
	require.NoError(t, m.Flush(context.Background(), "conv-1", collect(&ids)))
	assert.Equal(t, []string{"ev-3", "ev-4", "ev-5"}, ids, "oldest must be evicted first")
}

func TestFlushDue_HonoursHoldback(t *testing.T) {
	m := NewManager(WithHoldback(5 * time.Second))

	now := base.Add(6 * time.Second)
	require.NoError(t, m.ProcessEvent(now, event("ev-due", 1)))    // 5s old: due
	require.NoError(t, m.ProcessEvent(now, event("ev-young", 4))) // 2s old: held

	var ids []string
	require.NoError(t, m.FlushDue(context.Background(), now, "conv-1", collect(&ids)))
	assert.Equal(t, []string{"ev-due"}, ids)
	assert.Equal(t, 1, m.Buffered("conv-1"))

	later := now.Add(5 * time.Second)
	require.NoError(t, m.FlushDue(context.Background(), later, "conv-1", collect(&ids)))
	assert.Equal(t, []string{"ev-due", "ev-young"}, ids)
}

func TestFlush_HandlerErrorKeepsEventBuffered(t *testing.T) {
	m := NewManager()
	now := base.Add(10 * time.Second)
	require.NoError(t, m.ProcessEvent(now, event("ev-1", 1)))
	require.NoError(t, m.ProcessEvent(now, event("ev-2", 2)))

	sentinel := errors.New("handler down")
	err := m.Flush(context.Background(), "conv-1", func(_ context.Context, ev domain.Event) error {
		if ev.ID == "ev-1" {
			return sentinel
		}
		return nil
	})
	assert.Equal(t, sentinel, err, "handler errors propagate unchanged")
	assert.Equal(t, 2, m.Buffered("conv-1"), "nothing delivered past the failure")

	// Next flush retries from the failed event.
	var ids []string
	require.NoError(t, m.Flush(context.Background(), "conv-1", collect(&ids)))
	assert.Equal(t, []string{"ev-1", "ev-2"}, ids)
}

func TestFlush_IngestDuringDeliverySettlesEachIDOnce(t *testing.T) {
	m := NewManager()
	now := base.Add(10 * time.Second)
	require.NoError(t, m.ProcessEvent(now, event("ev-late", 3)))

	// An earlier-timestamped straggler arrives while ev-late is mid-delivery,
	// re-sorting it off the head of the buffer.
	var ids []string
	err := m.Flush(context.Background(), "conv-1", func(_ context.Context, ev domain.Event) error {
		if ev.ID == "ev-late" {
			require.NoError(t, m.ProcessEvent(now, event("ev-early", 1)))
		}
		ids = append(ids, ev.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ev-late", "ev-early"}, ids, "an in-flight event settles exactly once")
	assert.Equal(t, 0, m.Buffered("conv-1"))
}

func TestChannels_Independent(t *testing.T) {
	m := NewManager()
	now := base.Add(10 * time.Second)

	evA := event("ev-a", 1)
	evB := event("ev-b", 2)
	evB.Channel = "conv-2"
	require.NoError(t, m.ProcessEvent(now, evA))
	require.NoError(t, m.ProcessEvent(now, evB))

	var ids []string
	require.NoError(t, m.Flush(context.Background(), "conv-2", collect(&ids)))
	assert.Equal(t, []string{"ev-b"}, ids, "flushing one channel must not touch another")
	assert.Equal(t, 1, m.Buffered("conv-1"))
}

func TestProcessEvent_RejectsMalformedEnvelope(t *testing.T) {
	m := NewManager()
	err := m.ProcessEvent(time.Now(), domain.Event{Channel: "conv-1", Timestamp: time.Now()})
	require.Error(t, err)
	var vErr *domain.ValidationError
	assert.ErrorAs(t, err, &vErr)
}
