package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labmgr/labmgr/internal/models"
	testutil "github.com/labmgr/labmgr/internal/testing"
)

func TestRecordEventRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.RecordEvent(ctx, models.Event{
		Timestamp:   testutil.ParseTime(t, "2024-01-01T12:00:00Z"),
		Kind:        models.EventMachineAction,
		OperationID: "op-1",
		Agent:       "linux-01",
		Cloud:       "Build Farm",
		Machine:     "linux-vm",
		MachineID:   123567,
		Action:      "resume",
		Message:     "machine action accepted",
	})
	require.NoError(t, err)

	events, err := store.ListEventsByAgentTail(ctx, "linux-01", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	assert.NotZero(t, ev.ID)
	assert.True(t, testutil.FixedTime.Equal(ev.Timestamp))
	assert.Equal(t, models.EventMachineAction, ev.Kind)
	assert.Equal(t, "op-1", ev.OperationID)
	assert.Equal(t, "Build Farm", ev.Cloud)
	assert.Equal(t, "linux-vm", ev.Machine)
	assert.Equal(t, 123567, ev.MachineID)
	assert.Equal(t, "resume", ev.Action)
	assert.Equal(t, "machine action accepted", ev.Message)
}

func TestRecordEventMinimalFields(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	before := time.Now().Add(-time.Second)
	require.NoError(t, store.RecordEvent(ctx, models.Event{Kind: models.EventAgentReleased, Agent: "a"}))

	events, err := store.ListEventsByAgent(ctx, "a", 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Timestamp.After(before))
	assert.Empty(t, events[0].OperationID)
	assert.Zero(t, events[0].MachineID)
}

func TestRecordEventValidation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.EqualError(t, store.RecordEvent(ctx, models.Event{Agent: "a"}), "event kind is required")
	require.EqualError(t, store.RecordEvent(ctx, models.Event{Kind: models.EventLaunchStarted, Agent: " "}), "event agent is required")

	var nilStore *Store
	require.EqualError(t, nilStore.RecordEvent(ctx, models.Event{}), "db store is nil")
}

func TestListEventsByAgentTail(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	kinds := []models.EventKind{
		models.EventLaunchStarted,
		models.EventMachineAction,
		models.EventLaunchSucceeded,
		models.EventDisconnectStarted,
	}
	for i, kind := range kinds {
		require.NoError(t, store.RecordEvent(ctx, models.Event{
			Timestamp: testutil.FixedTime.Add(time.Duration(i) * time.Second),
			Kind:      kind,
			Agent:     "linux-01",
		}))
	}
	require.NoError(t, store.RecordEvent(ctx, models.Event{Kind: models.EventLaunchStarted, Agent: "other"}))

	tail, err := store.ListEventsByAgentTail(ctx, "linux-01", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, models.EventLaunchSucceeded, tail[0].Kind)
	assert.Equal(t, models.EventDisconnectStarted, tail[1].Kind)

	after, err := store.ListEventsByAgent(ctx, "linux-01", tail[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, tail[1].ID, after[0].ID)

	_, err = store.ListEventsByAgentTail(ctx, "linux-01", 0)
	assert.EqualError(t, err, "limit must be positive")
	_, err = store.ListEventsByAgentTail(ctx, "", 5)
	assert.EqualError(t, err, "agent is required")
}

func TestListEventsByOperation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordEvent(ctx, models.Event{Kind: models.EventDisconnectStarted, OperationID: "op-a", Agent: "x"}))
	require.NoError(t, store.RecordEvent(ctx, models.Event{Kind: models.EventLaunchStarted, OperationID: "op-b", Agent: "y"}))
	require.NoError(t, store.RecordEvent(ctx, models.Event{Kind: models.EventDisconnectCompleted, OperationID: "op-a", Agent: "x"}))

	events, err := store.ListEventsByOperation(ctx, "op-a")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventDisconnectStarted, events[0].Kind)
	assert.Equal(t, models.EventDisconnectCompleted, events[1].Kind)
}

func TestPruneEvents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i, offset := range []time.Duration{-72 * time.Hour, -25 * time.Hour, -time.Hour, 0} {
		require.NoError(t, store.RecordEvent(ctx, models.Event{
			Timestamp: testutil.FixedTime.Add(offset),
			Kind:      models.EventMachineAction,
			Agent:     "linux-01",
			Message:   fmt.Sprintf("event %d", i),
		}))
	}

	removed, err := store.PruneEvents(ctx, testutil.FixedTime.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	events, err := store.ListEventsByAgent(ctx, "linux-01", 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "event 2", events[0].Message)

	removed, err = store.PruneEvents(ctx, testutil.FixedTime.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, err = store.PruneEvents(ctx, time.Time{})
	assert.EqualError(t, err, "cutoff is required")
}

func TestStoredTimestampsSortAsText(t *testing.T) {
	whole := formatTime(testutil.FixedTime)
	fraction := formatTime(testutil.FixedTime.Add(500 * time.Millisecond))
	assert.Less(t, whole, fraction)
	assert.Len(t, fraction, len(whole))
}
