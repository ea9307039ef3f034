package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/inference-eval/internal/store"
)

// #region helpers
func setupStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	s, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	rec, err := s.SaveRun(store.RunRecord{Classes: 1, Matrix: [][]int{{1}}, Samples: 1})
	require.NoError(t, err)
	return s, rec.RunID
}

// #endregion helpers

// #region log-event-tests
func TestLogEvent_Success(t *testing.T) {
	s, runID := setupStore(t)

	err := LogEvent(s.DB(), store.RunEvent{
		RunID:     runID,
		EventType: EventAlert,
		Detail:    "overall accuracy 0.7000 < 0.8000",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	events, err := s.ListEvents(runID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventAlert, events[0].EventType)
	assert.Equal(t, "overall accuracy 0.7000 < 0.8000", events[0].Detail)
	assert.Equal(t, 2026, events[0].CreatedAt.Year())
}

func TestLogEvent_ZeroCreatedAt(t *testing.T) {
	s, runID := setupStore(t)

	before := time.Now().UTC()
	require.NoError(t, LogEvent(s.DB(), store.RunEvent{RunID: runID, EventType: EventEvaluated}))

	events, err := s.ListEvents(runID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].CreatedAt.Before(before.Truncate(time.Microsecond)))
	assert.Empty(t, events[0].Detail)
}

func TestLogEvent_MissingFields(t *testing.T) {
	s, runID := setupStore(t)
	assert.Error(t, LogEvent(s.DB(), store.RunEvent{EventType: EventAlert}))
	assert.Error(t, LogEvent(s.DB(), store.RunEvent{RunID: runID}))
}

func TestLogEvent_ClosedDB(t *testing.T) {
	s, runID := setupStore(t)
	s.Close()
	assert.Error(t, LogEvent(s.DB(), store.RunEvent{RunID: runID, EventType: EventAlert}))
}

// #endregion log-event-tests

// #region null-if-empty-tests
func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	assert.Equal(t, "hello", nullIfEmpty("hello"))
}

// #endregion null-if-empty-tests
