package logging

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/danielpatrickdp/inference-eval/internal/store"
)

// Event types written to run_events.
const (
	EventEvaluated     = "evaluated"
	EventAlert         = "alert"
	EventSkippedLabels = "skipped_labels"
)

// #region log-event
// LogEvent writes a run event to the run_events table.
func LogEvent(db *sql.DB, ev store.RunEvent) error {
	if ev.RunID == "" || ev.EventType == "" {
		return fmt.Errorf("log event: run id and event type are required")
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO run_events (run_id, event_type, detail, created_at)
		 VALUES (?, ?, ?, ?)`,
		ev.RunID,
		ev.EventType,
		nullIfEmpty(ev.Detail),
		ev.CreatedAt.Format(store.TimeLayout),
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// #endregion log-event

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
