package store

import "time"

// #region run-record
// RunRecord is one evaluated prediction batch as persisted.
type RunRecord struct {
	RunID      string
	Source     string // remote address or file the batch came from
	Classes    int
	Samples    int // counted samples, N
	Skipped    int
	Matrix     [][]int
	Predicted  []int
	Passed     bool
	Reason     string
	Accuracy   *float64 // nil when undefined
	ReceivedAt time.Time
}

// #endregion run-record

// #region run-event
// RunEvent is an entry in the run_events log: alerts, skipped samples and
// other decisions taken while evaluating a run.
type RunEvent struct {
	RunID     string
	EventType string // "alert" | "skipped_labels" | "evaluated"
	Detail    string
	CreatedAt time.Time
}

// #endregion run-event
