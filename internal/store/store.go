package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS eval_runs (
	run_id        TEXT PRIMARY KEY,
	source        TEXT,
	classes       INTEGER NOT NULL,
	samples       INTEGER NOT NULL,
	skipped       INTEGER NOT NULL,
	matrix_json   TEXT NOT NULL,
	predicted     TEXT NOT NULL,
	passed        INTEGER NOT NULL,
	reason        TEXT,
	accuracy      REAL,
	received_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	event_type    TEXT NOT NULL,
	detail        TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES eval_runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_eval_runs_received ON eval_runs(received_at);
`

// #endregion schema

// TimeLayout is the timestamp format of every stored time column. It is
// fixed-width so that stored timestamps sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #region store-struct
// Store persists evaluation runs in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection: pragmas are per connection, and ":memory:" would
	// otherwise give every pooled connection its own empty database.
	db.SetMaxOpenConns(1)
	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region save-run
// SaveRun inserts rec, assigning a RunID and ReceivedAt when unset, and
// returns the stored record.
func (s *Store) SaveRun(rec RunRecord) (RunRecord, error) {
	if rec.RunID == "" {
		rec.RunID = uuid.New().String()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}

	matrixJSON, err := json.Marshal(rec.Matrix)
	if err != nil {
		return RunRecord{}, fmt.Errorf("marshal matrix: %w", err)
	}
	predicted := rec.Predicted
	if predicted == nil {
		predicted = []int{}
	}
	predJSON, err := json.Marshal(predicted)
	if err != nil {
		return RunRecord{}, fmt.Errorf("marshal predictions: %w", err)
	}

	var accuracy interface{}
	if rec.Accuracy != nil {
		accuracy = *rec.Accuracy
	}

	_, err = s.db.Exec(
		`INSERT INTO eval_runs (run_id, source, classes, samples, skipped, matrix_json, predicted, passed, reason, accuracy, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, nullIfEmpty(rec.Source), rec.Classes, rec.Samples, rec.Skipped,
		string(matrixJSON), string(predJSON), boolToInt(rec.Passed), nullIfEmpty(rec.Reason),
		accuracy, rec.ReceivedAt.Format(TimeLayout),
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}
	return rec, nil
}

// #endregion save-run

// #region get-run
// GetRun retrieves a run by ID.
func (s *Store) GetRun(id string) (RunRecord, error) {
	row := s.db.QueryRow(
		`SELECT run_id, source, classes, samples, skipped, matrix_json, predicted, passed, reason, accuracy, received_at
		 FROM eval_runs WHERE run_id = ?`, id,
	)
	rec, err := scanRun(row)
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return rec, nil
}

// #endregion get-run

// #region list-runs
// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, source, classes, samples, skipped, matrix_json, predicted, passed, reason, accuracy, received_at
		 FROM eval_runs ORDER BY received_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// #endregion list-runs

// #region cumulative
// CumulativeMatrix sums the matrices of every stored run with the given
// class count and reports how many runs contributed.
func (s *Store) CumulativeMatrix(classes int) ([][]int, int, error) {
	rows, err := s.db.Query(`SELECT matrix_json FROM eval_runs WHERE classes = ?`, classes)
	if err != nil {
		return nil, 0, fmt.Errorf("query matrices: %w", err)
	}
	defer rows.Close()

	sum := make([][]int, classes)
	for i := range sum {
		sum[i] = make([]int, classes)
	}

	runs := 0
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, 0, fmt.Errorf("scan matrix: %w", err)
		}
		var m [][]int
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, 0, fmt.Errorf("unmarshal matrix: %w", err)
		}
		if len(m) != classes {
			return nil, 0, fmt.Errorf("stored matrix has %d rows, want %d", len(m), classes)
		}
		for i := range m {
			if len(m[i]) != classes {
				return nil, 0, fmt.Errorf("stored matrix row %d has %d columns, want %d", i, len(m[i]), classes)
			}
			for j, v := range m[i] {
				sum[i][j] += v
			}
		}
		runs++
	}
	return sum, runs, rows.Err()
}

// #endregion cumulative

// #region events
// ListEvents returns the events recorded for a run in insertion order.
func (s *Store) ListEvents(runID string) ([]RunEvent, error) {
	rows, err := s.db.Query(
		`SELECT run_id, event_type, detail, created_at FROM run_events WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var ev RunEvent
		var detail sql.NullString
		var created string
		if err := rows.Scan(&ev.RunID, &ev.EventType, &detail, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Detail = detail.String
		ev.CreatedAt, _ = time.Parse(TimeLayout, created)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// #endregion events

// #region helpers
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (RunRecord, error) {
	var rec RunRecord
	var source, reason sql.NullString
	var matrixJSON, predJSON, received string
	var passed int
	var accuracy sql.NullFloat64

	if err := sc.Scan(&rec.RunID, &source, &rec.Classes, &rec.Samples, &rec.Skipped,
		&matrixJSON, &predJSON, &passed, &reason, &accuracy, &received); err != nil {
		return RunRecord{}, err
	}
	rec.Source = source.String
	rec.Reason = reason.String
	rec.Passed = passed != 0
	if accuracy.Valid {
		v := accuracy.Float64
		rec.Accuracy = &v
	}
	if err := json.Unmarshal([]byte(matrixJSON), &rec.Matrix); err != nil {
		return RunRecord{}, fmt.Errorf("unmarshal matrix: %w", err)
	}
	if err := json.Unmarshal([]byte(predJSON), &rec.Predicted); err != nil {
		return RunRecord{}, fmt.Errorf("unmarshal predictions: %w", err)
	}
	rec.ReceivedAt, _ = time.Parse(TimeLayout, received)
	return rec, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
