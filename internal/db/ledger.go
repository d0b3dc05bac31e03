package db

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/gazelab/eyewindow/internal/features"
)

// Run is one invocation of the aggregation pipeline.
type Run struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     time.Time // zero while the run is in progress
	Version        string
	Config         string
	ProbandsFailed int
}

// ProbandResult is the ledger entry of one proband and window width.
type ProbandResult struct {
	RunID   string
	Proband string
	Width   time.Duration
	Windows int
	// FailedWindows counts windows whose extraction failed and are missing
	// from the table.
	FailedWindows int
	Cached        bool
	Err           string
	Duration      time.Duration
}

// StartRun inserts a new run and returns its id. config is the effective
// configuration, stored verbatim.
func (db *DB) StartRun(startedAt time.Time, version, config string) (string, error) {
	id := uuid.New().String()
	_, err := db.Exec(
		`INSERT INTO aggregation_runs (run_id, started_at, version, config) VALUES (?, ?, ?, ?)`,
		id, startedAt.UnixNano(), version, config,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun marks a run as finished.
func (db *DB) FinishRun(id string, finishedAt time.Time, probandsFailed int) error {
	res, err := db.Exec(
		`UPDATE aggregation_runs SET finished_at = ?, probands_failed = ? WHERE run_id = ?`,
		finishedAt.UnixNano(), probandsFailed, id,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// GetRun returns the run with the given id.
func (db *DB) GetRun(id string) (*Run, error) {
	var (
		r          Run
		started    int64
		finished   sql.NullInt64
		failedRows int
	)
	err := db.QueryRow(
		`SELECT run_id, started_at, finished_at, version, config, probands_failed
		 FROM aggregation_runs WHERE run_id = ?`, id,
	).Scan(&r.ID, &started, &finished, &r.Version, &r.Config, &failedRows)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	r.StartedAt = time.Unix(0, started).UTC()
	if finished.Valid {
		r.FinishedAt = time.Unix(0, finished.Int64).UTC()
	}
	r.ProbandsFailed = failedRows
	return &r, nil
}

// RecordProbandResult stores the outcome of one proband and width.
func (db *DB) RecordProbandResult(r ProbandResult) error {
	var errText sql.NullString
	if r.Err != "" {
		errText = sql.NullString{String: r.Err, Valid: true}
	}
	_, err := db.Exec(
		`INSERT OR REPLACE INTO proband_results
		 (run_id, proband, width_seconds, windows, failed_windows, cached, error, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Proband, r.Width.Seconds(), r.Windows, r.FailedWindows, r.Cached, errText, r.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record result of proband %s: %w", r.Proband, err)
	}
	return nil
}

// ProbandResults lists the results of a run ordered by width and proband.
func (db *DB) ProbandResults(runID string) ([]ProbandResult, error) {
	rows, err := db.Query(
		`SELECT proband, width_seconds, windows, failed_windows, cached, error, duration_ms
		 FROM proband_results WHERE run_id = ?
		 ORDER BY width_seconds, proband`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query results of run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []ProbandResult
	for rows.Next() {
		var (
			r          ProbandResult
			width      float64
			errText    sql.NullString
			durationMS int64
		)
		if err := rows.Scan(&r.Proband, &width, &r.Windows, &r.FailedWindows, &r.Cached, &errText, &durationMS); err != nil {
			return nil, err
		}
		r.RunID = runID
		r.Width = time.Duration(math.Round(width * float64(time.Second)))
		r.Err = errText.String
		r.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceCorpus stores t as the corpus of its width in long format, one
// row per window and feature, replacing any earlier corpus of that width.
// NaN values are stored as NULL.
func (db *DB) ReplaceCorpus(t *features.Table) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	width := t.Width.Seconds()
	if _, err := tx.Exec(`DELETE FROM window_features WHERE width_seconds = ?`, width); err != nil {
		return fmt.Errorf("clear corpus: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO window_features (width_seconds, proband, start_unix_nanos, feature, value)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range t.Records {
		proband := r.Proband
		if proband == "" {
			proband = t.Proband
		}
		start := r.Start.UnixNano()
		for _, k := range r.Keys() {
			var value sql.NullFloat64
			if v := r.Values[k]; !math.IsNaN(v) {
				value = sql.NullFloat64{Float64: v, Valid: true}
			}
			if _, err := stmt.Exec(width, proband, start, k, value); err != nil {
				return fmt.Errorf("insert %s of proband %s: %w", k, proband, err)
			}
		}
	}
	return tx.Commit()
}

// Corpus reads the stored corpus of a width back into a table sorted by
// start, then proband. NULL values come back as NaN.
func (db *DB) Corpus(width time.Duration) (*features.Table, error) {
	rows, err := db.Query(
		`SELECT proband, start_unix_nanos, feature, value FROM window_features
		 WHERE width_seconds = ?
		 ORDER BY start_unix_nanos, proband, feature`, width.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("query corpus: %w", err)
	}
	defer rows.Close()

	t := &features.Table{Width: width}
	for rows.Next() {
		var (
			proband string
			start   int64
			feature string
			value   sql.NullFloat64
		)
		if err := rows.Scan(&proband, &start, &feature, &value); err != nil {
			return nil, err
		}
		n := len(t.Records)
		if n == 0 || t.Records[n-1].Proband != proband || t.Records[n-1].Start.UnixNano() != start {
			r := features.NewRecord(time.Unix(0, start).UTC())
			r.Proband = proband
			t.Records = append(t.Records, r)
			n++
		}
		v := math.NaN()
		if value.Valid {
			v = value.Float64
		}
		t.Records[n-1].Values[feature] = v
	}
	return t, rows.Err()
}
