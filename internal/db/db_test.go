package db

import (
	"database/sql"
	"errors"
	"log"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gazelab/eyewindow/internal/channels"
	"github.com/gazelab/eyewindow/internal/features"
	"github.com/gazelab/eyewindow/internal/monitoring"
)

var base = time.Date(2023, 5, 4, 10, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })

	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB_Migrates(t *testing.T) {
	db := setupTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(3), version)
	assert.False(t, dirty)

	for _, table := range []string{"aggregation_runs", "proband_results", "window_features"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		assert.NoError(t, err, table)
	}

	// migrating again is a no-op
	require.NoError(t, db.MigrateUp())
}

func TestMigrateDown(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.MigrateDown())
	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	_, err = db.Exec(`SELECT failed_windows FROM proband_results`)
	assert.Error(t, err)

	require.NoError(t, db.MigrateDown())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='window_features'`).Scan(&name)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestOpenDB_Fresh(t *testing.T) {
	db, err := OpenDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)
}

func TestRunLedger(t *testing.T) {
	db := setupTestDB(t)

	id, err := db.StartRun(base, "dev", `{"window_widths":[10]}`)
	require.NoError(t, err)
	assert.Len(t, id, 36)

	run, err := db.GetRun(id)
	require.NoError(t, err)
	assert.True(t, run.StartedAt.Equal(base))
	assert.True(t, run.FinishedAt.IsZero())
	assert.Equal(t, "dev", run.Version)

	results := []ProbandResult{
		{RunID: id, Proband: "002", Width: 10 * time.Second, Windows: 51, FailedWindows: 2, Duration: 1500 * time.Millisecond},
		{RunID: id, Proband: "001", Width: 10 * time.Second, Windows: 60, Cached: true},
		{RunID: id, Proband: "003", Width: 10 * time.Second, Err: "read raw series: no such file"},
	}
	for _, r := range results {
		require.NoError(t, db.RecordProbandResult(r))
	}

	got, err := db.ProbandResults(id)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, results[1], got[0])
	assert.Equal(t, results[0], got[1])
	assert.Equal(t, "read raw series: no such file", got[2].Err)

	require.NoError(t, db.FinishRun(id, base.Add(time.Minute), 1))
	run, err = db.GetRun(id)
	require.NoError(t, err)
	assert.True(t, run.FinishedAt.Equal(base.Add(time.Minute)))
	assert.Equal(t, 1, run.ProbandsFailed)
}

func TestFinishRun_Unknown(t *testing.T) {
	db := setupTestDB(t)
	err := db.FinishRun("missing", base, 0)
	assert.True(t, errors.Is(err, sql.ErrNoRows))

	_, err = db.GetRun("missing")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestRecordProbandResult_UnknownRun(t *testing.T) {
	db := setupTestDB(t)
	err := db.RecordProbandResult(ProbandResult{RunID: "missing", Proband: "001", Width: time.Second})
	assert.Error(t, err)
}

func corpusTable(width time.Duration) *features.Table {
	r0 := features.NewRecord(base)
	r0.Proband = "002"
	r0.Values[channels.KeyNumSamples] = 500
	r0.Values[channels.KeyBAC] = math.NaN()

	r1 := features.NewRecord(base)
	r1.Proband = "001"
	r1.Values[channels.KeyNumSamples] = 499

	r2 := features.NewRecord(base.Add(time.Second))
	r2.Proband = "001"
	r2.Values["gaze+x++mean"] = 0.5

	return &features.Table{Width: width, Records: []features.Record{r0, r1, r2}}
}

func TestReplaceCorpus(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.ReplaceCorpus(corpusTable(10*time.Second)))
	require.NoError(t, db.ReplaceCorpus(corpusTable(30*time.Second)))

	got, err := db.Corpus(10 * time.Second)
	require.NoError(t, err)
	require.Equal(t, 3, got.Len())
	assert.Equal(t, "001", got.Records[0].Proband)
	assert.Equal(t, "002", got.Records[1].Proband)
	assert.True(t, got.Records[2].Start.Equal(base.Add(time.Second)))
	assert.Equal(t, 499.0, got.Records[0].Values[channels.KeyNumSamples])
	assert.True(t, math.IsNaN(got.Records[1].Values[channels.KeyBAC]))
	assert.Equal(t, 0.5, got.Records[2].Values["gaze+x++mean"])

	// replacing a width drops its previous rows only
	smaller := corpusTable(10 * time.Second)
	smaller.Records = smaller.Records[:1]
	require.NoError(t, db.ReplaceCorpus(smaller))

	got, err = db.Corpus(10 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())

	got, err = db.Corpus(30 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Len())
}
