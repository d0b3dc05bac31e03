// Package testutil provides shared test fixtures.
//
// It renders raw eye-tracking series and phase tables in the on-disk layout
// read by the pipeline, so tests across packages exercise the same inputs.
package testutil

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gazelab/eyewindow/internal/channels"
	"github.com/gazelab/eyewindow/internal/fsutil"
)

// SamplePeriod is the spacing of RawCSV samples (50 Hz).
const SamplePeriod = 20 * time.Millisecond

// RawCSV returns n samples from start, SamplePeriod apart: a fixation that
// is always active, an angular velocity of i%7 and a BAC reading of 0.1*s
// at every whole second s. Other rows leave BAC empty.
func RawCSV(start time.Time, n int) string {
	var b strings.Builder
	b.WriteString(strings.Join([]string{"timestamp", channels.Fixation, channels.AngularVelocity, channels.BAC}, ",") + "\n")
	perSecond := int(time.Second / SamplePeriod)
	for i := 0; i < n; i++ {
		bac := ""
		if i%perSecond == 0 {
			bac = fmt.Sprintf("%g", float64(i/perSecond)/10)
		}
		ts := start.Add(time.Duration(i) * SamplePeriod)
		fmt.Fprintf(&b, "%s,true,%d,%s\n", ts.Format(time.RFC3339Nano), i%7, bac)
	}
	return b.String()
}

// Segment is one row of a phase table.
type Segment struct {
	Start, End               time.Time
	Phase, Scenario, Variant string
}

// PhaseCSV renders segments the way exported phase tables look: a leading
// unnamed index column and timestamps without sub-second digits when they
// fall on whole seconds.
func PhaseCSV(segments ...Segment) string {
	const layout = "2006-01-02 15:04:05.999999-07:00"
	var b strings.Builder
	b.WriteString("Unnamed: 0,start,end,phase,scenario,variant\n")
	for i, s := range segments {
		fmt.Fprintf(&b, "%d,%s,%s,%s,%s,%s\n",
			i, s.Start.Format(layout), s.End.Format(layout), s.Phase, s.Scenario, s.Variant)
	}
	return b.String()
}

// WriteProband writes the raw series and phase table of proband id below
// root in the <root>/<id>/ircam layout.
func WriteProband(t testing.TB, fsys fsutil.FileSystem, root, id, raw, phases string) {
	t.Helper()
	dir := filepath.Join(root, id, "ircam")
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("create %s: %v", dir, err)
	}
	if err := fsys.WriteFile(filepath.Join(dir, id+".csv"), []byte(raw), 0644); err != nil {
		t.Fatalf("write raw series: %v", err)
	}
	if err := fsys.WriteFile(filepath.Join(dir, "phases_"+id+".csv"), []byte(phases), 0644); err != nil {
		t.Fatalf("write phase table: %v", err)
	}
}
