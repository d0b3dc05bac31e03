// Package aggregate fans window feature extraction out over a bounded
// worker pool and attaches per-window ground truth.
package aggregate

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gazelab/eyewindow/internal/features"
	"github.com/gazelab/eyewindow/internal/monitoring"
	"github.com/gazelab/eyewindow/internal/series"
)

// DefaultWorkers is the inner pool size used when Scheduler.Workers is
// unset.
func DefaultWorkers() int {
	return min(32, runtime.NumCPU())
}

// WindowError records the failure of one window.
type WindowError struct {
	Start time.Time
	Err   error
}

// WindowErrors lists every failed window of a ComputeWindows call, ordered
// by start.
type WindowErrors struct {
	Windows []WindowError
}

func (e *WindowErrors) Error() string {
	starts := make([]string, 0, len(e.Windows))
	for _, w := range e.Windows {
		starts = append(starts, w.Start.Format(time.RFC3339Nano))
	}
	msg := fmt.Sprintf("%d window(s) failed: %s", len(e.Windows), strings.Join(starts, ", "))
	if len(e.Windows) > 0 {
		msg += ": " + e.Windows[0].Err.Error()
	}
	return msg
}

// Unwrap exposes the individual window errors to errors.Is and errors.As.
func (e *WindowErrors) Unwrap() []error {
	out := make([]error, len(e.Windows))
	for i, w := range e.Windows {
		out[i] = w.Err
	}
	return out
}

// Scheduler computes the feature records of all windows of a series.
type Scheduler struct {
	Extractor *features.Extractor
	// Workers bounds the number of windows extracted concurrently.
	Workers int
	// Logf receives the degenerate-statistic summary; nil uses
	// monitoring.Logf.
	Logf func(format string, v ...interface{})
}

func (s *Scheduler) logf(format string, v ...interface{}) {
	if s.Logf != nil {
		s.Logf(format, v...)
		return
	}
	monitoring.Logf(format, v...)
}

// ComputeWindows extracts one record per valid window start of ser. The
// table is sorted by start. When windows fail, the records of the others
// are still returned together with a *WindowErrors.
func (s *Scheduler) ComputeWindows(ser *series.Series, width, step time.Duration) (*features.Table, error) {
	starts := series.WindowStarts(ser.Index, step, width)
	results := make([]features.Result, len(starts))
	errs := make([]error, len(starts))

	workers := s.Workers
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i, start := range starts {
		g.Go(func() error {
			results[i], errs[i] = s.extract(ser, start, width)
			return nil
		})
	}
	_ = g.Wait()

	table := &features.Table{Width: width, Records: make([]features.Record, 0, len(starts))}
	var failed []WindowError
	var warnings []features.Warning
	for i := range starts {
		if errs[i] != nil {
			failed = append(failed, WindowError{Start: starts[i], Err: errs[i]})
			continue
		}
		table.Records = append(table.Records, results[i].Record)
		warnings = append(warnings, results[i].Warnings...)
	}
	table.Sort()
	s.summarize(warnings, len(starts))

	if len(failed) > 0 {
		return table, &WindowErrors{Windows: failed}
	}
	return table, nil
}

// extract runs the extractor and turns a panic into an error.
func (s *Scheduler) extract(ser *series.Series, start time.Time, width time.Duration) (res features.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("window %s panicked: %v", start.Format(time.RFC3339Nano), r)
		}
	}()
	if s.Extractor == nil {
		return res, errors.New("scheduler has no extractor")
	}
	return s.Extractor.Extract(ser, start, width)
}

// summarize logs one line per degenerate statistic with the number of
// windows it affected.
func (s *Scheduler) summarize(warnings []features.Warning, windows int) {
	if len(warnings) == 0 {
		return
	}
	counts := make(map[string]int)
	for _, w := range warnings {
		counts[w.Key+" "+w.Metric+": "+w.Reason]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.logf("degenerate %s in %d/%d windows", k, counts[k], windows)
	}
}
