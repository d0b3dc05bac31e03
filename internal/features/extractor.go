package features

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/gazelab/eyewindow/internal/channels"
	"github.com/gazelab/eyewindow/internal/series"
)

// Extractor computes the feature record of a single window. It holds only
// immutable configuration and is safe for concurrent use.
type Extractor struct {
	Channels *channels.Classification
	Zones    []channels.Zone
	// Period is the sampling period of the resampled series.
	Period time.Duration
}

// Result is the outcome of one window extraction.
type Result struct {
	Record   Record
	Warnings []Warning
}

// Extract computes every statistic group applicable to the columns of s
// over [start, start+width). An empty window still yields the full key set
// of every group.
func (e *Extractor) Extract(s *series.Series, start time.Time, width time.Duration) (Result, error) {
	w := s.Slice(start, start.Add(width))
	res := Result{Record: NewRecord(start)}
	if err := res.Record.Merge(map[string]float64{channels.KeyNumSamples: float64(w.Len())}); err != nil {
		return res, err
	}

	ew := EventWindow{
		Index:           w.Index,
		Period:          e.Period,
		EventType:       w.Column(channels.EyeMovementType),
		AngularVelocity: w.Column(channels.AngularVelocity),
	}

	for _, col := range w.Columns() {
		group, warnings, err := e.dispatch(w, col, ew)
		if err != nil {
			return res, fmt.Errorf("window %s column %s: %w", start.Format(time.RFC3339Nano), col, err)
		}
		res.Warnings = append(res.Warnings, warnings...)
		if err := res.Record.Merge(group); err != nil {
			return res, fmt.Errorf("window %s: %w", start.Format(time.RFC3339Nano), err)
		}
	}
	return res, nil
}

func (e *Extractor) dispatch(w *series.Series, col string, ew EventWindow) (map[string]float64, []Warning, error) {
	values := w.Column(col)
	switch role := e.Channels.Role(col); role {
	case channels.RoleNone:
		return nil, nil, nil
	case channels.RoleContinuous:
		group, warnings := ContinuousStats(col, values)
		return group, warnings, nil
	case channels.RoleBinaryEvent:
		return BinaryEventStats(col, values, ew), nil, nil
	case channels.RoleRegion:
		return RegionStats(e.Zones, values, w.Column(channels.Fixation), ew), nil, nil
	case channels.RoleEventMetric:
		group, warnings := EventMetricStats(col, values, ew.EventType)
		return group, warnings, nil
	case channels.RoleLabel:
		return map[string]float64{col + channels.Separator: Mode(values)}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown role %v", role)
	}
}

// Mode returns the most frequent non-missing value, preferring the smallest
// on ties. It returns NaN when every value is missing.
func Mode(values []float64) float64 {
	counts := make(map[float64]int)
	for _, v := range values {
		if !math.IsNaN(v) {
			counts[v]++
		}
	}
	if len(counts) == 0 {
		return math.NaN()
	}
	keys := make([]float64, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Float64s(keys)
	best := keys[0]
	for _, k := range keys[1:] {
		if counts[k] > counts[best] {
			best = k
		}
	}
	return best
}
