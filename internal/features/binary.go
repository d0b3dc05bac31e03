package features

import (
	"math"
	"time"
)

// Metric names of the binary-event group.
const (
	MetricDuration         = "duration"
	MetricPercentageEvents = "percentage_events"
	MetricAmplitude        = "amplitude"
	MetricEventCount       = "event_count"
)

var binaryMetrics = []string{MetricDuration, MetricPercentageEvents, MetricAmplitude, MetricEventCount}

// Run is a maximal run of active rows of a binary indicator. Start is the
// first active row. End is the first inactive row after the run, or the last
// row of the window when the run is still active there.
type Run struct {
	Start, End int
}

// Duration returns the run length corrected for the inclusive end row:
// (index[End] - index[Start]) - period, never negative.
func (r Run) Duration(index []time.Time, period time.Duration) time.Duration {
	d := index[r.End].Sub(index[r.Start]) - period
	if d < 0 {
		return 0
	}
	return d
}

func active(v float64) bool {
	return v != 0 && !math.IsNaN(v)
}

// EventRuns returns the runs of active values in indicator. Runs already
// active at the first row or still active at the last row are included.
func EventRuns(indicator []float64) []Run {
	var runs []Run
	n := len(indicator)
	for i := 0; i < n; {
		if !active(indicator[i]) {
			i++
			continue
		}
		start := i
		for i < n && active(indicator[i]) {
			i++
		}
		end := i
		if end >= n {
			end = n - 1
		}
		runs = append(runs, Run{Start: start, End: end})
	}
	return runs
}

// EventWindow carries the rows of one window shared by the event-based
// statistic groups.
type EventWindow struct {
	Index  []time.Time
	Period time.Duration
	// EventType holds eye-movement type codes; nil when the channel is absent.
	EventType []float64
	// AngularVelocity holds the gaze angular velocity; nil when absent.
	AngularVelocity []float64
}

// transitions counts the rows where the eye-movement type changes.
func (w EventWindow) transitions() int {
	n := 0
	for i := 1; i < len(w.EventType); i++ {
		a, b := w.EventType[i-1], w.EventType[i]
		if !math.IsNaN(a) && !math.IsNaN(b) && a != b {
			n++
		}
	}
	return n
}

// amplitude sums the absolute angular velocity from run start to run end
// inclusive, skipping missing samples.
func (w EventWindow) amplitude(r Run) float64 {
	if w.AngularVelocity == nil {
		return 0
	}
	sum := 0.0
	for i := r.Start; i <= r.End; i++ {
		if v := w.AngularVelocity[i]; !math.IsNaN(v) {
			sum += math.Abs(v)
		}
	}
	return sum
}

// BinaryEventStats summarises the runs of a binary indicator: their count,
// mean duration in seconds, mean amplitude (summed absolute angular
// velocity) and their share of all eye-movement type transitions in the
// window. Means are 0 without runs and the share is 0 without transitions.
// An empty window yields NaN for every metric.
func BinaryEventStats(key string, indicator []float64, w EventWindow) map[string]float64 {
	out := make(map[string]float64, len(binaryMetrics))
	for _, m := range binaryMetrics {
		out[Key(key, m)] = math.NaN()
	}
	if len(indicator) == 0 {
		return out
	}

	runs := EventRuns(indicator)
	var totalDuration time.Duration
	totalAmplitude := 0.0
	for _, r := range runs {
		totalDuration += r.Duration(w.Index, w.Period)
		totalAmplitude += w.amplitude(r)
	}

	count := len(runs)
	out[Key(key, MetricEventCount)] = float64(count)
	out[Key(key, MetricDuration)] = 0
	out[Key(key, MetricAmplitude)] = 0
	if count > 0 {
		out[Key(key, MetricDuration)] = totalDuration.Seconds() / float64(count)
		out[Key(key, MetricAmplitude)] = totalAmplitude / float64(count)
	}

	out[Key(key, MetricPercentageEvents)] = 0
	if n := w.transitions(); n > 0 {
		out[Key(key, MetricPercentageEvents)] = float64(count) / float64(n)
	}
	return out
}
