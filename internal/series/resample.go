package series

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/gazelab/eyewindow/internal/channels"
)

// DefaultFrequency is the eye-tracker's target sampling rate in Hz.
const DefaultFrequency = 50.0

// ResampleOptions controls Resample.
type ResampleOptions struct {
	// Frequency of the target grid in Hz. Zero means DefaultFrequency.
	Frequency float64
	// Channels selects nearest or linear filling per column and the type
	// coercion applied afterwards. A nil classification treats every column
	// as continuous.
	Channels *channels.Classification
}

func (o ResampleOptions) frequency() float64 {
	if o.Frequency <= 0 {
		return DefaultFrequency
	}
	return o.Frequency
}

// Period returns the grid spacing for frequency in Hz, truncated to whole
// microseconds.
func Period(frequency float64) time.Duration {
	return time.Duration(int64(1e6/frequency)) * time.Microsecond
}

// Grid returns the uniform timestamps from ceil(first, 1s) to
// floor(last, 1s) inclusive.
func Grid(first, last time.Time, period time.Duration) []time.Time {
	start, end := ceilSecond(first), floorSecond(last)
	if start.After(end) || period <= 0 {
		return nil
	}
	n := int(end.Sub(start)/period) + 1
	grid := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		grid = append(grid, start.Add(time.Duration(i)*period))
	}
	return grid
}

// Resample re-indexes s onto a uniform grid of period 1/frequency.
//
// Rows with a zero timestamp are dropped. Binary, categorical and
// event-metric columns take the value of the nearest original sample; other
// columns are interpolated linearly in time. At most frequency consecutive
// missing points of a gap are filled, so no value is carried across more
// than about one second. Rows that stay missing in every column are
// dropped, binary columns are coerced to 0/1 and categorical columns to
// integers. An input shorter than one grid period yields a zero-row series.
func Resample(s *Series, opts ResampleOptions) (*Series, error) {
	freq := opts.frequency()
	if math.IsInf(freq, 0) || math.IsNaN(freq) {
		return nil, fmt.Errorf("invalid resampling frequency %v", freq)
	}
	limit := int(freq)
	period := Period(freq)

	src := s.sorted()
	grid := Grid(src.Start(), src.End(), period)
	if src.Len() == 0 || len(grid) == 0 {
		out := New(nil)
		for _, name := range s.order {
			_ = out.Set(name, nil)
		}
		return out, nil
	}

	times, origRow, gridPos := union(src.Index, grid)

	out := New(grid)
	for _, name := range src.order {
		col := src.columns[name]
		merged := make([]float64, len(times))
		for k, r := range origRow {
			if r < 0 {
				merged[k] = math.NaN()
			} else {
				merged[k] = col[r]
			}
		}
		kind := opts.Channels.Kind(name)
		if kind.Nearest() {
			fillNearest(times, merged, limit)
		} else {
			fillLinear(times, merged, limit)
		}
		vals := make([]float64, len(grid))
		for j, k := range gridPos {
			vals[j] = merged[k]
		}
		if err := out.Set(name, vals); err != nil {
			return nil, err
		}
	}

	out = out.dropMissingRows()
	for _, name := range out.order {
		coerce(out.columns[name], opts.Channels.Kind(name))
	}
	return out, nil
}

// sorted returns s without zero timestamps and with rows in time order.
// Duplicate timestamps keep their first row.
func (s *Series) sorted() *Series {
	idx := make([]int, 0, len(s.Index))
	for i, t := range s.Index {
		if !t.IsZero() {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return s.Index[idx[a]].Before(s.Index[idx[b]]) })

	dedup := idx[:0]
	for _, i := range idx {
		if len(dedup) > 0 && s.Index[dedup[len(dedup)-1]].Equal(s.Index[i]) {
			continue
		}
		dedup = append(dedup, i)
	}

	if len(dedup) == len(s.Index) && sort.IntsAreSorted(dedup) {
		return s
	}
	out := &Series{
		Index:   make([]time.Time, len(dedup)),
		columns: make(map[string][]float64, len(s.columns)),
		order:   append([]string(nil), s.order...),
	}
	for j, i := range dedup {
		out.Index[j] = s.Index[i]
	}
	for name, col := range s.columns {
		vals := make([]float64, len(dedup))
		for j, i := range dedup {
			vals[j] = col[i]
		}
		out.columns[name] = vals
	}
	return out
}

// union merges two sorted, duplicate-free timestamp lists. origRow maps each
// merged position to its row in orig (or -1) and gridPos lists the merged
// position of every grid timestamp.
func union(orig, grid []time.Time) (times []time.Time, origRow []int, gridPos []int) {
	times = make([]time.Time, 0, len(orig)+len(grid))
	origRow = make([]int, 0, len(orig)+len(grid))
	gridPos = make([]int, 0, len(grid))
	i, j := 0, 0
	for i < len(orig) || j < len(grid) {
		switch {
		case j >= len(grid) || (i < len(orig) && orig[i].Before(grid[j])):
			times = append(times, orig[i])
			origRow = append(origRow, i)
			i++
		case i >= len(orig) || grid[j].Before(orig[i]):
			gridPos = append(gridPos, len(times))
			times = append(times, grid[j])
			origRow = append(origRow, -1)
			j++
		default:
			gridPos = append(gridPos, len(times))
			times = append(times, orig[i])
			origRow = append(origRow, i)
			i++
			j++
		}
	}
	return times, origRow, gridPos
}

// gaps calls fn for every run [a, b] of NaN values that follows at least one
// valid value, with next = -1 when the run reaches the end.
func gaps(vals []float64, fn func(a, b, next int)) {
	n := len(vals)
	seenValid := false
	for i := 0; i < n; {
		if !math.IsNaN(vals[i]) {
			seenValid = true
			i++
			continue
		}
		a := i
		for i < n && math.IsNaN(vals[i]) {
			i++
		}
		if !seenValid {
			continue
		}
		next := i
		if next >= n {
			next = -1
		}
		fn(a, i-1, next)
	}
}

func fillLinear(times []time.Time, vals []float64, limit int) {
	gaps(vals, func(a, b, next int) {
		stop := min(b, a+limit-1)
		left := a - 1
		for k := a; k <= stop; k++ {
			if next < 0 {
				vals[k] = vals[left]
				continue
			}
			span := times[next].Sub(times[left]).Seconds()
			frac := times[k].Sub(times[left]).Seconds() / span
			vals[k] = vals[left] + (vals[next]-vals[left])*frac
		}
	})
}

func fillNearest(times []time.Time, vals []float64, limit int) {
	gaps(vals, func(a, b, next int) {
		stop := min(b, a+limit-1)
		left := a - 1
		for k := a; k <= stop; k++ {
			if next < 0 || times[k].Sub(times[left]) <= times[next].Sub(times[k]) {
				vals[k] = vals[left]
			} else {
				vals[k] = vals[next]
			}
		}
	})
}

func (s *Series) dropMissingRows() *Series {
	if len(s.order) == 0 {
		return s.Filter(func(int) bool { return false })
	}
	return s.Filter(func(i int) bool {
		for _, name := range s.order {
			if !math.IsNaN(s.columns[name][i]) {
				return true
			}
		}
		return false
	})
}

func coerce(vals []float64, kind channels.Kind) {
	switch kind {
	case channels.KindBinary:
		for i, v := range vals {
			if math.IsNaN(v) || v == 0 {
				vals[i] = 0
			} else {
				vals[i] = 1
			}
		}
	case channels.KindCategorical:
		for i, v := range vals {
			if !math.IsNaN(v) {
				vals[i] = math.Round(v)
			}
		}
	}
}
