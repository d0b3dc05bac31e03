package aggregate

import (
	"math"
	"sort"
	"time"

	"github.com/gazelab/eyewindow/internal/channels"
	"github.com/gazelab/eyewindow/internal/features"
	"github.com/gazelab/eyewindow/internal/series"
)

// Interpolator evaluates a channel linearly in time between its observed
// (non-missing) samples. Outside the observed range it returns NaN.
type Interpolator struct {
	times  []int64
	values []float64
}

// NewInterpolator collects the observed samples of column name in s in
// time order. Rows with a null (zero) timestamp are skipped, and among
// duplicate timestamps the first row wins.
func NewInterpolator(s *series.Series, name string) *Interpolator {
	col := s.Column(name)
	rows := make([]int, 0, len(col))
	for i, v := range col {
		if math.IsNaN(v) || s.Index[i].IsZero() {
			continue
		}
		rows = append(rows, i)
	}
	sort.SliceStable(rows, func(a, b int) bool { return s.Index[rows[a]].Before(s.Index[rows[b]]) })

	ip := &Interpolator{}
	for _, i := range rows {
		ts := s.Index[i].UnixNano()
		if n := len(ip.times); n > 0 && ip.times[n-1] == ts {
			continue
		}
		ip.times = append(ip.times, ts)
		ip.values = append(ip.values, col[i])
	}
	return ip
}

// At returns the interpolated value at t.
func (ip *Interpolator) At(t time.Time) float64 {
	n := len(ip.times)
	if n == 0 {
		return math.NaN()
	}
	x := t.UnixNano()
	i := sort.Search(n, func(i int) bool { return ip.times[i] >= x })
	if i < n && ip.times[i] == x {
		return ip.values[i]
	}
	if i == 0 || i == n {
		return math.NaN()
	}
	x0, x1 := ip.times[i-1], ip.times[i]
	y0, y1 := ip.values[i-1], ip.values[i]
	frac := float64(x-x0) / float64(x1-x0)
	return y0 + frac*(y1-y0)
}

// AttachGroundTruth sets the biometric target of every window to the value
// of the BAC channel at the window's end, start+width, interpolated over the
// whole series. The label is the value following the window, not one
// observed during it. Windows get NaN when the series carries no BAC.
func AttachGroundTruth(t *features.Table, s *series.Series, width time.Duration) {
	ip := NewInterpolator(s, channels.BAC)
	for _, r := range t.Records {
		r.Values[channels.KeyBAC] = ip.At(r.Start.Add(width))
	}
}

// AttachSampleProportion sets the share of expected samples observed in
// each window: num_samples / (width * frequency).
func AttachSampleProportion(t *features.Table, width time.Duration, frequency float64) {
	expected := width.Seconds() * frequency
	for _, r := range t.Records {
		n, ok := r.Values[channels.KeyNumSamples]
		if !ok || expected <= 0 {
			r.Values[channels.KeyProportionSample] = math.NaN()
			continue
		}
		r.Values[channels.KeyProportionSample] = n / expected
	}
}

// MergeRows turns every row of s into one record without windowing. Label
// channels and the BAC channel take their table column names; BAC is NaN
// when s does not carry it. Each record holds one sample out of one
// expected, so its sample proportion is 1.
func MergeRows(s *series.Series, cls *channels.Classification) *features.Table {
	cols := s.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		switch {
		case c == channels.BAC:
			names[i] = channels.KeyBAC
		case cls.Role(c) == channels.RoleLabel:
			names[i] = c + channels.Separator
		default:
			names[i] = c
		}
	}

	t := &features.Table{Records: make([]features.Record, s.Len())}
	for i, ts := range s.Index {
		r := features.NewRecord(ts)
		for j, c := range cols {
			r.Values[names[j]] = s.Value(c, i)
		}
		if !s.Has(channels.BAC) {
			r.Values[channels.KeyBAC] = math.NaN()
		}
		r.Values[channels.KeyNumSamples] = 1
		r.Values[channels.KeyProportionSample] = 1
		t.Records[i] = r
	}
	return t
}
