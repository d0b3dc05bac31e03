// Package series holds per-proband eye-tracking time series and the
// operations that put them on a uniform time grid: resampling, window
// indexing and slicing.
package series

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Series is a table of float64 columns indexed by timestamp. Missing values
// are NaN. Binary channels hold 0/1 and categorical channels hold integer
// codes.
type Series struct {
	Index   []time.Time
	columns map[string][]float64
	order   []string
}

// New returns an empty series over index.
func New(index []time.Time) *Series {
	return &Series{
		Index:   index,
		columns: make(map[string][]float64),
	}
}

// Len returns the number of rows.
func (s *Series) Len() int { return len(s.Index) }

// Columns returns the column names in insertion order.
func (s *Series) Columns() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Has reports whether the column exists.
func (s *Series) Has(name string) bool {
	_, ok := s.columns[name]
	return ok
}

// Column returns the values of a column, or nil when absent. The returned
// slice aliases the series.
func (s *Series) Column(name string) []float64 {
	return s.columns[name]
}

// Set adds or replaces a column. values must have one entry per row.
func (s *Series) Set(name string, values []float64) error {
	if len(values) != len(s.Index) {
		return fmt.Errorf("column %q has %d values, series has %d rows", name, len(values), len(s.Index))
	}
	if _, ok := s.columns[name]; !ok {
		s.order = append(s.order, name)
	}
	s.columns[name] = values
	return nil
}

// Fill adds a column holding v in every row unless the column already
// exists.
func (s *Series) Fill(name string, v float64) {
	if s.Has(name) {
		return
	}
	values := make([]float64, len(s.Index))
	for i := range values {
		values[i] = v
	}
	s.order = append(s.order, name)
	s.columns[name] = values
}

// Value returns the value of column name at row i, NaN when the column is
// absent.
func (s *Series) Value(name string, i int) float64 {
	col, ok := s.columns[name]
	if !ok {
		return math.NaN()
	}
	return col[i]
}

// Slice returns the rows with from <= t < to. Columns alias the receiver.
func (s *Series) Slice(from, to time.Time) *Series {
	lo := sort.Search(len(s.Index), func(i int) bool { return !s.Index[i].Before(from) })
	hi := sort.Search(len(s.Index), func(i int) bool { return !s.Index[i].Before(to) })
	if hi < lo {
		hi = lo
	}
	return s.rows(lo, hi)
}

func (s *Series) rows(lo, hi int) *Series {
	out := &Series{
		Index:   s.Index[lo:hi:hi],
		columns: make(map[string][]float64, len(s.columns)),
		order:   s.order[:len(s.order):len(s.order)],
	}
	for name, col := range s.columns {
		out.columns[name] = col[lo:hi:hi]
	}
	return out
}

// Filter returns a copy holding only the rows for which keep returns true.
func (s *Series) Filter(keep func(i int) bool) *Series {
	var idx []int
	for i := range s.Index {
		if keep(i) {
			idx = append(idx, i)
		}
	}
	out := &Series{
		Index:   make([]time.Time, len(idx)),
		columns: make(map[string][]float64, len(s.columns)),
		order:   append([]string(nil), s.order...),
	}
	for j, i := range idx {
		out.Index[j] = s.Index[i]
	}
	for name, col := range s.columns {
		vals := make([]float64, len(idx))
		for j, i := range idx {
			vals[j] = col[i]
		}
		out.columns[name] = vals
	}
	return out
}

// Start returns the first timestamp, or the zero time for an empty series.
func (s *Series) Start() time.Time {
	if len(s.Index) == 0 {
		return time.Time{}
	}
	return s.Index[0]
}

// End returns the last timestamp, or the zero time for an empty series.
func (s *Series) End() time.Time {
	if len(s.Index) == 0 {
		return time.Time{}
	}
	return s.Index[len(s.Index)-1]
}

// floorSecond truncates t to the whole second.
func floorSecond(t time.Time) time.Time {
	return t.Truncate(time.Second)
}

// ceilSecond rounds t up to the whole second.
func ceilSecond(t time.Time) time.Time {
	f := t.Truncate(time.Second)
	if f.Equal(t) {
		return f
	}
	return f.Add(time.Second)
}
