// Package features computes per-window statistics over resampled
// eye-tracking series and collects them into feature tables.
package features

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/gazelab/eyewindow/internal/channels"
)

// Record is the flat feature mapping of one window, keyed by the window's
// start. Integer and boolean features are carried as float64.
type Record struct {
	Proband string
	Start   time.Time
	Values  map[string]float64
}

// NewRecord returns an empty record for the window starting at start.
func NewRecord(start time.Time) Record {
	return Record{Start: start, Values: make(map[string]float64)}
}

// Merge adds the features of group to r. A key that is already present must
// carry the same value; a conflicting value is an error so that one group
// never silently overwrites another.
func (r Record) Merge(group map[string]float64) error {
	for k, v := range group {
		if prev, ok := r.Values[k]; ok && !sameValue(prev, v) {
			return fmt.Errorf("feature %q emitted twice (%v, %v)", k, prev, v)
		}
		r.Values[k] = v
	}
	return nil
}

func sameValue(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}

// Keys returns the record's feature names, sorted.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r.Values))
	for k := range r.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Table is an ordered sequence of records for one window width. Width is
// zero for tables holding unwindowed rows.
type Table struct {
	Proband string
	Width   time.Duration
	Records []Record
}

// Sort orders the records by start time, keeping the relative order of
// records with equal starts.
func (t *Table) Sort() {
	sort.SliceStable(t.Records, func(i, j int) bool {
		return t.Records[i].Start.Before(t.Records[j].Start)
	})
}

// Columns returns the union of feature names over all records, sorted.
func (t *Table) Columns() []string {
	seen := make(map[string]struct{})
	for _, r := range t.Records {
		for k := range r.Values {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Len returns the number of records.
func (t *Table) Len() int { return len(t.Records) }

// FilterByProportion returns the records whose sample proportion is at
// least min. Records without the diagnostic are dropped.
func (t *Table) FilterByProportion(min float64) *Table {
	out := &Table{Proband: t.Proband, Width: t.Width}
	for _, r := range t.Records {
		if v, ok := r.Values[channels.KeyProportionSample]; ok && v >= min {
			out.Records = append(out.Records, r)
		}
	}
	return out
}

// Concat joins per-proband tables of the same width into one table sorted
// by start. Records inherit their table's proband when unset.
func Concat(width time.Duration, tables ...*Table) *Table {
	out := &Table{Width: width}
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, r := range t.Records {
			if r.Proband == "" {
				r.Proband = t.Proband
			}
			out.Records = append(out.Records, r)
		}
	}
	out.Sort()
	return out
}
