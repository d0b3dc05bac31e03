// Package phases loads the per-proband table of labelled experimental
// segments and uses it to crop and label resampled series.
package phases

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/gazelab/eyewindow/internal/channels"
	"github.com/gazelab/eyewindow/internal/series"
)

// Segment is one labelled interval [Start, End] of a recording.
type Segment struct {
	Start    time.Time
	End      time.Time
	Phase    string
	Scenario string
	Variant  string
}

// Table holds the segments of one proband in file order.
type Table struct {
	Segments []Segment
}

// NormalizeTimestamp pads timestamps that lack sub-second precision with
// ".000000" before their "+" offset.
func NormalizeTimestamp(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(s, ".") {
		return s
	}
	return strings.Replace(s, "+", ".000000+", 1)
}

// LoadCSV reads a phase table with start, end, phase and scenario columns
// and optional variant and last_start_pass columns. last_start_pass
// replaces end when present. Columns named "Unnamed*" are ignored.
func LoadCSV(r io.Reader, loc *time.Location) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("read phase header: empty input")
		}
		return nil, fmt.Errorf("read phase header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if strings.HasPrefix(name, "Unnamed") {
			continue
		}
		col[name] = i
	}
	for _, required := range []string{"start", "end", "phase", "scenario"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("phase table has no %q column", required)
		}
	}
	endCol := col["end"]
	if i, ok := col["last_start_pass"]; ok {
		endCol = i
	}

	cell := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	t := &Table{}
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read phase line %d: %w", line, err)
		}
		start, err := series.ParseTimestamp(NormalizeTimestamp(cell(rec, "start")), loc)
		if err != nil {
			return nil, fmt.Errorf("phase line %d start: %w", line, err)
		}
		var end time.Time
		if endCol < len(rec) {
			end, err = series.ParseTimestamp(NormalizeTimestamp(rec[endCol]), loc)
			if err != nil {
				return nil, fmt.Errorf("phase line %d end: %w", line, err)
			}
		}
		if start.IsZero() || end.IsZero() {
			return nil, fmt.Errorf("phase line %d: missing start or end", line)
		}
		if end.Before(start) {
			return nil, fmt.Errorf("phase line %d: end %s before start %s", line, end, start)
		}
		t.Segments = append(t.Segments, Segment{
			Start:    start,
			End:      end,
			Phase:    cell(rec, "phase"),
			Scenario: cell(rec, "scenario"),
			Variant:  cell(rec, "variant"),
		})
	}
	return t, nil
}

// Check returns the selected phases that occur in the table and the
// selected scenarios that occur within at least one of those phases, both
// in selection order. An empty selection selects everything present.
func (t *Table) Check(phases, scenarios []string) (checkedPhases, checkedScenarios []string) {
	if len(phases) == 0 {
		phases = t.distinct(func(s Segment) string { return s.Phase })
	}
	if len(scenarios) == 0 {
		scenarios = t.distinct(func(s Segment) string { return s.Scenario })
	}

	seenScenario := make(map[string]bool)
	for _, phase := range phases {
		found := false
		for _, seg := range t.Segments {
			if seg.Phase == phase {
				found = true
				break
			}
		}
		if !found {
			continue
		}
		checkedPhases = append(checkedPhases, phase)
		for _, scenario := range scenarios {
			if seenScenario[scenario] {
				continue
			}
			for _, seg := range t.Segments {
				if seg.Phase == phase && seg.Scenario == scenario {
					seenScenario[scenario] = true
					checkedScenarios = append(checkedScenarios, scenario)
					break
				}
			}
		}
	}
	return checkedPhases, checkedScenarios
}

func (t *Table) distinct(field func(Segment) string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, seg := range t.Segments {
		if v := field(seg); !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// Labels decodes segment labels into the codes stored in the series.
type Labels struct {
	Phases    channels.Codebook
	Scenarios channels.Codebook
	// Variant decodes a variant; ok is false for unknown variants, which
	// are labelled as missing.
	Variant func(variant string) (code float64, ok bool)
}

// Crop keeps the rows of s that fall inside a segment whose phase and
// scenario are both selected, and labels them with the segment's phase,
// scenario and variant codes. A row covered by several segments takes the
// labels of the first. Unknown variants are returned so the caller can
// report them.
func (t *Table) Crop(s *series.Series, phases, scenarios []string, labels Labels) (*series.Series, []string, error) {
	phaseSet := toSet(phases)
	scenarioSet := toSet(scenarios)

	type coded struct {
		Segment
		phase, scenario, variant float64
	}
	var selected []coded
	var unknown []string
	seenUnknown := make(map[string]bool)
	for _, seg := range t.Segments {
		if !phaseSet[seg.Phase] || !scenarioSet[seg.Scenario] {
			continue
		}
		p, err := labels.Phases.Encode(seg.Phase)
		if err != nil {
			return nil, nil, fmt.Errorf("phase: %w", err)
		}
		sc, err := labels.Scenarios.Encode(seg.Scenario)
		if err != nil {
			return nil, nil, fmt.Errorf("scenario: %w", err)
		}
		v := math.NaN()
		if labels.Variant != nil {
			if code, ok := labels.Variant(seg.Variant); ok {
				v = code
			} else if seg.Variant != "" && !seenUnknown[seg.Variant] {
				seenUnknown[seg.Variant] = true
				unknown = append(unknown, seg.Variant)
			}
		}
		selected = append(selected, coded{Segment: seg, phase: float64(p), scenario: float64(sc), variant: v})
	}

	owner := make([]int, s.Len())
	for i, ts := range s.Index {
		owner[i] = -1
		for j, seg := range selected {
			if !ts.Before(seg.Start) && !ts.After(seg.End) {
				owner[i] = j
				break
			}
		}
	}

	out := s.Filter(func(i int) bool { return owner[i] >= 0 })
	phaseCol := make([]float64, 0, out.Len())
	scenarioCol := make([]float64, 0, out.Len())
	variantCol := make([]float64, 0, out.Len())
	for _, j := range owner {
		if j < 0 {
			continue
		}
		phaseCol = append(phaseCol, selected[j].phase)
		scenarioCol = append(scenarioCol, selected[j].scenario)
		variantCol = append(variantCol, selected[j].variant)
	}
	for _, c := range []struct {
		name string
		vals []float64
	}{
		{channels.Phase, phaseCol},
		{channels.Scenario, scenarioCol},
		{channels.Variant, variantCol},
	} {
		if err := out.Set(c.name, c.vals); err != nil {
			return nil, nil, err
		}
	}
	return out, unknown, nil
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
