package series

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gazelab/eyewindow/internal/channels"
)

// timestampLayouts are tried in order by ParseTimestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// ParseTimestamp parses the ISO-like timestamps written by the recording
// pipeline. Timestamps without a zone offset are interpreted in loc (UTC
// when nil). An empty string yields the zero time.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nat") {
		return time.Time{}, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp %q", s)
}

// ReadOptions configures ReadCSV.
type ReadOptions struct {
	// Codebooks decode categorical string cells per column.
	Codebooks map[string]channels.Codebook
	// Location applies to timestamps without a zone offset.
	Location *time.Location
}

// ReadCSV reads a series whose first column holds timestamps and whose
// remaining columns hold channel values. Empty and "nan" cells are
// missing, "true"/"false" map to 1/0.
func ReadCSV(r io.Reader, opts ReadOptions) (*Series, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read series header: empty input")
		}
		return nil, fmt.Errorf("read series header: %w", err)
	}
	names := append([]string(nil), header[1:]...)

	var index []time.Time
	cols := make([][]float64, len(names))
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read series line %d: %w", line, err)
		}
		ts, err := ParseTimestamp(rec[0], opts.Location)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		index = append(index, ts)
		for c, name := range names {
			v, err := decodeCell(rec[c+1], opts.Codebooks[name])
			if err != nil {
				return nil, fmt.Errorf("line %d column %q: %w", line, name, err)
			}
			cols[c] = append(cols[c], v)
		}
	}

	s := New(index)
	for c, name := range names {
		vals := cols[c]
		if vals == nil {
			vals = []float64{}
		}
		if err := s.Set(name, vals); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func decodeCell(cell string, book channels.Codebook) (float64, error) {
	cell = strings.TrimSpace(cell)
	switch strings.ToLower(cell) {
	case "", "nan", "none", "null":
		return math.NaN(), nil
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	if v, err := strconv.ParseFloat(cell, 64); err == nil {
		return v, nil
	}
	if book != nil {
		code, err := book.Encode(cell)
		if err != nil {
			return 0, err
		}
		return float64(code), nil
	}
	return 0, fmt.Errorf("not a number: %q", cell)
}
