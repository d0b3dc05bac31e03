// Package store persists feature tables: a protobuf artifact for fast
// reloads and a CSV copy for long-term use, both per proband and window
// width, plus the concatenated corpus per width.
package store

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/gazelab/eyewindow/internal/channels"
	"github.com/gazelab/eyewindow/internal/features"
	"github.com/gazelab/eyewindow/internal/fsutil"
)

// Store reads and writes feature tables below Root.
type Store struct {
	FS   fsutil.FileSystem
	Root string
}

// New returns a Store rooted at root.
func New(fsys fsutil.FileSystem, root string) *Store {
	return &Store{FS: fsys, Root: root}
}

// WidthLabel formats a window width for file names, e.g. 60s -> "60".
func WidthLabel(w time.Duration) string {
	return strconv.FormatFloat(w.Seconds(), 'f', -1, 64)
}

// ArtifactPath returns the protobuf artifact path of a proband and width.
func (s *Store) ArtifactPath(proband string, width time.Duration) string {
	return filepath.Join(s.Root, proband, "features_"+WidthLabel(width)+".pb")
}

// CSVPath returns the CSV path of a proband and width.
func (s *Store) CSVPath(proband string, width time.Duration) string {
	return filepath.Join(s.Root, proband, "features_"+WidthLabel(width)+".csv")
}

// CorpusPath returns the path of the concatenated corpus of a width.
func (s *Store) CorpusPath(width time.Duration) string {
	return filepath.Join(s.Root, "all_probands_"+WidthLabel(width)+".csv")
}

// Cached reports whether the artifact of a proband and width exists.
func (s *Store) Cached(proband string, width time.Duration) bool {
	return s.FS.Exists(s.ArtifactPath(proband, width))
}

// Load reads the protobuf artifact of a proband and width.
func (s *Store) Load(proband string, width time.Duration) (*features.Table, error) {
	path := s.ArtifactPath(proband, width)
	data, err := s.FS.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	t, err := UnmarshalTable(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return t, nil
}

// Save writes the protobuf artifact and the CSV of t.
func (s *Store) Save(t *features.Table) error {
	if err := s.FS.MkdirAll(filepath.Join(s.Root, t.Proband), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	data, err := MarshalTable(t)
	if err != nil {
		return err
	}
	if err := s.FS.WriteFile(s.ArtifactPath(t.Proband, t.Width), data, 0644); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, t); err != nil {
		return err
	}
	return s.FS.WriteFile(s.CSVPath(t.Proband, t.Width), buf.Bytes(), 0644)
}

// SaveCorpus writes the concatenated table of all probands of one width.
func (s *Store) SaveCorpus(t *features.Table) error {
	if err := s.FS.MkdirAll(s.Root, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, t); err != nil {
		return err
	}
	return s.FS.WriteFile(s.CorpusPath(t.Width), buf.Bytes(), 0644)
}

// Artifact field names.
const (
	fieldProband = "proband"
	fieldWidth   = "width_seconds"
	fieldColumns = "columns"
	fieldRecords = "records"
	fieldStart   = "start"
	fieldValues  = "values"
)

// MarshalTable encodes t as a deterministic protobuf Struct. Each record
// stores its values aligned with the table's columns; absent features are
// null so they stay absent on reload.
func MarshalTable(t *features.Table) ([]byte, error) {
	cols := t.Columns()
	colValues := make([]*structpb.Value, len(cols))
	for i, c := range cols {
		colValues[i] = structpb.NewStringValue(c)
	}

	records := make([]*structpb.Value, len(t.Records))
	for i, r := range t.Records {
		values := make([]*structpb.Value, len(cols))
		for j, c := range cols {
			if v, ok := r.Values[c]; ok {
				values[j] = structpb.NewNumberValue(v)
			} else {
				values[j] = structpb.NewNullValue()
			}
		}
		rec := &structpb.Struct{Fields: map[string]*structpb.Value{
			fieldStart:  structpb.NewStringValue(r.Start.Format(time.RFC3339Nano)),
			fieldValues: structpb.NewListValue(&structpb.ListValue{Values: values}),
		}}
		if r.Proband != "" && r.Proband != t.Proband {
			rec.Fields[fieldProband] = structpb.NewStringValue(r.Proband)
		}
		records[i] = structpb.NewStructValue(rec)
	}

	msg := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldProband: structpb.NewStringValue(t.Proband),
		fieldWidth:   structpb.NewNumberValue(t.Width.Seconds()),
		fieldColumns: structpb.NewListValue(&structpb.ListValue{Values: colValues}),
		fieldRecords: structpb.NewListValue(&structpb.ListValue{Values: records}),
	}}
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal feature table: %w", err)
	}
	return data, nil
}

// UnmarshalTable decodes a table written by MarshalTable.
func UnmarshalTable(data []byte) (*features.Table, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal feature table: %w", err)
	}
	fields := msg.GetFields()
	t := &features.Table{
		Proband: fields[fieldProband].GetStringValue(),
		Width:   time.Duration(math.Round(fields[fieldWidth].GetNumberValue() * float64(time.Second))),
	}

	var cols []string
	for _, v := range fields[fieldColumns].GetListValue().GetValues() {
		cols = append(cols, v.GetStringValue())
	}

	for i, rv := range fields[fieldRecords].GetListValue().GetValues() {
		rf := rv.GetStructValue().GetFields()
		start, err := time.Parse(time.RFC3339Nano, rf[fieldStart].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("record %d start: %w", i, err)
		}
		values := rf[fieldValues].GetListValue().GetValues()
		if len(values) != len(cols) {
			return nil, fmt.Errorf("record %d has %d values for %d columns", i, len(values), len(cols))
		}
		r := features.NewRecord(start)
		r.Proband = t.Proband
		if p, ok := rf[fieldProband]; ok {
			r.Proband = p.GetStringValue()
		}
		for j, v := range values {
			if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
				continue
			}
			r.Values[cols[j]] = v.GetNumberValue()
		}
		t.Records = append(t.Records, r)
	}
	return t, nil
}

// WriteCSV writes t with a datetime column, the proband id column and one
// column per feature, sorted by name. Missing values are empty cells.
func WriteCSV(w io.Writer, t *features.Table) error {
	cols := t.Columns()
	cw := csv.NewWriter(w)
	header := append([]string{"datetime", channels.KeyProband}, cols...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	row := make([]string, len(header))
	for _, r := range t.Records {
		row[0] = r.Start.Format(time.RFC3339Nano)
		row[1] = r.Proband
		if row[1] == "" {
			row[1] = t.Proband
		}
		for j, c := range cols {
			row[j+2] = formatValue(r.Values, c)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatValue(values map[string]float64, key string) string {
	v, ok := values[key]
	if !ok || math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
