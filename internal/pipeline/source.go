package pipeline

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/gazelab/eyewindow/internal/channels"
	"github.com/gazelab/eyewindow/internal/fsutil"
	"github.com/gazelab/eyewindow/internal/phases"
	"github.com/gazelab/eyewindow/internal/series"
)

// Source provides the raw inputs of a proband.
type Source interface {
	Series(proband string) (*series.Series, error)
	Phases(proband string) (*phases.Table, error)
}

// FileSource reads raw series and phase tables laid out as
// <Root>/<id>/ircam/<id>.csv[.gz] and <Root>/<id>/ircam/phases_<id>.csv.
type FileSource struct {
	FS        fsutil.FileSystem
	Root      string
	Codebooks map[string]channels.Codebook
	Location  *time.Location
}

// SeriesPath returns the uncompressed raw series path of a proband.
func (s *FileSource) SeriesPath(proband string) string {
	return filepath.Join(s.Root, proband, "ircam", proband+".csv")
}

// PhasesPath returns the phase table path of a proband.
func (s *FileSource) PhasesPath(proband string) string {
	return filepath.Join(s.Root, proband, "ircam", "phases_"+proband+".csv")
}

// Series reads the raw series of a proband, falling back to the gzipped
// file when the plain CSV is absent.
func (s *FileSource) Series(proband string) (*series.Series, error) {
	path := s.SeriesPath(proband)
	r, err := s.open(path)
	if errors.Is(err, fs.ErrNotExist) {
		r, err = s.open(path + ".gz")
	}
	if err != nil {
		return nil, fmt.Errorf("open raw series of proband %s: %w", proband, err)
	}
	defer r.Close()

	ser, err := series.ReadCSV(r, series.ReadOptions{Codebooks: s.Codebooks, Location: s.Location})
	if err != nil {
		return nil, fmt.Errorf("read raw series of proband %s: %w", proband, err)
	}
	return ser, nil
}

// Phases reads the phase table of a proband.
func (s *FileSource) Phases(proband string) (*phases.Table, error) {
	path := s.PhasesPath(proband)
	r, err := s.open(path)
	if err != nil {
		return nil, fmt.Errorf("open phase table of proband %s: %w", proband, err)
	}
	defer r.Close()

	t, err := phases.LoadCSV(r, s.Location)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return t, nil
}

// open returns a reader for path, decompressing ".gz" files.
func (s *FileSource) open(path string) (io.ReadCloser, error) {
	f, err := s.FS.Open(path)
	if err != nil {
		return nil, err
	}
	if filepath.Ext(path) != ".gz" {
		return f, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("gunzip %s: %w", path, err)
	}
	return &gzipFile{Reader: zr, file: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	file fs.File
}

func (g *gzipFile) Close() error {
	zerr := g.Reader.Close()
	if err := g.file.Close(); err != nil {
		return err
	}
	return zerr
}
