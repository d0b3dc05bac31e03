// Package pipeline turns the raw recordings of each selected proband into
// windowed feature tables and assembles them into the per-width corpus.
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gazelab/eyewindow/internal/aggregate"
	"github.com/gazelab/eyewindow/internal/channels"
	"github.com/gazelab/eyewindow/internal/config"
	"github.com/gazelab/eyewindow/internal/db"
	"github.com/gazelab/eyewindow/internal/features"
	"github.com/gazelab/eyewindow/internal/fsutil"
	"github.com/gazelab/eyewindow/internal/monitoring"
	"github.com/gazelab/eyewindow/internal/phases"
	"github.com/gazelab/eyewindow/internal/series"
	"github.com/gazelab/eyewindow/internal/store"
	"github.com/gazelab/eyewindow/internal/timeutil"
	"github.com/gazelab/eyewindow/internal/version"
)

// ErrNoData is returned by Run when no proband produced a feature table.
var ErrNoData = errors.New("no data for any selected proband")

// ProbandResult is the outcome of one proband and window width.
type ProbandResult struct {
	Proband string
	Width   time.Duration
	Table   *features.Table
	// FailedWindows lists the windows whose extraction failed. Their
	// records are missing from Table, which is then not cached.
	FailedWindows []aggregate.WindowError
	Cached        bool
	Err           error
	Duration      time.Duration
}

// Report summarises a Run.
type Report struct {
	// RunID is the ledger id, empty without a database.
	RunID   string
	Results []ProbandResult
	// Corpora holds the concatenated table of every width with at least
	// one successful proband.
	Corpora map[time.Duration]*features.Table
}

// Failed returns the results that carry an error.
func (r *Report) Failed() []ProbandResult {
	var out []ProbandResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Incomplete returns the results whose table misses failed windows.
func (r *Report) Incomplete() []ProbandResult {
	var out []ProbandResult
	for _, res := range r.Results {
		if res.Err == nil && len(res.FailedWindows) > 0 {
			out = append(out, res)
		}
	}
	return out
}

// Pipeline processes probands according to an aggregation configuration.
type Pipeline struct {
	Config *config.AggregationConfig
	Source Source
	Store  *store.Store
	// DB receives the run ledger and the corpus; nil skips both.
	DB    *db.DB
	Clock timeutil.Clock

	channels  *channels.Classification
	extractor *features.Extractor
	labels    phases.Labels
}

// New validates cfg and resolves the channel classification and target
// zones once for all probands. Zone files are read through fsys.
func New(cfg *config.AggregationConfig, src Source, st *store.Store, fsys fsutil.FileSystem) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cls, err := cfg.Classification()
	if err != nil {
		return nil, err
	}
	zones, err := cfg.Zones(fsys)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		Config:   cfg,
		Source:   src,
		Store:    st,
		Clock:    timeutil.RealClock{},
		channels: cls,
		extractor: &features.Extractor{
			Channels: cls,
			Zones:    zones,
			Period:   series.Period(cfg.GetFrequency()),
		},
		labels: phases.Labels{
			Phases:    cfg.PhaseCodebook(),
			Scenarios: channels.Scenarios,
			Variant:   cfg.VariantCode,
		},
	}, nil
}

// Widths returns the window widths a Run produces. Without window
// aggregation there is a single table per proband, stored under width 0.
func (p *Pipeline) Widths() []time.Duration {
	if !p.Config.GetWindowAggregation() {
		return []time.Duration{0}
	}
	return p.Config.GetWindowWidths()
}

// ProcessProband produces the feature table of one proband and width. A
// cached table is loaded and returned without being rewritten unless
// force_recompute is set. A table with failed windows is returned but not
// cached. A panic is reported as the result's error.
func (p *Pipeline) ProcessProband(id string, width time.Duration) (res ProbandResult) {
	logf := monitoring.Prefixed(fmt.Sprintf("[proband %s] ", id))
	started := p.Clock.Now()
	res = ProbandResult{Proband: id, Width: width}
	defer func() { res.Duration = p.Clock.Since(started) }()
	defer func() {
		if r := recover(); r != nil {
			res.Table = nil
			res.Err = fmt.Errorf("proband %s width %ss: panic: %v", id, store.WidthLabel(width), r)
		}
	}()

	if !p.Config.GetForceRecompute() && p.Store.Cached(id, width) {
		t, err := p.Store.Load(id, width)
		if err == nil {
			res.Table, res.Cached = t, true
			return res
		}
		logf("cached features unreadable, recomputing: %v", err)
	}

	t, failed, err := p.compute(id, width, logf)
	if err != nil {
		res.Err = fmt.Errorf("proband %s width %ss: %w", id, store.WidthLabel(width), err)
		return res
	}
	if len(failed) > 0 {
		logf("%d window(s) failed, table not cached", len(failed))
		res.Table, res.FailedWindows = t, failed
		return res
	}
	if err := p.Store.Save(t); err != nil {
		res.Err = fmt.Errorf("proband %s width %ss: save: %w", id, store.WidthLabel(width), err)
		return res
	}
	res.Table = t
	return res
}

func (p *Pipeline) compute(id string, width time.Duration, logf func(string, ...interface{})) (*features.Table, []aggregate.WindowError, error) {
	raw, err := p.Source.Series(id)
	if err != nil {
		return nil, nil, err
	}
	if err := series.AddSphericalCoordinates(raw); err != nil {
		return nil, nil, fmt.Errorf("spherical coordinates: %w", err)
	}
	for _, name := range p.channels.Channels(channels.KindBinary) {
		if !raw.Has(name) {
			raw.Fill(name, 0)
		}
	}

	resampled, err := series.Resample(raw, series.ResampleOptions{
		Frequency: p.Config.GetFrequency(),
		Channels:  p.channels,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("resample: %w", err)
	}

	segments, err := p.Source.Phases(id)
	if err != nil {
		return nil, nil, err
	}
	phaseSel, scenarioSel := segments.Check(p.Config.PhasesSelected, p.Config.ScenariosSelected)
	if len(phaseSel) == 0 {
		logf("none of the selected phases %v occur in the phase table", p.Config.PhasesSelected)
	}
	cropped, unknown, err := segments.Crop(resampled, phaseSel, scenarioSel, p.labels)
	if err != nil {
		return nil, nil, fmt.Errorf("crop: %w", err)
	}
	if len(unknown) > 0 {
		logf("unknown variants %v labelled as missing", unknown)
	}

	var (
		t      *features.Table
		failed []aggregate.WindowError
	)
	if width <= 0 {
		t = aggregate.MergeRows(cropped, p.channels)
	} else {
		sched := &aggregate.Scheduler{
			Extractor: p.extractor,
			Workers:   p.Config.GetWindowWorkers(),
			Logf:      logf,
		}
		t, err = sched.ComputeWindows(cropped, width, p.Config.GetStepSize())
		var werrs *aggregate.WindowErrors
		if errors.As(err, &werrs) {
			logf("%v", werrs)
			failed = werrs.Windows
		} else if err != nil {
			return nil, nil, err
		}
		aggregate.AttachGroundTruth(t, raw, width)
		aggregate.AttachSampleProportion(t, width, p.Config.GetFrequency())
	}
	t.Proband = id
	t.Width = width
	return t, failed, nil
}

// Run processes every selected proband for every width, writes the
// per-width corpus and records the run in the ledger. Failed probands are
// reported and left out of the corpus; Run returns ErrNoData when none
// succeeded.
func (p *Pipeline) Run() (*Report, error) {
	logf := monitoring.Prefixed("")
	started := p.Clock.Now()
	report := &Report{Corpora: make(map[time.Duration]*features.Table)}

	if p.DB != nil {
		cfg, err := json.Marshal(p.Config)
		if err != nil {
			return nil, fmt.Errorf("encode configuration: %w", err)
		}
		report.RunID, err = p.DB.StartRun(started, version.String(), string(cfg))
		if err != nil {
			return nil, err
		}
	}

	probands := p.Config.ProbandsSelected
	failed, incomplete := 0, 0
	for _, width := range p.Widths() {
		results := make([]ProbandResult, len(probands))
		var g errgroup.Group
		g.SetLimit(p.Config.GetProbandWorkers())
		for i, id := range probands {
			g.Go(func() error {
				results[i] = p.ProcessProband(id, width)
				return nil
			})
		}
		_ = g.Wait()

		var tables []*features.Table
		for _, r := range results {
			if err := p.record(report.RunID, r); err != nil {
				return report, err
			}
			if r.Err != nil {
				failed++
				logf("[proband %s] failed: %v", r.Proband, r.Err)
				continue
			}
			if len(r.FailedWindows) > 0 {
				incomplete++
			}
			tables = append(tables, r.Table)
		}
		report.Results = append(report.Results, results...)
		if len(tables) == 0 {
			continue
		}

		corpus := features.Concat(width, tables...)
		if minProportion := p.Config.GetMinSampleProportion(); minProportion > 0 && width > 0 {
			corpus = corpus.FilterByProportion(minProportion)
		}
		if err := p.Store.SaveCorpus(corpus); err != nil {
			return report, fmt.Errorf("save corpus: %w", err)
		}
		if p.DB != nil {
			if err := p.DB.ReplaceCorpus(corpus); err != nil {
				return report, fmt.Errorf("store corpus: %w", err)
			}
		}
		report.Corpora[width] = corpus
	}

	if p.DB != nil {
		if err := p.DB.FinishRun(report.RunID, p.Clock.Now(), failed); err != nil {
			return report, err
		}
	}
	logf("processed %d proband table(s), %d failed, %d with failed windows, in %s",
		len(report.Results), failed, incomplete, p.Clock.Since(started).Round(time.Millisecond))

	if len(report.Corpora) == 0 {
		return report, ErrNoData
	}
	return report, nil
}

func (p *Pipeline) record(runID string, r ProbandResult) error {
	if p.DB == nil {
		return nil
	}
	entry := db.ProbandResult{
		RunID:         runID,
		Proband:       r.Proband,
		Width:         r.Width,
		FailedWindows: len(r.FailedWindows),
		Cached:        r.Cached,
		Duration:      r.Duration,
	}
	if r.Table != nil {
		entry.Windows = r.Table.Len()
	}
	if r.Err != nil {
		entry.Err = r.Err.Error()
	}
	return p.DB.RecordProbandResult(entry)
}
