package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gazelab/eyewindow/internal/channels"
	"github.com/gazelab/eyewindow/internal/fsutil"
	"github.com/gazelab/eyewindow/internal/series"
)

// DefaultConfigPath is the path to the canonical aggregation defaults file.
const DefaultConfigPath = "config/aggregation.defaults.json"

// ErrNoProbands is returned when a configuration selects no proband.
var ErrNoProbands = errors.New("no probands selected")

// maxFileSize bounds configuration files.
const maxFileSize = 1 * 1024 * 1024 // 1MB

// AggregationConfig is the root configuration of an aggregation run. It
// can be written as JSON or YAML; unset fields fall back to the defaults
// returned by the Get* methods, so partial configs are safe.
type AggregationConfig struct {
	// Paths
	DataDirectory   *string `json:"data_directory,omitempty" yaml:"data_directory,omitempty"`
	OutputDirectory *string `json:"output_directory,omitempty" yaml:"output_directory,omitempty"`
	DatabasePath    *string `json:"database_path,omitempty" yaml:"database_path,omitempty"`

	// Selection
	ProbandsSelected  []string `json:"probands_selected,omitempty" yaml:"probands_selected,omitempty"`
	PhasesSelected    []string `json:"phases_selected,omitempty" yaml:"phases_selected,omitempty"`
	ScenariosSelected []string `json:"scenarios_selected,omitempty" yaml:"scenarios_selected,omitempty"`

	// Windowing, in seconds and Hz
	WindowWidths      []float64 `json:"window_widths,omitempty" yaml:"window_widths,omitempty"`
	StepSize          *float64  `json:"step_size,omitempty" yaml:"step_size,omitempty"`
	Frequency         *float64  `json:"frequency,omitempty" yaml:"frequency,omitempty"`
	WindowAggregation *bool     `json:"window_aggregation,omitempty" yaml:"window_aggregation,omitempty"`

	// Channel treatment
	NumericalFeatures         []string `json:"numerical_features,omitempty" yaml:"numerical_features,omitempty"`
	BinaryFeatures            []string `json:"binary_features,omitempty" yaml:"binary_features,omitempty"`
	SingleEyeMovementFeatures []string `json:"single_eye_movement_features,omitempty" yaml:"single_eye_movement_features,omitempty"`
	EventspecFeatures         []string `json:"eventspec_features,omitempty" yaml:"eventspec_features,omitempty"`
	IntegerFeatures           []string `json:"integer_features,omitempty" yaml:"integer_features,omitempty"`
	LabelFeatures             []string `json:"label_features,omitempty" yaml:"label_features,omitempty"`

	// Target zones come from an XML file or inline id -> name pairs.
	TargetZonesFile *string        `json:"target_zones_file,omitempty" yaml:"target_zones_file,omitempty"`
	TargetZones     map[int]string `json:"target_zones,omitempty" yaml:"target_zones,omitempty"`

	// Execution
	ProbandWorkers *int  `json:"proband_workers,omitempty" yaml:"proband_workers,omitempty"`
	WindowWorkers  *int  `json:"window_workers,omitempty" yaml:"window_workers,omitempty"`
	ForceRecompute *bool `json:"force_recompute,omitempty" yaml:"force_recompute,omitempty"`

	// Timezone applied to timestamps without an offset.
	Timezone *string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	// PhaseCodes maps non-numeric phase names to codes.
	PhaseCodes map[string]int `json:"phase_codes,omitempty" yaml:"phase_codes,omitempty"`
	// VariantCodes maps non-numeric phase-table variants to codes.
	VariantCodes map[string]int `json:"variant_codes,omitempty" yaml:"variant_codes,omitempty"`
	// MinSampleProportion drops corpus rows below this sample proportion.
	MinSampleProportion *float64 `json:"min_sample_proportion,omitempty" yaml:"min_sample_proportion,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyAggregationConfig returns an AggregationConfig with all fields unset.
func EmptyAggregationConfig() *AggregationConfig {
	return &AggregationConfig{}
}

// LoadAggregationConfig loads an AggregationConfig from a .json, .yaml or
// .yml file no larger than 1MB and validates it.
func LoadAggregationConfig(path string) (*AggregationConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyAggregationConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *AggregationConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/<pkg>/ or cmd/eyewindow/
		"../../../" + DefaultConfigPath, // one level deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadAggregationConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *AggregationConfig) Validate() error {
	if len(c.ProbandsSelected) == 0 {
		return ErrNoProbands
	}
	for _, id := range c.ProbandsSelected {
		if strings.TrimSpace(id) == "" || strings.ContainsAny(id, `/\`) {
			return fmt.Errorf("invalid proband id %q", id)
		}
	}

	for _, w := range c.WindowWidths {
		if w <= 0 {
			return fmt.Errorf("window_widths must be positive, got %g", w)
		}
	}
	if c.StepSize != nil && *c.StepSize <= 0 {
		return fmt.Errorf("step_size must be positive, got %g", *c.StepSize)
	}
	if c.Frequency != nil && (*c.Frequency <= 0 || *c.Frequency > 1e6) {
		return fmt.Errorf("frequency must be in (0, 1e6] Hz, got %g", *c.Frequency)
	}
	if c.ProbandWorkers != nil && *c.ProbandWorkers < 1 {
		return fmt.Errorf("proband_workers must be at least 1, got %d", *c.ProbandWorkers)
	}
	if c.WindowWorkers != nil && *c.WindowWorkers < 1 {
		return fmt.Errorf("window_workers must be at least 1, got %d", *c.WindowWorkers)
	}
	if c.MinSampleProportion != nil && (*c.MinSampleProportion < 0 || *c.MinSampleProportion > 1) {
		return fmt.Errorf("min_sample_proportion must be between 0 and 1, got %f", *c.MinSampleProportion)
	}

	if c.Timezone != nil && *c.Timezone != "" {
		if _, err := time.LoadLocation(*c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", *c.Timezone, err)
		}
	}

	if c.TargetZonesFile != nil && *c.TargetZonesFile != "" && len(c.TargetZones) > 0 {
		return errors.New("target_zones_file and target_zones are mutually exclusive")
	}

	book := c.PhaseCodebook()
	for _, phase := range c.PhasesSelected {
		if _, err := book.Encode(phase); err != nil {
			return fmt.Errorf("phases_selected: %w", err)
		}
	}
	for _, scenario := range c.ScenariosSelected {
		if _, err := channels.Scenarios.Encode(scenario); err != nil {
			return fmt.Errorf("scenarios_selected: %w", err)
		}
	}

	if _, err := c.Classification(); err != nil {
		return err
	}
	return nil
}

// GetDataDirectory returns the raw data root or the default.
func (c *AggregationConfig) GetDataDirectory() string {
	if c.DataDirectory == nil || *c.DataDirectory == "" {
		return "data"
	}
	return *c.DataDirectory
}

// GetOutputDirectory returns the output root or the default.
func (c *AggregationConfig) GetOutputDirectory() string {
	if c.OutputDirectory == nil || *c.OutputDirectory == "" {
		return "output"
	}
	return *c.OutputDirectory
}

// GetDatabasePath returns the SQLite path, defaulting to eyewindow.db in the
// output directory.
func (c *AggregationConfig) GetDatabasePath() string {
	if c.DatabasePath == nil || *c.DatabasePath == "" {
		return filepath.Join(c.GetOutputDirectory(), "eyewindow.db")
	}
	return *c.DatabasePath
}

// GetWindowWidths returns the configured window widths, 60s by default.
func (c *AggregationConfig) GetWindowWidths() []time.Duration {
	if len(c.WindowWidths) == 0 {
		return []time.Duration{60 * time.Second}
	}
	out := make([]time.Duration, len(c.WindowWidths))
	for i, w := range c.WindowWidths {
		out[i] = seconds(w)
	}
	return out
}

// GetStepSize returns the window step, 1s by default.
func (c *AggregationConfig) GetStepSize() time.Duration {
	if c.StepSize == nil {
		return time.Second
	}
	return seconds(*c.StepSize)
}

// GetFrequency returns the resampling frequency in Hz.
func (c *AggregationConfig) GetFrequency() float64 {
	if c.Frequency == nil {
		return series.DefaultFrequency
	}
	return *c.Frequency
}

// GetWindowAggregation reports whether windows are computed. When false,
// every resampled row becomes one record.
func (c *AggregationConfig) GetWindowAggregation() bool {
	if c.WindowAggregation == nil {
		return true
	}
	return *c.WindowAggregation
}

// GetProbandWorkers returns the number of probands processed in parallel.
func (c *AggregationConfig) GetProbandWorkers() int {
	if c.ProbandWorkers == nil {
		return 1
	}
	return *c.ProbandWorkers
}

// GetWindowWorkers returns the number of windows computed in parallel per
// proband. Unset, the CPUs are divided among proband workers and capped
// at 32.
func (c *AggregationConfig) GetWindowWorkers() int {
	if c.WindowWorkers != nil {
		return *c.WindowWorkers
	}
	return defaultWindowWorkers(runtime.NumCPU(), c.GetProbandWorkers())
}

func defaultWindowWorkers(cpus, probandWorkers int) int {
	return min(32, max(1, cpus/max(1, probandWorkers)))
}

// GetForceRecompute returns the force_recompute value or the default.
func (c *AggregationConfig) GetForceRecompute() bool {
	if c.ForceRecompute == nil {
		return false
	}
	return *c.ForceRecompute
}

// GetLocation returns the timezone for offset-less timestamps, UTC by
// default. Validate has already checked the name.
func (c *AggregationConfig) GetLocation() *time.Location {
	if c.Timezone == nil || *c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(*c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GetMinSampleProportion returns the corpus sample-proportion threshold.
func (c *AggregationConfig) GetMinSampleProportion() float64 {
	if c.MinSampleProportion == nil {
		return 0
	}
	return *c.MinSampleProportion
}

// Default channel lists.
var (
	defaultNumerical = []string{
		channels.AngularVelocity, series.GazeAzimuth, series.GazeElevation,
	}
	defaultSingleEyeMovement = []string{
		channels.RightEyeState, channels.LeftEyeState, channels.Fixation, channels.Saccade,
	}
	defaultEventspec = []string{
		"event+eye_movement_peak_vel+eventspec",
		"event+eye_movement_avg_vel+eventspec",
		"event+eye_movement_med_vel+eventspec",
		"event+eye_movement_amp_given+eventspec",
		"event+eye_movement_duration+eventspec",
	}
	defaultInteger = []string{
		channels.EyeMovementType, channels.Scenario, channels.Phase, channels.TargetZone,
	}
	defaultLabel = []string{channels.Phase, channels.Scenario, channels.Variant}
)

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}

// GetBinaryFeatures returns the binary channels. Every single-eye-movement
// channel is binary even when not listed.
func (c *AggregationConfig) GetBinaryFeatures() []string {
	set := make(map[string]struct{})
	for _, name := range orDefault(c.BinaryFeatures, defaultSingleEyeMovement) {
		set[name] = struct{}{}
	}
	for _, name := range c.GetSingleEyeMovementFeatures() {
		set[name] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// GetNumericalFeatures returns the continuous channels.
func (c *AggregationConfig) GetNumericalFeatures() []string {
	return orDefault(c.NumericalFeatures, defaultNumerical)
}

// GetSingleEyeMovementFeatures returns the binary-event channels.
func (c *AggregationConfig) GetSingleEyeMovementFeatures() []string {
	return orDefault(c.SingleEyeMovementFeatures, defaultSingleEyeMovement)
}

// GetEventspecFeatures returns the event-metric channels.
func (c *AggregationConfig) GetEventspecFeatures() []string {
	return orDefault(c.EventspecFeatures, defaultEventspec)
}

// GetIntegerFeatures returns the categorical channels.
func (c *AggregationConfig) GetIntegerFeatures() []string {
	return orDefault(c.IntegerFeatures, defaultInteger)
}

// GetLabelFeatures returns the channels emitted as the window mode.
func (c *AggregationConfig) GetLabelFeatures() []string {
	return orDefault(c.LabelFeatures, defaultLabel)
}

// Classification resolves every configured channel to its interpolation
// kind and aggregation role. The target-zone channel feeds the region
// group when zones are configured.
func (c *AggregationConfig) Classification() (*channels.Classification, error) {
	b := channels.NewBuilder().
		Add(channels.KindContinuous, channels.RoleContinuous, c.GetNumericalFeatures()...).
		Add(channels.KindBinary, channels.RoleNone, c.GetBinaryFeatures()...).
		Add(channels.KindBinary, channels.RoleBinaryEvent, c.GetSingleEyeMovementFeatures()...).
		Add(channels.KindCategorical, channels.RoleNone, c.GetIntegerFeatures()...).
		Add(channels.KindEventMetric, channels.RoleEventMetric, c.GetEventspecFeatures()...).
		Add(channels.KindCategorical, channels.RoleLabel, c.GetLabelFeatures()...)
	if c.hasZones() {
		b.Add(channels.KindCategorical, channels.RoleRegion, channels.TargetZone)
	}
	cls, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("channel classification: %w", err)
	}
	return cls, nil
}

func (c *AggregationConfig) hasZones() bool {
	return len(c.TargetZones) > 0 || (c.TargetZonesFile != nil && *c.TargetZonesFile != "")
}

// Zones returns the configured target zones sorted by id, reading
// target_zones_file through fsys when set.
func (c *AggregationConfig) Zones(fsys fsutil.FileSystem) ([]channels.Zone, error) {
	if c.TargetZonesFile == nil || *c.TargetZonesFile == "" {
		return channels.ZonesFromMap(c.TargetZones), nil
	}
	f, err := fsys.Open(*c.TargetZonesFile)
	if err != nil {
		return nil, fmt.Errorf("open target zones: %w", err)
	}
	defer f.Close()
	zones, err := channels.ParseZones(f)
	if err != nil {
		return nil, fmt.Errorf("parse target zones %s: %w", *c.TargetZonesFile, err)
	}
	return zones, nil
}

// Codebooks returns the string decoders of categorical raw columns.
func (c *AggregationConfig) Codebooks() map[string]channels.Codebook {
	return map[string]channels.Codebook{
		channels.EyeMovementType: channels.EyeMovementTypes,
		channels.Scenario:        channels.Scenarios,
	}
}

// PhaseCodebook returns the codebook of phase names.
func (c *AggregationConfig) PhaseCodebook() channels.Codebook {
	return channels.Codebook(c.PhaseCodes)
}

// VariantCode decodes a phase-table variant: numeric variants are used as
// is, others go through variant_codes. ok is false for unknown variants.
func (c *AggregationConfig) VariantCode(variant string) (code float64, ok bool) {
	variant = strings.TrimSpace(variant)
	if variant == "" {
		return 0, false
	}
	if v, err := strconv.ParseFloat(variant, 64); err == nil {
		return v, true
	}
	if v, found := c.VariantCodes[variant]; found {
		return float64(v), true
	}
	return 0, false
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
