package features

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gazelab/eyewindow/internal/channels"
	"github.com/gazelab/eyewindow/internal/series"
)

var base = time.Date(2023, 5, 4, 10, 0, 0, 0, time.UTC)

const period = 20 * time.Millisecond

// grid returns n timestamps spaced by period starting at base.
func grid(n int) []time.Time {
	index := make([]time.Time, n)
	for i := range index {
		index[i] = base.Add(time.Duration(i) * period)
	}
	return index
}

func TestContinuousStats(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		x        []float64
		want     map[string]float64
		warnings int
	}{
		{
			name: "ramp",
			x:    []float64{1, 2, 3, 4},
			want: map[string]float64{
				"k+mean":            2.5,
				"k+median":          2.5,
				"k+std":             math.Sqrt(1.25),
				"k+q5":              1.15,
				"k+q95":             3.85,
				"k+iqr":             1.5,
				"k+power":           7.5,
				"k+skewness":        0,
				"k+kurtosis":        -1.36,
				"k+n_sign_changes":  0,
				"agg+num_samples++": 4,
			},
		},
		{
			name: "all zero",
			x:    []float64{0, 0, 0},
			want: map[string]float64{
				"k+mean":            0,
				"k+median":          0,
				"k+std":             0,
				"k+q5":              0,
				"k+q95":             0,
				"k+iqr":             0,
				"k+power":           0,
				"k+skewness":        math.NaN(),
				"k+kurtosis":        math.NaN(),
				"k+n_sign_changes":  0,
				"agg+num_samples++": 3,
			},
			warnings: 2,
		},
		{
			name: "missing samples are skipped",
			x:    []float64{1, -1, 2, math.NaN(), -3},
			want: map[string]float64{
				"k+n_sign_changes":  3,
				"agg+num_samples++": 5,
				"k+power":           15.0 / 4,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, warnings := ContinuousStats("k", tc.x)
			assert.Len(t, warnings, tc.warnings)
			for k, want := range tc.want {
				v, ok := got[k]
				require.True(t, ok, "missing %s", k)
				if math.IsNaN(want) {
					assert.True(t, math.IsNaN(v), "%s = %v", k, v)
					continue
				}
				assert.InDelta(t, want, v, 1e-9, k)
			}
		})
	}
}

func TestContinuousStats_Empty(t *testing.T) {
	t.Parallel()
	for _, x := range [][]float64{nil, {math.NaN(), math.NaN()}} {
		got, warnings := ContinuousStats("k", x)
		assert.Empty(t, warnings)
		assert.Len(t, got, len(continuousMetrics)+1)
		assert.Equal(t, float64(len(x)), got[channels.KeyNumSamples])
		for _, m := range continuousMetrics {
			assert.True(t, math.IsNaN(got[Key("k", m)]), m)
		}
	}
}

func TestQuantile(t *testing.T) {
	t.Parallel()
	sorted := []float64{10, 20, 30, 40, 50}
	assert.InDelta(t, 30.0, quantile(sorted, 0.5), 1e-12)
	assert.InDelta(t, 12.0, quantile(sorted, 0.05), 1e-12)
	assert.InDelta(t, 48.0, quantile(sorted, 0.95), 1e-12)
	assert.Equal(t, 50.0, quantile(sorted, 1))
	assert.Equal(t, 7.0, quantile([]float64{7}, 0.25))
	assert.True(t, math.IsNaN(quantile(nil, 0.5)))
}

func TestEventRuns(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		indicator []float64
		want      []Run
	}{
		{"closed run", []float64{0, 1, 1, 1, 1, 0}, []Run{{1, 5}}},
		{"open at both ends", []float64{1, 1, 0, 1}, []Run{{0, 2}, {3, 3}}},
		{"missing is inactive", []float64{1, math.NaN(), 1}, []Run{{0, 1}, {2, 2}}},
		{"none", []float64{0, 0}, nil},
		{"empty", nil, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, EventRuns(tc.indicator))
		})
	}
}

func TestRunDuration(t *testing.T) {
	t.Parallel()
	index := grid(6)
	runs := EventRuns([]float64{0, 1, 1, 1, 1, 0})
	require.Len(t, runs, 1)
	assert.Equal(t, 60*time.Millisecond, runs[0].Duration(index, period))

	single := Run{Start: 3, End: 3}
	assert.Zero(t, single.Duration(index, period))
}

func TestBinaryEventStats(t *testing.T) {
	t.Parallel()
	w := EventWindow{
		Index:           grid(6),
		Period:          period,
		EventType:       []float64{1, 2, 2, 2, 2, 1},
		AngularVelocity: []float64{1, -2, 3, math.NaN(), 4, 5},
	}
	got := BinaryEventStats("event+FIXA+onehot", []float64{0, 1, 1, 1, 1, 0}, w)

	assert.Equal(t, 1.0, got["event+FIXA+onehot+event_count"])
	assert.InDelta(t, 0.06, got["event+FIXA+onehot+duration"], 1e-9)
	assert.InDelta(t, 14.0, got["event+FIXA+onehot+amplitude"], 1e-9)
	assert.InDelta(t, 0.5, got["event+FIXA+onehot+percentage_events"], 1e-9)
}

func TestBinaryEventStats_NoRuns(t *testing.T) {
	t.Parallel()
	w := EventWindow{Index: grid(3), Period: period}
	got := BinaryEventStats("b", []float64{0, 0, 0}, w)
	for _, m := range binaryMetrics {
		assert.Zero(t, got[Key("b", m)], m)
	}

	empty := BinaryEventStats("b", nil, EventWindow{Period: period})
	require.Len(t, empty, len(binaryMetrics))
	for _, v := range empty {
		assert.True(t, math.IsNaN(v))
	}
}

func TestRegionStats(t *testing.T) {
	t.Parallel()
	zones := []channels.Zone{{ID: 1, Name: "road"}, {ID: 2, Name: "mirror"}}
	w := EventWindow{Index: grid(10), Period: period}
	zone := []float64{1, 1, 1, 0, 2, 2, 0, 1, 1, 0}
	fixation := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}

	got := RegionStats(zones, zone, fixation, w)

	assert.InDelta(t, 0.03, got["aoi+duration_fixations+road+"], 1e-9)
	assert.InDelta(t, 0.02, got["aoi+duration_fixations+mirror+"], 1e-9)
	assert.InDelta(t, 2.0/3, got["aoi+gaze_event_percentage+road+"], 1e-9)
	assert.InDelta(t, 1.0/3, got["aoi+gaze_event_percentage+mirror+"], 1e-9)

	empty := RegionStats(zones, nil, nil, EventWindow{Period: period})
	require.Len(t, empty, 4)
	for _, v := range empty {
		assert.True(t, math.IsNaN(v))
	}
}

func TestEventMetricStats(t *testing.T) {
	t.Parallel()
	values := []float64{5, 5, 5, 7, 7, 9, 9}
	eventType := []float64{0, 0, 0, 0, 2, 2, 2}

	got, warnings := EventMetricStats("event+eye_movement_peak_vel+eventspec", values, eventType)
	assert.Empty(t, warnings)
	assert.NotContains(t, got, channels.KeyNumSamples)
	assert.Len(t, got, 2*len(continuousMetrics))

	assert.InDelta(t, 6.0, got["event+FIXA+peak_vel+mean"], 1e-9)
	assert.InDelta(t, 1.0, got["event+FIXA+peak_vel+std"], 1e-9)
	assert.InDelta(t, -2.0, got["event+FIXA+peak_vel+kurtosis"], 1e-9)
	assert.InDelta(t, 8.0, got["event+SACC+peak_vel+mean"], 1e-9)
}

func TestEventMetricStats_MissingBecomesZero(t *testing.T) {
	t.Parallel()
	got, _ := EventMetricStats("event+eye_movement_peak_vel+eventspec", []float64{1, 2}, nil)
	require.Len(t, got, 2*len(continuousMetrics))
	for k, v := range got {
		assert.Zero(t, v, k)
	}
}

func TestMode(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 2.0, Mode([]float64{1, 2, 2, math.NaN()}))
	assert.Equal(t, 1.0, Mode([]float64{2, 1, 2, 1}))
	assert.True(t, math.IsNaN(Mode([]float64{math.NaN()})))
	assert.True(t, math.IsNaN(Mode(nil)))
}

const peakVelocity = "event+eye_movement_peak_vel+eventspec"

func testExtractor(t *testing.T) *Extractor {
	t.Helper()
	cls, err := channels.NewBuilder().
		Add(channels.KindContinuous, channels.RoleContinuous, "gaze+x+", channels.AngularVelocity).
		Add(channels.KindBinary, channels.RoleBinaryEvent, channels.Fixation).
		Add(channels.KindCategorical, channels.RoleRegion, channels.TargetZone).
		Add(channels.KindCategorical, channels.RoleNone, channels.EyeMovementType).
		Add(channels.KindEventMetric, channels.RoleEventMetric, peakVelocity).
		Add(channels.KindCategorical, channels.RoleLabel, channels.Phase).
		Build()
	require.NoError(t, err)
	return &Extractor{
		Channels: cls,
		Zones:    []channels.Zone{{ID: 1, Name: "road"}},
		Period:   period,
	}
}

// fixationSeries is 10 s at 50 Hz with a single 2 s fixation in the middle
// and the gaze always on zone 1.
func fixationSeries(t *testing.T) *series.Series {
	t.Helper()
	const n = 500
	s := series.New(grid(n))
	cols := map[string][]float64{}
	for _, name := range []string{"gaze+x+", channels.AngularVelocity, channels.Fixation,
		channels.TargetZone, channels.EyeMovementType, peakVelocity, channels.Phase} {
		cols[name] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		cols["gaze+x+"][i] = math.Sin(float64(i) / 25)
		cols[channels.AngularVelocity][i] = 1
		cols[channels.TargetZone][i] = 1
		cols[channels.EyeMovementType][i] = float64(channels.CodeSaccade)
		cols[peakVelocity][i] = 100
		cols[channels.Phase][i] = 3
		if i >= 200 && i < 300 {
			cols[channels.Fixation][i] = 1
			cols[channels.EyeMovementType][i] = float64(channels.CodeFixation)
			cols[peakVelocity][i] = 40
		}
	}
	for name, vals := range cols {
		require.NoError(t, s.Set(name, vals))
	}
	return s
}

func TestExtract_FixationScenario(t *testing.T) {
	t.Parallel()
	e := testExtractor(t)
	s := fixationSeries(t)

	res, err := e.Extract(s, base, 10*time.Second)
	require.NoError(t, err)
	v := res.Record.Values

	assert.Equal(t, base, res.Record.Start)
	assert.Equal(t, 500.0, v[channels.KeyNumSamples])
	assert.Equal(t, 1.0, v["event+FIXA+onehot+event_count"])
	assert.InDelta(t, 2.0, v["event+FIXA+onehot+duration"], 0.02)
	assert.Equal(t, 1.0, v["aoi+gaze_event_percentage+road+"])
	assert.InDelta(t, 2.0, v["aoi+duration_fixations+road+"], 0.02)
	assert.Equal(t, 40.0, v["event+FIXA+peak_vel+mean"])
	assert.Equal(t, 3.0, v["groundtruth+phase++"])
	assert.Contains(t, v, "gaze+x++mean")
	assert.NotContains(t, v, channels.EyeMovementType+"+mean")
}

func TestExtract_SchemaStable(t *testing.T) {
	t.Parallel()
	e := testExtractor(t)
	s := fixationSeries(t)

	full, err := e.Extract(s, base, 2*time.Second)
	require.NoError(t, err)
	empty, err := e.Extract(s, base.Add(time.Hour), 2*time.Second)
	require.NoError(t, err)

	assert.Equal(t, 0.0, empty.Record.Values[channels.KeyNumSamples])
	if diff := cmp.Diff(full.Record.Keys(), empty.Record.Keys()); diff != "" {
		t.Errorf("key sets differ between populated and empty windows (-full +empty):\n%s", diff)
	}
}

func TestExtract_DegenerateWarnings(t *testing.T) {
	t.Parallel()
	e := testExtractor(t)
	s := fixationSeries(t)

	// angular velocity is constant, so its higher moments are degenerate
	res, err := e.Extract(s, base, 10*time.Second)
	require.NoError(t, err)
	var metrics []string
	for _, w := range res.Warnings {
		if w.Key == channels.AngularVelocity {
			metrics = append(metrics, w.Metric)
		}
	}
	assert.ElementsMatch(t, []string{MetricSkewness, MetricKurtosis}, metrics)
	assert.True(t, math.IsNaN(res.Record.Values[Key(channels.AngularVelocity, MetricSkewness)]))
}

func TestRecordMerge(t *testing.T) {
	t.Parallel()
	r := NewRecord(base)
	require.NoError(t, r.Merge(map[string]float64{"a": 1, "n": math.NaN()}))
	require.NoError(t, r.Merge(map[string]float64{"a": 1, "n": math.NaN(), "b": 2}))
	assert.Error(t, r.Merge(map[string]float64{"a": 3}))
	assert.Equal(t, []string{"a", "b", "n"}, r.Keys())
}

func TestTable(t *testing.T) {
	t.Parallel()
	mk := func(sec int, proportion float64) Record {
		r := NewRecord(base.Add(time.Duration(sec) * time.Second))
		r.Values[channels.KeyProportionSample] = proportion
		return r
	}
	a := &Table{Proband: "p1", Width: 10 * time.Second, Records: []Record{mk(20, 1), mk(0, 0.5)}}
	b := &Table{Proband: "p2", Width: 10 * time.Second, Records: []Record{mk(10, 0.8)}}

	all := Concat(10*time.Second, a, nil, b)
	require.Equal(t, 3, all.Len())
	assert.Equal(t, []string{"p1", "p2", "p1"},
		[]string{all.Records[0].Proband, all.Records[1].Proband, all.Records[2].Proband})
	assert.Equal(t, []string{channels.KeyProportionSample}, all.Columns())

	kept := all.FilterByProportion(0.75)
	assert.Equal(t, 2, kept.Len())
}
