package features

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/gazelab/eyewindow/internal/channels"
)

// Metric names of the continuous-signal group.
const (
	MetricMean         = "mean"
	MetricMedian       = "median"
	MetricStd          = "std"
	MetricQ5           = "q5"
	MetricQ95          = "q95"
	MetricIQR          = "iqr"
	MetricPower        = "power"
	MetricSkewness     = "skewness"
	MetricKurtosis     = "kurtosis"
	MetricNSignChanges = "n_sign_changes"
)

var continuousMetrics = []string{
	MetricMean, MetricMedian, MetricStd, MetricQ5, MetricQ95,
	MetricIQR, MetricPower, MetricSkewness, MetricKurtosis, MetricNSignChanges,
}

// Key joins a channel or group key with a metric name.
func Key(key, metric string) string {
	return key + channels.Separator + metric
}

// ContinuousStats summarises a numeric column: mean, median, population
// standard deviation, 5th/95th percentiles, interquartile range, power
// (sum of squares over the nonzero count, 0 when every value is zero),
// skewness, excess kurtosis and the number of sign changes between
// consecutive samples. Missing samples are omitted; an empty or all-missing
// column yields NaN for every metric. The window's raw sample count is
// always emitted under agg+num_samples++.
func ContinuousStats(key string, x []float64) (map[string]float64, []Warning) {
	out := make(map[string]float64, len(continuousMetrics)+1)
	for _, m := range continuousMetrics {
		out[Key(key, m)] = math.NaN()
	}
	out[channels.KeyNumSamples] = float64(len(x))

	vals := dropMissing(x)
	if len(vals) == 0 {
		return out, nil
	}

	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)

	out[Key(key, MetricMean)] = stat.Mean(vals, nil)
	out[Key(key, MetricMedian)] = quantile(sorted, 0.5)
	out[Key(key, MetricStd)] = stat.PopStdDev(vals, nil)
	out[Key(key, MetricQ5)] = quantile(sorted, 0.05)
	out[Key(key, MetricQ95)] = quantile(sorted, 0.95)
	out[Key(key, MetricIQR)] = quantile(sorted, 0.75) - quantile(sorted, 0.25)

	nonzero := 0
	for _, v := range vals {
		if v != 0 {
			nonzero++
		}
	}
	if nonzero == 0 {
		out[Key(key, MetricPower)] = 0
	} else {
		out[Key(key, MetricPower)] = floats.Dot(vals, vals) / float64(nonzero)
	}

	var warnings []Warning
	for _, m := range []struct {
		name string
		fn   func([]float64) Moment
	}{
		{MetricSkewness, Skewness},
		{MetricKurtosis, Kurtosis},
	} {
		res := m.fn(vals)
		out[Key(key, m.name)] = res.Value
		if res.Degenerate {
			warnings = append(warnings, Warning{Key: key, Metric: m.name, Reason: res.Reason})
		}
	}

	out[Key(key, MetricNSignChanges)] = float64(signChanges(vals))
	return out, warnings
}

func signChanges(x []float64) int {
	n := 0
	for i := 1; i < len(x); i++ {
		if sign(x[i]) != sign(x[i-1]) {
			n++
		}
	}
	return n
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func dropMissing(x []float64) []float64 {
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}
