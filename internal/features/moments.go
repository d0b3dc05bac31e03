package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Moment is the outcome of a higher-moment computation. Degenerate
// outcomes (zero variance, too few samples) carry NaN and a reason instead
// of failing.
type Moment struct {
	Value      float64
	Degenerate bool
	Reason     string
}

func degenerate(reason string) Moment {
	return Moment{Value: math.NaN(), Degenerate: true, Reason: reason}
}

// resolution is the float64 precision used to decide that a variance is
// indistinguishable from zero relative to the mean.
const resolution = 1e-15

// centralMoments returns the biased second central moment of x and whether
// it is too small for the third and fourth moments to be meaningful.
func centralMoments(x []float64) (m2 float64, ok bool) {
	if len(x) == 0 {
		return math.NaN(), false
	}
	mean := stat.Mean(x, nil)
	m2 = stat.Moment(2, x, nil)
	return m2, m2 > (resolution*mean)*(resolution*mean)
}

// Skewness returns the biased Fisher-Pearson skewness m3/m2^1.5.
func Skewness(x []float64) Moment {
	m2, ok := centralMoments(x)
	if !ok {
		return degenerate("variance is zero")
	}
	v := stat.Moment(3, x, nil) / math.Pow(m2, 1.5)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return degenerate(fmt.Sprintf("skewness not finite (m2=%g)", m2))
	}
	return Moment{Value: v}
}

// Kurtosis returns the biased excess (Fisher) kurtosis m4/m2^2 - 3.
func Kurtosis(x []float64) Moment {
	m2, ok := centralMoments(x)
	if !ok {
		return degenerate("variance is zero")
	}
	v := stat.Moment(4, x, nil)/(m2*m2) - 3
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return degenerate(fmt.Sprintf("kurtosis not finite (m2=%g)", m2))
	}
	return Moment{Value: v}
}

// Warning reports a degenerate statistic of one feature key.
type Warning struct {
	Key    string
	Metric string
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s %s: %s", w.Key, w.Metric, w.Reason)
}

// quantile returns the p-quantile of sorted values with linear
// interpolation between closest ranks, matching numpy's default.
func quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	h := float64(n-1) * p
	lo := int(math.Floor(h))
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[hi]-sorted[lo])
}
