package features

import (
	"math"

	"github.com/gazelab/eyewindow/internal/channels"
)

// eventMetricTypes are the eye-movement types whose event metrics are
// aggregated.
var eventMetricTypes = []struct {
	name string
	code int
}{
	{"FIXA", channels.CodeFixation},
	{"SACC", channels.CodeSaccade},
}

// EventMetricStats aggregates an event-metric channel per eye-movement
// type. The channel only changes when an event ends, so for each of FIXA
// and SACC it keeps the rows of that type, drops consecutive repeats and
// summarises the remaining observations with ContinuousStats under
// event+<TYPE>+<metric>. Missing results become 0 and the sample count is
// omitted.
func EventMetricStats(channel string, values, eventType []float64) (map[string]float64, []Warning) {
	metric := channels.MetricName(channel)
	out := make(map[string]float64, len(eventMetricTypes)*len(continuousMetrics))
	var warnings []Warning

	for _, et := range eventMetricTypes {
		var observed []float64
		var last float64
		for i, v := range values {
			if eventType == nil || eventType[i] != float64(et.code) {
				continue
			}
			if len(observed) == 0 || v-last != 0 {
				observed = append(observed, v)
			}
			last = v
		}

		key := channels.Join("event", et.name, metric)
		group, w := ContinuousStats(key, observed)
		warnings = append(warnings, w...)
		delete(group, channels.KeyNumSamples)
		for k, v := range group {
			if math.IsNaN(v) {
				v = 0
			}
			out[k] = v
		}
	}
	return out, warnings
}
