package features

import (
	"math"
	"time"

	"github.com/gazelab/eyewindow/internal/channels"
)

// RegionDurationKey names the mean fixation duration feature of a zone.
func RegionDurationKey(zone string) string {
	return channels.Join("aoi", "duration_fixations", zone, "")
}

// RegionShareKey names the fixation share feature of a zone.
func RegionShareKey(zone string) string {
	return channels.Join("aoi", "gaze_event_percentage", zone, "")
}

// RegionStats computes, for every zone, the mean duration of fixation runs
// that land in the zone and the zone's share of all fixation runs that land
// in any zone. Both are 0 when there are no such runs. An empty window
// yields NaN for every feature.
func RegionStats(zones []channels.Zone, zone, fixation []float64, w EventWindow) map[string]float64 {
	out := make(map[string]float64, 2*len(zones))
	if len(w.Index) == 0 {
		for _, z := range zones {
			out[RegionDurationKey(z.Name)] = math.NaN()
			out[RegionShareKey(z.Name)] = math.NaN()
		}
		return out
	}

	runsByZone := make([][]Run, len(zones))
	total := 0
	mask := make([]float64, len(w.Index))
	for i, z := range zones {
		for j := range mask {
			mask[j] = 0
			if zone != nil && fixation != nil && zone[j] == float64(z.ID) && active(fixation[j]) {
				mask[j] = 1
			}
		}
		runsByZone[i] = EventRuns(mask)
		total += len(runsByZone[i])
	}

	for i, z := range zones {
		runs := runsByZone[i]
		duration, share := 0.0, 0.0
		if len(runs) > 0 {
			var sum time.Duration
			for _, r := range runs {
				sum += r.Duration(w.Index, w.Period)
			}
			duration = sum.Seconds() / float64(len(runs))
		}
		if total > 0 {
			share = float64(len(runs)) / float64(total)
		}
		out[RegionDurationKey(z.Name)] = duration
		out[RegionShareKey(z.Name)] = share
	}
	return out
}
