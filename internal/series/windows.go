package series

import (
	"sort"
	"time"
)

// WindowStarts returns the start timestamps of the windows [t, t+width)
// that contain data. Candidates run from floor(first, 1s) to ceil(last, 1s)
// every step; a candidate is kept when at least one timestamp of index lies
// strictly inside (t, t+width). index must be sorted.
func WindowStarts(index []time.Time, step, width time.Duration) []time.Time {
	if len(index) == 0 || step <= 0 || width <= 0 {
		return nil
	}
	first, last := floorSecond(index[0]), ceilSecond(index[len(index)-1])

	var starts []time.Time
	for t := first; !t.After(last); t = t.Add(step) {
		// first sample strictly after t
		i := sort.Search(len(index), func(i int) bool { return index[i].After(t) })
		if i < len(index) && index[i].Before(t.Add(width)) {
			starts = append(starts, t)
		}
	}
	return starts
}
