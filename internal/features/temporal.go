package features

import (
	"math"
	"sort"
	"time"
)

// Activity windows, inclusive hours in the extractor's location.
const (
	nightStartHour = 22
	nightEndHour   = 6
	peakStartHour  = 9
	peakEndHour    = 17
)

// Rapid-activity windows in seconds.
const (
	WalletRapidWindow = 60
	TokenRapidWindow  = 300
)

// temporalStats summarises the timing of a set of events.
type temporalStats struct {
	avgDelta   float64
	minDelta   float64
	rapidRatio float64
	nightRatio float64
	peakRatio  float64
}

// dailyStats summarises per-calendar-day event counts.
type dailyStats struct {
	days         int
	countStd     float64
	maxCount     float64
	avgAbsChange float64
	hasChange    bool
}

func isNightHour(h int) bool {
	return h >= nightStartHour || h <= nightEndHour
}

func isPeakHour(h int) bool {
	return h >= peakStartHour && h <= peakEndHour
}

// collectTimestamps returns the sorted non-nil timestamps.
func collectTimestamps(ts []*int64) []int64 {
	out := make([]int64, 0, len(ts))
	for _, t := range ts {
		if t != nil {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// computeTemporal derives inter-event deltas and hour-of-day ratios.
// Ratios divide by total, the full record count, so records without a
// timestamp dilute them rather than vanish.
func computeTemporal(sorted []int64, total int, rapidWindow int64, loc *time.Location) temporalStats {
	var st temporalStats
	if len(sorted) == 0 || total == 0 {
		return st
	}

	if len(sorted) > 1 {
		deltas := make([]float64, 0, len(sorted)-1)
		rapid := 0
		for i := 1; i < len(sorted); i++ {
			d := sorted[i] - sorted[i-1]
			deltas = append(deltas, float64(d))
			if d < rapidWindow {
				rapid++
			}
		}
		st.avgDelta = mean(deltas)
		st.minDelta, _ = minMax(deltas)
		st.rapidRatio = float64(rapid) / float64(total)
	}

	night, peak := 0, 0
	for _, t := range sorted {
		h := time.Unix(t, 0).In(loc).Hour()
		if isNightHour(h) {
			night++
		}
		if isPeakHour(h) {
			peak++
		}
	}
	st.nightRatio = float64(night) / float64(total)
	st.peakRatio = float64(peak) / float64(total)
	return st
}

// computeDaily buckets events by calendar day in loc. days is at least 1.
func computeDaily(sorted []int64, loc *time.Location) dailyStats {
	st := dailyStats{days: 1}
	if len(sorted) == 0 {
		return st
	}

	// sorted timestamps give days in ascending order
	var counts []float64
	var lastKey string
	for _, t := range sorted {
		key := time.Unix(t, 0).In(loc).Format(time.DateOnly)
		if key != lastKey {
			counts = append(counts, 0)
			lastKey = key
		}
		counts[len(counts)-1]++
	}

	st.days = len(counts)
	st.countStd = sampleStddev(counts, mean(counts))
	_, st.maxCount = minMax(counts)
	if len(counts) > 1 {
		changes := make([]float64, 0, len(counts)-1)
		for i := 1; i < len(counts); i++ {
			changes = append(changes, math.Abs(counts[i]-counts[i-1]))
		}
		st.avgAbsChange = mean(changes)
		st.hasChange = true
	}
	return st
}
