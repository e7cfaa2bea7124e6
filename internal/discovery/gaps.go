// Package discovery finds register publication dates the manifest does not
// know about yet. It layers three tiers by cost: the landing page scrape,
// cadence-guided gap probing, and the full bootstrap scan.
package discovery

import (
	"sort"
	"time"
)

// Gap is a span between two anchor dates long enough that the biweekly
// publication cadence implies at least one missed document inside it.
// Start and End are confirmed (or "today") anchors, never candidates.
type Gap struct {
	Start time.Time
	End   time.Time
}

// Days returns the span length in whole days.
func (g Gap) Days() int {
	return int(g.End.Sub(g.Start).Hours() / 24)
}

// Contains reports whether d falls strictly inside the gap window.
func (g Gap) Contains(d time.Time) bool {
	return d.After(g.Start) && d.Before(g.End)
}

// DetectGaps scans the sorted set of known publication dates for spans
// longer than thresholdDays, including the trailing span from the newest
// known date to today. An empty input yields no gaps; bootstrap handles
// that case instead.
func DetectGaps(known []time.Time, today time.Time, thresholdDays int) []Gap {
	if len(known) == 0 {
		return nil
	}
	dates := make([]time.Time, len(known))
	copy(dates, known)
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	threshold := time.Duration(thresholdDays) * 24 * time.Hour
	var found []Gap
	for i := 1; i < len(dates); i++ {
		if dates[i].Sub(dates[i-1]) > threshold {
			found = append(found, Gap{Start: dates[i-1], End: dates[i]})
		}
	}
	if last := dates[len(dates)-1]; today.Sub(last) > threshold {
		found = append(found, Gap{Start: last, End: today})
	}
	return found
}
