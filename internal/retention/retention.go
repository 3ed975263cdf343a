package retention

import (
	"time"
	_ "time/tzdata"
)

const (
	// WindowDays is how far back the video cache reaches.
	WindowDays = 120
	// TimeZone is the civil calendar the window is measured in.
	TimeZone = "Asia/Seoul"
)

var location = loadLocation()

func loadLocation() *time.Location {
	loc, err := time.LoadLocation(TimeZone)
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}

	return loc
}

func Location() *time.Location { return location }

// Cutoff is now's civil date-time in Asia/Seoul moved back windowDays
// calendar days. Sync and purge both use it, so they always agree on the
// boundary.
func Cutoff(now time.Time, windowDays int) time.Time {
	return now.In(location).AddDate(0, 0, -windowDays)
}

// InWindow reports whether t is on or after cutoff.
func InWindow(t, cutoff time.Time) bool {
	return !t.Before(cutoff)
}

// PurgeCutoffs returns the boundary for ordinary rows and the later-expiring
// boundary for VOD rows, which get graceDays extra.
func PurgeCutoffs(now time.Time, windowDays, graceDays int) (time.Time, time.Time) {
	cutoff := Cutoff(now, windowDays)
	if graceDays <= 0 {
		return cutoff, cutoff
	}

	return cutoff, cutoff.AddDate(0, 0, -graceDays)
}
