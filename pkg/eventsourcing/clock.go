package eventsourcing

import "time"

// TimeFunc is the clock used for envelope timestamps and checkpoint times.
// Tests replace it to get reproducible output.
var TimeFunc = time.Now

// Now reads TimeFunc and normalizes to UTC.
func Now() time.Time {
	return TimeFunc().UTC()
}
