package app

import "time"

// newOperationID returns a timestamp-based identifier used to correlate all
// log lines produced by a single CLI invocation.
func newOperationID(now time.Time) string {
	return now.UTC().Format("20060102T150405Z")
}
