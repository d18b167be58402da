package network

import "time"

var startTime = time.Now()

// monotonicSeconds returns seconds elapsed since process start, matching
// the "timestamp_seconds_monotonic" contract of spec.md §6.
func monotonicSeconds() float64 {
	return time.Since(startTime).Seconds()
}
