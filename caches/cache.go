package caches

import "time"

var (
	// DefaultExpiredDuration is how long a persisted item is kept by a backend before the
	// backend itself may reclaim it, independent of the entry's own TTL.
	DefaultExpiredDuration = 24 * time.Hour

	// DefaultExpiredTaskTimer is the default interval of a backend's expired-item sweep.
	DefaultExpiredTaskTimer = 10 * time.Minute
)
