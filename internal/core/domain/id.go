package domain

import "time"

// CountBits is the width of the per-day sequence in the low end of an id.
const CountBits = 32

// DefaultEpoch anchors the timestamp part of generated ids (2022-01-01T00:00:00Z).
var DefaultEpoch = time.Unix(1640995200, 0).UTC()

// ComposeID packs seconds since epoch above a 32-bit sequence number.
func ComposeID(now, epoch time.Time, seq int64) int64 {
	return (now.Unix()-epoch.Unix())<<CountBits | (seq & (1<<CountBits - 1))
}

// OrderTime recovers the second at which an id was generated.
func OrderTime(id int64, epoch time.Time) time.Time {
	return time.Unix(epoch.Unix()+id>>CountBits, 0).UTC()
}

// Sequence returns the counter part of an id.
func Sequence(id int64) int64 {
	return id & (1<<CountBits - 1)
}
