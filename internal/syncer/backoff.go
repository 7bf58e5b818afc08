package syncer

import (
	"math"
	"time"
)

// Backoff returns the delay before the next attempt after n failures:
// base * 2^(n-1), capped at limit. n < 1 is treated as 1; limit <= 0 means
// uncapped.
func Backoff(base, limit time.Duration, n int) time.Duration {
	if base <= 0 {
		return 0
	}
	if limit <= 0 {
		limit = math.MaxInt64
	}
	d := base
	for i := 1; i < n && d < limit; i++ {
		if d > limit/2 {
			return limit
		}
		d *= 2
	}
	return min(d, limit)
}
