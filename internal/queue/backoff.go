package queue

import "time"

// Backoff returns the delay before retry attempt n (n >= 1): base·2^(n-1),
// capped at max.
func Backoff(base, max time.Duration, n int) time.Duration {
	if base <= 0 || n <= 0 {
		return 0
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
