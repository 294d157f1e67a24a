package coordinator

import (
	"math/rand"
	"time"
)

const (
	defaultBaseDelay = time.Second
	defaultMaxDelay  = 30 * time.Second
	jitterWindow     = time.Second
)

// backoffDelay computes the wait before retry n (1-based):
// min(base·2^(n−1) + jitter, max), jitter uniform in [0, 1s).
// The jitter desynchronizes retry storms across concurrently
// failing cases.
func backoffDelay(retry int, base, max time.Duration) time.Duration {
	if retry < 1 {
		retry = 1
	}
	delay := base << uint(retry-1)
	if delay <= 0 || delay >= max {
		return max
	}
	delay += time.Duration(rand.Int63n(int64(jitterWindow)))
	if delay > max {
		return max
	}
	return delay
}
