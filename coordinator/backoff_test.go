package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayBounds(t *testing.T) {
	base := time.Second
	max := 30 * time.Second
	for retry := 1; retry <= 4; retry++ {
		lower := base << uint(retry-1)
		upper := lower + jitterWindow
		for i := 0; i < 50; i++ {
			delay := backoffDelay(retry, base, max)
			assert.GreaterOrEqual(t, delay, lower, "retry %d", retry)
			assert.LessOrEqual(t, delay, upper, "retry %d", retry)
		}
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	base := time.Second
	max := 30 * time.Second
	for retry := 5; retry <= 12; retry++ {
		for i := 0; i < 20; i++ {
			assert.LessOrEqual(t, backoffDelay(retry, base, max), max, "retry %d", retry)
		}
	}
	// far past the shift overflow point
	assert.Equal(t, max, backoffDelay(200, base, max))
}

func TestBackoffDelayFloorsRetry(t *testing.T) {
	delay := backoffDelay(0, time.Second, 30*time.Second)
	assert.GreaterOrEqual(t, delay, time.Second)
	assert.LessOrEqual(t, delay, time.Second+jitterWindow)
}
