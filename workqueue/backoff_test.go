package workqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesUntilCap(t *testing.T) {
	base := time.Second
	cap := 30 * time.Second

	assert.Equal(t, time.Second, Backoff(1, base, cap))
	assert.Equal(t, 2*time.Second, Backoff(2, base, cap))
	assert.Equal(t, 4*time.Second, Backoff(3, base, cap))
	assert.Equal(t, cap, Backoff(10, base, cap))
}

func TestBackoffClampsAttemptBelowOne(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(0, time.Second, time.Minute))
	assert.Equal(t, time.Second, Backoff(-5, time.Second, time.Minute))
}
