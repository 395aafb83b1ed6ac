package jobqueue

import (
	"testing"
	"time"

	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
)

func TestBackoffRetryPolicy_DelayGrowsAndCaps(t *testing.T) {
	p := &backoffRetryPolicy{policy: RetryPolicy{
		InitialInterval: 1 * time.Second,
		MaxInterval:     15 * time.Minute,
		Multiplier:      2.0,
	}}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{10, 512 * time.Second},
		{11, 15 * time.Minute}, // 1024s exceeds the cap
		{30, 15 * time.Minute},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, p.retryDelay(tc.attempt), "attempt %d", tc.attempt)
	}

	// River hands the current attempt, which is at least 1; clamp anyway.
	assert.Equal(t, 1*time.Second, p.retryDelay(0))
	assert.Equal(t, 1*time.Second, p.retryDelay(-3))
}

func TestBackoffRetryPolicy_NextRetrySchedulesAhead(t *testing.T) {
	p := &backoffRetryPolicy{policy: RetryPolicy{
		InitialInterval: 2 * time.Second,
		MaxInterval:     15 * time.Minute,
		Multiplier:      2.0,
	}}

	before := time.Now()
	next := p.NextRetry(&rivertype.JobRow{Attempt: 2})

	assert.False(t, next.Before(before.Add(4*time.Second)))
	assert.True(t, next.Before(before.Add(5*time.Second)))
}

func TestRiverInsertOptsCarryAttemptBudget(t *testing.T) {
	config := DefaultQueueConfig()
	config.MaxRetries = 7

	q := &RiverQueue{config: config}

	assert.Equal(t, 7, q.insertOpts().MaxAttempts)
}
