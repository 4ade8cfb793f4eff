package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffTiersWithJitter(t *testing.T) {
	cases := []struct {
		attempt  int
		min, max time.Duration
	}{
		{1, 4 * time.Second, 6 * time.Second},
		{2, 20 * time.Second, 30 * time.Second},
		{3, 96 * time.Second, 144 * time.Second},
		{4, 8 * time.Minute, 12 * time.Minute},
	}

	for _, tc := range cases {
		for i := 0; i < 50; i++ {
			got := Backoff(tc.attempt)
			assert.GreaterOrEqual(t, got, tc.min, "attempt %d", tc.attempt)
			assert.LessOrEqual(t, got, tc.max, "attempt %d", tc.attempt)
		}
	}
}

func TestBackoffCapsAtLastTier(t *testing.T) {
	for i := 0; i < 50; i++ {
		got := Backoff(10)
		assert.GreaterOrEqual(t, got, 8*time.Minute)
		assert.LessOrEqual(t, got, 12*time.Minute)
	}
}

func TestBackoffClampsAttempt(t *testing.T) {
	got := Backoff(0)
	assert.GreaterOrEqual(t, got, 4*time.Second)
	assert.LessOrEqual(t, got, 6*time.Second)
}
