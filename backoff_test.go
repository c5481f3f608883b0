package quizzly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectPolicyDelay(t *testing.T) {
	p := ReconnectPolicy{InitialDelay: time.Second, MaxDelay: 30 * time.Second, MaxAttempts: 5}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{7, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestReconnectPolicyDelayOddMax(t *testing.T) {
	p := ReconnectPolicy{InitialDelay: 3 * time.Second, MaxDelay: 7 * time.Second}
	assert.Equal(t, 3*time.Second, p.Delay(1))
	assert.Equal(t, 6*time.Second, p.Delay(2))
	assert.Equal(t, 7*time.Second, p.Delay(3))
}

func TestReconnectPolicyDelayEqualBounds(t *testing.T) {
	p := ReconnectPolicy{InitialDelay: 5 * time.Second, MaxDelay: 5 * time.Second}
	for n := 1; n < 10; n++ {
		assert.Equal(t, 5*time.Second, p.Delay(n))
	}
}

func TestReconnectPolicyExhausted(t *testing.T) {
	p := ReconnectPolicy{MaxAttempts: 5}
	assert.False(t, p.Exhausted(0))
	assert.False(t, p.Exhausted(4))
	assert.True(t, p.Exhausted(5))
	assert.True(t, p.Exhausted(6))
}

func TestReconnectPolicySequence(t *testing.T) {
	p := DefaultRealtimeConfig().Policy()
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, p.Sequence())
	assert.Equal(t, 2*time.Second, p.GracePeriod)
}
