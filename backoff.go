package quizzly

import "time"

// ReconnectPolicy bounds the reconnect cycle.
type ReconnectPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int

	// GracePeriod is how long a heartbeat timeout is tolerated before the
	// connection is declared lost.
	GracePeriod time.Duration
}

// Delay returns the backoff before reconnect attempt n (1-indexed):
// min(InitialDelay * 2^(n-1), MaxDelay).
func (p ReconnectPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.InitialDelay
	for i := 1; i < n; i++ {
		if d > p.MaxDelay/2 {
			return p.MaxDelay
		}
		d *= 2
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Exhausted reports whether no reconnect attempt remains after attempts
// consecutive failures.
func (p ReconnectPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Sequence returns the delays of every allowed reconnect attempt in order.
func (p ReconnectPolicy) Sequence() []time.Duration {
	seq := make([]time.Duration, 0, p.MaxAttempts)
	for n := 1; n <= p.MaxAttempts; n++ {
		seq = append(seq, p.Delay(n))
	}
	return seq
}
