package quizzly

// outbox queues commands sent while the session is Connecting or
// Reconnecting. It is flushed in FIFO order on the next Open and discarded
// when the session ends. Only the controller goroutine touches it.
type outbox struct {
	limit int
	ops   []Envelope
}

func newOutbox(limit int) *outbox {
	return &outbox{limit: limit}
}

func (o *outbox) push(env Envelope) error {
	if len(o.ops) >= o.limit {
		return ErrOutboxFull
	}
	o.ops = append(o.ops, env)
	return nil
}

// drain removes and returns every queued command.
func (o *outbox) drain() []Envelope {
	ops := o.ops
	o.ops = nil
	return ops
}

// reset discards the queue and reports how many commands were dropped.
func (o *outbox) reset() int {
	n := len(o.ops)
	o.ops = nil
	return n
}
