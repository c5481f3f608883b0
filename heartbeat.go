package quizzly

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// ============================================================================
// Heartbeat Monitor
// ============================================================================

type heartbeatKind uint8

const (
	heartbeatProbeDue heartbeatKind = iota + 1
	heartbeatSilence
	heartbeatGraceExpired
)

// heartbeatTick is posted to the controller when a monitor timer fires.
type heartbeatTick struct {
	gen  uint64
	seq  uint64
	kind heartbeatKind
}

// heartbeatAction tells the controller what a tick requires.
type heartbeatAction uint8

const (
	heartbeatNone heartbeatAction = iota
	heartbeatSendProbe
	heartbeatLost
)

// heartbeat watches one Open connection. A probe goes out every interval.
// After interval without inbound traffic the monitor enters its grace window;
// traffic inside the window cancels it, otherwise the connection is lost.
//
// All methods run on the controller goroutine. Timer callbacks only post
// ticks; ticks from a stopped monitor or a replaced timer are ignored.
type heartbeat struct {
	clock    clockwork.Clock
	interval time.Duration
	grace    time.Duration
	gen      uint64
	post     func(heartbeatTick)

	seq        uint64
	probe      clockwork.Timer
	probeSeq   uint64
	silence    clockwork.Timer
	silenceSeq uint64
	graceTimer clockwork.Timer
	graceSeq   uint64

	lastTraffic time.Time
	probesSent  int
	stopped     bool
}

func newHeartbeat(clock clockwork.Clock, interval, grace time.Duration, gen uint64, post func(heartbeatTick)) *heartbeat {
	return &heartbeat{
		clock:    clock,
		interval: interval,
		grace:    grace,
		gen:      gen,
		post:     post,
	}
}

func (h *heartbeat) start() {
	h.lastTraffic = h.clock.Now()
	h.probe, h.probeSeq = h.arm(h.interval, heartbeatProbeDue)
	h.silence, h.silenceSeq = h.arm(h.interval, heartbeatSilence)
}

func (h *heartbeat) arm(d time.Duration, kind heartbeatKind) (clockwork.Timer, uint64) {
	h.seq++
	tick := heartbeatTick{gen: h.gen, seq: h.seq, kind: kind}
	return h.clock.AfterFunc(d, func() { h.post(tick) }), tick.seq
}

// inGrace reports whether the monitor is waiting out its grace window.
func (h *heartbeat) inGrace() bool {
	return h.graceTimer != nil
}

// touch records inbound traffic.
func (h *heartbeat) touch() {
	if h.stopped {
		return
	}
	h.lastTraffic = h.clock.Now()
	if h.graceTimer != nil {
		h.graceTimer.Stop()
		h.graceTimer, h.graceSeq = nil, 0
	}
	if h.silence != nil {
		h.silence.Stop()
	}
	h.silence, h.silenceSeq = h.arm(h.interval, heartbeatSilence)
}

func (h *heartbeat) handle(t heartbeatTick) heartbeatAction {
	if h.stopped || t.gen != h.gen {
		return heartbeatNone
	}
	switch t.kind {
	case heartbeatProbeDue:
		if t.seq != h.probeSeq {
			return heartbeatNone
		}
		h.probesSent++
		h.probe, h.probeSeq = h.arm(h.interval, heartbeatProbeDue)
		return heartbeatSendProbe
	case heartbeatSilence:
		if t.seq != h.silenceSeq {
			return heartbeatNone
		}
		h.silence, h.silenceSeq = nil, 0
		h.graceTimer, h.graceSeq = h.arm(h.grace, heartbeatGraceExpired)
	case heartbeatGraceExpired:
		if t.seq != h.graceSeq {
			return heartbeatNone
		}
		h.graceTimer, h.graceSeq = nil, 0
		return heartbeatLost
	}
	return heartbeatNone
}

// stop cancels every timer. It is called exactly once when the connection
// leaves Open.
func (h *heartbeat) stop() {
	if h.stopped {
		return
	}
	h.stopped = true
	for _, t := range []clockwork.Timer{h.probe, h.silence, h.graceTimer} {
		if t != nil {
			t.Stop()
		}
	}
	h.probe, h.silence, h.graceTimer = nil, nil, nil
}
