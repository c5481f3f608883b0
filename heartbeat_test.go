package quizzly

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHeartbeat(t *testing.T) (*heartbeat, *clockwork.FakeClock, chan heartbeatTick) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	ticks := make(chan heartbeatTick, 16)
	hb := newHeartbeat(clock, 30*time.Second, 2*time.Second, 7, func(tick heartbeatTick) { ticks <- tick })
	return hb, clock, ticks
}

func nextTick(t *testing.T, ticks chan heartbeatTick) heartbeatTick {
	t.Helper()
	select {
	case tick := <-ticks:
		return tick
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for heartbeat tick")
	}
	return heartbeatTick{}
}

func TestHeartbeatSilenceThenGrace(t *testing.T) {
	hb, clock, ticks := newTestHeartbeat(t)
	hb.start()

	clock.Advance(30 * time.Second)
	actions := map[heartbeatAction]int{}
	for i := 0; i < 2; i++ {
		actions[hb.handle(nextTick(t, ticks))]++
	}
	assert.Equal(t, 1, actions[heartbeatSendProbe])
	assert.Equal(t, 1, actions[heartbeatNone])
	assert.True(t, hb.inGrace())
	assert.Equal(t, 1, hb.probesSent)

	clock.Advance(2 * time.Second)
	assert.Equal(t, heartbeatLost, hb.handle(nextTick(t, ticks)))
}

func TestHeartbeatTouchCancelsGrace(t *testing.T) {
	hb, clock, ticks := newTestHeartbeat(t)
	hb.start()

	clock.Advance(30 * time.Second)
	first, second := nextTick(t, ticks), nextTick(t, ticks)
	hb.handle(first)
	hb.handle(second)
	require.True(t, hb.inGrace())

	clock.Advance(time.Second)
	hb.touch()
	assert.False(t, hb.inGrace())
	assert.Equal(t, clock.Now(), hb.lastTraffic)

	clock.Advance(time.Second)
	select {
	case tick := <-ticks:
		assert.Equal(t, heartbeatNone, hb.handle(tick), "stale tick must be ignored")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHeartbeatIgnoresStaleTicks(t *testing.T) {
	hb, _, _ := newTestHeartbeat(t)
	hb.start()

	assert.Equal(t, heartbeatNone, hb.handle(heartbeatTick{gen: 6, seq: hb.probeSeq, kind: heartbeatProbeDue}))
	assert.Equal(t, heartbeatNone, hb.handle(heartbeatTick{gen: 7, seq: 999, kind: heartbeatProbeDue}))
	assert.Equal(t, heartbeatSendProbe, hb.handle(heartbeatTick{gen: 7, seq: hb.probeSeq, kind: heartbeatProbeDue}))
}

func TestHeartbeatStopCancelsTimers(t *testing.T) {
	hb, clock, ticks := newTestHeartbeat(t)
	hb.start()
	hb.stop()
	hb.stop()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(time.Hour)
	select {
	case <-ticks:
		t.Fatal("stopped monitor must not tick")
	case <-time.After(50 * time.Millisecond):
	}
	hb.touch()
	assert.Equal(t, heartbeatNone, hb.handle(heartbeatTick{gen: 7, kind: heartbeatGraceExpired}))
}
