package hal

import (
	"sync"
	"time"
)

// TickDuration is the length of one host tick.
const TickDuration = time.Millisecond

type hostTime struct {
	ch        chan uint64
	seq       uint64
	closeOnce sync.Once

	last time.Time
	acc  time.Duration
}

func newHostTime() *hostTime {
	return &hostTime{ch: make(chan uint64, 1024)}
}

func (t *hostTime) Ticks() <-chan uint64 { return t.ch }

// step emits the ticks that elapsed on the wall clock since the last call.
// The first call emits one tick.
func (t *hostTime) step(now time.Time, limit uint64) {
	if t.last.IsZero() {
		t.last = now
		t.acc = 0
		t.stepN(1, limit)
		return
	}

	t.acc += now.Sub(t.last)
	t.last = now

	ticks := uint64(t.acc / TickDuration)
	if ticks == 0 {
		return
	}
	t.acc = t.acc % TickDuration
	t.stepN(ticks, limit)
}

// stepN emits n ticks, stopping at limit when it is non-zero. A full
// channel drops ticks; the consumer sees the gap in sequence numbers.
func (t *hostTime) stepN(n, limit uint64) {
	for i := uint64(0); i < n; i++ {
		if limit > 0 && t.seq >= limit {
			return
		}
		t.seq++
		select {
		case t.ch <- t.seq:
		default:
		}
	}
}

func (t *hostTime) close() {
	t.closeOnce.Do(func() { close(t.ch) })
}
