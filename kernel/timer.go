package kernel

import "github.com/cockroachdb/errors"

// TimerFunc is a timer callback. It runs on the timer task, without the
// kernel lock, and may start, stop or change any timer including its own.
type TimerFunc func(tm *Timer, arg any)

// TimerFlags modify timer behaviour.
type TimerFlags uint8

const (
	// TimerPeriodic re-arms the timer every period ticks.
	TimerPeriodic TimerFlags = 1 << iota
	// TimerAutoStart arms the timer on creation.
	TimerAutoStart
)

// Timer is a software timer driven by the tick.
type Timer struct {
	k    *Kernel
	name string
	fn   TimerFunc
	arg  any

	first  uint64
	period uint64
	flags  TimerFlags

	// round is how many ticks remain after the slot's next visit; it is
	// always a multiple of the wheel size.
	round      uint64
	slot       int
	prev, next *Timer
	expiry     uint64

	active  bool
	deleted bool
	fires   uint64
	// gen changes whenever the timer is disarmed, so a collected firing
	// can tell that it was stopped, changed or deleted before it ran.
	gen uint64
	mem []byte
}

type timerSlot struct {
	head, tail *Timer
}

// timerWheel hashes armed timers into slots by expiry. The cursor visits one
// slot per tick; wheel time may lag the kernel tick until the timer task
// catches up.
type timerWheel struct {
	slots  []timerSlot
	cursor int
	tick   uint64
	armed  int
	wake   WaitList
	all    []*Timer
}

func newTimerWheel(n int) timerWheel {
	return timerWheel{slots: make([]timerSlot, n)}
}

// insert arms tm to fire delay ticks after the wheel's current tick.
func (w *timerWheel) insert(tm *Timer, delay uint64) {
	n := uint64(len(w.slots))
	dist := delay % n
	if dist == 0 {
		dist = n
	}
	tm.round = delay - dist
	tm.slot = (w.cursor + int(dist)) % len(w.slots)
	tm.expiry = w.tick + delay

	s := &w.slots[tm.slot]
	var at *Timer
	for x := s.head; x != nil; x = x.next {
		if x.round > tm.round {
			at = x
			break
		}
	}
	tm.next = at
	if at == nil {
		tm.prev = s.tail
		if s.tail != nil {
			s.tail.next = tm
		} else {
			s.head = tm
		}
		s.tail = tm
	} else {
		tm.prev = at.prev
		if at.prev != nil {
			at.prev.next = tm
		} else {
			s.head = tm
		}
		at.prev = tm
	}
	w.armed++
}

func (w *timerWheel) unlink(tm *Timer) {
	s := &w.slots[tm.slot]
	if tm.prev != nil {
		tm.prev.next = tm.next
	} else {
		s.head = tm.next
	}
	if tm.next != nil {
		tm.next.prev = tm.prev
	} else {
		s.tail = tm.prev
	}
	tm.prev, tm.next = nil, nil
	tm.slot = -1
	w.armed--
}

// step advances the cursor one tick and appends the timers due in the slot
// it lands on. Timers with rounds left are charged one revolution instead.
func (w *timerWheel) step(due []*Timer) []*Timer {
	n := uint64(len(w.slots))
	w.tick++
	w.cursor = (w.cursor + 1) % len(w.slots)
	for tm := w.slots[w.cursor].head; tm != nil; {
		next := tm.next
		if tm.round == 0 {
			w.unlink(tm)
			due = append(due, tm)
		} else {
			tm.round -= n
		}
		tm = next
	}
	return due
}

// skipTo moves wheel time to now without visiting slots. Only valid when no
// timer is armed.
func (w *timerWheel) skipTo(now uint64) {
	d := now - w.tick
	w.cursor = int((uint64(w.cursor) + d%uint64(len(w.slots))) % uint64(len(w.slots)))
	w.tick = now
}

// untilNext returns how many wheel ticks remain until the earliest armed
// timer fires. Slots are sorted, so only heads are compared.
func (w *timerWheel) untilNext() (uint64, bool) {
	if w.armed == 0 {
		return 0, false
	}
	n := len(w.slots)
	best, found := uint64(0), false
	for i := range w.slots {
		h := w.slots[i].head
		if h == nil {
			continue
		}
		dist := (i - w.cursor + n) % n
		if dist == 0 {
			dist = n
		}
		d := uint64(dist) + h.round
		if !found || d < best {
			best, found = d, true
		}
	}
	return best, found
}

// NewTimer creates a timer. first is the initial delay; zero means one
// period. Periodic timers need a non-zero period.
func (k *Kernel) NewTimer(name string, fn TimerFunc, arg any, first, period uint64, flags TimerFlags) (*Timer, error) {
	if fn == nil {
		return nil, errors.Newf("timer %q: nil callback", name)
	}
	if first == 0 {
		first = period
	}
	if first == 0 || (flags&TimerPeriodic != 0 && period == 0) {
		return nil, errors.Newf("timer %q: invalid delay %d period %d", name, first, period)
	}
	mem := k.alloc.Alloc(timerControlSize)
	if mem == nil {
		return nil, errors.Wrapf(ErrNoMemory, "timer %q", name)
	}
	tm := &Timer{
		k:      k,
		name:   name,
		fn:     fn,
		arg:    arg,
		first:  first,
		period: period,
		flags:  flags,
		slot:   -1,
		mem:    mem,
	}
	c := k.enterISR()
	k.timers.all = append(k.timers.all, tm)
	if flags&TimerAutoStart != 0 {
		k.startTimer(c, tm)
	}
	c.exit()
	return tm, nil
}

// Name returns the timer name.
func (tm *Timer) Name() string { return tm.name }

// Start arms the timer for its initial delay, restarting it if armed.
func (tm *Timer) Start() error {
	k := tm.k
	c := k.enterISR()
	c.assertf(!tm.deleted, "timer %s used after delete", tm.name)
	k.startTimer(c, tm)
	c.exit()
	return nil
}

// Stop disarms the timer. Stopping an idle timer is a no-op. A periodic
// callback may stop its own pending re-arm.
func (tm *Timer) Stop() error {
	k := tm.k
	c := k.enterISR()
	c.assertf(!tm.deleted, "timer %s used after delete", tm.name)
	k.stopTimer(tm)
	c.exit()
	return nil
}

// Change sets a new initial delay and period. An armed timer is re-armed
// with the new values.
func (tm *Timer) Change(first, period uint64) error {
	if first == 0 {
		first = period
	}
	if first == 0 || (tm.flags&TimerPeriodic != 0 && period == 0) {
		return errors.Newf("timer %q: invalid delay %d period %d", tm.name, first, period)
	}
	k := tm.k
	c := k.enterISR()
	c.assertf(!tm.deleted, "timer %s used after delete", tm.name)
	wasActive := tm.active
	k.stopTimer(tm)
	tm.first, tm.period = first, period
	if wasActive {
		k.startTimer(c, tm)
	}
	c.exit()
	return nil
}

// Delete disarms the timer and returns its memory.
func (tm *Timer) Delete() error {
	k := tm.k
	c := k.enterISR()
	c.assertf(!tm.deleted, "timer %s deleted twice", tm.name)
	k.stopTimer(tm)
	tm.deleted = true
	all := k.timers.all
	for i, x := range all {
		if x == tm {
			k.timers.all = append(all[:i], all[i+1:]...)
			break
		}
	}
	k.alloc.Free(tm.mem)
	tm.mem = nil
	c.exit()
	return nil
}

// Active reports whether the timer is armed.
func (tm *Timer) Active() bool {
	tm.k.mu.Lock()
	defer tm.k.mu.Unlock()
	return tm.active
}

// Fires returns how many times the callback has been dispatched.
func (tm *Timer) Fires() uint64 {
	tm.k.mu.Lock()
	defer tm.k.mu.Unlock()
	return tm.fires
}

func (k *Kernel) startTimer(c *cs, tm *Timer) {
	w := &k.timers
	k.stopTimer(tm)
	if w.armed == 0 && w.tick != k.ticks.now {
		w.skipTo(k.ticks.now)
	}
	// Wheel time may lag; arm relative to the kernel tick.
	w.insert(tm, tm.first+(k.ticks.now-w.tick))
	tm.active = true
	k.kickTimerTask(c, tm.expiry)
}

func (k *Kernel) stopTimer(tm *Timer) {
	if tm.slot >= 0 {
		k.timers.unlink(tm)
	}
	tm.active = false
	tm.gen++
}

// kickTimerTask wakes the timer task when it sleeps past expiry.
func (k *Kernel) kickTimerTask(c *cs, expiry uint64) {
	tt := k.timerTask
	if k.port == nil || tt.blockedOn != &k.timers.wake {
		return
	}
	if tt.is(StateSleep) && int64(tt.wakeTick-expiry) <= 0 {
		return
	}
	k.resolve(c, tt, WaitOK)
	k.reschedule(c)
}

// NextTimerFire returns the number of ticks until the earliest armed timer
// fires. Tickless idle code uses it to size its sleep.
func (k *Kernel) NextTimerFire() (uint64, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	d, ok := k.timers.untilNext()
	if !ok {
		return 0, false
	}
	at := k.timers.tick + d
	if int64(at-k.ticks.now) <= 0 {
		return 0, true
	}
	return at - k.ticks.now, true
}

// TimerInfo is a snapshot of a timer.
type TimerInfo struct {
	Name     string
	Active   bool
	Periodic bool
	Period   uint64
	Expiry   uint64
	Fires    uint64
}

// Timers enumerates every timer that has not been deleted.
func (k *Kernel) Timers() []TimerInfo {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]TimerInfo, 0, len(k.timers.all))
	for _, tm := range k.timers.all {
		out = append(out, TimerInfo{
			Name:     tm.name,
			Active:   tm.active,
			Periodic: tm.flags&TimerPeriodic != 0,
			Period:   tm.period,
			Expiry:   tm.expiry,
			Fires:    tm.fires,
		})
	}
	return out
}

type firing struct {
	tm  *Timer
	fn  TimerFunc
	arg any
	gen uint64
}

// claim reports whether f may still run and counts it as fired. An earlier
// callback in the same batch may have stopped, changed or deleted the timer.
func (k *Kernel) claim(f firing) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if f.tm.deleted || f.tm.gen != f.gen {
		return false
	}
	f.tm.fires++
	return true
}

// collectTimers advances the wheel towards the kernel tick until it finds a
// tick with due timers, and returns their callbacks. One-shot timers are
// disarmed and periodic ones re-armed relative to their scheduled tick
// before any callback runs.
func (k *Kernel) collectTimers(c *cs, out []firing) []firing {
	w := &k.timers
	var due []*Timer
	for w.tick != k.ticks.now {
		if w.armed == 0 {
			w.skipTo(k.ticks.now)
			break
		}
		due = w.step(due[:0])
		if len(due) > 0 {
			break
		}
	}
	for _, tm := range due {
		if tm.flags&TimerPeriodic != 0 {
			w.insert(tm, tm.period)
		} else {
			tm.active = false
		}
		out = append(out, firing{tm: tm, fn: tm.fn, arg: tm.arg, gen: tm.gen})
	}
	return out
}

// RunTimers dispatches every timer due up to the current tick on the
// calling goroutine and returns how many callbacks ran. The timer task does
// this itself on a host port; simulations call it after each tick.
func (k *Kernel) RunTimers() int {
	n := 0
	var fired []firing
	for {
		c := k.enterISR()
		fired = k.collectTimers(c, fired[:0])
		c.release()
		if len(fired) == 0 {
			return n
		}
		for _, f := range fired {
			if k.claim(f) {
				f.fn(f.tm, f.arg)
				n++
			}
		}
	}
}

// timerLoop is the timer task body.
func (k *Kernel) timerLoop(ctx *Context) {
	var fired []firing
	for {
		c := k.enter(ctx.t)
		fired = k.collectTimers(c, fired[:0])
		if len(fired) > 0 {
			c.exit()
			for _, f := range fired {
				if k.claim(f) {
					f.fn(f.tm, f.arg)
				}
			}
			continue
		}
		timeout := WaitForever
		if d, ok := k.timers.untilNext(); ok {
			at := k.timers.tick + d
			timeout = at - k.ticks.now
		}
		k.block(c, ctx.t, &k.timers.wake, timeout, WaitFIFO)
		k.reschedule(c)
		c.exit()
		ctx.t.takeResult()
	}
}
