package kernel

const (
	// WaitForever blocks without a timeout.
	WaitForever = ^uint64(0)
	// NoWait makes a blocking call fail at once instead of waiting.
	NoWait uint64 = 0
)

// tickQueue holds sleeping and timed-blocked tasks in power-of-two buckets
// indexed by wake tick. Each bucket is kept in ascending order of remaining
// ticks so an advance only inspects bucket heads.
type tickQueue struct {
	now     uint64
	mask    uint64
	buckets []taskList
}

func newTickQueue(n int) tickQueue {
	q := tickQueue{
		mask:    uint64(n - 1),
		buckets: make([]taskList, n),
	}
	for i := range q.buckets {
		q.buckets[i].init(tickField, kindTick)
	}
	return q
}

// insert schedules t to wake delta ticks from now.
func (q *tickQueue) insert(c *cs, t *Task, delta uint64) {
	c.assertf(t.links[tickField].owner == nil, "task %s already in a tick bucket", t.name)
	c.assertf(delta > 0 && delta != WaitForever, "bad tick delta %d for task %s", delta, t.name)
	t.wakeTick = q.now + delta
	b := &q.buckets[t.wakeTick&q.mask]
	var at *Task
	for x := b.front(); x != nil; x = b.next(x) {
		if x.wakeTick-q.now > delta {
			at = x
			break
		}
	}
	b.insertBefore(t, at)
}

func (q *tickQueue) remove(c *cs, t *Task) {
	b := t.links[tickField].owner
	c.assertf(b != nil, "task %s not in a tick bucket", t.name)
	b.remove(t)
}

// TickISR is the tick interrupt entry point: it advances the tick counter,
// wakes due tasks, charges the running task's time slice and reschedules.
// The work done is proportional to the number of tasks that are due.
func (k *Kernel) TickISR() {
	c := k.enterISR()
	k.tick(c)
	c.exit()
}

func (k *Kernel) tick(c *cs) {
	q := &k.ticks
	q.now++
	b := &q.buckets[q.now&q.mask]
	for {
		t := b.front()
		if t == nil || int64(t.wakeTick-q.now) > 0 {
			break
		}
		b.remove(t)
		k.expire(c, t)
	}

	if cur := k.current; cur != nil && cur.is(StateReady) {
		cur.ranTicks++
		if cur.slice > 0 {
			cur.sliceLeft--
			if cur.sliceLeft == 0 {
				cur.sliceLeft = cur.slice
				if k.ready.peers(cur.prio) > 1 {
					k.ready.moveToTail(c, cur)
				}
			}
		}
	}
	k.reschedule(c)
}

// expire handles a task whose wake tick arrived. A timed block resolves as a
// timeout through the blocking core; a plain sleep becomes ready unless it
// is also suspended.
func (k *Kernel) expire(c *cs, t *Task) {
	switch {
	case t.is(StateBlock):
		k.resolve(c, t, WaitTimeout)
	case t.is(StateSleep):
		t.state &^= StateSleep
		t.result = WaitOK
		if t.state == 0 {
			t.state = StateReady
			k.ready.put(c, t)
		}
	default:
		c.assertf(false, "task %s in tick bucket with state %s", t.name, t.state)
	}
}
