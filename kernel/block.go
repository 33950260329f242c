package kernel

import "github.com/cockroachdb/errors"

// WaitList is the queue of tasks blocked on one synchronization object.
// The zero value is an empty list. A WaitList is owned by its object and is
// only touched inside the kernel critical section.
type WaitList struct {
	list taskList
	// mutex is set when the list belongs to a mutex, so waiter changes
	// feed priority inheritance.
	mutex *Mutex
}

// Len returns the number of blocked tasks.
func (wl *WaitList) Len() int { return wl.list.len() }

// insert links t by policy: priority order puts t in front of the first
// strictly less urgent waiter, FIFO appends.
func (wl *WaitList) insert(t *Task, policy WaitPolicy) {
	var at *Task
	if policy == WaitPriority {
		for x := wl.list.front(); x != nil; x = wl.list.next(x) {
			if x.prio > t.prio {
				at = x
				break
			}
		}
	}
	wl.list.insertBefore(t, at)
}

// block moves t from the ready queue onto wl, with a tick entry when the
// timeout is finite. The caller reschedules.
func (k *Kernel) block(c *cs, t *Task, wl *WaitList, timeout uint64, policy WaitPolicy) {
	c.assertf(t.state == StateReady, "blocking task %s in state %s", t.name, t.state)
	c.assertf(timeout != NoWait, "blocking task %s without a timeout", t.name)
	k.ready.remove(c, t)
	t.state = StateBlock
	t.policy = policy
	t.blockedOn = wl
	t.result = waitPending
	wl.insert(t, policy)
	if timeout != WaitForever {
		t.state |= StateSleep
		k.ticks.insert(c, t, timeout)
	}
}

// detachWaiter unlinks t from its wait list and tick bucket.
func (k *Kernel) detachWaiter(c *cs, t *Task) {
	wl := t.blockedOn
	wl.list.remove(t)
	t.blockedOn = nil
	if t.links[tickField].owner != nil {
		k.ticks.remove(c, t)
	}
}

// resolve ends t's block with result r. Whoever removes t from its wait list
// owns the result; a task that is no longer waiting is left alone and
// resolve reports false.
func (k *Kernel) resolve(c *cs, t *Task, r WaitResult) bool {
	wl := t.blockedOn
	if wl == nil || !wl.list.contains(t) {
		return false
	}
	k.detachWaiter(c, t)
	t.state &^= StateBlock | StateSleep
	t.result = r
	if t.state == 0 {
		t.state = StateReady
		k.ready.put(c, t)
	}
	if r != WaitOK && wl.mutex != nil {
		wl.mutex.reprioritize(c)
	}
	return true
}

// cancelAll resolves every waiter on wl with r and returns how many there were.
func (k *Kernel) cancelAll(c *cs, wl *WaitList, r WaitResult) int {
	n := 0
	for t := wl.list.front(); t != nil; t = wl.list.front() {
		k.resolve(c, t, r)
		n++
	}
	return n
}

// Unblock wakes t with a success result if it is still blocked. It is safe
// from interrupt context and reports whether this call resolved the wait.
func (k *Kernel) Unblock(t *Task) bool {
	c := k.enterISR()
	ok := k.resolve(c, t, WaitOK)
	if ok {
		k.reschedule(c)
	}
	c.exit()
	return ok
}

// WakeOne wakes the head of wl with a success result and returns it, or nil
// when nothing is waiting.
func (k *Kernel) WakeOne(wl *WaitList) *Task {
	c := k.enterISR()
	t := wl.list.front()
	if t != nil {
		k.resolve(c, t, WaitOK)
		k.reschedule(c)
	}
	c.exit()
	return t
}

// CancelAll fails every waiter on wl with ErrDeleted. Objects call it when
// they are destroyed.
func (k *Kernel) CancelAll(wl *WaitList) int {
	c := k.enterISR()
	n := k.cancelAll(c, wl, WaitDeleted)
	if n > 0 {
		k.reschedule(c)
	}
	c.exit()
	return n
}

// Abort cuts short t's sleep or block. The task sees ErrAborted.
func (k *Kernel) Abort(t *Task) error {
	c := k.enterISR()
	err := k.abort(c, t)
	c.exit()
	return err
}

func (k *Kernel) abort(c *cs, t *Task) error {
	switch {
	case t.is(StateBlock):
		k.resolve(c, t, WaitAborted)
	case t.is(StateSleep):
		k.ticks.remove(c, t)
		t.state &^= StateSleep
		t.result = WaitAborted
		if t.state == 0 {
			t.state = StateReady
			k.ready.put(c, t)
		}
	default:
		return errors.Wrapf(ErrInvalidState, "abort task %s in state %s", t.name, t.state)
	}
	k.reschedule(c)
	return nil
}
