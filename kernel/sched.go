package kernel

import "github.com/cockroachdb/errors"

// TaskOptions describes a task to create.
type TaskOptions struct {
	Name     string
	Priority Priority
	// TimeSlice overrides Config.TimeSlice when non-zero.
	TimeSlice uint32
	// StackSize overrides Config.StackSize when non-zero.
	StackSize int
	// Suspended creates the task suspended; Resume starts it.
	Suspended bool
}

// AddTask creates a task from interrupt or external context.
func (k *Kernel) AddTask(opts TaskOptions, fn TaskFunc) (*Task, error) {
	return k.addTask(nil, opts, fn)
}

func (k *Kernel) addTask(self *Task, opts TaskOptions, fn TaskFunc) (*Task, error) {
	if int(opts.Priority) >= int(k.cfg.IdlePriority()) {
		return nil, errors.Wrapf(ErrInvalidPriority, "task %q priority %d", opts.Name, opts.Priority)
	}
	t, err := k.newTask(opts, fn)
	if err != nil {
		return nil, err
	}
	c := k.enterFrom(self)
	k.admit(c, t, opts.Suspended)
	k.reschedule(c)
	c.exit()
	k.log.Debug().Str("task", t.name).Uint32("id", uint32(t.id)).Uint16("prio", uint16(t.prio)).Msg("task created")
	return t, nil
}

func (k *Kernel) enterFrom(self *Task) *cs {
	if self == nil {
		return k.enterISR()
	}
	return k.enter(self)
}

// newTask allocates a task and its continuation. It does not touch shared
// scheduler state.
func (k *Kernel) newTask(opts TaskOptions, fn TaskFunc) (*Task, error) {
	size := opts.StackSize
	if size == 0 {
		size = k.cfg.StackSize
	}
	mem := k.alloc.Alloc(taskControlSize + size)
	if mem == nil {
		return nil, errors.Wrapf(ErrNoMemory, "task %q stack of %d bytes", opts.Name, size)
	}
	slice := opts.TimeSlice
	if slice == 0 {
		slice = k.cfg.TimeSlice
	}
	t := &Task{
		k:         k,
		name:      opts.Name,
		prio:      opts.Priority,
		basePrio:  opts.Priority,
		state:     StateInit,
		slice:     slice,
		sliceLeft: slice,
		entry:     fn,
		stack:     mem,
	}
	t.ctx = Context{k: k, t: t}
	if k.port != nil {
		cont, err := k.port.Spawn(func() { k.runTask(t) }, mem[taskControlSize:])
		if err != nil {
			k.alloc.Free(mem)
			return nil, errors.Wrapf(err, "spawn task %q", opts.Name)
		}
		t.cont = cont
	}
	return t, nil
}

func (k *Kernel) runTask(t *Task) {
	t.entry(&t.ctx)
	t.ctx.Exit()
}

// admit registers t and makes it ready or suspended.
func (k *Kernel) admit(c *cs, t *Task, suspended bool) {
	c.assertf(t.state == StateInit, "admitting task %s in state %s", t.name, t.state)
	t.id = k.nextID
	k.nextID++
	k.tasks = append(k.tasks, t)
	if suspended {
		t.state = StateSuspend
		t.suspendCount = 1
		return
	}
	t.state = StateReady
	k.ready.put(c, t)
}

func (k *Kernel) free(c *cs, t *Task) {
	if t.cont != nil {
		t.cont.Kill()
	}
	if t.stack != nil {
		k.alloc.Free(t.stack)
		t.stack = nil
	}
}

func (k *Kernel) system(t *Task) bool {
	return t == k.idle || t == k.timerTask
}

// Delete removes t from every queue, releases the mutexes it holds and frees
// it. On a host port a task deleting itself is recycled by the idle task.
func (k *Kernel) Delete(t *Task) error {
	c := k.enterISR()
	err := k.deleteTask(c, t)
	c.exit()
	return err
}

func (k *Kernel) deleteTask(c *cs, t *Task) error {
	if k.system(t) || t.is(StateClose) {
		return errors.Wrapf(ErrInvalidState, "delete task %s in state %s", t.name, t.state)
	}
	if t.is(StateReady) {
		k.ready.remove(c, t)
	}
	if wl := t.blockedOn; wl != nil {
		k.detachWaiter(c, t)
		if wl.mutex != nil {
			wl.mutex.reprioritize(c)
		}
	}
	if t.links[tickField].owner != nil {
		k.ticks.remove(c, t)
	}
	t.state = StateClose
	for m := t.heldMutexes; m != nil; {
		next := m.nextHeld
		k.releaseMutex(c, m)
		m = next
	}
	for i, x := range k.tasks {
		if x == t {
			k.tasks = append(k.tasks[:i], k.tasks[i+1:]...)
			break
		}
	}
	// A running host task is still executing on its stack; the idle task
	// recycles it after the switch. Simulated tasks have no stack in use.
	if t == k.current && k.port != nil {
		k.defunct = append(k.defunct, t)
	} else {
		k.free(c, t)
	}
	if t == k.current {
		k.schedLock = 0
	}
	k.reschedule(c)
	k.log.Debug().Str("task", t.name).Uint32("id", uint32(t.id)).Msg("task deleted")
	return nil
}

// Suspend stops t from running until a matching Resume. Suspending a
// sleeping or blocked task leaves its wait in place.
func (k *Kernel) Suspend(t *Task) error {
	c := k.enterISR()
	err := k.suspend(c, t)
	c.exit()
	return err
}

func (k *Kernel) suspend(c *cs, t *Task) error {
	if k.system(t) || t.is(StateClose|StateInit) {
		return errors.Wrapf(ErrInvalidState, "suspend task %s in state %s", t.name, t.state)
	}
	if t.is(StateSuspend) {
		t.suspendCount++
		return nil
	}
	if t == k.current && k.schedLock > 0 {
		return ErrSchedLocked
	}
	if t.is(StateReady) {
		k.ready.remove(c, t)
		t.state = StateSuspend
	} else {
		t.state |= StateSuspend
	}
	t.suspendCount = 1
	k.reschedule(c)
	return nil
}

// Resume undoes one Suspend. The task becomes ready only once the suspend
// count reaches zero and no sleep or block is pending.
func (k *Kernel) Resume(t *Task) error {
	c := k.enterISR()
	err := k.resume(c, t)
	c.exit()
	return err
}

func (k *Kernel) resume(c *cs, t *Task) error {
	if !t.is(StateSuspend) {
		return errors.Wrapf(ErrNotSuspended, "resume task %s in state %s", t.name, t.state)
	}
	t.suspendCount--
	if t.suspendCount > 0 {
		return nil
	}
	t.state &^= StateSuspend
	if t.state == 0 {
		t.state = StateReady
		k.ready.put(c, t)
		k.reschedule(c)
	}
	return nil
}

func (k *Kernel) sleep(c *cs, t *Task, ticks uint64) error {
	if ticks == 0 {
		k.yield(c, t)
		return nil
	}
	if k.schedLock > 0 {
		return ErrSchedLocked
	}
	c.assertf(t.state == StateReady, "sleeping task %s in state %s", t.name, t.state)
	k.ready.remove(c, t)
	t.state = StateSleep
	t.result = waitPending
	k.ticks.insert(c, t, ticks)
	k.reschedule(c)
	return nil
}

func (k *Kernel) yield(c *cs, t *Task) {
	if k.ready.peers(t.prio) > 1 {
		k.ready.moveToTail(c, t)
	}
	k.reschedule(c)
}

// SetPriority changes t's base priority. While t holds mutexes with more
// urgent waiters its running priority stays boosted.
func (k *Kernel) SetPriority(t *Task, p Priority) error {
	if int(p) >= int(k.cfg.IdlePriority()) {
		return errors.Wrapf(ErrInvalidPriority, "priority %d", p)
	}
	c := k.enterISR()
	if k.system(t) || t.is(StateClose) {
		c.release()
		return errors.Wrapf(ErrInvalidState, "set priority of task %s", t.name)
	}
	t.basePrio = p
	k.changePrio(c, t, k.effectivePriority(t))
	k.reschedule(c)
	c.exit()
	return nil
}

// SetTimeSlice sets t's round-robin quantum. Zero exempts t from round robin.
func (k *Kernel) SetTimeSlice(t *Task, ticks uint32) {
	c := k.enterISR()
	t.slice = ticks
	t.sliceLeft = ticks
	c.exit()
}

// effectivePriority is the base priority lowered to the most urgent waiter
// of any mutex t holds.
func (k *Kernel) effectivePriority(t *Task) Priority {
	p := t.basePrio
	for m := t.heldMutexes; m != nil; m = m.nextHeld {
		for w := m.waiters.list.front(); w != nil; w = m.waiters.list.next(w) {
			if w.prio < p {
				p = w.prio
			}
		}
	}
	return p
}

// changePrio moves t to priority p wherever it is queued. A waiter on a
// mutex passes the change on to the mutex owner.
func (k *Kernel) changePrio(c *cs, t *Task, p Priority) {
	if t.prio == p {
		return
	}
	switch {
	case t.is(StateReady):
		k.ready.remove(c, t)
		t.prio = p
		if t == k.current {
			k.ready.putHead(c, t)
		} else {
			k.ready.put(c, t)
		}
	case t.blockedOn != nil:
		wl := t.blockedOn
		t.prio = p
		if t.policy == WaitPriority {
			wl.list.remove(t)
			wl.insert(t, WaitPriority)
		}
		if wl.mutex != nil {
			wl.mutex.reprioritize(c)
		}
	default:
		t.prio = p
	}
}
