package kernel

// MutexOptions configures a mutex.
type MutexOptions struct {
	// Recursive lets the owner lock again; it must unlock as many times.
	Recursive bool
	// Policy orders waiters. The default wakes the most urgent first.
	Policy WaitPolicy
}

// Mutex is a priority-inheritance mutex. While a more urgent task waits, the
// owner runs at the waiter's priority.
type Mutex struct {
	k    *Kernel
	name string
	opts MutexOptions

	owner    *Task
	count    int
	origPrio Priority
	waiters  WaitList
	nextHeld *Mutex

	deleted bool
	mem     []byte
}

// NewMutex creates an unlocked mutex.
func (k *Kernel) NewMutex(name string, opts MutexOptions) (*Mutex, error) {
	mem := k.alloc.Alloc(mutexControlSize)
	if mem == nil {
		return nil, ErrNoMemory
	}
	m := &Mutex{k: k, name: name, opts: opts, mem: mem}
	m.waiters.mutex = m
	return m, nil
}

// Name returns the mutex name.
func (m *Mutex) Name() string { return m.name }

// Lock acquires m, waiting up to timeout ticks. NoWait fails with ErrBusy
// when m is held. Relocking a non-recursive mutex is a fatal error. In
// simulation a contended Lock returns ErrBlocked; Context.Result reports
// whether ownership was handed over.
func (m *Mutex) Lock(ctx *Context, timeout uint64) error {
	k := m.k
	c := ctx.running("lock " + m.name)
	done, err := k.lockMutex(c, m, ctx.t, timeout)
	c.exit()
	if done || err != nil {
		return err
	}
	return ctx.waitResult()
}

// TryLock acquires m only if it is free or already held by the caller.
func (m *Mutex) TryLock(ctx *Context) error {
	return m.Lock(ctx, NoWait)
}

// Unlock releases one level of ownership. The most urgent (or oldest,
// per policy) waiter becomes the owner.
func (m *Mutex) Unlock(ctx *Context) error {
	k := m.k
	c := k.enter(ctx.t)
	err := k.unlockMutex(c, m, ctx.t)
	c.exit()
	return err
}

// Delete fails every waiter with ErrDeleted and drops ownership.
func (m *Mutex) Delete() error {
	k := m.k
	c := k.enterISR()
	c.assertf(!m.deleted, "mutex %s deleted twice", m.name)
	k.cancelAll(c, &m.waiters, WaitDeleted)
	if owner := m.owner; owner != nil {
		m.detach()
		k.changePrio(c, owner, k.effectivePriority(owner))
	}
	m.owner = nil
	m.count = 0
	m.deleted = true
	k.alloc.Free(m.mem)
	m.mem = nil
	k.reschedule(c)
	c.exit()
	return nil
}

// Owner returns the task holding m, or nil.
func (m *Mutex) Owner() *Task {
	m.k.mu.Lock()
	defer m.k.mu.Unlock()
	return m.owner
}

// OriginalPriority is the owner's priority when it acquired m.
func (m *Mutex) OriginalPriority() Priority {
	m.k.mu.Lock()
	defer m.k.mu.Unlock()
	return m.origPrio
}

// Count returns the current recursion depth.
func (m *Mutex) Count() int {
	m.k.mu.Lock()
	defer m.k.mu.Unlock()
	return m.count
}

// Waiters returns the number of blocked lockers.
func (m *Mutex) Waiters() int {
	m.k.mu.Lock()
	defer m.k.mu.Unlock()
	return m.waiters.Len()
}

// lockMutex acquires m for t or blocks t on it. It reports whether t holds
// m on return; false with a nil error means t is blocked.
func (k *Kernel) lockMutex(c *cs, m *Mutex, t *Task, timeout uint64) (bool, error) {
	c.assertf(!m.deleted, "mutex %s used after delete", m.name)
	if m.owner == t {
		c.assertf(m.opts.Recursive, "task %s relocked non-recursive mutex %s", t.name, m.name)
		m.count++
		return true, nil
	}
	if m.owner == nil {
		k.acquire(m, t)
		return true, nil
	}
	if timeout == NoWait {
		return false, ErrBusy
	}
	if k.schedLock > 0 {
		return false, ErrSchedLocked
	}
	k.block(c, t, &m.waiters, timeout, m.opts.Policy)
	m.reprioritize(c)
	k.reschedule(c)
	return false, nil
}

func (k *Kernel) unlockMutex(c *cs, m *Mutex, t *Task) error {
	c.assertf(!m.deleted, "mutex %s used after delete", m.name)
	if m.owner != t {
		return ErrNotOwner
	}
	m.count--
	if m.count > 0 {
		return nil
	}
	k.releaseMutex(c, m)
	k.reschedule(c)
	return nil
}

// releaseMutex drops the owner's hold, restores its priority and hands m to
// the next waiter.
func (k *Kernel) releaseMutex(c *cs, m *Mutex) {
	owner := m.owner
	m.detach()
	k.changePrio(c, owner, k.effectivePriority(owner))

	next := m.waiters.list.front()
	if next == nil {
		m.owner = nil
		m.count = 0
		return
	}
	k.resolve(c, next, WaitOK)
	k.acquire(m, next)
	m.reprioritize(c)
}

func (k *Kernel) acquire(m *Mutex, t *Task) {
	m.owner = t
	m.count = 1
	m.origPrio = t.prio
	m.nextHeld = t.heldMutexes
	t.heldMutexes = m
}

// detach unlinks m from its owner's held list.
func (m *Mutex) detach() {
	owner := m.owner
	pp := &owner.heldMutexes
	for *pp != nil && *pp != m {
		pp = &(*pp).nextHeld
	}
	if *pp == m {
		*pp = m.nextHeld
	}
	m.nextHeld = nil
}

// reprioritize recomputes the owner's running priority from its base
// priority and the waiters of every mutex it holds. This is
// O(held mutexes × waiters) on every call.
func (m *Mutex) reprioritize(c *cs) {
	if m.owner == nil {
		return
	}
	m.k.changePrio(c, m.owner, m.k.effectivePriority(m.owner))
}
