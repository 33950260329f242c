package kernel

import "runtime"

// cs is the kernel critical section: holding one proves the kernel lock is
// held. Every helper that mutates the ready queue, a wait list, the tick
// queue or the timer wheel takes it as its first argument. The lock is not
// reentrant; timer callbacks and task bodies run without it.
type cs struct {
	k *Kernel
	// self is the calling task, nil for interrupt and external callers.
	self *Task
	isr  bool
}

// enter takes the kernel lock on behalf of a task body. On a host port an
// interrupt may have suspended or deleted the running task since its last
// kernel call; that pending switch is applied first, so the caller only
// proceeds once it is ready and dispatched again.
func (k *Kernel) enter(self *Task) *cs {
	k.mu.Lock()
	k.token = cs{k: k, self: self}
	for k.port != nil && self != nil && self == k.current && !self.is(StateReady) {
		// A closing caller never returns from exit.
		c := &k.token
		k.reschedule(c)
		c.exit()
		k.mu.Lock()
		k.token = cs{k: k, self: self}
	}
	return &k.token
}

// enterISR takes the kernel lock from interrupt or external context.
func (k *Kernel) enterISR() *cs {
	k.mu.Lock()
	k.token = cs{k: k, isr: true}
	return &k.token
}

// with runs fn inside an external critical section and applies any
// scheduling decision it caused.
func (k *Kernel) with(fn func(c *cs)) {
	c := k.enterISR()
	fn(c)
	c.exit()
}

func (c *cs) release() {
	c.k.mu.Unlock()
}

// exit leaves the critical section. When the calling task lost the CPU while
// inside, control is handed to the next task and the caller parks until it
// is dispatched again. A closing task never returns from exit, nor does any
// task body once the kernel is stopped.
func (c *cs) exit() {
	k := c.k
	if c.self != nil && k.stopped && k.port != nil {
		c.release()
		runtime.Goexit()
	}
	if c.self != nil && k.needResched {
		k.reschedule(c)
	}
	from, to := k.switchFrom, k.switchTo
	k.switchFrom, k.switchTo = nil, nil
	closing := from != nil && from.is(StateClose)
	c.release()

	if to == nil {
		return
	}
	to.cont.Resume()
	if from == nil {
		return
	}
	if closing {
		runtime.Goexit()
	}
	if !from.cont.Park() {
		runtime.Goexit()
	}
}
