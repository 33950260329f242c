package kernel

import "github.com/cockroachdb/errors"

// Context is a task's handle on the kernel. Blocking calls are only valid
// on the Context of the running task.
type Context struct {
	k *Kernel
	t *Task
}

// Task returns the task this context belongs to.
func (ctx *Context) Task() *Task { return ctx.t }

// Kernel returns the owning kernel.
func (ctx *Context) Kernel() *Kernel { return ctx.k }

// Now returns the current tick.
func (ctx *Context) Now() uint64 { return ctx.k.Now() }

// Context returns the handle used to make blocking calls on behalf of t.
// Simulations use it to act as the running task.
func (t *Task) Context() *Context { return &t.ctx }

// running enters the critical section and checks that the caller owns the CPU.
func (ctx *Context) running(op string) *cs {
	k := ctx.k
	c := k.enter(ctx.t)
	if k.started && k.current != ctx.t {
		c.fatal(errors.AssertionFailedf("%s from task %s while %s is running", op, ctx.t.name, k.current.name))
	}
	return c
}

// waitResult returns the outcome of a wait the caller was just parked on.
// In simulation nothing has resolved it yet.
func (ctx *Context) waitResult() error {
	if ctx.k.port == nil {
		return ErrBlocked
	}
	ctx.k.mu.Lock()
	r := ctx.t.takeResult()
	ctx.k.mu.Unlock()
	return r.Err()
}

// Result consumes the outcome of the caller's last wait. Simulations call it
// after a blocking call returned ErrBlocked and the wait was resolved.
func (ctx *Context) Result() error {
	k := ctx.k
	k.mu.Lock()
	defer k.mu.Unlock()
	if ctx.t.is(StateBlock | StateSleep) {
		return ErrBlocked
	}
	return ctx.t.takeResult().Err()
}

// Block parks the caller on wl for up to timeout ticks and returns how the
// wait ended. NoWait fails with ErrWouldBlock. Synchronization objects build
// on it and wake waiters with Kernel.WakeOne, Unblock or CancelAll.
func (ctx *Context) Block(wl *WaitList, timeout uint64, policy WaitPolicy) error {
	if timeout == NoWait {
		return ErrWouldBlock
	}
	k := ctx.k
	c := ctx.running("block")
	if k.schedLock > 0 {
		c.release()
		return ErrSchedLocked
	}
	k.block(c, ctx.t, wl, timeout, policy)
	k.reschedule(c)
	c.exit()
	return ctx.waitResult()
}

// Sleep suspends the caller for ticks ticks. Zero yields. A sleep cut short
// by Kernel.Abort returns ErrAborted; in simulation that outcome is read
// with Result once the task runs again.
func (ctx *Context) Sleep(ticks uint64) error {
	k := ctx.k
	c := ctx.running("sleep")
	err := k.sleep(c, ctx.t, ticks)
	c.exit()
	if err != nil || ticks == 0 || k.port == nil {
		return err
	}
	k.mu.Lock()
	r := ctx.t.takeResult()
	k.mu.Unlock()
	if r == WaitAborted {
		return ErrAborted
	}
	return nil
}

// Yield lets equal-priority peers run.
func (ctx *Context) Yield() {
	c := ctx.running("yield")
	ctx.k.yield(c, ctx.t)
	c.exit()
}

// Suspend suspends the caller until another task or an interrupt resumes it.
func (ctx *Context) Suspend() error {
	c := ctx.running("suspend")
	err := ctx.k.suspend(c, ctx.t)
	c.exit()
	return err
}

// Exit deletes the calling task. On a host port it does not return.
func (ctx *Context) Exit() {
	c := ctx.k.enter(ctx.t)
	if ctx.t.is(StateClose) {
		c.exit()
		return
	}
	if err := ctx.k.deleteTask(c, ctx.t); err != nil {
		c.fatal(errors.Wrap(err, "task exit"))
	}
	c.exit()
}

// AddTask creates a task from task context. A more urgent new task runs at
// once.
func (ctx *Context) AddTask(opts TaskOptions, fn TaskFunc) (*Task, error) {
	return ctx.k.addTask(ctx.t, opts, fn)
}

// LockScheduler disables preemption until the matching UnlockScheduler.
// Interrupts still run and may ready tasks; the switch is deferred.
func (ctx *Context) LockScheduler() {
	c := ctx.running("lock scheduler")
	ctx.k.schedLock++
	c.release()
}

// UnlockScheduler undoes one LockScheduler and applies a deferred switch.
func (ctx *Context) UnlockScheduler() error {
	k := ctx.k
	c := k.enter(ctx.t)
	if k.schedLock == 0 {
		c.release()
		return errors.Wrap(ErrInvalidState, "scheduler not locked")
	}
	k.schedLock--
	if k.schedLock == 0 && k.needResched {
		k.reschedule(c)
	}
	c.exit()
	return nil
}
