package kernel

// Port supplies the architecture-specific half of a context switch: it turns
// a task body into a continuation the scheduler can resume and park.
//
// A nil Port runs the kernel in simulation: dispatch decisions are tracked
// but no task body executes. Deterministic tests and the tick simulator use
// that mode and drive tasks from outside.
type Port interface {
	// Spawn prepares entry to run on stack. The body must not start until
	// the continuation is first resumed.
	Spawn(entry func(), stack []byte) (Continuation, error)
}

// Continuation is a suspended task body.
type Continuation interface {
	// Resume lets the task run. It never blocks the caller.
	Resume()
	// Park suspends the calling task until Resume. It reports false when
	// the task was killed while parked; the caller must then unwind.
	Park() bool
	// Kill discards the continuation. A parked body unwinds.
	Kill()
}
