package kernel

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// FaultInfo describes a kernel consistency violation.
type FaultInfo struct {
	TaskID TaskID
	Err    error
	Stack  []byte
}

// FaultHandler is invoked at most once per kernel, on the first fault.
// It must not call back into the kernel.
type FaultHandler func(FaultInfo)

type faultState struct {
	once    sync.Once
	halted  bool
	handler FaultHandler
}

// Halted reports whether the kernel has hit a fatal assertion.
func (k *Kernel) Halted() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.fault.halted
}

// assertf halts the kernel when cond is false.
func (c *cs) assertf(cond bool, format string, args ...any) {
	if cond {
		return
	}
	c.fatal(errors.AssertionFailedf(format, args...))
}

// fatal records the fault, releases the kernel lock and panics. Continuing
// with a corrupted wait list or run queue is never safe.
func (c *cs) fatal(err error) {
	k := c.k
	var id TaskID
	if k.current != nil {
		id = k.current.id
	}
	k.fault.halted = true
	k.fault.once.Do(func() {
		info := FaultInfo{TaskID: id, Err: err, Stack: captureStack()}
		k.log.Error().Err(err).Uint32("task", uint32(id)).Msg("kernel fault")
		if k.fault.handler != nil {
			k.fault.handler(info)
		}
	})
	c.release()
	panic(err)
}
