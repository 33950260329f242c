package kernel

import "github.com/cockroachdb/errors"

var (
	// ErrTimeout reports that a bounded wait expired. It is a normal outcome.
	ErrTimeout = errors.New("kernel: wait timed out")
	// ErrWouldBlock is returned by a zero-timeout wait that could not complete.
	ErrWouldBlock = errors.New("kernel: operation would block")
	// ErrBusy is returned when a mutex is held and the caller asked not to wait.
	ErrBusy = errors.New("kernel: object busy")
	// ErrFull is returned by a non-blocking post to a full object.
	ErrFull = errors.New("kernel: object full")
	// ErrEmpty is returned by a non-blocking fetch from an empty object.
	ErrEmpty = errors.New("kernel: object empty")
	// ErrNoMemory reports allocator exhaustion.
	ErrNoMemory = errors.New("kernel: out of memory")
	// ErrDeleted reports that the object waited on was deleted.
	ErrDeleted = errors.New("kernel: object deleted")
	// ErrAborted reports that the wait was cancelled with Kernel.Abort.
	ErrAborted = errors.New("kernel: wait aborted")
	// ErrNotOwner is returned by Mutex.Unlock when the caller does not hold it.
	ErrNotOwner = errors.New("kernel: mutex not owned by caller")
	// ErrSchedLocked is returned when a task blocks with the scheduler locked.
	ErrSchedLocked = errors.New("kernel: scheduler locked")
	// ErrInvalidPriority reports a priority outside the configured range.
	ErrInvalidPriority = errors.New("kernel: invalid priority")
	// ErrInvalidState reports an operation that does not apply to the task state.
	ErrInvalidState = errors.New("kernel: invalid task state")
	// ErrNotSuspended is returned by Resume for a task that is not suspended.
	ErrNotSuspended = errors.New("kernel: task not suspended")
	// ErrNotStarted is returned by operations that need a running kernel.
	ErrNotStarted = errors.New("kernel: not started")
	// ErrBlocked is returned in simulation when a blocking call left the task
	// waiting. Context.Result reports the outcome once the wait resolves.
	ErrBlocked = errors.New("kernel: task blocked")
)

// WaitResult is the one-shot outcome stored on a task when its block resolves.
type WaitResult uint8

const (
	waitPending WaitResult = iota
	WaitOK
	WaitTimeout
	WaitAborted
	WaitDeleted
)

func (r WaitResult) String() string {
	switch r {
	case waitPending:
		return "pending"
	case WaitOK:
		return "ok"
	case WaitTimeout:
		return "timeout"
	case WaitAborted:
		return "aborted"
	case WaitDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Err maps the result to the error returned from a blocking call.
func (r WaitResult) Err() error {
	switch r {
	case WaitOK:
		return nil
	case WaitTimeout:
		return ErrTimeout
	case WaitAborted:
		return ErrAborted
	case WaitDeleted:
		return ErrDeleted
	default:
		return errors.AssertionFailedf("wait result read before resolution: %s", r)
	}
}
