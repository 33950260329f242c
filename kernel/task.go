package kernel

import "strings"

// Priority orders tasks. Numerically lower values are more urgent.
type Priority uint16

// TaskID identifies a task for its whole lifetime.
type TaskID uint32

// State is a task state bitmask. Suspend is a modifier that may be combined
// with Sleep and Block; Block may be combined with Sleep when a timeout applies.
type State uint8

const (
	StateInit State = 1 << iota
	StateReady
	StateSleep
	StateBlock
	StateSuspend
	StateClose
)

func (s State) String() string {
	if s == 0 {
		return "none"
	}
	var parts []string
	for _, st := range []struct {
		bit  State
		name string
	}{
		{StateInit, "init"},
		{StateReady, "ready"},
		{StateSleep, "sleep"},
		{StateBlock, "block"},
		{StateSuspend, "suspend"},
		{StateClose, "close"},
	} {
		if s&st.bit != 0 {
			parts = append(parts, st.name)
		}
	}
	return strings.Join(parts, "|")
}

// WaitPolicy selects the order in which a wait list wakes its members.
type WaitPolicy uint8

const (
	// WaitPriority wakes the most urgent waiter first, FIFO among equals.
	WaitPriority WaitPolicy = iota
	// WaitFIFO wakes waiters in arrival order.
	WaitFIFO
)

// TaskFunc is a task body. Returning from it deletes the task.
type TaskFunc func(ctx *Context)

// Task is a schedulable thread of execution.
type Task struct {
	k    *Kernel
	id   TaskID
	name string

	prio     Priority // current, possibly boosted
	basePrio Priority

	state        State
	suspendCount int

	links [numLinkFields]link

	wakeTick  uint64
	blockedOn *WaitList
	policy    WaitPolicy
	result    WaitResult

	heldMutexes *Mutex

	slice     uint32
	sliceLeft uint32

	entry TaskFunc
	ctx   Context
	stack []byte
	cont  Continuation

	ranTicks    uint64
	dispatches  uint64
	mailboxSlot Message
}

// ID returns the task identifier.
func (t *Task) ID() TaskID { return t.id }

// Name returns the task name.
func (t *Task) Name() string { return t.name }

func (t *Task) is(s State) bool { return t.state&s != 0 }

// takeResult consumes the one-shot wait result.
func (t *Task) takeResult() WaitResult {
	r := t.result
	t.result = waitPending
	return r
}

// TaskInfo is a snapshot of a task's scheduling state.
type TaskInfo struct {
	ID           TaskID
	Name         string
	Priority     Priority
	BasePriority Priority
	State        State
	Running      bool
	TimeSlice    uint32
	SliceLeft    uint32
	RanTicks     uint64
	Dispatches   uint64
	WakeTick     uint64
	HeldMutexes  int
}

func (t *Task) info(running bool) TaskInfo {
	n := 0
	for m := t.heldMutexes; m != nil; m = m.nextHeld {
		n++
	}
	return TaskInfo{
		ID:           t.id,
		Name:         t.name,
		Priority:     t.prio,
		BasePriority: t.basePrio,
		State:        t.state,
		Running:      running,
		TimeSlice:    t.slice,
		SliceLeft:    t.sliceLeft,
		RanTicks:     t.ranTicks,
		Dispatches:   t.dispatches,
		WakeTick:     t.wakeTick,
		HeldMutexes:  n,
	}
}
