package kernel

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func noop(*Context) {}

// newSim returns a simulated kernel. Tests act as the running task through
// Task.Context and drive time with TickISR.
func newSim(t *testing.T, mut func(*Config)) *Kernel {
	t.Helper()
	cfg := DefaultConfig()
	if mut != nil {
		mut(&cfg)
	}
	k, err := New(Options{Config: cfg})
	require.NoError(t, err)
	return k
}

func addTask(t *testing.T, k *Kernel, name string, prio Priority) *Task {
	t.Helper()
	task, err := k.AddTask(TaskOptions{Name: name, Priority: prio}, noop)
	require.NoError(t, err)
	return task
}

func ticks(k *Kernel, n int) {
	for i := 0; i < n; i++ {
		k.TickISR()
	}
}

// countingAlloc tracks outstanding bytes and can be capped.
type countingAlloc struct {
	limit int
	used  int
	frees int
}

func (a *countingAlloc) Alloc(size int) []byte {
	if a.limit > 0 && a.used+size > a.limit {
		return nil
	}
	a.used += size
	return make([]byte, size)
}

func (a *countingAlloc) Free(b []byte) {
	a.used -= len(b)
	a.frees++
}

func TestNewCreatesSystemTasks(t *testing.T) {
	k := newSim(t, nil)
	require.NotNil(t, k.Idle())
	require.NotNil(t, k.TimerTask())
	require.Nil(t, k.Current())

	idle := k.Info(k.Idle())
	require.Equal(t, k.Config().IdlePriority(), idle.Priority)
	require.Equal(t, StateReady, idle.State)
	require.Zero(t, idle.TimeSlice)

	timer := k.Info(k.TimerTask())
	require.Equal(t, StateBlock, timer.State)
	require.Equal(t, DefaultConfig().TimerTaskPriority, timer.Priority)

	require.NoError(t, k.Start())
	require.Same(t, k.Idle(), k.Current())
	require.Error(t, k.Start())
}

func TestNewRejectsBadConfig(t *testing.T) {
	for name, cfg := range map[string]Config{
		"buckets":    {TickBuckets: 12},
		"priorities": {Priorities: MaxPriorities + 1},
		"timer-prio": {Priorities: 8, TimerTaskPriority: 7},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New(Options{Config: cfg})
			require.Error(t, err)
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{TimeSlice: 3}.withDefaults()
	d := DefaultConfig()
	require.Equal(t, d.Priorities, cfg.Priorities)
	require.Equal(t, d.TickBuckets, cfg.TickBuckets)
	require.EqualValues(t, 3, cfg.TimeSlice)
	require.NoError(t, cfg.Validate())
	require.Equal(t, Priority(61), d.IdlePriority())
}

func TestNewOutOfMemory(t *testing.T) {
	_, err := New(Options{Allocator: &countingAlloc{limit: 100}})
	require.True(t, errors.Is(err, ErrNoMemory))
}

func TestAddTaskErrors(t *testing.T) {
	a := &countingAlloc{}
	k, err := New(Options{Allocator: a})
	require.NoError(t, err)

	_, err = k.AddTask(TaskOptions{Name: "bad", Priority: k.Config().IdlePriority()}, noop)
	require.True(t, errors.Is(err, ErrInvalidPriority))

	a.limit = a.used + 64
	_, err = k.AddTask(TaskOptions{Name: "big", Priority: 3}, noop)
	require.True(t, errors.Is(err, ErrNoMemory))
}

func TestFaultHandlerRunsOnce(t *testing.T) {
	var faults []FaultInfo
	k, err := New(Options{OnFault: func(info FaultInfo) { faults = append(faults, info) }})
	require.NoError(t, err)
	a := addTask(t, k, "a", 3)
	b := addTask(t, k, "b", 4)
	require.NoError(t, k.Start())
	require.Same(t, a, k.Current())

	// Only the running task may block.
	require.Panics(t, func() { _ = b.Context().Sleep(5) })
	require.Panics(t, func() { _ = b.Context().Sleep(5) })
	require.True(t, k.Halted())
	require.Len(t, faults, 1)
	require.Equal(t, a.ID(), faults[0].TaskID)
	require.NotEmpty(t, faults[0].Stack)
}

func TestStats(t *testing.T) {
	k := newSim(t, nil)
	a := addTask(t, k, "a", 3)
	require.NoError(t, k.Start())
	require.NoError(t, a.Context().Sleep(2))
	ticks(k, 2)

	st := k.Stats()
	require.EqualValues(t, 2, st.Ticks)
	require.EqualValues(t, 2, st.Switches)
	require.Equal(t, 3, st.Tasks)
	require.Same(t, a, k.Current())
}
