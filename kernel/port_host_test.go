package kernel

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newHost(t *testing.T) (*Kernel, *HostPort) {
	t.Helper()
	port := NewHostPort()
	k, err := New(Options{Port: port})
	require.NoError(t, err)
	t.Cleanup(func() {
		k.Stop()
		done := make(chan struct{})
		go func() {
			port.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("task goroutines did not unwind")
		}
	})
	return k, port
}

func recv(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for task")
		return ""
	}
}

// tickUntil drives the tick interrupt until cond holds.
func tickUntil(t *testing.T, k *Kernel, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		k.TickISR()
		time.Sleep(100 * time.Microsecond)
	}
}

func TestHostSleepAndExit(t *testing.T) {
	k, _ := newHost(t)
	out := make(chan string, 16)
	_, err := k.AddTask(TaskOptions{Name: "a", Priority: 3}, func(ctx *Context) {
		out <- "a start"
		_ = ctx.Sleep(5)
		out <- fmt.Sprintf("a woke at %d", ctx.Now())
	})
	require.NoError(t, err)
	_, err = k.AddTask(TaskOptions{Name: "b", Priority: 4}, func(ctx *Context) {
		out <- "b start"
	})
	require.NoError(t, err)
	require.NoError(t, k.Start())

	require.Equal(t, "a start", recv(t, out))
	require.Equal(t, "b start", recv(t, out))
	for i := 0; i < 5; i++ {
		k.TickISR()
	}
	require.Equal(t, "a woke at 5", recv(t, out))
	tickUntil(t, k, func() bool { return len(k.Tasks()) == 2 })
}

func TestHostMutexInheritance(t *testing.T) {
	k, _ := newHost(t)
	m, err := k.NewMutex("M", MutexOptions{})
	require.NoError(t, err)
	out := make(chan string, 16)

	_, err = k.AddTask(TaskOptions{Name: "H", Priority: 2}, func(ctx *Context) {
		_ = ctx.Sleep(2)
		err := m.Lock(ctx, 50)
		out <- fmt.Sprintf("H lock: %v", err)
		_ = m.Unlock(ctx)
	})
	require.NoError(t, err)
	_, err = k.AddTask(TaskOptions{Name: "L", Priority: 10}, func(ctx *Context) {
		_ = m.Lock(ctx, WaitForever)
		out <- "L locked"
		_ = ctx.Sleep(10)
		out <- fmt.Sprintf("L prio %d", k.Info(ctx.Task()).Priority)
		_ = m.Unlock(ctx)
		out <- fmt.Sprintf("L prio %d", k.Info(ctx.Task()).Priority)
	})
	require.NoError(t, err)
	require.NoError(t, k.Start())

	require.Equal(t, "L locked", recv(t, out))
	var got []string
	tickUntil(t, k, func() bool {
		select {
		case s := <-out:
			got = append(got, s)
		default:
		}
		return len(got) == 3
	})
	require.Equal(t, []string{"L prio 2", "H lock: <nil>", "L prio 10"}, got)
}

func TestHostTimerTask(t *testing.T) {
	k, _ := newHost(t)
	fired := make(chan uint64, 64)
	_, err := k.NewTimer("p", func(*Timer, any) {
		select {
		case fired <- k.Now():
		default:
		}
	}, nil, 0, 3, TimerPeriodic|TimerAutoStart)
	require.NoError(t, err)
	require.NoError(t, k.Start())

	var at []uint64
	tickUntil(t, k, func() bool {
		for {
			select {
			case n := <-fired:
				at = append(at, n)
				continue
			default:
			}
			return len(at) >= 3
		}
	})
	// Callbacks may run a little after their tick, never before.
	for i, n := range at[:3] {
		require.GreaterOrEqual(t, n, uint64(3*(i+1)))
	}
}

func TestHostRoundRobinAndStop(t *testing.T) {
	k, _ := newHost(t)
	var counts [2]atomic.Uint64
	for i := range counts {
		n := &counts[i]
		_, err := k.AddTask(TaskOptions{Name: fmt.Sprintf("w%d", i), Priority: 8, TimeSlice: 2}, func(ctx *Context) {
			for {
				n.Add(1)
				ctx.Checkpoint()
			}
		})
		require.NoError(t, err)
	}
	require.NoError(t, k.Start())
	tickUntil(t, k, func() bool {
		return counts[0].Load() > 0 && counts[1].Load() > 0 && k.Now() > 20
	})
	require.Greater(t, k.Stats().Switches, uint64(2))
}

// An interrupt suspends the running task while it computes outside the
// kernel. Its next kernel call parks it until Resume.
func TestHostSuspendRunningFromInterrupt(t *testing.T) {
	k, _ := newHost(t)
	out := make(chan string, 16)
	gate := make(chan struct{})
	a, err := k.AddTask(TaskOptions{Name: "a", Priority: 3}, func(ctx *Context) {
		out <- "a running"
		<-gate
		err := ctx.Sleep(1)
		out <- fmt.Sprintf("a slept: %v", err)
	})
	require.NoError(t, err)
	_, err = k.AddTask(TaskOptions{Name: "b", Priority: 4}, func(ctx *Context) {
		out <- "b ran"
	})
	require.NoError(t, err)
	require.NoError(t, k.Start())

	require.Equal(t, "a running", recv(t, out))
	require.NoError(t, k.Suspend(a))
	close(gate)
	require.Equal(t, "b ran", recv(t, out))
	require.Equal(t, StateSuspend, k.Info(a).State)

	require.NoError(t, k.Resume(a))
	var got string
	tickUntil(t, k, func() bool {
		select {
		case got = <-out:
			return true
		default:
			return false
		}
	})
	require.Equal(t, "a slept: <nil>", got)
	require.False(t, k.Halted())
}

// An interrupt deletes the running task; its next kernel call unwinds it.
func TestHostDeleteRunningFromInterrupt(t *testing.T) {
	k, _ := newHost(t)
	out := make(chan string, 16)
	gate := make(chan struct{})
	a, err := k.AddTask(TaskOptions{Name: "a", Priority: 3}, func(ctx *Context) {
		out <- "a running"
		<-gate
		_ = ctx.Sleep(1)
		out <- "a survived"
	})
	require.NoError(t, err)
	_, err = k.AddTask(TaskOptions{Name: "b", Priority: 4}, func(ctx *Context) {
		out <- "b ran"
	})
	require.NoError(t, err)
	require.NoError(t, k.Start())

	require.Equal(t, "a running", recv(t, out))
	require.NoError(t, k.Delete(a))
	close(gate)
	require.Equal(t, "b ran", recv(t, out))
	tickUntil(t, k, func() bool { return k.Stats().Defunct == 0 && len(k.Tasks()) == 2 })
	require.Empty(t, out)
	require.False(t, k.Halted())
}

// Aborting a host sleeper makes its Sleep return ErrAborted.
func TestHostAbortSleep(t *testing.T) {
	k, _ := newHost(t)
	out := make(chan error, 1)
	a, err := k.AddTask(TaskOptions{Name: "a", Priority: 3}, func(ctx *Context) {
		out <- ctx.Sleep(1000)
	})
	require.NoError(t, err)
	require.NoError(t, k.Start())

	tickUntil(t, k, func() bool { return k.Info(a).State == StateSleep })
	require.NoError(t, k.Abort(a))
	select {
	case err := <-out:
		require.ErrorIs(t, err, ErrAborted)
	case <-time.After(5 * time.Second):
		t.Fatal("aborted sleeper did not run")
	}
}
