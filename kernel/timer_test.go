package kernel

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

// fireLog records the tick of every callback.
type fireLog struct {
	k     *Kernel
	ticks []uint64
}

func (l *fireLog) fn(*Timer, any) { l.ticks = append(l.ticks, l.k.Now()) }

// A periodic timer fires floor(ticks/T) times, each exactly T ticks after
// the previous one, for any wheel size.
func TestPeriodicTimerAccuracy(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("no jitter, no drift", prop.ForAll(
		func(period, slots, total int) bool {
			k, err := New(Options{Config: Config{TimerSlots: slots}})
			if err != nil {
				return false
			}
			l := &fireLog{k: k}
			if _, err := k.NewTimer("p", l.fn, nil, 0, uint64(period), TimerPeriodic|TimerAutoStart); err != nil {
				return false
			}
			for i := 0; i < total; i++ {
				k.TickISR()
				k.RunTimers()
			}
			if len(l.ticks) != total/period {
				return false
			}
			for i, at := range l.ticks {
				if at != uint64((i+1)*period) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 40),
		gen.IntRange(1, 20),
		gen.IntRange(0, 300),
	))
	properties.TestingRun(t)
}

func TestTimerCatchUp(t *testing.T) {
	k := newSim(t, func(c *Config) { c.TimerSlots = 4 })
	// Periodic timers are re-armed before their callback runs, so each
	// callback sees the next expiry.
	var next []uint64
	tm, err := k.NewTimer("p", func(tm *Timer, _ any) {
		next = append(next, tm.expiry)
	}, nil, 0, 7, TimerPeriodic|TimerAutoStart)
	require.NoError(t, err)

	// The timer task was starved for 50 ticks.
	ticks(k, 50)
	require.Equal(t, 7, k.RunTimers())
	require.Equal(t, []uint64{14, 21, 28, 35, 42, 49, 56}, next)
	require.EqualValues(t, 56, tm.expiry)

	ticks(k, 6)
	require.Equal(t, 1, k.RunTimers())
	require.EqualValues(t, 8, tm.Fires())
}

func TestOneShotTimer(t *testing.T) {
	k := newSim(t, nil)
	var activeInCallback []bool
	tm, err := k.NewTimer("once", func(tm *Timer, arg any) {
		activeInCallback = append(activeInCallback, tm.Active())
		require.Equal(t, "arg", arg)
	}, "arg", 5, 0, 0)
	require.NoError(t, err)
	require.False(t, tm.Active())
	require.NoError(t, tm.Start())
	require.True(t, tm.Active())

	ticks(k, 4)
	require.Zero(t, k.RunTimers())
	ticks(k, 1)
	require.Equal(t, 1, k.RunTimers())
	require.Equal(t, []bool{false}, activeInCallback)
	ticks(k, 40)
	require.Zero(t, k.RunTimers())

	// A callback may restart its own one-shot timer.
	tm2, err := k.NewTimer("again", func(tm *Timer, _ any) { _ = tm.Start() }, nil, 3, 0, TimerAutoStart)
	require.NoError(t, err)
	for i := 0; i < 9; i++ {
		k.TickISR()
		k.RunTimers()
	}
	require.EqualValues(t, 3, tm2.Fires())
}

func TestTimerStopsItself(t *testing.T) {
	k := newSim(t, nil)
	var n int
	tm, err := k.NewTimer("p", func(tm *Timer, _ any) {
		n++
		if n == 2 {
			_ = tm.Stop()
		}
	}, nil, 0, 3, TimerPeriodic|TimerAutoStart)
	require.NoError(t, err)
	for i := 0; i < 30; i++ {
		k.TickISR()
		k.RunTimers()
	}
	require.Equal(t, 2, n)
	require.False(t, tm.Active())
}

func TestTimerStartRestarts(t *testing.T) {
	k := newSim(t, nil)
	l := &fireLog{k: k}
	tm, err := k.NewTimer("t", l.fn, nil, 10, 0, TimerAutoStart)
	require.NoError(t, err)
	ticks(k, 6)
	k.RunTimers()
	require.NoError(t, tm.Start())
	ticks(k, 9)
	k.RunTimers()
	require.Empty(t, l.ticks)
	ticks(k, 1)
	k.RunTimers()
	require.Equal(t, []uint64{16}, l.ticks)
}

func TestTimerChange(t *testing.T) {
	k := newSim(t, nil)
	l := &fireLog{k: k}
	tm, err := k.NewTimer("t", l.fn, nil, 0, 5, TimerPeriodic|TimerAutoStart)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		k.TickISR()
		k.RunTimers()
	}
	require.NoError(t, tm.Change(3, 20))
	for i := 0; i < 30; i++ {
		k.TickISR()
		k.RunTimers()
	}
	require.Equal(t, []uint64{5, 10, 13, 33}, l.ticks)

	require.Error(t, tm.Change(0, 0))
}

func TestTimerDelete(t *testing.T) {
	a := &countingAlloc{}
	k, err := New(Options{Allocator: a})
	require.NoError(t, err)
	base := a.used
	l := &fireLog{k: k}
	tm, err := k.NewTimer("t", l.fn, nil, 2, 0, TimerAutoStart)
	require.NoError(t, err)
	require.Len(t, k.Timers(), 1)
	require.NoError(t, tm.Delete())
	require.Empty(t, k.Timers())
	require.Equal(t, base, a.used)

	ticks(k, 5)
	require.Zero(t, k.RunTimers())
	require.Panics(t, func() { _ = tm.Delete() })
}

func TestNewTimerErrors(t *testing.T) {
	k, err := New(Options{Allocator: &countingAlloc{limit: 2*(taskControlSize+1024) + timerControlSize}})
	require.NoError(t, err)
	_, err = k.NewTimer("nil", nil, nil, 1, 0, 0)
	require.Error(t, err)
	_, err = k.NewTimer("zero", func(*Timer, any) {}, nil, 0, 0, 0)
	require.Error(t, err)
	_, err = k.NewTimer("periodic", func(*Timer, any) {}, nil, 5, 0, TimerPeriodic)
	require.Error(t, err)
	_, err = k.NewTimer("ok", func(*Timer, any) {}, nil, 5, 0, 0)
	require.NoError(t, err)
	_, err = k.NewTimer("oom", func(*Timer, any) {}, nil, 5, 0, 0)
	require.True(t, errors.Is(err, ErrNoMemory))
}

func TestNextTimerFire(t *testing.T) {
	k := newSim(t, func(c *Config) { c.TimerSlots = 8 })
	_, ok := k.NextTimerFire()
	require.False(t, ok)

	l := &fireLog{k: k}
	_, err := k.NewTimer("far", l.fn, nil, 30, 0, TimerAutoStart)
	require.NoError(t, err)
	near, err := k.NewTimer("near", l.fn, nil, 12, 0, TimerAutoStart)
	require.NoError(t, err)

	d, ok := k.NextTimerFire()
	require.True(t, ok)
	require.EqualValues(t, 12, d)

	ticks(k, 5)
	d, _ = k.NextTimerFire()
	require.EqualValues(t, 7, d)
	k.RunTimers()
	d, _ = k.NextTimerFire()
	require.EqualValues(t, 7, d)

	require.NoError(t, near.Stop())
	d, _ = k.NextTimerFire()
	require.EqualValues(t, 25, d)
}

func TestTimerInfo(t *testing.T) {
	k := newSim(t, nil)
	_, err := k.NewTimer("p", func(*Timer, any) {}, nil, 0, 4, TimerPeriodic|TimerAutoStart)
	require.NoError(t, err)
	infos := k.Timers()
	require.Len(t, infos, 1)
	require.Equal(t, TimerInfo{Name: "p", Active: true, Periodic: true, Period: 4, Expiry: 4}, infos[0])
}

// A callback that stops, deletes or restarts a timer due in the same tick
// keeps that timer's stale expiry from running.
func TestTimerCancelledWithinBatch(t *testing.T) {
	for _, tc := range []struct {
		name   string
		cancel func(b *Timer)
		want   []string
	}{
		{"stop", func(b *Timer) { _ = b.Stop() }, []string{"a@5"}},
		{"delete", func(b *Timer) { _ = b.Delete() }, []string{"a@5"}},
		{"restart", func(b *Timer) { _ = b.Start() }, []string{"a@5", "b@10"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			k := newSim(t, nil)
			var got []string
			var b *Timer
			_, err := k.NewTimer("a", func(*Timer, any) {
				got = append(got, fmt.Sprintf("a@%d", k.Now()))
				tc.cancel(b)
			}, nil, 5, 0, TimerAutoStart)
			require.NoError(t, err)
			b, err = k.NewTimer("b", func(*Timer, any) {
				got = append(got, fmt.Sprintf("b@%d", k.Now()))
			}, nil, 5, 0, TimerAutoStart)
			require.NoError(t, err)

			for i := 0; i < 12; i++ {
				k.TickISR()
				k.RunTimers()
			}
			require.Equal(t, tc.want, got)
			if tc.name != "delete" {
				require.EqualValues(t, len(tc.want)-1, b.Fires())
			}
		})
	}
}
