package kernel

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestTickBucketOrder(t *testing.T) {
	k := newSim(t, func(c *Config) { c.TickBuckets = 4 })
	var tasks []*Task
	for i, name := range []string{"a", "b", "c"} {
		tasks = append(tasks, addTask(t, k, name, Priority(i+1)))
	}
	require.NoError(t, k.Start())

	// a, b and c land in the same bucket.
	for i, d := range []uint64{9, 5, 1} {
		require.NoError(t, tasks[i].Context().Sleep(d))
	}
	b := &k.ticks.buckets[1]
	require.Equal(t, 3, b.len())
	require.Same(t, tasks[2], b.front())
	require.Same(t, tasks[1], b.next(tasks[2]))
	require.Same(t, tasks[0], b.next(tasks[1]))

	k.TickISR()
	require.Same(t, tasks[2], k.Current())
	require.Equal(t, 2, b.len())
}

// Every sleeper wakes on exactly the tick it asked for, whatever the bucket
// count and however the delays collide.
func TestTickQueueWakesOnTime(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("sleepers wake on their tick", prop.ForAll(
		func(delays []int, bucketShift int) bool {
			k, err := New(Options{Config: Config{TickBuckets: 1 << bucketShift}})
			if err != nil {
				return false
			}
			tasks := make([]*Task, len(delays))
			for i := range delays {
				tasks[i], err = k.AddTask(TaskOptions{Name: "s", Priority: Priority(i)}, noop)
				if err != nil {
					return false
				}
			}
			if k.Start() != nil {
				return false
			}
			for i, d := range delays {
				if k.Current() != tasks[i] || tasks[i].Context().Sleep(uint64(d)) != nil {
					return false
				}
			}
			for now := uint64(1); now <= 70; now++ {
				k.TickISR()
				for i, d := range delays {
					ready := k.Info(tasks[i]).State == StateReady
					if ready != (uint64(d) <= now) {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOfN(12, gen.IntRange(1, 64)),
		gen.IntRange(0, 4),
	))
	properties.TestingRun(t)
}

func TestTickISRBeforeStart(t *testing.T) {
	k := newSim(t, nil)
	ticks(k, 3)
	require.EqualValues(t, 3, k.Now())
	require.Nil(t, k.Current())
}
