package kernel

import (
	"math/bits"

	"github.com/cockroachdb/errors"
)

// Config sizes the kernel's fixed structures.
type Config struct {
	// Priorities is the number of priority levels. The least urgent level is
	// reserved for the idle task.
	Priorities int `toml:"priorities"`
	// TickBuckets is the number of tick-queue buckets, a power of two.
	TickBuckets int `toml:"tick_buckets"`
	// TimerSlots is the number of timer wheel slots.
	TimerSlots int `toml:"timer_slots"`
	// TimeSlice is the default round-robin quantum in ticks. A task can opt
	// out with Kernel.SetTimeSlice(t, 0).
	TimeSlice uint32 `toml:"time_slice"`
	// TimerTaskPriority is the priority of the task that runs timer callbacks.
	TimerTaskPriority Priority `toml:"timer_task_priority"`
	// StackSize is the default stack reservation per task, in bytes.
	StackSize int `toml:"stack_size"`
}

// DefaultConfig returns the configuration used for zero fields.
func DefaultConfig() Config {
	return Config{
		Priorities:        62,
		TickBuckets:       8,
		TimerSlots:        16,
		TimeSlice:         10,
		TimerTaskPriority: 5,
		StackSize:         1024,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Priorities == 0 {
		c.Priorities = d.Priorities
	}
	if c.TickBuckets == 0 {
		c.TickBuckets = d.TickBuckets
	}
	if c.TimerSlots == 0 {
		c.TimerSlots = d.TimerSlots
	}
	if c.TimeSlice == 0 {
		c.TimeSlice = d.TimeSlice
	}
	if c.TimerTaskPriority == 0 {
		c.TimerTaskPriority = d.TimerTaskPriority
	}
	if c.StackSize == 0 {
		c.StackSize = d.StackSize
	}
	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Priorities < 2 || c.Priorities > MaxPriorities {
		return errors.Newf("priorities %d out of range [2, %d]", c.Priorities, MaxPriorities)
	}
	if c.TickBuckets <= 0 || bits.OnesCount(uint(c.TickBuckets)) != 1 {
		return errors.Newf("tick buckets %d is not a power of two", c.TickBuckets)
	}
	if c.TimerSlots <= 0 {
		return errors.Newf("timer slots %d must be positive", c.TimerSlots)
	}
	if int(c.TimerTaskPriority) >= c.Priorities-1 {
		return errors.Wrapf(ErrInvalidPriority, "timer task priority %d", c.TimerTaskPriority)
	}
	if c.StackSize < 0 {
		return errors.Newf("stack size %d is negative", c.StackSize)
	}
	return nil
}

// IdlePriority is the level reserved for the idle task.
func (c Config) IdlePriority() Priority {
	return Priority(c.Priorities - 1)
}
