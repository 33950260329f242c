package kernel

import (
	"runtime"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// Options configures a kernel instance.
type Options struct {
	Config Config
	// Port runs task bodies. Nil selects simulation mode.
	Port Port
	// Allocator backs task stacks and dynamically created objects.
	// Nil uses the Go heap.
	Allocator Allocator
	// Logger receives lifecycle events. The zero Logger discards them.
	Logger zerolog.Logger
	// OnFault is called once on the first fatal assertion.
	OnFault FaultHandler
}

// Stats are kernel-wide counters.
type Stats struct {
	Ticks     uint64
	Switches  uint64
	IdleLoops uint64
	Tasks     int
	Defunct   int
	Timers    int
}

// Kernel is one scheduler instance: ready queue, tick queue, timer wheel and
// the tasks they order, all guarded by a single lock.
type Kernel struct {
	mu    sync.Mutex
	token cs

	cfg   Config
	port  Port
	alloc Allocator
	log   zerolog.Logger
	fault faultState

	ready  readyQueue
	ticks  tickQueue
	timers timerWheel

	current   *Task
	idle      *Task
	timerTask *Task
	tasks     []*Task
	defunct   []*Task
	nextID    TaskID

	started     bool
	stopped     bool
	schedLock   int
	needResched bool

	switchFrom, switchTo *Task

	kick chan struct{}
	done chan struct{}

	stats Stats
}

// New creates a kernel with its idle and timer tasks. No task runs until
// Start.
func New(opts Options) (*Kernel, error) {
	cfg := opts.Config.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "kernel config")
	}
	k := &Kernel{
		cfg:   cfg,
		port:  opts.Port,
		alloc: opts.Allocator,
		log:   opts.Logger,
		ready: newReadyQueue(cfg.Priorities),
		ticks: newTickQueue(cfg.TickBuckets),
		kick:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	k.timers = newTimerWheel(cfg.TimerSlots)
	k.fault.handler = opts.OnFault
	if k.alloc == nil {
		k.alloc = goAllocator{}
	}

	idle, err := k.newTask(TaskOptions{Name: "idle", Priority: cfg.IdlePriority()}, k.idleLoop)
	if err != nil {
		return nil, errors.Wrap(err, "idle task")
	}
	idle.slice, idle.sliceLeft = 0, 0
	timer, err := k.newTask(TaskOptions{Name: "timer", Priority: cfg.TimerTaskPriority}, k.timerLoop)
	if err != nil {
		if idle.cont != nil {
			idle.cont.Kill()
		}
		return nil, errors.Wrap(err, "timer task")
	}

	c := k.enterISR()
	k.idle = idle
	k.admit(c, idle, false)
	k.timerTask = timer
	k.admit(c, timer, false)
	// The timer task starts parked on the wheel until a timer is armed.
	k.block(c, timer, &k.timers.wake, WaitForever, WaitFIFO)
	c.release()

	k.log.Debug().
		Int("priorities", cfg.Priorities).
		Int("tick_buckets", cfg.TickBuckets).
		Int("timer_slots", cfg.TimerSlots).
		Uint32("time_slice", cfg.TimeSlice).
		Bool("simulated", k.port == nil).
		Msg("kernel created")
	return k, nil
}

// Config returns the effective configuration.
func (k *Kernel) Config() Config { return k.cfg }

// Start dispatches the most urgent ready task.
func (k *Kernel) Start() error {
	c := k.enterISR()
	if k.started {
		c.release()
		return errors.New("kernel: already started")
	}
	k.started = true
	next := k.ready.head()
	k.current = next
	next.dispatches++
	if k.port != nil {
		k.switchTo = next
	}
	c.exit()
	k.log.Debug().Str("task", next.name).Msg("kernel started")
	return nil
}

// Stop kills every task body. Host ports unwind their goroutines; the
// kernel must not be used afterwards.
func (k *Kernel) Stop() {
	c := k.enterISR()
	if k.stopped {
		c.release()
		return
	}
	k.stopped = true
	tasks := append([]*Task(nil), k.tasks...)
	c.release()
	close(k.done)
	for _, t := range tasks {
		if t.cont != nil {
			t.cont.Kill()
		}
	}
}

// Now returns the current tick.
func (k *Kernel) Now() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ticks.now
}

// Current returns the task that owns the CPU.
func (k *Kernel) Current() *Task {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.current
}

// HighestReady returns the task the scheduler would dispatch next.
func (k *Kernel) HighestReady() *Task {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ready.head()
}

// Idle returns the idle task.
func (k *Kernel) Idle() *Task { return k.idle }

// TimerTask returns the task that runs timer callbacks.
func (k *Kernel) TimerTask() *Task { return k.timerTask }

// Tasks returns a snapshot of every live task.
func (k *Kernel) Tasks() []TaskInfo {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]TaskInfo, 0, len(k.tasks))
	for _, t := range k.tasks {
		out = append(out, t.info(t == k.current))
	}
	return out
}

// Info returns a snapshot of t.
func (k *Kernel) Info(t *Task) TaskInfo {
	k.mu.Lock()
	defer k.mu.Unlock()
	return t.info(t == k.current)
}

// Stats returns kernel counters.
func (k *Kernel) Stats() Stats {
	k.mu.Lock()
	defer k.mu.Unlock()
	s := k.stats
	s.Ticks = k.ticks.now
	s.Tasks = len(k.tasks)
	s.Defunct = len(k.defunct)
	s.Timers = len(k.timers.all)
	return s
}

// reschedule hands the CPU to the most urgent ready task. Interrupt and
// external callers on a host port only mark the decision; it is applied at
// the running task's next kernel exit, or at once when the CPU is idle.
func (k *Kernel) reschedule(c *cs) {
	if !k.started {
		return
	}
	prev := k.current
	next := k.ready.head()
	c.assertf(next != nil, "ready queue empty: idle task missing")
	if next == prev {
		k.needResched = false
		return
	}
	if k.schedLock > 0 && prev != nil && prev.is(StateReady) {
		k.needResched = true
		return
	}
	if k.port != nil && (c.self == nil || c.self != prev) {
		k.needResched = true
		if prev == k.idle {
			select {
			case k.kick <- struct{}{}:
			default:
			}
		}
		return
	}
	k.needResched = false
	k.current = next
	next.dispatches++
	k.stats.Switches++
	if k.port != nil {
		k.switchFrom, k.switchTo = prev, next
	}
}

// idleLoop is the idle task body: it recycles self-deleted tasks and waits
// for an interrupt to make something ready.
func (k *Kernel) idleLoop(ctx *Context) {
	for {
		c := k.enter(ctx.t)
		k.reap(c)
		k.stats.IdleLoops++
		k.reschedule(c)
		switched := k.switchTo != nil
		c.exit()
		if switched {
			continue
		}
		select {
		case <-k.kick:
		case <-k.done:
			runtime.Goexit()
		}
	}
}

// reap frees the stacks of tasks that deleted themselves.
func (k *Kernel) reap(c *cs) {
	for i, t := range k.defunct {
		k.free(c, t)
		k.defunct[i] = nil
	}
	k.defunct = k.defunct[:0]
}
