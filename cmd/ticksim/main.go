// Command ticksim replays scheduling scenarios on a simulated kernel and
// prints a tick-accurate dispatch trace.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"sparkrt/kernel"
)

func main() {
	var (
		scenario string
		ticks    uint64
		slice    uint
		pretty   bool
	)
	flag.StringVar(&scenario, "scenario", "rr", "Scenario to replay: rr or inherit.")
	flag.Uint64Var(&ticks, "ticks", 200, "Ticks to simulate.")
	flag.UintVar(&slice, "slice", 10, "Round-robin time slice in ticks.")
	flag.BoolVar(&pretty, "pretty", false, "Human-readable output instead of JSON lines.")
	flag.Parse()

	var log zerolog.Logger
	if pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, PartsExclude: []string{zerolog.TimestampFieldName}})
	} else {
		log = zerolog.New(os.Stdout)
	}

	cfg := kernel.DefaultConfig()
	cfg.TimeSlice = uint32(slice)

	var err error
	switch scenario {
	case "rr":
		err = runRoundRobin(log, cfg, ticks)
	case "inherit":
		err = runInherit(log, cfg, ticks)
	default:
		err = errors.Newf("unknown scenario %q", scenario)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ticksim: %v\n", err)
		os.Exit(1)
	}
}

// tracer logs every change of the running task.
type tracer struct {
	log  zerolog.Logger
	k    *kernel.Kernel
	last *kernel.Task
}

func (tr *tracer) observe() {
	cur := tr.k.Current()
	if cur == tr.last {
		return
	}
	ev := tr.log.Info().Uint64("tick", tr.k.Now()).Str("run", cur.Name())
	if tr.last != nil {
		ev = ev.Str("prev", tr.last.Name())
	}
	ev.Msg("dispatch")
	tr.last = cur
}

func (tr *tracer) summary() {
	for _, ti := range tr.k.Tasks() {
		tr.log.Info().
			Str("task", ti.Name).
			Uint16("prio", uint16(ti.Priority)).
			Stringer("state", ti.State).
			Uint64("ran", ti.RanTicks).
			Uint64("dispatches", ti.Dispatches).
			Msg("summary")
	}
}

// runRoundRobin: an urgent task sleeps 100 ticks while two equal-priority
// tasks share the CPU by time slice.
func runRoundRobin(log zerolog.Logger, cfg kernel.Config, ticks uint64) error {
	k, err := kernel.New(kernel.Options{Config: cfg})
	if err != nil {
		return err
	}
	body := func(*kernel.Context) {}
	p1, err := k.AddTask(kernel.TaskOptions{Name: "P1", Priority: 1}, body)
	if err != nil {
		return err
	}
	for _, name := range []string{"P5a", "P5b"} {
		if _, err := k.AddTask(kernel.TaskOptions{Name: name, Priority: 5}, body); err != nil {
			return err
		}
	}
	if err := k.Start(); err != nil {
		return err
	}
	tr := &tracer{log: log, k: k}
	tr.observe()
	if err := p1.Context().Sleep(100); err != nil {
		return err
	}
	tr.observe()
	for k.Now() < ticks {
		k.TickISR()
		tr.observe()
		if k.Current() == p1 {
			if err := p1.Context().Sleep(100); err != nil {
				return err
			}
			tr.observe()
		}
	}
	tr.summary()
	return nil
}

// runInherit: L holds a mutex, H blocks on it with a timeout of 50 and L
// unlocks at tick 20.
func runInherit(log zerolog.Logger, cfg kernel.Config, ticks uint64) error {
	k, err := kernel.New(kernel.Options{Config: cfg})
	if err != nil {
		return err
	}
	body := func(*kernel.Context) {}
	low, err := k.AddTask(kernel.TaskOptions{Name: "L", Priority: 10}, body)
	if err != nil {
		return err
	}
	if err := k.Start(); err != nil {
		return err
	}
	m, err := k.NewMutex("M", kernel.MutexOptions{})
	if err != nil {
		return err
	}
	if err := m.Lock(low.Context(), kernel.WaitForever); err != nil {
		return err
	}
	tr := &tracer{log: log, k: k}
	tr.observe()

	high, err := k.AddTask(kernel.TaskOptions{Name: "H", Priority: 2}, body)
	if err != nil {
		return err
	}
	tr.observe()
	if err := m.Lock(high.Context(), 50); !errors.Is(err, kernel.ErrBlocked) {
		return errors.Newf("H lock: got %v", err)
	}
	tr.observe()
	log.Info().Uint64("tick", k.Now()).Uint16("L_prio", uint16(k.Info(low).Priority)).Msg("H blocked on M")

	for k.Now() < ticks {
		k.TickISR()
		tr.observe()
		if k.Now() == 20 && m.Owner() == low {
			if err := m.Unlock(low.Context()); err != nil {
				return err
			}
			tr.observe()
			log.Info().
				Uint64("tick", k.Now()).
				AnErr("H_result", high.Context().Result()).
				Str("owner", m.Owner().Name()).
				Uint16("orig_prio", uint16(m.OriginalPriority())).
				Uint16("L_prio", uint16(k.Info(low).Priority)).
				Msg("L unlocked M")
		}
	}
	tr.summary()
	return nil
}
