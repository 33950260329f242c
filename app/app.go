package app

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"sparkrt/hal"
	"sparkrt/internal/buildinfo"
	"sparkrt/internal/heap"
	"sparkrt/kernel"
)

// System is a booted kernel with its demo workloads.
type System struct {
	h    hal.HAL
	cfg  Config
	log  zerolog.Logger
	heap *heap.Heap
	port *kernel.HostPort
	k    *kernel.Kernel
}

// New boots a kernel on h. Nothing runs until Run.
func New(h hal.HAL, cfg Config) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log, err := newLogger(h, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	hp, err := heap.New(cfg.HeapSize)
	if err != nil {
		return nil, errors.Wrap(err, "heap")
	}
	port := kernel.NewHostPort()
	k, err := kernel.New(kernel.Options{
		Config:    cfg.Kernel,
		Port:      port,
		Allocator: hp,
		Logger:    log.With().Str("component", "kernel").Logger(),
		OnFault:   faultHandler(h),
	})
	if err != nil {
		return nil, err
	}
	s := &System{h: h, cfg: cfg, log: log, heap: hp, port: port, k: k}
	if err := s.installDemos(); err != nil {
		k.Stop()
		port.Wait()
		return nil, errors.Wrap(err, "install demos")
	}
	log.Info().
		Str("version", buildinfo.Short()).
		Str("demo", string(cfg.Demo)).
		Int("heap", cfg.HeapSize).
		Int("tasks", len(k.Tasks())).
		Msg("system booted")
	return s, nil
}

// Kernel returns the booted kernel.
func (s *System) Kernel() *kernel.Kernel { return s.k }

// Run starts the kernel and feeds it the HAL tick stream until the stream
// closes or ctx is cancelled. Each tick sequence number is caught up with
// as many tick interrupts as it advanced.
func (s *System) Run(ctx context.Context) error {
	defer s.shutdown()
	if err := s.k.Start(); err != nil {
		return err
	}
	ticks := s.h.Time().Ticks()
	for {
		select {
		case <-ctx.Done():
			return nil
		case seq, ok := <-ticks:
			if !ok {
				return nil
			}
			for s.k.Now() < seq {
				if s.k.Halted() {
					return errors.New("kernel halted")
				}
				s.k.TickISR()
				if n := s.cfg.ReportEvery; n > 0 && s.k.Now()%n == 0 {
					s.report()
				}
			}
		}
	}
}

func (s *System) shutdown() {
	s.k.Stop()
	s.port.Wait()
	s.report()
	s.log.Info().Msg("system stopped")
}

func (s *System) report() {
	st := s.k.Stats()
	hs := s.heap.Stats()
	s.log.Info().
		Uint64("tick", st.Ticks).
		Uint64("switches", st.Switches).
		Uint64("idle_loops", st.IdleLoops).
		Int("tasks", st.Tasks).
		Int("timers", st.Timers).
		Int("heap_used", hs.Used).
		Int("heap_peak", hs.Peak).
		Msg("kernel stats")
	for _, t := range s.k.Tasks() {
		s.log.Debug().
			Uint32("id", uint32(t.ID)).
			Str("task", t.Name).
			Uint16("prio", uint16(t.Priority)).
			Uint16("base", uint16(t.BasePriority)).
			Stringer("state", t.State).
			Uint64("ran", t.RanTicks).
			Uint64("dispatches", t.Dispatches).
			Msg("task")
	}
}

func newLogger(h hal.HAL, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), errors.Wrap(err, "log level")
	}
	out := zerolog.ConsoleWriter{
		Out:        zerolog.SyncWriter(hal.LogWriter(h.Logger())),
		NoColor:    true,
		TimeFormat: "15:04:05.000",
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}
