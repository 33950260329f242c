package app

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"sparkrt/kernel"
)

// Demo task priorities. Busy round-robin workers sit below everything else
// so they only soak up otherwise idle time.
const (
	prioUrgent   kernel.Priority = 1
	prioInheritH kernel.Priority = 2
	prioConsumer kernel.Priority = 10
	prioInheritL kernel.Priority = 30
	prioWorker   kernel.Priority = 40
)

const msgHeartbeat uint16 = 1

func (s *System) installDemos() error {
	var installs []func() error
	switch s.cfg.Demo {
	case DemoRoundRobin:
		installs = append(installs, s.installRoundRobin)
	case DemoInherit:
		installs = append(installs, s.installInherit)
	case DemoTimers:
		installs = append(installs, s.installTimers)
	case DemoAll:
		installs = append(installs, s.installRoundRobin, s.installInherit, s.installTimers)
	}
	for _, install := range installs {
		if err := install(); err != nil {
			return err
		}
	}
	return nil
}

// installRoundRobin starts two equal-priority busy workers sharing the CPU
// by time slice, and an urgent task that preempts them every 100 ticks.
func (s *System) installRoundRobin() error {
	var counts [2]atomic.Uint64
	for i, name := range []string{"worker-a", "worker-b"} {
		n := &counts[i]
		_, err := s.k.AddTask(kernel.TaskOptions{Name: name, Priority: prioWorker}, func(ctx *kernel.Context) {
			for {
				n.Add(1)
				ctx.Checkpoint()
			}
		})
		if err != nil {
			return err
		}
	}
	log := s.log.With().Str("demo", string(DemoRoundRobin)).Logger()
	_, err := s.k.AddTask(kernel.TaskOptions{Name: "urgent", Priority: prioUrgent}, func(ctx *kernel.Context) {
		for {
			if err := ctx.Sleep(100); err != nil {
				log.Error().Err(err).Msg("sleep")
				return
			}
			log.Info().
				Uint64("tick", ctx.Now()).
				Uint64("worker_a", counts[0].Load()).
				Uint64("worker_b", counts[1].Load()).
				Msg("urgent task preempted workers")
		}
	})
	return err
}

// installInherit runs a low-priority task that holds a mutex across a sleep
// while a high-priority task contends for it with a timeout.
func (s *System) installInherit() error {
	m, err := s.k.NewMutex("shared", kernel.MutexOptions{})
	if err != nil {
		return err
	}
	k := s.k
	log := s.log.With().Str("demo", string(DemoInherit)).Logger()

	_, err = k.AddTask(kernel.TaskOptions{Name: "inherit-low", Priority: prioInheritL}, func(ctx *kernel.Context) {
		for {
			if err := m.Lock(ctx, kernel.WaitForever); err != nil {
				log.Error().Err(err).Msg("low lock")
				return
			}
			_ = ctx.Sleep(20)
			info := k.Info(ctx.Task())
			log.Info().
				Uint16("prio", uint16(info.Priority)).
				Uint16("base", uint16(info.BasePriority)).
				Int("waiters", m.Waiters()).
				Msg("low task releasing mutex")
			_ = m.Unlock(ctx)
			_ = ctx.Sleep(30)
		}
	})
	if err != nil {
		return err
	}
	_, err = k.AddTask(kernel.TaskOptions{Name: "inherit-high", Priority: prioInheritH}, func(ctx *kernel.Context) {
		for {
			_ = ctx.Sleep(7)
			start := ctx.Now()
			err := m.Lock(ctx, 15)
			switch {
			case errors.Is(err, kernel.ErrTimeout):
				log.Warn().Uint64("waited", ctx.Now()-start).Msg("high task timed out on mutex")
				continue
			case err != nil:
				log.Error().Err(err).Msg("high lock")
				return
			}
			log.Info().
				Uint64("waited", ctx.Now()-start).
				Uint16("orig_prio", uint16(m.OriginalPriority())).
				Msg("high task acquired mutex")
			_ = m.Unlock(ctx)
		}
	})
	return err
}

// installTimers drives a mailbox from a periodic timer and reports on a
// one-shot timer.
func (s *System) installTimers() error {
	k := s.k
	log := s.log.With().Str("demo", string(DemoTimers)).Logger()
	mb, err := k.NewMailbox("events", 8, kernel.WaitFIFO)
	if err != nil {
		return err
	}

	_, err = k.NewTimer("heartbeat", func(tm *kernel.Timer, arg any) {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], k.Now())
		if err := arg.(*kernel.Mailbox).Post(kernel.NewMessage(msgHeartbeat, buf[:])); err != nil {
			log.Warn().Err(err).Str("timer", tm.Name()).Msg("post dropped")
		}
	}, mb, 250, 250, kernel.TimerPeriodic|kernel.TimerAutoStart)
	if err != nil {
		return err
	}
	_, err = k.NewTimer("oneshot", func(tm *kernel.Timer, _ any) {
		log.Info().Str("timer", tm.Name()).Uint64("tick", k.Now()).Msg("one-shot timer fired")
	}, nil, 500, 0, kernel.TimerAutoStart)
	if err != nil {
		return err
	}

	_, err = k.AddTask(kernel.TaskOptions{Name: "consumer", Priority: prioConsumer}, func(ctx *kernel.Context) {
		for {
			msg, err := mb.Fetch(ctx, 1000)
			switch {
			case errors.Is(err, kernel.ErrTimeout):
				log.Warn().Msg("no heartbeat")
				continue
			case err != nil:
				log.Error().Err(err).Msg("fetch")
				return
			}
			log.Info().
				Uint16("kind", msg.Kind).
				Uint64("posted", binary.LittleEndian.Uint64(msg.Payload())).
				Uint64("now", ctx.Now()).
				Msg("heartbeat")
		}
	})
	return err
}
