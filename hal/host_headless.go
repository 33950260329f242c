package hal

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// HeadlessConfig controls the host runner.
type HeadlessConfig struct {
	// Hz is how often the wall clock is sampled for elapsed ticks.
	Hz int
	// Ticks stops the tick stream after this many ticks; zero runs until
	// the context is cancelled.
	Ticks uint64
}

// RunHeadless creates a host HAL, hands it to newApp and runs the returned
// function alongside the tick source. The tick stream is closed when the
// tick budget is spent or ctx is cancelled; run should return once it
// drains. The first error from either side is returned.
func RunHeadless(ctx context.Context, newApp func(HAL) (func(context.Context) error, error), cfg HeadlessConfig) error {
	return runHeadless(ctx, New().(*hostHAL), newApp, cfg)
}

func runHeadless(ctx context.Context, h *hostHAL, newApp func(HAL) (func(context.Context) error, error), cfg HeadlessConfig) error {
	if cfg.Hz <= 0 {
		cfg.Hz = 100
	}
	d := time.Second / time.Duration(cfg.Hz)
	if d <= 0 {
		return errors.Newf("invalid headless hz: %d", cfg.Hz)
	}

	run, err := newApp(h)
	if err != nil {
		h.t.close()
		return errors.Wrap(err, "app init")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer h.t.close()
		tk := time.NewTicker(d)
		defer tk.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case now := <-tk.C:
				h.t.step(now, cfg.Ticks)
				if cfg.Ticks > 0 && h.t.seq >= cfg.Ticks {
					return nil
				}
			}
		}
	})
	g.Go(func() error {
		return run(gctx)
	})
	return g.Wait()
}
