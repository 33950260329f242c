package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/cockroachdb/errors"

	"sparkrt/app"
	"sparkrt/hal"
	"sparkrt/internal/buildinfo"
)

func main() {
	var (
		configPath string
		demo       string
		logLevel   string
		version    bool
		hcfg       hal.HeadlessConfig
	)
	flag.StringVar(&configPath, "config", "", "TOML config file (defaults apply when empty).")
	flag.StringVar(&demo, "demo", "", "Demo workload: roundrobin, inherit, timers or all.")
	flag.StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error).")
	flag.IntVar(&hcfg.Hz, "hz", 100, "Wall-clock sampling rate for the tick source.")
	flag.Uint64Var(&hcfg.Ticks, "ticks", 0, "Stop after N kernel ticks (0 = run until interrupted).")
	flag.BoolVar(&version, "version", false, "Print the build version and exit.")
	flag.Parse()

	if version {
		fmt.Printf("sparkrt %s (commit %s, built %s)\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
		return
	}

	cfg := app.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = app.LoadConfig(configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if demo != "" {
		cfg.Demo = app.Demo(demo)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err := hal.RunHeadless(ctx, func(h hal.HAL) (func(context.Context) error, error) {
		s, err := app.New(h, cfg)
		if err != nil {
			return nil, err
		}
		return s.Run, nil
	}, hcfg)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "sparkrt: %+v\n", err)
		os.Exit(1)
	}
}
