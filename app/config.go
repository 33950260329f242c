package app

import (
	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"sparkrt/kernel"
)

// Demo names a built-in workload.
type Demo string

const (
	DemoRoundRobin Demo = "roundrobin"
	DemoInherit    Demo = "inherit"
	DemoTimers     Demo = "timers"
	DemoAll        Demo = "all"
)

// Config is the boot configuration, usually read from a TOML file.
type Config struct {
	Kernel kernel.Config `toml:"kernel"`

	Demo Demo `toml:"demo"`
	// HeapSize is the arena backing task stacks and kernel objects.
	HeapSize int `toml:"heap_size"`
	// LogLevel is a zerolog level name.
	LogLevel string `toml:"log_level"`
	// ReportEvery logs kernel statistics every this many ticks; zero disables.
	ReportEvery uint64 `toml:"report_every"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Kernel:      kernel.DefaultConfig(),
		Demo:        DemoAll,
		HeapSize:    256 << 10,
		LogLevel:    "info",
		ReportEvery: 1000,
	}
}

// LoadConfig reads path over the defaults. Unknown keys are an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, errors.Wrapf(err, "load config %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, errors.Newf("config %s: unknown key %s", path, undecoded[0])
	}
	return cfg, cfg.Validate()
}

// Validate checks the settings the kernel does not.
func (c Config) Validate() error {
	switch c.Demo {
	case DemoRoundRobin, DemoInherit, DemoTimers, DemoAll:
	default:
		return errors.Newf("unknown demo %q", c.Demo)
	}
	if c.HeapSize <= 0 {
		return errors.Newf("heap size %d must be positive", c.HeapSize)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(err, "log level")
	}
	return errors.Wrap(c.Kernel.Validate(), "kernel")
}
