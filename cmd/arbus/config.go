package main

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// runConfig is everything the run command needs to build a simulation.
type runConfig struct {
	Masters       int
	Memories      int
	MemorySize    uint64
	Reads         int
	Writes        int
	MaxBurst      uint32
	Seed          int64
	AckTimeout    time.Duration
	QueueCapacity int
	CycleDelay    time.Duration
	RotationCheck bool
	Accelerator   bool
	Output        string
	LogEvents     bool
	Monitor       bool
	MonitorPort   int
	OpenBrowser   bool
	KeepAlive     bool
}

func addRunFlags(flags *pflag.FlagSet) {
	flags.Int("masters", 4, "Number of traffic agents")
	flags.Int("memories", 2, "Number of memory minions")
	flags.Uint64("memory-size", 1024, "Words per memory minion")
	flags.Int("reads", 100, "Random reads per agent")
	flags.Int("writes", 100, "Random writes per agent")
	flags.Uint32("max-burst", 4, "Longest random burst, in words")
	flags.Int64("seed", 1, "Seed of the first agent; agent i uses seed+i")
	flags.Duration("ack-timeout", 5*time.Second,
		"How long a granted transaction waits for an acknowledgment; "+
			"0 waits forever")
	flags.Int("queue-capacity", 0, "Requests queued per master; 0 is unbounded")
	flags.Duration("cycle-delay", 0, "Real time stalled per bus cycle")
	flags.Bool("rotation-check", false,
		"Panic if the arbiter ever breaks the round-robin order")
	flags.Bool("accelerator", true,
		"Add a dot-product accelerator driven by a host master")
	flags.String("output", "",
		"Trace database name, without the .sqlite3 suffix")
	flags.Bool("log-events", false, "Log every bus event to stderr")
	flags.Bool("monitor", false, "Serve the bus state over HTTP")
	flags.Int("monitor-port", 0, "Port of the monitor; 0 picks a free port")
	flags.Bool("open-browser", false, "Open the monitor in a browser")
	flags.Bool("keep-alive", false,
		"Keep the monitor running after the traffic ends, until interrupted")
}

func configFromFlags(flags *pflag.FlagSet) (runConfig, error) {
	c := runConfig{}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	c.Masters, err = flags.GetInt("masters")
	collect(err)
	c.Memories, err = flags.GetInt("memories")
	collect(err)
	c.MemorySize, err = flags.GetUint64("memory-size")
	collect(err)
	c.Reads, err = flags.GetInt("reads")
	collect(err)
	c.Writes, err = flags.GetInt("writes")
	collect(err)
	c.MaxBurst, err = flags.GetUint32("max-burst")
	collect(err)
	c.Seed, err = flags.GetInt64("seed")
	collect(err)
	c.AckTimeout, err = flags.GetDuration("ack-timeout")
	collect(err)
	c.QueueCapacity, err = flags.GetInt("queue-capacity")
	collect(err)
	c.CycleDelay, err = flags.GetDuration("cycle-delay")
	collect(err)
	c.RotationCheck, err = flags.GetBool("rotation-check")
	collect(err)
	c.Accelerator, err = flags.GetBool("accelerator")
	collect(err)
	c.Output, err = flags.GetString("output")
	collect(err)
	c.LogEvents, err = flags.GetBool("log-events")
	collect(err)
	c.Monitor, err = flags.GetBool("monitor")
	collect(err)
	c.MonitorPort, err = flags.GetInt("monitor-port")
	collect(err)
	c.OpenBrowser, err = flags.GetBool("open-browser")
	collect(err)
	c.KeepAlive, err = flags.GetBool("keep-alive")
	collect(err)

	if len(errs) > 0 {
		return c, errs[0]
	}

	return c, c.validate()
}

func (c runConfig) validate() error {
	switch {
	case c.Masters < 0:
		return errors.New("masters must not be negative")
	case c.Memories < 1:
		return errors.New("at least one memory is needed")
	case c.MemorySize == 0:
		return errors.New("memory size must be positive")
	case c.Reads < 0 || c.Writes < 0:
		return errors.New("number of accesses must not be negative")
	case c.MaxBurst == 0:
		return errors.New("max burst must be positive")
	case c.AckTimeout < 0:
		return errors.New("ack timeout must not be negative")
	case c.QueueCapacity < 0:
		return errors.New("queue capacity must not be negative")
	case c.CycleDelay < 0:
		return errors.New("cycle delay must not be negative")
	case !c.Monitor && (c.OpenBrowser || c.KeepAlive || c.MonitorPort != 0):
		return errors.New(
			"--open-browser, --keep-alive and --monitor-port need --monitor")
	}

	return nil
}
