package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/sarchlab/arbus/bus"
	"github.com/sarchlab/arbus/devices"
	"github.com/sarchlab/arbus/sim"
	"github.com/sarchlab/arbus/simulation"
	"github.com/spf13/cobra"
)

// dotLength is the length of the vectors the host asks the accelerator to
// multiply.
const dotLength = 8

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run random traffic over the bus and print statistics.",
	Long: `Run builds a bus with memory minions, one traffic agent per ` +
		`master and, optionally, a dot-product accelerator driven by a host ` +
		`master. Every transaction is recorded into a SQLite trace.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := configFromFlags(cmd.Flags())
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		return runSimulation(ctx, cfg, cmd.OutOrStdout())
	},
}

func init() {
	addRunFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

// platform is the set of devices built around the bus.
type platform struct {
	sim    *simulation.Simulation
	agents []*devices.Agent
	host   *devices.Agent
	accel  *devices.Accelerator
}

func buildPlatform(cfg runConfig) (*platform, error) {
	part := cfg.MemorySize
	if cfg.Masters > 0 {
		part = cfg.MemorySize / uint64(cfg.Masters)
	}

	if part == 0 {
		return nil, errors.Errorf(
			"memory size %d is too small for %d masters",
			cfg.MemorySize, cfg.Masters)
	}

	s := buildSimulation(cfg)
	b := s.Bus()
	p := &platform{sim: s}

	for i := 0; i < cfg.Memories; i++ {
		mem := devices.MakeMemoryBuilder().
			WithBase(bus.Addr(uint64(i) * cfg.MemorySize)).
			WithSize(cfg.MemorySize).
			Build(sim.BuildNameWithIndex("", "Memory", i), b)
		s.RegisterMinion(mem)
	}

	for i := 0; i < cfg.Masters; i++ {
		targets := make([]bus.AddressRange, cfg.Memories)
		for j := range targets {
			targets[j] = bus.AddressRange{
				Base: bus.Addr(uint64(j)*cfg.MemorySize + uint64(i)*part),
				Size: part,
			}
		}

		agent := devices.MakeAgentBuilder().
			WithRandomTraffic(cfg.Reads, cfg.Writes, targets...).
			WithSeed(cfg.Seed + int64(i)).
			WithMaxBurst(cfg.MaxBurst).
			Build(sim.BuildNameWithIndex("", "Agent", i), b)
		s.RegisterMaster(agent)
		p.agents = append(p.agents, agent)
	}

	if cfg.Accelerator {
		p.addAccelerator(bus.Addr(uint64(cfg.Memories) * cfg.MemorySize))
	}

	return p, nil
}

func buildSimulation(cfg runConfig) *simulation.Simulation {
	busBuilder := bus.MakeBuilder().
		WithAckTimeout(cfg.AckTimeout).
		WithQueueCapacity(cfg.QueueCapacity).
		WithCycleDelay(cfg.CycleDelay)
	if cfg.RotationCheck {
		busBuilder = busBuilder.WithRotationCheck()
	}

	builder := simulation.MakeBuilder().
		WithBus(busBuilder).
		WithOutputFileName(cfg.Output)

	if cfg.Monitor {
		builder = builder.WithMonitorPort(cfg.MonitorPort)
		if cfg.OpenBrowser {
			builder = builder.WithOpenBrowser()
		}
	} else {
		builder = builder.WithoutMonitoring()
	}

	if cfg.LogEvents {
		builder = builder.WithEventLog(log.New(os.Stderr, "", 0))
	}

	s := builder.Build()
	s.SetRunInfo("Masters", fmt.Sprint(cfg.Masters))
	s.SetRunInfo("Memories", fmt.Sprint(cfg.Memories))
	s.SetRunInfo("Memory Size", fmt.Sprint(cfg.MemorySize))
	s.SetRunInfo("Seed", fmt.Sprint(cfg.Seed))

	return s
}

// addAccelerator places the accelerator at base, followed by a scratch
// memory that holds the two vectors, and adds a host master that starts the
// computation and polls for its result.
func (p *platform) addAccelerator(base bus.Addr) {
	b := p.sim.Bus()

	p.accel = devices.MakeAcceleratorBuilder().
		WithBase(base).
		Build("Accelerator", b)
	p.sim.RegisterMinion(p.accel)

	scratchBase := base + bus.Addr(p.accel.Range().Size)
	scratch := devices.MakeMemoryBuilder().
		WithBase(scratchBase).
		WithSize(2 * dotLength).
		Build("Scratch", b)
	p.sim.RegisterMinion(scratch)

	row, col := dotVectors()
	scratch.Preload(scratchBase, row)
	scratch.Preload(scratchBase+dotLength, col)

	p.host = devices.MakeAgentBuilder().
		WithScript(
			devices.BurstWriteAccess(base,
				bus.Word(scratchBase),
				bus.Word(scratchBase+dotLength),
				dotLength,
				1),
			devices.SignalAccess(base, devices.OpStartCompute),
			devices.PollAccess(base, devices.OpReadStatus, devices.StatusDone),
			devices.ReadAccess(p.accel.ResultAddr()),
		).
		Build("Host", b)
	p.sim.RegisterMaster(p.host)
}

func dotVectors() (row, col []bus.Word) {
	row = make([]bus.Word, dotLength)
	col = make([]bus.Word, dotLength)

	for i := range row {
		row[i] = bus.Word(i + 1)
		col[i] = bus.Word(dotLength - i)
	}

	return row, col
}

func expectedDot() bus.Word {
	row, col := dotVectors()

	var sum bus.Word
	for i := range row {
		sum += row[i] * col[i]
	}

	return sum
}

func (p *platform) accelResult() (bus.Word, bool) {
	if p.host == nil {
		return 0, false
	}

	results := p.host.Results()
	if len(results) == 0 {
		return 0, false
	}

	last := results[len(results)-1]
	if last.Err != nil || len(last.Words) == 0 ||
		last.Access.Kind != devices.AccessRead {
		return 0, false
	}

	return last.Words[0], true
}

func runSimulation(ctx context.Context, cfg runConfig, out io.Writer) error {
	p, err := buildPlatform(cfg)
	if err != nil {
		return err
	}
	defer p.sim.Terminate()

	report, runErr := p.sim.Run(ctx)

	mismatches := 0
	for _, a := range p.agents {
		mismatches += a.Mismatches()
	}

	p.print(out, report, mismatches)

	if runErr != nil {
		return runErr
	}

	if mismatches > 0 {
		return errors.Errorf("%d reads returned unexpected data", mismatches)
	}

	if cfg.KeepAlive {
		fmt.Fprintf(out, "Monitor still serving at %s, interrupt to exit\n",
			p.sim.GetMonitor().URL())
		<-ctx.Done()
	}

	return nil
}

func (p *platform) print(out io.Writer, r simulation.Report, mismatches int) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	state := p.sim.Bus().State()
	grants := make([]string, len(state.Masters))
	for i, name := range state.Masters {
		grants[i] = fmt.Sprintf("%s=%d", name, r.Stats.GrantsPerMaster[i])
	}

	fmt.Fprintf(w, "Bus\t%s\n", p.sim.Bus().Name())
	fmt.Fprintf(w, "Transactions\t%d requested, %d retired, %d faulted\n",
		r.Stats.Requests, r.Stats.Retired, r.Stats.Faults)
	fmt.Fprintf(w, "Words\t%d\n", r.Stats.Words)
	fmt.Fprintf(w, "Grants\t%s\n", strings.Join(grants, " "))
	fmt.Fprintf(w, "Simulated time\t%.3f us\n", float64(r.EndTime)*1e6)
	fmt.Fprintf(w, "Utilization\t%.1f%%\n", r.Utilization*100)
	fmt.Fprintf(w, "Latency\t%.1f ns average, %.1f ns max\n",
		float64(r.AverageLatency)*1e9, float64(r.MaxLatency)*1e9)
	fmt.Fprintf(w, "Mismatches\t%d\n", mismatches)

	if result, ok := p.accelResult(); ok {
		fmt.Fprintf(w, "Accelerator\t%d (expected %d)\n", result, expectedDot())
	}

	fmt.Fprintf(w, "Wall time\t%s\n", r.WallTime.Round(time.Microsecond))
	fmt.Fprintf(w, "Trace\t%s\n", p.sim.OutputFile())

	w.Flush()
}
