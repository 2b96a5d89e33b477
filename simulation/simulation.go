// Package simulation wires a bus with its devices, the trace database, and
// the optional monitor, and runs them together.
package simulation

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sarchlab/arbus/bus"
	"github.com/sarchlab/arbus/datarecording"
	"github.com/sarchlab/arbus/devices"
	"github.com/sarchlab/arbus/monitoring"
	"github.com/sarchlab/arbus/sim"
	"github.com/sarchlab/arbus/tracing"
)

// A Device is anything that runs against the bus.
type Device interface {
	sim.Named
	Run(ctx context.Context) error
}

type progressReporter interface {
	SetProgress(p devices.Progress)
	NumAccesses() int
}

type registeredDevice struct {
	dev      Device
	isMaster bool
}

// Report summarizes a run.
type Report struct {
	Stats          bus.Stats
	EndTime        sim.VTimeInSec
	BusyTime       sim.VTimeInSec
	Utilization    float64
	AverageLatency sim.VTimeInSec
	MaxLatency     sim.VTimeInSec
	WallTime       time.Duration
}

// A Simulation owns a bus, the devices attached to it, and the services that
// observe them.
type Simulation struct {
	id  string
	bus *bus.Bus

	outputFile    string
	dataRecorder  datarecording.DataRecorder
	runRecorder   *datarecording.RunRecorder
	monitor       *monitoring.Monitor
	dbTracer      *tracing.DBTracer
	busyTracer    *tracing.BusyTimeTracer
	latencyTracer *tracing.AverageTimeTracer

	devices      []registeredDevice
	devNameIndex map[string]int
}

// ID returns the unique id of the simulation.
func (s *Simulation) ID() string {
	return s.id
}

// Bus returns the bus of the simulation.
func (s *Simulation) Bus() *bus.Bus {
	return s.bus
}

// OutputFile returns the path of the trace database.
func (s *Simulation) OutputFile() string {
	return s.outputFile
}

// GetDataRecorder returns the data recorder used in the simulation.
func (s *Simulation) GetDataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// GetMonitor returns the monitor used in the simulation. It is nil if
// monitoring is disabled.
func (s *Simulation) GetMonitor() *monitoring.Monitor {
	return s.monitor
}

// GetDBTracer returns the tracer that writes transactions into the data
// recorder.
func (s *Simulation) GetDBTracer() *tracing.DBTracer {
	return s.dbTracer
}

// SetRunInfo records an extra property of the run, such as a command-line
// option.
func (s *Simulation) SetRunInfo(property, value string) {
	s.runRecorder.Set(property, value)
}

// RegisterMinion registers a device that serves the bus until the run ends.
func (s *Simulation) RegisterMinion(d Device) {
	s.register(d, false)
}

// RegisterMaster registers a device that drives traffic. A run lasts until
// every master returns.
func (s *Simulation) RegisterMaster(d Device) {
	s.register(d, true)
}

func (s *Simulation) register(d Device, isMaster bool) {
	name := d.Name()
	if _, found := s.devNameIndex[name]; found {
		panic("device " + name + " already registered")
	}

	s.devices = append(s.devices, registeredDevice{dev: d, isMaster: isMaster})
	s.devNameIndex[name] = len(s.devices) - 1

	if s.monitor != nil {
		s.monitor.RegisterComponent(d)
	}
}

// GetDeviceByName returns the device with the given name, or nil.
func (s *Simulation) GetDeviceByName(name string) Device {
	i, found := s.devNameIndex[name]
	if !found {
		return nil
	}

	return s.devices[i].dev
}

// Devices returns all registered devices in registration order.
func (s *Simulation) Devices() []Device {
	devs := make([]Device, len(s.devices))
	for i, d := range s.devices {
		devs[i] = d.dev
	}

	return devs
}

// Run starts every device and waits for all masters to return. Minions are
// then stopped. The first error of any device is returned along with the
// report.
func (s *Simulation) Run(ctx context.Context) (Report, error) {
	start := time.Now()

	minionCtx, stopMinions := context.WithCancel(ctx)
	defer stopMinions()

	var (
		errLock  sync.Mutex
		firstErr error
	)

	fail := func(d Device, err error) {
		errLock.Lock()
		defer errLock.Unlock()

		if firstErr == nil {
			firstErr = errors.Wrapf(err, "device %s", d.Name())
		}
	}

	minions := sync.WaitGroup{}
	masters := sync.WaitGroup{}

	for _, rd := range s.devices {
		if rd.isMaster {
			continue
		}

		minions.Add(1)

		go func(d Device) {
			defer minions.Done()

			if err := d.Run(minionCtx); err != nil {
				fail(d, err)
			}
		}(rd.dev)
	}

	for _, rd := range s.devices {
		if !rd.isMaster {
			continue
		}

		masters.Add(1)

		bar := s.trackProgress(rd.dev)

		go func(d Device) {
			defer masters.Done()

			if bar != nil {
				defer s.monitor.CompleteProgressBar(bar)
			}

			if err := d.Run(ctx); err != nil {
				fail(d, err)
			}
		}(rd.dev)
	}

	masters.Wait()
	stopMinions()
	minions.Wait()

	return s.report(time.Since(start)), firstErr
}

func (s *Simulation) trackProgress(d Device) *monitoring.ProgressBar {
	if s.monitor == nil {
		return nil
	}

	reporter, ok := d.(progressReporter)
	if !ok {
		return nil
	}

	bar := s.monitor.CreateProgressBar(d.Name(),
		uint64(reporter.NumAccesses()))
	reporter.SetProgress(bar)

	return bar
}

func (s *Simulation) report(wallTime time.Duration) Report {
	now := s.bus.CurrentTime()
	s.busyTracer.TerminateAllTasks(now)

	return Report{
		Stats:          s.bus.Stats(),
		EndTime:        now,
		BusyTime:       s.busyTracer.BusyTime(),
		Utilization:    s.busyTracer.Utilization(),
		AverageLatency: s.latencyTracer.AverageTime(),
		MaxLatency:     s.latencyTracer.MaxTime(),
		WallTime:       wallTime,
	}
}

// Terminate flushes the trace, records the end of the run, and closes the
// data recorder and the monitor.
func (s *Simulation) Terminate() {
	s.dbTracer.Terminate()
	s.runRecorder.End()

	if err := s.dataRecorder.Close(); err != nil {
		panic(err)
	}

	if s.monitor != nil {
		if err := s.monitor.StopServer(); err != nil {
			panic(err)
		}
	}
}
