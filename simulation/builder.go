package simulation

import (
	"log"

	"github.com/rs/xid"
	"github.com/sarchlab/arbus/bus"
	"github.com/sarchlab/arbus/datarecording"
	"github.com/sarchlab/arbus/monitoring"
	"github.com/sarchlab/arbus/tracing"
)

// Builder can be used to build a simulation.
type Builder struct {
	busBuilder     bus.Builder
	monitorOn      bool
	monitorPort    int
	openBrowser    bool
	outputFileName string
	eventLogger    *log.Logger
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		busBuilder: bus.MakeBuilder(),
		monitorOn:  true,
	}
}

// WithBus sets the builder used to create the bus.
func (b Builder) WithBus(busBuilder bus.Builder) Builder {
	b.busBuilder = busBuilder
	return b
}

// WithoutMonitoring sets the simulation to not use monitoring.
func (b Builder) WithoutMonitoring() Builder {
	b.monitorOn = false
	return b
}

// WithMonitorPort sets the port number for the monitoring server.
func (b Builder) WithMonitorPort(port int) Builder {
	b.monitorPort = port
	return b
}

// WithOpenBrowser opens the monitoring page once the server is up.
func (b Builder) WithOpenBrowser() Builder {
	b.openBrowser = true
	return b
}

// WithOutputFileName sets the custom output file name for the data recorder.
func (b Builder) WithOutputFileName(filename string) Builder {
	b.outputFileName = filename
	return b
}

// WithEventLog writes every bus event into logger.
func (b Builder) WithEventLog(logger *log.Logger) Builder {
	b.eventLogger = logger
	return b
}

func (b Builder) parametersMustBeValid() {
	if !b.monitorOn && b.monitorPort != 0 {
		panic("monitor port cannot be set when monitoring is disabled")
	}

	if !b.monitorOn && b.openBrowser {
		panic("cannot open a browser when monitoring is disabled")
	}
}

// Build builds the simulation.
func (b Builder) Build() *Simulation {
	b.parametersMustBeValid()

	s := &Simulation{
		devNameIndex: make(map[string]int),
	}

	s.id = xid.New().String()
	s.bus = b.busBuilder.Build()

	outputPath := b.outputFileName
	if outputPath == "" {
		outputPath = "arbus_sim_" + s.id
	}
	s.dataRecorder = datarecording.New(outputPath)
	s.outputFile = outputPath + ".sqlite3"

	s.runRecorder = datarecording.NewRunRecorder(s.dataRecorder)
	s.runRecorder.Start()
	s.runRecorder.Set("Simulation ID", s.id)
	s.runRecorder.Set("Bus", s.bus.Name())
	s.runRecorder.Set("Ack Timeout", s.bus.AckTimeout().String())

	s.dbTracer = tracing.NewDBTracer(s.bus, s.dataRecorder)
	tracing.CollectTrace(s.bus, s.dbTracer)

	txnFilter := tracing.KindIs(bus.TaskKindTransaction)
	s.busyTracer = tracing.NewBusyTimeTracer(s.bus, txnFilter)
	tracing.CollectTrace(s.bus, s.busyTracer)
	s.latencyTracer = tracing.NewAverageTimeTracer(s.bus, txnFilter)
	tracing.CollectTrace(s.bus, s.latencyTracer)

	if b.eventLogger != nil {
		s.bus.AcceptHook(bus.NewTransactionLogger(b.eventLogger))
	}

	if b.monitorOn {
		s.monitor = monitoring.NewMonitor()
		if b.monitorPort > 0 {
			s.monitor.WithPortNumber(b.monitorPort)
		}
		s.monitor.RegisterBus(s.bus)
		s.monitor.StartServer()

		if b.openBrowser {
			if err := s.monitor.OpenBrowser(); err != nil {
				log.Printf("cannot open browser: %v", err)
			}
		}
	}

	return s
}
