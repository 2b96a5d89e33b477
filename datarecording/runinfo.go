package datarecording

import (
	"os"
	"strings"
	"time"
)

// RunInfoTable is the table that RunRecorder writes into.
const RunInfoTable = "run_info"

const runInfoTimeFormat = "2006-01-02 15:04:05.000000000"

// RunInfo is a property of a program run.
type RunInfo struct {
	Property string
	Value    string
}

// RunRecorder records when and how a program run happened.
type RunRecorder struct {
	recorder DataRecorder
	entries  []RunInfo
}

// NewRunRecorder creates the run_info table in the given recorder.
func NewRunRecorder(recorder DataRecorder) *RunRecorder {
	recorder.CreateTable(RunInfoTable, RunInfo{})

	return &RunRecorder{recorder: recorder}
}

// Start captures the start time, the command line, and the working
// directory.
func (e *RunRecorder) Start() {
	e.entries = append(e.entries,
		RunInfo{"Start Time", time.Now().Format(runInfoTimeFormat)},
		RunInfo{"Command", strings.Join(os.Args, " ")},
	)

	if cwd, err := os.Getwd(); err == nil {
		e.entries = append(e.entries, RunInfo{"Working Directory", cwd})
	}
}

// Set adds an extra property, such as a configuration value.
func (e *RunRecorder) Set(property, value string) {
	e.entries = append(e.entries, RunInfo{property, value})
}

// End writes the captured properties along with the end time.
func (e *RunRecorder) End() {
	for _, entry := range e.entries {
		e.recorder.InsertData(RunInfoTable, entry)
	}

	e.recorder.InsertData(RunInfoTable,
		RunInfo{"End Time", time.Now().Format(runInfoTimeFormat)})

	e.entries = nil

	e.recorder.Flush()
}
