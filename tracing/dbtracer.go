package tracing

import (
	"sync"

	"github.com/sarchlab/arbus/datarecording"
	"github.com/sarchlab/arbus/sim"
	"github.com/tebeka/atexit"
)

// TaskTableEntry is a row of the trace table.
type TaskTableEntry struct {
	ID        string
	ParentID  string
	Kind      string
	What      string
	Location  string
	StartTime float64
	EndTime   float64
	NumSteps  int
}

// StepTableEntry is a row of the trace_steps table.
type StepTableEntry struct {
	TaskID string
	What   string
	Time   float64
}

// Names of the tables that DBTracer writes.
const (
	TaskTableName = "trace"
	StepTableName = "trace_steps"
)

// DBTracer is a tracer that can store tasks into a database. Every completed
// task becomes one row of the "trace" table and each of its steps one row of
// the "trace_steps" table.
type DBTracer struct {
	mu         sync.Mutex
	timeTeller sim.TimeTeller
	backend    datarecording.DataRecorder

	startTime, endTime sim.VTimeInSec

	tracingTasks map[string]*Task
	terminated   bool
}

// NewDBTracer creates a new DBTracer.
func NewDBTracer(
	timeTeller sim.TimeTeller,
	dataRecorder datarecording.DataRecorder,
) *DBTracer {
	dataRecorder.CreateTable(TaskTableName, TaskTableEntry{})
	dataRecorder.CreateTable(StepTableName, StepTableEntry{})

	t := &DBTracer{
		timeTeller:   timeTeller,
		backend:      dataRecorder,
		tracingTasks: make(map[string]*Task),
	}

	atexit.Register(func() {
		t.Terminate()
	})

	return t
}

// SetTimeRange limits tracing to tasks overlapping [startTime, endTime]. A
// zero bound is open.
func (t *DBTracer) SetTimeRange(startTime, endTime sim.VTimeInSec) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.startTime = startTime
	t.endTime = endTime
}

// StartTask marks the start of a task.
func (t *DBTracer) StartTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	startingTaskMustBeValid(task)

	task.StartTime = t.timeTeller.CurrentTime()
	if t.terminated || (t.endTime > 0 && task.StartTime > t.endTime) {
		return
	}

	t.tracingTasks[task.ID] = &task
}

func startingTaskMustBeValid(task Task) {
	if task.ID == "" {
		panic("task ID must be set")
	}

	if task.Kind == "" {
		panic("task kind must be set")
	}

	if task.What == "" {
		panic("task what must be set")
	}

	if task.Location == "" {
		panic("task location must be set")
	}
}

// StepTask records a step of a traced task.
func (t *DBTracer) StepTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	originalTask, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	for _, step := range task.Steps {
		step.Time = t.timeTeller.CurrentTime()
		originalTask.Steps = append(originalTask.Steps, step)
	}
}

// EndTask marks the end of a task and writes it to the backend.
func (t *DBTracer) EndTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	originalTask, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	delete(t.tracingTasks, task.ID)

	originalTask.EndTime = t.timeTeller.CurrentTime()
	if t.startTime > 0 && originalTask.EndTime < t.startTime {
		return
	}

	t.write(originalTask)
}

func (t *DBTracer) write(task *Task) {
	t.backend.InsertData(TaskTableName, TaskTableEntry{
		ID:        task.ID,
		ParentID:  task.ParentID,
		Kind:      task.Kind,
		What:      task.What,
		Location:  task.Location,
		StartTime: float64(task.StartTime),
		EndTime:   float64(task.EndTime),
		NumSteps:  len(task.Steps),
	})

	for _, step := range task.Steps {
		t.backend.InsertData(StepTableName, StepTableEntry{
			TaskID: task.ID,
			What:   step.What,
			Time:   float64(step.Time),
		})
	}
}

// Terminate drops unfinished tasks and flushes the backend. Tasks that end
// after Terminate are ignored.
func (t *DBTracer) Terminate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminated {
		return
	}

	t.terminated = true
	t.tracingTasks = make(map[string]*Task)
	t.backend.Flush()
}
