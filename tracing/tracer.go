package tracing

// A Tracer receives the tasks reported by a Collector. Steps and ends carry
// only the task ID and the new step; a tracer keeps whatever it needs from
// the start.
type Tracer interface {
	StartTask(task Task)
	StepTask(task Task)
	EndTask(task Task)
}
