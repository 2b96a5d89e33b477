package tracing

import (
	"fmt"
	"reflect"
)

// A Traceable domain reports its tasks through a Collector.
type Traceable interface {
	TraceCollector() *Collector
}

// A Collector hands the tasks of one domain to the tracers attached to it.
// Tracers are kept apart from the hooks of the domain, so a hook only ever
// sees the events of the domain itself.
//
// Tracers must be attached before the domain starts reporting tasks.
type Collector struct {
	location string
	tracers  []Tracer
}

// NewCollector creates a collector for the domain called location.
func NewCollector(location string) *Collector {
	if location == "" {
		panic("location must not be empty")
	}

	return &Collector{location: location}
}

// Location returns the name recorded as the location of every task.
func (c *Collector) Location() string {
	return c.location
}

// NumTracers returns the number of tracers attached.
func (c *Collector) NumTracers() int {
	return len(c.tracers)
}

// Attach adds a tracer. Attaching the same tracer twice panics.
func (c *Collector) Attach(tracer Tracer) {
	for _, t := range c.tracers {
		if t == tracer {
			panic(fmt.Sprintf("domain %s already has tracer %s",
				c.location, reflect.TypeOf(tracer)))
		}
	}

	c.tracers = append(c.tracers, tracer)
}

// StartTask reports the start of a task.
func (c *Collector) StartTask(
	id string,
	parentID string,
	kind string,
	what string,
	detail interface{},
) {
	if len(c.tracers) == 0 {
		return
	}

	allRequiredFieldsMustBeNotEmpty(id, kind, what)

	task := Task{
		ID:       id,
		ParentID: parentID,
		Kind:     kind,
		What:     what,
		Location: c.location,
		Detail:   detail,
	}

	for _, t := range c.tracers {
		t.StartTask(task)
	}
}

func allRequiredFieldsMustBeNotEmpty(id, kind, what string) {
	if id == "" {
		panic("id must not be empty")
	}

	if kind == "" {
		panic("kind must not be empty")
	}

	if what == "" {
		panic("what must not be empty")
	}
}

// StepTask reports that a task reached a step.
func (c *Collector) StepTask(id string, what string) {
	for _, t := range c.tracers {
		t.StepTask(Task{
			ID:    id,
			Steps: []TaskStep{{What: what}},
		})
	}
}

// EndTask reports the end of a task.
func (c *Collector) EndTask(id string) {
	for _, t := range c.tracers {
		t.EndTask(Task{ID: id})
	}
}

// CollectTrace lets the tracer collect the tasks of a domain.
func CollectTrace(domain Traceable, tracer Tracer) {
	domain.TraceCollector().Attach(tracer)
}
