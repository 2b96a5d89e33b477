package tracing

import (
	"context"
	"sort"
	"strings"

	"github.com/sarchlab/arbus/datarecording"
	"github.com/sarchlab/arbus/sim"
)

// TaskQuery is used to define the tasks to be queried. Not all the field has to
// be set. If the fields are empty, the criteria is ignored.
type TaskQuery struct {
	// Use ID to select a single task by its ID.
	ID string

	// Use Kind to select all the tasks that are of a kind.
	Kind string

	// Use Location to select all the tasks that are executed at a location.
	Location string

	// Enable time range selection.
	EnableTimeRange bool

	// Use StartTime to select tasks that overlaps with the given task range.
	StartTime, EndTime float64

	// WithSteps also loads the steps of the selected tasks.
	WithSteps bool
}

// TraceReader reads back the tasks written by a DBTracer.
type TraceReader struct {
	reader datarecording.DataReader
}

// NewTraceReader creates a TraceReader on top of a DataReader.
func NewTraceReader(reader datarecording.DataReader) *TraceReader {
	reader.MapTable(TaskTableName, TaskTableEntry{})
	reader.MapTable(StepTableName, StepTableEntry{})

	return &TraceReader{reader: reader}
}

// ListComponents returns all the locations used in the trace.
func (r *TraceReader) ListComponents(ctx context.Context) ([]string, error) {
	tasks, err := r.ListTasks(ctx, TaskQuery{})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	components := []string{}

	for _, t := range tasks {
		if !seen[t.Location] {
			seen[t.Location] = true
			components = append(components, t.Location)
		}
	}

	sort.Strings(components)

	return components, nil
}

// ListTasks returns the tasks that match the query, ordered by start time.
func (r *TraceReader) ListTasks(
	ctx context.Context,
	query TaskQuery,
) ([]Task, error) {
	params := taskQueryParams(query)

	rows, _, err := r.reader.Query(ctx, TaskTableName, params)
	if err != nil {
		return nil, err
	}

	tasks := make([]Task, 0, len(rows))

	for _, row := range rows {
		entry := row.(*TaskTableEntry)
		task := Task{
			ID:        entry.ID,
			ParentID:  entry.ParentID,
			Kind:      entry.Kind,
			What:      entry.What,
			Location:  entry.Location,
			StartTime: sim.VTimeInSec(entry.StartTime),
			EndTime:   sim.VTimeInSec(entry.EndTime),
		}

		if query.WithSteps && entry.NumSteps > 0 {
			task.Steps, err = r.listSteps(ctx, task.ID)
			if err != nil {
				return nil, err
			}
		}

		tasks = append(tasks, task)
	}

	return tasks, nil
}

func taskQueryParams(query TaskQuery) datarecording.QueryParams {
	var (
		conditions []string
		args       []any
	)

	if query.ID != "" {
		conditions = append(conditions, "ID = ?")
		args = append(args, query.ID)
	}

	if query.Kind != "" {
		conditions = append(conditions, "Kind = ?")
		args = append(args, query.Kind)
	}

	if query.Location != "" {
		conditions = append(conditions, "Location = ?")
		args = append(args, query.Location)
	}

	if query.EnableTimeRange {
		conditions = append(conditions, "EndTime >= ? AND StartTime <= ?")
		args = append(args, query.StartTime, query.EndTime)
	}

	return datarecording.QueryParams{
		Where:   strings.Join(conditions, " AND "),
		Args:    args,
		OrderBy: "StartTime, ID",
	}
}

func (r *TraceReader) listSteps(
	ctx context.Context,
	taskID string,
) ([]TaskStep, error) {
	rows, _, err := r.reader.Query(ctx, StepTableName,
		datarecording.QueryParams{
			Where:   "TaskID = ?",
			Args:    []any{taskID},
			OrderBy: "Time",
		})
	if err != nil {
		return nil, err
	}

	steps := make([]TaskStep, 0, len(rows))
	for _, row := range rows {
		entry := row.(*StepTableEntry)
		steps = append(steps, TaskStep{
			Time: sim.VTimeInSec(entry.Time),
			What: entry.What,
		})
	}

	return steps, nil
}
