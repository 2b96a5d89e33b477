package tracing

import (
	"container/list"
	"sync"

	"github.com/sarchlab/arbus/sim"
)

type taskTimeStartEnd struct {
	start, end sim.VTimeInSec
	completed  bool
}

// BusyTimeTracer traces the time that a domain is processing a kind of task.
// If the task processing time overlaps, this tracer only consider one
// instance of the overlapped time. Attached to a bus, it measures how long
// the channel has been occupied.
type BusyTimeTracer struct {
	lock          sync.Mutex
	timeTeller    sim.TimeTeller
	filter        TaskFilter
	inflightTasks map[string]*list.Element
	taskTimes     *list.List
	busyTime      sim.VTimeInSec
}

// NewBusyTimeTracer creates a new BusyTimeTracer. A nil filter accepts every
// task.
func NewBusyTimeTracer(
	timeTeller sim.TimeTeller,
	filter TaskFilter,
) *BusyTimeTracer {
	t := &BusyTimeTracer{
		timeTeller:    timeTeller,
		filter:        filter,
		inflightTasks: make(map[string]*list.Element),
		taskTimes:     list.New(),
	}

	return t
}

// BusyTime returns the total time has been spent on a certain type of tasks.
func (t *BusyTimeTracer) BusyTime() sim.VTimeInSec {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.busyTime
}

// Utilization returns the busy time divided by the current time.
func (t *BusyTimeTracer) Utilization() float64 {
	now := t.timeTeller.CurrentTime()
	if now == 0 {
		return 0
	}

	return float64(t.BusyTime()) / float64(now)
}

// TerminateAllTasks will mark all the tasks as completed.
func (t *BusyTimeTracer) TerminateAllTasks(now sim.VTimeInSec) {
	t.lock.Lock()
	defer t.lock.Unlock()

	for e := t.taskTimes.Front(); e != nil; e = e.Next() {
		task := e.Value.(*taskTimeStartEnd)
		if !task.completed {
			task.completed = true
			task.end = now
		}
	}

	t.inflightTasks = make(map[string]*list.Element)
	t.collapse(now)
}

// StartTask records the task start time
func (t *BusyTimeTracer) StartTask(task Task) {
	task.StartTime = t.timeTeller.CurrentTime()

	if t.filter != nil && !t.filter(task) {
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	taskTime := &taskTimeStartEnd{start: task.StartTime}
	elem := t.taskTimes.PushBack(taskTime)
	t.inflightTasks[task.ID] = elem
}

// StepTask does nothing
func (t *BusyTimeTracer) StepTask(_ Task) {
	// Do nothing
}

// EndTask records the end of the task
func (t *BusyTimeTracer) EndTask(task Task) {
	task.EndTime = t.timeTeller.CurrentTime()

	t.lock.Lock()
	defer t.lock.Unlock()

	originalTask, ok := t.inflightTasks[task.ID]
	if !ok {
		return
	}

	time := originalTask.Value.(*taskTimeStartEnd)
	time.end = task.EndTime
	time.completed = true
	delete(t.inflightTasks, task.ID)

	t.collapse(task.EndTime)
}

// collapse folds completed tasks that can no longer overlap with an
// incomplete one into busyTime.
func (t *BusyTimeTracer) collapse(now sim.VTimeInSec) {
	start, found := t.startTimeOfFirstIncompleteTask()
	if found && start < now {
		return
	}

	finishedTasks := make([]*taskTimeStartEnd, 0)

	var next *list.Element
	for e := t.taskTimes.Front(); e != nil; e = next {
		next = e.Next()

		task := e.Value.(*taskTimeStartEnd)
		if !task.completed {
			break
		}

		if task.end <= now {
			finishedTasks = append(finishedTasks, task)
			t.taskTimes.Remove(e)
		}
	}

	t.busyTime += mergedDuration(finishedTasks)
}

func (t *BusyTimeTracer) startTimeOfFirstIncompleteTask() (
	sim.VTimeInSec, bool,
) {
	for e := t.taskTimes.Front(); e != nil; e = e.Next() {
		task := e.Value.(*taskTimeStartEnd)
		if !task.completed {
			return task.start, true
		}
	}

	return 0, false
}

// mergedDuration returns the length of the union of the intervals.
func mergedDuration(tasks []*taskTimeStartEnd) sim.VTimeInSec {
	busyTime := sim.VTimeInSec(0.0)
	covered := make(map[int]bool)

	for i, t1 := range tasks {
		if covered[i] {
			continue
		}

		covered[i] = true
		ext := taskTimeStartEnd{start: t1.start, end: t1.end}

		for j, t2 := range tasks {
			if covered[j] || !overlap(&ext, t2) {
				continue
			}

			covered[j] = true

			if t2.start < ext.start {
				ext.start = t2.start
			}

			if t2.end > ext.end {
				ext.end = t2.end
			}
		}

		busyTime += ext.end - ext.start
	}

	return busyTime
}

func overlap(t1, t2 *taskTimeStartEnd) bool {
	return t1.start <= t2.end && t2.start <= t1.end
}
