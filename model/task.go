package model

// TaskState is the lifecycle state of a task. The state graph is
// STAGING -> RUNNING -> {FINISHED|FAILED|KILLED}, with LOST reachable from
// any non-terminal state. Terminal states are absorbing.
type TaskState int32

const (
	TaskStaging TaskState = iota
	TaskRunning
	TaskFinished
	TaskFailed
	TaskKilled
	TaskLost
)

var taskStateNames = map[TaskState]string{
	TaskStaging:  "TASK_STAGING",
	TaskRunning:  "TASK_RUNNING",
	TaskFinished: "TASK_FINISHED",
	TaskFailed:   "TASK_FAILED",
	TaskKilled:   "TASK_KILLED",
	TaskLost:     "TASK_LOST",
}

func (s TaskState) String() string {
	if name, ok := taskStateNames[s]; ok {
		return name
	}
	return "TASK_UNKNOWN"
}

// Terminal reports whether s is absorbing.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskFinished, TaskFailed, TaskKilled, TaskLost:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state graph permits s -> next.
func (s TaskState) CanTransitionTo(next TaskState) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case TaskLost:
		return true
	case TaskRunning:
		return s == TaskStaging
	case TaskFinished, TaskFailed, TaskKilled:
		return s == TaskStaging || s == TaskRunning
	}
	return false
}

// Task is the master- and slave-side record of a launched task.
type Task struct {
	ID          TaskID      `json:"id"`
	FrameworkID FrameworkID `json:"framework_id"`
	SlaveID     SlaveID     `json:"slave_id"`
	ExecutorID  ExecutorID  `json:"executor_id"`
	Name        string      `json:"name"`
	Resources   Resources   `json:"resources"`
	State       TaskState   `json:"state"`
}

// TaskDescription is what a framework submits in reply to an offer.
type TaskDescription struct {
	ID        TaskID        `json:"id"`
	Name      string        `json:"name"`
	Resources Resources     `json:"resources"`
	Executor  *ExecutorInfo `json:"executor,omitempty"`
	Data      []byte        `json:"data,omitempty"`
}

// TaskStatus is a point-in-time report of a task's state.
type TaskStatus struct {
	TaskID  TaskID    `json:"task_id"`
	SlaveID SlaveID   `json:"slave_id"`
	State   TaskState `json:"state"`
	Message string    `json:"message,omitempty"`
	Data    []byte    `json:"data,omitempty"`
}

// StatusUpdate wraps a TaskStatus with the identity and uuid that make
// slave->master delivery retryable and master-side handling idempotent.
type StatusUpdate struct {
	FrameworkID FrameworkID `json:"framework_id"`
	Status      TaskStatus  `json:"status"`
	UUID        string      `json:"uuid"`
	Timestamp   float64     `json:"timestamp"`
}
