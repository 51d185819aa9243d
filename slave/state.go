package slave

import (
	"github.com/AHINK/mesos/model"
	"github.com/AHINK/mesos/pkg/actor"
	"github.com/AHINK/mesos/pkg/clock"
)

// ExecutorState tracks an executor process on this slave.
type ExecutorState int

const (
	// ExecutorLaunching: the process was forked but has not registered;
	// tasks for it are queued.
	ExecutorLaunching ExecutorState = iota
	// ExecutorRegistered: the executor actor is known and receives tasks
	// directly.
	ExecutorRegistered
	// ExecutorDead: the process exited or was killed.
	ExecutorDead
)

// Executor is the slave-side record of one executor process. Created on
// the first task that needs it, destroyed on process exit or framework
// removal.
type Executor struct {
	ID          model.ExecutorID
	FrameworkID model.FrameworkID
	Info        model.ExecutorInfo
	WorkDir     string

	State ExecutorState
	Addr  actor.Address // zero until registered
	OSPid int

	Queued    []model.TaskDescription
	Tasks     map[model.TaskID]*model.Task
	Resources model.Resources // sum of its tasks' resources
}

func newExecutor(fw model.FrameworkID, info model.ExecutorInfo, workDir string) *Executor {
	return &Executor{
		ID:          info.ID,
		FrameworkID: fw,
		Info:        info,
		WorkDir:     workDir,
		State:       ExecutorLaunching,
		Tasks:       make(map[model.TaskID]*model.Task),
	}
}

func (e *Executor) addTask(slaveID model.SlaveID, desc model.TaskDescription) *model.Task {
	task := &model.Task{
		ID:          desc.ID,
		FrameworkID: e.FrameworkID,
		SlaveID:     slaveID,
		ExecutorID:  e.ID,
		Name:        desc.Name,
		Resources:   desc.Resources.Clone(),
		State:       model.TaskStaging,
	}
	e.Tasks[task.ID] = task
	e.Resources = e.Resources.Plus(task.Resources)
	return task
}

func (e *Executor) removeTask(id model.TaskID) {
	task, ok := e.Tasks[id]
	if !ok {
		return
	}
	delete(e.Tasks, id)
	if rest, err := e.Resources.Minus(task.Resources); err == nil {
		e.Resources = rest
	}
}

// dropQueued removes a not-yet-delivered task from the launch queue,
// reporting whether it was there.
func (e *Executor) dropQueued(id model.TaskID) bool {
	for i, desc := range e.Queued {
		if desc.ID == id {
			e.Queued = append(e.Queued[:i], e.Queued[i+1:]...)
			return true
		}
	}
	return false
}

func (e *Executor) hasQueued(id model.TaskID) bool {
	for _, desc := range e.Queued {
		if desc.ID == id {
			return true
		}
	}
	return false
}

// pendingUpdate is one status update retained until the master
// acknowledges it by (framework, task, uuid).
type pendingUpdate struct {
	update   model.StatusUpdate
	deadline clock.MonotonicTime
}

// Framework is the slave-side record of a framework with work on this
// node.
type Framework struct {
	ID   model.FrameworkID
	Info model.FrameworkInfo
	Pid  string // scheduler driver address

	Executors map[model.ExecutorID]*Executor

	// updates is the at-least-once retry buffer, keyed by update uuid.
	updates map[string]*pendingUpdate
}

func newFramework(id model.FrameworkID, info model.FrameworkInfo, pid string) *Framework {
	return &Framework{
		ID:        id,
		Info:      info,
		Pid:       pid,
		Executors: make(map[model.ExecutorID]*Executor),
		updates:   make(map[string]*pendingUpdate),
	}
}

// executorForTask finds the executor running (or still queueing) the
// given task.
func (f *Framework) executorForTask(id model.TaskID) *Executor {
	for _, exec := range f.Executors {
		if _, ok := exec.Tasks[id]; ok {
			return exec
		}
		if exec.hasQueued(id) {
			return exec
		}
	}
	return nil
}
