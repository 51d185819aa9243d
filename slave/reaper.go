package slave

import (
	"syscall"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/AHINK/mesos/model"
	"github.com/AHINK/mesos/pkg/actor"
)

const reapInterval = time.Second

type reapedExecutor struct {
	framework model.FrameworkID
	executor  model.ExecutorID
}

// Reaper is the slave's sub-actor that waits on executor child processes
// and reports their exit back to the slave via dispatch. It shares
// nothing with the slave except that channel.
type Reaper struct {
	slave  actor.Address
	onExit func(fw model.FrameworkID, execID model.ExecutorID, status int)

	pids map[int]reapedExecutor
}

// NewReaper builds a reaper for the given slave. onExit runs on the
// slave's goroutine.
func NewReaper(slave actor.Address, onExit func(model.FrameworkID, model.ExecutorID, int)) *Reaper {
	return &Reaper{
		slave:  slave,
		onExit: onExit,
		pids:   make(map[int]reapedExecutor),
	}
}

// Monitor registers a child pid. Call it through dispatch so it runs on
// the reaper's goroutine.
func (r *Reaper) Monitor(fw model.FrameworkID, execID model.ExecutorID, pid int) {
	log.L().Info("monitoring executor process for reaping",
		zap.Int("pid", pid),
		zap.String("executor", string(execID)),
		zap.String("framework", string(fw)))
	r.pids[pid] = reapedExecutor{framework: fw, executor: execID}
}

// Run is the actor body. The reaper links its slave and dies with it.
func (r *Reaper) Run(ctx *actor.Context) {
	ctx.Link(r.slave)
	for {
		msg := ctx.Serve(reapInterval)
		switch msg.Tag {
		case actor.Timeout:
			r.reap(ctx)
		case actor.Terminate, actor.Exited:
			return
		}
	}
}

// reap polls for exited children without blocking.
func (r *Reaper) reap(ctx *actor.Context) {
	for {
		var status syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &status, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		entry, ok := r.pids[pid]
		if !ok {
			continue
		}
		delete(r.pids, pid)
		result := status.ExitStatus()
		log.L().Info("executor process exited",
			zap.Int("pid", pid),
			zap.String("executor", string(entry.executor)),
			zap.String("framework", string(entry.framework)),
			zap.Int("status", result))
		fw, execID := entry.framework, entry.executor
		ctx.Dispatch(r.slave, func() (interface{}, error) {
			r.onExit(fw, execID, result)
			return nil, nil
		})
	}
}
