package slave

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/AHINK/mesos/model"
	"github.com/AHINK/mesos/pkg/actor"
	"github.com/AHINK/mesos/pkg/autoid"
	"github.com/AHINK/mesos/pkg/clock"
	"github.com/AHINK/mesos/pkg/detector"
)

// statusUpdateRetryInterval is how long a pending status update waits for
// an acknowledgement before it is resent. The retry timer itself fires
// every second and resends only updates past their deadline.
const statusUpdateRetryInterval = 10 * time.Second

// newMasterDetectedTag is internal: the detector goroutine posts it to
// the slave whenever the master's address changes.
const newMasterDetectedTag = actor.Tag("NEW_MASTER_DETECTED")

type newMasterDetectedMessage struct {
	Pid string `json:"pid"`
}

// Stats are the cumulative counters exported via stats.json and /vars.
type Stats struct {
	LaunchedTasks            atomic.Int64
	FinishedTasks            atomic.Int64
	KilledTasks              atomic.Int64
	FailedTasks              atomic.Int64
	LostTasks                atomic.Int64
	ValidStatusUpdates       atomic.Int64
	InvalidStatusUpdates     atomic.Int64
	ValidFrameworkMessages   atomic.Int64
	InvalidFrameworkMessages atomic.Int64
}

// Slave is the worker-node actor: it launches executors on demand, queues
// tasks until their executor registers, and retries status updates until
// the master acknowledges them.
type Slave struct {
	cfg       *Config
	clk       clock.Clock
	isolation IsolationModule
	det       detector.Detector
	name      string

	ctx    *actor.Context
	reaper *Reaper

	id         model.SlaveID
	info       model.SlaveInfo
	master     actor.Address
	frameworks map[model.FrameworkID]*Framework

	uuids *autoid.UUIDAllocator
	runs  map[string]int // work directory run counters per fw/executor

	startTime clock.MonotonicTime
	stats     Stats
}

// New creates a slave actor body. name must be unique within the system
// ("slave", or "slave(N)" in local mode).
func New(name string, cfg *Config, clk clock.Clock, isolation IsolationModule, det detector.Detector) (*Slave, error) {
	resources, err := model.ParseResources(cfg.Resources)
	if err != nil {
		return nil, err
	}
	return &Slave{
		cfg:       cfg,
		clk:       clk,
		isolation: isolation,
		det:       det,
		name:      name,
		info: model.SlaveInfo{
			Hostname:       cfg.Hostname,
			PublicHostname: cfg.PublicHostname,
			Resources:      resources,
		},
		frameworks: make(map[model.FrameworkID]*Framework),
		uuids:      autoid.NewUUIDAllocator(),
		runs:       make(map[string]int),
	}, nil
}

// Name returns the slave's actor name.
func (s *Slave) Name() string { return s.name }

// Run is the actor body.
func (s *Slave) Run(ctx *actor.Context) {
	s.ctx = ctx
	s.startTime = s.clk.Mono()
	log.L().Info("slave started",
		zap.String("pid", ctx.Self().String()),
		zap.String("resources", s.info.Resources.String()))

	s.reaper = NewReaper(ctx.Self(), s.executorExited)
	reaperAddr, err := ctx.System().Spawn(s.name+"-reaper", s.reaper.Run)
	if err != nil {
		log.L().Error("spawning reaper failed", zap.Error(err))
		return
	}

	s.isolation.Initialize(ctx.Self(), s.cfg)

	detectCtx, cancelDetect := context.WithCancel(context.Background())
	defer cancelDetect()
	s.startDetection(detectCtx, ctx)

	ctx.Install(newMasterDetectedTag, s.newMasterDetected)
	ctx.Install(model.SlaveRegisteredTag, s.registered)
	ctx.Install(model.SlaveReregisteredTag, s.reregistered)
	ctx.Install(model.RunTaskTag, s.runTask)
	ctx.Install(model.KillTaskTag, s.killTask)
	ctx.Install(model.KillFrameworkTag, s.killFrameworkByID)
	ctx.Install(model.UpdateFrameworkTag, s.updateFramework)
	ctx.Install(model.StatusUpdateAckTag, s.statusUpdateAck)
	ctx.Install(model.RegisterExecutorTag, s.registerExecutor)
	ctx.Install(model.StatusUpdateTag, s.statusUpdate)
	ctx.Install(model.FrameworkToExecutorTag, s.frameworkToExecutor)
	ctx.Install(model.ExecutorToFrameworkTag, s.executorToFramework)
	ctx.Install(model.PingTag, func(ctx *actor.Context, msg actor.Message) {
		ctx.Send(ctx.From(), model.PongTag, nil)
	})
	ctx.Install(actor.Exited, s.exited)
	ctx.Install(actor.Timeout, func(ctx *actor.Context, msg actor.Message) {
		s.retryStatusUpdates(ctx)
		ctx.Pause(time.Second)
	})
	s.installHTTP(ctx)

	ctx.Pause(time.Second)
	for {
		msg := ctx.Serve(0)
		if msg.Tag == actor.Terminate {
			log.L().Info("slave asked to shut down", zap.String("by", msg.From.String()))
			for _, fw := range s.frameworksCopy() {
				s.killFramework(fw, true)
			}
			ctx.System().Terminate(reaperAddr)
			return
		}
	}
}

func (s *Slave) frameworksCopy() []*Framework {
	out := make([]*Framework, 0, len(s.frameworks))
	for _, fw := range s.frameworks {
		out = append(out, fw)
	}
	return out
}

// startDetection forwards detector events into the mailbox so the actor
// never blocks on the detector itself.
func (s *Slave) startDetection(detectCtx context.Context, ctx *actor.Context) {
	self := ctx.Self()
	sys := ctx.System()
	ch, err := s.det.Detect(detectCtx)
	if err != nil {
		log.L().Error("master detection failed", zap.Error(err))
		return
	}
	go func() {
		for {
			select {
			case <-detectCtx.Done():
				return
			case addr, ok := <-ch:
				if !ok {
					return
				}
				sys.Send(self, self, newMasterDetectedTag,
					model.Encode(&newMasterDetectedMessage{Pid: addr.String()}))
			}
		}
	}()
}

func (s *Slave) newMasterDetected(ctx *actor.Context, msg actor.Message) {
	var req newMasterDetectedMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	master, err := actor.ParseAddress(req.Pid)
	if err != nil {
		log.L().Warn("detector produced a bad master address", zap.String("pid", req.Pid))
		return
	}
	log.L().Info("new master detected", zap.String("master", master.String()))
	s.master = master
	ctx.Link(master)
	if s.id == "" {
		// Slave started before the master (or never got registered).
		ctx.Send(master, model.RegisterSlaveTag,
			model.Encode(&model.RegisterSlaveMessage{Info: s.info}))
		return
	}
	// Re-registering: report the tasks still running here.
	var tasks []model.Task
	for _, fw := range s.frameworks {
		for _, exec := range fw.Executors {
			for _, task := range exec.Tasks {
				tasks = append(tasks, *task)
			}
		}
	}
	ctx.Send(master, model.ReregisterSlaveTag, model.Encode(&model.ReregisterSlaveMessage{
		SlaveID: s.id,
		Info:    s.info,
		Tasks:   tasks,
	}))
}

func (s *Slave) registered(ctx *actor.Context, msg actor.Message) {
	var req model.SlaveRegisteredMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	log.L().Info("registered with master", zap.String("id", req.SlaveID.String()))
	s.id = req.SlaveID
}

func (s *Slave) reregistered(ctx *actor.Context, msg actor.Message) {
	var req model.SlaveRegisteredMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	if s.id != req.SlaveID {
		log.L().Fatal("slave re-registered but got the wrong id",
			zap.String("expected", s.id.String()),
			zap.String("got", req.SlaveID.String()))
	}
	log.L().Info("re-registered with master")
}

// runTask either hands the task to a registered executor or launches the
// executor and queues the task until it registers.
func (s *Slave) runTask(ctx *actor.Context, msg actor.Message) {
	var req model.RunTaskMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	log.L().Info("got assigned task",
		zap.String("task", req.Task.ID.String()),
		zap.String("framework", req.FrameworkID.String()))
	fw, ok := s.frameworks[req.FrameworkID]
	if !ok {
		fw = newFramework(req.FrameworkID, req.Framework, req.Pid)
		s.frameworks[fw.ID] = fw
	}
	fw.Pid = req.Pid

	execInfo := req.Task.Executor
	if execInfo == nil {
		execInfo = &fw.Info.Executor
	}
	s.stats.LaunchedTasks.Inc()

	if exec, ok := fw.Executors[execInfo.ID]; ok {
		switch exec.State {
		case ExecutorLaunching:
			exec.Queued = append(exec.Queued, req.Task)
		case ExecutorRegistered:
			task := exec.addTask(s.id, req.Task)
			ctx.Send(exec.Addr, model.RunTaskTag, msg.Payload)
			s.isolation.ResourcesChanged(fw.ID, exec.ID, exec.Resources)
			log.L().Info("delivered task to executor",
				zap.String("task", task.ID.String()),
				zap.String("executor", exec.ID.String()))
		case ExecutorDead:
			s.sendLocalUpdate(ctx, fw, req.Task.ID, model.TaskLost, "executor is dead")
		}
		return
	}

	// First task for this executor: fork it and queue the task.
	exec := newExecutor(fw.ID, *execInfo, s.uniqueWorkDirectory(fw.ID, execInfo.ID))
	exec.Queued = append(exec.Queued, req.Task)
	fw.Executors[exec.ID] = exec
	pid, err := s.isolation.LaunchExecutor(fw.ID, fw.Info, exec.Info, exec.WorkDir, s.id)
	if err != nil {
		log.L().Error("launching executor failed",
			zap.String("executor", exec.ID.String()), zap.Error(err))
		delete(fw.Executors, exec.ID)
		s.sendLocalUpdate(ctx, fw, req.Task.ID, model.TaskLost, "failed to launch executor")
		return
	}
	exec.OSPid = pid
	if pid != 0 {
		reaper := s.reaper
		fwID, execID := fw.ID, exec.ID
		ctx.Dispatch(ctx.System().Address(s.name+"-reaper"), func() (interface{}, error) {
			reaper.Monitor(fwID, execID, pid)
			return nil, nil
		})
	}
}

// registerExecutor records the executor's address, flushes its queued
// tasks to it and updates its resource limits.
func (s *Slave) registerExecutor(ctx *actor.Context, msg actor.Message) {
	var req model.RegisterExecutorMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	log.L().Info("got registration for executor",
		zap.String("executor", req.ExecutorID.String()),
		zap.String("framework", req.FrameworkID.String()))
	fw, ok := s.frameworks[req.FrameworkID]
	if !ok {
		log.L().Warn("framework does not exist, telling executor to exit",
			zap.String("framework", req.FrameworkID.String()))
		ctx.Send(msg.From, model.KillExecutorTag, nil)
		return
	}
	exec, ok := fw.Executors[req.ExecutorID]
	if !ok {
		log.L().Warn("not expecting executor, telling it to exit",
			zap.String("executor", req.ExecutorID.String()))
		ctx.Send(msg.From, model.KillExecutorTag, nil)
		return
	}
	if exec.State == ExecutorRegistered {
		log.L().Warn("executor is already registered, telling the duplicate to exit",
			zap.String("executor", req.ExecutorID.String()))
		ctx.Send(msg.From, model.KillExecutorTag, nil)
		return
	}
	exec.Addr = msg.From
	exec.State = ExecutorRegistered
	s.isolation.ResourcesChanged(fw.ID, exec.ID, exec.Resources)
	ctx.Send(exec.Addr, model.ExecutorRegisteredTag, model.Encode(&model.ExecutorRegisteredMessage{
		Args: model.ExecutorArgs{
			FrameworkID: fw.ID,
			ExecutorID:  exec.ID,
			SlaveID:     s.id,
			Hostname:    s.info.Hostname,
			Data:        exec.Info.Data,
		},
	}))
	s.flushQueuedTasks(ctx, fw, exec)
}

// flushQueuedTasks delivers tasks that arrived while the executor was
// starting up.
func (s *Slave) flushQueuedTasks(ctx *actor.Context, fw *Framework, exec *Executor) {
	if len(exec.Queued) == 0 {
		return
	}
	log.L().Info("flushing queued tasks",
		zap.String("framework", fw.ID.String()),
		zap.Int("count", len(exec.Queued)))
	for _, desc := range exec.Queued {
		exec.addTask(s.id, desc)
		ctx.Send(exec.Addr, model.RunTaskTag, model.Encode(&model.RunTaskMessage{
			FrameworkID: fw.ID,
			Framework:   fw.Info,
			Pid:         fw.Pid,
			Task:        desc,
		}))
	}
	exec.Queued = nil
	s.isolation.ResourcesChanged(fw.ID, exec.ID, exec.Resources)
}

// killTask kills a task: before its executor registers this is a local
// affair; afterwards the executor owns the terminal status update.
func (s *Slave) killTask(ctx *actor.Context, msg actor.Message) {
	var req model.KillTaskMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	log.L().Info("asked to kill task",
		zap.String("task", req.TaskID.String()),
		zap.String("framework", req.FrameworkID.String()))
	fw, ok := s.frameworks[req.FrameworkID]
	if !ok {
		log.L().Warn("cannot kill task of unknown framework",
			zap.String("framework", req.FrameworkID.String()))
		// No framework entry means no retry buffer; report once.
		ctx.Send(s.master, model.StatusUpdateTag, model.Encode(&model.StatusUpdateMessage{
			Update: s.makeUpdate(req.FrameworkID, req.TaskID, model.TaskLost, "unknown framework"),
		}))
		return
	}
	exec := fw.executorForTask(req.TaskID)
	if exec == nil {
		// Unknown task: just report it lost, touching nothing.
		s.sendLocalUpdate(ctx, fw, req.TaskID, model.TaskLost, "unknown task")
		return
	}
	if exec.State != ExecutorRegistered {
		// Not delivered yet: drop it from the queue so a late-registering
		// executor never sees it, and report it lost.
		exec.dropQueued(req.TaskID)
		exec.removeTask(req.TaskID)
		s.isolation.ResourcesChanged(fw.ID, exec.ID, exec.Resources)
		s.sendLocalUpdate(ctx, fw, req.TaskID, model.TaskLost, "killed before executor started")
		return
	}
	ctx.Send(exec.Addr, model.KillTaskTag, msg.Payload)
}

func (s *Slave) killFrameworkByID(ctx *actor.Context, msg actor.Message) {
	var req model.KillFrameworkMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	log.L().Info("asked to kill framework", zap.String("framework", req.FrameworkID.String()))
	if fw, ok := s.frameworks[req.FrameworkID]; ok {
		s.killFramework(fw, true)
	}
}

// killFramework shuts down the framework's executors and drops its entry.
func (s *Slave) killFramework(fw *Framework, killExecutors bool) {
	log.L().Info("cleaning up framework", zap.String("framework", fw.ID.String()))
	for id, exec := range fw.Executors {
		if killExecutors {
			if exec.State == ExecutorRegistered {
				s.ctx.Send(exec.Addr, model.KillExecutorTag, nil)
			}
			s.isolation.KillExecutor(fw.ID, exec.ID)
		}
		exec.State = ExecutorDead
		delete(fw.Executors, id)
	}
	delete(s.frameworks, fw.ID)
}

func (s *Slave) updateFramework(ctx *actor.Context, msg actor.Message) {
	var req model.UpdateFrameworkMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	if fw, ok := s.frameworks[req.FrameworkID]; ok {
		log.L().Info("updating framework pid",
			zap.String("framework", fw.ID.String()), zap.String("pid", req.Pid))
		fw.Pid = req.Pid
	}
}

// statusUpdate handles an executor's report: the slave stamps it with a
// fresh uuid, buffers it for retry and forwards it to the master.
func (s *Slave) statusUpdate(ctx *actor.Context, msg actor.Message) {
	var req model.StatusUpdateMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		s.stats.InvalidStatusUpdates.Inc()
		return
	}
	status := req.Update.Status
	fw, ok := s.frameworks[req.Update.FrameworkID]
	if !ok {
		log.L().Warn("status update error: unknown framework",
			zap.String("framework", req.Update.FrameworkID.String()))
		s.stats.InvalidStatusUpdates.Inc()
		return
	}
	exec := fw.executorForTask(status.TaskID)
	if exec == nil {
		log.L().Warn("status update error: no executor for task",
			zap.String("task", status.TaskID.String()))
		s.stats.InvalidStatusUpdates.Inc()
		return
	}
	log.L().Info("status update",
		zap.String("task", status.TaskID.String()),
		zap.String("state", status.State.String()))
	if task := exec.Tasks[status.TaskID]; task != nil {
		task.State = status.State
	}
	if status.State.Terminal() {
		s.countTerminal(status.State)
		exec.removeTask(status.TaskID)
		s.isolation.ResourcesChanged(fw.ID, exec.ID, exec.Resources)
	}
	s.stats.ValidStatusUpdates.Inc()
	update := s.makeUpdate(fw.ID, status.TaskID, status.State, status.Message)
	update.Status.Data = status.Data
	s.enqueueUpdate(ctx, fw, update)
}

func (s *Slave) countTerminal(state model.TaskState) {
	switch state {
	case model.TaskFinished:
		s.stats.FinishedTasks.Inc()
	case model.TaskFailed:
		s.stats.FailedTasks.Inc()
	case model.TaskKilled:
		s.stats.KilledTasks.Inc()
	case model.TaskLost:
		s.stats.LostTasks.Inc()
	}
}

// makeUpdate builds a slave-stamped status update with a fresh uuid.
func (s *Slave) makeUpdate(fw model.FrameworkID, task model.TaskID, state model.TaskState, message string) model.StatusUpdate {
	return model.StatusUpdate{
		FrameworkID: fw,
		Status: model.TaskStatus{
			TaskID:  task,
			SlaveID: s.id,
			State:   state,
			Message: message,
		},
		UUID:      s.uuids.AllocID(),
		Timestamp: float64(s.clk.Now().UnixNano()) / 1e9,
	}
}

// sendLocalUpdate synthesizes a status update on the slave's own
// authority (e.g. a kill before the executor came up), with retry.
func (s *Slave) sendLocalUpdate(ctx *actor.Context, fw *Framework, task model.TaskID, state model.TaskState, message string) {
	s.countTerminal(state)
	s.enqueueUpdate(ctx, fw, s.makeUpdate(fw.ID, task, state, message))
}

// enqueueUpdate buffers the update until acknowledged and forwards it.
func (s *Slave) enqueueUpdate(ctx *actor.Context, fw *Framework, update model.StatusUpdate) {
	fw.updates[update.UUID] = &pendingUpdate{
		update:   update,
		deadline: s.clk.Mono().Add(statusUpdateRetryInterval),
	}
	if !s.master.IsZero() {
		ctx.Send(s.master, model.StatusUpdateTag,
			model.Encode(&model.StatusUpdateMessage{Update: update}))
	}
}

func (s *Slave) statusUpdateAck(ctx *actor.Context, msg actor.Message) {
	var req model.StatusUpdateAckMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	fw, ok := s.frameworks[req.FrameworkID]
	if !ok {
		return
	}
	pending, ok := fw.updates[req.UUID]
	if !ok || pending.update.Status.TaskID != req.TaskID {
		return
	}
	log.L().Debug("got acknowledgement of status update",
		zap.String("task", req.TaskID.String()),
		zap.String("uuid", req.UUID))
	delete(fw.updates, req.UUID)
}

// retryStatusUpdates resends every buffered update whose deadline passed.
func (s *Slave) retryStatusUpdates(ctx *actor.Context) {
	if s.master.IsZero() {
		return
	}
	now := s.clk.Mono()
	for _, fw := range s.frameworks {
		for _, pending := range fw.updates {
			if now < pending.deadline {
				continue
			}
			log.L().Warn("resending status update",
				zap.String("task", pending.update.Status.TaskID.String()),
				zap.String("uuid", pending.update.UUID))
			ctx.Send(s.master, model.StatusUpdateTag,
				model.Encode(&model.StatusUpdateMessage{Update: pending.update}))
			pending.deadline = now.Add(statusUpdateRetryInterval)
		}
	}
}

// frameworkToExecutor routes scheduler data to a local executor.
func (s *Slave) frameworkToExecutor(ctx *actor.Context, msg actor.Message) {
	var req model.FrameworkMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	fw, ok := s.frameworks[req.FrameworkID]
	if !ok {
		log.L().Warn("dropping message for unknown framework",
			zap.String("framework", req.FrameworkID.String()))
		s.stats.InvalidFrameworkMessages.Inc()
		return
	}
	exec, ok := fw.Executors[req.ExecutorID]
	if !ok || exec.State != ExecutorRegistered {
		log.L().Warn("dropping message: executor not running",
			zap.String("executor", req.ExecutorID.String()))
		s.stats.InvalidFrameworkMessages.Inc()
		return
	}
	s.stats.ValidFrameworkMessages.Inc()
	ctx.Send(exec.Addr, model.FrameworkToExecutorTag, msg.Payload)
}

// executorToFramework routes executor data straight to the scheduler.
func (s *Slave) executorToFramework(ctx *actor.Context, msg actor.Message) {
	var req model.FrameworkMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	fw, ok := s.frameworks[req.FrameworkID]
	if !ok {
		s.stats.InvalidFrameworkMessages.Inc()
		return
	}
	pid, err := actor.ParseAddress(fw.Pid)
	if err != nil {
		s.stats.InvalidFrameworkMessages.Inc()
		return
	}
	s.stats.ValidFrameworkMessages.Inc()
	ctx.Send(pid, model.ExecutorToFrameworkTag, msg.Payload)
}

// executorExited runs on the slave goroutine, dispatched by the reaper.
func (s *Slave) executorExited(fwID model.FrameworkID, execID model.ExecutorID, status int) {
	fw, ok := s.frameworks[fwID]
	if !ok {
		log.L().Warn("unknown framework's executor exited",
			zap.String("framework", fwID.String()),
			zap.String("executor", execID.String()))
		return
	}
	exec, ok := fw.Executors[execID]
	if !ok {
		log.L().Warn("unknown executor exited",
			zap.String("executor", execID.String()))
		return
	}
	log.L().Info("exited executor",
		zap.String("executor", execID.String()),
		zap.String("framework", fwID.String()),
		zap.Int("result", status))
	if !s.master.IsZero() {
		s.ctx.Send(s.master, model.ExitedExecutorTag, model.Encode(&model.ExitedExecutorMessage{
			SlaveID:     s.id,
			FrameworkID: fwID,
			ExecutorID:  execID,
			Result:      status,
		}))
	}
	s.isolation.KillExecutor(fwID, execID)
	exec.State = ExecutorDead
	delete(fw.Executors, execID)
	if len(fw.Executors) == 0 && len(fw.updates) == 0 {
		s.killFramework(fw, false)
	}
}

func (s *Slave) exited(ctx *actor.Context, msg actor.Message) {
	if msg.From == s.master {
		log.L().Warn("master disconnected, waiting for a new master to be elected")
		s.master = actor.Address{}
		return
	}
	log.L().Info("peer exited", zap.String("from", msg.From.String()))
}

// uniqueWorkDirectory builds
// <work_dir>/slave-<id>/fw-<framework>-<executor>/<run>, bumping the run
// counter because the same pair may be launched more than once here.
func (s *Slave) uniqueWorkDirectory(fw model.FrameworkID, execID model.ExecutorID) string {
	key := string(fw) + "/" + string(execID)
	run := s.runs[key]
	s.runs[key]++
	return filepath.Join(
		s.cfg.WorkDir,
		fmt.Sprintf("slave-%s", s.id),
		fmt.Sprintf("fw-%s-%s", fw, execID),
		fmt.Sprintf("%d", run),
	)
}
