package master

import (
	"fmt"

	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/AHINK/mesos/model"
	"github.com/AHINK/mesos/pkg/actor"
	"github.com/AHINK/mesos/pkg/autoid"
	"github.com/AHINK/mesos/pkg/clock"
)

// ActorName is the well-known name of the master actor.
const ActorName = "master"

// failoverTimeoutTag is internal: the clock posts it back to the master
// when a disconnected framework's grace period ends.
const failoverTimeoutTag = actor.Tag("FRAMEWORK_FAILOVER_TIMEOUT")

type failoverTimeoutMessage struct {
	FrameworkID model.FrameworkID `json:"framework_id"`
	Generation  int               `json:"generation"`
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

// Master is the coordination actor: the registry of frameworks, slaves,
// tasks and outstanding offers, driven by the allocator. All state is
// owned by the actor goroutine.
type Master struct {
	cfg       *Config
	allocator Allocator
	clk       clock.Clock

	id           string
	frameworkIDs *autoid.Allocator
	slaveIDs     *autoid.Allocator
	offerIDs     *autoid.UUIDAllocator

	frameworks      map[model.FrameworkID]*Framework
	slaves          map[model.SlaveID]*Slave
	offers          map[model.OfferID]*Offer
	frameworkByAddr map[string]model.FrameworkID
	slaveByAddr     map[string]model.SlaveID

	startTime clock.MonotonicTime
	stats     Stats
}

// New creates a master with the given allocator policy.
func New(cfg *Config, allocator Allocator, clk clock.Clock) *Master {
	id := autoid.NewUUIDAllocator().AllocID()[:8]
	return &Master{
		cfg:             cfg,
		allocator:       allocator,
		clk:             clk,
		id:              id,
		frameworkIDs:    autoid.NewAllocator(id),
		slaveIDs:        autoid.NewAllocator(id),
		offerIDs:        autoid.NewUUIDAllocator(),
		frameworks:      make(map[model.FrameworkID]*Framework),
		slaves:          make(map[model.SlaveID]*Slave),
		offers:          make(map[model.OfferID]*Offer),
		frameworkByAddr: make(map[string]model.FrameworkID),
		slaveByAddr:     make(map[string]model.SlaveID),
	}
}

// Run is the actor body. Spawn it under ActorName.
func (m *Master) Run(ctx *actor.Context) {
	log.L().Info("master started",
		zap.String("id", m.id), zap.String("pid", ctx.Self().String()))
	m.startTime = m.clk.Mono()

	ctx.Install(model.RegisterFrameworkTag, m.registerFramework)
	ctx.Install(model.ReregisterFrameworkTag, m.reregisterFramework)
	ctx.Install(model.UnregisterFrameworkTag, m.unregisterFramework)
	ctx.Install(model.ReplyToOfferTag, m.replyToOffer)
	ctx.Install(model.ReviveOffersTag, m.reviveOffers)
	ctx.Install(model.ResourceRequestTag, m.resourceRequest)
	ctx.Install(model.KillTaskTag, m.killTask)
	ctx.Install(model.RegisterSlaveTag, m.registerSlave)
	ctx.Install(model.ReregisterSlaveTag, m.reregisterSlave)
	ctx.Install(model.StatusUpdateTag, m.statusUpdate)
	ctx.Install(model.ExitedExecutorTag, m.exitedExecutor)
	ctx.Install(model.FrameworkToExecutorTag, m.frameworkToExecutor)
	ctx.Install(model.ExecutorToFrameworkTag, m.executorToFramework)
	ctx.Install(failoverTimeoutTag, m.failoverTimeout)
	ctx.Install(actor.Exited, m.exited)
	ctx.Install(model.PingTag, func(ctx *actor.Context, msg actor.Message) {
		ctx.Send(ctx.From(), model.PongTag, nil)
	})
	ctx.Install(actor.Timeout, func(ctx *actor.Context, msg actor.Message) {
		m.allocate(ctx)
		ctx.Pause(m.cfg.AllocationInterval.Duration)
	})
	m.installHTTP(ctx)

	ctx.Pause(m.cfg.AllocationInterval.Duration)
	for {
		msg := ctx.Serve(0)
		if msg.Tag == actor.Terminate {
			log.L().Info("master asked to shut down", zap.String("by", msg.From.String()))
			return
		}
	}
}

// allocate consults the allocator and turns its decisions into offer
// batches, one batch per framework.
func (m *Master) allocate(ctx *actor.Context) {
	allocations := m.allocator.TimerTick()
	if len(allocations) == 0 {
		return
	}
	batches := make(map[model.FrameworkID][]model.Offer)
	for _, alloc := range allocations {
		fw := m.frameworks[alloc.FrameworkID]
		slave := m.slaves[alloc.SlaveID]
		if fw == nil || !fw.Active || slave == nil {
			continue
		}
		if !alloc.Resources.FitsIn(slave.Available) {
			log.L().Warn("allocator overcommitted a slave, dropping allocation",
				zap.String("slave", slave.ID.String()),
				zap.String("resources", alloc.Resources.String()))
			continue
		}
		offer := &Offer{
			ID:          model.OfferID(m.offerIDs.AllocID()),
			FrameworkID: fw.ID,
			SlaveID:     slave.ID,
			Resources:   alloc.Resources.Clone(),
			CreatedAt:   m.clk.Mono(),
		}
		available, err := slave.Available.Minus(offer.Resources)
		if err != nil {
			log.L().Panic("offer accounting underflow", zap.Error(err))
		}
		slave.Available = available
		m.offers[offer.ID] = offer
		fw.Offers[offer.ID] = offer
		slave.Offers[offer.ID] = offer
		batches[fw.ID] = append(batches[fw.ID], offer.toModel(slave.Info.Hostname))
	}
	for fwID, offers := range batches {
		fw := m.frameworks[fwID]
		log.L().Info("sending resource offers",
			zap.String("framework", fwID.String()), zap.Int("count", len(offers)))
		ctx.Send(fw.Addr, model.ResourceOffersTag,
			model.Encode(&model.ResourceOffersMessage{Offers: offers}))
	}
}

func (m *Master) registerFramework(ctx *actor.Context, msg actor.Message) {
	var req model.RegisterFrameworkMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		log.L().Warn("malformed framework registration", zap.Error(err))
		ctx.Send(msg.From, model.FrameworkErrorTag, model.Encode(&model.FrameworkErrorMessage{
			Code:    1,
			Message: "malformed registration",
		}))
		return
	}
	if existing, ok := m.frameworkByAddr[msg.From.String()]; ok {
		// A registration retry from a scheduler we already admitted.
		ctx.Send(msg.From, model.FrameworkRegisteredTag,
			model.Encode(&model.FrameworkRegisteredMessage{FrameworkID: existing}))
		return
	}
	id := model.FrameworkID(m.frameworkIDs.AllocID())
	fw := newFramework(id, req.Info, msg.From, m.clk.Now())
	m.frameworks[id] = fw
	m.frameworkByAddr[msg.From.String()] = id
	ctx.Link(msg.From)
	m.allocator.FrameworkAdded(fw)
	log.L().Info("registered framework",
		zap.String("id", id.String()), zap.String("name", req.Info.Name),
		zap.String("pid", msg.From.String()))
	ctx.Send(msg.From, model.FrameworkRegisteredTag,
		model.Encode(&model.FrameworkRegisteredMessage{FrameworkID: id}))
	m.allocate(ctx)
}

func (m *Master) reregisterFramework(ctx *actor.Context, msg actor.Message) {
	var req model.ReregisterFrameworkMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		log.L().Warn("malformed framework re-registration", zap.Error(err))
		return
	}
	if req.FrameworkID == "" {
		log.L().Warn("framework re-registered without an id, ignoring")
		return
	}
	fw, ok := m.frameworks[req.FrameworkID]
	if ok {
		// Scheduler failed over within the grace period: reinstate it at
		// its new address; a pending failover timer is invalidated by
		// bumping the generation.
		delete(m.frameworkByAddr, fw.Addr.String())
		fw.Addr = msg.From
		fw.Info = req.Info
		fw.Active = true
		fw.failoverGen++
		log.L().Info("framework re-registered",
			zap.String("id", fw.ID.String()), zap.String("pid", msg.From.String()))
	} else {
		// This master has no entry (e.g. it just failed over itself):
		// accept the framework under its old id.
		fw = newFramework(req.FrameworkID, req.Info, msg.From, m.clk.Now())
		m.frameworks[fw.ID] = fw
		m.allocator.FrameworkAdded(fw)
		log.L().Info("framework re-registered with unknown id, reinstating",
			zap.String("id", fw.ID.String()))
	}
	m.frameworkByAddr[msg.From.String()] = fw.ID
	ctx.Link(msg.From)
	ctx.Send(msg.From, model.FrameworkReregisteredTag,
		model.Encode(&model.FrameworkRegisteredMessage{FrameworkID: fw.ID}))
	// Tell the slaves running its tasks where the scheduler now lives.
	for _, slave := range m.slaves {
		for _, task := range slave.Tasks {
			if task.FrameworkID == fw.ID {
				ctx.Send(slave.Addr, model.UpdateFrameworkTag,
					model.Encode(&model.UpdateFrameworkMessage{
						FrameworkID: fw.ID,
						Pid:         msg.From.String(),
					}))
				break
			}
		}
	}
	m.allocate(ctx)
}

func (m *Master) unregisterFramework(ctx *actor.Context, msg actor.Message) {
	var req model.UnregisterFrameworkMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	fw, ok := m.frameworks[req.FrameworkID]
	if !ok {
		log.L().Warn("unregister for unknown framework",
			zap.String("id", req.FrameworkID.String()))
		return
	}
	// Only the framework's own scheduler may unregister it.
	if !msg.From.IsZero() && msg.From != fw.Addr {
		log.L().Warn("ignoring unregister from foreign address",
			zap.String("framework", fw.ID.String()),
			zap.String("from", msg.From.String()))
		return
	}
	m.removeFramework(ctx, fw)
}

// removeFramework rescinds the framework's offers, kills its tasks and
// executors and drops the registry entry.
func (m *Master) removeFramework(ctx *actor.Context, fw *Framework) {
	log.L().Info("removing framework", zap.String("id", fw.ID.String()))
	for _, offer := range fw.Offers {
		m.returnOffer(offer)
	}
	// One KillFramework per slave shuts down executors and their tasks.
	notified := make(map[model.SlaveID]bool)
	for _, task := range fw.Tasks {
		slave := m.slaves[task.SlaveID]
		if slave == nil {
			continue
		}
		if !notified[slave.ID] {
			notified[slave.ID] = true
			ctx.Send(slave.Addr, model.KillFrameworkTag,
				model.Encode(&model.KillFrameworkMessage{FrameworkID: fw.ID}))
		}
		m.removeTask(task, model.TaskKilled)
		m.stats.KilledTasks.Inc()
	}
	for key := range m.slaveExecutorsOf(fw.ID) {
		slave, ek := key.slave, key.key
		freed := slave.Executors[ek]
		slave.Available = slave.Available.Plus(freed)
		delete(slave.Executors, ek)
	}
	delete(m.frameworkByAddr, fw.Addr.String())
	delete(m.frameworks, fw.ID)
	m.allocator.FrameworkRemoved(fw)
}

type slaveExecutor struct {
	slave *Slave
	key   string
}

func (m *Master) slaveExecutorsOf(fw model.FrameworkID) map[slaveExecutor]struct{} {
	out := make(map[slaveExecutor]struct{})
	prefix := string(fw) + "/"
	for _, slave := range m.slaves {
		for key := range slave.Executors {
			if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
				out[slaveExecutor{slave: slave, key: key}] = struct{}{}
			}
		}
	}
	return out
}

func (m *Master) registerSlave(ctx *actor.Context, msg actor.Message) {
	var req model.RegisterSlaveMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		log.L().Warn("malformed slave registration", zap.Error(err))
		return
	}
	id := model.SlaveID(m.slaveIDs.AllocID())
	slave := newSlave(id, req.Info, msg.From, m.clk.Now())
	m.slaves[id] = slave
	m.slaveByAddr[msg.From.String()] = id
	ctx.Link(msg.From)
	m.allocator.SlaveAdded(slave)
	log.L().Info("registered slave",
		zap.String("id", id.String()),
		zap.String("hostname", req.Info.Hostname),
		zap.String("resources", req.Info.Resources.String()))
	ctx.Send(msg.From, model.SlaveRegisteredTag,
		model.Encode(&model.SlaveRegisteredMessage{SlaveID: id}))
	m.allocate(ctx)
}

func (m *Master) reregisterSlave(ctx *actor.Context, msg actor.Message) {
	var req model.ReregisterSlaveMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		log.L().Warn("malformed slave re-registration", zap.Error(err))
		return
	}
	if req.SlaveID == "" {
		log.L().Warn("slave re-registered without an id, ignoring")
		return
	}
	slave, ok := m.slaves[req.SlaveID]
	if !ok {
		slave = newSlave(req.SlaveID, req.Info, msg.From, m.clk.Now())
		m.slaves[slave.ID] = slave
		m.allocator.SlaveAdded(slave)
	} else {
		delete(m.slaveByAddr, slave.Addr.String())
		slave.Addr = msg.From
	}
	m.slaveByAddr[msg.From.String()] = slave.ID
	ctx.Link(msg.From)
	// Reinstate the tasks the slave reports as still running.
	for i := range req.Tasks {
		task := req.Tasks[i]
		if task.State.Terminal() {
			continue
		}
		if _, ok := slave.Tasks[task.ID]; ok {
			continue
		}
		t := task
		slave.Tasks[t.ID] = &t
		if available, err := slave.Available.Minus(t.Resources); err == nil {
			slave.Available = available
		}
		if fw, ok := m.frameworks[t.FrameworkID]; ok {
			fw.Tasks[t.ID] = &t
		}
	}
	log.L().Info("slave re-registered",
		zap.String("id", slave.ID.String()), zap.Int("tasks", len(req.Tasks)))
	ctx.Send(msg.From, model.SlaveReregisteredTag,
		model.Encode(&model.SlaveRegisteredMessage{SlaveID: slave.ID}))
	m.allocate(ctx)
}

// replyToOffer handles a framework's response to an offer: it validates
// each task, forwards the launches and returns the unused remainder.
func (m *Master) replyToOffer(ctx *actor.Context, msg actor.Message) {
	var req model.ReplyToOfferMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		log.L().Warn("malformed offer reply", zap.Error(err))
		return
	}
	fw, ok := m.frameworks[req.FrameworkID]
	if !ok {
		log.L().Warn("offer reply from unknown framework",
			zap.String("framework", req.FrameworkID.String()))
		ctx.Send(msg.From, model.FrameworkErrorTag, model.Encode(&model.FrameworkErrorMessage{
			Code:    1,
			Message: "offer reply from unregistered framework",
		}))
		return
	}
	offer, ok := m.offers[req.OfferID]
	if !ok || offer.FrameworkID != fw.ID {
		// Unknown or already consumed: nothing is held, nothing to do.
		log.L().Warn("reply to unknown or resolved offer",
			zap.String("offer", req.OfferID.String()),
			zap.String("framework", req.FrameworkID.String()))
		return
	}
	slave := m.slaves[offer.SlaveID]
	if slave == nil {
		log.L().Panic("offer outlived its slave", zap.String("offer", offer.ID.String()))
	}
	m.dropOffer(offer)

	accepted := req.Tasks
	if m.cfg.AtomicOfferReplies {
		if reason, bad := m.validateBatch(fw, offer, req.Tasks); bad {
			for _, task := range req.Tasks {
				m.rejectTask(ctx, fw, slave.ID, task.ID, reason)
			}
			accepted = nil
		}
	}

	used := model.Resources{}
	for _, task := range accepted {
		if reason := m.validateTask(fw, offer, task, used); reason != "" {
			// Per-task rejection: this task is LOST, the rest proceed.
			m.rejectTask(ctx, fw, slave.ID, task.ID, reason)
			continue
		}
		execInfo := task.Executor
		if execInfo == nil {
			execInfo = &fw.Info.Executor
		}
		t := &model.Task{
			ID:          task.ID,
			FrameworkID: fw.ID,
			SlaveID:     slave.ID,
			ExecutorID:  execInfo.ID,
			Name:        task.Name,
			Resources:   task.Resources.Clone(),
			State:       model.TaskStaging,
		}
		fw.Tasks[t.ID] = t
		slave.Tasks[t.ID] = t
		if _, ok := slave.Executors[executorKey(fw.ID, execInfo.ID)]; !ok {
			slave.Executors[executorKey(fw.ID, execInfo.ID)] = model.Resources{}
		}
		used = used.Plus(task.Resources)
		m.stats.LaunchedTasks.Inc()
		log.L().Info("launching task",
			zap.String("task", t.ID.String()),
			zap.String("framework", fw.ID.String()),
			zap.String("slave", slave.ID.String()),
			zap.String("resources", t.Resources.String()))
		ctx.Send(slave.Addr, model.RunTaskTag, model.Encode(&model.RunTaskMessage{
			FrameworkID: fw.ID,
			Framework:   fw.Info,
			Pid:         fw.Addr.String(),
			Task:        task,
		}))
	}

	unused, err := offer.Resources.Minus(used)
	if err != nil {
		log.L().Panic("validated tasks exceed their offer", zap.Error(err))
	}
	slave.Available = slave.Available.Plus(unused)
	if !unused.IsEmpty() {
		m.allocator.ResourcesUnused(fw.ID, slave.ID, unused, req.Filters)
	}
}

// validateTask checks one task of an offer reply. It returns a rejection
// reason, or "" if the task is acceptable.
func (m *Master) validateTask(fw *Framework, offer *Offer, task model.TaskDescription, used model.Resources) string {
	if task.ID == "" {
		return "task has no id"
	}
	if _, ok := fw.Tasks[task.ID]; ok {
		return fmt.Sprintf("duplicate task id %s", task.ID)
	}
	if task.Resources.IsEmpty() {
		return "task requests no resources"
	}
	if !used.Plus(task.Resources).FitsIn(offer.Resources) {
		return fmt.Sprintf("task %s exceeds the offered resources %s",
			task.ID, offer.Resources.String())
	}
	execInfo := task.Executor
	if execInfo == nil {
		execInfo = &fw.Info.Executor
	}
	if execInfo.ID == "" {
		return "no executor provided and the framework declares none"
	}
	return ""
}

func (m *Master) validateBatch(fw *Framework, offer *Offer, tasks []model.TaskDescription) (string, bool) {
	used := model.Resources{}
	for _, task := range tasks {
		if reason := m.validateTask(fw, offer, task, used); reason != "" {
			return reason, true
		}
		used = used.Plus(task.Resources)
	}
	return "", false
}

// rejectTask synthesizes a LOST update for an invalid task in a reply.
func (m *Master) rejectTask(ctx *actor.Context, fw *Framework, slave model.SlaveID, task model.TaskID, reason string) {
	log.L().Warn("rejecting task from offer reply",
		zap.String("task", task.String()),
		zap.String("framework", fw.ID.String()),
		zap.String("reason", reason))
	m.stats.LostTasks.Inc()
	ctx.Send(fw.Addr, model.StatusUpdateTag, model.Encode(&model.StatusUpdateMessage{
		Update: model.StatusUpdate{
			FrameworkID: fw.ID,
			Status: model.TaskStatus{
				TaskID:  task,
				SlaveID: slave,
				State:   model.TaskLost,
				Message: reason,
			},
			UUID:      m.offerIDs.AllocID(),
			Timestamp: float64(m.clk.Now().UnixNano()) / 1e9,
		},
	}))
}

func (m *Master) reviveOffers(ctx *actor.Context, msg actor.Message) {
	var req model.ReviveOffersMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	if _, ok := m.frameworks[req.FrameworkID]; !ok {
		return
	}
	m.allocator.OffersRevived(req.FrameworkID)
	m.allocate(ctx)
}

func (m *Master) resourceRequest(ctx *actor.Context, msg actor.Message) {
	var req model.ResourceRequestMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	if _, ok := m.frameworks[req.FrameworkID]; !ok {
		return
	}
	m.allocator.ResourcesRequested(req.FrameworkID, req.Resources)
	m.allocate(ctx)
}

func (m *Master) killTask(ctx *actor.Context, msg actor.Message) {
	var req model.KillTaskMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	fw, ok := m.frameworks[req.FrameworkID]
	if !ok {
		log.L().Warn("kill for unknown framework",
			zap.String("framework", req.FrameworkID.String()))
		return
	}
	task, ok := fw.Tasks[req.TaskID]
	if !ok {
		// Unknown task: report it lost so the scheduler converges.
		m.rejectTask(ctx, fw, "", req.TaskID, "attempted to kill an unknown task")
		return
	}
	slave := m.slaves[task.SlaveID]
	if slave == nil {
		return
	}
	ctx.Send(slave.Addr, model.KillTaskTag, model.Encode(&req))
}

// statusUpdate routes a slave's update to the framework and acknowledges
// it. Terminal duplicates are dropped so a framework sees at most one
// callback per uuid.
func (m *Master) statusUpdate(ctx *actor.Context, msg actor.Message) {
	var req model.StatusUpdateMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		m.stats.InvalidStatusUpdates.Inc()
		return
	}
	update := req.Update
	ack := func() {
		ctx.Send(msg.From, model.StatusUpdateAckTag, model.Encode(&model.StatusUpdateAckMessage{
			FrameworkID: update.FrameworkID,
			TaskID:      update.Status.TaskID,
			UUID:        update.UUID,
		}))
	}
	fw, ok := m.frameworks[update.FrameworkID]
	if !ok {
		log.L().Warn("status update for unknown framework",
			zap.String("framework", update.FrameworkID.String()),
			zap.String("task", update.Status.TaskID.String()))
		m.stats.InvalidStatusUpdates.Inc()
		ack()
		return
	}
	task, ok := fw.Tasks[update.Status.TaskID]
	if !ok {
		// Most likely the retry of a terminal update we already reaped.
		log.L().Warn("status update for unknown task, dropping",
			zap.String("task", update.Status.TaskID.String()))
		m.stats.InvalidStatusUpdates.Inc()
		ack()
		return
	}
	if !task.State.CanTransitionTo(update.Status.State) {
		// Duplicate delivery; the first one was forwarded already.
		log.L().Debug("dropping duplicate status update",
			zap.String("task", task.ID.String()),
			zap.String("state", update.Status.State.String()))
		ack()
		return
	}
	task.State = update.Status.State
	log.L().Info("status update",
		zap.String("task", task.ID.String()),
		zap.String("framework", fw.ID.String()),
		zap.String("state", task.State.String()))
	if task.State.Terminal() {
		m.countTerminal(task.State)
		m.removeTask(task, task.State)
		m.allocator.ResourcesRecovered(fw.ID, task.SlaveID, task.Resources)
	}
	m.stats.ValidStatusUpdates.Inc()
	ctx.Send(fw.Addr, model.StatusUpdateTag, model.Encode(&req))
	ack()
}

func (m *Master) countTerminal(state model.TaskState) {
	switch state {
	case model.TaskFinished:
		m.stats.FinishedTasks.Inc()
	case model.TaskFailed:
		m.stats.FailedTasks.Inc()
	case model.TaskKilled:
		m.stats.KilledTasks.Inc()
	case model.TaskLost:
		m.stats.LostTasks.Inc()
	}
}

// removeTask frees the task's resources and drops it from both registries.
func (m *Master) removeTask(task *model.Task, state model.TaskState) {
	task.State = state
	if fw, ok := m.frameworks[task.FrameworkID]; ok {
		delete(fw.Tasks, task.ID)
	}
	if slave, ok := m.slaves[task.SlaveID]; ok {
		if _, tracked := slave.Tasks[task.ID]; tracked {
			delete(slave.Tasks, task.ID)
			slave.Available = slave.Available.Plus(task.Resources)
		}
	}
}

func (m *Master) exitedExecutor(ctx *actor.Context, msg actor.Message) {
	var req model.ExitedExecutorMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	slave, ok := m.slaves[req.SlaveID]
	if !ok {
		return
	}
	log.L().Info("executor exited",
		zap.String("executor", req.ExecutorID.String()),
		zap.String("framework", req.FrameworkID.String()),
		zap.String("slave", req.SlaveID.String()),
		zap.Int("result", req.Result))
	key := executorKey(req.FrameworkID, req.ExecutorID)
	if res, ok := slave.Executors[key]; ok {
		slave.Available = slave.Available.Plus(res)
		delete(slave.Executors, key)
	}
	// Any tasks of this executor that never produced a terminal update
	// are lost.
	fw := m.frameworks[req.FrameworkID]
	for _, task := range slave.Tasks {
		if task.FrameworkID != req.FrameworkID || task.ExecutorID != req.ExecutorID {
			continue
		}
		m.stats.LostTasks.Inc()
		m.removeTask(task, model.TaskLost)
		m.allocator.ResourcesRecovered(req.FrameworkID, slave.ID, task.Resources)
		if fw != nil {
			ctx.Send(fw.Addr, model.StatusUpdateTag, model.Encode(&model.StatusUpdateMessage{
				Update: model.StatusUpdate{
					FrameworkID: fw.ID,
					Status: model.TaskStatus{
						TaskID:  task.ID,
						SlaveID: slave.ID,
						State:   model.TaskLost,
						Message: "executor exited",
					},
					UUID:      m.offerIDs.AllocID(),
					Timestamp: float64(m.clk.Now().UnixNano()) / 1e9,
				},
			}))
		}
	}
}

func (m *Master) frameworkToExecutor(ctx *actor.Context, msg actor.Message) {
	var req model.FrameworkMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	slave, ok := m.slaves[req.SlaveID]
	if !ok {
		m.stats.InvalidFrameworkMessages.Inc()
		log.L().Warn("framework message for unknown slave",
			zap.String("slave", req.SlaveID.String()))
		return
	}
	m.stats.ValidFrameworkMessages.Inc()
	ctx.Send(slave.Addr, model.FrameworkToExecutorTag, msg.Payload)
}

func (m *Master) executorToFramework(ctx *actor.Context, msg actor.Message) {
	var req model.FrameworkMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	fw, ok := m.frameworks[req.FrameworkID]
	if !ok {
		m.stats.InvalidFrameworkMessages.Inc()
		return
	}
	m.stats.ValidFrameworkMessages.Inc()
	ctx.Send(fw.Addr, model.ExecutorToFrameworkTag, msg.Payload)
}

// exited handles link death of a peer: a lost slave or a disconnected
// scheduler.
func (m *Master) exited(ctx *actor.Context, msg actor.Message) {
	from := msg.From.String()
	if slaveID, ok := m.slaveByAddr[from]; ok {
		m.slaveLost(ctx, m.slaves[slaveID])
		return
	}
	if fwID, ok := m.frameworkByAddr[from]; ok {
		fw := m.frameworks[fwID]
		log.L().Warn("framework disconnected, starting failover timer",
			zap.String("framework", fwID.String()),
			zap.Duration("timeout", m.cfg.FailoverTimeout.Duration))
		fw.Active = false
		fw.failoverGen++
		payload := model.Encode(&failoverTimeoutMessage{
			FrameworkID: fw.ID,
			Generation:  fw.failoverGen,
		})
		self := ctx.Self()
		sys := ctx.System()
		m.clk.AfterFunc(m.cfg.FailoverTimeout.Duration, func() {
			sys.Send(self, self, failoverTimeoutTag, payload)
		})
		// Its outstanding offers are rescinded right away.
		for _, offer := range fw.Offers {
			m.returnOffer(offer)
			m.allocator.ResourcesRecovered(fw.ID, offer.SlaveID, offer.Resources)
		}
		return
	}
	log.L().Info("exited from unknown peer", zap.String("from", from))
}

func (m *Master) failoverTimeout(ctx *actor.Context, msg actor.Message) {
	var req failoverTimeoutMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	fw, ok := m.frameworks[req.FrameworkID]
	if !ok || fw.Active || fw.failoverGen != req.Generation {
		return
	}
	log.L().Warn("framework failover timed out, removing",
		zap.String("framework", fw.ID.String()))
	m.removeFramework(ctx, fw)
}

// slaveLost removes a slave: its offers are rescinded, its tasks are lost
// and every affected framework hears about it.
func (m *Master) slaveLost(ctx *actor.Context, slave *Slave) {
	log.L().Warn("lost slave", zap.String("slave", slave.ID.String()))
	affected := make(map[model.FrameworkID]bool)
	for _, offer := range slave.Offers {
		affected[offer.FrameworkID] = true
		if fw, ok := m.frameworks[offer.FrameworkID]; ok {
			ctx.Send(fw.Addr, model.RescindOfferTag,
				model.Encode(&model.RescindOfferMessage{OfferID: offer.ID}))
		}
		m.returnOffer(offer)
	}
	for _, task := range slave.Tasks {
		affected[task.FrameworkID] = true
		fw := m.frameworks[task.FrameworkID]
		m.stats.LostTasks.Inc()
		m.removeTask(task, model.TaskLost)
		if fw != nil {
			ctx.Send(fw.Addr, model.StatusUpdateTag, model.Encode(&model.StatusUpdateMessage{
				Update: model.StatusUpdate{
					FrameworkID: fw.ID,
					Status: model.TaskStatus{
						TaskID:  task.ID,
						SlaveID: slave.ID,
						State:   model.TaskLost,
						Message: "slave lost",
					},
					UUID:      m.offerIDs.AllocID(),
					Timestamp: float64(m.clk.Now().UnixNano()) / 1e9,
				},
			}))
		}
	}
	for fwID := range affected {
		if fw, ok := m.frameworks[fwID]; ok {
			ctx.Send(fw.Addr, model.SlaveLostTag,
				model.Encode(&model.SlaveLostMessage{SlaveID: slave.ID}))
		}
	}
	delete(m.slaveByAddr, slave.Addr.String())
	delete(m.slaves, slave.ID)
	m.allocator.SlaveRemoved(slave)
}

// returnOffer resolves an offer without a reply: the promised resources
// go back to the slave's availability.
func (m *Master) returnOffer(offer *Offer) {
	m.dropOffer(offer)
	if slave, ok := m.slaves[offer.SlaveID]; ok {
		slave.Available = slave.Available.Plus(offer.Resources)
	}
}

// dropOffer removes the offer from all three indexes.
func (m *Master) dropOffer(offer *Offer) {
	delete(m.offers, offer.ID)
	if fw, ok := m.frameworks[offer.FrameworkID]; ok {
		delete(fw.Offers, offer.ID)
	}
	if slave, ok := m.slaves[offer.SlaveID]; ok {
		delete(slave.Offers, offer.ID)
	}
}
