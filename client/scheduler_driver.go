package client

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/AHINK/mesos/model"
	"github.com/AHINK/mesos/pkg/actor"
	"github.com/AHINK/mesos/pkg/autoid"
	"github.com/AHINK/mesos/pkg/detector"
	derror "github.com/AHINK/mesos/pkg/errors"
)

// Scheduler is the capability record a framework hands to its driver.
// Callbacks run on the driver's actor goroutine, one at a time; nil
// entries are skipped.
type Scheduler struct {
	Registered       func(d *SchedulerDriver, id model.FrameworkID)
	Reregistered     func(d *SchedulerDriver, id model.FrameworkID)
	ResourceOffers   func(d *SchedulerDriver, offers []model.Offer)
	OfferRescinded   func(d *SchedulerDriver, id model.OfferID)
	StatusUpdate     func(d *SchedulerDriver, status model.TaskStatus)
	FrameworkMessage func(d *SchedulerDriver, slave model.SlaveID, executor model.ExecutorID, data []byte)
	SlaveLost        func(d *SchedulerDriver, id model.SlaveID)
	Error            func(d *SchedulerDriver, code int, message string)
}

// Internal driver tags.
const (
	schedNewMasterTag     = actor.Tag("SCHED_NEW_MASTER_DETECTED")
	schedRetryRegisterTag = actor.Tag("SCHED_RETRY_REGISTER")
)

type outboundOp struct {
	tag     actor.Tag
	payload []byte
}

// SchedulerDriver is the client-side actor a framework links against. It
// registers with the detected master, buffers operations issued before
// registration and flushes them on Registered.
type SchedulerDriver struct {
	sys   *actor.System
	sched *Scheduler
	info  model.FrameworkInfo
	det   detector.Detector
	name  string

	mu      sync.Mutex
	started bool
	stopped bool
	self    actor.Address

	// Actor-owned state below; public methods never touch it.
	master      actor.Address
	frameworkID model.FrameworkID
	connected   bool
	pending     []outboundOp
	retry       *backoff.ExponentialBackOff
}

// NewSchedulerDriver builds a driver for the given scheduler and master
// url. The framework's executor and identity come from info.
func NewSchedulerDriver(sys *actor.System, sched *Scheduler, info model.FrameworkInfo, masterURL string) (*SchedulerDriver, error) {
	det, err := detector.New(masterURL)
	if err != nil {
		return nil, err
	}
	return NewSchedulerDriverWithDetector(sys, sched, info, det), nil
}

// NewSchedulerDriverWithDetector is the constructor used by tests and by
// local mode, where the detector is assembled by hand.
func NewSchedulerDriverWithDetector(sys *actor.System, sched *Scheduler, info model.FrameworkInfo, det detector.Detector) *SchedulerDriver {
	return &SchedulerDriver{
		sys:   sys,
		sched: sched,
		info:  info,
		det:   det,
		name:  "scheduler(" + autoid.NewUUIDAllocator().AllocID()[:8] + ")",
	}
}

// Start spawns the driver actor. It is an error to start twice.
func (d *SchedulerDriver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return derror.ErrDriverAborted.GenWithStackByArgs("already started")
	}
	self, err := d.sys.Spawn(d.name, d.run)
	if err != nil {
		return err
	}
	d.self = self
	d.started = true
	return nil
}

// Stop unregisters the framework (if registered) and terminates the
// driver.
func (d *SchedulerDriver) Stop() {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	self := d.self
	d.mu.Unlock()
	// The unregistration runs as a dispatch so it is on the wire before
	// TERMINATE jumps the mailbox. Must not be called from a callback.
	fut := d.sys.Dispatch(self, func() (interface{}, error) {
		if d.connected && d.frameworkID != "" {
			d.sys.Send(self, d.master, model.UnregisterFrameworkTag,
				model.Encode(&model.UnregisterFrameworkMessage{FrameworkID: d.frameworkID}))
		}
		return nil, nil
	})
	_, _ = fut.Result(0)
	d.sys.Terminate(self)
}

// Join blocks until the driver has stopped.
func (d *SchedulerDriver) Join() {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if !started {
		return
	}
	d.sys.Wait(d.name)
}

// Run starts the driver and joins it.
func (d *SchedulerDriver) Run() error {
	if err := d.Start(); err != nil {
		return err
	}
	d.Join()
	return nil
}

// Self returns the driver's actor address.
func (d *SchedulerDriver) Self() actor.Address {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.self
}

// ReplyToOffer launches tasks (possibly none) against an offer.
func (d *SchedulerDriver) ReplyToOffer(offerID model.OfferID, tasks []model.TaskDescription, filters model.Filters) {
	d.op(model.ReplyToOfferTag, model.Encode(&model.ReplyToOfferMessage{
		OfferID: offerID,
		Tasks:   tasks,
		Filters: filters,
	}))
}

// KillTask asks the master to kill a task.
func (d *SchedulerDriver) KillTask(id model.TaskID) {
	d.op(model.KillTaskTag, model.Encode(&model.KillTaskMessage{TaskID: id}))
}

// ReviveOffers clears the framework's filters.
func (d *SchedulerDriver) ReviveOffers() {
	d.op(model.ReviveOffersTag, model.Encode(&model.ReviveOffersMessage{}))
}

// RequestResources records a resource request with the allocator.
func (d *SchedulerDriver) RequestResources(resources model.Resources) {
	d.op(model.ResourceRequestTag, model.Encode(&model.ResourceRequestMessage{Resources: resources}))
}

// SendFrameworkMessage sends opaque bytes to an executor.
func (d *SchedulerDriver) SendFrameworkMessage(slave model.SlaveID, executor model.ExecutorID, data []byte) {
	d.op(model.FrameworkToExecutorTag, model.Encode(&model.FrameworkMessage{
		SlaveID:    slave,
		ExecutorID: executor,
		Data:       data,
	}))
}

// op hands a public operation to the driver actor, which fills in the
// framework id and either forwards or buffers it.
func (d *SchedulerDriver) op(tag actor.Tag, payload []byte) {
	d.mu.Lock()
	started := d.started
	self := d.self
	d.mu.Unlock()
	if !started {
		log.L().Warn("driver operation before Start, dropping", zap.String("tag", string(tag)))
		return
	}
	d.sys.Send(self, self, tag, payload)
}

// run is the driver actor body.
func (d *SchedulerDriver) run(ctx *actor.Context) {
	d.retry = backoff.NewExponentialBackOff()
	d.retry.InitialInterval = 500 * time.Millisecond
	d.retry.MaxInterval = 10 * time.Second
	d.retry.MaxElapsedTime = 0 // keep trying until a master appears

	detectCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.startDetection(detectCtx, ctx)

	ctx.Install(schedNewMasterTag, d.newMasterDetected)
	ctx.Install(schedRetryRegisterTag, d.retryRegister)
	ctx.Install(model.FrameworkRegisteredTag, d.registered)
	ctx.Install(model.FrameworkReregisteredTag, d.reregistered)
	ctx.Install(model.ResourceOffersTag, d.resourceOffers)
	ctx.Install(model.RescindOfferTag, d.offerRescinded)
	ctx.Install(model.StatusUpdateTag, d.statusUpdate)
	ctx.Install(model.ExecutorToFrameworkTag, d.frameworkMessage)
	ctx.Install(model.SlaveLostTag, d.slaveLost)
	ctx.Install(model.FrameworkErrorTag, d.frameworkError)
	ctx.Install(actor.Exited, d.masterExited)

	// Public operations loop back through the mailbox.
	ctx.Install(model.ReplyToOfferTag, d.forwardOp)
	ctx.Install(model.KillTaskTag, d.forwardOp)
	ctx.Install(model.ReviveOffersTag, d.forwardOp)
	ctx.Install(model.ResourceRequestTag, d.forwardOp)
	ctx.Install(model.FrameworkToExecutorTag, d.forwardOp)

	for {
		msg := ctx.Serve(0)
		if msg.Tag == actor.Terminate {
			return
		}
	}
}

func (d *SchedulerDriver) startDetection(detectCtx context.Context, ctx *actor.Context) {
	self := ctx.Self()
	sys := ctx.System()
	ch, err := d.det.Detect(detectCtx)
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
				sys.Send(self, self, schedNewMasterTag,
					model.Encode(&newMasterMessage{Pid: addr.String()}))
			}
		}
	}()
}

type newMasterMessage struct {
	Pid string `json:"pid"`
}

func (d *SchedulerDriver) newMasterDetected(ctx *actor.Context, msg actor.Message) {
	var req newMasterMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	master, err := actor.ParseAddress(req.Pid)
	if err != nil {
		return
	}
	log.L().Info("scheduler driver detected master", zap.String("master", master.String()))
	d.master = master
	d.connected = false
	ctx.Link(master)
	d.retry.Reset()
	d.register(ctx)
}

// register sends the (re)registration and schedules a backoff retry in
// case the master never answers.
func (d *SchedulerDriver) register(ctx *actor.Context) {
	if d.connected || d.master.IsZero() {
		return
	}
	if d.frameworkID == "" {
		ctx.Send(d.master, model.RegisterFrameworkTag,
			model.Encode(&model.RegisterFrameworkMessage{Info: d.info}))
	} else {
		ctx.Send(d.master, model.ReregisterFrameworkTag,
			model.Encode(&model.ReregisterFrameworkMessage{
				FrameworkID: d.frameworkID,
				Info:        d.info,
			}))
	}
	self := ctx.Self()
	sys := ctx.System()
	ctx.Clock().AfterFunc(d.retry.NextBackOff(), func() {
		sys.Send(self, self, schedRetryRegisterTag, nil)
	})
}

func (d *SchedulerDriver) retryRegister(ctx *actor.Context, msg actor.Message) {
	d.register(ctx)
}

func (d *SchedulerDriver) registered(ctx *actor.Context, msg actor.Message) {
	var req model.FrameworkRegisteredMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	log.L().Info("framework registered", zap.String("id", req.FrameworkID.String()))
	d.frameworkID = req.FrameworkID
	d.connected = true
	if d.sched.Registered != nil {
		d.sched.Registered(d, req.FrameworkID)
	}
	d.flushPending(ctx)
}

func (d *SchedulerDriver) reregistered(ctx *actor.Context, msg actor.Message) {
	var req model.FrameworkRegisteredMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	log.L().Info("framework re-registered", zap.String("id", req.FrameworkID.String()))
	d.connected = true
	if d.sched.Reregistered != nil {
		d.sched.Reregistered(d, req.FrameworkID)
	}
	d.flushPending(ctx)
}

func (d *SchedulerDriver) flushPending(ctx *actor.Context) {
	pending := d.pending
	d.pending = nil
	for _, op := range pending {
		d.forward(ctx, op.tag, op.payload)
	}
}

// forwardOp handles a public operation: forward when connected, buffer
// otherwise.
func (d *SchedulerDriver) forwardOp(ctx *actor.Context, msg actor.Message) {
	if !d.connected {
		d.pending = append(d.pending, outboundOp{tag: msg.Tag, payload: msg.Payload})
		return
	}
	d.forward(ctx, msg.Tag, msg.Payload)
}

// forward stamps the operation with the framework id and sends it to the
// master.
func (d *SchedulerDriver) forward(ctx *actor.Context, tag actor.Tag, payload []byte) {
	switch tag {
	case model.ReplyToOfferTag:
		var req model.ReplyToOfferMessage
		if model.Decode(payload, &req) != nil {
			return
		}
		req.FrameworkID = d.frameworkID
		ctx.Send(d.master, tag, model.Encode(&req))
	case model.KillTaskTag:
		var req model.KillTaskMessage
		if model.Decode(payload, &req) != nil {
			return
		}
		req.FrameworkID = d.frameworkID
		ctx.Send(d.master, tag, model.Encode(&req))
	case model.ReviveOffersTag:
		ctx.Send(d.master, tag, model.Encode(&model.ReviveOffersMessage{
			FrameworkID: d.frameworkID,
		}))
	case model.ResourceRequestTag:
		var req model.ResourceRequestMessage
		if model.Decode(payload, &req) != nil {
			return
		}
		req.FrameworkID = d.frameworkID
		ctx.Send(d.master, tag, model.Encode(&req))
	case model.FrameworkToExecutorTag:
		var req model.FrameworkMessage
		if model.Decode(payload, &req) != nil {
			return
		}
		req.FrameworkID = d.frameworkID
		ctx.Send(d.master, tag, model.Encode(&req))
	}
}

func (d *SchedulerDriver) resourceOffers(ctx *actor.Context, msg actor.Message) {
	var req model.ResourceOffersMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	if d.sched.ResourceOffers != nil {
		d.sched.ResourceOffers(d, req.Offers)
	}
}

func (d *SchedulerDriver) offerRescinded(ctx *actor.Context, msg actor.Message) {
	var req model.RescindOfferMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	if d.sched.OfferRescinded != nil {
		d.sched.OfferRescinded(d, req.OfferID)
	}
}

func (d *SchedulerDriver) statusUpdate(ctx *actor.Context, msg actor.Message) {
	var req model.StatusUpdateMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	if d.sched.StatusUpdate != nil {
		d.sched.StatusUpdate(d, req.Update.Status)
	}
}

func (d *SchedulerDriver) frameworkMessage(ctx *actor.Context, msg actor.Message) {
	var req model.FrameworkMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	if d.sched.FrameworkMessage != nil {
		d.sched.FrameworkMessage(d, req.SlaveID, req.ExecutorID, req.Data)
	}
}

func (d *SchedulerDriver) slaveLost(ctx *actor.Context, msg actor.Message) {
	var req model.SlaveLostMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	if d.sched.SlaveLost != nil {
		d.sched.SlaveLost(d, req.SlaveID)
	}
}

func (d *SchedulerDriver) frameworkError(ctx *actor.Context, msg actor.Message) {
	var req model.FrameworkErrorMessage
	if err := model.Decode(msg.Payload, &req); err != nil {
		return
	}
	if d.sched.Error != nil {
		d.sched.Error(d, req.Code, req.Message)
	}
}

// masterExited reacts to master link death: operations buffer again until
// the detector reports a master and re-registration succeeds.
func (d *SchedulerDriver) masterExited(ctx *actor.Context, msg actor.Message) {
	if msg.From != d.master {
		return
	}
	log.L().Warn("scheduler driver lost the master, awaiting election")
	d.connected = false
	d.retry.Reset()
	// The same master address may be re-detected (e.g. a restart), so
	// keep probing it while the detector stays quiet.
	self := ctx.Self()
	sys := ctx.System()
	ctx.Clock().AfterFunc(d.retry.NextBackOff(), func() {
		sys.Send(self, self, schedRetryRegisterTag, nil)
	})
}

// FrameworkID returns the id assigned at registration, empty before
// then. It must not be called from a scheduler callback: callbacks
// already run on the driver goroutine and receive the id directly.
func (d *SchedulerDriver) FrameworkID() model.FrameworkID {
	type result struct {
		id model.FrameworkID
	}
	fut := d.sys.Dispatch(d.Self(), func() (interface{}, error) {
		return result{id: d.frameworkID}, nil
	})
	value, err := fut.Result(time.Second)
	if err != nil {
		return ""
	}
	return value.(result).id
}
