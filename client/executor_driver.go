package client

import (
	"os"
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/AHINK/mesos/model"
	"github.com/AHINK/mesos/pkg/actor"
	"github.com/AHINK/mesos/pkg/autoid"
	derror "github.com/AHINK/mesos/pkg/errors"
)

// Executor is the capability record an executor binary hands to its
// driver. Callbacks run on the driver's actor goroutine; nil entries are
// skipped.
type Executor struct {
	Init             func(d *ExecutorDriver, args model.ExecutorArgs)
	LaunchTask       func(d *ExecutorDriver, task model.TaskDescription)
	KillTask         func(d *ExecutorDriver, id model.TaskID)
	FrameworkMessage func(d *ExecutorDriver, data []byte)
	Shutdown         func(d *ExecutorDriver)
	Error            func(d *ExecutorDriver, code int, message string)
}

// ExecutorEnv is the identity an executor process is launched with. The
// slave's isolation module passes it through the MESOS_* environment.
type ExecutorEnv struct {
	Slave       actor.Address
	FrameworkID model.FrameworkID
	ExecutorID  model.ExecutorID
	Directory   string
}

// EnvFromOS reads the executor environment set by the slave.
func EnvFromOS() (ExecutorEnv, error) {
	slave, err := actor.ParseAddress(os.Getenv("MESOS_SLAVE_PID"))
	if err != nil {
		return ExecutorEnv{}, derror.ErrBadAddress.Wrap(err).GenWithStackByArgs(os.Getenv("MESOS_SLAVE_PID"))
	}
	return ExecutorEnv{
		Slave:       slave,
		FrameworkID: model.FrameworkID(os.Getenv("MESOS_FRAMEWORK_ID")),
		ExecutorID:  model.ExecutorID(os.Getenv("MESOS_EXECUTOR_ID")),
		Directory:   os.Getenv("MESOS_DIRECTORY"),
	}, nil
}

// ExecutorDriver connects an executor to its local slave: it registers,
// receives tasks and relays status updates and framework messages.
type ExecutorDriver struct {
	sys  *actor.System
	exec *Executor
	env  ExecutorEnv
	name string

	mu      sync.Mutex
	started bool
	self    actor.Address
}

// NewExecutorDriver builds a driver for the given executor callbacks and
// environment. Most binaries obtain env with EnvFromOS.
func NewExecutorDriver(sys *actor.System, exec *Executor, env ExecutorEnv) *ExecutorDriver {
	return &ExecutorDriver{
		sys:  sys,
		exec: exec,
		env:  env,
		name: "executor(" + autoid.NewUUIDAllocator().AllocID()[:8] + ")",
	}
}

// Start spawns the driver actor and registers with the slave.
func (d *ExecutorDriver) Start() error {
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

// Stop terminates the driver.
func (d *ExecutorDriver) Stop() {
	d.mu.Lock()
	started := d.started
	self := d.self
	d.mu.Unlock()
	if !started {
		return
	}
	d.sys.Terminate(self)
}

// Join blocks until the driver has stopped.
func (d *ExecutorDriver) Join() {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if !started {
		return
	}
	d.sys.Wait(d.name)
}

// Run starts the driver and joins it.
func (d *ExecutorDriver) Run() error {
	if err := d.Start(); err != nil {
		return err
	}
	d.Join()
	return nil
}

// Self returns the driver's actor address.
func (d *ExecutorDriver) Self() actor.Address {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.self
}

// SendStatusUpdate reports a task state change to the slave, which owns
// retrying it to the master.
func (d *ExecutorDriver) SendStatusUpdate(status model.TaskStatus) {
	d.send(model.StatusUpdateTag, model.Encode(&model.StatusUpdateMessage{
		Update: model.StatusUpdate{
			FrameworkID: d.env.FrameworkID,
			Status:      status,
		},
	}))
}

// SendFrameworkMessage sends opaque bytes to the framework's scheduler.
func (d *ExecutorDriver) SendFrameworkMessage(data []byte) {
	d.send(model.ExecutorToFrameworkTag, model.Encode(&model.FrameworkMessage{
		FrameworkID: d.env.FrameworkID,
		ExecutorID:  d.env.ExecutorID,
		Data:        data,
	}))
}

func (d *ExecutorDriver) send(tag actor.Tag, payload []byte) {
	d.mu.Lock()
	started := d.started
	self := d.self
	d.mu.Unlock()
	if !started {
		log.L().Warn("executor driver operation before Start, dropping",
			zap.String("tag", string(tag)))
		return
	}
	d.sys.Send(self, d.env.Slave, tag, payload)
}

// run is the driver actor body.
func (d *ExecutorDriver) run(ctx *actor.Context) {
	ctx.Link(d.env.Slave)
	ctx.Send(d.env.Slave, model.RegisterExecutorTag, model.Encode(&model.RegisterExecutorMessage{
		FrameworkID: d.env.FrameworkID,
		ExecutorID:  d.env.ExecutorID,
	}))

	ctx.Install(model.ExecutorRegisteredTag, func(ctx *actor.Context, msg actor.Message) {
		var req model.ExecutorRegisteredMessage
		if err := model.Decode(msg.Payload, &req); err != nil {
			return
		}
		log.L().Info("executor registered",
			zap.String("executor", req.Args.ExecutorID.String()),
			zap.String("slave", req.Args.SlaveID.String()))
		if d.exec.Init != nil {
			d.exec.Init(d, req.Args)
		}
	})
	ctx.Install(model.RunTaskTag, func(ctx *actor.Context, msg actor.Message) {
		var req model.RunTaskMessage
		if err := model.Decode(msg.Payload, &req); err != nil {
			return
		}
		if d.exec.LaunchTask != nil {
			d.exec.LaunchTask(d, req.Task)
		}
	})
	ctx.Install(model.KillTaskTag, func(ctx *actor.Context, msg actor.Message) {
		var req model.KillTaskMessage
		if err := model.Decode(msg.Payload, &req); err != nil {
			return
		}
		if d.exec.KillTask != nil {
			d.exec.KillTask(d, req.TaskID)
		}
	})
	ctx.Install(model.FrameworkToExecutorTag, func(ctx *actor.Context, msg actor.Message) {
		var req model.FrameworkMessage
		if err := model.Decode(msg.Payload, &req); err != nil {
			return
		}
		if d.exec.FrameworkMessage != nil {
			d.exec.FrameworkMessage(d, req.Data)
		}
	})

	for {
		msg := ctx.Serve(0)
		switch msg.Tag {
		case actor.Terminate:
			return
		case model.KillExecutorTag:
			log.L().Info("executor asked to exit")
			if d.exec.Shutdown != nil {
				d.exec.Shutdown(d)
			}
			return
		case actor.Exited:
			if msg.From == d.env.Slave {
				// The slave died; there is nobody left to talk to.
				log.L().Warn("executor driver lost its slave, exiting")
				if d.exec.Error != nil {
					d.exec.Error(d, 1, "slave exited")
				}
				return
			}
		}
	}
}
