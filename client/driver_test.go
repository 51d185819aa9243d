package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AHINK/mesos/model"
	"github.com/AHINK/mesos/pkg/actor"
	"github.com/AHINK/mesos/pkg/clock"
	"github.com/AHINK/mesos/pkg/detector"
)

type probe struct {
	addr actor.Address
	msgs chan actor.Message
}

func newProbe(t *testing.T, sys *actor.System, name string) *probe {
	t.Helper()
	p := &probe{msgs: make(chan actor.Message, 64)}
	addr, err := sys.Spawn(name, func(ctx *actor.Context) {
		for {
			msg := ctx.Receive(0)
			if msg.Tag == actor.Terminate {
				return
			}
			p.msgs <- msg
		}
	})
	require.NoError(t, err)
	p.addr = addr
	return p
}

func (p *probe) expect(t *testing.T, tag actor.Tag) actor.Message {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-p.msgs:
			if msg.Tag == tag {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", tag)
		}
	}
}

func testFrameworkInfo() model.FrameworkInfo {
	return model.FrameworkInfo{
		Name:     "driver-test",
		User:     "tester",
		Executor: model.ExecutorInfo{ID: "exec", URI: "/bin/true"},
	}
}

func TestSchedulerDriverRegistersAndBuffersOps(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	sys := actor.NewSystem(actor.WithClock(clk))
	t.Cleanup(sys.Stop)
	masterProbe := newProbe(t, sys, "master")

	registered := make(chan model.FrameworkID, 1)
	sched := &Scheduler{
		Registered: func(d *SchedulerDriver, id model.FrameworkID) {
			registered <- id
		},
	}
	d := NewSchedulerDriverWithDetector(sys, sched, testFrameworkInfo(),
		detector.NewStatic(masterProbe.addr))
	require.NoError(t, d.Start())
	defer func() {
		d.Stop()
		d.Join()
	}()

	// The driver registers with the detected master.
	regMsg := masterProbe.expect(t, model.RegisterFrameworkTag)
	var reg model.RegisterFrameworkMessage
	require.NoError(t, model.Decode(regMsg.Payload, &reg))
	require.Equal(t, "driver-test", reg.Info.Name)

	// Operations issued before registration are buffered...
	d.KillTask("t1")
	select {
	case msg := <-masterProbe.msgs:
		t.Fatalf("operation leaked before registration: %s", msg.Tag)
	case <-time.After(100 * time.Millisecond):
	}

	// ...and flushed, stamped with the framework id, on Registered.
	sys.Send(masterProbe.addr, regMsg.From, model.FrameworkRegisteredTag,
		model.Encode(&model.FrameworkRegisteredMessage{FrameworkID: "fw-7"}))
	require.Equal(t, model.FrameworkID("fw-7"), <-registered)

	killMsg := masterProbe.expect(t, model.KillTaskTag)
	var kill model.KillTaskMessage
	require.NoError(t, model.Decode(killMsg.Payload, &kill))
	require.Equal(t, model.FrameworkID("fw-7"), kill.FrameworkID)
	require.Equal(t, model.TaskID("t1"), kill.TaskID)

	// Post-registration operations flow straight through.
	d.ReviveOffers()
	reviveMsg := masterProbe.expect(t, model.ReviveOffersTag)
	var revive model.ReviveOffersMessage
	require.NoError(t, model.Decode(reviveMsg.Payload, &revive))
	require.Equal(t, model.FrameworkID("fw-7"), revive.FrameworkID)
}

func TestSchedulerDriverCallbacks(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	sys := actor.NewSystem(actor.WithClock(clk))
	t.Cleanup(sys.Stop)
	masterProbe := newProbe(t, sys, "master")

	offers := make(chan []model.Offer, 1)
	updates := make(chan model.TaskStatus, 1)
	lost := make(chan model.SlaveID, 1)
	sched := &Scheduler{
		ResourceOffers: func(d *SchedulerDriver, o []model.Offer) { offers <- o },
		StatusUpdate:   func(d *SchedulerDriver, s model.TaskStatus) { updates <- s },
		SlaveLost:      func(d *SchedulerDriver, id model.SlaveID) { lost <- id },
	}
	d := NewSchedulerDriverWithDetector(sys, sched, testFrameworkInfo(),
		detector.NewStatic(masterProbe.addr))
	require.NoError(t, d.Start())
	defer func() {
		d.Stop()
		d.Join()
	}()

	regMsg := masterProbe.expect(t, model.RegisterFrameworkTag)
	driverAddr := regMsg.From
	sys.Send(masterProbe.addr, driverAddr, model.FrameworkRegisteredTag,
		model.Encode(&model.FrameworkRegisteredMessage{FrameworkID: "fw-1"}))

	resources, err := model.ParseResources("cpus:1;mem:64")
	require.NoError(t, err)
	sys.Send(masterProbe.addr, driverAddr, model.ResourceOffersTag,
		model.Encode(&model.ResourceOffersMessage{Offers: []model.Offer{{
			ID: "o1", FrameworkID: "fw-1", SlaveID: "s1", Resources: resources,
		}}}))
	got := <-offers
	require.Len(t, got, 1)
	require.Equal(t, model.OfferID("o1"), got[0].ID)

	sys.Send(masterProbe.addr, driverAddr, model.StatusUpdateTag,
		model.Encode(&model.StatusUpdateMessage{Update: model.StatusUpdate{
			FrameworkID: "fw-1",
			Status:      model.TaskStatus{TaskID: "t1", State: model.TaskRunning},
			UUID:        "u1",
		}}))
	require.Equal(t, model.TaskRunning, (<-updates).State)

	sys.Send(masterProbe.addr, driverAddr, model.SlaveLostTag,
		model.Encode(&model.SlaveLostMessage{SlaveID: "s1"}))
	require.Equal(t, model.SlaveID("s1"), <-lost)
}

func TestExecutorDriverLifecycle(t *testing.T) {
	t.Parallel()

	sys := actor.NewSystem()
	t.Cleanup(sys.Stop)
	slaveProbe := newProbe(t, sys, "slave")

	inits := make(chan model.ExecutorArgs, 1)
	launches := make(chan model.TaskDescription, 1)
	kills := make(chan model.TaskID, 1)
	shutdowns := make(chan struct{}, 1)
	exec := &Executor{
		Init:       func(d *ExecutorDriver, args model.ExecutorArgs) { inits <- args },
		LaunchTask: func(d *ExecutorDriver, task model.TaskDescription) { launches <- task },
		KillTask:   func(d *ExecutorDriver, id model.TaskID) { kills <- id },
		Shutdown:   func(d *ExecutorDriver) { shutdowns <- struct{}{} },
	}
	d := NewExecutorDriver(sys, exec, ExecutorEnv{
		Slave:       slaveProbe.addr,
		FrameworkID: "fw-1",
		ExecutorID:  "exec-1",
	})
	require.NoError(t, d.Start())
	defer d.Join()

	// The driver registers with its slave.
	regMsg := slaveProbe.expect(t, model.RegisterExecutorTag)
	var reg model.RegisterExecutorMessage
	require.NoError(t, model.Decode(regMsg.Payload, &reg))
	require.Equal(t, model.ExecutorID("exec-1"), reg.ExecutorID)
	driverAddr := regMsg.From

	sys.Send(slaveProbe.addr, driverAddr, model.ExecutorRegisteredTag,
		model.Encode(&model.ExecutorRegisteredMessage{Args: model.ExecutorArgs{
			FrameworkID: "fw-1", ExecutorID: "exec-1", SlaveID: "s-1",
		}}))
	require.Equal(t, model.SlaveID("s-1"), (<-inits).SlaveID)

	resources, err := model.ParseResources("cpus:1;mem:64")
	require.NoError(t, err)
	sys.Send(slaveProbe.addr, driverAddr, model.RunTaskTag,
		model.Encode(&model.RunTaskMessage{
			FrameworkID: "fw-1",
			Task:        model.TaskDescription{ID: "t1", Resources: resources},
		}))
	require.Equal(t, model.TaskID("t1"), (<-launches).ID)

	// Status updates flow back to the slave.
	d.SendStatusUpdate(model.TaskStatus{TaskID: "t1", State: model.TaskRunning})
	updateMsg := slaveProbe.expect(t, model.StatusUpdateTag)
	var update model.StatusUpdateMessage
	require.NoError(t, model.Decode(updateMsg.Payload, &update))
	require.Equal(t, model.FrameworkID("fw-1"), update.Update.FrameworkID)
	require.Equal(t, model.TaskRunning, update.Update.Status.State)

	sys.Send(slaveProbe.addr, driverAddr, model.KillTaskTag,
		model.Encode(&model.KillTaskMessage{FrameworkID: "fw-1", TaskID: "t1"}))
	require.Equal(t, model.TaskID("t1"), <-kills)

	// KillExecutor shuts the driver down.
	sys.Send(slaveProbe.addr, driverAddr, model.KillExecutorTag, nil)
	select {
	case <-shutdowns:
	case <-time.After(5 * time.Second):
		t.Fatal("no shutdown callback")
	}
	d.Join()
}
