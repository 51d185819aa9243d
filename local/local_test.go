package local

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AHINK/mesos/client"
	"github.com/AHINK/mesos/model"
	"github.com/AHINK/mesos/pkg/actor"
	"github.com/AHINK/mesos/pkg/clock"
	"github.com/AHINK/mesos/pkg/detector"
	"github.com/AHINK/mesos/slave"
)

// execIsolation launches in-process executor drivers instead of forking,
// so the whole task lifecycle runs inside one actor system.
type execIsolation struct {
	sys *actor.System

	mu        sync.Mutex
	slaveAddr actor.Address
	drivers   map[string]*client.ExecutorDriver
	// onLaunch is the executor behavior for LaunchTask; the default
	// reports RUNNING immediately.
	onLaunch func(d *client.ExecutorDriver, task model.TaskDescription)
}

func newExecIsolation(sys *actor.System) *execIsolation {
	e := &execIsolation{
		sys:     sys,
		drivers: make(map[string]*client.ExecutorDriver),
	}
	e.onLaunch = func(d *client.ExecutorDriver, task model.TaskDescription) {
		d.SendStatusUpdate(model.TaskStatus{TaskID: task.ID, State: model.TaskRunning})
	}
	return e
}

func (e *execIsolation) Initialize(slaveAddr actor.Address, conf *slave.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.slaveAddr = slaveAddr
}

func (e *execIsolation) LaunchExecutor(fw model.FrameworkID, fwInfo model.FrameworkInfo,
	execInfo model.ExecutorInfo, dir string, slaveID model.SlaveID,
) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := client.NewExecutorDriver(e.sys, &client.Executor{
		LaunchTask: func(d *client.ExecutorDriver, task model.TaskDescription) {
			e.onLaunch(d, task)
		},
		KillTask: func(d *client.ExecutorDriver, id model.TaskID) {
			d.SendStatusUpdate(model.TaskStatus{TaskID: id, State: model.TaskKilled})
		},
	}, client.ExecutorEnv{
		Slave:       e.slaveAddr,
		FrameworkID: fw,
		ExecutorID:  execInfo.ID,
		Directory:   dir,
	})
	if err := d.Start(); err != nil {
		return 0, err
	}
	e.drivers[string(fw)+"/"+string(execInfo.ID)] = d
	return 0, nil
}

func (e *execIsolation) ResourcesChanged(fw model.FrameworkID, execID model.ExecutorID, resources model.Resources) {
}

func (e *execIsolation) KillExecutor(fw model.FrameworkID, execID model.ExecutorID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d, ok := e.drivers[string(fw)+"/"+string(execID)]; ok {
		d.Stop()
		delete(e.drivers, string(fw)+"/"+string(execID))
	}
}

func (e *execIsolation) driver(fw model.FrameworkID, execID model.ExecutorID) *client.ExecutorDriver {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drivers[string(fw)+"/"+string(execID)]
}

// schedEvents collects scheduler callbacks for assertions.
type schedEvents struct {
	registered chan model.FrameworkID
	offers     chan []model.Offer
	updates    chan model.TaskStatus
	slaveLost  chan model.SlaveID
}

func newSchedEvents() *schedEvents {
	return &schedEvents{
		registered: make(chan model.FrameworkID, 4),
		offers:     make(chan []model.Offer, 16),
		updates:    make(chan model.TaskStatus, 16),
		slaveLost:  make(chan model.SlaveID, 4),
	}
}

func (ev *schedEvents) scheduler() *client.Scheduler {
	return &client.Scheduler{
		Registered: func(d *client.SchedulerDriver, id model.FrameworkID) {
			ev.registered <- id
		},
		ResourceOffers: func(d *client.SchedulerDriver, offers []model.Offer) {
			ev.offers <- offers
		},
		StatusUpdate: func(d *client.SchedulerDriver, status model.TaskStatus) {
			ev.updates <- status
		},
		SlaveLost: func(d *client.SchedulerDriver, id model.SlaveID) {
			ev.slaveLost <- id
		},
	}
}

type e2e struct {
	sys     *actor.System
	clk     *clock.Mock
	cluster *Cluster
	iso     *execIsolation
	events  *schedEvents
	driver  *client.SchedulerDriver
}

func newE2E(t *testing.T, slaveResources string) *e2e {
	t.Helper()
	clk := clock.NewMock()
	sys := actor.NewSystem(actor.WithClock(clk))
	t.Cleanup(sys.Stop)

	iso := newExecIsolation(sys)
	cluster, err := NewCluster(sys, Options{
		NumSlaves:      1,
		SlaveResources: slaveResources,
		Isolation:      func(i int) slave.IsolationModule { return iso },
	})
	require.NoError(t, err)
	t.Cleanup(cluster.Stop)

	events := newSchedEvents()
	driver := client.NewSchedulerDriverWithDetector(sys, events.scheduler(),
		model.FrameworkInfo{
			Name:     "e2e",
			User:     "tester",
			Executor: model.ExecutorInfo{ID: "exec", URI: "/bin/true"},
		},
		detector.NewStatic(cluster.MasterAddr))
	require.NoError(t, driver.Start())
	t.Cleanup(func() {
		driver.Stop()
		driver.Join()
	})

	return &e2e{sys: sys, clk: clk, cluster: cluster, iso: iso, events: events, driver: driver}
}

// tick advances the virtual clock by whole seconds, giving actors real
// time to re-arm their timers between steps.
func (h *e2e) tick(seconds int) {
	for i := 0; i < seconds; i++ {
		h.clk.Add(time.Second)
		time.Sleep(20 * time.Millisecond)
	}
}

func expectOffers(t *testing.T, h *e2e) []model.Offer {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case offers := <-h.events.offers:
			return offers
		case <-deadline:
			t.Fatal("timed out waiting for offers")
		case <-time.After(50 * time.Millisecond):
			// Keep the allocator ticking on the virtual clock.
			h.clk.Add(time.Second)
		}
	}
}

func expectUpdate(t *testing.T, h *e2e, taskID model.TaskID, state model.TaskState) model.TaskStatus {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case status := <-h.events.updates:
			if status.TaskID == taskID && status.State == state {
				return status
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s to reach %s", taskID, state)
		}
	}
}

func expectRegistered(t *testing.T, h *e2e) model.FrameworkID {
	t.Helper()
	select {
	case id := <-h.events.registered:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("framework never registered")
		return ""
	}
}

// Happy path: a slave's full bundle is offered, one task launches, the
// remainder comes back as a follow-up offer.
func TestHappyPath(t *testing.T) {
	t.Parallel()

	h := newE2E(t, "cpus:2;mem:1024")
	expectRegistered(t, h)

	offers := expectOffers(t, h)
	require.Len(t, offers, 1)
	require.Equal(t, 2.0, offers[0].Resources.Get("cpus"))
	require.Equal(t, 1024.0, offers[0].Resources.Get("mem"))

	taskRes, err := model.ParseResources("cpus:1;mem:512")
	require.NoError(t, err)
	h.driver.ReplyToOffer(offers[0].ID, []model.TaskDescription{
		{ID: "t1", Name: "task one", Resources: taskRes},
	}, model.Filters{})

	expectUpdate(t, h, "t1", model.TaskRunning)

	// Offer conservation: the unused half is offered next.
	next := expectOffers(t, h)
	require.Len(t, next, 1)
	require.Equal(t, 1.0, next[0].Resources.Get("cpus"))
	require.Equal(t, 512.0, next[0].Resources.Get("mem"))
}

// Declined offer: availability is restored, and the refuse filter holds
// the allocator off for five virtual seconds.
func TestDeclinedOfferRespectsFilter(t *testing.T) {
	t.Parallel()

	h := newE2E(t, "cpus:2;mem:1024")
	expectRegistered(t, h)
	offers := expectOffers(t, h)

	h.driver.ReplyToOffer(offers[0].ID, nil, model.Filters{RefuseSeconds: 5})
	time.Sleep(100 * time.Millisecond) // let the decline land

	// No offer within the refusal window.
	h.tick(4)
	select {
	case o := <-h.events.offers:
		t.Fatalf("offer arrived during the refusal window: %v", o)
	case <-time.After(200 * time.Millisecond):
	}

	// Past the window the full bundle is offered again.
	h.tick(2)
	restored := expectOffers(t, h)
	require.Equal(t, 2.0, restored[0].Resources.Get("cpus"))
	require.Equal(t, 1024.0, restored[0].Resources.Get("mem"))
}

// Slave lost mid-task: the framework hears slave_lost and the task goes
// to LOST.
func TestSlaveLostMidTask(t *testing.T) {
	t.Parallel()

	h := newE2E(t, "cpus:2;mem:1024")
	expectRegistered(t, h)
	offers := expectOffers(t, h)

	taskRes, err := model.ParseResources("cpus:1;mem:512")
	require.NoError(t, err)
	h.driver.ReplyToOffer(offers[0].ID, []model.TaskDescription{
		{ID: "t1", Resources: taskRes},
	}, model.Filters{})
	expectUpdate(t, h, "t1", model.TaskRunning)

	// Kill the slave's actor; the master observes link death.
	h.sys.Terminate(h.cluster.SlaveAddr(0))

	expectUpdate(t, h, "t1", model.TaskLost)
	select {
	case id := <-h.events.slaveLost:
		require.Equal(t, offers[0].SlaveID, id)
	case <-time.After(5 * time.Second):
		t.Fatal("no slave_lost callback")
	}
}

// Framework re-registration within the failover window preserves its
// state and its running task.
func TestFrameworkReregistration(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	sys := actor.NewSystem(actor.WithClock(clk))
	t.Cleanup(sys.Stop)

	iso := newExecIsolation(sys)
	cluster, err := NewCluster(sys, Options{
		NumSlaves:      1,
		SlaveResources: "cpus:2;mem:1024",
		Isolation:      func(i int) slave.IsolationModule { return iso },
	})
	require.NoError(t, err)
	t.Cleanup(cluster.Stop)

	// A hand-rolled scheduler actor gives the test full control over
	// (re)registration.
	sched1 := spawnCollector(t, sys, "sched1")
	sys.Send(sched1.addr, cluster.MasterAddr, model.RegisterFrameworkTag,
		model.Encode(&model.RegisterFrameworkMessage{Info: model.FrameworkInfo{
			Name:     "reregister-test",
			User:     "tester",
			Executor: model.ExecutorInfo{ID: "exec", URI: "/bin/true"},
		}}))
	var reg model.FrameworkRegisteredMessage
	require.NoError(t, model.Decode(sched1.expect(t, model.FrameworkRegisteredTag).Payload, &reg))
	fwID := reg.FrameworkID

	var offers model.ResourceOffersMessage
	require.NoError(t, model.Decode(sched1.expect(t, model.ResourceOffersTag).Payload, &offers))
	taskRes, err := model.ParseResources("cpus:1;mem:512")
	require.NoError(t, err)
	sys.Send(sched1.addr, cluster.MasterAddr, model.ReplyToOfferTag,
		model.Encode(&model.ReplyToOfferMessage{
			FrameworkID: fwID,
			OfferID:     offers.Offers[0].ID,
			Tasks:       []model.TaskDescription{{ID: "t1", Resources: taskRes}},
		}))
	var update model.StatusUpdateMessage
	require.NoError(t, model.Decode(sched1.expect(t, model.StatusUpdateTag).Payload, &update))
	require.Equal(t, model.TaskRunning, update.Update.Status.State)

	// The scheduler dies and a new incarnation reconnects in time.
	sys.Terminate(sched1.addr)
	time.Sleep(100 * time.Millisecond)
	sched2 := spawnCollector(t, sys, "sched2")
	sys.Send(sched2.addr, cluster.MasterAddr, model.ReregisterFrameworkTag,
		model.Encode(&model.ReregisterFrameworkMessage{
			FrameworkID: fwID,
			Info: model.FrameworkInfo{
				Name:     "reregister-test",
				User:     "tester",
				Executor: model.ExecutorInfo{ID: "exec", URI: "/bin/true"},
			},
		}))
	sched2.expect(t, model.FrameworkReregisteredTag)

	// T1 is still attributed to the framework: its terminal update
	// reaches the new scheduler.
	d := iso.driver(fwID, "exec")
	require.NotNil(t, d)
	d.SendStatusUpdate(model.TaskStatus{TaskID: "t1", State: model.TaskFinished})
	require.NoError(t, model.Decode(sched2.expect(t, model.StatusUpdateTag).Payload, &update))
	require.Equal(t, model.TaskID("t1"), update.Update.Status.TaskID)
	require.Equal(t, model.TaskFinished, update.Update.Status.State)

	// Offers resume for the new incarnation.
	clk.Add(time.Second)
	sched2.expect(t, model.ResourceOffersTag)
}

// Offer overcommit: the oversized task is rejected with LOST, the valid
// task in the same reply proceeds.
func TestOvercommittedTaskRejected(t *testing.T) {
	t.Parallel()

	h := newE2E(t, "cpus:1;mem:1024")
	expectRegistered(t, h)
	offers := expectOffers(t, h)
	require.Equal(t, 1.0, offers[0].Resources.Get("cpus"))

	tooBig, err := model.ParseResources("cpus:2;mem:64")
	require.NoError(t, err)
	fine, err := model.ParseResources("cpus:0.5;mem:64")
	require.NoError(t, err)
	h.driver.ReplyToOffer(offers[0].ID, []model.TaskDescription{
		{ID: "big", Resources: tooBig},
		{ID: "ok", Resources: fine},
	}, model.Filters{})

	lost := expectUpdate(t, h, "big", model.TaskLost)
	require.NotEmpty(t, lost.Message)
	expectUpdate(t, h, "ok", model.TaskRunning)
}

// collector is a bare actor that forwards everything to a channel.
type collector struct {
	addr actor.Address
	msgs chan actor.Message
}

func spawnCollector(t *testing.T, sys *actor.System, name string) *collector {
	t.Helper()
	c := &collector{msgs: make(chan actor.Message, 64)}
	addr, err := sys.Spawn(name, func(ctx *actor.Context) {
		for {
			msg := ctx.Receive(0)
			if msg.Tag == actor.Terminate {
				return
			}
			c.msgs <- msg
		}
	})
	require.NoError(t, err)
	c.addr = addr
	return c
}

func (c *collector) expect(t *testing.T, tag actor.Tag) actor.Message {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-c.msgs:
			if msg.Tag == tag {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", tag)
		}
	}
}

func TestParseURL(t *testing.T) {
	t.Parallel()

	n, ok := ParseURL("local")
	require.True(t, ok)
	require.Equal(t, 1, n)

	n, ok = ParseURL("local/4")
	require.True(t, ok)
	require.Equal(t, 4, n)

	_, ok = ParseURL("local/0")
	require.False(t, ok)
	_, ok = ParseURL("10.0.0.1:5050")
	require.False(t, ok)
}
