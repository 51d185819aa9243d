package slave

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AHINK/mesos/model"
	"github.com/AHINK/mesos/pkg/actor"
	"github.com/AHINK/mesos/pkg/clock"
	"github.com/AHINK/mesos/pkg/detector"
)

// probe records every message an actor under test sends to it.
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

func (p *probe) expectNone(t *testing.T, tag actor.Tag, wait time.Duration) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case msg := <-p.msgs:
			if msg.Tag == tag {
				t.Fatalf("unexpected %s", tag)
			}
		case <-deadline:
			return
		}
	}
}

type launchRecord struct {
	framework model.FrameworkID
	executor  model.ExecutorID
	dir       string
}

// fakeIsolation records calls instead of forking processes.
type fakeIsolation struct {
	mu       sync.Mutex
	launches []launchRecord
	killed   []model.ExecutorID
}

func (f *fakeIsolation) Initialize(slave actor.Address, conf *Config) {}

func (f *fakeIsolation) LaunchExecutor(fw model.FrameworkID, fwInfo model.FrameworkInfo,
	execInfo model.ExecutorInfo, dir string, slaveID model.SlaveID,
) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches = append(f.launches, launchRecord{framework: fw, executor: execInfo.ID, dir: dir})
	return 0, nil
}

func (f *fakeIsolation) ResourcesChanged(fw model.FrameworkID, execID model.ExecutorID, resources model.Resources) {
}

func (f *fakeIsolation) KillExecutor(fw model.FrameworkID, execID model.ExecutorID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, execID)
}

func (f *fakeIsolation) launchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.launches)
}

func (f *fakeIsolation) lastLaunch() launchRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches[len(f.launches)-1]
}

type slaveHarness struct {
	sys    *actor.System
	clk    *clock.Mock
	addr   actor.Address
	master *probe
	iso    *fakeIsolation
}

func newSlaveHarness(t *testing.T) *slaveHarness {
	t.Helper()
	clk := clock.NewMock()
	sys := actor.NewSystem(actor.WithClock(clk))
	t.Cleanup(sys.Stop)

	masterProbe := newProbe(t, sys, "master")
	iso := &fakeIsolation{}
	cfg := NewConfig()
	cfg.Resources = "cpus:2;mem:1024"
	cfg.WorkDir = t.TempDir()
	s, err := New("slave", cfg, clk, iso, detector.NewStatic(masterProbe.addr))
	require.NoError(t, err)
	addr, err := sys.Spawn(s.Name(), s.Run)
	require.NoError(t, err)

	h := &slaveHarness{sys: sys, clk: clk, addr: addr, master: masterProbe, iso: iso}

	// The slave registers as soon as the detector reports the master.
	regMsg := masterProbe.expect(t, model.RegisterSlaveTag)
	var reg model.RegisterSlaveMessage
	require.NoError(t, model.Decode(regMsg.Payload, &reg))
	require.Equal(t, 2.0, reg.Info.Resources.Get("cpus"))
	h.fromMaster(model.SlaveRegisteredTag, &model.SlaveRegisteredMessage{SlaveID: "s-1"})
	return h
}

func (h *slaveHarness) fromMaster(tag actor.Tag, payload interface{}) {
	h.sys.Send(h.master.addr, h.addr, tag, model.Encode(payload))
}

func (h *slaveHarness) runTask(t *testing.T, taskID model.TaskID, executorID model.ExecutorID) {
	t.Helper()
	resources, err := model.ParseResources("cpus:1;mem:512")
	require.NoError(t, err)
	h.fromMaster(model.RunTaskTag, &model.RunTaskMessage{
		FrameworkID: "fw-1",
		Framework: model.FrameworkInfo{
			Name:     "test",
			User:     "tester",
			Executor: model.ExecutorInfo{ID: executorID, URI: "/bin/true"},
		},
		Pid: "/sched",
		Task: model.TaskDescription{
			ID:        taskID,
			Name:      "task",
			Resources: resources,
		},
	})
}

// registerExecutor spawns an executor probe and registers it.
func (h *slaveHarness) registerExecutor(t *testing.T, name string, executorID model.ExecutorID) *probe {
	t.Helper()
	execProbe := newProbe(t, h.sys, name)
	h.sys.Send(execProbe.addr, h.addr, model.RegisterExecutorTag,
		model.Encode(&model.RegisterExecutorMessage{
			FrameworkID: "fw-1",
			ExecutorID:  executorID,
		}))
	execProbe.expect(t, model.ExecutorRegisteredTag)
	return execProbe
}

func decodeUpdate(t *testing.T, msg actor.Message) model.StatusUpdate {
	t.Helper()
	var m model.StatusUpdateMessage
	require.NoError(t, model.Decode(msg.Payload, &m))
	return m.Update
}

func TestRunTaskLaunchesExecutorAndQueues(t *testing.T) {
	t.Parallel()

	h := newSlaveHarness(t)
	h.runTask(t, "t1", "exec-1")
	h.runTask(t, "t2", "exec-1")

	// One executor launch for both tasks; tasks are queued until it
	// registers.
	require.Eventually(t, func() bool { return h.iso.launchCount() == 1 },
		5*time.Second, 10*time.Millisecond)
	launch := h.iso.lastLaunch()
	require.Equal(t, model.FrameworkID("fw-1"), launch.framework)
	require.Equal(t, model.ExecutorID("exec-1"), launch.executor)
	require.Contains(t, launch.dir, "fw-fw-1-exec-1")

	execProbe := h.registerExecutor(t, "exec1", "exec-1")

	// Both queued tasks flush in order.
	var run model.RunTaskMessage
	require.NoError(t, model.Decode(execProbe.expect(t, model.RunTaskTag).Payload, &run))
	require.Equal(t, model.TaskID("t1"), run.Task.ID)
	require.NoError(t, model.Decode(execProbe.expect(t, model.RunTaskTag).Payload, &run))
	require.Equal(t, model.TaskID("t2"), run.Task.ID)

	// A task arriving after registration is delivered immediately.
	h.runTask(t, "t3", "exec-1")
	require.NoError(t, model.Decode(execProbe.expect(t, model.RunTaskTag).Payload, &run))
	require.Equal(t, model.TaskID("t3"), run.Task.ID)
	require.Equal(t, 1, h.iso.launchCount())
}

func TestStatusUpdateRetryUntilAcked(t *testing.T) {
	t.Parallel()

	h := newSlaveHarness(t)
	h.runTask(t, "t1", "exec-1")
	execProbe := h.registerExecutor(t, "exec1", "exec-1")
	execProbe.expect(t, model.RunTaskTag)

	// The executor reports FINISHED; the slave stamps a uuid and
	// forwards to the master.
	h.sys.Send(execProbe.addr, h.addr, model.StatusUpdateTag,
		model.Encode(&model.StatusUpdateMessage{Update: model.StatusUpdate{
			FrameworkID: "fw-1",
			Status:      model.TaskStatus{TaskID: "t1", State: model.TaskFinished},
		}}))
	first := decodeUpdate(t, h.master.expect(t, model.StatusUpdateTag))
	require.NotEmpty(t, first.UUID)
	require.Equal(t, model.SlaveID("s-1"), first.Status.SlaveID)
	require.Equal(t, model.TaskFinished, first.Status.State)

	// No ack: after the retry interval the same uuid is resent. The
	// second advance guarantees a retry tick lands past the deadline.
	h.clk.Add(statusUpdateRetryInterval + time.Second)
	time.Sleep(50 * time.Millisecond)
	h.clk.Add(2 * time.Second)
	resent := decodeUpdate(t, h.master.expect(t, model.StatusUpdateTag))
	require.Equal(t, first.UUID, resent.UUID)

	// Ack stops the retries.
	h.fromMaster(model.StatusUpdateAckTag, &model.StatusUpdateAckMessage{
		FrameworkID: "fw-1",
		TaskID:      "t1",
		UUID:        first.UUID,
	})
	// Let the ack land before advancing the clock again.
	time.Sleep(50 * time.Millisecond)
	h.clk.Add(statusUpdateRetryInterval + time.Second)
	time.Sleep(50 * time.Millisecond)
	h.clk.Add(2 * time.Second)
	h.master.expectNone(t, model.StatusUpdateTag, 200*time.Millisecond)
}

func TestKillTaskBeforeExecutorRegisters(t *testing.T) {
	t.Parallel()

	h := newSlaveHarness(t)
	h.runTask(t, "t1", "exec-1")

	h.fromMaster(model.KillTaskTag, &model.KillTaskMessage{
		FrameworkID: "fw-1",
		TaskID:      "t1",
	})
	update := decodeUpdate(t, h.master.expect(t, model.StatusUpdateTag))
	require.Equal(t, model.TaskID("t1"), update.Status.TaskID)
	require.Equal(t, model.TaskLost, update.Status.State)

	// When the executor finally registers, the killed task is not
	// delivered.
	execProbe := h.registerExecutor(t, "exec1", "exec-1")
	execProbe.expectNone(t, model.RunTaskTag, 200*time.Millisecond)
}

func TestKillUnknownTaskRejectsWithLost(t *testing.T) {
	t.Parallel()

	h := newSlaveHarness(t)
	h.runTask(t, "t1", "exec-1")

	h.fromMaster(model.KillTaskTag, &model.KillTaskMessage{
		FrameworkID: "fw-1",
		TaskID:      "no-such-task",
	})
	update := decodeUpdate(t, h.master.expect(t, model.StatusUpdateTag))
	require.Equal(t, model.TaskID("no-such-task"), update.Status.TaskID)
	require.Equal(t, model.TaskLost, update.Status.State)
}

func TestKillTaskAfterRegistrationForwardsToExecutor(t *testing.T) {
	t.Parallel()

	h := newSlaveHarness(t)
	h.runTask(t, "t1", "exec-1")
	execProbe := h.registerExecutor(t, "exec1", "exec-1")
	execProbe.expect(t, model.RunTaskTag)

	h.fromMaster(model.KillTaskTag, &model.KillTaskMessage{
		FrameworkID: "fw-1",
		TaskID:      "t1",
	})
	var kill model.KillTaskMessage
	require.NoError(t, model.Decode(execProbe.expect(t, model.KillTaskTag).Payload, &kill))
	require.Equal(t, model.TaskID("t1"), kill.TaskID)

	// Kill idempotence: the terminal update comes from the executor,
	// exactly once.
	h.sys.Send(execProbe.addr, h.addr, model.StatusUpdateTag,
		model.Encode(&model.StatusUpdateMessage{Update: model.StatusUpdate{
			FrameworkID: "fw-1",
			Status:      model.TaskStatus{TaskID: "t1", State: model.TaskKilled},
		}}))
	update := decodeUpdate(t, h.master.expect(t, model.StatusUpdateTag))
	require.Equal(t, model.TaskKilled, update.Status.State)
}

func TestKillFrameworkShutsDownExecutors(t *testing.T) {
	t.Parallel()

	h := newSlaveHarness(t)
	h.runTask(t, "t1", "exec-1")
	execProbe := h.registerExecutor(t, "exec1", "exec-1")
	execProbe.expect(t, model.RunTaskTag)

	h.fromMaster(model.KillFrameworkTag, &model.KillFrameworkMessage{FrameworkID: "fw-1"})
	execProbe.expect(t, model.KillExecutorTag)
	require.Eventually(t, func() bool {
		h.iso.mu.Lock()
		defer h.iso.mu.Unlock()
		return len(h.iso.killed) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// The framework entry is gone: a registration for it tells the
	// executor to exit.
	lateProbe := newProbe(t, h.sys, "late-exec")
	h.sys.Send(lateProbe.addr, h.addr, model.RegisterExecutorTag,
		model.Encode(&model.RegisterExecutorMessage{
			FrameworkID: "fw-1",
			ExecutorID:  "exec-1",
		}))
	lateProbe.expect(t, model.KillExecutorTag)
}

func TestUnexpectedExecutorToldToExit(t *testing.T) {
	t.Parallel()

	h := newSlaveHarness(t)
	strayProbe := newProbe(t, h.sys, "stray-exec")
	h.sys.Send(strayProbe.addr, h.addr, model.RegisterExecutorTag,
		model.Encode(&model.RegisterExecutorMessage{
			FrameworkID: "fw-unknown",
			ExecutorID:  "exec-x",
		}))
	strayProbe.expect(t, model.KillExecutorTag)
}

func TestWorkDirectoriesAreUniquePerRun(t *testing.T) {
	t.Parallel()

	h := newSlaveHarness(t)
	h.runTask(t, "t1", "exec-1")
	require.Eventually(t, func() bool { return h.iso.launchCount() == 1 },
		5*time.Second, 10*time.Millisecond)
	firstDir := h.iso.lastLaunch().dir

	// Kill the framework, then launch the same executor again: the run
	// counter disambiguates the directory.
	h.fromMaster(model.KillFrameworkTag, &model.KillFrameworkMessage{FrameworkID: "fw-1"})
	h.runTask(t, "t2", "exec-1")
	require.Eventually(t, func() bool { return h.iso.launchCount() == 2 },
		5*time.Second, 10*time.Millisecond)
	require.NotEqual(t, firstDir, h.iso.lastLaunch().dir)
}
