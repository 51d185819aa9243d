package master

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AHINK/mesos/model"
	"github.com/AHINK/mesos/pkg/actor"
	"github.com/AHINK/mesos/pkg/clock"
)

func actorAddr(name string) actor.Address {
	return actor.Address{Name: name}
}

func testFramework(id model.FrameworkID) *Framework {
	return newFramework(id, model.FrameworkInfo{Name: string(id)}, actorAddr(string(id)), time.Unix(0, 0))
}

func testSlave(t *testing.T, id model.SlaveID, resources string) *Slave {
	t.Helper()
	parsed, err := model.ParseResources(resources)
	require.NoError(t, err)
	return newSlave(id, model.SlaveInfo{Hostname: string(id), Resources: parsed},
		actorAddr(string(id)), time.Unix(0, 0))
}

func TestSimpleAllocatorRoundRobin(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	a := NewSimpleAllocator(clk)

	fw1 := testFramework("fw-1")
	fw2 := testFramework("fw-2")
	a.FrameworkAdded(fw1)
	a.FrameworkAdded(fw2)
	a.SlaveAdded(testSlave(t, "s-1", "cpus:1;mem:64"))

	first := a.TimerTick()
	require.Len(t, first, 1)
	second := a.TimerTick()
	require.Len(t, second, 1)
	require.NotEqual(t, first[0].FrameworkID, second[0].FrameworkID)
}

func TestSimpleAllocatorSkipsInactiveAndEmpty(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	a := NewSimpleAllocator(clk)

	fw := testFramework("fw-1")
	fw.Active = false
	a.FrameworkAdded(fw)
	a.SlaveAdded(testSlave(t, "s-1", "cpus:1;mem:64"))
	require.Empty(t, a.TimerTick())

	fw.Active = true
	require.Len(t, a.TimerTick(), 1)

	// A slave with nothing available is not offered.
	drained := testSlave(t, "s-2", "cpus:1;mem:64")
	drained.Available = model.Resources{}
	a2 := NewSimpleAllocator(clk)
	a2.FrameworkAdded(testFramework("fw-2"))
	a2.SlaveAdded(drained)
	require.Empty(t, a2.TimerTick())
}

func TestSimpleAllocatorRefuseFilters(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	a := NewSimpleAllocator(clk)

	fw := testFramework("fw-1")
	a.FrameworkAdded(fw)
	slave := testSlave(t, "s-1", "cpus:1;mem:64")
	a.SlaveAdded(slave)

	a.ResourcesUnused(fw.ID, slave.ID, slave.Available.Clone(), model.Filters{RefuseSeconds: 5})
	require.Empty(t, a.TimerTick())

	clk.Add(4 * time.Second)
	require.Empty(t, a.TimerTick())

	// After the refusal window the framework is considered again.
	clk.Add(2 * time.Second)
	require.Len(t, a.TimerTick(), 1)
}

func TestSimpleAllocatorRevive(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	a := NewSimpleAllocator(clk)

	fw := testFramework("fw-1")
	a.FrameworkAdded(fw)
	slave := testSlave(t, "s-1", "cpus:1;mem:64")
	a.SlaveAdded(slave)

	a.ResourcesUnused(fw.ID, slave.ID, slave.Available.Clone(), model.Filters{RefuseSeconds: 60})
	require.Empty(t, a.TimerTick())

	a.OffersRevived(fw.ID)
	require.Len(t, a.TimerTick(), 1)
}

func TestSimpleAllocatorRemovals(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	a := NewSimpleAllocator(clk)

	fw := testFramework("fw-1")
	a.FrameworkAdded(fw)
	slave := testSlave(t, "s-1", "cpus:1;mem:64")
	a.SlaveAdded(slave)
	require.Len(t, a.TimerTick(), 1)

	a.FrameworkRemoved(fw)
	require.Empty(t, a.TimerTick())

	a.FrameworkAdded(fw)
	a.SlaveRemoved(slave)
	require.Empty(t, a.TimerTick())
}
