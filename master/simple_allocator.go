package master

import (
	"sort"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/AHINK/mesos/model"
	"github.com/AHINK/mesos/pkg/clock"
)

// SimpleAllocator is the reference policy: it walks the registered
// frameworks round-robin and offers each slave's full availability to the
// first active, unfiltered framework. Refuse-seconds filters are honored
// on the system clock so tests can drive them virtually.
type SimpleAllocator struct {
	clk clock.Clock

	frameworks map[model.FrameworkID]*Framework
	order      []model.FrameworkID
	slaves     map[model.SlaveID]*Slave

	// filters[fw][slave] is the instant until which the slave must not be
	// offered to the framework again.
	filters map[model.FrameworkID]map[model.SlaveID]time.Time

	next int
}

var _ Allocator = (*SimpleAllocator)(nil)

// NewSimpleAllocator creates an empty allocator on the given clock.
func NewSimpleAllocator(clk clock.Clock) *SimpleAllocator {
	return &SimpleAllocator{
		clk:        clk,
		frameworks: make(map[model.FrameworkID]*Framework),
		slaves:     make(map[model.SlaveID]*Slave),
		filters:    make(map[model.FrameworkID]map[model.SlaveID]time.Time),
	}
}

func (a *SimpleAllocator) FrameworkAdded(fw *Framework) {
	if _, ok := a.frameworks[fw.ID]; ok {
		return
	}
	a.frameworks[fw.ID] = fw
	a.order = append(a.order, fw.ID)
}

func (a *SimpleAllocator) FrameworkRemoved(fw *Framework) {
	delete(a.frameworks, fw.ID)
	delete(a.filters, fw.ID)
	for i, id := range a.order {
		if id == fw.ID {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

func (a *SimpleAllocator) SlaveAdded(slave *Slave) {
	a.slaves[slave.ID] = slave
}

func (a *SimpleAllocator) SlaveRemoved(slave *Slave) {
	delete(a.slaves, slave.ID)
	for _, m := range a.filters {
		delete(m, slave.ID)
	}
}

func (a *SimpleAllocator) ResourcesRequested(fw model.FrameworkID, resources model.Resources) {
	// The simple policy offers everything it can anyway; an explicit
	// request only clears filters so the framework is reconsidered.
	a.OffersRevived(fw)
}

func (a *SimpleAllocator) ResourcesUnused(fw model.FrameworkID, slave model.SlaveID, resources model.Resources, filters model.Filters) {
	if filters.RefuseSeconds <= 0 {
		return
	}
	m, ok := a.filters[fw]
	if !ok {
		m = make(map[model.SlaveID]time.Time)
		a.filters[fw] = m
	}
	until := a.clk.Now().Add(time.Duration(filters.RefuseSeconds * float64(time.Second)))
	m[slave] = until
	log.L().Debug("filtering slave for framework",
		zap.String("framework", fw.String()),
		zap.String("slave", slave.String()),
		zap.Time("until", until))
}

func (a *SimpleAllocator) ResourcesRecovered(fw model.FrameworkID, slave model.SlaveID, resources model.Resources) {
}

func (a *SimpleAllocator) OffersRevived(fw model.FrameworkID) {
	delete(a.filters, fw)
}

func (a *SimpleAllocator) TimerTick() []Allocation {
	if len(a.order) == 0 {
		return nil
	}
	var out []Allocation
	for _, slave := range a.slavesInOrder() {
		if slave.Available.IsEmpty() {
			continue
		}
		fw := a.pickFramework(slave.ID)
		if fw == nil {
			continue
		}
		out = append(out, Allocation{
			FrameworkID: fw.ID,
			SlaveID:     slave.ID,
			Resources:   slave.Available.Clone(),
		})
	}
	return out
}

// pickFramework advances the round-robin cursor to the next active
// framework not currently filtering the slave.
func (a *SimpleAllocator) pickFramework(slave model.SlaveID) *Framework {
	now := a.clk.Now()
	for i := 0; i < len(a.order); i++ {
		id := a.order[(a.next+i)%len(a.order)]
		fw := a.frameworks[id]
		if fw == nil || !fw.Active {
			continue
		}
		if until, ok := a.filters[id][slave]; ok {
			if now.Before(until) {
				continue
			}
			delete(a.filters[id], slave)
		}
		a.next = (a.next + i + 1) % len(a.order)
		return fw
	}
	return nil
}

// slavesInOrder returns slaves sorted by id so allocation is
// deterministic under map iteration.
func (a *SimpleAllocator) slavesInOrder() []*Slave {
	ids := make([]model.SlaveID, 0, len(a.slaves))
	for id := range a.slaves {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*Slave, 0, len(ids))
	for _, id := range ids {
		out = append(out, a.slaves[id])
	}
	return out
}
