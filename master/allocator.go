package master

import "github.com/AHINK/mesos/model"

// Allocation is one decision of the allocator: offer the given resources
// of the given slave to the given framework.
type Allocation struct {
	FrameworkID model.FrameworkID
	SlaveID     model.SlaveID
	Resources   model.Resources
}

// Allocator is the pluggable offer policy the master consults. Every
// method runs on the master's goroutine, so implementations may read the
// registry records they were handed without synchronization, and must not
// call back into the master.
//
// The master turns the Allocations returned by TimerTick into offer
// batches: it mints offer ids, subtracts the resources from the slave's
// availability and sends one batch per framework.
type Allocator interface {
	FrameworkAdded(fw *Framework)
	FrameworkRemoved(fw *Framework)
	SlaveAdded(slave *Slave)
	SlaveRemoved(slave *Slave)

	// ResourcesRequested records an explicit request from a framework.
	ResourcesRequested(fw model.FrameworkID, resources model.Resources)
	// ResourcesUnused reports the declined remainder of an offer reply,
	// together with the framework's refuse filters.
	ResourcesUnused(fw model.FrameworkID, slave model.SlaveID, resources model.Resources, filters model.Filters)
	// ResourcesRecovered reports resources freed outside an offer reply:
	// terminal tasks, rescinded offers, tasks of an exited executor. The
	// resources of a lost slave are not reported here; SlaveRemoved is.
	ResourcesRecovered(fw model.FrameworkID, slave model.SlaveID, resources model.Resources)
	// OffersRevived clears any filters so the framework is considered
	// again immediately.
	OffersRevived(fw model.FrameworkID)

	// TimerTick is consulted periodically and after registry changes.
	TimerTick() []Allocation
}
