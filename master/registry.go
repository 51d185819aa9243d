package master

import (
	"time"

	"github.com/AHINK/mesos/model"
	"github.com/AHINK/mesos/pkg/actor"
	"github.com/AHINK/mesos/pkg/clock"
)

// Framework is the master-side record of a registered framework. Created
// at registration, destroyed on explicit unregister or when the scheduler
// link fails and the failover timeout elapses.
type Framework struct {
	ID   model.FrameworkID
	Info model.FrameworkInfo
	Addr actor.Address // scheduler driver

	// Active is false while the scheduler is disconnected and the
	// failover timer is pending. failoverGen invalidates stale timers
	// when the scheduler reconnects in time.
	Active      bool
	failoverGen int

	Tasks  map[model.TaskID]*model.Task
	Offers map[model.OfferID]*Offer

	RegisteredAt time.Time
}

func newFramework(id model.FrameworkID, info model.FrameworkInfo, addr actor.Address, now time.Time) *Framework {
	return &Framework{
		ID:           id,
		Info:         info,
		Addr:         addr,
		Active:       true,
		Tasks:        make(map[model.TaskID]*model.Task),
		Offers:       make(map[model.OfferID]*Offer),
		RegisteredAt: now,
	}
}

// Slave is the master-side record of a worker node. Destroyed on link
// failure.
type Slave struct {
	ID   model.SlaveID
	Info model.SlaveInfo
	Addr actor.Address

	Total model.Resources
	// Available = Total - running tasks - launched executors -
	// outstanding offers. Kept explicitly and audited by tests.
	Available model.Resources

	Tasks     map[model.TaskID]*model.Task
	Executors map[string]model.Resources // key executorKey(fw, exec)
	Offers    map[model.OfferID]*Offer

	RegisteredAt time.Time
}

func newSlave(id model.SlaveID, info model.SlaveInfo, addr actor.Address, now time.Time) *Slave {
	return &Slave{
		ID:           id,
		Info:         info,
		Addr:         addr,
		Total:        info.Resources.Clone(),
		Available:    info.Resources.Clone(),
		Tasks:        make(map[model.TaskID]*model.Task),
		Executors:    make(map[string]model.Resources),
		Offers:       make(map[model.OfferID]*Offer),
		RegisteredAt: now,
	}
}

func executorKey(fw model.FrameworkID, exec model.ExecutorID) string {
	return string(fw) + "/" + string(exec)
}

// Offer is the master-side record of an outstanding offer. Exactly one
// framework holds it; it dies on reply, rescind or slave loss, whichever
// comes first.
type Offer struct {
	ID          model.OfferID
	FrameworkID model.FrameworkID
	SlaveID     model.SlaveID
	Resources   model.Resources
	CreatedAt   clock.MonotonicTime
}

func (o *Offer) toModel(hostname string) model.Offer {
	return model.Offer{
		ID:          o.ID,
		FrameworkID: o.FrameworkID,
		SlaveID:     o.SlaveID,
		Hostname:    hostname,
		Resources:   o.Resources.Clone(),
	}
}
