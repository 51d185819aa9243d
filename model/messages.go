package model

import (
	"encoding/json"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/AHINK/mesos/pkg/actor"
)

// Tags of every protocol message. The direction comments follow the
// original wire protocol: F = framework scheduler, M = master, S = slave,
// E = executor.
const (
	// F -> M
	RegisterFrameworkTag   = actor.Tag("REGISTER_FRAMEWORK")
	ReregisterFrameworkTag = actor.Tag("REREGISTER_FRAMEWORK")
	UnregisterFrameworkTag = actor.Tag("UNREGISTER_FRAMEWORK")
	ReplyToOfferTag        = actor.Tag("REPLY_TO_OFFER")
	ReviveOffersTag        = actor.Tag("REVIVE_OFFERS")
	ResourceRequestTag     = actor.Tag("RESOURCE_REQUEST")
	KillTaskTag            = actor.Tag("KILL_TASK")

	// M -> F
	FrameworkRegisteredTag   = actor.Tag("FRAMEWORK_REGISTERED")
	FrameworkReregisteredTag = actor.Tag("FRAMEWORK_REREGISTERED")
	ResourceOffersTag        = actor.Tag("RESOURCE_OFFERS")
	RescindOfferTag          = actor.Tag("RESCIND_OFFER")
	SlaveLostTag             = actor.Tag("SLAVE_LOST")
	FrameworkErrorTag        = actor.Tag("FRAMEWORK_ERROR")

	// S -> M
	RegisterSlaveTag   = actor.Tag("REGISTER_SLAVE")
	ReregisterSlaveTag = actor.Tag("REREGISTER_SLAVE")
	ExitedExecutorTag  = actor.Tag("EXITED_EXECUTOR")

	// M -> S
	SlaveRegisteredTag   = actor.Tag("SLAVE_REGISTERED")
	SlaveReregisteredTag = actor.Tag("SLAVE_REREGISTERED")
	RunTaskTag           = actor.Tag("RUN_TASK")
	KillFrameworkTag     = actor.Tag("KILL_FRAMEWORK")
	UpdateFrameworkTag   = actor.Tag("UPDATE_FRAMEWORK")
	StatusUpdateAckTag   = actor.Tag("STATUS_UPDATE_ACK")

	// S -> M -> F and E -> S -> M
	StatusUpdateTag = actor.Tag("STATUS_UPDATE")

	// E -> S
	RegisterExecutorTag = actor.Tag("REGISTER_EXECUTOR")

	// S -> E
	ExecutorRegisteredTag = actor.Tag("EXECUTOR_REGISTERED")
	KillExecutorTag       = actor.Tag("KILL_EXECUTOR")

	// opaque framework<->executor data, forwarded best-effort in both
	// directions via master and slave
	FrameworkToExecutorTag = actor.Tag("FRAMEWORK_TO_EXECUTOR")
	ExecutorToFrameworkTag = actor.Tag("EXECUTOR_TO_FRAMEWORK")

	// liveness
	PingTag = actor.Tag("PING")
	PongTag = actor.Tag("PONG")
)

type RegisterFrameworkMessage struct {
	Info FrameworkInfo `json:"info"`
}

type ReregisterFrameworkMessage struct {
	FrameworkID FrameworkID   `json:"framework_id"`
	Info        FrameworkInfo `json:"info"`
}

type UnregisterFrameworkMessage struct {
	FrameworkID FrameworkID `json:"framework_id"`
}

type FrameworkRegisteredMessage struct {
	FrameworkID FrameworkID `json:"framework_id"`
}

type ReplyToOfferMessage struct {
	FrameworkID FrameworkID       `json:"framework_id"`
	OfferID     OfferID           `json:"offer_id"`
	Tasks       []TaskDescription `json:"tasks,omitempty"`
	Filters     Filters           `json:"filters"`
}

type ReviveOffersMessage struct {
	FrameworkID FrameworkID `json:"framework_id"`
}

type ResourceRequestMessage struct {
	FrameworkID FrameworkID `json:"framework_id"`
	Resources   Resources   `json:"resources"`
}

type KillTaskMessage struct {
	FrameworkID FrameworkID `json:"framework_id"`
	TaskID      TaskID      `json:"task_id"`
}

type ResourceOffersMessage struct {
	Offers []Offer `json:"offers"`
}

type RescindOfferMessage struct {
	OfferID OfferID `json:"offer_id"`
}

type SlaveLostMessage struct {
	SlaveID SlaveID `json:"slave_id"`
}

type FrameworkErrorMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type RegisterSlaveMessage struct {
	Info SlaveInfo `json:"info"`
}

type ReregisterSlaveMessage struct {
	SlaveID SlaveID   `json:"slave_id"`
	Info    SlaveInfo `json:"info"`
	Tasks   []Task    `json:"tasks,omitempty"`
}

type SlaveRegisteredMessage struct {
	SlaveID SlaveID `json:"slave_id"`
}

type RunTaskMessage struct {
	FrameworkID FrameworkID     `json:"framework_id"`
	Framework   FrameworkInfo   `json:"framework"`
	Pid         string          `json:"pid"` // scheduler address
	Task        TaskDescription `json:"task"`
}

type KillFrameworkMessage struct {
	FrameworkID FrameworkID `json:"framework_id"`
}

type UpdateFrameworkMessage struct {
	FrameworkID FrameworkID `json:"framework_id"`
	Pid         string      `json:"pid"`
}

type StatusUpdateMessage struct {
	Update StatusUpdate `json:"update"`
}

type StatusUpdateAckMessage struct {
	FrameworkID FrameworkID `json:"framework_id"`
	TaskID      TaskID      `json:"task_id"`
	UUID        string      `json:"uuid"`
}

type ExitedExecutorMessage struct {
	SlaveID     SlaveID     `json:"slave_id"`
	FrameworkID FrameworkID `json:"framework_id"`
	ExecutorID  ExecutorID  `json:"executor_id"`
	Result      int         `json:"result"`
}

type RegisterExecutorMessage struct {
	FrameworkID FrameworkID `json:"framework_id"`
	ExecutorID  ExecutorID  `json:"executor_id"`
}

type ExecutorRegisteredMessage struct {
	Args ExecutorArgs `json:"args"`
}

type FrameworkMessage struct {
	SlaveID     SlaveID     `json:"slave_id"`
	FrameworkID FrameworkID `json:"framework_id"`
	ExecutorID  ExecutorID  `json:"executor_id"`
	Data        []byte      `json:"data,omitempty"`
}

// Encode serializes a message payload. Payload structs contain nothing
// json.Marshal can reject, so a failure here is a programming error.
func Encode(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.L().Panic("encoding message payload failed", zap.Error(err))
	}
	return data
}

// Decode deserializes a message payload into v.
func Decode(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Trace(err)
	}
	return nil
}
