package model

// ExecutorInfo describes an executor a framework wants launched on slaves.
// URI points at the executor binary (possibly fetched before launch), Data
// is an opaque blob handed to the executor on registration.
type ExecutorInfo struct {
	ID      ExecutorID `json:"id"`
	URI     string     `json:"uri"`
	Command string     `json:"command,omitempty"`
	Data    []byte     `json:"data,omitempty"`
}

// FrameworkInfo is supplied by a scheduler at registration.
type FrameworkInfo struct {
	Name     string       `json:"name"`
	User     string       `json:"user"`
	Executor ExecutorInfo `json:"executor"`
}

// SlaveInfo is supplied by a slave at registration.
type SlaveInfo struct {
	Hostname       string    `json:"hostname"`
	PublicHostname string    `json:"public_hostname,omitempty"`
	Resources      Resources `json:"resources"`
}

// Offer is a promise that a resource bundle on a slave is reserved for one
// framework until the offer is resolved.
type Offer struct {
	ID          OfferID     `json:"id"`
	FrameworkID FrameworkID `json:"framework_id"`
	SlaveID     SlaveID     `json:"slave_id"`
	Hostname    string      `json:"hostname"`
	Resources   Resources   `json:"resources"`
}

// Filters accompany an offer reply and tell the allocator to stop offering
// the declined resources to the framework for a while.
type Filters struct {
	RefuseSeconds float64 `json:"refuse_seconds,omitempty"`
}

// ExecutorArgs is handed to an executor when the slave confirms its
// registration.
type ExecutorArgs struct {
	FrameworkID FrameworkID `json:"framework_id"`
	ExecutorID  ExecutorID  `json:"executor_id"`
	SlaveID     SlaveID     `json:"slave_id"`
	Hostname    string      `json:"hostname"`
	Data        []byte      `json:"data,omitempty"`
}
