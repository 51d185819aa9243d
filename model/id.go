package model

// Identifiers are opaque, globally unique strings. Framework and slave ids
// are minted by the master at registration; offer ids are minted when an
// offer batch is constructed; task ids are chosen by the framework;
// executor ids are chosen by the framework in its executor info.
type (
	FrameworkID string
	SlaveID     string
	OfferID     string
	TaskID      string
	ExecutorID  string
)

func (id FrameworkID) String() string { return string(id) }
func (id SlaveID) String() string     { return string(id) }
func (id OfferID) String() string     { return string(id) }
func (id TaskID) String() string      { return string(id) }
func (id ExecutorID) String() string  { return string(id) }
