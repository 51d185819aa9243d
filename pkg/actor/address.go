package actor

import (
	"fmt"
	"strconv"
	"strings"

	derror "github.com/AHINK/mesos/pkg/errors"
)

// Address identifies an actor: a network location plus the actor's name,
// rendered "host:port/name". An address with an empty host belongs to an
// in-process actor of a system with no transport bound.
type Address struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
	Name string `json:"name"`
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a.Host == "" && a.Port == 0 && a.Name == ""
}

func (a Address) String() string {
	if a.Host == "" && a.Port == 0 {
		return "/" + a.Name
	}
	return fmt.Sprintf("%s:%d/%s", a.Host, a.Port, a.Name)
}

// ParseAddress parses "host:port/name" or "/name".
func ParseAddress(s string) (Address, error) {
	loc, name, ok := strings.Cut(s, "/")
	if !ok || name == "" {
		return Address{}, derror.ErrBadAddress.GenWithStackByArgs(s)
	}
	if loc == "" {
		return Address{Name: name}, nil
	}
	host, portStr, ok := strings.Cut(loc, ":")
	if !ok {
		return Address{}, derror.ErrBadAddress.GenWithStackByArgs(s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return Address{}, derror.ErrBadAddress.GenWithStackByArgs(s)
	}
	return Address{Host: host, Port: port, Name: name}, nil
}

// Tag routes a message to a handler on the receiving actor.
type Tag string

// Reserved tags. They are delivered by the runtime itself and must not be
// used as application payload tags.
const (
	Nothing   Tag = "NOTHING"
	Error     Tag = "ERROR"
	Timeout   Tag = "TIMEOUT"
	Exited    Tag = "EXITED"
	Terminate Tag = "TERMINATE"
)

// Message is one mailbox entry: a tag and an opaque payload, stamped with
// the sender's address.
type Message struct {
	From    Address
	Tag     Tag
	Payload []byte
}
