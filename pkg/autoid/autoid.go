package autoid

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Allocator mints sequential ids scoped to a prefix, e.g. the ids the
// master hands to registering frameworks and slaves.
type Allocator struct {
	sync.Mutex
	prefix string
	next   int64
}

func NewAllocator(prefix string) *Allocator {
	return &Allocator{prefix: prefix}
}

// AllocID returns "<prefix>-<seq>" with seq starting at 0.
func (a *Allocator) AllocID() string {
	a.Lock()
	defer a.Unlock()
	id := fmt.Sprintf("%s-%04d", a.prefix, a.next)
	a.next++
	return id
}

// UUIDAllocator mints globally unique ids, used for offer ids and
// status-update uuids.
type UUIDAllocator struct{}

func NewUUIDAllocator() *UUIDAllocator {
	return new(UUIDAllocator)
}

func (a *UUIDAllocator) AllocID() string {
	return uuid.New().String()
}
