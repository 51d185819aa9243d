package actor

import (
	"sync"
	"time"

	derror "github.com/AHINK/mesos/pkg/errors"
	"github.com/AHINK/mesos/pkg/clock"
)

// Future is the pending result of a Dispatch. It is resolved on the callee
// actor's goroutine; if the callee terminates first, it resolves with
// ErrActorTerminated.
type Future struct {
	clk  clock.Clock
	done chan struct{}

	once  sync.Once
	value interface{}
	err   error
}

func newFuture(clk clock.Clock) *Future {
	return &Future{
		clk:  clk,
		done: make(chan struct{}),
	}
}

func (f *Future) resolve(value interface{}, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the future resolves or timeout elapses on the
// system's clock. timeout == 0 blocks forever.
func (f *Future) Result(timeout time.Duration) (interface{}, error) {
	if timeout == 0 {
		<-f.done
		return f.value, f.err
	}
	timer := f.clk.Timer(timeout)
	defer timer.Stop()
	select {
	case <-f.done:
		return f.value, f.err
	case <-timer.C:
		return nil, derror.ErrFutureTimeout.GenWithStackByArgs()
	}
}
