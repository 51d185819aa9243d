package clock

import (
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/gavv/monotime"
)

type (
	// Timer and Ticker are re-exported so that callers do not need to
	// import benbjohnson/clock directly.
	Timer  = bclock.Timer
	Ticker = bclock.Ticker

	// MonotonicTime is the time elapsed since an arbitrary fixed point.
	// It is unaffected by wall-clock jumps.
	MonotonicTime time.Duration
)

var unixEpoch = time.Unix(0, 0)

// Clock is a source of time for all timers in the module. Production code
// uses New; tests use NewMock and drive it with Add.
type Clock interface {
	bclock.Clock
	Mono() MonotonicTime
}

type withRealMono struct {
	bclock.Clock
}

func (r withRealMono) Mono() MonotonicTime {
	return MonotonicTime(monotime.Now())
}

// Mock is a manually advanced Clock.
type Mock struct {
	*bclock.Mock
}

func (m Mock) Mono() MonotonicTime {
	return MonotonicTime(m.Now().Sub(unixEpoch))
}

// New returns a Clock backed by the system clock.
func New() Clock {
	return withRealMono{bclock.New()}
}

// NewMock returns a mocked Clock set to the unix epoch.
func NewMock() *Mock {
	return &Mock{bclock.NewMock()}
}

// Sub returns the duration t - other.
func (t MonotonicTime) Sub(other MonotonicTime) time.Duration {
	return time.Duration(t - other)
}

// Add returns the monotonic time d after t.
func (t MonotonicTime) Add(d time.Duration) MonotonicTime {
	return t + MonotonicTime(d)
}

// After reports whether t is later than other.
func (t MonotonicTime) After(other MonotonicTime) bool {
	return t > other
}
