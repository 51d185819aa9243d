package actor

import (
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/AHINK/mesos/pkg/clock"
	"github.com/AHINK/mesos/pkg/containers"
)

// Body is the logical thread of control of an actor. It runs on its own
// goroutine and must return when Receive or Serve hands it a Terminate
// message. A Body processes exactly one message at a time, so actor state
// needs no locking.
type Body func(ctx *Context)

// Handler is a per-tag callback installed with Context.Install.
type Handler func(ctx *Context, msg Message)

// envelope is one mailbox entry: either a message or a dispatched closure.
// Both kinds share a single queue so delivery stays FIFO per sender.
type envelope struct {
	msg      Message
	dispatch func() (interface{}, error)
	fut      *Future
}

func (e *envelope) run() {
	value, err := e.dispatch()
	if e.fut != nil {
		e.fut.resolve(value, err)
	}
}

type process struct {
	name   string
	system *System

	queue   *containers.Deque[envelope]
	notifyC chan struct{}
	doneC   chan struct{}

	// owned by the actor goroutine
	ctx          *Context
	handlers     map[Tag]Handler
	httpHandlers map[string]HTTPHandler

	// linkState guards linkers and finished, which other goroutines touch.
	linkState linkState
}

func newProcess(name string, system *System) *process {
	p := &process{
		name:         name,
		system:       system,
		queue:        containers.NewDeque[envelope](),
		notifyC:      make(chan struct{}, 1),
		doneC:        make(chan struct{}),
		handlers:     make(map[Tag]Handler),
		httpHandlers: make(map[string]HTTPHandler),
	}
	p.ctx = &Context{p: p}
	p.linkState.linkers = make(map[string]Address)
	p.linkState.links = make(map[string]struct{})
	return p
}

func (p *process) self() Address {
	return p.system.Address(p.name)
}

// enqueue appends an envelope, or resolves/drops it if the actor already
// finished. front enqueues at the head of the mailbox (inject semantics).
func (p *process) enqueue(env envelope, front bool) {
	p.linkState.Lock()
	if p.linkState.finished {
		p.linkState.Unlock()
		if env.fut != nil {
			env.fut.resolve(nil, errTerminated(p.name))
		}
		return
	}
	if front {
		p.queue.AddFront(env)
	} else {
		p.queue.Add(env)
	}
	p.linkState.Unlock()
	select {
	case p.notifyC <- struct{}{}:
	default:
	}
}

// dequeue blocks for the next envelope. timeout == 0 waits forever;
// otherwise a synthetic TIMEOUT message is returned when it elapses.
func (p *process) dequeue(timeout time.Duration) envelope {
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := p.system.clk.Timer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}
	for {
		if env, ok := p.queue.Pop(); ok {
			return env
		}
		select {
		case <-p.notifyC:
		case <-timeoutC:
			return envelope{msg: Message{From: p.self(), Tag: Timeout}}
		}
	}
}

// Context is the API surface a Body uses to interact with the runtime.
type Context struct {
	p    *process
	from Address
	tag  Tag
}

// Self returns this actor's address.
func (c *Context) Self() Address {
	return c.p.self()
}

// System returns the owning system, e.g. for clock callbacks that need to
// post messages from outside any actor.
func (c *Context) System() *System {
	return c.p.system
}

// From returns the sender of the message currently being handled.
func (c *Context) From() Address {
	return c.from
}

// Tag returns the tag of the message currently being handled.
func (c *Context) Tag() Tag {
	return c.tag
}

// Clock returns the system clock, the only time source actors may use.
func (c *Context) Clock() clock.Clock {
	return c.p.system.clk
}

// Send enqueues one message at the target. It never blocks and never
// fails; delivery to a dead or unknown actor is silently dropped.
func (c *Context) Send(to Address, tag Tag, payload []byte) {
	c.p.system.route(c.Self(), to, tag, payload, false)
}

// Receive dequeues the next message, executing any dispatched closures it
// encounters first. timeout == 0 means wait forever.
func (c *Context) Receive(timeout time.Duration) Message {
	for {
		env := c.p.dequeue(timeout)
		if env.dispatch != nil {
			env.run()
			continue
		}
		c.from = env.msg.From
		c.tag = env.msg.Tag
		return env.msg
	}
}

// Serve receives one message and demultiplexes it to the installed handler
// for its tag, if any, before returning it. Terminate is always surfaced
// without running a handler; callers loop on Serve and return on it.
func (c *Context) Serve(timeout time.Duration) Message {
	msg := c.Receive(timeout)
	if msg.Tag == Terminate {
		return msg
	}
	if h, ok := c.p.handlers[msg.Tag]; ok {
		h(c, msg)
	}
	return msg
}

// Install routes messages with the given tag to h during Serve.
func (c *Context) Install(tag Tag, h Handler) {
	c.p.handlers[tag] = h
}

// InstallHTTP routes "/<actor>/<path>" requests to h. The handler runs on
// this actor's goroutine.
func (c *Context) InstallHTTP(path string, h HTTPHandler) {
	c.p.httpHandlers[path] = h
}

// Link subscribes to the target's death: when it finishes, an EXITED
// message with the target's address as sender is delivered here.
// Idempotent.
func (c *Context) Link(to Address) {
	c.p.system.link(c.p, to)
}

// Dispatch enqueues a closure to run on the target actor's goroutine,
// FIFO-interleaved with its messages, and returns a future of the result.
// Dispatch only reaches actors in this process.
func (c *Context) Dispatch(to Address, f func() (interface{}, error)) *Future {
	return c.p.system.Dispatch(to, f)
}

// Inject enqueues a message at the front of the target's mailbox,
// overtaking everything already queued. The runtime itself uses it to
// deliver TERMINATE.
func (c *Context) Inject(to Address, tag Tag) {
	c.p.system.route(c.Self(), to, tag, nil, true)
}

// Pause delivers a TIMEOUT message to this actor after d.
func (c *Context) Pause(d time.Duration) {
	p := c.p
	self := c.Self()
	p.system.clk.AfterFunc(d, func() {
		p.enqueue(envelope{msg: Message{From: self, Tag: Timeout}}, false)
	})
}

// run executes the body and performs death bookkeeping: drain the mailbox,
// resolve pending futures, notify linkers, unregister.
func (p *process) run(body Body) {
	defer p.finish()
	defer func() {
		if r := recover(); r != nil {
			log.L().Error("actor terminated by panic",
				zap.String("actor", p.name),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	log.L().Debug("actor started", zap.String("actor", p.name))
	body(p.ctx)
}

func (p *process) finish() {
	self := p.self()

	p.linkState.Lock()
	p.linkState.finished = true
	linkers := make([]Address, 0, len(p.linkState.linkers))
	for _, addr := range p.linkState.linkers {
		linkers = append(linkers, addr)
	}
	p.linkState.Unlock()

	// Pending dispatches resolve with an error; plain messages are dropped.
	for {
		env, ok := p.queue.Pop()
		if !ok {
			break
		}
		if env.fut != nil {
			env.fut.resolve(nil, errTerminated(p.name))
		}
	}

	p.system.unregister(p.name)
	for _, linker := range linkers {
		p.system.route(self, linker, Exited, nil, false)
	}
	log.L().Debug("actor finished", zap.String("actor", p.name))
	close(p.doneC)
}
