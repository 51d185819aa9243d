package actor

import (
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/AHINK/mesos/pkg/clock"
	derror "github.com/AHINK/mesos/pkg/errors"
)

type linkState struct {
	sync.Mutex
	linkers  map[string]Address
	links    map[string]struct{}
	finished bool
}

func errTerminated(name string) error {
	return derror.ErrActorTerminated.GenWithStackByArgs(name)
}

// Endpoint carries frames to actors in other processes and watches remote
// peers for link death. Implemented by pkg/transport.
type Endpoint interface {
	Send(from, to Address, tag Tag, payload []byte)
	Watch(watcher, target Address)
	Host() string
	Port() int
}

// System multiplexes actors onto the Go scheduler. All actors of one
// process share a System, its clock and, optionally, one transport
// endpoint.
type System struct {
	clk clock.Clock

	mu       sync.Mutex
	procs    map[string]*process
	endpoint Endpoint
	host     string
	port     int
}

// Option configures a System.
type Option func(*System)

// WithClock substitutes the time source, letting tests drive every timer
// of every actor from a mock clock.
func WithClock(clk clock.Clock) Option {
	return func(s *System) { s.clk = clk }
}

// NewSystem creates an empty system with no transport bound.
func NewSystem(opts ...Option) *System {
	s := &System{
		clk:   clock.New(),
		procs: make(map[string]*process),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Clock returns the system's time source.
func (s *System) Clock() clock.Clock {
	return s.clk
}

// BindEndpoint attaches a transport endpoint. Actors spawned before or
// after the call are reachable from other processes under
// "host:port/name".
func (s *System) BindEndpoint(ep Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoint = ep
	s.host = ep.Host()
	s.port = ep.Port()
}

// Address returns the full address of a local actor name.
func (s *System) Address(name string) Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Address{Host: s.host, Port: s.port, Name: name}
}

func (s *System) isLocal(addr Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if addr.Host == "" && addr.Port == 0 {
		return true
	}
	return addr.Host == s.host && addr.Port == s.port
}

func (s *System) proc(name string) *process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[name]
}

func (s *System) unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.procs, name)
}

// Spawn starts an actor under the given name and returns its address.
func (s *System) Spawn(name string, body Body) (Address, error) {
	p := newProcess(name, s)
	s.mu.Lock()
	if _, ok := s.procs[name]; ok {
		s.mu.Unlock()
		return Address{}, derror.ErrActorDuplicateName.GenWithStackByArgs(name)
	}
	s.procs[name] = p
	s.mu.Unlock()
	go p.run(body)
	return s.Address(name), nil
}

// Send enqueues a message from an arbitrary goroutine, e.g. a driver's
// public API or a clock callback. Never blocks, never fails.
func (s *System) Send(from, to Address, tag Tag, payload []byte) {
	s.route(from, to, tag, payload, false)
}

// Inject enqueues at the front of the target's mailbox.
func (s *System) Inject(from, to Address, tag Tag) {
	s.route(from, to, tag, nil, true)
}

// Terminate asks the target to finish: TERMINATE is injected at the head
// of its mailbox and takes effect after the current handler returns.
func (s *System) Terminate(to Address) {
	s.Inject(to, to, Terminate)
}

// Wait blocks until the named local actor has finished. Waiting on an
// unknown name returns immediately.
func (s *System) Wait(name string) {
	p := s.proc(name)
	if p == nil {
		return
	}
	<-p.doneC
}

// Stop terminates every actor and waits for all of them.
func (s *System) Stop() {
	s.mu.Lock()
	names := make([]string, 0, len(s.procs))
	for name := range s.procs {
		names = append(names, name)
	}
	s.mu.Unlock()
	for _, name := range names {
		s.Terminate(s.Address(name))
	}
	for _, name := range names {
		s.Wait(name)
	}
}

// Dispatch runs f on the target actor's goroutine and returns a future of
// its result. The target must live in this process.
func (s *System) Dispatch(to Address, f func() (interface{}, error)) *Future {
	fut := newFuture(s.clk)
	if !s.isLocal(to) {
		fut.resolve(nil, derror.ErrDispatchRemote.GenWithStackByArgs(to.String()))
		return fut
	}
	p := s.proc(to.Name)
	if p == nil {
		fut.resolve(nil, errTerminated(to.Name))
		return fut
	}
	p.enqueue(envelope{dispatch: f, fut: fut}, false)
	return fut
}

// DispatchHTTP routes an HTTP request to the named actor's handler map;
// the handler runs on the actor and the future resolves with its
// *HTTPResponse.
func (s *System) DispatchHTTP(name string, req *HTTPRequest) *Future {
	fut := newFuture(s.clk)
	p := s.proc(name)
	if p == nil {
		fut.resolve(nil, derror.ErrActorNotFound.GenWithStackByArgs(name))
		return fut
	}
	p.enqueue(envelope{
		dispatch: func() (interface{}, error) {
			h, ok := p.httpHandlers[req.Path]
			if !ok {
				return nil, derror.ErrActorNotFound.GenWithStackByArgs(name + "/" + req.Path)
			}
			return h(p.ctx, req)
		},
		fut: fut,
	}, false)
	return fut
}

// Deliver is the transport's inbound path for frames addressed to local
// actors.
func (s *System) Deliver(toName string, from Address, tag Tag, payload []byte) {
	p := s.proc(toName)
	if p == nil {
		log.L().Debug("dropping message for unknown actor",
			zap.String("actor", toName), zap.String("tag", string(tag)))
		return
	}
	p.enqueue(envelope{msg: Message{From: from, Tag: tag, Payload: payload}}, false)
}

func (s *System) route(from, to Address, tag Tag, payload []byte, front bool) {
	if s.isLocal(to) {
		p := s.proc(to.Name)
		if p == nil {
			log.L().Debug("dropping message for dead actor",
				zap.String("to", to.String()), zap.String("tag", string(tag)))
			return
		}
		p.enqueue(envelope{msg: Message{From: from, Tag: tag, Payload: payload}}, front)
		return
	}
	s.mu.Lock()
	ep := s.endpoint
	s.mu.Unlock()
	if ep == nil {
		log.L().Warn("dropping remote message: no transport bound",
			zap.String("to", to.String()), zap.String("tag", string(tag)))
		return
	}
	ep.Send(from, to, tag, payload)
}

// link subscribes p to the target's death.
func (s *System) link(p *process, to Address) {
	key := to.String()
	p.linkState.Lock()
	if _, ok := p.linkState.links[key]; ok {
		p.linkState.Unlock()
		return
	}
	p.linkState.links[key] = struct{}{}
	p.linkState.Unlock()

	self := p.self()
	if s.isLocal(to) {
		target := s.proc(to.Name)
		if target == nil {
			// Already dead: deliver EXITED immediately.
			p.enqueue(envelope{msg: Message{From: to, Tag: Exited}}, false)
			return
		}
		target.linkState.Lock()
		if target.linkState.finished {
			target.linkState.Unlock()
			p.enqueue(envelope{msg: Message{From: to, Tag: Exited}}, false)
			return
		}
		target.linkState.linkers[self.String()] = self
		target.linkState.Unlock()
		return
	}
	s.mu.Lock()
	ep := s.endpoint
	s.mu.Unlock()
	if ep == nil {
		log.L().Warn("cannot link remote actor: no transport bound",
			zap.String("target", to.String()))
		return
	}
	ep.Watch(self, to)
}
