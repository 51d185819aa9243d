package transport

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AHINK/mesos/pkg/actor"
)

const (
	outboundQueueSize = 4096
	dialTimeout       = 5 * time.Second
	httpFutureTimeout = 30 * time.Second
)

type watchEntry struct {
	watcher string // local actor name
	target  actor.Address
}

// Endpoint gives one actor system a network identity. It owns a single
// TCP listener on which it accepts both length-prefixed frames and plain
// HTTP requests, and a pool of outbound connections keyed by peer
// host:port. It implements actor.Endpoint.
type Endpoint struct {
	sys     *actor.System
	host    string
	port    int
	ln      net.Listener
	eg      *errgroup.Group
	closedC chan struct{}

	mu      sync.Mutex
	peers   map[string]*peer
	watches map[string]map[string]watchEntry // peer key -> watch key -> entry
	inbound map[net.Conn]struct{}
	closed  bool
}

// peer is one outbound connection with an asynchronous write queue.
type peer struct {
	key  string
	outC chan *Frame
}

// NewEndpoint listens on addr ("host:port"; port 0 picks a free one) and
// binds itself to the system, making its actors remotely reachable.
func NewEndpoint(sys *actor.System, addr string) (*Endpoint, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Trace(err)
	}
	tcpAddr := ln.Addr().(*net.TCPAddr)
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		host = "127.0.0.1"
	}
	e := &Endpoint{
		sys:     sys,
		host:    host,
		port:    tcpAddr.Port,
		ln:      ln,
		eg:      new(errgroup.Group),
		closedC: make(chan struct{}),
		peers:   make(map[string]*peer),
		watches: make(map[string]map[string]watchEntry),
		inbound: make(map[net.Conn]struct{}),
	}
	e.eg.Go(e.acceptLoop)
	sys.BindEndpoint(e)
	log.L().Info("transport endpoint listening",
		zap.String("host", host), zap.Int("port", e.port))
	return e, nil
}

// Host implements actor.Endpoint.
func (e *Endpoint) Host() string { return e.host }

// Port implements actor.Endpoint.
func (e *Endpoint) Port() int { return e.port }

// Send implements actor.Endpoint. It never blocks: the frame is handed to
// the peer's writer goroutine, and dropped with a warning if the peer's
// queue is full.
func (e *Endpoint) Send(from, to actor.Address, tag actor.Tag, payload []byte) {
	p := e.peer(peerKey(to.Host, to.Port))
	if p == nil {
		return
	}
	f := &Frame{To: to.Name, From: from.String(), Tag: string(tag), Payload: payload}
	select {
	case p.outC <- f:
	default:
		log.L().Warn("dropping frame: peer queue full",
			zap.String("peer", p.key), zap.String("tag", string(tag)))
	}
}

// Watch implements actor.Endpoint: once the connection to the target's
// endpoint dies, EXITED is delivered to the watcher with the target as
// sender. Ensures a connection exists so that a silent peer's death is
// still observed.
func (e *Endpoint) Watch(watcher, target actor.Address) {
	key := peerKey(target.Host, target.Port)
	e.mu.Lock()
	m, ok := e.watches[key]
	if !ok {
		m = make(map[string]watchEntry)
		e.watches[key] = m
	}
	m[watcher.String()+"->"+target.String()] = watchEntry{
		watcher: watcher.Name,
		target:  target,
	}
	e.mu.Unlock()

	if e.peer(key) == nil {
		// Endpoint is closed; report the peer dead right away.
		e.sys.Deliver(watcher.Name, target, actor.Exited, nil)
	}
}

// peer returns the live peer for key, dialing lazily. nil after Close.
func (e *Endpoint) peer(key string) *peer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	if p, ok := e.peers[key]; ok {
		return p
	}
	p := &peer{key: key, outC: make(chan *Frame, outboundQueueSize)}
	e.peers[key] = p
	e.eg.Go(func() error {
		e.runPeer(p)
		return nil
	})
	return p
}

// runPeer dials the peer and writes queued frames until the connection
// breaks, then reports the peer dead to every watcher.
func (e *Endpoint) runPeer(p *peer) {
	defer e.peerDied(p)
	conn, err := net.DialTimeout("tcp", p.key, dialTimeout)
	if err != nil {
		log.L().Warn("dialing peer failed", zap.String("peer", p.key), zap.Error(err))
		return
	}
	defer conn.Close()

	// Drain the read side so a remote close is noticed even when there is
	// nothing to write.
	brokenC := make(chan struct{})
	go func() {
		defer close(brokenC)
		buf := make([]byte, 512)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	w := bufio.NewWriter(conn)
	for {
		select {
		case <-e.closedC:
			return
		case <-brokenC:
			return
		case f := <-p.outC:
			if !e.writeAndFlush(p, w, f) {
				return
			}
		}
	}
}

// writeAndFlush writes f plus everything else already queued, then
// flushes once.
func (e *Endpoint) writeAndFlush(p *peer, w *bufio.Writer, f *Frame) bool {
	for {
		if err := WriteFrame(w, f); err != nil {
			log.L().Warn("writing frame failed",
				zap.String("peer", p.key), zap.Error(err))
			return false
		}
		select {
		case next := <-p.outC:
			f = next
		default:
			return w.Flush() == nil
		}
	}
}

// peerDied removes the peer and fires EXITED at its watchers. The watch
// entries are consumed; a later Send re-dials and a later re-link watches
// again.
func (e *Endpoint) peerDied(p *peer) {
	e.mu.Lock()
	delete(e.peers, p.key)
	entries := make([]watchEntry, 0, len(e.watches[p.key]))
	for _, entry := range e.watches[p.key] {
		entries = append(entries, entry)
	}
	delete(e.watches, p.key)
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}
	for _, entry := range entries {
		e.sys.Deliver(entry.watcher, entry.target, actor.Exited, nil)
	}
}

func (e *Endpoint) acceptLoop() error {
	for {
		conn, err := e.ln.Accept()
		if err != nil {
			e.mu.Lock()
			closed := e.closed
			e.mu.Unlock()
			if closed {
				return nil
			}
			return errors.Trace(err)
		}
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			conn.Close()
			return nil
		}
		e.inbound[conn] = struct{}{}
		e.mu.Unlock()
		e.eg.Go(func() error {
			e.serveConn(conn)
			e.mu.Lock()
			delete(e.inbound, conn)
			e.mu.Unlock()
			return nil
		})
	}
}

// serveConn peeks the first byte to tell frames from HTTP: frame sizes
// are bounded, so a frame always starts with 0x00, which no HTTP method
// does.
func (e *Endpoint) serveConn(conn net.Conn) {
	defer conn.Close()
	br := bufio.NewReader(conn)
	first, err := br.Peek(1)
	if err != nil {
		return
	}
	if first[0] == 0 {
		e.serveFrames(br)
		return
	}
	e.serveHTTP(conn, br)
}

func (e *Endpoint) serveFrames(br *bufio.Reader) {
	for {
		f, err := ReadFrame(br)
		if err != nil {
			return
		}
		from, err := actor.ParseAddress(f.From)
		if err != nil {
			log.L().Warn("dropping frame with bad sender address",
				zap.String("from", f.From))
			continue
		}
		e.sys.Deliver(f.To, from, actor.Tag(f.Tag), f.Payload)
	}
}

// serveHTTP handles sequential plain-HTTP requests on the shared port.
// "/<actor>/<path>" is dispatched to the target actor's handler map; the
// handler's future resolves with the response to write back.
func (e *Endpoint) serveHTTP(conn net.Conn, br *bufio.Reader) {
	for {
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		name, path, ok := strings.Cut(strings.TrimPrefix(req.URL.Path, "/"), "/")
		if !ok || name == "" {
			writeHTTPResponse(conn, req, http.StatusNotFound, "text/plain", []byte("not found\n"))
			continue
		}
		fut := e.sys.DispatchHTTP(name, &actor.HTTPRequest{
			Method: req.Method,
			Path:   path,
			Query:  req.URL.Query(),
		})
		value, err := fut.Result(httpFutureTimeout)
		if err != nil {
			writeHTTPResponse(conn, req, http.StatusNotFound, "text/plain",
				[]byte(err.Error()+"\n"))
			continue
		}
		res := value.(*actor.HTTPResponse)
		writeHTTPResponse(conn, req, res.Status, res.ContentType, res.Body)
	}
}

func writeHTTPResponse(conn net.Conn, req *http.Request, status int, contentType string, body []byte) {
	res := &http.Response{
		StatusCode:    status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Request:       req,
		Header:        http.Header{"Content-Type": []string{contentType}},
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
	if err := res.Write(conn); err != nil {
		log.L().Debug("writing http response failed", zap.Error(err))
	}
}

// Close shuts the listener and every connection down.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.closedC)
	inbound := make([]net.Conn, 0, len(e.inbound))
	for conn := range e.inbound {
		inbound = append(inbound, conn)
	}
	e.mu.Unlock()
	for _, conn := range inbound {
		conn.Close()
	}
	err := e.ln.Close()
	_ = e.eg.Wait()
	return errors.Trace(err)
}

// URL renders the endpoint's HTTP base, for logs and dashboards.
func (e *Endpoint) URL() string {
	return fmt.Sprintf("http://%s", net.JoinHostPort(e.host, strconv.Itoa(e.port)))
}

func peerKey(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
