// Package netengine is a reactor-style TCP engine for long-lived,
// bidirectional services.
//
// Listeners and Connectors produce Conns. Every Conn runs its own receive
// goroutine which splits the byte stream into frames with a pluggable Parser
// and posts them, together with lifecycle events, onto a single event queue.
// The application drains that queue by calling Engine.Run from one goroutine
// of its choosing; all Session callbacks execute there and nowhere else, so
// they are serialized with respect to each other.
package netengine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ErrEngineClosed is returned when starting listeners or connections on a
// closed engine.
var ErrEngineClosed = errors.New("engine closed")

// binding ties a connection to its session until OnTerminate is delivered.
type binding struct {
	conn    *Conn
	session Session
}

// Engine owns the background I/O goroutines and the event queue.
type Engine struct {
	logger Logger
	queue  *eventQueue

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
	connID atomic.Uint64

	mu        sync.Mutex
	sessions  map[uint64]binding
	listeners map[*Listener]struct{}
	closed    bool
}

// New creates an engine. Nothing runs until a Listener is started or a
// Connector connects.
func New(opts ...EngineOption) *Engine {
	e := &Engine{
		logger:    defaultLogger(),
		queue:     newEventQueue(),
		sessions:  make(map[uint64]binding),
		listeners: make(map[*Listener]struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = defaultLogger()
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())

	return e
}

// Logger returns the logger the engine was configured with.
func (e *Engine) Logger() Logger {
	return e.logger
}

// CreateListener returns a new listener. ParserOption and
// SessionFactoryOption must be given before Start.
func (e *Engine) CreateListener(opt ...Option) *Listener {
	return &Listener{
		engine: e,
		logger: e.logger,
		opts:   newOptions(opt),
	}
}

// CreateConnector returns a new connector. ParserOption and SessionOption
// must be given before Connect.
func (e *Engine) CreateConnector(opt ...Option) *Connector {
	return &Connector{
		engine: e,
		logger: e.logger,
		opts:   newOptions(opt),
	}
}

// Run delivers up to maxEvents queued events to their sessions on the calling
// goroutine and returns how many were delivered. A maxEvents of zero or less
// drains the queue. Run never blocks waiting for new events.
func (e *Engine) Run(maxEvents int) int {
	n := 0
	for maxEvents <= 0 || n < maxEvents {
		ev, ok := e.queue.pop()
		if !ok {
			break
		}
		e.dispatch(ev)
		n++
	}
	return n
}

// Serve calls Run whenever events are queued, blocking in between, until ctx
// is canceled or the engine is closed and drained.
func (e *Engine) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, e.queue.wake)
	defer stop()
	defer e.queue.reset()

	for {
		e.Run(0)

		if err := ctx.Err(); err != nil {
			return err
		}

		if e.isClosed() && e.queue.len() == 0 {
			return ErrEngineClosed
		}

		e.queue.wait()
	}
}

func (e *Engine) dispatch(ev event) {
	e.mu.Lock()
	b, ok := e.sessions[ev.conn.id]
	e.mu.Unlock()

	if !ok {
		e.logger.Debug("event for unbound connection dropped", "conn_id", ev.conn.id, "event", ev.kind)
		return
	}

	switch ev.kind {
	case eventEstablished:
		b.session.OnEstablish(ev.conn)
	case eventReceived:
		b.session.OnRecv(ev.conn, ev.data)
	case eventError:
		b.session.OnError(ev.conn, ev.code, ev.err)
	case eventTerminated:
		b.session.OnTerminate(ev.conn)

		e.mu.Lock()
		delete(e.sessions, ev.conn.id)
		e.mu.Unlock()
	}
}

// Pending returns the number of events waiting for Run.
func (e *Engine) Pending() int {
	return e.queue.len()
}

// NumConns returns the number of connections whose OnTerminate has not been
// delivered yet.
func (e *Engine) NumConns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// Close stops every listener, disconnects every connection and waits for the
// background goroutines to exit. The terminal events they leave behind are
// still delivered by a following Run.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true

	listeners := make([]*Listener, 0, len(e.listeners))
	for l := range e.listeners {
		listeners = append(listeners, l)
	}
	e.mu.Unlock()

	for _, l := range listeners {
		_ = l.Stop()
	}

	e.cancel()
	err := e.group.Wait()
	e.queue.wake()

	e.logger.Debug("engine closed", "pending_events", e.queue.len())

	return err
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) nextConnID() uint64 {
	return e.connID.Add(1)
}

func (e *Engine) post(ev event) {
	e.queue.push(ev)
}

// attach binds c to s, queues its Established event and starts its
// goroutines. The binding exists before any event of c can be dispatched.
func (e *Engine) attach(c *Conn, s Session) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		c.Disconnect()
		return ErrEngineClosed
	}

	e.sessions[c.id] = binding{conn: c, session: s}
	e.post(event{kind: eventEstablished, conn: c})

	e.group.Go(func() error {
		c.serve()
		return nil
	})

	return nil
}

// goLocked starts fn as a tracked background goroutine unless the engine is
// closed.
func (e *Engine) goLocked(fn func()) error {
	if e.closed {
		return ErrEngineClosed
	}

	e.group.Go(func() error {
		fn()
		return nil
	})

	return nil
}
