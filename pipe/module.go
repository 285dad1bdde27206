// Package pipe multiplexes logical, reconnectable channels over engine
// connections.
//
// A Pipe is identified by a 32-bit id and backed by at most one connection at
// a time. Outbound pipes are created with AddConn, inbound ones are created by
// the listeners started with AddListen and get ids allocated by the module.
// Each payload sent on a pipe carries a 16-bit business id and is delivered
// to the Sink registered for that id on the receiving side.
//
// All Reporter and Sink callbacks run inside Module.Run.
package pipe

import (
	"sort"
	"sync"

	"github.com/Zereker/netengine"
	"github.com/pkg/errors"
)

// Errors returned by Module operations.
var (
	// ErrIPNotAllowed is returned when the whitelist rejects the address.
	ErrIPNotAllowed = errors.New("ip not in whitelist")
	// ErrRepeatConn is returned by AddConn for an id already connecting or attached.
	ErrRepeatConn = errors.New("pipe already connecting or attached")
	// ErrUnknownID is returned for an id the module does not know.
	ErrUnknownID = errors.New("unknown pipe id")
	// ErrClosed is returned by operations on a closed module.
	ErrClosed = errors.New("pipe module closed")
)

// Module owns the pipes, the outbound connectors and the listeners of one
// engine.
type Module struct {
	engine   *netengine.Engine
	reporter Reporter
	logger   netengine.Logger
	opts     options

	inbound *session

	mu          sync.Mutex
	pipes       map[uint32]*Pipe
	pending     map[uint32]*session
	connectors  map[uint32]*netengine.Connector
	owners      map[uint64]uint32 // conn id -> pipe id
	listeners   []*netengine.Listener
	whitelist   map[string]struct{}
	nextLocalID uint32
	notices     []notice
	closed      bool
}

// New creates a module driving engine. reporter may be nil.
func New(engine *netengine.Engine, reporter Reporter, opt ...Option) *Module {
	opts := options{localIDBase: defaultLocalIDBase}
	for _, o := range opt {
		o(&opts)
	}

	if opts.logger == nil {
		opts.logger = engine.Logger()
	}

	m := &Module{
		engine:      engine,
		reporter:    reporter,
		logger:      opts.logger,
		opts:        opts,
		pipes:       make(map[uint32]*Pipe),
		pending:     make(map[uint32]*session),
		connectors:  make(map[uint32]*netengine.Connector),
		owners:      make(map[uint64]uint32),
		nextLocalID: opts.localIDBase,
	}
	m.inbound = &session{m: m}

	return m
}

// AddConn connects pipe id to ip:port. It fails without opening a socket
// when the whitelist rejects ip or when id is already connecting or
// attached. On success the pipe becomes attached, and Success is reported,
// once the connection's establishment is delivered by Run.
func (m *Module) AddConn(id uint32, ip string, port int) error {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	if !m.allowedLocked(ip) {
		m.mu.Unlock()
		m.logger.Warn("connect rejected by whitelist", "pipe_id", id, "ip", ip)
		return ErrIPNotAllowed
	}

	if _, busy := m.pending[id]; busy || m.attachedLocked(id) {
		m.noticeLocked(RepeatConn, id, nil)
		m.mu.Unlock()
		return ErrRepeatConn
	}

	s := &session{m: m, id: id, outbound: true}
	m.pending[id] = s
	m.mu.Unlock()

	return m.connect(s, ip, port)
}

// ReplaceConn connects the known pipe id to ip:port. When the new
// connection is established it takes the place of the old one, which is
// closed; the pipe's sinks are kept.
func (m *Module) ReplaceConn(id uint32, ip string, port int) error {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	if _, known := m.pipes[id]; !known {
		m.noticeLocked(RemoteIDErr, id, nil)
		m.mu.Unlock()
		return ErrUnknownID
	}

	if !m.allowedLocked(ip) {
		m.mu.Unlock()
		m.logger.Warn("replace rejected by whitelist", "pipe_id", id, "ip", ip)
		return ErrIPNotAllowed
	}

	if _, busy := m.pending[id]; busy {
		m.noticeLocked(RepeatConn, id, nil)
		m.mu.Unlock()
		return ErrRepeatConn
	}

	s := &session{m: m, id: id, outbound: true}
	m.pending[id] = s
	m.mu.Unlock()

	return m.connect(s, ip, port)
}

// connect dials for the pending attempt s.
func (m *Module) connect(s *session, ip string, port int) error {
	connector := m.engine.CreateConnector(m.opts.connOptions(netengine.SessionOption(s))...)
	err := connector.Connect(ip, port)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		if m.pending[s.id] == s {
			delete(m.pending, s.id)
		}
		m.logger.Info("pipe connect failed", "pipe_id", s.id, "ip", ip, "port", port, "error", err)
		return err
	}

	if m.pending[s.id] != s {
		// Removed, or the module closed, while connecting.
		connector.Disconnect()
		if m.closed {
			return ErrClosed
		}
		return ErrUnknownID
	}

	m.connectors[s.id] = connector
	return nil
}

// RemoveConn closes and forgets pipe id, including a connect in flight.
func (m *Module) RemoveConn(id uint32) error {
	m.mu.Lock()

	p, known := m.pipes[id]
	_, pending := m.pending[id]
	if !known && !pending {
		m.noticeLocked(RemoteIDErr, id, nil)
		m.mu.Unlock()
		return ErrUnknownID
	}

	delete(m.pipes, id)
	delete(m.pending, id)
	delete(m.connectors, id)

	var conn *netengine.Conn
	var sinks map[uint16]sinkEntry
	if p != nil {
		conn = p.conn
		p.conn = nil
		sinks = p.snapshotSinks()
		if conn != nil {
			delete(m.owners, conn.ID())
		}
	}

	m.noticeLocked(Disconnect, id, sinks)
	m.mu.Unlock()

	if conn != nil {
		conn.Disconnect()
	}

	m.logger.Info("pipe removed", "pipe_id", id)
	return nil
}

// AddListen accepts inbound pipes on ip:port. Each accepted connection from
// a whitelisted address becomes a new pipe with a module-allocated id.
func (m *Module) AddListen(ip string, port int) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return ErrClosed
	}

	factory := netengine.SessionFactoryFunc(m.accept)
	listener := m.engine.CreateListener(m.opts.connOptions(netengine.SessionFactoryOption(factory))...)

	if err := listener.Start(ip, port, m.opts.reuseAddr); err != nil {
		return err
	}

	m.mu.Lock()
	m.listeners = append(m.listeners, listener)
	m.mu.Unlock()

	return nil
}

// Listeners returns the listeners started by AddListen.
func (m *Module) Listeners() []*netengine.Listener {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*netengine.Listener(nil), m.listeners...)
}

// accept runs on a listener's accept goroutine. The pipe itself is created
// when the establishment is delivered, so a connection the engine refuses
// never leaves one behind.
func (m *Module) accept(c *netengine.Conn) netengine.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	if !m.allowedLocked(c.RemoteIP()) {
		m.logger.Warn("inbound connection rejected by whitelist", "remote_addr", c.RemoteAddr())
		return nil
	}

	return m.inbound
}

func (m *Module) allocLocalIDLocked() uint32 {
	for {
		id := m.nextLocalID
		m.nextLocalID++

		_, used := m.pipes[id]
		_, pending := m.pending[id]
		if !used && !pending {
			return id
		}
	}
}

// GetPipe returns pipe id, or nil when the module does not know it.
//
// A pipe whose connection terminated is not forgotten: it stays registered,
// detached and with its sinks, until RemoveConn, so that AddConn or
// ReplaceConn can attach it again. Check Pipe.Attached before relying on it.
func (m *Module) GetPipe(id uint32) *Pipe {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pipes[id]
}

// Pipes returns the known pipe ids in ascending order.
func (m *Module) Pipes() []uint32 {
	m.mu.Lock()
	ids := make([]uint32, 0, len(m.pipes))
	for id := range m.pipes {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *Module) attachedLocked(id uint32) bool {
	p, ok := m.pipes[id]
	return ok && p.conn != nil && p.conn.IsConnected()
}

// Run delivers up to maxEvents engine events, then the reports they caused.
// It returns the number of engine events delivered.
func (m *Module) Run(maxEvents int) int {
	m.flush()
	n := m.engine.Run(maxEvents)
	m.flush()
	return n
}

func (m *Module) noticeLocked(code ReportCode, id uint32, sinks map[uint16]sinkEntry) {
	m.notices = append(m.notices, notice{code: code, id: id, sinks: sinks})
}

func (m *Module) flush() {
	m.mu.Lock()
	notices := m.notices
	m.notices = nil
	m.mu.Unlock()

	for _, n := range notices {
		m.logger.Debug("pipe report", "pipe_id", n.id, "code", n.code)

		if m.reporter != nil {
			m.reporter.OnReport(n.code, n.id)
		}

		for businessID, e := range n.sinks {
			e.sink.OnReport(businessID, n.code)
		}
	}
}

// Close stops the listeners, abandons the connects in flight and disconnects
// every pipe. Connections established after Close are closed as soon as Run
// delivers them. The resulting Disconnect reports are delivered by later Run
// calls.
func (m *Module) Close() error {
	m.mu.Lock()
	m.closed = true
	listeners := m.listeners
	m.listeners = nil

	connectors := make([]*netengine.Connector, 0, len(m.connectors))
	for _, c := range m.connectors {
		connectors = append(connectors, c)
	}
	m.connectors = make(map[uint32]*netengine.Connector)
	m.pending = make(map[uint32]*session)

	conns := make([]*netengine.Conn, 0, len(m.pipes))
	for _, p := range m.pipes {
		if p.conn != nil {
			conns = append(conns, p.conn)
		}
	}
	m.mu.Unlock()

	var err error
	for _, l := range listeners {
		if stopErr := l.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}

	for _, c := range connectors {
		c.Disconnect()
	}

	for _, c := range conns {
		c.Disconnect()
	}

	return err
}
