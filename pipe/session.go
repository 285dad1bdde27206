package pipe

import (
	"encoding/binary"

	"github.com/Zereker/netengine"
	"github.com/pkg/errors"
)

// ErrPayloadTooShort is logged for frames too short to carry a business id.
var ErrPayloadTooShort = errors.New("payload shorter than business id")

// session is the netengine.Session of every connection the module owns.
// Outbound sessions identify one connect attempt for id; the inbound session
// is shared by all accepted connections, which are looked up by conn id.
type session struct {
	m        *Module
	id       uint32
	outbound bool
}

func (s *session) OnEstablish(c *netengine.Conn) {
	m := s.m

	if !s.outbound {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			c.Disconnect()
			return
		}

		id := m.allocLocalIDLocked()
		p := newPipe(m, id)
		p.conn = c
		m.pipes[id] = p
		m.owners[c.ID()] = id
		m.noticeLocked(Success, id, nil)
		m.mu.Unlock()

		m.logger.Info("inbound pipe attached", "pipe_id", id, "remote_addr", c.RemoteAddr())
		return
	}

	m.mu.Lock()
	if m.closed || m.pending[s.id] != s {
		m.mu.Unlock()
		m.logger.Debug("stale connection closed", "pipe_id", s.id, "conn_id", c.ID())
		c.Disconnect()
		return
	}
	delete(m.pending, s.id)

	p, ok := m.pipes[s.id]
	if !ok {
		p = newPipe(m, s.id)
		m.pipes[s.id] = p
	}

	old := p.conn
	p.conn = c
	m.owners[c.ID()] = s.id
	if old != nil {
		delete(m.owners, old.ID())
	}

	m.noticeLocked(Success, s.id, p.snapshotSinks())
	m.mu.Unlock()

	if old != nil {
		m.logger.Info("pipe replaced", "pipe_id", s.id, "old_conn", old.ID(), "remote_addr", c.RemoteAddr())
		old.Disconnect()
	} else {
		m.logger.Info("outbound pipe attached", "pipe_id", s.id, "remote_addr", c.RemoteAddr())
	}
}

func (s *session) OnRecv(c *netengine.Conn, frame []byte) {
	m := s.m

	payload, err := netengine.Payload(frame)
	if err != nil {
		m.logger.Warn("bad frame dropped", "conn_id", c.ID(), "error", err)
		return
	}

	if len(payload) < businessIDSize {
		m.logger.Warn("bad frame dropped", "conn_id", c.ID(), "error", ErrPayloadTooShort)
		return
	}

	businessID := binary.BigEndian.Uint16(payload)

	sink, ok := m.route(c, businessID)
	if !ok {
		m.logger.Debug("no sink for message", "conn_id", c.ID(), "business_id", businessID)
		return
	}

	sink.OnRecv(businessID, payload[businessIDSize:])
}

// route finds the sink for businessID on the pipe owning c. Both ends of one
// socket may be tracked by the same module as two pipes, so a miss falls back
// to the pipe whose connection is the address-swapped mirror of c.
func (m *Module) route(c *netengine.Conn, businessID uint16) (Sink, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.owners[c.ID()]; ok {
		if p := m.pipes[id]; p != nil {
			if e, ok := p.sinks[businessID]; ok {
				return e.sink, true
			}
		}
	}

	for _, p := range m.pipes {
		if p.conn == nil || p.conn == c || !mirrors(p.conn, c) {
			continue
		}
		if e, ok := p.sinks[businessID]; ok {
			return e.sink, true
		}
	}

	return nil, false
}

func (s *session) OnError(c *netengine.Conn, code netengine.ErrorCode, err error) {
	s.m.logger.Warn("pipe connection error", "conn_id", c.ID(),
		"remote_addr", c.RemoteAddr(), "code", code, "error", err)
}

func (s *session) OnTerminate(c *netengine.Conn) {
	m := s.m

	m.mu.Lock()
	id, ok := m.owners[c.ID()]
	if ok {
		delete(m.owners, c.ID())
		if p := m.pipes[id]; p != nil && p.conn == c {
			p.conn = nil
			m.noticeLocked(Disconnect, id, p.snapshotSinks())
		}
	}
	m.mu.Unlock()

	if ok {
		m.logger.Info("pipe detached", "pipe_id", id, "conn_id", c.ID())
	}
}
