package pipe

import (
	"encoding/binary"

	"github.com/Zereker/netengine"
	"github.com/pkg/errors"
)

// Errors returned by Pipe.
var (
	// ErrNotAttached is returned by Send on a pipe without a live connection.
	ErrNotAttached = errors.New("pipe not attached")
)

// businessIDSize is the size of the business id prefixed to every payload.
const businessIDSize = 2

type sinkEntry struct {
	sink     Sink
	userData uint32
}

// Pipe is a logical, reconnectable endpoint. At any instant it is backed by
// at most one connection; replacing that connection keeps its sinks.
//
// The connection and sink table are guarded by the owning module's lock.
type Pipe struct {
	id     uint32
	module *Module

	conn  *netengine.Conn
	sinks map[uint16]sinkEntry
}

func newPipe(m *Module, id uint32) *Pipe {
	return &Pipe{
		id:     id,
		module: m,
		sinks:  make(map[uint16]sinkEntry),
	}
}

// ID returns the pipe id.
func (p *Pipe) ID() uint32 {
	return p.id
}

// Conn returns the current connection, or nil when detached.
func (p *Pipe) Conn() *netengine.Conn {
	p.module.mu.Lock()
	defer p.module.mu.Unlock()
	return p.conn
}

// Attached reports whether the pipe has a live connection.
func (p *Pipe) Attached() bool {
	conn := p.Conn()
	return conn != nil && conn.IsConnected()
}

// SetSink registers sink for businessID, replacing any previous one.
// userData is kept alongside and returned by Sink.
func (p *Pipe) SetSink(businessID uint16, sink Sink, userData uint32) {
	p.module.mu.Lock()
	defer p.module.mu.Unlock()
	p.sinks[businessID] = sinkEntry{sink: sink, userData: userData}
}

// RemoveSink unregisters the sink of businessID.
func (p *Pipe) RemoveSink(businessID uint16) {
	p.module.mu.Lock()
	defer p.module.mu.Unlock()
	delete(p.sinks, businessID)
}

// Sink returns the sink registered for businessID and its user data.
func (p *Pipe) Sink(businessID uint16) (Sink, uint32, bool) {
	p.module.mu.Lock()
	defer p.module.mu.Unlock()

	e, ok := p.sinks[businessID]
	return e.sink, e.userData, ok
}

// Send writes payload to the peer's sink for businessID as one frame.
func (p *Pipe) Send(businessID uint16, payload []byte) error {
	conn := p.Conn()
	if conn == nil || !conn.IsConnected() {
		return ErrNotAttached
	}

	return conn.Send(encode(businessID, payload))
}

// DelaySend is Send through the connection's writer goroutine.
func (p *Pipe) DelaySend(businessID uint16, payload []byte) error {
	conn := p.Conn()
	if conn == nil || !conn.IsConnected() {
		return ErrNotAttached
	}

	return conn.DelaySend(encode(businessID, payload))
}

func encode(businessID uint16, payload []byte) []byte {
	var head [businessIDSize]byte
	binary.BigEndian.PutUint16(head[:], businessID)

	frame := make([]byte, 0, netengine.HeaderSize(len(payload)+businessIDSize)+businessIDSize+len(payload))
	return netengine.AppendFrame(frame, head[:], payload)
}

// snapshotSinks copies the sink table. Callers hold the module lock.
func (p *Pipe) snapshotSinks() map[uint16]sinkEntry {
	if len(p.sinks) == 0 {
		return nil
	}

	sinks := make(map[uint16]sinkEntry, len(p.sinks))
	for k, v := range p.sinks {
		sinks[k] = v
	}
	return sinks
}

// mirrors reports whether a and b are the two ends of the same socket.
func mirrors(a, b *netengine.Conn) bool {
	return a.LocalPort() == b.RemotePort() &&
		a.RemotePort() == b.LocalPort() &&
		a.LocalIP() == b.RemoteIP() &&
		a.RemoteIP() == b.LocalIP()
}
