package netengine

import (
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// Errors returned by Connector.
var (
	// ErrAlreadyConnected is returned by Connect and ReConnect while the
	// previous connection is still open.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrNotConnected is returned by ReConnect before any successful Connect.
	ErrNotConnected = errors.New("never connected")
)

// Connector dials outbound connections, all bound to the same Session.
type Connector struct {
	engine *Engine
	logger Logger
	opts   options

	mu   sync.Mutex
	addr *net.TCPAddr
	conn *Conn
}

// Connect performs a blocking connect to ip:port. On success the address is
// remembered for ReConnect and OnEstablish is queued for the next Run.
// There is no timeout beyond the operating system's own.
func (c *Connector) Connect(ip string, port int) error {
	address := net.JoinHostPort(ip, strconv.Itoa(port))

	addr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", address)
	}

	return c.dial(addr)
}

// ReConnect connects again to the address of the last successful Connect.
func (c *Connector) ReConnect() error {
	c.mu.Lock()
	addr := c.addr
	c.mu.Unlock()

	if addr == nil {
		return ErrNotConnected
	}

	return c.dial(addr)
}

func (c *Connector) dial(addr *net.TCPAddr) error {
	if err := checkOptions(&c.opts); err != nil {
		return err
	}

	if c.opts.session == nil {
		return ErrInvalidSession
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.IsConnected() {
		return ErrAlreadyConnected
	}

	raw, err := net.DialTCP("tcp", nil, addr)
	if err != nil {
		c.logger.Debug("connect failed", "addr", addr, "error", err)
		return errors.Wrapf(err, "connect %s", addr)
	}

	conn := newConn(c.engine, raw, c.opts)
	if err = c.engine.attach(conn, c.opts.session); err != nil {
		return err
	}

	c.addr = addr
	c.conn = conn

	c.logger.Debug("connected", "conn_id", conn.id, "remote_addr", addr)

	return nil
}

// Conn returns the most recent connection, which may already be closed.
func (c *Connector) Conn() *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Disconnect closes the current connection, if any.
func (c *Connector) Disconnect() {
	if conn := c.Conn(); conn != nil {
		conn.Disconnect()
	}
}
