package netengine

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/someonegg/gox/syncx"
	"golang.org/x/sync/errgroup"
)

// Errors returned by connection operations.
var (
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrPacket is reported when the Parser rejects the received stream.
	ErrPacket = errors.New("packet error")
	// ErrPacketTooLarge is reported when an incomplete frame outgrows the
	// maximum packet size.
	ErrPacketTooLarge = errors.New("packet too large")
)

// Conn is one live, or recently live, TCP connection.
//
// A Conn is created by a Listener on accept or by a Connector on a successful
// connect. It feeds the bytes it reads through its Parser and posts every
// complete frame to the engine, whose Run method hands it to the Session the
// connection was bound to. The Conn itself holds no reference to its Session;
// the engine keeps that binding, keyed by ID.
type Conn struct {
	id      uint64
	engine  *Engine
	rawConn *net.TCPConn
	logger  Logger
	opts    options

	local  *net.TCPAddr
	remote *net.TCPAddr

	// buf accumulates received bytes until the parser reports a frame.
	// Only touched by the receive goroutine.
	buf []byte

	writeMu sync.Mutex
	sendMsg chan []byte

	connected atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	done      syncx.DoneChan
}

func newConn(e *Engine, raw *net.TCPConn, opts options) *Conn {
	c := &Conn{
		id:      e.nextConnID(),
		engine:  e,
		rawConn: raw,
		opts:    opts,
		sendMsg: make(chan []byte, opts.sendQueueSize),
		local:   raw.LocalAddr().(*net.TCPAddr),
		remote:  raw.RemoteAddr().(*net.TCPAddr),
		done:    syncx.NewDoneChan(),
	}

	c.logger = loggerWith(e.logger, "conn_id", c.id)
	c.ctx, c.cancel = context.WithCancel(e.ctx)
	c.connected.Store(true)

	_ = raw.SetNoDelay(opts.noDelay)

	return c
}

// serve runs the connection's read and write loops until the connection is
// closed from either side, then posts the terminal events. It is the only
// place that posts eventTerminated, so OnTerminate is delivered exactly once.
func (c *Conn) serve() {
	c.logger.Debug("connection established", "local_addr", c.LocalAddr(), "remote_addr", c.RemoteAddr())

	group, child := errgroup.WithContext(c.ctx)

	group.Go(func() error {
		return c.readLoop()
	})

	group.Go(func() error {
		return c.writeLoop(child)
	})

	err := group.Wait()

	if c.connected.Swap(false) && err != nil && !errors.Is(err, io.EOF) {
		code := ErrCodeRecv
		if errors.Is(err, ErrPacket) || errors.Is(err, ErrPacketTooLarge) {
			code = ErrCodePacket
		}
		c.logger.Info("connection closed with error",
			"remote_addr", c.RemoteAddr(), "code", code, "error", err)
		c.engine.post(event{kind: eventError, conn: c, code: code, err: err})
	} else {
		c.logger.Debug("connection closed", "remote_addr", c.RemoteAddr())
	}

	c.cancel()
	_ = c.rawConn.Close()

	c.engine.post(event{kind: eventTerminated, conn: c})
	c.done.SetDone()
}

// readLoop reads from the socket and splits the stream into frames.
// It returns nil when the connection was closed locally.
func (c *Conn) readLoop() error {
	chunk := make([]byte, c.opts.readBufferSize)

	for {
		if c.opts.idleTimeout > 0 {
			_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.idleTimeout))
		}

		n, err := c.rawConn.Read(chunk)
		if n > 0 {
			if perr := c.frame(chunk[:n]); perr != nil {
				c.logger.Warn("framing error", "remote_addr", c.RemoteAddr(), "error", perr)
				return perr
			}
		}

		if err != nil {
			if !c.connected.Load() {
				return nil
			}
			return err
		}
	}
}

// frame appends data to the accumulation buffer and posts one event per
// complete frame. Several frames may arrive in one read, and one frame may
// span several reads.
func (c *Conn) frame(data []byte) error {
	c.buf = append(c.buf, data...)

	off := 0
	for off < len(c.buf) {
		n := c.opts.parser.Parse(c.buf[off:])
		if n < 0 {
			return ErrPacket
		}

		if n == 0 || n > len(c.buf)-off {
			break
		}

		msg := make([]byte, n)
		copy(msg, c.buf[off:off+n])
		c.engine.post(event{kind: eventReceived, conn: c, data: msg})
		off += n
	}

	c.buf = c.buf[:copy(c.buf, c.buf[off:])]

	if len(c.buf) > c.opts.maxPacketSize {
		return errors.Wrapf(ErrPacketTooLarge, "%d bytes pending", len(c.buf))
	}

	return nil
}

// writeLoop drains the DelaySend queue.
func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			// The engine was closed: unblock readLoop.
			if c.ctx.Err() != nil {
				c.Disconnect()
			}
			return ctx.Err()
		case data := <-c.sendMsg:
			if err := c.write(data); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) write(data []byte) error {
	c.writeMu.Lock()
	_, err := c.rawConn.Write(data)
	c.writeMu.Unlock()

	if err != nil {
		c.logger.Debug("write error", "remote_addr", c.RemoteAddr(), "error", err)
		c.fail(ErrCodeSend, err)
		return errors.Wrap(err, "send")
	}

	return nil
}

// fail reports err once and closes the connection.
func (c *Conn) fail(code ErrorCode, err error) {
	if !c.connected.Swap(false) {
		return
	}

	c.engine.post(event{kind: eventError, conn: c, code: code, err: err})
	c.cancel()
	_ = c.rawConn.Close()
}

// Send writes data to the socket immediately.
// A failed write is also reported through OnError, followed by OnTerminate.
func (c *Conn) Send(data []byte) error {
	if !c.connected.Load() {
		return ErrConnectionClosed
	}

	return c.write(data)
}

// DelaySend hands data to the connection's writer goroutine and returns once
// it is queued. Writes keep their order relative to other DelaySend calls.
// data must not be modified after the call.
func (c *Conn) DelaySend(data []byte) error {
	if !c.connected.Load() {
		return ErrConnectionClosed
	}

	select {
	case c.sendMsg <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Disconnect closes the connection. The receive goroutine observes the close
// and OnTerminate follows on a later Run. Safe to call multiple times.
func (c *Conn) Disconnect() {
	if !c.connected.Swap(false) {
		return
	}

	c.cancel()
	_ = c.rawConn.Close()
}

// ID returns the engine-wide identifier of the connection.
func (c *Conn) ID() uint64 {
	return c.id
}

// IsConnected reports whether the connection has not been closed yet.
func (c *Conn) IsConnected() bool {
	return c.connected.Load()
}

// Done returns a channel closed once the connection's goroutines have exited
// and its terminal event is queued.
func (c *Conn) Done() syncx.DoneChanR {
	return c.done.R()
}

// RemoteAddr returns the remote address of the connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.remote
}

// LocalAddr returns the local address of the connection.
func (c *Conn) LocalAddr() net.Addr {
	return c.local
}

// RemoteIP returns the remote IP as a string.
func (c *Conn) RemoteIP() string {
	return ipString(c.remote)
}

// RemotePort returns the remote port.
func (c *Conn) RemotePort() int {
	if c.remote == nil {
		return 0
	}
	return c.remote.Port
}

// LocalIP returns the local IP as a string.
func (c *Conn) LocalIP() string {
	return ipString(c.local)
}

// LocalPort returns the local port.
func (c *Conn) LocalPort() int {
	if c.local == nil {
		return 0
	}
	return c.local.Port
}

func ipString(addr *net.TCPAddr) string {
	if addr == nil {
		return ""
	}
	return addr.IP.String()
}

func (c *Conn) String() string {
	return "conn#" + strconv.FormatUint(c.id, 10)
}
