package netengine

import (
	"net"
	"strconv"
	"sync"

	"github.com/jpillora/sizestr"
	"github.com/pkg/errors"
	"github.com/someonegg/gox/syncx"
)

// ErrAlreadyStarted is returned by Start on a listener that is already listening.
var ErrAlreadyStarted = errors.New("listener already started")

// Listener accepts TCP connections and binds each one to a Session obtained
// from its SessionFactory.
type Listener struct {
	engine *Engine
	logger Logger
	opts   options

	mu       sync.Mutex
	listener *net.TCPListener
	shutdown bool
	done     syncx.DoneChan
}

// Start binds ip:port and begins accepting in the background.
// With reuseAddr the socket is bound with SO_REUSEADDR, and SO_REUSEPORT
// where the platform has it.
func (l *Listener) Start(ip string, port int, reuseAddr bool) error {
	if err := checkOptions(&l.opts); err != nil {
		return err
	}

	if l.opts.sessionFactory == nil {
		return ErrInvalidSessionFactory
	}

	if l.engine.isClosed() {
		return ErrEngineClosed
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.listener != nil {
		return ErrAlreadyStarted
	}

	address := net.JoinHostPort(ip, strconv.Itoa(port))
	lc := net.ListenConfig{Control: listenControl(reuseAddr)}

	ln, err := lc.Listen(l.engine.ctx, "tcp", address)
	if err != nil {
		return errors.Wrapf(err, "listen %s", address)
	}

	tcpListener := ln.(*net.TCPListener)
	done := syncx.NewDoneChan()

	l.engine.mu.Lock()
	err = l.engine.goLocked(func() {
		l.serve(tcpListener, done)
	})
	if err == nil {
		l.engine.listeners[l] = struct{}{}
	}
	l.engine.mu.Unlock()

	if err != nil {
		_ = tcpListener.Close()
		return err
	}

	l.listener = tcpListener
	l.shutdown = false
	l.done = done

	l.logger.Info("listener started", "addr", tcpListener.Addr(),
		"reuse_addr", reuseAddr,
		"read_buffer", sizestr.ToString(int64(l.opts.readBufferSize)),
		"max_packet", sizestr.ToString(int64(l.opts.maxPacketSize)))

	return nil
}

// serve accepts connections until the listener is stopped.
func (l *Listener) serve(ln *net.TCPListener, done syncx.DoneChan) {
	defer done.SetDone()

	for {
		conn, err := ln.AcceptTCP()
		if err != nil {
			l.mu.Lock()
			isShutdown := l.shutdown
			l.mu.Unlock()

			if isShutdown {
				l.logger.Info("listener stopped", "addr", ln.Addr())
				return
			}

			// Accept deadlines are retried; any other error ends the loop.
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			l.logger.Error("accept error", "addr", ln.Addr(), "error", err)
			return
		}

		l.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		l.accept(conn)
	}
}

func (l *Listener) accept(raw *net.TCPConn) {
	c := newConn(l.engine, raw, l.opts)

	session := l.opts.sessionFactory.CreateSession(c)
	if session == nil {
		l.logger.Info("connection rejected", "remote_addr", raw.RemoteAddr())
		c.Disconnect()
		return
	}

	if err := l.engine.attach(c, session); err != nil {
		l.logger.Debug("connection dropped", "remote_addr", raw.RemoteAddr(), "error", err)
	}
}

// Stop closes the listening socket and waits for the accept goroutine to
// exit. Connections already accepted are left running.
func (l *Listener) Stop() error {
	l.mu.Lock()
	ln := l.listener
	done := l.done
	l.listener = nil
	l.shutdown = true
	l.mu.Unlock()

	if ln == nil {
		return nil
	}

	err := ln.Close()
	<-done

	l.engine.mu.Lock()
	delete(l.engine.listeners, l)
	l.engine.mu.Unlock()

	return err
}

// Addr returns the listener's network address, or nil when not listening.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}
