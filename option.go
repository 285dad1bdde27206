package netengine

import (
	"time"

	"github.com/pkg/errors"
)

// Errors returned when a Listener or Connector is started without the
// collaborators it needs.
var (
	// ErrInvalidParser is returned when no parser is provided.
	ErrInvalidParser = errors.New("invalid parser")
	// ErrInvalidSession is returned when a Connector has no session.
	ErrInvalidSession = errors.New("invalid session")
	// ErrInvalidSessionFactory is returned when a Listener has no session factory.
	ErrInvalidSessionFactory = errors.New("invalid session factory")
)

// Default configuration values.
const (
	// defaultReadBufferSize is the size of a single socket read.
	defaultReadBufferSize = 4 * 1024
	// defaultSendQueueSize is the capacity of the DelaySend queue.
	defaultSendQueueSize = 64
	// defaultMaxPacketSize caps the receive accumulation buffer (1MB).
	defaultMaxPacketSize = 1024 * 1024
)

// options holds the configuration shared by listeners and connectors.
// Every accepted or connected Conn copies the options of its factory.
type options struct {
	parser         Parser
	session        Session
	sessionFactory SessionFactory

	readBufferSize int           // bytes requested per socket read
	sendQueueSize  int           // capacity of the DelaySend queue
	maxPacketSize  int           // largest unconsumed input before a packet error
	idleTimeout    time.Duration // read deadline, 0 disables it
	noDelay        bool
}

// Option is a function that configures a Listener or Connector.
type Option func(*options)

// checkOptions fills default values.
// Required collaborators are validated by the caller, which knows whether it
// needs a Session or a SessionFactory.
func checkOptions(opts *options) error {
	if opts.parser == nil {
		return ErrInvalidParser
	}

	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}

	if opts.sendQueueSize <= 0 {
		opts.sendQueueSize = defaultSendQueueSize
	}

	if opts.maxPacketSize <= 0 {
		opts.maxPacketSize = defaultMaxPacketSize
	}

	if opts.idleTimeout < 0 {
		opts.idleTimeout = 0
	}

	return nil
}

func newOptions(opt []Option) options {
	opts := options{noDelay: true}
	for _, o := range opt {
		o(&opts)
	}
	return opts
}

// ParserOption returns an Option that sets the frame parser.
// The parser is required before Listener.Start or Connector.Connect.
func ParserOption(parser Parser) Option {
	return func(o *options) {
		o.parser = parser
	}
}

// SessionOption returns an Option that sets the Session bound to every
// connection a Connector establishes. Ignored by listeners.
func SessionOption(session Session) Option {
	return func(o *options) {
		o.session = session
	}
}

// SessionFactoryOption returns an Option that sets the factory a Listener
// asks for a Session on each accepted connection. Ignored by connectors.
func SessionFactoryOption(factory SessionFactory) Option {
	return func(o *options) {
		o.sessionFactory = factory
	}
}

// ReadBufferSizeOption returns an Option that sets how many bytes are
// requested from the socket per read.
func ReadBufferSizeOption(size int) Option {
	return func(o *options) {
		o.readBufferSize = size
	}
}

// SendQueueSizeOption returns an Option that sets the size of the queue
// feeding the writer goroutine used by DelaySend.
func SendQueueSizeOption(size int) Option {
	return func(o *options) {
		o.sendQueueSize = size
	}
}

// MaxPacketSizeOption returns an Option that sets the maximum number of
// unconsumed bytes a connection may accumulate while waiting for a frame to
// complete. Exceeding it is reported as ErrCodePacket.
func MaxPacketSizeOption(size int) Option {
	return func(o *options) {
		o.maxPacketSize = size
	}
}

// IdleTimeoutOption returns an Option that sets a read deadline on the socket.
// A connection that receives nothing for this long is reported with
// ErrCodeRecv. Zero, the default, leaves reads unbounded.
func IdleTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = timeout
	}
}

// NoDelayOption returns an Option that controls TCP_NODELAY. Enabled by default.
func NoDelayOption(noDelay bool) Option {
	return func(o *options) {
		o.noDelay = noDelay
	}
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// LoggerOption sets the logger for the engine and everything it creates.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}
