package netengine

// Parser splits the accumulated byte stream of a connection into frames.
//
// Parse is handed everything received so far that has not yet been consumed
// and reports the length of the first complete frame:
//   - 0: the frame is incomplete, wait for more bytes
//   - n > 0: the first n bytes form one complete frame
//   - n < 0: the stream is corrupt and cannot be resynchronised
//
// Parse is called from the connection's receive goroutine and must not
// retain buf.
type Parser interface {
	Parse(buf []byte) int
}

// ParserFunc adapts an ordinary function to the Parser interface.
type ParserFunc func(buf []byte) int

// Parse calls f(buf).
func (f ParserFunc) Parse(buf []byte) int {
	return f(buf)
}

// Session receives the lifecycle callbacks of exactly one connection at a
// time. Every method is invoked from the goroutine that calls Engine.Run, and
// never concurrently with any other Session callback of the same engine, so
// implementations need no locking of their own.
type Session interface {
	// OnEstablish is called once the connection is ready for Send.
	OnEstablish(c *Conn)
	// OnRecv is called for each complete frame, as delimited by the Parser.
	// msg is owned by the callee.
	OnRecv(c *Conn, msg []byte)
	// OnError reports a transport or framing failure. OnTerminate follows.
	OnError(c *Conn, code ErrorCode, err error)
	// OnTerminate is the last callback for c.
	OnTerminate(c *Conn)
}

// SessionFactory creates a Session for each connection accepted by a
// Listener. Returning nil rejects the connection: it is closed before any
// event for it is posted.
//
// CreateSession runs on the listener's accept goroutine.
type SessionFactory interface {
	CreateSession(c *Conn) Session
}

// SessionFactoryFunc adapts an ordinary function to the SessionFactory interface.
type SessionFactoryFunc func(c *Conn) Session

// CreateSession calls f(c).
func (f SessionFactoryFunc) CreateSession(c *Conn) Session {
	return f(c)
}

// ErrorCode classifies the failure reported through Session.OnError.
type ErrorCode int

const (
	// ErrCodeRecv is a failed read on the socket.
	ErrCodeRecv ErrorCode = iota + 1
	// ErrCodeSend is a failed write on the socket.
	ErrCodeSend
	// ErrCodePacket means the Parser rejected the stream, or a frame grew
	// past the maximum packet size.
	ErrCodePacket
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeRecv:
		return "recv error"
	case ErrCodeSend:
		return "send error"
	case ErrCodePacket:
		return "packet error"
	default:
		return "unknown error"
	}
}
