package pipe

// ReportCode is delivered to the Reporter and to Sinks.
type ReportCode int

const (
	// Success means a pipe was attached to a connection, inbound or outbound.
	Success ReportCode = 0
	// Disconnect means a pipe lost its connection or was removed.
	Disconnect ReportCode = -1
	// RepeatConn means AddConn was called for an id already connecting or attached.
	RepeatConn ReportCode = -2
	// RemoteIDErr means the operation named an id the module does not know.
	RemoteIDErr ReportCode = -3
)

func (c ReportCode) String() string {
	switch c {
	case Success:
		return "success"
	case Disconnect:
		return "disconnect"
	case RepeatConn:
		return "repeat conn"
	case RemoteIDErr:
		return "remote id error"
	default:
		return "unknown"
	}
}

// Reporter receives module-level reports. It is called from Module.Run.
type Reporter interface {
	OnReport(code ReportCode, id uint32)
}

// ReporterFunc adapts an ordinary function to the Reporter interface.
type ReporterFunc func(code ReportCode, id uint32)

// OnReport calls f(code, id).
func (f ReporterFunc) OnReport(code ReportCode, id uint32) {
	f(code, id)
}

// Sink consumes the messages of one business id on a Pipe. It is called
// from Module.Run.
type Sink interface {
	// OnRecv is called for every message addressed to businessID.
	OnRecv(businessID uint16, payload []byte)
	// OnReport is called with Success when the owning pipe is (re)attached
	// and with Disconnect when it loses its connection.
	OnReport(businessID uint16, code ReportCode)
}

// notice is a report waiting to be delivered by Run.
type notice struct {
	code  ReportCode
	id    uint32
	sinks map[uint16]sinkEntry
}
