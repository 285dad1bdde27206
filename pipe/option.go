package pipe

import (
	"github.com/Zereker/netengine"
)

// defaultLocalIDBase is the first id handed to inbound pipes. Outbound ids
// are chosen by the caller and are expected to stay below it.
const defaultLocalIDBase uint32 = 0x80000000

type options struct {
	logger      netengine.Logger
	localIDBase uint32
	maxFrame    int
	reuseAddr   bool
	reactor     []netengine.Option
}

// Option configures a Module.
type Option func(*options)

// LoggerOption sets the module's logger. Defaults to the engine's logger.
func LoggerOption(logger netengine.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// LocalIDBaseOption sets the first id allocated to inbound pipes.
func LocalIDBaseOption(base uint32) Option {
	return func(o *options) {
		o.localIDBase = base
	}
}

// MaxFrameOption limits the size of a single frame, header included.
// Larger frames are treated as a corrupt stream. Zero means no limit beyond
// the reactor's maximum packet size.
func MaxFrameOption(size int) Option {
	return func(o *options) {
		o.maxFrame = size
	}
}

// ReuseAddrOption makes AddListen bind with address reuse.
func ReuseAddrOption(reuse bool) Option {
	return func(o *options) {
		o.reuseAddr = reuse
	}
}

// ReactorOptions are applied to every Listener and Connector the module
// creates. The parser and session options are always set by the module.
func ReactorOptions(opts ...netengine.Option) Option {
	return func(o *options) {
		o.reactor = append(o.reactor, opts...)
	}
}

// connOptions returns the reactor options for a new Listener or Connector,
// each with its own codec.
func (o *options) connOptions(extra ...netengine.Option) []netengine.Option {
	opts := make([]netengine.Option, 0, len(o.reactor)+len(extra)+2)
	opts = append(opts, o.reactor...)
	if o.maxFrame > 0 {
		opts = append(opts, netengine.MaxPacketSizeOption(o.maxFrame))
	}
	opts = append(opts, netengine.ParserOption(netengine.NewCodec(o.maxFrame)))
	return append(opts, extra...)
}
