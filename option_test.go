package netengine

import (
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestParserOption(t *testing.T) {
	codec := NewCodec(0)
	opt := ParserOption(codec)

	var opts options
	opt(&opts)

	if opts.parser != codec {
		t.Error("parser not set correctly")
	}
}

func TestSessionOption(t *testing.T) {
	session := &mockSession{}
	opt := SessionOption(session)

	var opts options
	opt(&opts)

	if opts.session != session {
		t.Error("session not set correctly")
	}
}

func TestSessionFactoryOption(t *testing.T) {
	called := false
	factory := SessionFactoryFunc(func(c *Conn) Session {
		called = true
		return nil
	})
	opt := SessionFactoryOption(factory)

	var opts options
	opt(&opts)

	if opts.sessionFactory == nil {
		t.Fatal("sessionFactory is nil")
	}

	// Call to verify it's the right function
	opts.sessionFactory.CreateSession(nil)
	if !called {
		t.Error("session factory not called")
	}
}

func TestParserFunc(t *testing.T) {
	p := ParserFunc(func(buf []byte) int { return len(buf) })

	if got := p.Parse([]byte("abc")); got != 3 {
		t.Errorf("Parse = %d, want 3", got)
	}
}

func TestCheckOptions_Defaults(t *testing.T) {
	opts := newOptions([]Option{ParserOption(NewCodec(0))})

	if err := checkOptions(&opts); err != nil {
		t.Fatalf("checkOptions failed: %v", err)
	}

	if opts.readBufferSize != defaultReadBufferSize {
		t.Errorf("readBufferSize = %d, want %d", opts.readBufferSize, defaultReadBufferSize)
	}
	if opts.sendQueueSize != defaultSendQueueSize {
		t.Errorf("sendQueueSize = %d, want %d", opts.sendQueueSize, defaultSendQueueSize)
	}
	if opts.maxPacketSize != defaultMaxPacketSize {
		t.Errorf("maxPacketSize = %d, want %d", opts.maxPacketSize, defaultMaxPacketSize)
	}
	if opts.idleTimeout != 0 {
		t.Errorf("idleTimeout = %v, want 0", opts.idleTimeout)
	}
	if !opts.noDelay {
		t.Error("noDelay disabled by default")
	}
}

func TestCheckOptions_MissingParser(t *testing.T) {
	var opts options

	if err := checkOptions(&opts); !errors.Is(err, ErrInvalidParser) {
		t.Errorf("checkOptions = %v, want ErrInvalidParser", err)
	}
}

func TestOptions_MultipleOptions(t *testing.T) {
	codec := NewCodec(0)
	idle := time.Second * 45

	opts := newOptions([]Option{
		ParserOption(codec),
		ReadBufferSizeOption(512),
		SendQueueSizeOption(8),
		MaxPacketSizeOption(8192),
		IdleTimeoutOption(idle),
		NoDelayOption(false),
	})

	if err := checkOptions(&opts); err != nil {
		t.Fatalf("checkOptions failed: %v", err)
	}

	if opts.parser != codec {
		t.Error("parser not set")
	}
	if opts.readBufferSize != 512 {
		t.Errorf("readBufferSize = %d, want 512", opts.readBufferSize)
	}
	if opts.sendQueueSize != 8 {
		t.Errorf("sendQueueSize = %d, want 8", opts.sendQueueSize)
	}
	if opts.maxPacketSize != 8192 {
		t.Errorf("maxPacketSize = %d, want 8192", opts.maxPacketSize)
	}
	if opts.idleTimeout != idle {
		t.Errorf("idleTimeout = %v, want %v", opts.idleTimeout, idle)
	}
	if opts.noDelay {
		t.Error("noDelay not cleared")
	}
}

func TestErrorCode_String(t *testing.T) {
	tests := map[ErrorCode]string{
		ErrCodeRecv:   "recv error",
		ErrCodeSend:   "send error",
		ErrCodePacket: "packet error",
		ErrorCode(0):  "unknown error",
	}

	for code, want := range tests {
		if got := code.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", code, got, want)
		}
	}
}
