package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Zereker/netengine"
	"github.com/Zereker/netengine/pipe"
)

const (
	listenIP   = "127.0.0.1"
	listenPort = 12345

	clientPipeID = 1
	echoBusiness = 7
)

// echoSink sends every message back on the pipe it arrived on.
type echoSink struct {
	pipe *pipe.Pipe
}

func (s *echoSink) OnRecv(businessID uint16, payload []byte) {
	if err := s.pipe.Send(businessID, payload); err != nil {
		slog.Error("echo failed", "pipe_id", s.pipe.ID(), "error", err)
	}
}

func (s *echoSink) OnReport(businessID uint16, code pipe.ReportCode) {
	slog.Info("echo sink report", "pipe_id", s.pipe.ID(), "business_id", businessID, "code", code)
}

// printSink logs what comes back.
type printSink struct{}

func (printSink) OnRecv(businessID uint16, payload []byte) {
	slog.Info("received", "business_id", businessID, "payload", string(payload))
}

func (printSink) OnReport(businessID uint16, code pipe.ReportCode) {}

type server struct {
	module *pipe.Module
}

func (s *server) OnReport(code pipe.ReportCode, id uint32) {
	slog.Info("pipe report", "pipe_id", id, "code", code)

	if code != pipe.Success {
		return
	}

	p := s.module.GetPipe(id)
	if p == nil {
		return
	}

	if id == clientPipeID {
		p.SetSink(echoBusiness, printSink{}, 0)
		if err := p.Send(echoBusiness, []byte("ping")); err != nil {
			slog.Error("send failed", "error", err)
		}
		return
	}

	if _, _, ok := p.Sink(echoBusiness); !ok {
		p.SetSink(echoBusiness, &echoSink{pipe: p}, 0)
	}
}

func main() {
	engine := netengine.New(netengine.LoggerOption(slog.Default()))
	defer engine.Close()

	s := &server{}
	s.module = pipe.New(engine, s, pipe.ReuseAddrOption(true))

	if len(os.Args) > 1 {
		if err := s.module.ReloadIPList(os.Args[1]); err != nil {
			slog.Error("failed to load ip list", "error", err)
			return
		}
	}

	if err := s.module.AddListen(listenIP, listenPort); err != nil {
		slog.Error("failed to listen", "error", err)
		return
	}

	if err := s.module.AddConn(clientPipeID, listenIP, listenPort); err != nil {
		slog.Error("failed to connect", "error", err)
		return
	}

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down")
			_ = s.module.Close()
			s.module.Run(0)
			return
		case <-ticker.C:
			s.module.Run(0)
		}
	}
}
