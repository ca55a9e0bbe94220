// Package serverdriver runs cubeserver's accept loop: one listener, one
// worker goroutine per accepted connection, each running rpcserver.Serve
// against a fresh session (spec §5: "one accept thread; one worker
// future per accepted client").
package serverdriver

import (
	"context"
	"net"

	"github.com/scorep-tools/tracecost/internal/config"
	"github.com/scorep-tools/tracecost/internal/request"
	"github.com/scorep-tools/tracecost/internal/rpcserver"
	"github.com/scorep-tools/tracecost/internal/session"
	"go.uber.org/zap"
)

// LibraryVersion is the numeric version cubeserver reports via the
// Version request.
const LibraryVersion int32 = 1

// Driver owns the listener and dispatches accepted connections.
type Driver struct {
	cfg config.Config
	log *zap.Logger
}

// New builds a driver from cfg, logging via log (zap.NewNop() if nil).
func New(cfg config.Config, log *zap.Logger) *Driver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{cfg: cfg, log: log}
}

// Run listens on cfg.ListenAddr and serves connections until ctx is
// canceled, at which point the listener is closed and Run returns. Each
// connection gets its own request.Session rooted at cfg.ReportRoot.
func (d *Driver) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", d.cfg.ListenAddr)
	if err != nil {
		return err
	}
	d.log.Info("listening", zap.String("addr", d.cfg.ListenAddr), zap.String("report_root", d.cfg.ReportRoot))

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go func() {
			factory := func() request.Session { return session.New(d.cfg.ReportRoot, LibraryVersion) }
			if err := rpcserver.Serve(conn, d.cfg.MaxProtocolVersion, factory, d.log); err != nil {
				d.log.Debug("connection ended", zap.Error(err))
			}
		}()
	}
}
