package serverdriver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/scorep-tools/tracecost/internal/config"
	"github.com/scorep-tools/tracecost/internal/request"
	"github.com/scorep-tools/tracecost/internal/rpcclient"
)

func TestDriverServesAndShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cfg := config.Default()
	cfg.ListenAddr = addr
	cfg.ReportRoot = t.TempDir()

	d := New(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	var c *rpcclient.Client
	deadline := time.Now().Add(2 * time.Second)
	for {
		c, err = rpcclient.Dial(addr, 1)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("never managed to dial driver: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	ver := &request.VersionReq{}
	if err := c.Do(ver); err != nil {
		t.Fatalf("Version: %v", err)
	}
	if ver.LibraryVersion != LibraryVersion {
		t.Errorf("LibraryVersion = %d, want %d", ver.LibraryVersion, LibraryVersion)
	}
	c.Close()

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run returned %v after cancel, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
