package rpcclient

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/scorep-tools/tracecost/internal/report"
	"github.com/scorep-tools/tracecost/internal/report/memreport"
	"github.com/scorep-tools/tracecost/internal/request"
	"github.com/scorep-tools/tracecost/internal/rpcserver"
	"github.com/scorep-tools/tracecost/internal/value"
)

// stubSession is a request.Session backed by a fixed in-memory report,
// used so the integration test doesn't touch the filesystem.
type stubSession struct {
	rpt *memreport.Report
}

func newStubSession() *stubSession {
	r := memreport.New()
	r.SetNumProcesses(1)
	region := r.AddRegion(report.Region{Name: "main", Paradigm: "user"})
	cn := r.AddCnode(region, report.NoCnode, 0, 0, []uint64{5}, []float64{1.5}, []uint64{0})
	m := r.AddMetric(report.Metric{Name: "time", DataType: value.Double, Visible: true})
	r.SetAggregatedValue(0, cn, m, value.Inclusive, 1.5)
	r.SetAggregatedValue(0, cn, m, value.Exclusive, 1.5)
	r.SetSystemTree(&report.SystemNode{
		Name:     "root",
		Children: []*report.SystemNode{{Name: "p0", IsLeaf: true, Kind: report.LocationProcess, ProcessID: 0}},
	})
	return &stubSession{rpt: r}
}

func (s *stubSession) OpenCube(string) error { return nil }
func (s *stubSession) CloseCube()            {}
func (s *stubSession) SaveCube(string) error { return nil }
func (s *stubSession) Report() (report.Report, bool) { return s.rpt, true }
func (s *stubSession) DefineMetric(def report.MetricDefinition) (report.MetricID, error) {
	return s.rpt.DefineMetric(def)
}
func (s *stubSession) MiscData(string) []byte { return []byte("hello") }
func (s *stubSession) FileSystem(string) ([]request.FileEntry, error) {
	return []request.FileEntry{{Name: "a.json"}}, nil
}
func (s *stubSession) LibraryVersion() int32 { return 7 }

func startTestServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go rpcserver.Serve(conn, 1, func() request.Session { return newStubSession() }, nil)
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func TestClientServerRoundTrip(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	c, err := Dial(addr, 1)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	ver := &request.VersionReq{}
	if err := c.Do(ver); err != nil {
		t.Fatalf("Version: %v", err)
	}
	if ver.LibraryVersion != 7 {
		t.Errorf("LibraryVersion = %d, want 7", ver.LibraryVersion)
	}

	misc := &request.MiscDataReq{Name: "anything"}
	if err := c.Do(misc); err != nil {
		t.Fatalf("MiscData: %v", err)
	}
	if string(misc.Data) != "hello" {
		t.Errorf("MiscData = %q, want hello", misc.Data)
	}

	tv := &request.TreeValueReq{MetricID: 0, CnodeID: 0, Process: 0, Flavour: value.Inclusive}
	if err := c.Do(tv); err != nil {
		t.Fatalf("TreeValue: %v", err)
	}
	if tv.Result.Float64() != 1.5 {
		t.Errorf("TreeValue = %v, want 1.5", tv.Result.Float64())
	}
}

func TestClientConcurrentRequests(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	c, err := Dial(addr, 1)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := &request.TreeValueReq{MetricID: 0, CnodeID: 0, Process: 0, Flavour: value.Inclusive}
			if err := c.Do(req); err != nil {
				errs <- err
				return
			}
			if req.Result.Float64() != 1.5 {
				errs <- fmt.Errorf("TreeValue = %v, want 1.5", req.Result.Float64())
			}
		}()
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for concurrent requests")
	}
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent request failed: %v", err)
		}
	}
}

func TestClientUnknownRequestUnrecoverable(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	c, err := Dial(addr, 0)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	// OpenCube is not in the version-0 catalogue.
	req := &request.OpenCubeReq{Path: "x"}
	err = c.Do(req)
	if err == nil {
		t.Fatal("expected error for request outside negotiated catalogue")
	}
	if _, ok := err.(*ErrUnrecoverable); !ok {
		t.Errorf("got %T, want *ErrUnrecoverable", err)
	}
}
