package request

import (
	"bytes"
	"testing"

	"github.com/scorep-tools/tracecost/internal/report"
	"github.com/scorep-tools/tracecost/internal/report/memreport"
	"github.com/scorep-tools/tracecost/internal/value"
	"github.com/scorep-tools/tracecost/internal/wire"
)

// fakeSession is a minimal Session backed by a memreport.Report, used to
// exercise Execute without a real server connection.
type fakeSession struct {
	rpt     report.Report
	opened  bool
	version int32
}

func (s *fakeSession) OpenCube(path string) error { s.opened = true; return nil }
func (s *fakeSession) CloseCube()                 { s.opened = false }
func (s *fakeSession) SaveCube(path string) error  { return nil }
func (s *fakeSession) Report() (report.Report, bool) {
	if !s.opened {
		return nil, false
	}
	return s.rpt, true
}
func (s *fakeSession) DefineMetric(def report.MetricDefinition) (report.MetricID, error) {
	return s.rpt.DefineMetric(def)
}
func (s *fakeSession) MiscData(name string) []byte { return nil }
func (s *fakeSession) FileSystem(path string) ([]FileEntry, error) {
	return []FileEntry{{Name: "a.cube", Size: 10}}, nil
}
func (s *fakeSession) LibraryVersion() int32 { return s.version }

// buildFixture assembles a two-process, two-region profile: a root USR
// region calling a child region, both with a constant per-process value
// for one metric, matching the shape worked example 1 uses elsewhere.
func buildFixture(t *testing.T) *memreport.Report {
	t.Helper()
	r := memreport.New()
	r.SetNumProcesses(2)

	root := r.AddRegion(report.Region{Name: "main", Paradigm: "user", IsRoot: false})
	child := r.AddRegion(report.Region{Name: "work", Paradigm: "user"})

	rootCn := r.AddCnode(root, report.NoCnode, 0, 0, []uint64{1, 1}, []float64{2.0, 2.0}, []uint64{0, 0})
	childCn := r.AddCnode(child, rootCn, 0, 0, []uint64{10, 10}, []float64{1.0, 1.0}, []uint64{0, 0})

	m := r.AddMetric(report.Metric{Name: "time", DataType: value.Double, Visible: true})

	r.SetAggregatedValue(0, rootCn, m, value.Inclusive, 2.0)
	r.SetAggregatedValue(0, rootCn, m, value.Exclusive, 1.0)
	r.SetAggregatedValue(0, childCn, m, value.Inclusive, 1.0)
	r.SetAggregatedValue(0, childCn, m, value.Exclusive, 1.0)
	r.SetAggregatedValue(1, rootCn, m, value.Inclusive, 2.0)
	r.SetAggregatedValue(1, rootCn, m, value.Exclusive, 1.0)
	r.SetAggregatedValue(1, childCn, m, value.Inclusive, 1.0)
	r.SetAggregatedValue(1, childCn, m, value.Exclusive, 1.0)

	tree := &report.SystemNode{
		Name: "machine",
		Children: []*report.SystemNode{
			{Name: "p0", IsLeaf: true, Kind: report.LocationProcess, ProcessID: 0},
			{Name: "p1", IsLeaf: true, Kind: report.LocationProcess, ProcessID: 1},
		},
	}
	r.SetSystemTree(tree)
	return r
}

func roundTripSelection(t *testing.T, sel Selection) Selection {
	t.Helper()
	var buf bytes.Buffer
	if err := encodeSelection(wire.NewWriter(&buf), sel); err != nil {
		t.Fatalf("encodeSelection: %v", err)
	}
	got, err := decodeSelection(wire.NewReader(&buf, false))
	if err != nil {
		t.Fatalf("decodeSelection: %v", err)
	}
	return got
}

func TestSelectionRoundTrip(t *testing.T) {
	sel := Selection{IDs: []uint32{3, 1, 4}, Flavour: value.Exclusive}
	got := roundTripSelection(t, sel)
	if got.Flavour != sel.Flavour || len(got.IDs) != len(sel.IDs) {
		t.Fatalf("got %+v, want %+v", got, sel)
	}
	for i, id := range sel.IDs {
		if got.IDs[i] != id {
			t.Errorf("IDs[%d] = %d, want %d", i, got.IDs[i], id)
		}
	}
}

func TestSelectionRoundTripEmpty(t *testing.T) {
	got := roundTripSelection(t, Selection{})
	if len(got.IDs) != 0 {
		t.Errorf("got %d ids, want 0", len(got.IDs))
	}
}

func TestNodeSelectionRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	ns := NodeSelection{ByRegion: true, Sel: Selection{IDs: []uint32{7}}}
	if err := encodeNodeSelection(wire.NewWriter(&buf), ns); err != nil {
		t.Fatalf("encodeNodeSelection: %v", err)
	}
	got, err := decodeNodeSelection(wire.NewReader(&buf, false))
	if err != nil {
		t.Fatalf("decodeNodeSelection: %v", err)
	}
	if got.ByRegion != ns.ByRegion || len(got.Sel.IDs) != 1 || got.Sel.IDs[0] != 7 {
		t.Fatalf("got %+v, want %+v", got, ns)
	}
}

func TestWriteReadValuesRoundTrip(t *testing.T) {
	vs := []value.Value{value.DoubleValue(value.Double, 1.5), value.DoubleValue(value.Double, -3.0)}
	var buf bytes.Buffer
	if err := writeValues(wire.NewWriter(&buf), vs); err != nil {
		t.Fatalf("writeValues: %v", err)
	}
	got, err := readValues(wire.NewReader(&buf, false), value.Double, 0, false)
	if err != nil {
		t.Fatalf("readValues: %v", err)
	}
	if len(got) != 2 || got[0].Float64() != 1.5 || got[1].Float64() != -3.0 {
		t.Fatalf("got %+v", got)
	}
}

func TestNewUnknownIDFails(t *testing.T) {
	if _, err := New(ID(999)); err == nil {
		t.Fatal("expected error for unknown request id")
	}
}

func TestCatalogueForVersion(t *testing.T) {
	v0 := CatalogueForVersion(0)
	if !v0[IDDisconnect] || v0[IDOpenCube] {
		t.Errorf("version 0 catalogue wrong: %+v", v0)
	}
	v1 := CatalogueForVersion(1)
	if !v1[IDDisconnect] || !v1[IDOpenCube] || !v1[IDMetricTreeValues] {
		t.Errorf("version 1 catalogue missing entries: %+v", v1)
	}
}

func TestMetricTreeValuesReqExecute(t *testing.T) {
	s := &fakeSession{rpt: buildFixture(t), opened: true}
	req := &MetricTreeValuesReq{}
	if err := req.Execute(s); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(req.Inclusive) != 1 || len(req.Exclusive) != 1 {
		t.Fatalf("expected 1 metric's worth of values, got incl=%d excl=%d", len(req.Inclusive), len(req.Exclusive))
	}
	// Summed across both processes and all cnodes: (2+2)+(1+1) inclusive.
	if got := req.Inclusive[0].Float64(); got != 6.0 {
		t.Errorf("inclusive total = %v, want 6.0", got)
	}
}

func TestMetricTreeValuesReqNoCubeOpen(t *testing.T) {
	s := &fakeSession{rpt: buildFixture(t), opened: false}
	req := &MetricTreeValuesReq{}
	if err := req.Execute(s); err == nil {
		t.Fatal("expected ErrNoCubeOpen")
	}
}

func TestMetricTreeValuesReqWireRoundTrip(t *testing.T) {
	req := &MetricTreeValuesReq{
		Node:   NodeSelection{Sel: Selection{IDs: []uint32{0}}},
		SysRes: Selection{IDs: []uint32{0, 1}},
	}
	var buf bytes.Buffer
	if err := req.EncodeRequest(wire.NewWriter(&buf)); err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	got := &MetricTreeValuesReq{}
	if err := got.DecodeRequest(wire.NewReader(&buf, false)); err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if len(got.Node.Sel.IDs) != 1 || len(got.SysRes.IDs) != 2 {
		t.Fatalf("got %+v", got)
	}
}

func TestFlatTreeValuesReqExecute(t *testing.T) {
	s := &fakeSession{rpt: buildFixture(t), opened: true}
	req := &FlatTreeValuesReq{}
	if err := req.Execute(s); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(req.Inclusive) != 2 {
		t.Fatalf("expected one row per region, got %d", len(req.Inclusive))
	}
	// region 0 (main, root cnode only): inclusive 2+2=4, exclusive 1+1=2.
	if got := req.Inclusive[0].Float64(); got != 4.0 {
		t.Errorf("region 0 inclusive = %v, want 4.0", got)
	}
	if got := req.Difference[0].Float64(); got != 2.0 {
		t.Errorf("region 0 difference = %v, want 2.0", got)
	}
}

func TestCallpathTreeValuesReqExecute(t *testing.T) {
	s := &fakeSession{rpt: buildFixture(t), opened: true}
	req := &CallpathTreeValuesReq{}
	if err := req.Execute(s); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(req.Inclusive) != 2 {
		t.Fatalf("expected one row per cnode, got %d", len(req.Inclusive))
	}
}

func TestCallpathSubtreeValuesReqExecute(t *testing.T) {
	s := &fakeSession{rpt: buildFixture(t), opened: true}
	req := &CallpathSubtreeValuesReq{RootCnode: 0, Depth: 0}
	if err := req.Execute(s); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(req.Inclusive) != 1 {
		t.Fatalf("depth 0 should return only the root cnode, got %d rows", len(req.Inclusive))
	}
	if _, ok := req.IDIndex[0]; !ok {
		t.Errorf("IDIndex missing root cnode entry: %+v", req.IDIndex)
	}
}

func TestMetricSubtreeValuesReqExecute(t *testing.T) {
	s := &fakeSession{rpt: buildFixture(t), opened: true}
	req := &MetricSubtreeValuesReq{RootMetric: 0, Depth: 5}
	if err := req.Execute(s); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(req.Inclusive) != 1 {
		t.Fatalf("expected 1 metric (no children), got %d", len(req.Inclusive))
	}
}

func TestSystemTreeValuesReqExecute(t *testing.T) {
	s := &fakeSession{rpt: buildFixture(t), opened: true}
	req := &SystemTreeValuesReq{}
	if err := req.Execute(s); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(req.Inclusive) != 2 {
		t.Fatalf("expected one row per process leaf, got %d", len(req.Inclusive))
	}
	if got := req.Inclusive[0].Float64(); got != 3.0 {
		t.Errorf("process 0 inclusive total = %v, want 3.0 (2.0 root + 1.0 child)", got)
	}
}

func TestTreeValueReqExecute(t *testing.T) {
	s := &fakeSession{rpt: buildFixture(t), opened: true}
	req := &TreeValueReq{MetricID: 0, CnodeID: 0, Process: 0, Flavour: value.Inclusive}
	if err := req.Execute(s); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := req.Result.Float64(); got != 2.0 {
		t.Errorf("result = %v, want 2.0", got)
	}
}

func TestTreeValueReqWireRoundTrip(t *testing.T) {
	req := &TreeValueReq{MetricID: 1, CnodeID: 2, Process: 3, Flavour: value.Exclusive}
	var buf bytes.Buffer
	if err := req.EncodeRequest(wire.NewWriter(&buf)); err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	got := &TreeValueReq{}
	if err := got.DecodeRequest(wire.NewReader(&buf, false)); err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if got.MetricID != 1 || got.CnodeID != 2 || got.Process != 3 || got.Flavour != value.Exclusive {
		t.Fatalf("got %+v", got)
	}
}

func TestTreeValueReqResponseRoundTrip(t *testing.T) {
	req := &TreeValueReq{Result: value.DoubleValue(value.Double, 42.5)}
	var buf bytes.Buffer
	if err := req.EncodeResponse(wire.NewWriter(&buf)); err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	got := &TreeValueReq{}
	if err := got.DecodeResponse(wire.NewReader(&buf, false)); err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if got.Result.Float64() != 42.5 {
		t.Errorf("Result = %v, want 42.5", got.Result.Float64())
	}
}
