package catalogue

import (
	"context"
	"testing"

	"github.com/scorep-tools/tracecost/internal/group"
	"github.com/scorep-tools/tracecost/internal/oracle"
	"github.com/scorep-tools/tracecost/internal/report"
	"github.com/scorep-tools/tracecost/internal/report/memreport"
)

type fakeRunner struct{ out []byte }

func (f fakeRunner) Run(ctx context.Context, stdin []byte) ([]byte, error) {
	return f.out, nil
}

func newOracle(t *testing.T) *oracle.Oracle {
	t.Helper()
	runner := fakeRunner{out: []byte(
		"Enter 60\nLeave 60\nCallingContextEnter 40\nCallingContextLeave 40\n" +
			"CallingContextSample 30\nProgramBegin 20\nProgramEnd 20\nMetric 0 8\n" +
			"ParameterInt 12\nParameterString 12\nTimestamp 8\nMeasurementOnOff 10\n",
	)}
	o, err := oracle.LoadWith(context.Background(), runner, nil, oracle.AllBaseEvents(0))
	if err != nil {
		t.Fatalf("LoadWith: %v", err)
	}
	return o
}

// minimalProfile reproduces the scenario from the spec's worked example:
// a single USR, non-dynamic region A visited 10 times, no hits.
func minimalProfile() (*memreport.Report, report.RegionID) {
	r := memreport.New()
	r.SetNumProcesses(1)
	r.SetHasHits(false)
	a := r.AddRegion(report.Region{Name: "A", Paradigm: group.ParadigmUser})
	r.AddCnode(a, report.NoCnode, 0, 0, []uint64{10}, []float64{1.0}, []uint64{0})
	return r, a
}

func TestBytesPerVisitMinimal(t *testing.T) {
	o := newOracle(t)
	cat := Register(o, 0)
	r, a := minimalProfile()

	bpv := cat.BytesPerVisit(r)
	// Enter+Leave (each with timestamp) plus the always-on Metric
	// contributor, queried for 0 dense counters.
	if got, want := bpv[a], 60+8+60+8+16; got != want {
		t.Errorf("bytesPerVisit(A) = %d, want %d", got, want)
	}
}

func TestBytesPerVisitSamplingIsZero(t *testing.T) {
	o := newOracle(t)
	cat := Register(o, 0)
	r := memreport.New()
	r.SetNumProcesses(1)
	r.SetHasHits(true)
	s := r.AddRegion(report.Region{Name: "S", Paradigm: group.ParadigmSampling})
	r.AddCnode(s, report.NoCnode, 0, 0, []uint64{5}, []float64{0.1}, []uint64{5})

	bpv := cat.BytesPerVisit(r)
	if got := bpv[s]; got != 0 {
		t.Errorf("bytesPerVisit(sampling) = %d, want 0", got)
	}
}

func TestBytesPerVisitHasHitsSwitchesToCallingContext(t *testing.T) {
	o := newOracle(t)
	cat := Register(o, 0)
	r := memreport.New()
	r.SetNumProcesses(1)
	r.SetHasHits(true)
	a := r.AddRegion(report.Region{Name: "A", Paradigm: group.ParadigmUser})
	r.AddCnode(a, report.NoCnode, 0, 0, []uint64{1}, []float64{1.0}, []uint64{1})

	bpv := cat.BytesPerVisit(r)
	// CallingContextEnter/Leave/Sample (+timestamp each) plus the
	// always-on Metric contributor; Enter/Leave are suppressed by hasHits.
	want := (40 + 8) + (40 + 8) + (30 + 8) + 16
	if got := bpv[a]; got != want {
		t.Errorf("bytesPerVisit(A, hasHits) = %d, want %d", got, want)
	}
}
