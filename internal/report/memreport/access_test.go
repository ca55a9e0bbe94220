package memreport

import (
	"testing"

	"github.com/scorep-tools/tracecost/internal/group"
	"github.com/scorep-tools/tracecost/internal/report"
)

// TestGroupCOMTaint reproduces worked example 4: a USR region whose
// call path transits an MPI region gets reclassified COM.
func TestGroupCOMTaint(t *testing.T) {
	r := New()
	userA := r.AddRegion(report.Region{Name: "user_A", Paradigm: group.ParadigmUser})
	mpiSend := r.AddRegion(report.Region{Name: "MPI_Send", Paradigm: group.ParadigmMPI})
	parent := r.AddCnode(userA, report.NoCnode, 0, 0, []uint64{1}, []float64{0}, []uint64{0})
	r.AddCnode(mpiSend, parent, 0, 0, []uint64{1}, []float64{0}, []uint64{0})

	if got := r.Group(userA); got != group.COM {
		t.Errorf("Group(user_A) = %v, want COM", got)
	}
	if got := r.Group(mpiSend); got != group.MPI {
		t.Errorf("Group(MPI_Send) = %v, want MPI", got)
	}
}

func TestGroupUntaintedUSR(t *testing.T) {
	r := New()
	userA := r.AddRegion(report.Region{Name: "user_A", Paradigm: group.ParadigmUser})
	userB := r.AddRegion(report.Region{Name: "user_B", Paradigm: group.ParadigmUser})
	parent := r.AddCnode(userA, report.NoCnode, 0, 0, []uint64{1}, []float64{0}, []uint64{0})
	r.AddCnode(userB, parent, 0, 0, []uint64{1}, []float64{0}, []uint64{0})

	if got := r.Group(userA); got != group.USR {
		t.Errorf("Group(user_A) = %v, want USR (no non-USR descendant)", got)
	}
}

func TestIsRootRegionAndOmitEvents(t *testing.T) {
	r := New()
	root := r.AddRegion(report.Region{Name: "", Paradigm: group.ParadigmMeasurement, IsRoot: true})
	leaf := r.AddRegion(report.Region{Name: "work", Paradigm: group.ParadigmUser})

	if !r.IsRootRegion(root) {
		t.Error("expected root region to be recognized")
	}
	if r.IsRootRegion(leaf) {
		t.Error("did not expect leaf region to be root")
	}
	if !r.OmitInTraceEnterLeaveEvents(root) {
		t.Error("root region must be omitted from enter/leave events")
	}
	if r.OmitInTraceEnterLeaveEvents(leaf) {
		t.Error("ordinary region must not be omitted")
	}
}

func TestIsDynamicRegionByNameAndByMark(t *testing.T) {
	r := New()
	iter := r.AddRegion(report.Region{Name: "iteration=1", Paradigm: group.ParadigmUser})
	marked := r.AddRegion(report.Region{Name: "child", Paradigm: group.ParadigmUser})
	r.MarkDynamic(marked)

	if !r.IsDynamicRegion(iter) {
		t.Error("expected name-derived dynamic region to be recognized")
	}
	if !r.IsDynamicRegion(marked) {
		t.Error("expected explicitly marked dynamic region to be recognized")
	}
}

func TestShortFileNameStripsCommonPrefix(t *testing.T) {
	r := New()
	a := r.AddRegion(report.Region{Name: "a", Paradigm: group.ParadigmUser, File: "/src/app/main.c"})
	b := r.AddRegion(report.Region{Name: "b", Paradigm: group.ParadigmUser, File: "/src/app/util.c"})

	if got := r.ShortFileName(a); got != "main.c" {
		t.Errorf("ShortFileName(a) = %q, want %q", got, "main.c")
	}
	if got := r.ShortFileName(b); got != "util.c" {
		t.Errorf("ShortFileName(b) = %q, want %q", got, "util.c")
	}
}

func TestDefineMetricRejectsDuplicate(t *testing.T) {
	r := New()
	r.AddMetric(report.Metric{Name: "time"})
	_, err := r.DefineMetric(report.MetricDefinition{Name: "time"})
	if err == nil {
		t.Fatal("expected error defining a duplicate metric name")
	}
	id, err := r.DefineMetric(report.MetricDefinition{Name: "derived"})
	if err != nil {
		t.Fatalf("DefineMetric: %v", err)
	}
	if id == 0 {
		t.Error("expected a non-zero metric id assigned after the seeded metric")
	}
}
