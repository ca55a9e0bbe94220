// Package report defines the read-only contract the estimator and the
// protocol request catalogue consume from a loaded profile (spec §4.2).
// The real Cube anchor-file/compressed-data reader is out of scope
// (spec §1); this package specifies only the interface and ships one
// concrete implementation, package memreport, as the in-memory stand-in
// used by tests, the estimator CLI, and the protocol server's
// OpenCube/SaveCube operations.
package report

import (
	"github.com/scorep-tools/tracecost/internal/group"
	"github.com/scorep-tools/tracecost/internal/value"
)

// RegionID indexes Regions(); by invariant, region id equals position.
type RegionID int

// CnodeID indexes Cnodes(); -1 (NoCnode) is the sentinel "no parent".
type CnodeID int

// NoCnode is the sentinel parent id for a root call node.
const NoCnode CnodeID = -1

// MetricID indexes Metrics().
type MetricID int

// Kind is a metric's role.
type Kind uint8

const (
	KindPrederived Kind = iota
	KindPostderived
	KindExclusive
	KindInclusive
)

// Metric is one node of the metric tree.
type Metric struct {
	ID          MetricID
	Name        string
	DisplayName string
	DataType    value.Type
	ValueKind   string
	Unit        string
	Description string
	Kind        Kind
	InitExpr    string
	PlusExpr    string
	MinusExpr   string
	AggrExpr    string
	Ghost       bool
	Visible     bool
	Children    []MetricID
}

// CallNode is one node of the call tree: a region invocation at a
// specific call path.
type CallNode struct {
	ID           CnodeID
	Region       RegionID
	Parent       CnodeID
	Children     []CnodeID
	NumParamsInt int
	NumParamsStr int
}

// Region is a source-level code unit.
type Region struct {
	ID          RegionID
	Name        string
	Mangled     string
	File        string
	Paradigm    group.Paradigm
	Description string
	// IsRoot marks the synthetic program-root region (spec §3: produces
	// no enter/leave events, like measurement-on/off regions).
	IsRoot bool
}

// LocationKind distinguishes a system-tree leaf's role.
type LocationKind uint8

const (
	LocationProcess LocationKind = iota
	LocationAccelerator
)

// SystemNode is one node of the system resource tree. Leaves are
// locations grouped into location-groups of kind Process or Accelerator.
type SystemNode struct {
	Name      string
	IsLeaf    bool
	Kind      LocationKind
	ProcessID int // ordinal into aggregatedValue's process dimension, for leaves
	// CreatingProcessGroup is the "Creating location group" attribute
	// naming the PROCESS group an ACCELERATOR group's contributions
	// fold into. Empty for PROCESS groups and non-group nodes.
	CreatingProcessGroup string
	Children             []*SystemNode
}

// CallTreeVisit is the tuple handed to a call-tree visitor, matching
// spec §4.2's iterateCallTree signature.
type CallTreeVisit struct {
	Process      int
	Region       RegionID
	Parent       RegionID // sentinel (-1) if Cnode is a root
	HasParent    bool
	Visits       uint64
	Time         float64
	Hits         uint64
	NumParamsInt int
	NumParamsStr int
}

// Visitor is invoked once per call node in DFS order by IterateCallTree.
type Visitor func(CallTreeVisit)

// Report is the read-only contract consumed by the estimator and the
// protocol's request handlers. Implementations must be safe for
// concurrent reads; DefineMetric is the sole mutator and must be
// externally serialized by the caller (spec §5).
type Report interface {
	Metrics() []Metric
	RootMetrics() []MetricID
	GhostMetrics() []MetricID

	Cnodes() []CallNode
	RootCnodes() []CnodeID
	IterateCallTree(process int, visit Visitor)

	Regions() []Region
	RegionName(r RegionID) string
	MangledName(r RegionID) string
	// RegionParadigm returns the region's paradigm tag, falling back to
	// the region's description when the primary tag reads "unknown".
	RegionParadigm(r RegionID) group.Paradigm
	FileName(r RegionID) string
	// ShortFileName strips the longest common file-name prefix shared
	// among USR+COM regions with non-empty paths.
	ShortFileName(r RegionID) string

	NumberOfProcesses() int
	NumberOfRegions() int
	NumberOfMetrics() int
	MaxLocationsPerProcess() int
	DefinitionCounters() map[string]int
	// NumberOfProgramArguments may be negative, meaning "unknown".
	NumberOfProgramArguments() int

	// Group returns the region's precomputed group, with the COM taint
	// rule already applied.
	Group(r RegionID) group.Group

	IsRootRegion(r RegionID) bool
	OmitInTraceEnterLeaveEvents(r RegionID) bool
	IsDynamicRegion(r RegionID) bool
	HasHits() bool

	// AggregatedValue sums the metric value for one PROCESS location
	// group and every ACCELERATOR group whose "Creating location group"
	// names that process.
	AggregatedValue(process int, cn CnodeID, m MetricID, flavour value.Flavour) (value.Value, error)

	// SystemTree returns the root of the system resource tree.
	SystemTree() *SystemNode

	// DefineMetric validates and installs a derived metric, returning
	// its id on success.
	DefineMetric(def MetricDefinition) (MetricID, error)
}

// MetricDefinition is the payload of a DefineMetric request (spec §4.8).
type MetricDefinition struct {
	Name        string
	DisplayName string
	DataType    value.Type
	Unit        string
	Description string
	InitExpr    string
	PlusExpr    string
	MinusExpr   string
	AggrExpr    string
}
