// Package memreport is the in-memory, JSON-serializable stand-in for a
// loaded Cube profile report. The real anchor-file/compressed-data
// format is out of scope (spec §1); this package satisfies the
// report.Report contract and gives the protocol's OpenCube/SaveCube
// requests something concrete to operate on, mirroring the way the
// teacher's internal/output package (WriteJSON) serializes its own
// report type.
package memreport

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/scorep-tools/tracecost/internal/group"
	"github.com/scorep-tools/tracecost/internal/report"
	"github.com/scorep-tools/tracecost/internal/value"
)

// Doc is the JSON document shape written/read by Save/Load. It is a
// flattened, easy-to-hand-author snapshot of a report.Report.
type Doc struct {
	Metrics      []MetricDoc           `json:"metrics"`
	Cnodes       []CnodeDoc            `json:"cnodes"`
	Regions      []RegionDoc           `json:"regions"`
	SystemTree   *SystemNodeDoc        `json:"system_tree"`
	NumProcesses int                   `json:"num_processes"`
	MaxLocsPer   int                   `json:"max_locations_per_process"`
	NumProgArgs  int                   `json:"num_program_arguments"`
	HasHits      bool                  `json:"has_hits"`
	DefCounters  map[string]int        `json:"definition_counters"`
	Values       []AggregatedValueDoc  `json:"values"`
}

type MetricDoc struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	DataType    string `json:"data_type"`
	Unit        string `json:"unit"`
	Description string `json:"description"`
	Kind        string `json:"kind"`
	Ghost       bool   `json:"ghost"`
	Visible     bool   `json:"visible"`
	Children    []int  `json:"children,omitempty"`
}

type CnodeDoc struct {
	Region       int   `json:"region"`
	Parent       int   `json:"parent"` // -1 for root
	Children     []int `json:"children,omitempty"`
	NumParamsInt int   `json:"num_params_int"`
	NumParamsStr int   `json:"num_params_str"`
	Visits       []uint64 `json:"visits"` // per process
	Time         []float64 `json:"time"`  // per process
	Hits         []uint64 `json:"hits"`   // per process
}

type RegionDoc struct {
	Name        string `json:"name"`
	Mangled     string `json:"mangled"`
	File        string `json:"file"`
	Paradigm    string `json:"paradigm"`
	Description string `json:"description"`
	Dynamic     bool   `json:"dynamic"`
	Root        bool   `json:"root,omitempty"`
}

type SystemNodeDoc struct {
	Name                  string           `json:"name"`
	IsLeaf                bool             `json:"is_leaf"`
	Kind                  string           `json:"kind,omitempty"`
	ProcessID             int              `json:"process_id,omitempty"`
	CreatingProcessGroup  string           `json:"creating_process_group,omitempty"`
	Children              []*SystemNodeDoc `json:"children,omitempty"`
}

// AggregatedValueDoc pins one (process, cnode, metric, flavour) sample.
type AggregatedValueDoc struct {
	Process   int     `json:"process"`
	Cnode     int     `json:"cnode"`
	Metric    int     `json:"metric"`
	Inclusive bool    `json:"inclusive"`
	Double    float64 `json:"value"`
}

// Report is the in-memory report.Report implementation.
type Report struct {
	mu sync.RWMutex

	metrics     []report.Metric
	rootMetrics []report.MetricID
	ghosts      []report.MetricID

	cnodes     []report.CallNode
	rootCnodes []report.CnodeID
	visits     map[report.CnodeID][]uint64
	times      map[report.CnodeID][]float64
	hits       map[report.CnodeID][]uint64

	regions []report.Region
	dynamic map[report.RegionID]bool

	systemTree *report.SystemNode

	numProcesses int
	maxLocs      int
	numProgArgs  int
	hasHits      bool
	defCounters  map[string]int

	values map[aggKey]value.Value

	nextMetricID report.MetricID
}

type aggKey struct {
	process   int
	cnode     report.CnodeID
	metric    report.MetricID
	inclusive bool
}

// New returns an empty Report ready for population via the Add*/Set*
// builder methods.
func New() *Report {
	return &Report{
		visits:      make(map[report.CnodeID][]uint64),
		times:       make(map[report.CnodeID][]float64),
		hits:        make(map[report.CnodeID][]uint64),
		dynamic:     make(map[report.RegionID]bool),
		defCounters: make(map[string]int),
		values:      make(map[aggKey]value.Value),
	}
}

// Load reads a Doc from path and builds a Report from it.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("memreport: open %s: %w", path, err)
	}
	var doc Doc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("memreport: parse %s: %w", path, err)
	}
	return FromDoc(doc), nil
}

// Save writes r as a Doc to path, truncating any existing file.
func (r *Report) Save(path string) error {
	doc := r.ToDoc()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("memreport: encode: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("memreport: write %s: %w", path, err)
	}
	return nil
}

// FromDoc builds a Report from a decoded Doc.
func FromDoc(doc Doc) *Report {
	r := New()
	r.numProcesses = doc.NumProcesses
	r.maxLocs = doc.MaxLocsPer
	r.numProgArgs = doc.NumProgArgs
	r.hasHits = doc.HasHits
	if doc.DefCounters != nil {
		r.defCounters = doc.DefCounters
	}

	for i, rd := range doc.Regions {
		id := report.RegionID(i)
		r.regions = append(r.regions, report.Region{
			ID: id, Name: rd.Name, Mangled: rd.Mangled, File: rd.File,
			Paradigm: group.Paradigm(rd.Paradigm), Description: rd.Description,
			IsRoot: rd.Root,
		})
		if rd.Dynamic {
			r.dynamic[id] = true
		}
	}

	for i, md := range doc.Metrics {
		id := report.MetricID(i)
		children := make([]report.MetricID, len(md.Children))
		for j, c := range md.Children {
			children[j] = report.MetricID(c)
		}
		m := report.Metric{
			ID: id, Name: md.Name, DisplayName: md.DisplayName,
			DataType: parseDataType(md.DataType), Unit: md.Unit,
			Description: md.Description, Kind: parseKind(md.Kind),
			Ghost: md.Ghost, Visible: md.Visible, Children: children,
		}
		r.metrics = append(r.metrics, m)
		if m.Ghost {
			r.ghosts = append(r.ghosts, id)
		}
	}
	r.rootMetrics = findRoots(doc)
	if int(r.nextMetricID) < len(r.metrics) {
		r.nextMetricID = report.MetricID(len(r.metrics))
	}

	for i, cd := range doc.Cnodes {
		id := report.CnodeID(i)
		parent := report.CnodeID(cd.Parent)
		children := make([]report.CnodeID, len(cd.Children))
		for j, c := range cd.Children {
			children[j] = report.CnodeID(c)
		}
		r.cnodes = append(r.cnodes, report.CallNode{
			ID: id, Region: report.RegionID(cd.Region), Parent: parent,
			Children: children, NumParamsInt: cd.NumParamsInt, NumParamsStr: cd.NumParamsStr,
		})
		if parent == report.NoCnode {
			r.rootCnodes = append(r.rootCnodes, id)
		}
		r.visits[id] = cd.Visits
		r.times[id] = cd.Time
		r.hits[id] = cd.Hits
	}

	r.systemTree = docToSystemNode(doc.SystemTree)

	for _, av := range doc.Values {
		k := aggKey{process: av.Process, cnode: report.CnodeID(av.Cnode), metric: report.MetricID(av.Metric), inclusive: av.Inclusive}
		r.values[k] = value.DoubleValue(value.Double, av.Double)
	}

	return r
}

func findRoots(doc Doc) []report.MetricID {
	isChild := make(map[int]bool)
	for _, m := range doc.Metrics {
		for _, c := range m.Children {
			isChild[c] = true
		}
	}
	var roots []report.MetricID
	for i := range doc.Metrics {
		if !isChild[i] {
			roots = append(roots, report.MetricID(i))
		}
	}
	return roots
}

func docToSystemNode(d *SystemNodeDoc) *report.SystemNode {
	if d == nil {
		return nil
	}
	n := &report.SystemNode{
		Name: d.Name, IsLeaf: d.IsLeaf, ProcessID: d.ProcessID,
		CreatingProcessGroup: d.CreatingProcessGroup,
	}
	if d.Kind == "accelerator" {
		n.Kind = report.LocationAccelerator
	} else {
		n.Kind = report.LocationProcess
	}
	for _, c := range d.Children {
		n.Children = append(n.Children, docToSystemNode(c))
	}
	return n
}

func systemNodeToDoc(n *report.SystemNode) *SystemNodeDoc {
	if n == nil {
		return nil
	}
	kind := "process"
	if n.Kind == report.LocationAccelerator {
		kind = "accelerator"
	}
	d := &SystemNodeDoc{
		Name: n.Name, IsLeaf: n.IsLeaf, Kind: kind, ProcessID: n.ProcessID,
		CreatingProcessGroup: n.CreatingProcessGroup,
	}
	for _, c := range n.Children {
		d.Children = append(d.Children, systemNodeToDoc(c))
	}
	return d
}

func parseDataType(s string) value.Type {
	for t := value.Int8; t <= value.ScaleFunction; t++ {
		if t.String() == s {
			return t
		}
	}
	return value.Double
}

func parseKind(s string) report.Kind {
	switch strings.ToLower(s) {
	case "prederived":
		return report.KindPrederived
	case "postderived":
		return report.KindPostderived
	case "exclusive":
		return report.KindExclusive
	default:
		return report.KindInclusive
	}
}

func kindString(k report.Kind) string {
	switch k {
	case report.KindPrederived:
		return "prederived"
	case report.KindPostderived:
		return "postderived"
	case report.KindExclusive:
		return "exclusive"
	default:
		return "inclusive"
	}
}

// ToDoc snapshots r into its JSON document form.
func (r *Report) ToDoc() Doc {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc := Doc{
		NumProcesses: r.numProcesses,
		MaxLocsPer:   r.maxLocs,
		NumProgArgs:  r.numProgArgs,
		HasHits:      r.hasHits,
		DefCounters:  r.defCounters,
		SystemTree:   systemNodeToDoc(r.systemTree),
	}
	for _, m := range r.metrics {
		children := make([]int, len(m.Children))
		for i, c := range m.Children {
			children[i] = int(c)
		}
		doc.Metrics = append(doc.Metrics, MetricDoc{
			Name: m.Name, DisplayName: m.DisplayName, DataType: m.DataType.String(),
			Unit: m.Unit, Description: m.Description, Kind: kindString(m.Kind),
			Ghost: m.Ghost, Visible: m.Visible, Children: children,
		})
	}
	for _, c := range r.cnodes {
		children := make([]int, len(c.Children))
		for i, ch := range c.Children {
			children[i] = int(ch)
		}
		doc.Cnodes = append(doc.Cnodes, CnodeDoc{
			Region: int(c.Region), Parent: int(c.Parent), Children: children,
			NumParamsInt: c.NumParamsInt, NumParamsStr: c.NumParamsStr,
			Visits: r.visits[c.ID], Time: r.times[c.ID], Hits: r.hits[c.ID],
		})
	}
	for _, rg := range r.regions {
		doc.Regions = append(doc.Regions, RegionDoc{
			Name: rg.Name, Mangled: rg.Mangled, File: rg.File,
			Paradigm: string(rg.Paradigm), Description: rg.Description,
			Dynamic: r.dynamic[rg.ID], Root: rg.IsRoot,
		})
	}
	var keys []aggKey
	for k := range r.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.process != b.process {
			return a.process < b.process
		}
		if a.cnode != b.cnode {
			return a.cnode < b.cnode
		}
		return a.metric < b.metric
	})
	for _, k := range keys {
		doc.Values = append(doc.Values, AggregatedValueDoc{
			Process: k.process, Cnode: int(k.cnode), Metric: int(k.metric),
			Inclusive: k.inclusive, Double: r.values[k].Float64(),
		})
	}
	return doc
}
