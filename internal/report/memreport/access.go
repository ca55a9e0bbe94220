package memreport

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/scorep-tools/tracecost/internal/group"
	"github.com/scorep-tools/tracecost/internal/report"
	"github.com/scorep-tools/tracecost/internal/value"
)

// --- builder methods, used by tests and by anyone assembling a Report
// programmatically instead of loading one from a Doc. ---

// AddRegion appends a region and returns its id.
func (r *Report) AddRegion(rg report.Region) report.RegionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	rg.ID = report.RegionID(len(r.regions))
	r.regions = append(r.regions, rg)
	return rg.ID
}

// MarkDynamic flags a region as a synthesized dynamic (iteration/instance)
// region per spec §3.
func (r *Report) MarkDynamic(id report.RegionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dynamic[id] = true
}

// AddMetric appends a metric and returns its id.
func (r *Report) AddMetric(m report.Metric) report.MetricID {
	r.mu.Lock()
	defer r.mu.Unlock()
	m.ID = r.nextMetricID
	r.nextMetricID++
	r.metrics = append(r.metrics, m)
	if m.Ghost {
		r.ghosts = append(r.ghosts, m.ID)
	}
	isChild := false
	for _, existing := range r.metrics {
		for _, c := range existing.Children {
			if c == m.ID {
				isChild = true
			}
		}
	}
	if !isChild {
		r.rootMetrics = append(r.rootMetrics, m.ID)
	}
	return m.ID
}

// AddCnode appends a call node with per-process visits/time/hits and
// returns its id. parent must already exist, or be report.NoCnode.
func (r *Report) AddCnode(region report.RegionID, parent report.CnodeID, numParamsInt, numParamsStr int, visits []uint64, times []float64, hits []uint64) report.CnodeID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := report.CnodeID(len(r.cnodes))
	r.cnodes = append(r.cnodes, report.CallNode{
		ID: id, Region: region, Parent: parent,
		NumParamsInt: numParamsInt, NumParamsStr: numParamsStr,
	})
	if parent == report.NoCnode {
		r.rootCnodes = append(r.rootCnodes, id)
	} else {
		r.cnodes[parent].Children = append(r.cnodes[parent].Children, id)
	}
	r.visits[id] = visits
	r.times[id] = times
	r.hits[id] = hits
	return id
}

// SetNumProcesses sets the process dimension used by visits/time/hits slices.
func (r *Report) SetNumProcesses(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.numProcesses = n
}

// SetMaxLocationsPerProcess sets the accelerator-inclusive location cap.
func (r *Report) SetMaxLocationsPerProcess(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxLocs = n
}

// SetHasHits toggles whether this profile is hit- (sampling) or
// visit- (enter/leave) based.
func (r *Report) SetHasHits(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hasHits = v
}

// SetSystemTree installs the system resource tree.
func (r *Report) SetSystemTree(n *report.SystemNode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.systemTree = n
}

// SetAggregatedValue seeds AggregatedValue's answer for one sample point.
func (r *Report) SetAggregatedValue(process int, cn report.CnodeID, m report.MetricID, flavour value.Flavour, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[aggKey{process, cn, m, flavour == value.Inclusive}] = value.DoubleValue(value.Double, v)
}

// --- report.Report implementation ---

func (r *Report) Metrics() []report.Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]report.Metric(nil), r.metrics...)
}

func (r *Report) RootMetrics() []report.MetricID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]report.MetricID(nil), r.rootMetrics...)
}

func (r *Report) GhostMetrics() []report.MetricID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]report.MetricID(nil), r.ghosts...)
}

func (r *Report) Cnodes() []report.CallNode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]report.CallNode(nil), r.cnodes...)
}

func (r *Report) RootCnodes() []report.CnodeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]report.CnodeID(nil), r.rootCnodes...)
}

// IterateCallTree walks the call tree in DFS order, invoking visit once
// per node with that process's visits/time/hits.
func (r *Report) IterateCallTree(process int, visit report.Visitor) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var walk func(id report.CnodeID, parentRegion report.RegionID, hasParent bool)
	walk = func(id report.CnodeID, parentRegion report.RegionID, hasParent bool) {
		cn := r.cnodes[id]
		visits, times, hits := sampleAt(r.visits[id], process), sampleAt(r.times[id], process), sampleAt(r.hits[id], process)
		visit(report.CallTreeVisit{
			Process: process, Region: cn.Region, Parent: parentRegion, HasParent: hasParent,
			Visits: visits, Time: times, Hits: hits,
			NumParamsInt: cn.NumParamsInt, NumParamsStr: cn.NumParamsStr,
		})
		for _, child := range cn.Children {
			walk(child, cn.Region, true)
		}
	}
	for _, root := range r.rootCnodes {
		walk(root, -1, false)
	}
}

func sampleAt[T any](xs []T, i int) T {
	var zero T
	if i < 0 || i >= len(xs) {
		return zero
	}
	return xs[i]
}

func (r *Report) Regions() []report.Region {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]report.Region(nil), r.regions...)
}

func (r *Report) region(id report.RegionID) (report.Region, bool) {
	if int(id) < 0 || int(id) >= len(r.regions) {
		return report.Region{}, false
	}
	return r.regions[id], true
}

func (r *Report) RegionName(id report.RegionID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rg, ok := r.region(id)
	if !ok {
		return ""
	}
	return rg.Name
}

func (r *Report) MangledName(id report.RegionID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rg, ok := r.region(id)
	if !ok {
		return ""
	}
	return rg.Mangled
}

// RegionParadigm returns the region's paradigm tag, falling back to its
// description when the tag is "unknown" (spec §4.2).
func (r *Report) RegionParadigm(id report.RegionID) group.Paradigm {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rg, ok := r.region(id)
	if !ok {
		return group.ParadigmUnknown
	}
	if rg.Paradigm == group.ParadigmUnknown && rg.Description != "" {
		return group.Paradigm(rg.Description)
	}
	return rg.Paradigm
}

func (r *Report) FileName(id report.RegionID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rg, ok := r.region(id)
	if !ok {
		return ""
	}
	return rg.File
}

// ShortFileName strips the longest common file-name prefix shared among
// USR+COM regions with non-empty paths.
func (r *Report) ShortFileName(id report.RegionID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rg, ok := r.region(id)
	if !ok || rg.File == "" {
		return ""
	}
	prefix := r.commonUsrComPrefixLocked()
	return strings.TrimPrefix(rg.File, prefix)
}

func (r *Report) commonUsrComPrefixLocked() string {
	var paths []string
	for _, rg := range r.regions {
		if rg.File == "" {
			continue
		}
		g := group.ForRegion(rg.Paradigm, rg.Name)
		if g == group.USR || g == group.COM {
			paths = append(paths, rg.File)
		}
	}
	if len(paths) == 0 {
		return ""
	}
	prefix := paths[0]
	for _, p := range paths[1:] {
		prefix = commonPrefix(prefix, p)
		if prefix == "" {
			break
		}
	}
	// trim to the last path separator so we don't split mid-component
	if idx := strings.LastIndex(prefix, string(filepath.Separator)); idx >= 0 {
		prefix = prefix[:idx+1]
	} else {
		prefix = ""
	}
	return prefix
}

func commonPrefix(a, b string) string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

func (r *Report) NumberOfProcesses() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.numProcesses
}

func (r *Report) NumberOfRegions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.regions)
}

func (r *Report) NumberOfMetrics() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.metrics)
}

func (r *Report) MaxLocationsPerProcess() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxLocs
}

func (r *Report) DefinitionCounters() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.defCounters))
	for k, v := range r.defCounters {
		out[k] = v
	}
	return out
}

func (r *Report) NumberOfProgramArguments() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.numProgArgs
}

// regionTransitsNonUSR reports whether any descendant (or the node
// itself) of cnode belongs to a group other than USR, used to apply the
// taint rule.
func (r *Report) regionTransitsNonUSR(id report.CnodeID) bool {
	cn := r.cnodes[id]
	rg, ok := r.region(cn.Region)
	if !ok {
		return false
	}
	base := group.ForRegion(rg.Paradigm, rg.Name)
	if base != group.USR {
		return true
	}
	for _, c := range cn.Children {
		if r.regionTransitsNonUSR(c) {
			return true
		}
	}
	return false
}

// Group returns the region's precomputed group with the COM taint rule
// (spec §3) applied: if any call path through this region also visits a
// region whose own group is not USR, every USR call path containing it
// is reclassified COM.
func (r *Report) Group(id report.RegionID) group.Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rg, ok := r.region(id)
	if !ok {
		return group.UNKNOWN
	}
	base := group.ForRegion(rg.Paradigm, rg.Name)
	if base != group.USR {
		return base
	}
	tainted := false
	for _, cn := range r.cnodes {
		if cn.Region != id {
			continue
		}
		for _, c := range cn.Children {
			if r.regionTransitsNonUSR(c) {
				tainted = true
				break
			}
		}
		if tainted {
			break
		}
	}
	return group.Taint(base, tainted)
}

var specialOmitNames = map[string]bool{
	"MEASUREMENT OFF": true,
}

func isDynamicName(name string) bool {
	return strings.HasPrefix(name, "instance=") || strings.HasPrefix(name, "iteration=")
}

func (r *Report) IsRootRegion(id report.RegionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rg, ok := r.region(id)
	return ok && rg.IsRoot
}

// OmitInTraceEnterLeaveEvents reports whether a region never produces
// trace enter/leave events: the program root, measurement regions,
// MEASUREMENT OFF, and dynamic iteration/instance regions (spec §3/§4.2).
func (r *Report) OmitInTraceEnterLeaveEvents(id report.RegionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rg, ok := r.region(id)
	if !ok {
		return false
	}
	if rg.IsRoot {
		return true
	}
	if rg.Paradigm == group.ParadigmMeasurement {
		return true
	}
	if specialOmitNames[rg.Name] {
		return true
	}
	if isDynamicName(rg.Name) {
		return true
	}
	return r.dynamic[id]
}

func (r *Report) IsDynamicRegion(id report.RegionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.dynamic[id] {
		return true
	}
	rg, ok := r.region(id)
	return ok && isDynamicName(rg.Name)
}

func (r *Report) HasHits() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hasHits
}

// creatingGroups maps a PROCESS system-node name to the ACCELERATOR
// nodes whose CreatingProcessGroup names it, precomputed once.
func (r *Report) creatingGroups() map[string][]*report.SystemNode {
	out := make(map[string][]*report.SystemNode)
	var walk func(n *report.SystemNode)
	walk = func(n *report.SystemNode) {
		if n == nil {
			return
		}
		if n.Kind == report.LocationAccelerator && n.CreatingProcessGroup != "" {
			out[n.CreatingProcessGroup] = append(out[n.CreatingProcessGroup], n)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(r.systemTree)
	return out
}

// AggregatedValue sums the metric value for one PROCESS location group
// and every ACCELERATOR group whose "Creating location group" names
// that process (spec §4.2).
func (r *Report) AggregatedValue(process int, cn report.CnodeID, m report.MetricID, flavour value.Flavour) (value.Value, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(cn) < 0 || int(cn) >= len(r.cnodes) {
		return value.Value{}, fmt.Errorf("memreport: unknown cnode %d", cn)
	}
	processName := r.processNameLocked(process)

	total := 0.0
	if v, ok := r.values[aggKey{process, cn, m, flavour == value.Inclusive}]; ok {
		total += v.Float64()
	}
	for _, acc := range r.creatingGroups()[processName] {
		if v, ok := r.values[aggKey{acc.ProcessID, cn, m, flavour == value.Inclusive}]; ok {
			total += v.Float64()
		}
	}
	return value.DoubleValue(value.Double, total), nil
}

func (r *Report) processNameLocked(process int) string {
	var found string
	var walk func(n *report.SystemNode)
	walk = func(n *report.SystemNode) {
		if n == nil || found != "" {
			return
		}
		if n.Kind == report.LocationProcess && n.ProcessID == process {
			found = n.Name
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(r.systemTree)
	return found
}

func (r *Report) SystemTree() *report.SystemNode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.systemTree
}

// DefineMetric validates and installs a derived metric (spec §4.8
// DefineMetric request). Definitions must name a metric not already
// present.
func (r *Report) DefineMetric(def report.MetricDefinition) (report.MetricID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if def.Name == "" {
		return 0, fmt.Errorf("memreport: metric definition missing a name")
	}
	for _, m := range r.metrics {
		if m.Name == def.Name {
			return 0, fmt.Errorf("memreport: metric %q already defined", def.Name)
		}
	}
	id := r.nextMetricID
	r.nextMetricID++
	r.metrics = append(r.metrics, report.Metric{
		ID: id, Name: def.Name, DisplayName: def.DisplayName, DataType: def.DataType,
		Unit: def.Unit, Description: def.Description, Kind: report.KindPostderived,
		InitExpr: def.InitExpr, PlusExpr: def.PlusExpr, MinusExpr: def.MinusExpr, AggrExpr: def.AggrExpr,
		Visible: true,
	})
	r.rootMetrics = append(r.rootMetrics, id)
	return id, nil
}
