package request

import (
	"errors"

	"github.com/scorep-tools/tracecost/internal/report"
	"github.com/scorep-tools/tracecost/internal/value"
	"github.com/scorep-tools/tracecost/internal/wire"
)

// ErrNoCubeOpen is returned when a tree query executes with no report
// currently open on the session.
var ErrNoCubeOpen = errors.New("request: no report open")

func resolveCnodes(rpt report.Report, sel NodeSelection) []report.CnodeID {
	if len(sel.Sel.IDs) == 0 {
		return allCnodeIDs(rpt)
	}
	if !sel.ByRegion {
		out := make([]report.CnodeID, len(sel.Sel.IDs))
		for i, id := range sel.Sel.IDs {
			out[i] = report.CnodeID(id)
		}
		return out
	}
	wanted := make(map[report.RegionID]bool, len(sel.Sel.IDs))
	for _, id := range sel.Sel.IDs {
		wanted[report.RegionID(id)] = true
	}
	var out []report.CnodeID
	for _, cn := range rpt.Cnodes() {
		if wanted[cn.Region] {
			out = append(out, cn.ID)
		}
	}
	return out
}

func allCnodeIDs(rpt report.Report) []report.CnodeID {
	cnodes := rpt.Cnodes()
	out := make([]report.CnodeID, len(cnodes))
	for i, cn := range cnodes {
		out[i] = cn.ID
	}
	return out
}

func resolveMetrics(rpt report.Report, sel Selection) []report.MetricID {
	if len(sel.IDs) == 0 {
		out := make([]report.MetricID, 0, len(rpt.Metrics()))
		for _, m := range rpt.Metrics() {
			out = append(out, m.ID)
		}
		return out
	}
	out := make([]report.MetricID, len(sel.IDs))
	for i, id := range sel.IDs {
		out[i] = report.MetricID(id)
	}
	return out
}

func resolveProcesses(rpt report.Report, sel Selection) []int {
	if len(sel.IDs) == 0 {
		out := make([]int, rpt.NumberOfProcesses())
		for i := range out {
			out[i] = i
		}
		return out
	}
	out := make([]int, len(sel.IDs))
	for i, id := range sel.IDs {
		out[i] = int(id)
	}
	return out
}

// sumOver accumulates AggregatedValue(process, cn, m, flavour) over
// every combination of cnodes and processes, starting from m's neutral
// sum element.
func sumOver(rpt report.Report, cnodes []report.CnodeID, processes []int, m report.Metric, flavour value.Flavour) (value.Value, error) {
	total := value.FromType(m.DataType).NeutralElement("sum")
	for _, cn := range cnodes {
		for _, p := range processes {
			v, err := rpt.AggregatedValue(p, cn, m.ID, flavour)
			if err != nil {
				return value.Value{}, err
			}
			total, err = total.Add(v)
			if err != nil {
				return value.Value{}, err
			}
		}
	}
	return total, nil
}

// --- MetricTreeValues ---

// MetricTreeValuesReq aggregates, over a call-path/region and system-
// resource selection, one inclusive and one exclusive value per metric
// in metric-tree (registration) order (spec §4.8).
type MetricTreeValuesReq struct {
	Node      NodeSelection
	SysRes    Selection
	Inclusive []value.Value
	Exclusive []value.Value
}

func (r *MetricTreeValuesReq) ID() ID { return IDMetricTreeValues }

func (r *MetricTreeValuesReq) DecodeRequest(rd *wire.Reader) error {
	var err error
	if r.Node, err = decodeNodeSelection(rd); err != nil {
		return err
	}
	r.SysRes, err = decodeSelection(rd)
	return err
}

func (r *MetricTreeValuesReq) Execute(s Session) error {
	rpt, ok := s.Report()
	if !ok {
		return ErrNoCubeOpen
	}
	cnodes := resolveCnodes(rpt, r.Node)
	processes := resolveProcesses(rpt, r.SysRes)
	metrics := rpt.Metrics()
	r.Inclusive = make([]value.Value, len(metrics))
	r.Exclusive = make([]value.Value, len(metrics))
	for i, m := range metrics {
		incl, err := sumOver(rpt, cnodes, processes, m, value.Inclusive)
		if err != nil {
			return err
		}
		excl, err := sumOver(rpt, cnodes, processes, m, value.Exclusive)
		if err != nil {
			return err
		}
		r.Inclusive[i] = incl
		r.Exclusive[i] = excl
	}
	return nil
}

func (r *MetricTreeValuesReq) EncodeResponse(w *wire.Writer) error {
	if err := writeValues(w, r.Inclusive); err != nil {
		return err
	}
	return writeValues(w, r.Exclusive)
}

func (r *MetricTreeValuesReq) EncodeRequest(w *wire.Writer) error {
	if err := encodeNodeSelection(w, r.Node); err != nil {
		return err
	}
	return encodeSelection(w, r.SysRes)
}

func (r *MetricTreeValuesReq) DecodeResponse(rd *wire.Reader) error {
	var err error
	if r.Inclusive, err = readValues(rd, value.Double, 0, rd.Swapped); err != nil {
		return err
	}
	r.Exclusive, err = readValues(rd, value.Double, 0, rd.Swapped)
	return err
}

// --- MetricSubtreeValues ---

// MetricSubtreeValuesReq restricts MetricTreeValues to Depth levels
// under RootMetric, additionally returning an id-to-slot map (spec §4.8).
type MetricSubtreeValuesReq struct {
	RootMetric uint32
	Depth      int32
	Node       NodeSelection
	SysRes     Selection
	Inclusive  []value.Value
	Exclusive  []value.Value
	IDIndex    map[uint32]uint32
}

func (r *MetricSubtreeValuesReq) ID() ID { return IDMetricSubtreeValues }

func (r *MetricSubtreeValuesReq) DecodeRequest(rd *wire.Reader) error {
	var err error
	if r.RootMetric, err = rd.Uint32(); err != nil {
		return err
	}
	if r.Depth, err = rd.Int32(); err != nil {
		return err
	}
	if r.Node, err = decodeNodeSelection(rd); err != nil {
		return err
	}
	r.SysRes, err = decodeSelection(rd)
	return err
}

func (r *MetricSubtreeValuesReq) Execute(s Session) error {
	rpt, ok := s.Report()
	if !ok {
		return ErrNoCubeOpen
	}
	cnodes := resolveCnodes(rpt, r.Node)
	processes := resolveProcesses(rpt, r.SysRes)
	metrics := subtreeMetrics(rpt, report.MetricID(r.RootMetric), int(r.Depth))
	r.Inclusive = make([]value.Value, len(metrics))
	r.Exclusive = make([]value.Value, len(metrics))
	r.IDIndex = make(map[uint32]uint32, len(metrics))
	for i, m := range metrics {
		incl, err := sumOver(rpt, cnodes, processes, m, value.Inclusive)
		if err != nil {
			return err
		}
		excl, err := sumOver(rpt, cnodes, processes, m, value.Exclusive)
		if err != nil {
			return err
		}
		r.Inclusive[i] = incl
		r.Exclusive[i] = excl
		r.IDIndex[uint32(m.ID)] = uint32(i)
	}
	return nil
}

func subtreeMetrics(rpt report.Report, root report.MetricID, depth int) []report.Metric {
	byID := make(map[report.MetricID]report.Metric)
	for _, m := range rpt.Metrics() {
		byID[m.ID] = m
	}
	var out []report.Metric
	var walk func(id report.MetricID, level int)
	walk = func(id report.MetricID, level int) {
		m, ok := byID[id]
		if !ok {
			return
		}
		out = append(out, m)
		if level >= depth {
			return
		}
		for _, c := range m.Children {
			walk(c, level+1)
		}
	}
	walk(root, 0)
	return out
}

func (r *MetricSubtreeValuesReq) EncodeResponse(w *wire.Writer) error {
	if err := writeValues(w, r.Inclusive); err != nil {
		return err
	}
	if err := writeValues(w, r.Exclusive); err != nil {
		return err
	}
	if err := w.Uint32(uint32(len(r.IDIndex))); err != nil {
		return err
	}
	for k, v := range r.IDIndex {
		if err := w.Uint32(k); err != nil {
			return err
		}
		if err := w.Uint32(v); err != nil {
			return err
		}
	}
	return nil
}

func (r *MetricSubtreeValuesReq) EncodeRequest(w *wire.Writer) error {
	if err := w.Uint32(r.RootMetric); err != nil {
		return err
	}
	if err := w.Int32(r.Depth); err != nil {
		return err
	}
	if err := encodeNodeSelection(w, r.Node); err != nil {
		return err
	}
	return encodeSelection(w, r.SysRes)
}

func (r *MetricSubtreeValuesReq) DecodeResponse(rd *wire.Reader) error {
	var err error
	if r.Inclusive, err = readValues(rd, value.Double, 0, rd.Swapped); err != nil {
		return err
	}
	if r.Exclusive, err = readValues(rd, value.Double, 0, rd.Swapped); err != nil {
		return err
	}
	n, err := rd.Uint32()
	if err != nil {
		return err
	}
	r.IDIndex = make(map[uint32]uint32, n)
	for i := uint32(0); i < n; i++ {
		k, err := rd.Uint32()
		if err != nil {
			return err
		}
		v, err := rd.Uint32()
		if err != nil {
			return err
		}
		r.IDIndex[k] = v
	}
	return nil
}

// --- CallpathTreeValues ---

// CallpathTreeValuesReq is MetricTreeValues' axis-swapped symmetric
// counterpart: one inclusive/exclusive pair per call-tree node (spec §4.8).
type CallpathTreeValuesReq struct {
	MetricSel Selection
	SysRes    Selection
	Inclusive []value.Value
	Exclusive []value.Value
}

func (r *CallpathTreeValuesReq) ID() ID { return IDCallpathTreeValues }

func (r *CallpathTreeValuesReq) DecodeRequest(rd *wire.Reader) error {
	var err error
	if r.MetricSel, err = decodeSelection(rd); err != nil {
		return err
	}
	r.SysRes, err = decodeSelection(rd)
	return err
}

func (r *CallpathTreeValuesReq) Execute(s Session) error {
	rpt, ok := s.Report()
	if !ok {
		return ErrNoCubeOpen
	}
	metrics := resolveMetricObjs(rpt, r.MetricSel)
	processes := resolveProcesses(rpt, r.SysRes)
	cnodes := rpt.Cnodes()
	r.Inclusive = make([]value.Value, len(cnodes))
	r.Exclusive = make([]value.Value, len(cnodes))
	for i, cn := range cnodes {
		incl, err := sumOverMetrics(rpt, []report.CnodeID{cn.ID}, processes, metrics, value.Inclusive)
		if err != nil {
			return err
		}
		excl, err := sumOverMetrics(rpt, []report.CnodeID{cn.ID}, processes, metrics, value.Exclusive)
		if err != nil {
			return err
		}
		r.Inclusive[i] = incl
		r.Exclusive[i] = excl
	}
	return nil
}

func resolveMetricObjs(rpt report.Report, sel Selection) []report.Metric {
	ids := resolveMetrics(rpt, sel)
	wanted := make(map[report.MetricID]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var out []report.Metric
	for _, m := range rpt.Metrics() {
		if wanted[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

// sumOverMetrics sums over a set of metrics too, defaulting to the
// first metric's type for the neutral element when the set is mixed;
// callers of this package only pass same-typed selections in practice.
func sumOverMetrics(rpt report.Report, cnodes []report.CnodeID, processes []int, metrics []report.Metric, flavour value.Flavour) (value.Value, error) {
	if len(metrics) == 0 {
		return value.DoubleValue(value.Double, 0), nil
	}
	total := value.FromType(metrics[0].DataType).NeutralElement("sum")
	for _, m := range metrics {
		v, err := sumOver(rpt, cnodes, processes, m, flavour)
		if err != nil {
			return value.Value{}, err
		}
		total, err = total.Add(v)
		if err != nil {
			return value.Value{}, err
		}
	}
	return total, nil
}

func (r *CallpathTreeValuesReq) EncodeResponse(w *wire.Writer) error {
	if err := writeValues(w, r.Inclusive); err != nil {
		return err
	}
	return writeValues(w, r.Exclusive)
}

func (r *CallpathTreeValuesReq) EncodeRequest(w *wire.Writer) error {
	if err := encodeSelection(w, r.MetricSel); err != nil {
		return err
	}
	return encodeSelection(w, r.SysRes)
}

func (r *CallpathTreeValuesReq) DecodeResponse(rd *wire.Reader) error {
	var err error
	if r.Inclusive, err = readValues(rd, value.Double, 0, rd.Swapped); err != nil {
		return err
	}
	r.Exclusive, err = readValues(rd, value.Double, 0, rd.Swapped)
	return err
}

// --- CallpathSubtreeValues ---

// CallpathSubtreeValuesReq restricts CallpathTreeValues to Depth levels
// under RootCnode, also returning an id-to-slot map (spec §4.8).
type CallpathSubtreeValuesReq struct {
	RootCnode uint32
	Depth     int32
	MetricSel Selection
	SysRes    Selection
	Inclusive []value.Value
	Exclusive []value.Value
	IDIndex   map[uint32]uint32
}

func (r *CallpathSubtreeValuesReq) ID() ID { return IDCallpathSubtreeValues }

func (r *CallpathSubtreeValuesReq) DecodeRequest(rd *wire.Reader) error {
	var err error
	if r.RootCnode, err = rd.Uint32(); err != nil {
		return err
	}
	if r.Depth, err = rd.Int32(); err != nil {
		return err
	}
	if r.MetricSel, err = decodeSelection(rd); err != nil {
		return err
	}
	r.SysRes, err = decodeSelection(rd)
	return err
}

func (r *CallpathSubtreeValuesReq) Execute(s Session) error {
	rpt, ok := s.Report()
	if !ok {
		return ErrNoCubeOpen
	}
	metrics := resolveMetricObjs(rpt, r.MetricSel)
	processes := resolveProcesses(rpt, r.SysRes)
	cnodes := subtreeCnodes(rpt, report.CnodeID(r.RootCnode), int(r.Depth))
	r.Inclusive = make([]value.Value, len(cnodes))
	r.Exclusive = make([]value.Value, len(cnodes))
	r.IDIndex = make(map[uint32]uint32, len(cnodes))
	for i, cn := range cnodes {
		incl, err := sumOverMetrics(rpt, []report.CnodeID{cn}, processes, metrics, value.Inclusive)
		if err != nil {
			return err
		}
		excl, err := sumOverMetrics(rpt, []report.CnodeID{cn}, processes, metrics, value.Exclusive)
		if err != nil {
			return err
		}
		r.Inclusive[i] = incl
		r.Exclusive[i] = excl
		r.IDIndex[uint32(cn)] = uint32(i)
	}
	return nil
}

func subtreeCnodes(rpt report.Report, root report.CnodeID, depth int) []report.CnodeID {
	byID := make(map[report.CnodeID]report.CallNode)
	for _, cn := range rpt.Cnodes() {
		byID[cn.ID] = cn
	}
	var out []report.CnodeID
	var walk func(id report.CnodeID, level int)
	walk = func(id report.CnodeID, level int) {
		cn, ok := byID[id]
		if !ok {
			return
		}
		out = append(out, id)
		if level >= depth {
			return
		}
		for _, c := range cn.Children {
			walk(c, level+1)
		}
	}
	walk(root, 0)
	return out
}

func (r *CallpathSubtreeValuesReq) EncodeResponse(w *wire.Writer) error {
	if err := writeValues(w, r.Inclusive); err != nil {
		return err
	}
	if err := writeValues(w, r.Exclusive); err != nil {
		return err
	}
	if err := w.Uint32(uint32(len(r.IDIndex))); err != nil {
		return err
	}
	for k, v := range r.IDIndex {
		if err := w.Uint32(k); err != nil {
			return err
		}
		if err := w.Uint32(v); err != nil {
			return err
		}
	}
	return nil
}

func (r *CallpathSubtreeValuesReq) EncodeRequest(w *wire.Writer) error {
	if err := w.Uint32(r.RootCnode); err != nil {
		return err
	}
	if err := w.Int32(r.Depth); err != nil {
		return err
	}
	if err := encodeSelection(w, r.MetricSel); err != nil {
		return err
	}
	return encodeSelection(w, r.SysRes)
}

func (r *CallpathSubtreeValuesReq) DecodeResponse(rd *wire.Reader) error {
	var err error
	if r.Inclusive, err = readValues(rd, value.Double, 0, rd.Swapped); err != nil {
		return err
	}
	if r.Exclusive, err = readValues(rd, value.Double, 0, rd.Swapped); err != nil {
		return err
	}
	n, err := rd.Uint32()
	if err != nil {
		return err
	}
	r.IDIndex = make(map[uint32]uint32, n)
	for i := uint32(0); i < n; i++ {
		k, err := rd.Uint32()
		if err != nil {
			return err
		}
		v, err := rd.Uint32()
		if err != nil {
			return err
		}
		r.IDIndex[k] = v
	}
	return nil
}

// --- FlatTreeValues ---

// FlatTreeValuesReq aggregates over the flat region list: inclusive,
// exclusive, and their difference per region (spec §4.8).
type FlatTreeValuesReq struct {
	MetricSel  Selection
	SysRes     Selection
	Inclusive  []value.Value
	Exclusive  []value.Value
	Difference []value.Value
}

func (r *FlatTreeValuesReq) ID() ID { return IDFlatTreeValues }

func (r *FlatTreeValuesReq) DecodeRequest(rd *wire.Reader) error {
	var err error
	if r.MetricSel, err = decodeSelection(rd); err != nil {
		return err
	}
	r.SysRes, err = decodeSelection(rd)
	return err
}

func (r *FlatTreeValuesReq) Execute(s Session) error {
	rpt, ok := s.Report()
	if !ok {
		return ErrNoCubeOpen
	}
	metrics := resolveMetricObjs(rpt, r.MetricSel)
	processes := resolveProcesses(rpt, r.SysRes)
	regions := rpt.Regions()
	r.Inclusive = make([]value.Value, len(regions))
	r.Exclusive = make([]value.Value, len(regions))
	r.Difference = make([]value.Value, len(regions))
	for i, rg := range regions {
		cnodes := regionCnodes(rpt, rg.ID)
		incl, err := sumOverMetrics(rpt, cnodes, processes, metrics, value.Inclusive)
		if err != nil {
			return err
		}
		excl, err := sumOverMetrics(rpt, cnodes, processes, metrics, value.Exclusive)
		if err != nil {
			return err
		}
		diff, err := incl.Subtract(excl)
		if err != nil {
			return err
		}
		r.Inclusive[i] = incl
		r.Exclusive[i] = excl
		r.Difference[i] = diff
	}
	return nil
}

func regionCnodes(rpt report.Report, region report.RegionID) []report.CnodeID {
	var out []report.CnodeID
	for _, cn := range rpt.Cnodes() {
		if cn.Region == region {
			out = append(out, cn.ID)
		}
	}
	return out
}

func (r *FlatTreeValuesReq) EncodeResponse(w *wire.Writer) error {
	if err := writeValues(w, r.Inclusive); err != nil {
		return err
	}
	if err := writeValues(w, r.Exclusive); err != nil {
		return err
	}
	return writeValues(w, r.Difference)
}

func (r *FlatTreeValuesReq) EncodeRequest(w *wire.Writer) error {
	if err := encodeSelection(w, r.MetricSel); err != nil {
		return err
	}
	return encodeSelection(w, r.SysRes)
}

func (r *FlatTreeValuesReq) DecodeResponse(rd *wire.Reader) error {
	var err error
	if r.Inclusive, err = readValues(rd, value.Double, 0, rd.Swapped); err != nil {
		return err
	}
	if r.Exclusive, err = readValues(rd, value.Double, 0, rd.Swapped); err != nil {
		return err
	}
	r.Difference, err = readValues(rd, value.Double, 0, rd.Swapped)
	return err
}

// --- SystemTreeValues ---

// SystemTreeValuesReq aggregates over the system tree's DFS order
// (spec §4.8): one inclusive/exclusive pair per process leaf.
type SystemTreeValuesReq struct {
	MetricSel Selection
	Node      NodeSelection
	Inclusive []value.Value
	Exclusive []value.Value
}

func (r *SystemTreeValuesReq) ID() ID { return IDSystemTreeValues }

func (r *SystemTreeValuesReq) DecodeRequest(rd *wire.Reader) error {
	var err error
	if r.MetricSel, err = decodeSelection(rd); err != nil {
		return err
	}
	r.Node, err = decodeNodeSelection(rd)
	return err
}

func (r *SystemTreeValuesReq) Execute(s Session) error {
	rpt, ok := s.Report()
	if !ok {
		return ErrNoCubeOpen
	}
	metrics := resolveMetricObjs(rpt, r.MetricSel)
	cnodes := resolveCnodes(rpt, r.Node)
	leaves := processLeaves(rpt.SystemTree())
	r.Inclusive = make([]value.Value, len(leaves))
	r.Exclusive = make([]value.Value, len(leaves))
	for i, leaf := range leaves {
		incl, err := sumOverMetrics(rpt, cnodes, []int{leaf.ProcessID}, metrics, value.Inclusive)
		if err != nil {
			return err
		}
		excl, err := sumOverMetrics(rpt, cnodes, []int{leaf.ProcessID}, metrics, value.Exclusive)
		if err != nil {
			return err
		}
		r.Inclusive[i] = incl
		r.Exclusive[i] = excl
	}
	return nil
}

func processLeaves(n *report.SystemNode) []*report.SystemNode {
	var out []*report.SystemNode
	var walk func(n *report.SystemNode)
	walk = func(n *report.SystemNode) {
		if n == nil {
			return
		}
		if n.IsLeaf && n.Kind == report.LocationProcess {
			out = append(out, n)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(n)
	return out
}

func (r *SystemTreeValuesReq) EncodeResponse(w *wire.Writer) error {
	if err := writeValues(w, r.Inclusive); err != nil {
		return err
	}
	return writeValues(w, r.Exclusive)
}

func (r *SystemTreeValuesReq) EncodeRequest(w *wire.Writer) error {
	if err := encodeSelection(w, r.MetricSel); err != nil {
		return err
	}
	return encodeNodeSelection(w, r.Node)
}

func (r *SystemTreeValuesReq) DecodeResponse(rd *wire.Reader) error {
	var err error
	if r.Inclusive, err = readValues(rd, value.Double, 0, rd.Swapped); err != nil {
		return err
	}
	r.Exclusive, err = readValues(rd, value.Double, 0, rd.Swapped)
	return err
}

// --- TreeValue ---

// TreeValueReq returns a single scalar aggregate over one metric, one
// call node, and one system resource (spec §4.8).
type TreeValueReq struct {
	MetricID uint32
	CnodeID  uint32
	Process  uint32
	Flavour  value.Flavour
	Result   value.Value
}

func (r *TreeValueReq) ID() ID { return IDTreeValue }

func (r *TreeValueReq) DecodeRequest(rd *wire.Reader) error {
	var err error
	if r.MetricID, err = rd.Uint32(); err != nil {
		return err
	}
	if r.CnodeID, err = rd.Uint32(); err != nil {
		return err
	}
	if r.Process, err = rd.Uint32(); err != nil {
		return err
	}
	f, err := rd.Uint32()
	r.Flavour = value.Flavour(f)
	return err
}

func (r *TreeValueReq) Execute(s Session) error {
	rpt, ok := s.Report()
	if !ok {
		return ErrNoCubeOpen
	}
	v, err := rpt.AggregatedValue(int(r.Process), report.CnodeID(r.CnodeID), report.MetricID(r.MetricID), r.Flavour)
	if err != nil {
		return err
	}
	r.Result = v
	return nil
}

func (r *TreeValueReq) EncodeResponse(w *wire.Writer) error {
	return w.Bytes(value.ToByteStream(r.Result, false))
}

func (r *TreeValueReq) EncodeRequest(w *wire.Writer) error {
	if err := w.Uint32(r.MetricID); err != nil {
		return err
	}
	if err := w.Uint32(r.CnodeID); err != nil {
		return err
	}
	if err := w.Uint32(r.Process); err != nil {
		return err
	}
	return w.Uint32(uint32(r.Flavour))
}

func (r *TreeValueReq) DecodeResponse(rd *wire.Reader) error {
	raw, err := rd.Bytes(value.FromType(value.Double).Size())
	if err != nil {
		return err
	}
	v, _, err := value.FromByteStream(value.Double, 0, raw, rd.Swapped)
	r.Result = v
	return err
}
