// Package estimator implements the trace-buffer byte-cost estimator
// core (spec §4.5): walking a profile's call tree, crediting bytes to
// score groups and optionally individual regions, and producing a
// sorted report plus a filter-file generator (spec §4.5/§4.6).
package estimator

import (
	"sort"

	"github.com/scorep-tools/tracecost/internal/catalogue"
	"github.com/scorep-tools/tracecost/internal/filter"
	"github.com/scorep-tools/tracecost/internal/group"
	"github.com/scorep-tools/tracecost/internal/oracle"
	"github.com/scorep-tools/tracecost/internal/report"
)

// SortCriterion selects the ordering of a generated report (spec §4.5).
type SortCriterion uint8

const (
	SortMaxBuffer SortCriterion = iota
	SortTotalTime
	SortTimePerVisit
	SortVisits
	SortName
)

// FilterMark records a region's filtered-or-not disposition once a
// filter is active, mirroring the Cube "filter mark" column.
type FilterMark uint8

const (
	MarkUnknown FilterMark = iota
	MarkYes
	MarkNo
)

const mebibyte = 1 << 20

// accumulator is one score-group or per-region byte/visit/hit/time tally.
type accumulator struct {
	bytesPerProcess []uint64
	visits          uint64
	hits            uint64
	time            float64
}

func newAccumulator(numProcesses int) *accumulator {
	return &accumulator{bytesPerProcess: make([]uint64, numProcesses)}
}

func (a *accumulator) credit(process int, bytes, visits, hits uint64, t float64) {
	a.bytesPerProcess[process] += bytes
	a.visits += visits
	a.hits += hits
	a.time += t
}

func (a *accumulator) maxBuffer() uint64 {
	var max uint64
	for _, b := range a.bytesPerProcess {
		if b > max {
			max = b
		}
	}
	return max
}

func (a *accumulator) totalBuffer() uint64 {
	var total uint64
	for _, b := range a.bytesPerProcess {
		total += b
	}
	return total
}

// Estimator holds the per-run state built from one report (spec §4.5).
type Estimator struct {
	rpt           report.Report
	o             *oracle.Oracle
	cat           *catalogue.Catalogue
	bytesPerVisit map[report.RegionID]int
	numProcesses  int
	perRegion     bool
	sortBy        SortCriterion

	groups         map[group.Group]*accumulator
	regions        map[report.RegionID]*accumulator
	filteredGroups map[group.Group]*accumulator
	filterMarks    map[report.RegionID]FilterMark
	filterEngine   *filter.Engine
}

// Options configures estimator construction (spec §4.5's "construction
// inputs").
type Options struct {
	DenseNum     int
	SortBy       SortCriterion
	PerRegion    bool
	FilterEngine *filter.Engine // nil disables filtered-group accounting
}

// New constructs an Estimator: it registers the event catalogue against
// o and computes bytesPerVisit for every region in rpt.
func New(rpt report.Report, o *oracle.Oracle, opts Options) *Estimator {
	cat := catalogue.Register(o, opts.DenseNum)
	numProcesses := rpt.NumberOfProcesses()

	e := &Estimator{
		rpt:           rpt,
		o:             o,
		cat:           cat,
		bytesPerVisit: cat.BytesPerVisit(rpt),
		numProcesses:  numProcesses,
		perRegion:     opts.PerRegion,
		sortBy:        opts.SortBy,
		groups:        make(map[group.Group]*accumulator),
		filteredGroups: make(map[group.Group]*accumulator),
		filterMarks:   make(map[report.RegionID]FilterMark),
		filterEngine:  opts.FilterEngine,
	}
	for _, g := range append([]group.Group{group.ALL}, group.All()...) {
		e.groups[g] = newAccumulator(numProcesses)
		e.filteredGroups[g] = newAccumulator(numProcesses)
	}
	e.filteredGroups[group.FLT] = newAccumulator(numProcesses)
	if opts.PerRegion {
		e.regions = make(map[report.RegionID]*accumulator)
		for _, rg := range rpt.Regions() {
			e.regions[rg.ID] = newAccumulator(numProcesses)
		}
	}
	return e
}

// Run walks every process's call tree and credits bytes to the score
// groups (and, if enabled, per-region accumulators and filtered
// groups), per the algorithm in spec §4.5.
func (e *Estimator) Run() {
	tsSize := e.o.SizeOf(oracle.EventTimestamp)
	paramIntSize := e.o.SizeOf(oracle.EventParameterInt) + tsSize
	paramStrSize := e.o.SizeOf(oracle.EventParameterString) + tsSize
	sampleSize := e.o.SizeOf(oracle.EventCallingContextSample) + tsSize

	for p := 0; p < e.numProcesses; p++ {
		process := p
		e.rpt.IterateCallTree(process, func(v report.CallTreeVisit) {
			e.visit(process, v, paramIntSize, paramStrSize, sampleSize)
		})
	}
}

func (e *Estimator) visit(process int, v report.CallTreeVisit, paramIntSize, paramStrSize, sampleSize int) {
	if v.Visits == 0 && v.Hits == 0 {
		return
	}

	if e.rpt.IsDynamicRegion(v.Region) && v.HasParent {
		bytes := v.Visits * uint64(e.bytesPerVisit[v.Parent])
		e.credit(process, v.Parent, v.Region, bytes, v.Visits, 0, v.Time)
		return
	}

	bytes := v.Visits*uint64(e.bytesPerVisit[v.Region]) +
		uint64(v.NumParamsInt)*v.Visits*uint64(paramIntSize) +
		uint64(v.NumParamsStr)*v.Visits*uint64(paramStrSize) +
		v.Hits*uint64(sampleSize)

	e.credit(process, v.Region, v.Region, bytes, v.Visits, v.Hits, v.Time)

	if e.filterEngine == nil {
		return
	}
	filtered := e.evaluateFilter(v.Region)
	if filtered {
		e.filterMarks[v.Region] = MarkYes
	} else if e.filterMarks[v.Region] != MarkYes {
		e.filterMarks[v.Region] = MarkNo
	}
	if filtered {
		e.filteredGroups[group.FLT].credit(process, bytes, v.Visits, v.Hits, v.Time)
		return
	}
	g := e.rpt.Group(v.Region)
	e.filteredGroups[g].credit(process, bytes, v.Visits, v.Hits, v.Time)
	e.filteredGroups[group.ALL].credit(process, bytes, v.Visits, v.Hits, v.Time)
}

// credit applies bytes/visits/hits/time to the owning group, the ALL
// group, and, if per-region accounting is on, creditRegion — which for
// a dynamic child is its parent region, never the child itself (spec
// §4.5 example 3).
func (e *Estimator) credit(process int, creditRegion, ownerRegion report.RegionID, bytes, visits, hits uint64, t float64) {
	g := e.rpt.Group(ownerRegion)
	e.groups[g].credit(process, bytes, visits, hits, t)
	e.groups[group.ALL].credit(process, bytes, visits, hits, t)
	if e.perRegion {
		if acc, ok := e.regions[creditRegion]; ok {
			acc.credit(process, bytes, visits, hits, t)
		}
	}
}

func (e *Estimator) evaluateFilter(r report.RegionID) bool {
	paradigm := e.rpt.RegionParadigm(r)
	g := e.rpt.Group(r)
	return filter.FilteredOut(e.filterEngine, paradigm, g,
		e.rpt.ShortFileName(r), e.rpt.RegionName(r), e.rpt.MangledName(r))
}

// MaxBuffer returns max_p Σ_r bytes(p,r).
func (e *Estimator) MaxBuffer() uint64 { return e.groups[group.ALL].maxBuffer() }

// TotalBuffer returns Σ_{p,r} bytes(p,r).
func (e *Estimator) TotalBuffer() uint64 { return e.groups[group.ALL].totalBuffer() }

// TotalTime returns Σ_p time(p), accumulated over every credited node.
func (e *Estimator) TotalTime() float64 { return e.groups[group.ALL].time }

// MemoryRequirement computes the suggested SCOREP_TOTAL_MEMORY value
// (spec §4.5) and reports whether it exceeds the 4 GiB-minus-one
// ceiling the runtime supports.
func (e *Estimator) MemoryRequirement(maxLocationsPerProcess int) (bytes uint64, exceedsMax bool) {
	base := e.MaxBuffer()
	if base < 2*mebibyte {
		base = 2 * mebibyte
	}
	bytes = base + uint64(2*mebibyte*maxLocationsPerProcess)
	return bytes, bytes > 0xFFFFFFFF
}

// GroupRow is one line of a group-level report.
type GroupRow struct {
	Group        group.Group
	MaxBuffer    uint64
	TotalBuffer  uint64
	Visits       uint64
	Hits         uint64
	Time         float64
	TimePerVisit float64
}

// GroupReport returns one row per populated group, sorted by the
// estimator's configured criterion (spec §4.5's reporting contract:
// stable, descending for size/time/visits, ascending for
// time-per-visit and name).
func (e *Estimator) GroupReport() []GroupRow {
	rows := make([]GroupRow, 0, len(e.groups))
	for g, acc := range e.groups {
		if acc.totalBuffer() == 0 && acc.visits == 0 && acc.hits == 0 {
			continue
		}
		rows = append(rows, GroupRow{
			Group:        g,
			MaxBuffer:    acc.maxBuffer(),
			TotalBuffer:  acc.totalBuffer(),
			Visits:       acc.visits,
			Hits:         acc.hits,
			Time:         acc.time,
			TimePerVisit: timePerVisit(acc.time, acc.visits),
		})
	}
	sortGroupRows(rows, e.sortBy)
	return rows
}

func sortGroupRows(rows []GroupRow, by SortCriterion) {
	less := func(i, j int) bool {
		switch by {
		case SortTotalTime:
			return rows[i].Time > rows[j].Time
		case SortTimePerVisit:
			return rows[i].TimePerVisit < rows[j].TimePerVisit
		case SortVisits:
			return rows[i].Visits > rows[j].Visits
		case SortName:
			return rows[i].Group.String() < rows[j].Group.String()
		default:
			return rows[i].MaxBuffer > rows[j].MaxBuffer
		}
	}
	sort.SliceStable(rows, less)
}

func timePerVisit(t float64, visits uint64) float64 {
	if visits == 0 {
		return 0
	}
	return t / float64(visits)
}

// RegionRow is one line of a per-region report; only populated when
// the estimator was constructed with Options.PerRegion.
type RegionRow struct {
	Region       report.RegionID
	Name         string
	Group        group.Group
	FilterMark   FilterMark
	MaxBuffer    uint64
	TotalBuffer  uint64
	Visits       uint64
	Hits         uint64
	Time         float64
	TimePerVisit float64
}

// RegionReport returns one row per region with non-zero accounting,
// sorted per the estimator's configured criterion. Returns nil if the
// estimator was not constructed with PerRegion accounting.
func (e *Estimator) RegionReport() []RegionRow {
	if !e.perRegion {
		return nil
	}
	rows := make([]RegionRow, 0, len(e.regions))
	for id, acc := range e.regions {
		if acc.totalBuffer() == 0 && acc.visits == 0 && acc.hits == 0 {
			continue
		}
		rows = append(rows, RegionRow{
			Region:       id,
			Name:         e.rpt.RegionName(id),
			Group:        e.rpt.Group(id),
			FilterMark:   e.filterMarks[id],
			MaxBuffer:    acc.maxBuffer(),
			TotalBuffer:  acc.totalBuffer(),
			Visits:       acc.visits,
			Hits:         acc.hits,
			Time:         acc.time,
			TimePerVisit: timePerVisit(acc.time, acc.visits),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		switch e.sortBy {
		case SortTotalTime:
			return rows[i].Time > rows[j].Time
		case SortTimePerVisit:
			return rows[i].TimePerVisit < rows[j].TimePerVisit
		case SortVisits:
			return rows[i].Visits > rows[j].Visits
		case SortName:
			return rows[i].Name < rows[j].Name
		default:
			return rows[i].MaxBuffer > rows[j].MaxBuffer
		}
	})
	return rows
}

// FilterCandidateParams thresholds a region must clear to be proposed
// for exclusion by GenerateFilterCandidates (spec §4.5).
type FilterCandidateParams struct {
	Pct           float64 // max-buffer ratio to max_buf, e.g. 0.01 for 1%
	ThresholdUs   float64 // time-per-visit ceiling, in microseconds
	MinVisits     uint64
	MinMiB        float64
}

// FilterCandidate is one region proposed for exclusion.
type FilterCandidate struct {
	Region       report.RegionID
	Name         string
	FileName     string
	MangledName  string
	Group        group.Group
	MaxBuffer    uint64
	Visits       uint64
	Time         float64
	TimePercent  float64
	TimePerVisit float64
}

// GenerateFilterCandidates selects filter candidates per spec §4.5: USR
// or COM regions not already marked YES, whose max-buffer ratio,
// time-per-visit, visit count, and absolute max-buffer all clear the
// given thresholds.
func (e *Estimator) GenerateFilterCandidates(params FilterCandidateParams) []FilterCandidate {
	if !e.perRegion {
		return nil
	}
	maxBuf := e.MaxBuffer()
	totalTime := e.TotalTime()
	var out []FilterCandidate
	for id, acc := range e.regions {
		g := e.rpt.Group(id)
		if g != group.USR && g != group.COM {
			continue
		}
		if e.filterMarks[id] == MarkYes {
			continue
		}
		mb := acc.maxBuffer()
		if maxBuf > 0 && float64(mb)/float64(maxBuf) < params.Pct {
			continue
		}
		tpv := timePerVisit(acc.time, acc.visits) * 1e6
		if tpv > params.ThresholdUs {
			continue
		}
		if acc.visits < params.MinVisits {
			continue
		}
		if float64(mb) < params.MinMiB*mebibyte {
			continue
		}
		var timePercent float64
		if totalTime > 0 {
			timePercent = acc.time / totalTime * 100
		}
		out = append(out, FilterCandidate{
			Region:       id,
			Name:         e.rpt.RegionName(id),
			FileName:     e.rpt.ShortFileName(id),
			MangledName:  e.rpt.MangledName(id),
			Group:        g,
			MaxBuffer:    mb,
			Visits:       acc.visits,
			Time:         acc.time,
			TimePercent:  timePercent,
			TimePerVisit: tpv,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MaxBuffer > out[j].MaxBuffer })
	return out
}
