// estimator projects trace-buffer byte cost from a profile report and,
// optionally, proposes a Score-P filter file (spec §4.5/§4.6/§6).
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scorep-tools/tracecost/internal/estimator"
	"github.com/scorep-tools/tracecost/internal/filter"
	"github.com/scorep-tools/tracecost/internal/oracle"
	"github.com/scorep-tools/tracecost/internal/output"
	"github.com/scorep-tools/tracecost/internal/report"
	"github.com/scorep-tools/tracecost/internal/report/memreport"
)

var version = "0.1.0"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "estimator:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		perRegion   bool
		filterPath  string
		denseNum    int
		mangled     bool
		sortBy      string
		genFilter   string
		genFilterOn bool
		oracleBin   string
	)

	cmd := &cobra.Command{
		Use:           "estimator [options] <profile>",
		Short:         "Project trace-buffer byte cost and propose filter candidates",
		Version:       version,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEstimate(cmd, args[0], estimateOptions{
				perRegion:  perRegion,
				filterPath: filterPath,
				denseNum:   denseNum,
				mangled:    mangled,
				sortBy:     sortBy,
				genFilter:  genFilter,
				genOn:      genFilterOn,
				oracleBin:  oracleBin,
			})
		},
	}
	cmd.SetArgs(args)

	flags := cmd.Flags()
	flags.BoolVarP(&perRegion, "regions", "r", false, "also print per-region breakdown")
	flags.StringVarP(&filterPath, "filter-file", "f", "", "preload a filter file; already-filtered regions are marked with +")
	flags.IntVarP(&denseNum, "dense-counters", "c", 0, "number of dense hardware-counter metrics to count")
	flags.BoolVarP(&mangled, "mangled", "m", false, "display mangled names")
	flags.StringVarP(&sortBy, "sort", "s", "maxbuffer", "sort criterion: totaltime|timepervisit|maxbuffer|visits|name")
	flags.StringVar(&oracleBin, "oracle", "otf2-estimator", "path to the otf2-estimator event-size tool")
	genFlag := flags.VarPF(genFilterValue{&genFilter, &genFilterOn}, "generate-filter", "g", "generate a filter file; optional key=value,... overrides (bufferpercent,timepervisit,visits,bufferabsolute,type)")
	genFlag.NoOptDefVal = " "

	return cmd.Execute()
}

// genFilterValue implements pflag.Value so -g both toggles filter
// generation and accepts an optional "k=v,k=v" argument (spec §6's
// "-g[=<kv,kv,...>]").
type genFilterValue struct {
	value *string
	set   *bool
}

func (g genFilterValue) String() string { return *g.value }
func (g genFilterValue) Type() string   { return "string" }
func (g genFilterValue) Set(s string) error {
	*g.value = strings.TrimSpace(s)
	*g.set = true
	return nil
}

type estimateOptions struct {
	perRegion  bool
	filterPath string
	denseNum   int
	mangled    bool
	sortBy     string
	genFilter  string
	genOn      bool
	oracleBin  string
}

func parseSortCriterion(s string) (estimator.SortCriterion, error) {
	switch strings.ToLower(s) {
	case "totaltime":
		return estimator.SortTotalTime, nil
	case "timepervisit":
		return estimator.SortTimePerVisit, nil
	case "maxbuffer", "":
		return estimator.SortMaxBuffer, nil
	case "visits":
		return estimator.SortVisits, nil
	case "name":
		return estimator.SortName, nil
	default:
		return 0, fmt.Errorf("unknown sort criterion %q", s)
	}
}

// parseFilterGenParams parses -g's argument over these defaults:
// bufferpercent,timepervisit,visits,bufferabsolute,type = 1,1,0,0,usr
func parseFilterGenParams(spec string) (estimator.FilterCandidateParams, string, error) {
	params := estimator.FilterCandidateParams{Pct: 0.01, ThresholdUs: 1, MinVisits: 0, MinMiB: 0}
	kind := "usr"
	for _, kv := range strings.Split(spec, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return params, kind, fmt.Errorf("malformed -g entry %q", kv)
		}
		key, val := strings.ToLower(strings.TrimSpace(parts[0])), strings.TrimSpace(parts[1])
		switch key {
		case "bufferpercent":
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return params, kind, fmt.Errorf("bufferpercent: %w", err)
			}
			params.Pct = f / 100
		case "timepervisit":
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return params, kind, fmt.Errorf("timepervisit: %w", err)
			}
			params.ThresholdUs = f
		case "visits":
			n, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return params, kind, fmt.Errorf("visits: %w", err)
			}
			params.MinVisits = n
		case "bufferabsolute":
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return params, kind, fmt.Errorf("bufferabsolute: %w", err)
			}
			params.MinMiB = f
		case "type":
			switch val {
			case "usr", "com", "both":
				kind = val
			default:
				return params, kind, fmt.Errorf("type must be usr, com, or both, got %q", val)
			}
		default:
			return params, kind, fmt.Errorf("unknown -g key %q", key)
		}
	}
	return params, kind, nil
}

// definitionCounters builds the "set <name> <count>" lines sent to the
// event-size oracle ahead of its "get" queries (spec §4.3 step 1): the
// region and metric counts plus one entry per profile definition
// counter, keyed the same way the original's calculate_event_sizes()
// keys m_profile->getDefinitionCounters() (SCOREP_Score_Estimator.cpp).
// Go map iteration order is randomized, so the counters are sorted by
// name to keep the generated script reproducible.
func definitionCounters(rpt report.Report) []oracle.Definition {
	defs := []oracle.Definition{
		{Name: "Region", Count: rpt.NumberOfRegions()},
		{Name: "Metric", Count: rpt.NumberOfMetrics()},
	}
	counters := rpt.DefinitionCounters()
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		defs = append(defs, oracle.Definition{Name: name, Count: counters[name]})
	}
	return defs
}

func runEstimate(cmd *cobra.Command, profilePath string, opts estimateOptions) error {
	if _, err := os.Stat(profilePath); err != nil {
		return fmt.Errorf("input file: %w", err)
	}

	progress := output.NewProgress(true)
	progress.Log("loading profile %s", profilePath)

	rpt, err := memreport.Load(profilePath)
	if err != nil {
		return fmt.Errorf("loading profile: %w", err)
	}

	sortBy, err := parseSortCriterion(opts.sortBy)
	if err != nil {
		return err
	}

	var engine *filter.Engine
	if opts.filterPath != "" {
		engine, err = filter.LoadFile(opts.filterPath)
		if err != nil {
			return fmt.Errorf("loading filter file: %w", err)
		}
	}

	progress.Log("invoking event-size oracle")
	o, err := oracle.Load(context.Background(), opts.oracleBin, definitionCounters(rpt), oracle.AllBaseEvents(opts.denseNum))
	if err != nil {
		return fmt.Errorf("event-size oracle: %w", err)
	}
	o.DeriveCompositeSizes()

	e := estimator.New(rpt, o, estimator.Options{
		DenseNum:     opts.denseNum,
		SortBy:       sortBy,
		PerRegion:    opts.perRegion || opts.genOn,
		FilterEngine: engine,
	})
	e.Run()

	printGroupReport(cmd, e)
	if opts.perRegion {
		printRegionReport(cmd, e, rpt, opts.mangled)
	}

	if opts.genOn {
		params, kind, err := parseFilterGenParams(opts.genFilter)
		if err != nil {
			return fmt.Errorf("-g: %w", err)
		}
		candidates := e.GenerateFilterCandidates(params)
		candidates = filterByKind(candidates, kind)
		moved, err := estimator.WriteFilterFile(estimator.DefaultFilterFileName, candidates)
		if err != nil {
			return fmt.Errorf("writing filter file: %w", err)
		}
		if moved != "" {
			progress.Log("existing filter file moved to %s", moved)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d filter candidates to %s\n", len(candidates), estimator.DefaultFilterFileName)
	}

	return nil
}

func filterByKind(candidates []estimator.FilterCandidate, kind string) []estimator.FilterCandidate {
	if kind == "both" {
		return candidates
	}
	out := candidates[:0:0]
	for _, c := range candidates {
		if (kind == "usr" && c.Group.String() == "USR") || (kind == "com" && c.Group.String() == "COM") {
			out = append(out, c)
		}
	}
	return out
}

func printGroupReport(cmd *cobra.Command, e *estimator.Estimator) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%-10s %12s %12s %10s %10s %14s\n", "group", "max_buf", "total_buf", "visits", "hits", "time/visit")
	for _, row := range e.GroupReport() {
		fmt.Fprintf(w, "%-10s %12d %12d %10d %10d %14.9f\n",
			row.Group, row.MaxBuffer, row.TotalBuffer, row.Visits, row.Hits, row.TimePerVisit)
	}
}

func printRegionReport(cmd *cobra.Command, e *estimator.Estimator, rpt report.Report, mangled bool) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\n%-4s %-40s %8s %12s %12s %10s %14s\n", "flt", "region", "group", "max_buf", "total_buf", "visits", "time/visit")
	for _, row := range e.RegionReport() {
		mark := " "
		if row.FilterMark == estimator.MarkYes {
			mark = "+"
		}
		name := row.Name
		if mangled {
			if m := rpt.MangledName(row.Region); m != "" {
				name = m
			}
		}
		fmt.Fprintf(w, "%-4s %-40s %8s %12d %12d %10d %14.9f\n",
			mark, name, row.Group, row.MaxBuffer, row.TotalBuffer, row.Visits, row.TimePerVisit)
	}
}
