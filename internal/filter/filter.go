// Package filter implements the region/file filter engine (spec §4.6):
// reading a Score-P-style filter file of shell-glob include/exclude
// rules, and matching regions against it.
package filter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/scorep-tools/tracecost/internal/group"
)

// Rule is one include/exclude glob entry.
type Rule struct {
	Pattern string
	Exclude bool // true for EXCLUDE, false for INCLUDE
}

// Engine is a loaded filter file: one rule list for region names (also
// applied to mangled names) and one for file names, each matched in file
// order (spec §4.6: "the exact rule syntax is that of the existing
// filter format").
type Engine struct {
	regionRules []Rule
	fileRules   []Rule
}

const (
	sectionNone = iota
	sectionRegionNames
	sectionFileNames
)

// Load parses a filter file in the BEGIN/END block syntax:
//
//	SCOREP_REGION_NAMES_BEGIN
//	  EXCLUDE MPI_*
//	  INCLUDE MPI_Init
//	SCOREP_REGION_NAMES_END
//	SCOREP_FILE_NAMES_BEGIN
//	  EXCLUDE */test/*
//	SCOREP_FILE_NAMES_END
//
// Lines starting with '#' and blank lines are ignored. Region-name rules
// also match mangled names.
func Load(r io.Reader) (*Engine, error) {
	e := &Engine{}
	section := sectionNone
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		switch line {
		case "SCOREP_REGION_NAMES_BEGIN":
			section = sectionRegionNames
			continue
		case "SCOREP_REGION_NAMES_END":
			section = sectionNone
			continue
		case "SCOREP_FILE_NAMES_BEGIN":
			section = sectionFileNames
			continue
		case "SCOREP_FILE_NAMES_END":
			section = sectionNone
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("filter: line %d: expected \"EXCLUDE|INCLUDE <pattern>\", got %q", lineNo, line)
		}
		var exclude bool
		switch strings.ToUpper(fields[0]) {
		case "EXCLUDE":
			exclude = true
		case "INCLUDE":
			exclude = false
		default:
			return nil, fmt.Errorf("filter: line %d: unknown rule keyword %q", lineNo, fields[0])
		}
		pattern := strings.Join(fields[1:], " ")
		rule := Rule{Pattern: pattern, Exclude: exclude}
		switch section {
		case sectionRegionNames:
			e.regionRules = append(e.regionRules, rule)
		case sectionFileNames:
			e.fileRules = append(e.fileRules, rule)
		default:
			return nil, fmt.Errorf("filter: line %d: rule outside of a BEGIN/END block", lineNo)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return e, nil
}

// LoadFile opens path and parses it with Load.
func LoadFile(path string) (*Engine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Match reports whether fileName, regionName, or mangledName matches
// the engine's rules, applying the last matching rule in each rule
// list (later entries override earlier ones, as in the Score-P filter
// format) and treating EXCLUDE as the matched outcome and INCLUDE as
// an override back to unmatched.
func (e *Engine) Match(fileName, regionName, mangledName string) bool {
	if matchesRules(e.fileRules, fileName) {
		return true
	}
	if matchesRules(e.regionRules, regionName) {
		return true
	}
	if mangledName != "" && matchesRules(e.regionRules, mangledName) {
		return true
	}
	return false
}

func matchesRules(rules []Rule, name string) bool {
	matched := false
	for _, rule := range rules {
		if globMatch(rule.Pattern, name) {
			matched = rule.Exclude
		}
	}
	return matched
}

// globMatch applies fnmatch-style shell-glob semantics via path.Match,
// which supports '*', '?', and '[...]' character classes. '/' is mapped
// to another byte on both sides first, so '*' and '?' also match '/'.
func globMatch(pattern, name string) bool {
	ok, err := path.Match(strings.ReplaceAll(pattern, "/", "\x00"), strings.ReplaceAll(name, "/", "\x00"))
	return err == nil && ok
}

// FilteredOut reports whether a region is filtered out of the trace
// (spec §4.6): its paradigm is not "sampling", the engine matches it,
// and its group's filter posture is not NO.
func FilteredOut(e *Engine, paradigm group.Paradigm, g group.Group, fileName, regionName, mangledName string) bool {
	if paradigm == group.ParadigmSampling {
		return false
	}
	if group.FilterPosture(g) == group.No {
		return false
	}
	return e.Match(fileName, regionName, mangledName)
}

// EscapeGlobMeta escapes fnmatch meta-characters ('*', '?', '[', ']',
// '\\') in name so it can be emitted as a literal pattern in a
// generated filter file (spec §4.5's filter-file generation).
func EscapeGlobMeta(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
