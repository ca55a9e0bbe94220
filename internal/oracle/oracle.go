// Package oracle implements the event-size oracle (spec §4.3): a table
// of per-event-kind byte sizes populated once by invoking the external
// otf2-estimator tool, then cached for the estimator's lifetime.
package oracle

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrOracleFailure is returned when the external estimator tool cannot
// be spawned, or its output cannot be parsed. Per spec §7 this is fatal
// for the estimator.
var ErrOracleFailure = errors.New("oracle: otf2-estimator invocation failed")

// Definition is one "set <name> <count>" line fed to the external tool,
// e.g. a region's string-parameter count for that call path.
type Definition struct {
	Name  string
	Count int
}

// Oracle is the populated event-size table, normally built by Load. The
// zero value holds no sizes (SizeOf returns 0) and accepts SetSizeOf.
type Oracle struct {
	mu    sync.RWMutex // guards sizes; after Load, writes come only via SetSizeOf
	sizes map[string]int
}

// Runner abstracts external command execution so the oracle can be
// tested without actually spawning otf2-estimator.
type Runner interface {
	Run(ctx context.Context, stdin []byte) ([]byte, error)
}

// execRunner invokes the real otf2-estimator binary.
type execRunner struct {
	binary string
}

func (r execRunner) Run(ctx context.Context, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.binary)
	cmd.Stdin = bytes.NewReader(stdin)
	var out bytes.Buffer
	cmd.Stdout = &out
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %v: %s", ErrOracleFailure, err, stderr.String())
	}
	return out.Bytes(), nil
}

// Load populates an Oracle by writing defs and the requested event
// names to a tempfile-backed script, invoking the otf2-estimator tool
// with that script on stdin, and parsing its "<event-name> <bytes>"
// output lines. Tempfile placement follows $TMPDIR, $TMP, $TEMP, /tmp,
// then cwd, in that order (spec §5), with a name derived from the
// current user, pid, and a random UUID to avoid collisions across
// concurrent invocations.
func Load(ctx context.Context, binary string, defs []Definition, events []string) (*Oracle, error) {
	return LoadWith(ctx, execRunner{binary: binary}, defs, events)
}

// LoadWith is Load parameterized by an injectable Runner, used by tests.
func LoadWith(ctx context.Context, runner Runner, defs []Definition, events []string) (*Oracle, error) {
	script := buildScript(defs, events)

	path, cleanup, err := writeScript(script)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOracleFailure, err)
	}
	defer cleanup()

	out, err := runner.Run(ctx, []byte(script))
	if err != nil {
		return nil, err
	}

	sizes, err := parseOutput(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOracleFailure, err)
	}
	_ = path // the runner gets the script on stdin, not this file; the file is removed on return

	return &Oracle{sizes: sizes}, nil
}

func buildScript(defs []Definition, events []string) string {
	var b strings.Builder
	for _, d := range defs {
		fmt.Fprintf(&b, "set %s %d\n", d.Name, d.Count)
	}
	for _, e := range events {
		fmt.Fprintf(&b, "get %s\n", e)
	}
	return b.String()
}

func tempDirCandidates() []string {
	var dirs []string
	for _, env := range []string{"TMPDIR", "TMP", "TEMP"} {
		if v := os.Getenv(env); v != "" {
			dirs = append(dirs, v)
		}
	}
	dirs = append(dirs, "/tmp")
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	return dirs
}

// writeScript writes script to a uniquely-named file in the first
// writable directory among $TMPDIR, $TMP, $TEMP, /tmp, cwd, returning
// its path and a cleanup func that removes it.
func writeScript(script string) (string, func(), error) {
	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}
	name := fmt.Sprintf("scorep-oracle-%s-%d-%s.tmp", user, os.Getpid(), uuid.NewString())

	var lastErr error
	for _, dir := range tempDirCandidates() {
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			lastErr = err
			continue
		}
		_, werr := f.WriteString(script)
		cerr := f.Close()
		if werr != nil {
			os.Remove(path)
			lastErr = werr
			continue
		}
		if cerr != nil {
			os.Remove(path)
			lastErr = cerr
			continue
		}
		return path, func() { os.Remove(path) }, nil
	}
	return "", func() {}, fmt.Errorf("no writable temp directory among candidates: %w", lastErr)
}

func parseOutput(out []byte) (map[string]int, error) {
	sizes := make(map[string]int)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		// Format is "<name> <bytes>", but name itself can contain
		// spaces (e.g. "Metric 4"), so split on the last one.
		line := strings.TrimRight(sc.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		sp := strings.LastIndex(line, " ")
		if sp < 0 {
			return nil, fmt.Errorf("malformed oracle output line %q", line)
		}
		name, numStr := line[:sp], line[sp+1:]
		n, err := strconv.Atoi(numStr)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("malformed oracle output line %q: size must be a positive integer", line)
		}
		sizes[name] = n
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return sizes, nil
}

// SizeOf returns the cached byte size for eventName, or 0 if unknown.
func (o *Oracle) SizeOf(eventName string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sizes[eventName]
}

// SetSizeOf overrides (or adds) the cached size for eventName.
// DeriveCompositeSizes uses it to store the derived MeasurementOnOff size.
func (o *Oracle) SetSizeOf(eventName string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sizes == nil {
		o.sizes = make(map[string]int)
	}
	o.sizes[eventName] = n
}

// Standard event names referenced by the catalogue (spec §4.4).
const (
	EventEnter                = "Enter"
	EventLeave                = "Leave"
	EventCallingContextEnter  = "CallingContextEnter"
	EventCallingContextLeave  = "CallingContextLeave"
	EventCallingContextSample = "CallingContextSample"
	EventProgramBegin         = "ProgramBegin"
	EventProgramEnd           = "ProgramEnd"
	EventMetric               = "Metric"
	EventParameterInt         = "ParameterInt"
	EventParameterString      = "ParameterString"
	EventTimestamp            = "Timestamp"
	EventMeasurementOnOff     = "MeasurementOnOff"
)

// MetricEventName returns the dense-counter-specific query name for
// the Metric event: the external tool computes the per-visit size of
// a region's metric set for exactly numDense dense counters, which
// need not scale linearly with numDense, so the count is baked into
// the query name itself rather than applied after the fact.
func MetricEventName(numDense int) string {
	return fmt.Sprintf("%s %d", EventMetric, numDense)
}

// AllBaseEvents lists the event names queried from otf2-estimator at
// construction time (spec §4.3/§4.4), for a profile with numDense
// dense hardware-counter metrics. The catalogue's name-/prefix-match
// contributors reuse EventMeasurementOnOff from this set rather than
// adding event names of their own.
func AllBaseEvents(numDense int) []string {
	return []string{
		EventEnter, EventLeave,
		EventCallingContextEnter, EventCallingContextLeave, EventCallingContextSample,
		EventProgramBegin, EventProgramEnd,
		MetricEventName(numDense),
		EventParameterInt, EventParameterString,
		EventTimestamp,
		EventMeasurementOnOff,
	}
}

// DeriveCompositeSizes applies the MeasurementOnOff derivation rule
// from spec §4.3 on top of the raw size already loaded from
// otf2-estimator: MeasurementOnOff occurs twice per visit and each
// occurrence needs a timestamp, so its stored size becomes
// 2*(base+timestamp). The Metric event's entry+exit doubling is
// instead applied by the catalogue, which also folds in denseNum
// (spec §4.4's "setEventSize(n)").
func (o *Oracle) DeriveCompositeSizes() {
	base := o.SizeOf(EventMeasurementOnOff)
	ts := o.SizeOf(EventTimestamp)
	o.SetSizeOf(EventMeasurementOnOff, 2*(base+ts))
}
