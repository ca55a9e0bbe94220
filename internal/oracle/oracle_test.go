package oracle

import (
	"context"
	"testing"
)

type fakeRunner struct {
	out []byte
	err error
}

func (f fakeRunner) Run(ctx context.Context, stdin []byte) ([]byte, error) {
	return f.out, f.err
}

func TestLoadWithParsesOutput(t *testing.T) {
	runner := fakeRunner{out: []byte("Enter 24\nLeave 24\nTimestamp 8\n")}
	o, err := LoadWith(context.Background(), runner, nil, AllBaseEvents(0))
	if err != nil {
		t.Fatalf("LoadWith: %v", err)
	}
	if got := o.SizeOf(EventEnter); got != 24 {
		t.Errorf("SizeOf(Enter) = %d, want 24", got)
	}
	if got := o.SizeOf(EventTimestamp); got != 8 {
		t.Errorf("SizeOf(Timestamp) = %d, want 8", got)
	}
	if got := o.SizeOf("NeverAsked"); got != 0 {
		t.Errorf("SizeOf(unknown) = %d, want 0", got)
	}
}

func TestLoadWithMalformedLine(t *testing.T) {
	runner := fakeRunner{out: []byte("Enter notanumber\n")}
	if _, err := LoadWith(context.Background(), runner, nil, AllBaseEvents(0)); err == nil {
		t.Fatal("expected error for malformed oracle output")
	}
}

func TestLoadWithRunnerFailure(t *testing.T) {
	runner := fakeRunner{err: ErrOracleFailure}
	if _, err := LoadWith(context.Background(), runner, nil, AllBaseEvents(0)); err == nil {
		t.Fatal("expected error propagated from runner")
	}
}

func TestDeriveCompositeSizes(t *testing.T) {
	o := &Oracle{sizes: map[string]int{
		EventMeasurementOnOff: 10,
		EventTimestamp:        8,
	}}
	o.DeriveCompositeSizes()
	if got := o.SizeOf(EventMeasurementOnOff); got != 2*(10+8) {
		t.Errorf("MeasurementOnOff = %d, want %d", got, 2*(10+8))
	}
}

func TestBuildScriptFormat(t *testing.T) {
	script := buildScript([]Definition{{Name: "ParameterString", Count: 3}}, []string{EventEnter})
	want := "set ParameterString 3\nget Enter\n"
	if script != want {
		t.Errorf("buildScript = %q, want %q", script, want)
	}
}

func TestSetSizeOfOnZeroValue(t *testing.T) {
	var o Oracle
	o.SetSizeOf(EventEnter, 12)
	if got := o.SizeOf(EventEnter); got != 12 {
		t.Errorf("SizeOf = %d, want 12", got)
	}
}

// TestLoadWithMultiWordEventName covers the Metric event, whose query
// name embeds the dense-counter count and so itself contains a space
// (e.g. "Metric 4"); the output line must still split on the last
// space rather than fail as malformed.
func TestLoadWithMultiWordEventName(t *testing.T) {
	runner := fakeRunner{out: []byte("Metric 4 96\n")}
	o, err := LoadWith(context.Background(), runner, nil, []string{MetricEventName(4)})
	if err != nil {
		t.Fatalf("LoadWith: %v", err)
	}
	if got := o.SizeOf(MetricEventName(4)); got != 96 {
		t.Errorf("SizeOf(%q) = %d, want 96", MetricEventName(4), got)
	}
}
