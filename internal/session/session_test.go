package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/scorep-tools/tracecost/internal/report"
	"github.com/scorep-tools/tracecost/internal/value"
)

func writeFixture(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "run.json")
	doc := `{
		"metrics": [{"name":"time","data_type":"DOUBLE","visible":true}],
		"cnodes": [{"region":0,"parent":-1,"visits":[1],"time":[2.5],"hits":[0]}],
		"regions": [{"name":"main","paradigm":"user"}],
		"system_tree": {"name":"root","children":[{"name":"p0","is_leaf":true,"kind":"process","process_id":0}]},
		"num_processes": 1,
		"values": [{"process":0,"cnode":0,"metric":0,"inclusive":true,"value":2.5}]
	}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestOpenCloseCube(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir)
	s := New(dir, 1)

	if _, open := s.Report(); open {
		t.Fatal("report should not be open before OpenCube")
	}
	if err := s.OpenCube("run.json"); err != nil {
		t.Fatalf("OpenCube: %v", err)
	}
	rpt, open := s.Report()
	if !open {
		t.Fatal("report should be open after OpenCube")
	}
	if rpt.NumberOfRegions() != 1 {
		t.Errorf("NumberOfRegions = %d, want 1", rpt.NumberOfRegions())
	}

	s.CloseCube()
	if _, open := s.Report(); open {
		t.Fatal("report should not be open after CloseCube")
	}
}

func TestOpenCubeRejectsEscapingPath(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 1)
	if err := s.OpenCube("../outside.json"); err == nil {
		t.Fatal("expected error for path escaping root")
	}
}

func TestSaveCubeWithoutOpenFails(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 1)
	if err := s.SaveCube("out.json"); err == nil {
		t.Fatal("expected error saving with no report open")
	}
}

func TestSaveCubeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir)
	s := New(dir, 1)
	if err := s.OpenCube("run.json"); err != nil {
		t.Fatalf("OpenCube: %v", err)
	}
	if err := s.SaveCube("copy.json"); err != nil {
		t.Fatalf("SaveCube: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "copy.json")); err != nil {
		t.Errorf("expected copy.json to exist: %v", err)
	}
}

func TestMiscDataRoundTrip(t *testing.T) {
	s := New(t.TempDir(), 1)
	s.SetMiscData("notes", []byte("hello"))
	if string(s.MiscData("notes")) != "hello" {
		t.Errorf("MiscData = %q", s.MiscData("notes"))
	}
	if s.MiscData("missing") != nil {
		t.Error("expected nil for unknown key")
	}
}

func TestFileSystemLists(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir)
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	s := New(dir, 1)
	entries, err := s.FileSystem(".")
	if err != nil {
		t.Fatalf("FileSystem: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Name != "run.json" || entries[1].Name != "sub" || !entries[1].IsDirectory {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestLibraryVersion(t *testing.T) {
	s := New(t.TempDir(), 42)
	if s.LibraryVersion() != 42 {
		t.Errorf("LibraryVersion = %d, want 42", s.LibraryVersion())
	}
}

func TestDefineMetricRequiresOpenCube(t *testing.T) {
	s := New(t.TempDir(), 1)
	_, err := s.DefineMetric(report.MetricDefinition{Name: "derived", DataType: value.Double})
	if err == nil {
		t.Fatal("expected error defining metric with no report open")
	}
}
