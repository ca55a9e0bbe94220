// Package session implements request.Session against the local
// filesystem and package memreport's JSON report stand-in, giving the
// protocol server something concrete to open, query, and save (spec
// §4.8's OpenCube/CloseCube/SaveCube/FileSystem/MiscData operations).
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/scorep-tools/tracecost/internal/report"
	"github.com/scorep-tools/tracecost/internal/report/memreport"
	"github.com/scorep-tools/tracecost/internal/request"
)

// Session is one connection's server-side state: at most one open
// report, a fixed root directory requests are resolved against, and a
// small opaque blob store for MiscData.
type Session struct {
	mu      sync.RWMutex
	root    string
	version int32

	rpt  *memreport.Report
	open bool

	misc map[string][]byte
}

// New returns a Session rooted at root; paths outside root are rejected
// by every request this Session serves.
func New(root string, libraryVersion int32) *Session {
	return &Session{root: root, version: libraryVersion, misc: map[string][]byte{}}
}

// SetMiscData seeds a blob the MiscData request can later hand back,
// used by tests and by a server operator pre-loading annotations.
func (s *Session) SetMiscData(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.misc[name] = data
}

// resolve joins rel onto root, rejecting any path that escapes it.
func (s *Session) resolve(rel string) (string, error) {
	full := filepath.Join(s.root, rel)
	absRoot, err := filepath.Abs(s.root)
	if err != nil {
		return "", err
	}
	absFull, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if absFull != absRoot && !strings.HasPrefix(absFull, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("session: path %q escapes report root", rel)
	}
	return absFull, nil
}

func (s *Session) OpenCube(path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	rpt, err := memreport.Load(full)
	if err != nil {
		return fmt.Errorf("session: open %s: %w", path, err)
	}
	s.mu.Lock()
	s.rpt = rpt
	s.open = true
	s.mu.Unlock()
	return nil
}

func (s *Session) CloseCube() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rpt = nil
	s.open = false
}

func (s *Session) SaveCube(path string) error {
	s.mu.RLock()
	rpt := s.rpt
	open := s.open
	s.mu.RUnlock()
	if !open {
		return fmt.Errorf("session: no report open to save")
	}
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	return rpt.Save(full)
}

func (s *Session) Report() (report.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.open {
		return nil, false
	}
	return s.rpt, true
}

func (s *Session) DefineMetric(def report.MetricDefinition) (report.MetricID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return 0, fmt.Errorf("session: no report open")
	}
	return s.rpt.DefineMetric(def)
}

func (s *Session) MiscData(name string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.misc[name]
}

func (s *Session) FileSystem(path string) ([]request.FileEntry, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, fmt.Errorf("session: read dir %s: %w", path, err)
	}
	out := make([]request.FileEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, request.FileEntry{
			Name:        e.Name(),
			IsDirectory: e.IsDir(),
			Size:        info.Size(),
			ModTime:     info.ModTime().Unix(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Session) LibraryVersion() int32 { return s.version }
