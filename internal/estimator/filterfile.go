package estimator

import (
	"bufio"
	"fmt"
	"os"

	"github.com/scorep-tools/tracecost/internal/filter"
)

// DefaultFilterFileName is the filename the writer protects from silent
// overwrite (spec §4.5).
const DefaultFilterFileName = "initial_scorep.filter"

// WriteFilterFile renders candidates as a Score-P filter file at path.
// If path already exists, it is renamed aside with a deterministic
// ".bak" suffix (".bak1", ".bak2", ... on further collisions) before
// the new file is written, and the rename is reported via moved.
func WriteFilterFile(path string, candidates []FilterCandidate) (moved string, err error) {
	if _, statErr := os.Stat(path); statErr == nil {
		moved, err = backupExisting(path)
		if err != nil {
			return "", err
		}
	} else if !os.IsNotExist(statErr) {
		return "", statErr
	}

	f, err := os.Create(path)
	if err != nil {
		return moved, err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := renderFilterFile(w, candidates); err != nil {
		return moved, err
	}
	return moved, w.Flush()
}

func backupExisting(path string) (string, error) {
	candidate := path + ".bak"
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			break
		}
		candidate = fmt.Sprintf("%s.bak%d", path, i)
	}
	if err := os.Rename(path, candidate); err != nil {
		return "", err
	}
	return candidate, nil
}

func renderFilterFile(w *bufio.Writer, candidates []FilterCandidate) error {
	fmt.Fprintln(w, "SCOREP_REGION_NAMES_BEGIN")
	for _, c := range candidates {
		fmt.Fprintf(w, "  # type=%s max_buf=%d visits=%d time=%.6f time%%=%.2f time/visit=%.9f\n",
			c.Group, c.MaxBuffer, c.Visits, c.Time, c.TimePercent, c.TimePerVisit)
		if c.FileName != "" {
			fmt.Fprintf(w, "  # file=%s\n", c.FileName)
		}
		if c.MangledName != "" && c.MangledName != c.Name {
			fmt.Fprintf(w, "  # MANGLED %s\n", filter.EscapeGlobMeta(c.MangledName))
		}
		fmt.Fprintf(w, "  EXCLUDE %s\n", filter.EscapeGlobMeta(c.Name))
	}
	fmt.Fprintln(w, "SCOREP_REGION_NAMES_END")
	return nil
}
