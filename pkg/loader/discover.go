package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/dd0wney/cluso-contactgraph/pkg/logging"
)

// SliceFile is one per-tick contact network file.
type SliceFile struct {
	Path string
	Tick int
}

// ErrDuplicateTick is returned when two files name the same tick. Their
// edges would share (occur, seq) keys and merge into each other.
var ErrDuplicateTick = errors.New("more than one contact network file for tick")

var (
	digitRun  = regexp.MustCompile(`[0-9]+`)
	extension = regexp.MustCompile(`\.[A-Za-z][A-Za-z0-9.]*$`)
)

// DiscoverSlices lists files in dir named <prefix>[<tick>] or
// <prefix>_<tick>, optionally followed by an extension. Names whose suffix
// holds more than one integer outside the extension are ambiguous and
// skipped with an error log. When allow is non-empty only those ticks are
// returned. The result is sorted by tick; two files with the same tick
// fail with ErrDuplicateTick.
func DiscoverSlices(dir, prefix string, allow []int, logger logging.Logger) ([]SliceFile, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("discover slices in %s: %w", dir, err)
	}

	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `(?:\[([0-9]+)\]|_([0-9]+))(?:\.[A-Za-z][A-Za-z0-9.]*)?$`)

	var out []SliceFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) < len(prefix) || name[:len(prefix)] != prefix {
			continue
		}
		stem := extension.ReplaceAllString(name[len(prefix):], "")
		if runs := digitRun.FindAllString(stem, -1); len(runs) > 1 {
			logger.Error("ambiguous contact network file name", logging.Path(name), logging.Count(len(runs)))
			continue
		}
		m := pattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		digits := m[1]
		if digits == "" {
			digits = m[2]
		}
		tick, err := strconv.Atoi(digits)
		if err != nil {
			logger.Error("contact network tick out of range", logging.Path(name), logging.Error(err))
			continue
		}
		if len(allow) > 0 && !slices.Contains(allow, tick) {
			continue
		}
		out = append(out, SliceFile{Path: filepath.Join(dir, name), Tick: tick})
	}

	slices.SortFunc(out, func(a, b SliceFile) int {
		if a.Tick != b.Tick {
			return a.Tick - b.Tick
		}
		return strings.Compare(a.Path, b.Path)
	})
	for i := 1; i < len(out); i++ {
		if out[i].Tick == out[i-1].Tick {
			return nil, fmt.Errorf("%w %d: %s and %s", ErrDuplicateTick, out[i].Tick, out[i-1].Path, out[i].Path)
		}
	}
	return out, nil
}
