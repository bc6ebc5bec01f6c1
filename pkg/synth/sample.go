package synth

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/dd0wney/cluso-contactgraph/pkg/logging"
	"github.com/dd0wney/cluso-contactgraph/pkg/source"
)

// ErrNoRows is returned when a sample is requested from a file without
// data rows.
var ErrNoRows = errors.New("no data rows to sample")

// Sample draws k data rows from r with replacement and writes them to w
// under a single header: the last of the headerRows skipped header rows.
// All data rows are held in memory.
func (g *Generator) Sample(name string, r io.Reader, w io.Writer, headerRows, k int) error {
	if k < 0 {
		return fmt.Errorf("sample size must not be negative: got %d", k)
	}
	rd, err := source.NewReader(name, r, source.Options{HeaderRows: headerRows})
	if err != nil {
		return err
	}

	var rows [][]string
	for {
		rec, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		rows = append(rows, slices.Clone(rec))
	}
	if len(rows) == 0 && k > 0 {
		return fmt.Errorf("%s: %w", name, ErrNoRows)
	}

	header := rd.Header()
	cw := csv.NewWriter(w)
	if err := cw.Write(header[len(header)-1]); err != nil {
		return err
	}
	for i := 0; i < k; i++ {
		if err := cw.Write(rows[g.rng.IntN(len(rows))]); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	g.logger.Info("network sampled", logging.Source(name), logging.Int("rows", len(rows)), logging.Count(k))
	return nil
}
