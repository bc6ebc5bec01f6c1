// Package source reads the delimited flat files that feed the loaders.
package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
)

// MaxHeaderRows is the largest supported count of leading non-data rows:
// a column header optionally followed by a schema row.
const MaxHeaderRows = 2

// ErrHeaderRows is returned for a header row count outside [1, MaxHeaderRows].
var ErrHeaderRows = errors.New("header rows to skip must be 1 or 2")

// ValidateHeaderRows checks the caller-supplied header row count.
func ValidateHeaderRows(n int) error {
	if n < 1 || n > MaxHeaderRows {
		return fmt.Errorf("%w: got %d", ErrHeaderRows, n)
	}
	return nil
}

// Reader streams data rows of a delimited file, skipping a fixed number of
// header rows. Returned records are reused between calls.
type Reader struct {
	name    string
	csv     *csv.Reader
	closer  io.Closer
	header  [][]string
	dataRow int64
	line    int
}

// Options configures a Reader.
type Options struct {
	HeaderRows int
	Comma      rune // defaults to ','
}

// Open opens path for streaming.
func Open(path string, opts Options) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	r, err := NewReader(path, f, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader wraps r. name is used in error positions.
func NewReader(name string, r io.Reader, opts Options) (*Reader, error) {
	if err := ValidateHeaderRows(opts.HeaderRows); err != nil {
		return nil, err
	}

	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1 // column counts are checked by the record parsers
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}

	rd := &Reader{name: name, csv: cr}
	for i := 0; i < opts.HeaderRows; i++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return nil, fmt.Errorf("%s: expected %d header rows, found %d", name, opts.HeaderRows, i)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: read header row %d: %w", name, i+1, err)
		}
		rd.header = append(rd.header, append([]string(nil), rec...))
	}
	return rd, nil
}

// Name returns the source name.
func (r *Reader) Name() string { return r.name }

// Header returns copies of the skipped header rows.
func (r *Reader) Header() [][]string { return r.header }

// Next returns the next data row, or io.EOF at the end of input.
func (r *Reader) Next() ([]string, error) {
	rec, err := r.csv.Read()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%s: %w", r.name, err)
	}
	r.dataRow++
	r.line, _ = r.csv.FieldPos(0)
	return rec, nil
}

// DataRow returns the 0-based ordinal of the row last returned by Next.
func (r *Reader) DataRow() int64 { return r.dataRow - 1 }

// Line returns the 1-based physical line of the row last returned by Next.
func (r *Reader) Line() int { return r.line }

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
