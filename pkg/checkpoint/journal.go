package checkpoint

import (
	"bufio"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dd0wney/cluso-contactgraph/pkg/logging"
)

// JournalFile is the file name of the journal inside its directory.
const JournalFile = "checkpoints.log"

// ErrClosed is returned by operations on a closed Journal.
var ErrClosed = errors.New("checkpoint journal closed")

// Journal is an append-only, checksummed log of checkpoint entries.
// Every Append is flushed and fsynced before it returns.
type Journal struct {
	mu         sync.Mutex
	path       string
	file       *os.File
	writer     *bufio.Writer
	currentLSN uint64
	logger     logging.Logger
	now        func() time.Time
}

// OpenJournal opens or creates the journal in dir.
func OpenJournal(dir string, logger logging.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	path := filepath.Join(dir, JournalFile)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint journal: %w", err)
	}

	j := &Journal{
		path:   path,
		file:   file,
		writer: bufio.NewWriter(file),
		logger: logger.With(logging.Component("checkpoint"), logging.Path(path)),
		now:    time.Now,
	}

	entries, err := j.readAll()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to recover LSN: %w", err)
	}
	if len(entries) > 0 {
		j.currentLSN = entries[len(entries)-1].LSN
	}
	if err := j.dropTornTail(entries); err != nil {
		file.Close()
		return nil, err
	}
	return j, nil
}

// dropTornTail cuts bytes after the last valid entry so new appends stay
// readable.
func (j *Journal) dropTornTail(entries []*Entry) error {
	var valid int64
	for _, e := range entries {
		valid += entryOverhead + int64(len(e.Data))
	}
	info, err := j.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat checkpoint journal: %w", err)
	}
	if info.Size() <= valid {
		return nil
	}
	j.logger.Warn("discarding torn checkpoint tail",
		logging.Int64("bytes", info.Size()-valid))
	if err := j.file.Truncate(valid); err != nil {
		return fmt.Errorf("failed to truncate torn checkpoint tail: %w", err)
	}
	return j.file.Sync()
}

// Path returns the journal file path.
func (j *Journal) Path() string { return j.path }

// Append writes an entry and returns its LSN.
func (j *Journal) Append(op OpType, data []byte) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return 0, ErrClosed
	}
	if j.currentLSN == ^uint64(0) {
		return 0, fmt.Errorf("checkpoint LSN space exhausted, reset the journal")
	}

	entry := Entry{
		LSN:       j.currentLSN + 1,
		OpType:    op,
		Data:      data,
		Checksum:  crc32.ChecksumIEEE(data),
		Timestamp: j.now().UnixNano(),
	}
	if err := writeEntry(j.writer, &entry); err != nil {
		return 0, fmt.Errorf("failed to write checkpoint entry: %w", err)
	}
	if err := j.writer.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush checkpoint journal: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync checkpoint journal: %w", err)
	}

	j.currentLSN = entry.LSN
	return entry.LSN, nil
}

// ReadAll returns every valid entry. Reading stops at the first torn or
// corrupt frame; the entries before it are still returned.
func (j *Journal) ReadAll() ([]*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.readAll()
}

func (j *Journal) readAll() ([]*Entry, error) {
	if j.file == nil {
		return nil, ErrClosed
	}
	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	reader := bufio.NewReader(j.file)
	var entries []*Entry
	for {
		entry, err := readEntry(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			j.logger.Warn("checkpoint journal truncated at corrupt entry",
				logging.Int("recovered", len(entries)), logging.Error(err))
			break
		}
		if crc32.ChecksumIEEE(entry.Data) != entry.Checksum {
			j.logger.Warn("checkpoint checksum mismatch",
				logging.Any("lsn", entry.LSN), logging.Int("recovered", len(entries)))
			break
		}
		entries = append(entries, entry)
	}

	if _, err := j.file.Seek(0, io.SeekEnd); err != nil {
		return nil, err
	}
	return entries, nil
}

// Replay calls handler for every valid entry in order.
func (j *Journal) Replay(handler func(*Entry) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.readAll()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := handler(entry); err != nil {
			return fmt.Errorf("failed to replay entry LSN=%d: %w", entry.LSN, err)
		}
	}
	return nil
}

// Truncate atomically replaces the journal with an empty file.
func (j *Journal) Truncate() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return ErrClosed
	}
	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush journal before truncate: %w", err)
	}

	tmp := j.path + ".new"
	newFile, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create new journal file: %w", err)
	}
	closeErr := j.file.Close()

	if err := os.Rename(tmp, j.path); err != nil {
		newFile.Close()
		if old, reopenErr := os.OpenFile(j.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644); reopenErr == nil {
			j.file = old
			j.writer = bufio.NewWriter(old)
		} else {
			j.file = nil
		}
		return fmt.Errorf("failed to rename journal file: %w (close error: %v)", err, closeErr)
	}

	j.file = newFile
	j.writer = bufio.NewWriter(newFile)
	j.currentLSN = 0
	if closeErr != nil {
		j.logger.Warn("failed to close old journal during truncate", logging.Error(closeErr))
	}
	return nil
}

// CurrentLSN returns the LSN of the last appended entry.
func (j *Journal) CurrentLSN() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.currentLSN
}

// Close flushes and closes the journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	if err := j.writer.Flush(); err != nil {
		return err
	}
	if err := j.file.Sync(); err != nil {
		return err
	}
	err := j.file.Close()
	j.file = nil
	return err
}
