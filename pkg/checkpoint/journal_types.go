package checkpoint

// OpType identifies a journal entry.
type OpType uint8

const (
	// OpBatchCommitted records that a prefix of a source has been flushed.
	OpBatchCommitted OpType = iota + 1
	// OpSourceCompleted records that a source loaded to the end.
	OpSourceCompleted
	// OpReset discards every earlier entry.
	OpReset
)

func (o OpType) String() string {
	switch o {
	case OpBatchCommitted:
		return "batch_committed"
	case OpSourceCompleted:
		return "source_completed"
	case OpReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Entry is a single framed journal record.
type Entry struct {
	LSN       uint64
	OpType    OpType
	Data      []byte
	Checksum  uint32
	Timestamp int64 // unix nanoseconds
}

// Mark is the payload of OpBatchCommitted and OpSourceCompleted entries.
type Mark struct {
	Source      string `json:"source"`
	Fingerprint string `json:"fingerprint"`
	Committed   int64  `json:"committed"`
	RunID       string `json:"run_id,omitempty"`
}
