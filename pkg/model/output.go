package model

// AbsentID is the file-level marker for a missing contact pid or lid.
const AbsentID int64 = -1

// OutputRow is one state transition reported by a simulation run.
// ContactPID and LID are nil when the run did not record them.
type OutputRow struct {
	Tick       int    `json:"tick" validate:"min=0"`
	PID        int64  `json:"pid" validate:"min=0"`
	ExitState  string `json:"exit_state"`
	ContactPID *int64 `json:"contact_pid,omitempty"`
	LID        *int64 `json:"lid,omitempty"`
}

// NullableID maps the AbsentID sentinel to nil.
func NullableID(v int64) *int64 {
	if v == AbsentID {
		return nil
	}
	return &v
}

// SentinelID maps nil back to AbsentID.
func SentinelID(v *int64) int64 {
	if v == nil {
		return AbsentID
	}
	return *v
}
