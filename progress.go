package asyncinit

import "time"

// Progress describes a Unit that has reached a terminal state during a run. Err is nil on success; a cancelled Unit
// reports its cancellation error. Progress satisfies the error interface.
type Progress struct {
	RunID    string
	Type     Type
	Priority int
	Err      error
	Duration time.Duration
}

// Observer receives a Progress report for every Unit that finishes. It is called from the Unit's goroutine, so it
// must be safe for concurrent use. Reports for Units finishing after their tier failed are delivered as well.
type Observer func(Progress)

// Error returns the error message for the receiver. Error returns an empty string if there is no error.
func (p Progress) Error() string {
	if p.Err == nil {
		return ""
	}
	return p.Err.Error()
}

// Verify that Progress satisfies the error interface.
var _ error = Progress{}
