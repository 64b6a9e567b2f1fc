package constants

// JobStatus is the canonical status of a scan job.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusPending JobStatus = "PENDING" // created, nothing delivered yet
	JobStatusPartial JobStatus = "PARTIAL" // quick heuristic verdict delivered
	JobStatusFinal   JobStatus = "FINAL"   // model verdict delivered (terminal)
	JobStatusFailed  JobStatus = "FAILED"  // terminal failure
	JobStatusExpired JobStatus = "EXPIRED" // TTL lapsed before a terminal state
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusFinal, JobStatusFailed, JobStatusExpired:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusPartial, JobStatusFinal, JobStatusFailed, JobStatusExpired:
		return true
	}
	return false
}
