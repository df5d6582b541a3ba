package scan

// JobStatus represents the remote scan job's state as reported by the
// backend.
type JobStatus string

const (
	// JobStatusPending indicates the job has been accepted but has not yet
	// reached a terminal state.
	JobStatusPending JobStatus = "PENDING"

	// JobStatusCompleted indicates the job finished and findings are ready
	// to list.
	JobStatusCompleted JobStatus = "COMPLETED"

	// JobStatusFailed indicates the backend could not complete the job.
	JobStatusFailed JobStatus = "FAILED"

	// JobStatusCancelled indicates the backend cancelled the job.
	JobStatusCancelled JobStatus = "CANCELLED"
)

func (s JobStatus) String() string { return string(s) }

// IsTerminal reports whether the status ends the polling loop.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// ParseJobStatus converts a backend status string to a JobStatus. Unknown
// values map to Pending so an unexpected status keeps the loop polling
// rather than mis-terminating it.
func ParseJobStatus(s string) JobStatus {
	switch s {
	case "Pending", "PENDING":
		return JobStatusPending
	case "Completed", "COMPLETED":
		return JobStatusCompleted
	case "Failed", "FAILED":
		return JobStatusFailed
	case "Cancelled", "CANCELLED":
		return JobStatusCancelled
	default:
		return JobStatusPending
	}
}
