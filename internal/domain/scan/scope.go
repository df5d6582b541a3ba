// Package scan contains the domain model for client-side security scans:
// scopes, session lifecycle, payload truncation, and the error taxonomy.
package scan

import "time"

// Scope represents the unit being scanned. Each scope carries its own size
// ceiling, polling cadence, and timeout.
type Scope string

const (
	// ScopeProject scans the whole workspace.
	ScopeProject Scope = "PROJECT"

	// ScopeFileAuto is an automatically triggered single-file scan.
	ScopeFileAuto Scope = "FILE_AUTO"

	// ScopeFileOnDemand is a user-requested single-file scan.
	ScopeFileOnDemand Scope = "FILE_ON_DEMAND"
)

func (s Scope) String() string { return string(s) }

// IsFileScope reports whether the scope targets a single file.
func (s Scope) IsFileScope() bool {
	return s == ScopeFileAuto || s == ScopeFileOnDemand
}

// UploadIntent returns the intent tag sent with upload-URL requests. The
// backend applies different retention and processing per intent.
func (s Scope) UploadIntent() string {
	if s.IsFileScope() {
		return "AUTOMATIC_FILE_SCAN"
	}
	return "FULL_PROJECT_SECURITY_SCAN"
}

// ParseScope converts a string to a Scope. Unknown values map to the empty
// Scope.
func ParseScope(s string) Scope {
	switch s {
	case "PROJECT", "project":
		return ScopeProject
	case "FILE_AUTO", "file_auto":
		return ScopeFileAuto
	case "FILE_ON_DEMAND", "file_on_demand":
		return ScopeFileOnDemand
	default:
		return ""
	}
}

// Built-in per-scope defaults. Size ceilings may be overridden through
// Limits; timing values are fixed.
const (
	defaultProjectPayloadLimitBytes int64 = 500 * 1024 * 1024
	defaultFilePayloadLimitBytes    int64 = 200 * 1024

	projectInitialPollDelay = 10 * time.Second
	fileInitialPollDelay    = 1 * time.Second

	projectPollInterval = 5 * time.Second
	filePollInterval    = 1 * time.Second

	projectTimeout = 10 * time.Minute
	fileTimeout    = 60 * time.Second
)

// Limits carries the effective per-scope payload size ceilings. Zero-valued
// fields fall back to the built-in defaults.
type Limits struct {
	ProjectPayloadBytes int64
	FilePayloadBytes    int64
}

// PayloadSizeLimit returns the byte ceiling for payloads of the given scope.
func (l Limits) PayloadSizeLimit(scope Scope) int64 {
	if scope.IsFileScope() {
		if l.FilePayloadBytes > 0 {
			return l.FilePayloadBytes
		}
		return defaultFilePayloadLimitBytes
	}
	if l.ProjectPayloadBytes > 0 {
		return l.ProjectPayloadBytes
	}
	return defaultProjectPayloadLimitBytes
}

// InitialPollDelay returns how long to wait before the first status poll.
// File scans complete quickly, so they poll sooner than project scans.
func (s Scope) InitialPollDelay() time.Duration {
	if s.IsFileScope() {
		return fileInitialPollDelay
	}
	return projectInitialPollDelay
}

// PollInterval returns the fixed sleep between status polls.
func (s Scope) PollInterval() time.Duration {
	if s.IsFileScope() {
		return filePollInterval
	}
	return projectPollInterval
}

// Timeout returns the client-side wall-clock ceiling for the polling loop.
func (s Scope) Timeout() time.Duration {
	if s.IsFileScope() {
		return fileTimeout
	}
	return projectTimeout
}
