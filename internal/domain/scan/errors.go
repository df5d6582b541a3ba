package scan

import (
	"errors"
	"fmt"
)

// ErrorCode classifies every terminal failure the pipeline can produce.
// Callers branch on codes, not on reason strings.
type ErrorCode string

const (
	// ErrCodeNoWorkspaceFolder indicates no workspace root could be
	// determined. Fatal, pre-network.
	ErrCodeNoWorkspaceFolder ErrorCode = "NO_WORKSPACE_FOLDER"

	// ErrCodeInvalidSourceFiles indicates zero admitted source files of any
	// recognized language. Fatal, pre-network.
	ErrCodeInvalidSourceFiles ErrorCode = "INVALID_SOURCE_FILES"

	// ErrCodeFileSizeExceeded indicates a single file exceeded the
	// file-scope ceiling. Fatal, pre-network.
	ErrCodeFileSizeExceeded ErrorCode = "FILE_SIZE_EXCEEDED"

	// ErrCodeProjectSizeExceeded indicates the compressed project archive
	// exceeded the project-scope ceiling. Fatal, pre-network.
	ErrCodeProjectSizeExceeded ErrorCode = "PROJECT_SIZE_EXCEEDED"

	// ErrCodeCreateUploadURLFailed indicates the upload-URL request failed.
	ErrCodeCreateUploadURLFailed ErrorCode = "CREATE_UPLOAD_URL_FAILED"

	// ErrCodeUploadArtifactFailed indicates the presigned PUT failed. The
	// reason string is sanitized before propagation.
	ErrCodeUploadArtifactFailed ErrorCode = "UPLOAD_ARTIFACT_TO_S3_FAILED"

	// ErrCodeCreateScanFailed indicates scan-job creation failed, including
	// a Failed status returned at creation time.
	ErrCodeCreateScanFailed ErrorCode = "CREATE_CODE_SCAN_FAILED"

	// ErrCodeScanStopped indicates user-initiated cancellation. It unwinds
	// the pipeline through the failure path but is a successful stop, not a
	// failure, for telemetry purposes.
	ErrCodeScanStopped ErrorCode = "SCAN_STOPPED"

	// ErrCodeScanTimedOut indicates the client-side wall-clock ceiling was
	// exceeded while polling.
	ErrCodeScanTimedOut ErrorCode = "SCAN_TIMED_OUT"

	// ErrCodeScanJobFailed indicates the backend reported a Failed terminal
	// status for the job.
	ErrCodeScanJobFailed ErrorCode = "SCAN_JOB_FAILED"
)

// maxReasonLen bounds reason strings before they reach logs or telemetry.
const maxReasonLen = 300

// Error is the typed error every pipeline stage throws. It carries the
// taxonomy code, a bounded reason, and the wrapped cause.
type Error struct {
	Code   ErrorCode
	Reason string
	// QuotaExhausted is set on CreateScanFailed when the backend's
	// throttling message identifies the monthly scans limit rather than
	// ordinary transient overload. Callers latch this state.
	QuotaExhausted bool

	cause error
}

// NewError creates a typed scan error with a bounded reason string.
func NewError(code ErrorCode, reason string, cause error) *Error {
	return &Error{Code: code, Reason: TruncateReason(reason), cause: cause}
}

// NewQuotaError creates a CreateScanFailed error latched as quota
// exhaustion.
func NewQuotaError(reason string, cause error) *Error {
	return &Error{
		Code:           ErrCodeCreateScanFailed,
		Reason:         TruncateReason(reason),
		QuotaExhausted: true,
		cause:          cause,
	}
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// IsStop reports whether the error represents user cancellation rather than
// a genuine failure.
func (e *Error) IsStop() bool { return e.Code == ErrCodeScanStopped }

// CodeOf extracts the taxonomy code from an error chain. Unclassified errors
// map to ScanJobFailed so every terminal path has a code.
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeScanJobFailed
}

// IsScanStopped reports whether the error chain contains a user stop.
func IsScanStopped(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.IsStop()
}

// TruncateReason bounds a reason string to a fixed length before it is
// logged or attached to telemetry.
func TruncateReason(reason string) string {
	if len(reason) <= maxReasonLen {
		return reason
	}
	return reason[:maxReasonLen]
}
