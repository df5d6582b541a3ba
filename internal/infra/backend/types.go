package backend

import "fmt"

// FindingsSchemaVersion is the raw-finding schema the client understands.
const FindingsSchemaVersion = "1.0"

// CreateUploadURLRequest asks the backend for a presigned upload target.
type CreateUploadURLRequest struct {
	ContentChecksum     string `json:"contentChecksum"`
	ContentChecksumType string `json:"contentChecksumType"`
	ArtifactType        string `json:"artifactType"`
	UploadIntent        string `json:"uploadIntent"`
}

// CreateUploadURLResponse carries the presigned target plus any headers the
// backend requires on the PUT.
type CreateUploadURLResponse struct {
	UploadURL      string            `json:"uploadUrl"`
	UploadID       string            `json:"uploadId"`
	KMSKeyARN      string            `json:"kmsKeyArn,omitempty"`
	RequestHeaders map[string]string `json:"requestHeaders,omitempty"`
}

// CreateScanRequest creates a scan job from uploaded artifacts.
type CreateScanRequest struct {
	// Artifacts maps artifact type (e.g. "SourceCode", "BuiltJars") to the
	// upload id returned alongside the presigned URL.
	Artifacts map[string]string `json:"artifactMap"`
	Language  string            `json:"programmingLanguage"`
	Scope     string            `json:"scope"`
	ScanName  string            `json:"codeScanName"`
}

// CreateScanResponse is the backend's reply to job creation. A Failed
// status here is itself a terminal failure.
type CreateScanResponse struct {
	JobID        string `json:"jobId"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// GetScanResponse reports the job's current status.
type GetScanResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// ListFindingsRequest pages through a completed job's findings.
type ListFindingsRequest struct {
	JobID         string `json:"jobId"`
	SchemaVersion string `json:"codeAnalysisFindingsSchema"`
	NextToken     string `json:"nextToken,omitempty"`
}

// ListFindingsResponse carries one page of raw findings. Each entry is a
// JSON-encoded finding batch; NextToken is absent on the last page.
type ListFindingsResponse struct {
	Findings  []string `json:"codeAnalysisFindings"`
	NextToken string   `json:"nextToken,omitempty"`
}

// APIError is a non-2xx reply from the backend API.
type APIError struct {
	StatusCode int
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend returned %d", e.StatusCode)
}

// IsThrottling reports whether the reply indicates transient overload.
func (e *APIError) IsThrottling() bool {
	return e.StatusCode == 429 || e.Code == "ThrottlingException"
}

// PutError is a non-2xx reply from the presigned object-store PUT.
type PutError struct {
	StatusCode int
	Body       string
}

func (e *PutError) Error() string {
	return fmt.Sprintf("object store returned %d", e.StatusCode)
}
