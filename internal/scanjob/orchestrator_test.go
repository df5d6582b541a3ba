package scanjob

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/codesentry/internal/domain/scan"
	"github.com/ahrav/codesentry/internal/infra/backend"
	"github.com/ahrav/codesentry/pkg/common/logger"
)

type mockAPI struct {
	createResp *backend.CreateScanResponse
	createErr  error

	getResponses []*backend.GetScanResponse
	getErr       error
	getCalls     int
}

func (m *mockAPI) CreateScan(ctx context.Context, req backend.CreateScanRequest) (*backend.CreateScanResponse, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	return m.createResp, nil
}

func (m *mockAPI) GetScan(ctx context.Context, jobID string) (*backend.GetScanResponse, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	resp := m.getResponses[m.getCalls]
	if m.getCalls < len(m.getResponses)-1 {
		m.getCalls++
	}
	return resp, nil
}

func newTestOrchestrator(api API) *Orchestrator {
	o := NewOrchestrator(api,
		logger.New(io.Discard, logger.LevelDebug, "test", nil),
		noop.NewTracerProvider().Tracer("test"),
	)
	o.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return o
}

func TestScanNameFormat(t *testing.T) {
	t.Parallel()

	name := ScanName()
	assert.Regexp(t, `^codesentry-\d+-[0-9a-f]{8}$`, name)
	assert.NotEqual(t, name, ScanName())
}

func TestSubmitReturnsJobID(t *testing.T) {
	t.Parallel()

	api := &mockAPI{createResp: &backend.CreateScanResponse{JobID: "job-1", Status: "Pending"}}
	o := newTestOrchestrator(api)

	jobID, err := o.Submit(context.Background(), "upload-1", "python", scan.ScopeProject, "codesentry-1-abc")
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)
}

func TestSubmitFailedAtCreation(t *testing.T) {
	t.Parallel()

	api := &mockAPI{createResp: &backend.CreateScanResponse{JobID: "job-1", Status: "Failed", ErrorMessage: "invalid artifact"}}
	o := newTestOrchestrator(api)

	_, err := o.Submit(context.Background(), "upload-1", "python", scan.ScopeProject, "n")
	require.Error(t, err)
	assert.Equal(t, scan.ErrCodeCreateScanFailed, scan.CodeOf(err))
	assert.Contains(t, err.Error(), "invalid artifact")
}

func TestSubmitClassifiesQuotaExhaustion(t *testing.T) {
	t.Parallel()

	api := &mockAPI{createErr: &backend.APIError{
		StatusCode: 429,
		Code:       "ThrottlingException",
		Message:    "Monthly scans limit reached for this account",
	}}
	o := newTestOrchestrator(api)

	_, err := o.Submit(context.Background(), "upload-1", "python", scan.ScopeProject, "n")
	require.Error(t, err)

	var scanErr *scan.Error
	require.ErrorAs(t, err, &scanErr)
	assert.Equal(t, scan.ErrCodeCreateScanFailed, scanErr.Code)
	assert.True(t, scanErr.QuotaExhausted)
}

func TestSubmitOrdinaryThrottlingIsNotQuota(t *testing.T) {
	t.Parallel()

	api := &mockAPI{createErr: &backend.APIError{
		StatusCode: 429,
		Code:       "ThrottlingException",
		Message:    "Rate exceeded",
	}}
	o := newTestOrchestrator(api)

	_, err := o.Submit(context.Background(), "upload-1", "python", scan.ScopeProject, "n")
	require.Error(t, err)

	var scanErr *scan.Error
	require.ErrorAs(t, err, &scanErr)
	assert.False(t, scanErr.QuotaExhausted)
}

func TestAwaitCompletionSuccess(t *testing.T) {
	t.Parallel()

	api := &mockAPI{getResponses: []*backend.GetScanResponse{
		{Status: "Pending"},
		{Status: "Pending"},
		{Status: "Completed"},
	}}
	o := newTestOrchestrator(api)
	session := scan.NewSession(scan.ScopeProject)
	start, err := session.Start()
	require.NoError(t, err)

	status, err := o.AwaitCompletion(context.Background(), "job-1", scan.ScopeProject, start, session)
	require.NoError(t, err)
	assert.Equal(t, scan.JobStatusCompleted, status)
	assert.Equal(t, 2, api.getCalls)
}

func TestAwaitCompletionBackendFailure(t *testing.T) {
	t.Parallel()

	api := &mockAPI{getResponses: []*backend.GetScanResponse{
		{Status: "Failed", ErrorMessage: "internal analyzer error"},
	}}
	o := newTestOrchestrator(api)
	session := scan.NewSession(scan.ScopeProject)
	start, err := session.Start()
	require.NoError(t, err)

	_, err = o.AwaitCompletion(context.Background(), "job-1", scan.ScopeProject, start, session)
	require.Error(t, err)
	assert.Equal(t, scan.ErrCodeScanJobFailed, scan.CodeOf(err))
	assert.Contains(t, err.Error(), "internal analyzer error")
}

func TestAwaitCompletionBackendCancelled(t *testing.T) {
	t.Parallel()

	api := &mockAPI{getResponses: []*backend.GetScanResponse{{Status: "Cancelled"}}}
	o := newTestOrchestrator(api)
	session := scan.NewSession(scan.ScopeProject)
	start, err := session.Start()
	require.NoError(t, err)

	_, err = o.AwaitCompletion(context.Background(), "job-1", scan.ScopeProject, start, session)
	assert.True(t, scan.IsScanStopped(err))
}

func TestAwaitCompletionStopRequestWinsOverPolling(t *testing.T) {
	t.Parallel()

	api := &mockAPI{getResponses: []*backend.GetScanResponse{{Status: "Pending"}}}
	o := newTestOrchestrator(api)
	session := scan.NewSession(scan.ScopeProject)
	start, err := session.Start()
	require.NoError(t, err)
	session.RequestStop()

	_, err = o.AwaitCompletion(context.Background(), "job-1", scan.ScopeProject, start, session)
	assert.True(t, scan.IsScanStopped(err))
	assert.Zero(t, api.getCalls, "no status call should happen after a stop request")
}

func TestAwaitCompletionTimesOut(t *testing.T) {
	t.Parallel()

	api := &mockAPI{getResponses: []*backend.GetScanResponse{{Status: "Pending"}}}
	o := newTestOrchestrator(api)
	session := scan.NewSession(scan.ScopeProject)
	start, err := session.Start()
	require.NoError(t, err)

	// Advance the clock past the project ceiling after the first poll.
	o.now = func() time.Time { return start.Add(scan.ScopeProject.Timeout() + time.Second) }

	_, err = o.AwaitCompletion(context.Background(), "job-1", scan.ScopeProject, start, session)
	require.Error(t, err)
	assert.Equal(t, scan.ErrCodeScanTimedOut, scan.CodeOf(err))
}

func TestAwaitCompletionUnknownStatusKeepsPolling(t *testing.T) {
	t.Parallel()

	api := &mockAPI{getResponses: []*backend.GetScanResponse{
		{Status: "SOMETHING_NEW"},
		{Status: "Completed"},
	}}
	o := newTestOrchestrator(api)
	session := scan.NewSession(scan.ScopeProject)
	start, err := session.Start()
	require.NoError(t, err)

	status, err := o.AwaitCompletion(context.Background(), "job-1", scan.ScopeProject, start, session)
	require.NoError(t, err)
	assert.Equal(t, scan.JobStatusCompleted, status)
}
