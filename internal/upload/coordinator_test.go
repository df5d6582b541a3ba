package upload

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/codesentry/internal/domain/scan"
	"github.com/ahrav/codesentry/internal/infra/backend"
	"github.com/ahrav/codesentry/pkg/common/logger"
)

type mockAPI struct {
	createReq  *backend.CreateUploadURLRequest
	createResp *backend.CreateUploadURLResponse
	createErr  error

	putHeaders map[string]string
	putBody    []byte
	putSize    int64
	putErr     error
	putCalls   int
}

func (m *mockAPI) CreateUploadURL(ctx context.Context, req backend.CreateUploadURLRequest) (*backend.CreateUploadURLResponse, error) {
	m.createReq = &req
	if m.createErr != nil {
		return nil, m.createErr
	}
	return m.createResp, nil
}

func (m *mockAPI) PutObject(ctx context.Context, uploadURL string, body io.Reader, size int64, headers map[string]string) error {
	m.putCalls++
	m.putHeaders = headers
	m.putSize = size
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.putBody = data
	return m.putErr
}

func newTestCoordinator(api API, kmsKeyARN string) *Coordinator {
	return NewCoordinator(api, kmsKeyARN,
		logger.New(io.Discard, logger.LevelDebug, "test", nil),
		noop.NewTracerProvider().Tracer("test"),
	)
}

func writeArchive(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.zip")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestUploadSendsChecksumAndIntent(t *testing.T) {
	t.Parallel()

	content := []byte("zip-bytes")
	sum := sha256.Sum256(content)
	wantChecksum := base64.StdEncoding.EncodeToString(sum[:])

	api := &mockAPI{createResp: &backend.CreateUploadURLResponse{
		UploadID:  "upload-1",
		UploadURL: "https://bucket.example/presigned",
	}}
	c := newTestCoordinator(api, "")

	handle, err := c.Upload(context.Background(), writeArchive(t, content), scan.ScopeProject)
	require.NoError(t, err)

	assert.Equal(t, "upload-1", handle.UploadID)
	assert.Equal(t, wantChecksum, handle.Checksum)

	require.NotNil(t, api.createReq)
	assert.Equal(t, wantChecksum, api.createReq.ContentChecksum)
	assert.Equal(t, "SHA_256", api.createReq.ContentChecksumType)
	assert.Equal(t, "SourceCode", api.createReq.ArtifactType)
	assert.Equal(t, "FULL_PROJECT_SECURITY_SCAN", api.createReq.UploadIntent)

	assert.Equal(t, content, api.putBody)
	assert.Equal(t, int64(len(content)), api.putSize)
	assert.Equal(t, "application/zip", api.putHeaders["Content-Type"])
	assert.Equal(t, wantChecksum, api.putHeaders["x-amz-checksum-sha256"])
}

func TestUploadFileScopeIntent(t *testing.T) {
	t.Parallel()

	api := &mockAPI{createResp: &backend.CreateUploadURLResponse{UploadID: "u", UploadURL: "https://x"}}
	c := newTestCoordinator(api, "")

	_, err := c.Upload(context.Background(), writeArchive(t, []byte("z")), scan.ScopeFileAuto)
	require.NoError(t, err)
	assert.Equal(t, "AUTOMATIC_FILE_SCAN", api.createReq.UploadIntent)
}

func TestUploadAddsKMSHeaders(t *testing.T) {
	t.Parallel()

	api := &mockAPI{createResp: &backend.CreateUploadURLResponse{UploadID: "u", UploadURL: "https://x"}}
	c := newTestCoordinator(api, "arn:aws:kms:us-east-1:123:key/abc")

	_, err := c.Upload(context.Background(), writeArchive(t, []byte("z")), scan.ScopeProject)
	require.NoError(t, err)

	assert.Equal(t, "aws:kms", api.putHeaders["x-amz-server-side-encryption"])
	assert.Equal(t, "arn:aws:kms:us-east-1:123:key/abc", api.putHeaders["x-amz-server-side-encryption-aws-kms-key-id"])
}

func TestUploadPrefersBackendProvidedKMSKey(t *testing.T) {
	t.Parallel()

	api := &mockAPI{createResp: &backend.CreateUploadURLResponse{
		UploadID:  "u",
		UploadURL: "https://x",
		KMSKeyARN: "arn:aws:kms:us-east-1:123:key/backend",
	}}
	c := newTestCoordinator(api, "arn:aws:kms:us-east-1:123:key/local")

	_, err := c.Upload(context.Background(), writeArchive(t, []byte("z")), scan.ScopeProject)
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:kms:us-east-1:123:key/backend", api.putHeaders["x-amz-server-side-encryption-aws-kms-key-id"])
}

func TestUploadMergesBackendRequestHeaders(t *testing.T) {
	t.Parallel()

	api := &mockAPI{createResp: &backend.CreateUploadURLResponse{
		UploadID:       "u",
		UploadURL:      "https://x",
		RequestHeaders: map[string]string{"x-amz-meta-origin": "ide"},
	}}
	c := newTestCoordinator(api, "")

	_, err := c.Upload(context.Background(), writeArchive(t, []byte("z")), scan.ScopeProject)
	require.NoError(t, err)
	assert.Equal(t, "ide", api.putHeaders["x-amz-meta-origin"])
}

func TestUploadCreateURLFailure(t *testing.T) {
	t.Parallel()

	api := &mockAPI{createErr: errors.New("boom")}
	c := newTestCoordinator(api, "")

	_, err := c.Upload(context.Background(), writeArchive(t, []byte("z")), scan.ScopeProject)
	require.Error(t, err)
	assert.Equal(t, scan.ErrCodeCreateUploadURLFailed, scan.CodeOf(err))
	assert.Zero(t, api.putCalls)
}

func TestUploadForbiddenIsSanitized(t *testing.T) {
	t.Parallel()

	api := &mockAPI{
		createResp: &backend.CreateUploadURLResponse{UploadID: "u", UploadURL: "https://x?X-Amz-Signature=secret"},
		putErr:     &backend.PutError{StatusCode: 403, Body: "SignatureDoesNotMatch: X-Amz-Signature=secret"},
	}
	c := newTestCoordinator(api, "")

	_, err := c.Upload(context.Background(), writeArchive(t, []byte("z")), scan.ScopeProject)
	require.Error(t, err)

	var scanErr *scan.Error
	require.ErrorAs(t, err, &scanErr)
	assert.Equal(t, scan.ErrCodeUploadArtifactFailed, scanErr.Code)
	assert.Equal(t, "the object store rejected the upload (access denied)", scanErr.Reason)
	assert.NotContains(t, scanErr.Reason, "Signature")
}

func TestUploadOtherPutFailureKeepsStatus(t *testing.T) {
	t.Parallel()

	api := &mockAPI{
		createResp: &backend.CreateUploadURLResponse{UploadID: "u", UploadURL: "https://x"},
		putErr:     &backend.PutError{StatusCode: 500, Body: "internal"},
	}
	c := newTestCoordinator(api, "")

	_, err := c.Upload(context.Background(), writeArchive(t, []byte("z")), scan.ScopeProject)
	require.Error(t, err)

	var scanErr *scan.Error
	require.ErrorAs(t, err, &scanErr)
	assert.Equal(t, "upload failed with status 500", scanErr.Reason)
	assert.Equal(t, 1, api.putCalls, "the PUT is at-most-once")
}

func TestUploadMissingArchive(t *testing.T) {
	t.Parallel()

	api := &mockAPI{}
	c := newTestCoordinator(api, "")

	_, err := c.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.zip"), scan.ScopeProject)
	require.Error(t, err)
	assert.Equal(t, scan.ErrCodeUploadArtifactFailed, scan.CodeOf(err))
}
