package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/codesentry/pkg/common"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

func newTestClient(endpoint string) *Client {
	return NewClient(endpoint, staticToken("tok-123"),
		common.NewRateLimiter(1000, 1000),
		noop.NewTracerProvider().Tracer("test"),
	)
}

func TestCreateUploadURLPostsOperation(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth string
	var gotReq CreateUploadURLRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(CreateUploadURLResponse{UploadID: "u-1", UploadURL: "https://x"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	resp, err := c.CreateUploadURL(context.Background(), CreateUploadURLRequest{
		ContentChecksum: "abc", ArtifactType: "SourceCode",
	})
	require.NoError(t, err)

	assert.Equal(t, "/CreateUploadUrl", gotPath)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "abc", gotReq.ContentChecksum)
	assert.Equal(t, "u-1", resp.UploadID)
}

func TestCallClientErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{
			"code":    "ThrottlingException",
			"message": "Rate exceeded",
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.GetScan(context.Background(), "job-1")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "ThrottlingException", apiErr.Code)
	assert.True(t, apiErr.IsThrottling())
	assert.Equal(t, int32(1), calls.Load(), "4xx replies must not retry")
}

func TestCallRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(GetScanResponse{Status: "Completed"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	resp, err := c.GetScan(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "Completed", resp.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCreateScanServerErrorFailsWithoutRetry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.CreateScan(context.Background(), CreateScanRequest{ScanName: "n"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "job creation is not idempotent and must not retry")
}

func TestPutObjectSendsHeadersAndBody(t *testing.T) {
	t.Parallel()

	var gotBody []byte
	var gotChecksum, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotChecksum = r.Header.Get("x-amz-checksum-sha256")
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	content := []byte("archive-bytes")
	err := c.PutObject(context.Background(), srv.URL+"/bucket/key", bytes.NewReader(content), int64(len(content)),
		map[string]string{"x-amz-checksum-sha256": "sum"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "sum", gotChecksum)
	assert.Equal(t, content, gotBody)
}

func TestPutObjectNon2xxReturnsPutError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, "SignatureDoesNotMatch")
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.PutObject(context.Background(), srv.URL+"/k", bytes.NewReader([]byte("x")), 1, nil)
	require.Error(t, err)

	var putErr *PutError
	require.ErrorAs(t, err, &putErr)
	assert.Equal(t, http.StatusForbidden, putErr.StatusCode)
	assert.Contains(t, putErr.Body, "SignatureDoesNotMatch")
	assert.Equal(t, int32(1), calls.Load(), "the presigned PUT is at-most-once")
}

func TestListFindingsDecodesPages(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ListFindingsRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, FindingsSchemaVersion, req.SchemaVersion)
		json.NewEncoder(w).Encode(ListFindingsResponse{
			Findings:  []string{`[{"filePath":"a.py"}]`},
			NextToken: "more",
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	resp, err := c.ListFindings(context.Background(), ListFindingsRequest{JobID: "job-1", SchemaVersion: FindingsSchemaVersion})
	require.NoError(t, err)
	assert.Equal(t, "more", resp.NextToken)
	require.Len(t, resp.Findings, 1)
}

func TestTokenFailureAbortsCall(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should reach the backend without a credential")
	}))
	defer srv.Close()

	failing := tokenFunc(func(context.Context) (string, error) {
		return "", assert.AnError
	})
	c := NewClient(srv.URL, failing, common.NewRateLimiter(1000, 1000), noop.NewTracerProvider().Tracer("test"))

	_, err := c.GetScan(context.Background(), "job-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

type tokenFunc func(ctx context.Context) (string, error)

func (f tokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }
