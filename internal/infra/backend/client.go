// Package backend implements the HTTP client for the remote scanning API:
// upload-URL issuance, scan job creation and status, and paginated finding
// listing, plus the presigned object-store PUT.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/codesentry/pkg/common"
)

// TokenProvider supplies the bearer credential attached to every API call.
// Credential resolution itself lives outside this core.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Client talks to the remote scan API over HTTP+JSON.
type Client struct {
	endpoint string
	httpc    *http.Client
	tokens   TokenProvider
	limiter  *common.RateLimiter
	tracer   trace.Tracer
}

// NewClient creates a backend client for the given endpoint. The rate
// limiter paces all outbound calls, including the tight polling loop.
func NewClient(endpoint string, tokens TokenProvider, limiter *common.RateLimiter, tracer trace.Tracer) *Client {
	return &Client{
		endpoint: endpoint,
		httpc:    &http.Client{Timeout: 60 * time.Second},
		tokens:   tokens,
		limiter:  limiter,
		tracer:   tracer,
	}
}

// CreateUploadURL requests a presigned upload target for an archive with the
// given checksum and intent.
func (c *Client) CreateUploadURL(ctx context.Context, req CreateUploadURLRequest) (*CreateUploadURLResponse, error) {
	var resp CreateUploadURLResponse
	if err := c.call(ctx, "CreateUploadUrl", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateScan creates a scan job from uploaded artifacts. Not retried: job
// creation is not idempotent.
func (c *Client) CreateScan(ctx context.Context, req CreateScanRequest) (*CreateScanResponse, error) {
	var resp CreateScanResponse
	if err := c.call(ctx, "CreateScan", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetScan fetches the job's current status. Transient backend errors are
// retried with exponential backoff since the read is idempotent.
func (c *Client) GetScan(ctx context.Context, jobID string) (*GetScanResponse, error) {
	var resp GetScanResponse
	req := struct {
		JobID string `json:"jobId"`
	}{JobID: jobID}
	if err := c.call(ctx, "GetScan", req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListFindings fetches one page of raw findings for a completed job.
func (c *Client) ListFindings(ctx context.Context, req ListFindingsRequest) (*ListFindingsResponse, error) {
	var resp ListFindingsResponse
	if err := c.call(ctx, "ListFindings", req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PutObject performs the single presigned PUT of the archive bytes. It is
// at-most-once: no retry happens at this layer.
func (c *Client) PutObject(ctx context.Context, uploadURL string, body io.Reader, size int64, headers map[string]string) error {
	ctx, span := c.tracer.Start(ctx, "backend.put_object",
		trace.WithAttributes(attribute.Int64("size_bytes", size)))
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, body)
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.ContentLength = size
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := &PutError{StatusCode: resp.StatusCode, Body: string(data)}
		span.RecordError(err)
		return err
	}
	return nil
}

// call performs one API operation. When retryable is set, transient
// failures (network errors and 5xx) are retried with exponential backoff;
// 4xx replies never retry.
func (c *Client) call(ctx context.Context, operation string, in, out any, retryable bool) error {
	ctx, span := c.tracer.Start(ctx, "backend."+operation)
	defer span.End()

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", operation, err)
	}

	do := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		token, err := c.tokens.Token(ctx)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to resolve credential: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/"+operation, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return &APIError{StatusCode: resp.StatusCode}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := &APIError{StatusCode: resp.StatusCode}
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = json.Unmarshal(data, apiErr)
			return backoff.Permanent(apiErr)
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode %s response: %w", operation, err))
		}
		return nil
	}

	if !retryable {
		if err := do(); err != nil {
			span.RecordError(err)
			return unwrapPermanent(err)
		}
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 30 * time.Second
	expBackoff.InitialInterval = 500 * time.Millisecond

	if err := backoff.Retry(do, backoff.WithContext(expBackoff, ctx)); err != nil {
		span.RecordError(err)
		return unwrapPermanent(err)
	}
	return nil
}

// unwrapPermanent strips the backoff.Permanent wrapper so callers see the
// original typed error. Needed on the non-retryable path where do() is
// invoked directly.
func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
