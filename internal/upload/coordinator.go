// Package upload moves a packaged archive to the backend's object store via
// a presigned URL.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/codesentry/internal/domain/scan"
	"github.com/ahrav/codesentry/internal/infra/backend"
	"github.com/ahrav/codesentry/pkg/common/logger"
)

// artifactTypeSourceCode tags the archive as source for the backend.
const artifactTypeSourceCode = "SourceCode"

// accessDeniedReason is the fixed reason reported for a 403 on the
// presigned PUT. Signed-URL internals never reach logs or telemetry.
const accessDeniedReason = "the object store rejected the upload (access denied)"

// API is the slice of the backend client the coordinator needs.
type API interface {
	CreateUploadURL(ctx context.Context, req backend.CreateUploadURLRequest) (*backend.CreateUploadURLResponse, error)
	PutObject(ctx context.Context, uploadURL string, body io.Reader, size int64, headers map[string]string) error
}

// ArtifactHandle identifies an uploaded archive for scan-job creation.
type ArtifactHandle struct {
	UploadID string
	Checksum string
}

// Coordinator computes the archive checksum, requests a presigned URL, and
// performs the single PUT. It is at-most-once: retry, if any, belongs to the
// orchestrating caller.
type Coordinator struct {
	api       API
	kmsKeyARN string
	logger    *logger.Logger
	tracer    trace.Tracer
}

// NewCoordinator creates a Coordinator. kmsKeyARN is optional; when set,
// SSE-KMS headers accompany the PUT.
func NewCoordinator(api API, kmsKeyARN string, log *logger.Logger, tracer trace.Tracer) *Coordinator {
	return &Coordinator{api: api, kmsKeyARN: kmsKeyARN, logger: log, tracer: tracer}
}

// Upload transfers the archive at archivePath and returns the artifact
// handle for job creation.
func (c *Coordinator) Upload(ctx context.Context, archivePath string, scope scan.Scope) (*ArtifactHandle, error) {
	ctx, span := c.tracer.Start(ctx, "upload.upload_artifact",
		trace.WithAttributes(attribute.String("scope", scope.String())))
	defer span.End()

	checksum, size, err := checksumFile(archivePath)
	if err != nil {
		return nil, scan.NewError(scan.ErrCodeUploadArtifactFailed, "failed to checksum archive", err)
	}
	span.SetAttributes(attribute.Int64("archive_bytes", size))

	resp, err := c.api.CreateUploadURL(ctx, backend.CreateUploadURLRequest{
		ContentChecksum:     checksum,
		ContentChecksumType: "SHA_256",
		ArtifactType:        artifactTypeSourceCode,
		UploadIntent:        scope.UploadIntent(),
	})
	if err != nil {
		span.RecordError(err)
		return nil, scan.NewError(scan.ErrCodeCreateUploadURLFailed, "failed to create upload URL", err)
	}

	headers := map[string]string{
		"Content-Type":          "application/zip",
		"x-amz-checksum-sha256": checksum,
	}
	kmsKey := resp.KMSKeyARN
	if kmsKey == "" {
		kmsKey = c.kmsKeyARN
	}
	if kmsKey != "" {
		headers["x-amz-server-side-encryption"] = "aws:kms"
		headers["x-amz-server-side-encryption-aws-kms-key-id"] = kmsKey
	}
	for k, v := range resp.RequestHeaders {
		headers[k] = v
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, scan.NewError(scan.ErrCodeUploadArtifactFailed, "failed to open archive", err)
	}
	defer f.Close()

	if err := c.api.PutObject(ctx, resp.UploadURL, f, size, headers); err != nil {
		span.RecordError(err)
		return nil, scan.NewError(scan.ErrCodeUploadArtifactFailed, putReason(err), err)
	}

	c.logger.Info(ctx, "Artifact uploaded", "upload_id", resp.UploadID, "bytes", size)
	return &ArtifactHandle{UploadID: resp.UploadID, Checksum: checksum}, nil
}

// putReason sanitizes a PUT failure for logs and telemetry. A 403 collapses
// to a fixed string so signed-URL details cannot leak.
func putReason(err error) string {
	var putErr *backend.PutError
	if errors.As(err, &putErr) {
		if putErr.StatusCode == http.StatusForbidden {
			return accessDeniedReason
		}
		return fmt.Sprintf("upload failed with status %d", putErr.StatusCode)
	}
	return "upload request failed"
}

// checksumFile returns the base64 SHA-256 digest of the file and its size.
func checksumFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), size, nil
}
