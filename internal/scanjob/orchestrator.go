// Package scanjob drives the remote scan job lifecycle: creation, then
// cooperative polling until a terminal status, a client-side timeout, or a
// user stop.
package scanjob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/codesentry/internal/domain/scan"
	"github.com/ahrav/codesentry/internal/infra/backend"
	"github.com/ahrav/codesentry/pkg/common/logger"
)

// quotaMessageMarker distinguishes the monthly scans-limit throttle from
// ordinary transient overload. The former is latched by the caller; the
// latter is report-and-forget.
const quotaMessageMarker = "scans limit reached"

// API is the slice of the backend client the orchestrator needs.
type API interface {
	CreateScan(ctx context.Context, req backend.CreateScanRequest) (*backend.CreateScanResponse, error)
	GetScan(ctx context.Context, jobID string) (*backend.GetScanResponse, error)
}

// Orchestrator submits scan jobs and awaits their completion.
type Orchestrator struct {
	api    API
	logger *logger.Logger
	tracer trace.Tracer

	// Injectable clocks keep the polling loop testable without real sleeps.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(api API, log *logger.Logger, tracer trace.Tracer) *Orchestrator {
	return &Orchestrator{
		api:    api,
		logger: log,
		tracer: tracer,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// ScanName generates the job name sent on creation.
func ScanName() string {
	return fmt.Sprintf("codesentry-%d-%s", time.Now().Unix(), uuid.NewString()[:8])
}

// Submit creates a remote scan job from an uploaded artifact. A Failed
// status in the creation response is itself terminal.
func (o *Orchestrator) Submit(ctx context.Context, uploadID, language string, scope scan.Scope, scanName string) (string, error) {
	ctx, span := o.tracer.Start(ctx, "scanjob.submit",
		trace.WithAttributes(
			attribute.String("scope", scope.String()),
			attribute.String("language", language),
		))
	defer span.End()

	resp, err := o.api.CreateScan(ctx, backend.CreateScanRequest{
		Artifacts: map[string]string{"SourceCode": uploadID},
		Language:  language,
		Scope:     scope.String(),
		ScanName:  scanName,
	})
	if err != nil {
		span.RecordError(err)
		return "", classifyCreateError(err)
	}

	if scan.ParseJobStatus(resp.Status) == scan.JobStatusFailed {
		reason := resp.ErrorMessage
		if reason == "" {
			reason = "scan job failed at creation"
		}
		return "", scan.NewError(scan.ErrCodeCreateScanFailed, reason, nil)
	}

	span.SetAttributes(attribute.String("job_id", resp.JobID))
	o.logger.Info(ctx, "Scan job created", "job_id", resp.JobID, "scope", scope.String())
	return resp.JobID, nil
}

// AwaitCompletion polls the job until it reaches a terminal status. The
// session's stop predicate is checked on every iteration; cancellation is
// cooperative and never preempts an in-flight call. Elapsed wall-clock time
// past the scope's ceiling fails with ScanTimedOut, reported distinctly
// from a backend Failed status.
func (o *Orchestrator) AwaitCompletion(
	ctx context.Context,
	jobID string,
	scope scan.Scope,
	startTime time.Time,
	session *scan.Session,
) (scan.JobStatus, error) {
	ctx, span := o.tracer.Start(ctx, "scanjob.await_completion",
		trace.WithAttributes(
			attribute.String("job_id", jobID),
			attribute.String("scope", scope.String()),
		))
	defer span.End()

	// Fast file scans finish before a project scan would even warm up;
	// delay the first poll accordingly to avoid wasted calls.
	if err := o.sleep(ctx, scope.InitialPollDelay()); err != nil {
		return "", scan.NewError(scan.ErrCodeScanStopped, "scan stopped", err)
	}

	for {
		if session.Stopped() {
			span.AddEvent("stop_requested")
			return "", scan.NewError(scan.ErrCodeScanStopped, "scan stopped by user", nil)
		}

		resp, err := o.api.GetScan(ctx, jobID)
		if err != nil {
			span.RecordError(err)
			return "", scan.NewError(scan.ErrCodeScanJobFailed, "failed to fetch scan status", err)
		}

		status := scan.ParseJobStatus(resp.Status)
		if status.IsTerminal() {
			span.SetAttributes(attribute.String("terminal_status", status.String()))
			switch status {
			case scan.JobStatusCompleted:
				o.logger.Info(ctx, "Scan job completed", "job_id", jobID)
				return status, nil
			case scan.JobStatusCancelled:
				return status, scan.NewError(scan.ErrCodeScanStopped, "scan cancelled", nil)
			default:
				reason := resp.ErrorMessage
				if reason == "" {
					reason = "scan job failed"
				}
				o.logger.Error(ctx, "Scan job failed", "job_id", jobID, "reason", scan.TruncateReason(reason))
				return status, scan.NewError(scan.ErrCodeScanJobFailed, reason, nil)
			}
		}

		if err := o.sleep(ctx, scope.PollInterval()); err != nil {
			return "", scan.NewError(scan.ErrCodeScanStopped, "scan stopped", err)
		}

		if o.now().Sub(startTime) > scope.Timeout() {
			o.logger.Warn(ctx, "Scan timed out", "job_id", jobID, "timeout", scope.Timeout().String())
			return "", scan.NewError(scan.ErrCodeScanTimedOut, "scan exceeded the client-side time limit", nil)
		}
	}
}

// classifyCreateError maps a CreateScan failure into the taxonomy,
// separating the monthly quota throttle from generic throttling.
func classifyCreateError(err error) error {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.IsThrottling() {
		if strings.Contains(strings.ToLower(apiErr.Message), quotaMessageMarker) {
			return scan.NewQuotaError(apiErr.Message, err)
		}
		return scan.NewError(scan.ErrCodeCreateScanFailed, "scan request was throttled", err)
	}
	return scan.NewError(scan.ErrCodeCreateScanFailed, "failed to create scan job", err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
