// Package scan wires the pipeline stages into a single client-side
// security scan flow: select files, build the payload, upload it, run
// the backend job, collect findings, and hand them to the live tracker.
package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/codesentry/internal/depgraph"
	"github.com/ahrav/codesentry/internal/domain/findings"
	"github.com/ahrav/codesentry/internal/domain/scan"
	"github.com/ahrav/codesentry/internal/infra/backend"
	"github.com/ahrav/codesentry/internal/infra/documents"
	"github.com/ahrav/codesentry/internal/payload"
	"github.com/ahrav/codesentry/internal/results"
	"github.com/ahrav/codesentry/internal/scanjob"
	"github.com/ahrav/codesentry/internal/tracker"
	"github.com/ahrav/codesentry/internal/upload"
	"github.com/ahrav/codesentry/pkg/common/logger"
)

// Metrics summarizes a finished scan for telemetry consumers.
type Metrics struct {
	Scope        scan.Scope
	JobID        string
	Language     string
	ScannedFiles int
	PayloadBytes int64
	SourceLines  int
	Findings     int
	Duration     time.Duration
}

// TelemetryNotifier receives scan lifecycle events. Implementations must
// not block; the pipeline calls them inline.
type TelemetryNotifier interface {
	ScanStarted(ctx context.Context, scope scan.Scope)
	ScanSucceeded(ctx context.Context, m Metrics)
	ScanFailed(ctx context.Context, scope scan.Scope, err *scan.Error, duration time.Duration)
}

// NopNotifier discards all telemetry events.
type NopNotifier struct{}

func (NopNotifier) ScanStarted(context.Context, scan.Scope) {}

func (NopNotifier) ScanSucceeded(context.Context, Metrics) {}

func (NopNotifier) ScanFailed(context.Context, scan.Scope, *scan.Error, time.Duration) {}

// Result is what a completed scan hands back to the caller.
type Result struct {
	JobID   string
	Groups  []*findings.FileFindingGroup
	Metrics Metrics
}

// Service runs security scans end to end. It owns one session per scope,
// so concurrent project scans are rejected while automatic file scans
// supersede each other.
type Service struct {
	workspaceRoot string
	limits        scan.Limits
	excludes      []string

	docs     documents.Store
	api      *backend.Client
	builder  *payload.Builder
	uploader *upload.Coordinator
	jobs     *scanjob.Orchestrator
	results  *results.Aggregator
	tracker  *tracker.Tracker
	notifier TelemetryNotifier

	sessions map[scan.Scope]*scan.Session

	logger *logger.Logger
	tracer trace.Tracer
}

// NewService creates a scan Service rooted at the workspace directory, with
// one session per scope.
func NewService(
	workspaceRoot string,
	limits scan.Limits,
	excludes []string,
	docs documents.Store,
	api *backend.Client,
	builder *payload.Builder,
	uploader *upload.Coordinator,
	jobs *scanjob.Orchestrator,
	aggregator *results.Aggregator,
	trk *tracker.Tracker,
	notifier TelemetryNotifier,
	log *logger.Logger,
	tracer trace.Tracer,
) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	sessions := make(map[scan.Scope]*scan.Session, 3)
	for _, sc := range []scan.Scope{scan.ScopeProject, scan.ScopeFileAuto, scan.ScopeFileOnDemand} {
		sessions[sc] = scan.NewSession(sc)
	}
	return &Service{
		workspaceRoot: workspaceRoot,
		limits:        limits,
		excludes:      excludes,
		docs:          docs,
		api:           api,
		builder:       builder,
		uploader:      uploader,
		jobs:          jobs,
		results:       aggregator,
		tracker:       trk,
		notifier:      notifier,
		sessions:      sessions,
		logger:        log,
		tracer:        tracer,
	}
}

// Tracker exposes the live finding tracker so callers can feed document
// change events and read current findings.
func (s *Service) Tracker() *tracker.Tracker { return s.tracker }

// StopScan requests cancellation of the scope's in-flight scan. The
// running pipeline observes the request at its next stage boundary or
// poll tick.
func (s *Service) StopScan(scope scan.Scope) { s.sessions[scope].RequestStop() }

// StartScan runs the full pipeline for target. For project scope, target
// is the workspace root; for file scopes it is the file to scan. The
// returned error, when non-nil, is always a *scan.Error.
func (s *Service) StartScan(ctx context.Context, target string, scope scan.Scope) (*Result, error) {
	session := s.sessions[scope]
	startTime, err := session.Start()
	if err != nil {
		return nil, err
	}
	defer session.Finish()

	ctx, span := s.tracer.Start(ctx, "scan_service.start_scan",
		trace.WithAttributes(
			attribute.String("scope", string(scope)),
			attribute.String("target", target),
		))
	defer span.End()

	s.notifier.ScanStarted(ctx, scope)
	s.logger.Info(ctx, "Starting security scan", "scope", scope, "target", target)

	res, runErr := s.run(ctx, target, scope, startTime, session)
	duration := time.Since(startTime)

	if runErr != nil {
		scanErr := classify(runErr)
		span.RecordError(scanErr)
		if scanErr.IsStop() {
			s.logger.Info(ctx, "Security scan stopped", "scope", scope, "duration", duration)
		} else {
			s.logger.Error(ctx, "Security scan failed",
				"scope", scope, "code", scanErr.Code, "duration", duration, "error", scanErr)
		}
		s.notifier.ScanFailed(ctx, scope, scanErr, duration)
		return nil, scanErr
	}

	// An automatic file scan that was superseded by a newer one finished
	// with stale results; drop them silently.
	if scope == scan.ScopeFileAuto && session.Superseded(startTime) {
		s.logger.Debug(ctx, "Discarding superseded scan results", "job_id", res.JobID)
		return nil, scan.NewError(scan.ErrCodeScanStopped, "superseded by a newer scan", nil)
	}

	res.Metrics.Duration = duration
	// A completed scan is the authoritative snapshot for what it covered:
	// a clean re-scan must clear previously tracked findings, so the
	// scanned file (or the whole set, for project scope) is replaced even
	// when the new result is empty.
	if scope.IsFileScope() {
		group := &findings.FileFindingGroup{FilePath: target}
		if len(res.Groups) > 0 {
			group = res.Groups[0]
		}
		s.tracker.Replace(group)
	} else {
		s.tracker.ReplaceAll(res.Groups)
	}

	s.logger.Info(ctx, "Security scan completed",
		"scope", scope,
		"job_id", res.JobID,
		"files", res.Metrics.ScannedFiles,
		"findings", res.Metrics.Findings,
		"duration", duration,
	)
	s.notifier.ScanSucceeded(ctx, res.Metrics)
	return res, nil
}

// run executes the pipeline stages in order, checking for a stop request
// at every boundary so cancellation never waits on a slow stage.
func (s *Service) run(
	ctx context.Context,
	target string,
	scope scan.Scope,
	startTime time.Time,
	session *scan.Session,
) (*Result, error) {
	graphCfg := depgraph.Config{
		ProjectRoot: s.workspaceRoot,
		Scope:       scope,
		Limits:      s.limits,
		Excludes:    s.excludes,
		Logger:      s.logger,
	}
	var graph depgraph.DependencyGraph
	if scope.IsFileScope() {
		graph = depgraph.ForFile(graphCfg, target)
	} else {
		graph = depgraph.New(graphCfg)
	}

	truncation, err := graph.Traverse(ctx, target)
	if err != nil {
		return nil, err
	}
	if err := stopCheck(ctx, session); err != nil {
		return nil, err
	}

	archive, err := s.buildArchive(ctx, truncation, scope)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rmErr := os.Remove(archive.Path); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger.Warn(ctx, "Failed to remove payload archive", "path", archive.Path, "error", rmErr)
		}
	}()
	if err := stopCheck(ctx, session); err != nil {
		return nil, err
	}

	handle, err := s.uploader.Upload(ctx, archive.Path, scope)
	if err != nil {
		return nil, err
	}
	if err := stopCheck(ctx, session); err != nil {
		return nil, err
	}

	jobID, err := s.jobs.Submit(ctx, handle.UploadID, archive.Language, scope, scanjob.ScanName())
	if err != nil {
		return nil, err
	}
	if _, err := s.jobs.AwaitCompletion(ctx, jobID, scope, startTime, session); err != nil {
		return nil, err
	}
	if err := stopCheck(ctx, session); err != nil {
		return nil, err
	}

	groups, err := s.results.Collect(ctx, jobID, scope, archive.Language, []string{s.workspaceRoot})
	if err != nil {
		return nil, err
	}

	total := 0
	for _, g := range groups {
		total += len(g.Findings)
	}
	return &Result{
		JobID:  jobID,
		Groups: groups,
		Metrics: Metrics{
			Scope:        scope,
			JobID:        jobID,
			Language:     archive.Language,
			ScannedFiles: len(truncation.ScannedFiles()),
			PayloadBytes: archive.Size,
			SourceLines:  truncation.LineCount(),
			Findings:     total,
		},
	}, nil
}

func (s *Service) buildArchive(ctx context.Context, truncation *scan.Truncation, scope scan.Scope) (*payload.Archive, error) {
	if scope.IsFileScope() {
		return s.builder.BuildFileZip(ctx, truncation, scope)
	}
	return s.builder.BuildProjectZip(ctx, truncation)
}

// stopCheck surfaces a pending stop request or context cancellation as a
// scan-stopped error.
func stopCheck(ctx context.Context, session *scan.Session) error {
	if session.Stopped() {
		return scan.NewError(scan.ErrCodeScanStopped, "scan stopped by user", nil)
	}
	if err := ctx.Err(); err != nil {
		return scan.NewError(scan.ErrCodeScanStopped, "scan cancelled", err)
	}
	return nil
}

// classify guarantees StartScan's error contract: every failure surfaces
// as a *scan.Error with a stable code.
func classify(err error) *scan.Error {
	var scanErr *scan.Error
	if errors.As(err, &scanErr) {
		return scanErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return scan.NewError(scan.ErrCodeScanStopped, "scan cancelled", err)
	}
	return scan.NewError(scan.ErrCodeScanJobFailed, fmt.Sprintf("unexpected scan failure: %v", err), err)
}

