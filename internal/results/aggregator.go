// Package results turns the backend's paginated raw findings into
// normalized, deduplicated, visibility-filtered finding groups keyed by
// absolute file path.
package results

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/codesentry/internal/domain/findings"
	"github.com/ahrav/codesentry/internal/domain/scan"
	"github.com/ahrav/codesentry/internal/infra/backend"
	"github.com/ahrav/codesentry/internal/infra/documents"
	"github.com/ahrav/codesentry/pkg/common/logger"
)

// suppressionMarker is the single-line suppression comment. A finding whose
// start line is immediately preceded by a line carrying the marker is
// hidden but retained for counting.
const suppressionMarker = "codesentry-ignore"

// API is the slice of the backend client the aggregator needs.
type API interface {
	ListFindings(ctx context.Context, req backend.ListFindingsRequest) (*backend.ListFindingsResponse, error)
}

// Aggregator collects and normalizes a completed job's findings.
type Aggregator struct {
	api    API
	docs   documents.Store
	ignore *IgnoreList
	logger *logger.Logger
	tracer trace.Tracer
}

// NewAggregator creates an Aggregator.
func NewAggregator(api API, docs documents.Store, ignore *IgnoreList, log *logger.Logger, tracer trace.Tracer) *Aggregator {
	return &Aggregator{api: api, docs: docs, ignore: ignore, logger: log, tracer: tracer}
}

// Collect pages through the job's findings and returns them grouped per
// resolved absolute file path. Findings whose reported path resolves under
// no open project root are dropped; the backend may report paths outside
// the current workspace snapshot, e.g. after a mid-scan edit.
func (a *Aggregator) Collect(
	ctx context.Context,
	jobID string,
	scope scan.Scope,
	language string,
	roots []string,
) ([]*findings.FileFindingGroup, error) {
	ctx, span := a.tracer.Start(ctx, "results.collect",
		trace.WithAttributes(
			attribute.String("job_id", jobID),
			attribute.String("scope", scope.String()),
		))
	defer span.End()

	raw, err := a.fetchAll(ctx, jobID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("raw_findings", len(raw)))

	groups := make(map[string]*findings.FileFindingGroup)
	seen := make(map[findings.Key]struct{})
	dropped := 0

	for _, rf := range raw {
		absPath, ok := a.resolvePath(rf.FilePath, roots)
		if !ok {
			a.logger.Warn(ctx, "Dropping finding with unresolvable path", "path", rf.FilePath)
			dropped++
			continue
		}

		f := rf.Normalize(absPath, jobID, language)

		// The backend may legitimately emit the same finding twice across
		// pagination boundaries.
		key := f.DedupKey()
		if _, dup := seen[key]; dup {
			a.logger.Warn(ctx, "Dropping duplicate finding", "key", key.String())
			continue
		}
		seen[key] = struct{}{}

		lines, lineErr := documents.ReadLines(a.docs, absPath)

		if scope.IsFileScope() && lineErr == nil && !snippetMatches(f.CodeSnippet, lines) {
			// The snippet no longer matches the live document: the finding
			// is stale relative to concurrent edits.
			a.logger.Warn(ctx, "Dropping stale finding", "key", key.String())
			dropped++
			continue
		}

		if a.ignore.Contains(f.Title) {
			f.Visible = false
		} else if lineErr == nil && suppressedByComment(lines, f.StartLine) {
			f.Visible = false
		}

		group, ok := groups[absPath]
		if !ok {
			group = &findings.FileFindingGroup{FilePath: absPath}
			groups[absPath] = group
		}
		group.Findings = append(group.Findings, &f)
	}

	out := make([]*findings.FileFindingGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FilePath < out[j].FilePath })

	span.SetAttributes(
		attribute.Int("finding_groups", len(out)),
		attribute.Int("dropped", dropped),
	)
	return out, nil
}

// fetchAll pages until the continuation token is absent.
func (a *Aggregator) fetchAll(ctx context.Context, jobID string) ([]findings.RawFinding, error) {
	var all []findings.RawFinding
	token := ""
	for {
		resp, err := a.api.ListFindings(ctx, backend.ListFindingsRequest{
			JobID:         jobID,
			SchemaVersion: backend.FindingsSchemaVersion,
			NextToken:     token,
		})
		if err != nil {
			return nil, scan.NewError(scan.ErrCodeScanJobFailed, "failed to list findings", err)
		}

		for _, batch := range resp.Findings {
			decoded, err := findings.DecodeRawFindings([]byte(batch))
			if err != nil {
				a.logger.Warn(ctx, "Skipping undecodable findings batch", "error", err)
				continue
			}
			all = append(all, decoded...)
		}

		if resp.NextToken == "" {
			return all, nil
		}
		token = resp.NextToken
	}
}

// resolvePath tests the backend-reported relative path against every open
// project root until one resolves to a real file. In a multi-root workspace
// the same logical file can be reported under several candidate roots.
func (a *Aggregator) resolvePath(relPath string, roots []string) (string, bool) {
	relPath = filepath.FromSlash(relPath)
	for _, root := range roots {
		candidate := filepath.Join(root, relPath)
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate, true
		}
	}
	// Absolute-ish paths occasionally arrive as-is.
	if filepath.IsAbs(relPath) {
		if fi, err := os.Stat(relPath); err == nil && !fi.IsDir() {
			return relPath, true
		}
	}
	return "", false
}

// suppressedByComment reports whether the line immediately preceding the
// finding's 0-based start line carries the suppression marker.
func suppressedByComment(lines []string, startLine int) bool {
	idx := startLine - 1
	if idx < 0 || idx >= len(lines) {
		return false
	}
	return strings.Contains(lines[idx], suppressionMarker)
}

// snippetMatches cross-checks the backend's captured snippet against the
// live document line-by-line. Snippet content may be partially redacted by
// the backend, so masked segments are skipped: every unmasked segment must
// appear in order within the live line.
func snippetMatches(snippet []findings.CodeLine, lines []string) bool {
	for _, sl := range snippet {
		idx := sl.Number - 1 // snippet numbers are 1-based
		if idx < 0 || idx >= len(lines) {
			return false
		}
		if !redactedLineMatches(sl.Content, lines[idx]) {
			return false
		}
	}
	return true
}

func redactedLineMatches(snippetLine, liveLine string) bool {
	if !strings.Contains(snippetLine, "**") {
		return strings.TrimRight(snippetLine, "\r") == strings.TrimRight(liveLine, "\r")
	}

	rest := liveLine
	for _, segment := range strings.FieldsFunc(snippetLine, func(r rune) bool { return r == '*' }) {
		pos := strings.Index(rest, segment)
		if pos < 0 {
			return false
		}
		rest = rest[pos+len(segment):]
	}
	return true
}
