package depgraph

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ahrav/codesentry/internal/domain/scan"
)

// genericExtensions are the extensions the flat walk admits when no
// language-specific strategy applies.
var genericExtensions = map[string]struct{}{
	".py": {}, ".js": {}, ".jsx": {}, ".ts": {}, ".tsx": {},
	".go": {}, ".rb": {}, ".php": {}, ".cs": {}, ".c": {}, ".h": {},
	".cpp": {}, ".hpp": {}, ".rs": {}, ".kt": {}, ".scala": {},
	".sh": {}, ".yaml": {}, ".yml": {}, ".json": {},
}

// terraformExtensions are admitted by the Terraform strategy.
var terraformExtensions = map[string]struct{}{
	".tf": {}, ".hcl": {}, ".tfvars": {}, ".json": {},
}

// GenericGraph is the flat directory-walk strategy: collect files by
// extension, skip hidden entries, no dependency resolution.
type GenericGraph struct {
	cfg        Config
	extensions map[string]struct{}
	testMarker func(path string) bool
}

// NewGenericGraph creates the fallback strategy.
func NewGenericGraph(cfg Config) *GenericGraph {
	return &GenericGraph{
		cfg:        cfg,
		extensions: genericExtensions,
		testMarker: func(path string) bool {
			base := strings.ToLower(filepath.Base(path))
			return strings.HasPrefix(base, "test_") ||
				strings.Contains(base, "_test.") ||
				strings.Contains(base, ".test.") ||
				strings.Contains(base, ".spec.")
		},
	}
}

// NewTerraformGraph creates the Terraform strategy: the same flat walk with
// HCL-family extensions.
func NewTerraformGraph(cfg Config) *GenericGraph {
	return &GenericGraph{
		cfg:        cfg,
		extensions: terraformExtensions,
		testMarker: func(path string) bool {
			return strings.HasSuffix(strings.ToLower(path), "_test.tf")
		},
	}
}

// Traverse performs the flat walk. Directory iteration order drives
// admission order, so the admitted set near the ceiling is deliberately
// non-deterministic.
func (g *GenericGraph) Traverse(ctx context.Context, target string) (*scan.Truncation, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, scan.NewError(scan.ErrCodeNoWorkspaceFolder, "scan target does not exist", err)
	}

	limit := g.cfg.Limits.PayloadSizeLimit(g.cfg.Scope)

	if !info.IsDir() {
		t := scan.NewTruncation(g.cfg.ProjectRoot)
		if info.Size() > limit {
			return nil, scan.NewError(scan.ErrCodeFileSizeExceeded, "file exceeds the single-file scan size limit", nil)
		}
		t.AdmitSource(target, info.Size(), countLines(target))
		return t, nil
	}

	t := scan.NewTruncation(target)
	err = filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if isHidden(d.Name()) && path != target {
				return filepath.SkipDir
			}
			return nil
		}
		if isHidden(d.Name()) || g.excluded(path) {
			return nil
		}
		if _, ok := g.extensions[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}
		// Stop admitting once the ceiling is reached. Partial truncation
		// is an expected outcome for project scans.
		if t.WouldExceed(fi.Size(), limit) {
			return nil
		}
		t.AdmitSource(path, fi.Size(), countLines(path))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// IsTestFile reports whether path matches this family's test-file naming.
func (g *GenericGraph) IsTestFile(path string) bool { return g.testMarker(path) }

// SourceDependencies returns no dependencies: the flat strategies do not
// resolve imports.
func (g *GenericGraph) SourceDependencies(ctx context.Context, path string) ([]string, error) {
	return nil, nil
}

func (g *GenericGraph) excluded(path string) bool {
	rel, err := filepath.Rel(g.cfg.ProjectRoot, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range g.cfg.Excludes {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
