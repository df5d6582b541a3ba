// Package depgraph selects the size-bounded file subset for one scan. Each
// supported language family gets its own traversal strategy; the factory
// picks one per invocation from detected project markers.
package depgraph

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ahrav/codesentry/internal/domain/scan"
	"github.com/ahrav/codesentry/pkg/common/logger"
)

// DependencyGraph walks a project or a single entry file and produces a
// bounded Truncation. Implementations are stateless per invocation.
type DependencyGraph interface {
	// Traverse walks from the target (entry file or project root) and
	// returns the admitted file subset. The walk stops admitting, not
	// aborts, once the scope's byte ceiling is reached; for file scope an
	// entry file over the ceiling is a fatal FileSizeExceeded.
	Traverse(ctx context.Context, target string) (*scan.Truncation, error)

	// IsTestFile reports whether the path is test code for this language
	// family.
	IsTestFile(path string) bool

	// SourceDependencies resolves the same-unit dependencies of one source
	// file to candidate source files.
	SourceDependencies(ctx context.Context, path string) ([]string, error)
}

// MatchTier classifies how well a build-output directory matches a package
// declaration. The heuristic is inherently approximate, so the ambiguity is
// kept explicit rather than collapsed into a boolean.
type MatchTier string

const (
	// MatchStrict means the full package path exists under the candidate.
	MatchStrict MatchTier = "STRICT"

	// MatchNonStrict means only a suffix of the package path matched.
	MatchNonStrict MatchTier = "NON_STRICT"

	// MatchUnmatched means the candidate does not correspond to the
	// package declaration.
	MatchUnmatched MatchTier = "UNMATCHED"
)

// Config carries the knobs shared by all strategies.
type Config struct {
	ProjectRoot string
	Scope       scan.Scope
	Limits      scan.Limits
	// Excludes are doublestar patterns matched against root-relative paths.
	Excludes []string
	Logger   *logger.Logger
}

// New selects a strategy for the project rooted at cfg.ProjectRoot.
// Presence of a Java build file (or any .java source at the top two levels)
// selects the Java strategy; .tf files select Terraform; everything else
// falls back to the generic flat walk.
func New(cfg Config) DependencyGraph {
	switch {
	case hasJavaMarkers(cfg.ProjectRoot):
		return NewJavaGraph(cfg)
	case hasMarker(cfg.ProjectRoot, ".tf"):
		return NewTerraformGraph(cfg)
	default:
		return NewGenericGraph(cfg)
	}
}

// ForFile selects a strategy from a single entry file's extension.
func ForFile(cfg Config, path string) DependencyGraph {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".java":
		return NewJavaGraph(cfg)
	case ".tf", ".hcl":
		return NewTerraformGraph(cfg)
	default:
		return NewGenericGraph(cfg)
	}
}

func hasJavaMarkers(root string) bool {
	for _, marker := range []string{"pom.xml", "build.gradle", "build.gradle.kts"} {
		if _, err := os.Stat(filepath.Join(root, marker)); err == nil {
			return true
		}
	}
	return hasMarker(root, ".java")
}

// hasMarker reports whether any file with the extension exists within the
// top two directory levels of root.
func hasMarker(root, ext string) bool {
	entries, err := os.ReadDir(root)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ext) {
			return true
		}
	}
	for _, e := range entries {
		if !e.IsDir() || isHidden(e.Name()) {
			continue
		}
		sub, err := os.ReadDir(filepath.Join(root, e.Name()))
		if err != nil {
			continue
		}
		for _, se := range sub {
			if !se.IsDir() && strings.EqualFold(filepath.Ext(se.Name()), ext) {
				return true
			}
		}
	}
	return false
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// countLines returns the number of newline-delimited lines in the file.
// Errors degrade to zero; line counts are metrics, not correctness.
func countLines(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	lines := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines++
	}
	return lines
}
