package depgraph

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ahrav/codesentry/internal/domain/scan"
)

// Java dependency resolution is deliberately syntactic: imports and package
// declarations are pulled out with regexes, not a parser. The backend's
// detectors re-parse authoritatively; this layer only decides which files to
// ship.
var (
	javaImportRe  = regexp.MustCompile(`(?m)^\s*import\s+(?:static\s+)?([\w.]+(?:\.\*)?)\s*;`)
	javaPackageRe = regexp.MustCompile(`(?m)^\s*package\s+([\w.]+)\s*;`)
)

// buildOutputCandidates are the conventional compiled-output roots checked
// during classpath auto-detection, relative to the project root.
var buildOutputCandidates = []string{
	filepath.Join("target", "classes"),
	filepath.Join("build", "classes", "java", "main"),
	filepath.Join("build", "classes"),
	filepath.Join("out", "production"),
	"bin",
}

const dirCacheSize = 512

// JavaGraph resolves same-unit dependencies of Java sources: imports map to
// sibling source files via inferred source roots, and compiled output is
// bundled when a classpath directory matches the package declaration.
//
// The resolution graph can be cyclic (mutual imports), so two guard sets
// make the walk terminate: parsedStatements prevents re-resolving an import
// string, fetchedDirs prevents re-scanning a directory tree.
type JavaGraph struct {
	cfg Config

	parsedStatements map[string]struct{}
	fetchedDirs      map[string]struct{}
	sourceRoots      map[string]struct{}

	dirCache *lru.Cache[string, []string]
}

// NewJavaGraph creates the Java strategy.
func NewJavaGraph(cfg Config) *JavaGraph {
	cache, _ := lru.New[string, []string](dirCacheSize)
	return &JavaGraph{
		cfg:              cfg,
		parsedStatements: make(map[string]struct{}),
		fetchedDirs:      make(map[string]struct{}),
		sourceRoots:      make(map[string]struct{}),
		dirCache:         cache,
	}
}

// Traverse walks from the target. A directory target admits every Java
// source under it up to the ceiling; a file target BFS-expands the entry
// file's imports. Both attempt classpath auto-detection so compiled output
// can be bundled for cross-reference.
func (g *JavaGraph) Traverse(ctx context.Context, target string) (*scan.Truncation, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, scan.NewError(scan.ErrCodeNoWorkspaceFolder, "scan target does not exist", err)
	}
	if info.IsDir() {
		return g.traverseProject(ctx, target)
	}
	return g.traverseFile(ctx, target, info)
}

// IsTestFile reports whether path lives under a test source tree or follows
// JUnit naming.
func (g *JavaGraph) IsTestFile(path string) bool {
	slashed := filepath.ToSlash(path)
	if strings.Contains(slashed, "/src/test/") || strings.Contains(slashed, "/test/java/") {
		return true
	}
	base := filepath.Base(path)
	return strings.HasSuffix(base, "Test.java") || strings.HasSuffix(base, "Tests.java")
}

// SourceDependencies resolves one file's import statements to candidate
// source files. Each import string is resolved at most once per traversal.
func (g *JavaGraph) SourceDependencies(ctx context.Context, path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	g.recordSourceRoot(path, data)

	var deps []string
	for _, m := range javaImportRe.FindAllStringSubmatch(string(data), -1) {
		stmt := m[1]
		if _, done := g.parsedStatements[stmt]; done {
			continue
		}
		g.parsedStatements[stmt] = struct{}{}

		if ctx.Err() != nil {
			return deps, ctx.Err()
		}
		deps = append(deps, g.resolveImport(stmt)...)
	}
	return deps, nil
}

func (g *JavaGraph) traverseFile(ctx context.Context, entry string, info os.FileInfo) (*scan.Truncation, error) {
	limit := g.cfg.Limits.PayloadSizeLimit(g.cfg.Scope)
	if info.Size() > limit {
		return nil, scan.NewError(scan.ErrCodeFileSizeExceeded, "file exceeds the single-file scan size limit", nil)
	}

	t := scan.NewTruncation(g.cfg.ProjectRoot)
	t.AdmitSource(entry, info.Size(), countLines(entry))

	// Breadth-first expansion over resolved imports. Admission stops (not
	// aborts) once the ceiling is reached; the entry file is always in.
	queue := []string{entry}
	for len(queue) > 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		file := queue[0]
		queue = queue[1:]

		deps, err := g.SourceDependencies(ctx, file)
		if err != nil {
			continue // unreadable dependency sources are dropped
		}
		for _, dep := range deps {
			if t.Contains(dep) {
				continue
			}
			fi, err := os.Stat(dep)
			if err != nil {
				continue
			}
			if t.WouldExceed(fi.Size(), limit) {
				continue
			}
			t.AdmitSource(dep, fi.Size(), countLines(dep))
			queue = append(queue, dep)
		}
	}

	g.detectClasspath(t, entry)
	return t, nil
}

func (g *JavaGraph) traverseProject(ctx context.Context, root string) (*scan.Truncation, error) {
	limit := g.cfg.Limits.PayloadSizeLimit(g.cfg.Scope)
	t := scan.NewTruncation(root)

	var firstSource string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if isHidden(d.Name()) && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		isSource := strings.HasSuffix(name, ".java")
		isBuildManifest := name == "pom.xml" || name == "build.gradle" || name == "build.gradle.kts"
		if !isSource && !isBuildManifest {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if t.WouldExceed(fi.Size(), limit) {
			return nil
		}
		t.AdmitSource(path, fi.Size(), countLines(path))
		if isSource && firstSource == "" {
			firstSource = path
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if firstSource != "" {
		g.detectClasspath(t, firstSource)
	}
	return t, nil
}

// recordSourceRoot infers a source root from the file's package declaration
// so later imports can be resolved against it. A file whose directory does
// not end in its package path contributes its own directory as a weak root.
func (g *JavaGraph) recordSourceRoot(path string, data []byte) {
	dir := filepath.Dir(path)
	pkg := extractPackage(data)
	if pkg == "" {
		g.sourceRoots[dir] = struct{}{}
		return
	}

	pkgPath := filepath.FromSlash(strings.ReplaceAll(pkg, ".", "/"))
	if strings.HasSuffix(dir, pkgPath) {
		g.sourceRoots[strings.TrimSuffix(dir, pkgPath)] = struct{}{}
		return
	}
	g.sourceRoots[dir] = struct{}{}
}

// resolveImport maps one import statement to candidate source files by
// probing every known source root. Wildcard imports resolve to the whole
// package directory.
func (g *JavaGraph) resolveImport(stmt string) []string {
	var out []string

	if strings.HasSuffix(stmt, ".*") {
		pkgDir := filepath.FromSlash(strings.ReplaceAll(strings.TrimSuffix(stmt, ".*"), ".", "/"))
		for root := range g.sourceRoots {
			dir := filepath.Join(root, pkgDir)
			for _, name := range g.readDir(dir) {
				if strings.HasSuffix(name, ".java") {
					out = append(out, filepath.Join(dir, name))
				}
			}
		}
		return out
	}

	relPath := filepath.FromSlash(strings.ReplaceAll(stmt, ".", "/")) + ".java"
	for root := range g.sourceRoots {
		candidate := filepath.Join(root, relPath)
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			out = append(out, candidate)
		}
	}
	return out
}

// detectClasspath attempts to locate compiled output matching the entry
// file's package declaration and bundles it for cross-reference. Only
// strict and non-strict matches admit output.
func (g *JavaGraph) detectClasspath(t *scan.Truncation, sourceFile string) {
	data, err := os.ReadFile(sourceFile)
	if err != nil {
		return
	}
	pkg := extractPackage(data)

	for _, rel := range buildOutputCandidates {
		candidate := filepath.Join(g.cfg.ProjectRoot, rel)
		tier := g.classifyCandidate(candidate, pkg)
		if tier == MatchUnmatched {
			continue
		}
		if g.cfg.Logger != nil {
			g.cfg.Logger.Debug(context.Background(), "Classpath candidate matched",
				"candidate", candidate, "tier", string(tier))
		}
		g.admitClassFiles(t, candidate)
		t.SetBuildOutputRel(rel)
		return
	}
}

// classifyCandidate grades a build-output directory against a package
// declaration: the full package path existing under the candidate is a
// strict match; only the last package segment present somewhere below is
// non-strict; anything else is unmatched.
func (g *JavaGraph) classifyCandidate(candidate, pkg string) MatchTier {
	fi, err := os.Stat(candidate)
	if err != nil || !fi.IsDir() {
		return MatchUnmatched
	}
	if pkg == "" {
		return MatchNonStrict
	}

	pkgPath := filepath.FromSlash(strings.ReplaceAll(pkg, ".", "/"))
	if di, err := os.Stat(filepath.Join(candidate, pkgPath)); err == nil && di.IsDir() {
		return MatchStrict
	}

	lastSegment := pkg[strings.LastIndex(pkg, ".")+1:]
	found := false
	filepath.WalkDir(candidate, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && d.Name() == lastSegment {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	if found {
		return MatchNonStrict
	}
	return MatchUnmatched
}

// admitClassFiles bundles every .class file under dir, skipping any tree
// already fetched this traversal.
func (g *JavaGraph) admitClassFiles(t *scan.Truncation, dir string) {
	if _, done := g.fetchedDirs[dir]; done {
		return
	}
	g.fetchedDirs[dir] = struct{}{}

	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			// The walk root was marked fetched before the walk started;
			// skipping it here would skip the whole tree.
			if path == dir {
				return nil
			}
			if _, done := g.fetchedDirs[path]; done {
				return filepath.SkipDir
			}
			g.fetchedDirs[path] = struct{}{}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".class") {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			t.AdmitBuildOutput(path, fi.Size())
		}
		return nil
	})
}

// readDir lists a directory through the LRU cache. Import resolution and
// wildcard expansion revisit the same package directories often enough that
// caching the listings pays for itself on large trees.
func (g *JavaGraph) readDir(dir string) []string {
	if names, ok := g.dirCache.Get(dir); ok {
		return names
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		g.dirCache.Add(dir, nil)
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	g.dirCache.Add(dir, names)
	return names
}

func extractPackage(data []byte) string {
	if m := javaPackageRe.FindSubmatch(data); m != nil {
		return string(m[1])
	}
	return ""
}
