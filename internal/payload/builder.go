// Package payload packages a truncation (or single file) into the
// compressed archive uploaded to the scanning backend.
package payload

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/codesentry/internal/domain/scan"
	"github.com/ahrav/codesentry/internal/infra/documents"
	"github.com/ahrav/codesentry/pkg/common/logger"
)

// manifestName is the archive entry recording dependency-output placement.
const manifestName = "codesentry-manifest.json"

// dependenciesDir is where bundled build output lands inside the archive.
const dependenciesDir = "dependencies"

// Archive is the packaged upload payload. The file at Path is a temp file
// owned by the invocation and deleted after upload.
type Archive struct {
	Path     string
	Size     int64
	Language string
	// DependenciesRoot is the relative root used for dependency-output
	// placement, empty when no resolvable build output was found.
	DependenciesRoot string
}

// manifest is the JSON payload embedded in the archive.
type manifest struct {
	DependenciesRoot string `json:"dependenciesRoot"`
}

// Builder packages truncations into zip archives. Dirty editor buffers are
// zipped from their live content so the backend scans what the user sees,
// not what last hit disk.
type Builder struct {
	docs   documents.Store
	limits scan.Limits
	logger *logger.Logger
	tracer trace.Tracer
}

// NewBuilder creates a Builder.
func NewBuilder(docs documents.Store, limits scan.Limits, log *logger.Logger, tracer trace.Tracer) *Builder {
	return &Builder{docs: docs, limits: limits, logger: log, tracer: tracer}
}

// BuildProjectZip packages a project-scope truncation. The compressed
// archive exceeding the project ceiling is fatal and the archive is
// discarded.
func (b *Builder) BuildProjectZip(ctx context.Context, t *scan.Truncation) (*Archive, error) {
	return b.build(ctx, t, scan.ScopeProject)
}

// BuildFileZip packages a file-scope truncation under the much smaller
// single-file ceiling.
func (b *Builder) BuildFileZip(ctx context.Context, t *scan.Truncation, scope scan.Scope) (*Archive, error) {
	if !scope.IsFileScope() {
		return nil, fmt.Errorf("BuildFileZip requires a file scope, got %s", scope)
	}
	return b.build(ctx, t, scope)
}

func (b *Builder) build(ctx context.Context, t *scan.Truncation, scope scan.Scope) (*Archive, error) {
	ctx, span := b.tracer.Start(ctx, "payload.build_zip",
		trace.WithAttributes(
			attribute.String("scope", scope.String()),
			attribute.Int("source_files", len(t.ScannedFiles())),
		))
	defer span.End()

	tmp, err := os.CreateTemp("", "codesentry-*.zip")
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}
	archivePath := tmp.Name()

	ok := false
	defer func() {
		if !ok {
			os.Remove(archivePath)
		}
	}()

	zw := zip.NewWriter(tmp)
	tally := newLanguageTally()

	for _, path := range t.ScannedFiles() {
		if ctx.Err() != nil {
			zw.Close()
			tmp.Close()
			return nil, ctx.Err()
		}
		if err := b.addSource(zw, t.RootDir(), path); err != nil {
			b.logger.Warn(ctx, "Skipping unreadable source file", "path", path, "error", err)
			continue
		}
		tally.add(languageOf(path))
	}

	for _, path := range t.BuildFiles() {
		if err := b.addBuildOutput(zw, t.RootDir(), path); err != nil {
			b.logger.Warn(ctx, "Skipping unreadable build artifact", "path", path, "error", err)
		}
	}

	if err := b.addManifest(zw, t.BuildOutputRel()); err != nil {
		zw.Close()
		tmp.Close()
		return nil, err
	}

	if err := zw.Close(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close archive: %w", err)
	}

	language := tally.dominant()
	if language == "" {
		return nil, scan.NewError(scan.ErrCodeInvalidSourceFiles, "no source files of a recognized language were admitted", nil)
	}

	fi, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	limit := b.limits.PayloadSizeLimit(scope)
	if fi.Size() > limit {
		code := scan.ErrCodeProjectSizeExceeded
		if scope.IsFileScope() {
			code = scan.ErrCodeFileSizeExceeded
		}
		return nil, scan.NewError(code, "compressed archive exceeds the scan size limit", nil)
	}

	span.SetAttributes(
		attribute.Int64("archive_bytes", fi.Size()),
		attribute.String("language", language),
	)
	b.logger.Debug(ctx, "Archive built",
		"path", archivePath, "bytes", fi.Size(), "language", language)

	ok = true
	return &Archive{
		Path:             archivePath,
		Size:             fi.Size(),
		Language:         language,
		DependenciesRoot: t.BuildOutputRel(),
	}, nil
}

// addSource writes one source file into the archive, preferring the live
// buffer when the document is open with unsaved changes.
func (b *Builder) addSource(zw *zip.Writer, root, path string) error {
	w, err := zw.Create(entryName(root, path, ""))
	if err != nil {
		return err
	}

	if b.docs.IsDirty(path) {
		if content, live := b.docs.LiveContent(path); live {
			_, err = w.Write(content)
			return err
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

func (b *Builder) addBuildOutput(zw *zip.Writer, root, path string) error {
	w, err := zw.Create(entryName(root, path, dependenciesDir))
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

func (b *Builder) addManifest(zw *zip.Writer, dependenciesRoot string) error {
	w, err := zw.Create(manifestName)
	if err != nil {
		return fmt.Errorf("failed to create manifest entry: %w", err)
	}
	data, err := json.Marshal(manifest{DependenciesRoot: dependenciesRoot})
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// entryName computes the archive entry path for a file, rooted at prefix
// when provided. Files outside root fall back to their base name.
func entryName(root, path, prefix string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(path)
	}
	rel = filepath.ToSlash(rel)
	if prefix != "" {
		return prefix + "/" + rel
	}
	return rel
}
