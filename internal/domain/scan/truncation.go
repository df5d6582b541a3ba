package scan

// Truncation is the size-bounded subset of a project's files selected for one
// scan, plus metrics describing what was admitted. It is produced once per
// scan invocation, owned by that invocation, and discarded after upload.
type Truncation struct {
	rootDir          string
	scannedFiles     map[string]struct{}
	buildFiles       map[string]struct{}
	srcBytes         int64
	buildBytes       int64
	lineCount        int
	dominantLanguage string
	// buildOutputRel is the relative root used for dependency-output
	// placement inside the archive. Empty when no resolvable build output
	// was found.
	buildOutputRel string
}

// NewTruncation creates an empty Truncation rooted at rootDir.
func NewTruncation(rootDir string) *Truncation {
	return &Truncation{
		rootDir:      rootDir,
		scannedFiles: make(map[string]struct{}),
		buildFiles:   make(map[string]struct{}),
	}
}

// RootDir returns the directory the traversal started from.
func (t *Truncation) RootDir() string { return t.rootDir }

// AdmitSource records a source file and its size.
func (t *Truncation) AdmitSource(path string, size int64, lines int) {
	if _, ok := t.scannedFiles[path]; ok {
		return
	}
	t.scannedFiles[path] = struct{}{}
	t.srcBytes += size
	t.lineCount += lines
}

// AdmitBuildOutput records a compiled/build artifact bundled for
// cross-reference.
func (t *Truncation) AdmitBuildOutput(path string, size int64) {
	if _, ok := t.buildFiles[path]; ok {
		return
	}
	t.buildFiles[path] = struct{}{}
	t.buildBytes += size
}

// Contains reports whether the given source file was admitted.
func (t *Truncation) Contains(path string) bool {
	_, ok := t.scannedFiles[path]
	return ok
}

// ScannedFiles returns the admitted source files. Ordering is
// directory-read order and therefore non-deterministic.
func (t *Truncation) ScannedFiles() []string {
	out := make([]string, 0, len(t.scannedFiles))
	for p := range t.scannedFiles {
		out = append(out, p)
	}
	return out
}

// BuildFiles returns the admitted build artifacts.
func (t *Truncation) BuildFiles() []string {
	out := make([]string, 0, len(t.buildFiles))
	for p := range t.buildFiles {
		out = append(out, p)
	}
	return out
}

// SrcBytes returns the total admitted source bytes.
func (t *Truncation) SrcBytes() int64 { return t.srcBytes }

// BuildBytes returns the total admitted build-artifact bytes.
func (t *Truncation) BuildBytes() int64 { return t.buildBytes }

// LineCount returns the total admitted source line count.
func (t *Truncation) LineCount() int { return t.lineCount }

// SetDominantLanguage records the most frequent language among admitted
// files.
func (t *Truncation) SetDominantLanguage(lang string) { t.dominantLanguage = lang }

// DominantLanguage returns the recorded dominant language.
func (t *Truncation) DominantLanguage() string { return t.dominantLanguage }

// SetBuildOutputRel records the relative root for dependency-output
// placement inside the archive.
func (t *Truncation) SetBuildOutputRel(rel string) { t.buildOutputRel = rel }

// BuildOutputRel returns the relative dependency-output root, empty when no
// resolvable build output was found.
func (t *Truncation) BuildOutputRel() string { return t.buildOutputRel }

// WouldExceed reports whether admitting size more source bytes would push
// the truncation past limit.
func (t *Truncation) WouldExceed(size, limit int64) bool {
	return t.srcBytes+size > limit
}
