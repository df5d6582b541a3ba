package findings

import (
	"fmt"
	"strings"
)

// invalidatedTitlePrefix marks a finding whose underlying code changed since
// detection. The finding is downgraded, not deleted, so the user sees why a
// diagnostic effectively vanished.
const invalidatedTitlePrefix = "Re-scan to validate the fix: "

// Reference is a provenance span attached to a suggested fix, pointing at
// the recommendation content the fix was derived from.
type Reference struct {
	LicenseName string `json:"licenseName,omitempty"`
	Repository  string `json:"repository,omitempty"`
	URL         string `json:"url,omitempty"`
	// SpanStart/SpanEnd are line offsets into the recommendation content.
	// They shift together with the finding when edits land above it.
	SpanStart int `json:"recommendationContentSpanStart,omitempty"`
	SpanEnd   int `json:"recommendationContentSpanEnd,omitempty"`
}

// SuggestedFix carries a remediation the backend proposes for a finding. The
// Code field holds a unified-diff patch whose hunk headers must stay aligned
// with the live document for a later apply-fix action to target correct
// coordinates.
type SuggestedFix struct {
	Description string      `json:"description,omitempty"`
	Code        string      `json:"code,omitempty"`
	References  []Reference `json:"references,omitempty"`
}

// Finding is a normalized, positioned security issue. Line coordinates are
// 0-based and half-open: [StartLine, EndLine).
type Finding struct {
	ID             string         `json:"id"`
	FilePath       string         `json:"filePath"`
	StartLine      int            `json:"startLine"`
	EndLine        int            `json:"endLine"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	DetectorID     string         `json:"detectorId"`
	DetectorName   string         `json:"detectorName,omitempty"`
	RuleID         string         `json:"ruleId,omitempty"`
	Severity       Severity       `json:"severity"`
	Recommendation Recommendation `json:"recommendation"`
	SuggestedFixes []SuggestedFix `json:"suggestedFixes,omitempty"`
	CodeSnippet    []CodeLine     `json:"codeSnippet,omitempty"`
	// Visible is false when the finding's title is ignore-listed or a
	// single-line suppression comment precedes its start line. Invisible
	// findings are retained for counting.
	Visible   bool   `json:"visible"`
	ScanJobID string `json:"scanJobId"`
	Language  string `json:"language,omitempty"`
	// Invalidated is set once a document edit overlapped this finding's
	// range with non-whitespace content.
	Invalidated bool `json:"invalidated,omitempty"`
}

// Recommendation is the backend's remediation guidance.
type Recommendation struct {
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

// CodeLine is one line of the code snippet the backend captured when it
// produced a finding. Content may be redacted/masked by the backend.
type CodeLine struct {
	Number  int    `json:"number"`
	Content string `json:"content"`
}

// Key identifies a finding for deduplication purposes.
type Key struct {
	FilePath  string
	Title     string
	StartLine int
	EndLine   int
}

// DedupKey returns the finding's deduplication identity.
func (f *Finding) DedupKey() Key {
	return Key{FilePath: f.FilePath, Title: f.Title, StartLine: f.StartLine, EndLine: f.EndLine}
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d-%d:%s", k.FilePath, k.StartLine, k.EndLine, k.Title)
}

// LineCount returns the number of lines the finding spans.
func (f *Finding) LineCount() int { return f.EndLine - f.StartLine }

// Shift moves the finding's line range by delta. Embedded diff hunks and
// reference spans move by the same delta so apply-fix coordinates stay
// correct.
func (f *Finding) Shift(delta int) {
	f.StartLine += delta
	f.EndLine += delta
	for i := range f.SuggestedFixes {
		f.SuggestedFixes[i].shift(delta)
	}
	for i := range f.CodeSnippet {
		f.CodeSnippet[i].Number += delta
	}
}

// Invalidate soft-invalidates the finding: severity drops to Info, the title
// gains the re-scan prefix, and the range collapses to the edit point.
func (f *Finding) Invalidate(editLine int) {
	f.Severity = SeverityInfo
	if !strings.HasPrefix(f.Title, invalidatedTitlePrefix) {
		f.Title = invalidatedTitlePrefix + f.Title
	}
	f.StartLine = editLine
	f.EndLine = editLine + 1
	f.Invalidated = true
}

func (sf *SuggestedFix) shift(delta int) {
	sf.Code = shiftHunkHeaders(sf.Code, delta)
	for i := range sf.References {
		sf.References[i].SpanStart += delta
		sf.References[i].SpanEnd += delta
	}
}
