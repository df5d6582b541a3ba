package findings

import (
	"encoding/json"
	"fmt"
)

// RawFinding mirrors the backend's finding shape: paths are backend-relative
// and line numbers are 1-based inclusive.
type RawFinding struct {
	FilePath     string          `json:"filePath"`
	StartLine    int             `json:"startLine"`
	EndLine      int             `json:"endLine"`
	Title        string          `json:"title"`
	Description  RawDescription  `json:"description"`
	DetectorID   string          `json:"detectorId"`
	DetectorName string          `json:"detectorName"`
	FindingID    string          `json:"findingId"`
	RuleID       string          `json:"ruleId"`
	Severity     string          `json:"severity"`
	Remediation  RawRemediation  `json:"remediation"`
	CodeSnippet  []CodeLine      `json:"codeSnippet"`
	Raw          json.RawMessage `json:"-"`
}

// RawDescription carries the backend's finding description variants.
type RawDescription struct {
	Text     string `json:"text"`
	Markdown string `json:"markdown,omitempty"`
}

// RawRemediation carries the backend's remediation guidance and fixes.
type RawRemediation struct {
	Recommendation Recommendation    `json:"recommendation"`
	SuggestedFixes []RawSuggestedFix `json:"suggestedFixes,omitempty"`
}

// RawSuggestedFix is the backend shape of a proposed fix.
type RawSuggestedFix struct {
	Description string      `json:"description,omitempty"`
	Code        string      `json:"code,omitempty"`
	References  []Reference `json:"references,omitempty"`
}

// DecodeRawFindings parses one backend findings batch, which arrives as a
// JSON-encoded array of raw findings.
func DecodeRawFindings(data []byte) ([]RawFinding, error) {
	var raw []RawFinding
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode findings batch: %w", err)
	}
	return raw, nil
}

// Normalize converts a RawFinding to the tracker-owned Finding model. The
// resolved absolute path and scan metadata come from the aggregator; line
// coordinates convert from 1-based inclusive to 0-based half-open.
func (r RawFinding) Normalize(absPath, scanJobID, language string) Finding {
	fixes := make([]SuggestedFix, 0, len(r.Remediation.SuggestedFixes))
	for _, sf := range r.Remediation.SuggestedFixes {
		fixes = append(fixes, SuggestedFix{
			Description: sf.Description,
			Code:        sf.Code,
			References:  sf.References,
		})
	}

	return Finding{
		ID:             r.FindingID,
		FilePath:       absPath,
		StartLine:      r.StartLine - 1,
		EndLine:        r.EndLine,
		Title:          r.Title,
		Description:    r.Description.Text,
		DetectorID:     r.DetectorID,
		DetectorName:   r.DetectorName,
		RuleID:         r.RuleID,
		Severity:       ParseSeverity(r.Severity),
		Recommendation: r.Remediation.Recommendation,
		SuggestedFixes: fixes,
		CodeSnippet:    r.CodeSnippet,
		Visible:        true,
		ScanJobID:      scanJobID,
		Language:       language,
	}
}
