package findings

// FileFindingGroup groups all findings for one absolute file path. The live
// issue tracker owns the mutable groups; everything upstream of it hands
// over ownership on merge/replace.
type FileFindingGroup struct {
	FilePath string     `json:"filePath"`
	Findings []*Finding `json:"findings"`
}

// VisibleCount returns the number of findings not suppressed by the
// ignore-list or a suppression comment.
func (g *FileFindingGroup) VisibleCount() int {
	n := 0
	for _, f := range g.Findings {
		if f.Visible {
			n++
		}
	}
	return n
}

// SeverityCounts tallies visible findings per severity for consumer
// sorting and badge rendering.
func (g *FileFindingGroup) SeverityCounts() map[Severity]int {
	counts := make(map[Severity]int)
	for _, f := range g.Findings {
		if f.Visible {
			counts[f.Severity]++
		}
	}
	return counts
}

// Clone returns a deep copy of the group so callers can hand findings to
// consumers without exposing tracker-owned memory.
func (g *FileFindingGroup) Clone() *FileFindingGroup {
	out := &FileFindingGroup{FilePath: g.FilePath, Findings: make([]*Finding, 0, len(g.Findings))}
	for _, f := range g.Findings {
		cp := *f
		cp.SuggestedFixes = append([]SuggestedFix(nil), f.SuggestedFixes...)
		cp.CodeSnippet = append([]CodeLine(nil), f.CodeSnippet...)
		out.Findings = append(out.Findings, &cp)
	}
	return out
}
