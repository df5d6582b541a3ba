package tracker

import "strings"

// ContentChange is one edited region of a document, expressed in 0-based
// half-open line coordinates. A pure insertion has StartLine == EndLine.
type ContentChange struct {
	StartLine int
	EndLine   int
	// Text replaces the region. Empty text with a non-empty region is a
	// pure deletion.
	Text string
}

// ChangeEvent is the host editor's document-mutation notification. The
// host forwards every edit event unconditionally.
type ChangeEvent struct {
	FilePath string
	Changes  []ContentChange
}

// compositeEdit is the union of all edited ranges in one event with the
// concatenated replacement text and the net line delta.
type compositeEdit struct {
	startLine int
	endLine   int
	text      string
	delta     int
}

// compose folds an event's changes into a single composite edit.
func compose(changes []ContentChange) compositeEdit {
	c := compositeEdit{startLine: int(^uint(0) >> 1)}
	var text strings.Builder
	for _, ch := range changes {
		if ch.StartLine < c.startLine {
			c.startLine = ch.StartLine
		}
		if ch.EndLine > c.endLine {
			c.endLine = ch.EndLine
		}
		text.WriteString(ch.Text)
		c.delta += lineSpan(ch.Text) - (ch.EndLine - ch.StartLine)
	}
	if len(changes) == 0 {
		c.startLine = 0
	}
	c.text = text.String()
	return c
}

// isPureDeletion reports whether the composite removed lines without
// inserting any text.
func (c compositeEdit) isPureDeletion() bool {
	return c.text == "" && c.endLine > c.startLine
}

// isWhitespaceOnly reports whether the inserted text contains nothing but
// whitespace. Reformatting must not invalidate findings.
func (c compositeEdit) isWhitespaceOnly() bool {
	return strings.TrimSpace(c.text) == ""
}

// lineSpan returns the number of lines a replacement text occupies. Empty
// text spans zero lines; text without a trailing newline still occupies its
// final partial line.
func lineSpan(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
