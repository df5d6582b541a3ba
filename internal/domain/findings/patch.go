package findings

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// hunkHeaderRe matches a unified-diff hunk header of the form
// "@@ -a,b +c,d @@" with the count fields optional.
var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@(.*)$`)

// shiftHunkHeaders rewrites every hunk header in a unified diff so its start
// lines move by delta. Non-header lines pass through untouched. Headers that
// would shift to a non-positive start line are left as-is rather than
// producing an invalid patch.
func shiftHunkHeaders(patch string, delta int) string {
	if patch == "" || delta == 0 {
		return patch
	}

	lines := strings.Split(patch, "\n")
	for i, line := range lines {
		m := hunkHeaderRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		oldStart, _ := strconv.Atoi(m[1])
		newStart, _ := strconv.Atoi(m[3])
		if oldStart+delta < 1 || newStart+delta < 1 {
			continue
		}

		var b strings.Builder
		fmt.Fprintf(&b, "@@ -%d", oldStart+delta)
		if m[2] != "" {
			b.WriteString("," + m[2])
		}
		fmt.Fprintf(&b, " +%d", newStart+delta)
		if m[4] != "" {
			b.WriteString("," + m[4])
		}
		b.WriteString(" @@")
		b.WriteString(m[5])
		lines[i] = b.String()
	}
	return strings.Join(lines, "\n")
}
