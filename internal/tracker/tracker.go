// Package tracker keeps completed-scan findings valid while the user keeps
// editing. It owns the per-file finding groups and adjusts or invalidates
// them on every document mutation.
package tracker

import (
	"context"
	"sync"

	"github.com/ahrav/codesentry/internal/domain/findings"
	"github.com/ahrav/codesentry/pkg/common/logger"
)

// IgnorePersister persists user dismissals. The results package's ignore
// list satisfies it.
type IgnorePersister interface {
	Add(title string) error
}

// Tracker owns the mutable finding groups. Completed-scan merges and
// keystroke change events both mutate the map, so every entry point takes
// the mutex; concurrent merge-during-edit is the primary correctness
// hazard here.
type Tracker struct {
	mu     sync.Mutex
	groups map[string]*findings.FileFindingGroup

	ignore IgnorePersister
	logger *logger.Logger
}

// New creates an empty Tracker.
func New(ignore IgnorePersister, log *logger.Logger) *Tracker {
	return &Tracker{
		groups: make(map[string]*findings.FileFindingGroup),
		ignore: ignore,
		logger: log,
	}
}

// Replace installs a file's finding group wholesale, discarding whatever
// was tracked before. Used when a new scan of the same scope+file
// completes.
func (t *Tracker) Replace(group *findings.FileFindingGroup) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(group.Findings) == 0 {
		delete(t.groups, group.FilePath)
		return
	}
	t.groups[group.FilePath] = group
}

// ReplaceAll swaps the entire tracked set for the given groups. Files
// absent from the new results lose their findings; a completed project
// scan is the authoritative snapshot.
func (t *Tracker) ReplaceAll(groups []*findings.FileFindingGroup) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make(map[string]*findings.FileFindingGroup, len(groups))
	for _, g := range groups {
		if len(g.Findings) == 0 {
			continue
		}
		next[g.FilePath] = g
	}
	t.groups = next
}

// Merge folds a group's findings into the tracked set, dropping entries
// whose dedup key is already present.
func (t *Tracker) Merge(group *findings.FileFindingGroup) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.groups[group.FilePath]
	if !ok {
		if len(group.Findings) > 0 {
			t.groups[group.FilePath] = group
		}
		return
	}

	seen := make(map[findings.Key]struct{}, len(existing.Findings))
	for _, f := range existing.Findings {
		seen[f.DedupKey()] = struct{}{}
	}
	for _, f := range group.Findings {
		if _, dup := seen[f.DedupKey()]; dup {
			continue
		}
		existing.Findings = append(existing.Findings, f)
	}
}

// Remove deletes one finding by id from a file's group.
func (t *Tracker) Remove(filePath, findingID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	group, ok := t.groups[filePath]
	if !ok {
		return
	}
	kept := group.Findings[:0]
	for _, f := range group.Findings {
		if f.ID != findingID {
			kept = append(kept, f)
		}
	}
	group.Findings = kept
	if len(group.Findings) == 0 {
		delete(t.groups, filePath)
	}
}

// RemoveFile drops all findings for a path.
func (t *Tracker) RemoveFile(filePath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.groups, filePath)
}

// Findings returns a deep copy of the findings tracked for a path.
func (t *Tracker) Findings(filePath string) []*findings.Finding {
	t.mu.Lock()
	defer t.mu.Unlock()

	group, ok := t.groups[filePath]
	if !ok {
		return nil
	}
	return group.Clone().Findings
}

// Groups returns a deep copy of every tracked group.
func (t *Tracker) Groups() []*findings.FileFindingGroup {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*findings.FileFindingGroup, 0, len(t.groups))
	for _, g := range t.groups {
		out = append(out, g.Clone())
	}
	return out
}

// Ignore hides one finding by id and persists its title to the
// ignore-list.
func (t *Tracker) Ignore(ctx context.Context, findingID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, g := range t.groups {
		for _, f := range g.Findings {
			if f.ID == findingID {
				f.Visible = false
				if err := t.ignore.Add(f.Title); err != nil {
					t.logger.Error(ctx, "Failed to persist ignored title", "title", f.Title, "error", err)
				}
				return
			}
		}
	}
}

// IgnoreAllWithTitle hides every finding sharing the title and persists it.
func (t *Tracker) IgnoreAllWithTitle(ctx context.Context, title string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, g := range t.groups {
		for _, f := range g.Findings {
			if f.Title == title {
				f.Visible = false
			}
		}
	}
	if err := t.ignore.Add(title); err != nil {
		t.logger.Error(ctx, "Failed to persist ignored title", "title", title, "error", err)
	}
}

// OnDocumentChanged adjusts the edited file's findings:
//
//   - A finding whose range intersects the edit is soft-invalidated when
//     the edit carries non-whitespace content or is a pure deletion.
//     Whitespace-only intersections are left untouched.
//   - A finding entirely after the edited range shifts by the net line
//     delta, together with its embedded diff hunks and reference spans.
//   - A finding entirely before the edit is untouched.
//
// The delta sign and the intersection boundaries are the historically
// bug-prone part; the property tests pin them down.
func (t *Tracker) OnDocumentChanged(event ChangeEvent) {
	if len(event.Changes) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	group, ok := t.groups[event.FilePath]
	if !ok {
		return
	}

	edit := compose(event.Changes)
	invalidating := edit.isPureDeletion() || !edit.isWhitespaceOnly()

	for _, f := range group.Findings {
		switch {
		case edit.endLine <= f.StartLine:
			// Edit entirely before the finding, including an insertion at
			// its first line: shift by the net delta.
			if edit.delta != 0 {
				f.Shift(edit.delta)
			}

		case edit.startLine >= f.EndLine:
			// Edit entirely after the finding: nothing moves.

		case invalidating:
			f.Invalidate(edit.startLine)

		default:
			// Whitespace-only change inside the finding: reformatting must
			// not invalidate it.
		}
	}
}
