package results

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// IgnoreList is the persisted set of finding titles the user has suppressed.
// The pipeline reads it; mutation happens through the tracker's dismissal
// accessors, which write through to disk.
type IgnoreList struct {
	mu     sync.RWMutex
	path   string
	titles map[string]struct{}
}

// ignoreFile is the on-disk YAML shape.
type ignoreFile struct {
	IgnoredTitles []string `yaml:"ignored_titles"`
}

// NewIgnoreList creates an empty list persisted at path. An empty path
// keeps the list memory-only.
func NewIgnoreList(path string) *IgnoreList {
	return &IgnoreList{path: path, titles: make(map[string]struct{})}
}

// Load reads the persisted titles. A missing file is an empty list, not an
// error.
func (l *IgnoreList) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.path == "" {
		return nil
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read ignore list: %w", err)
	}

	var f ignoreFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse ignore list: %w", err)
	}
	l.titles = make(map[string]struct{}, len(f.IgnoredTitles))
	for _, t := range f.IgnoredTitles {
		l.titles[t] = struct{}{}
	}
	return nil
}

// Contains reports whether the title is suppressed.
func (l *IgnoreList) Contains(title string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.titles[title]
	return ok
}

// Add suppresses a title and persists the list.
func (l *IgnoreList) Add(title string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.titles[title] = struct{}{}
	return l.saveLocked()
}

func (l *IgnoreList) saveLocked() error {
	if l.path == "" {
		return nil
	}
	f := ignoreFile{IgnoredTitles: make([]string, 0, len(l.titles))}
	for t := range l.titles {
		f.IgnoredTitles = append(f.IgnoredTitles, t)
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal ignore list: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write ignore list: %w", err)
	}
	return nil
}
