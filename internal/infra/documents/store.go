// Package documents tracks the host editor's open document buffers so the
// pipeline can scan live, unsaved content instead of stale on-disk files.
package documents

import (
	"os"
	"strings"
	"sync"
)

// Store exposes live document content to the pipeline. The host glue feeds
// it every open/change/close event; the pipeline only reads.
type Store interface {
	// LiveContent returns the in-memory buffer for path and whether the
	// document is currently open.
	LiveContent(path string) ([]byte, bool)

	// IsDirty reports whether the document at path is open with unsaved
	// changes.
	IsDirty(path string) bool
}

// document is one open editor buffer.
type document struct {
	content []byte
	dirty   bool
}

// MemoryStore is the in-memory Store implementation. It is safe for
// concurrent use; the host's event listener writes while scans read.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*document
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*document)}
}

// Open registers a document buffer, replacing any previous buffer for the
// same path.
func (s *MemoryStore) Open(path string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[path] = &document{content: append([]byte(nil), content...)}
}

// Update replaces the buffer for an open document and marks it dirty.
// Updating a document that was never opened implicitly opens it.
func (s *MemoryStore) Update(path string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[path] = &document{content: append([]byte(nil), content...), dirty: true}
}

// MarkSaved clears the dirty flag after the host persists the buffer.
func (s *MemoryStore) MarkSaved(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.docs[path]; ok {
		d.dirty = false
	}
}

// Close drops the buffer for a path.
func (s *MemoryStore) Close(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, path)
}

// LiveContent returns the buffered content for path, if open.
func (s *MemoryStore) LiveContent(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), d.content...), true
}

// IsDirty reports whether path is open with unsaved changes.
func (s *MemoryStore) IsDirty(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[path]
	return ok && d.dirty
}

// ReadLines returns the live lines for path when the document is open,
// falling back to the on-disk content otherwise.
func ReadLines(store Store, path string) ([]string, error) {
	if content, ok := store.LiveContent(path); ok {
		return splitLines(content), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return splitLines(data), nil
}

func splitLines(data []byte) []string {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	return strings.Split(text, "\n")
}
