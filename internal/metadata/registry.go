package metadata

import (
	"sync"
	"time"
)

// Document describes the metadata document an Index was built from.
type Document struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Hash     string    `json:"hash"`
	Raw      any       `json:"-"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Registry holds the active document and its index. Readers get a consistent
// pair; Load swaps both at once.
type Registry struct {
	mu    sync.RWMutex
	doc   *Document
	index *Index
}

func NewRegistry() *Registry {
	return &Registry{index: emptyIndex()}
}

func emptyIndex() *Index {
	return Parse(map[string]any{"sources": []any{}})
}

// Index returns the active index. It is never nil.
func (r *Registry) Index() *Index {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index
}

// Document returns the active document, or nil if none was loaded.
func (r *Registry) Document() *Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.doc
}

// Current returns the active document and index together.
func (r *Registry) Current() (*Document, *Index) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.doc, r.index
}

// Load replaces the active document and index.
func (r *Registry) Load(doc *Document, ix *Index) {
	if ix == nil {
		ix = emptyIndex()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc = doc
	r.index = ix
}

// Reset drops the active document.
func (r *Registry) Reset() {
	r.Load(nil, nil)
}
