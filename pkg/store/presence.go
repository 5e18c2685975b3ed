package store

import (
	"context"
	"fmt"
	"sync"
)

// Presence is the in-memory view of the durable presence list, backed by a
// Store. Mutations are serialized and written through to the backend before
// they return. When a write fails the in-memory state is kept and the error
// is returned; the next successful write persists the full list again.
type Presence struct {
	mu      sync.Mutex
	backend Store
	names   []string
	index   map[string]struct{}
}

// NewPresence loads the persisted list from backend. Duplicate entries in
// the backend are collapsed, keeping the first occurrence.
func NewPresence(ctx context.Context, backend Store) (*Presence, error) {
	loaded, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: presence: %w", err)
	}
	p := &Presence{
		backend: backend,
		names:   make([]string, 0, len(loaded)),
		index:   make(map[string]struct{}, len(loaded)),
	}
	for _, name := range loaded {
		if name == "" {
			continue
		}
		if _, ok := p.index[name]; ok {
			continue
		}
		p.index[name] = struct{}{}
		p.names = append(p.names, name)
	}
	return p, nil
}

// Add appends name if absent and persists the list. It reports whether the
// name was newly added; adding an existing name is a no-op without a write.
func (p *Presence) Add(ctx context.Context, name string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.index[name]; ok {
		return false, nil
	}
	p.index[name] = struct{}{}
	p.names = append(p.names, name)
	if err := p.backend.Save(ctx, p.names); err != nil {
		return true, err
	}
	return true, nil
}

// Remove deletes name if present and persists the list. It reports whether
// the name was present.
func (p *Presence) Remove(ctx context.Context, name string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.index[name]; !ok {
		return false, nil
	}
	delete(p.index, name)
	for i, n := range p.names {
		if n == name {
			p.names = append(p.names[:i], p.names[i+1:]...)
			break
		}
	}
	if err := p.backend.Save(ctx, p.names); err != nil {
		return true, err
	}
	return true, nil
}

// Merge adds every name not yet present, in order, with a single write.
// It returns the number of names added.
func (p *Presence) Merge(ctx context.Context, names []string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	added := 0
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, ok := p.index[name]; ok {
			continue
		}
		p.index[name] = struct{}{}
		p.names = append(p.names, name)
		added++
	}
	if added == 0 {
		return 0, nil
	}
	if err := p.backend.Save(ctx, p.names); err != nil {
		return added, err
	}
	return added, nil
}

// Contains reports whether name is in the list.
func (p *Presence) Contains(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.index[name]
	return ok
}

// List returns a copy of the list in insertion order.
func (p *Presence) List() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Len returns the number of names in the list.
func (p *Presence) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.names)
}

// Close closes the backend.
func (p *Presence) Close() error {
	return p.backend.Close()
}
