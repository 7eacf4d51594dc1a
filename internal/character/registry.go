package character

import (
	"log/slog"
	"sync"
)

// Registry is an in-process cache of characters keyed by content hash.
// Entries are only ever added, never evicted or replaced: a duplicate insert
// of an already-present hash keeps the first instance, so concurrent
// cache-miss loads of the same character converge on one value.
type Registry struct {
	mu         sync.RWMutex
	characters map[string]*Character
	logger     *slog.Logger
}

// NewRegistry creates an empty character registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		characters: make(map[string]*Character),
		logger:     logger,
	}
}

// Get returns the character with the given hash, if cached.
func (r *Registry) Get(hash string) (*Character, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.characters[hash]
	return c, ok
}

// GetOrAdd inserts the character under its content hash unless an entry
// already exists, and returns the registered instance.
func (r *Registry) GetOrAdd(c *Character) *Character {
	hash := c.Hash()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.characters[hash]; ok {
		return existing
	}
	r.characters[hash] = c
	r.logger.Debug("character registered",
		slog.String("name", c.Name),
		slog.String("hash", hash),
	)
	return c
}

// Contains reports whether a character with the given hash is cached.
func (r *Registry) Contains(hash string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.characters[hash]
	return ok
}

// Len returns the number of cached characters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.characters)
}
