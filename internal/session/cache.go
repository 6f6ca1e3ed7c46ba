package session

import (
	"errors"
	"sync"
)

// ErrNotCached is returned when backward navigation requests a question
// that was never fetched. It is a user-visible error, never a trigger for
// a new fetch: moving backward is a pure cache read.
var ErrNotCached = errors.New("session: question not available")

// Cache is the append-only question cache. Once a question is stored it is
// never replaced or evicted for the lifetime of the attempt.
type Cache struct {
	mu        sync.RWMutex
	questions map[int]*Question
}

// NewCache creates an empty question cache.
func NewCache() *Cache {
	return &Cache{questions: make(map[int]*Question)}
}

// Put stores a question. The first write for a number wins; later writes
// of the same number are ignored to keep the cache append-only.
func (c *Cache) Put(q *Question) {
	if q == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.questions[q.Number]; !exists {
		c.questions[q.Number] = q
	}
}

// Get returns the cached question, or ErrNotCached.
func (c *Cache) Get(number int) (*Question, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.questions[number]
	if !ok {
		return nil, ErrNotCached
	}
	return q, nil
}

// Has reports whether a question number is cached.
func (c *Cache) Has(number int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.questions[number]
	return ok
}

// Len returns the number of cached questions.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.questions)
}
