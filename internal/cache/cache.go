// Package cache holds the most recent completed pipeline results.
package cache

import (
	"sync"
	"sync/atomic"

	"github.com/couchcryptid/ndvi-trend-service/internal/domain"
)

// DefaultCapacity is used when a non-positive capacity is configured.
const DefaultCapacity = 8

// ResultCache stores completed results keyed by fingerprint. Readers load an
// immutable snapshot without locking, so a reader never observes a partially
// written result. Writers serialize on mu and evict the least recently
// published entry once capacity is exceeded.
type ResultCache struct {
	capacity int

	mu      sync.Mutex
	entries map[domain.Fingerprint]*entry
	head    *entry // most recently published
	tail    *entry // least recently published

	snap atomic.Pointer[snapshot]
}

type snapshot struct {
	results map[domain.Fingerprint]*domain.PipelineResult
	order   []domain.Fingerprint // most recent first
}

type entry struct {
	key   domain.Fingerprint
	value *domain.PipelineResult
	prev  *entry
	next  *entry
}

// New creates a cache holding up to capacity results.
func New(capacity int) *ResultCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &ResultCache{
		capacity: capacity,
		entries:  make(map[domain.Fingerprint]*entry),
	}
	c.snap.Store(&snapshot{results: map[domain.Fingerprint]*domain.PipelineResult{}})
	return c
}

// Capacity returns the maximum number of results held.
func (c *ResultCache) Capacity() int { return c.capacity }

// Get returns the result for fp, or domain.ErrNotReady when none has been
// published. The returned value is shared and must not be modified.
func (c *ResultCache) Get(fp domain.Fingerprint) (*domain.PipelineResult, error) {
	r, ok := c.snap.Load().results[fp]
	if !ok {
		return nil, domain.ErrNotReady
	}
	return r, nil
}

// Latest returns the most recently published result.
func (c *ResultCache) Latest() (*domain.PipelineResult, error) {
	s := c.snap.Load()
	if len(s.order) == 0 {
		return nil, domain.ErrNotReady
	}
	return s.results[s.order[0]], nil
}

// Len returns the number of cached results.
func (c *ResultCache) Len() int { return len(c.snap.Load().results) }

// Fingerprints lists cached keys, most recently published first.
func (c *ResultCache) Fingerprints() []domain.Fingerprint {
	return append([]domain.Fingerprint(nil), c.snap.Load().order...)
}

// Put publishes r, replacing any previous result for the same fingerprint.
// It returns the fingerprints evicted to stay within capacity.
func (c *ResultCache) Put(r *domain.PipelineResult) []domain.Fingerprint {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[r.Fingerprint]; ok {
		e.value = r
		c.moveToFront(e)
		c.publish()
		return nil
	}

	e := &entry{key: r.Fingerprint, value: r}
	c.entries[r.Fingerprint] = e
	c.addToFront(e)

	var evicted []domain.Fingerprint
	for len(c.entries) > c.capacity {
		evicted = append(evicted, c.tail.key)
		c.evictTail()
	}
	c.publish()
	return evicted
}

// publish swaps in a fresh snapshot. Callers hold mu.
func (c *ResultCache) publish() {
	s := &snapshot{
		results: make(map[domain.Fingerprint]*domain.PipelineResult, len(c.entries)),
		order:   make([]domain.Fingerprint, 0, len(c.entries)),
	}
	for e := c.head; e != nil; e = e.next {
		s.results[e.key] = e.value
		s.order = append(s.order, e.key)
	}
	c.snap.Store(s)
}

func (c *ResultCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *ResultCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *ResultCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *ResultCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
