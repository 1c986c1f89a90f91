// Package cache provides a content-addressed, byte-bounded LRU cache of
// interpretations.
package cache

import (
	"container/list"
	"strconv"
	"sync"

	"github.com/book-expert/interpretation-service/internal/core"
	"github.com/cespare/xxhash/v2"
)

// Default sizing.
const (
	DefaultMaxSizeBytes       = 50 * 1024 * 1024
	DefaultEntryOverheadBytes = 500
)

const keySeparator = "\x00"

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Entries            int     `json:"entries"`
	SizeBytes          int64   `json:"size_bytes"`
	MaxSizeBytes       int64   `json:"max_size_bytes"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

type entry struct {
	key       string
	value     core.Interpretation
	sizeBytes int64
}

// Cache is a strict LRU bounded by the approximate byte size of its values.
// Entries never expire; they leave only through eviction or Clear.
type Cache struct {
	mu            sync.Mutex
	order         *list.List
	items         map[string]*list.Element
	sizeBytes     int64
	maxSizeBytes  int64
	entryOverhead int64
}

// New creates a Cache. Non-positive arguments select the defaults.
func New(maxSizeBytes, entryOverheadBytes int64) *Cache {
	if maxSizeBytes <= 0 {
		maxSizeBytes = DefaultMaxSizeBytes
	}

	if entryOverheadBytes <= 0 {
		entryOverheadBytes = DefaultEntryOverheadBytes
	}

	return &Cache{
		mu:            sync.Mutex{},
		order:         list.New(),
		items:         make(map[string]*list.Element),
		sizeBytes:     0,
		maxSizeBytes:  maxSizeBytes,
		entryOverhead: entryOverheadBytes,
	}
}

// Key derives the cache key of a generation. It is sensitive to every byte of
// text, including surrounding whitespace.
func Key(text, personaID string, op core.OperationType) string {
	digest := xxhash.New()

	_, _ = digest.WriteString(personaID)
	_, _ = digest.WriteString(keySeparator)
	_, _ = digest.WriteString(string(op))
	_, _ = digest.WriteString(keySeparator)
	_, _ = digest.WriteString(text)

	return strconv.FormatUint(digest.Sum64(), 16)
}

// Get returns the cached interpretation and marks it most recently used.
func (c *Cache) Get(text, personaID string, op core.OperationType) (core.Interpretation, bool) {
	key := Key(text, personaID, op)

	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		return core.Interpretation{}, false
	}

	c.order.MoveToFront(element)

	cached, _ := element.Value.(*entry)

	return cached.value, true
}

// Set stores interpretation, replacing any previous value, then evicts least
// recently used entries until the tracked size fits the budget. A value larger
// than the whole budget is evicted immediately.
func (c *Cache) Set(text, personaID string, op core.OperationType, interpretation core.Interpretation) {
	key := Key(text, personaID, op)
	size := int64(len(interpretation.Content)) + c.entryOverhead

	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.items[key]; ok {
		c.remove(element)
	}

	c.items[key] = c.order.PushFront(&entry{key: key, value: interpretation, sizeBytes: size})
	c.sizeBytes += size

	for c.sizeBytes > c.maxSizeBytes {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}

		c.remove(oldest)
	}
}

func (c *Cache) remove(element *list.Element) {
	removed, _ := c.order.Remove(element).(*entry)
	delete(c.items, removed.key)
	c.sizeBytes -= removed.sizeBytes
}

// Has reports whether a value is cached without touching recency.
func (c *Cache) Has(text, personaID string, op core.OperationType) bool {
	key := Key(text, personaID, op)

	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.items[key]

	return ok
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.items = make(map[string]*list.Element)
	c.sizeBytes = 0
}

// Stats reports the current usage.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Entries:            len(c.items),
		SizeBytes:          c.sizeBytes,
		MaxSizeBytes:       c.maxSizeBytes,
		UtilizationPercent: float64(c.sizeBytes) / float64(c.maxSizeBytes) * 100,
	}
}
