package mcp

// Cache maps definition keys to definitions. It is replaced wholesale on
// every list refresh and keeps the order the server listed entries in.
// A Cache belongs to one Session and is not safe for concurrent use.
type Cache[V any] struct {
	key     func(V) string
	entries map[string]V
	order   []string
}

// NewCache returns an empty cache keyed by key.
func NewCache[V any](key func(V) string) *Cache[V] {
	return &Cache[V]{key: key, entries: map[string]V{}}
}

// Replace discards the cached entries and stores items. A later item
// replaces an earlier one with the same key.
func (c *Cache[V]) Replace(items []V) {
	c.entries = make(map[string]V, len(items))
	c.order = c.order[:0]
	for _, item := range items {
		k := c.key(item)
		if _, dup := c.entries[k]; !dup {
			c.order = append(c.order, k)
		}
		c.entries[k] = item
	}
}

// Get returns the entry stored under key.
func (c *Cache[V]) Get(key string) (V, bool) {
	v, ok := c.entries[key]
	return v, ok
}

// Values returns the cached entries in listing order.
func (c *Cache[V]) Values() []V {
	out := make([]V, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.entries[k])
	}
	return out
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int { return len(c.entries) }
