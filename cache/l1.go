package cache

import (
	"sync"
	"time"
)

// l1Cache is the ephemeral tier: an LRU map with per-entry expiry. Reads
// never mutate an entry; expired entries are reported as absent and removed
// lazily or by the sweep.
type l1Cache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*l1Node
	head     *l1Node
	tail     *l1Node
}

type l1Node struct {
	key   string
	entry *Entry
	prev  *l1Node
	next  *l1Node
}

func newL1Cache(capacity int) *l1Cache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &l1Cache{
		capacity: capacity,
		items:    make(map[string]*l1Node),
	}
}

func (c *l1Cache) get(key string, now time.Time) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if node.entry.Expired(now) {
		c.removeNode(node)
		delete(c.items, key)
		return nil, false
	}

	c.moveToHead(node)
	return node.entry, true
}

func (c *l1Cache) set(key string, entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.items[key]; ok {
		node.entry = entry
		c.moveToHead(node)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictTail()
	}

	node := &l1Node{key: key, entry: entry}
	c.items[key] = node
	c.addToHead(node)
}

func (c *l1Cache) delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeNode(node)
	delete(c.items, key)
	return true
}

func (c *l1Cache) purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.items)
	c.items = make(map[string]*l1Node)
	c.head = nil
	c.tail = nil
	return n
}

func (c *l1Cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// sweepExpired deletes every expired entry and returns how many were removed.
func (c *l1Cache) sweepExpired(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, node := range c.items {
		if node.entry.Expired(now) {
			c.removeNode(node)
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

func (c *l1Cache) addToHead(node *l1Node) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *l1Cache) removeNode(node *l1Node) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
}

func (c *l1Cache) moveToHead(node *l1Node) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.addToHead(node)
}

func (c *l1Cache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.items, c.tail.key)
	c.removeNode(c.tail)
}
