// ABOUTME: TTL cache over correlation ids that have already reached a terminal state.
// ABOUTME: Suppresses agent replays of command_response and transfer signals.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	stamp   time.Time
	element *list.Element
}

// Cache remembers recently resolved correlation ids so a replayed response
// can be dropped before it reaches the component logs. Size-bounded with
// oldest-first eviction; entries expire after the TTL.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache. A background goroutine drops expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Seen atomically checks whether the id was already recorded and records it
// if not. Returns true for a replay.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[id]; ok && time.Since(e.stamp) < c.ttl {
		return true
	}

	now := time.Now()
	if e, ok := c.seen[id]; ok {
		e.stamp = now
		c.order.MoveToBack(e.element)
		return false
	}
	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			old, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.seen, old)
		}
	}
	c.seen[id] = &entry{stamp: now, element: c.order.PushBack(id)}
	return false
}

// Len returns the number of tracked ids.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for id, e := range c.seen {
				if now.Sub(e.stamp) > c.ttl {
					c.order.Remove(e.element)
					delete(c.seen, id)
				}
			}
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
