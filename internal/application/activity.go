// File: internal/application/activity.go
package application

import (
	"container/list"
	"sync"
	"time"
)

// activityCache keeps the last-activity time per user of one bot session.
// It is bounded: when full the least recently active user is dropped.
type activityCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recent
	items    map[string]*list.Element
}

type activityEntry struct {
	userID string
	at     time.Time
}

func newActivityCache(capacity int) *activityCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &activityCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *activityCache) Touch(userID string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[userID]; ok {
		e := el.Value.(*activityEntry)
		if at.After(e.at) {
			e.at = at
		}
		c.order.MoveToFront(el)
		return
	}
	c.items[userID] = c.order.PushFront(&activityEntry{userID: userID, at: at})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*activityEntry).userID)
	}
}

func (c *activityCache) LastSeen(userID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[userID]
	if !ok {
		return time.Time{}, false
	}
	return el.Value.(*activityEntry).at, true
}

func (c *activityCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// EvictBefore drops every entry last seen strictly before cutoff.
func (c *activityCache) EvictBefore(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*activityEntry)
		if e.at.Before(cutoff) {
			c.order.Remove(el)
			delete(c.items, e.userID)
			removed++
		}
		el = prev
	}
	return removed
}
