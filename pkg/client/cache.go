package client

import (
	"context"
	"sort"
	"time"

	"github.com/FlexpointLLC/linquo-sub000/pkg/model"
)

// FetchFunc loads one page of history from the store, ascending order.
type FetchFunc func(ctx context.Context, page, pageSize int) ([]model.Message, error)

type cachedPage struct {
	messages  []model.Message
	fetchedAt time.Time
}

// Cache is the per-conversation merged view: historical pages, live events
// and reconciliation events, deduplicated by message id. It is owned by a
// single goroutine (the UI loop) and needs no locking.
type Cache struct {
	conversationID string
	pageSize       int
	maxPages       int
	staleness      time.Duration
	fetch          FetchFunc

	pages map[int]*cachedPage

	now func() time.Time
}

func NewCache(conversationID string, pageSize, maxPages int, staleness time.Duration, fetch FetchFunc) *Cache {
	return &Cache{
		conversationID: conversationID,
		pageSize:       pageSize,
		maxPages:       maxPages,
		staleness:      staleness,
		fetch:          fetch,
		pages:          make(map[int]*cachedPage),
		now:            time.Now,
	}
}

// LoadPage returns page n, fetching it unless a fresh copy is cached. Pages
// are 1-based. When the page budget is exceeded the least recently fetched
// page is evicted.
func (c *Cache) LoadPage(ctx context.Context, n int) ([]model.Message, error) {
	if p, ok := c.pages[n]; ok && c.now().Sub(p.fetchedAt) < c.staleness {
		return p.messages, nil
	}

	msgs, err := c.fetch(ctx, n, c.pageSize)
	if err != nil {
		return nil, err
	}
	c.pages[n] = &cachedPage{messages: msgs, fetchedAt: c.now()}
	c.evict()
	return msgs, nil
}

func (c *Cache) evict() {
	for len(c.pages) > c.maxPages {
		oldest := -1
		var oldestAt time.Time
		for n, p := range c.pages {
			if oldest == -1 || p.fetchedAt.Before(oldestAt) {
				oldest = n
				oldestAt = p.fetchedAt
			}
		}
		delete(c.pages, oldest)
	}
}

// Merge inserts a live or reconciliation event into the most recent page,
// rolling over to a new page once it fills. Merged rows therefore live under
// the same page budget as fetched history. An id already present anywhere is
// a no-op; this is what makes at-least-once delivery safe.
func (c *Cache) Merge(msg model.Message) bool {
	if msg.ConversationID != c.conversationID {
		return false
	}
	if c.has(msg.ID) {
		return false
	}

	n := c.newestPage()
	if n == 0 || len(c.pages[n].messages) >= c.pageSize {
		n++
		c.pages[n] = &cachedPage{fetchedAt: c.now()}
	}
	c.pages[n].messages = append(c.pages[n].messages, msg)
	c.evict()
	return true
}

func (c *Cache) newestPage() int {
	newest := 0
	for n := range c.pages {
		if n > newest {
			newest = n
		}
	}
	return newest
}

func (c *Cache) has(id int64) bool {
	for _, p := range c.pages {
		for _, m := range p.messages {
			if m.ID == id {
				return true
			}
		}
	}
	return false
}

// Messages returns the merged, sorted, deduplicated view.
func (c *Cache) Messages() []model.Message {
	var out []model.Message
	seen := make(map[int64]bool)

	add := func(msgs []model.Message) {
		for _, m := range msgs {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	for _, p := range c.pages {
		add(p.messages)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// HighWaterMark is the largest message id in the view, used as the
// reconciliation cursor.
func (c *Cache) HighWaterMark() int64 {
	var max int64
	for _, m := range c.Messages() {
		if m.ID > max {
			max = m.ID
		}
	}
	return max
}

// markRead flips the local read flags after the store confirmed the write.
func (c *Cache) markRead(ids []int64) {
	idset := make(map[int64]bool, len(ids))
	for _, id := range ids {
		idset[id] = true
	}
	now := c.now()
	flip := func(msgs []model.Message) {
		for i := range msgs {
			if idset[msgs[i].ID] {
				msgs[i].ReadByAgent = true
				t := now
				msgs[i].ReadAt = &t
			}
		}
	}
	for _, p := range c.pages {
		flip(p.messages)
	}
}
