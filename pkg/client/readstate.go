package client

import (
	"context"
	"fmt"
)

// MarkReadFunc persists read receipts; the REST layer supplies it.
type MarkReadFunc func(ctx context.Context, conversationID string, messageIDs []int64) error

// ReadState computes read receipts and the unread counter over the cache's
// merged view. The counter is always derived, never stored.
type ReadState struct {
	cache    *Cache
	markRead MarkReadFunc
}

func NewReadState(cache *Cache, markRead MarkReadFunc) *ReadState {
	return &ReadState{cache: cache, markRead: markRead}
}

// UnreadCount is the number of customer messages the agent has not read.
func (r *ReadState) UnreadCount() int {
	n := 0
	for _, m := range r.cache.Messages() {
		if m.FromCustomer() && !m.ReadByAgent {
			n++
		}
	}
	return n
}

// MarkConversationRead persists receipts for every unread customer message,
// then optimistically updates the local view. On error the local view is
// untouched; the next render retries.
func (r *ReadState) MarkConversationRead(ctx context.Context) error {
	var ids []int64
	for _, m := range r.cache.Messages() {
		if m.FromCustomer() && !m.ReadByAgent {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	if err := r.markRead(ctx, r.cache.conversationID, ids); err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}
	r.cache.markRead(ids)
	return nil
}
