package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FlexpointLLC/linquo-sub000/pkg/model"
)

func msg(id int64, conv string, at time.Time) model.Message {
	return model.Message{
		ID:             id,
		ConversationID: conv,
		SenderType:     model.SenderCustomer,
		Body:           "body",
		CreatedAt:      at,
	}
}

func pagedFetcher(all []model.Message, calls *int) FetchFunc {
	return func(_ context.Context, page, pageSize int) ([]model.Message, error) {
		if calls != nil {
			*calls++
		}
		lo := (page - 1) * pageSize
		if lo >= len(all) {
			return nil, nil
		}
		hi := lo + pageSize
		if hi > len(all) {
			hi = len(all)
		}
		return all[lo:hi], nil
	}
}

func TestCache_LoadPageCachesUntilStale(t *testing.T) {
	base := time.Now()
	all := []model.Message{msg(1, "c1", base), msg(2, "c1", base.Add(time.Second))}
	calls := 0
	c := NewCache("c1", 2, 5, time.Minute, pagedFetcher(all, &calls))

	first, err := c.LoadPage(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, first, 2)

	_, err = c.LoadPage(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "fresh page must not refetch")

	// Age the cache past the staleness threshold.
	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = c.LoadPage(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCache_LoadPagePropagatesFetchErrors(t *testing.T) {
	c := NewCache("c1", 2, 5, time.Minute, func(context.Context, int, int) ([]model.Message, error) {
		return nil, errors.New("store down")
	})
	_, err := c.LoadPage(context.Background(), 1)
	assert.Error(t, err)
}

func TestCache_EvictsLeastRecentlyFetchedPage(t *testing.T) {
	base := time.Now()
	var all []model.Message
	for i := int64(1); i <= 8; i++ {
		all = append(all, msg(i, "c1", base.Add(time.Duration(i)*time.Second)))
	}
	c := NewCache("c1", 2, 2, time.Hour, pagedFetcher(all, nil))

	now := base
	c.now = func() time.Time { return now }

	for page := 1; page <= 3; page++ {
		now = now.Add(time.Second)
		_, err := c.LoadPage(context.Background(), page)
		require.NoError(t, err)
	}

	assert.Len(t, c.pages, 2)
	_, page1Cached := c.pages[1]
	assert.False(t, page1Cached, "page 1 was fetched first and should be evicted")

	// Evicted rows left the merged view.
	view := c.Messages()
	assert.Len(t, view, 4)
	assert.Equal(t, int64(3), view[0].ID)
}

func TestCache_MergeIsIdempotent(t *testing.T) {
	c := NewCache("c1", 50, 5, time.Minute, pagedFetcher(nil, nil))

	m := msg(10, "c1", time.Now())
	assert.True(t, c.Merge(m))
	assert.False(t, c.Merge(m), "same id via live + reconciliation must be a no-op")

	view := c.Messages()
	require.Len(t, view, 1)
	assert.Equal(t, int64(10), view[0].ID)
}

func TestCache_MergeDedupsAgainstFetchedPages(t *testing.T) {
	base := time.Now()
	all := []model.Message{msg(1, "c1", base)}
	c := NewCache("c1", 50, 5, time.Minute, pagedFetcher(all, nil))

	_, err := c.LoadPage(context.Background(), 1)
	require.NoError(t, err)

	assert.False(t, c.Merge(msg(1, "c1", base)))
	assert.Len(t, c.Messages(), 1)
}

func TestCache_MergeIgnoresOtherConversations(t *testing.T) {
	c := NewCache("c1", 50, 5, time.Minute, pagedFetcher(nil, nil))
	assert.False(t, c.Merge(msg(1, "c2", time.Now())))
	assert.Empty(t, c.Messages())
}

func TestCache_MergedMessagesStayWithinPageBudget(t *testing.T) {
	base := time.Now()
	c := NewCache("c1", 2, 2, time.Hour, pagedFetcher(nil, nil))

	now := base
	c.now = func() time.Time { now = now.Add(time.Second); return now }

	// A long-lived session keeps merging live events; the budget must hold.
	for i := int64(1); i <= 100; i++ {
		c.Merge(msg(i, "c1", base.Add(time.Duration(i)*time.Millisecond)))
	}

	assert.LessOrEqual(t, len(c.pages), 2)
	view := c.Messages()
	assert.LessOrEqual(t, len(view), 4)

	// The retained tail is the most recent rows, in order.
	require.NotEmpty(t, view)
	assert.Equal(t, int64(100), view[len(view)-1].ID)
	assert.Equal(t, int64(100), c.HighWaterMark())
}

// Two rapid messages end up in order regardless of how delivery interleaved
// them.
func TestCache_ViewOrderedRegardlessOfArrival(t *testing.T) {
	base := time.Now()
	c := NewCache("c1", 50, 5, time.Minute, pagedFetcher(nil, nil))

	m1 := msg(1, "c1", base)
	m2 := msg(2, "c1", base.Add(time.Millisecond))

	// M2 arrives first.
	c.Merge(m2)
	c.Merge(m1)

	view := c.Messages()
	require.Len(t, view, 2)
	assert.Equal(t, int64(1), view[0].ID)
	assert.Equal(t, int64(2), view[1].ID)
}

func TestCache_SameTimestampOrdersByID(t *testing.T) {
	at := time.Now()
	c := NewCache("c1", 50, 5, time.Minute, pagedFetcher(nil, nil))
	c.Merge(msg(2, "c1", at))
	c.Merge(msg(1, "c1", at))

	view := c.Messages()
	assert.Equal(t, int64(1), view[0].ID)
	assert.Equal(t, int64(2), view[1].ID)
}

// Live delivery missed a message; reconciliation merges it in exactly once
// even when the live copy eventually shows up too.
func TestCache_ConvergesAfterReconciliation(t *testing.T) {
	base := time.Now()
	c := NewCache("c1", 50, 5, time.Minute, pagedFetcher(nil, nil))

	m1 := msg(1, "c1", base)
	m2 := msg(2, "c1", base.Add(time.Second))

	c.Merge(m2)                     // live delivery of M2 only
	assert.True(t, c.Merge(m1))     // reconciliation recovers M1
	assert.False(t, c.Merge(m1))    // late duplicate live delivery of M1

	view := c.Messages()
	require.Len(t, view, 2)
	assert.Equal(t, int64(1), view[0].ID)
	assert.Equal(t, int64(2), c.HighWaterMark())
}
