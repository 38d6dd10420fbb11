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

// Marking a conversation read flips exactly the unread customer rows and
// drives the counter to zero.
func TestReadState_MarkConversationRead(t *testing.T) {
	base := time.Now()
	c := NewCache("c1", 50, 5, time.Minute, pagedFetcher(nil, nil))

	c.Merge(msg(1, "c1", base))
	c.Merge(msg(2, "c1", base.Add(time.Second)))
	c.Merge(msg(3, "c1", base.Add(2*time.Second)))
	agentMsg := msg(4, "c1", base.Add(3*time.Second))
	agentMsg.SenderType = model.SenderAgent
	c.Merge(agentMsg)

	var persisted []int64
	rs := NewReadState(c, func(_ context.Context, convID string, ids []int64) error {
		assert.Equal(t, "c1", convID)
		persisted = ids
		return nil
	})

	assert.Equal(t, 3, rs.UnreadCount())
	require.NoError(t, rs.MarkConversationRead(context.Background()))

	assert.Equal(t, []int64{1, 2, 3}, persisted, "agent's own message is never a receipt target")
	assert.Zero(t, rs.UnreadCount())
	for _, m := range c.Messages()[:3] {
		assert.True(t, m.ReadByAgent)
		assert.NotNil(t, m.ReadAt)
	}
}

func TestReadState_NothingUnreadIsNoop(t *testing.T) {
	c := NewCache("c1", 50, 5, time.Minute, pagedFetcher(nil, nil))
	called := false
	rs := NewReadState(c, func(context.Context, string, []int64) error {
		called = true
		return nil
	})

	require.NoError(t, rs.MarkConversationRead(context.Background()))
	assert.False(t, called)
}

func TestReadState_PersistErrorLeavesViewUntouched(t *testing.T) {
	c := NewCache("c1", 50, 5, time.Minute, pagedFetcher(nil, nil))
	c.Merge(msg(1, "c1", time.Now()))

	rs := NewReadState(c, func(context.Context, string, []int64) error {
		return errors.New("store down")
	})

	assert.Error(t, rs.MarkConversationRead(context.Background()))
	assert.Equal(t, 1, rs.UnreadCount())
	assert.False(t, c.Messages()[0].ReadByAgent)
}

func TestTrigger_FiresOnceOnZeroToPositiveEdge(t *testing.T) {
	fired := 0
	tr := NewTrigger(NotifierFunc(func(conversationID string, unread int) {
		fired++
		assert.Equal(t, "c1", conversationID)
	}))

	tr.Observe("c1", 0)
	tr.Observe("c1", 1) // edge
	tr.Observe("c1", 2) // level change, no edge
	tr.Observe("c1", 5)
	assert.Equal(t, 1, fired)

	tr.Observe("c1", 0) // re-arm
	tr.Observe("c1", 3) // edge again
	assert.Equal(t, 2, fired)
}

func TestTrigger_FocusedConversationIsSilent(t *testing.T) {
	fired := 0
	tr := NewTrigger(NotifierFunc(func(string, int) { fired++ }))
	tr.Focus("c1")

	tr.Observe("c1", 0)
	tr.Observe("c1", 4)
	assert.Zero(t, fired)

	// A different conversation still fires.
	tr.Observe("c2", 0)
	tr.Observe("c2", 1)
	assert.Equal(t, 1, fired)
}

func TestTrigger_FirstObservationWithBacklogFires(t *testing.T) {
	fired := 0
	tr := NewTrigger(NotifierFunc(func(string, int) { fired++ }))

	// Dashboard opens onto a conversation that already has unread rows.
	tr.Observe("c1", 7)
	assert.Equal(t, 1, fired)

	tr.Observe("c1", 8)
	assert.Equal(t, 1, fired, "still armed-off until the counter returns to zero")
}
