package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/FlexpointLLC/linquo-sub000/pkg/model"
)

type fakeMember struct {
	id     string
	mu     sync.Mutex
	events []model.Event
}

func (f *fakeMember) ID() string { return f.id }

func (f *fakeMember) Deliver(ev model.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return true
}

func newTestRegistry() *Registry {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return NewRegistry(log)
}

func TestRegistry_JoinAndMembers(t *testing.T) {
	r := newTestRegistry()

	a := &fakeMember{id: "a"}
	b := &fakeMember{id: "b"}
	r.Register(a, Session{Role: model.SenderCustomer, DisplayName: "Eve", ConversationID: "c1"})
	r.Register(b, Session{Role: model.SenderAgent, DisplayName: "Dana", AgentID: "agent_1"})

	r.Join(a, "c1")
	r.Join(b, model.RoomAgents)
	r.Join(b, "c1")

	members := r.RoomMembers("c1")
	assert.Len(t, members, 2)
	assert.Len(t, r.RoomMembers(model.RoomAgents), 1)
	assert.True(t, r.InRoom("b", model.RoomAgents))
	assert.False(t, r.InRoom("a", model.RoomAgents))
}

func TestRegistry_JoinUnregisteredIsNoop(t *testing.T) {
	r := newTestRegistry()
	r.Join(&fakeMember{id: "ghost"}, "c1")
	assert.Empty(t, r.RoomMembers("c1"))
}

func TestRegistry_LeaveReturnsSessionAndRooms(t *testing.T) {
	r := newTestRegistry()

	a := &fakeMember{id: "a"}
	r.Register(a, Session{Role: model.SenderCustomer, DisplayName: "Eve", ConversationID: "c1"})
	r.Join(a, "c1")

	s, rooms := r.Leave(a)
	assert.Equal(t, "Eve", s.DisplayName)
	assert.Equal(t, []string{"c1"}, rooms)

	// Second leave is a no-op.
	_, rooms = r.Leave(a)
	assert.Nil(t, rooms)
}

func TestRegistry_EmptyRoomIsCollected(t *testing.T) {
	r := newTestRegistry()

	a := &fakeMember{id: "a"}
	r.Register(a, Session{Role: model.SenderCustomer, ConversationID: "c1"})
	r.Join(a, "c1")
	r.Leave(a)

	r.mu.RLock()
	_, exists := r.rooms["c1"]
	r.mu.RUnlock()
	assert.False(t, exists)
}

func TestRegistry_MemberSnapshotIsIsolated(t *testing.T) {
	r := newTestRegistry()

	a := &fakeMember{id: "a"}
	r.Register(a, Session{Role: model.SenderCustomer, ConversationID: "c1"})
	r.Join(a, "c1")

	snapshot := r.RoomMembers("c1")
	r.Leave(a)

	// The snapshot taken before the leave still holds the member; the
	// registry itself does not.
	assert.Len(t, snapshot, 1)
	assert.Empty(t, r.RoomMembers("c1"))
}

func TestRegistry_OpenConversationsDedupsByConversation(t *testing.T) {
	r := newTestRegistry()

	for i := 0; i < 3; i++ {
		m := &fakeMember{id: fmt.Sprintf("conn%d", i)}
		r.Register(m, Session{Role: model.SenderCustomer, DisplayName: "Eve", ConversationID: "c1"})
		r.Join(m, "c1")
	}
	agent := &fakeMember{id: "agent"}
	r.Register(agent, Session{Role: model.SenderAgent, AgentID: "agent_1"})
	r.Join(agent, model.RoomAgents)

	open := r.OpenConversations()
	assert.Len(t, open, 1)
	assert.Equal(t, "c1", open[0].ConversationID)
}

func TestMirrorKey_UsesStableIdentityNotDisplayName(t *testing.T) {
	// Two customers named "Alex" in the same room must not clobber each
	// other's online-set entries.
	alex1 := Session{Role: model.SenderCustomer, DisplayName: "Alex", CustomerID: "cust_1"}
	alex2 := Session{Role: model.SenderCustomer, DisplayName: "Alex", CustomerID: "cust_2"}

	assert.NotEqual(t, mirrorKey(alex1, "conn-a"), mirrorKey(alex2, "conn-b"))
	assert.Equal(t, "cust_1", mirrorKey(alex1, "conn-a"))

	agent := Session{Role: model.SenderAgent, DisplayName: "Alex", AgentID: "agent_9"}
	assert.Equal(t, "agent_9", mirrorKey(agent, "conn-c"))

	// A session with no stable identity yet falls back to the connection id.
	assert.Equal(t, "conn-d", mirrorKey(Session{DisplayName: "Alex"}, "conn-d"))
}

func TestRegistry_ConcurrentChurn(t *testing.T) {
	r := newTestRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := &fakeMember{id: fmt.Sprintf("conn%d", i)}
			room := fmt.Sprintf("c%d", i%5)
			r.Register(m, Session{Role: model.SenderCustomer, ConversationID: room})
			r.Join(m, room)
			r.RoomMembers(room)
			r.Leave(m)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		assert.Empty(t, r.RoomMembers(fmt.Sprintf("c%d", i)))
	}
}
