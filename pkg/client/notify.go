package client

// Notifier receives user-facing signals: play a tone, change the tab title,
// bump a badge. The UI supplies the implementation.
type Notifier interface {
	Notify(conversationID string, unread int)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(conversationID string, unread int)

func (f NotifierFunc) Notify(conversationID string, unread int) { f(conversationID, unread) }

// Trigger fires on unread-counter edges, not levels: a conversation whose
// counter goes 0 to N fires once, stays silent while the counter moves
// between nonzero values, and re-arms only after the counter returns to 0.
// The currently focused conversation never fires.
type Trigger struct {
	notifier Notifier
	focused  string
	armed    map[string]bool
}

func NewTrigger(notifier Notifier) *Trigger {
	return &Trigger{notifier: notifier, armed: make(map[string]bool)}
}

// Focus marks the conversation the user is looking at.
func (t *Trigger) Focus(conversationID string) {
	t.focused = conversationID
}

// Observe feeds the current unread count for a conversation. Counts come
// from ReadState.UnreadCount or the active-sessions snapshot.
func (t *Trigger) Observe(conversationID string, unread int) {
	if _, ok := t.armed[conversationID]; !ok {
		// First observation arms only from zero; joining with history
		// already unread counts as a fresh transition.
		t.armed[conversationID] = true
	}

	if unread == 0 {
		t.armed[conversationID] = true
		return
	}

	if !t.armed[conversationID] {
		return
	}
	t.armed[conversationID] = false

	if conversationID == t.focused {
		return
	}
	t.notifier.Notify(conversationID, unread)
}
