package model

import (
	"encoding/json"
	"time"
)

// Wire protocol event names. Inbound events come from widget or dashboard
// connections; outbound events are fanned out to room members.
const (
	EventJoinCustomer = "join-customer"
	EventJoinAgent    = "join-agent"
	EventJoinSession  = "join-session"
	EventSendMessage  = "send-message"
	EventTyping       = "typing"
	EventStopTyping   = "stop-typing"

	EventSessionCreated  = "session-created"
	EventActiveSessions  = "active-sessions"
	EventAuthError       = "auth-error"
	EventNewMessage      = "new-message"
	EventMessageError    = "message-error"
	EventUserTyping      = "user-typing"
	EventUserStopTyping  = "user-stop-typing"
	EventCustomerJoined  = "customer-joined"
	EventCustomerLeft    = "customer-left"
	EventCustomerMessage = "customer-message"
	EventSessionUpdated  = "session-updated"
)

// RoomAgents is the implicit room every authenticated agent joins. It carries
// presence and per-conversation summaries, not full message bodies.
const RoomAgents = "agents"

// Event is the envelope for everything crossing a connection.
type Event struct {
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEvent(name string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Payload: raw}, nil
}

type JoinCustomer struct {
	DisplayName    string `json:"display_name"`
	ConversationID string `json:"conversation_id,omitempty"` // reuse on reconnect
}

type JoinAgent struct {
	AgentID     string `json:"agent_id"`
	DisplayName string `json:"display_name"`
	AuthToken   string `json:"auth_token"`
}

type JoinSession struct {
	ConversationID string `json:"conversation_id"`
}

type SendMessage struct {
	ConversationID string `json:"conversation_id"`
	Body           string `json:"body"`
}

type Typing struct {
	ConversationID string `json:"conversation_id"`
}

type SessionCreated struct {
	ConversationID string `json:"conversation_id"`
}

type ActiveSession struct {
	ConversationID string            `json:"conversation_id"`
	CustomerName   string            `json:"customer_name"`
	Status         ConversationState `json:"status"`
	UnreadCount    int               `json:"unread_count"`
	LastMessageAt  time.Time         `json:"last_message_at"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type UserTyping struct {
	ConversationID string     `json:"conversation_id"`
	Actor          string     `json:"actor"`
	ActorRole      SenderType `json:"actor_role"`
}

type CustomerPresence struct {
	ConversationID string    `json:"conversation_id"`
	CustomerName   string    `json:"customer_name"`
	Timestamp      time.Time `json:"timestamp,omitempty"`
}

// CustomerMessage is the lightweight summary agents receive for activity on
// conversations they have not joined.
type CustomerMessage struct {
	ConversationID string    `json:"conversation_id"`
	CustomerName   string    `json:"customer_name"`
	Preview        string    `json:"preview"`
	MessageID      int64     `json:"message_id"`
	CreatedAt      time.Time `json:"created_at"`
}

type SessionUpdated struct {
	ConversationID string            `json:"conversation_id"`
	Status         ConversationState `json:"status"`
}
