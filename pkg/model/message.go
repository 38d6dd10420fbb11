package model

import "time"

type SenderType string

const (
	SenderCustomer SenderType = "CUSTOMER"
	SenderAgent    SenderType = "AGENT"
	SenderSystem   SenderType = "SYSTEM"
)

type ConversationState string

const (
	StateOpen   ConversationState = "OPEN"
	StateClosed ConversationState = "CLOSED"
)

// Message is the durable unit of a conversation. Ids are snowflakes, so the
// (created_at, id) order and the id order agree.
type Message struct {
	ID             int64      `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderType     SenderType `json:"sender_type"`
	AgentID        string     `json:"agent_id,omitempty"`
	CustomerID     string     `json:"customer_id,omitempty"`
	SenderName     string     `json:"sender_name"`
	Body           string     `json:"body"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadByAgent    bool       `json:"read_by_agent"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

type Conversation struct {
	ID            string            `json:"id"`
	CustomerID    string            `json:"customer_id"`
	CustomerName  string            `json:"customer_name"`
	State         ConversationState `json:"state"`
	LastMessageAt time.Time         `json:"last_message_at"`
	CreatedAt     time.Time         `json:"created_at"`
}

// FromCustomer reports whether the message counts against the agent-facing
// unread counter.
func (m Message) FromCustomer() bool {
	return m.SenderType == SenderCustomer
}
