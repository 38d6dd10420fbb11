package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/FlexpointLLC/linquo-sub000/pkg/model"
)

// CreateConversation opens a conversation for a customer. The id is opaque
// and stable across reconnects; widgets hold on to it.
func (s *Store) CreateConversation(ctx context.Context, customerName string) (model.Conversation, error) {
	conv := model.Conversation{
		ID:           uuid.New().String(),
		CustomerID:   uuid.New().String(),
		CustomerName: customerName,
		State:        model.StateOpen,
		CreatedAt:    time.Now(),
	}
	conv.LastMessageAt = conv.CreatedAt

	err := s.db.Query(
		`INSERT INTO conversations (id, customer_id, customer_name, state, last_message_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.CustomerID, conv.CustomerName, string(conv.State), conv.LastMessageAt, conv.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return model.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	var conv model.Conversation
	var state string
	err := s.db.Query(
		`SELECT id, customer_id, customer_name, state, last_message_at, created_at FROM conversations WHERE id = ?`,
		id,
	).WithContext(ctx).Scan(&conv.ID, &conv.CustomerID, &conv.CustomerName, &state, &conv.LastMessageAt, &conv.CreatedAt)
	if err == gocql.ErrNotFound {
		return model.Conversation{}, ErrNotFound
	}
	if err != nil {
		return model.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	conv.State = model.ConversationState(state)
	return conv, nil
}

// SetState resolves or reopens a conversation.
func (s *Store) SetState(ctx context.Context, id string, state model.ConversationState) error {
	if _, err := s.GetConversation(ctx, id); err != nil {
		return err
	}
	err := s.db.Query(
		`UPDATE conversations SET state = ? WHERE id = ?`,
		string(state), id,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("set conversation state: %w", err)
	}
	return nil
}

// ListOpenConversations returns OPEN conversations, most recent activity
// first. Support workloads keep this table small enough for a scan.
func (s *Store) ListOpenConversations(ctx context.Context) ([]model.Conversation, error) {
	iter := s.db.Query(
		`SELECT id, customer_id, customer_name, state, last_message_at, created_at FROM conversations`,
	).WithContext(ctx).Iter()

	var out []model.Conversation
	var conv model.Conversation
	var state string
	for iter.Scan(&conv.ID, &conv.CustomerID, &conv.CustomerName, &state, &conv.LastMessageAt, &conv.CreatedAt) {
		if model.ConversationState(state) != model.StateOpen {
			continue
		}
		conv.State = model.StateOpen
		out = append(out, conv)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list open conversations: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}
