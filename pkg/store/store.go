package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/FlexpointLLC/linquo-sub000/pkg/db"
	"github.com/FlexpointLLC/linquo-sub000/pkg/metrics"
	"github.com/FlexpointLLC/linquo-sub000/pkg/model"
	"github.com/FlexpointLLC/linquo-sub000/pkg/snowflake"
)

var ErrNotFound = errors.New("conversation not found")

const lockStripes = 64

// Store is the durable, ordered message store. Appends for one conversation
// are serialized through a lock stripe so the (created_at, id) order assigned
// here is the order rows land in.
type Store struct {
	db        *db.Session
	ids       *snowflake.Node
	changelog *kafka.Writer
	log       *logrus.Logger
	metrics   *metrics.Metrics
	locks     [lockStripes]sync.Mutex
}

func New(session *db.Session, ids *snowflake.Node, log *logrus.Logger, m *metrics.Metrics) *Store {
	return &Store{db: session, ids: ids, log: log, metrics: m}
}

// WithChangelog emits every committed message to a Kafka topic, keyed by
// conversation so per-conversation order survives partitioning. The
// reconciliation feed consumes this topic.
func (s *Store) WithChangelog(brokers []string, topic string) *Store {
	s.changelog = &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
	return s
}

func (s *Store) Close() {
	if s.changelog != nil {
		s.changelog.Close()
	}
	s.db.Close()
}

func (s *Store) lockFor(conversationID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(conversationID))
	return &s.locks[h.Sum32()%lockStripes]
}

// Append assigns id and created_at, writes durably and returns the finalized
// row. The caller must treat an error as "nothing happened": no row was
// recorded and nothing may be broadcast.
func (s *Store) Append(ctx context.Context, msg model.Message) (model.Message, error) {
	start := time.Now()

	mu := s.lockFor(msg.ConversationID)
	mu.Lock()
	defer mu.Unlock()

	msg.ID = s.ids.Generate()
	msg.CreatedAt = snowflake.Time(msg.ID)
	msg.ReadByAgent = false
	msg.ReadAt = nil

	err := s.db.Query(
		`INSERT INTO messages (conversation_id, id, sender_type, agent_id, customer_id, sender_name, body, created_at, read_by_agent) VALUES (?, ?, ?, ?, ?, ?, ?, ?, false)`,
		msg.ConversationID, msg.ID, string(msg.SenderType), msg.AgentID, msg.CustomerID, msg.SenderName, msg.Body, msg.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		if s.metrics != nil {
			s.metrics.MessageAppends.WithLabelValues("error").Inc()
		}
		return model.Message{}, fmt.Errorf("append message: %w", err)
	}

	if err := s.db.Query(
		`UPDATE conversations SET last_message_at = ? WHERE id = ?`,
		msg.CreatedAt, msg.ConversationID,
	).WithContext(ctx).Exec(); err != nil {
		// The message itself is durable; the summary column lagging is
		// tolerable and self-heals on the next append.
		s.log.WithError(err).WithField("conversation_id", msg.ConversationID).Warn("failed to bump last_message_at")
	}

	s.emitChangelog(msg)

	if s.metrics != nil {
		s.metrics.MessageAppends.WithLabelValues("ok").Inc()
		s.metrics.AppendDuration.Observe(time.Since(start).Seconds())
	}
	return msg, nil
}

func (s *Store) emitChangelog(msg model.Message) {
	if s.changelog == nil {
		return
	}
	value, err := json.Marshal(msg)
	if err != nil {
		s.log.WithError(err).Error("failed to marshal changelog row")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.changelog.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.ConversationID),
		Value: value,
		Time:  msg.CreatedAt,
	}); err != nil {
		// Best effort: the row is committed, clients can still pull it
		// through Sync.
		s.log.WithError(err).WithField("message_id", msg.ID).Warn("changelog emit failed")
	}
}

// ListByConversation returns one page of messages in ascending (created_at,
// id) order. Pages are 1-based.
func (s *Store) ListByConversation(ctx context.Context, conversationID string, page, pageSize int) ([]model.Message, error) {
	if page < 1 {
		page = 1
	}
	skip := (page - 1) * pageSize

	iter := s.db.Query(
		`SELECT conversation_id, id, sender_type, agent_id, customer_id, sender_name, body, created_at, read_by_agent, read_at FROM messages WHERE conversation_id = ?`,
		conversationID,
	).WithContext(ctx).Iter()

	var out []model.Message
	var m model.Message
	var senderType string
	var readAt time.Time
	n := 0
	for iter.Scan(&m.ConversationID, &m.ID, &senderType, &m.AgentID, &m.CustomerID, &m.SenderName, &m.Body, &m.CreatedAt, &m.ReadByAgent, &readAt) {
		if n < skip {
			n++
			continue
		}
		if len(out) == pageSize {
			break
		}
		n++
		m.SenderType = model.SenderType(senderType)
		m.ReadAt = nil
		if !readAt.IsZero() {
			t := readAt
			m.ReadAt = &t
		}
		out = append(out, m)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

// ListSince returns all messages with id > sinceID in ascending order. It is
// the changefeed cursor read behind reconciliation and is safe to call
// repeatedly with the same cursor.
func (s *Store) ListSince(ctx context.Context, conversationID string, sinceID int64) ([]model.Message, error) {
	iter := s.db.Query(
		`SELECT conversation_id, id, sender_type, agent_id, customer_id, sender_name, body, created_at, read_by_agent, read_at FROM messages WHERE conversation_id = ? AND id > ?`,
		conversationID, sinceID,
	).WithContext(ctx).Iter()

	var out []model.Message
	var m model.Message
	var senderType string
	var readAt time.Time
	for iter.Scan(&m.ConversationID, &m.ID, &senderType, &m.AgentID, &m.CustomerID, &m.SenderName, &m.Body, &m.CreatedAt, &m.ReadByAgent, &readAt) {
		m.SenderType = model.SenderType(senderType)
		m.ReadAt = nil
		if !readAt.IsZero() {
			t := readAt
			m.ReadAt = &t
		}
		out = append(out, m)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list messages since %d: %w", sinceID, err)
	}
	return out, nil
}

// MarkRead flips read_by_agent for the given rows. All rows live in one
// partition, so an unlogged batch is atomic enough.
func (s *Store) MarkRead(ctx context.Context, conversationID string, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return nil
	}
	now := time.Now()
	batch := s.db.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	for _, id := range messageIDs {
		batch.Query(
			`UPDATE messages SET read_by_agent = true, read_at = ? WHERE conversation_id = ? AND id = ?`,
			now, conversationID, id,
		)
	}
	if err := s.db.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// UnreadCount recomputes the agent-facing unread counter from message rows.
// It is a materialized view, never stored authoritatively.
func (s *Store) UnreadCount(ctx context.Context, conversationID string) (int, error) {
	iter := s.db.Query(
		`SELECT sender_type, read_by_agent FROM messages WHERE conversation_id = ?`,
		conversationID,
	).WithContext(ctx).Iter()

	count := 0
	var senderType string
	var read bool
	for iter.Scan(&senderType, &read) {
		if model.SenderType(senderType) == model.SenderCustomer && !read {
			count++
		}
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return count, nil
}
