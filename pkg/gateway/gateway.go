package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/FlexpointLLC/linquo-sub000/pkg/auth"
	"github.com/FlexpointLLC/linquo-sub000/pkg/broker"
	"github.com/FlexpointLLC/linquo-sub000/pkg/metrics"
	"github.com/FlexpointLLC/linquo-sub000/pkg/model"
	"github.com/FlexpointLLC/linquo-sub000/pkg/presence"
)

// MessageStore is the durability surface the gateway depends on.
type MessageStore interface {
	Append(ctx context.Context, msg model.Message) (model.Message, error)
	CreateConversation(ctx context.Context, customerName string) (model.Conversation, error)
	GetConversation(ctx context.Context, id string) (model.Conversation, error)
	ListOpenConversations(ctx context.Context) ([]model.Conversation, error)
	UnreadCount(ctx context.Context, conversationID string) (int, error)
}

// TokenValidator is the external identity collaborator. The gateway only
// checks tokens, it never issues them.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// Gateway translates inbound protocol events into registry, store and
// broadcaster calls. It holds no per-connection state of its own; that lives
// in the registry.
type Gateway struct {
	registry *presence.Registry
	broker   broker.Broadcaster
	store    MessageStore
	auth     TokenValidator
	log      *logrus.Logger
	metrics  *metrics.Metrics
}

func New(registry *presence.Registry, b broker.Broadcaster, store MessageStore, validator TokenValidator, log *logrus.Logger, m *metrics.Metrics) *Gateway {
	return &Gateway{
		registry: registry,
		broker:   b,
		store:    store,
		auth:     validator,
		log:      log,
		metrics:  m,
	}
}

// HandleEvent dispatches one inbound event from a connection. Malformed
// payloads are dropped; protocol errors go back to the sender only.
func (g *Gateway) HandleEvent(ctx context.Context, conn presence.Member, ev model.Event) {
	switch ev.Name {
	case model.EventJoinCustomer:
		var p model.JoinCustomer
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			g.log.WithError(err).Debug("malformed join-customer payload")
			return
		}
		g.handleJoinCustomer(ctx, conn, p)
	case model.EventJoinAgent:
		var p model.JoinAgent
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			g.log.WithError(err).Debug("malformed join-agent payload")
			return
		}
		g.handleJoinAgent(ctx, conn, p)
	case model.EventJoinSession:
		var p model.JoinSession
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return
		}
		g.handleJoinSession(conn, p)
	case model.EventSendMessage:
		var p model.SendMessage
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return
		}
		g.handleSendMessage(ctx, conn, p)
	case model.EventTyping, model.EventStopTyping:
		var p model.Typing
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return
		}
		g.handleTyping(conn, ev.Name, p)
	default:
		g.log.WithField("event", ev.Name).Debug("unknown inbound event")
	}
}

func (g *Gateway) handleJoinCustomer(ctx context.Context, conn presence.Member, p model.JoinCustomer) {
	var conv model.Conversation
	var err error

	if p.ConversationID != "" {
		conv, err = g.store.GetConversation(ctx, p.ConversationID)
	}
	if p.ConversationID == "" || err != nil {
		conv, err = g.store.CreateConversation(ctx, p.DisplayName)
		if err != nil {
			g.log.WithError(err).Error("failed to create conversation")
			g.deliver(conn, model.EventMessageError, model.ErrorPayload{Message: "could not start conversation"})
			return
		}
	}

	g.registry.Register(conn, presence.Session{
		Role:           model.SenderCustomer,
		DisplayName:    p.DisplayName,
		ConversationID: conv.ID,
		CustomerID:     conv.CustomerID,
	})
	g.registry.Join(conn, conv.ID)
	if g.metrics != nil {
		g.metrics.ActiveConnections.WithLabelValues("customer").Inc()
		g.metrics.OpenConversations.Set(float64(len(g.registry.OpenConversations())))
	}

	g.deliver(conn, model.EventSessionCreated, model.SessionCreated{ConversationID: conv.ID})

	g.publish(model.RoomAgents, model.EventCustomerJoined, model.CustomerPresence{
		ConversationID: conv.ID,
		CustomerName:   p.DisplayName,
		Timestamp:      time.Now(),
	})

	g.log.WithFields(logrus.Fields{
		"conversation_id": conv.ID,
		"customer":        p.DisplayName,
	}).Info("customer joined")
}

func (g *Gateway) handleJoinAgent(ctx context.Context, conn presence.Member, p model.JoinAgent) {
	claims, err := g.auth.Validate(p.AuthToken)
	if err != nil {
		g.deliver(conn, model.EventAuthError, model.ErrorPayload{Message: "invalid agent token"})
		g.log.WithError(err).WithField("agent_id", p.AgentID).Warn("agent auth failed")
		return
	}

	name := p.DisplayName
	if name == "" {
		name = claims.DisplayName
	}
	g.registry.Register(conn, presence.Session{
		Role:        model.SenderAgent,
		DisplayName: name,
		AgentID:     claims.AgentID,
	})
	g.registry.Join(conn, model.RoomAgents)
	if g.metrics != nil {
		g.metrics.ActiveConnections.WithLabelValues("agent").Inc()
	}

	g.deliver(conn, model.EventActiveSessions, g.activeSessions(ctx))

	g.log.WithField("agent_id", claims.AgentID).Info("agent joined")
}

// activeSessions merges the store's open conversations with live presence.
func (g *Gateway) activeSessions(ctx context.Context) []model.ActiveSession {
	sessions := []model.ActiveSession{}

	convs, err := g.store.ListOpenConversations(ctx)
	if err != nil {
		g.log.WithError(err).Error("failed to list open conversations")
		return sessions
	}
	for _, conv := range convs {
		unread, err := g.store.UnreadCount(ctx, conv.ID)
		if err != nil {
			g.log.WithError(err).WithField("conversation_id", conv.ID).Warn("failed to compute unread count")
		}
		sessions = append(sessions, model.ActiveSession{
			ConversationID: conv.ID,
			CustomerName:   conv.CustomerName,
			Status:         conv.State,
			UnreadCount:    unread,
			LastMessageAt:  conv.LastMessageAt,
		})
	}
	return sessions
}

func (g *Gateway) handleJoinSession(conn presence.Member, p model.JoinSession) {
	s, ok := g.registry.Get(conn.ID())
	if !ok || s.Role != model.SenderAgent {
		return
	}
	// The agent stays in the agents room; join-session only adds a room.
	g.registry.Join(conn, p.ConversationID)
}

func (g *Gateway) handleSendMessage(ctx context.Context, conn presence.Member, p model.SendMessage) {
	s, ok := g.registry.Get(conn.ID())
	if !ok {
		g.deliver(conn, model.EventMessageError, model.ErrorPayload{Message: "not joined"})
		return
	}

	msg := model.Message{
		ConversationID: p.ConversationID,
		SenderType:     s.Role,
		SenderName:     s.DisplayName,
		Body:           p.Body,
	}
	switch s.Role {
	case model.SenderCustomer:
		msg.CustomerID = s.CustomerID
		msg.ConversationID = s.ConversationID // customers can only write their own room
	case model.SenderAgent:
		msg.AgentID = s.AgentID
	}

	// Durability point. A failed append must stay invisible to the room.
	saved, err := g.store.Append(ctx, msg)
	if err != nil {
		g.log.WithError(err).WithField("conversation_id", msg.ConversationID).Error("message append failed")
		g.deliver(conn, model.EventMessageError, model.ErrorPayload{Message: "message could not be saved"})
		return
	}

	g.publish(saved.ConversationID, model.EventNewMessage, saved)

	if s.Role == model.SenderCustomer {
		g.publish(model.RoomAgents, model.EventCustomerMessage, model.CustomerMessage{
			ConversationID: saved.ConversationID,
			CustomerName:   s.DisplayName,
			Preview:        saved.Body,
			MessageID:      saved.ID,
			CreatedAt:      saved.CreatedAt,
		})
	}
}

func (g *Gateway) handleTyping(conn presence.Member, name string, p model.Typing) {
	s, ok := g.registry.Get(conn.ID())
	if !ok {
		return
	}
	room := p.ConversationID
	if s.Role == model.SenderCustomer {
		room = s.ConversationID
	}

	out := model.EventUserTyping
	if name == model.EventStopTyping {
		out = model.EventUserStopTyping
	}
	ev, err := model.NewEvent(out, model.UserTyping{
		ConversationID: room,
		Actor:          s.DisplayName,
		ActorRole:      s.Role,
	})
	if err != nil {
		return
	}
	g.broker.PublishExcept(room, ev, conn.ID())
}

// HandleDisconnect removes the connection from the registry before anything
// else so no further publish targets it, then announces customer departures.
func (g *Gateway) HandleDisconnect(conn presence.Member) {
	s, rooms := g.registry.Leave(conn)
	if rooms == nil {
		return // never joined
	}
	if g.metrics != nil {
		switch s.Role {
		case model.SenderCustomer:
			g.metrics.ActiveConnections.WithLabelValues("customer").Dec()
			g.metrics.OpenConversations.Set(float64(len(g.registry.OpenConversations())))
		case model.SenderAgent:
			g.metrics.ActiveConnections.WithLabelValues("agent").Dec()
		}
	}

	if s.Role == model.SenderCustomer {
		g.publish(model.RoomAgents, model.EventCustomerLeft, model.CustomerPresence{
			ConversationID: s.ConversationID,
			CustomerName:   s.DisplayName,
		})
	}
}

// AnnounceStateChange tells the agents room a conversation was resolved or
// reopened. The REST layer calls this after a successful PATCH.
func (g *Gateway) AnnounceStateChange(conversationID string, state model.ConversationState) {
	g.publish(model.RoomAgents, model.EventSessionUpdated, model.SessionUpdated{
		ConversationID: conversationID,
		Status:         state,
	})
}

func (g *Gateway) publish(room, name string, payload any) {
	ev, err := model.NewEvent(name, payload)
	if err != nil {
		g.log.WithError(err).WithField("event", name).Error("failed to encode event")
		return
	}
	g.broker.Publish(room, ev)
}

func (g *Gateway) deliver(conn presence.Member, name string, payload any) {
	ev, err := model.NewEvent(name, payload)
	if err != nil {
		g.log.WithError(err).WithField("event", name).Error("failed to encode event")
		return
	}
	conn.Deliver(ev)
}
