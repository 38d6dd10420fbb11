package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/FlexpointLLC/linquo-sub000/pkg/auth"
	"github.com/FlexpointLLC/linquo-sub000/pkg/model"
)

// ConversationStore is the persistence surface the REST layer consumes.
type ConversationStore interface {
	ListByConversation(ctx context.Context, conversationID string, page, pageSize int) ([]model.Message, error)
	MarkRead(ctx context.Context, conversationID string, messageIDs []int64) error
	UnreadCount(ctx context.Context, conversationID string) (int, error)
	CreateConversation(ctx context.Context, customerName string) (model.Conversation, error)
	GetConversation(ctx context.Context, id string) (model.Conversation, error)
	SetState(ctx context.Context, id string, state model.ConversationState) error
	ListOpenConversations(ctx context.Context) ([]model.Conversation, error)
}

// Reconciler is the pull path clients use to patch over missed events.
type Reconciler interface {
	Sync(ctx context.Context, conversationID string, sinceID int64) ([]model.Message, error)
}

// StateAnnouncer pushes conversation state changes to the agents room.
type StateAnnouncer interface {
	AnnounceStateChange(conversationID string, state model.ConversationState)
}

type Handler struct {
	store     ConversationStore
	feed      Reconciler
	announcer StateAnnouncer
	auth      *auth.Manager
	presence  *redis.Client
	log       *logrus.Logger
	pageSize  int
}

func NewHandler(store ConversationStore, feed Reconciler, announcer StateAnnouncer, authManager *auth.Manager, presence *redis.Client, log *logrus.Logger, pageSize int) *Handler {
	return &Handler{
		store:     store,
		feed:      feed,
		announcer: announcer,
		auth:      authManager,
		presence:  presence,
		log:       log,
		pageSize:  pageSize,
	}
}

// Router wires the REST surface. WS lives on its own route, registered by
// the caller.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/login", h.Login).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/conversations", h.CreateConversation).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/conversations/{id}/messages", h.ListMessages).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/sync", h.SyncMessages).Methods(http.MethodGet)

	agent := r.NewRoute().Subrouter()
	agent.Use(h.agentAuth)
	agent.HandleFunc("/conversations", h.ListConversations).Methods(http.MethodGet)
	agent.HandleFunc("/conversations/{id}", h.PatchConversation).Methods(http.MethodPatch)
	agent.HandleFunc("/conversations/{id}/read", h.MarkRead).Methods(http.MethodPost)
	agent.HandleFunc("/conversations/{id}/presence", h.Presence).Methods(http.MethodGet)

	r.Use(corsMiddleware)
	r.Use(loggingMiddleware(h.log))
	return r
}

// NewHTTPServer builds the serving stack around the router.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
