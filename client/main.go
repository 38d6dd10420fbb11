package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/FlexpointLLC/linquo-sub000/pkg/client"
	"github.com/FlexpointLLC/linquo-sub000/pkg/feed"
	"github.com/FlexpointLLC/linquo-sub000/pkg/model"
)

type loginResponse struct {
	Token string `json:"token"`
}

func login(apiAddr, agentID, displayName string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{
		"agent_id":     agentID,
		"display_name": displayName,
	})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", string(body))
	}

	var loginResp loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", err
	}
	return loginResp.Token, nil
}

// console is the terminal agent dashboard. It keeps a local cache for the
// focused conversation and triggers notifications for the rest. mu guards
// all console state and websocket writes; events arrive on the reader
// goroutine, commands on the stdin goroutine, and recovered messages on the
// poller goroutine.
type console struct {
	apiAddr string
	token   string

	mu   sync.Mutex
	conn *websocket.Conn

	focused    string
	cache      *client.Cache
	readState  *client.ReadState
	trigger    *client.Trigger
	unread     map[string]int
	poller     *feed.Poller
	pollCancel context.CancelFunc
}

// ListSince pulls committed rows after the cursor over REST. It backs both
// the /sync command and the polling fallback.
func (c *console) ListSince(ctx context.Context, conversationID string, sinceID int64) ([]model.Message, error) {
	u := fmt.Sprintf("%s/conversations/%s/sync?since_id=%d", c.apiAddr, conversationID, sinceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sync failed: %s", resp.Status)
	}

	var body struct {
		Messages []model.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Messages, nil
}

func (c *console) fetchPage(conversationID string) client.FetchFunc {
	return func(ctx context.Context, page, pageSize int) ([]model.Message, error) {
		u := fmt.Sprintf("%s/conversations/%s/messages?page=%d", c.apiAddr, conversationID, page)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("history fetch failed: %s", resp.Status)
		}

		var body struct {
			Messages []model.Message `json:"messages"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, err
		}
		return body.Messages, nil
	}
}

func (c *console) syncFocused(ctx context.Context) error {
	c.mu.Lock()
	cache, focused := c.cache, c.focused
	var since int64
	if cache != nil {
		since = cache.HighWaterMark()
	}
	c.mu.Unlock()
	if cache == nil {
		return nil
	}

	msgs, err := c.ListSince(ctx, focused, since)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, msg := range msgs {
		if c.cache != nil && c.cache.Merge(msg) {
			printMessage(msg)
		}
	}
	return nil
}

func (c *console) markRead(ctx context.Context, conversationID string, messageIDs []int64) error {
	reqBody, _ := json.Marshal(map[string]any{"message_ids": messageIDs})
	u := fmt.Sprintf("%s/conversations/%s/read", c.apiAddr, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewBuffer(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mark read failed: %s", resp.Status)
	}
	return nil
}

func (c *console) patchState(conversationID string, state model.ConversationState) error {
	reqBody, _ := json.Marshal(map[string]any{"state": state})
	u := fmt.Sprintf("%s/conversations/%s", c.apiAddr, conversationID)
	req, err := http.NewRequest(http.MethodPatch, u, bytes.NewBuffer(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("patch failed: %s", resp.Status)
	}
	return nil
}

func (c *console) send(name string, payload any) error {
	ev, err := model.NewEvent(name, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(ev)
}

func (c *console) open(ctx context.Context, conversationID string, pageSize, maxPages int, staleness time.Duration) error {
	if err := c.send(model.EventJoinSession, model.JoinSession{ConversationID: conversationID}); err != nil {
		return err
	}

	c.mu.Lock()
	if c.pollCancel != nil {
		c.pollCancel()
	}
	c.focused = conversationID
	c.cache = client.NewCache(conversationID, pageSize, maxPages, staleness, c.fetchPage(conversationID))
	c.readState = client.NewReadState(c.cache, c.markRead)
	c.trigger.Focus(conversationID)
	cache := c.cache

	pollCtx, cancel := context.WithCancel(context.Background())
	c.pollCancel = cancel
	c.mu.Unlock()

	go c.poller.Run(pollCtx, conversationID,
		func() int64 {
			c.mu.Lock()
			defer c.mu.Unlock()
			return cache.HighWaterMark()
		},
		func(msg model.Message) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if cache.Merge(msg) {
				printMessage(msg)
			}
		})

	c.mu.Lock()
	defer c.mu.Unlock()
	msgs, err := cache.LoadPage(ctx, 1)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		printMessage(msg)
	}
	return nil
}

func (c *console) handleEvent(ev model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Name {
	case model.EventActiveSessions:
		var sessions []model.ActiveSession
		if err := json.Unmarshal(ev.Payload, &sessions); err != nil {
			return
		}
		fmt.Printf("\r-- active conversations --\n")
		for _, s := range sessions {
			c.unread[s.ConversationID] = s.UnreadCount
			fmt.Printf("  %s  %s  (%s, %d unread)\n", s.ConversationID, s.CustomerName, s.Status, s.UnreadCount)
		}
		fmt.Print("> ")

	case model.EventNewMessage:
		var msg model.Message
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			return
		}
		if c.cache != nil && msg.ConversationID == c.focused {
			if c.cache.Merge(msg) {
				printMessage(msg)
			}
			return
		}
		if msg.FromCustomer() {
			c.unread[msg.ConversationID]++
			c.trigger.Observe(msg.ConversationID, c.unread[msg.ConversationID])
		}

	case model.EventCustomerMessage:
		var summary model.CustomerMessage
		if err := json.Unmarshal(ev.Payload, &summary); err != nil {
			return
		}
		c.unread[summary.ConversationID]++
		c.trigger.Observe(summary.ConversationID, c.unread[summary.ConversationID])
		fmt.Printf("\r[%s] %s: %s\n> ", summary.ConversationID, summary.CustomerName, summary.Preview)

	case model.EventCustomerJoined:
		var p model.CustomerPresence
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return
		}
		fmt.Printf("\r[%s] %s is online\n> ", p.ConversationID, p.CustomerName)

	case model.EventCustomerLeft:
		var p model.CustomerPresence
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return
		}
		fmt.Printf("\r[%s] %s went offline\n> ", p.ConversationID, p.CustomerName)

	case model.EventUserTyping:
		var p model.UserTyping
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return
		}
		if p.ConversationID == c.focused {
			fmt.Printf("\r%s is typing...      \n> ", p.Actor)
		}

	case model.EventSessionUpdated:
		var p model.SessionUpdated
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return
		}
		fmt.Printf("\r[%s] conversation is now %s\n> ", p.ConversationID, p.Status)

	case model.EventMessageError:
		var p model.ErrorPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return
		}
		fmt.Printf("\r!! message not delivered: %s\n> ", p.Message)

	case model.EventAuthError:
		var p model.ErrorPayload
		_ = json.Unmarshal(ev.Payload, &p)
		log.Fatalf("auth rejected: %s", p.Message)
	}
}

// redial reconnects after a read failure and rejoins the agent session. The
// poller covers the focused conversation while the connection is down.
func (c *console) redial(u url.URL, join model.JoinAgent) bool {
	for attempt := 0; attempt < 5; attempt++ {
		time.Sleep(2 * time.Second)

		conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
		if err != nil {
			log.Println("redial:", err)
			c.poller.RecordFailure()
			continue
		}

		c.mu.Lock()
		c.conn = conn
		focused := c.focused
		c.mu.Unlock()

		if err := c.send(model.EventJoinAgent, join); err != nil {
			c.poller.RecordFailure()
			continue
		}
		if focused != "" {
			_ = c.send(model.EventJoinSession, model.JoinSession{ConversationID: focused})
		}
		log.Println("reconnected")
		return true
	}
	return false
}

func printMessage(msg model.Message) {
	fmt.Printf("\r%s %s: %s\n> ", msg.CreatedAt.Format("15:04:05"), msg.SenderName, msg.Body)
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "chat server address")
	apiAddr := flag.String("api", "http://localhost:8080", "rest api address")
	agentID := flag.String("agent", "agent1", "agent id")
	displayName := flag.String("name", "Agent", "display name")
	pageSize := flag.Int("page-size", 50, "history page size")
	maxPages := flag.Int("cache-pages", 10, "cached history pages")
	staleness := flag.Duration("staleness", 30*time.Second, "cached page staleness threshold")
	pollInterval := flag.Duration("poll-interval", 5*time.Second, "fallback poll interval")
	flag.Parse()

	log.Printf("Logging in as %s...", *agentID)
	token, err := login(*apiAddr, *agentID, *displayName)
	if err != nil {
		log.Fatal("Login failed:", err)
	}

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	log.Printf("connecting to %s", u.String())

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer conn.Close()

	plog := logrus.New()
	plog.SetFormatter(&logrus.TextFormatter{})

	c := &console{
		apiAddr: *apiAddr,
		token:   token,
		conn:    conn,
		unread:  make(map[string]int),
		trigger: client.NewTrigger(client.NotifierFunc(func(conversationID string, unread int) {
			fmt.Printf("\a\r** %d unread in %s **\n> ", unread, conversationID)
		})),
	}
	c.poller = feed.NewPoller(feed.New(c, plog, nil), *pollInterval, plog)

	joinPayload := model.JoinAgent{AgentID: *agentID, DisplayName: *displayName, AuthToken: token}
	if err := c.send(model.EventJoinAgent, joinPayload); err != nil {
		log.Fatal("join:", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			var ev model.Event
			if err := conn.ReadJSON(&ev); err != nil {
				log.Println("read:", err)
				c.poller.RecordFailure()
				if !c.redial(u, joinPayload) {
					return
				}
				continue
			}
			c.poller.RecordSuccess()
			c.handleEvent(ev)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := scanner.Text()
			ctx := context.Background()

			switch {
			case text == "":

			case text == "/quit":
				close(interrupt)
				return

			case strings.HasPrefix(text, "/open "):
				id := strings.TrimSpace(strings.TrimPrefix(text, "/open "))
				if err := c.open(ctx, id, *pageSize, *maxPages, *staleness); err != nil {
					fmt.Printf("open failed: %v\n", err)
				}

			case text == "/sync":
				if err := c.syncFocused(ctx); err != nil {
					fmt.Printf("sync failed: %v\n", err)
				}

			case text == "/read":
				c.mu.Lock()
				if c.readState == nil {
					c.mu.Unlock()
					fmt.Println("no conversation open")
					break
				}
				err := c.readState.MarkConversationRead(ctx)
				if err == nil {
					c.unread[c.focused] = 0
					c.trigger.Observe(c.focused, 0)
				}
				c.mu.Unlock()
				if err != nil {
					fmt.Printf("mark read failed: %v\n", err)
				}

			case strings.HasPrefix(text, "/close "):
				id := strings.TrimSpace(strings.TrimPrefix(text, "/close "))
				if err := c.patchState(id, model.StateClosed); err != nil {
					fmt.Printf("close failed: %v\n", err)
				}

			case strings.HasPrefix(text, "/reopen "):
				id := strings.TrimSpace(strings.TrimPrefix(text, "/reopen "))
				if err := c.patchState(id, model.StateOpen); err != nil {
					fmt.Printf("reopen failed: %v\n", err)
				}

			case text == "/typing":
				c.mu.Lock()
				focused := c.focused
				c.mu.Unlock()
				if focused == "" {
					fmt.Println("no conversation open")
					break
				}
				if err := c.send(model.EventTyping, model.Typing{ConversationID: focused}); err != nil {
					log.Println("write:", err)
					return
				}

			default:
				c.mu.Lock()
				focused := c.focused
				c.mu.Unlock()
				if focused == "" {
					fmt.Println("no conversation open, use /open <id>")
					break
				}
				err := c.send(model.EventSendMessage, model.SendMessage{
					ConversationID: focused,
					Body:           text,
				})
				if err != nil {
					log.Println("write:", err)
					return
				}
			}
			fmt.Print("> ")
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("interrupt")

			err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("write close:", err)
				return
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
