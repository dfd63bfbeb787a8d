// Package kick implements the Kick chat adapter. Kick delivers chat over a
// shared Pusher websocket endpoint; the chatroom id is resolved through the
// public channels API, then the socket subscribes to the chatroom channel.
package kick

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/john/chatfeed/internal/chat"
	"github.com/john/chatfeed/internal/service"
)

const (
	// pusherAppID is Kick's public Pusher application key, visible to any
	// browser session.
	pusherAppID = "eb1d5f283081a78b932c"
	pusherURL   = "wss://ws-us2.pusher.com/app/" + pusherAppID + "?protocol=7&client=js&version=7.6.0&flash=false"

	channelsEndpoint = "https://kick.com/api/v2/channels/"

	reconnectInterval = 5 * time.Second
	heartbeatInterval = 60 * time.Second
	ackTimeout        = 30 * time.Second

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Config holds the user-facing adapter settings.
type Config struct {
	Enabled bool
	// Channel is raw user input: a kick.com channel URL or a bare slug.
	Channel string
}

type Adapter struct {
	cfg     Config
	tracker *service.Tracker
	batches chan<- service.Batch
	log     *zap.Logger

	http *resty.Client

	mu         sync.Mutex
	chatroomID string
	conn       *websocket.Conn
}

func New(cfg Config, batches chan<- service.Batch, changes chan<- service.StateChange, log *zap.Logger) *Adapter {
	a := &Adapter{
		cfg:     cfg,
		tracker: service.NewTracker(chat.ServiceKick, cfg.Enabled, changes),
		batches: batches,
		log:     log,
		http: NewHTTPClient(),
	}
	a.Reconnect()
	return a
}

func (a *Adapter) Type() chat.ServiceType { return chat.ServiceKick }

func (a *Adapter) State() service.State { return a.tracker.State() }

func (a *Adapter) ConnectionState() service.ConnectionState { return a.tracker.ConnectionState() }

func (a *Adapter) StateDescription() string {
	switch a.ConnectionState() {
	case service.Connected:
		return "Successfully connected"
	case service.Connecting:
		return "Connecting..."
	}
	if strings.TrimSpace(a.cfg.Channel) == "" {
		return "Channel not specified"
	}
	if a.tracker.StreamID() == "" {
		return "The channel link or name is not correct"
	}
	return "Not connected"
}

// Reconnect re-resolves the channel slug and force-closes any open socket;
// the run loop dials again.
func (a *Adapter) Reconnect() {
	slug := ExtractChannelSlug(a.cfg.Channel)

	var streamURL, chatURL string
	if slug != "" {
		streamURL = "https://kick.com/" + slug
		chatURL = "https://kick.com/" + slug + "/chatroom"
	}
	a.tracker.SetResolved(slug, streamURL, chatURL, "")

	a.mu.Lock()
	a.chatroomID = ""
	conn := a.conn
	a.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Start keeps one websocket session alive: resolve chatroom id, dial,
// subscribe, pump. Every terminal failure schedules a fixed-interval retry
// while the adapter stays enabled and not connected.
func (a *Adapter) Start(ctx context.Context) error {
	ticker := time.NewTicker(reconnectInterval)
	defer ticker.Stop()

	for {
		if a.tracker.Enabled() && a.tracker.StreamID() != "" {
			if err := a.runSession(ctx); err != nil && ctx.Err() == nil {
				a.log.Debug("kick session ended", zap.Error(err))
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *Adapter) runSession(ctx context.Context) error {
	slug := a.tracker.StreamID()

	a.mu.Lock()
	chatroomID := a.chatroomID
	a.mu.Unlock()

	if chatroomID == "" {
		id, err := ResolveChatroomID(ctx, a.http, slug)
		if err != nil {
			return fmt.Errorf("resolve channel %q: %w", slug, err)
		}
		a.mu.Lock()
		a.chatroomID = id
		a.mu.Unlock()
		chatroomID = id
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, pusherURL, nil)
	if err != nil {
		return fmt.Errorf("dial pusher: %w", err)
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.conn = nil
		a.mu.Unlock()
		_ = conn.Close()
		if a.tracker.SetConnected(false) {
			a.log.Info("disconnected from kick", zap.String("channel", slug))
		}
	}()

	if err := a.sendSubscribe(conn, chatroomID); err != nil {
		return err
	}

	// The ack timer force-closes the socket when no inbound traffic arrives
	// for too long; the heartbeat keeps traffic flowing on quiet chats.
	ack := time.AfterFunc(ackTimeout, func() { _ = conn.Close() })
	defer ack.Stop()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	stopPing := make(chan struct{})
	defer close(stopPing)

	go func() {
		for {
			select {
			case <-heartbeat.C:
				_ = conn.WriteJSON(pusherFrame{Event: "pusher:ping", Data: json.RawMessage("{}")})
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-stopPing:
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ack.Reset(ackTimeout)

		result := parseEvent(raw)
		if result.established {
			if a.tracker.SetConnected(true) {
				a.log.Info("connected to kick", zap.String("channel", slug), zap.String("chatroom", chatroomID))
			}
		}
		if len(result.messages) > 0 {
			batch := service.Batch{Service: chat.ServiceKick, Messages: result.messages, Authors: result.authors}
			select {
			case a.batches <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

type pusherFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (a *Adapter) sendSubscribe(conn *websocket.Conn, chatroomID string) error {
	data, err := json.Marshal(map[string]string{
		"auth":    "",
		"channel": "chatrooms." + chatroomID + ".v2",
	})
	if err != nil {
		return err
	}
	return conn.WriteJSON(pusherFrame{Event: "pusher:subscribe", Data: data})
}

// NewHTTPClient returns a resty client with the browser headers Kick's API
// expects; requests without them get challenged.
func NewHTTPClient() *resty.Client {
	return resty.New().
		SetTimeout(10 * time.Second).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json").
		SetHeader("Accept-Language", "en-US,en;q=0.9").
		SetHeader("Referer", "https://kick.com/").
		SetHeader("Origin", "https://kick.com")
}

// ResolveChatroomID looks up the chatroom id for a channel slug through the
// public channels API.
func ResolveChatroomID(ctx context.Context, client *resty.Client, slug string) (string, error) {
	resp, err := client.R().SetContext(ctx).Get(channelsEndpoint + slug)
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("channels api status %d", resp.StatusCode())
	}

	id := gjson.GetBytes(resp.Body(), "chatroom.id")
	if !id.Exists() || id.Int() <= 0 {
		return "", fmt.Errorf("no chatroom id in channels reply")
	}
	return id.Raw, nil
}

var slugRe = regexp.MustCompile(`^[a-zA-Z0-9_\-]{1,50}$`)
var slugURLRe = regexp.MustCompile(`(?i)^kick\.com/([a-zA-Z0-9_\-]+)`)

// ExtractChannelSlug resolves raw user input to a channel slug. Returns ""
// when the input matches nothing.
func ExtractChannelSlug(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if slugRe.MatchString(raw) {
		return strings.ToLower(raw)
	}

	simple := raw
	for _, prefix := range []string{"https://", "http://"} {
		simple = strings.TrimPrefix(simple, prefix)
	}
	simple = strings.TrimPrefix(simple, "www.")
	if m := slugURLRe.FindStringSubmatch(simple); m != nil {
		return strings.ToLower(m[1])
	}
	return ""
}

type eventResult struct {
	messages    []chat.Message
	authors     []*chat.Author
	established bool
}

// parseEvent maps one inbound Pusher frame to canonical messages. The frame
// data field is itself a JSON document encoded as a string.
func parseEvent(raw []byte) eventResult {
	root := gjson.ParseBytes(raw)
	event := root.Get("event").String()
	data := gjson.Parse(root.Get("data").String())

	switch event {
	case "pusher:connection_established", "pusher_internal:subscription_succeeded":
		return eventResult{established: true}

	case "App\\Events\\ChatMessageEvent":
		if msg, author, ok := parseChatMessage(data); ok {
			return eventResult{messages: []chat.Message{msg}, authors: []*chat.Author{author}}
		}

	case "App\\Events\\MessageDeletedEvent":
		if id := data.Get("message.id").String(); id != "" {
			return eventResult{
				messages: []chat.Message{chat.Deleter(chat.ServiceKick, id)},
				authors:  []*chat.Author{nil},
			}
		}
	}
	return eventResult{}
}

func parseChatMessage(data gjson.Result) (chat.Message, *chat.Author, bool) {
	id := data.Get("id").String()
	content := data.Get("content").String()
	if id == "" || content == "" {
		return chat.Message{}, nil, false
	}

	sender := data.Get("sender")
	slug := sender.Get("slug").String()
	name := sender.Get("username").String()
	if slug == "" || name == "" {
		return chat.Message{}, nil, false
	}

	author := chat.NewAuthor(chat.ServiceKick, slug, name)
	author.PageURL = "https://kick.com/" + slug
	author.NicknameColor = sender.Get("identity.color").String()

	sender.Get("identity.badges").ForEach(func(_, badge gjson.Result) bool {
		switch badge.Get("type").String() {
		case "broadcaster":
			author.SetFlag(chat.AuthorChatOwner)
		case "moderator":
			author.SetFlag(chat.AuthorModerator)
		case "subscriber", "founder":
			author.SetFlag(chat.AuthorSponsor)
		case "verified":
			author.SetFlag(chat.AuthorVerified)
		}
		return true
	})

	published, _ := time.Parse(time.RFC3339, data.Get("created_at").String())

	msg := chat.NewMessage(author).
		WithID(id).
		PublishedAt(published).
		Text(content).
		Build()

	return msg, author, true
}
