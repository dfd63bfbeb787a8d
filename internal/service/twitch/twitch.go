// Package twitch implements the Twitch chat adapter on top of the IRC
// client from gempir/go-twitch-irc. Reading chat needs no credentials; an
// optional Client-ID/OAuth pair additionally unlocks stream info (viewer
// counts) through the Helix API.
package twitch

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	irc "github.com/gempir/go-twitch-irc/v4"
	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/john/chatfeed/internal/chat"
	"github.com/john/chatfeed/internal/service"
)

const (
	reconnectInterval    = 3 * time.Second
	streamInfoInterval   = 10 * time.Second
	helixStreamsEndpoint = "https://api.twitch.tv/helix/streams"
)

// Config holds the user-facing adapter settings.
type Config struct {
	Enabled bool
	// Channel is raw user input: a channel URL or a bare login name.
	Channel string

	// ClientID and OAuth are optional; without them viewer counts stay
	// unknown.
	ClientID string
	OAuth    string
}

type Adapter struct {
	cfg     Config
	tracker *service.Tracker
	batches chan<- service.Batch
	log     *zap.Logger

	helix *resty.Client

	mu            sync.Mutex
	client        *irc.Client
	notAuthorized bool
}

func New(cfg Config, batches chan<- service.Batch, changes chan<- service.StateChange, log *zap.Logger) *Adapter {
	a := &Adapter{
		cfg:     cfg,
		tracker: service.NewTracker(chat.ServiceTwitch, cfg.Enabled, changes),
		batches: batches,
		log:     log,
		helix:   resty.New().SetTimeout(10 * time.Second),
	}
	a.Reconnect()
	return a
}

func (a *Adapter) Type() chat.ServiceType { return chat.ServiceTwitch }

func (a *Adapter) State() service.State { return a.tracker.State() }

func (a *Adapter) ConnectionState() service.ConnectionState { return a.tracker.ConnectionState() }

func (a *Adapter) StateDescription() string {
	a.mu.Lock()
	notAuthorized := a.notAuthorized
	a.mu.Unlock()
	if notAuthorized {
		return "OAuth token rejected, check credentials"
	}

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

// Reconnect re-resolves the channel name and tears down any live IRC
// connection; the run loop dials again on its next pass.
func (a *Adapter) Reconnect() {
	channel := ExtractChannelName(a.cfg.Channel)

	var streamURL, chatURL, controlURL string
	if channel != "" {
		streamURL = "https://www.twitch.tv/" + channel
		chatURL = "https://www.twitch.tv/popout/" + channel + "/chat"
		controlURL = "https://dashboard.twitch.tv/u/" + channel + "/stream-manager"
	}
	a.tracker.SetResolved(channel, streamURL, chatURL, controlURL)

	a.mu.Lock()
	a.notAuthorized = false
	client := a.client
	a.mu.Unlock()
	if client != nil {
		_ = client.Disconnect()
	}
}

// Start dials IRC and keeps it dialed: every terminal connection error
// schedules a fixed-interval retry while the adapter stays enabled.
func (a *Adapter) Start(ctx context.Context) error {
	go a.streamInfoLoop(ctx)

	ticker := time.NewTicker(reconnectInterval)
	defer ticker.Stop()

	for {
		if a.tracker.Enabled() && a.tracker.StreamID() != "" {
			a.runIRC(ctx)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runIRC owns one IRC connection from dial to teardown. It blocks until the
// connection drops or ctx is cancelled.
func (a *Adapter) runIRC(ctx context.Context) {
	channel := a.tracker.StreamID()

	client := irc.NewAnonymousClient()

	client.OnConnect(func() {
		a.log.Info("connected to twitch irc", zap.String("channel", channel))
		a.tracker.SetConnected(true)
	})

	client.OnPrivateMessage(func(m irc.PrivateMessage) {
		msg, author := convertPrivateMessage(m)
		a.emit(ctx, []chat.Message{msg}, []*chat.Author{author})
	})

	client.OnClearMessage(func(m irc.ClearMessage) {
		if m.TargetMsgID == "" {
			return
		}
		a.emit(ctx, []chat.Message{chat.Deleter(chat.ServiceTwitch, m.TargetMsgID)}, []*chat.Author{nil})
	})

	client.Join(channel)

	a.mu.Lock()
	a.client = client
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Disconnect()
		case <-done:
		}
	}()

	err := client.Connect()
	close(done)

	a.mu.Lock()
	a.client = nil
	a.mu.Unlock()

	if a.tracker.SetConnected(false) {
		a.log.Info("disconnected from twitch irc", zap.Error(err))
	}
}

func (a *Adapter) emit(ctx context.Context, messages []chat.Message, authors []*chat.Author) {
	batch := service.Batch{Service: chat.ServiceTwitch, Messages: messages, Authors: authors}
	select {
	case a.batches <- batch:
	case <-ctx.Done():
	}
}

// streamInfoLoop polls Helix for viewer counts when credentials are
// configured. An authorization failure parks the loop until Reconnect
// replaces the credentials; it is never retried silently.
func (a *Adapter) streamInfoLoop(ctx context.Context) {
	if a.cfg.ClientID == "" || a.cfg.OAuth == "" {
		return
	}

	ticker := time.NewTicker(streamInfoInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.requestStreamInfo(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (a *Adapter) requestStreamInfo(ctx context.Context) {
	if !a.tracker.Enabled() {
		return
	}
	channel := a.tracker.StreamID()
	if channel == "" {
		return
	}
	a.mu.Lock()
	parked := a.notAuthorized
	a.mu.Unlock()
	if parked {
		return
	}

	resp, err := a.helix.R().
		SetContext(ctx).
		SetHeader("Client-Id", a.cfg.ClientID).
		SetHeader("Authorization", "Bearer "+strings.TrimPrefix(a.cfg.OAuth, "oauth:")).
		SetQueryParam("user_login", channel).
		Get(helixStreamsEndpoint)
	if err != nil {
		a.log.Debug("helix streams request failed", zap.Error(err))
		return
	}

	if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
		a.log.Warn("helix rejected credentials", zap.Int("status", resp.StatusCode()))
		a.mu.Lock()
		a.notAuthorized = true
		a.mu.Unlock()
		return
	}
	if resp.StatusCode() != 200 {
		return
	}

	viewers := gjson.GetBytes(resp.Body(), "data.0.viewer_count")
	if viewers.Exists() {
		count := int(viewers.Int())
		a.tracker.Update(func(s *service.State) { s.ViewersCount = count })
	}
}

var channelNameRe = regexp.MustCompile(`^[a-zA-Z0-9_]{1,25}$`)
var channelURLRe = regexp.MustCompile(`(?i)^(?:m\.)?twitch\.tv/([a-zA-Z0-9_]+)`)

// ExtractChannelName resolves raw user input to a lowercase login name.
// Accepted shapes: bare name, #name, and twitch.tv channel URLs. Returns ""
// when the input matches nothing.
func ExtractChannelName(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "#")
	if raw == "" {
		return ""
	}

	if channelNameRe.MatchString(raw) {
		return strings.ToLower(raw)
	}

	simple := raw
	for _, prefix := range []string{"https://", "http://"} {
		simple = strings.TrimPrefix(simple, prefix)
	}
	simple = strings.TrimPrefix(simple, "www.")
	if m := channelURLRe.FindStringSubmatch(simple); m != nil {
		return strings.ToLower(m[1])
	}
	return ""
}

// convertPrivateMessage maps an IRC PRIVMSG to the canonical model. The IRC
// message id is stable across reconnects, which makes store dedup safe when
// a reconnect replays recent history.
func convertPrivateMessage(m irc.PrivateMessage) (chat.Message, *chat.Author) {
	author := chat.NewAuthor(chat.ServiceTwitch, m.User.ID, displayName(m.User))
	author.PageURL = "https://www.twitch.tv/" + m.User.Name
	author.NicknameColor = m.User.Color

	for badge := range m.User.Badges {
		switch badge {
		case "broadcaster":
			author.SetFlag(chat.AuthorChatOwner)
		case "moderator":
			author.SetFlag(chat.AuthorModerator)
		case "subscriber", "founder":
			author.SetFlag(chat.AuthorSponsor)
		case "partner":
			author.SetFlag(chat.AuthorVerified)
		}
	}

	b := chat.NewMessage(author).
		WithID(m.ID).
		PublishedAt(m.Time).
		Destination(strings.TrimPrefix(m.Channel, "#"))

	if m.Action {
		b.WithFlag(chat.TwitchAction).StyledText(m.Message, chat.TextStyle{Italic: true})
	} else {
		b.Text(m.Message)
	}

	return b.Build(), author
}

func displayName(u irc.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Name
}
