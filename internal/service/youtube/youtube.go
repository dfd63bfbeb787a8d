// Package youtube implements the YouTube live chat adapter. It polls the
// public live_chat page the way a browser does: an initial scrape yields the
// innertube API key and a continuation token, then the chat endpoint is
// polled on a fixed interval, each reply carrying the next continuation.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gocolly/colly"
	"go.uber.org/zap"

	"github.com/john/chatfeed/internal/chat"
	"github.com/john/chatfeed/internal/service"
)

const (
	chatPollInterval   = 2 * time.Second
	streamPollInterval = 20 * time.Second

	maxBadChatReplies = 10
	maxBadPageReplies = 3

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

var errNotResolved = errors.New("broadcast not resolved")

// transport is the network surface of the adapter, split out so tests can
// run the full polling state machine without sockets.
type transport interface {
	// bootstrap fetches the live chat page and extracts the innertube API
	// key and the first continuation token.
	bootstrap(ctx context.Context, broadcastID string) (apiKey, continuation string, err error)

	// poll requests the next chunk of chat using the current continuation.
	poll(ctx context.Context, apiKey, continuation string) ([]byte, error)

	// viewers fetches the watch page and extracts the live viewer count.
	viewers(ctx context.Context, broadcastID string) (int, error)
}

// Config holds the user-facing adapter settings.
type Config struct {
	Enabled bool
	// Stream is raw user input: a URL in any of the known shapes or a bare
	// broadcast id.
	Stream string
}

// Adapter is the polling exemplar of the service contract.
type Adapter struct {
	cfg     Config
	tracker *service.Tracker
	batches chan<- service.Batch
	log     *zap.Logger

	transport transport

	mu           sync.Mutex
	apiKey       string
	continuation string
	badChat      *service.BadReplyCounter
	badPage      *service.BadReplyCounter
}

func New(cfg Config, batches chan<- service.Batch, changes chan<- service.StateChange, log *zap.Logger) *Adapter {
	a := &Adapter{
		cfg:       cfg,
		tracker:   service.NewTracker(chat.ServiceYouTube, cfg.Enabled, changes),
		batches:   batches,
		log:       log,
		transport: newHTTPTransport(),
		badChat:   service.NewBadReplyCounter(maxBadChatReplies),
		badPage:   service.NewBadReplyCounter(maxBadPageReplies),
	}
	a.Reconnect()
	return a
}

func (a *Adapter) Type() chat.ServiceType { return chat.ServiceYouTube }

func (a *Adapter) State() service.State { return a.tracker.State() }

func (a *Adapter) ConnectionState() service.ConnectionState { return a.tracker.ConnectionState() }

func (a *Adapter) StateDescription() string {
	switch a.ConnectionState() {
	case service.Connected:
		return "Successfully connected"
	case service.Connecting:
		return "Connecting..."
	}
	if strings.TrimSpace(a.cfg.Stream) == "" {
		return "Broadcast not specified"
	}
	if a.tracker.StreamID() == "" {
		return "The broadcast link or ID is not correct"
	}
	return "Not connected"
}

// Reconnect re-resolves the broadcast id from raw user input and drops all
// per-session state. No network happens here; the poll loop picks the new
// session up on its next tick.
func (a *Adapter) Reconnect() {
	broadcastID := ExtractBroadcastID(a.cfg.Stream)

	var streamURL, chatURL, controlURL string
	if broadcastID != "" {
		streamURL = "https://www.youtube.com/watch?v=" + broadcastID
		chatURL = "https://www.youtube.com/live_chat?v=" + broadcastID
		controlURL = "https://studio.youtube.com/video/" + broadcastID + "/livestreaming"
	}
	a.tracker.SetResolved(broadcastID, streamURL, chatURL, controlURL)

	a.mu.Lock()
	a.apiKey = ""
	a.continuation = ""
	a.badChat.Good()
	a.badPage.Good()
	a.mu.Unlock()
}

// Start runs the two poll loops until ctx is cancelled: the chat poll on a
// short interval and the watch page poll for viewer counts on a longer one.
func (a *Adapter) Start(ctx context.Context) error {
	chatTicker := time.NewTicker(chatPollInterval)
	defer chatTicker.Stop()
	streamTicker := time.NewTicker(streamPollInterval)
	defer streamTicker.Stop()

	for {
		select {
		case <-chatTicker.C:
			a.pollChat(ctx)
		case <-streamTicker.C:
			a.pollStreamPage(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *Adapter) pollChat(ctx context.Context) {
	if !a.tracker.Enabled() {
		return
	}
	broadcastID := a.tracker.StreamID()
	if broadcastID == "" {
		return
	}

	a.mu.Lock()
	apiKey, continuation := a.apiKey, a.continuation
	a.mu.Unlock()

	if apiKey == "" || continuation == "" {
		key, cont, err := a.transport.bootstrap(ctx, broadcastID)
		if err != nil {
			a.log.Debug("bootstrap failed", zap.Error(err))
			a.handleBadChatReply()
			return
		}
		a.mu.Lock()
		a.apiKey, a.continuation = key, cont
		a.mu.Unlock()
		return
	}

	body, err := a.transport.poll(ctx, apiKey, continuation)
	if err != nil {
		a.log.Debug("chat poll failed", zap.Error(err))
		a.handleBadChatReply()
		return
	}

	result, ok := parseChatReply(body)
	if !ok {
		a.handleBadChatReply()
		return
	}

	a.mu.Lock()
	a.badChat.Good()
	if result.continuation != "" {
		a.continuation = result.continuation
	}
	a.mu.Unlock()

	a.tracker.SetConnected(true)

	if len(result.messages) > 0 {
		batch := service.Batch{
			Service:  chat.ServiceYouTube,
			Messages: result.messages,
			Authors:  result.authors,
		}
		select {
		case a.batches <- batch:
		case <-ctx.Done():
		}
	}
}

// handleBadChatReply counts the failure and, once the streak reaches the
// threshold while connected, forces one disconnect-and-retry cycle.
func (a *Adapter) handleBadChatReply() {
	a.mu.Lock()
	escalate := a.badChat.Bad()
	a.mu.Unlock()

	if !escalate {
		return
	}
	if a.tracker.State().Connected && a.tracker.StreamID() != "" {
		a.log.Warn("too many bad chat replies, disconnecting")
		a.tracker.ResetSession()
		a.Reconnect()
	}
}

func (a *Adapter) pollStreamPage(ctx context.Context) {
	if !a.tracker.Enabled() {
		return
	}
	broadcastID := a.tracker.StreamID()
	if broadcastID == "" {
		return
	}

	count, err := a.transport.viewers(ctx, broadcastID)
	if err != nil {
		a.mu.Lock()
		stale := a.badPage.Bad()
		a.mu.Unlock()
		if stale {
			a.tracker.Update(func(s *service.State) { s.ViewersCount = -1 })
		}
		return
	}

	a.mu.Lock()
	a.badPage.Good()
	a.mu.Unlock()
	a.tracker.Update(func(s *service.State) { s.ViewersCount = count })
}

var broadcastIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^youtu\.be/([^/?&#]+)`),
	regexp.MustCompile(`(?i)^(?:studio\.)?youtube\.com/video/([^/?&#]+)`),
	regexp.MustCompile(`(?i)^(?:studio\.)?youtube\.com/watch/([^/?&#]+)`),
	regexp.MustCompile(`(?i)^(?:studio\.)?youtube\.com/live/([^/?&#]+)`),
}

var broadcastIDShape = regexp.MustCompile(`^[A-Za-z0-9_\-]{11}$`)

// ExtractBroadcastID resolves raw user input to a broadcast id. Supported
// shapes: bare 11-character id, youtu.be short links, watch/video/live URLs
// and live_chat popout URLs with a v= query parameter. Returns "" when the
// input matches nothing.
func ExtractBroadcastID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if broadcastIDShape.MatchString(raw) {
		return raw
	}

	simple := simplifyURL(raw)

	if v := queryParam(raw, "v"); v != "" {
		return v
	}
	for _, re := range broadcastIDPatterns {
		if m := re.FindStringSubmatch(simple); m != nil {
			return m[len(m)-1]
		}
	}
	return ""
}

// simplifyURL strips scheme and www prefix so one pattern set matches all
// spellings.
func simplifyURL(raw string) string {
	s := raw
	for _, prefix := range []string{"https://", "http://"} {
		s = strings.TrimPrefix(s, prefix)
	}
	return strings.TrimPrefix(s, "www.")
}

func queryParam(raw, name string) string {
	idx := strings.IndexByte(raw, '?')
	if idx < 0 {
		return ""
	}
	for _, pair := range strings.Split(raw[idx+1:], "&") {
		if v, ok := strings.CutPrefix(pair, name+"="); ok {
			if hash := strings.IndexByte(v, '#'); hash >= 0 {
				v = v[:hash]
			}
			return v
		}
	}
	return ""
}

// httpTransport is the production transport: colly scrapes the HTML pages,
// resty posts to the innertube chat endpoint.
type httpTransport struct {
	client *resty.Client
}

func newHTTPTransport() *httpTransport {
	return &httpTransport{
		client: resty.New().
			SetTimeout(10 * time.Second).
			SetHeader("User-Agent", userAgent).
			SetHeader("Accept-Language", "en-US,en;q=0.9"),
	}
}

var (
	apiKeyRe       = regexp.MustCompile(`"INNERTUBE_API_KEY":"([^"]+)"`)
	continuationRe = regexp.MustCompile(`"continuation":"([^"]+)"`)
	watchingNowRe  = regexp.MustCompile(`([\d,.\x{00A0}\s]+)\s*watching now`)
	digitsRe       = regexp.MustCompile(`\d`)
)

func (t *httpTransport) scrape(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := colly.NewCollector(colly.UserAgent(userAgent))
	var body []byte
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	if err := c.Visit(url); err != nil {
		return nil, fmt.Errorf("visit %s: %w", url, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty page body from %s", url)
	}
	return body, nil
}

func (t *httpTransport) bootstrap(ctx context.Context, broadcastID string) (string, string, error) {
	body, err := t.scrape(ctx, "https://www.youtube.com/live_chat?v="+broadcastID)
	if err != nil {
		return "", "", err
	}

	keyMatch := apiKeyRe.FindSubmatch(body)
	contMatch := continuationRe.FindSubmatch(body)
	if keyMatch == nil || contMatch == nil {
		return "", "", errNotResolved
	}
	return string(keyMatch[1]), string(contMatch[1]), nil
}

func (t *httpTransport) poll(ctx context.Context, apiKey, continuation string) ([]byte, error) {
	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{
			"context": map[string]any{
				"client": map[string]any{
					"clientName":    "WEB",
					"clientVersion": "2.20240101.00.00",
				},
			},
			"continuation": continuation,
		}).
		Post("https://www.youtube.com/youtubei/v1/live_chat/get_live_chat?key=" + apiKey)
	if err != nil {
		return nil, fmt.Errorf("get_live_chat: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("get_live_chat: status %d", resp.StatusCode())
	}
	return resp.Body(), nil
}

func (t *httpTransport) viewers(ctx context.Context, broadcastID string) (int, error) {
	body, err := t.scrape(ctx, "https://www.youtube.com/watch?v="+broadcastID)
	if err != nil {
		return -1, err
	}

	m := watchingNowRe.FindSubmatch(body)
	if m == nil {
		return -1, errors.New("viewer count not found")
	}
	digits := strings.Join(digitsRe.FindAllString(string(m[1]), -1), "")
	if digits == "" {
		return -1, errors.New("viewer count not found")
	}
	var count int
	if _, err := fmt.Sscanf(digits, "%d", &count); err != nil {
		return -1, err
	}
	return count, nil
}
