package youtube

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/john/chatfeed/internal/chat"
	"github.com/john/chatfeed/internal/service"
)

func TestExtractBroadcastID(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"rSjMyeISW7w", "rSjMyeISW7w"},
		{" rSjMyeISW7w ", "rSjMyeISW7w"},
		{"https://youtu.be/rSjMyeISW7w", "rSjMyeISW7w"},
		{"https://www.youtube.com/watch?v=rSjMyeISW7w", "rSjMyeISW7w"},
		{"https://www.youtube.com/watch?v=rSjMyeISW7w&t=10s", "rSjMyeISW7w"},
		{"https://www.youtube.com/live/rSjMyeISW7w", "rSjMyeISW7w"},
		{"youtube.com/watch/rSjMyeISW7w", "rSjMyeISW7w"},
		{"https://studio.youtube.com/video/rSjMyeISW7w/livestreaming", "rSjMyeISW7w"},
		{"https://www.youtube.com/live_chat?is_popout=1&v=rSjMyeISW7w", "rSjMyeISW7w"},
		{"", ""},
		{"not a link", ""},
		{"https://example.com/watch?x=1", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractBroadcastID(tt.raw))
		})
	}
}

const sampleReply = `{
  "continuationContents": {
    "liveChatContinuation": {
      "continuations": [
        {"invalidationContinuationData": {"continuation": "next-token"}}
      ],
      "actions": [
        {
          "addChatItemAction": {
            "item": {
              "liveChatTextMessageRenderer": {
                "id": "msg-1",
                "timestampUsec": "1700000000000000",
                "authorExternalChannelId": "UCabc",
                "authorName": {"simpleText": "Alice"},
                "authorPhoto": {"thumbnails": [
                  {"url": "http://a/small.jpg"},
                  {"url": "http://a/big.jpg"}
                ]},
                "authorBadges": [
                  {"liveChatAuthorBadgeRenderer": {"icon": {"iconType": "MODERATOR"}}}
                ],
                "message": {"runs": [
                  {"text": "hello "},
                  {"emoji": {"image": {"thumbnails": [{"url": "http://e/smile.png"}]}}},
                  {"text": "world", "bold": true}
                ]}
              }
            }
          }
        },
        {"markChatItemAsDeletedAction": {"targetItemId": "msg-0"}}
      ]
    }
  }
}`

func TestParseChatReply(t *testing.T) {
	reply, ok := parseChatReply([]byte(sampleReply))
	require.True(t, ok)

	assert.Equal(t, "next-token", reply.continuation)
	require.Len(t, reply.messages, 2)
	require.Len(t, reply.authors, 2)

	msg := reply.messages[0]
	assert.Equal(t, "youtube/msg-1", msg.ID)
	assert.Equal(t, "hello world", msg.PlainText())
	require.Len(t, msg.Contents, 3)
	img, isImage := msg.Contents[1].(chat.Image)
	require.True(t, isImage)
	assert.Equal(t, "http://e/smile.png", img.URL)
	bold, isText := msg.Contents[2].(chat.Text)
	require.True(t, isText)
	assert.True(t, bold.Style.Bold)

	author := reply.authors[0]
	require.NotNil(t, author)
	assert.Equal(t, "youtube/UCabc", author.ID)
	assert.Equal(t, "Alice", author.Name)
	assert.Equal(t, "http://a/big.jpg", author.AvatarURL, "largest thumbnail wins")
	assert.True(t, author.HasFlag(chat.AuthorModerator))

	deleter := reply.messages[1]
	assert.True(t, deleter.HasFlag(chat.DeleterItem))
	assert.Equal(t, "youtube/msg-0", deleter.ID)
	assert.Nil(t, reply.authors[1])
}

func TestParseChatReplyMalformed(t *testing.T) {
	for _, body := range []string{"", "not json", "{}", `{"unrelated": true}`} {
		_, ok := parseChatReply([]byte(body))
		assert.False(t, ok, "body %q must count as bad reply", body)
	}
}

func TestParseChatReplyEmptyActionsIsValid(t *testing.T) {
	body := `{"continuationContents": {"liveChatContinuation": {
		"continuations": [{"timedContinuationData": {"continuation": "tok"}}]
	}}}`

	reply, ok := parseChatReply([]byte(body))
	require.True(t, ok)
	assert.Equal(t, "tok", reply.continuation)
	assert.Empty(t, reply.messages)
}

// fakeTransport counts network activity and plays back scripted replies.
type fakeTransport struct {
	calls   int
	replies [][]byte
	errs    []error
	next    int
}

func (f *fakeTransport) bootstrap(context.Context, string) (string, string, error) {
	f.calls++
	return "key", "token", nil
}

func (f *fakeTransport) poll(context.Context, string, string) ([]byte, error) {
	f.calls++
	i := f.next
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	f.next++
	if f.errs != nil && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return f.replies[i], nil
}

func (f *fakeTransport) viewers(context.Context, string) (int, error) {
	f.calls++
	return 0, errors.New("not implemented")
}

func newTestAdapter(cfg Config, transport transport) (*Adapter, chan service.Batch, chan service.StateChange) {
	batches := make(chan service.Batch, 16)
	changes := make(chan service.StateChange, 16)
	a := New(cfg, batches, changes, zap.NewNop())
	a.transport = transport
	return a, batches, changes
}

func TestDisabledAdapterMakesNoNetworkCalls(t *testing.T) {
	fake := &fakeTransport{}
	a, _, _ := newTestAdapter(Config{Enabled: false, Stream: "rSjMyeISW7w"}, fake)

	for i := 0; i < 10; i++ {
		a.pollChat(context.Background())
		a.pollStreamPage(context.Background())
	}

	assert.Zero(t, fake.calls)
	assert.Equal(t, service.NotConnected, a.ConnectionState())
}

func TestUnresolvedStreamMakesNoNetworkCalls(t *testing.T) {
	fake := &fakeTransport{}
	a, _, _ := newTestAdapter(Config{Enabled: true, Stream: "definitely not a link"}, fake)

	a.pollChat(context.Background())

	assert.Zero(t, fake.calls)
	assert.Equal(t, service.NotConnected, a.ConnectionState())
	assert.Equal(t, "The broadcast link or ID is not correct", a.StateDescription())
}

func TestConnectingBeforeFirstPayload(t *testing.T) {
	a, _, _ := newTestAdapter(Config{Enabled: true, Stream: "rSjMyeISW7w"}, &fakeTransport{})

	assert.Equal(t, service.Connecting, a.ConnectionState())
}

func TestValidPollConnectsAndEmitsBatch(t *testing.T) {
	fake := &fakeTransport{replies: [][]byte{[]byte(sampleReply)}}
	a, batches, changes := newTestAdapter(Config{Enabled: true, Stream: "rSjMyeISW7w"}, fake)

	a.pollChat(context.Background()) // bootstrap
	a.pollChat(context.Background()) // first payload

	assert.Equal(t, service.Connected, a.ConnectionState())

	require.Len(t, batches, 1)
	batch := <-batches
	assert.Equal(t, chat.ServiceYouTube, batch.Service)
	assert.Len(t, batch.Messages, 2)

	require.Len(t, changes, 1)
	change := <-changes
	assert.True(t, change.Connected)
	assert.Equal(t, "rSjMyeISW7w", change.StreamID)
}

func TestBadReplyStreakForcesSingleDisconnect(t *testing.T) {
	valid := []byte(sampleReply)
	bad := []byte("")

	fake := &fakeTransport{replies: [][]byte{valid, valid, valid, bad, bad, bad, bad}}
	a, _, changes := newTestAdapter(Config{Enabled: true, Stream: "rSjMyeISW7w"}, fake)
	a.badChat = service.NewBadReplyCounter(4)

	a.pollChat(context.Background()) // bootstrap
	for i := 0; i < 3; i++ {
		a.pollChat(context.Background())
	}
	assert.Equal(t, service.Connected, a.ConnectionState())
	<-changes // connected edge

	for i := 0; i < 4; i++ {
		a.pollChat(context.Background())
	}

	assert.Equal(t, service.Connecting, a.ConnectionState(), "session reset, ready to retry")

	require.Len(t, changes, 1, "exactly one disconnected transition")
	change := <-changes
	assert.False(t, change.Connected)

	// Per-session state was cleared.
	a.mu.Lock()
	assert.Empty(t, a.continuation)
	assert.Empty(t, a.apiKey)
	a.mu.Unlock()
}
