package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/john/chatfeed/internal/chat"
)

type recordingListener struct {
	added   []chat.Message
	updated []struct {
		msg    chat.Message
		fields []string
	}
}

func (r *recordingListener) OnMessageAdded(msg chat.Message, _ chat.Author) {
	r.added = append(r.added, msg)
}

func (r *recordingListener) OnMessageUpdated(msg chat.Message, fields []string) {
	r.updated = append(r.updated, struct {
		msg    chat.Message
		fields []string
	}{msg, fields})
}

func newTestStore(capacity int) (*Store, *recordingListener) {
	s := New(capacity, zap.NewNop())
	l := &recordingListener{}
	s.AddListener(l)
	return s, l
}

func testMessage(author *chat.Author, rawID, text string) chat.Message {
	return chat.NewMessage(author).WithID(rawID).Text(text).Build()
}

func TestAppendIdempotent(t *testing.T) {
	s, l := newTestStore(10)
	author := chat.NewAuthor(chat.ServiceYouTube, "u1", "Alice")
	msg := testMessage(author, "m1", "hello")

	s.Append(msg, author)
	s.Append(msg, author)

	assert.Equal(t, 1, s.Len())
	assert.Len(t, l.added, 1, "duplicate append must not notify")
	assert.Empty(t, l.updated)

	got := s.GetLastMessages(10)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].PlainText())
}

func TestDeleterMarksMessage(t *testing.T) {
	s, l := newTestStore(10)
	author := chat.NewAuthor(chat.ServiceTwitch, "u1", "Bob")

	s.Append(testMessage(author, "m1", "rude words"), author)
	s.Append(chat.Deleter(chat.ServiceTwitch, "m1"), nil)

	assert.Equal(t, 1, s.Len(), "deleter itself must not be stored")
	require.Len(t, l.updated, 1)
	assert.ElementsMatch(t, []string{"markedAsDeleted", "contents"}, l.updated[0].fields)

	got := s.GetLastMessages(1)
	require.Len(t, got, 1)
	assert.True(t, got[0].HasFlag(chat.MarkedAsDeleted))
	assert.Equal(t, chat.DeletedPlaceholder, got[0].PlainText())
	assert.Equal(t, "twitch/u1", got[0].AuthorID, "author binding never changes")
}

func TestDeleterUnknownIDNoop(t *testing.T) {
	s, l := newTestStore(10)

	s.Append(chat.Deleter(chat.ServiceTwitch, "nope"), nil)

	assert.Equal(t, 0, s.Len())
	assert.Empty(t, l.added)
	assert.Empty(t, l.updated)
}

func TestDeleterAppliedOnce(t *testing.T) {
	s, l := newTestStore(10)
	author := chat.NewAuthor(chat.ServiceTwitch, "u1", "Bob")

	s.Append(testMessage(author, "m1", "x"), author)
	s.Append(chat.Deleter(chat.ServiceTwitch, "m1"), nil)
	s.Append(chat.Deleter(chat.ServiceTwitch, "m1"), nil)

	assert.Len(t, l.updated, 1)
}

func TestEvictionBound(t *testing.T) {
	const capacity = 5
	s, _ := newTestStore(capacity)
	author := chat.NewAuthor(chat.ServiceYouTube, "u1", "Alice")

	for i := 0; i < 20; i++ {
		s.Append(testMessage(author, fmt.Sprintf("m%02d", i), "x"), author)
	}

	assert.Equal(t, capacity, s.Len())

	got := s.GetLastMessages(capacity)
	require.Len(t, got, capacity)
	for i, m := range got {
		assert.Equal(t, fmt.Sprintf("youtube/m%02d", 15+i), m.ID, "most recent messages kept in order")
	}

	assert.False(t, s.Contains("youtube/m00"), "evicted id must be freed")

	// The author survives eviction of all its messages.
	_, ok := s.GetAuthor("youtube/u1")
	assert.True(t, ok)
}

func TestEvictionScenarioCapacityTwo(t *testing.T) {
	s, _ := newTestStore(2)
	author := chat.NewAuthor(chat.ServiceKick, "u1", "Dan")

	for _, id := range []string{"a", "b", "c"} {
		s.Append(testMessage(author, id, id), author)
	}

	got := s.GetLastMessages(10)
	require.Len(t, got, 2)
	assert.Equal(t, "kick/b", got[0].ID)
	assert.Equal(t, "kick/c", got[1].ID)
}

func TestAuthorMerge(t *testing.T) {
	s, l := newTestStore(10)

	first := chat.NewAuthor(chat.ServiceYouTube, "u1", "Alice")
	s.Append(testMessage(first, "m1", "one"), first)
	s.Append(testMessage(first, "m2", "two"), first)

	renamed := chat.NewAuthor(chat.ServiceYouTube, "u1", "Alice2")
	s.Append(testMessage(renamed, "m3", "three"), renamed)

	got, ok := s.GetAuthor("youtube/u1")
	require.True(t, ok)
	assert.Equal(t, "Alice2", got.Name)
	assert.Equal(t, "youtube/u1", got.ID)
	assert.Equal(t, chat.ServiceYouTube, got.ServiceType)

	// Both previously stored messages got a name-change notification.
	require.Len(t, l.updated, 2)
	for _, u := range l.updated {
		assert.Equal(t, []string{"name"}, u.fields)
	}
}

func TestAuthorMergeSameValuesNoNotify(t *testing.T) {
	s, l := newTestStore(10)
	author := chat.NewAuthor(chat.ServiceTwitch, "u1", "Bob")

	s.Append(testMessage(author, "m1", "x"), author)
	s.Append(testMessage(chat.NewAuthor(chat.ServiceTwitch, "u1", "Bob"), "m2", "y"), chat.NewAuthor(chat.ServiceTwitch, "u1", "Bob"))

	assert.Empty(t, l.updated)
}

func TestSequenceMonotonicAcrossEviction(t *testing.T) {
	s, _ := newTestStore(2)
	author := chat.NewAuthor(chat.ServiceYouTube, "u1", "Alice")

	for i := 0; i < 5; i++ {
		s.Append(testMessage(author, fmt.Sprintf("m%d", i), "x"), author)
	}

	got := s.GetLastMessages(2)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(4), got[0].Seq)
	assert.Equal(t, uint64(5), got[1].Seq, "sequence numbers are never reused after eviction")
}

func TestGetLastMessagesFewerThanAsked(t *testing.T) {
	s, _ := newTestStore(10)
	author := chat.NewAuthor(chat.ServiceYouTube, "u1", "Alice")
	s.Append(testMessage(author, "m1", "x"), author)

	assert.Len(t, s.GetLastMessages(100), 1)
	assert.Nil(t, s.GetLastMessages(0))
}

func TestClearKeepsAuthors(t *testing.T) {
	s, _ := newTestStore(10)
	author := chat.NewAuthor(chat.ServiceYouTube, "u1", "Alice")
	s.Append(testMessage(author, "m1", "x"), author)

	s.Clear()

	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Contains("youtube/m1"))
	_, ok := s.GetAuthor("youtube/u1")
	assert.True(t, ok)
}

func TestMessageWithoutIDDropped(t *testing.T) {
	s, l := newTestStore(10)
	author := chat.NewAuthor(chat.ServiceYouTube, "u1", "Alice")

	s.Append(chat.Message{AuthorID: author.ID}, author)

	assert.Equal(t, 0, s.Len())
	assert.Empty(t, l.added)
}
