package chat

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Flag marks a semantic property of a message.
type Flag string

const (
	// MarkedAsDeleted is set on a stored message once a deleter for its id
	// has been applied.
	MarkedAsDeleted Flag = "marked_as_deleted"

	// DeleterItem marks a contentless message whose sole purpose is to mark
	// the stored message with the same id as deleted. Deleters are applied
	// and discarded, never stored.
	DeleterItem Flag = "deleter_item"

	BotCommand     Flag = "bot_command"
	ServiceMessage Flag = "service_message"

	DonateSimple    Flag = "donate_simple"
	DonateWithText  Flag = "donate_with_text"
	DonateWithImage Flag = "donate_with_image"

	YouTubeChatMembership Flag = "youtube_chat_membership"
	TwitchAction          Flag = "twitch_action"
)

// FlagSet is the set of flags on a message. Serializes as a sorted array.
type FlagSet map[Flag]struct{}

func (s FlagSet) Has(f Flag) bool {
	_, ok := s[f]
	return ok
}

func (s FlagSet) MarshalJSON() ([]byte, error) {
	out := make([]string, 0, len(s))
	for f := range s {
		out = append(out, string(f))
	}
	sort.Strings(out)
	return json.Marshal(out)
}

func (s *FlagSet) UnmarshalJSON(data []byte) error {
	var flags []string
	if err := json.Unmarshal(data, &flags); err != nil {
		return err
	}
	out := make(FlagSet, len(flags))
	for _, f := range flags {
		out[Flag(f)] = struct{}{}
	}
	*s = out
	return nil
}

// DeletedPlaceholder replaces the body of a message once it is marked
// deleted.
const DeletedPlaceholder = "Message deleted"

// Message is the canonical representation of one chat item. ID and AuthorID
// are immutable once built; Contents and Flags may mutate when a deleter is
// applied.
type Message struct {
	ID       string    `json:"id"`
	Contents ContentList `json:"contents"`
	AuthorID string    `json:"authorId"`

	PublishedAt time.Time `json:"publishedAt"`
	ReceivedAt  time.Time `json:"receivedAt"`

	Flags FlagSet `json:"flags,omitempty"`

	// Destination names the guild/channel path for multi-channel services.
	Destination string `json:"destination,omitempty"`

	// BodyBackgroundColor forces a background color, used by donation
	// events. Empty means default.
	BodyBackgroundColor string `json:"bodyBackgroundColor,omitempty"`

	CustomAuthorName      string `json:"customAuthorName,omitempty"`
	CustomAuthorAvatarURL string `json:"customAuthorAvatarUrl,omitempty"`

	// Seq is the store-assigned monotonic sequence number. Zero until the
	// message is appended.
	Seq uint64 `json:"seq,omitempty"`
}

func (m *Message) HasFlag(f Flag) bool {
	return m.Flags.Has(f)
}

func (m *Message) SetFlag(f Flag, on bool) {
	if on {
		if m.Flags == nil {
			m.Flags = make(FlagSet)
		}
		m.Flags[f] = struct{}{}
		return
	}
	delete(m.Flags, f)
}

// SetPlainText replaces the whole body with a single unstyled text run.
func (m *Message) SetPlainText(text string) {
	m.Contents = []Content{Text{Text: text}}
}

// PlainText renders the body as a single string.
func (m *Message) PlainText() string {
	return PlainText(m.Contents)
}

// Builder assembles a Message inside an adapter. Adapters must produce a
// complete message per upstream item; partially-built messages never leave
// the adapter.
type Builder struct {
	msg    Message
	author *Author
}

// NewMessage starts a message attributed to author. ReceivedAt and
// PublishedAt default to now; PublishedAt is usually overridden from the
// upstream payload.
func NewMessage(author *Author) *Builder {
	now := time.Now()
	return &Builder{
		msg: Message{
			AuthorID:    author.ID,
			PublishedAt: now,
			ReceivedAt:  now,
		},
		author: author,
	}
}

// WithID sets the id from the platform-provided raw id, prefixed with the
// service type so ids from different platforms never collide. The same
// upstream item must always produce the same id: the store relies on that
// for dedup under polling overlap.
func (b *Builder) WithID(rawID string) *Builder {
	b.msg.ID = b.author.ServiceType.ID() + "/" + rawID
	return b
}

// WithGeneratedID assigns a random UUID id for platforms that provide none.
func (b *Builder) WithGeneratedID() *Builder {
	b.msg.ID = b.author.ServiceType.ID() + "/" + uuid.NewString()
	return b
}

func (b *Builder) Text(text string) *Builder {
	if text != "" {
		b.msg.Contents = append(b.msg.Contents, Text{Text: text})
	}
	return b
}

func (b *Builder) StyledText(text string, style TextStyle) *Builder {
	if text != "" {
		b.msg.Contents = append(b.msg.Contents, Text{Text: text, Style: style})
	}
	return b
}

func (b *Builder) Image(url string, height int) *Builder {
	if url != "" {
		b.msg.Contents = append(b.msg.Contents, Image{URL: url, Height: height})
	}
	return b
}

func (b *Builder) Hyperlink(text, url string) *Builder {
	if url != "" {
		b.msg.Contents = append(b.msg.Contents, Hyperlink{Text: text, URL: url})
	}
	return b
}

func (b *Builder) PublishedAt(t time.Time) *Builder {
	if !t.IsZero() {
		b.msg.PublishedAt = t
	}
	return b
}

func (b *Builder) WithFlag(f Flag) *Builder {
	b.msg.SetFlag(f, true)
	return b
}

func (b *Builder) Destination(dest string) *Builder {
	b.msg.Destination = dest
	return b
}

func (b *Builder) BodyBackgroundColor(color string) *Builder {
	b.msg.BodyBackgroundColor = color
	return b
}

// Build finalizes the message. A message with no id gets a generated one so
// every built message is storable.
func (b *Builder) Build() Message {
	if b.msg.ID == "" {
		b.msg.ID = b.author.ServiceType.ID() + "/" + uuid.NewString()
	}
	return b.msg
}

// Deleter builds a deleter message targeting the stored message with the
// given raw id. Deleters carry no content.
func Deleter(serviceType ServiceType, rawID string) Message {
	now := time.Now()
	m := Message{
		ID:          serviceType.ID() + "/" + rawID,
		PublishedAt: now,
		ReceivedAt:  now,
	}
	m.SetFlag(DeleterItem, true)
	return m
}
