package youtube

import (
	"fmt"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/john/chatfeed/internal/chat"
)

type chatReply struct {
	continuation string
	messages     []chat.Message
	authors      []*chat.Author
}

// parseChatReply extracts messages, authors and the next continuation from a
// get_live_chat reply. ok is false for structurally invalid payloads (no
// liveChatContinuation at all); a valid payload with zero actions is fine
// and keeps the bad-reply counter at zero.
func parseChatReply(body []byte) (chatReply, bool) {
	if !gjson.ValidBytes(body) {
		return chatReply{}, false
	}
	root := gjson.ParseBytes(body)

	cont := root.Get("continuationContents.liveChatContinuation")
	if !cont.Exists() {
		return chatReply{}, false
	}

	var reply chatReply

	cont.Get("continuations").ForEach(func(_, c gjson.Result) bool {
		for _, kind := range []string{"invalidationContinuationData", "timedContinuationData", "reloadContinuationData"} {
			if token := c.Get(kind + ".continuation"); token.Exists() {
				reply.continuation = token.String()
				return false
			}
		}
		return true
	})

	cont.Get("actions").ForEach(func(_, action gjson.Result) bool {
		if item := action.Get("addChatItemAction.item"); item.Exists() {
			parseChatItem(item, &reply)
		}
		if target := action.Get("markChatItemAsDeletedAction.targetItemId"); target.Exists() {
			reply.messages = append(reply.messages, chat.Deleter(chat.ServiceYouTube, target.String()))
			reply.authors = append(reply.authors, nil)
		}
		return true
	})

	return reply, true
}

func parseChatItem(item gjson.Result, reply *chatReply) {
	if r := item.Get("liveChatTextMessageRenderer"); r.Exists() {
		if msg, author, ok := parseTextMessage(r); ok {
			reply.messages = append(reply.messages, msg)
			reply.authors = append(reply.authors, author)
		}
		return
	}
	if r := item.Get("liveChatPaidMessageRenderer"); r.Exists() {
		if msg, author, ok := parsePaidMessage(r); ok {
			reply.messages = append(reply.messages, msg)
			reply.authors = append(reply.authors, author)
		}
		return
	}
	if r := item.Get("liveChatMembershipItemRenderer"); r.Exists() {
		if msg, author, ok := parseMembershipItem(r); ok {
			reply.messages = append(reply.messages, msg)
			reply.authors = append(reply.authors, author)
		}
	}
}

func parseTextMessage(r gjson.Result) (chat.Message, *chat.Author, bool) {
	author, ok := parseAuthor(r)
	if !ok {
		return chat.Message{}, nil, false
	}

	b := chat.NewMessage(author).
		WithID(r.Get("id").String()).
		PublishedAt(timestampUsec(r.Get("timestampUsec")))
	appendRuns(b, r.Get("message.runs"))

	msg := b.Build()
	if len(msg.Contents) == 0 {
		return chat.Message{}, nil, false
	}
	return msg, author, true
}

func parsePaidMessage(r gjson.Result) (chat.Message, *chat.Author, bool) {
	author, ok := parseAuthor(r)
	if !ok {
		return chat.Message{}, nil, false
	}

	b := chat.NewMessage(author).
		WithID(r.Get("id").String()).
		PublishedAt(timestampUsec(r.Get("timestampUsec"))).
		WithFlag(chat.DonateWithText).
		StyledText(r.Get("purchaseAmountText.simpleText").String()+" ", chat.TextStyle{Bold: true})
	appendRuns(b, r.Get("message.runs"))

	if bg := r.Get("bodyBackgroundColor"); bg.Exists() {
		b.BodyBackgroundColor(argbToHex(bg.Uint()))
	}

	return b.Build(), author, true
}

func parseMembershipItem(r gjson.Result) (chat.Message, *chat.Author, bool) {
	author, ok := parseAuthor(r)
	if !ok {
		return chat.Message{}, nil, false
	}

	b := chat.NewMessage(author).
		WithID(r.Get("id").String()).
		PublishedAt(timestampUsec(r.Get("timestampUsec"))).
		WithFlag(chat.YouTubeChatMembership).
		WithFlag(chat.ServiceMessage)
	appendRuns(b, r.Get("headerSubtext.runs"))
	appendRuns(b, r.Get("message.runs"))

	msg := b.Build()
	if len(msg.Contents) == 0 {
		return chat.Message{}, nil, false
	}
	return msg, author, true
}

func parseAuthor(r gjson.Result) (*chat.Author, bool) {
	channelID := r.Get("authorExternalChannelId").String()
	name := r.Get("authorName.simpleText").String()
	if channelID == "" || name == "" {
		return nil, false
	}

	author := chat.NewAuthor(chat.ServiceYouTube, channelID, name)
	author.PageURL = "https://www.youtube.com/channel/" + channelID

	// The largest thumbnail is listed last.
	thumbs := r.Get("authorPhoto.thumbnails").Array()
	if len(thumbs) > 0 {
		author.AvatarURL = thumbs[len(thumbs)-1].Get("url").String()
	}

	r.Get("authorBadges").ForEach(func(_, badge gjson.Result) bool {
		renderer := badge.Get("liveChatAuthorBadgeRenderer")
		switch renderer.Get("icon.iconType").String() {
		case "OWNER":
			author.SetFlag(chat.AuthorChatOwner)
		case "MODERATOR":
			author.SetFlag(chat.AuthorModerator)
		case "VERIFIED":
			author.SetFlag(chat.AuthorVerified)
		}
		// Membership badges carry a custom thumbnail instead of an icon.
		if url := renderer.Get("customThumbnail.thumbnails.0.url"); url.Exists() {
			author.SetFlag(chat.AuthorSponsor)
			author.LeftBadges = append(author.LeftBadges, url.String())
		}
		return true
	})

	return author, true
}

// appendRuns converts message.runs into content pieces: text runs keep their
// bold/italics styling, emoji runs become inline images.
func appendRuns(b *chat.Builder, runs gjson.Result) {
	runs.ForEach(func(_, run gjson.Result) bool {
		if text := run.Get("text"); text.Exists() {
			b.StyledText(text.String(), chat.TextStyle{
				Bold:   run.Get("bold").Bool(),
				Italic: run.Get("italics").Bool(),
			})
			return true
		}
		if emoji := run.Get("emoji"); emoji.Exists() {
			thumbs := emoji.Get("image.thumbnails").Array()
			if len(thumbs) > 0 {
				b.Image(thumbs[len(thumbs)-1].Get("url").String(), 24)
			}
		}
		return true
	})
}

func timestampUsec(v gjson.Result) time.Time {
	usec, err := strconv.ParseInt(v.String(), 10, 64)
	if err != nil || usec <= 0 {
		return time.Time{}
	}
	return time.UnixMicro(usec)
}

func argbToHex(argb uint64) string {
	return fmt.Sprintf("#%06x", argb&0xFFFFFF)
}
