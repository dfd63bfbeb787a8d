package chat

import (
	"encoding/json"
	"fmt"
)

// Content is one piece of a message body. It is a closed union: the only
// implementations are Text, Image and Hyperlink in this package.
type Content interface {
	isContent()
}

// TextStyle holds optional inline styling for text runs.
type TextStyle struct {
	Bold   bool `json:"bold,omitempty"`
	Italic bool `json:"italic,omitempty"`
}

// Text is a plain text run.
type Text struct {
	Text  string    `json:"text"`
	Style TextStyle `json:"style,omitempty"`
}

// Image is an inline image, typically an emote.
type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height,omitempty"`
}

// Hyperlink is a clickable link with display text.
type Hyperlink struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

func (Text) isContent()      {}
func (Image) isContent()     {}
func (Hyperlink) isContent() {}

func (c Text) MarshalJSON() ([]byte, error) {
	type plain Text
	return marshalContent("text", plain(c))
}

func (c Image) MarshalJSON() ([]byte, error) {
	type plain Image
	return marshalContent("image", plain(c))
}

func (c Hyperlink) MarshalJSON() ([]byte, error) {
	type plain Hyperlink
	return marshalContent("hyperlink", plain(c))
}

func marshalContent(typ string, v any) ([]byte, error) {
	inner, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(inner, &m); err != nil {
		return nil, err
	}
	m["type"] = typ
	return json.Marshal(m)
}

// ContentList is a message body. The type tag written by MarshalJSON makes
// the union decodable again, so consumers can round-trip messages.
type ContentList []Content

func (l *ContentList) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}

	out := make(ContentList, 0, len(raws))
	for _, raw := range raws {
		var tag struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &tag); err != nil {
			return err
		}

		switch tag.Type {
		case "text":
			type plain Text
			var v plain
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			out = append(out, Text(v))
		case "image":
			type plain Image
			var v plain
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			out = append(out, Image(v))
		case "hyperlink":
			type plain Hyperlink
			var v plain
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			out = append(out, Hyperlink(v))
		default:
			return fmt.Errorf("unknown content type %q", tag.Type)
		}
	}

	*l = out
	return nil
}

// PlainText renders contents as a single string, ignoring images.
func PlainText(contents []Content) string {
	var out string
	for _, c := range contents {
		switch c := c.(type) {
		case Text:
			out += c.Text
		case Hyperlink:
			out += c.Text
		}
	}
	return out
}
