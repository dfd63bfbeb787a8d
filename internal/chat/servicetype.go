package chat

// ServiceType identifies the platform a message or author originated from.
type ServiceType int

const (
	ServiceUnknown ServiceType = iota

	// ServiceSoftware is the built-in pseudo-service used for synthetic
	// messages emitted by the application itself.
	ServiceSoftware

	ServiceYouTube
	ServiceTwitch
	ServiceKick
)

// ID returns the stable string identifier used as a prefix in message and
// author ids. Ids never change between releases; they end up in exported
// files and on the wire.
func (t ServiceType) ID() string {
	switch t {
	case ServiceSoftware:
		return "software"
	case ServiceYouTube:
		return "youtube"
	case ServiceTwitch:
		return "twitch"
	case ServiceKick:
		return "kick"
	}
	return "unknown"
}

// Name returns the human-readable platform name.
func (t ServiceType) Name() string {
	switch t {
	case ServiceSoftware:
		return "Software"
	case ServiceYouTube:
		return "YouTube"
	case ServiceTwitch:
		return "Twitch"
	case ServiceKick:
		return "Kick"
	}
	return "Unknown"
}

func (t ServiceType) String() string { return t.ID() }

func (t ServiceType) MarshalText() ([]byte, error) {
	return []byte(t.ID()), nil
}
