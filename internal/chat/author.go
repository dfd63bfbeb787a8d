package chat

// AuthorFlag marks a role the platform reported for an author.
type AuthorFlag string

const (
	AuthorChatOwner AuthorFlag = "chat_owner"
	AuthorModerator AuthorFlag = "moderator"
	AuthorSponsor   AuthorFlag = "sponsor"
	AuthorVerified  AuthorFlag = "verified"
)

// Author is the canonical representation of a platform account. Identity is
// the (ServiceType, ID) pair and is immutable after construction; the
// remaining fields may be updated as later messages reveal fresher data.
type Author struct {
	ServiceType ServiceType `json:"serviceType"`
	ID          string      `json:"id"`

	Name        string                  `json:"name"`
	AvatarURL   string                  `json:"avatarUrl,omitempty"`
	PageURL     string                  `json:"pageUrl,omitempty"`
	LeftBadges  []string                `json:"leftBadges,omitempty"`
	RightBadges []string                `json:"rightBadges,omitempty"`
	Flags       map[AuthorFlag]struct{} `json:"-"`

	NicknameColor           string `json:"nicknameColor,omitempty"`
	NicknameBackgroundColor string `json:"nicknameBackgroundColor,omitempty"`
}

// NewAuthor builds an author with the composite id "<service>/<rawID>".
func NewAuthor(serviceType ServiceType, rawID, name string) *Author {
	return &Author{
		ServiceType: serviceType,
		ID:          serviceType.ID() + "/" + rawID,
		Name:        name,
	}
}

func (a *Author) HasFlag(f AuthorFlag) bool {
	_, ok := a.Flags[f]
	return ok
}

func (a *Author) SetFlag(f AuthorFlag) {
	if a.Flags == nil {
		a.Flags = make(map[AuthorFlag]struct{})
	}
	a.Flags[f] = struct{}{}
}

// Update merges the updatable subset of from into a. ServiceType and ID are
// never touched. It returns the names of the fields that actually changed,
// empty when the two authors already agree.
func (a *Author) Update(from *Author) []string {
	var changed []string

	if from.Name != "" && from.Name != a.Name {
		a.Name = from.Name
		changed = append(changed, "name")
	}
	if from.AvatarURL != "" && from.AvatarURL != a.AvatarURL {
		a.AvatarURL = from.AvatarURL
		changed = append(changed, "avatarUrl")
	}
	if from.PageURL != "" && from.PageURL != a.PageURL {
		a.PageURL = from.PageURL
		changed = append(changed, "pageUrl")
	}
	if len(from.LeftBadges) > 0 && !equalStrings(from.LeftBadges, a.LeftBadges) {
		a.LeftBadges = append([]string(nil), from.LeftBadges...)
		changed = append(changed, "leftBadges")
	}
	if len(from.RightBadges) > 0 && !equalStrings(from.RightBadges, a.RightBadges) {
		a.RightBadges = append([]string(nil), from.RightBadges...)
		changed = append(changed, "rightBadges")
	}
	if from.NicknameColor != "" && from.NicknameColor != a.NicknameColor {
		a.NicknameColor = from.NicknameColor
		changed = append(changed, "nicknameColor")
	}
	if from.NicknameBackgroundColor != "" && from.NicknameBackgroundColor != a.NicknameBackgroundColor {
		a.NicknameBackgroundColor = from.NicknameBackgroundColor
		changed = append(changed, "nicknameBackgroundColor")
	}
	for f := range from.Flags {
		if !a.HasFlag(f) {
			a.SetFlag(f)
			changed = append(changed, string(f))
		}
	}

	return changed
}

// SoftwareAuthor is the author attached to synthetic application messages.
func SoftwareAuthor(name string) *Author {
	a := NewAuthor(ServiceSoftware, "software", name)
	a.SetFlag(AuthorVerified)
	return a
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
