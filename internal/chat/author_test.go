package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorUpdateMergesOnlyUpdatableFields(t *testing.T) {
	a := NewAuthor(ServiceYouTube, "u1", "Alice")
	a.AvatarURL = "http://a/1.png"

	from := NewAuthor(ServiceYouTube, "u1", "Alice2")
	from.AvatarURL = "http://a/2.png"
	from.SetFlag(AuthorModerator)

	changed := a.Update(from)

	assert.ElementsMatch(t, []string{"name", "avatarUrl", "moderator"}, changed)
	assert.Equal(t, "Alice2", a.Name)
	assert.Equal(t, "http://a/2.png", a.AvatarURL)
	assert.True(t, a.HasFlag(AuthorModerator))
	assert.Equal(t, "youtube/u1", a.ID)
	assert.Equal(t, ServiceYouTube, a.ServiceType)
}

func TestAuthorUpdateNoChanges(t *testing.T) {
	a := NewAuthor(ServiceTwitch, "u1", "Bob")
	from := NewAuthor(ServiceTwitch, "u1", "Bob")

	assert.Empty(t, a.Update(from))
}

func TestAuthorUpdateEmptyFieldsDoNotClear(t *testing.T) {
	a := NewAuthor(ServiceKick, "u1", "Carol")
	a.AvatarURL = "http://a/1.png"
	a.LeftBadges = []string{"http://b/mod.png"}

	from := NewAuthor(ServiceKick, "u1", "")

	changed := a.Update(from)

	assert.Empty(t, changed)
	assert.Equal(t, "Carol", a.Name)
	assert.Equal(t, "http://a/1.png", a.AvatarURL)
}

func TestSoftwareAuthor(t *testing.T) {
	a := SoftwareAuthor("chatfeed")

	assert.Equal(t, ServiceSoftware, a.ServiceType)
	assert.Equal(t, "software/software", a.ID)
	assert.True(t, a.HasFlag(AuthorVerified))
}
