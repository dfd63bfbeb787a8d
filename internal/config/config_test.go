package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
twitch:
  enabled: true
  channel: somechannel
`

func TestParseMinimal(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.True(t, cfg.Twitch.Enabled)
	assert.Equal(t, "somechannel", cfg.Twitch.Channel)
	assert.False(t, cfg.YouTube.Enabled)
	assert.False(t, cfg.Kick.Enabled)

	// Defaults.
	assert.Equal(t, 1000, cfg.Feed.Capacity)
	assert.Equal(t, "127.0.0.1:8356", cfg.Server.Addr)
	assert.Equal(t, 100, cfg.Recorder.BufferSize)
	assert.Equal(t, 60, cfg.Recorder.RotateMinutes)
	assert.Equal(t, "./data", cfg.Recorder.OutputDir)
	assert.Equal(t, 3, cfg.Uploader.MaxRetries)
}

func TestParseFull(t *testing.T) {
	cfg, err := Parse([]byte(`
youtube:
  enabled: true
  stream: https://www.youtube.com/watch?v=dQw4w9WgXcQ
twitch:
  enabled: true
  channel: somechannel
  client_id: abc
  oauth: oauth:def
kick:
  enabled: true
  channel: otherchannel
feed:
  capacity: 500
  announce_connections: true
server:
  addr: 0.0.0.0:9000
recorder:
  enabled: true
  output_dir: /tmp/chat
uploader:
  enabled: true
  delete_after_upload: true
s3:
  bucket: archive
  region: us-east-1
  access_key_id: AKIA
  secret_access_key: secret
`))
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Feed.Capacity)
	assert.True(t, cfg.Feed.AnnounceConnections)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, "/tmp/chat", cfg.Recorder.OutputDir)
	assert.True(t, cfg.Uploader.DeleteAfterUpload)
	assert.Equal(t, "archive", cfg.S3.Bucket)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "fromenv")
	t.Setenv("TWITCH_OAUTH", "oauth:token")

	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "fromenv", cfg.Twitch.Channel)
	assert.Equal(t, "oauth:token", cfg.Twitch.OAuth)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no service enabled",
			yaml: `feed: {capacity: 10}`,
			want: "at least one service",
		},
		{
			name: "enabled service without channel",
			yaml: "twitch:\n  enabled: true",
			want: "twitch.channel is required",
		},
		{
			name: "enabled youtube without stream",
			yaml: "youtube:\n  enabled: true",
			want: "youtube.stream is required",
		},
		{
			name: "uploader without recorder",
			yaml: minimalYAML + "\nuploader:\n  enabled: true",
			want: "uploader requires the recorder",
		},
		{
			name: "uploader without bucket",
			yaml: minimalYAML + "\nrecorder:\n  enabled: true\nuploader:\n  enabled: true",
			want: "s3.bucket is required",
		},
		{
			name: "static key without secret",
			yaml: minimalYAML + `
recorder:
  enabled: true
uploader:
  enabled: true
s3:
  bucket: b
  region: r
  access_key_id: AKIA
`,
			want: "s3.secret_access_key is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNegativeCapacityRejected(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + "\nfeed:\n  capacity: -5"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed.capacity")
}
