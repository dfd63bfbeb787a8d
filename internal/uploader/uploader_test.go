package uploader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateS3Key(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"twitch_20251230_1030.jsonl", "2025/12/30/twitch/twitch_20251230_1030.jsonl"},
		{"youtube_20240101_0000.jsonl", "2024/01/01/youtube/youtube_20240101_0000.jsonl"},
		{"kick_20260831_2359.jsonl", "2026/08/31/kick/kick_20260831_2359.jsonl"},
	}

	for _, tt := range tests {
		got, err := generateS3Key(tt.filename)
		require.NoError(t, err, tt.filename)
		assert.Equal(t, tt.want, got)
	}
}

func TestGenerateS3KeyInvalid(t *testing.T) {
	for _, filename := range []string{
		"noformat.jsonl",
		"twitch_baddate_1030.jsonl",
		"twitch_20251230_badtime.jsonl",
	} {
		_, err := generateS3Key(filename)
		assert.Error(t, err, filename)
	}
}
