// Package config loads the application configuration: YAML file first, then
// environment overrides, then defaults, then validation.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	YouTube  YouTubeConfig  `yaml:"youtube"`
	Twitch   TwitchConfig   `yaml:"twitch"`
	Kick     KickConfig     `yaml:"kick"`
	Feed     FeedConfig     `yaml:"feed"`
	Server   ServerConfig   `yaml:"server"`
	Recorder RecorderConfig `yaml:"recorder"`
	S3       S3Config       `yaml:"s3"`
	Uploader UploaderConfig `yaml:"uploader"`
}

// YouTubeConfig holds the YouTube service settings.
type YouTubeConfig struct {
	Enabled bool `yaml:"enabled"`
	// Stream is raw user input: a watch URL, youtu.be link or bare video id.
	Stream string `yaml:"stream" env:"YOUTUBE_STREAM"`
}

// TwitchConfig holds the Twitch service settings.
type TwitchConfig struct {
	Enabled bool `yaml:"enabled"`
	// Channel is raw user input: a channel URL or bare login name.
	Channel string `yaml:"channel" env:"TWITCH_CHANNEL"`
	// ClientID and OAuth are only needed for stream info (viewer counts);
	// chat itself is read anonymously.
	ClientID string `yaml:"client_id" env:"TWITCH_CLIENT_ID"`
	OAuth    string `yaml:"oauth" env:"TWITCH_OAUTH"`
}

// KickConfig holds the Kick service settings.
type KickConfig struct {
	Enabled bool   `yaml:"enabled"`
	Channel string `yaml:"channel" env:"KICK_CHANNEL"`
}

// FeedConfig holds the aggregated feed settings.
type FeedConfig struct {
	// Capacity bounds the in-memory message window.
	Capacity int `yaml:"capacity"`
	// AnnounceConnections posts a synthetic feed message on every
	// connect/disconnect edge.
	AnnounceConnections bool `yaml:"announce_connections"`
}

// ServerConfig holds the consumer-facing HTTP/websocket server settings.
type ServerConfig struct {
	Addr string `yaml:"addr" env:"SERVER_ADDR"`
}

// RecorderConfig holds recorder settings. Recording is optional.
type RecorderConfig struct {
	Enabled         bool   `yaml:"enabled"`
	OutputDir       string `yaml:"output_dir"`
	RotateMinutes   int    `yaml:"rotate_minutes"`
	RotateMegabytes int    `yaml:"rotate_megabytes"`
	BufferSize      int    `yaml:"buffer_size"`
}

// S3Config holds S3 upload credentials and targets.
type S3Config struct {
	Bucket          string `yaml:"bucket" env:"S3_BUCKET"`
	Region          string `yaml:"region" env:"S3_REGION"`
	RoleARN         string `yaml:"role_arn" env:"AWS_ROLE_ARN"`
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY"`
}

// UploaderConfig holds uploader settings. Uploading is optional and requires
// the recorder.
type UploaderConfig struct {
	Enabled           bool `yaml:"enabled"`
	DeleteAfterUpload bool `yaml:"delete_after_upload"`
	MaxRetries        int  `yaml:"max_retries"`
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read, used by tests.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Feed.Capacity == 0 {
		c.Feed.Capacity = 1000
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8356"
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = 100
	}
	if c.Recorder.RotateMinutes == 0 {
		c.Recorder.RotateMinutes = 60
	}
	if c.Recorder.RotateMegabytes == 0 {
		c.Recorder.RotateMegabytes = 100
	}
	if c.Recorder.OutputDir == "" {
		c.Recorder.OutputDir = "./data"
	}
	if c.Uploader.MaxRetries == 0 {
		c.Uploader.MaxRetries = 3
	}
}

func (c *Config) validate() error {
	if !c.YouTube.Enabled && !c.Twitch.Enabled && !c.Kick.Enabled {
		return fmt.Errorf("at least one service must be enabled")
	}
	if c.YouTube.Enabled && c.YouTube.Stream == "" {
		return fmt.Errorf("youtube.stream is required when youtube is enabled")
	}
	if c.Twitch.Enabled && c.Twitch.Channel == "" {
		return fmt.Errorf("twitch.channel is required when twitch is enabled")
	}
	if c.Kick.Enabled && c.Kick.Channel == "" {
		return fmt.Errorf("kick.channel is required when kick is enabled")
	}
	if c.Feed.Capacity < 1 {
		return fmt.Errorf("feed.capacity must be positive")
	}

	if c.Uploader.Enabled {
		if !c.Recorder.Enabled {
			return fmt.Errorf("uploader requires the recorder to be enabled")
		}
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required when the uploader is enabled")
		}
		if c.S3.Region == "" {
			return fmt.Errorf("s3.region is required when the uploader is enabled")
		}
		if c.S3.RoleARN == "" && c.S3.AccessKeyID == "" {
			return fmt.Errorf("either s3.role_arn (OIDC) or s3.access_key_id (static) is required")
		}
		if c.S3.AccessKeyID != "" && c.S3.SecretAccessKey == "" {
			return fmt.Errorf("s3.secret_access_key is required when using access_key_id")
		}
	}

	return nil
}
