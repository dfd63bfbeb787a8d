package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/john/chatfeed/internal/aggregator"
	"github.com/john/chatfeed/internal/config"
	"github.com/john/chatfeed/internal/recorder"
	"github.com/john/chatfeed/internal/service"
	"github.com/john/chatfeed/internal/service/kick"
	"github.com/john/chatfeed/internal/service/twitch"
	"github.com/john/chatfeed/internal/service/youtube"
	"github.com/john/chatfeed/internal/store"
	"github.com/john/chatfeed/internal/uploader"
	"github.com/john/chatfeed/internal/wsserver"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("chatfeed starting")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	batches := make(chan service.Batch, 64)
	changes := make(chan service.StateChange, 16)

	var services []service.Service

	if cfg.YouTube.Enabled {
		yt := youtube.New(youtube.Config{
			Enabled: true,
			Stream:  cfg.YouTube.Stream,
		}, batches, changes, log.Named("youtube"))
		services = append(services, yt)
		log.Info("youtube enabled", zap.String("stream", cfg.YouTube.Stream))
	}

	if cfg.Twitch.Enabled {
		tw := twitch.New(twitch.Config{
			Enabled:  true,
			Channel:  cfg.Twitch.Channel,
			ClientID: cfg.Twitch.ClientID,
			OAuth:    cfg.Twitch.OAuth,
		}, batches, changes, log.Named("twitch"))
		services = append(services, tw)
		log.Info("twitch enabled", zap.String("channel", cfg.Twitch.Channel))
	}

	if cfg.Kick.Enabled {
		kc := kick.New(kick.Config{
			Enabled: true,
			Channel: cfg.Kick.Channel,
		}, batches, changes, log.Named("kick"))
		services = append(services, kc)
		log.Info("kick enabled", zap.String("channel", cfg.Kick.Channel))
	}

	st := store.New(cfg.Feed.Capacity, log.Named("store"))
	agg := aggregator.New(st, services, batches, changes, cfg.Feed.AnnounceConnections, log.Named("aggregator"))

	server := wsserver.New(cfg.Server.Addr, st, services, agg, log.Named("server"))
	st.AddListener(server)
	agg.SetStateChangeHook(server.OnStateChange)

	var wg sync.WaitGroup

	fileChan := make(chan string, 100)

	if cfg.Recorder.Enabled {
		tap := recorder.NewTap(cfg.Recorder.BufferSize*2, log.Named("recorder"))
		st.AddListener(tap)

		rec := recorder.New(
			cfg.Recorder.OutputDir,
			cfg.Recorder.BufferSize,
			cfg.Recorder.RotateMinutes,
			cfg.Recorder.RotateMegabytes,
			log.Named("recorder"),
		)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rec.Start(ctx, tap.Rows(), fileChan); err != nil && err != context.Canceled {
				log.Error("recorder stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Uploader.Enabled {
		var up *uploader.Uploader
		if cfg.S3.RoleARN != "" {
			log.Info("using OIDC authentication", zap.String("role", cfg.S3.RoleARN))
			up, err = uploader.New(ctx, cfg.S3.Bucket, cfg.S3.Region, cfg.S3.RoleARN,
				cfg.Uploader.DeleteAfterUpload, cfg.Uploader.MaxRetries, log.Named("uploader"))
		} else {
			log.Warn("using static AWS credentials, consider migrating to OIDC")
			up, err = uploader.NewWithStaticCredentials(ctx, cfg.S3.Bucket, cfg.S3.Region,
				cfg.S3.AccessKeyID, cfg.S3.SecretAccessKey,
				cfg.Uploader.DeleteAfterUpload, cfg.Uploader.MaxRetries, log.Named("uploader"))
		}
		if err != nil {
			log.Fatal("create uploader", zap.Error(err))
		}

		if err := up.ScanAndUploadExisting(ctx, cfg.Recorder.OutputDir); err != nil {
			log.Warn("scan for existing files", zap.Error(err))
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := up.Start(ctx, fileChan); err != nil && err != context.Canceled {
				log.Error("uploader stopped", zap.Error(err))
			}
		}()
	}

	for _, svc := range services {
		svc := svc
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Start(ctx); err != nil && err != context.Canceled {
				log.Error("service stopped", zap.Stringer("service", svc.Type()), zap.Error(err))
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := agg.Run(ctx); err != nil && err != context.Canceled {
			log.Error("aggregator stopped", zap.Error(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Error("consumer server stopped", zap.Error(err))
		}
	}()

	log.Info("all components started")

	<-sigChan
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shut down consumer server", zap.Error(err))
	}

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("all components stopped")
	case <-shutdownCtx.Done():
		log.Warn("shutdown timeout exceeded, forcing exit")
	}
}
