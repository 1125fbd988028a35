package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/javaarchive/togetherfin/internal/core/domain"
	"github.com/javaarchive/togetherfin/internal/core/services"
	"github.com/javaarchive/togetherfin/internal/stream"
	"github.com/javaarchive/togetherfin/pkg/config"
	"github.com/javaarchive/togetherfin/pkg/crypto"
	"github.com/javaarchive/togetherfin/pkg/logger"
)

func main() {
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/togetherfin/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	if err := crypto.SelfTest(); err != nil {
		log.Fatalw("crypto self test failed", "error", err)
	}

	if cfg.Relay.URL == "" || cfg.Relay.RoomID == "" || cfg.Relay.RoomKey == "" {
		log.Fatal("relay.url, relay.room_id and relay.room_key must be configured for the host agent")
	}
	if cfg.Upstream.ServerURL == "" || cfg.Upstream.Token == "" {
		log.Fatal("upstream.server_url and upstream.token must be configured for the host agent")
	}
	if len(cfg.Profiles) == 0 {
		log.Fatal("at least one profile must be configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	upstream := stream.NewUpstreamClient(stream.UpstreamConfig{
		ServerURL:      cfg.Upstream.ServerURL,
		Token:          cfg.Upstream.Token,
		DeviceID:       cfg.Upstream.DeviceID,
		RequestTimeout: cfg.Upstream.RequestTimeout,
	}, log)
	defer upstream.Close()

	roomID := domain.RoomID(cfg.Relay.RoomID)
	relayClient := stream.NewRelayClient(cfg.Relay.URL, roomID, cfg.Relay.RoomKey, log)

	if err := relayClient.Open(ctx, cfg.Relay.OwnerClaim); err != nil {
		log.Fatalw("failed to open room on relay", "room_id", roomID, "error", err)
	}
	log.Infow("room registered", "room_id", roomID)

	roomClient, err := stream.NewRoomClient(cfg.Relay.URL, roomID, relayClient.SessionKey(), log)
	if err != nil {
		log.Fatalw("failed to build room client", "error", err)
	}
	if err := roomClient.Connect(ctx); err != nil {
		log.Fatalw("failed to connect to room", "error", err)
	}
	defer roomClient.Close()

	syncSvc := services.NewSyncService(cfg.Sync.MaxDrift, cfg.Sync.MaxDriftPaused, log)
	player := stream.NewClockPlayer()

	profiles := make([]domain.Profile, 0, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		profiles = append(profiles, domain.Profile{
			Name:         p.Name,
			MaxWidth:     p.MaxWidth,
			VideoBitRate: p.VideoBitRate,
			AudioCodec:   p.AudioCodec,
			AudioBitRate: p.AudioBitRate,
		})
	}

	session := stream.NewSession(stream.SessionConfig{
		Profiles:     profiles,
		PastBuffer:   cfg.Sync.PastBuffer,
		FutureBuffer: cfg.Sync.FutureBuffer,
		TickInterval: cfg.Sync.ResyncMin,
		RoomKey:      cfg.Relay.RoomKey,
	}, upstream, relayClient, roomClient, syncSvc, player, log)

	for _, item := range cfg.Queue {
		session.Enqueue(domain.PlayableItem{
			ItemID:        item.ItemID,
			MediaSourceID: item.MediaSourceID,
			AudioTrack:    item.AudioTrack,
			SubtitleTrack: item.SubtitleTrack,
			Name:          item.Name,
			Year:          item.Year,
			DurationSec:   item.DurationSec,
		})
	}

	if len(cfg.Queue) > 0 {
		if err := session.PlayNext(ctx); err != nil {
			log.Fatalw("failed to start first item", "error", err)
		}
	}

	go func() {
		if err := session.Run(ctx); err != nil && err != context.Canceled {
			log.Errorw("session loop exited", "error", err)
		}
	}()

	// Guest messages arrive on the room channel; the agent just logs them.
	go func() {
		for ev := range roomClient.Events() {
			log.Debugw("room event", "kind", ev.Kind.String())
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Infow("Received shutdown signal", "signal", sig)

	session.Stop()
	cancel()

	if err := relayClient.Close(context.Background()); err != nil {
		log.Warnw("failed to close room on relay", "error", err)
	}

	log.Info("Togetherfin host agent stopped")
}
