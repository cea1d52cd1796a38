// Command sfu-control runs the SFU control plane: the Operator HTTP
// surface, the Administrator/participant socket, and the media-plane
// webhook receiver, wired against the Room Registry, Admission Engine,
// Moderation Engine, Transcription Pipeline, and Minutes Generator.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/sfu-control/sfu-control/internal/asr"
	"github.com/sfu-control/sfu-control/internal/bus"
	"github.com/sfu-control/sfu-control/internal/config"
	"github.com/sfu-control/sfu-control/internal/controlplane"
	"github.com/sfu-control/sfu-control/internal/identity"
	"github.com/sfu-control/sfu-control/internal/logging"
	"github.com/sfu-control/sfu-control/internal/mediaplane"
	"github.com/sfu-control/sfu-control/internal/minutes"
	"github.com/sfu-control/sfu-control/internal/ratelimit"
	"github.com/sfu-control/sfu-control/internal/sfuroom"
	"github.com/sfu-control/sfu-control/internal/summary"
	"github.com/sfu-control/sfu-control/internal/transcript"
)

func main() {
	// Load .env for local development; a missing file is not an error.
	envPaths := []string{".env", "../../.env", "../.env"}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("loaded environment file", "path", path)
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		slog.Error("failed to initialize logger", "error", err)
		os.Exit(1)
	}

	media := mediaplane.New(cfg.MediaPlaneAddr)

	var redisBus *bus.RedisBus
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisBus, err = bus.NewRedisBus(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			slog.Error("failed to connect to redis event bus", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	}

	hub := bus.NewHub(redisBus)
	registry := sfuroom.NewRegistry(hub, media)

	limiter, err := ratelimit.New(cfg.RateLimitOperator, cfg.RateLimitAdmin, redisClient)
	if err != nil {
		slog.Error("failed to construct rate limiter", "error", err)
		os.Exit(1)
	}

	var summarizer summary.Summarizer
	if cfg.SummarizerToken != "" {
		summarizer = summary.NewRemoteSummarizer(cfg.SummarizerURL, cfg.SummarizerToken)
	} else {
		slog.Warn("no summarizer token configured, falling back to local summarization")
		summarizer = summary.LocalSummarizer{}
	}

	// cp is assigned after construction; the closures below only run once
	// requests are being served, by which point it is non-nil.
	var cp *controlplane.ControlPlane
	transcriptFor := func(channelId string) ([]transcript.Chunk, bool) {
		if cp == nil {
			return nil, false
		}
		return cp.TranscriptFor(channelId)
	}
	roomActive := func(channelId string) bool {
		if cp == nil {
			return false
		}
		return cp.RoomActive(channelId)
	}
	minutesGen := minutes.New(summarizer, transcriptFor, roomActive)

	var asrClient *asr.Client
	var decoderFactory transcript.DecoderFactory
	if cfg.ASRURL != "" {
		asrClient = asr.New(cfg.ASRURL)
		decoderFactory = transcript.ExecDecoderFactory(cfg.DecoderBinPath)
	} else {
		slog.Warn("no ASR URL configured, transcription pipeline disabled")
	}

	issueSess := func() identity.SessionId {
		return identity.SessionId(uuid.NewString())
	}

	cp = controlplane.New(
		controlplane.Config{
			SharedSecret: cfg.OperatorSecret,
			InstanceId:   cfg.InstanceID,
			Version:      cfg.Version,
			JwksDomain:   cfg.JwksDomain,
			JwksAudience: cfg.JwksAudience,
		},
		registry,
		minutesGen,
		limiter,
		media,
		issueSess,
		asrClient,
		decoderFactory,
		cfg.ASRSampleRate,
	)

	router := cp.Router()

	srv := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: router,
	}

	go func() {
		slog.Info("sfu control plane starting", "addr", cfg.BindAddr, "instance_id", cfg.InstanceID, "version", cfg.Version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}
