// Command ingestctl is a small operator-facing CLI harness (spec §4.14): it
// wires a synthetic encoder source (deterministic test-pattern NAL units,
// silence AAC frames, both on a ticker) through the Supervisor against a
// real or in-process test ingest endpoint, printing on_metrics snapshots.
// It is the thin wrapper over the library analogous to the teacher's own
// main.go being a thin wrapper over CreateRTMPServer/RTMPServer.Start.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/AgustinSRG/rtmp-ingest-client/internal/config"
	"github.com/AgustinSRG/rtmp-ingest-client/internal/endpoint"
	"github.com/AgustinSRG/rtmp-ingest-client/internal/endpoint/youtube"
	"github.com/AgustinSRG/rtmp-ingest-client/internal/log"
	"github.com/AgustinSRG/rtmp-ingest-client/internal/mediapump"
	"github.com/AgustinSRG/rtmp-ingest-client/internal/metrics"
	"github.com/AgustinSRG/rtmp-ingest-client/internal/supervisor"
)

// loadDotEnv mirrors the teacher's deployment convention of sourcing
// secrets (stream key, control-plane JWT secret) from a .env file instead
// of the shell, so they never end up in process-list args or shell
// history. Unlike the teacher, nothing here is read as process-wide
// mutable config (spec §9) — .env values only seed this CLI's own flag
// defaults below; a missing file is not an error.
func loadDotEnv() {
	_ = godotenv.Load()
}

func main() {
	loadDotEnv()

	var (
		url             = flag.String("url", envDefault("INGEST_URL", "rtmp://127.0.0.1:1935/live"), "ingest URL (rtmp:// or rtmps://)")
		streamKey       = flag.String("key", os.Getenv("STREAM_KEY"), "stream key (required; also read from STREAM_KEY)")
		useYoutube      = flag.Bool("youtube", false, "apply the YouTube Live endpoint normalizer")
		chunkSize       = flag.Int("chunk-size", 4096, "outbound chunk size in bytes")
		maxReconnect    = flag.Int("max-reconnect", 5, "max reconnect attempts")
		initialBackoff  = flag.Duration("initial-backoff", 500*time.Millisecond, "initial reconnect backoff")
		publishTimeout  = flag.Duration("publish-timeout", 60*time.Second, "timeout awaiting NetStream.Publish.Start")
		keepAlive       = flag.Duration("keep-alive-interval", 10*time.Second, "keep-alive ping cadence")
		keepAliveIdle   = flag.Duration("keep-alive-idle", 8*time.Second, "idle duration before a keep-alive ping")
		debug           = flag.Bool("debug", false, "enable debug logging")
		coordinatorURL  = flag.String("control-url", os.Getenv("CONTROL_URL"), "optional control-plane coordinator websocket URL")
		controlSecret   = flag.String("control-secret", os.Getenv("CONTROL_SECRET"), "JWT signing secret for the control-plane uplink")
		redisAddr       = flag.String("redis-addr", os.Getenv("REDIS_ADDR"), "optional admin-bus Redis address")
		redisChannel    = flag.String("redis-channel", os.Getenv("REDIS_CHANNEL"), "admin-bus Redis channel")
		channel         = flag.String("channel", "cli-session", "stream identifier reported to the control plane")
	)
	flag.Parse()

	log.DebugEnabled = *debug

	if *streamKey == "" {
		fmt.Fprintln(os.Stderr, "ingestctl: -key is required")
		os.Exit(2)
	}

	ep, err := endpoint.Parse(*url)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ingestctl:", err)
		os.Exit(2)
	}
	if *useYoutube {
		ep = youtube.Normalizer{}.Normalize(ep)
	}

	var cp *config.ControlPlane
	if *coordinatorURL != "" || *redisAddr != "" {
		cp = &config.ControlPlane{
			CoordinatorURL: *coordinatorURL,
			SharedSecret:   *controlSecret,
			RedisAddr:      *redisAddr,
			RedisChannel:   *redisChannel,
		}
	}

	opts := []config.Option{
		config.WithChunkSize(*chunkSize),
		config.WithMaxReconnectAttempts(*maxReconnect),
		config.WithInitialBackoff(*initialBackoff),
		config.WithPublishStartTimeout(*publishTimeout),
		config.WithKeepAliveInterval(*keepAlive),
		config.WithKeepAliveIdleThreshold(*keepAliveIdle),
	}
	if cp != nil {
		opts = append(opts, config.WithControlPlane(*cp))
	}
	cfg := config.New(opts...)

	sv := supervisor.New(ep, *streamKey, cfg, false, *channel,
		func() (mediapump.Producer, mediapump.Producer) {
			return newTestPatternProducer(cfg.Preset.FPS), newSilenceProducer()
		},
		supervisor.Callbacks{
			OnPublishStarted: func() { log.Info("publish started") },
			OnDisconnected:   func(err error) { log.Error(err) },
			OnMetrics:        printSnapshot,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		sv.Stop()
		cancel()
	}()

	if err := sv.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "ingestctl: terminal error:", err)
		os.Exit(1)
	}
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printSnapshot(s metrics.Snapshot) {
	log.Info(fmt.Sprintf(
		"fps=%.1f bitrate=%.0fkbps queue=%.2fs reconnects=%d thermal=%s duration=%s",
		s.FPS, s.BitrateKbps, s.UploadQueueSeconds, s.ReconnectCount, s.Thermal, s.SessionDuration.Round(time.Second),
	))
}
