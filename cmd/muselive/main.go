// Command muselive is the main entry point for the muselive voice-session
// server. It streams audio from a capture source to a realtime voice model
// and renders the model's spoken replies, exposing metrics and health
// endpoints over HTTP while a session runs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/auralith/muselive/internal/config"
	"github.com/auralith/muselive/internal/health"
	"github.com/auralith/muselive/internal/observe"
	"github.com/auralith/muselive/internal/session"
	"github.com/auralith/muselive/internal/transcript"
	"github.com/auralith/muselive/pkg/audio"
	"github.com/auralith/muselive/pkg/audio/wavfile"
	"github.com/auralith/muselive/pkg/provider/live"
	"github.com/auralith/muselive/pkg/provider/live/gemini"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	inPath := flag.String("in", "input.wav", "WAV file used as the microphone source")
	outPath := flag.String("out", "output.wav", "WAV file the model's speech is rendered to")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "muselive: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "muselive: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("muselive starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "muselive"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Live provider ─────────────────────────────────────────────────────────
	provider, err := buildProvider(cfg.Provider)
	if err != nil {
		slog.Error("failed to build live provider", "err", err)
		return 1
	}

	// ── Transcript store (optional) ───────────────────────────────────────────
	var store *transcript.Store
	if cfg.Transcripts.Path != "" {
		store, err = transcript.OpenStore(ctx, cfg.Transcripts.Path)
		if err != nil {
			slog.Error("failed to open transcript store", "err", err)
			return 1
		}
		defer store.Close()
		slog.Info("transcript store open", "path", cfg.Transcripts.Path)
	}

	// ── Devices ───────────────────────────────────────────────────────────────
	capture := &wavfile.CaptureFile{Path: *inPath, Realtime: true}
	output := &wavfile.Sink{Path: *outPath}

	// ── Session controller ────────────────────────────────────────────────────
	sessionCfg := live.SessionConfig{
		Voice:               cfg.Provider.Voice,
		Instructions:        cfg.Session.Instructions,
		InputTranscription:  cfg.Session.InputTranscription,
		OutputTranscription: cfg.Session.OutputTranscription,
	}
	opts := []session.Option{
		session.WithLogger(logger),
		session.WithMetrics(metrics),
		session.WithStore(store),
	}
	if cfg.Session.FrameSize > 0 {
		opts = append(opts, session.WithFrameSize(cfg.Session.FrameSize))
	}
	controller := session.NewController(capture, output, provider, sessionCfg, opts...)

	// ── HTTP server (metrics + health) ────────────────────────────────────────
	var server *http.Server
	if cfg.Server.ListenAddr != "" {
		server = newHTTPServer(cfg, metrics, controller, store)
		go func() {
			slog.Info("http server listening", "addr", cfg.Server.ListenAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "err", err)
			}
		}()
	}

	// ── Run the session ───────────────────────────────────────────────────────
	printStartupSummary(cfg, *inPath, *outPath)

	if err := controller.Start(ctx); err != nil {
		slog.Error("failed to start session", "err", err)
		return 1
	}

	slog.Info("session running — press Ctrl+C to shut down")
	<-ctx.Done()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	controller.Stop()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
	}

	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildProvider constructs the live backend named in cfg.
func buildProvider(cfg config.ProviderConfig) (live.Provider, error) {
	switch cfg.Name {
	case "gemini-live":
		var opts []gemini.Option
		if cfg.Model != "" {
			opts = append(opts, gemini.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
		}
		return gemini.New(cfg.APIKey, opts...), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}

// ── HTTP wiring ───────────────────────────────────────────────────────────────

func newHTTPServer(cfg *config.Config, metrics *observe.Metrics, controller *session.Controller, store *transcript.Store) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	var checkers []health.Checker
	if store != nil {
		checkers = append(checkers, health.Checker{
			Name: "transcripts",
			Check: func(ctx context.Context) error {
				_, err := store.SessionFragments(ctx, "healthcheck", 1)
				return err
			},
		})
	}
	h := health.New(func() string { return string(controller.State()) }, checkers...)
	h.Register(mux)

	return &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, inPath, outPath string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        muselive — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Provider", cfg.Provider.Name)
	printField("Model", cfg.Provider.Model)
	printField("Voice", cfg.Provider.Voice)
	printField("Mic source", inPath)
	printField("Speech out", outPath)
	frameSize := cfg.Session.FrameSize
	if frameSize == 0 {
		frameSize = audio.DefaultFrameSize
	}
	printField("Frame size", fmt.Sprintf("%d samples", frameSize))
	if cfg.Transcripts.Path != "" {
		printField("Transcripts", cfg.Transcripts.Path)
	} else {
		printField("Transcripts", "(in-memory only)")
	}
	if cfg.Server.ListenAddr != "" {
		printField("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(name, value string) {
	if value == "" {
		value = "(default)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", name, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
