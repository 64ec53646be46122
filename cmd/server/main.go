package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/socially/speech-gateway/internal/analysis"
	"github.com/socially/speech-gateway/internal/audio"
	"github.com/socially/speech-gateway/internal/config"
	"github.com/socially/speech-gateway/internal/emotion"
	"github.com/socially/speech-gateway/internal/observability"
	"github.com/socially/speech-gateway/internal/resilience"
	"github.com/socially/speech-gateway/internal/stream"
	"github.com/socially/speech-gateway/internal/stt"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := observability.InitLogger(cfg.LogLevel, cfg.LogPretty)

	logger.Info().
		Str("port", cfg.Port).
		Str("ws_path", cfg.WSPath).
		Str("emotion_url", cfg.EmotionURL).
		Str("deepgram_model", cfg.DeepgramModel).
		Int("sample_rate", cfg.SampleRate).
		Int("frame_ms", cfg.FrameDurationMs).
		Bool("reframe", cfg.ReframeChunks).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Speech Gateway Service starting")

	// Root context for every session; cancelled on shutdown
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// Analysis engines are created once and shared by all sessions
	transcriber := stt.NewDeepgramTranscriber(cfg)

	emotionClient, err := emotion.NewClient(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create emotion engine client")
	}
	defer emotionClient.Close()

	// Start degraded rather than refusing to serve; results fall back to
	// neutral until the engine answers
	reconnect := &resilience.ReconnectConfig{
		MaxAttempts: cfg.ReconnectMaxAttempts,
		Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}
	if err := emotionClient.WaitReady(rootCtx, reconnect); err != nil {
		logger.Warn().Err(err).Msg("Emotion engine not ready, starting degraded")
	}

	dispatcher := analysis.NewDispatcher(transcriber, emotionClient, analysis.DispatcherConfig{
		MinAnalysis: time.Duration(cfg.MinAnalysisMs) * time.Millisecond,
		Timeout:     time.Duration(cfg.AnalysisTimeout) * time.Second,
	})

	readyCtx, readyCancel := context.WithTimeout(rootCtx, 5*time.Second)
	logger.Info().Bool("engines_ready", dispatcher.Ready(readyCtx)).Msg("Analysis engines initialised")
	readyCancel()

	// Keep models_loaded current for engines that recover after startup
	go dispatcher.WatchReadiness(rootCtx, 30*time.Second, 5*time.Second)

	classifier := audio.NewEnergyClassifier(&audio.VADConfig{
		EnergyThreshold: cfg.VADEnergyThreshold,
		SampleRate:      cfg.SampleRate,
		FrameSize:       cfg.FrameSamples(),
	})

	// Create HTTP server
	mux := http.NewServeMux()

	// Streaming endpoint
	mux.Handle(cfg.WSPath, stream.NewHandler(cfg, classifier, dispatcher))

	info := observability.ServiceInfo{Name: "speech-gateway", Version: version}

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler(info, dispatcher.ModelsLoaded))

	// Readiness endpoint
	mux.HandleFunc("/ready", observability.ReadinessHandler(info, dispatcher.DependencyChecks()...))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// No read/write timeouts: streaming sessions are long-lived and manage
	// their own write deadlines
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return rootCtx
		},
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s%s", cfg.Port, cfg.WSPath)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Stop accepting, then end open sessions. Shutdown does not wait for
	// hijacked WebSocket connections, so they are cancelled directly.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cancelRoot()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
