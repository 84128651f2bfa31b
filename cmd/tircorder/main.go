package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/tircorder/tircorder/internal/api"
	"github.com/tircorder/tircorder/internal/config"
	"github.com/tircorder/tircorder/internal/convert"
	"github.com/tircorder/tircorder/internal/governor"
	"github.com/tircorder/tircorder/internal/pipeline"
	"github.com/tircorder/tircorder/internal/store"
	"github.com/tircorder/tircorder/internal/transcribe"
)

var version = "dev"

func main() {
	startTime := time.Now()

	// Launcher-compatible flags plus service-level overrides. The env vars
	// behind the overrides are documented on config.Config.
	var (
		serverMode   = flag.Bool("server", false, "run the server only")
		clientMode   = flag.Bool("client", false, "run the capture client only")
		bothMode     = flag.Bool("both", false, "run server and client")
		serverScript = flag.String("server-script", "", "legacy launcher option, ignored")
		dataDir      = flag.String("data-dir", "", "directory to watch for recordings and transcripts")
		deviceID     = flag.Int("device-id", -1, "audio input device id for the capture client")
		outputDir    = flag.String("output-dir", "", "directory for capture client recordings")
		webuiURL     = flag.String("webui-url", "", "WhisperX-WebUI base URL; selects the webui backend")
		webuiPath    = flag.String("webui-path", "/_transcribe_file", "transcription endpoint path for WhisperX-WebUI")

		httpAddr     = flag.String("http-addr", "", "HTTP listen address (overrides TIRCORDER_HTTP_ADDR)")
		logLevel     = flag.String("log-level", "", "log level (overrides TIRCORDER_LOG_LEVEL)")
		statePath    = flag.String("state-db", "", "state store path (overrides TIRCORDER_STATE_DB)")
		settingsFlag = flag.String("config", "", "settings document path (overrides TIRCORDER_CONFIG_PATH)")
		envFile      = flag.String("env-file", "", "env file to load before reading the environment")
	)
	flag.Parse()

	// Config
	cfg, err := config.Load(config.Overrides{
		EnvFile:      *envFile,
		HTTPAddr:     *httpAddr,
		LogLevel:     *logLevel,
		StorePath:    *statePath,
		SettingsPath: *settingsFlag,
	})
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("tircorder starting")

	mode, err := resolveMode(*serverMode, *clientMode, *bothMode)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid mode selection")
	}
	switch mode {
	case modeClient:
		log.Fatal().Msg("capture client is not part of this binary; record with the standalone client and point --data-dir at its output folder")
	case modeBoth:
		log.Warn().Msg("capture client is not part of this binary; running server only")
	}
	if *serverScript != "" {
		log.Warn().Str("script", *serverScript).Msg("--server-script is a launcher-era option, ignored")
	}
	if *deviceID >= 0 {
		log.Warn().Int("device_id", *deviceID).Msg("--device-id applies to the capture client, ignored")
	}

	// Settings document
	settingsPath := config.ResolveSettingsPath(cfg.SettingsPath)
	settings, found, err := config.LoadSettings(settingsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load settings document")
	}
	if !found {
		log.Info().Str("path", settingsPath).Msg("no settings document, using defaults")
	}
	if *webuiURL != "" {
		settings.Transcription.Method = config.MethodWebUI
		settings.Transcription.WebUI.BaseURL = *webuiURL
		settings.Transcription.WebUI.TranscribePath = *webuiPath
	}

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// State store
	storeLog := log.With().Str("component", "store").Logger()
	st, err := store.Open(store.Options{Path: cfg.StorePath, Log: storeLog})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open state store")
	}
	defer st.Close()

	// Primary data dir: --data-dir, falling back to the client's
	// --output-dir so a dual-role host watches its own recordings.
	primary := *dataDir
	if primary == "" {
		primary = *outputDir
	}
	if err := registerFolders(ctx, st, settings, primary, log); err != nil {
		log.Fatal().Err(err).Msg("no recording folders configured")
	}

	// Transcription backend
	backend, err := buildBackend(cfg, settings, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise transcription backend")
	}
	log.Info().Str("backend", backend.Name()).Msg("transcription backend ready")

	cpu := governor.NewCPUMonitor(governor.CPUMonitorOptions{
		MaxPercent:    cfg.CPUThreshold,
		CheckInterval: cfg.CPUCheckInterval,
		Log:           log,
	})

	// Pipeline
	pipe, err := pipeline.New(pipeline.Options{
		Store:             st,
		Backend:           backend,
		Encoder:           convert.New(nil, log),
		CPU:               cpu,
		SnapshotPath:      snapshotPath(cfg.StorePath),
		ScanInterval:      cfg.ScanInterval,
		ScanBatch:         cfg.ScanBatchSize,
		QueryPace:         cfg.QueryInterval,
		EmitEnvelope:      settings.Transcription.Method == config.MethodWebUI,
		EnvelopeModel:     envelopeModel(settings),
		Watch:             true,
		ConvertRetryPause: cfg.ConvertRetryDelay,
		ConvertChecks:     cfg.ConvertRetries,
		Log:               log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build pipeline")
	}
	if err := pipe.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start pipeline")
	}

	// HTTP server; empty addr disables the API surface entirely.
	errCh := make(chan error, 1)
	var srv *api.Server
	if cfg.HTTPAddr != "" {
		httpLog := log.With().Str("component", "http").Logger()
		srv = api.NewServer(cfg, st, pipe, version, startTime, httpLog)
		go func() {
			errCh <- srv.Start()
		}()
	}

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// HTTP first so no new work arrives, then the pipeline so in-flight
	// items drain into the store before it closes.
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown error")
		}
		cancel()
	}
	pipe.Stop()

	log.Info().Msg("tircorder stopped")
}

// buildBackend constructs the transcription backend named by the settings
// document. WebUI requests are paced by a fixed-rate limiter.
func buildBackend(cfg *config.Config, settings *config.Settings, log zerolog.Logger) (transcribe.Backend, error) {
	switch settings.Transcription.Method {
	case config.MethodWebUI:
		limiter := governor.NewFixedLimiter(cfg.QueryInterval)
		return transcribe.NewWebUIClient(settings.Transcription.WebUI, limiter), nil
	case config.MethodNonPythonic:
		return transcribe.NewCLIClient(settings.Transcription.Local, log.With().Str("component", "transcribe").Logger()), nil
	default:
		return transcribe.NewLocalClient(settings.Transcription.Method, settings.Transcription.Local)
	}
}

// envelopeModel labels the envelope with the remote model when the WebUI
// options carry one.
func envelopeModel(settings *config.Settings) string {
	if m, ok := settings.Transcription.WebUI.Options["model"].(string); ok {
		return m
	}
	return ""
}

// snapshotPath places the shutdown snapshot beside the state store.
func snapshotPath(storePath string) string {
	return filepath.Join(filepath.Dir(storePath), "state_backup.json")
}
