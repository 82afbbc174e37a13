package core

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/nightagent-project/nightagent/internal/monitor"
)

// Engine is the sidecar runtime: one explicit object owning the detector,
// the rate limiter, the bus, the reporter, and the log monitor. There is
// no ambient process-wide state; everything hangs off this struct.
type Engine struct {
	Config   *Config
	Detector *AnomalyDetector
	Limiter  *ReportLimiter
	Bus      *EventBus
	Reporter *BackendReporter
	Monitor  *monitor.LogMonitor
	Logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine creates a sidecar engine from configuration.
func NewEngine(cfg *Config) (*Engine, error) {
	var logger zerolog.Logger
	if cfg.Logging.Format == "json" {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}

	switch cfg.LogLevel() {
	case "debug":
		logger = logger.Level(zerolog.DebugLevel)
	case "warn":
		logger = logger.Level(zerolog.WarnLevel)
	case "error":
		logger = logger.Level(zerolog.ErrorLevel)
	default:
		logger = logger.Level(zerolog.InfoLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())

	limiter := NewReportLimiter(cfg.RateLimit.Max, time.Duration(cfg.RateLimit.Window)*time.Second)

	e := &Engine{
		Config:   cfg,
		Detector: NewAnomalyDetector(cfg.Detector, logger),
		Limiter:  limiter,
		Reporter: NewBackendReporter(cfg, limiter, logger),
		Logger:   logger.With().Str("component", "engine").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}

	e.Monitor = monitor.New(monitor.Options{
		Path:         cfg.Monitor.LogPath,
		AutoRestart:  cfg.Monitor.AutoRestart,
		RestartDelay: time.Duration(cfg.Monitor.RestartDelay) * time.Second,
		MaxRestarts:  cfg.Monitor.MaxRestarts,
	}, e.handleLine, logger)

	return e, nil
}

// Start brings up the bus, the reporter loops, and the log monitor.
func (e *Engine) Start() error {
	e.Logger.Info().
		Str("sidecar_id", e.Config.SidecarID()).
		Str("service_id", e.Config.Backend.ServiceID).
		Str("log_path", e.Config.Monitor.LogPath).
		Str("backend_url", e.Config.Backend.URL).
		Bool("auth", e.Config.Backend.APIKey != "").
		Int("rate_limit_max", e.Config.RateLimit.Max).
		Int("rate_limit_window", e.Config.RateLimit.Window).
		Msg("starting night agent sidecar")

	if e.Config.Bus.Enabled {
		bus, err := NewEventBus(&e.Config.Bus, e.Logger)
		if err != nil {
			return fmt.Errorf("starting anomaly bus: %w", err)
		}
		e.Bus = bus

		if err := e.Bus.SubscribeAnomalies(e.Reporter.Report); err != nil {
			return fmt.Errorf("subscribing reporter to bus: %w", err)
		}
	}

	if err := e.Reporter.Register(); err != nil {
		e.Logger.Warn().Err(err).Msg("could not register with backend")
	}
	e.Reporter.StartHeartbeat()

	if err := e.ensureLogFile(); err != nil {
		return fmt.Errorf("preparing log file: %w", err)
	}

	if err := e.Monitor.Start(); err != nil {
		return fmt.Errorf("starting log monitor: %w", err)
	}

	e.Logger.Info().Msg("night agent sidecar started")
	return nil
}

// Run starts the engine and blocks until a termination signal arrives or
// the monitor fails terminally.
func (e *Engine) Run() error {
	if err := e.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		e.Logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-e.Monitor.Done():
		if err := e.Monitor.Err(); err != nil {
			e.Logger.Error().Err(err).Msg("log monitor failed terminally")
		} else {
			e.Logger.Info().Msg("log monitor stopped")
		}
	case <-e.ctx.Done():
		e.Logger.Info().Msg("context cancelled")
	}

	return e.Shutdown()
}

// Shutdown stops the monitor, the reporter, and the bus, in that order.
// No anomaly in flight is guaranteed to be delivered.
func (e *Engine) Shutdown() error {
	e.Logger.Info().Msg("shutting down night agent sidecar")
	e.cancel()

	e.Monitor.Stop()
	e.Reporter.Stop()

	if e.Bus != nil {
		if err := e.Bus.Close(); err != nil {
			e.Logger.Error().Err(err).Msg("error closing anomaly bus")
		}
	}

	e.Logger.Info().Msg("night agent sidecar stopped")
	return nil
}

// Context returns the engine's context.
func (e *Engine) Context() context.Context {
	return e.ctx
}

// handleLine is the monitor callback: synchronous detection, then
// fire-and-forget handoff of any finding.
func (e *Engine) handleLine(line string) {
	a := e.Detector.Check(line)
	if a == nil {
		return
	}

	e.Logger.Info().
		Str("type", a.Type).
		Float64("confidence", a.Confidence).
		Str("summary", a.Summary).
		Msg("anomaly detected")

	if e.Bus != nil {
		if err := e.Bus.PublishAnomaly(a); err != nil {
			e.Logger.Error().Err(err).Msg("failed to publish anomaly, delivering directly")
			e.Reporter.Report(a)
		}
		return
	}
	e.Reporter.Report(a)
}

// ensureLogFile creates the monitored file if it does not exist yet, so
// tail has something to follow from the start.
func (e *Engine) ensureLogFile() error {
	path := e.Config.Monitor.LogPath
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
	}

	seed := fmt.Sprintf("{\"timestamp\": %q, \"message\": \"sidecar started\", \"level\": \"INFO\"}\n",
		time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(seed), 0644); err != nil {
		return fmt.Errorf("creating log file: %w", err)
	}
	e.Logger.Info().Str("path", path).Msg("created log file")
	return nil
}
