package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the entire sidecar configuration.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Detector  DetectorConfig  `yaml:"detector"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Bus       BusConfig       `yaml:"bus"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BackendConfig holds backend connectivity and sidecar identity settings.
type BackendConfig struct {
	URL               string `yaml:"url"`
	ServiceID         string `yaml:"service_id"`
	SidecarID         string `yaml:"sidecar_id"`
	APIKey            string `yaml:"api_key"`
	HeartbeatInterval int    `yaml:"heartbeat_interval"` // seconds
}

// MonitorConfig holds log tailing settings.
type MonitorConfig struct {
	LogPath      string `yaml:"log_path"`
	AutoRestart  bool   `yaml:"auto_restart"`
	RestartDelay int    `yaml:"restart_delay"` // seconds
	MaxRestarts  int    `yaml:"max_restarts"`
}

// DetectorConfig holds the anomaly detection thresholds.
type DetectorConfig struct {
	LearningPeriod        int     `yaml:"learning_period"` // seconds
	HistoryWindow         int     `yaml:"history_window"`  // seconds
	FreqThresholdError    int     `yaml:"freq_threshold_error"`
	FreqThresholdFlood    int     `yaml:"freq_threshold_flood"`
	LatencyThreshold      float64 `yaml:"latency_threshold"` // seconds
	SequenceProbThreshold float64 `yaml:"sequence_prob_threshold"`
	EmitAllCandidates     bool    `yaml:"emit_all_candidates"`
}

// RateLimitConfig bounds anomaly reports per time window.
type RateLimitConfig struct {
	Max    int `yaml:"max"`
	Window int `yaml:"window"` // seconds
}

// BusConfig holds the internal NATS anomaly bus settings.
type BusConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Embedded bool   `yaml:"embedded"`
	URL      string `yaml:"url"`
	Port     int    `yaml:"port"`
}

// LoggingConfig holds operational logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sane defaults — zero-config works out of the box.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:               "http://localhost:3001/api/sidecar",
			ServiceID:         "my-service",
			HeartbeatInterval: 30,
		},
		Monitor: MonitorConfig{
			LogPath:      "./test.log",
			AutoRestart:  true,
			RestartDelay: 5,
			MaxRestarts:  10,
		},
		Detector: DetectorConfig{
			LearningPeriod:        300,
			HistoryWindow:         300,
			FreqThresholdError:    50,
			FreqThresholdFlood:    200,
			LatencyThreshold:      5.0,
			SequenceProbThreshold: 0.05,
		},
		RateLimit: RateLimitConfig{
			Max:    20,
			Window: 60,
		},
		Bus: BusConfig{
			Enabled:  true,
			Embedded: true,
			URL:      "nats://127.0.0.1:4222",
			Port:     4222,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from a YAML file, falling back to defaults,
// then applies environment variable overrides. Environment always wins.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides configuration from the environment. Variable names
// match the deployment contract of the sidecar container.
func (c *Config) ApplyEnv() {
	envStr("BACKEND_URL", &c.Backend.URL)
	envStr("SERVICE_ID", &c.Backend.ServiceID)
	envStr("SIDECAR_ID", &c.Backend.SidecarID)
	envStr("SIDECAR_API_KEY", &c.Backend.APIKey)
	envInt("HEARTBEAT_INTERVAL", &c.Backend.HeartbeatInterval)

	envStr("LOG_PATH", &c.Monitor.LogPath)
	envInt("RESTART_DELAY", &c.Monitor.RestartDelay)
	envInt("MAX_RESTARTS", &c.Monitor.MaxRestarts)

	envInt("LEARNING_PERIOD", &c.Detector.LearningPeriod)
	envInt("HISTORY_WINDOW", &c.Detector.HistoryWindow)
	envInt("FREQ_THRESHOLD_ERROR", &c.Detector.FreqThresholdError)
	envInt("FREQ_THRESHOLD_FLOOD", &c.Detector.FreqThresholdFlood)
	envFloat("LATENCY_THRESHOLD", &c.Detector.LatencyThreshold)
	envFloat("SEQUENCE_PROB_THRESHOLD", &c.Detector.SequenceProbThreshold)
	envBool("EMIT_ALL_CANDIDATES", &c.Detector.EmitAllCandidates)

	envInt("RATE_LIMIT_MAX", &c.RateLimit.Max)
	envInt("RATE_LIMIT_WINDOW", &c.RateLimit.Window)

	envBool("BUS_ENABLED", &c.Bus.Enabled)

	envStr("LOG_LEVEL", &c.Logging.Level)
	envStr("LOG_FORMAT", &c.Logging.Format)
}

// SaveConfig writes the configuration to a YAML file.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// SidecarID returns the configured sidecar id, or a deterministic fallback
// derived from the service id.
func (c *Config) SidecarID() string {
	if c.Backend.SidecarID != "" {
		return c.Backend.SidecarID
	}
	return "sidecar-" + c.Backend.ServiceID
}

// LogLevel returns the normalized log level string.
func (c *Config) LogLevel() string {
	return strings.ToLower(c.Logging.Level)
}

func envStr(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(name string, dst *float64) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
