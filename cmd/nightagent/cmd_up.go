package main

// ---------------------------------------------------------------------------
// cmd_up.go — run the sidecar
// ---------------------------------------------------------------------------

import (
	"flag"

	"github.com/nightagent-project/nightagent/internal/core"
)

func cmdUp(args []string) {
	fs := flag.NewFlagSet("up", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path (optional)")
	logPath := fs.String("log-path", "", "Log file to monitor (overrides config)")
	backendURL := fs.String("backend", "", "Backend base URL (overrides config)")
	logLevel := fs.String("log-level", "", "Log level override: debug, info, warn, error")
	fs.Parse(args)

	cfg, err := core.LoadConfig(envConfig(*configPath))
	if err != nil {
		errorf("loading config: %v", err)
	}

	if *logPath != "" {
		cfg.Monitor.LogPath = *logPath
	}
	if *backendURL != "" {
		cfg.Backend.URL = *backendURL
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	engine, err := core.NewEngine(cfg)
	if err != nil {
		errorf("creating engine: %v", err)
	}

	if err := engine.Run(); err != nil {
		errorf("%v", err)
	}
}
