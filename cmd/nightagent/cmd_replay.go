package main

// ---------------------------------------------------------------------------
// cmd_replay.go — feed an existing log file through the detector offline
//
// Useful for tuning thresholds: no backend, no tailing, findings printed
// as JSON lines. Warmup is disabled by default so every rule can fire.
// ---------------------------------------------------------------------------

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nightagent-project/nightagent/internal/core"
)

func cmdReplay(args []string) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path (optional)")
	warmup := fs.Bool("warmup", false, "Keep the learning period active during replay")
	allCandidates := fs.Bool("all", false, "Emit every fired rule, not just the top one")
	fs.Parse(args)

	if fs.NArg() < 1 {
		errorf("usage: nightagent replay [flags] <log-file>")
	}
	path := fs.Arg(0)

	cfg, err := core.LoadConfig(envConfig(*configPath))
	if err != nil {
		errorf("loading config: %v", err)
	}
	if !*warmup {
		cfg.Detector.LearningPeriod = 0
	}
	if *allCandidates {
		cfg.Detector.EmitAllCandidates = true
	}

	f, err := os.Open(path)
	if err != nil {
		errorf("opening %s: %v", path, err)
	}
	defer f.Close()

	detector := core.NewAnomalyDetector(cfg.Detector, zerolog.Nop())
	enc := json.NewEncoder(os.Stdout)

	lines, findings := 0, 0
	byType := make(map[string]int)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines++
		if a := detector.Check(line); a != nil {
			findings++
			byType[a.Type]++
			if err := enc.Encode(a); err != nil {
				errorf("encoding finding: %v", err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		errorf("reading %s: %v", path, err)
	}

	fmt.Fprintf(os.Stderr, "%s %d lines, %d findings\n", dim("replayed"), lines, findings)
	for typ, n := range byType {
		fmt.Fprintf(os.Stderr, "  %-26s %d\n", typ, n)
	}
}
