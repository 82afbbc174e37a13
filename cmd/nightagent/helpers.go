package main

// ---------------------------------------------------------------------------
// helpers.go — color, error helpers, usage, env-based config
// ---------------------------------------------------------------------------

import (
	"fmt"
	"io"
	"os"
	goruntime "runtime"
	"runtime/debug"
)

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func colorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return isTTY(os.Stderr)
}

func ansi(code, s string) string {
	if !colorEnabled() {
		return s
	}
	return code + s + "\033[0m"
}

func red(s string) string  { return ansi("\033[91m", s) }
func dim(s string) string  { return ansi("\033[90m", s) }
func bold(s string) string { return ansi("\033[1m", s) }

// errorf prints to stderr and exits non-zero.
func errorf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, red("error: ")+format+"\n", args...)
	os.Exit(1)
}

// envConfig returns the config path, preferring flag > env > default.
func envConfig(flagVal string) string {
	if flagVal != "" {
		return flagVal
	}
	if e := os.Getenv("NIGHTAGENT_CONFIG"); e != "" {
		return e
	}
	return flagVal
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "nightagent v%s", version)
	if commit != "dev" {
		fmt.Fprintf(w, " (%s)", commit[:min(7, len(commit))])
	}
	if buildDate != "unknown" {
		fmt.Fprintf(w, " built %s", buildDate)
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fmt.Fprintf(w, " %s", bi.GoVersion)
	}
	fmt.Fprintf(w, " %s/%s", goruntime.GOOS, goruntime.GOARCH)
	fmt.Fprintln(w)
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "%s — log-monitoring anomaly detection sidecar\n", bold("nightagent"))
	fmt.Fprintf(w, "  %s\n\n", dim("v"+version))
	fmt.Fprintf(w, "%s\n\n", bold("USAGE"))
	fmt.Fprintf(w, "  nightagent <command> [flags]\n\n")
	fmt.Fprintf(w, "%s\n\n", bold("COMMANDS"))
	fmt.Fprintf(w, "  %-10s  %s\n", bold("up"), "Run the sidecar: tail the log, detect, report to the backend")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("replay"), "Feed an existing log file through the detector offline")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("config"), "Print the effective configuration as YAML")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("version"), "Print version and build info")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("help"), "Show this help")
	fmt.Fprintf(w, "\n%s\n\n", bold("ENVIRONMENT"))
	fmt.Fprintf(w, "  NIGHTAGENT_CONFIG  default config file path\n")
	fmt.Fprintf(w, "  BACKEND_URL, SERVICE_ID, SIDECAR_ID, SIDECAR_API_KEY, LOG_PATH,\n")
	fmt.Fprintf(w, "  HEARTBEAT_INTERVAL, RATE_LIMIT_MAX, RATE_LIMIT_WINDOW,\n")
	fmt.Fprintf(w, "  LEARNING_PERIOD, FREQ_THRESHOLD_ERROR, FREQ_THRESHOLD_FLOOD,\n")
	fmt.Fprintf(w, "  LATENCY_THRESHOLD, SEQUENCE_PROB_THRESHOLD  override config values\n")
}
