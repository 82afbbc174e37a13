// Package monitor streams newly appended lines from a log file to a
// callback. It follows the file with an external tail process supervised
// for crashes: bounded fixed-delay restarts, then terminal failure.
package monitor

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options configures a LogMonitor.
type Options struct {
	Path         string
	AutoRestart  bool
	RestartDelay time.Duration // wait between restart attempts
	MaxRestarts  int           // consecutive failures before giving up
}

// LogMonitor delivers every newly appended, non-empty line of a file to a
// callback, in file order, surviving the death of the tail process. The
// callback runs synchronously on the monitor goroutine, so line handling
// is strictly serialized.
type LogMonitor struct {
	opts     Options
	callback func(line string)
	logger   zerolog.Logger

	mu           sync.Mutex
	cmd          *exec.Cmd
	started      bool
	restartCount int
	err          error

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	// tailCommand builds the line-following process. Overridable in tests.
	tailCommand func(path string) *exec.Cmd
}

// New creates a LogMonitor. The callback is invoked once per line.
func New(opts Options, callback func(line string), logger zerolog.Logger) *LogMonitor {
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = 5 * time.Second
	}
	if opts.MaxRestarts <= 0 {
		opts.MaxRestarts = 10
	}
	return &LogMonitor{
		opts:     opts,
		callback: callback,
		logger:   logger.With().Str("component", "log_monitor").Str("path", opts.Path).Logger(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		tailCommand: func(path string) *exec.Cmd {
			// -F follows by name and retries across rotation; -n 0 skips history.
			return exec.Command("tail", "-F", "-n", "0", path)
		},
	}
}

// Start launches the supervised monitoring goroutine.
func (m *LogMonitor) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("monitor already started")
	}
	m.started = true
	m.mu.Unlock()

	go m.loop()
	m.logger.Info().Msg("log monitor started")
	return nil
}

// Stop signals shutdown, terminates any live tail process, and waits for
// the monitor goroutine to exit with a bounded timeout. Safe to call more
// than once.
func (m *LogMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})

	m.killProcess()

	select {
	case <-m.doneCh:
	case <-time.After(5 * time.Second):
		m.logger.Warn().Msg("monitor goroutine did not exit in time")
	}
}

// Done is closed when the monitor loop has exited, whether by Stop or by
// exhausting its restart budget.
func (m *LogMonitor) Done() <-chan struct{} {
	return m.doneCh
}

// Err returns the terminal error, if the loop gave up, or nil after a
// clean stop.
func (m *LogMonitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// IsRunning reports whether the monitor loop is still alive.
func (m *LogMonitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return false
	}
	select {
	case <-m.doneCh:
		return false
	default:
		return true
	}
}

// RestartCount returns how many times the tail process has been restarted.
func (m *LogMonitor) RestartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restartCount
}

func (m *LogMonitor) loop() {
	defer close(m.doneCh)

	for {
		if m.stopping() {
			return
		}

		err := m.runTail()
		if m.stopping() {
			return
		}

		if !m.opts.AutoRestart {
			m.setErr(fmt.Errorf("tail failed and auto restart is disabled: %w", err))
			m.logger.Error().Err(err).Msg("monitor failed, auto restart disabled")
			return
		}

		m.mu.Lock()
		m.restartCount++
		count := m.restartCount
		m.mu.Unlock()

		if count > m.opts.MaxRestarts {
			m.setErr(fmt.Errorf("tail exceeded %d restarts, giving up: %w", m.opts.MaxRestarts, err))
			m.logger.Error().Int("restarts", count-1).Msg("max restarts exceeded, giving up")
			return
		}

		m.logger.Warn().
			Err(err).
			Int("attempt", count).
			Int("max", m.opts.MaxRestarts).
			Dur("delay", m.opts.RestartDelay).
			Msg("tail process died, restarting")

		select {
		case <-m.stopCh:
			return
		case <-time.After(m.opts.RestartDelay):
		}
	}
}

// runTail runs one tail process to completion, streaming its lines to the
// callback. Any exit while a stop has not been requested is a failure.
func (m *LogMonitor) runTail() error {
	cmd := m.tailCommand(m.opts.Path)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting tail: %w", err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.mu.Unlock()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		m.safeCallback(line)
	}

	waitErr := cmd.Wait()

	m.mu.Lock()
	m.cmd = nil
	m.mu.Unlock()

	if m.stopping() {
		return nil
	}
	if waitErr != nil {
		return fmt.Errorf("tail exited: %w", waitErr)
	}
	return fmt.Errorf("tail exited unexpectedly")
}

// safeCallback invokes the line callback with panic recovery, so a broken
// handler can never kill the monitor loop.
func (m *LogMonitor) safeCallback(line string) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error().
				Interface("panic", rec).
				Str("line", line).
				Msg("callback panicked, continuing with next line")
		}
	}()
	m.callback(line)
}

// killProcess terminates the live tail process: interrupt first, force-kill
// after a short grace period.
func (m *LogMonitor) killProcess() {
	m.mu.Lock()
	cmd := m.cmd
	m.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	_ = cmd.Process.Signal(os.Interrupt)

	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			_ = cmd.Process.Kill()
			return
		case <-tick.C:
			m.mu.Lock()
			gone := m.cmd == nil
			m.mu.Unlock()
			if gone {
				return
			}
		}
	}
}

func (m *LogMonitor) stopping() bool {
	select {
	case <-m.stopCh:
		return true
	default:
		return false
	}
}

func (m *LogMonitor) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}
