package monitor

import (
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// lineSink collects callback invocations.
type lineSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *lineSink) add(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *lineSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

// shCommand replaces the tail process with a shell script for deterministic
// tests.
func shCommand(script string) func(string) *exec.Cmd {
	return func(string) *exec.Cmd {
		return exec.Command("sh", "-c", script)
	}
}

func waitDone(t *testing.T, m *LogMonitor, timeout time.Duration) {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(timeout):
		t.Fatal("monitor did not finish in time")
	}
}

func TestMonitor_DeliversLinesInOrder(t *testing.T) {
	sink := &lineSink{}
	m := New(Options{Path: "unused", AutoRestart: false}, sink.add, zerolog.Nop())
	m.tailCommand = shCommand(`printf 'one\ntwo\nthree\n'`)

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, m, 5*time.Second)

	got := sink.snapshot()
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("lines = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMonitor_SkipsEmptyAndTrimsWhitespace(t *testing.T) {
	sink := &lineSink{}
	m := New(Options{Path: "unused", AutoRestart: false}, sink.add, zerolog.Nop())
	m.tailCommand = shCommand(`printf '  padded  \n\n   \nreal\n'`)

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, m, 5*time.Second)

	got := sink.snapshot()
	if len(got) != 2 || got[0] != "padded" || got[1] != "real" {
		t.Errorf("lines = %v, want [padded real]", got)
	}
}

func TestMonitor_RestartsUntilBudgetExhausted(t *testing.T) {
	sink := &lineSink{}
	m := New(Options{
		Path:         "unused",
		AutoRestart:  true,
		RestartDelay: 10 * time.Millisecond,
		MaxRestarts:  2,
	}, sink.add, zerolog.Nop())
	m.tailCommand = shCommand(`printf 'boom\n'; exit 1`)

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, m, 5*time.Second)

	// Initial attempt plus two restarts, then give up.
	if got := m.RestartCount(); got != 3 {
		t.Errorf("restart count = %d, want 3", got)
	}
	if m.Err() == nil {
		t.Error("expected terminal error after exhausting restarts")
	}
	if m.IsRunning() {
		t.Error("monitor still reports running after terminal failure")
	}
	if got := len(sink.snapshot()); got != 3 {
		t.Errorf("callback fired %d times, want once per attempt (3)", got)
	}
}

func TestMonitor_NoRestartWhenDisabled(t *testing.T) {
	m := New(Options{Path: "unused", AutoRestart: false}, func(string) {}, zerolog.Nop())
	m.tailCommand = shCommand(`exit 1`)

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, m, 5*time.Second)

	if got := m.RestartCount(); got != 0 {
		t.Errorf("restart count = %d, want 0", got)
	}
	if m.Err() == nil {
		t.Error("expected terminal error with auto restart disabled")
	}
}

func TestMonitor_StopIsCleanAndIdempotent(t *testing.T) {
	sink := &lineSink{}
	m := New(Options{Path: "unused", AutoRestart: true}, sink.add, zerolog.Nop())
	// A long-lived process, like a real tail.
	m.tailCommand = shCommand(`printf 'alive\n'; exec sleep 60`)

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for len(sink.snapshot()) == 0 {
		select {
		case <-deadline:
			t.Fatal("no line delivered before stop")
		case <-time.After(10 * time.Millisecond):
		}
	}

	m.Stop()
	m.Stop() // second call must be a no-op

	if m.IsRunning() {
		t.Error("monitor reports running after Stop")
	}
	if m.Err() != nil {
		t.Errorf("clean stop produced error: %v", m.Err())
	}
}

func TestMonitor_CallbackPanicDoesNotKillLoop(t *testing.T) {
	sink := &lineSink{}
	cb := func(line string) {
		if line == "bad" {
			panic("handler bug")
		}
		sink.add(line)
	}
	m := New(Options{Path: "unused", AutoRestart: false}, cb, zerolog.Nop())
	m.tailCommand = shCommand(`printf 'good\nbad\nalso good\n'`)

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, m, 5*time.Second)

	got := sink.snapshot()
	if len(got) != 2 || got[0] != "good" || got[1] != "also good" {
		t.Errorf("lines = %v, want panic line skipped", got)
	}
}

func TestMonitor_StartTwiceFails(t *testing.T) {
	m := New(Options{Path: "unused", AutoRestart: false}, func(string) {}, zerolog.Nop())
	m.tailCommand = shCommand(`exec sleep 60`)

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()
	if err := m.Start(); err == nil {
		t.Error("second Start succeeded, want error")
	}
}
