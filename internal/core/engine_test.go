package core

import (
	"os"
	"path/filepath"
	"testing"
)

func testEngine(t *testing.T, backendURL string) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Backend.URL = backendURL
	cfg.Backend.ServiceID = "svc-engine"
	cfg.Bus.Enabled = false
	cfg.Detector.LearningPeriod = 0
	cfg.Logging.Level = "error"
	cfg.Monitor.LogPath = filepath.Join(t.TempDir(), "app.log")

	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestNewEngine_WiresComponents(t *testing.T) {
	e := testEngine(t, "http://localhost:0")
	if e.Detector == nil || e.Limiter == nil || e.Reporter == nil || e.Monitor == nil {
		t.Fatal("engine missing components")
	}
	if e.Bus != nil {
		t.Error("bus built despite being disabled")
	}
}

func TestHandleLine_DirectDeliveryWithoutBus(t *testing.T) {
	stub, srv := newBackendStub()
	defer srv.Close()

	e := testEngine(t, srv.URL)
	defer e.Reporter.Stop()

	// A mismatch finding fires on the first line even without history.
	e.handleLine(`{"level": "ERROR", "message": "Operation completed successfully"}`)
	if got := stub.count(); got != 1 {
		t.Fatalf("backend saw %d reports, want 1", got)
	}
	if req := stub.last(); req.path != "/anomaly" {
		t.Errorf("path = %q, want /anomaly", req.path)
	}
}

func TestHandleLine_CleanLineReportsNothing(t *testing.T) {
	stub, srv := newBackendStub()
	defer srv.Close()

	e := testEngine(t, srv.URL)
	defer e.Reporter.Stop()

	e.handleLine(`{"level": "INFO", "message": "request served"}`)
	e.handleLine(`{"level": "INFO", "message": "request served"}`)
	if got := stub.count(); got != 0 {
		t.Errorf("backend saw %d reports, want 0", got)
	}
}

func TestEnsureLogFile_CreatesFileAndParents(t *testing.T) {
	e := testEngine(t, "http://localhost:0")
	e.Config.Monitor.LogPath = filepath.Join(t.TempDir(), "nested", "dir", "app.log")

	if err := e.ensureLogFile(); err != nil {
		t.Fatalf("ensureLogFile: %v", err)
	}
	data, err := os.ReadFile(e.Config.Monitor.LogPath)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if len(data) == 0 {
		t.Error("log file created empty, want a seed line for tail to follow")
	}

	// Existing files are left untouched.
	if err := e.ensureLogFile(); err != nil {
		t.Fatalf("second ensureLogFile: %v", err)
	}
	again, _ := os.ReadFile(e.Config.Monitor.LogPath)
	if string(again) != string(data) {
		t.Error("existing log file was rewritten")
	}
}
