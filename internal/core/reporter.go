package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	registerTimeout  = 5 * time.Second
	heartbeatTimeout = 2 * time.Second
	anomalyTimeout   = 5 * time.Second
)

// AnomalyPayload is the wire shape the backend expects on POST /anomaly.
type AnomalyPayload struct {
	ID          string          `json:"id"`
	SidecarID   string          `json:"sidecarId"`
	ServiceID   string          `json:"serviceId"`
	Timestamp   string          `json:"timestamp"`
	Severity    Severity        `json:"severity"`
	Message     string          `json:"message"`
	Logs        []string        `json:"logs"`
	TraceID     string          `json:"traceId"`
	Confidence  float64         `json:"confidence"`
	AnomalyType string          `json:"anomaly_type"`
	Context     AnomalyContext  `json:"context"`
	Evidence    AnomalyEvidence `json:"evidence"`
}

// BackendReporter delivers findings, registration, and heartbeats to the
// backend. All delivery is best-effort: failures are logged and dropped,
// never retried, never fatal.
type BackendReporter struct {
	cfg     *Config
	limiter *ReportLimiter
	logger  zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc

	hbFailures int
}

// NewBackendReporter creates a reporter bound to the given config and
// rate limiter.
func NewBackendReporter(cfg *Config, limiter *ReportLimiter, logger zerolog.Logger) *BackendReporter {
	ctx, cancel := context.WithCancel(context.Background())
	return &BackendReporter{
		cfg:     cfg,
		limiter: limiter,
		logger:  logger.With().Str("component", "reporter").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register announces the sidecar to the backend once at startup.
func (r *BackendReporter) Register() error {
	body := map[string]string{
		"sidecarId": r.cfg.SidecarID(),
		"serviceId": r.cfg.Backend.ServiceID,
	}
	if err := r.post("/register", body, registerTimeout); err != nil {
		return fmt.Errorf("registering with backend: %w", err)
	}
	r.logger.Info().Str("sidecar_id", r.cfg.SidecarID()).Msg("registered with backend")
	return nil
}

// StartHeartbeat begins the periodic heartbeat loop. It runs until Stop.
func (r *BackendReporter) StartHeartbeat() {
	interval := time.Duration(r.cfg.Backend.HeartbeatInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		r.sendHeartbeat()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				r.sendHeartbeat()
			}
		}
	}()

	r.logger.Info().Dur("interval", interval).Msg("heartbeat started")
}

// Stop terminates the heartbeat loop.
func (r *BackendReporter) Stop() {
	r.cancel()
}

func (r *BackendReporter) sendHeartbeat() {
	body := map[string]string{"sidecarId": r.cfg.SidecarID()}
	if err := r.post("/heartbeat", body, heartbeatTimeout); err != nil {
		r.hbFailures++
		// Only warn once the backend has been unreachable for a while;
		// a single missed beat is routine.
		if r.hbFailures >= 3 {
			r.logger.Warn().Err(err).Int("failures", r.hbFailures).Msg("heartbeat failing")
		} else {
			r.logger.Debug().Err(err).Msg("heartbeat failed")
		}
		return
	}
	r.hbFailures = 0
}

// Report rate-limits, enriches, and delivers one finding. Dropped or failed
// deliveries are lost for that occurrence — there is no retry queue.
func (r *BackendReporter) Report(a *Anomaly) {
	if !r.limiter.Allow(time.Now()) {
		r.logger.Warn().
			Int("max", r.cfg.RateLimit.Max).
			Int("window", r.cfg.RateLimit.Window).
			Str("type", a.Type).
			Msg("rate limit exceeded, dropping anomaly")
		return
	}

	payload := AnomalyPayload{
		ID:          "evt-" + uuid.New().String(),
		SidecarID:   r.cfg.SidecarID(),
		ServiceID:   r.cfg.Backend.ServiceID,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Severity:    a.Context.Severity,
		Message:     a.Summary,
		Logs:        []string{a.Evidence.Log},
		TraceID:     "trace-" + uuid.New().String(),
		Confidence:  a.Confidence,
		AnomalyType: a.Type,
		Context:     a.Context,
		Evidence:    a.Evidence,
	}

	if err := r.post("/anomaly", payload, anomalyTimeout); err != nil {
		r.logger.Error().Err(err).Str("event_id", payload.ID).Msg("failed to report anomaly")
		return
	}

	r.logger.Info().
		Str("event_id", payload.ID).
		Str("type", a.Type).
		Float64("confidence", a.Confidence).
		Msg("anomaly reported")
}

func (r *BackendReporter) post(path string, body interface{}, timeout time.Duration) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(r.ctx, timeout)
	defer cancel()

	req, err := newSidecarRequest(ctx, "POST", r.cfg.Backend.URL+path, data, r.cfg.Backend.APIKey)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("backend returned %d", resp.StatusCode)
	}
	return nil
}
