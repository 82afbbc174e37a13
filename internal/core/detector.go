package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// AnomalyContext carries the detection context attached to a finding.
type AnomalyContext struct {
	TimeWindow  string   `json:"time_window"`
	LogTemplate string   `json:"log_template"`
	Severity    Severity `json:"severity"`
}

// AnomalyEvidence carries the raw evidence that justified a finding.
type AnomalyEvidence struct {
	Log           string `json:"log"`
	Frequency     int    `json:"frequency"`
	TemplateCount int    `json:"template_count"`
}

// Candidate is a single fired rule. When the detector is configured to emit
// all candidates, every fired rule is listed alongside the winning one.
type Candidate struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Summary    string  `json:"summary"`
}

// Anomaly is the detection result for one log line. The top-level fields
// describe the highest-confidence rule that fired.
type Anomaly struct {
	Type       string          `json:"anomaly_type"`
	Confidence float64         `json:"confidence"`
	Context    AnomalyContext  `json:"context"`
	Evidence   AnomalyEvidence `json:"evidence"`
	Summary    string          `json:"summary"`
	Candidates []Candidate     `json:"candidates,omitempty"`
}

// Marshal serializes the anomaly to JSON.
func (a *Anomaly) Marshal() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalAnomaly deserializes an Anomaly from JSON.
func UnmarshalAnomaly(data []byte) (*Anomaly, error) {
	var a Anomaly
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Rule names, in evaluation order. Confidence ties break toward the rule
// evaluated first.
const (
	AnomalyFrequency = "Frequency Anomaly"
	AnomalyNovelty   = "Novel Log Template"
	AnomalyMismatch  = "Severity Mismatch"
	AnomalySequence  = "Log-Sequence Anomaly"
	AnomalyLatency   = "Latency Anomaly"
	AnomalyTenant    = "Tenant-Localized Anomaly"
)

// AnomalyDetector owns a FeatureExtractor and a ContextEngine and evaluates
// the six detection rules against every incoming line.
type AnomalyDetector struct {
	cfg       DetectorConfig
	extractor *FeatureExtractor
	context   *ContextEngine
	startTime time.Time
	now       func() time.Time
	logger    zerolog.Logger
}

// NewAnomalyDetector creates a detector with fresh in-memory state. The
// learning period starts counting immediately.
func NewAnomalyDetector(cfg DetectorConfig, logger zerolog.Logger) *AnomalyDetector {
	d := &AnomalyDetector{
		cfg:       cfg,
		extractor: NewFeatureExtractor(),
		context:   NewContextEngine(float64(cfg.HistoryWindow)),
		startTime: time.Now(),
		now:       time.Now,
		logger:    logger.With().Str("component", "detector").Logger(),
	}
	d.logger.Info().
		Int("learning_period", cfg.LearningPeriod).
		Int("freq_threshold_error", cfg.FreqThresholdError).
		Int("freq_threshold_flood", cfg.FreqThresholdFlood).
		Float64("latency_threshold", cfg.LatencyThreshold).
		Float64("sequence_prob_threshold", cfg.SequenceProbThreshold).
		Msg("detector initialized")
	return d
}

// Context exposes the engine's read surface, mainly for status reporting.
func (d *AnomalyDetector) Context() *ContextEngine {
	return d.context
}

// IsWarmup reports whether the detector is still inside its learning period.
// Warmup suppresses only the rules that need a populated baseline.
func (d *AnomalyDetector) IsWarmup() bool {
	return d.now().Sub(d.startTime) < time.Duration(d.cfg.LearningPeriod)*time.Second
}

// Check parses a raw line, folds it into the context, and evaluates all six
// rules. It returns the highest-confidence finding, or nil.
func (d *AnomalyDetector) Check(raw string) *Anomaly {
	f := d.extractor.Parse(raw)
	d.context.Update(f)

	tid := f.TemplateID
	stats := d.context.Stats(tid)
	freq := d.context.TemplateFrequency(tid)
	warmup := d.IsWarmup()

	var candidates []Candidate

	// Rule 1: frequency. Flooding matters even during warmup.
	severe := f.Severity.Score() >= SeverityError.Score()
	if (freq > d.cfg.FreqThresholdError && severe) || freq > d.cfg.FreqThresholdFlood {
		conf := 0.7
		if severe {
			conf = 0.9
		}
		candidates = append(candidates, Candidate{
			Type:       AnomalyFrequency,
			Confidence: conf,
			Summary: fmt.Sprintf("High frequency: %d occurrences in %ds window. Template: %s",
				freq, d.cfg.HistoryWindow, truncate(f.Template, 50)),
		})
	}

	// Rule 2: novelty.
	if stats.Count == 1 && !warmup {
		conf := 0.5
		if f.Severity.Score() >= SeverityWarn.Score() {
			conf = 0.8
		}
		candidates = append(candidates, Candidate{
			Type:       AnomalyNovelty,
			Confidence: conf,
			Summary:    fmt.Sprintf("New log pattern (first of its kind): %s", truncate(f.Template, 60)),
		})
	}

	// Rule 3: severity mismatch.
	if f.Severity == SeverityError &&
		(strings.Contains(strings.ToLower(f.Message), "success") || strings.Contains(f.Message, "200")) {
		candidates = append(candidates, Candidate{
			Type:       AnomalyMismatch,
			Confidence: 0.85,
			Summary:    fmt.Sprintf("Marked ERROR but message implies success: %s", truncate(f.Message, 60)),
		})
	}

	// Rules 4 and 5 need a preceding entry in the same request trace.
	if f.RequestID != "" {
		trace := d.context.Trace(f.RequestID)
		if len(trace) > 1 {
			prev := trace[len(trace)-2]

			if !warmup {
				prevStats := d.context.Stats(prev.TemplateID)
				if total := prevStats.TotalTransitions(); total > 10 {
					prob := float64(prevStats.Transitions[tid]) / float64(total)
					if prob < d.cfg.SequenceProbThreshold {
						candidates = append(candidates, Candidate{
							Type:       AnomalySequence,
							Confidence: 0.75,
							Summary:    fmt.Sprintf("Rare transition in request %s (probability %.2f%%)", f.RequestID, prob*100),
						})
					}
				}
			}

			if delta := f.Timestamp - prev.Timestamp; delta > d.cfg.LatencyThreshold {
				candidates = append(candidates, Candidate{
					Type:       AnomalyLatency,
					Confidence: 0.6,
					Summary:    fmt.Sprintf("High latency between logs in request %s: %.2fs", f.RequestID, delta),
				})
			}
		}
	}

	// Rule 6: tenant-localized errors.
	if f.Severity.Score() >= SeverityError.Score() && len(stats.Users) == 1 && stats.Count > 5 && !warmup {
		var user string
		for u := range stats.Users {
			user = u
		}
		candidates = append(candidates, Candidate{
			Type:       AnomalyTenant,
			Confidence: 0.8,
			Summary:    fmt.Sprintf("Error localized to single user %s (%d occurrences)", user, stats.Count),
		})
	}

	if len(candidates) == 0 {
		return nil
	}

	top := candidates[0]
	for _, c := range candidates[1:] {
		if c.Confidence > top.Confidence {
			top = c
		}
	}

	a := &Anomaly{
		Type:       top.Type,
		Confidence: top.Confidence,
		Context: AnomalyContext{
			TimeWindow:  (time.Duration(d.cfg.HistoryWindow) * time.Second).String(),
			LogTemplate: f.Template,
			Severity:    f.Severity,
		},
		Evidence: AnomalyEvidence{
			Log:           f.Raw,
			Frequency:     freq,
			TemplateCount: stats.Count,
		},
		Summary: top.Summary,
	}
	if d.cfg.EmitAllCandidates {
		a.Candidates = candidates
	}
	return a
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
