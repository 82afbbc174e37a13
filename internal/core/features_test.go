package core

import (
	"math"
	"testing"
	"time"
)

func TestParseSeverity_Aliases(t *testing.T) {
	tests := []struct {
		in   string
		want Severity
	}{
		{"DEBUG", SeverityDebug},
		{"info", SeverityInfo},
		{"WARN", SeverityWarn},
		{"warning", SeverityWarn},
		{"ERROR", SeverityError},
		{"CRITICAL", SeverityCritical},
		{"fatal", SeverityCritical},
		{"bogus", SeverityInfo},
		{"", SeverityInfo},
	}
	for _, tt := range tests {
		if got := ParseSeverity(tt.in); got != tt.want {
			t.Errorf("ParseSeverity(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestSeverity_Score(t *testing.T) {
	tests := []struct {
		sev  Severity
		want int
	}{
		{SeverityDebug, 10},
		{SeverityInfo, 20},
		{SeverityWarn, 30},
		{SeverityError, 40},
		{SeverityCritical, 50},
	}
	for _, tt := range tests {
		if got := tt.sev.Score(); got != tt.want {
			t.Errorf("%s.Score() = %d, want %d", tt.sev, got, tt.want)
		}
	}
}

func TestParse_StructuredSeverityBeatsTextMarkers(t *testing.T) {
	fe := NewFeatureExtractor()
	f := fe.Parse(`{"level": "INFO", "message": "ERROR: this is fine"}`)
	if f.Severity != SeverityInfo {
		t.Errorf("severity = %s, want INFO (structured field must win)", f.Severity)
	}
}

func TestParse_TextMarkers(t *testing.T) {
	fe := NewFeatureExtractor()
	tests := []struct {
		line string
		want Severity
	}{
		{"ERROR: database down", SeverityError},
		{"[ERROR] something broke", SeverityError},
		{"WARN: disk almost full", SeverityWarn},
		{"WARNING: still filling", SeverityWarn},
		{"CRITICAL: cannot continue", SeverityCritical},
		{"FATAL: dead", SeverityCritical},
		{"DEBUG: noisy detail", SeverityDebug},
		{"just a plain line", SeverityInfo},
	}
	for _, tt := range tests {
		if got := fe.Parse(tt.line).Severity; got != tt.want {
			t.Errorf("Parse(%q).Severity = %s, want %s", tt.line, got, tt.want)
		}
	}
}

func TestParse_MalformedJSONFallsBackToFreeText(t *testing.T) {
	fe := NewFeatureExtractor()
	line := `{"level": "ERROR", broken`
	f := fe.Parse(line)
	if f.Message != line {
		t.Errorf("message = %q, want the whole line", f.Message)
	}
	if f.Module != "unknown" {
		t.Errorf("module = %q, want unknown", f.Module)
	}
}

func TestParse_MessageKeys(t *testing.T) {
	fe := NewFeatureExtractor()
	if got := fe.Parse(`{"message": "from message"}`).Message; got != "from message" {
		t.Errorf("message = %q", got)
	}
	if got := fe.Parse(`{"msg": "from msg"}`).Message; got != "from msg" {
		t.Errorf("message = %q", got)
	}
}

func TestParse_IdentifierLookup(t *testing.T) {
	fe := NewFeatureExtractor()
	f := fe.Parse(`{"message": "x", "traceId": "t-1", "tenant_id": "acme", "component": "billing"}`)
	if f.RequestID != "t-1" {
		t.Errorf("request id = %q, want t-1", f.RequestID)
	}
	if f.UserID != "acme" {
		t.Errorf("user id = %q, want acme", f.UserID)
	}
	if f.Module != "billing" {
		t.Errorf("module = %q, want billing", f.Module)
	}

	// request_id outranks trace_id, numeric ids are accepted
	f = fe.Parse(`{"message": "x", "request_id": "r-9", "trace_id": "t-1", "user_id": 42}`)
	if f.RequestID != "r-9" {
		t.Errorf("request id = %q, want r-9", f.RequestID)
	}
	if f.UserID != "42" {
		t.Errorf("user id = %q, want 42", f.UserID)
	}
}

func TestNormalizeMessage_MaskOrder(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{
			"user 123e4567-e89b-12d3-a456-426614174000 logged in",
			"user <UUID> logged in",
		},
		{
			"conn from 10.0.0.1 refused",
			"conn from <IP> refused",
		},
		{
			"fault at 0xDEADBEEF in handler",
			"fault at <HEX> in handler",
		},
		{
			"request took 1500 ms",
			"request took <NUM> ms",
		},
		{
			"id 123e4567-e89b-12d3-a456-426614174000 ip 192.168.1.10 addr 0x1a2b code 500",
			"id <UUID> ip <IP> addr <HEX> code <NUM>",
		},
	}
	for _, tt := range tests {
		if got := NormalizeMessage(tt.in); got != tt.want {
			t.Errorf("NormalizeMessage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeMessage_Idempotent(t *testing.T) {
	msgs := []string{
		"user 123e4567-e89b-12d3-a456-426614174000 from 10.0.0.1 got 0xff after 300 ms",
		"plain message with nothing to mask",
		"<NUM> already masked",
	}
	for _, m := range msgs {
		once := NormalizeMessage(m)
		twice := NormalizeMessage(once)
		if once != twice {
			t.Errorf("normalize not idempotent for %q: %q != %q", m, once, twice)
		}
	}
}

func TestTemplateID_Stable(t *testing.T) {
	a := TemplateID("connection to <IP> lost")
	b := TemplateID("connection to <IP> lost")
	if a != b {
		t.Errorf("template id unstable: %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("template id width = %d, want 16", len(a))
	}
	if TemplateID("something else") == a {
		t.Error("different templates must not collide trivially")
	}
}

func TestExtractTimestamp_StructuredString(t *testing.T) {
	fe := NewFeatureExtractor()
	f := fe.Parse(`{"timestamp": "2026-01-02T03:04:05Z", "message": "x"}`)
	want := float64(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).Unix())
	if math.Abs(f.Timestamp-want) > 0.001 {
		t.Errorf("timestamp = %f, want %f", f.Timestamp, want)
	}
}

func TestExtractTimestamp_NumericSecondsAndMillis(t *testing.T) {
	fe := NewFeatureExtractor()
	f := fe.Parse(`{"ts": 1700000000, "message": "x"}`)
	if math.Abs(f.Timestamp-1700000000) > 0.001 {
		t.Errorf("seconds: timestamp = %f", f.Timestamp)
	}
	f = fe.Parse(`{"ts": 1700000000000, "message": "x"}`)
	if math.Abs(f.Timestamp-1700000000) > 0.001 {
		t.Errorf("millis: timestamp = %f", f.Timestamp)
	}
}

func TestExtractTimestamp_RegexFallback(t *testing.T) {
	fe := NewFeatureExtractor()
	f := fe.Parse("2026-01-02 03:04:05 ERROR: free text line")
	want := float64(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).Unix())
	if math.Abs(f.Timestamp-want) > 0.001 {
		t.Errorf("timestamp = %f, want %f", f.Timestamp, want)
	}
}

func TestExtractTimestamp_WallClockFallback(t *testing.T) {
	fe := NewFeatureExtractor()
	before := float64(time.Now().UnixNano()) / float64(time.Second)
	f := fe.Parse("no timestamp anywhere here")
	after := float64(time.Now().UnixNano()) / float64(time.Second)
	if f.Timestamp < before || f.Timestamp > after {
		t.Errorf("timestamp %f not within [%f, %f]", f.Timestamp, before, after)
	}
}
