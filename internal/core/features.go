package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fastjson"
)

// Severity represents the severity level of a log line.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarn:
		return "WARN"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Score returns the ordinal weight used by detection rules.
func (s Severity) Score() int {
	switch s {
	case SeverityDebug:
		return 10
	case SeverityInfo:
		return 20
	case SeverityWarn:
		return 30
	case SeverityError:
		return 40
	case SeverityCritical:
		return 50
	default:
		return 20
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseSeverity(str)
	return nil
}

// ParseSeverity resolves a severity string, accepting the common aliases
// WARNING for WARN and FATAL for CRITICAL. Unknown values map to INFO.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return SeverityDebug
	case "INFO":
		return SeverityInfo
	case "WARN", "WARNING":
		return SeverityWarn
	case "ERROR":
		return SeverityError
	case "CRITICAL", "FATAL":
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// LogFeatures is the normalized feature set derived from one raw log line.
// It lives only for the duration of a single detector check plus whatever
// the ContextEngine retains of it.
type LogFeatures struct {
	Raw        string
	Timestamp  float64 // epoch seconds
	Severity   Severity
	Message    string
	Module     string
	RequestID  string
	UserID     string
	Template   string
	TemplateID string
}

// Candidate key lists for structured field lookup, in priority order.
var (
	timestampKeys = []string{"timestamp", "time", "date", "ts", "@timestamp"}
	severityKeys  = []string{"level", "severity", "log_level", "loglevel"}
	messageKeys   = []string{"message", "msg"}
	moduleKeys    = []string{"module", "component", "logger"}
	requestKeys   = []string{"request_id", "trace_id", "traceId", "correlation_id"}
	userKeys      = []string{"user_id", "userId", "tenant_id", "tenantId"}
)

var (
	tsPattern   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)
	uuidPattern = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	ipPattern   = regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`)
	hexPattern  = regexp.MustCompile(`(?i)\b0x[0-9a-f]+\b`)
	numPattern  = regexp.MustCompile(`\b\d+\b`)
)

// FeatureExtractor parses raw log lines into LogFeatures. Parse never fails:
// any field that cannot be derived falls back to a default.
type FeatureExtractor struct {
	parsers fastjson.ParserPool
	now     func() time.Time
}

// NewFeatureExtractor creates a FeatureExtractor.
func NewFeatureExtractor() *FeatureExtractor {
	return &FeatureExtractor{now: time.Now}
}

// Parse derives the full feature set for one raw line. Structured (JSON
// object) payloads are tried first; anything else is treated as free text.
func (fe *FeatureExtractor) Parse(raw string) *LogFeatures {
	line := strings.TrimSpace(raw)

	var obj *fastjson.Value
	parser := fe.parsers.Get()
	defer fe.parsers.Put(parser)
	if v, err := parser.Parse(line); err == nil && v.Type() == fastjson.TypeObject {
		obj = v
	}

	message := line
	if obj != nil {
		if m := firstString(obj, messageKeys); m != "" {
			message = m
		}
	}

	f := &LogFeatures{
		Raw:       line,
		Timestamp: fe.extractTimestamp(line, obj),
		Severity:  extractSeverity(line, obj),
		Message:   message,
		Module:    "unknown",
		RequestID: firstString(obj, requestKeys),
		UserID:    firstString(obj, userKeys),
	}
	if m := firstString(obj, moduleKeys); m != "" {
		f.Module = m
	}

	f.Template = NormalizeMessage(message)
	f.TemplateID = TemplateID(f.Template)
	return f
}

// NormalizeMessage masks the variable parts of a message so similar lines
// collapse to one template. Substitution order matters: UUID, IP and hex
// literals must be masked before the generic digit mask.
func NormalizeMessage(message string) string {
	msg := uuidPattern.ReplaceAllString(message, "<UUID>")
	msg = ipPattern.ReplaceAllString(msg, "<IP>")
	msg = hexPattern.ReplaceAllString(msg, "<HEX>")
	msg = numPattern.ReplaceAllString(msg, "<NUM>")
	return strings.TrimSpace(msg)
}

// TemplateID returns a stable content hash of a template. The hash must be
// identical across process restarts for the same template, so it is derived
// from the bytes, never from a runtime identity hash.
func TemplateID(template string) string {
	sum := sha256.Sum256([]byte(template))
	return hex.EncodeToString(sum[:8])
}

func (fe *FeatureExtractor) extractTimestamp(line string, obj *fastjson.Value) float64 {
	if obj != nil {
		for _, key := range timestampKeys {
			v := obj.Get(key)
			if v == nil {
				continue
			}
			switch v.Type() {
			case fastjson.TypeNumber:
				ts, _ := v.Float64()
				if ts > 1e12 { // epoch milliseconds
					ts /= 1000
				}
				return ts
			case fastjson.TypeString:
				if ts, ok := parseISOTimestamp(string(v.GetStringBytes())); ok {
					return ts
				}
			}
			break
		}
	}

	if m := tsPattern.FindString(line); m != "" {
		if ts, ok := parseISOTimestamp(m); ok {
			return ts
		}
	}

	return float64(fe.now().UnixNano()) / float64(time.Second)
}

// isoLayouts covers the timestamp shapes matched by tsPattern: optional
// fractional seconds, optional zone with or without a colon.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
}

func parseISOTimestamp(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if len(s) > 10 && s[10] == ' ' {
		s = s[:10] + "T" + s[11:]
	}
	// Bare numeric strings are epoch seconds.
	if ts, err := strconv.ParseFloat(s, 64); err == nil {
		if ts > 1e12 {
			ts /= 1000
		}
		return ts, true
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return float64(t.UnixNano()) / float64(time.Second), true
		}
	}
	return 0, false
}

func extractSeverity(line string, obj *fastjson.Value) Severity {
	if obj != nil {
		for _, key := range severityKeys {
			if v := obj.Get(key); v != nil {
				return ParseSeverity(fieldString(v))
			}
		}
	}

	upper := strings.ToUpper(line)
	switch {
	case strings.Contains(line, "❌") || strings.Contains(upper, "CRITICAL:") || strings.Contains(upper, "FATAL:"):
		return SeverityCritical
	case strings.Contains(upper, "ERROR:") || strings.Contains(upper, "ERROR ") || strings.Contains(upper, "[ERROR]"):
		return SeverityError
	case strings.Contains(line, "⚠️") || strings.Contains(upper, "WARN:") || strings.Contains(upper, "WARNING:") || strings.Contains(upper, "[WARN]"):
		return SeverityWarn
	case strings.Contains(upper, "DEBUG:") || strings.Contains(upper, "[DEBUG]"):
		return SeverityDebug
	}
	return SeverityInfo
}

// firstString returns the first present candidate key as a string, covering
// both string and numeric JSON values (ids are sometimes numbers).
func firstString(obj *fastjson.Value, keys []string) string {
	if obj == nil {
		return ""
	}
	for _, key := range keys {
		if v := obj.Get(key); v != nil {
			if s := fieldString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func fieldString(v *fastjson.Value) string {
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		return v.String()
	default:
		return ""
	}
}
