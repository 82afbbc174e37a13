package core

import (
	"testing"
	"time"
)

func TestReportLimiter_AllowsUpToMax(t *testing.T) {
	l := NewReportLimiter(3, time.Minute)
	now := time.Unix(1000, 0)

	for i := 0; i < 3; i++ {
		if !l.Allow(now.Add(time.Duration(i) * time.Second)) {
			t.Fatalf("report %d rejected inside budget", i+1)
		}
	}
	if l.Allow(now.Add(3 * time.Second)) {
		t.Error("fourth report allowed, want rejection")
	}
}

func TestReportLimiter_RejectionRecordsNothing(t *testing.T) {
	l := NewReportLimiter(2, time.Minute)
	now := time.Unix(1000, 0)
	l.Allow(now)
	l.Allow(now)

	for i := 0; i < 5; i++ {
		l.Allow(now.Add(time.Duration(i) * time.Second))
	}
	if got := l.Recorded(); got != 2 {
		t.Errorf("ledger = %d entries, want 2 (rejections must not be recorded)", got)
	}
}

func TestReportLimiter_WindowSlides(t *testing.T) {
	l := NewReportLimiter(2, time.Minute)
	now := time.Unix(1000, 0)
	l.Allow(now)
	l.Allow(now.Add(time.Second))

	if l.Allow(now.Add(30 * time.Second)) {
		t.Fatal("report allowed with window still full")
	}
	// Both entries have aged out a minute later.
	if !l.Allow(now.Add(61 * time.Second)) {
		t.Error("report rejected after the window slid past both entries")
	}
}

func TestReportLimiter_ZeroValuesGetDefaults(t *testing.T) {
	l := NewReportLimiter(0, 0)
	now := time.Unix(1000, 0)
	for i := 0; i < 20; i++ {
		if !l.Allow(now) {
			t.Fatalf("report %d rejected, want default budget of 20", i+1)
		}
	}
	if l.Allow(now) {
		t.Error("21st report allowed")
	}
}
