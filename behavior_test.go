package webguard

import (
	"context"
	"testing"
	"time"
)

func seedActorEvents(store *InMemoryStore, actorID string, at time.Time, count int) {
	for i := 0; i < count; i++ {
		store.InsertEvent(context.Background(), &SecurityEvent{
			ID:        "seed",
			EventType: EventAccess,
			Severity:  SeverityLow,
			ActorID:   actorID,
			Action:    "read",
			Success:   true,
			Timestamp: at,
		})
	}
}

func TestBehaviorInsufficientHistory(t *testing.T) {
	store := NewInMemoryStore()
	analyzer := NewBehavioralAnalyzer(store, DefaultConfig().Behavior, nil)
	now := time.Now()

	seedActorEvents(store, "user-1", now.Add(-24*time.Hour), 5)
	threats := analyzer.Analyze(context.Background(), "user-1", now)
	if len(threats) != 0 {
		t.Fatalf("expected no signal below the minimum event count, got %+v", threats)
	}
}

func TestBehaviorUnusualAccessTime(t *testing.T) {
	store := NewInMemoryStore()
	analyzer := NewBehavioralAnalyzer(store, DefaultConfig().Behavior, nil)

	// All history sits twelve hours away from the current hour, so
	// the current bucket is empty and total is above the hourly gate.
	now := time.Date(2026, 8, 30, 3, 0, 0, 0, time.UTC)
	for day := 1; day <= 6; day++ {
		seedActorEvents(store, "user-2", now.Add(-time.Duration(day)*24*time.Hour).Add(12*time.Hour), 10)
	}

	threats := analyzer.Analyze(context.Background(), "user-2", now)
	threat := findThreat(threats, ThreatUnusualTime)
	if threat == nil {
		t.Fatalf("expected unusual_access_time, got %+v", threats)
	}
	if threat.Severity != SeverityMedium {
		t.Fatalf("expected medium severity, got %s", threat.Severity)
	}
}

func TestBehaviorUnusualVolume(t *testing.T) {
	store := NewInMemoryStore()
	analyzer := NewBehavioralAnalyzer(store, DefaultConfig().Behavior, nil)
	now := time.Now()

	// Modest steady history, then a burst inside the last hour.
	seedActorEvents(store, "user-3", now.Add(-3*24*time.Hour), 10)
	seedActorEvents(store, "user-3", now.Add(-30*time.Minute), 40)

	threats := analyzer.Analyze(context.Background(), "user-3", now)
	threat := findThreat(threats, ThreatUnusualVolume)
	if threat == nil {
		t.Fatalf("expected unusual_access_volume, got %+v", threats)
	}
	if threat.Severity != SeverityHigh {
		t.Fatalf("expected high severity, got %s", threat.Severity)
	}
}

func TestBehaviorNormalActivityIsQuiet(t *testing.T) {
	store := NewInMemoryStore()
	analyzer := NewBehavioralAnalyzer(store, DefaultConfig().Behavior, nil)
	now := time.Now()

	// Same hour every day, no burst: nothing anomalous.
	for day := 1; day <= 6; day++ {
		seedActorEvents(store, "user-4", now.Add(-time.Duration(day)*24*time.Hour), 10)
	}
	seedActorEvents(store, "user-4", now.Add(-30*time.Minute), 1)

	threats := analyzer.Analyze(context.Background(), "user-4", now)
	if len(threats) != 0 {
		t.Fatalf("expected no anomalies, got %+v", threats)
	}
}

func TestBehaviorStoreFailureDegrades(t *testing.T) {
	store := NewInMemoryStore()
	store.FailWrites = true
	analyzer := NewBehavioralAnalyzer(store, DefaultConfig().Behavior, nil)

	threats := analyzer.Analyze(context.Background(), "user-5", time.Now())
	if threats != nil {
		t.Fatalf("expected empty result on store failure, got %+v", threats)
	}
}
