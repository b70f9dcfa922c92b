package webguard

import (
	"context"
	"testing"
	"time"
)

func TestIntelBlockWithExpiry(t *testing.T) {
	store := NewInMemoryStore()
	intel := NewThreatIntelligence(store, nil)
	now := time.Now()
	intel.now = func() time.Time { return now }

	if err := intel.Block(context.Background(), "203.0.113.30", time.Hour); err != nil {
		t.Fatalf("block failed: %v", err)
	}
	if !intel.IsBlocked("203.0.113.30") {
		t.Fatalf("expected IP blocked inside the TTL")
	}

	now = now.Add(2 * time.Hour)
	if intel.IsBlocked("203.0.113.30") {
		t.Fatalf("expected the block to lapse after the TTL")
	}
}

func TestIntelBlockWithoutExpiryPersists(t *testing.T) {
	store := NewInMemoryStore()
	intel := NewThreatIntelligence(store, nil)
	now := time.Now()
	intel.now = func() time.Time { return now }

	if err := intel.Block(context.Background(), "203.0.113.31", 0); err != nil {
		t.Fatalf("block failed: %v", err)
	}
	now = now.Add(30 * 24 * time.Hour)
	if !intel.IsBlocked("203.0.113.31") {
		t.Fatalf("expected a TTL-less block to hold indefinitely")
	}

	entry, _ := store.GetIntel(context.Background(), "203.0.113.31")
	if entry == nil || !entry.Blocked {
		t.Fatalf("expected the block persisted to the store, got %+v", entry)
	}
}

func TestIntelUnblock(t *testing.T) {
	store := NewInMemoryStore()
	intel := NewThreatIntelligence(store, nil)

	intel.Block(context.Background(), "203.0.113.32", 0)
	if err := intel.Unblock(context.Background(), "203.0.113.32"); err != nil {
		t.Fatalf("unblock failed: %v", err)
	}
	if intel.IsBlocked("203.0.113.32") {
		t.Fatalf("expected IP unblocked")
	}
	entry, _ := store.GetIntel(context.Background(), "203.0.113.32")
	if entry == nil || entry.Blocked {
		t.Fatalf("expected the unblock persisted, got %+v", entry)
	}
}

func TestIntelWarmCacheOnStartup(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Now()
	store.UpsertIntel(context.Background(), &ThreatIntelligenceEntry{
		IPAddress: "203.0.113.33", ThreatType: "botnet", Severity: SeverityHigh,
		FirstSeen: now, LastSeen: now, Occurrences: 3, Blocked: true,
	})

	intel := NewThreatIntelligence(store, nil)
	if !intel.IsBlocked("203.0.113.33") {
		t.Fatalf("expected a persisted block honored after restart")
	}
}

func TestIntelCheckSurvivesTouchFailure(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Now()
	store.UpsertIntel(context.Background(), &ThreatIntelligenceEntry{
		IPAddress: "203.0.113.35", ThreatType: "scanner", Severity: SeverityMedium,
		FirstSeen: now, LastSeen: now, Occurrences: 1,
	})
	intel := NewThreatIntelligence(store, nil)
	store.FailWrites = true

	result := intel.Check(context.Background(), "203.0.113.35")
	if !result.IsThreat {
		t.Fatalf("expected the hit reported despite the failed touch")
	}
	entry, _ := store.GetIntel(context.Background(), "203.0.113.35")
	if entry.Occurrences != 1 {
		t.Fatalf("expected the store untouched after the failed write, got %d", entry.Occurrences)
	}
}

func TestIntelRecordFillsDefaults(t *testing.T) {
	store := NewInMemoryStore()
	intel := NewThreatIntelligence(store, nil)

	err := intel.Record(context.Background(), ThreatIntelligenceEntry{
		IPAddress:  "203.0.113.34",
		ThreatType: "scanner",
		Severity:   SeverityMedium,
		Source:     "honeypot",
	})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	entry, _ := store.GetIntel(context.Background(), "203.0.113.34")
	if entry == nil || entry.FirstSeen.IsZero() || entry.Occurrences != 1 {
		t.Fatalf("expected defaults filled, got %+v", entry)
	}

	if err := intel.Record(context.Background(), ThreatIntelligenceEntry{}); err == nil {
		t.Fatalf("expected error for an entry without an IP")
	}
}
