package webguard

import (
	"context"
	"testing"
	"time"
)

func newTestRecorder(store *InMemoryStore) *AuditRecorder {
	return NewAuditRecorder(store, DefaultConfig().Audit, nil, nil)
}

func TestAuditLogFlushesOnClose(t *testing.T) {
	store := NewInMemoryStore()
	recorder := newTestRecorder(store)

	for i := 0; i < 10; i++ {
		recorder.Log(SecurityEvent{
			EventType: EventAccess,
			ActorID:   "user-1",
			Action:    "read",
			Success:   true,
		})
	}
	recorder.Close()

	if got := store.EventCount(); got != 10 {
		t.Fatalf("expected 10 events persisted, got %d", got)
	}
}

func TestAuditLogFillsDefaults(t *testing.T) {
	store := NewInMemoryStore()
	recorder := newTestRecorder(store)

	recorder.Log(SecurityEvent{EventType: EventAccess, Action: "read"})
	recorder.Close()

	events, err := store.QueryEvents(context.Background(), AuditFilter{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	event := events[0]
	if event.ID == "" || event.Timestamp.IsZero() || event.Severity != SeverityLow {
		t.Fatalf("expected generated id, timestamp and low severity, got %+v", event)
	}
}

func TestAuditLogSurvivesStoreFailure(t *testing.T) {
	store := NewInMemoryStore()
	store.FailWrites = true
	recorder := newTestRecorder(store)

	// Every insert fails; Log must still return normally each time.
	for i := 0; i < 50; i++ {
		recorder.Log(SecurityEvent{EventType: EventAccess, Action: "read"})
	}
	recorder.Close()

	if got := store.EventCount(); got != 0 {
		t.Fatalf("expected nothing persisted, got %d", got)
	}
}

func TestAuditLogDropsWhenQueueFull(t *testing.T) {
	store := NewInMemoryStore()
	cfg := DefaultConfig().Audit
	cfg.QueueSize = 1
	recorder := NewAuditRecorder(store, cfg, nil, nil)

	// Saturate the queue faster than the drain can keep up. Some events
	// may land; the point is that Log never blocks or errors.
	for i := 0; i < 1000; i++ {
		recorder.Log(SecurityEvent{EventType: EventAccess, Action: "read"})
	}
	recorder.Close()

	if got := store.EventCount(); got > 1000 {
		t.Fatalf("persisted more events than were logged: %d", got)
	}
}

func TestAuditQueryClampsLimit(t *testing.T) {
	store := NewInMemoryStore()
	cfg := DefaultConfig().Audit
	cfg.DefaultLimit = 5
	cfg.MaxLimit = 8
	recorder := NewAuditRecorder(store, cfg, nil, nil)

	for i := 0; i < 20; i++ {
		recorder.Log(SecurityEvent{EventType: EventAccess, Action: "read"})
	}
	recorder.Close()

	events, err := recorder.Query(context.Background(), AuditFilter{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("expected the default limit of 5, got %d", len(events))
	}

	events, err = recorder.Query(context.Background(), AuditFilter{Limit: 100})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(events) != 8 {
		t.Fatalf("expected the max limit of 8, got %d", len(events))
	}
}

func TestAuditQueryFilters(t *testing.T) {
	store := NewInMemoryStore()
	recorder := newTestRecorder(store)
	now := time.Now()

	recorder.Log(SecurityEvent{EventType: EventThreatDetection, Severity: SeverityHigh, ActorID: "user-1", SourceIP: "10.0.0.1", Action: "block", Timestamp: now})
	recorder.Log(SecurityEvent{EventType: EventAccess, Severity: SeverityLow, ActorID: "user-2", SourceIP: "10.0.0.2", Action: "read", Timestamp: now})
	recorder.Log(SecurityEvent{EventType: EventAccess, Severity: SeverityLow, ActorID: "user-1", SourceIP: "10.0.0.1", Action: "read", Timestamp: now.Add(-48 * time.Hour)})
	recorder.Close()

	ctx := context.Background()
	events, _ := recorder.Query(ctx, AuditFilter{ActorID: "user-1"})
	if len(events) != 2 {
		t.Fatalf("expected 2 events for user-1, got %d", len(events))
	}

	events, _ = recorder.Query(ctx, AuditFilter{EventTypes: []string{EventThreatDetection}})
	if len(events) != 1 || events[0].SourceIP != "10.0.0.1" {
		t.Fatalf("unexpected threat_detection query result: %+v", events)
	}

	events, _ = recorder.Query(ctx, AuditFilter{Since: now.Add(-time.Hour)})
	if len(events) != 2 {
		t.Fatalf("expected 2 recent events, got %d", len(events))
	}
}

func TestAuditReportAggregates(t *testing.T) {
	store := NewInMemoryStore()
	recorder := newTestRecorder(store)
	now := time.Now()

	recorder.Log(SecurityEvent{EventType: EventThreatDetection, Severity: SeverityHigh, ActorID: "user-1", SourceIP: "10.0.0.1", Action: "block", Timestamp: now})
	recorder.Log(SecurityEvent{EventType: EventThreatDetection, Severity: SeverityHigh, ActorID: "user-2", SourceIP: "10.0.0.1", Action: "block", Timestamp: now})
	recorder.Log(SecurityEvent{EventType: EventAccess, Severity: SeverityLow, ActorID: "user-1", SourceIP: "10.0.0.3", Action: "read", Timestamp: now})
	recorder.Close()

	report, err := recorder.Report(context.Background(), now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if report.TotalEvents != 3 {
		t.Fatalf("expected 3 events, got %d", report.TotalEvents)
	}
	if report.ByEventType[EventThreatDetection] != 2 || report.BySeverity[SeverityHigh] != 2 {
		t.Fatalf("unexpected breakdown: %+v", report)
	}
	if report.UniqueActors != 2 || report.UniqueIPs != 2 {
		t.Fatalf("expected 2 actors and 2 IPs, got %d/%d", report.UniqueActors, report.UniqueIPs)
	}
	if len(report.TopSourceIPs) == 0 || report.TopSourceIPs[0].IP != "10.0.0.1" {
		t.Fatalf("expected 10.0.0.1 as the top source, got %+v", report.TopSourceIPs)
	}
}
