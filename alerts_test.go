package webguard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// captureSender records every delivered alert for assertions.
type captureSender struct {
	mu   sync.Mutex
	sent []SecurityAlert
}

func (c *captureSender) Name() string { return "capture" }

func (c *captureSender) Send(ctx context.Context, alert *SecurityAlert) error {
	c.mu.Lock()
	c.sent = append(c.sent, *alert)
	c.mu.Unlock()
	return nil
}

func (c *captureSender) escalatedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, alert := range c.sent {
		if strings.HasPrefix(alert.Title, "[ESCALATED]") {
			count++
		}
	}
	return count
}

func newTestAlertManager(store *InMemoryStore, window time.Duration) (*AlertManager, *captureSender) {
	capture := &captureSender{}
	registry := NewNotificationRegistry(AlertConfig{Channels: []string{"capture"}}, ChannelCredentials{}, nil)
	registry.Register(capture)
	cfg := AlertConfig{EscalationWindow: window, Channels: []string{"capture"}}
	return NewAlertManager(store, registry, nil, nil, cfg, nil), capture
}

func waitForStatus(t *testing.T, store *InMemoryStore, id string, status AlertStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		alert, err := store.GetAlert(context.Background(), id)
		if err != nil {
			t.Fatalf("get alert failed: %v", err)
		}
		if alert != nil && alert.Status == status {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("alert %s never reached status %s", id, status)
}

func TestAlertCreateRequiresTypeAndTitle(t *testing.T) {
	manager, _ := newTestAlertManager(NewInMemoryStore(), time.Hour)
	defer manager.Close()

	if _, err := manager.Create(context.Background(), AlertInput{AlertType: "intrusion"}); err == nil {
		t.Fatalf("expected error for missing title")
	}
}

func TestCriticalAlertEscalatesOnce(t *testing.T) {
	store := NewInMemoryStore()
	manager, capture := newTestAlertManager(store, 20*time.Millisecond)
	defer manager.Close()

	id, err := manager.Create(context.Background(), AlertInput{
		AlertType: "intrusion",
		Severity:  SeverityCritical,
		Title:     "repeated injection attempts",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	waitForStatus(t, store, id, AlertEscalated)
	time.Sleep(100 * time.Millisecond)
	if got := capture.escalatedCount(); got != 1 {
		t.Fatalf("expected exactly one escalation notification, got %d", got)
	}
}

func TestAcknowledgeCancelsEscalation(t *testing.T) {
	store := NewInMemoryStore()
	manager, capture := newTestAlertManager(store, 60*time.Millisecond)
	defer manager.Close()

	id, err := manager.Create(context.Background(), AlertInput{
		AlertType: "intrusion",
		Severity:  SeverityCritical,
		Title:     "repeated injection attempts",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := manager.Acknowledge(context.Background(), id, "oncall"); err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	alert, _ := store.GetAlert(context.Background(), id)
	if alert.Status != AlertAcknowledged {
		t.Fatalf("expected acknowledged to stick, got %s", alert.Status)
	}
	if got := capture.escalatedCount(); got != 0 {
		t.Fatalf("expected no escalation after acknowledge, got %d", got)
	}
}

func TestEscalatedAlertCanBeAcknowledged(t *testing.T) {
	store := NewInMemoryStore()
	manager, _ := newTestAlertManager(store, 10*time.Millisecond)
	defer manager.Close()

	id, _ := manager.Create(context.Background(), AlertInput{
		AlertType: "intrusion",
		Severity:  SeverityCritical,
		Title:     "repeated injection attempts",
	})
	waitForStatus(t, store, id, AlertEscalated)

	if err := manager.Acknowledge(context.Background(), id, "oncall"); err != nil {
		t.Fatalf("acknowledge after escalation failed: %v", err)
	}
}

func TestAlertTransitionRules(t *testing.T) {
	store := NewInMemoryStore()
	manager, _ := newTestAlertManager(store, time.Hour)
	defer manager.Close()
	ctx := context.Background()

	if err := manager.Acknowledge(ctx, "missing", "oncall"); !errors.Is(err, ErrAlertNotFound) {
		t.Fatalf("expected ErrAlertNotFound, got %v", err)
	}

	id, _ := manager.Create(ctx, AlertInput{AlertType: "intrusion", Severity: SeverityHigh, Title: "scan burst"})
	if err := manager.Resolve(ctx, id, "oncall"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if err := manager.Resolve(ctx, id, "oncall"); !errors.Is(err, ErrAlertTransition) {
		t.Fatalf("expected ErrAlertTransition on double resolve, got %v", err)
	}
	if err := manager.Acknowledge(ctx, id, "oncall"); !errors.Is(err, ErrAlertTransition) {
		t.Fatalf("expected ErrAlertTransition acknowledging resolved, got %v", err)
	}
}

func TestAlertDefaultSeverity(t *testing.T) {
	store := NewInMemoryStore()
	manager, _ := newTestAlertManager(store, time.Hour)
	defer manager.Close()

	id, err := manager.Create(context.Background(), AlertInput{AlertType: "scan", Title: "port sweep"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	alert, _ := store.GetAlert(context.Background(), id)
	if alert.Severity != SeverityMedium {
		t.Fatalf("expected medium default severity, got %s", alert.Severity)
	}
}
