package webguard

import (
	"context"
	"testing"
	"time"
)

func newTestScheduler(store *InMemoryStore, rules []ComplianceRule) *ComplianceScheduler {
	scheduler := NewComplianceScheduler(store, nil, ComplianceConfig{Interval: time.Hour}, nil)
	for _, rule := range rules {
		scheduler.RegisterRule(rule)
	}
	return scheduler
}

func TestComplianceHealthySystemPasses(t *testing.T) {
	store := NewInMemoryStore()
	tracker := newTestTracker(60, 1000)
	scheduler := newTestScheduler(store, DefaultComplianceRules(store, store, tracker))
	defer scheduler.Close()

	if !scheduler.RunOnce(context.Background()) {
		t.Fatalf("expected the run to execute")
	}

	checks, err := store.ListChecks(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(checks) != 3 {
		t.Fatalf("expected 3 checks, got %d", len(checks))
	}
	for _, check := range checks {
		if check.Status != CompliancePassing {
			t.Fatalf("expected %s to pass, got %s (%s)", check.CheckName, check.Status, check.Findings)
		}
	}
	if score := ComplianceScore(checks); score != 100 {
		t.Fatalf("expected score 100, got %d", score)
	}
}

func TestComplianceDetectsUnreachableEventStore(t *testing.T) {
	healthy := NewInMemoryStore()
	broken := NewInMemoryStore()
	broken.FailWrites = true
	tracker := newTestTracker(60, 1000)
	scheduler := newTestScheduler(healthy, DefaultComplianceRules(healthy, broken, tracker))
	defer scheduler.Close()

	scheduler.RunOnce(context.Background())

	checks, _ := healthy.ListChecks(context.Background())
	var audit *ComplianceCheck
	for i := range checks {
		if checks[i].CheckName == "audit_trail_writable" {
			audit = &checks[i]
		}
	}
	if audit == nil || audit.Status != ComplianceFailing {
		t.Fatalf("expected audit_trail_writable failing, got %+v", audit)
	}
	if audit.Remediation == "" {
		t.Fatalf("expected remediation guidance on a failing check")
	}
}

func TestComplianceDetectsEscalatedAlerts(t *testing.T) {
	store := NewInMemoryStore()
	store.InsertAlert(context.Background(), &SecurityAlert{
		ID: "a1", AlertType: "intrusion", Severity: SeverityCritical,
		Title: "x", Status: AlertEscalated, CreatedAt: time.Now(),
	})
	tracker := newTestTracker(60, 1000)
	scheduler := newTestScheduler(store, DefaultComplianceRules(store, store, tracker))
	defer scheduler.Close()

	scheduler.RunOnce(context.Background())

	checks, _ := store.ListChecks(context.Background())
	for _, check := range checks {
		if check.CheckName == "alert_responsiveness" {
			if check.Status != ComplianceFailing {
				t.Fatalf("expected alert_responsiveness failing, got %s", check.Status)
			}
			return
		}
	}
	t.Fatalf("alert_responsiveness check missing")
}

func TestComplianceSkipsOverlappingRun(t *testing.T) {
	store := NewInMemoryStore()
	scheduler := newTestScheduler(store, nil)
	defer scheduler.Close()

	scheduler.running.Store(true)
	if scheduler.RunOnce(context.Background()) {
		t.Fatalf("expected the overlapping run to be skipped")
	}
	scheduler.running.Store(false)
	if !scheduler.RunOnce(context.Background()) {
		t.Fatalf("expected the run to proceed once the previous finished")
	}
}

func TestCompliancePanickingRuleBecomesWarning(t *testing.T) {
	store := NewInMemoryStore()
	scheduler := newTestScheduler(store, []ComplianceRule{{
		Name:      "flaky",
		CheckType: "custom",
		Priority:  3,
		Evaluate: func(ctx context.Context) (ComplianceStatus, string, string) {
			panic("boom")
		},
	}})
	defer scheduler.Close()

	scheduler.RunOnce(context.Background())

	checks, _ := store.ListChecks(context.Background())
	if len(checks) != 1 || checks[0].Status != ComplianceWarning {
		t.Fatalf("expected the panicking rule recorded as warning, got %+v", checks)
	}
}

func TestComplianceScoreWeighting(t *testing.T) {
	checks := []ComplianceCheck{
		{CheckName: "a", Priority: 1, Status: CompliancePassing}, // weight 3
		{CheckName: "b", Priority: 2, Status: ComplianceFailing}, // weight 2
		{CheckName: "c", Priority: 3, Status: ComplianceWarning}, // weight 1, half credit
	}
	// earned 3 of 6 total, warning contributes 1/2 rounded down to 0.
	if score := ComplianceScore(checks); score != 50 {
		t.Fatalf("expected score 50, got %d", score)
	}
	if score := ComplianceScore(nil); score != 100 {
		t.Fatalf("expected empty check list to score 100, got %d", score)
	}
}
