package webguard

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oarkflow/log"
)

// ComplianceRule is one named assertion the scheduler runs. Evaluate
// returns the status plus human-readable findings and remediation.
type ComplianceRule struct {
	Name      string
	CheckType string
	Priority  int // 1 highest
	Evaluate  func(ctx context.Context) (ComplianceStatus, string, string)
}

// ComplianceScheduler runs the registered rules on a fixed interval.
// Overlapping runs are disallowed: a tick that arrives while a run is
// in flight is skipped, since the checks are not idempotent by id.
type ComplianceScheduler struct {
	store    ComplianceStore
	recorder *AuditRecorder
	logger   *log.Logger
	interval time.Duration
	running  atomic.Bool
	rules    []ComplianceRule
	now      func() time.Time
	done     chan struct{}
	stopOnce sync.Once
}

func NewComplianceScheduler(store ComplianceStore, recorder *AuditRecorder, cfg ComplianceConfig, logger *log.Logger) *ComplianceScheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	return &ComplianceScheduler{
		store:    store,
		recorder: recorder,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

func (s *ComplianceScheduler) RegisterRule(rule ComplianceRule) {
	s.rules = append(s.rules, rule)
}

// DefaultComplianceRules wires the baseline assertions against the
// live stores. alertStore and eventStore may be the same value.
func DefaultComplianceRules(alertStore AlertStore, eventStore EventStore, rates *RateTracker) []ComplianceRule {
	return []ComplianceRule{
		{
			Name:      "audit_trail_writable",
			CheckType: "audit",
			Priority:  1,
			Evaluate: func(ctx context.Context) (ComplianceStatus, string, string) {
				if err := eventStore.HealthCheck(); err != nil {
					return ComplianceFailing,
						fmt.Sprintf("event store health check failed: %v", err),
						"restore event store connectivity; audit writes are being dropped"
				}
				return CompliancePassing, "event store reachable", ""
			},
		},
		{
			Name:      "alert_responsiveness",
			CheckType: "alerting",
			Priority:  1,
			Evaluate: func(ctx context.Context) (ComplianceStatus, string, string) {
				escalated, err := alertStore.CountAlerts(ctx, AlertEscalated)
				if err != nil {
					return ComplianceWarning, fmt.Sprintf("could not count escalated alerts: %v", err), ""
				}
				if escalated > 0 {
					return ComplianceFailing,
						fmt.Sprintf("%d critical alerts escalated without acknowledgment", escalated),
						"review escalated alerts and acknowledge or resolve them"
				}
				active, err := alertStore.CountAlerts(ctx, AlertActive)
				if err != nil {
					return ComplianceWarning, fmt.Sprintf("could not count active alerts: %v", err), ""
				}
				if active > 20 {
					return ComplianceWarning,
						fmt.Sprintf("%d alerts active", active),
						"triage the active alert backlog"
				}
				return CompliancePassing, fmt.Sprintf("%d alerts active, none escalated", active), ""
			},
		},
		{
			Name:      "rate_tracker_bounded",
			CheckType: "resource",
			Priority:  2,
			Evaluate: func(ctx context.Context) (ComplianceStatus, string, string) {
				tracked := rates.Tracked()
				if tracked > 90000 {
					return ComplianceWarning,
						fmt.Sprintf("rate tracker holds %d IPs, near the cap", tracked),
						"raise maxTrackedIPs or shorten idleEviction"
				}
				return CompliancePassing, fmt.Sprintf("rate tracker holds %d IPs", tracked), ""
			},
		},
	}
}

// Start launches the interval loop and performs one immediate run.
func (s *ComplianceScheduler) Start() {
	go func() {
		s.RunOnce(context.Background())
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunOnce(context.Background())
			case <-s.done:
				return
			}
		}
	}()
}

// RunOnce evaluates every rule and upserts the results. Returns false
// when a run was already in flight and this one was skipped.
func (s *ComplianceScheduler) RunOnce(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		if s.logger != nil {
			s.logger.Warn().Str("component", "compliance").Msg("compliance run already in flight, skipping")
		}
		return false
	}
	defer s.running.Store(false)

	now := s.now()
	for _, rule := range s.rules {
		status, findings, remediation := s.evaluate(ctx, rule)
		check := &ComplianceCheck{
			CheckName:   rule.Name,
			CheckType:   rule.CheckType,
			Status:      status,
			Findings:    findings,
			Remediation: remediation,
			Priority:    rule.Priority,
			LastChecked: now,
			NextCheck:   now.Add(s.interval),
		}
		if err := s.store.UpsertCheck(ctx, check); err != nil {
			if s.logger != nil {
				s.logger.Error().Err(err).
					Str("component", "compliance").
					Str("check", rule.Name).
					Msg("compliance upsert failed")
			}
			continue
		}
		if s.recorder != nil {
			severity := SeverityLow
			if status == ComplianceFailing {
				severity = SeverityMedium
			}
			s.recorder.Log(SecurityEvent{
				EventType: EventComplianceRun,
				Severity:  severity,
				Resource:  "compliance/" + rule.Name,
				Action:    "evaluate",
				Success:   status != ComplianceFailing,
				Details:   map[string]string{"status": string(status)},
			})
		}
	}
	return true
}

// evaluate shields the scheduler from a panicking rule.
func (s *ComplianceScheduler) evaluate(ctx context.Context, rule ComplianceRule) (status ComplianceStatus, findings, remediation string) {
	defer func() {
		if rec := recover(); rec != nil {
			status = ComplianceWarning
			findings = fmt.Sprintf("check panicked: %v", rec)
			if s.logger != nil {
				s.logger.Error().Str("component", "compliance").Str("check", rule.Name).Interface("panic", rec).Msg("compliance check panicked")
			}
		}
	}()
	return rule.Evaluate(ctx)
}

// Score folds the stored check results into a 0-100 dashboard score,
// weighted by priority (priority 1 counts triple, 2 double).
func ComplianceScore(checks []ComplianceCheck) int {
	if len(checks) == 0 {
		return 100
	}
	total, earned := 0, 0
	for _, check := range checks {
		weight := 1
		switch check.Priority {
		case 1:
			weight = 3
		case 2:
			weight = 2
		}
		total += weight
		switch check.Status {
		case CompliancePassing:
			earned += weight
		case ComplianceWarning:
			earned += weight / 2
		}
	}
	if total == 0 {
		return 100
	}
	return earned * 100 / total
}

func (s *ComplianceScheduler) Close() {
	s.stopOnce.Do(func() { close(s.done) })
}
