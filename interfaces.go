package webguard

import (
	"context"
	"time"
)

// EventStore persists the append-only audit trail. It is the system
// of record the behavioral analyzer and reports read from.
type EventStore interface {
	InsertEvent(ctx context.Context, event *SecurityEvent) error
	QueryEvents(ctx context.Context, filter AuditFilter) ([]SecurityEvent, error)
	CountEventsByActor(ctx context.Context, actorID string, since, until time.Time) (total int, byHour map[int]int, err error)
	Report(ctx context.Context, start, end time.Time) (*AuditReport, error)
	HealthCheck() error
}

// IntelStore holds the curated threat-intelligence table and the
// block flags living on it.
type IntelStore interface {
	GetIntel(ctx context.Context, ip string) (*ThreatIntelligenceEntry, error)
	UpsertIntel(ctx context.Context, entry *ThreatIntelligenceEntry) error
	TouchIntel(ctx context.Context, ip string, lastSeen time.Time) error
	SetBlocked(ctx context.Context, ip string, blocked bool) error
	ListIntel(ctx context.Context, limit int) ([]ThreatIntelligenceEntry, error)
}

// AlertStore persists alerts through their status lifecycle. Alerts
// are never deleted.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert *SecurityAlert) error
	GetAlert(ctx context.Context, id string) (*SecurityAlert, error)
	UpdateAlertStatus(ctx context.Context, id string, status AlertStatus, at time.Time) error
	ListAlerts(ctx context.Context, status AlertStatus, limit int) ([]SecurityAlert, error)
	CountAlerts(ctx context.Context, status AlertStatus) (int, error)
}

// ComplianceStore upserts scheduled check results for the dashboard.
type ComplianceStore interface {
	UpsertCheck(ctx context.Context, check *ComplianceCheck) error
	ListChecks(ctx context.Context) ([]ComplianceCheck, error)
}

// NotificationSender delivers one alert over one channel type.
// Delivery is best effort; failures are logged, never propagated.
type NotificationSender interface {
	Send(ctx context.Context, alert *SecurityAlert) error
	Name() string
}

// MetricsCollector is the observability hook, pluggable like the rest.
type MetricsCollector interface {
	IncrementCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
	ExportPrometheus() string
	HealthCheck() error
}

// GeoProvider answers the geographic/temporal reputation questions.
// The production feed is not integrated yet; NullGeoProvider keeps
// the scoring weights wired but inert.
type GeoProvider interface {
	IsTorExit(ip string) bool
	IsVPN(ip string) bool
}

// NullGeoProvider reports every IP as clean.
type NullGeoProvider struct{}

func (NullGeoProvider) IsTorExit(string) bool { return false }
func (NullGeoProvider) IsVPN(string) bool     { return false }
