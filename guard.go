package webguard

import (
	"time"

	"github.com/oarkflow/log"
)

// Stores bundles the persistence interfaces the guard composes over.
// One value (SQLStore or InMemoryStore) usually implements them all.
type Stores struct {
	Events     EventStore
	Intel      IntelStore
	Alerts     AlertStore
	Compliance ComplianceStore
}

// StoresFrom builds the bundle from anything implementing all four
// interfaces.
type combinedStore interface {
	EventStore
	IntelStore
	AlertStore
	ComplianceStore
}

func StoresFrom(store combinedStore) Stores {
	return Stores{Events: store, Intel: store, Alerts: store, Compliance: store}
}

// Options tune the composition; zero values take defaults.
type Options struct {
	Config      *Config
	Logger      *log.Logger
	Metrics     MetricsCollector
	Geo         GeoProvider
	Credentials ChannelCredentials
}

// Guard is the composition root: every component constructed and
// injected explicitly, no package-level state.
type Guard struct {
	Config     *Config
	Patterns   *PatternMatcher
	Rates      *RateTracker
	Behavior   *BehavioralAnalyzer
	Intel      *ThreatIntelligence
	Aggregator *ThreatAggregator
	Alerts     *AlertManager
	Recorder   *AuditRecorder
	Compliance *ComplianceScheduler
	Metrics    MetricsCollector

	logger *log.Logger
}

// NewGuard wires the full subsystem over the provided stores.
func NewGuard(stores Stores, opts Options) *Guard {
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		defaultLogger := log.Logger{
			Level:      log.InfoLevel,
			TimeField:  "ts",
			TimeFormat: time.RFC3339,
			Writer:     &log.ConsoleWriter{},
		}
		logger = &defaultLogger
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewInMemoryMetricsCollector()
	}
	geo := opts.Geo
	if geo == nil {
		geo = NullGeoProvider{}
	}

	recorder := NewAuditRecorder(stores.Events, cfg.Audit, logger, metrics)
	registry := NewNotificationRegistry(cfg.Alerts, opts.Credentials, logger)
	alerts := NewAlertManager(stores.Alerts, registry, recorder, metrics, cfg.Alerts, logger)
	patterns := NewPatternMatcher(cfg.Rate)
	rates := NewRateTracker(cfg.Rate)
	behavior := NewBehavioralAnalyzer(stores.Events, cfg.Behavior, logger)
	intel := NewThreatIntelligence(stores.Intel, logger)
	aggregator := NewThreatAggregator(patterns, rates, behavior, intel, geo, recorder, alerts, metrics, cfg.Scoring, logger)

	compliance := NewComplianceScheduler(stores.Compliance, recorder, cfg.Compliance, logger)
	for _, rule := range DefaultComplianceRules(stores.Alerts, stores.Events, rates) {
		compliance.RegisterRule(rule)
	}

	return &Guard{
		Config:     cfg,
		Patterns:   patterns,
		Rates:      rates,
		Behavior:   behavior,
		Intel:      intel,
		Aggregator: aggregator,
		Alerts:     alerts,
		Recorder:   recorder,
		Compliance: compliance,
		Metrics:    metrics,
		logger:     logger,
	}
}

// Start launches the background schedulers.
func (g *Guard) Start() {
	g.Compliance.Start()
}

// Close shuts the background machinery down and flushes the audit
// queue.
func (g *Guard) Close() {
	g.Compliance.Close()
	g.Alerts.Close()
	g.Rates.Close()
	g.Recorder.Close()
}
