package webguard

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/oarkflow/log"
)

// ThreatAggregator combines the detector signals into a single risk
// score and recommended action. Signals accumulate without a cap on
// purpose: multiple simultaneous attack signatures should compound
// risk. The reported score is clamped to 0-100 at the end.
type ThreatAggregator struct {
	patterns *PatternMatcher
	rates    *RateTracker
	behavior *BehavioralAnalyzer
	intel    *ThreatIntelligence
	geo      GeoProvider
	recorder *AuditRecorder
	alerts   *AlertManager
	metrics  MetricsCollector
	logger   *log.Logger

	mu  sync.RWMutex
	cfg ScoringConfig
	now func() time.Time
}

func NewThreatAggregator(
	patterns *PatternMatcher,
	rates *RateTracker,
	behavior *BehavioralAnalyzer,
	intel *ThreatIntelligence,
	geo GeoProvider,
	recorder *AuditRecorder,
	alerts *AlertManager,
	metrics MetricsCollector,
	cfg ScoringConfig,
	logger *log.Logger,
) *ThreatAggregator {
	if geo == nil {
		geo = NullGeoProvider{}
	}
	return &ThreatAggregator{
		patterns: patterns,
		rates:    rates,
		behavior: behavior,
		intel:    intel,
		geo:      geo,
		recorder: recorder,
		alerts:   alerts,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Reconfigure swaps the scoring constants, used by config hot reload.
func (ag *ThreatAggregator) Reconfigure(cfg ScoringConfig) {
	ag.mu.Lock()
	ag.cfg = cfg
	ag.mu.Unlock()
}

func (ag *ThreatAggregator) scoring() ScoringConfig {
	ag.mu.RLock()
	defer ag.mu.RUnlock()
	return ag.cfg
}

// AnalyzeRequest runs every detector against one request and returns
// the verdict. The only error it returns is a malformed descriptor;
// detector and store failures degrade to weaker signals.
func (ag *ThreatAggregator) AnalyzeRequest(ctx context.Context, req *RequestDescriptor) (*ThreatDetectionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	cfg := ag.scoring()
	score := 0
	var threats []DetectedThreat

	// Threat intelligence: exact IP match against the curated list.
	if intel := ag.intel.Check(ctx, req.SourceIP); intel.IsThreat {
		threats = append(threats, *intel.Threat)
		score += cfg.intelWeight(intel.Entry.Severity)
	}

	// Rate tracker.
	rate := ag.rates.Check(req.SourceIP)
	if rate.Exceeded {
		threats = append(threats, DetectedThreat{
			Type:        ThreatRateLimit,
			Severity:    rate.Severity,
			Description: "request rate above the per-window threshold",
			Evidence: map[string]string{
				"requestCount": strconv.Itoa(rate.RequestCount),
				"window":       rate.WindowDuration.String(),
			},
			Confidence: 95,
		})
		score += cfg.RateExceededWeight
	}

	// Pattern matcher: every match adds, unbounded by design.
	for _, threat := range ag.patterns.Detect(req.URL(), string(req.Body), req.UserAgent) {
		threats = append(threats, threat)
		score += cfg.patternWeight(threat.Severity)
	}

	// Behavioral analysis only applies to authenticated actors.
	if req.ActorID != "" {
		for _, threat := range ag.behavior.Analyze(ctx, req.ActorID, ag.now()) {
			threats = append(threats, threat)
			score += cfg.BehaviorWeight
		}
	}

	// Geographic/temporal reputation. Inert until a real feed is wired
	// behind GeoProvider.
	if ag.geo.IsTorExit(req.SourceIP) {
		threats = append(threats, DetectedThreat{
			Type:        ThreatTorExit,
			Severity:    SeverityHigh,
			Description: "request from a Tor exit node",
			Confidence:  80,
		})
		score += cfg.GeoWeight
	}
	if ag.geo.IsVPN(req.SourceIP) {
		threats = append(threats, DetectedThreat{
			Type:        ThreatVPN,
			Severity:    SeverityMedium,
			Description: "request from a known VPN range",
			Confidence:  70,
		})
		score += cfg.GeoWeight
	}

	level := cfg.threatLevel(score)
	action := recommendedAction(level)

	// Any individually critical threat forces a block regardless of
	// the aggregate score.
	for _, threat := range threats {
		if threat.Severity == SeverityCritical {
			action = ActionBlock
			break
		}
	}

	result := &ThreatDetectionResult{
		ThreatLevel:       level,
		DetectedThreats:   threats,
		RiskScore:         clampScore(score),
		RecommendedAction: action,
		Blocked:           action == ActionBlock || ag.intel.IsBlocked(req.SourceIP),
	}

	ag.observe(req, result)

	// A critical aggregate moves the source IP to blocked, with the
	// configured expiry so a shared NAT does not stay dark forever.
	if level == SeverityCritical {
		if err := ag.intel.Block(ctx, req.SourceIP, cfg.AutoBlockTTL); err == nil {
			ag.audit(SecurityEvent{
				EventType: EventIPBlocked,
				Severity:  SeverityCritical,
				SourceIP:  req.SourceIP,
				Action:    "auto_block",
				Success:   true,
				Details:   map[string]string{"ttl": cfg.AutoBlockTTL.String()},
			})
		}
	}

	if len(threats) > 0 {
		ag.audit(SecurityEvent{
			EventType: EventThreatDetection,
			Severity:  level,
			ActorID:   req.ActorID,
			SourceIP:  req.SourceIP,
			Resource:  req.Path,
			Action:    string(action),
			Success:   !result.Blocked,
			SessionID: req.SessionID,
			Details: map[string]string{
				"riskScore":   strconv.Itoa(result.RiskScore),
				"threatCount": strconv.Itoa(len(threats)),
				"method":      req.Method,
				"userAgent":   clip(req.UserAgent, 200),
			},
		})
		ag.raiseAlert(req, result)
	}

	return result, nil
}

// observe feeds the metrics collector; never on the error path.
func (ag *ThreatAggregator) observe(req *RequestDescriptor, result *ThreatDetectionResult) {
	if ag.metrics == nil {
		return
	}
	ag.metrics.IncrementCounter("requests_analyzed_total", nil)
	ag.metrics.ObserveHistogram("risk_score", float64(result.RiskScore), nil)
	for _, threat := range result.DetectedThreats {
		ag.metrics.IncrementCounter("threats_detected_total", map[string]string{
			"type":     threat.Type,
			"severity": string(threat.Severity),
		})
	}
	if result.Blocked {
		ag.metrics.IncrementCounter("requests_blocked_total", nil)
	}
}

// audit is fire-and-forget: the recorder owns the queue and swallows
// its own failures, so the verdict is never affected.
func (ag *ThreatAggregator) audit(event SecurityEvent) {
	if ag.recorder == nil {
		return
	}
	ag.recorder.Log(event)
}

// raiseAlert notifies the alert manager on high-risk decisions.
// Failures are logged and dropped; the verdict already stands.
func (ag *ThreatAggregator) raiseAlert(req *RequestDescriptor, result *ThreatDetectionResult) {
	if ag.alerts == nil || result.ThreatLevel.Rank() < SeverityHigh.Rank() {
		return
	}
	primary := result.DetectedThreats[0]
	for _, threat := range result.DetectedThreats {
		if threat.Severity.Rank() > primary.Severity.Rank() {
			primary = threat
		}
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := ag.alerts.Create(ctx, AlertInput{
			AlertType: primary.Type,
			Severity:  result.ThreatLevel,
			Title:     fmt.Sprintf("%s from %s", primary.Description, req.SourceIP),
			Message:   fmt.Sprintf("risk score %d, recommended action %s", result.RiskScore, result.RecommendedAction),
			Source:    "threat_aggregator",
			Metadata: map[string]string{
				"sourceIp":  req.SourceIP,
				"path":      req.Path,
				"actorId":   req.ActorID,
				"riskScore": strconv.Itoa(result.RiskScore),
			},
		})
		if err != nil && ag.logger != nil {
			ag.logger.Error().Err(err).
				Str("component", "aggregator").
				Str("ip", req.SourceIP).
				Msg("alert creation failed")
		}
	}()
}

func (c ScoringConfig) intelWeight(severity Severity) int {
	switch severity {
	case SeverityCritical:
		return c.IntelWeightCritical
	case SeverityHigh:
		return c.IntelWeightHigh
	case SeverityMedium:
		return c.IntelWeightMedium
	default:
		return c.IntelWeightLow
	}
}

func (c ScoringConfig) patternWeight(severity Severity) int {
	switch severity {
	case SeverityCritical:
		return c.PatternWeightCritical
	case SeverityHigh:
		return c.PatternWeightHigh
	default:
		return c.PatternWeightMedium
	}
}

func (c ScoringConfig) threatLevel(score int) Severity {
	switch {
	case score >= c.LevelCritical:
		return SeverityCritical
	case score >= c.LevelHigh:
		return SeverityHigh
	case score >= c.LevelMedium:
		return SeverityMedium
	case score >= c.LevelLow:
		return SeverityLow
	default:
		return SeverityNone
	}
}

func recommendedAction(level Severity) Action {
	switch level {
	case SeverityCritical:
		return ActionBlock
	case SeverityHigh:
		return ActionChallenge
	case SeverityMedium:
		return ActionMonitor
	default:
		return ActionAllow
	}
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
