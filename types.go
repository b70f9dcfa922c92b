package webguard

import (
	"time"
)

// Severity buckets shared by every detector and by alerts.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities so detectors can compare them.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Threat types produced by the detectors.
const (
	ThreatSQLInjection     = "sql_injection"
	ThreatXSS              = "xss"
	ThreatPathTraversal    = "path_traversal"
	ThreatCommandInjection = "command_injection"
	ThreatLDAPInjection    = "ldap_injection"
	ThreatOversizedURL     = "oversized_url"
	ThreatOversizedBody    = "oversized_body"
	ThreatRateLimit        = "rate_limit_exceeded"
	ThreatKnownBadIP       = "known_malicious_ip"
	ThreatUnusualTime      = "unusual_access_time"
	ThreatUnusualVolume    = "unusual_access_volume"
	ThreatTorExit          = "tor_exit_node"
	ThreatVPN              = "vpn_source"
)

// Recommended actions, weakest to strongest.
type Action string

const (
	ActionAllow     Action = "allow"
	ActionMonitor   Action = "monitor"
	ActionChallenge Action = "challenge"
	ActionBlock     Action = "block"
)

// DetectedThreat is a single finding from one detector.
type DetectedThreat struct {
	Type        string            `json:"type"`
	Severity    Severity          `json:"severity"`
	Description string            `json:"description"`
	Evidence    map[string]string `json:"evidence,omitempty"`
	Confidence  int               `json:"confidence"`
}

// ThreatDetectionResult is the per-request verdict. It is transient:
// consumed by the caller and summarized into the audit trail, never
// stored as its own entity.
type ThreatDetectionResult struct {
	Blocked           bool             `json:"blocked"`
	ThreatLevel       Severity         `json:"threatLevel"`
	DetectedThreats   []DetectedThreat `json:"detectedThreats"`
	RiskScore         int              `json:"riskScore"`
	RecommendedAction Action           `json:"recommendedAction"`
}

// SecurityEvent is the append-only audit record every component emits.
type SecurityEvent struct {
	ID        string            `json:"id" db:"id"`
	EventType string            `json:"eventType" db:"event_type"`
	Severity  Severity          `json:"severity" db:"severity"`
	ActorID   string            `json:"actorId,omitempty" db:"actor_id"`
	SourceIP  string            `json:"sourceIp,omitempty" db:"source_ip"`
	Resource  string            `json:"resource,omitempty" db:"resource"`
	Action    string            `json:"action" db:"action"`
	Success   bool              `json:"success" db:"success"`
	Details   map[string]string `json:"details,omitempty" db:"-"`
	SessionID string            `json:"sessionId,omitempty" db:"session_id"`
	Timestamp time.Time         `json:"timestamp" db:"timestamp"`
}

// Event types written by this package.
const (
	EventThreatDetection = "threat_detection"
	EventRequestBlocked  = "request_blocked"
	EventIPBlocked       = "ip_blocked"
	EventIPUnblocked     = "ip_unblocked"
	EventAlertCreated    = "alert_created"
	EventAlertEscalated  = "alert_escalated"
	EventAlertResolved   = "alert_resolved"
	EventComplianceRun   = "compliance_check"
	EventAdminAction     = "admin_action"
	EventAccess          = "resource_access"
)

// AuditFilter narrows audit queries. Zero values mean "any".
type AuditFilter struct {
	ActorID    string
	SourceIP   string
	EventTypes []string
	Severity   Severity
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}

// AuditReport aggregates a time range of the audit trail.
type AuditReport struct {
	Start        time.Time        `json:"start"`
	End          time.Time        `json:"end"`
	TotalEvents  int              `json:"totalEvents"`
	BySeverity   map[Severity]int `json:"bySeverity"`
	ByEventType  map[string]int   `json:"byEventType"`
	UniqueActors int              `json:"uniqueActors"`
	UniqueIPs    int              `json:"uniqueIps"`
	TopSourceIPs []IPCount        `json:"topSourceIps,omitempty"`
}

type IPCount struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

// ThreatIntelligenceEntry is a curated known-malicious IP.
type ThreatIntelligenceEntry struct {
	IPAddress   string    `json:"ipAddress" db:"ip_address"`
	ThreatType  string    `json:"threatType" db:"threat_type"`
	Severity    Severity  `json:"severity" db:"severity"`
	Source      string    `json:"source" db:"source"`
	FirstSeen   time.Time `json:"firstSeen" db:"first_seen"`
	LastSeen    time.Time `json:"lastSeen" db:"last_seen"`
	Occurrences int       `json:"occurrences" db:"occurrences"`
	Blocked     bool      `json:"blocked" db:"blocked"`
}

// Alert lifecycle states.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertEscalated    AlertStatus = "escalated"
	AlertResolved     AlertStatus = "resolved"
)

// SecurityAlert is a persisted, human-facing alert. Never deleted.
type SecurityAlert struct {
	ID             string            `json:"id" db:"id"`
	AlertType      string            `json:"alertType" db:"alert_type"`
	Severity       Severity          `json:"severity" db:"severity"`
	Title          string            `json:"title" db:"title"`
	Message        string            `json:"message" db:"message"`
	Source         string            `json:"source" db:"source"`
	Status         AlertStatus       `json:"status" db:"status"`
	Metadata       map[string]string `json:"metadata,omitempty" db:"-"`
	CreatedAt      time.Time         `json:"createdAt" db:"created_at"`
	AcknowledgedAt *time.Time        `json:"acknowledgedAt,omitempty" db:"acknowledged_at"`
	ResolvedAt     *time.Time        `json:"resolvedAt,omitempty" db:"resolved_at"`
}

// Compliance check states.
type ComplianceStatus string

const (
	CompliancePassing ComplianceStatus = "passing"
	ComplianceWarning ComplianceStatus = "warning"
	ComplianceFailing ComplianceStatus = "failing"
)

// ComplianceCheck is the upserted result of one scheduled assertion.
type ComplianceCheck struct {
	CheckName   string           `json:"checkName" db:"check_name"`
	CheckType   string           `json:"checkType" db:"check_type"`
	Status      ComplianceStatus `json:"status" db:"status"`
	Findings    string           `json:"findings" db:"findings"`
	Remediation string           `json:"remediation" db:"remediation"`
	Priority    int              `json:"priority" db:"priority"`
	LastChecked time.Time        `json:"lastChecked" db:"last_checked"`
	NextCheck   time.Time        `json:"nextCheck" db:"next_check"`
}

// RateStatus is the Rate Tracker verdict for one source IP.
type RateStatus struct {
	Exceeded       bool          `json:"exceeded"`
	Severity       Severity      `json:"severity"`
	RequestCount   int           `json:"requestCount"`
	WindowDuration time.Duration `json:"windowDuration"`
}
