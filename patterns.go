package webguard

import (
	"fmt"
	"regexp"
)

// signatureRule is one attack signature. Confidence is a fixed
// constant per rule class, not computed from evidence strength.
type signatureRule struct {
	threatType  string
	severity    Severity
	description string
	pattern     *regexp.Regexp
}

const (
	signatureConfidence = 85
	urlSizeConfidence   = 70
	bodySizeConfidence  = 75
)

// The rule order is fixed; every matching rule reports, none
// short-circuits.
var signatureRules = []signatureRule{
	{
		threatType:  ThreatSQLInjection,
		severity:    SeverityCritical,
		description: "SQL injection attempt detected",
		pattern:     regexp.MustCompile(`(?i)(\bunion\b.{1,40}\bselect\b|\bselect\b.{1,60}\bfrom\b|\binsert\b\s+into\b|\bdrop\b\s+table\b|\bdelete\b\s+from\b|'\s*(or|and)\s*'?\d*'?\s*=\s*'?\d*|'\s*or\s*'[^']*'\s*=\s*'|--\s|;\s*(drop|delete|update)\b|\bxp_cmdshell\b|\bsleep\s*\(|\bbenchmark\s*\()`),
	},
	{
		threatType:  ThreatXSS,
		severity:    SeverityHigh,
		description: "Cross-site scripting attempt detected",
		pattern:     regexp.MustCompile(`(?i)(<script[\s>]|</script>|javascript\s*:|\bon(error|load|click|mouseover|focus)\s*=|<iframe[\s>]|<svg[^>]*onload|document\.(cookie|write)|eval\s*\(|alert\s*\()`),
	},
	{
		threatType:  ThreatPathTraversal,
		severity:    SeverityHigh,
		description: "Path traversal attempt detected",
		pattern:     regexp.MustCompile(`(?i)(\.\./|\.\.\\|%2e%2e%2f|%2e%2e/|\.\.%2f|%252e%252e|/etc/(passwd|shadow)|c:\\windows\\|\bboot\.ini\b)`),
	},
	{
		threatType:  ThreatCommandInjection,
		severity:    SeverityCritical,
		description: "Command injection attempt detected",
		pattern:     regexp.MustCompile(`(?i)(;\s*(cat|ls|rm|wget|curl|nc|bash|sh|powershell)\b|\|\s*(cat|ls|rm|wget|curl|nc|bash|sh)\b|\x60[^\x60]+\x60|\$\((cat|ls|rm|wget|curl|id|whoami)[^)]*\)|&&\s*(cat|ls|rm|wget|curl)\b)`),
	},
	{
		threatType:  ThreatLDAPInjection,
		severity:    SeverityMedium,
		description: "LDAP injection attempt detected",
		pattern:     regexp.MustCompile(`(\*\)\(|\)\(\||\(\|\(|\(&\(|\)\(&|\*\)\)|\(cn=\*|\(uid=\*)`),
	},
}

// PatternMatcher evaluates requests against the fixed signature list.
// Stateless; safe for concurrent use.
type PatternMatcher struct {
	maxURLLength int
	maxBodyBytes int
}

func NewPatternMatcher(cfg RateConfig) *PatternMatcher {
	return &PatternMatcher{
		maxURLLength: cfg.MaxURLLength,
		maxBodyBytes: cfg.MaxBodyBytes,
	}
}

// Detect tests url, body and user agent against every signature rule
// and the size heuristics. Malformed or empty input yields an empty
// result, never an error.
func (m *PatternMatcher) Detect(url, body, userAgent string) []DetectedThreat {
	var threats []DetectedThreat
	haystack := url + " " + body + " " + userAgent
	for _, rule := range signatureRules {
		loc := rule.pattern.FindStringIndex(haystack)
		if loc == nil {
			continue
		}
		threats = append(threats, DetectedThreat{
			Type:        rule.threatType,
			Severity:    rule.severity,
			Description: rule.description,
			Evidence:    map[string]string{"match": clip(haystack[loc[0]:loc[1]], 120)},
			Confidence:  signatureConfidence,
		})
	}
	if m.maxURLLength > 0 && len(url) > m.maxURLLength {
		threats = append(threats, DetectedThreat{
			Type:        ThreatOversizedURL,
			Severity:    SeverityMedium,
			Description: "unusually large URL",
			Evidence:    map[string]string{"length": fmt.Sprintf("%d", len(url))},
			Confidence:  urlSizeConfidence,
		})
	}
	if m.maxBodyBytes > 0 && len(body) > m.maxBodyBytes {
		threats = append(threats, DetectedThreat{
			Type:        ThreatOversizedBody,
			Severity:    SeverityMedium,
			Description: "unusually large request body",
			Evidence:    map[string]string{"bytes": fmt.Sprintf("%d", len(body))},
			Confidence:  bodySizeConfidence,
		})
	}
	return threats
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
