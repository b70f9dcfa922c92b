package webguard

import (
	"strings"
	"testing"
)

func newTestMatcher() *PatternMatcher {
	return NewPatternMatcher(DefaultConfig().Rate)
}

func findThreat(threats []DetectedThreat, threatType string) *DetectedThreat {
	for i := range threats {
		if threats[i].Type == threatType {
			return &threats[i]
		}
	}
	return nil
}

func TestDetectSQLInjectionInURL(t *testing.T) {
	m := newTestMatcher()
	threats := m.Detect("/login' OR '1'='1", "", "Mozilla/5.0")
	threat := findThreat(threats, ThreatSQLInjection)
	if threat == nil {
		t.Fatalf("expected sql_injection threat, got %+v", threats)
	}
	if threat.Severity != SeverityCritical {
		t.Fatalf("expected critical severity, got %s", threat.Severity)
	}
	if threat.Confidence != 85 {
		t.Fatalf("expected confidence 85, got %d", threat.Confidence)
	}
}

func TestDetectMultipleSignatures(t *testing.T) {
	m := newTestMatcher()
	threats := m.Detect("/search?q=<script>alert(1)</script>", "id=1 UNION SELECT password FROM users", "curl/8.0")
	if findThreat(threats, ThreatXSS) == nil {
		t.Fatalf("expected xss threat, got %+v", threats)
	}
	if findThreat(threats, ThreatSQLInjection) == nil {
		t.Fatalf("expected sql_injection threat, got %+v", threats)
	}
}

func TestDetectPathTraversal(t *testing.T) {
	m := newTestMatcher()
	threats := m.Detect("/files?path=../../etc/passwd", "", "")
	threat := findThreat(threats, ThreatPathTraversal)
	if threat == nil {
		t.Fatalf("expected path_traversal threat, got %+v", threats)
	}
	if threat.Severity != SeverityHigh {
		t.Fatalf("expected high severity, got %s", threat.Severity)
	}
}

func TestDetectCommandInjection(t *testing.T) {
	m := newTestMatcher()
	threats := m.Detect("/ping?host=127.0.0.1;cat /etc/shadow", "", "")
	threat := findThreat(threats, ThreatCommandInjection)
	if threat == nil {
		t.Fatalf("expected command_injection threat, got %+v", threats)
	}
	if threat.Severity != SeverityCritical {
		t.Fatalf("expected critical severity, got %s", threat.Severity)
	}
}

func TestDetectLDAPInjection(t *testing.T) {
	m := newTestMatcher()
	threats := m.Detect("/dir?filter=*)(uid=*", "", "")
	threat := findThreat(threats, ThreatLDAPInjection)
	if threat == nil {
		t.Fatalf("expected ldap_injection threat, got %+v", threats)
	}
	if threat.Severity != SeverityMedium {
		t.Fatalf("expected medium severity, got %s", threat.Severity)
	}
}

func TestDetectOversizedInputs(t *testing.T) {
	m := newTestMatcher()
	longURL := "/search?q=" + strings.Repeat("a", 2100)
	threats := m.Detect(longURL, "", "")
	threat := findThreat(threats, ThreatOversizedURL)
	if threat == nil {
		t.Fatalf("expected oversized_url threat, got %+v", threats)
	}
	if threat.Severity != SeverityMedium || threat.Confidence != 70 {
		t.Fatalf("unexpected size threat: %+v", threat)
	}

	bigBody := strings.Repeat("x", 100001)
	threats = m.Detect("/upload", bigBody, "")
	threat = findThreat(threats, ThreatOversizedBody)
	if threat == nil {
		t.Fatalf("expected oversized_body threat, got %+v", threats)
	}
	if threat.Confidence != 75 {
		t.Fatalf("expected confidence 75, got %d", threat.Confidence)
	}
}

func TestDetectCleanRequest(t *testing.T) {
	m := newTestMatcher()
	threats := m.Detect("/api/bills?page=2", `{"comment":"I support this measure"}`, "Mozilla/5.0")
	if len(threats) != 0 {
		t.Fatalf("expected no threats for a clean request, got %+v", threats)
	}
}
