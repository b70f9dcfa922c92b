package webguard

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore implements every store interface with mutex-guarded
// maps. It backs tests and small deployments; the SQL store is the
// durable option.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []SecurityEvent
	intel  map[string]*ThreatIntelligenceEntry
	alerts map[string]*SecurityAlert
	checks map[string]*ComplianceCheck

	// FailWrites makes every write error out, for exercising the
	// swallow-and-log paths.
	FailWrites bool
}

type memStoreError string

func (e memStoreError) Error() string { return string(e) }

const errMemStoreDown = memStoreError("webguard: store unavailable")

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		intel:  make(map[string]*ThreatIntelligenceEntry),
		alerts: make(map[string]*SecurityAlert),
		checks: make(map[string]*ComplianceCheck),
	}
}

func (s *InMemoryStore) HealthCheck() error {
	if s.FailWrites {
		return errMemStoreDown
	}
	return nil
}

// ---- EventStore ----

func (s *InMemoryStore) InsertEvent(ctx context.Context, event *SecurityEvent) error {
	if s.FailWrites {
		return errMemStoreDown
	}
	s.mu.Lock()
	s.events = append(s.events, *event)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) QueryEvents(ctx context.Context, filter AuditFilter) ([]SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []SecurityEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		event := s.events[i]
		if !eventMatches(event, filter) {
			continue
		}
		matched = append(matched, event)
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func eventMatches(event SecurityEvent, filter AuditFilter) bool {
	if filter.ActorID != "" && event.ActorID != filter.ActorID {
		return false
	}
	if filter.SourceIP != "" && event.SourceIP != filter.SourceIP {
		return false
	}
	if filter.Severity != "" && event.Severity != filter.Severity {
		return false
	}
	if len(filter.EventTypes) > 0 {
		found := false
		for _, t := range filter.EventTypes {
			if event.EventType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !filter.Since.IsZero() && event.Timestamp.Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && !event.Timestamp.Before(filter.Until) {
		return false
	}
	return true
}

func (s *InMemoryStore) CountEventsByActor(ctx context.Context, actorID string, since, until time.Time) (int, map[int]int, error) {
	if s.FailWrites {
		return 0, nil, errMemStoreDown
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	byHour := make(map[int]int)
	for _, event := range s.events {
		if event.ActorID != actorID {
			continue
		}
		if event.Timestamp.Before(since) || !event.Timestamp.Before(until) {
			continue
		}
		total++
		byHour[event.Timestamp.Hour()]++
	}
	return total, byHour, nil
}

func (s *InMemoryStore) Report(ctx context.Context, start, end time.Time) (*AuditReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report := &AuditReport{
		Start:       start,
		End:         end,
		BySeverity:  make(map[Severity]int),
		ByEventType: make(map[string]int),
	}
	actors := make(map[string]struct{})
	ips := make(map[string]int)
	for _, event := range s.events {
		if event.Timestamp.Before(start) || !event.Timestamp.Before(end) {
			continue
		}
		report.TotalEvents++
		report.BySeverity[event.Severity]++
		report.ByEventType[event.EventType]++
		if event.ActorID != "" {
			actors[event.ActorID] = struct{}{}
		}
		if event.SourceIP != "" {
			ips[event.SourceIP]++
		}
	}
	report.UniqueActors = len(actors)
	report.UniqueIPs = len(ips)
	for ip, count := range ips {
		report.TopSourceIPs = append(report.TopSourceIPs, IPCount{IP: ip, Count: count})
	}
	sort.Slice(report.TopSourceIPs, func(i, j int) bool {
		return report.TopSourceIPs[i].Count > report.TopSourceIPs[j].Count
	})
	if len(report.TopSourceIPs) > 10 {
		report.TopSourceIPs = report.TopSourceIPs[:10]
	}
	return report, nil
}

// EventCount reports the stored event total, for tests.
func (s *InMemoryStore) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// ---- IntelStore ----

func (s *InMemoryStore) GetIntel(ctx context.Context, ip string) (*ThreatIntelligenceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, exists := s.intel[ip]
	if !exists {
		return nil, nil
	}
	clone := *entry
	return &clone, nil
}

func (s *InMemoryStore) UpsertIntel(ctx context.Context, entry *ThreatIntelligenceEntry) error {
	if s.FailWrites {
		return errMemStoreDown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, exists := s.intel[entry.IPAddress]
	if exists {
		existing.ThreatType = entry.ThreatType
		existing.Severity = entry.Severity
		existing.Source = entry.Source
		existing.LastSeen = entry.LastSeen
		existing.Occurrences++
		return nil
	}
	clone := *entry
	s.intel[entry.IPAddress] = &clone
	return nil
}

func (s *InMemoryStore) TouchIntel(ctx context.Context, ip string, lastSeen time.Time) error {
	if s.FailWrites {
		return errMemStoreDown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, exists := s.intel[ip]; exists {
		entry.LastSeen = lastSeen
		entry.Occurrences++
	}
	return nil
}

func (s *InMemoryStore) SetBlocked(ctx context.Context, ip string, blocked bool) error {
	if s.FailWrites {
		return errMemStoreDown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, exists := s.intel[ip]; exists {
		entry.Blocked = blocked
		return nil
	}
	if blocked {
		now := time.Now()
		s.intel[ip] = &ThreatIntelligenceEntry{
			IPAddress:   ip,
			ThreatType:  "manual_block",
			Severity:    SeverityHigh,
			Source:      "admin",
			FirstSeen:   now,
			LastSeen:    now,
			Occurrences: 1,
			Blocked:     true,
		}
	}
	return nil
}

func (s *InMemoryStore) ListIntel(ctx context.Context, limit int) ([]ThreatIntelligenceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []ThreatIntelligenceEntry
	for _, entry := range s.intel {
		entries = append(entries, *entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// IntelCount reports the curated row total, for tests.
func (s *InMemoryStore) IntelCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.intel)
}

// ---- AlertStore ----

func (s *InMemoryStore) InsertAlert(ctx context.Context, alert *SecurityAlert) error {
	if s.FailWrites {
		return errMemStoreDown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *alert
	s.alerts[alert.ID] = &clone
	return nil
}

func (s *InMemoryStore) GetAlert(ctx context.Context, id string) (*SecurityAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, exists := s.alerts[id]
	if !exists {
		return nil, nil
	}
	clone := *alert
	return &clone, nil
}

func (s *InMemoryStore) UpdateAlertStatus(ctx context.Context, id string, status AlertStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, exists := s.alerts[id]
	if !exists {
		return ErrAlertNotFound
	}
	alert.Status = status
	switch status {
	case AlertAcknowledged:
		t := at
		alert.AcknowledgedAt = &t
	case AlertResolved:
		t := at
		alert.ResolvedAt = &t
	}
	return nil
}

func (s *InMemoryStore) ListAlerts(ctx context.Context, status AlertStatus, limit int) ([]SecurityAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var alerts []SecurityAlert
	for _, alert := range s.alerts {
		if status != "" && alert.Status != status {
			continue
		}
		alerts = append(alerts, *alert)
	}
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts, nil
}

func (s *InMemoryStore) CountAlerts(ctx context.Context, status AlertStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if status == "" {
		return len(s.alerts), nil
	}
	count := 0
	for _, alert := range s.alerts {
		if alert.Status == status {
			count++
		}
	}
	return count, nil
}

// ---- ComplianceStore ----

func (s *InMemoryStore) UpsertCheck(ctx context.Context, check *ComplianceCheck) error {
	if s.FailWrites {
		return errMemStoreDown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *check
	s.checks[check.CheckName] = &clone
	return nil
}

func (s *InMemoryStore) ListChecks(ctx context.Context) ([]ComplianceCheck, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var checks []ComplianceCheck
	for _, check := range s.checks {
		checks = append(checks, *check)
	}
	sort.Slice(checks, func(i, j int) bool {
		if checks[i].Priority != checks[j].Priority {
			return checks[i].Priority < checks[j].Priority
		}
		return checks[i].CheckName < checks[j].CheckName
	})
	return checks, nil
}
