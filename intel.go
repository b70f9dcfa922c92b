package webguard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oarkflow/log"
)

var ErrIntelNotFound = errors.New("webguard: threat intelligence entry not found")

// IntelResult is the outcome of a threat-intelligence lookup.
type IntelResult struct {
	IsThreat bool
	Entry    *ThreatIntelligenceEntry
	Threat   *DetectedThreat
}

const intelConfidence = 90

// ThreatIntelligence fronts the curated known-bad-IP table and owns
// the block-list state machine: unblocked -> blocked (critical
// aggregate or admin action, optional expiry) -> unblocked (manual or
// expiry). Blocks are cached in memory so the per-request check is a
// map read; expiry is checked on read and stale blocks cleared, the
// same way a temporary ban lapses.
type ThreatIntelligence struct {
	store  IntelStore
	logger *log.Logger

	mu      sync.RWMutex
	blocked map[string]time.Time // zero time = no expiry
	now     func() time.Time
}

func NewThreatIntelligence(store IntelStore, logger *log.Logger) *ThreatIntelligence {
	ti := &ThreatIntelligence{
		store:   store,
		logger:  logger,
		blocked: make(map[string]time.Time),
		now:     time.Now,
	}
	ti.warmBlockCache()
	return ti
}

func (ti *ThreatIntelligence) warmBlockCache() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entries, err := ti.store.ListIntel(ctx, 0)
	if err != nil {
		if ti.logger != nil {
			ti.logger.Warn().Err(err).Str("component", "intel").Msg("block cache warmup failed")
		}
		return
	}
	ti.mu.Lock()
	for _, e := range entries {
		if e.Blocked {
			ti.blocked[e.IPAddress] = time.Time{}
		}
	}
	ti.mu.Unlock()
}

// Check looks the IP up against the curated list. A hit bumps
// last_seen and occurrences; an unseen IP creates no row. Store
// failures degrade to "no threat" and are logged.
func (ti *ThreatIntelligence) Check(ctx context.Context, ip string) IntelResult {
	if ip == "" {
		return IntelResult{}
	}
	entry, err := ti.store.GetIntel(ctx, ip)
	if err != nil {
		if !errors.Is(err, ErrIntelNotFound) && ti.logger != nil {
			ti.logger.Warn().Err(err).Str("component", "intel").Str("ip", ip).Msg("intel lookup failed")
		}
		return IntelResult{}
	}
	if entry == nil {
		return IntelResult{}
	}
	if err := ti.store.TouchIntel(ctx, ip, ti.now()); err != nil && ti.logger != nil {
		ti.logger.Warn().Err(err).Str("component", "intel").Str("ip", ip).Msg("intel touch failed")
	}
	entry.Occurrences++
	return IntelResult{
		IsThreat: true,
		Entry:    entry,
		Threat: &DetectedThreat{
			Type:        ThreatKnownBadIP,
			Severity:    entry.Severity,
			Description: "source IP on threat intelligence list",
			Evidence: map[string]string{
				"threatType": entry.ThreatType,
				"source":     entry.Source,
			},
			Confidence: intelConfidence,
		},
	}
}

// Record upserts a curated entry. First sighting sets first_seen;
// repeats bump last_seen and occurrences in the store.
func (ti *ThreatIntelligence) Record(ctx context.Context, entry ThreatIntelligenceEntry) error {
	if entry.IPAddress == "" {
		return ErrInvalidDescriptor
	}
	now := ti.now()
	if entry.FirstSeen.IsZero() {
		entry.FirstSeen = now
	}
	if entry.LastSeen.IsZero() {
		entry.LastSeen = now
	}
	if entry.Occurrences <= 0 {
		entry.Occurrences = 1
	}
	return ti.store.UpsertIntel(ctx, &entry)
}

// Block moves the IP to blocked. ttl > 0 schedules the expiry; zero
// keeps the block until a manual unblock.
func (ti *ThreatIntelligence) Block(ctx context.Context, ip string, ttl time.Duration) error {
	if ip == "" {
		return ErrInvalidDescriptor
	}
	var until time.Time
	if ttl > 0 {
		until = ti.now().Add(ttl)
	}
	ti.mu.Lock()
	ti.blocked[ip] = until
	ti.mu.Unlock()
	if err := ti.store.SetBlocked(ctx, ip, true); err != nil {
		if ti.logger != nil {
			ti.logger.Error().Err(err).Str("component", "intel").Str("ip", ip).Msg("persisting block failed")
		}
		return err
	}
	return nil
}

// Unblock clears the block, whether manual or after expiry.
func (ti *ThreatIntelligence) Unblock(ctx context.Context, ip string) error {
	ti.mu.Lock()
	delete(ti.blocked, ip)
	ti.mu.Unlock()
	return ti.store.SetBlocked(ctx, ip, false)
}

// IsBlocked answers the per-request block check. Lapsed expiries are
// cleared lazily here rather than by a timer per IP.
func (ti *ThreatIntelligence) IsBlocked(ip string) bool {
	ti.mu.RLock()
	until, exists := ti.blocked[ip]
	ti.mu.RUnlock()
	if !exists {
		return false
	}
	if until.IsZero() || ti.now().Before(until) {
		return true
	}
	ti.mu.Lock()
	delete(ti.blocked, ip)
	ti.mu.Unlock()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ti.store.SetBlocked(ctx, ip, false); err != nil && ti.logger != nil {
			ti.logger.Warn().Err(err).Str("component", "intel").Str("ip", ip).Msg("clearing expired block failed")
		}
	}()
	return false
}

// List exposes the curated table for the admin API.
func (ti *ThreatIntelligence) List(ctx context.Context, limit int) ([]ThreatIntelligenceEntry, error) {
	return ti.store.ListIntel(ctx, limit)
}
