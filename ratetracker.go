package webguard

import (
	"sync"
	"time"
)

// RateTracker keeps a fixed-window request counter per source IP and
// classifies excess volume into severity tiers. The map is bounded:
// idle entries are swept on a TTL and, if the cap is hit anyway, the
// stalest entry is evicted before a new one is admitted.
type RateTracker struct {
	mu           sync.Mutex
	counters     map[string]*windowCounter
	window       time.Duration
	threshold    int
	maxEntries   int
	idleEviction time.Duration
	now          func() time.Time
	done         chan struct{}
	closeOnce    sync.Once
}

type windowCounter struct {
	count       int
	windowStart time.Time
	lastSeen    time.Time
}

func NewRateTracker(cfg RateConfig) *RateTracker {
	t := &RateTracker{
		counters:     make(map[string]*windowCounter),
		window:       cfg.Window,
		threshold:    cfg.Threshold,
		maxEntries:   cfg.MaxTrackedIPs,
		idleEviction: cfg.IdleEviction,
		now:          time.Now,
		done:         make(chan struct{}),
	}
	if t.window <= 0 {
		t.window = DefaultRateWindow
	}
	if t.threshold <= 0 {
		t.threshold = DefaultRateThreshold
	}
	if t.maxEntries <= 0 {
		t.maxEntries = DefaultMaxTrackedIPs
	}
	if t.idleEviction <= 0 {
		t.idleEviction = 10 * t.window
	}
	cleanupEvery := cfg.CleanupEvery
	if cleanupEvery <= 0 {
		cleanupEvery = t.window
	}
	go t.cleanupLoop(cleanupEvery)
	return t
}

// Check records one request from sourceIP and returns the current
// window status. Empty IPs are not tracked.
func (t *RateTracker) Check(sourceIP string) RateStatus {
	status := RateStatus{Severity: SeverityNone, WindowDuration: t.window}
	if sourceIP == "" {
		return status
	}
	now := t.now()

	t.mu.Lock()
	counter, exists := t.counters[sourceIP]
	if !exists {
		if len(t.counters) >= t.maxEntries {
			t.evictStalestLocked()
		}
		counter = &windowCounter{windowStart: now}
		t.counters[sourceIP] = counter
	}
	if now.Sub(counter.windowStart) > t.window {
		counter.count = 0
		counter.windowStart = now
	}
	counter.count++
	counter.lastSeen = now
	count := counter.count
	t.mu.Unlock()

	status.RequestCount = count
	switch {
	case count > 3*t.threshold:
		status.Exceeded = true
		status.Severity = SeverityCritical
	case count > 2*t.threshold:
		status.Exceeded = true
		status.Severity = SeverityHigh
	case count > t.threshold:
		status.Exceeded = true
		status.Severity = SeverityMedium
	}
	return status
}

// Tracked reports how many distinct IPs currently hold a counter.
func (t *RateTracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counters)
}

func (t *RateTracker) evictStalestLocked() {
	var stalest string
	var stalestSeen time.Time
	for ip, c := range t.counters {
		if stalest == "" || c.lastSeen.Before(stalestSeen) {
			stalest = ip
			stalestSeen = c.lastSeen
		}
	}
	if stalest != "" {
		delete(t.counters, stalest)
	}
}

func (t *RateTracker) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Cleanup()
		case <-t.done:
			return
		}
	}
}

// Cleanup sweeps entries idle longer than the eviction TTL.
func (t *RateTracker) Cleanup() {
	if t.idleEviction <= 0 {
		return
	}
	now := t.now()
	t.mu.Lock()
	for ip, c := range t.counters {
		if now.Sub(c.lastSeen) > t.idleEviction {
			delete(t.counters, ip)
		}
	}
	t.mu.Unlock()
}

func (t *RateTracker) Close() {
	t.closeOnce.Do(func() { close(t.done) })
}
