package webguard

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oarkflow/log"
)

// AuditRecorder is the append-only security event log. Log never
// propagates an error to the caller: events are queued and drained by
// a background writer, and a full queue drops the event with a
// warning. Availability of the request path wins over audit
// completeness; that trade-off is deliberate.
type AuditRecorder struct {
	store     EventStore
	logger    *log.Logger
	metrics   MetricsCollector
	queue     chan *SecurityEvent
	wg        sync.WaitGroup
	closeOnce sync.Once
	cfg       AuditConfig
	now       func() time.Time
}

func NewAuditRecorder(store EventStore, cfg AuditConfig, logger *log.Logger, metrics MetricsCollector) *AuditRecorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 100
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 1000
	}
	r := &AuditRecorder{
		store:   store,
		logger:  logger,
		metrics: metrics,
		queue:   make(chan *SecurityEvent, cfg.QueueSize),
		cfg:     cfg,
		now:     time.Now,
	}
	r.wg.Add(1)
	go r.drain()
	return r
}

// Log enqueues one event. Never returns an error, never panics out.
func (r *AuditRecorder) Log(event SecurityEvent) {
	defer func() {
		if rec := recover(); rec != nil && r.logger != nil {
			r.logger.Error().Str("component", "audit").Interface("panic", rec).Msg("audit log panicked, event dropped")
		}
	}()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now()
	}
	if event.Severity == "" {
		event.Severity = SeverityLow
	}
	select {
	case r.queue <- &event:
	default:
		if r.metrics != nil {
			r.metrics.IncrementCounter("audit_events_dropped_total", nil)
		}
		if r.logger != nil {
			r.logger.Warn().Str("component", "audit").Str("eventType", event.EventType).Msg("audit queue full, event dropped")
		}
	}
}

func (r *AuditRecorder) drain() {
	defer r.wg.Done()
	for event := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := r.store.InsertEvent(ctx, event)
		cancel()
		if err != nil {
			// Swallowed: the failure is itself the only record.
			if r.metrics != nil {
				r.metrics.IncrementCounter("audit_write_failures_total", nil)
			}
			if r.logger != nil {
				r.logger.Error().Err(err).
					Str("component", "audit").
					Str("eventType", event.EventType).
					Str("eventId", event.ID).
					Msg("audit write failed")
			}
		}
	}
}

// Query reads back events matching the filter, newest first.
func (r *AuditRecorder) Query(ctx context.Context, filter AuditFilter) ([]SecurityEvent, error) {
	if filter.Limit <= 0 {
		filter.Limit = r.cfg.DefaultLimit
	}
	if filter.Limit > r.cfg.MaxLimit {
		filter.Limit = r.cfg.MaxLimit
	}
	return r.store.QueryEvents(ctx, filter)
}

// Report aggregates counts by type and severity plus actor/IP
// cardinality over [start, end).
func (r *AuditRecorder) Report(ctx context.Context, start, end time.Time) (*AuditReport, error) {
	return r.store.Report(ctx, start, end)
}

// Close stops accepting events and flushes the queue.
func (r *AuditRecorder) Close() {
	r.closeOnce.Do(func() {
		close(r.queue)
	})
	r.wg.Wait()
}
