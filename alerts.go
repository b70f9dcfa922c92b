package webguard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oarkflow/log"
)

var (
	ErrAlertNotFound   = errors.New("webguard: alert not found")
	ErrAlertTransition = errors.New("webguard: invalid alert status transition")
)

// AlertInput is what callers provide to raise an alert.
type AlertInput struct {
	AlertType string
	Severity  Severity
	Title     string
	Message   string
	Source    string
	Metadata  map[string]string
}

// AlertManager owns the alert lifecycle: active -> acknowledged ->
// resolved, or active -> escalated when a critical alert sits
// unacknowledged past the escalation window. Escalation timers are
// per alert, cancellable, and re-check status at fire time so an
// alert acknowledged in the meantime is never double-escalated.
type AlertManager struct {
	store    AlertStore
	registry *NotificationRegistry
	recorder *AuditRecorder
	metrics  MetricsCollector
	logger   *log.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	window time.Duration
	now    func() time.Time
}

func NewAlertManager(store AlertStore, registry *NotificationRegistry, recorder *AuditRecorder, metrics MetricsCollector, cfg AlertConfig, logger *log.Logger) *AlertManager {
	window := cfg.EscalationWindow
	if window <= 0 {
		window = DefaultEscalationWindow
	}
	return &AlertManager{
		store:    store,
		registry: registry,
		recorder: recorder,
		metrics:  metrics,
		logger:   logger,
		timers:   make(map[string]*time.Timer),
		window:   window,
		now:      time.Now,
	}
}

// Create persists the alert, fans out notifications best-effort, and
// arms the escalation timer for critical severity.
func (m *AlertManager) Create(ctx context.Context, input AlertInput) (string, error) {
	if input.Title == "" || input.AlertType == "" {
		return "", fmt.Errorf("webguard: alert requires a type and title")
	}
	if input.Severity == "" {
		input.Severity = SeverityMedium
	}
	alert := &SecurityAlert{
		ID:        uuid.NewString(),
		AlertType: input.AlertType,
		Severity:  input.Severity,
		Title:     input.Title,
		Message:   input.Message,
		Source:    input.Source,
		Status:    AlertActive,
		Metadata:  input.Metadata,
		CreatedAt: m.now(),
	}
	if err := m.store.InsertAlert(ctx, alert); err != nil {
		return "", fmt.Errorf("failed to persist alert: %w", err)
	}

	if m.metrics != nil {
		m.metrics.IncrementCounter("alerts_created_total", map[string]string{"severity": string(alert.Severity)})
	}
	m.auditEvent(EventAlertCreated, alert, "create", "")
	m.notify(alert, false)

	if alert.Severity == SeverityCritical {
		m.armEscalation(alert.ID)
	}
	return alert.ID, nil
}

// Acknowledge moves an active or escalated alert to acknowledged and
// cancels any pending escalation.
func (m *AlertManager) Acknowledge(ctx context.Context, id, by string) error {
	alert, err := m.store.GetAlert(ctx, id)
	if err != nil {
		return err
	}
	if alert == nil {
		return ErrAlertNotFound
	}
	if alert.Status != AlertActive && alert.Status != AlertEscalated {
		return fmt.Errorf("%w: %s -> acknowledged", ErrAlertTransition, alert.Status)
	}
	if err := m.store.UpdateAlertStatus(ctx, id, AlertAcknowledged, m.now()); err != nil {
		return err
	}
	m.cancelEscalation(id)
	m.auditEvent(EventAdminAction, alert, "acknowledge", by)
	return nil
}

// Resolve closes the alert from any non-resolved state.
func (m *AlertManager) Resolve(ctx context.Context, id, by string) error {
	alert, err := m.store.GetAlert(ctx, id)
	if err != nil {
		return err
	}
	if alert == nil {
		return ErrAlertNotFound
	}
	if alert.Status == AlertResolved {
		return fmt.Errorf("%w: already resolved", ErrAlertTransition)
	}
	if err := m.store.UpdateAlertStatus(ctx, id, AlertResolved, m.now()); err != nil {
		return err
	}
	m.cancelEscalation(id)
	m.auditEvent(EventAlertResolved, alert, "resolve", by)
	return nil
}

// Get and List expose alerts for the admin API.
func (m *AlertManager) Get(ctx context.Context, id string) (*SecurityAlert, error) {
	alert, err := m.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, ErrAlertNotFound
	}
	return alert, nil
}

func (m *AlertManager) List(ctx context.Context, status AlertStatus, limit int) ([]SecurityAlert, error) {
	if limit <= 0 {
		limit = 50
	}
	return m.store.ListAlerts(ctx, status, limit)
}

func (m *AlertManager) armEscalation(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.timers[id]; exists {
		return
	}
	m.timers[id] = time.AfterFunc(m.window, func() { m.escalate(id) })
}

func (m *AlertManager) cancelEscalation(id string) {
	m.mu.Lock()
	if timer, exists := m.timers[id]; exists {
		timer.Stop()
		delete(m.timers, id)
	}
	m.mu.Unlock()
}

// escalate fires when the window lapses. Status is re-read: only a
// still-active alert escalates.
func (m *AlertManager) escalate(id string) {
	m.mu.Lock()
	delete(m.timers, id)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alert, err := m.store.GetAlert(ctx, id)
	if err != nil || alert == nil {
		if m.logger != nil {
			m.logger.Error().Err(err).Str("component", "alerts").Str("alertId", id).Msg("escalation lookup failed")
		}
		return
	}
	if alert.Status != AlertActive {
		return
	}
	if err := m.store.UpdateAlertStatus(ctx, id, AlertEscalated, m.now()); err != nil {
		if m.logger != nil {
			m.logger.Error().Err(err).Str("component", "alerts").Str("alertId", id).Msg("escalation update failed")
		}
		return
	}
	alert.Status = AlertEscalated
	if m.metrics != nil {
		m.metrics.IncrementCounter("alerts_escalated_total", nil)
	}
	if m.logger != nil {
		m.logger.Warn().Str("component", "alerts").Str("alertId", id).Str("alertType", alert.AlertType).Msg("unacknowledged critical alert escalated")
	}
	m.auditEvent(EventAlertEscalated, alert, "escalate", "")
	m.notify(alert, true)
}

// notify fans out to every configured channel. Each failure is logged
// on its own; none fails the alert.
func (m *AlertManager) notify(alert *SecurityAlert, escalated bool) {
	if m.registry == nil {
		return
	}
	m.registry.Broadcast(alert, escalated)
}

func (m *AlertManager) auditEvent(eventType string, alert *SecurityAlert, action, actor string) {
	if m.recorder == nil {
		return
	}
	m.recorder.Log(SecurityEvent{
		EventType: eventType,
		Severity:  alert.Severity,
		ActorID:   actor,
		Resource:  "alert/" + alert.ID,
		Action:    action,
		Success:   true,
		Details: map[string]string{
			"alertType": alert.AlertType,
			"title":     alert.Title,
		},
	})
}

// Close stops all pending escalation timers.
func (m *AlertManager) Close() {
	m.mu.Lock()
	for id, timer := range m.timers {
		timer.Stop()
		delete(m.timers, id)
	}
	m.mu.Unlock()
}
