package webguard

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS security_events (
	id          TEXT PRIMARY KEY,
	event_type  TEXT NOT NULL,
	severity    TEXT NOT NULL,
	actor_id    TEXT NOT NULL DEFAULT '',
	source_ip   TEXT NOT NULL DEFAULT '',
	resource    TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL DEFAULT '',
	success     INTEGER NOT NULL DEFAULT 1,
	details     TEXT NOT NULL DEFAULT '{}',
	session_id  TEXT NOT NULL DEFAULT '',
	timestamp   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_actor_ts ON security_events(actor_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_ip_ts ON security_events(source_ip, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_type_ts ON security_events(event_type, timestamp);

CREATE TABLE IF NOT EXISTS threat_intelligence (
	ip_address  TEXT PRIMARY KEY,
	threat_type TEXT NOT NULL,
	severity    TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	first_seen  DATETIME NOT NULL,
	last_seen   DATETIME NOT NULL,
	occurrences INTEGER NOT NULL DEFAULT 1,
	blocked     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS security_alerts (
	id              TEXT PRIMARY KEY,
	alert_type      TEXT NOT NULL,
	severity        TEXT NOT NULL,
	title           TEXT NOT NULL,
	message         TEXT NOT NULL DEFAULT '',
	source          TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	metadata        TEXT NOT NULL DEFAULT '{}',
	created_at      DATETIME NOT NULL,
	acknowledged_at DATETIME,
	resolved_at     DATETIME
);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON security_alerts(status, created_at);

CREATE TABLE IF NOT EXISTS compliance_checks (
	check_name   TEXT PRIMARY KEY,
	check_type   TEXT NOT NULL,
	status       TEXT NOT NULL,
	findings     TEXT NOT NULL DEFAULT '',
	remediation  TEXT NOT NULL DEFAULT '',
	priority     INTEGER NOT NULL DEFAULT 3,
	last_checked DATETIME NOT NULL,
	next_check   DATETIME NOT NULL
);
`

// SQLStore implements every store interface over a single sqlx
// handle. SQLite in the default wiring; any database/sql driver with
// the same SQL dialect works.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore opens (or creates) the database and applies the schema.
func NewSQLStore(dsn string) (*SQLStore, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) HealthCheck() error { return s.db.Ping() }

// ---- EventStore ----

func (s *SQLStore) InsertEvent(ctx context.Context, event *SecurityEvent) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		details = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO security_events
			(id, event_type, severity, actor_id, source_ip, resource, action, success, details, session_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.EventType, event.Severity, event.ActorID, event.SourceIP,
		event.Resource, event.Action, event.Success, string(details), event.SessionID, event.Timestamp)
	return err
}

func (s *SQLStore) QueryEvents(ctx context.Context, filter AuditFilter) ([]SecurityEvent, error) {
	var conditions []string
	var args []any
	if filter.ActorID != "" {
		conditions = append(conditions, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if filter.SourceIP != "" {
		conditions = append(conditions, "source_ip = ?")
		args = append(args, filter.SourceIP)
	}
	if len(filter.EventTypes) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.EventTypes)), ",")
		conditions = append(conditions, "event_type IN ("+placeholders+")")
		for _, t := range filter.EventTypes {
			args = append(args, t)
		}
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, filter.Severity)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "timestamp < ?")
		args = append(args, filter.Until)
	}
	query := "SELECT id, event_type, severity, actor_id, source_ip, resource, action, success, details, session_id, timestamp FROM security_events"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []SecurityEvent
	for rows.Next() {
		var event SecurityEvent
		var details string
		if err := rows.Scan(&event.ID, &event.EventType, &event.Severity, &event.ActorID,
			&event.SourceIP, &event.Resource, &event.Action, &event.Success,
			&details, &event.SessionID, &event.Timestamp); err != nil {
			return nil, err
		}
		if details != "" && details != "{}" {
			_ = json.Unmarshal([]byte(details), &event.Details)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *SQLStore) CountEventsByActor(ctx context.Context, actorID string, since, until time.Time) (int, map[int]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT CAST(strftime('%H', timestamp) AS INTEGER) AS hour, COUNT(*)
		FROM security_events
		WHERE actor_id = ? AND timestamp >= ? AND timestamp < ?
		GROUP BY hour`, actorID, since, until)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	total := 0
	byHour := make(map[int]int)
	for rows.Next() {
		var hour, count int
		if err := rows.Scan(&hour, &count); err != nil {
			return 0, nil, err
		}
		byHour[hour] = count
		total += count
	}
	return total, byHour, rows.Err()
}

func (s *SQLStore) Report(ctx context.Context, start, end time.Time) (*AuditReport, error) {
	report := &AuditReport{
		Start:       start,
		End:         end,
		BySeverity:  make(map[Severity]int),
		ByEventType: make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_type, severity, COUNT(*)
		FROM security_events
		WHERE timestamp >= ? AND timestamp < ?
		GROUP BY event_type, severity`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var eventType string
		var severity Severity
		var count int
		if err := rows.Scan(&eventType, &severity, &count); err != nil {
			return nil, err
		}
		report.ByEventType[eventType] += count
		report.BySeverity[severity] += count
		report.TotalEvents += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.GetContext(ctx, &report.UniqueActors, `
		SELECT COUNT(DISTINCT actor_id) FROM security_events
		WHERE timestamp >= ? AND timestamp < ? AND actor_id != ''`, start, end); err != nil {
		return nil, err
	}
	if err := s.db.GetContext(ctx, &report.UniqueIPs, `
		SELECT COUNT(DISTINCT source_ip) FROM security_events
		WHERE timestamp >= ? AND timestamp < ? AND source_ip != ''`, start, end); err != nil {
		return nil, err
	}

	ipRows, err := s.db.QueryContext(ctx, `
		SELECT source_ip, COUNT(*) AS c FROM security_events
		WHERE timestamp >= ? AND timestamp < ? AND source_ip != ''
		GROUP BY source_ip ORDER BY c DESC LIMIT 10`, start, end)
	if err != nil {
		return nil, err
	}
	defer ipRows.Close()
	for ipRows.Next() {
		var entry IPCount
		if err := ipRows.Scan(&entry.IP, &entry.Count); err != nil {
			return nil, err
		}
		report.TopSourceIPs = append(report.TopSourceIPs, entry)
	}
	return report, ipRows.Err()
}

// ---- IntelStore ----

func (s *SQLStore) GetIntel(ctx context.Context, ip string) (*ThreatIntelligenceEntry, error) {
	var entry ThreatIntelligenceEntry
	err := s.db.GetContext(ctx, &entry, `
		SELECT ip_address, threat_type, severity, source, first_seen, last_seen, occurrences, blocked
		FROM threat_intelligence WHERE ip_address = ?`, ip)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *SQLStore) UpsertIntel(ctx context.Context, entry *ThreatIntelligenceEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threat_intelligence
			(ip_address, threat_type, severity, source, first_seen, last_seen, occurrences, blocked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ip_address) DO UPDATE SET
			threat_type = excluded.threat_type,
			severity = excluded.severity,
			source = excluded.source,
			last_seen = excluded.last_seen,
			occurrences = threat_intelligence.occurrences + 1`,
		entry.IPAddress, entry.ThreatType, entry.Severity, entry.Source,
		entry.FirstSeen, entry.LastSeen, entry.Occurrences, entry.Blocked)
	return err
}

func (s *SQLStore) TouchIntel(ctx context.Context, ip string, lastSeen time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE threat_intelligence
		SET last_seen = ?, occurrences = occurrences + 1
		WHERE ip_address = ?`, lastSeen, ip)
	return err
}

func (s *SQLStore) SetBlocked(ctx context.Context, ip string, blocked bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE threat_intelligence SET blocked = ? WHERE ip_address = ?`, blocked, ip)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 && blocked {
		// Blocking an IP that has no curated row yet creates one, so
		// the flag survives restarts.
		now := time.Now()
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO threat_intelligence
				(ip_address, threat_type, severity, source, first_seen, last_seen, occurrences, blocked)
			VALUES (?, 'manual_block', 'high', 'admin', ?, ?, 1, 1)
			ON CONFLICT(ip_address) DO UPDATE SET blocked = 1`, ip, now, now)
	}
	return err
}

func (s *SQLStore) ListIntel(ctx context.Context, limit int) ([]ThreatIntelligenceEntry, error) {
	query := `
		SELECT ip_address, threat_type, severity, source, first_seen, last_seen, occurrences, blocked
		FROM threat_intelligence ORDER BY last_seen DESC`
	var entries []ThreatIntelligenceEntry
	var err error
	if limit > 0 {
		err = s.db.SelectContext(ctx, &entries, query+" LIMIT ?", limit)
	} else {
		err = s.db.SelectContext(ctx, &entries, query)
	}
	return entries, err
}

// ---- AlertStore ----

func (s *SQLStore) InsertAlert(ctx context.Context, alert *SecurityAlert) error {
	metadata, err := json.Marshal(alert.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO security_alerts
			(id, alert_type, severity, title, message, source, status, metadata, created_at, acknowledged_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.AlertType, alert.Severity, alert.Title, alert.Message,
		alert.Source, alert.Status, string(metadata), alert.CreatedAt,
		alert.AcknowledgedAt, alert.ResolvedAt)
	return err
}

func (s *SQLStore) GetAlert(ctx context.Context, id string) (*SecurityAlert, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, alert_type, severity, title, message, source, status, metadata, created_at, acknowledged_at, resolved_at
		FROM security_alerts WHERE id = ?`, id)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return alert, err
}

func (s *SQLStore) UpdateAlertStatus(ctx context.Context, id string, status AlertStatus, at time.Time) error {
	var query string
	switch status {
	case AlertAcknowledged:
		query = `UPDATE security_alerts SET status = ?, acknowledged_at = ? WHERE id = ?`
	case AlertResolved:
		query = `UPDATE security_alerts SET status = ?, resolved_at = ? WHERE id = ?`
	default:
		_, err := s.db.ExecContext(ctx, `UPDATE security_alerts SET status = ? WHERE id = ?`, status, id)
		return err
	}
	result, err := s.db.ExecContext(ctx, query, status, at, id)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrAlertNotFound
	}
	return nil
}

func (s *SQLStore) ListAlerts(ctx context.Context, status AlertStatus, limit int) ([]SecurityAlert, error) {
	query := `
		SELECT id, alert_type, severity, title, message, source, status, metadata, created_at, acknowledged_at, resolved_at
		FROM security_alerts`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var alerts []SecurityAlert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *alert)
	}
	return alerts, rows.Err()
}

func (s *SQLStore) CountAlerts(ctx context.Context, status AlertStatus) (int, error) {
	var count int
	var err error
	if status == "" {
		err = s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM security_alerts`)
	} else {
		err = s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM security_alerts WHERE status = ?`, status)
	}
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*SecurityAlert, error) {
	var alert SecurityAlert
	var metadata string
	var acknowledgedAt, resolvedAt sql.NullTime
	if err := row.Scan(&alert.ID, &alert.AlertType, &alert.Severity, &alert.Title,
		&alert.Message, &alert.Source, &alert.Status, &metadata,
		&alert.CreatedAt, &acknowledgedAt, &resolvedAt); err != nil {
		return nil, err
	}
	if metadata != "" && metadata != "{}" {
		_ = json.Unmarshal([]byte(metadata), &alert.Metadata)
	}
	if acknowledgedAt.Valid {
		alert.AcknowledgedAt = &acknowledgedAt.Time
	}
	if resolvedAt.Valid {
		alert.ResolvedAt = &resolvedAt.Time
	}
	return &alert, nil
}

// ---- ComplianceStore ----

func (s *SQLStore) UpsertCheck(ctx context.Context, check *ComplianceCheck) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO compliance_checks
			(check_name, check_type, status, findings, remediation, priority, last_checked, next_check)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(check_name) DO UPDATE SET
			check_type = excluded.check_type,
			status = excluded.status,
			findings = excluded.findings,
			remediation = excluded.remediation,
			priority = excluded.priority,
			last_checked = excluded.last_checked,
			next_check = excluded.next_check`,
		check.CheckName, check.CheckType, check.Status, check.Findings,
		check.Remediation, check.Priority, check.LastChecked, check.NextCheck)
	return err
}

func (s *SQLStore) ListChecks(ctx context.Context) ([]ComplianceCheck, error) {
	var checks []ComplianceCheck
	err := s.db.SelectContext(ctx, &checks, `
		SELECT check_name, check_type, status, findings, remediation, priority, last_checked, next_check
		FROM compliance_checks ORDER BY priority, check_name`)
	return checks, err
}
