package webguard

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/log"
)

// BehavioralAnalyzer flags statistical anomalies in an authenticated
// user's recent activity against their trailing history. The audit
// trail is the only input; the analyzer keeps no state of its own.
type BehavioralAnalyzer struct {
	store  EventStore
	cfg    BehaviorConfig
	logger *log.Logger
}

const (
	unusualTimeConfidence   = 70
	unusualVolumeConfidence = 75
)

func NewBehavioralAnalyzer(store EventStore, cfg BehaviorConfig, logger *log.Logger) *BehavioralAnalyzer {
	return &BehavioralAnalyzer{store: store, cfg: cfg, logger: logger}
}

// Analyze compares the user's current activity against the lookback
// window. Below the minimum event count there is no signal and the
// result is empty. A store failure is a dependency failure: logged,
// swallowed, empty result.
func (a *BehavioralAnalyzer) Analyze(ctx context.Context, userID string, now time.Time) []DetectedThreat {
	if userID == "" {
		return nil
	}
	since := now.Add(-a.cfg.Lookback)
	total, byHour, err := a.store.CountEventsByActor(ctx, userID, since, now)
	if err != nil {
		if a.logger != nil {
			a.logger.Warn().Err(err).
				Str("component", "behavior").
				Str("userId", userID).
				Msg("history lookup failed, skipping behavioral analysis")
		}
		return nil
	}
	if total < a.cfg.MinEvents {
		return nil
	}

	var threats []DetectedThreat

	// Unusual access time: the current hour's bucket holds
	// proportionally less than the floor share of a uniform spread.
	// Only meaningful once the user has real history.
	if total > a.cfg.MinEventsHourly {
		hour := now.Hour()
		share := float64(byHour[hour]) / float64(total)
		uniform := 1.0 / 24.0
		if share < a.cfg.HourShareFloor*uniform {
			threats = append(threats, DetectedThreat{
				Type:        ThreatUnusualTime,
				Severity:    SeverityMedium,
				Description: "access at an hour this user rarely uses",
				Evidence: map[string]string{
					"hour":        fmt.Sprintf("%d", hour),
					"hourEvents":  fmt.Sprintf("%d", byHour[hour]),
					"totalEvents": fmt.Sprintf("%d", total),
				},
				Confidence: unusualTimeConfidence,
			})
		}
	}

	// Unusual volume: the last hour against the weekly hourly average.
	lastHour, _, err := a.store.CountEventsByActor(ctx, userID, now.Add(-time.Hour), now)
	if err != nil {
		if a.logger != nil {
			a.logger.Warn().Err(err).
				Str("component", "behavior").
				Str("userId", userID).
				Msg("recent volume lookup failed")
		}
		return threats
	}
	hours := a.cfg.Lookback.Hours()
	if hours <= 0 {
		hours = 1
	}
	hourlyAvg := float64(total) / hours
	if hourlyAvg > 0 && float64(lastHour) > a.cfg.VolumeFactor*hourlyAvg {
		threats = append(threats, DetectedThreat{
			Type:        ThreatUnusualVolume,
			Severity:    SeverityHigh,
			Description: "request volume far above this user's hourly average",
			Evidence: map[string]string{
				"lastHour":  fmt.Sprintf("%d", lastHour),
				"hourlyAvg": fmt.Sprintf("%.2f", hourlyAvg),
			},
			Confidence: unusualVolumeConfidence,
		})
	}
	return threats
}
