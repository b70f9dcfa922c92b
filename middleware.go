package webguard

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Middleware analyzes every inbound request and enforces the
// recommended action: block -> 403, challenge -> marker header for
// the downstream challenge flow, monitor/allow -> pass through.
func (g *Guard) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		req := DescriptorFromFiber(c)
		result, err := g.Aggregator.AnalyzeRequest(c.Context(), req)
		if err != nil {
			// Only a malformed descriptor lands here; the analysis
			// itself degrades rather than fails.
			if errors.Is(err, ErrInvalidDescriptor) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "malformed request",
				})
			}
			return err
		}
		if result.Blocked {
			g.Recorder.Log(SecurityEvent{
				EventType: EventRequestBlocked,
				Severity:  result.ThreatLevel,
				ActorID:   req.ActorID,
				SourceIP:  req.SourceIP,
				Resource:  req.Path,
				Action:    string(ActionBlock),
				Success:   true,
			})
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "request blocked",
				"type":  string(ActionBlock),
			})
		}
		if result.RecommendedAction == ActionChallenge {
			c.Set("X-Guard-Challenge", "required")
		}
		c.Locals("webguard.result", result)
		return c.Next()
	}
}

// RegisterAdminRoutes mounts the read-only dashboard and the admin
// actions under the given router group. Authentication for these
// routes belongs to the surrounding application.
func (g *Guard) RegisterAdminRoutes(router fiber.Router) {
	router.Get("/security/overview", g.handleOverview)
	router.Get("/security/alerts", g.handleListAlerts)
	router.Post("/security/alerts/:id/acknowledge", g.handleAcknowledgeAlert)
	router.Post("/security/alerts/:id/resolve", g.handleResolveAlert)
	router.Get("/security/intel", g.handleListIntel)
	router.Post("/security/intel/:ip/block", g.handleBlockIP)
	router.Post("/security/intel/:ip/unblock", g.handleUnblockIP)
	router.Get("/security/events", g.handleQueryEvents)
	router.Get("/security/report", g.handleReport)
	router.Get("/security/compliance", g.handleCompliance)
	router.Get("/metrics", g.handleMetrics)
}

func (g *Guard) handleOverview(c *fiber.Ctx) error {
	ctx := c.Context()
	active, _ := g.Alerts.List(ctx, AlertActive, 10)
	escalated, _ := g.Alerts.List(ctx, AlertEscalated, 10)
	checks, err := g.Compliance.store.ListChecks(ctx)
	if err != nil {
		checks = nil
	}
	now := time.Now()
	report, err := g.Recorder.Report(ctx, now.Add(-24*time.Hour), now)
	if err != nil {
		report = &AuditReport{}
	}

	recommendations := []string{}
	if len(escalated) > 0 {
		recommendations = append(recommendations, "acknowledge escalated alerts")
	}
	for _, check := range checks {
		if check.Status == ComplianceFailing && check.Remediation != "" {
			recommendations = append(recommendations, check.Remediation)
		}
	}

	return c.JSON(fiber.Map{
		"activeAlerts":    active,
		"escalatedAlerts": escalated,
		"last24h":         report,
		"complianceScore": ComplianceScore(checks),
		"trackedIPs":      g.Rates.Tracked(),
		"recommendations": recommendations,
	})
}

func (g *Guard) handleListAlerts(c *fiber.Ctx) error {
	status := AlertStatus(c.Query("status"))
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	alerts, err := g.Alerts.List(c.Context(), status, limit)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"alerts": alerts})
}

func (g *Guard) handleAcknowledgeAlert(c *fiber.Ctx) error {
	return g.transitionAlert(c, g.Alerts.Acknowledge)
}

func (g *Guard) handleResolveAlert(c *fiber.Ctx) error {
	return g.transitionAlert(c, g.Alerts.Resolve)
}

func (g *Guard) transitionAlert(c *fiber.Ctx, fn func(ctx context.Context, id, by string) error) error {
	id := c.Params("id")
	by := c.Get("X-User-ID")
	if err := fn(c.Context(), id, by); err != nil {
		switch {
		case errors.Is(err, ErrAlertNotFound):
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		case errors.Is(err, ErrAlertTransition):
			return fiber.NewError(fiber.StatusConflict, err.Error())
		default:
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
	}
	alert, err := g.Alerts.Get(c.Context(), id)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(alert)
}

func (g *Guard) handleListIntel(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "100"))
	entries, err := g.Intel.List(c.Context(), limit)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"entries": entries})
}

func (g *Guard) handleBlockIP(c *fiber.Ctx) error {
	ip := c.Params("ip")
	var ttl time.Duration
	if raw := c.Query("ttl"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid ttl")
		}
		ttl = parsed
	}
	if err := g.Intel.Block(c.Context(), ip, ttl); err != nil {
		if errors.Is(err, ErrInvalidDescriptor) {
			return fiber.NewError(fiber.StatusBadRequest, "invalid ip")
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	g.Recorder.Log(SecurityEvent{
		EventType: EventIPBlocked,
		Severity:  SeverityHigh,
		ActorID:   c.Get("X-User-ID"),
		SourceIP:  ip,
		Action:    "manual_block",
		Success:   true,
	})
	return c.JSON(fiber.Map{"ip": ip, "blocked": true})
}

func (g *Guard) handleUnblockIP(c *fiber.Ctx) error {
	ip := c.Params("ip")
	if err := g.Intel.Unblock(c.Context(), ip); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	g.Recorder.Log(SecurityEvent{
		EventType: EventIPUnblocked,
		Severity:  SeverityLow,
		ActorID:   c.Get("X-User-ID"),
		SourceIP:  ip,
		Action:    "manual_unblock",
		Success:   true,
	})
	return c.JSON(fiber.Map{"ip": ip, "blocked": false})
}

func (g *Guard) handleQueryEvents(c *fiber.Ctx) error {
	filter := AuditFilter{
		ActorID:  c.Query("actor"),
		SourceIP: c.Query("ip"),
		Severity: Severity(c.Query("severity")),
	}
	if types := c.Query("types"); types != "" {
		filter.EventTypes = strings.Split(types, ",")
	}
	if since := c.Query("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = t
		}
	}
	if until := c.Query("until"); until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil {
			filter.Until = t
		}
	}
	filter.Limit, _ = strconv.Atoi(c.Query("limit", "0"))
	filter.Offset, _ = strconv.Atoi(c.Query("offset", "0"))

	events, err := g.Recorder.Query(c.Context(), filter)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"events": events})
}

func (g *Guard) handleReport(c *fiber.Ctx) error {
	end := time.Now()
	start := end.Add(-7 * 24 * time.Hour)
	if raw := c.Query("start"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			start = t
		}
	}
	if raw := c.Query("end"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			end = t
		}
	}
	report, err := g.Recorder.Report(c.Context(), start, end)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(report)
}

func (g *Guard) handleCompliance(c *fiber.Ctx) error {
	checks, err := g.Compliance.store.ListChecks(c.Context())
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"checks": checks,
		"score":  ComplianceScore(checks),
	})
}

func (g *Guard) handleMetrics(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/plain; version=0.0.4")
	return c.SendString(g.Metrics.ExportPrometheus())
}
