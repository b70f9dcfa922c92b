package webguard

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/oarkflow/log"
)

// NotificationRegistry manages the channel senders and fans alerts
// out to them. Delivery runs async so alert creation never blocks on
// a slow channel; partial failures are logged per channel.
type NotificationRegistry struct {
	mu       sync.RWMutex
	senders  map[string]NotificationSender
	channels []string
	logger   *log.Logger
}

// ChannelCredentials carries the per-channel delivery settings.
type ChannelCredentials struct {
	WebhookURL    string
	WebhookSecret string
	SlackURL      string
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	EmailFrom     string
	EmailTo       string
}

func NewNotificationRegistry(cfg AlertConfig, creds ChannelCredentials, logger *log.Logger) *NotificationRegistry {
	registry := &NotificationRegistry{
		senders:  make(map[string]NotificationSender),
		channels: cfg.Channels,
		logger:   logger,
	}
	client := &http.Client{Timeout: 10 * time.Second}
	registry.Register(&LogNotificationSender{logger: logger})
	registry.Register(&WebhookNotificationSender{client: client, url: creds.WebhookURL, secret: creds.WebhookSecret})
	registry.Register(&SlackNotificationSender{client: client, url: creds.SlackURL})
	registry.Register(&EmailNotificationSender{creds: creds, logger: logger})
	return registry
}

func (nr *NotificationRegistry) Register(sender NotificationSender) {
	nr.mu.Lock()
	defer nr.mu.Unlock()
	nr.senders[sender.Name()] = sender
}

func (nr *NotificationRegistry) Get(channel string) (NotificationSender, bool) {
	nr.mu.RLock()
	defer nr.mu.RUnlock()
	sender, exists := nr.senders[channel]
	return sender, exists
}

// Broadcast delivers the alert to every configured channel. Fire and
// forget: each send gets its own timeout and its failure is its own
// log line.
func (nr *NotificationRegistry) Broadcast(alert *SecurityAlert, escalated bool) {
	nr.mu.RLock()
	channels := append([]string{}, nr.channels...)
	nr.mu.RUnlock()

	payload := *alert
	if escalated {
		payload.Title = "[ESCALATED] " + payload.Title
	}
	for _, channel := range channels {
		sender, exists := nr.Get(channel)
		if !exists {
			if nr.logger != nil {
				nr.logger.Warn().Str("component", "notify").Str("channel", channel).Msg("notification channel not registered")
			}
			continue
		}
		go func(sender NotificationSender) {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := sender.Send(ctx, &payload); err != nil && nr.logger != nil {
				nr.logger.Error().Err(err).
					Str("component", "notify").
					Str("channel", sender.Name()).
					Str("alertId", payload.ID).
					Msg("notification delivery failed")
			}
		}(sender)
	}
}

// LogNotificationSender writes alerts to the structured log. Always
// registered so a bare deployment still surfaces alerts somewhere.
type LogNotificationSender struct {
	logger *log.Logger
}

func (s *LogNotificationSender) Name() string { return "log" }

func (s *LogNotificationSender) Send(ctx context.Context, alert *SecurityAlert) error {
	if s.logger == nil {
		return nil
	}
	s.logger.Warn().
		Str("component", "notify").
		Str("alertId", alert.ID).
		Str("alertType", alert.AlertType).
		Str("severity", string(alert.Severity)).
		Str("title", alert.Title).
		Msg(alert.Message)
	return nil
}

// WebhookNotificationSender posts the alert JSON to a webhook,
// signing the body when a secret is configured.
type WebhookNotificationSender struct {
	client *http.Client
	url    string
	secret string
}

func (s *WebhookNotificationSender) Name() string { return "webhook" }

func (s *WebhookNotificationSender) Send(ctx context.Context, alert *SecurityAlert) error {
	if s.url == "" {
		return fmt.Errorf("webhook URL not configured")
	}
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "WebGuard-Notification/1.0")
	if s.secret != "" {
		mac := hmac.New(sha256.New, []byte(s.secret))
		mac.Write(body)
		req.Header.Set("X-Guard-Signature", hex.EncodeToString(mac.Sum(nil)))
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SlackNotificationSender posts a block-formatted message to a Slack
// incoming webhook.
type SlackNotificationSender struct {
	client *http.Client
	url    string
}

func (s *SlackNotificationSender) Name() string { return "slack" }

func (s *SlackNotificationSender) Send(ctx context.Context, alert *SecurityAlert) error {
	if s.url == "" {
		return fmt.Errorf("slack webhook URL not configured")
	}
	fields := []map[string]string{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Type:*\n%s", alert.AlertType)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:*\n%s", alert.Severity)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Source:*\n%s", alert.Source)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Created:*\n%s", alert.CreatedAt.Format(time.RFC3339))},
	}
	for key, value := range alert.Metadata {
		fields = append(fields, map[string]string{"type": "mrkdwn", "text": fmt.Sprintf("*%s:*\n%s", key, value)})
	}
	payload := map[string]any{
		"text": alert.Title,
		"blocks": []map[string]any{
			{
				"type": "header",
				"text": map[string]string{"type": "plain_text", "text": alert.Title},
			},
			{
				"type": "section",
				"text": map[string]string{"type": "mrkdwn", "text": alert.Message},
			},
			{
				"type":   "section",
				"fields": fields,
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

// EmailNotificationSender hands alerts to the mail relay. SMTP
// delivery itself is an external concern; until the relay is wired
// this logs what would be sent.
type EmailNotificationSender struct {
	creds  ChannelCredentials
	logger *log.Logger
}

func (s *EmailNotificationSender) Name() string { return "email" }

func (s *EmailNotificationSender) Send(ctx context.Context, alert *SecurityAlert) error {
	if s.creds.SMTPHost == "" || s.creds.EmailTo == "" {
		return fmt.Errorf("email credentials not configured")
	}
	if s.logger != nil {
		s.logger.Info().
			Str("component", "notify").
			Str("to", s.creds.EmailTo).
			Str("from", s.creds.EmailFrom).
			Str("smtp", fmt.Sprintf("%s:%d", s.creds.SMTPHost, s.creds.SMTPPort)).
			Str("subject", "Security Alert: "+alert.Title).
			Msg(alert.Message)
	}
	return nil
}
