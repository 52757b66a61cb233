package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
)

const defaultTimeout = 10 * time.Second

// WebhookChannel POSTs the alert payload as JSON.
type WebhookChannel struct {
	url        string
	httpClient *http.Client
}

func NewWebhookChannel(url string, timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &WebhookChannel{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Deliver(ctx context.Context, a *models.Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return &DeliveryError{Channel: c.Name(), Permanent: true, Err: fmt.Errorf("marshal alert: %w", err)}
	}
	return post(ctx, c.httpClient, c.Name(), c.url, body)
}

// SlackChannel posts to a Slack incoming webhook using blocks.
type SlackChannel struct {
	url        string
	httpClient *http.Client
}

func NewSlackChannel(url string, timeout time.Duration) *SlackChannel {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &SlackChannel{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *SlackChannel) Name() string { return "slack" }

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (c *SlackChannel) Deliver(ctx context.Context, a *models.Alert) error {
	body, err := json.Marshal(buildSlackMessage(a))
	if err != nil {
		return &DeliveryError{Channel: c.Name(), Permanent: true, Err: fmt.Errorf("marshal slack message: %w", err)}
	}
	return post(ctx, c.httpClient, c.Name(), c.url, body)
}

func buildSlackMessage(a *models.Alert) slackMessage {
	header := fmt.Sprintf("%s %s", severityEmoji(a.Severity), a.SubjectLine)
	return slackMessage{
		Text: header,
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: header}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: a.Body}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf("_incident %s · %s · %s_",
				a.IncidentID, strings.ToUpper(string(a.Severity)), a.SentAt.UTC().Format("2006-01-02 15:04 UTC"))}},
		},
	}
}

func severityEmoji(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return "\U0001f534"
	case models.SeverityWarning:
		return "\U0001f7e1"
	case models.SeverityInfo:
		return "\U0001f535"
	default:
		return "\u2753"
	}
}

func post(ctx context.Context, client *http.Client, channel, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Channel: channel, Permanent: true, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return &DeliveryError{Channel: channel, Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(channel, resp.StatusCode)
	}
	return nil
}
