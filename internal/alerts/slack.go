package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type SlackAttachment struct {
	Color  string       `json:"color"`
	Text   string       `json:"text,omitempty"`
	Fields []SlackField `json:"fields,omitempty"`
}

type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackSender posts alerts to an incoming webhook. The first line of the
// message becomes the headline and the rest goes into a colored attachment.
type SlackSender struct {
	WebhookURL string
	Channel    string

	httpClient *http.Client
}

func NewSlackSender(webhookURL, channel string) *SlackSender {
	return &SlackSender{
		WebhookURL: webhookURL,
		Channel:    channel,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackSender) Name() string { return "slack" }

func (s *SlackSender) Send(ctx context.Context, text string) error {
	if s.WebhookURL == "" {
		return fmt.Errorf("slack: missing webhook url")
	}
	payload, err := json.Marshal(s.formatMessage(text))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack: webhook error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// formatMessage converts the Telegram-flavoured markdown into Slack mrkdwn.
func (s *SlackSender) formatMessage(text string) SlackMessage {
	headline, rest, _ := strings.Cut(text, "\n")
	headline = strings.Trim(headline, "*")

	color := "good"
	switch {
	case strings.Contains(headline, "EXIT"):
		color = "danger"
	case strings.Contains(headline, "LOCK"):
		color = "warning"
	}

	body := strings.ReplaceAll(strings.TrimSpace(rest), `\_`, "_")
	if len(body) > 3900 {
		body = body[:3900] + "..."
	}
	return SlackMessage{
		Channel:     s.Channel,
		Text:        headline,
		Attachments: []SlackAttachment{{Color: color, Text: body}},
	}
}
