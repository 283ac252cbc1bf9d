package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramSender posts to the Bot API sendMessage endpoint. A 429 is retried after the
// server's retry_after, up to MaxRetries times.
type TelegramSender struct {
	Token      string
	ChatID     string
	BaseURL    string
	ParseMode  string
	MaxRetries int

	client *http.Client
	sleep  func(context.Context, time.Duration) error
}

func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		Token:      token,
		ChatID:     chatID,
		BaseURL:    defaultTelegramAPI,
		ParseMode:  "Markdown",
		MaxRetries: 2,
		client:     &http.Client{Timeout: 10 * time.Second},
		sleep:      sleepCtx,
	}
}

func (t *TelegramSender) Name() string { return "telegram" }

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter json.Number `json:"retry_after"`
	} `json:"parameters"`
}

func (t *TelegramSender) Send(ctx context.Context, text string) error {
	if t.Token == "" {
		return errors.New("missing TELEGRAM_BOT_TOKEN (or TELEGRAM_TOKEN)")
	}
	if t.ChatID == "" {
		return errors.New("missing TELEGRAM_CHAT_ID")
	}
	body, err := json.Marshal(map[string]any{
		"chat_id":                  t.ChatID,
		"text":                     text,
		"parse_mode":               t.ParseMode,
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}
	url := strings.TrimRight(t.BaseURL, "/") + "/bot" + t.Token + "/sendMessage"

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("telegram: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.client.Do(req)
		if err != nil {
			return fmt.Errorf("request error: %w", err)
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			var out telegramResponse
			if err := json.Unmarshal(raw, &out); err != nil {
				return errors.New("invalid Telegram JSON response")
			}
			if out.OK {
				return nil
			}
			if out.Description == "" {
				return errors.New("Telegram API error")
			}
			return errors.New(out.Description)

		case resp.StatusCode == http.StatusTooManyRequests:
			wait := retryAfter(raw)
			if attempt >= t.MaxRetries {
				return fmt.Errorf("rate limited (retry_after=%ds)", wait)
			}
			if err := t.sleep(ctx, time.Duration(wait)*time.Second); err != nil {
				return fmt.Errorf("request error: %w", err)
			}

		default:
			msg := strings.TrimSpace(string(raw))
			if len(msg) > 180 {
				msg = msg[:180]
			}
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
		}
	}
}

// retryAfter reads parameters.retry_after, at least one second.
func retryAfter(raw []byte) int {
	var out telegramResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return 1
	}
	n, err := out.Parameters.RetryAfter.Int64()
	if err != nil || n < 1 {
		return 1
	}
	return int(n)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
