package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Rajchodisetti/spx0dte/internal/engine"
	"github.com/Rajchodisetti/spx0dte/internal/lifecycle"
	"github.com/Rajchodisetti/spx0dte/internal/observ"
)

const (
	maxSignatureSkew = 5 * time.Minute
	slackUsage       = "usage: status | trades | confirm <strategy> | close <trade_id>"
)

type slashResponse struct {
	ResponseType string `json:"response_type"` // "ephemeral" or "in_channel"
	Text         string `json:"text"`
}

// slackCommand serves the /spx slash command. Requests are authenticated with
// the Slack v0 signature and replayed signatures are refused.
func (s *Server) slackCommand(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 64<<10))
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	req := c.Request()
	if !s.verifySignature(body, req.Header.Get("X-Slack-Signature"), req.Header.Get("X-Slack-Request-Timestamp")) {
		observ.IncCounter("slack_commands_total", map[string]string{"result": "unauthorized"})
		return c.NoContent(http.StatusUnauthorized)
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	user := form.Get("user_id")
	if !s.userAllowed(user) {
		observ.IncCounter("slack_commands_total", map[string]string{"result": "forbidden"})
		return c.JSON(http.StatusOK, slashResponse{ResponseType: "ephemeral", Text: "not authorized"})
	}

	fields := strings.Fields(form.Get("text"))
	verb := "status"
	if len(fields) > 0 {
		verb = strings.ToLower(fields[0])
	}
	resp := s.runSlash(c, verb, fields)
	observ.Log("slack_command", map[string]any{"user": user, "verb": verb, "text": form.Get("text")})
	observ.IncCounter("slack_commands_total", map[string]string{"result": "ok"})
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) runSlash(c echo.Context, verb string, fields []string) slashResponse {
	ctx := c.Request().Context()
	switch verb {
	case "status":
		res, ok := s.eng.Last()
		if !ok {
			return ephemeral("no tick yet")
		}
		ready := 0
		for _, card := range res.Board.Cards {
			if card.Ready {
				ready++
			}
		}
		return ephemeral(fmt.Sprintf("tick %s at %s\nregime %s, %d ready, loss lock %t",
			res.TickID, res.Timestamp.Format(time.RFC3339), res.Regime, ready, res.Exposure.Lock.Daily))
	case "trades":
		trades, err := s.eng.Machine().OpenTrades(ctx)
		if err != nil {
			return ephemeral("error: " + err.Error())
		}
		if len(trades) == 0 {
			return ephemeral("no open trades")
		}
		lines := make([]string, 0, len(trades))
		for _, t := range trades {
			lines = append(lines, tradeLine(t))
		}
		return ephemeral(strings.Join(lines, "\n"))
	case "confirm":
		if len(fields) < 2 {
			return ephemeral(slackUsage)
		}
		kind, ok := engine.ParseKind(strings.Join(fields[1:], " "))
		if !ok {
			return ephemeral("unknown strategy " + strings.Join(fields[1:], " "))
		}
		t, err := s.eng.ConfirmEntry(ctx, kind, s.now())
		if err != nil {
			return ephemeral("error: " + err.Error())
		}
		return slashResponse{ResponseType: "in_channel", Text: "opened " + tradeLine(t)}
	case "close":
		if len(fields) < 2 {
			return ephemeral(slackUsage)
		}
		t, err := s.eng.ManualClose(ctx, fields[1], s.now())
		if err != nil {
			return ephemeral("error: " + err.Error())
		}
		return slashResponse{ResponseType: "in_channel", Text: "closed " + tradeLine(t)}
	}
	return ephemeral(slackUsage)
}

func tradeLine(t lifecycle.Trade) string {
	line := fmt.Sprintf("%s %s %s", t.ID, t.Strategy, t.Status)
	if t.ProfitPct != nil {
		line += fmt.Sprintf(" pnl %.0f%%", *t.ProfitPct*100)
	}
	if t.ExitPendingReason != "" {
		line += " (" + t.ExitPendingReason + ")"
	}
	return line
}

func ephemeral(text string) slashResponse {
	return slashResponse{ResponseType: "ephemeral", Text: text}
}

func (s *Server) verifySignature(body []byte, signature, timestamp string) bool {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	now := s.now()
	if d := now.Sub(time.Unix(ts, 0)); d > maxSignatureSkew || d < -maxSignatureSkew {
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.cfg.SlackSigningSecret))
	mac.Write([]byte("v0:" + timestamp + ":"))
	mac.Write(body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, seen := range s.nonces {
		if now.Sub(seen) > maxSignatureSkew {
			delete(s.nonces, k)
		}
	}
	nonce := signature + timestamp
	if _, dup := s.nonces[nonce]; dup {
		return false
	}
	s.nonces[nonce] = now
	return true
}

// userAllowed is open when no allowlist is configured.
func (s *Server) userAllowed(id string) bool {
	return len(s.cfg.SlackAllowedUsers) == 0 || slices.Contains(s.cfg.SlackAllowedUsers, id)
}
