package outbox

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/Rajchodisetti/spx0dte/internal/market"
)

// EntryAlertKey is stable for one strategy's candidate within a session minute.
func EntryAlertKey(strategy, candidateID string, at time.Time) string {
	return key("entry", strategy, candidateID, market.InET(at).Format("2006-01-02T15:04"))
}

// ExitAlertKey is stable for one trade's primary reason within a session minute.
func ExitAlertKey(tradeID, reason string, at time.Time) string {
	return key("exit", tradeID, reason, market.InET(at).Format("2006-01-02T15:04"))
}

// TradeActionKey is stable for one action on one trade.
func TradeActionKey(tradeID, action string) string {
	return key("trade", tradeID, action)
}

func key(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%x", hash[:8])
}
