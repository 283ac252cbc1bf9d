// Package outbox is the append-only JSONL audit journal of alerts and trade actions.
package outbox

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rajchodisetti/spx0dte/internal/observ"
)

// Entry types.
const (
	TypeEntryAlert = "entry_alert"
	TypeExitAlert  = "exit_alert"
	TypeLockAlert  = "lock_alert"
	TypeTrade      = "trade"
	TypeFill       = "fill"
)

// ErrDuplicate means an entry with the same idempotency key is already inside the window.
var ErrDuplicate = errors.New("outbox: duplicate idempotency key")

type Entry struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Strategy       string          `json:"strategy,omitempty"`
	TradeID        string          `json:"trade_id,omitempty"`
	Action         string          `json:"action,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	TickID         string          `json:"tick_id,omitempty"`
	Event          time.Time       `json:"event"`
	Data           json.RawMessage `json:"data,omitempty"`
}

type Outbox struct {
	path         string
	dedupeWindow time.Duration

	mu  sync.Mutex
	now func() time.Time
}

func New(path string, dedupeWindow time.Duration) (*Outbox, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("outbox dir: %w", err)
	}
	return &Outbox{path: path, dedupeWindow: dedupeWindow, now: time.Now}, nil
}

func (o *Outbox) Path() string { return o.path }

// Append stamps an ID and event time and writes one line. A non-empty idempotency
// key already written inside the dedupe window returns ErrDuplicate.
func (o *Outbox) Append(e Entry, data any) (Entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if e.IdempotencyKey != "" {
		dup, err := o.hasRecentUnsafe(e.IdempotencyKey)
		if err != nil {
			return Entry{}, err
		}
		if dup {
			observ.IncCounter("outbox_duplicates_total", map[string]string{"type": e.Type})
			return Entry{}, ErrDuplicate
		}
	}

	e.ID = uuid.NewString()
	e.Event = o.now().UTC()
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Entry{}, fmt.Errorf("outbox marshal %s: %w", e.Type, err)
		}
		e.Data = raw
	}
	line, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("outbox marshal entry: %w", err)
	}

	f, err := os.OpenFile(o.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return Entry{}, fmt.Errorf("outbox open: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return Entry{}, fmt.Errorf("outbox write: %w", err)
	}
	observ.IncCounter("outbox_entries_total", map[string]string{"type": e.Type})
	return e, nil
}

// HasRecent reports whether key was written inside the dedupe window.
func (o *Outbox) HasRecent(key string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hasRecentUnsafe(key)
}

func (o *Outbox) hasRecentUnsafe(key string) (bool, error) {
	cutoff := o.now().UTC().Add(-o.dedupeWindow)
	found := false
	err := o.scan(func(e Entry) bool {
		if e.IdempotencyKey == key && !e.Event.Before(cutoff) {
			found = true
			return false
		}
		return true
	})
	return found, err
}

// Tail returns up to n most recent entries, oldest first. Malformed lines are skipped.
func (o *Outbox) Tail(n int) ([]Entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Entry
	err := o.scan(func(e Entry) bool {
		out = append(out, e)
		if n > 0 && len(out) > n {
			out = out[1:]
		}
		return true
	})
	return out, err
}

func (o *Outbox) scan(fn func(Entry) bool) error {
	f, err := os.Open(o.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("outbox read: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if !fn(e) {
			break
		}
	}
	return sc.Err()
}
