// Package alerts formats entry and exit messages and delivers them to chat channels.
package alerts

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/spx0dte/internal/observ"
)

// ErrDisabled is returned when alerting is switched off in config.
var ErrDisabled = errors.New("alerts disabled")

// ErrDuplicate is returned when the same text was delivered inside the dedupe window.
var ErrDuplicate = errors.New("duplicate alert suppressed")

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, text string) error
	Name() string
}

// Options tune the notifier.
type Options struct {
	Enabled     bool
	RatePerMin  int
	Burst       int
	DedupeFor   time.Duration
	WaitTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{Enabled: true, RatePerMin: 20, Burst: 5, DedupeFor: 60 * time.Second, WaitTimeout: 5 * time.Second}
}

// Notifier fans a message out to every sender. Delivery is synchronous so the caller
// can skip its cooldown stamp when nothing went out.
type Notifier struct {
	senders []Sender
	opts    Options
	limiter *rate.Limiter

	mu     sync.Mutex
	recent map[string]time.Time
	now    func() time.Time
}

func NewNotifier(opts Options, senders ...Sender) *Notifier {
	limit := rate.Inf
	if opts.RatePerMin > 0 {
		limit = rate.Limit(float64(opts.RatePerMin) / 60)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Notifier{
		senders: senders,
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
		recent:  make(map[string]time.Time),
		now:     time.Now,
	}
}

// Enabled reports whether Notify will attempt delivery.
func (n *Notifier) Enabled() bool {
	return n != nil && n.opts.Enabled && len(n.senders) > 0
}

// Notify delivers text to every sender. It succeeds when at least one sender
// accepted the message; otherwise the per-sender failures are joined.
func (n *Notifier) Notify(ctx context.Context, kind, text string) error {
	if !n.Enabled() {
		return ErrDisabled
	}
	hash := dedupeKey(kind, text)
	if n.seen(hash) {
		observ.IncCounter("alerts_suppressed_total", map[string]string{"kind": kind, "cause": "duplicate"})
		return ErrDuplicate
	}

	wait := ctx
	if n.opts.WaitTimeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, n.opts.WaitTimeout)
		defer cancel()
	}
	if err := n.limiter.Wait(wait); err != nil {
		observ.IncCounter("alerts_suppressed_total", map[string]string{"kind": kind, "cause": "rate_limit"})
		return fmt.Errorf("alert rate limit: %w", err)
	}

	var errs []error
	delivered := 0
	for _, s := range n.senders {
		start := n.now()
		err := s.Send(ctx, text)
		observ.RecordDuration("alert_send_duration", n.now().Sub(start), map[string]string{"sender": s.Name()})
		if err != nil {
			observ.Error("alert_send_failed", err, map[string]any{"sender": s.Name(), "kind": kind})
			observ.IncCounter("alerts_failed_total", map[string]string{"sender": s.Name(), "kind": kind})
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		delivered++
		observ.IncCounter("alerts_sent_total", map[string]string{"sender": s.Name(), "kind": kind})
	}
	if delivered == 0 {
		return errors.Join(errs...)
	}
	n.remember(hash)
	if len(errs) > 0 {
		observ.Warn("alert_partial_delivery", map[string]any{"kind": kind, "delivered": delivered, "failed": len(errs)})
	}
	return nil
}

func dedupeKey(kind, text string) string {
	sum := sha256.Sum256([]byte(kind + ":" + strings.TrimSpace(text)))
	return fmt.Sprintf("%x", sum)[:16]
}

func (n *Notifier) seen(hash string) bool {
	if n.opts.DedupeFor <= 0 {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	for h, at := range n.recent {
		if now.Sub(at) >= n.opts.DedupeFor {
			delete(n.recent, h)
		}
	}
	_, ok := n.recent[hash]
	return ok
}

func (n *Notifier) remember(hash string) {
	if n.opts.DedupeFor <= 0 {
		return
	}
	n.mu.Lock()
	n.recent[hash] = n.now()
	n.mu.Unlock()
}
