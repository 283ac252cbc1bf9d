package market

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Right is the option side.
type Right string

const (
	Put  Right = "PUT"
	Call Right = "CALL"
)

// ParseRight accepts P/PUT/C/CALL in any case.
func ParseRight(s string) (Right, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "P", "PUT":
		return Put, nil
	case "C", "CALL":
		return Call, nil
	}
	return "", fmt.Errorf("unknown option right %q", s)
}

// UnmarshalJSON keeps an unrecognised right as its raw upper-cased text so
// ValidateQuote can drop the one quote instead of failing the whole document.
func (r *Right) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*r = Right(strings.ToUpper(strings.Trim(string(b), `"`)))
		return nil
	}
	parsed, err := ParseRight(s)
	if err != nil {
		parsed = Right(strings.ToUpper(strings.TrimSpace(s)))
	}
	*r = parsed
	return nil
}

// OptionQuote is one contract of a chain slice. Nil fields were not delivered by the feed.
type OptionQuote struct {
	Right      Right    `json:"right"`
	Strike     float64  `json:"strike"`
	Expiration string   `json:"expiration,omitempty"` // YYYY-MM-DD
	Bid        *float64 `json:"bid,omitempty"`
	Ask        *float64 `json:"ask,omitempty"`
	Mid        *float64 `json:"mid,omitempty"`
	Delta      *float64 `json:"delta,omitempty"`
	Gamma      *float64 `json:"gamma,omitempty"`
	Theta      *float64 `json:"theta,omitempty"`
	Vega       *float64 `json:"vega,omitempty"`
	IV         *float64 `json:"iv,omitempty"`
	Symbol     string   `json:"symbol"` // stable contract identifier
}

// Float returns a pointer to v, for building partial quotes.
func Float(v float64) *float64 {
	return &v
}

// Value dereferences a nullable float, reporting presence.
func Value(p *float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}

// NormalizeQuote fills a missing mid from a two-sided book and drops invalid mids.
func NormalizeQuote(q OptionQuote) OptionQuote {
	q.Symbol = strings.TrimSpace(q.Symbol)
	if q.Mid != nil && (*q.Mid < 0 || math.IsNaN(*q.Mid)) {
		q.Mid = nil
	}
	if q.Mid == nil && q.Bid != nil && q.Ask != nil && *q.Bid >= 0 && *q.Ask >= *q.Bid {
		q.Mid = Float((*q.Bid + *q.Ask) / 2)
	}
	return q
}

// SpreadRatio returns (ask-bid)/mid, or +Inf when the book is one-sided, crossed or has no mid.
func (q OptionQuote) SpreadRatio() float64 {
	if q.Bid == nil || q.Ask == nil || q.Mid == nil || *q.Mid == 0 {
		return math.Inf(1)
	}
	spread := *q.Ask - *q.Bid
	if spread < 0 {
		return math.Inf(1)
	}
	return spread / *q.Mid
}

// HasGreeks reports whether delta, gamma, theta and vega are all present.
func (q OptionQuote) HasGreeks() bool {
	return q.Delta != nil && q.Gamma != nil && q.Theta != nil && q.Vega != nil
}

// ValidateQuote rejects quotes the generators cannot reason about.
func ValidateQuote(q OptionQuote) error {
	if q.Right != Put && q.Right != Call {
		return fmt.Errorf("invalid right %q", q.Right)
	}
	if q.Strike <= 0 || math.IsNaN(q.Strike) {
		return fmt.Errorf("invalid strike %.4f", q.Strike)
	}
	if q.Bid != nil && q.Ask != nil && *q.Ask < *q.Bid {
		return fmt.Errorf("crossed book: ask(%.4f) < bid(%.4f)", *q.Ask, *q.Bid)
	}
	return nil
}

// StrikeKey rounds to 4dp so float strikes from different feeds compare equal.
func StrikeKey(strike float64) float64 {
	return math.Round(strike*10000) / 10000
}

type strikeKey struct {
	right  Right
	strike float64
}

type expiryKey struct {
	right      Right
	strike     float64
	expiration string
}

// Index looks up chain contracts by (right, strike), (right, strike, expiry) or symbol.
// On duplicates the later quote wins.
type Index struct {
	byStrike map[strikeKey]OptionQuote
	byExpiry map[expiryKey]OptionQuote
	bySymbol map[string]OptionQuote
}

func NewIndex(options []OptionQuote) *Index {
	ix := &Index{
		byStrike: make(map[strikeKey]OptionQuote, len(options)),
		byExpiry: make(map[expiryKey]OptionQuote, len(options)),
		bySymbol: make(map[string]OptionQuote, len(options)),
	}
	for _, o := range options {
		k := StrikeKey(o.Strike)
		ix.byStrike[strikeKey{o.Right, k}] = o
		ix.byExpiry[expiryKey{o.Right, k, o.Expiration}] = o
		if o.Symbol != "" {
			ix.bySymbol[o.Symbol] = o
		}
	}
	return ix
}

func (ix *Index) Get(right Right, strike float64) (OptionQuote, bool) {
	o, ok := ix.byStrike[strikeKey{right, StrikeKey(strike)}]
	return o, ok
}

func (ix *Index) GetExpiry(right Right, strike float64, expiration string) (OptionQuote, bool) {
	o, ok := ix.byExpiry[expiryKey{right, StrikeKey(strike), expiration}]
	return o, ok
}

func (ix *Index) Symbol(symbol string) (OptionQuote, bool) {
	o, ok := ix.bySymbol[symbol]
	return o, ok
}
