package playbook

import (
	"github.com/Rajchodisetti/spx0dte/internal/decision"
	"github.com/Rajchodisetti/spx0dte/internal/strategy"
)

const readyReason = "READY TO TRADE"

// Card is one strategy's dashboard tile and entry-alert source.
type Card struct {
	Kind      strategy.Kind       `json:"strategy"`
	Ready     bool                `json:"ready"`
	Reason    string              `json:"reason"`
	Blocked   string              `json:"blocked_reason,omitempty"`
	Candidate *strategy.Candidate `json:"candidate"`

	Width   *int     `json:"width"`
	Credit  *float64 `json:"credit"`
	MaxRisk *float64 `json:"max_risk"`
	PopPct  *float64 `json:"pop_pct"`
	Legs    string   `json:"legs,omitempty"`

	Global    decision.Checklist `json:"global"`
	Regime    decision.Checklist `json:"regime"`
	Strategy  decision.Checklist `json:"strategy_rows"`
	Generator decision.Checklist `json:"generator"`
}

// Checklist is every row in display order.
func (c Card) Checklist() decision.Checklist {
	return decision.Concat(c.Global, c.Regime, c.Strategy)
}

// Evaluate layers the playbook rows over a generator result.
func Evaluate(ev strategy.Evaluation, ctx Context) Card {
	c := ev.Candidate
	card := Card{
		Kind:      ev.Kind,
		Candidate: c,
		Global:    GlobalRows(ev.Kind, c, ctx),
		Regime:    RegimeRows(ev.Kind, c, ctx),
		Strategy:  StrategyRows(ev.Kind, c, ctx),
		Generator: ev.Checklist,
	}

	all := card.Checklist()
	card.Ready = c != nil && all.Ready()
	if !card.Ready {
		card.Blocked = all.BlockedReason()
		if card.Blocked == "" {
			card.Blocked = "Checklist incomplete."
		}
	}

	switch {
	case card.Ready:
		card.Reason = readyReason
	case card.Blocked != "":
		card.Reason = card.Blocked
	case len(ev.Reasons) > 0:
		card.Reason = ev.Reasons[0]
	default:
		card.Reason = "Blocked"
	}
	if card.Ready && (ev.Kind == strategy.KindDirectional || ev.Kind == strategy.KindConvex) {
		card.Reason = c.SpreadType.Title()
	}

	if c != nil {
		if c.Width != nil {
			w := int(*c.Width)
			card.Width = &w
		}
		premium, maxRisk := c.Premium(), c.MaxLossPoints
		card.Credit, card.MaxRisk = &premium, &maxRisk
		if c.PopDelta > 0 {
			pop := c.PopDelta
			card.PopPct = &pop
		}
		card.Legs = strategy.FormatLegs(c.Legs)
	}
	return card
}

// Board is the full playbook view for one tick.
type Board struct {
	Overview decision.Checklist `json:"overview"`
	Cards    []Card             `json:"cards"`
}

// Build evaluates every generator result in order.
func Build(evals []strategy.Evaluation, ctx Context) Board {
	b := Board{Overview: Overview(ctx), Cards: make([]Card, 0, len(evals))}
	for _, ev := range evals {
		b.Cards = append(b.Cards, Evaluate(ev, ctx))
	}
	return b
}

// Card returns the card for kind.
func (b Board) Card(kind strategy.Kind) (Card, bool) {
	for _, c := range b.Cards {
		if c.Kind == kind {
			return c, true
		}
	}
	return Card{}, false
}
