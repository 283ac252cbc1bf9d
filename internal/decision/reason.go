package decision

import "encoding/json"

// Reason is the JSON explanation attached to a readiness decision.
type Reason struct {
	Strategy        string   `json:"strategy"`
	Ready           bool     `json:"ready"`
	GatesPassed     []string `json:"gates_passed"`
	GatesBlocked    []string `json:"gates_blocked"`
	Informational   []string `json:"informational,omitempty"`
	WhatWouldChange string   `json:"what_would_change_it,omitempty"`
}

// NewReason splits a checklist into passed/blocked gate names.
func NewReason(strategy string, c Checklist) Reason {
	r := Reason{Strategy: strategy, Ready: c.Ready(), GatesPassed: []string{}, GatesBlocked: []string{}}
	for _, g := range c {
		switch {
		case !g.Required:
			if g.Status != StatusPass {
				r.Informational = append(r.Informational, g.Name)
			}
		case g.Status == StatusPass:
			r.GatesPassed = append(r.GatesPassed, g.Name)
		default:
			r.GatesBlocked = append(r.GatesBlocked, g.Name)
		}
	}
	if first, ok := c.FirstRequiredFail(); ok {
		r.WhatWouldChange = first.String()
	}
	return r
}

func (r Reason) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(b)
}
