package decision

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	StatusNA   Status = "na"
)

// GateResult is one named rule check. Required gates decide readiness; the rest are for display.
type GateResult struct {
	Name     string `json:"name"`
	Status   Status `json:"status"`
	Detail   string `json:"detail"`
	Required bool   `json:"required"`
}

func Pass(name, detail string) GateResult {
	return GateResult{Name: name, Status: StatusPass, Detail: detail, Required: true}
}

func Fail(name, detail string) GateResult {
	return GateResult{Name: name, Status: StatusFail, Detail: detail, Required: true}
}

// NA gates are never required.
func NA(name, detail string) GateResult {
	return GateResult{Name: name, Status: StatusNA, Detail: detail}
}

// Check is Pass or Fail depending on ok.
func Check(name string, ok bool, detail string) GateResult {
	if ok {
		return Pass(name, detail)
	}
	return Fail(name, detail)
}

// Checkf is Check with separate pass/fail details.
func Checkf(name string, ok bool, passDetail, failDetail string) GateResult {
	if ok {
		return Pass(name, passDetail)
	}
	return Fail(name, failDetail)
}

// Info marks a gate as informational.
func (g GateResult) Info() GateResult {
	g.Required = false
	return g
}

func (g GateResult) Passed() bool {
	return g.Status == StatusPass
}

func (g GateResult) String() string {
	return fmt.Sprintf("%s: %s", g.Name, g.Detail)
}

// Checklist is an ordered set of gates.
type Checklist []GateResult

// Ready reports whether every required gate passed.
func (c Checklist) Ready() bool {
	for _, g := range c {
		if g.Required && g.Status != StatusPass {
			return false
		}
	}
	return true
}

// FirstRequiredFail returns the first required gate that did not pass.
func (c Checklist) FirstRequiredFail() (GateResult, bool) {
	for _, g := range c {
		if g.Required && g.Status != StatusPass {
			return g, true
		}
	}
	return GateResult{}, false
}

// BlockedReason is "name: detail" of the first required failure, empty when ready.
func (c Checklist) BlockedReason() string {
	if g, ok := c.FirstRequiredFail(); ok {
		return g.String()
	}
	return ""
}

func (c Checklist) Find(name string) (GateResult, bool) {
	for _, g := range c {
		if g.Name == name {
			return g, true
		}
	}
	return GateResult{}, false
}

// Concat joins checklists in order.
func Concat(lists ...Checklist) Checklist {
	var n int
	for _, l := range lists {
		n += len(l)
	}
	out := make(Checklist, 0, n)
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

// Summary renders the gates compactly for logs.
func (c Checklist) Summary() string {
	parts := make([]string, 0, len(c))
	for _, g := range c {
		parts = append(parts, fmt.Sprintf("%s=%s", g.Name, g.Status))
	}
	return strings.Join(parts, "; ")
}
