// Package policy decides, per tool call, whether the assistant may act
// alone, must wait for a human, or may not act at all.
package policy

import (
	"fmt"
	"slices"
	"strings"
)

type Action string

const (
	ActionAllow           Action = "allow"
	ActionDeny            Action = "deny"
	ActionRequireApproval Action = "require_approval"
)

// Mode selects how the approval and deny lists are applied.
//
//	strict   deny list refuses, approval list waits for a human
//	relaxed  only the deny list applies
//	off      everything runs
type Mode string

const (
	ModeStrict  Mode = "strict"
	ModeRelaxed Mode = "relaxed"
	ModeOff     Mode = "off"
)

var modes = []Mode{ModeStrict, ModeRelaxed, ModeOff}

// ParseMode normalizes s; empty means strict.
func ParseMode(s string) (Mode, error) {
	m := normalizeMode(Mode(s))
	if !slices.Contains(modes, m) {
		return "", fmt.Errorf("policy mode must be one of strict, relaxed, off; got %q", s)
	}
	return m, nil
}

// DefaultRequireApproval lists the business actions with side effects
// outside opsdesk.
var DefaultRequireApproval = []string{
	"send_sms",
	"send_email",
	"create_task",
	"create_calendar_event",
}

type Config struct {
	Mode            Mode
	RequireApproval []string
	Deny            []string
}

type Input struct {
	ToolName string
}

type Decision struct {
	Action Action
	Reason string
}

// Evaluator is immutable once built and safe for concurrent use.
type Evaluator struct {
	mode            Mode
	requireApproval map[string]struct{}
	deny            map[string]struct{}
}

func NewEvaluator(cfg Config) Evaluator {
	return Evaluator{
		mode:            normalizeMode(cfg.Mode),
		requireApproval: toolSet(cfg.RequireApproval),
		deny:            toolSet(cfg.Deny),
	}
}

func (e Evaluator) Mode() Mode {
	return e.mode
}

// Evaluate looks the tool up in the deny list first; deny wins over approval.
func (e Evaluator) Evaluate(input Input) Decision {
	name := normalizeToolName(input.ToolName)
	_, denied := e.deny[name]
	_, gated := e.requireApproval[name]

	switch e.mode {
	case ModeOff:
		return Decision{Action: ActionAllow}
	case ModeRelaxed, ModeStrict:
		if denied {
			return Decision{Action: ActionDeny, Reason: fmt.Sprintf("%s is disabled by policy", name)}
		}
		if gated && e.mode == ModeStrict {
			return Decision{Action: ActionRequireApproval, Reason: fmt.Sprintf("%s needs approval", name)}
		}
		return Decision{Action: ActionAllow}
	default:
		return Decision{Action: ActionDeny, Reason: fmt.Sprintf("unknown policy mode %q", e.mode)}
	}
}

func toolSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		if n := normalizeToolName(name); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

func normalizeMode(mode Mode) Mode {
	m := Mode(strings.ToLower(strings.TrimSpace(string(mode))))
	if m == "" {
		return ModeStrict
	}
	return m
}

func normalizeToolName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
