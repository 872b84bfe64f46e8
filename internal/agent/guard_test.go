package agent

import (
	"context"
	"testing"

	"github.com/MEKXH/opsdesk/internal/audit"
	"github.com/MEKXH/opsdesk/internal/policy"
	"github.com/MEKXH/opsdesk/internal/tools"
)

func TestPolicyGuard(t *testing.T) {
	writer := audit.NewWriter(t.TempDir())
	guard := NewPolicyGuard(policy.NewEvaluator(policy.Config{
		Mode:            policy.ModeStrict,
		RequireApproval: []string{"send_sms"},
		Deny:            []string{"send_email"},
	}), writer)

	cases := map[string]tools.GuardAction{
		"send_sms":       tools.GuardRequireApproval,
		"send_email":     tools.GuardDeny,
		"lookup_contact": tools.GuardAllow,
	}
	for name, want := range cases {
		res, err := guard(context.Background(), name, "{}")
		if err != nil {
			t.Fatalf("guard(%s) error: %v", name, err)
		}
		if res.Action != want {
			t.Fatalf("guard(%s) = %s, want %s", name, res.Action, want)
		}
	}

	events, err := writer.Recent(10)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(events) != 1 || events[0].Type != audit.TypePolicyDeny || events[0].Tool != "send_email" {
		t.Fatalf("expected one deny event, got %+v", events)
	}
}
