package policy

import "testing"

func TestEvaluate_StrictRequiresApprovalForConfiguredTool(t *testing.T) {
	ev := NewEvaluator(Config{Mode: ModeStrict, RequireApproval: []string{"send_sms"}})
	d := ev.Evaluate(Input{ToolName: "send_sms"})

	if d.Action != ActionRequireApproval {
		t.Fatalf("expected %q, got %q", ActionRequireApproval, d.Action)
	}
}

func TestEvaluate_StrictAllowsToolNotInRequireApprovalList(t *testing.T) {
	ev := NewEvaluator(Config{Mode: ModeStrict, RequireApproval: []string{"send_sms"}})
	d := ev.Evaluate(Input{ToolName: "lookup_contact"})

	if d.Action != ActionAllow {
		t.Fatalf("expected %q, got %q", ActionAllow, d.Action)
	}
}

func TestEvaluate_EmptyModeDefaultsToStrict(t *testing.T) {
	ev := NewEvaluator(Config{RequireApproval: DefaultRequireApproval})
	if ev.Mode() != ModeStrict {
		t.Fatalf("expected strict mode, got %q", ev.Mode())
	}
	if d := ev.Evaluate(Input{ToolName: "send_email"}); d.Action != ActionRequireApproval {
		t.Fatalf("expected %q, got %q", ActionRequireApproval, d.Action)
	}
}

func TestEvaluate_DenyWinsOverApproval(t *testing.T) {
	ev := NewEvaluator(Config{Mode: ModeStrict, RequireApproval: []string{"send_sms"}, Deny: []string{"send_sms"}})
	d := ev.Evaluate(Input{ToolName: "send_sms"})

	if d.Action != ActionDeny {
		t.Fatalf("expected %q, got %q", ActionDeny, d.Action)
	}
}

func TestEvaluate_RelaxedAllowsByDefault(t *testing.T) {
	ev := NewEvaluator(Config{Mode: ModeRelaxed, RequireApproval: []string{"send_sms"}, Deny: []string{"send_email"}})

	if d := ev.Evaluate(Input{ToolName: "send_sms"}); d.Action != ActionAllow {
		t.Fatalf("expected %q, got %q", ActionAllow, d.Action)
	}
	if d := ev.Evaluate(Input{ToolName: "send_email"}); d.Action != ActionDeny {
		t.Fatalf("expected relaxed mode to honor deny list, got %q", d.Action)
	}
}

func TestEvaluate_OffAllowsAll(t *testing.T) {
	ev := NewEvaluator(Config{Mode: ModeOff, RequireApproval: []string{"send_sms"}, Deny: []string{"send_sms"}})
	d := ev.Evaluate(Input{ToolName: "send_sms"})

	if d.Action != ActionAllow {
		t.Fatalf("expected %q, got %q", ActionAllow, d.Action)
	}
}

func TestEvaluate_UnknownModeDenies(t *testing.T) {
	ev := NewEvaluator(Config{Mode: "unknown"})
	d := ev.Evaluate(Input{ToolName: "send_sms"})

	if d.Action != ActionDeny {
		t.Fatalf("expected %q, got %q", ActionDeny, d.Action)
	}
}

func TestEvaluate_NamesAreNormalized(t *testing.T) {
	ev := NewEvaluator(Config{Mode: " STRICT ", RequireApproval: []string{"  SEND_SMS  "}})
	d := ev.Evaluate(Input{ToolName: "  Send_Sms "})

	if d.Action != ActionRequireApproval {
		t.Fatalf("expected %q, got %q", ActionRequireApproval, d.Action)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeStrict, false},
		{" Relaxed ", ModeRelaxed, false},
		{"off", ModeOff, false},
		{"lenient", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseMode(%q)=%q want %q", tt.in, got, tt.want)
		}
	}
}

func TestEvaluate_DenyReasonNamesTool(t *testing.T) {
	ev := NewEvaluator(Config{Mode: ModeRelaxed, Deny: []string{"send_email"}})
	d := ev.Evaluate(Input{ToolName: "send_email"})
	if d.Reason != "send_email is disabled by policy" {
		t.Fatalf("unexpected reason: %q", d.Reason)
	}
}
