package schedule

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MEKXH/opsdesk/internal/approval"
	"github.com/MEKXH/opsdesk/internal/audit"
)

func TestNewService_Validation(t *testing.T) {
	cases := []struct {
		name    string
		entries []Entry
		want    string
	}{
		{"invalid cron", []Entry{{Name: "a", Cron: "not a cron", Prompt: "x", Enabled: true}}, "invalid cron"},
		{"missing prompt", []Entry{{Name: "a", Cron: "0 9 * * *", Enabled: true}}, "prompt is required"},
		{"duplicate", []Entry{
			{Name: "a", Cron: "0 9 * * *", Prompt: "x", Enabled: true},
			{Name: "a", Cron: "0 10 * * *", Prompt: "y", Enabled: true},
		}, "duplicate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewService(tc.entries, nil)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestNewService_SkipsDisabled(t *testing.T) {
	s, err := NewService([]Entry{
		{Name: "a", Cron: "0 9 * * *", Prompt: "x", Enabled: true},
		{Name: "b", Cron: "garbage", Prompt: "y", Enabled: false},
	}, nil)
	if err != nil {
		t.Fatalf("NewService error: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 job, got %d", s.Len())
	}
}

func TestService_TickFiresDueJobsOnce(t *testing.T) {
	var fired []string
	s, err := NewService([]Entry{
		{Name: "morning", Cron: "0 9 * * *", Prompt: "summarize today's tasks", Enabled: true},
		{Name: "evening", Cron: "0 18 * * *", Prompt: "wrap up", Enabled: true},
	}, func(ctx context.Context, e Entry) error {
		fired = append(fired, e.Name)
		if e.Name == "evening" {
			return errors.New("model unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("NewService error: %v", err)
	}

	now := time.Date(2026, 3, 2, 8, 59, 30, 0, time.UTC)
	s.now = func() time.Time { return now }
	for _, j := range s.jobs {
		s.computeNextRun(j, now)
	}

	now = now.Add(time.Minute)
	s.tick(context.Background())
	s.tick(context.Background())
	if len(fired) != 1 || fired[0] != "morning" {
		t.Fatalf("expected morning to fire once, got %v", fired)
	}

	st := s.Status()
	if st[0].LastStatus != "ok" || !st[0].NextRunAt.Equal(time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected morning status: %+v", st[0])
	}

	now = time.Date(2026, 3, 2, 18, 0, 5, 0, time.UTC)
	s.tick(context.Background())
	st = s.Status()
	if st[1].LastStatus != "error" || st[1].LastError != "model unavailable" {
		t.Fatalf("unexpected evening status: %+v", st[1])
	}
}

func TestService_StartStop(t *testing.T) {
	s, err := NewService([]Entry{{Name: "a", Cron: "0 9 * * *", Prompt: "x", Enabled: true}}, nil)
	if err != nil {
		t.Fatalf("NewService error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}
	if s.Status()[0].NextRunAt.IsZero() {
		t.Fatal("expected next run to be computed")
	}
	s.Stop()
	s.Stop()
}

type fakeRunner struct {
	req approval.RunRequest
	err error
}

func (r *fakeRunner) Run(ctx context.Context, req approval.RunRequest) (*approval.RunResult, error) {
	r.req = req
	if r.err != nil {
		return nil, r.err
	}
	return &approval.RunResult{ConversationID: "c", Status: approval.StatusAwaitingApproval}, nil
}

func TestGateHandler(t *testing.T) {
	runner := &fakeRunner{}
	w := audit.NewWriter(t.TempDir())
	handler := GateHandler(runner, w)

	if err := handler(context.Background(), Entry{Name: "morning", Prompt: "summarize"}); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if runner.req.OwnerID != SystemOwner || runner.req.Prompt != "summarize" || runner.req.ConversationID != "" {
		t.Fatalf("unexpected run request: %+v", runner.req)
	}
	if runner.req.Metadata["schedule"] != "morning" || runner.req.RequestID == "" {
		t.Fatalf("unexpected metadata: %+v", runner.req)
	}

	events, err := w.Recent(10)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(events) != 1 || events[0].Type != audit.TypeScheduleFired || events[0].RequestID != runner.req.RequestID {
		t.Fatalf("unexpected audit events: %+v", events)
	}

	runner.err = errors.New("boom")
	if err := handler(context.Background(), Entry{Name: "morning", Prompt: "x"}); err == nil || !strings.Contains(err.Error(), "morning") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
