// Package schedule fires agent runs from cron expressions.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Entry is one configured trigger.
type Entry struct {
	Name    string `json:"name" mapstructure:"name"`
	Cron    string `json:"cron" mapstructure:"cron"`
	Prompt  string `json:"prompt" mapstructure:"prompt"`
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
}

// Handler is called when an entry fires.
type Handler func(ctx context.Context, e Entry) error

// JobStatus is the runtime state of one entry.
type JobStatus struct {
	Name       string    `json:"name"`
	Cron       string    `json:"cron"`
	NextRunAt  time.Time `json:"next_run_at"`
	LastRunAt  time.Time `json:"last_run_at,omitzero"`
	LastStatus string    `json:"last_status,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

type job struct {
	entry Entry
	state JobStatus
}

// Service polls enabled entries and runs the due ones.
type Service struct {
	jobs    []*job
	handler Handler
	now     func() time.Time
	period  time.Duration

	mu       sync.RWMutex
	stopChan chan struct{}
	stopped  chan struct{}
	running  bool
}

// NewService validates entries. Disabled entries are ignored.
func NewService(entries []Entry, handler Handler) (*Service, error) {
	s := &Service{handler: handler, now: time.Now, period: time.Second}
	g := gronx.New()
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !e.Enabled {
			continue
		}
		e.Name = strings.TrimSpace(e.Name)
		e.Cron = strings.TrimSpace(e.Cron)
		if e.Name == "" {
			return nil, fmt.Errorf("schedule entry is missing a name")
		}
		if _, dup := seen[e.Name]; dup {
			return nil, fmt.Errorf("duplicate schedule %q", e.Name)
		}
		seen[e.Name] = struct{}{}
		if !g.IsValid(e.Cron) {
			return nil, fmt.Errorf("schedule %q: invalid cron expression %q", e.Name, e.Cron)
		}
		if strings.TrimSpace(e.Prompt) == "" {
			return nil, fmt.Errorf("schedule %q: prompt is required", e.Name)
		}
		s.jobs = append(s.jobs, &job{entry: e, state: JobStatus{Name: e.Name, Cron: e.Cron}})
	}
	return s, nil
}

// Len reports how many entries are scheduled.
func (s *Service) Len() int {
	return len(s.jobs)
}

// Start computes first run times and begins the polling loop. Runs use ctx.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("schedule service already running")
	}

	now := s.now()
	for _, j := range s.jobs {
		s.computeNextRun(j, now)
	}

	s.stopChan = make(chan struct{})
	s.stopped = make(chan struct{})
	s.running = true
	go s.loop(ctx)

	slog.Info("schedule service started", "jobs", len(s.jobs))
	return nil
}

// Stop shuts down the polling loop and waits for a running job to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	<-s.stopped
	slog.Info("schedule service stopped")
}

// Status returns a snapshot of every entry.
func (s *Service) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JobStatus, len(s.jobs))
	for i, j := range s.jobs {
		out[i] = j.state
	}
	return out
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.stopped)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if j.state.NextRunAt.IsZero() || j.state.NextRunAt.After(now) {
			continue
		}
		// Clear to prevent re-firing while the job runs.
		j.state.NextRunAt = time.Time{}
		due = append(due, j)
	}
	s.mu.Unlock()

	for _, j := range due {
		s.executeJob(ctx, j)
	}
}

func (s *Service) executeJob(ctx context.Context, j *job) {
	slog.Info("schedule: firing", "name", j.entry.Name)

	var execErr error
	if s.handler != nil {
		execErr = s.handler(ctx, j.entry)
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	j.state.LastRunAt = now
	if execErr != nil {
		j.state.LastStatus = "error"
		j.state.LastError = execErr.Error()
		slog.Error("schedule: run failed", "name", j.entry.Name, "error", execErr)
	} else {
		j.state.LastStatus = "ok"
		j.state.LastError = ""
	}
	s.computeNextRun(j, now)
}

func (s *Service) computeNextRun(j *job, now time.Time) {
	next, err := gronx.NextTickAfter(j.entry.Cron, now, false)
	if err != nil {
		slog.Warn("schedule: failed to compute next run", "name", j.entry.Name, "cron", j.entry.Cron, "error", err)
		return
	}
	j.state.NextRunAt = next
}
