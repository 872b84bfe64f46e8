// Package gateway exposes the approval gate and the conversation store over
// HTTP.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MEKXH/opsdesk/internal/approval"
	"github.com/MEKXH/opsdesk/internal/config"
	"github.com/MEKXH/opsdesk/internal/conversation"
	"github.com/MEKXH/opsdesk/internal/metrics"
	"github.com/MEKXH/opsdesk/internal/schedule"
)

// Runner is the part of *approval.Gate the gateway drives.
type Runner interface {
	Run(ctx context.Context, req approval.RunRequest) (*approval.RunResult, error)
	Resume(ctx context.Context, req approval.ResumeRequest) (*approval.RunResult, error)
	AgentName() string
}

// StatusSource reports scheduled trigger state for /v1/status.
type StatusSource interface {
	Status() []schedule.JobStatus
}

// Deps are the services behind the routes. Metrics and Schedules are
// optional.
type Deps struct {
	Gate      Runner
	Store     conversation.Store
	Metrics   *metrics.RuntimeMetrics
	Schedules StatusSource
}

type Server struct {
	cfg        config.GatewayConfig
	deps       Deps
	httpServer *http.Server
}

func New(cfg config.GatewayConfig, deps Deps) *Server {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	if cfg.Port <= 0 {
		cfg.Port = 18790
	}
	cfg.Host = host
	return &Server{cfg: cfg, deps: deps}
}

func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Start blocks until the server stops. Shutdown makes it return nil.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           NewHandler(s.cfg.Token, s.deps),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	slog.Info("gateway listening", "addr", s.httpServer.Addr, "auth", strings.TrimSpace(s.cfg.Token) != "")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
