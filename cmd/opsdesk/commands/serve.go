package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MEKXH/opsdesk/internal/config"
	"github.com/MEKXH/opsdesk/internal/gateway"
	"github.com/MEKXH/opsdesk/internal/schedule"
	"github.com/spf13/cobra"
)

func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway and scheduled triggers",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := currentConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("conversation store close failed", "error", err)
		}
	}()

	schedules, err := schedule.NewService(scheduleEntries(cfg), schedule.GateHandler(a.gate, a.audit))
	if err != nil {
		return fmt.Errorf("invalid schedules: %w", err)
	}
	if err := schedules.Start(ctx); err != nil {
		return err
	}
	defer schedules.Stop()

	server := gateway.New(cfg.Gateway, gateway.Deps{
		Gate:      a.gate,
		Store:     a.store,
		Metrics:   a.metrics,
		Schedules: schedules,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway server failed: %w", err)
		}
	}()

	fmt.Printf("opsdesk running. Gateway: http://%s (schedules: %d)\nPress Ctrl+C to stop.\n", server.Addr(), schedules.Len())

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		slog.Error("server component failed", "error", runErr)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	slog.Info("shutting down")
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("gateway shutdown failed", "error", err)
	}
	return runErr
}

func scheduleEntries(cfg *config.Config) []schedule.Entry {
	out := make([]schedule.Entry, 0, len(cfg.Schedules))
	for _, s := range cfg.Schedules {
		out = append(out, schedule.Entry{Name: s.Name, Cron: s.Cron, Prompt: s.Prompt, Enabled: s.Enabled})
	}
	return out
}
