package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MEKXH/opsdesk/internal/config"
)

func noopClose() error { return nil }

// configureLogger installs the default slog handler and returns a func that
// releases the log file. Interactive chat discards logs unless log.file is
// set, so slog output does not interleave with the conversation.
func configureLogger(cfg *config.Config, overrideLevel string, interactive bool) (func() error, error) {
	level, err := parseLogLevel(cfg.Log.Level, overrideLevel)
	if err != nil {
		return noopClose, err
	}

	out, closeFn, err := logOutput(strings.TrimSpace(cfg.Log.File), interactive)
	if err != nil {
		return noopClose, err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
	return closeFn, nil
}

func logOutput(path string, interactive bool) (io.Writer, func() error, error) {
	switch {
	case path != "":
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return f, f.Close, nil
	case interactive:
		return io.Discard, noopClose, nil
	default:
		return os.Stderr, noopClose, nil
	}
}

func parseLogLevel(configLevel, override string) (slog.Level, error) {
	raw := strings.TrimSpace(override)
	if raw == "" {
		raw = strings.TrimSpace(configLevel)
	}
	if raw == "" {
		return slog.LevelInfo, nil
	}
	if strings.EqualFold(raw, "warning") {
		return slog.LevelWarn, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("invalid log level: %s", raw)
	}
	return level, nil
}
