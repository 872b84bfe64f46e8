package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MEKXH/opsdesk/internal/config"
)

func TestInitCommand_CreatesConfigAndWorkspace(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("USERPROFILE", tmpDir)

	out := captureOutput(t, func() {
		if err := runInit(nil, nil); err != nil {
			t.Fatalf("runInit error: %v", err)
		}
	})
	if out == "" {
		t.Fatal("expected init output")
	}

	configPath := config.ConfigPath()
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("expected config file at %s: %v", configPath, err)
	}

	cfg := config.DefaultConfig()
	if _, err := os.Stat(filepath.Join(cfg.WorkspacePath(), "state")); err != nil {
		t.Fatalf("expected workspace state dir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(config.ConfigDir(), ".env.example")); err != nil {
		t.Fatalf("expected .env.example: %v", err)
	}

	second := captureOutput(t, func() {
		if err := runInit(nil, nil); err != nil {
			t.Fatalf("second runInit error: %v", err)
		}
	})
	if second == "" {
		t.Fatal("expected already-exists message")
	}
}
