package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MEKXH/opsdesk/internal/config"
	"github.com/spf13/cobra"
)

func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize opsdesk configuration",
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := config.ConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists: %s\n", configPath)
		return nil
	}

	cfg := config.DefaultConfig()
	workspace := cfg.WorkspacePath()

	dirs := []string{
		config.ConfigDir(),
		workspace,
		filepath.Join(workspace, "state"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	envPath := filepath.Join(config.ConfigDir(), ".env.example")
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		example := "# Copy next to where you run opsdesk as .env\n" +
			"OPSDESK_PROVIDERS_CLAUDE_API_KEY=\n" +
			"OPSDESK_PROVIDERS_OPENAI_API_KEY=\n" +
			"OPSDESK_GATEWAY_TOKEN=\n" +
			"OPSDESK_OWNER=\n"
		_ = os.WriteFile(envPath, []byte(example), 0600)
	}

	fmt.Printf("opsdesk initialized!\n")
	fmt.Printf("Config: %s\n", configPath)
	fmt.Printf("Workspace: %s\n", workspace)
	fmt.Printf("\nNext steps:\n")
	fmt.Printf("1. Edit %s to add a provider API key\n", configPath)
	fmt.Printf("2. Run 'opsdesk chat' to start, or 'opsdesk serve' for the HTTP gateway\n")

	return nil
}
