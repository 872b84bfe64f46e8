package commands

import (
	"os"
	"strings"

	"github.com/MEKXH/opsdesk/internal/config"
	"github.com/spf13/cobra"
)

var (
	logLevelOverride string
	ownerFlag        string
)

var (
	// loadedConfig is set by the root pre-run for every command but init.
	loadedConfig *config.Config
	closeLog     = noopClose
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "opsdesk",
		Short:         "opsdesk - business operations assistant with human approval",
		Long:          `opsdesk runs an AI assistant for small-business operations. Side-effecting actions such as texts, emails and calendar changes wait for a human decision.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if cmd.Name() != "init" && cmd.Name() != "version" {
				loaded, err := config.Load()
				if err != nil {
					return err
				}
				cfg, loadedConfig = loaded, loaded
			}
			fn, err := configureLogger(cfg, logLevelOverride, cmd.Name() == "chat")
			closeLog = fn
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return closeLog()
		},
	}

	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&ownerFlag, "owner", "", "Owner id for conversations (default $OPSDESK_OWNER or \"local\")")

	cmd.AddCommand(
		NewInitCmd(),
		NewServeCmd(),
		NewChatCmd(),
		NewApprovalCmd(),
		NewConversationsCmd(),
		NewStatusCmd(),
		NewVersionCmd(),
	)

	return cmd
}

func currentConfig() (*config.Config, error) {
	if loadedConfig != nil {
		return loadedConfig, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	loadedConfig = cfg
	return cfg, nil
}

func ownerID() string {
	if o := strings.TrimSpace(ownerFlag); o != "" {
		return o
	}
	if o := strings.TrimSpace(os.Getenv("OPSDESK_OWNER")); o != "" {
		return o
	}
	return "local"
}
