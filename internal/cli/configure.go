package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/selcan/mira/internal/config"
	"github.com/selcan/mira/internal/observability"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Run the interactive configuration wizard",
	Long: `Walk through API keys, gateway access and model defaults, then write
the result to the config file.`,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewWizard().Run()
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	loader := config.NewLoader(cfgFile)
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	recordConfigSaved(cmd, cfg.DataDir, loader.GetConfigPath())

	cmd.Printf("Configuration saved to: %s\n", loader.GetConfigPath())
	cmd.Println()
	cmd.Println("You can now talk to Mira:")
	cmd.Println("  mira ask \"what can you do?\"")
	cmd.Println("  mira chat")
	return nil
}

// recordConfigSaved leaves an audit entry for the rewrite. The trail
// lives in the data directory, which may not exist on a first run.
func recordConfigSaved(cmd *cobra.Command, dataDir, cfgPath string) {
	if dataDir == "" {
		return
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return
	}
	if err := observability.OpenAuditLog(filepath.Join(dataDir, "audit.log")); err != nil {
		return
	}
	observability.RecordConfigAudit(cmd.Context(), "config_saved", "cli", map[string]interface{}{
		"path": cfgPath,
	})
	_ = observability.CloseAuditLog()
}
