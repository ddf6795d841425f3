package cli

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

// Values for the global flags, shared by every subcommand
var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "mira",
	Short: "Mira - personal assistant for your terminal",
	Long: `Mira is a personal assistant that lives in your terminal.
It routes plain requests straight to tools, asks a model when it has to,
and runs every tool call through a permission-gated executor.`,
	Version: version,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mira/mira.json)")
	pf.StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.SetVersionTemplate("{{.Name}} version {{.Version}}\n")
}

// Execute runs the CLI. main calls this once.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
