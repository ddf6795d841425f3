package cli

import (
	"github.com/spf13/cobra"

	"github.com/selcan/mira/internal/config"
	"github.com/selcan/mira/pkg/toolexec"
)

var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "Inspect the tool permission policy",
}

var permissionsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active permission policy",
	RunE:  runPermissionsShow,
}

func init() {
	permissionsCmd.AddCommand(permissionsShowCmd)
	rootCmd.AddCommand(permissionsCmd)
}

func runPermissionsShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	perms, err := toolexec.LoadPermissions(cfg.Tools.PermissionsFile)
	if err != nil {
		return err
	}

	cmd.Printf("Policy file: %s\n", perms.FilePath())
	printPolicyList(cmd, "Allowed paths (beyond the workspace)", perms.AllowPaths)
	printPolicyList(cmd, "Allowed commands", perms.AllowCommands)
	printPolicyList(cmd, "Confirmation required", perms.RequireConfirmationFor)
	printPolicyList(cmd, "Denied tools", perms.DenyTools)
	return nil
}

func printPolicyList(cmd *cobra.Command, title string, entries []string) {
	cmd.Printf("\n%s:\n", title)
	if len(entries) == 0 {
		cmd.Println("  (none)")
		return
	}
	for _, entry := range entries {
		cmd.Printf("  - %s\n", entry)
	}
}
