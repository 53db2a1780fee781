// Package cli implements the glctl operator commands. Every command loads
// the same configuration as the server and runs against the configured
// store directly, without going through the HTTP API.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand builds the glctl command tree.
func NewRootCommand() *cobra.Command {
	var configDir string

	root := &cobra.Command{
		Use:          "glctl",
		Short:        "Operate the general ledger engine",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.PersistentFlags().StringVar(&configDir, "config", "", "directory containing glcore.yaml")

	root.AddCommand(
		newSeedCommand(&configDir),
		newVerifyCommand(&configDir),
		newTrialBalanceCommand(&configDir),
		newImportCommand(&configDir),
		newReconcileCommand(&configDir),
	)
	return root
}
