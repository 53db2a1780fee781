package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSeedCommand(configDir *string) *cobra.Command {
	var currency string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Install the starter chart of accounts and dimensions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), *configDir)
			if err != nil {
				return err
			}
			defer e.close()

			cur := currency
			if cur == "" {
				cur = e.cfg.Ledger.BaseCurrency
			}
			if err := e.directory.Seed(cmd.Context(), cur); err != nil {
				return err
			}
			fmt.Printf("seeded chart of accounts and dimensions (%s)\n", cur)
			return nil
		},
	}
	cmd.Flags().StringVar(&currency, "currency", "", "account currency (defaults to ledger.base_currency)")
	return cmd
}
