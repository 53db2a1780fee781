package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/minerva-erp/glcore/internal/ledger"
	"github.com/minerva-erp/glcore/internal/service/aggregate"
)

func newTrialBalanceCommand(configDir *string) *cobra.Command {
	var (
		asOfRaw  string
		mode     string
		source   string
		accounts []string
	)

	cmd := &cobra.Command{
		Use:   "trial-balance",
		Short: "Print the trial balance as of a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), *configDir)
			if err != nil {
				return err
			}
			defer e.close()

			asOf := time.Now().UTC()
			if asOfRaw != "" {
				if asOf, err = parseDate(asOfRaw); err != nil {
					return err
				}
			}

			filter := aggregate.Filter{
				Mode:   aggregate.Mode(mode),
				Source: ledger.EntrySource(source),
			}
			for _, code := range accounts {
				a, err := e.directory.GetAccountByCode(cmd.Context(), code)
				if err != nil {
					return fmt.Errorf("account %q: %w", code, err)
				}
				filter.AccountIDs = append(filter.AccountIDs, a.ID)
			}

			tb, err := e.aggregate.TrialBalance(cmd.Context(), asOf, filter)
			if err != nil {
				return err
			}

			fmt.Printf("trial balance as of %s (%s)\n\n", tb.AsOf.Format(time.DateOnly), tb.Mode)
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tNAME\tDEBIT\tCREDIT")
			for _, row := range tb.Rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					row.Account.Code, row.Account.Name,
					formatMinor(row.Account.Currency, row.DebitMinor),
					formatMinor(row.Account.Currency, row.CreditMinor))
			}
			for _, currency := range sortedKeys(tb.Totals) {
				t := tb.Totals[currency]
				fmt.Fprintf(w, "\tTOTAL %s\t%s\t%s\n",
					currency, formatMinor(currency, t.DebitMinor), formatMinor(currency, t.CreditMinor))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if !tb.Balanced {
				fmt.Println("\nWARNING: columns do not balance")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&asOfRaw, "as-of", "", "report date (defaults to today)")
	cmd.Flags().StringVar(&mode, "mode", "", "live or materialized")
	cmd.Flags().StringVar(&source, "source", "", "restrict to one entry source")
	cmd.Flags().StringArrayVar(&accounts, "account", nil, "restrict to an account code (repeatable)")
	return cmd
}
