package cli

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

func newVerifyCommand(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Run the full ledger integrity check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), *configDir)
			if err != nil {
				return err
			}
			defer e.close()

			rep, err := e.aggregate.VerifyIntegrity(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("checked at         %s\n", rep.CheckedAt.Format(time.RFC3339))
			fmt.Printf("last entry number  %d\n", rep.LastNumber)
			for _, currency := range sortedKeys(rep.TotalsByCurrency) {
				t := rep.TotalsByCurrency[currency]
				fmt.Printf("totals %s          debit %s  credit %s\n",
					currency, formatMinor(currency, t.DebitMinor), formatMinor(currency, t.CreditMinor))
			}
			for _, d := range rep.Drift {
				fmt.Printf("drift %s: live %d/%d materialized %d/%d\n",
					d.Code, d.LiveDebitMinor, d.LiveCreditMinor, d.MatDebitMinor, d.MatCreditMinor)
			}
			if len(rep.SequenceGaps) > 0 {
				fmt.Printf("sequence gaps      %v\n", rep.SequenceGaps)
			}

			if !rep.Balanced || len(rep.Drift) > 0 || len(rep.SequenceGaps) > 0 {
				return errors.New("ledger integrity check failed")
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
