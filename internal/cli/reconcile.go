package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/minerva-erp/glcore/internal/ledger"
	"github.com/minerva-erp/glcore/internal/service/recon"
)

func newReconcileCommand(configDir *string) *cobra.Command {
	var (
		bankAccount  string
		fromRaw      string
		toRaw        string
		stmtRaw      string
		openingMinor int64
		closingMinor int64
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run bank reconciliation for a statement period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(bankAccount)
			if err != nil {
				return fmt.Errorf("invalid --bank-account: %w", err)
			}
			from, err := parseDate(fromRaw)
			if err != nil {
				return err
			}
			to, err := parseDate(toRaw)
			if err != nil {
				return err
			}
			var stmtDate time.Time
			if stmtRaw != "" {
				if stmtDate, err = parseDate(stmtRaw); err != nil {
					return err
				}
			}

			e, err := openEnv(cmd.Context(), *configDir)
			if err != nil {
				return err
			}
			defer e.close()

			rec, err := e.recon.Reconcile(cmd.Context(), recon.RunRequest{
				BankAccountID: id,
				PeriodStart:   from,
				PeriodEnd:     to,
				StatementDate: stmtDate,
				OpeningMinor:  openingMinor,
				ClosingMinor:  closingMinor,
			})
			if err != nil {
				return err
			}

			counts := map[ledger.ReconStatus]int{}
			for _, it := range rec.Items {
				counts[it.Status]++
			}
			fmt.Printf("reconciliation %s (%s to %s)\n", rec.ID,
				rec.PeriodStart.Format(time.DateOnly), rec.PeriodEnd.Format(time.DateOnly))
			fmt.Printf("items %d: auto %d, review %d, ambiguous %d, unmatched %d, confirmed %d, rejected %d\n",
				len(rec.Items),
				counts[ledger.ReconAuto], counts[ledger.ReconReview], counts[ledger.ReconAmbiguous],
				counts[ledger.ReconUnmatched], counts[ledger.ReconConfirmed], counts[ledger.ReconRejected])
			for _, it := range rec.Items {
				if it.Status == ledger.ReconAuto || it.Status == ledger.ReconConfirmed {
					continue
				}
				fmt.Printf("  %s  %-9s  confidence %.2f  txn %s\n",
					it.ID, it.Status, it.Confidence, it.TransactionID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&bankAccount, "bank-account", "", "bank account id to reconcile (required)")
	_ = cmd.MarkFlagRequired("bank-account")
	cmd.Flags().StringVar(&fromRaw, "from", "", "period start (required)")
	_ = cmd.MarkFlagRequired("from")
	cmd.Flags().StringVar(&toRaw, "to", "", "period end (required)")
	_ = cmd.MarkFlagRequired("to")
	cmd.Flags().StringVar(&stmtRaw, "statement-date", "", "statement date (defaults to period end)")
	cmd.Flags().Int64Var(&openingMinor, "opening", 0, "statement opening balance in minor units")
	cmd.Flags().Int64Var(&closingMinor, "closing", 0, "statement closing balance in minor units")
	return cmd
}
