package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newImportCommand(configDir *string) *cobra.Command {
	var (
		bankAccount string
		format      string
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a bank statement file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(bankAccount)
			if err != nil {
				return fmt.Errorf("invalid --bank-account: %w", err)
			}

			e, err := openEnv(cmd.Context(), *configDir)
			if err != nil {
				return err
			}
			defer e.close()

			f := format
			if f == "" {
				f = e.cfg.Statements.Format
			}
			res, err := e.importer.ImportFile(cmd.Context(), id, f, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: parsed %d, imported %d, duplicates %d\n",
				res.File, res.Parsed, res.Imported, res.Duplicates)
			return nil
		},
	}
	cmd.Flags().StringVar(&bankAccount, "bank-account", "", "bank account id the statement belongs to (required)")
	_ = cmd.MarkFlagRequired("bank-account")
	cmd.Flags().StringVar(&format, "format", "", "statement format (defaults to statements.format)")
	return cmd
}
