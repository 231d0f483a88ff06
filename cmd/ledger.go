package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/scholarsync/internal/config"
	"github.com/xkilldash9x/scholarsync/internal/ledger"
)

func newLedgerCmd() *cobra.Command {
	var showKeys bool

	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show how many records were already processed",
		Long: `ledger reads the ledger of processed records without locking it, so it can
be used while a sync is running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Get().Batch.LedgerPath
			entries, err := ledger.ReadEntries(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d processed record(s)\n", path, len(entries))
			if showKeys {
				for _, e := range entries {
					fmt.Fprintln(out, e.Key)
				}
			}
			return nil
		},
	}

	ledgerCmd.Flags().String("ledger", "", "ledger of processed records")
	ledgerCmd.Flags().BoolVar(&showKeys, "keys", false, "list the processed keys")
	return ledgerCmd
}
