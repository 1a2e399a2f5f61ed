package cmd

import (
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Lists recent sync runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := store.ListRuns(cmd.Context(), limit)
		if err != nil {
			return err
		}
		return writeOutput(cmd, cmd.OutOrStdout(), runs)
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	addFormatFlag(runsCmd)
	runsCmd.Flags().IntP("limit", "n", 20, "Number of runs to show; 0 shows all")
}
