// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/prstats/internal/config"
)

var (
	// v holds flags, environment and file settings; cfg is resolved from it
	// before any subcommand runs.
	v   = config.New()
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "prstats",
	Short: "A CLI tool to sync GitHub pull request activity and report on it.",
	Long: `prstats incrementally syncs pull requests, reviews and comments of GitHub
repositories into a local SQLite database, remembering which days have been
synced per repository, and computes activity metrics over any date window.
Reports warn when part of the window has not been synced yet.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		if err := config.LoadDotEnv(envFile); err != nil {
			return err
		}
		loaded, err := config.Load(v)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// Add a persistent flag for verbose output, available to all commands.
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose/debug logging")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("database", "", "Path to the SQLite database (default ~/.github-stats/stats.db)")
	rootCmd.PersistentFlags().String("env-file", ".env", "Environment file loaded before configuration")

	for _, name := range []string{"config", "database"} {
		if err := v.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", name, err))
		}
	}
}
