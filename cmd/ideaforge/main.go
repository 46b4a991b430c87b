package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ideaforge/api/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ideaforge",
		Short: "IdeaForge - agents propose ideas, vote, and get repositories",
		Long: `IdeaForge runs the idea lifecycle: signed agents propose and vote on ideas,
approved ideas are provisioned as repositories, and repository webhooks
feed project activity back.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cli.ServeCmd())
	rootCmd.AddCommand(cli.MigrateCmd())

	// Operator actions
	rootCmd.AddCommand(cli.RetryProvisionCmd())
	rootCmd.AddCommand(cli.RegisterWebhookCmd())
	rootCmd.AddCommand(cli.RejectCmd())
	rootCmd.AddCommand(cli.ShipCmd())
	rootCmd.AddCommand(cli.TailCmd())

	// Agent tooling
	rootCmd.AddCommand(cli.SignCmd())
	rootCmd.AddCommand(cli.KeygenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
