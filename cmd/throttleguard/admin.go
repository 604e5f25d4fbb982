package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rpzk/throttleguard/pkg/cli"
)

var adminFlags struct {
	addr   string
	apiKey string
	format string
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show limiter and detector counters of a running server",
	Long: `Fetch the admin statistics of a running server.

The API key must belong to a subject with the admin role when
authentication is enabled. It defaults to $THROTTLEGUARD_API_KEY.

Examples:
  throttleguard stats --addr localhost:8080
  throttleguard stats --format json`,
	Args: cobra.NoArgs,
	RunE: showStats,
}

var resetCmd = &cobra.Command{
	Use:   "reset <subject-id>",
	Short: "Clear a subject's rate limit state",
	Long: `Clear the counters and any active block of one subject in every
category on a running server.

Examples:
  throttleguard reset user-123 --addr localhost:8080`,
	Args: cobra.ExactArgs(1),
	RunE: resetSubject,
}

func init() {
	rootCmd.AddCommand(statsCmd, resetCmd)

	for _, c := range []*cobra.Command{statsCmd, resetCmd} {
		c.Flags().StringVar(&adminFlags.addr, "addr", "localhost:8080", "server address")
		c.Flags().StringVar(&adminFlags.apiKey, "api-key", "", "admin API key (default $THROTTLEGUARD_API_KEY)")
	}
	statsCmd.Flags().StringVarP(&adminFlags.format, "format", "f", "text", "output format: text, json")
}

func adminClient() *cli.AdminClient {
	key := adminFlags.apiKey
	if key == "" {
		key = os.Getenv("THROTTLEGUARD_API_KEY")
	}
	return cli.NewAdminClient(adminFlags.addr, key)
}

func showStats(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(adminFlags.format)
	if err != nil {
		return cli.NewCommandError("stats", err)
	}
	stats, err := adminClient().Stats(cmd.Context())
	if err != nil {
		return cli.NewCommandError("stats", err)
	}
	return cli.WriteStats(cmd.OutOrStdout(), stats, format)
}

func resetSubject(cmd *cobra.Command, args []string) error {
	if err := adminClient().Reset(cmd.Context(), args[0]); err != nil {
		return cli.NewCommandError("reset", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Rate limit state cleared for %s\n", args[0])
	return nil
}
