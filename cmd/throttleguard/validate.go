package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rpzk/throttleguard/pkg/cli"
	"github.com/rpzk/throttleguard/pkg/limits"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load the configuration with environment overrides applied, validate
it and print the effective rate limit policies.

Examples:
  throttleguard validate --config /etc/throttleguard/config.yaml`,
	Args: cobra.NoArgs,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if path == "" {
		path = "(defaults)"
	}

	table, err := cfg.Limits.PolicyTable()
	if err != nil {
		return cli.NewConfigError("limits.policies", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Configuration valid: %s\n\n", path)
	fmt.Fprintf(out, "%-14s %8s %8s %10s\n", "CATEGORY", "WINDOW", "LIMIT", "BLOCK")
	for _, c := range limits.Categories() {
		p := table[c]
		fmt.Fprintf(out, "%-14s %8s %8d %10s\n", c, p.Window, p.Limit, p.BlockDuration)
	}
	return nil
}
