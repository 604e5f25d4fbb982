package main

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "throttleguard",
	Short: "Rate limiting and anomaly detection for healthcare APIs",
	Long: `throttleguard decides, for every request to a protected endpoint,
whether the acting subject may proceed. Each endpoint category has its own
window, limit and block duration. Alongside the limiter it profiles every
subject and flags rate spikes, unusual hours, suspicious sources, failed
authentication bursts and endpoint abuse.

Rejections, anomalies and handler failures are written to an audit trail.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}
