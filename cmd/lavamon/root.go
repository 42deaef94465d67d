package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "lavamon",
	Short: "lavamon - laundromat fleet monitor with remote cycle start",
	Long: `lavamon monitors a laundromat's washer/dryer fleet through the Machine
Guardian cloud API. It polls machine status, cycle progress, and card balance
on a fixed interval, serves the latest consistent snapshot over a JSON API,
and can start a machine cycle remotely.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to the serve command when no subcommand is provided.
		return runServe(cmd, args)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
