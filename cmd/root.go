package cmd

import (
	"os"

	"bankd/logx"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bankd",
	Short: "bankd ledger CLI",
	Long:  "Command line interface for running and managing a bankd accounting ledger.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logx.Error("CMD", "Command execution failed:", err)
		os.Exit(1)
	}
}
