// Package cmd provides the CLI commands for ambit.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ambit-sec/ambit/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ambit",
	Short: "ambit - scope enforcement kernel for AI-driven pentests",
	Long: `Ambit is the trust kernel between an AI pentest agent and its targets.

It exposes browser, scope, and validation tools over the Model Context
Protocol (MCP) and checks every outbound request against a signed
engagement contract before anything touches the network. Out-of-scope
targets are denied, budgets and rate limits are enforced, and evidence
is written with secrets redacted.

Quick start:
  1. Write an engagement contract: contract.yaml
  2. Check it: ambit check contract.yaml
  3. Run: SCOPE_FILE=contract.yaml ambit serve

Configuration:
  Config is loaded from ambit.yaml in the current directory,
  $HOME/.ambit/, or /etc/ambit/.

  Deployment settings bind to environment variables by exact name.
  Example: SCOPE_FILE=./contract.yaml BURP_PROXY_URL=http://127.0.0.1:8080

Commands:
  serve       Start the MCP tool server
  check       Validate an engagement contract file
  approve     Answer a pending approval request
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./ambit.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
