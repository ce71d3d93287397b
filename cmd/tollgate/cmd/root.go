// Package cmd provides the CLI commands for tollgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tollgate-labs/tollgate/internal/config"
)

var cfgFile string
var envFile string

var rootCmd = &cobra.Command{
	Use:   "tollgate",
	Short: "tollgate - off-chain toll payments over a ClearNode session",
	Long: `tollgate pays road tolls from an off-chain state channel session.

It authenticates a wallet against a ClearNode, mirrors the session balance
locally and sends one signed transfer per toll checkpoint.

Quick start:
  1. export TOLLGATE_WALLET_PRIVATE_KEY=0x...
  2. Run: tollgate start

Configuration:
  Config is loaded from tollgate.yaml in the current directory,
  $HOME/.tollgate/, or /etc/tollgate/.

  Environment variables can override config values with the TOLLGATE_ prefix.
  Example: TOLLGATE_SERVER_HTTP_ADDR=:9090

Commands:
  start       Connect, open a session and serve the HTTP API
  stop        Stop the running server
  simulate    Drive a route and pay every checkpoint
  routes      List the route catalog
  qr          Print or render a toll booth QR payload
  version     Print version information`,
	SilenceUsage: true,
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./tollgate.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file (default: ./.env)")
}

func initConfig() {
	if err := config.LoadDotEnv(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	config.InitViper(cfgFile)
}
