package cmd

import (
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "relay-service",
	Short: "Live session relay: signaling, chat, liveness and transcode control",
	Long:  `HTTP + WebSocket relay. Commands: api, migrate, seed, command.`,
	RunE:  runAPI, // default: run API (same as "relay-service api")
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, json or toml); env wins over it")
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}

// Execute runs the root command and returns the error (for main to log.Fatal).
func Execute() error {
	return rootCmd.Execute()
}
