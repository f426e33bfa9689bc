package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/h2hsecure/usermanage/cmd/usermanage/apps"
	"github.com/h2hsecure/usermanage/internal/domain"
)

var rootCmd = &cobra.Command{
	Use:   "usermanage",
	Short: "Declarative user provisioning from data bags",
	Long:  apps.AppDescription,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&apps.ConfigPath, "config", domain.DefaultConfigPath, "config file")
	rootCmd.PersistentFlags().StringVar(&apps.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(apps.CreateCmd)
	rootCmd.AddCommand(apps.RemoveCmd)
	rootCmd.AddCommand(apps.ApplyCmd)
	rootCmd.AddCommand(apps.DaemonCmd)
	rootCmd.AddCommand(apps.ImportCmd)
	rootCmd.AddCommand(apps.QueryCmd)
	rootCmd.AddCommand(apps.HashPasswordCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(2)
	}
}
