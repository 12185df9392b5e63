package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scopekeeper/api/internal/config"
	"scopekeeper/api/internal/logging"
)

var Version = "dev"

var (
	configPath string
	orgFlag    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "scopekeeper",
		Short:         "Unified extraction store API",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (env vars override it)")
	rootCmd.PersistentFlags().StringVar(&orgFlag, "org", "", "organization id for CLI reads and writes")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(viewCmd())
	rootCmd.AddCommand(ingestCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func requireOrg() (string, error) {
	if orgFlag == "" {
		return "", fmt.Errorf("--org is required")
	}
	return orgFlag, nil
}
