// Package main implements grantctl, the operator CLI of the grant aggregator.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/david/grant-aggregator/internal/config"
	"github.com/david/grant-aggregator/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:           "grantctl",
	Short:         "Grant aggregator command line",
	Long:          "grantctl runs aggregated grant searches in-process and inspects sources, search runs and the cache of a running server.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var verbose bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log engine activity to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

// loadConfig reads the environment (and .env) the same way the server does.
func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, err
	}
	if !verbose {
		return cfg, zap.NewNop(), nil
	}
	logger, err := logging.New(cfg.LogLevel, "console")
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}
