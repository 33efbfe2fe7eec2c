package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/david/grant-aggregator/internal/search"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the source catalog",
	RunE:  runSources,
}

var sourcesProbe bool

func init() {
	sourcesCmd.Flags().BoolVar(&sourcesProbe, "probe", false, "Probe every enabled source before listing")
	rootCmd.AddCommand(sourcesCmd)
}

func runSources(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	local, err := newLocalEngine(cmd.Context(), cfg, logger, false)
	if err != nil {
		return err
	}
	defer local.Close()

	if sourcesProbe {
		prober := search.NewProber(local.registry, local.transports, nil, 0, logger)
		healthy := prober.ProbeOnce(cmd.Context())
		fmt.Fprintln(cmd.OutOrStdout(), HeaderStyle.Render(fmt.Sprintf("%d sources answered", healthy)))
	}
	renderSources(cmd.OutOrStdout(), local.engine.Sources())
	return nil
}
