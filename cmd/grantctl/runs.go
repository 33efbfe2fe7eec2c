package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/david/grant-aggregator/internal/db"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent search runs from the audit log",
	RunE:  runRuns,
}

var runsFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Count failing runs per source",
	RunE:  runRunsFailures,
}

var (
	runsFilter db.RunFilter
	runsSince  time.Duration
)

func init() {
	f := runsCmd.PersistentFlags()
	f.DurationVar(&runsSince, "since", 0, "Only runs newer than this (e.g. 24h)")

	lf := runsCmd.Flags()
	lf.IntVar(&runsFilter.Limit, "limit", 10, "Number of runs")
	lf.StringVar(&runsFilter.Query, "query", "", "Query substring")
	lf.StringVar(&runsFilter.Source, "source", "", "Runs that queried this source")
	lf.StringVar(&runsFilter.ErroredOn, "errored-on", "", "Runs where this source failed")
	lf.BoolVar(&runsFilter.FailedOnly, "failed", false, "Only runs where every source failed")

	runsCmd.AddCommand(runsFailuresCmd)
	rootCmd.AddCommand(runsCmd)
}

func openStore(cmd *cobra.Command) (*db.Store, func(), error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, errors.New("DATABASE_URL is not set")
	}
	pool, err := db.Connect(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return db.NewStore(pool), pool.Close, nil
}

func runRuns(cmd *cobra.Command, _ []string) error {
	store, closeFn, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	f := runsFilter
	if runsSince > 0 {
		f.Since = time.Now().Add(-runsSince)
	}
	runs, err := store.RecentRuns(cmd.Context(), f)
	if err != nil {
		return err
	}
	renderRuns(cmd.OutOrStdout(), runs)
	return nil
}

func runRunsFailures(cmd *cobra.Command, _ []string) error {
	store, closeFn, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	since := runsSince
	if since <= 0 {
		since = 24 * time.Hour
	}
	counts, err := store.SourceFailures(cmd.Context(), time.Now().Add(-since))
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Source", "Failed Runs"})
	for _, c := range counts {
		t.AppendRow(table.Row{c.SourceID, c.Failures})
	}
	t.Render()
	fmt.Fprintln(cmd.OutOrStdout(), DimStyle.Render("window: "+since.String()))
	return nil
}
