package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/david/grant-aggregator/internal/models"
	"github.com/david/grant-aggregator/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run an aggregated search against the configured sources",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSearch,
}

var (
	searchFilters    search.Filters
	searchStatus     string
	searchSort       string
	searchDirection  string
	searchPage       int
	searchLimit      int
	searchMaxSources int
	searchTimeout    time.Duration
	searchNoDedup    bool
	searchNoRegional bool
	searchNoCache    bool
	searchSingle     bool
	searchRecord     bool
	searchJSON       bool
)

func init() {
	f := searchCmd.Flags()
	f.StringVar(&searchFilters.Region, "region", "", "Keep grants of this region (national grants always match)")
	f.StringVar(&searchFilters.Organization, "organization", "", "Organization substring")
	f.Float64Var(&searchFilters.MinAmount, "min-amount", 0, "Minimum amount")
	f.Float64Var(&searchFilters.MaxAmount, "max-amount", 0, "Maximum amount")
	f.StringVar(&searchFilters.Category, "category", "", "Category substring")
	f.StringVar(&searchFilters.Sector, "sector", "", "Sector substring")
	f.StringVar(&searchStatus, "status", "", "open, closed or upcoming")
	f.StringVar(&searchSort, "sort", string(search.SortRelevance), "relevance, amount, title, organization or openingDate")
	f.StringVar(&searchDirection, "direction", string(search.SortDesc), "asc or desc")
	f.IntVar(&searchPage, "page", 1, "Result page")
	f.IntVar(&searchLimit, "limit", 20, "Results per page")
	f.IntVar(&searchMaxSources, "max-sources", 0, "Cap on queried sources (0 = engine default)")
	f.DurationVar(&searchTimeout, "timeout", 0, "Per-source timeout (0 = configured default)")
	f.BoolVar(&searchNoDedup, "no-dedup", false, "Keep duplicate grants")
	f.BoolVar(&searchNoRegional, "no-regional", false, "Query national sources only")
	f.BoolVar(&searchNoCache, "no-cache", false, "Bypass the response cache")
	f.BoolVar(&searchSingle, "single", false, "Query only the highest-priority source")
	f.BoolVar(&searchRecord, "record", false, "Persist the run when DATABASE_URL is set")
	f.BoolVar(&searchJSON, "json", false, "Print the raw result as JSON")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	local, err := newLocalEngine(ctx, cfg, logger, searchRecord)
	if err != nil {
		return err
	}
	defer local.Close()

	query := ""
	if len(args) == 1 {
		query = args[0]
	}
	filters := searchFilters
	filters.Status = models.Lifecycle(strings.ToLower(searchStatus))

	opts := local.engine.DefaultOptions()
	if searchNoDedup {
		opts.EnableDeduplication = search.Bool(false)
	}
	if searchNoRegional {
		opts.EnableRegionalSources = search.Bool(false)
	}
	if searchNoCache {
		opts.EnableCache = search.Bool(false)
	}
	if searchSingle {
		opts.EnableAggregation = search.Bool(false)
	}
	opts.SortBy = search.SortField(searchSort)
	opts.SortDirection = search.SortDirection(strings.ToLower(searchDirection))
	opts.Page = searchPage
	opts.Limit = searchLimit
	opts.MaxSources = searchMaxSources
	if searchTimeout > 0 {
		opts.Timeout = searchTimeout
	}

	res, err := local.engine.Search(ctx, query, filters, opts)
	if res == nil {
		return err
	}
	if searchJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(res); encErr != nil {
			return encErr
		}
		return err
	}

	out := cmd.OutOrStdout()
	renderGrants(out, res.Grants)
	renderResponses(out, res.Responses)
	fmt.Fprintln(out, summaryLine(res))

	var ae *search.AggregationError
	if errors.As(err, &ae) {
		return fmt.Errorf("%s (retryable: %t)", ae.Code, ae.Retryable)
	}
	return err
}
