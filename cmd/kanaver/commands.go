package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Seiaaxn/kanaver3/internal/app"
	"github.com/Seiaaxn/kanaver3/internal/domain"
	"github.com/Seiaaxn/kanaver3/internal/orchestrator"
)

type scrapeFlags struct {
	source  string
	page    int
	force   bool
	noCache bool
	dedupe  bool
}

func newRootCommand(application *app.Application) *cobra.Command {
	root := &cobra.Command{
		Use:           "kanaver",
		Short:         "Aggregates comic listings from multiple unreliable sources",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newScrapeCommand(application, domain.OpLatest, "latest", "Fetch the update feed of one source"),
		newScrapeCommand(application, domain.OpPopular, "popular", "Fetch the popularity ranking of one source"),
		newScrapeCommand(application, domain.OpRecommended, "recommended", "Fetch the recommendation feed of one source"),
		newScrapeCommand(application, domain.OpGenres, "genres", "Fetch the genre tags of one source"),
		newSearchCommand(application),
		newDetailCommand(application),
		newImagesCommand(application),
		newByGenreCommand(application),
		newAggregateCommand(application),
		newCrawlCommand(application),
		newStatusCommand(application),
	)
	return root
}

func addScrapeFlags(cmd *cobra.Command, flags *scrapeFlags, defaultSource string) {
	cmd.Flags().StringVar(&flags.source, "source", defaultSource, "source id to scrape")
	cmd.Flags().IntVar(&flags.page, "page", 1, "page number where the operation supports it")
	cmd.Flags().BoolVar(&flags.force, "force", false, "bypass cache and freshness checks")
	cmd.Flags().BoolVar(&flags.noCache, "no-cache", false, "skip the cache read")
	cmd.Flags().BoolVar(&flags.dedupe, "dedupe", true, "deduplicate list results")
}

func defaultSourceID(application *app.Application) string {
	sources := application.Config().Sources
	if len(sources) == 0 {
		return ""
	}
	return sources[0].ID
}

func runScrape(application *app.Application, operation string, flags scrapeFlags, args domain.Args) error {
	args.Page = flags.page
	result, err := application.Orchestrator.Scrape(context.Background(), orchestrator.Request{
		Operation:    operation,
		SourceID:     flags.source,
		Args:         args,
		ForceRefresh: flags.force,
		SkipCache:    flags.noCache,
		Deduplicate:  flags.dedupe,
	})
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"success":    true,
		"source":     result.Source,
		"from_cache": result.FromCache,
		"data":       result.Data,
	})
}

func newScrapeCommand(application *app.Application, operation, use, short string) *cobra.Command {
	var flags scrapeFlags
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScrape(application, operation, flags, domain.Args{})
		},
	}
	addScrapeFlags(cmd, &flags, defaultSourceID(application))
	return cmd
}

func newSearchCommand(application *app.Application) *cobra.Command {
	var flags scrapeFlags
	cmd := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Search one source by keyword",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrape(application, domain.OpSearch, flags, domain.Args{Keyword: args[0]})
		},
	}
	addScrapeFlags(cmd, &flags, defaultSourceID(application))
	return cmd
}

func newDetailCommand(application *app.Application) *cobra.Command {
	var flags scrapeFlags
	cmd := &cobra.Command{
		Use:   "detail <slug>",
		Short: "Fetch one title's full record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrape(application, domain.OpDetail, flags, domain.Args{Slug: args[0]})
		},
	}
	addScrapeFlags(cmd, &flags, defaultSourceID(application))
	return cmd
}

func newImagesCommand(application *app.Application) *cobra.Command {
	var flags scrapeFlags
	cmd := &cobra.Command{
		Use:   "images <chapter-slug>",
		Short: "Fetch the page images of one chapter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrape(application, domain.OpChapterImages, flags, domain.Args{Slug: args[0]})
		},
	}
	addScrapeFlags(cmd, &flags, defaultSourceID(application))
	return cmd
}

func newByGenreCommand(application *app.Application) *cobra.Command {
	var flags scrapeFlags
	cmd := &cobra.Command{
		Use:   "by-genre <genre-slug>",
		Short: "Fetch one page of a genre listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrape(application, domain.OpByGenre, flags, domain.Args{Genre: args[0]})
		},
	}
	addScrapeFlags(cmd, &flags, defaultSourceID(application))
	return cmd
}

func newAggregateCommand(application *app.Application) *cobra.Command {
	var (
		operation string
		sources   []string
		keyword   string
		threshold float64
		timeoutMs int64
	)
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Fan one operation out across sources and merge the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			timeout := application.MultiTimeout()
			if timeoutMs > 0 {
				timeout = time.Duration(timeoutMs) * time.Millisecond
			}
			result, err := application.Orchestrator.ScrapeMultiSource(context.Background(), orchestrator.MultiRequest{
				Operation:        operation,
				Sources:          sources,
				Args:             domain.Args{Keyword: keyword},
				FailureThreshold: threshold,
				Timeout:          timeout,
			})
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"success":    true,
				"successful": result.Successful,
				"failed":     result.Failed,
				"errors":     result.Errors,
				"stats":      result.Dedupe,
				"new_items":  len(result.NewItems),
				"data":       result.Data,
			})
		},
	}
	cmd.Flags().StringVar(&operation, "op", domain.OpLatest, "operation to aggregate")
	cmd.Flags().StringSliceVar(&sources, "sources", nil, "explicit source ids (default: healthy sources)")
	cmd.Flags().StringVar(&keyword, "keyword", "", "keyword for search aggregation")
	cmd.Flags().Float64Var(&threshold, "failure-threshold", 0, "failed-source fraction tolerated")
	cmd.Flags().Int64Var(&timeoutMs, "timeout-ms", 0, "per-source timeout in milliseconds")
	return cmd
}

func newCrawlCommand(application *app.Application) *cobra.Command {
	var (
		flags        scrapeFlags
		maxPages     int
		startPage    int
		stopOnEmpty  bool
		stopOnDupes  bool
		dupThreshold float64
		genre        string
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Walk a paginated listing sequentially and merge the pages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			operation := domain.OpLatest
			args := domain.Args{}
			if genre != "" {
				operation = domain.OpByGenre
				args.Genre = genre
			}
			result, err := application.Orchestrator.ScrapePaginated(context.Background(), orchestrator.PaginatedRequest{
				Operation:          operation,
				SourceID:           flags.source,
				Args:               args,
				MaxPages:           maxPages,
				StartPage:          startPage,
				StopOnEmpty:        stopOnEmpty,
				StopOnDuplicate:    stopOnDupes,
				DuplicateThreshold: dupThreshold,
			})
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"success": true,
				"pages":   result.Pages,
				"stats":   result.Dedupe,
				"data":    result.Data,
			})
		},
	}
	cmd.Flags().StringVar(&flags.source, "source", defaultSourceID(application), "source id to crawl")
	cmd.Flags().StringVar(&genre, "genre", "", "crawl a genre listing instead of the update feed")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "page budget (default from config)")
	cmd.Flags().IntVar(&startPage, "start", 1, "first page")
	cmd.Flags().BoolVar(&stopOnEmpty, "stop-on-empty", true, "abort on page fetch errors")
	cmd.Flags().BoolVar(&stopOnDupes, "stop-on-duplicate", true, "stop when a page is mostly already seen")
	cmd.Flags().Float64Var(&dupThreshold, "duplicate-threshold", 0, "duplicate rate that stops the crawl")
	return cmd
}

func newStatusCommand(application *app.Application) *cobra.Command {
	var historySize int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show source health, queue stats, and recent operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(map[string]any{
				"health":    application.Orchestrator.HealthSnapshot(),
				"scheduler": application.Orchestrator.SchedulerStats(),
				"history":   application.Orchestrator.History(historySize),
			})
		},
	}
	cmd.Flags().IntVar(&historySize, "history", 20, "number of history records")
	return cmd
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
