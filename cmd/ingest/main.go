// Command ingest is the retail security incident ingestion CLI.
//
// Usage:
//
//	retail-security-ingest run
//	retail-security-ingest cities --city chicago --city seattle
//	retail-security-ingest news
//	retail-security-ingest classify
//	retail-security-ingest rebuild --days 90
//	retail-security-ingest schedule --now
//	retail-security-ingest init-db
//	retail-security-ingest stats
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/albapepper/retail-security-data/internal/aggregate"
	"github.com/albapepper/retail-security-data/internal/classify"
	"github.com/albapepper/retail-security-data/internal/config"
	"github.com/albapepper/retail-security-data/internal/ingest"
	"github.com/albapepper/retail-security-data/internal/metrics"
	"github.com/albapepper/retail-security-data/internal/provider/city"
	"github.com/albapepper/retail-security-data/internal/provider/news"
	"github.com/albapepper/retail-security-data/internal/schedule"
	"github.com/albapepper/retail-security-data/internal/store"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:           "retail-security-ingest",
		Short:         "Retail security incident ingestion CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(runCmd())
	root.AddCommand(citiesCmd())
	root.AddCommand(newsCmd())
	root.AddCommand(classifyCmd())
	root.AddCommand(rebuildCmd())
	root.AddCommand(scheduleCmd())
	root.AddCommand(initDBCmd())
	root.AddCommand(statsCmd())

	if err := root.Execute(); err != nil {
		logger.Error("ingest failed", "error", err)
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// pipeline commands
// --------------------------------------------------------------------------

func runCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Pull every source, repair classifications and rebuild rollups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(func(p *pipeline) error {
				sources, err := p.sources(ingest.Selection{Cities: true, News: true})
				if err != nil {
					return err
				}
				return p.run(ingest.Options{Sources: sources, Repair: true, Rebuild: true, WindowDays: days})
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Trend rebuild window in days (default AGGREGATION_WINDOW_DAYS)")
	return cmd
}

func citiesCmd() *cobra.Command {
	var (
		keys      []string
		noRebuild bool
	)
	cmd := &cobra.Command{
		Use:   "cities",
		Short: "Pull city police open-data feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(func(p *pipeline) error {
				sources, err := p.sources(ingest.Selection{Cities: true, CityKeys: keys})
				if err != nil {
					return err
				}
				return p.run(ingest.Options{Sources: sources, Rebuild: !noRebuild})
			})
		},
	}
	cmd.Flags().StringSliceVar(&keys, "city", nil, "City key to pull (repeatable); empty = all configured cities")
	cmd.Flags().BoolVar(&noRebuild, "no-rebuild", false, "Skip the rollup rebuild after ingest")
	return cmd
}

func newsCmd() *cobra.Command {
	var noRebuild bool
	cmd := &cobra.Command{
		Use:   "news",
		Short: "Pull NewsAPI, Google News and industry RSS feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(func(p *pipeline) error {
				sources, err := p.sources(ingest.Selection{News: true})
				if err != nil {
					return err
				}
				if !p.clients.News.HasNewsAPI() {
					logger.Info("NEWS_API_KEY not set, skipping NewsAPI")
				}
				return p.run(ingest.Options{Sources: sources, Rebuild: !noRebuild})
			})
		},
	}
	cmd.Flags().BoolVar(&noRebuild, "no-rebuild", false, "Skip the rollup rebuild after ingest")
	return cmd
}

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify",
		Short: "Reclassify stored incidents with missing or default types",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(func(p *pipeline) error {
				start := time.Now()
				n, err := ingest.Repair(p.ctx, p.store, p.classifier, logger)
				if err != nil {
					return err
				}
				p.metrics.RecordReclassified(n)
				logger.Info("Classification repair finished",
					"updated", n, "duration", time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
}

func rebuildCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the daily trend and location rollups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(func(p *pipeline) error {
				if days <= 0 {
					days = p.cfg.AggregationWindowDays
				}
				res, err := aggregate.NewRebuilder(p.store, logger).Rebuild(p.ctx, days)
				if err != nil {
					return err
				}
				p.metrics.RecordRollup(config.DailyTrendsTable, res.TrendRows)
				p.metrics.RecordRollup(config.LocationsTable, res.LocationRows)
				logger.Info("Rebuild finished",
					"cutoff", res.Cutoff.Format(time.DateOnly),
					"trend_rows", res.TrendRows,
					"location_rows", res.LocationRows,
					"duration", res.Duration.Round(time.Millisecond))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Trend window in days (default AGGREGATION_WINDOW_DAYS)")
	return cmd
}

// --------------------------------------------------------------------------
// schedule command
// --------------------------------------------------------------------------

func scheduleCmd() *cobra.Command {
	var (
		spec string
		now  bool
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the full pipeline on a cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(func(p *pipeline) error {
				if spec == "" {
					spec = p.cfg.IngestSchedule
				}
				job := func(ctx context.Context) error {
					sources, err := p.sources(ingest.Selection{Cities: true, News: true})
					if err != nil {
						return err
					}
					jp := *p
					jp.ctx = ctx
					return jp.run(ingest.Options{Sources: sources, Repair: true, Rebuild: true})
				}
				s, err := schedule.New(spec, job, logger)
				if err != nil {
					return err
				}
				logger.Info("Scheduler started", "schedule", spec, "next_run", s.Next(time.Now()).Format(time.RFC3339))
				s.Run(p.ctx, now)
				logger.Info("Scheduler stopped")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&spec, "cron", "", "Cron spec (default INGEST_SCHEDULE)")
	cmd.Flags().BoolVar(&now, "now", false, "Run once immediately on start")
	return cmd
}

// --------------------------------------------------------------------------
// store commands
// --------------------------------------------------------------------------

func initDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(func(p *pipeline) error {
				if err := p.store.EnsureSchema(p.ctx); err != nil {
					return err
				}
				backend := "sqlite"
				if p.cfg.UsePostgres() {
					backend = "postgres"
				}
				logger.Info("Schema ready", "backend", backend)
				return nil
			})
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print incident counts, source status and rollup sizes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(func(p *pipeline) error {
				stats, err := p.store.Stats(p.ctx)
				if err != nil {
					return err
				}
				statuses, err := p.store.SourceStatuses(p.ctx)
				if err != nil {
					return err
				}
				trends, err := p.store.DailyTrends(p.ctx)
				if err != nil {
					return err
				}
				locations, err := p.store.LocationSummaries(p.ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "incidents: %d (last 7 days %d, last 30 days %d)\n",
					stats.TotalIncidents, stats.Last7Days, stats.Last30Days)
				for src, n := range stats.BySource {
					fmt.Fprintf(out, "  source %-10s %d\n", src, n)
				}
				fmt.Fprintf(out, "trend rows: %d, location rows: %d\n", len(trends), len(locations))
				for _, s := range statuses {
					state, last := "ok", "never"
					if !s.LastSuccess {
						state = "failed"
					}
					if s.LastScraped != nil {
						last = s.LastScraped.Format(time.RFC3339)
					}
					fmt.Fprintf(out, "  %-28s %-9s %-6s total=%d last=%s\n",
						s.Name, s.SourceType, state, s.TotalIncidents, last)
				}
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// pipeline is what every command needs once config and store are up.
type pipeline struct {
	ctx        context.Context
	cfg        *config.Config
	catalog    *config.Catalog
	store      store.Store
	classifier *classify.Classifier
	clients    ingest.Clients
	registry   *prometheus.Registry
	metrics    *metrics.IngestMetrics
}

func (p *pipeline) sources(sel ingest.Selection) ([]ingest.Source, error) {
	return ingest.BuildSources(p.catalog, p.cfg, sel, p.clients, p.classifier)
}

// run executes one pipeline run and prints its report. Failed sources are
// reported but do not fail the command.
func (p *pipeline) run(opts ingest.Options) error {
	if opts.WindowDays <= 0 {
		opts.WindowDays = p.cfg.AggregationWindowDays
	}

	var notifier ingest.Notifier
	if pg, ok := p.store.(*store.Postgres); ok {
		notifier = pg
	}

	res, err := ingest.NewRunner(p.store, p.classifier, logger, p.metrics, notifier).Run(p.ctx, opts)
	fmt.Print(res.Report())
	logger.Info("Ingest run finished", "run_id", res.RunID, "summary", res.Summary())
	for _, e := range res.Errors {
		logger.Warn("run error", "error", e)
	}

	if p.cfg.PushgatewayURL != "" {
		if perr := metrics.Push(p.cfg.PushgatewayURL, "retail_security_ingest", p.registry); perr != nil {
			logger.Warn("Failed to push metrics", "error", perr)
		}
	}
	return err
}

// runPipeline handles config loading, store connection, and context cancellation.
func runPipeline(fn func(p *pipeline) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	catalog, err := config.LoadCatalog(cfg.SourcesFile)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}

	s, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	registry := prometheus.NewRegistry()
	m, err := metrics.NewIngestMetrics(registry)
	if err != nil {
		return err
	}

	err = fn(&pipeline{
		ctx:        ctx,
		cfg:        cfg,
		catalog:    catalog,
		store:      s,
		classifier: classify.Default(),
		clients: ingest.Clients{
			City: city.NewClient(cfg.UserAgent, cfg.FetchRequestsPerMinute, logger),
			News: news.NewClient(cfg.NewsAPIKey, cfg.UserAgent, cfg.FetchRequestsPerMinute, logger),
		},
		registry: registry,
		metrics:  m,
	})
	if errors.Is(err, context.Canceled) {
		logger.Warn("Interrupted")
	}
	return err
}
