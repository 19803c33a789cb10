package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/unattachedgray/feedbuffet/config"
	"github.com/unattachedgray/feedbuffet/internal/fetch"
	"github.com/unattachedgray/feedbuffet/internal/pipeline"
	"github.com/unattachedgray/feedbuffet/internal/search"
	srv "github.com/unattachedgray/feedbuffet/internal/server"
	"github.com/unattachedgray/feedbuffet/internal/status"
	"github.com/unattachedgray/feedbuffet/internal/store"
	"github.com/unattachedgray/feedbuffet/internal/synth"
	"github.com/unattachedgray/feedbuffet/internal/synth/provider"
	"github.com/unattachedgray/feedbuffet/internal/telemetry"
)

func main() {
	root := &cobra.Command{Use: "feedbuffet", Short: "News ingestion and synthesis pipeline"}

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path")

	root.AddCommand(runCommand(&configPath), serveCommand(&configPath), migrateCommand(&configPath))
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCommand(configPath *string) *cobra.Command {
	var categories []string
	var query string
	var providerID string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one full pipeline pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			deps, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer deps.close()

			if providerID == "" {
				providerID = cfg.LLM.DefaultProvider
			}
			res, err := deps.runner.Run(ctx, pipeline.Options{
				Categories: categories,
				Query:      query,
				Provider:   providerID,
			})
			if err != nil {
				return err
			}
			log.Printf("[RUN] fetched=%d new=%d duplicates=%d clusters=%d batches=%d stories=%d",
				res.Fetched, res.NewItems, res.Duplicates, res.Clusters, res.Batches, len(res.Stories))
			for _, e := range res.Recovered {
				log.Printf("[RUN] recovered: %v", e)
			}
			if res.Commentary != "" {
				fmt.Println(res.Commentary)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&categories, "categories", nil, "comma-separated category list (business, technology, ...)")
	cmd.Flags().StringVar(&query, "query", "", "free-text feed query, used when no categories are given")
	cmd.Flags().StringVar(&providerID, "provider", "", "language model provider (gemini, openai, anthropic)")
	return cmd
}

func serveCommand(configPath *string) *cobra.Command {
	var addr string
	var categories []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}
			ctx := cmd.Context()
			deps, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer deps.close()

			if cfg.Server.ScheduleCron != "" {
				sched := &srv.Scheduler{
					Spec:   cfg.Server.ScheduleCron,
					Opts:   pipeline.Options{Categories: categories, Provider: cfg.LLM.DefaultProvider},
					Runner: deps.runner,
					Rdb:    deps.rdb,
					Stop:   make(chan struct{}),
				}
				sched.Start()
			}

			s := srv.NewServer(*cfg, deps.store, deps.runner, deps.index, deps.metrics, nil)
			return s.Start()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringSliceVar(&categories, "categories", nil, "categories for scheduled runs")
	return cmd
}

func migrateCommand(configPath *string) *cobra.Command {
	var dir string
	var direction string
	var steps int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Storage.Postgres.Validate(); err != nil {
				return err
			}
			return srv.Migrate(dir, cfg.Storage.Postgres.DSN(), direction, steps)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "file://migrations", "migrations source")
	cmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return cmd
}

type deps struct {
	store   *store.Store
	rdb     *redis.Client
	runner  *pipeline.Runner
	index   *search.Index
	metrics *telemetry.Metrics
}

func buildDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	if err := cfg.Storage.Postgres.Validate(); err != nil {
		return nil, err
	}
	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return nil, err
	}

	var rdb *redis.Client
	var cache *fetch.FeedCache
	if cfg.Storage.Redis.Enabled() {
		rdb, err = fetch.ConnectRedis(ctx, cfg.Storage.Redis.Addr(), cfg.Storage.Redis.Password, cfg.Storage.Redis.DB, cfg.Storage.Redis.Timeout)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		ttl := cfg.Sources.GoogleNews.CacheTTL
		if ttl <= 0 {
			ttl = 10 * time.Minute
		}
		cache = fetch.NewFeedCache(rdb, ttl, nil)
	}

	registry, err := provider.NewRegistry(cfg.LLM)
	if err != nil {
		return nil, err
	}
	if len(registry.Names()) == 0 {
		return nil, fmt.Errorf("no llm providers configured (llm.providers)")
	}
	log.Printf("[INIT] providers: %s", strings.Join(registry.Names(), ", "))

	fetcher := fetch.NewGoogleNewsClient(cfg.Sources.GoogleNews.Normalize(), cache, log.New(log.Writer(), "[FETCH] ", log.LstdFlags))
	gateway := synth.NewGateway(registry, log.New(log.Writer(), "[SYNTH] ", log.LstdFlags))
	commentator := synth.NewCommentator(registry, log.New(log.Writer(), "[SYNTH] ", log.LstdFlags))
	reporter := status.NewReporter(st, log.New(log.Writer(), "[STATUS] ", log.LstdFlags))

	idx, err := search.NewIndex()
	if err != nil {
		return nil, err
	}
	var metrics *telemetry.Metrics
	if cfg.Telemetry.Enabled {
		metrics = telemetry.New()
	}

	runCfg := *cfg
	runCfg.Pipeline = runCfg.Pipeline.Normalize()
	runner := pipeline.NewRunner(runCfg, fetcher, st, gateway, commentator, reporter, idx, metrics,
		log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags))

	return &deps{store: st, rdb: rdb, runner: runner, index: idx, metrics: metrics}, nil
}

func (d *deps) close() {
	if d.store != nil && d.store.DB != nil {
		d.store.DB.Close()
	}
	if d.rdb != nil {
		d.rdb.Close()
	}
}
