// Command etl runs the feed merge pipeline: it parses the given product and
// price feeds, stages each snapshot and merges it into the historized target
// tables, then prints a summary report.
//
// Usage:
//
//	etl -products feeds/products.json -price acme=feeds/acme.csv -price globex=feeds/globex.csv
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/jordanwelch/feedmerge/internal/config"
	"github.com/jordanwelch/feedmerge/internal/entity"
	"github.com/jordanwelch/feedmerge/internal/ingest"
	"github.com/jordanwelch/feedmerge/internal/logging"
	"github.com/jordanwelch/feedmerge/internal/postgres"
	"github.com/jordanwelch/feedmerge/internal/report"
	"github.com/jordanwelch/feedmerge/internal/scd"
)

// priceFeed is one distributor's CSV snapshot.
type priceFeed struct {
	Distributor string
	Path        string
}

// priceFeeds collects repeated -price distributor=path flags.
type priceFeeds []priceFeed

func (p *priceFeeds) String() string {
	parts := make([]string, len(*p))
	for i, f := range *p {
		parts[i] = f.Distributor + "=" + f.Path
	}
	return strings.Join(parts, ",")
}

func (p *priceFeeds) Set(value string) error {
	distributor, path, ok := strings.Cut(value, "=")
	if !ok || distributor == "" || path == "" {
		return fmt.Errorf("expected distributor=path, got %q", value)
	}
	*p = append(*p, priceFeed{Distributor: distributor, Path: path})
	return nil
}

func main() {
	var (
		productsPath string
		productsSrc  string
		prices       priceFeeds
		skipReport   bool
	)
	flag.StringVar(&productsPath, "products", "", "path to the product feed (JSON)")
	flag.StringVar(&productsSrc, "source", "feed", "source identifier for the product feed")
	flag.Var(&prices, "price", "price feed as distributor=path (repeatable)")
	flag.BoolVar(&skipReport, "no-report", false, "skip the summary report after the run")
	flag.Parse()

	if productsPath == "" && len(prices) == 0 {
		fmt.Fprintln(os.Stderr, "nothing to do: pass -products and/or -price")
		flag.Usage()
		os.Exit(2)
	}

	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx := context.Background()
	pool, err := connect(ctx, cfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := postgres.NewStore(pool)
	if err := store.Setup(ctx); err != nil {
		slog.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}

	engine := scd.NewEngine(store, entity.Predicates(), cfg.Pipeline.Parallelism, slog.Default())

	// One wall-clock instant for the whole invocation: every feed merged in
	// this run versions its rows at the same timestamp.
	runTime := time.Now().UTC()

	failed := false
	if productsPath != "" {
		if err := runFeed(ctx, cfg, engine, store, productFeed{path: productsPath, source: productsSrc}, runTime); err != nil {
			failed = true
		}
	}
	for _, feed := range prices {
		if err := runFeed(ctx, cfg, engine, store, feed, runTime); err != nil {
			failed = true
		}
	}

	if !skipReport {
		stats, err := report.Collect(ctx, pool)
		if err != nil {
			slog.Error("failed to collect summary statistics", "error", err)
			failed = true
		} else {
			fmt.Print(report.Render(stats))
		}
	}

	if failed {
		os.Exit(1)
	}
}

// feed is a parseable snapshot source.
type feed interface {
	Entity() string
	Source() string
	Parse(runTime time.Time) (*ingest.Load, error)
}

type productFeed struct {
	path   string
	source string
}

func (f productFeed) Entity() string { return "products" }
func (f productFeed) Source() string { return f.source }

func (f productFeed) Parse(runTime time.Time) (*ingest.Load, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ingest.ProductJSON(file, f.source, runTime)
}

func (f priceFeed) Entity() string { return "prices" }
func (f priceFeed) Source() string { return f.Distributor }

func (f priceFeed) Parse(runTime time.Time) (*ingest.Load, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ingest.PriceCSV(file, f.Distributor, runTime)
}

// runFeed parses one feed and merges it. A feed that cannot be parsed never
// reaches the engine, so its failure is recorded in the audit log here.
func runFeed(ctx context.Context, cfg *config.Config, engine *scd.Engine, store *postgres.Store, f feed, runTime time.Time) error {
	log := slog.Default().With("entity", f.Entity(), "source", f.Source())
	startedAt := time.Now().UTC()

	load, err := f.Parse(runTime)
	if err != nil {
		log.Error("feed rejected", "error", err)
		auditRejectedFeed(ctx, store, f, startedAt, err)
		return err
	}

	for _, failure := range load.Failures {
		log.Warn("row skipped", "line", failure.Line, "reason", failure.Reason)
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Pipeline.RunTimeout)
	defer cancel()

	result, err := engine.Run(runCtx, load.Batch)
	if err != nil {
		log.Error("merge run failed", "error", err)
		return err
	}

	log.Info("feed merged",
		"run_id", result.RunID,
		"processed", result.Processed,
		"inserted", result.Inserted,
		"updated", result.Updated,
		"unchanged", result.Unchanged,
		"skipped", result.Skipped,
	)
	return nil
}

// auditRejectedFeed records a feed that failed validation before any merge
// work started. Best-effort: an audit failure is logged, not propagated.
func auditRejectedFeed(ctx context.Context, store *postgres.Store, f feed, startedAt time.Time, cause error) {
	entry := scd.AuditEntry{
		RunID:        uuid.New().String(),
		TableName:    f.Entity(),
		Operation:    scd.OpMerge,
		StartTime:    startedAt,
		EndTime:      time.Now().UTC(),
		Status:       scd.StatusError,
		ErrorMessage: cause.Error(),
	}
	if err := store.AppendAudit(ctx, entry); err != nil {
		slog.Error("audit write failed", "entity", f.Entity(), "error", err)
	}
}

// connect builds the pgx pool from configuration and verifies the connection.
func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
