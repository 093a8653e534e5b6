// Package cli provides the command-line interface for the storage
// provider probe harness: a `run` command that starts the continuous
// probing daemon (planner + worker pool + metrics/health server) and a
// `migrate` command that applies the Postgres schema. Service
// construction, viper-backed configuration, and an Echo server with
// signal-driven graceful shutdown follow the same root-command shape as
// this module's other long-running entrypoints.
package cli

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/evalgo/spprobe/chaingw"
	"github.com/evalgo/spprobe/config"
	"github.com/evalgo/spprobe/dbx"
	"github.com/evalgo/spprobe/domain"
	"github.com/evalgo/spprobe/metrics"
	"github.com/evalgo/spprobe/obslog"
	"github.com/evalgo/spprobe/planner"
	"github.com/evalgo/spprobe/probe"
	"github.com/evalgo/spprobe/probetransport"
	"github.com/evalgo/spprobe/recorder"
	"github.com/evalgo/spprobe/retention"
	"github.com/evalgo/spprobe/retrieval"
	"github.com/evalgo/spprobe/version"
	"github.com/evalgo/spprobe/worker"
	"github.com/evalgo/spprobe/workqueue"
)

// cfgFile holds the path to the configuration file given via --config.
var cfgFile string

// plannerTickInterval is how often the planner reconciles job schedules
// and publishes due WorkItems, per spec.md §5's "on a tick (every few
// seconds)".
const plannerTickInterval = 5 * time.Second

// RootCmd is the probe harness's entry point, with `run` and `migrate`
// as its two subcommands.
var RootCmd = &cobra.Command{
	Use:   "spprobed",
	Short: "continuous probe harness for a decentralized storage network",
	Long: `spprobed

Continuously exercises a decentralized storage network's storage
providers with upload and retrieval probes, reconciles retention-proving
state against an external index, and records every observation's
latency, throughput and outcome as Prometheus metrics and Postgres rows.`,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML/JSON/TOML, overrides defaults and is itself overridden by SPPROBE_ env vars)")
	RootCmd.AddCommand(runCmd)
	RootCmd.AddCommand(migrateCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "start the probe harness daemon",
	RunE:  runDaemon,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "apply the Postgres schema",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("cli: load config: %w", err)
	}

	log := obslog.New(obslog.Options{
		Level: cfg.LogLevel, Format: cfg.LogFormat, Service: cfg.ServiceName, Version: version.ModuleVersion(),
	})

	ctx := cmd.Context()
	db, err := dbx.Open(ctx, cfg.DatabaseURL, cfg.PoolMax)
	if err != nil {
		return fmt.Errorf("cli: connect to database: %w", err)
	}
	defer db.Close()

	if err := dbx.Migrate(ctx, db); err != nil {
		return fmt.Errorf("cli: migrate: %w", err)
	}
	log.Info("cli: migrations applied")
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("cli: load config: %w", err)
	}
	if cfg.ChainRPCEndpoint == "" || cfg.WalletAddress == "" || cfg.RetentionIndexEndpoint == "" {
		return fmt.Errorf("cli: chain_rpc_endpoint, wallet_address and retention_index_endpoint are required to run")
	}

	log := obslog.New(obslog.Options{
		Level: cfg.LogLevel, Format: cfg.LogFormat, Service: cfg.ServiceName, Version: version.ModuleVersion(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := dbx.Open(ctx, cfg.DatabaseURL, cfg.PoolMax)
	if err != nil {
		return fmt.Errorf("cli: connect to database: %w", err)
	}
	defer db.Close()

	if err := dbx.Migrate(ctx, db); err != nil {
		return fmt.Errorf("cli: migrate: %w", err)
	}

	if pgx := version.GetDependency("github.com/jackc/pgx/v5"); pgx != nil {
		log.WithField("version", pgx.Version).Info("cli: database driver")
	}

	m := metrics.New(cfg.ServiceName)

	rawClient := chaingw.NewHTTPRawClient(cfg.ChainRPCEndpoint, time.Duration(cfg.HTTPRequestTimeoutMs)*time.Millisecond)
	chain := chaingw.NewSDK(rawClient)
	registry := chaingw.NewRegistry(chain, db, log)

	if err := registry.Sync(ctx); err != nil {
		return fmt.Errorf("cli: initial provider sync: %w", err)
	}
	active, err := registry.ListActive(ctx, false)
	if err != nil {
		return fmt.Errorf("cli: list active providers: %w", err)
	}

	rateUnits, ok := new(big.Int).SetString(cfg.PerProviderRateUnits, 10)
	if !ok {
		return fmt.Errorf("cli: invalid per_provider_rate_units %q", cfg.PerProviderRateUnits)
	}
	lockupUnits, ok := new(big.Int).SetString(cfg.PerProviderLockupUnits, 10)
	if !ok {
		return fmt.Errorf("cli: invalid per_provider_lockup_units %q", cfg.PerProviderLockupUnits)
	}
	wallet := chaingw.NewWallet(chain, chaingw.AllowanceParams{PerProviderRateUnits: rateUnits, PerProviderLockupUnits: lockupUnits})
	if err := wallet.EnsureAllowances(ctx, cfg.WalletAddress, len(active)); err != nil {
		return fmt.Errorf("cli: ensure allowances: %w", err)
	}

	queue := workqueue.New(db, time.Second, time.Minute)
	plan := planner.New(db, queue, registry, cfg, log, cfg.ServiceName+":planner")
	rec := recorder.New(db, m)

	transportCfg := probetransport.DefaultConfig()
	transportCfg.ConnectTimeout = time.Duration(cfg.ConnectTimeoutMs) * time.Millisecond
	transportCfg.HTTPRequestTimeout = time.Duration(cfg.HTTPRequestTimeoutMs) * time.Millisecond
	transportCfg.HTTP2RequestTimeout = time.Duration(cfg.HTTP2RequestTimeoutMs) * time.Millisecond
	probeClient := probetransport.New(transportCfg)

	strategies := []retrieval.Strategy{retrieval.NewDirectSPStrategy(probeClient)}
	if cfg.EnableIPNITesting {
		strategies = append(strategies, retrieval.NewIPFSBlockStrategy(probeClient))
	}
	retrievalRegistry := retrieval.NewRegistry(strategies...)

	sizeClasses := []int64{1 << 20, 8 << 20, 64 << 20}
	uploadPipeline := probe.NewUploadPipeline(chain, sizeClasses)
	retrievalPipeline := probe.NewRetrievalPipeline(probeClient, retrievalRegistry, cfg.IPFSBlockFetchConcurrency)

	index := retention.NewHTTPIndex(cfg.RetentionIndexEndpoint, time.Duration(cfg.HTTPRequestTimeoutMs)*time.Millisecond)
	baselines := retention.NewBaselineStore()
	poller := retention.New(index, registry, baselines, m, log)

	pool := worker.New(queue, log)
	dealFinder := worker.NewDealFinder(db)

	pool.Register(worker.QueueConfig{
		Queue:   string(domain.JobFamilyDeal),
		Handler: &worker.DealHandler{Providers: registry, Pipeline: uploadPipeline, Recorder: rec, Cfg: cfg},
	})
	pool.Register(worker.QueueConfig{
		Queue:   string(domain.JobFamilyRetrieval),
		Handler: &worker.RetrievalHandler{Providers: registry, Deals: dealFinder, Pipeline: retrievalPipeline, Recorder: rec, Cfg: cfg},
	})
	pool.Register(worker.QueueConfig{
		Queue:   string(domain.JobFamilyRetention),
		Handler: &worker.RetentionHandler{Poller: poller},
	})
	pool.Register(worker.QueueConfig{
		Queue:   "metrics_rollup",
		Handler: &worker.RollupHandler{Recorder: rec},
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/version", func(c echo.Context) error { return c.JSON(http.StatusOK, version.GetBuildInfo()) })

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(plannerTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := plan.Tick(ctx); err != nil {
					log.WithError(err).Warn("cli: planner tick failed")
				}
			}
		}
	}()

	go func() {
		log.WithField("addr", cfg.HTTPListenAddr).Info("cli: probe harness started")
		if err := e.Start(cfg.HTTPListenAddr); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("cli: http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("cli: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("cli: http server shutdown")
	}
	wg.Wait()
	return nil
}
