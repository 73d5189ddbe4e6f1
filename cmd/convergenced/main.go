// Command convergenced runs the autoscaling convergence engine: it serves
// the HTTP trigger/CRUD API and hosts the per-group convergence tasks
// that reconcile fleet state toward desired capacity.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raxautoscale/convergence/internal/config"
	"github.com/raxautoscale/convergence/internal/logging"
	"github.com/raxautoscale/convergence/pkg/api"
	"github.com/raxautoscale/convergence/pkg/audit"
	"github.com/raxautoscale/convergence/pkg/cloud"
	"github.com/raxautoscale/convergence/pkg/convergence"
	"github.com/raxautoscale/convergence/pkg/executor"
	"github.com/raxautoscale/convergence/pkg/gatherer"
	"github.com/raxautoscale/convergence/pkg/lock"
	"github.com/raxautoscale/convergence/pkg/store"
)

// Version information (set via ldflags during build).
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	var configFile string

	root := &cobra.Command{
		Use:   "convergenced",
		Short: "Autoscaling convergence engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile)
		},
	}
	root.Flags().StringVar(&configFile, "config", "", "path to a YAML config file (optional)")
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("convergenced %s (commit %s)\n", Version, Commit)
			return nil
		},
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Development)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting convergenced", zap.String("version", Version), zap.String("commit", Commit))

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	{
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
		}
	}
	locker := lock.NewRedisLocker(redisClient)

	auditLogger := audit.NewLogger(logger)

	computeSvc := cloud.NewServiceClient("compute", cloud.ClientOptions{
		BaseURL: cfg.RegionOverrides["compute"],
		Logger:  logger,
	})
	lbSvc := cloud.NewServiceClient("loadbalancer", cloud.ClientOptions{
		BaseURL: cfg.RegionOverrides["loadbalancer"],
		Logger:  logger,
	})
	gateway := cloud.NewCompositeGateway(computeSvc, lbSvc)

	g := gatherer.New(gateway, logger)
	ex := executor.New(gateway, auditLogger, logger, executor.Options{
		Concurrency:       cfg.Concurrency,
		LBMaxRetries:      cfg.LBMaxRetries,
		LBRetryMin:        cfg.LBRetryIntervalMin,
		LBRetryMax:        cfg.LBRetryIntervalMax,
		CreateMaxRetries:  cfg.CreateMaxRetries,
		CreateBackoffBase: cfg.CreateBackoffBase,
		DeleteTimeout:     cfg.DeleteTimeout,
	})
	executor.ConfigureGlobalCreateConcurrency(cfg.GlobalCreateLimit)

	cycle := convergence.NewCycle(st, g, ex, auditLogger, logger, cfg.DrainTimeout, cfg.CycleTimeout)
	converger := convergence.NewConverger(cycle, locker, auditLogger, logger)

	handler := api.NewHandler(st, converger, cfg, nil, gateway, auditLogger, logger)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler.Routes(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serving: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
