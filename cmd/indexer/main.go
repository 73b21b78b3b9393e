package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/chainsync-io/evmsync/internal/block"
	"github.com/chainsync-io/evmsync/internal/checkpoint"
	"github.com/chainsync-io/evmsync/internal/db"
	"github.com/chainsync-io/evmsync/internal/health"
	"github.com/chainsync-io/evmsync/internal/lock"
	"github.com/chainsync-io/evmsync/internal/logger"
	"github.com/chainsync-io/evmsync/internal/metrics"
	"github.com/chainsync-io/evmsync/internal/poll"
	"github.com/chainsync-io/evmsync/internal/reorg"
	"github.com/chainsync-io/evmsync/internal/rpc"
	"github.com/chainsync-io/evmsync/internal/syncengine"
	"github.com/chainsync-io/evmsync/internal/transfer"
	pkgconfig "github.com/chainsync-io/evmsync/pkg/config"
)

const version = "0.1.0"

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "indexer",
	Short:   "evmsync - EVM block and ERC-20 transfer sync engine",
	Version: version,
	RunE:    runSync,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run pending database migrations and exit",
	RunE:  runMigrate,
}

var gapRepairCmd = &cobra.Command{
	Use:   "gap-repair",
	Short: "Run one gap repair pass over the pending gap ledger and exit",
	RunE:  runGapRepair,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "optional TOML/YAML config file overlay")
	rootCmd.AddCommand(migrateCmd, gapRepairCmd)
}

func loadConfig() (*pkgconfig.Config, error) {
	if configPath == "" {
		return pkgconfig.LoadFromEnv()
	}
	fileCfg, err := pkgconfig.LoadFromFile(configPath)
	if err != nil {
		return nil, err
	}
	return pkgconfig.MergeEnvOverFile(fileCfg)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	defer log.Close()

	return db.RunMigrationsOnURL(cfg.DatabaseURL, log)
}

func runGapRepair(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	deps, cleanup, err := wireDependencies(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	adv, err := lock.Acquire(ctx, deps.pool, deps.cfg.ChainIDStr, deps.log)
	if err != nil {
		if err == lock.ErrAlreadyHeld {
			deps.log.Info("another instance is syncing this chain, nothing to do")
			return nil
		}
		return err
	}
	defer adv.Release(ctx)

	loop := poll.NewLoop(poll.Config{
		ChainID:           deps.cfg.ChainID,
		PollInterval:      deps.cfg.PollInterval(),
		GapRepairInterval: deps.cfg.GapRepairInterval,
		ConfirmationDepth: deps.cfg.ConfirmationDepth,
		BatchSize:         deps.cfg.BatchSize,
		Head:              deps.rpcClient,
		Engine:            deps.engine,
		Checkpoints:       deps.checkpoints,
		Lock:              adv,
		Log:               deps.log,
	})
	return loop.RepairGapsOnce(ctx)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	deps, cleanup, err := wireDependencies(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	deps.log.Infow("evmsync starting", "version", version, "chain_id", deps.cfg.ChainIDStr, "instance_id", deps.cfg.InstanceID)

	if err := deps.checkpoints.Initialize(ctx, deps.cfg.ChainID, common.Big0); err != nil {
		return fmt.Errorf("failed to initialize checkpoint: %w", err)
	}

	adv, err := lock.Acquire(ctx, deps.pool, deps.cfg.ChainIDStr, deps.log)
	if err != nil {
		if err == lock.ErrAlreadyHeld {
			deps.log.Info("another instance is syncing this chain, exiting cleanly")
			return nil
		}
		return err
	}
	defer func() {
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer releaseCancel()
		if err := adv.Release(releaseCtx); err != nil {
			deps.log.Warnw("failed to release advisory lock", "error", err)
		}
	}()
	metrics.LockHeldSet(deps.cfg.ChainIDStr, deps.cfg.InstanceID, true)

	prober := health.NewProber(deps.pool, deps.rpcClient, deps.rpcClient, deps.checkpoints.ForChain(deps.cfg.ChainID), deps.cfg.ReadinessLagThreshold)
	metricsServer := metrics.NewServer(deps.cfg.MetricsListenAddr, prober, deps.log)
	if err := metricsServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		prober.MarkShuttingDown()
		_ = metricsServer.Stop(stopCtx)
	}()

	loop := poll.NewLoop(poll.Config{
		ChainID:           deps.cfg.ChainID,
		PollInterval:      deps.cfg.PollInterval(),
		GapRepairInterval: deps.cfg.GapRepairInterval,
		ConfirmationDepth: deps.cfg.ConfirmationDepth,
		BatchSize:         deps.cfg.BatchSize,
		Head:              deps.rpcClient,
		Engine:            deps.engine,
		Checkpoints:       deps.checkpoints,
		Lock:              adv,
		Log:               deps.log,
	})

	err = loop.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

type dependencies struct {
	cfg         *pkgconfig.Config
	log         *logger.Logger
	pool        *pgxpool.Pool
	rpcClient   *rpc.Client
	blocks      *block.Repository
	transfers   *transfer.Repository
	checkpoints *checkpoint.Store
	engine      *syncengine.Engine
}

func wireDependencies(ctx context.Context) (*dependencies, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	log, err := logger.NewLogger(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return nil, nil, err
	}
	logger.SetDefaultLogger(log)

	if err := db.RunMigrationsOnURL(cfg.DatabaseURL, log); err != nil {
		log.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Close()
		return nil, nil, err
	}

	retryCfg := rpc.DefaultRetryConfig(cfg.MaxRetries)
	rpcClient, err := rpc.NewClient(ctx, cfg.RPCURLs, cfg.RPCTimeout(), retryCfg, log)
	if err != nil {
		pool.Close()
		log.Close()
		return nil, nil, err
	}
	rpcClient.WithConcurrency(cfg.Concurrency)

	blocks := block.NewRepository(pool, log)
	transfers := transfer.NewRepository(pool, log)
	checkpoints := checkpoint.NewStore(pool, log)
	reorgHandler := reorg.NewHandler(blocks, rpcClient, log)

	engine := syncengine.NewEngine(syncengine.Config{
		Pool:         pool,
		RPC:          rpcClient,
		Blocks:       blocks,
		Transfers:    transfers,
		Checkpoints:  checkpoints,
		ReorgHandler: reorgHandler,
		TokenAddress: common.HexToAddress(cfg.TokenContractAddress),
		Log:          log,
	})

	cleanup := func() {
		rpcClient.Close()
		pool.Close()
		log.Close()
	}

	return &dependencies{
		cfg:         cfg,
		log:         log,
		pool:        pool,
		rpcClient:   rpcClient,
		blocks:      blocks,
		transfers:   transfers,
		checkpoints: checkpoints,
		engine:      engine,
	}, cleanup, nil
}
