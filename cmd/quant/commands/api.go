package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/wonny/aegis/v13/backend/internal/api"
	"github.com/wonny/aegis/v13/backend/internal/api/handlers"
	"github.com/wonny/aegis/v13/backend/internal/cache"
	"github.com/wonny/aegis/v13/backend/internal/cache/dbtier"
	"github.com/wonny/aegis/v13/backend/internal/gateway"
	"github.com/wonny/aegis/v13/backend/internal/job"
	"github.com/wonny/aegis/v13/backend/internal/job/store"
	"github.com/wonny/aegis/v13/backend/internal/provider/akshare"
	"github.com/wonny/aegis/v13/backend/internal/provider/tushare"
	"github.com/wonny/aegis/v13/backend/internal/strategy/registry"
	"github.com/wonny/aegis/v13/backend/internal/universe"
	"github.com/wonny/aegis/v13/backend/pkg/config"
	"github.com/wonny/aegis/v13/backend/pkg/database"
	"github.com/wonny/aegis/v13/backend/pkg/httputil"
	"github.com/wonny/aegis/v13/backend/pkg/logger"
	redispkg "github.com/wonny/aegis/v13/backend/pkg/redis"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "전략 실행 API 서버 시작",
	Long: `REST API 서버를 시작합니다.

이 명령어는:
- 전략 레지스트리 로드 (config/strategies/*.yaml)
- Tushare(Primary)/AKShare(Secondary) 게이트웨이 구성
- JobEngine 기반 전략 실행 엔드포인트 제공

Endpoints:
  GET  /health                                     - Health check
  GET  /api/strategies                             - 등록된 전략 목록
  POST /api/strategies/execute                     - 전략 실행 시작
  GET  /api/strategies/executions/{id}/progress    - 진행 상황 조회
  GET  /api/strategies/executions/{id}/result      - 결과 조회
  POST /api/strategies/executions/{id}/cancel      - 실행 취소

Example:
  go run ./cmd/quant api
  go run ./cmd/quant api --port 8080`,
	RunE: runAPIServer,
}

var (
	apiPort string
)

func init() {
	rootCmd.AddCommand(apiCmd)

	// Flags
	apiCmd.Flags().StringVar(&apiPort, "port", "", "API 서버 포트 (기본값: $PORT)")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== A-Share Strategy Engine API Server ===")

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Override port if flag is set
	if apiPort != "" {
		cfg.Port = apiPort
	}

	// 2. Initialize logger
	log := logger.New(cfg)

	log.WithFields(map[string]interface{}{
		"port": cfg.Port,
		"env":  cfg.Env,
	}).Info("Initializing API server")

	// 3. Optional durable L2 tier for reference data (disabled when
	// DATABASE_URL is unset — the engine itself never requires a database).
	var dbTier *dbtier.Tier
	if cfg.Database.URL != "" {
		db, err := database.New(cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		dbTier = dbtier.New(db.Pool)
		log.Info("Connected to database, reference-data db tier enabled")
	} else {
		log.Info("DATABASE_URL unset, running without a durable reference-data tier")
	}

	// 4. Create HTTP client and upstream providers
	httpClient := httputil.New(cfg, log)
	primary := tushare.New(httpClient, log, cfg.Tushare.Token)
	secondary := akshare.New(httpClient, log)

	// 4b. Optional distributed snapshot cache, shared across every instance
	// behind a load balancer (disabled when REDIS_ENABLED is unset/false).
	redisClient, err := redispkg.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()
	var distCache *redispkg.Cache
	if redisClient.Enabled() {
		distCache = redispkg.NewCache(redisClient, "astock")
		log.Info("Connected to Redis, distributed snapshot cache enabled")
	}

	// 5. Create in-memory quote cache and the failover gateway
	quoteCache := cache.New(cfg.Cache.Size, log)
	gw := gateway.New(primary, secondary, quoteCache, dbTier, distCache, gateway.Config{
		PrimaryRPS:      cfg.Tushare.RPS,
		SecondaryRPS:    cfg.AKShare.RPS,
		TTLReference:    cfg.Cache.TTLReference,
		TTLFundamentals: cfg.Cache.TTLFundamentals,
		TTLSnapshot:     cfg.Cache.TTLSnapshot,
		TTLHistory:      cfg.Cache.TTLHistory,
	}, log)

	// 5b. Daily cache-purge safety valve: forces a full reset of the
	// in-process quote cache at midnight so a long-running server never
	// serves indefinitely from stale entries even if a TTL misconfiguration
	// slips through.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc("0 0 * * *", func() {
		quoteCache.Purge()
		log.Info("Daily quote cache purge completed")
	}); err != nil {
		return fmt.Errorf("schedule cache sweep: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	// 6. Create universe resolver
	resolver := universe.New(gw)

	// 7. Load strategy registry
	reg, err := registry.Load(cfg.StrategyDir)
	if err != nil {
		return fmt.Errorf("load strategy registry: %w", err)
	}
	log.WithField("count", len(reg.List())).Info("Loaded strategy registry")

	// 8. Create job engine and its progress store
	progressStore := store.New(cfg.Job.Retention)
	engineCfg := job.DefaultConfig()
	engineCfg.DefaultWorkerCount = cfg.Job.DefaultWorkerCount
	engineCfg.MaxWorkerCount = cfg.Job.MaxWorkerCount
	engineCfg.MaxConcurrentJobs = cfg.Job.MaxConcurrentJobs
	engineCfg.JobRetention = cfg.Job.Retention
	engine := job.New(gw, resolver, reg, progressStore, engineCfg, log)

	// 9. Create handlers
	strategyHandler := handlers.NewStrategyHandler(engine, log)
	registryHandler := handlers.NewRegistryHandler(reg, log)

	// 10. Create router
	router := api.NewRouter(strategyHandler, registryHandler, log)

	// 11. Create server
	server := api.New(cfg, log, router)

	// 12. Start server with graceful shutdown
	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	log.Info("API server started successfully")
	fmt.Printf("\n✅ Server running on http://localhost:%s\n", cfg.Port)
	fmt.Println("\nAvailable endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /api/strategies")
	fmt.Println("  POST /api/strategies/execute")
	fmt.Println("  GET  /api/strategies/executions/{id}/progress")
	fmt.Println("  GET  /api/strategies/executions/{id}/result")
	fmt.Println("  POST /api/strategies/executions/{id}/cancel")
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("Server stopped")
	return nil
}
