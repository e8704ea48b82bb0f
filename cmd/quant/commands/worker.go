package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

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

// workerCmd groups commands that execute strategy jobs outside of the API
// server — useful for scripted/cron-driven runs that don't need HTTP.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "전략 실행 워커",
	Long: `HTTP 서버 없이 JobEngine을 직접 구동합니다.

Example:
  go run ./cmd/quant worker run --strategy blue_chip_stable
  go run ./cmd/quant worker run --strategy momentum_breakout --markets SH,SZ`,
}

// workerRunCmd runs a single strategy execution to completion and prints
// the sealed result, polling Progress the way a client would.
var workerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "단일 전략 실행",
	Long: `지정한 전략 하나를 끝까지 실행하고 결과를 출력합니다.

Example:
  go run ./cmd/quant worker run --strategy blue_chip_stable --max-stocks 20`,
	RunE: runWorkerRun,
}

var (
	workerStrategyID  string
	workerMarkets     []string
	workerIndustries  []string
	workerMaxStocks   int
	workerMinScore    float64
	workerWorkerCount int
)

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.AddCommand(workerRunCmd)

	workerRunCmd.Flags().StringVar(&workerStrategyID, "strategy", "", "실행할 전략 ID (필수)")
	workerRunCmd.Flags().StringSliceVar(&workerMarkets, "markets", []string{"ALL"}, "대상 시장 (예: SH,SZ)")
	workerRunCmd.Flags().StringSliceVar(&workerIndustries, "industries", []string{"ALL"}, "대상 업종")
	workerRunCmd.Flags().IntVar(&workerMaxStocks, "max-stocks", 100000, "분석 대상 상한 (전체 유니버스보다 큰 값을 주면 전체 스캔, 0 이하는 거부됨)")
	workerRunCmd.Flags().Float64Var(&workerMinScore, "min-score", 0, "합격 최소 점수 (0=전략 기본값 사용)")
	workerRunCmd.Flags().IntVar(&workerWorkerCount, "workers", 0, "동시 워커 수 (0=기본값 사용)")
	workerRunCmd.MarkFlagRequired("strategy")
}

func runWorkerRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg)

	var dbTier *dbtier.Tier
	if cfg.Database.URL != "" {
		db, err := database.New(cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		dbTier = dbtier.New(db.Pool)
	}

	httpClient := httputil.New(cfg, log)
	primary := tushare.New(httpClient, log, cfg.Tushare.Token)
	secondary := akshare.New(httpClient, log)

	redisClient, err := redispkg.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()
	var distCache *redispkg.Cache
	if redisClient.Enabled() {
		distCache = redispkg.NewCache(redisClient, "astock")
	}

	quoteCache := cache.New(cfg.Cache.Size, log)
	gw := gateway.New(primary, secondary, quoteCache, dbTier, distCache, gateway.Config{
		PrimaryRPS:      cfg.Tushare.RPS,
		SecondaryRPS:    cfg.AKShare.RPS,
		TTLReference:    cfg.Cache.TTLReference,
		TTLFundamentals: cfg.Cache.TTLFundamentals,
		TTLSnapshot:     cfg.Cache.TTLSnapshot,
		TTLHistory:      cfg.Cache.TTLHistory,
	}, log)
	resolver := universe.New(gw)

	reg, err := registry.Load(cfg.StrategyDir)
	if err != nil {
		return fmt.Errorf("load strategy registry: %w", err)
	}

	progressStore := store.New(cfg.Job.Retention)
	engineCfg := job.DefaultConfig()
	engineCfg.DefaultWorkerCount = cfg.Job.DefaultWorkerCount
	engineCfg.MaxWorkerCount = cfg.Job.MaxWorkerCount
	engineCfg.MaxConcurrentJobs = cfg.Job.MaxConcurrentJobs
	engineCfg.JobRetention = cfg.Job.Retention
	engine := job.New(gw, resolver, reg, progressStore, engineCfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n⚠️  Cancellation requested")
		cancel()
	}()

	id, err := engine.Start(ctx, job.Request{
		StrategyID:  workerStrategyID,
		Filter:      universe.Filter{Markets: workerMarkets, Industries: workerIndustries},
		MaxStocks:   workerMaxStocks,
		MinScore:    workerMinScore,
		WorkerCount: workerWorkerCount,
	})
	if err != nil {
		return fmt.Errorf("start execution: %w", err)
	}

	PrintJobHeader(JobMetadata{
		JobID:     1,
		JobType:   fmt.Sprintf("Strategy Execution: %s", workerStrategyID),
		Tag:       "Strategy",
		Timestamp: time.Now().Format("15:04:05"),
	})

	lastStage := job.Stage("")
	for {
		select {
		case <-ctx.Done():
			if err := engine.Cancel(id); err != nil && err != job.ErrAlreadyTerminal {
				log.WithError(err).Warn("Failed to cancel execution")
			}
		default:
		}

		pv, err := engine.Progress(id)
		if err != nil {
			return fmt.Errorf("read progress: %w", err)
		}
		if pv.Stage != lastStage {
			PrintProgress(string(pv.State), string(pv.Stage), pv.ProgressPct, 100)
			lastStage = pv.Stage
		}
		if pv.State.Terminal() {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}

	result, err := engine.Result(id)
	if err != nil {
		return fmt.Errorf("read result: %w", err)
	}

	fmt.Println()
	PrintKeyValue("Analyzed", fmt.Sprintf("%d", result.Stats.AnalyzedCount), 14)
	PrintKeyValue("Skipped", fmt.Sprintf("%d", result.Stats.SkippedCount), 14)
	PrintKeyValue("Qualified", fmt.Sprintf("%d", len(result.Qualified)), 14)
	PrintKeyValue("Cancelled", fmt.Sprintf("%v", result.Cancelled), 14)
	fmt.Println()

	if len(result.TopN) > 0 {
		PrintTableHeader([]string{"Rank", "Code", "Grade", "Score"}, []int{6, 10, 7, 8})
		for i, s := range result.TopN {
			PrintTableRow([]string{
				fmt.Sprintf("%d", i+1),
				s.Ticker.Code,
				string(s.Grade),
				fmt.Sprintf("%.2f", s.Score),
			}, []int{6, 10, 7, 8})
		}
	}

	PrintJobCompletion(1, 0)
	return nil
}
