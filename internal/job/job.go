// Package job implements JobEngine: the center of the core. Accepts a
// strategy-execution request, drives the UniverseResolver →
// DataGateway → IndicatorKernel → StrategyEvaluator pipeline across a
// bounded worker pool, and assembles a ranked FinalResult. Grounded on
// the teacher's internal/s0_data/collector.Collector worker-pool shape
// (channel fan-out, sync.WaitGroup drain, per-item error recorded as a
// skip rather than a hard failure), generalized from a fixed
// fetch-and-save collector into a fetch→score→rank pipeline with
// progress reporting and cancellation.
package job

import (
	"encoding/json"
	"time"

	"github.com/wonny/aegis/v13/backend/internal/market"
	"github.com/wonny/aegis/v13/backend/internal/strategy"
	"github.com/wonny/aegis/v13/backend/internal/universe"
)

// State is a Job's lifecycle state. Transitions are forward-only:
// pending -> running -> {completed, failed, cancelled}. No regression.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Stage tags the orchestrator's current phase for ProgressView.
type Stage string

const (
	StageInitializing      Stage = "initializing"
	StageResolvingUniverse Stage = "resolving-universe"
	StageFetchingData      Stage = "fetching-data"
	StageAnalyzing         Stage = "analyzing"
	StageRanking           Stage = "ranking"
	StageFinalizing        Stage = "finalizing"
	StageDone              Stage = "done"
)

// stageFloor is the minimum progress percent guaranteed once a stage is
// reached, so the reported percent is monotonic even before any ticker
// has been analyzed.
var stageFloor = map[Stage]int{
	StageInitializing:      0,
	StageResolvingUniverse: 2,
	StageFetchingData:      5,
	StageAnalyzing:         5,
	StageRanking:           95,
	StageFinalizing:        98,
	StageDone:              100,
}

// Request is a Start() input: the caller-supplied execution parameters.
type Request struct {
	StrategyID  string
	Parameters  strategy.Parameters
	Filter      universe.Filter
	MinScore    float64
	// MaxStocks truncates the resolved universe to its first N tickers in
	// code order. Must be positive — Start rejects MaxStocks <= 0 as
	// ErrInvalidParameters. A full-universe scan is expressed by passing a
	// MaxStocks larger than the universe, not by 0.
	MaxStocks   int
	WorkerCount int
}

// ProgressView is the read-only snapshot returned by Progress(id).
type ProgressView struct {
	JobID          string
	State          State
	Stage          Stage
	ProgressPct    int
	AnalyzedCount  int
	QualifiedCount int
	SkippedCount   int
	TotalCount     int
	CurrentTicker  string
	Elapsed        time.Duration
	Cancelled      bool
}

// progressViewWire is ProgressView's JSON wire shape: snake_case keys and
// Elapsed rendered as fractional seconds rather than Duration's integer
// nanoseconds, matching the convention handlers.respondJSON's callers use
// elsewhere for wire-facing structs.
type progressViewWire struct {
	JobID          string  `json:"job_id"`
	State          string  `json:"state"`
	Stage          string  `json:"stage"`
	ProgressPct    int     `json:"progress_pct"`
	AnalyzedCount  int     `json:"analyzed_count"`
	QualifiedCount int     `json:"qualified_count"`
	SkippedCount   int     `json:"skipped_count"`
	TotalCount     int     `json:"total_count"`
	CurrentTicker  string  `json:"current_ticker"`
	Elapsed        float64 `json:"elapsed_seconds"`
	Cancelled      bool    `json:"cancelled"`
}

func (p ProgressView) MarshalJSON() ([]byte, error) {
	return json.Marshal(progressViewWire{
		JobID:          p.JobID,
		State:          string(p.State),
		Stage:          string(p.Stage),
		ProgressPct:    p.ProgressPct,
		AnalyzedCount:  p.AnalyzedCount,
		QualifiedCount: p.QualifiedCount,
		SkippedCount:   p.SkippedCount,
		TotalCount:     p.TotalCount,
		CurrentTicker:  p.CurrentTicker,
		Elapsed:        p.Elapsed.Seconds(),
		Cancelled:      p.Cancelled,
	})
}

// GradeCounts tallies analyzed stocks by grade bucket.
type GradeCounts map[strategy.Grade]int

// MarketCounts tallies analyzed stocks by market.
type MarketCounts map[market.Market]int

// AnalyzedStats summarizes the full analysis set, not just qualified
// stocks — data-source breakdown, timing, and distribution shape.
type AnalyzedStats struct {
	AnalyzedCount       int            `json:"analyzed_count"`
	SkippedCount        int            `json:"skipped_count"`
	AvgTimePerStock     time.Duration  `json:"avg_time_per_stock_ns"`
	DataSourceBreakdown map[string]int `json:"data_source_breakdown"`
	GradeDistribution   GradeCounts    `json:"grade_distribution"`
	MarketDistribution  MarketCounts   `json:"market_distribution"`
}

// FinalResult is the sealed, immutable outcome of a completed (or
// cancelled) job.
type FinalResult struct {
	TopN      []strategy.ScoredStock `json:"top_n"`
	Qualified []strategy.ScoredStock `json:"qualified"`
	Stats     AnalyzedStats          `json:"stats"`
	Cancelled bool                   `json:"cancelled"`
}

// Job is the full lifecycle record held by ProgressStore.
type Job struct {
	ID          string
	StrategyID  string
	Parameters  strategy.Parameters
	Filter      universe.Filter
	State       State
	Progress    ProgressView
	Result      *FinalResult
	StartedAt   time.Time
	CompletedAt time.Time
}
