package job

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wonny/aegis/v13/backend/internal/indicator"
	"github.com/wonny/aegis/v13/backend/internal/market"
	"github.com/wonny/aegis/v13/backend/internal/strategy"
	"github.com/wonny/aegis/v13/backend/internal/strategy/registry"
	"github.com/wonny/aegis/v13/backend/internal/universe"
	"github.com/wonny/aegis/v13/backend/pkg/logger"
)

// gateway is the minimal DataGateway surface Engine needs.
type gateway interface {
	FetchSnapshotBatch(ctx context.Context, codes []string) (map[string]market.QuoteSnapshot, error)
	FetchHistory(ctx context.Context, code string, from, to time.Time) ([]market.HistoryBar, error)
	FetchFundamentals(ctx context.Context, code string) (market.Fundamentals, error)
}

// resolver is the minimal UniverseResolver surface Engine needs.
type resolver interface {
	Resolve(ctx context.Context, filter universe.Filter) ([]market.Ticker, error)
}

// strategyRegistry is the minimal registry surface Engine needs.
type strategyRegistry interface {
	Get(id string) (registry.Entry, bool)
}

// Config bounds JobEngine's runtime behavior.
type Config struct {
	DefaultWorkerCount int
	MaxWorkerCount     int
	MaxConcurrentJobs  int
	JobRetention       int
	HistoryLookback    time.Duration
	FundamentalsTimeout time.Duration
	ReferenceTimeout    time.Duration
	ProgressWriteEvery  time.Duration
}

// DefaultConfig matches §6's configuration surface defaults.
func DefaultConfig() Config {
	return Config{
		DefaultWorkerCount:  5,
		MaxWorkerCount:      16,
		MaxConcurrentJobs:   4,
		JobRetention:        64,
		HistoryLookback:     400 * 24 * time.Hour,
		FundamentalsTimeout: 30 * time.Second,
		ReferenceTimeout:    10 * time.Second,
		ProgressWriteEvery:  500 * time.Millisecond,
	}
}

// progressStore is the minimal store surface Engine needs, matching
// internal/job/store.Store's exported method set.
type progressStore interface {
	Put(j *Job)
	Get(id string) (Job, bool)
	CountActive() int
}

// Engine is JobEngine: Start/Progress/Result/Cancel over a bounded worker
// pool per job. Grounded on the teacher's collector.Collector fan-out
// (channel distribution + sync.WaitGroup drain), generalized to a
// fetch->indicator->evaluate->commit pipeline with throttled progress
// writes and cooperative cancellation.
type Engine struct {
	gateway  gateway
	resolver resolver
	registry strategyRegistry
	store    progressStore
	cfg      Config
	logger   *logger.Logger

	cancelFlags sync.Map // job id -> *int32
}

// New creates an Engine wired to the given collaborators.
func New(gw gateway, res resolver, reg strategyRegistry, st progressStore, cfg Config, log *logger.Logger) *Engine {
	return &Engine{
		gateway:  gw,
		resolver: res,
		registry: reg,
		store:    st,
		cfg:      cfg,
		logger:   log.WithField("module", "job_engine"),
	}
}

func newJobID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Start validates req, allocates a Job in the pending state, and kicks off
// the background orchestrator. Returns the job id immediately.
func (e *Engine) Start(ctx context.Context, req Request) (string, error) {
	entry, ok := e.registry.Get(req.StrategyID)
	if !ok {
		return "", ErrUnknownStrategy
	}
	if err := validateParameters(entry, req.Parameters); err != nil {
		return "", err
	}
	if req.MaxStocks <= 0 {
		return "", ErrInvalidParameters
	}
	if e.cfg.MaxConcurrentJobs > 0 && e.store.CountActive() >= e.cfg.MaxConcurrentJobs {
		return "", ErrCapacityExceeded
	}

	workerCount := req.WorkerCount
	if workerCount <= 0 {
		workerCount = e.cfg.DefaultWorkerCount
	}
	if workerCount > e.cfg.MaxWorkerCount {
		workerCount = e.cfg.MaxWorkerCount
	}
	if workerCount < 1 {
		workerCount = 1
	}

	minScore := req.MinScore
	if minScore == 0 {
		minScore = entry.MinScoreDefault
	}

	params := make(strategy.Parameters, len(entry.DefaultParameters)+len(req.Parameters))
	for k, v := range entry.DefaultParameters {
		params[k] = v
	}
	for k, v := range req.Parameters {
		params[k] = v
	}

	id := newJobID()
	flag := new(int32)
	e.cancelFlags.Store(id, flag)

	j := &Job{
		ID:         id,
		StrategyID: req.StrategyID,
		Parameters: params,
		Filter:     req.Filter,
		State:      StatePending,
		Progress: ProgressView{
			JobID: id, State: StatePending, Stage: StageInitializing,
		},
		StartedAt: time.Now(),
	}
	e.store.Put(j)

	go e.run(context.Background(), id, entry.Definition, params, req, workerCount, minScore, flag)

	return id, nil
}

func validateParameters(entry registry.Entry, params strategy.Parameters) error {
	for _, b := range entry.Definition.Schema {
		if v, ok := params[b.Field+"_min"]; ok && b.Max != nil && v > *b.Max {
			return ErrInvalidParameters
		}
		if v, ok := params[b.Field+"_max"]; ok && b.Min != nil && v < *b.Min {
			return ErrInvalidParameters
		}
	}
	return nil
}

// Progress returns the current ProgressView for id.
func (e *Engine) Progress(id string) (ProgressView, error) {
	j, ok := e.store.Get(id)
	if !ok {
		return ProgressView{}, ErrNotFound
	}
	return j.Progress, nil
}

// Result returns the sealed FinalResult for id, or ErrNotReady if the
// job has not reached a terminal state.
func (e *Engine) Result(id string) (FinalResult, error) {
	j, ok := e.store.Get(id)
	if !ok {
		return FinalResult{}, ErrNotFound
	}
	if !j.State.Terminal() {
		return FinalResult{}, ErrNotReady
	}
	if j.Result == nil {
		return FinalResult{}, ErrNotReady
	}
	return *j.Result, nil
}

// Cancel flips the cancellation flag observed by id's workers. Returns
// ErrAlreadyTerminal if the job has already reached a terminal state.
func (e *Engine) Cancel(id string) error {
	j, ok := e.store.Get(id)
	if !ok {
		return ErrNotFound
	}
	if j.State.Terminal() {
		return ErrAlreadyTerminal
	}
	if v, ok := e.cancelFlags.Load(id); ok {
		atomic.StoreInt32(v.(*int32), 1)
	}
	return nil
}

func (e *Engine) isCancelled(flag *int32) bool {
	return atomic.LoadInt32(flag) == 1
}

// taskResult is one worker's outcome for a single ticker.
type taskResult struct {
	ticker market.Ticker
	merged market.MergedData
	ok     bool
}

// run is the background orchestrator for one job: resolve, fan out,
// rank, seal. Errors during the pipeline's fetch/evaluate stages are
// recorded as per-ticker skips and never fail the job outright; only an
// excessive skip ratio does.
func (e *Engine) run(ctx context.Context, id string, def strategy.Definition, params strategy.Parameters, req Request, workerCount int, minScore float64, flag *int32) {
	start := time.Now()
	j := Job{ID: id, StrategyID: req.StrategyID, Parameters: params, Filter: req.Filter, State: StateRunning, StartedAt: start}
	j.Progress = ProgressView{JobID: id, State: StateRunning, Stage: StageResolvingUniverse, Elapsed: 0}
	e.store.Put(&j)

	e.logger.WithFields(map[string]interface{}{
		"job_id": id, "strategy_id": req.StrategyID, "workers": workerCount,
	}).Info("Job started")

	tickers, err := e.resolver.Resolve(ctx, req.Filter)
	if err != nil {
		e.logger.WithError(err).WithField("job_id", id).Error("Failed to resolve universe")
		e.fail(id, start)
		return
	}

	sort.Slice(tickers, func(i, k int) bool { return tickers[i].Code < tickers[k].Code })
	maxStocks := req.MaxStocks
	if maxStocks > len(tickers) {
		maxStocks = len(tickers)
	}
	analysisSet := tickers[:maxStocks]
	total := len(analysisSet)

	if total == 0 {
		e.seal(id, start, nil, emptyStats(), false)
		return
	}

	// Phase 1: fetch MergedData for every ticker in the analysis set.
	fetched := make([]taskResult, total)
	var analyzed, skipped int32
	var lastWrite atomic.Int64
	var currentTicker atomic.Value
	currentTicker.Store("")

	e.writeProgress(id, start, StateRunning, StageFetchingData, 0, 0, total, 0, "", &lastWrite, true)

	fetchCh := make(chan int, total)
	for i := range analysisSet {
		fetchCh <- i
	}
	close(fetchCh)

	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range fetchCh {
				if e.isCancelled(flag) {
					continue
				}
				t := analysisSet[idx]
				currentTicker.Store(t.Code)
				merged, ok := e.fetchOne(ctx, t)
				fetched[idx] = taskResult{ticker: t, merged: merged, ok: ok}
				n := atomic.AddInt32(&analyzed, 1)
				if !ok {
					atomic.AddInt32(&skipped, 1)
				}
				e.writeProgress(id, start, StateRunning, StageFetchingData, int(n), 0, total, 0, currentTicker.Load().(string), &lastWrite, false)
			}
		}()
	}
	wg.Wait()

	if e.isCancelled(flag) {
		e.sealPartial(id, start, nil, buildFetchPhaseStats(fetched, total, time.Since(start)), true)
		return
	}

	skipThreshold := math.Max(50, 0.5*float64(total))
	if float64(skipped) > skipThreshold {
		e.fail(id, start)
		return
	}

	industryMedian := medianReturn20(fetched)

	// Phase 2: compute indicators and evaluate each fetched ticker.
	atomic.StoreInt32(&analyzed, 0)
	e.writeProgress(id, start, StateRunning, StageAnalyzing, 0, 0, total, int(skipped), "", &lastWrite, true)

	scoredCh := make(chan strategy.ScoredStock, total)
	idxCh := make(chan int, total)
	for i, r := range fetched {
		if r.ok {
			idxCh <- i
		}
	}
	close(idxCh)

	var wg2 sync.WaitGroup
	var qualified int32
	for w := 0; w < workerCount; w++ {
		wg2.Add(1)
		go func() {
			defer wg2.Done()
			for idx := range idxCh {
				if e.isCancelled(flag) {
					continue
				}
				r := fetched[idx]
				currentTicker.Store(r.ticker.Code)
				ind := indicator.Compute(r.merged.History)
				sctx := strategy.Context{
					Data: r.merged, Indicators: ind, Bars: r.merged.History,
					IndustryMedianReturn20: industryMedian, MinScore: minScore,
				}
				scored := strategy.Evaluate(sctx, def, params)
				scoredCh <- scored
				if scored.Qualified {
					atomic.AddInt32(&qualified, 1)
				}
				n := atomic.AddInt32(&analyzed, 1)
				e.writeProgress(id, start, StateRunning, StageAnalyzing, int(n), int(qualified), total, int(skipped), currentTicker.Load().(string), &lastWrite, false)
			}
		}()
	}
	wg2.Wait()
	close(scoredCh)

	all := make([]strategy.ScoredStock, 0, total)
	for s := range scoredCh {
		all = append(all, s)
	}

	if e.isCancelled(flag) {
		e.sealPartial(id, start, all, buildStats(all, fetched, total, time.Since(start)), true)
		return
	}

	e.writeProgress(id, start, StateRunning, StageRanking, int(analyzed), int(qualified), total, int(skipped), "", &lastWrite, true)
	e.seal(id, start, all, buildStats(all, fetched, total, time.Since(start)), false)

	e.logger.WithFields(map[string]interface{}{
		"job_id": id, "analyzed": analyzed, "qualified": qualified, "skipped": skipped,
	}).Info("Job completed")
}

// fetchOne runs steps a (fetch) for one ticker. Any error collapses to
// (zero MergedData, false) — the caller records it as a skip.
func (e *Engine) fetchOne(ctx context.Context, t market.Ticker) (market.MergedData, bool) {
	refCtx, cancel := context.WithTimeout(ctx, e.cfg.ReferenceTimeout)
	defer cancel()
	batch, err := e.gateway.FetchSnapshotBatch(refCtx, []string{t.Code})
	if err != nil {
		return market.MergedData{}, false
	}
	snap, ok := batch[t.Code]
	if !ok {
		return market.MergedData{}, false
	}

	histCtx, cancel2 := context.WithTimeout(ctx, e.cfg.FundamentalsTimeout)
	defer cancel2()
	to := time.Now()
	from := to.Add(-e.cfg.HistoryLookback)
	history, err := e.gateway.FetchHistory(histCtx, t.Code, from, to)
	if err != nil {
		return market.MergedData{}, false
	}

	fundCtx, cancel3 := context.WithTimeout(ctx, e.cfg.FundamentalsTimeout)
	defer cancel3()
	fund, err := e.gateway.FetchFundamentals(fundCtx, t.Code)
	if err != nil {
		return market.MergedData{}, false
	}

	return market.MergedData{Ticker: t, Snapshot: snap, History: history, Fundamentals: fund}, true
}

// medianReturn20 computes the median 20-bar percent return across every
// successfully fetched ticker. This approximates the spec's
// "industry median" with a whole-batch median; tickers are not grouped by
// industry.
func medianReturn20(fetched []taskResult) float64 {
	returns := make([]float64, 0, len(fetched))
	for _, r := range fetched {
		if !r.ok || len(r.merged.History) < 21 {
			continue
		}
		bars := r.merged.History
		last := bars[len(bars)-1].Close
		prior := bars[len(bars)-21].Close
		if prior == 0 {
			continue
		}
		returns = append(returns, (last-prior)/prior*100)
	}
	if len(returns) == 0 {
		return 0
	}
	sort.Float64s(returns)
	mid := len(returns) / 2
	if len(returns)%2 == 0 {
		return (returns[mid-1] + returns[mid]) / 2
	}
	return returns[mid]
}

// emptyStats is the sealed AnalyzedStats for a job whose analysis set is
// empty (no tickers to process at all).
func emptyStats() AnalyzedStats {
	return AnalyzedStats{
		DataSourceBreakdown: map[string]int{},
		GradeDistribution:   GradeCounts{},
		MarketDistribution:  MarketCounts{},
	}
}

// buildStats assembles AnalyzedStats once scoring has run: analyzed is
// every ticker that was actually evaluated, skipped is everything else in
// the analysis set (fetch failures, never-dispatched tickers cut off by
// cancellation, and fetched-but-never-scored tickers cut off mid-analyze)
// so analyzed+skipped == total always holds. Data-source breakdown is
// tallied per scored ticker from the provider that served its snapshot.
func buildStats(scored []strategy.ScoredStock, fetched []taskResult, total int, elapsed time.Duration) AnalyzedStats {
	sourceByCode := make(map[string]string, len(fetched))
	for _, r := range fetched {
		if r.ok {
			sourceByCode[r.ticker.Code] = r.merged.Snapshot.Source
		}
	}

	stats := AnalyzedStats{
		AnalyzedCount:       len(scored),
		SkippedCount:        total - len(scored),
		DataSourceBreakdown: map[string]int{},
		GradeDistribution:   GradeCounts{},
		MarketDistribution:  MarketCounts{},
	}
	for _, s := range scored {
		stats.GradeDistribution[s.Grade]++
		stats.MarketDistribution[s.Ticker.Market]++
		if src := sourceByCode[s.Ticker.Code]; src != "" {
			stats.DataSourceBreakdown[src]++
		}
	}
	if len(scored) > 0 {
		stats.AvgTimePerStock = elapsed / time.Duration(len(scored))
	}
	return stats
}

// buildFetchPhaseStats assembles AnalyzedStats for a job cancelled during
// the fetch phase, before any ticker has been scored. analyzed counts
// every ticker a worker actually dispatched (fetch attempted, whether it
// succeeded or not); tickers cancellation kept a worker from ever
// dispatching stay zero-value in fetched and count as skipped.
func buildFetchPhaseStats(fetched []taskResult, total int, elapsed time.Duration) AnalyzedStats {
	stats := emptyStats()
	for _, r := range fetched {
		if r.ticker.Code == "" {
			continue
		}
		stats.AnalyzedCount++
		if r.ok && r.merged.Snapshot.Source != "" {
			stats.DataSourceBreakdown[r.merged.Snapshot.Source]++
		}
	}
	stats.SkippedCount = total - stats.AnalyzedCount
	if stats.AnalyzedCount > 0 {
		stats.AvgTimePerStock = elapsed / time.Duration(stats.AnalyzedCount)
	}
	return stats
}

// writeProgress coalesces ProgressStore writes to at most once per
// ProgressWriteEvery, or unconditionally when force is true (state
// transitions). Keeps poll-read cost O(1) and avoids lock thrash on the
// hot fan-out path.
func (e *Engine) writeProgress(id string, start time.Time, state State, stage Stage, analyzed, qualified, total, skipped int, current string, lastWrite *atomic.Int64, force bool) {
	now := time.Now()
	if !force {
		last := lastWrite.Load()
		if last != 0 && now.Sub(time.Unix(0, last)) < e.cfg.ProgressWriteEvery {
			return
		}
		if !lastWrite.CompareAndSwap(last, now.UnixNano()) {
			return
		}
	} else {
		lastWrite.Store(now.UnixNano())
	}

	pct := 0
	if total > 0 {
		pct = int(float64(analyzed) / float64(total) * 100)
	}
	if floor, ok := stageFloor[stage]; ok && floor > pct {
		pct = floor
	}

	j, ok := e.store.Get(id)
	if !ok {
		return
	}
	// The analyzing phase restarts its count at zero; never report a lower
	// percent than the one already stored.
	if j.Progress.ProgressPct > pct {
		pct = j.Progress.ProgressPct
	}
	j.State = state
	j.Progress = ProgressView{
		JobID: id, State: state, Stage: stage, ProgressPct: pct,
		AnalyzedCount: analyzed, QualifiedCount: qualified, SkippedCount: skipped,
		TotalCount: total, CurrentTicker: current, Elapsed: now.Sub(start),
	}
	e.store.Put(&j)
}

func (e *Engine) fail(id string, start time.Time) {
	j, ok := e.store.Get(id)
	if !ok {
		return
	}
	j.State = StateFailed
	j.CompletedAt = time.Now()
	j.Progress.State = StateFailed
	j.Progress.Stage = StageDone
	j.Progress.Elapsed = j.CompletedAt.Sub(start)
	e.store.Put(&j)
}

func (e *Engine) seal(id string, start time.Time, scored []strategy.ScoredStock, stats AnalyzedStats, cancelled bool) {
	result := rankAndSeal(scored, stats, cancelled)
	j, ok := e.store.Get(id)
	if !ok {
		return
	}
	j.State = StateCompleted
	if cancelled {
		j.State = StateCancelled
	}
	j.CompletedAt = time.Now()
	j.Result = &result
	j.Progress.State = j.State
	j.Progress.Stage = StageDone
	j.Progress.ProgressPct = 100
	j.Progress.Elapsed = j.CompletedAt.Sub(start)
	j.Progress.Cancelled = cancelled
	e.store.Put(&j)
}

// sealPartial seals a cancelled job's accumulated partial results.
func (e *Engine) sealPartial(id string, start time.Time, scored []strategy.ScoredStock, stats AnalyzedStats, cancelled bool) {
	e.seal(id, start, scored, stats, cancelled)
}

// rankAndSeal implements §4.7.5: sort by score desc / cap desc / code
// asc, partition qualified, assemble FinalResult with top-N =
// min(50, qualified.size).
func rankAndSeal(scored []strategy.ScoredStock, stats AnalyzedStats, cancelled bool) FinalResult {
	sort.Slice(scored, func(i, k int) bool {
		a, b := scored[i], scored[k]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Ticker.TotalMarketCap != b.Ticker.TotalMarketCap {
			return a.Ticker.TotalMarketCap > b.Ticker.TotalMarketCap
		}
		return a.Ticker.Code < b.Ticker.Code
	})

	qualified := make([]strategy.ScoredStock, 0, len(scored))
	for _, s := range scored {
		if s.Qualified {
			qualified = append(qualified, s)
		}
	}

	topN := len(qualified)
	if topN > 50 {
		topN = 50
	}

	return FinalResult{
		TopN:      append([]strategy.ScoredStock{}, qualified[:topN]...),
		Qualified: qualified,
		Stats:     stats,
		Cancelled: cancelled,
	}
}
