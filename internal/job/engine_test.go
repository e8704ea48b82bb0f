package job_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/wonny/aegis/v13/backend/internal/job"
	"github.com/wonny/aegis/v13/backend/internal/job/store"
	"github.com/wonny/aegis/v13/backend/internal/market"
	"github.com/wonny/aegis/v13/backend/internal/strategy"
	"github.com/wonny/aegis/v13/backend/internal/strategy/registry"
	"github.com/wonny/aegis/v13/backend/internal/universe"
	"github.com/wonny/aegis/v13/backend/pkg/config"
	"github.com/wonny/aegis/v13/backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&config.Config{Env: "test", LogLevel: "error"})
}

// fakeGateway serves fixed, deterministic bars so the evaluator sees a
// reproducible IndicatorSet for every ticker.
type fakeGateway struct {
	fail map[string]bool
}

func (g *fakeGateway) FetchSnapshotBatch(ctx context.Context, codes []string) (map[string]market.QuoteSnapshot, error) {
	out := make(map[string]market.QuoteSnapshot, len(codes))
	for _, c := range codes {
		if g.fail[c] {
			continue
		}
		out[c] = market.QuoteSnapshot{Code: c, Close: 20, PreviousClose: 19, Source: "fixture"}
	}
	return out, nil
}

func (g *fakeGateway) FetchHistory(ctx context.Context, code string, from, to time.Time) ([]market.HistoryBar, error) {
	if g.fail[code] {
		return nil, assertErr
	}
	bars := make([]market.HistoryBar, 40)
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		c := 10 + float64(i)*0.1
		bars[i] = market.HistoryBar{Date: day.AddDate(0, 0, i), Open: c, High: c * 1.01, Low: c * 0.99, Close: c, Volume: 1_000_000}
	}
	return bars, nil
}

func (g *fakeGateway) FetchFundamentals(ctx context.Context, code string) (market.Fundamentals, error) {
	roe := 15.0
	pe := 18.0
	return market.Fundamentals{ROE: &roe, PE: &pe}, nil
}

var assertErr = errSentinel("fetch failed")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }

type fakeResolver struct {
	tickers []market.Ticker
}

func (r *fakeResolver) Resolve(ctx context.Context, filter universe.Filter) ([]market.Ticker, error) {
	return r.tickers, nil
}

type fakeRegistry struct {
	entries map[string]registry.Entry
}

func (r *fakeRegistry) Get(id string) (registry.Entry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

func tickersN(n int) []market.Ticker {
	out := make([]market.Ticker, n)
	for i := range out {
		out[i] = market.Ticker{Code: string(rune('A' + i)), Market: market.MarketSH, TotalMarketCap: float64(n - i)}
	}
	return out
}

func sampleEntry() registry.Entry {
	min := 5.0
	return registry.Entry{
		Definition: strategy.Definition{
			ID: "demo",
			Schema: strategy.ParameterSchema{
				{Field: "roe", Min: &min, Weight: 1, Hard: true},
			},
		},
		MinScoreDefault: 50,
	}
}

func waitTerminal(t *testing.T, e *Engine, id string) ProgressView {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pv, err := e.Progress(id)
		require.NoError(t, err)
		if pv.State.Terminal() {
			return pv
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state in time")
	return ProgressView{}
}

func TestEngine_EmptyUniverseCompletesImmediately(t *testing.T) {
	reg := &fakeRegistry{entries: map[string]registry.Entry{"demo": sampleEntry()}}
	eng := New(&fakeGateway{}, &fakeResolver{}, reg, store.New(10), DefaultConfig(), testLogger())

	id, err := eng.Start(context.Background(), Request{StrategyID: "demo", MaxStocks: 100})
	require.NoError(t, err)

	pv := waitTerminal(t, eng, id)
	assert.Equal(t, StateCompleted, pv.State)

	result, err := eng.Result(id)
	require.NoError(t, err)
	assert.Empty(t, result.Qualified)
}

func TestEngine_UnknownStrategyRejected(t *testing.T) {
	reg := &fakeRegistry{entries: map[string]registry.Entry{}}
	eng := New(&fakeGateway{}, &fakeResolver{}, reg, store.New(10), DefaultConfig(), testLogger())
	_, err := eng.Start(context.Background(), Request{StrategyID: "missing"})
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestEngine_ResultNotReadyWhileRunning(t *testing.T) {
	reg := &fakeRegistry{entries: map[string]registry.Entry{"demo": sampleEntry()}}
	eng := New(&fakeGateway{}, &fakeResolver{tickers: tickersN(5)}, reg, store.New(10), DefaultConfig(), testLogger())

	id, err := eng.Start(context.Background(), Request{StrategyID: "demo", MaxStocks: 100})
	require.NoError(t, err)

	_, err = eng.Result(id)
	if err != nil {
		assert.ErrorIs(t, err, ErrNotReady)
	}
	waitTerminal(t, eng, id)
}

func TestEngine_QualifiedStocksAreRankedDeterministically(t *testing.T) {
	reg := &fakeRegistry{entries: map[string]registry.Entry{"demo": sampleEntry()}}
	eng := New(&fakeGateway{}, &fakeResolver{tickers: tickersN(10)}, reg, store.New(10), DefaultConfig(), testLogger())

	id, err := eng.Start(context.Background(), Request{StrategyID: "demo", MaxStocks: 100})
	require.NoError(t, err)
	waitTerminal(t, eng, id)

	result, err := eng.Result(id)
	require.NoError(t, err)
	require.NotEmpty(t, result.Qualified)

	for i := 1; i < len(result.Qualified); i++ {
		prev, cur := result.Qualified[i-1], result.Qualified[i]
		assert.GreaterOrEqual(t, prev.Score, cur.Score, "qualified list must be sorted by score descending")
	}
}

func TestEngine_SkippedTickersDoNotFailJobBelowThreshold(t *testing.T) {
	reg := &fakeRegistry{entries: map[string]registry.Entry{"demo": sampleEntry()}}
	gw := &fakeGateway{fail: map[string]bool{"A": true}}
	eng := New(gw, &fakeResolver{tickers: tickersN(5)}, reg, store.New(10), DefaultConfig(), testLogger())

	id, err := eng.Start(context.Background(), Request{StrategyID: "demo", MaxStocks: 100})
	require.NoError(t, err)
	pv := waitTerminal(t, eng, id)
	assert.Equal(t, StateCompleted, pv.State, "a single skip out of 5 must not exceed the failure threshold")
}

func TestEngine_CancelMarksJobCancelled(t *testing.T) {
	reg := &fakeRegistry{entries: map[string]registry.Entry{"demo": sampleEntry()}}
	eng := New(&fakeGateway{}, &fakeResolver{tickers: tickersN(50)}, reg, store.New(10), DefaultConfig(), testLogger())

	id, err := eng.Start(context.Background(), Request{StrategyID: "demo", MaxStocks: 100})
	require.NoError(t, err)
	_ = eng.Cancel(id)

	pv := waitTerminal(t, eng, id)
	assert.Equal(t, StateCancelled, pv.State)
	assert.True(t, pv.Cancelled)

	result, err := eng.Result(id)
	require.NoError(t, err)
	assert.Equal(t, pv.TotalCount, result.Stats.AnalyzedCount+result.Stats.SkippedCount,
		"analyzed+skipped must equal the analysis set size for any terminal job, including mid-run cancellation")
}

func TestEngine_CancelAlreadyTerminalReturnsError(t *testing.T) {
	reg := &fakeRegistry{entries: map[string]registry.Entry{"demo": sampleEntry()}}
	eng := New(&fakeGateway{}, &fakeResolver{}, reg, store.New(10), DefaultConfig(), testLogger())

	id, err := eng.Start(context.Background(), Request{StrategyID: "demo", MaxStocks: 100})
	require.NoError(t, err)
	waitTerminal(t, eng, id)

	err = eng.Cancel(id)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
}

func TestEngine_MaxStocksZeroRejectedAsInvalidParameters(t *testing.T) {
	reg := &fakeRegistry{entries: map[string]registry.Entry{"demo": sampleEntry()}}
	eng := New(&fakeGateway{}, &fakeResolver{tickers: tickersN(7)}, reg, store.New(10), DefaultConfig(), testLogger())

	_, err := eng.Start(context.Background(), Request{StrategyID: "demo", MaxStocks: 0})
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestEngine_MaxStocksNegativeRejectedAsInvalidParameters(t *testing.T) {
	reg := &fakeRegistry{entries: map[string]registry.Entry{"demo": sampleEntry()}}
	eng := New(&fakeGateway{}, &fakeResolver{tickers: tickersN(7)}, reg, store.New(10), DefaultConfig(), testLogger())

	_, err := eng.Start(context.Background(), Request{StrategyID: "demo", MaxStocks: -1})
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestEngine_SealedStatsCarryDataSourceBreakdownAndAvgTime(t *testing.T) {
	reg := &fakeRegistry{entries: map[string]registry.Entry{"demo": sampleEntry()}}
	eng := New(&fakeGateway{}, &fakeResolver{tickers: tickersN(5)}, reg, store.New(10), DefaultConfig(), testLogger())

	id, err := eng.Start(context.Background(), Request{StrategyID: "demo", MaxStocks: 100})
	require.NoError(t, err)
	waitTerminal(t, eng, id)

	result, err := eng.Result(id)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Stats.AnalyzedCount)
	assert.Equal(t, 0, result.Stats.SkippedCount)
	assert.Equal(t, map[string]int{"fixture": 5}, result.Stats.DataSourceBreakdown)
	assert.GreaterOrEqual(t, result.Stats.AvgTimePerStock, time.Duration(0))
}

func TestEngine_RankingStableAcrossWorkerCounts(t *testing.T) {
	reg := &fakeRegistry{entries: map[string]registry.Entry{"demo": sampleEntry()}}

	run := func(workers int) []string {
		eng := New(&fakeGateway{}, &fakeResolver{tickers: tickersN(20)}, reg, store.New(10), DefaultConfig(), testLogger())
		id, err := eng.Start(context.Background(), Request{StrategyID: "demo", MaxStocks: 100, WorkerCount: workers})
		require.NoError(t, err)
		waitTerminal(t, eng, id)
		result, err := eng.Result(id)
		require.NoError(t, err)
		codes := make([]string, len(result.Qualified))
		for i, s := range result.Qualified {
			codes[i] = s.Ticker.Code
		}
		return codes
	}

	a := run(1)
	b := run(8)
	assert.Equal(t, a, b, "final ranking must not depend on worker count")
}
