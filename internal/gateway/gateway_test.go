package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/v13/backend/internal/cache"
	"github.com/wonny/aegis/v13/backend/internal/market"
	"github.com/wonny/aegis/v13/backend/internal/provider"
	"github.com/wonny/aegis/v13/backend/internal/provider/fixture"
	"github.com/wonny/aegis/v13/backend/pkg/config"
	"github.com/wonny/aegis/v13/backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&config.Config{Env: "test", LogLevel: "error"})
}

func newGateway(primary, secondary provider.QuoteProvider) *Gateway {
	return New(primary, secondary, cache.New(64, testLogger()), nil, nil, DefaultConfig(), testLogger())
}

func TestGateway_SnapshotFailsOverToSecondaryOnUnavailable(t *testing.T) {
	primary := fixture.New("tushare")
	secondary := fixture.New("akshare")
	primary.FailSnapshot("600036", &provider.Error{Kind: provider.KindUnavailable, Provider: "tushare"})
	secondary.SeedSnapshot("600036", market.QuoteSnapshot{Code: "600036", Close: 30, PreviousClose: 29, Volume: 100})

	gw := newGateway(primary, secondary)
	batch, err := gw.FetchSnapshotBatch(context.Background(), []string{"600036"})
	require.NoError(t, err)

	snap, ok := batch["600036"]
	require.True(t, ok)
	assert.Equal(t, "akshare", snap.Source, "a failed-over snapshot must be stamped with the provider that actually served it")

	_, snapshotCalls, _, _ := primary.Calls()
	_, snapshotCalls2, _, _ := secondary.Calls()
	assert.Equal(t, int64(1), snapshotCalls, "primary must be called exactly once before failover")
	assert.Equal(t, int64(1), snapshotCalls2, "secondary must be called exactly once after failover")
}

func TestGateway_SnapshotDoesNotFailOverOnNotFound(t *testing.T) {
	primary := fixture.New("tushare")
	secondary := fixture.New("akshare")
	// primary has no snapshot for the code and no scripted failure, so
	// fetchSnapshotFrom returns KindNotFound, which shouldFailover rejects.
	secondary.SeedSnapshot("600036", market.QuoteSnapshot{Code: "600036", Close: 30, PreviousClose: 29})

	gw := newGateway(primary, secondary)
	batch, err := gw.FetchSnapshotBatch(context.Background(), []string{"600036"})
	require.NoError(t, err)
	assert.Empty(t, batch, "not-found is not a failover trigger, so the ticker is dropped as a per-ticker skip")

	_, snapshotCalls2, _, _ := secondary.Calls()
	assert.Equal(t, int64(0), snapshotCalls2, "secondary must never be called when the primary error kind isn't failover-eligible")
}

func TestGateway_SnapshotSourceStampedFromPrimaryOnSuccess(t *testing.T) {
	primary := fixture.New("tushare")
	primary.SeedSnapshot("600036", market.QuoteSnapshot{Code: "600036", Close: 30, PreviousClose: 29})

	gw := newGateway(primary, nil)
	batch, err := gw.FetchSnapshotBatch(context.Background(), []string{"600036"})
	require.NoError(t, err)
	assert.Equal(t, "tushare", batch["600036"].Source)
}

func TestGateway_MalformedSnapshotDropsRecordAndFailsOver(t *testing.T) {
	primary := fixture.New("tushare")
	secondary := fixture.New("akshare")
	primary.SeedSnapshot("600036", market.QuoteSnapshot{Code: "600036", Close: 0, PreviousClose: 29})
	secondary.SeedSnapshot("600036", market.QuoteSnapshot{Code: "600036", Close: 30, PreviousClose: 29})

	gw := newGateway(primary, secondary)
	batch, err := gw.FetchSnapshotBatch(context.Background(), []string{"600036"})
	require.NoError(t, err)
	assert.Equal(t, "akshare", batch["600036"].Source, "a malformed close/volume record must trigger failover to the secondary")
}

func TestGateway_HistoryFailsOverOnRateLimitedError(t *testing.T) {
	primary := fixture.New("tushare")
	secondary := fixture.New("akshare")
	primary.FailHistory("600036", &provider.Error{Kind: provider.KindRateLimited, Provider: "tushare"})
	bars := []market.HistoryBar{{Date: time.Now(), Close: 10}}
	secondary.SeedHistory("600036", bars)

	gw := newGateway(primary, secondary)
	got, err := gw.FetchHistory(context.Background(), "600036", time.Now().AddDate(0, 0, -30), time.Now())
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, _, historyCalls, _ := primary.Calls()
	_, _, historyCalls2, _ := secondary.Calls()
	assert.Equal(t, int64(1), historyCalls)
	assert.Equal(t, int64(1), historyCalls2)
}

func TestGateway_BothProvidersFailReturnsStrongerError(t *testing.T) {
	primary := fixture.New("tushare")
	secondary := fixture.New("akshare")
	primary.FailFundamentals("600036", &provider.Error{Kind: provider.KindUnavailable, Provider: "tushare"})
	secondary.FailFundamentals("600036", &provider.Error{Kind: provider.KindNotFound, Provider: "akshare"})

	gw := newGateway(primary, secondary)
	_, err := gw.FetchFundamentals(context.Background(), "600036")
	require.Error(t, err)

	pe, ok := err.(*provider.Error)
	require.True(t, ok)
	assert.Equal(t, provider.KindUnavailable, pe.Kind, "Unavailable outranks NotFound under the severity ordering")
}

func TestGateway_ReferenceUniverseFailsOverToSecondary(t *testing.T) {
	primary := fixture.New("tushare")
	secondary := fixture.New("akshare")
	primary.FailUniverse(&provider.Error{Kind: provider.KindUnavailable, Provider: "tushare"})
	secondary.SeedUniverse([]market.Ticker{{Code: "600036", Market: market.MarketSH}})

	gw := newGateway(primary, secondary)
	tickers, err := gw.LoadReferenceUniverse(context.Background())
	require.NoError(t, err)
	assert.Len(t, tickers, 1)

	universeCalls, _, _, _ := primary.Calls()
	universeCalls2, _, _, _ := secondary.Calls()
	assert.Equal(t, int64(1), universeCalls)
	assert.Equal(t, int64(1), universeCalls2)
}

func TestGateway_SnapshotCachedAcrossCalls(t *testing.T) {
	primary := fixture.New("tushare")
	primary.SeedSnapshot("600036", market.QuoteSnapshot{Code: "600036", Close: 30, PreviousClose: 29})

	gw := newGateway(primary, nil)
	_, err := gw.FetchSnapshotBatch(context.Background(), []string{"600036"})
	require.NoError(t, err)
	_, err = gw.FetchSnapshotBatch(context.Background(), []string{"600036"})
	require.NoError(t, err)

	_, snapshotCalls, _, _ := primary.Calls()
	assert.Equal(t, int64(1), snapshotCalls, "a second call within TTL must be served from cache.Cache, not the provider")
}
