// Package provider defines the QuoteProvider capability: the contract
// through which upstream market-data sources are consumed. Implementations
// (tushare, akshare, fixture) are injected; nothing in this package talks
// to a network.
package provider

import (
	"context"
	"time"

	"github.com/wonny/aegis/v13/backend/internal/market"
)

// QuoteProvider fetches raw fundamentals, OHLCV history and reference
// metadata for A-share tickers. Every operation is context-bound and fails
// with one of the Kinds in Error.
type QuoteProvider interface {
	Name() string
	LoadReferenceUniverse(ctx context.Context) ([]market.Ticker, error)
	FetchSnapshotBatch(ctx context.Context, codes []string) (map[string]market.QuoteSnapshot, error)
	FetchHistory(ctx context.Context, code string, from, to time.Time) ([]market.HistoryBar, error)
	FetchFundamentals(ctx context.Context, code string) (market.Fundamentals, error)
}
