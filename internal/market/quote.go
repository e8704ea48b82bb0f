package market

import "time"

// QuoteSnapshot is the latest-session record for one ticker.
type QuoteSnapshot struct {
	Code          string
	Open          float64
	High          float64
	Low           float64
	Close         float64
	PreviousClose float64
	Volume        int64
	TradedValue   float64
	TurnoverRate  float64
	SessionTime   time.Time
	// Source is the provider name (e.g. "tushare", "akshare") that served
	// this snapshot. Stamped by DataGateway at fetch time; empty for
	// snapshots built directly in tests.
	Source string
}

// PercentChange is (close - previous close) / previous close * 100.
// Returns 0 when PreviousClose is zero to avoid a division by zero; callers
// that need to distinguish "no previous close" from "flat" should check
// PreviousClose directly.
func (q QuoteSnapshot) PercentChange() float64 {
	if q.PreviousClose == 0 {
		return 0
	}
	return (q.Close - q.PreviousClose) / q.PreviousClose * 100
}

// HistoryBar is a single dated OHLCV row.
type HistoryBar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Fundamentals holds per-ticker financial ratios. Every field is a pointer
// so that an absent upstream value can be represented as nil rather than
// zero — strategies treat absent as "does not satisfy any bound on this
// field" except where a strategy explicitly says otherwise.
type Fundamentals struct {
	PE             *float64
	PB             *float64
	ROE            *float64
	RevenueGrowth  *float64
	ProfitGrowth   *float64
	DebtRatio      *float64
	CurrentRatio   *float64
	DividendYield  *float64
	PayoutRatio    *float64
	GrossMargin    *float64
	RDRatio        *float64
	ESGScore       *float64
	MarketShare    *float64
}

// MergedData is the combined per-ticker view passed from DataGateway through
// IndicatorKernel to StrategyEvaluator.
type MergedData struct {
	Ticker        Ticker
	Snapshot      QuoteSnapshot
	History       []HistoryBar
	Fundamentals  Fundamentals
}
