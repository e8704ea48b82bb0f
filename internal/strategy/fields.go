package strategy

import (
	"github.com/wonny/aegis/v13/backend/internal/indicator"
	"github.com/wonny/aegis/v13/backend/internal/market"
)

// Context bundles everything Evaluate needs for one ticker: the merged
// upstream data, its computed IndicatorSet, the raw bar sequence it was
// computed from (needed for the technical-alignment bonus's crossover
// lookback), and the cross-ticker baselines a single ticker cannot derive
// on its own (industry median momentum). IndustryMedianReturn20 is
// computed by the caller across its own analysis batch so Evaluate stays
// pure with respect to a fixed Context value.
type Context struct {
	Data                   market.MergedData
	Indicators             indicator.Set
	Bars                   []market.HistoryBar
	IndustryMedianReturn20 float64
	MinScore               float64
}

// resolve looks up a named field against ctx, returning (value, present).
// present is false for an absent fundamentals pointer or an indicator that
// needed more bars than were available; both are treated identically by
// the hard-bound rejection rule in §4.6 step 1.
func resolve(ctx Context, field string) (float64, bool) {
	f := ctx.Data.Fundamentals
	switch field {
	case "pe":
		return derefOK(f.PE)
	case "pb":
		return derefOK(f.PB)
	case "roe":
		return derefOK(f.ROE)
	case "revenue_growth":
		return derefOK(f.RevenueGrowth)
	case "profit_growth":
		return derefOK(f.ProfitGrowth)
	case "debt_ratio":
		return derefOK(f.DebtRatio)
	case "current_ratio":
		return derefOK(f.CurrentRatio)
	case "dividend_yield":
		return derefOK(f.DividendYield)
	case "payout_ratio":
		return derefOK(f.PayoutRatio)
	case "gross_margin":
		return derefOK(f.GrossMargin)
	case "rd_ratio":
		return derefOK(f.RDRatio)
	case "esg_score":
		return derefOK(f.ESGScore)
	case "market_share":
		return derefOK(f.MarketShare)

	case "close":
		return ctx.Data.Snapshot.Close, true
	case "percent_change":
		return ctx.Data.Snapshot.PercentChange(), true
	case "turnover_rate":
		return ctx.Data.Snapshot.TurnoverRate, true

	case "market_cap":
		return ctx.Data.Ticker.TotalMarketCap, true
	case "free_float_market_cap":
		return ctx.Data.Ticker.FreeFloatMarketCap, true

	case "ma5":
		return derefOK(ctx.Indicators.MA.MA5)
	case "ma10":
		return derefOK(ctx.Indicators.MA.MA10)
	case "ma20":
		return derefOK(ctx.Indicators.MA.MA20)
	case "ma60":
		return derefOK(ctx.Indicators.MA.MA60)
	case "rsi":
		return derefOK(ctx.Indicators.RSI)
	case "macd_dif":
		return derefOK(ctx.Indicators.MACD.DIF)
	case "macd_dea":
		return derefOK(ctx.Indicators.MACD.DEA)
	case "macd_histogram":
		return derefOK(ctx.Indicators.MACD.Histogram)
	case "boll_upper":
		return derefOK(ctx.Indicators.Bollinger.Upper)
	case "boll_middle":
		return derefOK(ctx.Indicators.Bollinger.Middle)
	case "boll_lower":
		return derefOK(ctx.Indicators.Bollinger.Lower)
	case "kdj_k":
		return derefOK(ctx.Indicators.KDJ.K)
	case "kdj_d":
		return derefOK(ctx.Indicators.KDJ.D)
	case "kdj_j":
		return derefOK(ctx.Indicators.KDJ.J)
	case "chip_concentration":
		if len(ctx.Indicators.Chips.Buckets) == 0 {
			return 0, false
		}
		return ctx.Indicators.Chips.Concentration, true
	case "chip_profit_ratio":
		if len(ctx.Indicators.Chips.Buckets) == 0 {
			return 0, false
		}
		return ctx.Indicators.Chips.ProfitRatio, true

	default:
		return 0, false
	}
}

func derefOK(p *float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}

// return20 computes the 20-bar percent return ending at the last bar, or
// (0, false) if fewer than 21 bars are available.
func return20(bars []market.HistoryBar) (float64, bool) {
	if len(bars) < 21 {
		return 0, false
	}
	last := bars[len(bars)-1].Close
	prior := bars[len(bars)-21].Close
	if prior == 0 {
		return 0, false
	}
	return (last - prior) / prior * 100, true
}
