package market

import "math"

// Limit-up / limit-down caps by board. Growth boards (688/300 prefixes) run
// a wider +/-20% band; the default A-share band is +/-10%; ST-marked names
// are capped at +/-5%. Tolerance absorbs rounding in upstream close prices.
const (
	standardLimitPct = 10.0
	growthLimitPct   = 20.0
	stLimitPct       = 5.0
	limitTolerance   = 0.3
)

func limitBandFor(t Ticker) float64 {
	switch {
	case t.IsSuspended():
		return stLimitPct
	case isGrowthBoard(t.Code):
		return growthLimitPct
	default:
		return standardLimitPct
	}
}

func isGrowthBoard(code string) bool {
	return len(code) >= 3 && (code[:3] == "688" || code[:3] == "300")
}

// IsLimitUp reports whether a snapshot's percent change sits at the
// standard +10% or the growth-board +20% cap, within tolerance. The
// ticker's own board and ST status are not consulted.
func IsLimitUp(s QuoteSnapshot) bool {
	return math.Abs(s.PercentChange()-standardLimitPct) <= limitTolerance ||
		math.Abs(s.PercentChange()-growthLimitPct) <= limitTolerance
}

// IsLimitDown reports whether a snapshot's percent change sits at the
// standard -10% or the growth-board -20% cap, within tolerance. The
// ticker's own board and ST status are not consulted.
func IsLimitDown(s QuoteSnapshot) bool {
	return math.Abs(s.PercentChange()+standardLimitPct) <= limitTolerance ||
		math.Abs(s.PercentChange()+growthLimitPct) <= limitTolerance
}

// LimitUpCohort filters a batch of snapshots down to tickers that hit their
// limit-up cap, keyed by code. Used by the limit-up cohort endpoint's
// data layer (the HTTP surface itself is out of scope).
func LimitUpCohort(tickers map[string]Ticker, snapshots map[string]QuoteSnapshot) []string {
	cohort := make([]string, 0)
	for code, snap := range snapshots {
		t, ok := tickers[code]
		if !ok {
			continue
		}
		band := limitBandFor(t)
		if math.Abs(snap.PercentChange()-band) <= limitTolerance {
			cohort = append(cohort, code)
		}
	}
	return cohort
}
