package market

// Breadth summarizes whole-market up/down distribution from a batch of
// snapshots. It reuses the gateway + cache layer but is not part of the
// job engine's core path — the market-overview endpoint sits on top of this
// at the HTTP boundary, which is out of scope for this repository.
type Breadth struct {
	Advancing   int
	Declining   int
	Unchanged   int
	LimitUp     int
	LimitDown   int
	TotalTraded float64
}

// Summarize computes market breadth over a batch of snapshots.
func Summarize(snapshots map[string]QuoteSnapshot) Breadth {
	var b Breadth
	for _, s := range snapshots {
		change := s.PercentChange()
		switch {
		case change > 0:
			b.Advancing++
		case change < 0:
			b.Declining++
		default:
			b.Unchanged++
		}
		if IsLimitUp(s) {
			b.LimitUp++
		}
		if IsLimitDown(s) {
			b.LimitDown++
		}
		b.TotalTraded += s.TradedValue
	}
	return b
}
