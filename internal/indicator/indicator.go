// Package indicator computes IndicatorSet: pure, stateless functions over a
// HistoryBar sequence. Grounded on the teacher's internal/s2_signals package
// shape (TechnicalCalculator's pure price-series functions), generalized
// from the teacher's single momentum/technical score into the full
// MA/MACD/RSI/Bollinger/KDJ/chip-distribution set the merged-data model
// requires. Every function here is deterministic and side-effect free —
// no logger, no I/O — so StrategyEvaluator and its tests can call them
// directly against a fixture bar sequence.
package indicator

import "github.com/wonny/aegis/v13/backend/internal/market"

// MovingAverages holds MA5/10/20/60. A nil pointer means "absent": fewer
// than the window's bar count were available.
type MovingAverages struct {
	MA5, MA10, MA20, MA60 *float64
}

// MACD holds the standard DIF/DEA/histogram triple. Absent (all nil) when
// fewer than 34 bars are available: 26 to seed EMA26, then 9 DIF values to
// seed the DEA's EMA9.
type MACD struct {
	DIF, DEA, Histogram *float64
}

// Bollinger holds the 20-bar, 2-population-sigma band. Absent when fewer
// than 20 bars are available.
type Bollinger struct {
	Upper, Middle, Lower *float64
}

// KDJ holds the classical stochastic oscillator triple. Absent when fewer
// than 9 bars are available to seed the %K rolling range.
type KDJ struct {
	K, D, J *float64
}

// ChipBucket is one price-bucket slot of a chip distribution histogram.
type ChipBucket struct {
	PriceLow, PriceHigh float64
	Mass                float64
}

// ChipDistribution summarizes where accumulated trading volume sits across
// the observed price range, decayed toward more recent bars.
type ChipDistribution struct {
	Buckets        []ChipBucket
	MainPeakPrice  float64
	AverageCost    float64
	Concentration  float64
	Support        float64
	Resistance     float64
	ProfitRatio    float64
}

// Set bundles every indicator computed from one HistoryBar sequence, plus
// the last close it was computed against (used by StrategyEvaluator's
// ProfitRatio and support/resistance comparisons).
type Set struct {
	MA         MovingAverages
	MACD       MACD
	RSI        *float64
	Bollinger  Bollinger
	KDJ        KDJ
	Chips      ChipDistribution
	LastClose  float64
}

// Compute derives the full IndicatorSet from bars, oldest first. Returns
// the zero Set (all fields absent) if bars is empty.
func Compute(bars []market.HistoryBar) Set {
	if len(bars) == 0 {
		return Set{}
	}
	closes := closesOf(bars)
	return Set{
		MA:        computeMA(closes),
		MACD:      computeMACD(closes),
		RSI:       computeRSI(closes, 14),
		Bollinger: computeBollinger(closes, 20),
		KDJ:       computeKDJ(bars, 9, 3, 3),
		Chips:     computeChips(bars, 100),
		LastClose: closes[len(closes)-1],
	}
}

func closesOf(bars []market.HistoryBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func ptr(v float64) *float64 { return &v }

// sma returns the simple mean of the last window values of series, or
// (0, false) if series is shorter than window.
func sma(series []float64, window int) (float64, bool) {
	if len(series) < window {
		return 0, false
	}
	var sum float64
	for _, v := range series[len(series)-window:] {
		sum += v
	}
	return sum / float64(window), true
}

func computeMA(closes []float64) MovingAverages {
	var out MovingAverages
	if v, ok := sma(closes, 5); ok {
		out.MA5 = ptr(v)
	}
	if v, ok := sma(closes, 10); ok {
		out.MA10 = ptr(v)
	}
	if v, ok := sma(closes, 20); ok {
		out.MA20 = ptr(v)
	}
	if v, ok := sma(closes, 60); ok {
		out.MA60 = ptr(v)
	}
	return out
}

// ema computes the full exponential-moving-average series for the given
// period, seeded by the SMA of the first `period` values, standard for
// MACD's EMA12/EMA26/EMA9-of-DIF legs. Returns nil if series is shorter
// than period.
func ema(series []float64, period int) []float64 {
	if len(series) < period {
		return nil
	}
	seed, _ := sma(series[:period], period)
	out := make([]float64, len(series)-period+1)
	out[0] = seed
	k := 2.0 / (float64(period) + 1.0)
	for i := period; i < len(series); i++ {
		out[i-period+1] = series[i]*k + out[i-period]*(1-k)
	}
	return out
}

// MACDBullishCrossoverWithin reports whether DIF crossed above DEA at any
// point within the last `lookback` bars, recomputing the DIF/DEA series
// over the full history so the crossover test sees the same smoothing the
// latest MACD value used.
func MACDBullishCrossoverWithin(bars []market.HistoryBar, lookback int) bool {
	if len(bars) < 35 {
		return false
	}
	closes := closesOf(bars)
	ema12 := ema(closes, 12)
	ema26 := ema(closes, 26)
	offset := len(ema12) - len(ema26)
	dif := make([]float64, len(ema26))
	for i := range ema26 {
		dif[i] = ema12[i+offset] - ema26[i]
	}
	if len(dif) < 10 {
		return false
	}
	dea := ema(dif, 9)
	// dea[i] corresponds to dif[i+8] (9-bar seed offset).
	start := len(dea) - lookback
	if start < 1 {
		start = 1
	}
	for i := start; i < len(dea); i++ {
		difPrev, difCur := dif[i-1+8], dif[i+8]
		deaPrev, deaCur := dea[i-1], dea[i]
		if difPrev <= deaPrev && difCur > deaCur {
			return true
		}
	}
	return false
}

func computeMACD(closes []float64) MACD {
	if len(closes) < 26 {
		return MACD{}
	}
	ema12 := ema(closes, 12)
	ema26 := ema(closes, 26)
	// Align the two series on their common tail (ema12 is longer since it
	// seeds earlier); DIF is only defined once both exist.
	offset := len(ema12) - len(ema26)
	dif := make([]float64, len(ema26))
	for i := range ema26 {
		dif[i] = ema12[i+offset] - ema26[i]
	}
	if len(dif) < 9 {
		return MACD{}
	}
	deaSeries := ema(dif, 9)
	lastDIF := dif[len(dif)-1]
	lastDEA := deaSeries[len(deaSeries)-1]
	hist := 2 * (lastDIF - lastDEA)
	return MACD{DIF: ptr(lastDIF), DEA: ptr(lastDEA), Histogram: ptr(hist)}
}

// computeRSI applies Wilder smoothing over closes, emitting the first
// value once `period` price changes are available (bar index == period).
func computeRSI(closes []float64, period int) *float64 {
	if len(closes) < period+1 {
		return nil
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return ptr(100)
	}
	rs := avgGain / avgLoss
	rsi := 100 - 100/(1+rs)
	return ptr(rsi)
}

func stddevPopulation(series []float64, mean float64) float64 {
	var sum float64
	for _, v := range series {
		d := v - mean
		sum += d * d
	}
	return sqrt(sum / float64(len(series)))
}

// sqrt is a tiny local Newton's-method sqrt to avoid pulling in math just
// for this one call; kept because every other numeric helper here is
// hand-rolled arithmetic rather than a math.* call, matching the teacher's
// calculateEMA/calculateRSI style of doing the arithmetic inline.
func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 40; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

func computeBollinger(closes []float64, window int) Bollinger {
	mean, ok := sma(closes, window)
	if !ok {
		return Bollinger{}
	}
	sd := stddevPopulation(closes[len(closes)-window:], mean)
	return Bollinger{
		Upper:  ptr(mean + 2*sd),
		Middle: ptr(mean),
		Lower:  ptr(mean - 2*sd),
	}
}

// computeKDJ implements the classical %K/%D/%J recursion: %K smooths the
// raw stochastic value over a rolling `rswPeriod`-bar high/low range,
// %D smooths %K again, and %J = 3%K − 2%D. K and D are seeded at 50 per
// convention and rolled forward from the first available window.
func computeKDJ(bars []market.HistoryBar, rswPeriod, kPeriod, dPeriod int) KDJ {
	if len(bars) < rswPeriod {
		return KDJ{}
	}
	k, d := 50.0, 50.0
	for i := rswPeriod - 1; i < len(bars); i++ {
		window := bars[i-rswPeriod+1 : i+1]
		low, high := window[0].Low, window[0].High
		for _, b := range window {
			if b.Low < low {
				low = b.Low
			}
			if b.High > high {
				high = b.High
			}
		}
		var rsv float64
		if high == low {
			rsv = 50
		} else {
			rsv = (bars[i].Close - low) / (high - low) * 100
		}
		k = (rsv + float64(kPeriod-1)*k) / float64(kPeriod)
		d = (k + float64(dPeriod-1)*d) / float64(dPeriod)
	}
	j := 3*k - 2*d
	return KDJ{K: ptr(k), D: ptr(d), J: ptr(j)}
}

// computeChips bucketizes the observed [min low, max high] range into
// numBuckets slots and accumulates each bar's volume, spread uniformly
// across the bar's own [low, high] span, decayed by 0.95^age where age is
// bars-from-most-recent (0 = most recent bar).
func computeChips(bars []market.HistoryBar, numBuckets int) ChipDistribution {
	if len(bars) == 0 || numBuckets <= 0 {
		return ChipDistribution{}
	}
	minLow, maxHigh := bars[0].Low, bars[0].High
	for _, b := range bars {
		if b.Low < minLow {
			minLow = b.Low
		}
		if b.High > maxHigh {
			maxHigh = b.High
		}
	}
	if maxHigh <= minLow {
		return ChipDistribution{}
	}
	width := (maxHigh - minLow) / float64(numBuckets)
	buckets := make([]ChipBucket, numBuckets)
	for i := range buckets {
		buckets[i] = ChipBucket{
			PriceLow:  minLow + float64(i)*width,
			PriceHigh: minLow + float64(i+1)*width,
		}
	}

	last := len(bars) - 1
	for i, b := range bars {
		age := last - i
		decay := pow95(age)
		lo, hi := b.Low, b.High
		startBucket := bucketIndex(lo, minLow, width, numBuckets)
		endBucket := bucketIndex(hi, minLow, width, numBuckets)
		span := endBucket - startBucket + 1
		if span <= 0 {
			span = 1
		}
		volPerBucket := float64(b.Volume) * decay / float64(span)
		for bi := startBucket; bi <= endBucket && bi < numBuckets; bi++ {
			buckets[bi].Mass += volPerBucket
		}
	}

	return summarizeChips(buckets, bars[last].Close)
}

func bucketIndex(price, minLow, width float64, numBuckets int) int {
	idx := int((price - minLow) / width)
	if idx < 0 {
		idx = 0
	}
	if idx >= numBuckets {
		idx = numBuckets - 1
	}
	return idx
}

func pow95(age int) float64 {
	v := 1.0
	for i := 0; i < age; i++ {
		v *= 0.95
	}
	return v
}

// summarizeChips derives main-peak price, concentration, average cost,
// support/resistance, and profit ratio from the accumulated buckets. Ties
// for main peak resolve toward the higher-price bucket.
func summarizeChips(buckets []ChipBucket, lastClose float64) ChipDistribution {
	peakIdx := 0
	for i, b := range buckets {
		if b.Mass >= buckets[peakIdx].Mass {
			peakIdx = i
		}
	}
	peakPrice := (buckets[peakIdx].PriceLow + buckets[peakIdx].PriceHigh) / 2

	var totalMass, weightedSum float64
	for _, b := range buckets {
		center := (b.PriceLow + b.PriceHigh) / 2
		totalMass += b.Mass
		weightedSum += b.Mass * center
	}
	var avgCost float64
	if totalMass > 0 {
		avgCost = weightedSum / totalMass
	}

	lo := peakIdx - 10
	hi := peakIdx + 10
	if lo < 0 {
		lo = 0
	}
	if hi >= len(buckets) {
		hi = len(buckets) - 1
	}
	var windowMass float64
	for i := lo; i <= hi; i++ {
		windowMass += buckets[i].Mass
	}
	var concentration float64
	if totalMass > 0 {
		concentration = windowMass / totalMass
	}

	support := buckets[0].PriceLow
	for i := peakIdx; i >= 0; i-- {
		if buckets[i].Mass > 0 {
			support = buckets[i].PriceLow
			break
		}
	}
	resistance := buckets[len(buckets)-1].PriceHigh
	for i := peakIdx; i < len(buckets); i++ {
		if buckets[i].Mass > 0 {
			resistance = buckets[i].PriceHigh
			break
		}
	}

	var profitMass float64
	for _, b := range buckets {
		if (b.PriceLow+b.PriceHigh)/2 <= lastClose {
			profitMass += b.Mass
		}
	}
	var profitRatio float64
	if totalMass > 0 {
		profitRatio = profitMass / totalMass
	}

	return ChipDistribution{
		Buckets:       buckets,
		MainPeakPrice: peakPrice,
		AverageCost:   avgCost,
		Concentration: concentration,
		Support:       support,
		Resistance:    resistance,
		ProfitRatio:   profitRatio,
	}
}
