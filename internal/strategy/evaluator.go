package strategy

import (
	"fmt"

	"github.com/wonny/aegis/v13/backend/internal/indicator"
)

const (
	technicalBonusMax = 10.0
	momentumBonusMax  = 5.0
	defaultWeight     = 1.0
	defaultMinScore   = 60.0
)

// boundOutcome is the per-bound evaluation result, used both to accumulate
// the raw score and to build the "first failed bound" reason text.
type boundOutcome struct {
	bound     Bound
	satisfied bool
	hardFail  bool
	value     float64
	present   bool
}

func satisfiesBound(b Bound, params Parameters, value float64) bool {
	min, max := b.Min, b.Max
	if v, ok := params[b.Field+"_min"]; ok {
		min = &v
	}
	if v, ok := params[b.Field+"_max"]; ok {
		max = &v
	}
	if min != nil && value < *min {
		return false
	}
	if max != nil && value > *max {
		return false
	}
	return true
}

func weightOf(b Bound) float64 {
	if b.Weight == 0 {
		return defaultWeight
	}
	return b.Weight
}

// Evaluate applies def's parameter schema (overridden per-field by
// params) to ctx and returns the resulting ScoredStock. Deterministic for
// a fixed (ctx, def, params) triple; performs no I/O. Implements the
// scoring contract: hard-bound-absent rejection, weighted accumulator,
// technical/momentum bonuses, clip to [0,100], grade bucket, qualified
// flag, first-failed-bound reason.
func Evaluate(ctx Context, def Definition, params Parameters) ScoredStock {
	minScore := ctx.MinScore
	if minScore == 0 {
		minScore = defaultMinScore
	}

	outcomes := make([]boundOutcome, 0, len(def.Schema))
	var totalWeight, satisfiedWeight float64
	hardViolated := false

	for _, b := range def.Schema {
		value, present := resolve(ctx, b.Field)
		w := weightOf(b)
		totalWeight += w

		if !present {
			if b.Hard {
				hardViolated = true
				outcomes = append(outcomes, boundOutcome{bound: b, hardFail: true, present: false})
				continue
			}
			outcomes = append(outcomes, boundOutcome{bound: b, satisfied: false, present: false})
			continue
		}

		ok := satisfiesBound(b, params, value)
		if ok {
			satisfiedWeight += w
		}
		outcomes = append(outcomes, boundOutcome{bound: b, satisfied: ok, value: value, present: true})
	}

	var raw float64
	if totalWeight > 0 {
		raw = satisfiedWeight / totalWeight * 100
	}

	raw += technicalBonus(ctx)
	raw += momentumBonus(ctx)

	score := clip(raw, 0, 100)
	grade := gradeOf(score)
	qualified := score >= minScore && !hardViolated

	satisfiedCount := 0
	for _, o := range outcomes {
		if o.satisfied {
			satisfiedCount++
		}
	}

	return ScoredStock{
		Ticker:    ctx.Data.Ticker,
		Score:     score,
		Grade:     grade,
		Qualified: qualified,
		Reason:    reasonFor(outcomes),
		Satisfied: satisfiedCount,
		Total:     len(def.Schema),
	}
}

// technicalBonus awards up to +10 when the indicator set shows a MACD
// bullish crossover within the last 3 bars and price above MA20.
func technicalBonus(ctx Context) float64 {
	ma20 := ctx.Indicators.MA.MA20
	if ma20 == nil {
		return 0
	}
	if ctx.Indicators.LastClose <= *ma20 {
		return 0
	}
	if !indicator.MACDBullishCrossoverWithin(ctx.Bars, 3) {
		return 0
	}
	return technicalBonusMax
}

// momentumBonus awards up to +5 when 20-bar return beats the batch's
// industry median return, supplied via ctx.IndustryMedianReturn20.
func momentumBonus(ctx Context) float64 {
	r, ok := return20(ctx.Bars)
	if !ok {
		return 0
	}
	if r <= ctx.IndustryMedianReturn20 {
		return 0
	}
	return momentumBonusMax
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// reasonFor returns the first failed bound's reason, or if none failed, a
// summary of the highest-weighted satisfied bound.
func reasonFor(outcomes []boundOutcome) string {
	for _, o := range outcomes {
		if o.hardFail {
			return fmt.Sprintf("%s: required field absent", o.bound.Field)
		}
		if o.present && !o.satisfied {
			return fmt.Sprintf("%s: %.4g outside bound", o.bound.Field, o.value)
		}
	}
	best := -1
	for i, o := range outcomes {
		if !o.satisfied {
			continue
		}
		if best == -1 || weightOf(o.bound) > weightOf(outcomes[best].bound) {
			best = i
		}
	}
	if best == -1 {
		return "no bounds declared"
	}
	return fmt.Sprintf("%s: satisfied (weight %.2g)", outcomes[best].bound.Field, weightOf(outcomes[best].bound))
}
