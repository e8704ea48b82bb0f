// Package strategy implements StrategyEvaluator: applying a named
// strategy's parameter schema to one ticker's merged data to produce a
// numeric score and qualified/rejected verdict. Grounded on and
// generalizing the teacher's internal/selection.Screener
// (checkConditions' named-reason hard cut) from a single fixed hard-cut
// screener into a schema-driven, per-strategy evaluator, and on
// internal/strategyconfig's YAML-bound parameter style for the
// StrategyDefinition schema shape.
package strategy

import "github.com/wonny/aegis/v13/backend/internal/market"

// Bound is one entry of a StrategyDefinition's parameter schema: a named
// field with an optional min/max range and a weight contributed toward
// the raw score when satisfied. A bound with neither Min nor Max set is
// a no-op filter kept only for its weight (always satisfied).
type Bound struct {
	Field  string
	Min    *float64
	Max    *float64
	Weight float64 // defaults to 1 when zero, applied at evaluation time
	Hard   bool    // absent field on a hard bound rejects the ticker outright
}

// ParameterSchema is the ordered list of Bounds a StrategyDefinition
// declares. Order matters for the "first failed bound" reason text.
type ParameterSchema []Bound

// Definition is an immutable, process-lifetime strategy description.
type Definition struct {
	ID       string
	Name     string
	Category string
	Schema   ParameterSchema
}

// Parameters is a concrete numeric binding supplied at job-start time,
// keyed by Bound.Field + "_min" / "_max". A key absent from Parameters falls back to the
// schema's own Min/Max (the strategy's declared defaults).
type Parameters map[string]float64

// Grade buckets the final score per §4.6 step 5.
type Grade string

const (
	GradeS Grade = "S"
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

func gradeOf(score float64) Grade {
	switch {
	case score >= 90:
		return GradeS
	case score >= 80:
		return GradeA
	case score >= 70:
		return GradeB
	case score >= 60:
		return GradeC
	default:
		return GradeD
	}
}

// ScoredStock is the per-ticker outcome of an evaluation.
type ScoredStock struct {
	Ticker    market.Ticker `json:"ticker"`
	Score     float64       `json:"score"`
	Grade     Grade         `json:"grade"`
	Qualified bool          `json:"qualified"`
	Reason    string        `json:"reason,omitempty"`
	Satisfied int           `json:"satisfied"`
	Total     int           `json:"total"`
}
