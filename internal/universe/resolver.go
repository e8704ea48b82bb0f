// Package universe resolves a (markets, industries) filter into a
// deduplicated, deterministically ordered ticker list. Grounded on the
// teacher's internal/s1_universe.Builder (SQL exclusion-reason filter over
// a roster) generalized from a DB-backed roster to DataGateway's cached
// reference universe, and from Korean admin/SPAC markers to ST/delisting
// markers.
package universe

import (
	"context"
	"sort"

	"github.com/wonny/aegis/v13/backend/internal/market"
)

// gateway is the minimal surface UniverseResolver needs from DataGateway.
type gateway interface {
	LoadReferenceUniverse(ctx context.Context) ([]market.Ticker, error)
}

// Filter is a (markets, industries) universe selector. The sentinel value
// "ALL" on either axis means "no restriction on that axis".
type Filter struct {
	Markets    []string
	Industries []string
}

const all = "ALL"

func (f Filter) wantsAllMarkets() bool {
	return containsAll(f.Markets)
}

func (f Filter) wantsAllIndustries() bool {
	return containsAll(f.Industries)
}

func containsAll(vals []string) bool {
	if len(vals) == 0 {
		return true
	}
	for _, v := range vals {
		if v == all {
			return true
		}
	}
	return false
}

func containsStr(vals []string, target string) bool {
	for _, v := range vals {
		if v == target {
			return true
		}
	}
	return false
}

// Resolver translates a Filter into a ticker-code list.
type Resolver struct {
	gateway gateway
}

// New creates a Resolver over the given DataGateway-shaped source.
func New(g gateway) *Resolver {
	return &Resolver{gateway: g}
}

// Resolve implements the algorithm in §4.4: pull the roster, drop
// suspended/delisting names, filter by market and industry, dedupe, and
// return in ascending ticker-code order. An empty result is a legal
// outcome — the caller (JobEngine) treats it as "universe empty", not an
// error.
func (r *Resolver) Resolve(ctx context.Context, filter Filter) ([]market.Ticker, error) {
	roster, err := r.gateway.LoadReferenceUniverse(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(roster))
	out := make([]market.Ticker, 0, len(roster))

	for _, t := range roster {
		if t.IsSuspended() {
			continue
		}
		if !filter.wantsAllMarkets() && !containsStr(filter.Markets, string(t.Market)) {
			continue
		}
		industry := t.Industry
		if industry == "" {
			industry = ClassifyByName(t.Name)
		}
		if !filter.wantsAllIndustries() && !containsStr(filter.Industries, industry) {
			continue
		}
		if seen[t.Code] {
			continue
		}
		seen[t.Code] = true
		out = append(out, t)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}
