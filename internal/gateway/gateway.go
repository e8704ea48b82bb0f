// Package gateway implements DataGateway: a single provider-agnostic view
// over Primary/Secondary QuoteProviders, with failover, per-provider rate
// limiting and record normalization. Grounded on the teacher's tiered
// rate.Limiter usage (internal/realtime/feed/kis_rest.go) generalized from
// a single KIS poller to a two-provider failover chain, and on the QuoteCache
// single-flight contract in internal/cache.
package gateway

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/wonny/aegis/v13/backend/internal/cache"
	"github.com/wonny/aegis/v13/backend/internal/market"
	"github.com/wonny/aegis/v13/backend/internal/provider"
	"github.com/wonny/aegis/v13/backend/pkg/logger"
)

// Config controls per-provider rate limits and cache TTLs.
type Config struct {
	PrimaryRPS           float64
	SecondaryRPS         float64
	TTLReference         time.Duration
	TTLFundamentals      time.Duration
	TTLSnapshot          time.Duration
	TTLHistory           time.Duration
}

// DefaultConfig matches the configuration surface defaults in §6.
func DefaultConfig() Config {
	return Config{
		PrimaryRPS:      5,
		SecondaryRPS:    3,
		TTLReference:    time.Hour,
		TTLFundamentals: 15 * time.Minute,
		TTLSnapshot:     5 * time.Minute,
		TTLHistory:      15 * time.Minute,
	}
}

// persistenceTier is the subset of dbtier.Tier that Gateway consults. A nil
// interface value is legal and means "no durable L2 tier configured".
type persistenceTier interface {
	Enabled() bool
	SaveUniverse(ctx context.Context, tickers []market.Ticker) error
	LoadUniverse(ctx context.Context) ([]market.Ticker, bool, error)
	SaveFundamentals(ctx context.Context, code string, f market.Fundamentals) error
}

// distSnapshotCache is the subset of pkg/redis.Cache Gateway consults for a
// cross-process snapshot cache, shared by every Gateway instance behind a
// load balancer so a cache miss on one process doesn't necessarily mean a
// fresh upstream call on every other. Orthogonal to the per-process
// in-memory cache.Cache: that one still gates single-flight coalescing
// within a process, this one only saves upstream round-trips across them. A
// nil interface value means "no distributed cache configured".
type distSnapshotCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Gateway merges two QuoteProviders behind one interface.
// ⭐ SSOT: failover policy and outbound rate limiting live only here.
type Gateway struct {
	primary   provider.QuoteProvider
	secondary provider.QuoteProvider

	primaryLimiter   *rate.Limiter
	secondaryLimiter *rate.Limiter

	cache     *cache.Cache
	dbTier    persistenceTier
	distCache distSnapshotCache
	cfg       Config
	logger    *logger.Logger
}

// New creates a Gateway. secondary may be nil if no failover target is
// configured, in which case primary failures propagate directly. dbTier may
// be nil (or a disabled *dbtier.Tier) when no durable L2 tier is configured.
// distCache may be nil (or a *redis.Cache backed by a disabled *redis.Client)
// when no distributed snapshot cache is configured.
func New(primary, secondary provider.QuoteProvider, c *cache.Cache, dbTier persistenceTier, distCache distSnapshotCache, cfg Config, log *logger.Logger) *Gateway {
	return &Gateway{
		primary:          primary,
		secondary:        secondary,
		primaryLimiter:   rate.NewLimiter(rate.Limit(cfg.PrimaryRPS), max(1, int(cfg.PrimaryRPS))),
		secondaryLimiter: rate.NewLimiter(rate.Limit(cfg.SecondaryRPS), max(1, int(cfg.SecondaryRPS))),
		distCache:        distCache,
		cache:            c,
		dbTier:           dbTier,
		cfg:              cfg,
		logger:           log.WithField("module", "gateway"),
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// waitLimiter blocks until a permit is available or the caller's context
// deadline is hit, at which point it surfaces RateLimited rather than
// blocking forever.
func (g *Gateway) waitLimiter(ctx context.Context, l *rate.Limiter, providerName string) error {
	if err := l.Wait(ctx); err != nil {
		return &provider.Error{Kind: provider.KindRateLimited, Provider: providerName, Err: err}
	}
	return nil
}

// isMalformedClose reports whether a snapshot fails the close/volume
// normalization check from §4.2.
func isMalformedClose(s market.QuoteSnapshot) bool {
	return s.Close <= 0 || s.Volume < 0
}

// LoadReferenceUniverse fetches the full roster, cached with TTLReference.
func (g *Gateway) LoadReferenceUniverse(ctx context.Context) ([]market.Ticker, error) {
	v, err := g.cache.Get(ctx, cache.Key("universe"), g.cfg.TTLReference, func(ctx context.Context) (interface{}, error) {
		return g.loadUniverseFailover(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]market.Ticker), nil
}

func (g *Gateway) loadUniverseFailover(ctx context.Context) ([]market.Ticker, error) {
	tickers, err := g.tryProvider(ctx, g.primary, g.primaryLimiter, func(c context.Context) (interface{}, error) {
		return g.primary.LoadReferenceUniverse(c)
	})
	if err == nil {
		out := tickers.([]market.Ticker)
		if g.dbTier != nil && g.dbTier.Enabled() {
			if saveErr := g.dbTier.SaveUniverse(ctx, out); saveErr != nil {
				g.logger.WithError(saveErr).Warn("Failed to persist reference universe to db tier")
			}
		}
		return out, nil
	}
	if g.secondary != nil && shouldFailover(err) {
		tickers2, err2 := g.tryProvider(ctx, g.secondary, g.secondaryLimiter, func(c context.Context) (interface{}, error) {
			return g.secondary.LoadReferenceUniverse(c)
		})
		if err2 == nil {
			out := tickers2.([]market.Ticker)
			if g.dbTier != nil && g.dbTier.Enabled() {
				if saveErr := g.dbTier.SaveUniverse(ctx, out); saveErr != nil {
					g.logger.WithError(saveErr).Warn("Failed to persist reference universe to db tier")
				}
			}
			return out, nil
		}
		err = strongerErr(err, err2)
	}
	// Both providers failed (or only one was configured and it failed):
	// fall back to the last durable snapshot rather than surfacing empty.
	if g.dbTier != nil && g.dbTier.Enabled() {
		if cached, ok, loadErr := g.dbTier.LoadUniverse(ctx); loadErr == nil && ok {
			g.logger.WithError(err).Warn("Providers unavailable, served reference universe from db tier")
			return cached, nil
		}
	}
	return nil, err
}

// FetchSnapshotBatch fetches snapshots for codes, cached per-code with
// TTLSnapshot. Malformed individual records are dropped, not propagated.
func (g *Gateway) FetchSnapshotBatch(ctx context.Context, codes []string) (map[string]market.QuoteSnapshot, error) {
	out := make(map[string]market.QuoteSnapshot, len(codes))
	for _, code := range codes {
		v, err := g.cache.Get(ctx, cache.Key("snapshot", code), g.cfg.TTLSnapshot, func(ctx context.Context) (interface{}, error) {
			if g.distCache != nil {
				var snap market.QuoteSnapshot
				if hit, derr := g.distCache.Get(ctx, "snapshot:"+code, &snap); derr == nil && hit {
					return snap, nil
				}
			}
			snap, err := g.fetchSnapshotFailover(ctx, code)
			if err == nil && g.distCache != nil {
				if serr := g.distCache.Set(ctx, "snapshot:"+code, snap, g.cfg.TTLSnapshot); serr != nil {
					g.logger.WithError(serr).WithField("code", code).Warn("Failed to write snapshot to distributed cache")
				}
			}
			return snap, err
		})
		if err != nil {
			continue // per-ticker skip, handled by the job engine's caller
		}
		out[code] = v.(market.QuoteSnapshot)
	}
	return out, nil
}

func (g *Gateway) fetchSnapshotFailover(ctx context.Context, code string) (market.QuoteSnapshot, error) {
	snap, err := g.fetchSnapshotFrom(ctx, g.primary, g.primaryLimiter, code)
	if err == nil {
		return snap, nil
	}
	if g.secondary == nil || !shouldFailover(err) {
		return market.QuoteSnapshot{}, err
	}
	snap2, err2 := g.fetchSnapshotFrom(ctx, g.secondary, g.secondaryLimiter, code)
	if err2 != nil {
		return market.QuoteSnapshot{}, strongerErr(err, err2)
	}
	return snap2, nil
}

func (g *Gateway) fetchSnapshotFrom(ctx context.Context, p provider.QuoteProvider, l *rate.Limiter, code string) (market.QuoteSnapshot, error) {
	v, err := g.tryProvider(ctx, p, l, func(c context.Context) (interface{}, error) {
		batch, err := p.FetchSnapshotBatch(c, []string{code})
		if err != nil {
			return nil, err
		}
		snap, ok := batch[code]
		if !ok {
			return nil, &provider.Error{Kind: provider.KindNotFound, Provider: p.Name(), Ticker: code, Err: errNotFound}
		}
		return snap, nil
	})
	if err != nil {
		return market.QuoteSnapshot{}, err
	}
	snap := v.(market.QuoteSnapshot)
	if isMalformedClose(snap) {
		return market.QuoteSnapshot{}, &provider.Error{Kind: provider.KindMalformed, Provider: p.Name(), Ticker: code, Err: errMalformedRecord}
	}
	snap.Source = p.Name()
	return snap, nil
}

// FetchHistory fetches a daily history window, cached by (code, from, to).
func (g *Gateway) FetchHistory(ctx context.Context, code string, from, to time.Time) ([]market.HistoryBar, error) {
	key := cache.Key("history", code, from.Format("20060102"), to.Format("20060102"))
	v, err := g.cache.Get(ctx, key, g.cfg.TTLHistory, func(ctx context.Context) (interface{}, error) {
		return g.failoverCall(ctx, code, func(c context.Context, p provider.QuoteProvider, l *rate.Limiter) (interface{}, error) {
			return g.tryProvider(c, p, l, func(cc context.Context) (interface{}, error) {
				return p.FetchHistory(cc, code, from, to)
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return v.([]market.HistoryBar), nil
}

// FetchFundamentals fetches fundamentals, cached with TTLFundamentals.
func (g *Gateway) FetchFundamentals(ctx context.Context, code string) (market.Fundamentals, error) {
	v, err := g.cache.Get(ctx, cache.Key("fundamentals", code), g.cfg.TTLFundamentals, func(ctx context.Context) (interface{}, error) {
		return g.failoverCall(ctx, code, func(c context.Context, p provider.QuoteProvider, l *rate.Limiter) (interface{}, error) {
			return g.tryProvider(c, p, l, func(cc context.Context) (interface{}, error) {
				return p.FetchFundamentals(cc, code)
			})
		})
	})
	if err != nil {
		return market.Fundamentals{}, err
	}
	f := v.(market.Fundamentals)
	if g.dbTier != nil && g.dbTier.Enabled() {
		if saveErr := g.dbTier.SaveFundamentals(ctx, code, f); saveErr != nil {
			g.logger.WithError(saveErr).WithField("code", code).Warn("Failed to persist fundamentals to db tier")
		}
	}
	return f, nil
}

// failoverCall runs call against primary, falling through to secondary on
// the error kinds specified in §4.2.
func (g *Gateway) failoverCall(ctx context.Context, code string, call func(context.Context, provider.QuoteProvider, *rate.Limiter) (interface{}, error)) (interface{}, error) {
	v, err := call(ctx, g.primary, g.primaryLimiter)
	if err == nil {
		return v, nil
	}
	if g.secondary == nil || !shouldFailover(err) {
		return nil, err
	}
	v2, err2 := call(ctx, g.secondary, g.secondaryLimiter)
	if err2 != nil {
		return nil, strongerErr(err, err2)
	}
	return v2, nil
}

// tryProvider waits for a rate-limit permit, then calls fn, wrapping any
// context-deadline error from the rate limiter itself.
func (g *Gateway) tryProvider(ctx context.Context, p provider.QuoteProvider, l *rate.Limiter, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	if err := g.waitLimiter(ctx, l, p.Name()); err != nil {
		return nil, err
	}
	return fn(ctx)
}

func shouldFailover(err error) bool {
	pe, ok := err.(*provider.Error)
	if !ok {
		return true
	}
	switch pe.Kind {
	case provider.KindUnavailable, provider.KindRateLimited, provider.KindMalformed:
		return true
	default:
		return false
	}
}

func strongerErr(a, b error) error {
	pa, aok := a.(*provider.Error)
	pb, bok := b.(*provider.Error)
	if !aok {
		return b
	}
	if !bok {
		return a
	}
	if provider.Stronger(pa, pb) {
		return pa
	}
	return pb
}

var errNotFound = simpleErr("ticker not found in batch response")
var errMalformedRecord = simpleErr("close <= 0 or volume < 0")

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
