// Package fixture provides a deterministic, in-memory QuoteProvider used by
// tests that exercise the gateway, cache and job engine without a network.
package fixture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wonny/aegis/v13/backend/internal/market"
	"github.com/wonny/aegis/v13/backend/internal/provider"
)

// Provider is a scriptable, call-counting QuoteProvider stub.
type Provider struct {
	name string

	mu           sync.Mutex
	universe     []market.Ticker
	snapshots    map[string]market.QuoteSnapshot
	history      map[string][]market.HistoryBar
	fundamentals map[string]market.Fundamentals
	failures     map[string]*provider.Error // per-ticker scripted failure, by op key ("fundamentals:600036")
	universeFail *provider.Error
	delay        time.Duration

	universeCalls     atomic.Int64
	snapshotCalls     atomic.Int64
	historyCalls      atomic.Int64
	fundamentalsCalls atomic.Int64
}

// New creates an empty fixture provider named name.
func New(name string) *Provider {
	return &Provider{
		name:         name,
		snapshots:    make(map[string]market.QuoteSnapshot),
		history:      make(map[string][]market.HistoryBar),
		fundamentals: make(map[string]market.Fundamentals),
		failures:     make(map[string]*provider.Error),
	}
}

func (p *Provider) Name() string { return p.name }

// SetDelay makes every call sleep for d before returning, to simulate a
// slow upstream (used by cancellation scenarios).
func (p *Provider) SetDelay(d time.Duration) { p.delay = d }

// SeedUniverse sets the reference roster returned by LoadReferenceUniverse.
func (p *Provider) SeedUniverse(tickers []market.Ticker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.universe = tickers
}

// FailUniverse scripts LoadReferenceUniverse to fail with err.
func (p *Provider) FailUniverse(err *provider.Error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.universeFail = err
}

// SeedSnapshot stores a snapshot for code.
func (p *Provider) SeedSnapshot(code string, snap market.QuoteSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots[code] = snap
}

// SeedHistory stores a history sequence for code.
func (p *Provider) SeedHistory(code string, bars []market.HistoryBar) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history[code] = bars
}

// SeedFundamentals stores fundamentals for code.
func (p *Provider) SeedFundamentals(code string, f market.Fundamentals) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fundamentals[code] = f
}

// FailFundamentals scripts FetchFundamentals(code) to fail with err.
func (p *Provider) FailFundamentals(code string, err *provider.Error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures["fundamentals:"+code] = err
}

// FailSnapshot scripts FetchSnapshotBatch to fail for code with err.
func (p *Provider) FailSnapshot(code string, err *provider.Error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures["snapshot:"+code] = err
}

// FailHistory scripts FetchHistory(code) to fail with err.
func (p *Provider) FailHistory(code string, err *provider.Error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures["history:"+code] = err
}

// Calls returns (universe, snapshot, history, fundamentals) invocation counts.
func (p *Provider) Calls() (int64, int64, int64, int64) {
	return p.universeCalls.Load(), p.snapshotCalls.Load(), p.historyCalls.Load(), p.fundamentalsCalls.Load()
}

func (p *Provider) sleep(ctx context.Context) error {
	if p.delay == 0 {
		return nil
	}
	select {
	case <-time.After(p.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) LoadReferenceUniverse(ctx context.Context) ([]market.Ticker, error) {
	p.universeCalls.Add(1)
	if err := p.sleep(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.universeFail != nil {
		return nil, p.universeFail
	}
	out := make([]market.Ticker, len(p.universe))
	copy(out, p.universe)
	return out, nil
}

func (p *Provider) FetchSnapshotBatch(ctx context.Context, codes []string) (map[string]market.QuoteSnapshot, error) {
	p.snapshotCalls.Add(1)
	if err := p.sleep(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	result := make(map[string]market.QuoteSnapshot, len(codes))
	for _, code := range codes {
		if err, ok := p.failures["snapshot:"+code]; ok {
			return nil, err
		}
		if snap, ok := p.snapshots[code]; ok {
			result[code] = snap
		}
	}
	return result, nil
}

func (p *Provider) FetchHistory(ctx context.Context, code string, from, to time.Time) ([]market.HistoryBar, error) {
	p.historyCalls.Add(1)
	if err := p.sleep(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.failures["history:"+code]; ok {
		return nil, err
	}
	bars := p.history[code]
	out := make([]market.HistoryBar, len(bars))
	copy(out, bars)
	return out, nil
}

func (p *Provider) FetchFundamentals(ctx context.Context, code string) (market.Fundamentals, error) {
	p.fundamentalsCalls.Add(1)
	if err := p.sleep(ctx); err != nil {
		return market.Fundamentals{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.failures["fundamentals:"+code]; ok {
		return market.Fundamentals{}, err
	}
	return p.fundamentals[code], nil
}

var _ provider.QuoteProvider = (*Provider)(nil)
