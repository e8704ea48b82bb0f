// Package dbtier is an optional write-through persistence layer sitting
// beneath QuoteCache for reference-universe and fundamentals records. The
// gateway saves both after each successful upstream fetch; it reads the
// saved roster back only when both providers fail to return one, and it
// never reads saved fundamentals back. This is distinct from — and does not
// contradict — the explicit Non-goal of persisting historical jobs across
// restarts: no Job or ProgressView is ever written here, only durable
// copies of upstream reference data. Disabled when no pool is configured.
//
// Grounded on the teacher's internal/s0_data.Repository (pgxpool + upsert
// query shape).
package dbtier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis/v13/backend/internal/market"
)

// Tier persists reference universe snapshots and per-ticker fundamentals.
// A nil *Tier is a valid no-op tier (used when DATABASE_URL is unset).
type Tier struct {
	db *pgxpool.Pool
}

// New wraps an existing pgx pool. Pass nil to get a no-op tier.
func New(db *pgxpool.Pool) *Tier {
	return &Tier{db: db}
}

// Enabled reports whether this tier is backed by a live pool.
func (t *Tier) Enabled() bool { return t != nil && t.db != nil }

// SaveUniverse upserts the full reference roster, keyed by fetch day.
func (t *Tier) SaveUniverse(ctx context.Context, tickers []market.Ticker) error {
	if !t.Enabled() {
		return nil
	}
	payload, err := json.Marshal(tickers)
	if err != nil {
		return fmt.Errorf("marshal universe: %w", err)
	}
	_, err = t.db.Exec(ctx, `
		INSERT INTO cache.reference_universe (snapshot_date, tickers, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (snapshot_date) DO UPDATE SET
			tickers = EXCLUDED.tickers,
			created_at = NOW()
	`, time.Now().Truncate(24*time.Hour), payload)
	if err != nil {
		return fmt.Errorf("save universe: %w", err)
	}
	return nil
}

// LoadUniverse returns today's persisted roster, if any.
func (t *Tier) LoadUniverse(ctx context.Context) ([]market.Ticker, bool, error) {
	if !t.Enabled() {
		return nil, false, nil
	}
	var payload []byte
	err := t.db.QueryRow(ctx, `
		SELECT tickers FROM cache.reference_universe WHERE snapshot_date = $1
	`, time.Now().Truncate(24*time.Hour)).Scan(&payload)
	if err != nil {
		return nil, false, nil // cache miss, not an error
	}
	var tickers []market.Ticker
	if err := json.Unmarshal(payload, &tickers); err != nil {
		return nil, false, fmt.Errorf("unmarshal universe: %w", err)
	}
	return tickers, true, nil
}

// SaveFundamentals upserts one ticker's fundamentals snapshot.
func (t *Tier) SaveFundamentals(ctx context.Context, code string, f market.Fundamentals) error {
	if !t.Enabled() {
		return nil
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal fundamentals: %w", err)
	}
	_, err = t.db.Exec(ctx, `
		INSERT INTO cache.fundamentals (code, snapshot_date, data, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (code, snapshot_date) DO UPDATE SET
			data = EXCLUDED.data,
			created_at = NOW()
	`, code, time.Now().Truncate(24*time.Hour), payload)
	if err != nil {
		return fmt.Errorf("save fundamentals: %w", err)
	}
	return nil
}
