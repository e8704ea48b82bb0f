package universe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/v13/backend/internal/market"
)

type fakeGateway struct {
	tickers []market.Ticker
	err     error
}

func (g *fakeGateway) LoadReferenceUniverse(ctx context.Context) ([]market.Ticker, error) {
	return g.tickers, g.err
}

func TestResolver_DedupesByCode(t *testing.T) {
	g := &fakeGateway{tickers: []market.Ticker{
		{Code: "600036", Market: market.MarketSH, Name: "招商银行"},
		{Code: "600036", Market: market.MarketSH, Name: "招商银行"},
		{Code: "000001", Market: market.MarketSZ, Name: "平安银行"},
	}}
	r := New(g)

	out, err := r.Resolve(context.Background(), Filter{Markets: []string{all}, Industries: []string{all}})
	require.NoError(t, err)
	assert.Len(t, out, 2, "a duplicate code in the roster must be collapsed to one entry")
}

func TestResolver_OrdersByCodeAscending(t *testing.T) {
	g := &fakeGateway{tickers: []market.Ticker{
		{Code: "600519", Market: market.MarketSH, Name: "贵州茅台"},
		{Code: "000001", Market: market.MarketSZ, Name: "平安银行"},
		{Code: "300750", Market: market.MarketSZ, Name: "宁德时代"},
	}}
	r := New(g)

	out, err := r.Resolve(context.Background(), Filter{Markets: []string{all}, Industries: []string{all}})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"000001", "300750", "600519"}, []string{out[0].Code, out[1].Code, out[2].Code})
}

func TestResolver_ExcludesSuspendedNames(t *testing.T) {
	g := &fakeGateway{tickers: []market.Ticker{
		{Code: "600001", Market: market.MarketSH, Name: "ST退市股"},
		{Code: "600002", Market: market.MarketSH, Name: "正常股份"},
	}}
	r := New(g)

	out, err := r.Resolve(context.Background(), Filter{Markets: []string{all}, Industries: []string{all}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "600002", out[0].Code)
}

func TestResolver_FiltersByMarket(t *testing.T) {
	g := &fakeGateway{tickers: []market.Ticker{
		{Code: "600001", Market: market.MarketSH, Name: "沪主板"},
		{Code: "000001", Market: market.MarketSZ, Name: "深主板"},
	}}
	r := New(g)

	out, err := r.Resolve(context.Background(), Filter{Markets: []string{"SH"}, Industries: []string{all}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, market.MarketSH, out[0].Market)
}

func TestResolver_FiltersByExplicitIndustry(t *testing.T) {
	g := &fakeGateway{tickers: []market.Ticker{
		{Code: "600036", Market: market.MarketSH, Name: "招商银行", Industry: "banking"},
		{Code: "600519", Market: market.MarketSH, Name: "贵州茅台", Industry: "consumer"},
	}}
	r := New(g)

	out, err := r.Resolve(context.Background(), Filter{Markets: []string{all}, Industries: []string{"banking"}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "600036", out[0].Code)
}

func TestResolver_ClassifiesByNameWhenIndustryFieldEmpty(t *testing.T) {
	g := &fakeGateway{tickers: []market.Ticker{
		{Code: "600036", Market: market.MarketSH, Name: "招商银行"},
	}}
	r := New(g)

	out, err := r.Resolve(context.Background(), Filter{Markets: []string{all}, Industries: []string{"banking"}})
	require.NoError(t, err)
	require.Len(t, out, 1, "a ticker with no explicit industry must fall back to name-keyword classification")
}

func TestResolver_EmptyUniverseIsNotAnError(t *testing.T) {
	g := &fakeGateway{tickers: nil}
	r := New(g)

	out, err := r.Resolve(context.Background(), Filter{Markets: []string{all}, Industries: []string{all}})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestResolver_PropagatesGatewayError(t *testing.T) {
	g := &fakeGateway{err: assertErr}
	r := New(g)

	_, err := r.Resolve(context.Background(), Filter{Markets: []string{all}, Industries: []string{all}})
	assert.ErrorIs(t, err, assertErr)
}

type errSentinel string

func (e errSentinel) Error() string { return string(e) }

var assertErr = errSentinel("gateway unavailable")
