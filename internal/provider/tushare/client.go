// Package tushare implements the QuoteProvider capability against the
// Tushare Pro API (https://tushare.pro), a token-authenticated JSON-RPC
// style endpoint. This is the Primary provider.
package tushare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wonny/aegis/v13/backend/internal/market"
	"github.com/wonny/aegis/v13/backend/internal/provider"
	"github.com/wonny/aegis/v13/backend/pkg/httputil"
	"github.com/wonny/aegis/v13/backend/pkg/logger"
)

const defaultBaseURL = "http://api.tushare.pro"

// Client is the Primary QuoteProvider backed by Tushare Pro.
// ⭐ SSOT: Tushare wire format (api_name/token/params/fields) is handled
// only in this package.
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	baseURL    string
	token      string
}

// New creates a Tushare client. token is the Tushare Pro API token (mirrors
// the original's tushare_token.txt / ts.set_token()).
func New(httpClient *httputil.Client, log *logger.Logger, token string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     log.WithField("provider", "tushare"),
		baseURL:    defaultBaseURL,
		token:      token,
	}
}

func (c *Client) Name() string { return "tushare" }

type request struct {
	APIName string                 `json:"api_name"`
	Token   string                 `json:"token"`
	Params  map[string]interface{} `json:"params"`
	Fields  string                 `json:"fields"`
}

type response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Fields []string        `json:"fields"`
		Items  [][]interface{} `json:"items"`
	} `json:"data"`
}

// call issues one Tushare Pro API call and maps transport/API errors onto
// the provider.Error taxonomy.
func (c *Client) call(ctx context.Context, apiName string, params map[string]interface{}, fields string) (*response, error) {
	if c.token == "" {
		return nil, &provider.Error{Kind: provider.KindUnavailable, Provider: c.Name(), Err: fmt.Errorf("no API token configured")}
	}

	body, err := json.Marshal(request{APIName: apiName, Token: c.token, Params: params, Fields: fields})
	if err != nil {
		return nil, &provider.Error{Kind: provider.KindMalformed, Provider: c.Name(), Err: err}
	}

	resp, err := c.httpClient.Post(ctx, c.baseURL, "application/json", bytes.NewReader(body))
	if err != nil {
		if ctx.Err() != nil {
			return nil, &provider.Error{Kind: provider.KindUnavailable, Provider: c.Name(), Err: ctx.Err()}
		}
		return nil, &provider.Error{Kind: provider.KindUnavailable, Provider: c.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &provider.Error{Kind: provider.KindRateLimited, Provider: c.Name(), Err: fmt.Errorf("http 429")}
	}
	if resp.StatusCode >= 500 {
		return nil, &provider.Error{Kind: provider.KindUnavailable, Provider: c.Name(), Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &provider.Error{Kind: provider.KindMalformed, Provider: c.Name(), Err: err}
	}
	if out.Code != 0 {
		return nil, &provider.Error{Kind: provider.KindUnavailable, Provider: c.Name(), Err: fmt.Errorf("tushare error %d: %s", out.Code, out.Msg)}
	}
	return &out, nil
}

// rowMap converts one response row into a field->value map using the
// response's field ordering.
func rowMap(fields []string, row []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(fields))
	for i, f := range fields {
		if i < len(row) {
			m[f] = row[i]
		}
	}
	return m
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	default:
		return 0
	}
}

func (c *Client) LoadReferenceUniverse(ctx context.Context) ([]market.Ticker, error) {
	resp, err := c.call(ctx, "stock_basic", map[string]interface{}{"list_status": "L"},
		"ts_code,symbol,name,industry,market,total_mv,float_mv")
	if err != nil {
		return nil, err
	}

	tickers := make([]market.Ticker, 0, len(resp.Data.Items))
	for _, row := range resp.Data.Items {
		m := rowMap(resp.Data.Fields, row)
		code := asString(m["symbol"])
		if code == "" {
			continue
		}
		tickers = append(tickers, market.Ticker{
			Code:               code,
			Market:             market.MarketFromCode(code),
			Name:               asString(m["name"]),
			Industry:           asString(m["industry"]),
			ListingRegion:      asString(m["market"]),
			TotalMarketCap:     asFloat(m["total_mv"]),
			FreeFloatMarketCap: asFloat(m["float_mv"]),
		})
	}
	return tickers, nil
}

func (c *Client) FetchSnapshotBatch(ctx context.Context, codes []string) (map[string]market.QuoteSnapshot, error) {
	tsCodes := make([]string, 0, len(codes))
	for _, code := range codes {
		tsCodes = append(tsCodes, toTSCode(code))
	}
	resp, err := c.call(ctx, "daily", map[string]interface{}{"ts_code": joinComma(tsCodes)},
		"ts_code,trade_date,open,high,low,close,pre_close,vol,amount")
	if err != nil {
		return nil, err
	}

	out := make(map[string]market.QuoteSnapshot, len(resp.Data.Items))
	for _, row := range resp.Data.Items {
		m := rowMap(resp.Data.Fields, row)
		code := fromTSCode(asString(m["ts_code"]))
		snap := market.QuoteSnapshot{
			Code:          code,
			Open:          asFloat(m["open"]),
			High:          asFloat(m["high"]),
			Low:           asFloat(m["low"]),
			Close:         asFloat(m["close"]),
			PreviousClose: asFloat(m["pre_close"]),
			Volume:        int64(asFloat(m["vol"])),
			TradedValue:   asFloat(m["amount"]),
			SessionTime:   time.Now(),
		}
		if snap.Close <= 0 || snap.Volume < 0 {
			continue // malformed rows are dropped; caller sees a partial batch
		}
		out[code] = snap
	}
	return out, nil
}

func (c *Client) FetchHistory(ctx context.Context, code string, from, to time.Time) ([]market.HistoryBar, error) {
	resp, err := c.call(ctx, "daily", map[string]interface{}{
		"ts_code":    toTSCode(code),
		"start_date": from.Format("20060102"),
		"end_date":   to.Format("20060102"),
	}, "trade_date,open,high,low,close,vol")
	if err != nil {
		return nil, err
	}

	bars := make([]market.HistoryBar, 0, len(resp.Data.Items))
	for _, row := range resp.Data.Items {
		m := rowMap(resp.Data.Fields, row)
		date, perr := time.Parse("20060102", asString(m["trade_date"]))
		if perr != nil {
			continue
		}
		bars = append(bars, market.HistoryBar{
			Date:   date,
			Open:   asFloat(m["open"]),
			High:   asFloat(m["high"]),
			Low:    asFloat(m["low"]),
			Close:  asFloat(m["close"]),
			Volume: int64(asFloat(m["vol"])),
		})
	}
	// Tushare returns most-recent-first; the spec requires most-recent-last.
	reverseBars(bars)
	return bars, nil
}

func (c *Client) FetchFundamentals(ctx context.Context, code string) (market.Fundamentals, error) {
	resp, err := c.call(ctx, "daily_basic", map[string]interface{}{"ts_code": toTSCode(code)},
		"pe,pb,dv_ratio")
	if err != nil {
		return market.Fundamentals{}, err
	}
	fin, err := c.call(ctx, "fina_indicator", map[string]interface{}{"ts_code": toTSCode(code)},
		"roe,or_yoy,netprofit_yoy,debt_to_assets,current_ratio,grossprofit_margin")
	if err != nil {
		return market.Fundamentals{}, err
	}

	f := market.Fundamentals{}
	if len(resp.Data.Items) > 0 {
		m := rowMap(resp.Data.Fields, resp.Data.Items[0])
		f.PE = optFloat(m, "pe")
		f.PB = optFloat(m, "pb")
		f.DividendYield = optFloat(m, "dv_ratio")
	}
	if len(fin.Data.Items) > 0 {
		m := rowMap(fin.Data.Fields, fin.Data.Items[0])
		f.ROE = optFloat(m, "roe")
		f.RevenueGrowth = optFloat(m, "or_yoy")
		f.ProfitGrowth = optFloat(m, "netprofit_yoy")
		f.DebtRatio = optFloat(m, "debt_to_assets")
		f.CurrentRatio = optFloat(m, "current_ratio")
		f.GrossMargin = optFloat(m, "grossprofit_margin")
	}
	return f, nil
}

func optFloat(m map[string]interface{}, key string) *float64 {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	f := asFloat(v)
	return &f
}

var _ provider.QuoteProvider = (*Client)(nil)
