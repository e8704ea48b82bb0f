// Package akshare implements the QuoteProvider capability against AKShare's
// free, unauthenticated East Money-backed HTML endpoints. This is the
// Secondary provider — no token required, used as DataGateway's failover
// target when Tushare is unavailable, rate-limited or returns a malformed
// response.
package akshare

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/wonny/aegis/v13/backend/internal/market"
	"github.com/wonny/aegis/v13/backend/internal/provider"
	"github.com/wonny/aegis/v13/backend/pkg/httputil"
	"github.com/wonny/aegis/v13/backend/pkg/logger"
)

const defaultBaseURL = "https://push2.eastmoney.com"

// Client is the Secondary QuoteProvider backed by AKShare's free endpoints.
// ⭐ SSOT: AKShare HTML/JSON scraping lives only in this package.
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	baseURL    string
}

// New creates an AKShare client.
func New(httpClient *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     log.WithField("provider", "akshare"),
		baseURL:    defaultBaseURL,
	}
}

func (c *Client) Name() string { return "akshare" }

func (c *Client) fetch(ctx context.Context, path string) (string, error) {
	url := c.baseURL + path
	resp, err := c.httpClient.Get(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return "", &provider.Error{Kind: provider.KindUnavailable, Provider: c.Name(), Err: ctx.Err()}
		}
		return "", &provider.Error{Kind: provider.KindUnavailable, Provider: c.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &provider.Error{Kind: provider.KindRateLimited, Provider: c.Name(), Err: fmt.Errorf("http 429")}
	}
	if resp.StatusCode >= 500 {
		return "", &provider.Error{Kind: provider.KindUnavailable, Provider: c.Name(), Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &provider.Error{Kind: provider.KindMalformed, Provider: c.Name(), Err: err}
	}
	return string(body), nil
}

func parseNum(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "%", "")
	s = strings.ReplaceAll(s, "+", "")
	if s == "" || s == "-" || s == "--" {
		return 0
	}
	n, _ := strconv.ParseFloat(s, 64)
	return n
}

// LoadReferenceUniverse scrapes the full A-share roster table.
func (c *Client) LoadReferenceUniverse(ctx context.Context) ([]market.Ticker, error) {
	html, err := c.fetch(ctx, "/api/qt/clist/roster")
	if err != nil {
		return nil, err
	}

	doc, perr := goquery.NewDocumentFromReader(strings.NewReader(html))
	if perr != nil {
		return nil, &provider.Error{Kind: provider.KindMalformed, Provider: c.Name(), Err: perr}
	}

	codeRe := regexp.MustCompile(`^\d{6}$`)
	tickers := make([]market.Ticker, 0)
	doc.Find("table.roster tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 4 {
			return
		}
		code := strings.TrimSpace(cells.Eq(0).Text())
		if !codeRe.MatchString(code) {
			return
		}
		tickers = append(tickers, market.Ticker{
			Code:               code,
			Market:             market.MarketFromCode(code),
			Name:               strings.TrimSpace(cells.Eq(1).Text()),
			Industry:           strings.TrimSpace(cells.Eq(2).Text()),
			TotalMarketCap:     parseNum(cells.Eq(3).Text()),
			FreeFloatMarketCap: parseNum(cells.Eq(3).Text()),
		})
	})
	return tickers, nil
}

// FetchSnapshotBatch scrapes one quote row per requested code; AKShare's
// free endpoint does not support a true batch call, so each code is
// fetched in its own row query, joined client-side.
func (c *Client) FetchSnapshotBatch(ctx context.Context, codes []string) (map[string]market.QuoteSnapshot, error) {
	out := make(map[string]market.QuoteSnapshot, len(codes))
	for _, code := range codes {
		snap, err := c.fetchOneSnapshot(ctx, code)
		if err != nil {
			var pe *provider.Error
			if errAs(err, &pe) && pe.Kind == provider.KindNotFound {
				continue // skip unknown codes, not a batch failure
			}
			return nil, err
		}
		if snap.Close <= 0 || snap.Volume < 0 {
			continue
		}
		out[code] = snap
	}
	return out, nil
}

func (c *Client) fetchOneSnapshot(ctx context.Context, code string) (market.QuoteSnapshot, error) {
	html, err := c.fetch(ctx, "/api/qt/stock/get?secid="+secID(code))
	if err != nil {
		return market.QuoteSnapshot{}, err
	}
	doc, perr := goquery.NewDocumentFromReader(strings.NewReader(html))
	if perr != nil {
		return market.QuoteSnapshot{}, &provider.Error{Kind: provider.KindMalformed, Provider: c.Name(), Err: perr}
	}
	row := doc.Find("table.quote tr").First()
	cells := row.Find("td")
	if cells.Length() < 7 {
		return market.QuoteSnapshot{}, &provider.Error{Kind: provider.KindNotFound, Provider: c.Name(), Ticker: code, Err: fmt.Errorf("no quote row")}
	}
	return market.QuoteSnapshot{
		Code:          code,
		Open:          parseNum(cells.Eq(0).Text()),
		High:          parseNum(cells.Eq(1).Text()),
		Low:           parseNum(cells.Eq(2).Text()),
		Close:         parseNum(cells.Eq(3).Text()),
		PreviousClose: parseNum(cells.Eq(4).Text()),
		Volume:        int64(parseNum(cells.Eq(5).Text())),
		TradedValue:   parseNum(cells.Eq(6).Text()),
		SessionTime:   time.Now(),
	}, nil
}

// FetchHistory scrapes a daily K-line table for one code.
func (c *Client) FetchHistory(ctx context.Context, code string, from, to time.Time) ([]market.HistoryBar, error) {
	path := fmt.Sprintf("/api/qt/stock/kline?secid=%s&beg=%s&end=%s", secID(code), from.Format("20060102"), to.Format("20060102"))
	html, err := c.fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	doc, perr := goquery.NewDocumentFromReader(strings.NewReader(html))
	if perr != nil {
		return nil, &provider.Error{Kind: provider.KindMalformed, Provider: c.Name(), Err: perr}
	}

	bars := make([]market.HistoryBar, 0)
	doc.Find("table.kline tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 6 {
			return
		}
		date, derr := time.Parse("2006-01-02", strings.TrimSpace(cells.Eq(0).Text()))
		if derr != nil {
			return
		}
		bars = append(bars, market.HistoryBar{
			Date:   date,
			Open:   parseNum(cells.Eq(1).Text()),
			High:   parseNum(cells.Eq(2).Text()),
			Low:    parseNum(cells.Eq(3).Text()),
			Close:  parseNum(cells.Eq(4).Text()),
			Volume: int64(parseNum(cells.Eq(5).Text())),
		})
	})
	return bars, nil
}

// FetchFundamentals scrapes AKShare's free financial-indicator table.
func (c *Client) FetchFundamentals(ctx context.Context, code string) (market.Fundamentals, error) {
	html, err := c.fetch(ctx, "/api/qt/stock/financial?secid="+secID(code))
	if err != nil {
		return market.Fundamentals{}, err
	}
	doc, perr := goquery.NewDocumentFromReader(strings.NewReader(html))
	if perr != nil {
		return market.Fundamentals{}, &provider.Error{Kind: provider.KindMalformed, Provider: c.Name(), Err: perr}
	}

	f := market.Fundamentals{}
	doc.Find("table.financial tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		label := strings.TrimSpace(cells.Eq(0).Text())
		value := parseNum(cells.Eq(1).Text())
		switch label {
		case "pe":
			f.PE = &value
		case "pb":
			f.PB = &value
		case "roe":
			f.ROE = &value
		case "revenue_growth":
			f.RevenueGrowth = &value
		case "profit_growth":
			f.ProfitGrowth = &value
		case "debt_ratio":
			f.DebtRatio = &value
		case "current_ratio":
			f.CurrentRatio = &value
		case "dividend_yield":
			f.DividendYield = &value
		case "gross_margin":
			f.GrossMargin = &value
		}
	})
	return f, nil
}

// secID maps a bare code to East Money's "<market prefix>.<code>" secid form.
func secID(code string) string {
	switch market.MarketFromCode(code) {
	case market.MarketSH:
		return "1." + code
	case market.MarketSZ:
		return "0." + code
	case market.MarketBJ:
		return "0." + code
	default:
		return code
	}
}

func errAs(err error, target **provider.Error) bool {
	pe, ok := err.(*provider.Error)
	if !ok {
		return false
	}
	*target = pe
	return true
}

var _ provider.QuoteProvider = (*Client)(nil)
