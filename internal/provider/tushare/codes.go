package tushare

import (
	"strings"

	"github.com/wonny/aegis/v13/backend/internal/market"
)

// toTSCode maps a bare 6-digit code to Tushare's "<code>.<exchange>"
// suffix form.
func toTSCode(code string) string {
	switch market.MarketFromCode(code) {
	case market.MarketSH:
		return code + ".SH"
	case market.MarketSZ:
		return code + ".SZ"
	case market.MarketBJ:
		return code + ".BJ"
	default:
		return code
	}
}

// fromTSCode strips the Tushare exchange suffix, e.g. "600036.SH" -> "600036".
func fromTSCode(tsCode string) string {
	if idx := strings.IndexByte(tsCode, '.'); idx >= 0 {
		return tsCode[:idx]
	}
	return tsCode
}

func joinComma(items []string) string {
	return strings.Join(items, ",")
}

func reverseBars(bars []market.HistoryBar) {
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
}
