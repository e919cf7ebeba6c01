package entity

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PriceChange string

const (
	PriceChangeRise PriceChange = "RISE"
	PriceChangeFall PriceChange = "FALL"
	PriceChangeEven PriceChange = "EVEN"
)

const (
	MarketWarningNone    = "NONE"
	MarketWarningCaution = "CAUTION"
)

type Market struct {
	Market        string `json:"market"`
	KoreanName    string `json:"korean_name"`
	EnglishName   string `json:"english_name"`
	MarketWarning string `json:"market_warning"`
}

func (m Market) HasWarning() bool {
	return m.MarketWarning == MarketWarningCaution
}

// FilterMarketsByQuote keeps markets quoted in the given currency, e.g. "KRW"
// keeps "KRW-BTC".
func FilterMarketsByQuote(markets []Market, quote string) []Market {
	prefix := strings.ToUpper(strings.TrimSpace(quote))
	if prefix == "" {
		return markets
	}
	if !strings.HasSuffix(prefix, "-") {
		prefix += "-"
	}

	filtered := make([]Market, 0, len(markets))
	for _, market := range markets {
		if strings.HasPrefix(market.Market, prefix) {
			filtered = append(filtered, market)
		}
	}

	return filtered
}

type PriceTick struct {
	Market            string          `json:"market"`
	TradePrice        decimal.Decimal `json:"trade_price"`
	Change            PriceChange     `json:"change"`
	ChangeRate        decimal.Decimal `json:"change_rate"`
	ChangePrice       decimal.Decimal `json:"change_price"`
	HighPrice         decimal.Decimal `json:"high_price"`
	LowPrice          decimal.Decimal `json:"low_price"`
	AccTradeVolume24h decimal.Decimal `json:"acc_trade_volume_24h"`
	Timestamp         time.Time       `json:"timestamp"`
}
