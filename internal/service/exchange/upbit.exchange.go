package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/krobus00/coin-trader/internal/config"
	"github.com/krobus00/coin-trader/internal/constant"
	"github.com/krobus00/coin-trader/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	defaultUpbitBaseURL     = "https://api.upbit.com"
	defaultUpbitHTTPTimeout = 10 * time.Second
)

type UpbitExchange struct {
	client *resty.Client
	signer *Signer
}

// NewUpbitExchange builds a client. A nil signer yields a public-only client.
// The client never retries; callers decide.
func NewUpbitExchange(exchangeConfig config.ExchangeConfig, signer *Signer) *UpbitExchange {
	baseURL := strings.TrimRight(strings.TrimSpace(exchangeConfig.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultUpbitBaseURL
	}

	timeout := exchangeConfig.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultUpbitHTTPTimeout
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	return &UpbitExchange{
		client: client,
		signer: signer,
	}
}

func (e *UpbitExchange) GetAccounts(ctx context.Context) ([]entity.Account, error) {
	var resp []entity.UpbitAccountResponse
	err := e.do(ctx, upbitRequest{
		op:     "accounts",
		method: http.MethodGet,
		path:   constant.UpbitEndpointAccounts,
		auth:   true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	accounts := make([]entity.Account, 0, len(resp))
	for _, item := range resp {
		account, err := mapUpbitAccount(item)
		if err != nil {
			return nil, &NetworkError{Op: "accounts", Err: err}
		}
		accounts = append(accounts, account)
	}

	return accounts, nil
}

func (e *UpbitExchange) PlaceOrder(ctx context.Context, order entity.OrderRequest) (*entity.OrderResult, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	query, body := upbitOrderParams(order)
	rawBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode upbit order body: %w", err)
	}

	var resp entity.UpbitOrderResponse
	err = e.do(ctx, upbitRequest{
		op:        "place order",
		method:    http.MethodPost,
		path:      constant.UpbitEndpointOrders,
		body:      rawBody,
		signQuery: query,
		auth:      true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	result, err := mapUpbitOrder(resp)
	if err != nil {
		return nil, &NetworkError{Op: "place order", Err: err}
	}

	logrus.WithFields(logrus.Fields{
		"market":   order.Market,
		"side":     order.Side,
		"ord_type": order.Kind,
		"volume":   body.Volume,
		"price":    body.Price,
		"source":   order.Source,
		"uuid":     result.UUID,
		"state":    result.State,
	}).Info("order placed")

	return result, nil
}

func (e *UpbitExchange) GetTicker(ctx context.Context, markets []string) ([]entity.PriceTick, error) {
	csv, err := joinMarkets(markets)
	if err != nil {
		return nil, err
	}

	var resp []entity.UpbitTickerResponse
	err = e.do(ctx, upbitRequest{
		op:     "ticker",
		method: http.MethodGet,
		path:   constant.UpbitEndpointTicker,
		query:  "markets=" + csv,
	}, &resp)
	if err != nil {
		return nil, err
	}

	ticks := make([]entity.PriceTick, 0, len(resp))
	for _, item := range resp {
		ticks = append(ticks, mapUpbitTicker(item))
	}

	return ticks, nil
}

func (e *UpbitExchange) GetOrderBook(ctx context.Context, markets []string) (json.RawMessage, error) {
	csv, err := joinMarkets(markets)
	if err != nil {
		return nil, err
	}

	var resp json.RawMessage
	err = e.do(ctx, upbitRequest{
		op:     "orderbook",
		method: http.MethodGet,
		path:   constant.UpbitEndpointOrderBook,
		query:  "markets=" + csv,
	}, &resp)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (e *UpbitExchange) GetMarkets(ctx context.Context) ([]entity.Market, error) {
	var resp []entity.Market
	err := e.do(ctx, upbitRequest{
		op:     "markets",
		method: http.MethodGet,
		path:   constant.UpbitEndpointMarkets,
		query:  "isDetails=true",
	}, &resp)
	if err != nil {
		return nil, err
	}

	for idx := range resp {
		if resp[idx].MarketWarning == "" {
			resp[idx].MarketWarning = entity.MarketWarningNone
		}
	}

	return resp, nil
}

type upbitRequest struct {
	op     string
	method string
	path   string
	// query is sent on the URL
	query string
	body  []byte
	// signQuery is hashed into the token but never sent
	signQuery string
	auth      bool
}

func (e *UpbitExchange) do(ctx context.Context, r upbitRequest, out any) error {
	req := e.client.R().SetContext(ctx)

	if r.auth {
		if e.signer == nil {
			return fmt.Errorf("upbit %s: %w: credentials are missing", r.op, ErrInvalidCredentials)
		}

		signQuery := r.signQuery
		if signQuery == "" {
			signQuery = r.query
		}
		token, err := e.signer.Sign(signQuery)
		if err != nil {
			return fmt.Errorf("upbit %s: sign request: %w", r.op, err)
		}
		req.SetHeader("Authorization", token.BearerHeader())
	}

	if r.query != "" {
		req.SetQueryString(r.query)
	}

	if r.body != nil {
		req.SetHeader("Content-Type", "application/json")
		req.SetBody(r.body)
	}

	resp, err := req.Execute(r.method, r.path)
	if err != nil {
		return &NetworkError{Op: r.op, Err: err}
	}

	body := resp.Body()
	if resp.StatusCode() >= http.StatusBadRequest {
		return classifyUpbitError(r.op, resp.StatusCode(), body)
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &NetworkError{Op: r.op, Err: fmt.Errorf("decode response: status=%d body=%s: %w", resp.StatusCode(), string(body), err)}
	}

	return nil
}

func classifyUpbitError(op string, status int, body []byte) error {
	var errResp entity.UpbitErrorResponse
	_ = json.Unmarshal(body, &errResp)

	name := strings.TrimSpace(errResp.Error.Name)
	message := strings.TrimSpace(errResp.Error.Message)
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = "unknown error"
	}

	_, isAuthName := authErrorNames[name]
	if status == http.StatusUnauthorized || (status < http.StatusInternalServerError && isAuthName) {
		logrus.WithFields(logrus.Fields{"op": op, "status": status, "name": name}).Warn("upbit request unauthorized")
		return &AuthError{Op: op, Status: status, Name: name, Message: message}
	}

	logrus.WithFields(logrus.Fields{"op": op, "status": status, "name": name}).Info("upbit request rejected")
	return &ExchangeError{Op: op, Status: status, Name: name, Message: message}
}

type upbitOrderBody struct {
	Market  string `json:"market"`
	Side    string `json:"side"`
	Volume  string `json:"volume,omitempty"`
	Price   string `json:"price,omitempty"`
	OrdType string `json:"ord_type"`
}

// upbitOrderParams returns the signing string and the JSON body for an order.
// Both carry market, side, volume, price, ord_type in that order and skip
// absent fields so the query hash matches what the exchange rebuilds from
// the body.
func upbitOrderParams(order entity.OrderRequest) (string, upbitOrderBody) {
	body := upbitOrderBody{
		Market:  order.Market,
		Side:    string(order.Side),
		Volume:  order.Volume.String(),
		OrdType: string(order.Kind),
	}
	if order.Price.Valid {
		body.Price = order.Price.Decimal.String()
	}

	pairs := []string{
		"market=" + url.QueryEscape(body.Market),
		"side=" + url.QueryEscape(body.Side),
		"volume=" + url.QueryEscape(body.Volume),
	}
	if body.Price != "" {
		pairs = append(pairs, "price="+url.QueryEscape(body.Price))
	}
	pairs = append(pairs, "ord_type="+url.QueryEscape(body.OrdType))

	return strings.Join(pairs, "&"), body
}

func joinMarkets(markets []string) (string, error) {
	cleaned := make([]string, 0, len(markets))
	for _, market := range markets {
		market = strings.ToUpper(strings.TrimSpace(market))
		if market == "" {
			continue
		}
		cleaned = append(cleaned, market)
	}
	if len(cleaned) == 0 {
		return "", ErrNoMarkets
	}

	return strings.Join(cleaned, ","), nil
}

func mapUpbitAccount(resp entity.UpbitAccountResponse) (entity.Account, error) {
	balance, err := upbitDecimalOrZero(resp.Balance)
	if err != nil {
		return entity.Account{}, fmt.Errorf("invalid upbit balance: %w", err)
	}

	locked, err := upbitDecimalOrZero(resp.Locked)
	if err != nil {
		return entity.Account{}, fmt.Errorf("invalid upbit locked balance: %w", err)
	}

	avgBuyPrice, err := upbitDecimalOrZero(resp.AvgBuyPrice)
	if err != nil {
		return entity.Account{}, fmt.Errorf("invalid upbit avg buy price: %w", err)
	}

	return entity.Account{
		Currency:            resp.Currency,
		Balance:             balance,
		Locked:              locked,
		AvgBuyPrice:         avgBuyPrice,
		AvgBuyPriceModified: resp.AvgBuyPriceModified,
		UnitCurrency:        resp.UnitCurrency,
	}, nil
}

func mapUpbitOrder(resp entity.UpbitOrderResponse) (*entity.OrderResult, error) {
	result := &entity.OrderResult{
		UUID:        strings.TrimSpace(resp.UUID),
		Side:        entity.OrderSide(resp.Side),
		OrdType:     entity.OrderKind(resp.OrdType),
		State:       resp.State,
		Market:      resp.Market,
		TradesCount: resp.TradesCount,
	}

	if raw := strings.TrimSpace(resp.CreatedAt); raw != "" {
		createdAt, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid upbit created_at: %w", err)
		}
		result.CreatedAt = createdAt
	}

	fields := []struct {
		name string
		raw  string
		dst  **decimal.Decimal
	}{
		{"price", resp.Price, &result.Price},
		{"volume", resp.Volume, &result.Volume},
		{"remaining_volume", resp.RemainingVolume, &result.RemainingVolume},
		{"reserved_fee", resp.ReservedFee, &result.ReservedFee},
		{"remaining_fee", resp.RemainingFee, &result.RemainingFee},
		{"paid_fee", resp.PaidFee, &result.PaidFee},
		{"locked", resp.Locked, &result.Locked},
		{"executed_volume", resp.ExecutedVolume, &result.ExecutedVolume},
	}
	for _, field := range fields {
		value, err := upbitOptionalDecimal(field.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid upbit %s: %w", field.name, err)
		}
		*field.dst = value
	}

	return result, nil
}

func mapUpbitTicker(resp entity.UpbitTickerResponse) entity.PriceTick {
	return entity.PriceTick{
		Market:            resp.Market,
		TradePrice:        decimal.NewFromFloat(resp.TradePrice),
		Change:            entity.PriceChange(resp.Change),
		ChangeRate:        decimal.NewFromFloat(resp.ChangeRate),
		ChangePrice:       decimal.NewFromFloat(resp.ChangePrice),
		HighPrice:         decimal.NewFromFloat(resp.HighPrice),
		LowPrice:          decimal.NewFromFloat(resp.LowPrice),
		AccTradeVolume24h: decimal.NewFromFloat(resp.AccTradeVolume24h),
		Timestamp:         time.UnixMilli(resp.Timestamp).UTC(),
	}
}

func upbitDecimalOrZero(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(trimmed)
}

func upbitOptionalDecimal(raw string) (*decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, err
	}
	return &value, nil
}
