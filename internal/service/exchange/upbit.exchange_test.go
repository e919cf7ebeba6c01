package exchange

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/krobus00/coin-trader/internal/config"
	"github.com/krobus00/coin-trader/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUpbit checks signatures the way the exchange does: the query hash is
// recomputed from the received body in the documented field order.
type fakeUpbit struct {
	t          *testing.T
	secretKey  string
	lastBody   []byte
	lastClaims entity.AuthTokenPayload
	handler    func(w http.ResponseWriter, r *http.Request)
}

func newFakeUpbit(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*fakeUpbit, *httptest.Server) {
	fake := &fakeUpbit{t: t, secretKey: testCredentials.SecretKey, handler: handler}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		fake.lastBody = body

		if auth := r.Header.Get("Authorization"); auth != "" {
			claims, err := VerifyToken(auth, fake.secretKey)
			if err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"name":"jwt_verification","message":"bad signature"}}`))
				return
			}
			fake.lastClaims = claims
		}

		fake.handler(w, r)
	}))
	t.Cleanup(server.Close)

	return fake, server
}

func newTestExchange(t *testing.T, baseURL string) *UpbitExchange {
	signer, err := NewSigner(testCredentials)
	require.NoError(t, err)
	return NewUpbitExchange(config.ExchangeConfig{BaseURL: baseURL}, signer)
}

func rebuildOrderQuery(t *testing.T, body []byte) string {
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(body, &decoded))

	query := ""
	for _, key := range []string{"market", "side", "volume", "price", "ord_type"} {
		value, ok := decoded[key]
		if !ok {
			continue
		}
		if query != "" {
			query += "&"
		}
		query += key + "=" + value
	}
	return query
}

func TestUpbitExchange_PlaceOrderLimitSignsExactBody(t *testing.T) {
	fake, server := newFakeUpbit(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		assert.Empty(t, r.URL.RawQuery)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"uuid":"9ca023a5-851b-4fec-9f0a-48cd83c2eaae","side":"bid","ord_type":"limit","price":"95000","state":"wait","market":"KRW-BTC","created_at":"2024-04-10T15:42:23+09:00","volume":"0.01","remaining_volume":"0.01","reserved_fee":"0.0015","remaining_fee":"0.0015","paid_fee":"0","locked":"950.0015","executed_volume":"0","trades_count":0}`))
	})

	client := newTestExchange(t, server.URL)
	result, err := client.PlaceOrder(context.Background(), entity.OrderRequest{
		Market: "KRW-BTC",
		Side:   entity.OrderSideBid,
		Kind:   entity.OrderKindLimit,
		Volume: decimal.RequireFromString("0.01"),
		Price:  decimal.NewNullDecimal(decimal.NewFromInt(95000)),
	})
	require.NoError(t, err)

	assert.Equal(t, `{"market":"KRW-BTC","side":"bid","volume":"0.01","price":"95000","ord_type":"limit"}`, string(fake.lastBody))
	query := rebuildOrderQuery(t, fake.lastBody)
	assert.Equal(t, "market=KRW-BTC&side=bid&volume=0.01&price=95000&ord_type=limit", query)
	assert.Equal(t, QueryHash(query), fake.lastClaims.QueryHash)
	assert.Equal(t, "SHA256", fake.lastClaims.QueryHashAlg)

	assert.Equal(t, "9ca023a5-851b-4fec-9f0a-48cd83c2eaae", result.UUID)
	assert.Equal(t, entity.OrderSideBid, result.Side)
	require.NotNil(t, result.Price)
	assert.True(t, result.Price.Equal(decimal.NewFromInt(95000)))
	assert.Equal(t, "wait", result.State)
}

func TestUpbitExchange_PlaceOrderMarketOmitsPrice(t *testing.T) {
	fake, server := newFakeUpbit(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"uuid":"u-1","side":"ask","ord_type":"market","state":"wait","market":"KRW-ETH","volume":"1.5"}`))
	})

	client := newTestExchange(t, server.URL)
	_, err := client.PlaceOrder(context.Background(), entity.OrderRequest{
		Market: "KRW-ETH",
		Side:   entity.OrderSideAsk,
		Kind:   entity.OrderKindMarket,
		Volume: decimal.RequireFromString("1.5"),
	})
	require.NoError(t, err)

	assert.Equal(t, `{"market":"KRW-ETH","side":"ask","volume":"1.5","ord_type":"market"}`, string(fake.lastBody))
	assert.Equal(t, QueryHash("market=KRW-ETH&side=ask&volume=1.5&ord_type=market"), fake.lastClaims.QueryHash)
}

func TestUpbitOrderParams_FieldOrder(t *testing.T) {
	query, body := upbitOrderParams(entity.OrderRequest{
		Market: "KRW-BTC",
		Side:   entity.OrderSideAsk,
		Kind:   entity.OrderKindLimit,
		Volume: decimal.RequireFromString("0.00012300"),
		Price:  decimal.NewNullDecimal(decimal.RequireFromString("101000.5")),
	})

	assert.Equal(t, "market=KRW-BTC&side=ask&volume=0.000123&price=101000.5&ord_type=limit", query)
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	assert.Equal(t, query, rebuildOrderQuery(t, raw))
}

func TestUpbitExchange_PlaceOrderEmptyBodyHasNoUUID(t *testing.T) {
	_, server := newFakeUpbit(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	client := newTestExchange(t, server.URL)
	result, err := client.PlaceOrder(context.Background(), entity.OrderRequest{
		Market: "KRW-BTC",
		Side:   entity.OrderSideBid,
		Kind:   entity.OrderKindLimit,
		Volume: decimal.NewFromInt(1),
		Price:  decimal.NewNullDecimal(decimal.NewFromInt(1)),
	})
	require.NoError(t, err)
	assert.Empty(t, result.UUID)
}

func TestUpbitExchange_GetAccountsOmitsQueryHash(t *testing.T) {
	fake, server := newFakeUpbit(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts", r.URL.Path)
		assert.Empty(t, r.URL.RawQuery)
		_, _ = w.Write([]byte(`[{"currency":"KRW","balance":"1000000.0","locked":"0.0","avg_buy_price":"0","avg_buy_price_modified":false,"unit_currency":"KRW"},{"currency":"BTC","balance":"0.5","locked":"0.1","avg_buy_price":"90000000","avg_buy_price_modified":true,"unit_currency":"KRW"}]`))
	})

	client := newTestExchange(t, server.URL)
	accounts, err := client.GetAccounts(context.Background())
	require.NoError(t, err)

	assert.Empty(t, fake.lastClaims.QueryHash)
	assert.Empty(t, fake.lastClaims.QueryHashAlg)
	assert.Equal(t, testCredentials.AccessKey, fake.lastClaims.AccessKey)
	require.Len(t, accounts, 2)
	assert.Equal(t, "BTC", accounts[1].Currency)
	assert.True(t, accounts[1].Balance.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, accounts[1].AvgBuyPriceModified)
}

func TestUpbitExchange_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "401 is auth error",
			status: http.StatusUnauthorized,
			body:   `{"error":{"name":"invalid_access_key","message":"unknown key"}}`,
			check: func(t *testing.T, err error) {
				var authErr *AuthError
				require.ErrorAs(t, err, &authErr)
				assert.Equal(t, "invalid_access_key", authErr.Name)
			},
		},
		{
			name:   "400 with nonce name is auth error",
			status: http.StatusBadRequest,
			body:   `{"error":{"name":"nonce_used","message":"reused nonce"}}`,
			check: func(t *testing.T, err error) {
				assert.True(t, IsAuthError(err))
			},
		},
		{
			name:   "400 business rejection is exchange error",
			status: http.StatusBadRequest,
			body:   `{"error":{"name":"insufficient_funds_bid","message":"not enough KRW"}}`,
			check: func(t *testing.T, err error) {
				var exchangeErr *ExchangeError
				require.ErrorAs(t, err, &exchangeErr)
				assert.Equal(t, http.StatusBadRequest, exchangeErr.Status)
				assert.Equal(t, "insufficient_funds_bid", exchangeErr.Name)
				assert.Equal(t, "not enough KRW", exchangeErr.Message)
			},
		},
		{
			name:   "500 is exchange error",
			status: http.StatusInternalServerError,
			body:   `oops`,
			check: func(t *testing.T, err error) {
				var exchangeErr *ExchangeError
				require.ErrorAs(t, err, &exchangeErr)
				assert.Equal(t, "oops", exchangeErr.Message)
			},
		},
		{
			name:   "malformed success body is network error",
			status: http.StatusOK,
			body:   `{"uuid":`,
			check: func(t *testing.T, err error) {
				assert.True(t, IsNetworkError(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, server := newFakeUpbit(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			client := newTestExchange(t, server.URL)
			_, err := client.PlaceOrder(context.Background(), entity.OrderRequest{
				Market: "KRW-BTC",
				Side:   entity.OrderSideBid,
				Kind:   entity.OrderKindMarket,
				Volume: decimal.NewFromInt(1),
			})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestUpbitExchange_WrongSecretIsRejectedAsAuthError(t *testing.T) {
	fake, server := newFakeUpbit(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	fake.secretKey = "another-secret"

	client := newTestExchange(t, server.URL)
	_, err := client.GetAccounts(context.Background())
	assert.True(t, IsAuthError(err))
}

func TestUpbitExchange_TransportFailureIsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	client := newTestExchange(t, baseURL)
	_, err := client.GetTicker(context.Background(), []string{"KRW-BTC"})
	assert.True(t, IsNetworkError(err))
}

func TestUpbitExchange_PublicClientCannotSign(t *testing.T) {
	client := NewUpbitExchange(config.ExchangeConfig{BaseURL: "http://127.0.0.1:1"}, nil)
	_, err := client.GetAccounts(context.Background())
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestUpbitExchange_GetTicker(t *testing.T) {
	_, server := newFakeUpbit(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/ticker", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "KRW-BTC,KRW-ETH", r.URL.Query().Get("markets"))
		_, _ = w.Write([]byte(`[{"market":"KRW-BTC","trade_price":95000000,"change":"RISE","change_rate":0.0123,"change_price":1150000,"high_price":96000000,"low_price":93000000,"acc_trade_volume_24h":1234.5678,"timestamp":1700000000000},{"market":"KRW-ETH","trade_price":3500000,"change":"FALL","change_rate":0.01,"change_price":35000,"high_price":3600000,"low_price":3400000,"acc_trade_volume_24h":10,"timestamp":1700000000500}]`))
	})

	client := NewUpbitExchange(config.ExchangeConfig{BaseURL: server.URL}, nil)
	ticks, err := client.GetTicker(context.Background(), []string{"krw-btc", " KRW-ETH "})
	require.NoError(t, err)
	require.Len(t, ticks, 2)

	assert.Equal(t, "KRW-BTC", ticks[0].Market)
	assert.True(t, ticks[0].TradePrice.Equal(decimal.NewFromInt(95000000)))
	assert.Equal(t, entity.PriceChangeRise, ticks[0].Change)
	assert.Equal(t, int64(1700000000000), ticks[0].Timestamp.UnixMilli())
	assert.Equal(t, entity.PriceChangeFall, ticks[1].Change)
}

func TestUpbitExchange_GetTickerRequiresMarket(t *testing.T) {
	client := NewUpbitExchange(config.ExchangeConfig{BaseURL: "http://127.0.0.1:1"}, nil)
	_, err := client.GetTicker(context.Background(), []string{" "})
	assert.ErrorIs(t, err, ErrNoMarkets)
}

func TestUpbitExchange_GetOrderBookReturnsRaw(t *testing.T) {
	_, server := newFakeUpbit(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/orderbook", r.URL.Path)
		_, _ = w.Write([]byte(`[{"market":"KRW-BTC","orderbook_units":[{"ask_price":95001000,"bid_price":95000000}]}]`))
	})

	client := NewUpbitExchange(config.ExchangeConfig{BaseURL: server.URL}, nil)
	raw, err := client.GetOrderBook(context.Background(), []string{"KRW-BTC"})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"market":"KRW-BTC","orderbook_units":[{"ask_price":95001000,"bid_price":95000000}]}]`, string(raw))
}

func TestUpbitExchange_GetMarketsAndFilter(t *testing.T) {
	_, server := newFakeUpbit(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/market/all", r.URL.Path)
		_, _ = w.Write([]byte(`[{"market":"KRW-BTC","korean_name":"비트코인","english_name":"Bitcoin","market_warning":"NONE"},{"market":"BTC-ETH","korean_name":"이더리움","english_name":"Ethereum"},{"market":"KRW-XRP","korean_name":"리플","english_name":"Ripple","market_warning":"CAUTION"}]`))
	})

	client := NewUpbitExchange(config.ExchangeConfig{BaseURL: server.URL}, nil)
	markets, err := client.GetMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 3)
	assert.Equal(t, entity.MarketWarningNone, markets[1].MarketWarning)

	krw := entity.FilterMarketsByQuote(markets, "KRW")
	require.Len(t, krw, 2)
	assert.Equal(t, "KRW-BTC", krw[0].Market)
	assert.True(t, krw[1].HasWarning())
}
