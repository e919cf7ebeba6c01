package ordermanager

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/krobus00/coin-trader/internal/constant"
	"github.com/krobus00/coin-trader/internal/entity"
	"github.com/krobus00/coin-trader/internal/infrastructure"
	"github.com/krobus00/coin-trader/internal/service/exchange"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingExchange struct {
	mu     sync.Mutex
	calls  int
	orders []entity.OrderRequest
	result *entity.OrderResult
	err    error
}

func (e *countingExchange) PlaceOrder(_ context.Context, order entity.OrderRequest) (*entity.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.orders = append(e.orders, order)
	return e.result, e.err
}

type recordingPublisher struct {
	subjects []string
	events   []any
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, data any) error {
	p.subjects = append(p.subjects, subject)
	p.events = append(p.events, data)
	return nil
}

func limitOrder(volume, price string) entity.OrderRequest {
	return entity.OrderRequest{
		Market: "KRW-BTC",
		Side:   entity.OrderSideBid,
		Kind:   entity.OrderKindLimit,
		Volume: decimal.RequireFromString(volume),
		Price:  decimal.NewNullDecimal(decimal.RequireFromString(price)),
	}
}

func TestOrderManagerService_ValidationNeverReachesNetwork(t *testing.T) {
	tests := []struct {
		name  string
		order entity.OrderRequest
		field string
	}{
		{name: "negative volume", order: limitOrder("-1", "95000"), field: "volume"},
		{name: "zero volume", order: limitOrder("0", "95000"), field: "volume"},
		{name: "limit without price", order: entity.OrderRequest{Market: "KRW-BTC", Side: entity.OrderSideBid, Kind: entity.OrderKindLimit, Volume: decimal.NewFromInt(1)}, field: "price"},
		{name: "limit with zero price", order: limitOrder("1", "0"), field: "price"},
		{name: "market with price", order: entity.OrderRequest{Market: "KRW-BTC", Side: entity.OrderSideAsk, Kind: entity.OrderKindMarket, Volume: decimal.NewFromInt(1), Price: decimal.NewNullDecimal(decimal.NewFromInt(1))}, field: "price"},
		{name: "unknown side", order: entity.OrderRequest{Market: "KRW-BTC", Side: "buy", Kind: entity.OrderKindMarket, Volume: decimal.NewFromInt(1)}, field: "side"},
		{name: "unknown kind", order: entity.OrderRequest{Market: "KRW-BTC", Side: entity.OrderSideBid, Kind: "stop", Volume: decimal.NewFromInt(1)}, field: "kind"},
		{name: "empty market", order: entity.OrderRequest{Market: " ", Side: entity.OrderSideBid, Kind: entity.OrderKindMarket, Volume: decimal.NewFromInt(1)}, field: "market"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &countingExchange{result: &entity.OrderResult{UUID: "u-1"}}
			service := NewOrderManagerService(fake, nil, nil)

			_, err := service.PlaceOrder(context.Background(), tt.order)
			require.ErrorIs(t, err, ErrValidation)

			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.field, validationErr.Field)
			assert.Equal(t, 0, fake.calls)
		})
	}
}

func TestOrderManagerService_PlaceOrderSuccess(t *testing.T) {
	fake := &countingExchange{result: &entity.OrderResult{UUID: "u-1", State: "wait"}}
	publisher := &recordingPublisher{}
	metrics := infrastructure.NewMetrics()
	service := NewOrderManagerService(fake, publisher, metrics)

	order := limitOrder("0.01", "95000")
	order.Market = " krw-btc "
	result, err := service.PlaceOrder(context.Background(), order)
	require.NoError(t, err)

	assert.Equal(t, "u-1", result.UUID)
	require.Len(t, fake.orders, 1)
	assert.Equal(t, "KRW-BTC", fake.orders[0].Market)
	assert.Equal(t, entity.OrderSourceManual, fake.orders[0].Source)

	require.Equal(t, []string{constant.CoinTraderStreamSubjectOrderPlaced}, publisher.subjects)
	event := publisher.events[0].(entity.OrderPlacedEvent)
	assert.Equal(t, "95000", event.Price)
	assert.Equal(t, "0.01", event.Volume)
	assert.Same(t, fake.result, event.Result)
}

func TestOrderManagerService_MissingUUIDIsRejected(t *testing.T) {
	for _, result := range []*entity.OrderResult{nil, {UUID: ""}, {UUID: "  "}} {
		fake := &countingExchange{result: result}
		publisher := &recordingPublisher{}
		service := NewOrderManagerService(fake, publisher, nil)

		_, err := service.PlaceOrder(context.Background(), limitOrder("1", "100"))
		assert.ErrorIs(t, err, ErrSubmissionRejected)
		assert.Equal(t, 1, fake.calls)
		assert.Equal(t, []string{constant.CoinTraderStreamSubjectOrderFailed}, publisher.subjects)
	}
}

func TestOrderManagerService_ExchangeErrorsSurface(t *testing.T) {
	exchangeErr := &exchange.ExchangeError{Op: "place order", Status: 400, Name: "insufficient_funds_bid", Message: "not enough KRW"}
	fake := &countingExchange{err: exchangeErr}
	service := NewOrderManagerService(fake, nil, nil)

	_, err := service.PlaceOrder(context.Background(), limitOrder("1", "100"))
	assert.True(t, exchange.IsExchangeError(err))
	assert.False(t, errors.Is(err, ErrSubmissionRejected))
}

func TestOrderManagerService_MarketOrderWithoutPrice(t *testing.T) {
	fake := &countingExchange{result: &entity.OrderResult{UUID: "u-2"}}
	service := NewOrderManagerService(fake, nil, nil)

	_, err := service.PlaceOrder(context.Background(), entity.OrderRequest{
		Market: "KRW-ETH",
		Side:   entity.OrderSideAsk,
		Kind:   entity.OrderKindMarket,
		Volume: decimal.RequireFromString("1.5"),
		Source: entity.OrderSourceConditional,
	})
	require.NoError(t, err)
	assert.Equal(t, entity.OrderSourceConditional, fake.orders[0].Source)
	assert.False(t, fake.orders[0].Price.Valid)
}

func TestOrderManagerService_CancelledContext(t *testing.T) {
	fake := &countingExchange{}
	service := NewOrderManagerService(fake, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := service.PlaceOrder(ctx, limitOrder("1", "100"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fake.calls)
}
