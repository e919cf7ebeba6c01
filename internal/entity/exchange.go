package entity

import (
	"context"

	"github.com/goccy/go-json"
)

type ExchangeName string

const (
	ExchangeUpbit ExchangeName = "upbit"
)

// PublicExchange covers the endpoints that need no credentials.
type PublicExchange interface {
	GetTicker(ctx context.Context, markets []string) ([]PriceTick, error)
	GetOrderBook(ctx context.Context, markets []string) (json.RawMessage, error)
	GetMarkets(ctx context.Context) ([]Market, error)
}

type Exchange interface {
	PublicExchange
	GetAccounts(ctx context.Context) ([]Account, error)
	PlaceOrder(ctx context.Context, order OrderRequest) (*OrderResult, error)
}

// OrderPlacer is satisfied by the exchange client itself.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, order OrderRequest) (*OrderResult, error)
}

type OrderManager interface {
	PlaceOrder(ctx context.Context, order OrderRequest) (*OrderResult, error)
}
