package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string
type OrderKind string

const (
	OrderSideBid OrderSide = "bid"
	OrderSideAsk OrderSide = "ask"

	OrderKindLimit  OrderKind = "limit"
	OrderKindMarket OrderKind = "market"
)

func ParseOrderSide(raw string) (OrderSide, error) {
	side := OrderSide(raw)
	if err := side.Validate(); err != nil {
		return "", err
	}
	return side, nil
}

func (s OrderSide) Validate() error {
	switch s {
	case OrderSideBid, OrderSideAsk:
		return nil
	default:
		return fmt.Errorf("unsupported order side: %q", string(s))
	}
}

func ParseOrderKind(raw string) (OrderKind, error) {
	kind := OrderKind(raw)
	if err := kind.Validate(); err != nil {
		return "", err
	}
	return kind, nil
}

func (k OrderKind) Validate() error {
	switch k {
	case OrderKindLimit, OrderKindMarket:
		return nil
	default:
		return fmt.Errorf("unsupported order kind: %q", string(k))
	}
}

const (
	OrderSourceManual      = "manual"
	OrderSourceConditional = "conditional"
)

type OrderRequest struct {
	Market string
	Side   OrderSide
	Kind   OrderKind
	Volume decimal.Decimal
	// Price must be set for limit orders and absent for market orders.
	Price  decimal.NullDecimal
	Source string
}

type OrderResult struct {
	UUID            string           `json:"uuid"`
	Side            OrderSide        `json:"side"`
	OrdType         OrderKind        `json:"ord_type"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	State           string           `json:"state"`
	Market          string           `json:"market"`
	CreatedAt       time.Time        `json:"created_at"`
	Volume          *decimal.Decimal `json:"volume,omitempty"`
	RemainingVolume *decimal.Decimal `json:"remaining_volume,omitempty"`
	ReservedFee     *decimal.Decimal `json:"reserved_fee,omitempty"`
	RemainingFee    *decimal.Decimal `json:"remaining_fee,omitempty"`
	PaidFee         *decimal.Decimal `json:"paid_fee,omitempty"`
	Locked          *decimal.Decimal `json:"locked,omitempty"`
	ExecutedVolume  *decimal.Decimal `json:"executed_volume,omitempty"`
	TradesCount     int64            `json:"trades_count"`
}

type Account struct {
	Currency            string          `json:"currency"`
	Balance             decimal.Decimal `json:"balance"`
	Locked              decimal.Decimal `json:"locked"`
	AvgBuyPrice         decimal.Decimal `json:"avg_buy_price"`
	AvgBuyPriceModified bool            `json:"avg_buy_price_modified"`
	UnitCurrency        string          `json:"unit_currency"`
}
