package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type ArmedState string

const (
	ArmedStateIdle      ArmedState = "IDLE"
	ArmedStateArmed     ArmedState = "ARMED"
	ArmedStateFired     ArmedState = "FIRED"
	ArmedStateCancelled ArmedState = "CANCELLED"
)

type RegistryState string

const (
	RegistryStateStopped RegistryState = "STOPPED"
	RegistryStateRunning RegistryState = "RUNNING"
)

type ConditionalOrder struct {
	ID            string              `json:"id"`
	Side          OrderSide           `json:"side"`
	Volume        decimal.Decimal     `json:"volume"`
	FixedPrice    decimal.NullDecimal `json:"fixed_price"`
	PercentOffset decimal.Decimal     `json:"percent_offset"`
	Enabled       bool                `json:"enabled"`
	State         ArmedState          `json:"state"`
	TargetPrice   decimal.NullDecimal `json:"target_price"`
	FiredAt       *time.Time          `json:"fired_at,omitempty"`
	Result        *OrderResult        `json:"result,omitempty"`
	LastError     string              `json:"last_error,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

// ConditionalOrderInput carries the user editable fields of a conditional order.
type ConditionalOrderInput struct {
	Side          OrderSide
	Volume        decimal.Decimal
	FixedPrice    decimal.NullDecimal
	PercentOffset decimal.Decimal
	Enabled       bool
}

// ConditionalOrderPatch updates only the fields that are set.
type ConditionalOrderPatch struct {
	Side          *OrderSide
	Volume        *decimal.Decimal
	FixedPrice    *decimal.NullDecimal
	PercentOffset *decimal.Decimal
}

type FireOutcome struct {
	OrderID     string
	Side        OrderSide
	Volume      decimal.Decimal
	TargetPrice decimal.Decimal
	TickPrice   decimal.Decimal
	Result      *OrderResult
	Err         error
}
