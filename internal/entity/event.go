package entity

import (
	"context"
	"time"
)

type Publisher interface {
	JetstreamEventInit(ctx context.Context) error
}

type EventPublisher interface {
	Publish(ctx context.Context, subject string, data any) error
}

type ConditionalOrderEvent struct {
	Market        string           `json:"market"`
	RegistryState RegistryState    `json:"registry_state"`
	Order         ConditionalOrder `json:"order"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

type OrderPlacedEvent struct {
	Market     string       `json:"market"`
	Side       OrderSide    `json:"side"`
	Kind       OrderKind    `json:"kind"`
	Volume     string       `json:"volume"`
	Price      string       `json:"price,omitempty"`
	Source     string       `json:"source"`
	Result     *OrderResult `json:"result,omitempty"`
	Error      string       `json:"error,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}
