package pricefeed

import (
	"context"
	"strings"
	"sync"

	"github.com/krobus00/coin-trader/internal/entity"
	"github.com/krobus00/coin-trader/internal/infrastructure"
	"github.com/shopspring/decimal"
)

type TickSubscriber interface {
	OnTick(tick entity.PriceTick)
}

type TickSubscriberFunc func(tick entity.PriceTick)

func (f TickSubscriberFunc) OnTick(tick entity.PriceTick) {
	f(tick)
}

// Hub keeps the latest tick per market and fans ticks out to subscribers in
// registration order. Subscribers must not block.
type Hub struct {
	metrics *infrastructure.Metrics

	mu          sync.RWMutex
	latest      map[string]entity.PriceTick
	subscribers []TickSubscriber
}

func NewHub(metrics *infrastructure.Metrics) *Hub {
	return &Hub{
		metrics: metrics,
		latest:  make(map[string]entity.PriceTick),
	}
}

func (h *Hub) Subscribe(subscriber TickSubscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers = append(h.subscribers, subscriber)
}

func (h *Hub) Publish(tick entity.PriceTick) {
	tick.Market = normalizeMarket(tick.Market)

	h.mu.Lock()
	h.latest[tick.Market] = tick
	subscribers := append([]TickSubscriber(nil), h.subscribers...)
	h.mu.Unlock()

	h.metrics.SetLastTradePrice(tick.Market, tick.TradePrice.InexactFloat64())

	for _, subscriber := range subscribers {
		subscriber.OnTick(tick)
	}
}

func (h *Hub) Latest(market string) (entity.PriceTick, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	tick, ok := h.latest[normalizeMarket(market)]
	return tick, ok
}

func (h *Hub) LatestPrice(market string) (decimal.Decimal, bool) {
	tick, ok := h.Latest(market)
	if !ok {
		return decimal.Zero, false
	}
	return tick.TradePrice, true
}

func normalizeMarket(market string) string {
	return strings.ToUpper(strings.TrimSpace(market))
}

// Feed is a price source that publishes into a Hub.
type Feed interface {
	Run(ctx context.Context) error
	Market() string
	SetMarket(market string)
}
