package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/krobus00/coin-trader/internal/config"
	"github.com/krobus00/coin-trader/internal/entity"
	"github.com/krobus00/coin-trader/internal/infrastructure"
	"github.com/krobus00/coin-trader/internal/util"
	"github.com/sirupsen/logrus"
)

const (
	defaultPollInterval = time.Second
	defaultFetchTimeout = 5 * time.Second
)

var errTickerMissing = errors.New("ticker response has no entry for market")

type TickerFetcher interface {
	GetTicker(ctx context.Context, markets []string) ([]entity.PriceTick, error)
}

type Status struct {
	Market              string    `json:"market"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalFailures       int       `json:"total_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastAttemptAt       time.Time `json:"last_attempt_at"`
	LastSuccessAt       time.Time `json:"last_success_at"`
}

// Poller fetches the ticker of one market on a fixed interval. Fetch errors
// are logged and recorded in Status, the last good tick stays in the hub.
type Poller struct {
	client       TickerFetcher
	hub          *Hub
	metrics      *infrastructure.Metrics
	interval     time.Duration
	fetchTimeout time.Duration
	now          func() time.Time

	mu     sync.Mutex
	market string
	status Status
}

func NewPoller(client TickerFetcher, hub *Hub, cfg config.PriceFeedConfig, metrics *infrastructure.Metrics) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}

	market := normalizeMarket(cfg.Market)
	return &Poller{
		client:       client,
		hub:          hub,
		metrics:      metrics,
		interval:     interval,
		fetchTimeout: fetchTimeout,
		now:          time.Now,
		market:       market,
		status:       Status{Market: market},
	}
}

func (p *Poller) Market() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.market
}

// SetMarket switches the polled market and resets the failure streak.
func (p *Poller) SetMarket(market string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.market = normalizeMarket(market)
	p.status = Status{Market: p.market}
}

func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Run polls until ctx is done. Fetches never overlap: a slow fetch makes the
// ticker drop intervals instead of queueing them.
func (p *Poller) Run(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"market":   p.Market(),
		"interval": p.interval,
	}).Info("price poller started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			logrus.Info("price poller stopped")
			return nil
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs a single fetch cycle.
func (p *Poller) Poll(ctx context.Context) {
	market := p.Market()
	if market == "" {
		return
	}

	var tick entity.PriceTick
	err := util.ProcessWithTimeout(ctx, p.fetchTimeout, "ticker "+market, func(ctx context.Context) error {
		ticks, err := p.client.GetTicker(ctx, []string{market})
		if err != nil {
			return err
		}
		for _, item := range ticks {
			if normalizeMarket(item.Market) == market {
				tick = item
				return nil
			}
		}
		return fmt.Errorf("%w: %s", errTickerMissing, market)
	})
	if ctx.Err() != nil {
		return
	}

	failures := p.record(market, err)
	p.metrics.ObserveFeedFetch(market, err == nil, failures)

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"market":               market,
			"consecutive_failures": failures,
		}).WithError(err).Warn("ticker fetch failed, keeping last price")
		return
	}

	p.hub.Publish(tick)
}

func (p *Poller) record(market string, err error) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	// market switched while the fetch was in flight
	if market != p.market {
		return p.status.ConsecutiveFailures
	}

	now := p.now().UTC()
	p.status.LastAttemptAt = now
	if err != nil {
		p.status.ConsecutiveFailures++
		p.status.TotalFailures++
		p.status.LastError = err.Error()
		return p.status.ConsecutiveFailures
	}

	p.status.ConsecutiveFailures = 0
	p.status.LastError = ""
	p.status.LastSuccessAt = now
	return 0
}

type MarketLister interface {
	GetMarkets(ctx context.Context) ([]entity.Market, error)
}

// LoadMarkets returns the markets quoted in quote, e.g. "KRW".
func LoadMarkets(ctx context.Context, client MarketLister, quote string) ([]entity.Market, error) {
	markets, err := client.GetMarkets(ctx)
	if err != nil {
		return nil, err
	}

	filtered := entity.FilterMarketsByQuote(markets, quote)
	logrus.WithFields(logrus.Fields{
		"quote": quote,
		"total": len(markets),
		"kept":  len(filtered),
	}).Debug("markets loaded")

	return filtered, nil
}
