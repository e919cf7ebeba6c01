package pricefeed

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/krobus00/coin-trader/internal/entity"
	"github.com/krobus00/coin-trader/internal/infrastructure"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	defaultWSPingInterval = 2 * time.Minute
	upbitWSTickerType     = "ticker"
)

// WebsocketFeed streams Upbit ticker frames into the hub and reconnects with
// jittered backoff until its context is done.
type WebsocketFeed struct {
	url          string
	hub          *Hub
	dialer       *websocket.Dialer
	backoff      *infrastructure.Backoff
	pingInterval time.Duration
	newTicket    func() string

	mu     sync.Mutex
	market string
	conn   *websocket.Conn
}

func NewWebsocketFeed(url, market string, hub *Hub, backoff *infrastructure.Backoff) *WebsocketFeed {
	if backoff == nil {
		backoff = infrastructure.NewBackoff(2, 500*time.Millisecond, 30*time.Second)
	}

	return &WebsocketFeed{
		url:          url,
		hub:          hub,
		dialer:       websocket.DefaultDialer,
		backoff:      backoff,
		pingInterval: defaultWSPingInterval,
		newTicket:    uuid.NewString,
		market:       normalizeMarket(market),
	}
}

func (f *WebsocketFeed) Market() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.market
}

// SetMarket drops the current connection so Run resubscribes to market.
func (f *WebsocketFeed) SetMarket(market string) {
	f.mu.Lock()
	f.market = normalizeMarket(market)
	conn := f.conn
	f.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (f *WebsocketFeed) Run(ctx context.Context) error {
	attempt := 0
	for {
		connected, err := f.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			attempt = 0
		}

		delay := f.backoff.Delay(attempt)
		attempt++
		logrus.WithFields(logrus.Fields{
			"url":     f.url,
			"attempt": attempt,
			"delay":   delay,
		}).WithError(err).Warn("ticker websocket disconnected, reconnecting")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// runOnce reports whether the subscription was sent before the connection
// ended.
func (f *WebsocketFeed) runOnce(ctx context.Context) (bool, error) {
	market := f.Market()
	logrus.Infof("connecting to %s", f.url)

	c, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, err
	}
	defer c.Close()

	f.mu.Lock()
	f.conn = c
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		if f.conn == c {
			f.conn = nil
		}
		f.mu.Unlock()
	}()

	subscription := []map[string]any{
		{"ticket": f.newTicket()},
		{"type": upbitWSTickerType, "codes": []string{market}},
		{"format": "DEFAULT"},
	}
	if err := c.WriteJSON(subscription); err != nil {
		return false, err
	}
	logrus.WithField("market", market).Info("ticker websocket subscribed")

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(f.pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					logrus.Error(err)
					return
				}
			case <-ctx.Done():
				_ = c.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			return true, err
		}

		tick, ok, err := parseUpbitWSTicker(message)
		if err != nil {
			logrus.WithError(err).Debug("ignoring undecodable websocket frame")
			continue
		}
		if !ok {
			continue
		}
		f.hub.Publish(tick)
	}
}

func parseUpbitWSTicker(message []byte) (entity.PriceTick, bool, error) {
	var payload entity.UpbitWSTickerMessage
	if err := json.Unmarshal(message, &payload); err != nil {
		return entity.PriceTick{}, false, err
	}
	if payload.Type != upbitWSTickerType {
		return entity.PriceTick{}, false, nil
	}
	if strings.TrimSpace(payload.Code) == "" {
		return entity.PriceTick{}, false, errors.New("ticker frame without code")
	}

	return entity.PriceTick{
		Market:            payload.Code,
		TradePrice:        decimal.NewFromFloat(payload.TradePrice),
		Change:            entity.PriceChange(payload.Change),
		ChangeRate:        decimal.NewFromFloat(payload.ChangeRate),
		ChangePrice:       decimal.NewFromFloat(payload.ChangePrice),
		HighPrice:         decimal.NewFromFloat(payload.HighPrice),
		LowPrice:          decimal.NewFromFloat(payload.LowPrice),
		AccTradeVolume24h: decimal.NewFromFloat(payload.AccTradeVolume24h),
		Timestamp:         time.UnixMilli(payload.Timestamp).UTC(),
	}, true, nil
}
