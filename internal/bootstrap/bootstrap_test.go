package bootstrap

import (
	"testing"
	"time"

	"github.com/krobus00/coin-trader/internal/config"
	"github.com/krobus00/coin-trader/internal/service/exchange"
	"github.com/krobus00/coin-trader/internal/service/pricefeed"
	"github.com/stretchr/testify/assert"
)

func TestNewPriceFeed_SelectsSource(t *testing.T) {
	previous := config.Env
	t.Cleanup(func() { config.Env = previous })

	tests := []struct {
		source string
		want   any
	}{
		{source: "poll", want: &pricefeed.Poller{}},
		{source: "", want: &pricefeed.Poller{}},
		{source: "Websocket", want: &pricefeed.WebsocketFeed{}},
		{source: "carrier-pigeon", want: &pricefeed.Poller{}},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			config.Env = &config.EnvConfig{
				Exchange: config.ExchangeConfig{BaseURL: "http://127.0.0.1:0", WSURL: "ws://127.0.0.1:0", HTTPTimeout: time.Second},
				PriceFeed: config.PriceFeedConfig{
					Source:   tt.source,
					Market:   "KRW-ETH",
					Interval: time.Second,
				},
			}

			public := exchange.NewUpbitExchange(config.Env.Exchange, nil)
			feed := newPriceFeed(public, pricefeed.NewHub(nil), nil)

			assert.IsType(t, tt.want, feed)
			assert.Equal(t, "KRW-ETH", feed.Market())
		})
	}
}
