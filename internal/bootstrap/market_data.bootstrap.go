package bootstrap

import (
	"context"
	"strings"

	"github.com/krobus00/coin-trader/internal/config"
	"github.com/krobus00/coin-trader/internal/service/exchange"
	"github.com/krobus00/coin-trader/internal/service/pricefeed"
	"github.com/krobus00/coin-trader/internal/util"
	"github.com/spf13/cobra"
)

func StartListMarkets(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), config.Env.Exchange.HTTPTimeout)
	defer cancel()

	quote, _ := cmd.Flags().GetString("quote")
	if strings.TrimSpace(quote) == "" {
		quote = config.Env.PriceFeed.QuoteCurrency
	}

	markets, err := pricefeed.LoadMarkets(ctx, exchange.NewUpbitExchange(config.Env.Exchange, nil), quote)
	util.ContinueOrFatal(err)
	util.ContinueOrFatal(printJSON(markets))
}

func StartShowTicker(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), config.Env.Exchange.HTTPTimeout)
	defer cancel()

	markets := args
	if len(markets) == 0 {
		markets = []string{config.Env.PriceFeed.Market}
	}

	ticks, err := exchange.NewUpbitExchange(config.Env.Exchange, nil).GetTicker(ctx, markets)
	util.ContinueOrFatal(err)
	util.ContinueOrFatal(printJSON(ticks))
}
