/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/coin-trader/internal/bootstrap"
	"github.com/spf13/cobra"
)

// tradingSessionCmd represents the trading-session command
var tradingSessionCmd = &cobra.Command{
	Use:   "trading-session",
	Short: "Start the trading session and its control API",
	Long: `The trading session polls the selected market's price, keeps the
conditional order registry and serves the local control API used to log in,
place manual orders and manage conditional orders.`,
	Run: bootstrap.StartTradingSession,
}

func init() {
	tradingSessionCmd.Flags().String("market", "", "market to trade, overrides price_feed.market (e.g. KRW-BTC)")
	rootCmd.AddCommand(tradingSessionCmd)
}
