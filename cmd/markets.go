/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/coin-trader/internal/bootstrap"
	"github.com/spf13/cobra"
)

// marketsCmd represents the markets command
var marketsCmd = &cobra.Command{
	Use:   "markets",
	Short: "List tradable markets for a quote currency",
	Run:   bootstrap.StartListMarkets,
}

// tickerCmd represents the ticker command
var tickerCmd = &cobra.Command{
	Use:   "ticker [market...]",
	Short: "Print the current ticker for one or more markets",
	Run:   bootstrap.StartShowTicker,
}

func init() {
	marketsCmd.Flags().String("quote", "", "quote currency, overrides price_feed.quote_currency (e.g. KRW)")
	rootCmd.AddCommand(marketsCmd)
	rootCmd.AddCommand(tickerCmd)
}
