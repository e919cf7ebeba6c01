package bootstrap

import (
	"context"
	"errors"
	"strings"

	"github.com/gorilla/mux"
	"github.com/krobus00/coin-trader/internal/config"
	"github.com/krobus00/coin-trader/internal/constant"
	"github.com/krobus00/coin-trader/internal/entity"
	httpHandler "github.com/krobus00/coin-trader/internal/handler/session/http"
	"github.com/krobus00/coin-trader/internal/infrastructure"
	"github.com/krobus00/coin-trader/internal/service/exchange"
	"github.com/krobus00/coin-trader/internal/service/notifier"
	"github.com/krobus00/coin-trader/internal/service/pricefeed"
	"github.com/krobus00/coin-trader/internal/service/session"
	"github.com/krobus00/coin-trader/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func StartTradingSession(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if market, _ := cmd.Flags().GetString("market"); strings.TrimSpace(market) != "" {
		config.Env.PriceFeed.Market = market
	}

	metrics := infrastructure.NewMetrics()

	nc, js, err := infrastructure.NewJetstream(config.Env.NatsJetstream)
	if err != nil && !errors.Is(err, infrastructure.ErrJetstreamDisabled) {
		util.ContinueOrFatal(err)
	}

	var notifierJS notifier.Jetstream
	if js != nil {
		notifierJS = js
	}
	eventNotifier := notifier.NewNotifier(notifierJS)

	publishers := make([]entity.Publisher, 0)
	publishers = append(publishers, eventNotifier)
	for _, v := range publishers {
		err = v.JetstreamEventInit(ctx)
		util.ContinueOrFatal(err)
	}

	public := exchange.NewUpbitExchange(config.Env.Exchange, nil)
	hub := pricefeed.NewHub(metrics)
	feed := newPriceFeed(public, hub, metrics)

	tradingSession := session.NewSession(config.Env.Exchange, hub, feed,
		session.WithPublicExchange(public),
		session.WithPublisher(eventNotifier),
		session.WithMetrics(metrics),
	)

	// without a snapshot SelectMarket accepts any market
	if quote := config.Env.PriceFeed.QuoteCurrency; quote != "" {
		if _, err := tradingSession.LoadMarkets(ctx, quote); err != nil {
			logrus.WithError(err).Warn("failed to load market list")
		}
	}

	go func() {
		if err := tradingSession.Registry().Run(ctx); err != nil {
			logrus.WithError(err).Error("conditional registry stopped")
		}
	}()

	go func() {
		if err := feed.Run(ctx); err != nil {
			logrus.WithError(err).Error("price feed stopped")
		}
	}()
	logrus.WithFields(logrus.Fields{
		"market": feed.Market(),
		"source": config.Env.PriceFeed.Source,
	}).Info("price feed started")

	router := mux.NewRouter()
	httpHandler.NewSessionHTTPHandler(tradingSession, metrics, config.Env.PriceFeed.QuoteCurrency).Register(router)

	httpServer := infrastructure.NewHTTPServer(
		infrastructure.HTTPServerConfigFromControlAPI(config.Env.ControlAPI, config.Env.GracefulShutdownTimeout),
		router,
	)

	go func() {
		err := httpServer.Start()
		if err != nil {
			logrus.Error(err)
		}
	}()

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"http": func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
		},
		"trading session": func(ctx context.Context) error {
			defer cancel()
			tradingSession.Registry().Stop(ctx)
			err := tradingSession.Logout(ctx)
			if errors.Is(err, session.ErrNotLoggedIn) {
				return nil
			}
			return err
		},
		"nats connection": func(ctx context.Context) error {
			return infrastructure.CloseJetstream(nc)
		},
	})

	<-wait
}

func newPriceFeed(public entity.PublicExchange, hub *pricefeed.Hub, metrics *infrastructure.Metrics) pricefeed.Feed {
	cfg := config.Env.PriceFeed

	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case constant.PriceFeedSourceWebsocket:
		return pricefeed.NewWebsocketFeed(config.Env.Exchange.WSURL, cfg.Market, hub, nil)
	case constant.PriceFeedSourcePoll, "":
		return pricefeed.NewPoller(public, hub, cfg, metrics)
	default:
		logrus.Warnf("unknown price feed source %q, falling back to %s", cfg.Source, constant.PriceFeedSourcePoll)
		return pricefeed.NewPoller(public, hub, cfg, metrics)
	}
}
