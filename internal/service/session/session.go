package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/krobus00/coin-trader/internal/config"
	"github.com/krobus00/coin-trader/internal/entity"
	"github.com/krobus00/coin-trader/internal/infrastructure"
	"github.com/krobus00/coin-trader/internal/service/exchange"
	"github.com/krobus00/coin-trader/internal/service/ordermanager"
	"github.com/krobus00/coin-trader/internal/service/pricefeed"
	"github.com/krobus00/coin-trader/internal/service/strategy/conditional"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotLoggedIn     = errors.New("session is not logged in")
	ErrAlreadyLoggedIn = errors.New("session is already logged in")
	ErrLoginInProgress = errors.New("login already in progress")
	ErrUnknownMarket   = errors.New("market is not in the loaded market list")
)

// ExchangeFactory builds an authenticated client around signer.
type ExchangeFactory func(signer *exchange.Signer) entity.Exchange

type Option func(*Session)

func WithExchangeFactory(factory ExchangeFactory) Option {
	return func(s *Session) {
		if factory != nil {
			s.newExchange = factory
		}
	}
}

func WithPublicExchange(public entity.PublicExchange) Option {
	return func(s *Session) {
		if public != nil {
			s.public = public
		}
	}
}

func WithPublisher(publisher entity.EventPublisher) Option {
	return func(s *Session) { s.publisher = publisher }
}

func WithMetrics(metrics *infrastructure.Metrics) Option {
	return func(s *Session) { s.metrics = metrics }
}

func WithRegistryOptions(opts ...conditional.Option) Option {
	return func(s *Session) { s.registryOpts = append(s.registryOpts, opts...) }
}

// Session holds the single active credential pair together with the
// components that depend on it. Nothing here is global, tests build as many
// isolated sessions as they need.
type Session struct {
	public       entity.PublicExchange
	newExchange  ExchangeFactory
	hub          *pricefeed.Hub
	feed         pricefeed.Feed
	registry     *conditional.Registry
	publisher    entity.EventPublisher
	metrics      *infrastructure.Metrics
	registryOpts []conditional.Option

	mu          sync.RWMutex
	loggingIn   bool
	credentials entity.Credentials
	signer      *exchange.Signer
	client      entity.Exchange
	orders      entity.OrderManager
	markets     []entity.Market
}

func NewSession(exchangeConfig config.ExchangeConfig, hub *pricefeed.Hub, feed pricefeed.Feed, opts ...Option) *Session {
	s := &Session{
		public: exchange.NewUpbitExchange(exchangeConfig, nil),
		newExchange: func(signer *exchange.Signer) entity.Exchange {
			return exchange.NewUpbitExchange(exchangeConfig, signer)
		},
		hub:  hub,
		feed: feed,
	}
	for _, opt := range opts {
		opt(s)
	}

	registryOpts := append([]conditional.Option{
		conditional.WithPublisher(s.publisher),
		conditional.WithMetrics(s.metrics),
	}, s.registryOpts...)
	s.registry = conditional.NewRegistry(feed.Market(), s, hub, registryOpts...)
	hub.Subscribe(s.registry)

	return s
}

// Login verifies the keys by listing accounts; an empty account list is
// treated as invalid credentials.
func (s *Session) Login(ctx context.Context, credentials entity.Credentials) ([]entity.Account, error) {
	s.mu.Lock()
	if s.client != nil {
		s.mu.Unlock()
		return nil, ErrAlreadyLoggedIn
	}
	if s.loggingIn {
		s.mu.Unlock()
		return nil, ErrLoginInProgress
	}
	s.loggingIn = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loggingIn = false
		s.mu.Unlock()
	}()

	signer, err := exchange.NewSigner(credentials)
	if err != nil {
		return nil, err
	}

	client := s.newExchange(signer)
	accounts, err := client.GetAccounts(ctx)
	if err != nil {
		signer.Wipe()
		logrus.WithField("accessKey", credentials.MaskedAccessKey()).WithError(err).Warn("login failed")
		return nil, err
	}
	if len(accounts) == 0 {
		signer.Wipe()
		return nil, fmt.Errorf("%w: no accounts returned for access key", exchange.ErrInvalidCredentials)
	}

	s.mu.Lock()
	s.credentials = credentials
	s.signer = signer
	s.client = client
	s.orders = ordermanager.NewOrderManagerService(client, s.publisher, s.metrics)
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"accessKey": credentials.MaskedAccessKey(),
		"accounts":  len(accounts),
	}).Info("session logged in")

	return accounts, nil
}

// Logout stops the registry and zeroes the key material. Conditional orders
// stay in the registry for the next login.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	if s.client == nil {
		s.mu.Unlock()
		return ErrNotLoggedIn
	}
	masked := s.credentials.MaskedAccessKey()
	s.credentials.Wipe()
	s.signer.Wipe()
	s.signer = nil
	s.client = nil
	s.orders = nil
	s.mu.Unlock()

	s.registry.Stop(ctx)
	logrus.WithField("accessKey", masked).Info("session logged out")

	return nil
}

func (s *Session) LoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil
}

func (s *Session) AccessKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return ""
	}
	return s.credentials.MaskedAccessKey()
}

// LoadMarkets fetches the markets quoted in quote and keeps them as the
// snapshot SelectMarket checks against.
func (s *Session) LoadMarkets(ctx context.Context, quote string) ([]entity.Market, error) {
	markets, err := pricefeed.LoadMarkets(ctx, s.public, quote)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.markets = append([]entity.Market(nil), markets...)
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{"quote": quote, "count": len(markets)}).Info("markets loaded")
	return markets, nil
}

// Markets returns the snapshot taken by LoadMarkets, empty if none was taken.
func (s *Session) Markets() []entity.Market {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]entity.Market(nil), s.markets...)
}

// SelectMarket switches the feed and registry. It fails while the registry
// is running, and for markets missing from a loaded snapshot.
func (s *Session) SelectMarket(market string) error {
	if !s.knownMarket(market) {
		return fmt.Errorf("%w: %s", ErrUnknownMarket, market)
	}
	if err := s.registry.SetMarket(market); err != nil {
		return err
	}
	s.feed.SetMarket(market)

	logrus.WithField("market", s.registry.Market()).Info("market selected")
	return nil
}

func (s *Session) knownMarket(market string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.markets) == 0 {
		return true
	}
	market = strings.ToUpper(strings.TrimSpace(market))
	for _, known := range s.markets {
		if known.Market == market {
			return true
		}
	}
	return false
}

func (s *Session) Market() string {
	return s.registry.Market()
}

func (s *Session) Accounts(ctx context.Context) ([]entity.Account, error) {
	client, err := s.authenticated()
	if err != nil {
		return nil, err
	}
	return client.GetAccounts(ctx)
}

// PlaceOrder routes through the current login, so the registry keeps working
// across logout and login.
func (s *Session) PlaceOrder(ctx context.Context, order entity.OrderRequest) (*entity.OrderResult, error) {
	s.mu.RLock()
	orders := s.orders
	s.mu.RUnlock()

	if orders == nil {
		return nil, ErrNotLoggedIn
	}
	return orders.PlaceOrder(ctx, order)
}

// PlaceManualOrder submits an immediate order on the selected market when
// order.Market is empty.
func (s *Session) PlaceManualOrder(ctx context.Context, order entity.OrderRequest) (*entity.OrderResult, error) {
	if order.Market == "" {
		order.Market = s.Market()
	}
	order.Source = entity.OrderSourceManual
	return s.PlaceOrder(ctx, order)
}

func (s *Session) Public() entity.PublicExchange {
	return s.public
}

func (s *Session) Registry() *conditional.Registry {
	return s.registry
}

func (s *Session) Hub() *pricefeed.Hub {
	return s.hub
}

func (s *Session) Feed() pricefeed.Feed {
	return s.feed
}

func (s *Session) authenticated() (entity.Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, ErrNotLoggedIn
	}
	return s.client, nil
}
