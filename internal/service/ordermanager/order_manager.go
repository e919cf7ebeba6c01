package ordermanager

import (
	"context"
	"strings"
	"time"

	"github.com/krobus00/coin-trader/internal/constant"
	"github.com/krobus00/coin-trader/internal/entity"
	"github.com/krobus00/coin-trader/internal/infrastructure"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type OrderManagerService struct {
	exchange  entity.OrderPlacer
	publisher entity.EventPublisher
	metrics   *infrastructure.Metrics
	now       func() time.Time
}

// NewOrderManagerService accepts nil publisher and metrics.
func NewOrderManagerService(exchange entity.OrderPlacer, publisher entity.EventPublisher, metrics *infrastructure.Metrics) entity.OrderManager {
	return &OrderManagerService{
		exchange:  exchange,
		publisher: publisher,
		metrics:   metrics,
		now:       time.Now,
	}
}

func (s *OrderManagerService) PlaceOrder(ctx context.Context, order entity.OrderRequest) (*entity.OrderResult, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	order.Market = strings.ToUpper(strings.TrimSpace(order.Market))
	if order.Source == "" {
		order.Source = entity.OrderSourceManual
	}

	if err := ValidateOrder(order); err != nil {
		logrus.WithFields(logrus.Fields{
			"market": order.Market,
			"side":   order.Side,
			"kind":   order.Kind,
			"source": order.Source,
		}).WithError(err).Info("order rejected before submission")
		return nil, err
	}

	started := s.now()
	result, err := s.exchange.PlaceOrder(ctx, order)
	if err == nil && (result == nil || strings.TrimSpace(result.UUID) == "") {
		err = ErrSubmissionRejected
	}

	s.metrics.ObserveOrderSubmitted(order.Source, string(order.Side), err == nil, float64(s.now().Sub(started).Milliseconds()))
	s.publishOrderEvent(ctx, order, result, err)

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"market": order.Market,
			"side":   order.Side,
			"kind":   order.Kind,
			"source": order.Source,
		}).WithError(err).Warn("order submission failed")
		return nil, err
	}

	return result, nil
}

// ValidateOrder checks the request without touching the network.
func ValidateOrder(order entity.OrderRequest) error {
	if strings.TrimSpace(order.Market) == "" {
		return &ValidationError{Field: "market", Reason: "is required"}
	}
	if err := order.Side.Validate(); err != nil {
		return &ValidationError{Field: "side", Reason: err.Error()}
	}
	if err := order.Kind.Validate(); err != nil {
		return &ValidationError{Field: "kind", Reason: err.Error()}
	}
	if !order.Volume.GreaterThan(decimal.Zero) {
		return &ValidationError{Field: "volume", Reason: "must be greater than zero"}
	}

	switch order.Kind {
	case entity.OrderKindLimit:
		if !order.Price.Valid {
			return &ValidationError{Field: "price", Reason: "is required for limit orders"}
		}
		if !order.Price.Decimal.GreaterThan(decimal.Zero) {
			return &ValidationError{Field: "price", Reason: "must be greater than zero"}
		}
	case entity.OrderKindMarket:
		if order.Price.Valid {
			return &ValidationError{Field: "price", Reason: "must be absent for market orders"}
		}
	}

	return nil
}

func (s *OrderManagerService) publishOrderEvent(ctx context.Context, order entity.OrderRequest, result *entity.OrderResult, submitErr error) {
	if s.publisher == nil {
		return
	}

	event := entity.OrderPlacedEvent{
		Market:     order.Market,
		Side:       order.Side,
		Kind:       order.Kind,
		Volume:     order.Volume.String(),
		Source:     order.Source,
		OccurredAt: s.now().UTC(),
	}
	if order.Price.Valid {
		event.Price = order.Price.Decimal.String()
	}

	subject := constant.CoinTraderStreamSubjectOrderPlaced
	if submitErr != nil {
		subject = constant.CoinTraderStreamSubjectOrderFailed
		event.Error = submitErr.Error()
	} else {
		event.Result = result
	}

	if err := s.publisher.Publish(ctx, subject, event); err != nil {
		logrus.WithError(err).WithField("subject", subject).Warn("failed to publish order event")
	}
}
