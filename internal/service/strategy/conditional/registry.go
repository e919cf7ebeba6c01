package conditional

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/krobus00/coin-trader/internal/constant"
	"github.com/krobus00/coin-trader/internal/entity"
	"github.com/krobus00/coin-trader/internal/infrastructure"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var hundred = decimal.NewFromInt(100)

// PriceSource supplies the baseline captured at Start.
type PriceSource interface {
	LatestPrice(market string) (decimal.Decimal, bool)
}

type Option func(*Registry)

func WithPublisher(publisher entity.EventPublisher) Option {
	return func(r *Registry) { r.publisher = publisher }
}

func WithMetrics(metrics *infrastructure.Metrics) Option {
	return func(r *Registry) { r.metrics = metrics }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(r *Registry) {
		if newID != nil {
			r.newID = newID
		}
	}
}

// WithOnFire registers a hook called after each fired order settles.
func WithOnFire(hook func(entity.FireOutcome)) Option {
	return func(r *Registry) { r.onFire = hook }
}

// Registry owns the conditional orders of one market. Orders are fired at
// most once: the Fired transition happens under mu before the submission.
type Registry struct {
	submitter entity.OrderManager
	prices    PriceSource
	publisher entity.EventPublisher
	metrics   *infrastructure.Metrics
	now       func() time.Time
	newID     func() string
	onFire    func(entity.FireOutcome)

	// evalMu serializes Evaluate; mu guards everything below and is never
	// held across a network call.
	evalMu   sync.Mutex
	mu       sync.Mutex
	market   string
	state    entity.RegistryState
	baseline decimal.NullDecimal
	orders   []*entity.ConditionalOrder

	queue *tickQueue
}

func NewRegistry(market string, submitter entity.OrderManager, prices PriceSource, opts ...Option) *Registry {
	r := &Registry{
		submitter: submitter,
		prices:    prices,
		now:       time.Now,
		newID:     uuid.NewString,
		market:    normalizeMarket(market),
		state:     entity.RegistryStateStopped,
		queue:     newTickQueue(),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Registry) Market() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.market
}

// SetMarket rebinds the registry. Only allowed while stopped.
func (r *Registry) SetMarket(market string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == entity.RegistryStateRunning {
		return ErrRegistryRunning
	}
	r.market = normalizeMarket(market)
	r.baseline = decimal.NullDecimal{}

	return nil
}

func (r *Registry) State() entity.RegistryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Baseline is the reference price snapshotted at the last Start.
func (r *Registry) Baseline() decimal.NullDecimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.baseline
}

func (r *Registry) List() []entity.ConditionalOrder {
	r.mu.Lock()
	defer r.mu.Unlock()

	orders := make([]entity.ConditionalOrder, 0, len(r.orders))
	for _, order := range r.orders {
		orders = append(orders, copyOrder(order))
	}

	return orders
}

func (r *Registry) Get(id string) (entity.ConditionalOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, _ := r.find(id)
	if order == nil {
		return entity.ConditionalOrder{}, ErrOrderNotFound
	}

	return copyOrder(order), nil
}

func (r *Registry) Add(ctx context.Context, input entity.ConditionalOrderInput) (entity.ConditionalOrder, error) {
	if err := validateInput(input.Side, input.Volume, input.FixedPrice, input.PercentOffset); err != nil {
		return entity.ConditionalOrder{}, err
	}

	r.mu.Lock()
	if r.state == entity.RegistryStateRunning {
		r.mu.Unlock()
		return entity.ConditionalOrder{}, ErrRegistryRunning
	}

	order := &entity.ConditionalOrder{
		ID:            r.newID(),
		Side:          input.Side,
		Volume:        input.Volume,
		FixedPrice:    input.FixedPrice,
		PercentOffset: input.PercentOffset,
		Enabled:       input.Enabled,
		State:         entity.ArmedStateIdle,
		CreatedAt:     r.now().UTC(),
	}
	r.orders = append(r.orders, order)
	snapshot := copyOrder(order)
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"id":            snapshot.ID,
		"side":          snapshot.Side,
		"volume":        snapshot.Volume,
		"fixedPrice":    snapshot.FixedPrice,
		"percentOffset": snapshot.PercentOffset,
	}).Info("conditional order added")
	r.afterChange(ctx, snapshot)

	return snapshot, nil
}

func (r *Registry) Update(ctx context.Context, id string, patch entity.ConditionalOrderPatch) (entity.ConditionalOrder, error) {
	r.mu.Lock()
	if r.state == entity.RegistryStateRunning {
		r.mu.Unlock()
		return entity.ConditionalOrder{}, ErrRegistryRunning
	}

	order, _ := r.find(id)
	if order == nil {
		r.mu.Unlock()
		return entity.ConditionalOrder{}, ErrOrderNotFound
	}
	if order.State == entity.ArmedStateFired {
		r.mu.Unlock()
		return entity.ConditionalOrder{}, ErrOrderFired
	}

	side, volume, fixedPrice, percentOffset := order.Side, order.Volume, order.FixedPrice, order.PercentOffset
	if patch.Side != nil {
		side = *patch.Side
	}
	if patch.Volume != nil {
		volume = *patch.Volume
	}
	if patch.FixedPrice != nil {
		fixedPrice = *patch.FixedPrice
	}
	if patch.PercentOffset != nil {
		percentOffset = *patch.PercentOffset
	}
	if err := validateInput(side, volume, fixedPrice, percentOffset); err != nil {
		r.mu.Unlock()
		return entity.ConditionalOrder{}, err
	}

	order.Side, order.Volume, order.FixedPrice, order.PercentOffset = side, volume, fixedPrice, percentOffset
	order.TargetPrice = decimal.NullDecimal{}
	snapshot := copyOrder(order)
	r.mu.Unlock()

	logrus.WithField("id", id).Info("conditional order updated")
	r.afterChange(ctx, snapshot)

	return snapshot, nil
}

func (r *Registry) Enable(ctx context.Context, id string) (entity.ConditionalOrder, error) {
	r.mu.Lock()
	if r.state == entity.RegistryStateRunning {
		r.mu.Unlock()
		return entity.ConditionalOrder{}, ErrRegistryRunning
	}

	order, _ := r.find(id)
	if order == nil {
		r.mu.Unlock()
		return entity.ConditionalOrder{}, ErrOrderNotFound
	}
	if order.State == entity.ArmedStateFired {
		r.mu.Unlock()
		return entity.ConditionalOrder{}, ErrOrderFired
	}

	order.Enabled = true
	if order.State == entity.ArmedStateCancelled {
		order.State = entity.ArmedStateIdle
	}
	snapshot := copyOrder(order)
	r.mu.Unlock()

	logrus.WithField("id", id).Info("conditional order enabled")
	r.afterChange(ctx, snapshot)

	return snapshot, nil
}

// Disable is allowed while running. An armed order becomes Cancelled.
func (r *Registry) Disable(ctx context.Context, id string) (entity.ConditionalOrder, error) {
	r.mu.Lock()
	order, _ := r.find(id)
	if order == nil {
		r.mu.Unlock()
		return entity.ConditionalOrder{}, ErrOrderNotFound
	}

	order.Enabled = false
	if order.State == entity.ArmedStateArmed {
		order.State = entity.ArmedStateCancelled
	}
	snapshot := copyOrder(order)
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{"id": id, "state": snapshot.State}).Info("conditional order disabled")
	r.afterChange(ctx, snapshot)

	return snapshot, nil
}

// Remove is allowed while running. A submission already in flight for the
// order still completes, its result is dropped.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	order, idx := r.find(id)
	if order == nil {
		r.mu.Unlock()
		return ErrOrderNotFound
	}

	r.orders = append(r.orders[:idx], r.orders[idx+1:]...)
	snapshot := copyOrder(order)
	if snapshot.State == entity.ArmedStateArmed {
		snapshot.State = entity.ArmedStateCancelled
	}
	r.mu.Unlock()

	logrus.WithField("id", id).Info("conditional order removed")
	r.afterChange(ctx, snapshot)

	return nil
}

// Start snapshots the baseline price and arms every enabled order.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state == entity.RegistryStateRunning {
		r.mu.Unlock()
		return ErrRegistryRunning
	}

	candidates := make([]*entity.ConditionalOrder, 0, len(r.orders))
	needsBaseline := false
	for _, order := range r.orders {
		if !order.Enabled || order.State == entity.ArmedStateFired {
			continue
		}
		candidates = append(candidates, order)
		if !order.FixedPrice.Valid {
			needsBaseline = true
		}
	}
	if len(candidates) == 0 {
		r.mu.Unlock()
		return ErrNoActiveOrders
	}

	baseline := decimal.NullDecimal{}
	if r.prices != nil {
		if price, ok := r.prices.LatestPrice(r.market); ok && price.GreaterThan(decimal.Zero) {
			baseline = decimal.NewNullDecimal(price)
		}
	}
	if needsBaseline && !baseline.Valid {
		r.mu.Unlock()
		return fmt.Errorf("%w: market %s", ErrBaselineUnavailable, r.market)
	}

	r.baseline = baseline
	snapshots := make([]entity.ConditionalOrder, 0, len(candidates))
	for _, order := range candidates {
		order.TargetPrice = decimal.NewNullDecimal(targetPrice(order, baseline.Decimal))
		order.State = entity.ArmedStateArmed
		snapshots = append(snapshots, copyOrder(order))
	}
	r.state = entity.RegistryStateRunning
	market := r.market
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"market":   market,
		"baseline": baseline,
		"armed":    len(snapshots),
	}).Info("conditional registry started")
	r.afterChange(ctx, snapshots...)

	return nil
}

// Stop freezes evaluation. Armed orders return to Idle; fired and cancelled
// orders keep their state. A submission in flight is not aborted.
func (r *Registry) Stop(ctx context.Context) {
	r.mu.Lock()
	if r.state == entity.RegistryStateStopped {
		r.mu.Unlock()
		return
	}

	r.state = entity.RegistryStateStopped
	snapshots := make([]entity.ConditionalOrder, 0, len(r.orders))
	for _, order := range r.orders {
		if order.State == entity.ArmedStateArmed {
			order.State = entity.ArmedStateIdle
			snapshots = append(snapshots, copyOrder(order))
		}
	}
	market := r.market
	r.mu.Unlock()

	logrus.WithField("market", market).Info("conditional registry stopped")
	if len(snapshots) == 0 {
		r.afterChange(ctx)
		return
	}
	r.afterChange(ctx, snapshots...)
}

// Evaluate runs one trigger pass for tick. Calls are serialized; triggered
// orders are marked Fired before they are submitted one by one. An order
// removed, disabled or stopped while an earlier one is in flight is not
// submitted.
func (r *Registry) Evaluate(ctx context.Context, tick entity.PriceTick) ([]entity.FireOutcome, error) {
	r.evalMu.Lock()
	defer r.evalMu.Unlock()

	r.mu.Lock()
	if r.state != entity.RegistryStateRunning || normalizeMarket(tick.Market) != r.market {
		r.mu.Unlock()
		return nil, nil
	}

	market := r.market
	firedAt := r.now().UTC()
	triggered := make([]entity.ConditionalOrder, 0)
	for _, order := range r.orders {
		if order.State != entity.ArmedStateArmed || !order.Enabled || !order.TargetPrice.Valid {
			continue
		}
		if !shouldFire(order.Side, tick.TradePrice, order.TargetPrice.Decimal) {
			continue
		}

		order.State = entity.ArmedStateFired
		order.FiredAt = &firedAt
		triggered = append(triggered, copyOrder(order))
	}
	r.mu.Unlock()

	if len(triggered) == 0 {
		return nil, nil
	}
	r.afterChange(ctx, triggered...)

	outcomes := make([]entity.FireOutcome, 0, len(triggered))
	var errs []error
	for _, order := range triggered {
		if !r.stillFiring(ctx, order.ID) {
			continue
		}
		outcome := r.fire(ctx, market, order, tick)
		outcomes = append(outcomes, outcome)
		if outcome.Err != nil {
			errs = append(errs, fmt.Errorf("conditional order %s: %w", order.ID, outcome.Err))
		}
	}

	return outcomes, errors.Join(errs...)
}

// stillFiring reports whether a triggered order may still be submitted. A
// disabled order becomes Cancelled and a stopped registry returns the order
// to Idle, both with LastError set.
func (r *Registry) stillFiring(ctx context.Context, id string) bool {
	r.mu.Lock()
	stored, _ := r.find(id)
	if stored == nil {
		r.mu.Unlock()
		logrus.WithField("id", id).Info("conditional order removed before submission")
		return false
	}
	if stored.Enabled && r.state == entity.RegistryStateRunning {
		r.mu.Unlock()
		return true
	}

	if stored.Enabled {
		stored.State = entity.ArmedStateIdle
	} else {
		stored.State = entity.ArmedStateCancelled
	}
	stored.FiredAt = nil
	stored.LastError = errCancelledBeforeSubmission.Error()
	snapshot := copyOrder(stored)
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{"id": id, "state": snapshot.State}).Info("conditional order cancelled before submission")
	r.afterChange(ctx, snapshot)

	return false
}

func (r *Registry) fire(ctx context.Context, market string, order entity.ConditionalOrder, tick entity.PriceTick) entity.FireOutcome {
	target := order.TargetPrice.Decimal
	logger := logrus.WithFields(logrus.Fields{
		"id":          order.ID,
		"market":      market,
		"side":        order.Side,
		"volume":      order.Volume,
		"targetPrice": target,
		"tickPrice":   tick.TradePrice,
	})
	logger.Info("conditional order triggered")

	result, err := r.submitter.PlaceOrder(ctx, entity.OrderRequest{
		Market: market,
		Side:   order.Side,
		Kind:   entity.OrderKindLimit,
		Volume: order.Volume,
		Price:  decimal.NewNullDecimal(target),
		Source: entity.OrderSourceConditional,
	})

	r.mu.Lock()
	stored, _ := r.find(order.ID)
	var snapshot entity.ConditionalOrder
	if stored != nil {
		if err != nil {
			stored.LastError = err.Error()
		} else {
			stored.Result = result
			stored.LastError = ""
		}
		snapshot = copyOrder(stored)
	}
	r.mu.Unlock()

	if err != nil {
		logger.WithError(err).Error("conditional order submission failed")
	} else {
		logger.WithField("uuid", result.UUID).Info("conditional order submitted")
	}

	r.metrics.ObserveConditionalFired(string(order.Side), err == nil)
	if stored != nil {
		r.afterChange(ctx, snapshot)
	}

	outcome := entity.FireOutcome{
		OrderID:     order.ID,
		Side:        order.Side,
		Volume:      order.Volume,
		TargetPrice: target,
		TickPrice:   tick.TradePrice,
		Result:      result,
		Err:         err,
	}
	if r.onFire != nil {
		r.onFire(outcome)
	}

	return outcome
}

// afterChange publishes one event per changed order and refreshes the gauges.
func (r *Registry) afterChange(ctx context.Context, changed ...entity.ConditionalOrder) {
	r.mu.Lock()
	registryState := r.state
	market := r.market
	countByState := map[string]int{}
	for _, order := range r.orders {
		countByState[string(order.State)]++
	}
	r.mu.Unlock()

	r.metrics.SetConditionalOrders(countByState)
	r.metrics.SetRegistryRunning(registryState == entity.RegistryStateRunning)

	if r.publisher == nil {
		return
	}
	for _, order := range changed {
		err := r.publisher.Publish(ctx, constant.CoinTraderStreamSubjectConditionalOrder, entity.ConditionalOrderEvent{
			Market:        market,
			RegistryState: registryState,
			Order:         order,
			OccurredAt:    r.now().UTC(),
		})
		if err != nil {
			logrus.WithError(err).WithField("id", order.ID).Warn("failed to publish conditional order event")
		}
	}
}

func (r *Registry) find(id string) (*entity.ConditionalOrder, int) {
	for idx, order := range r.orders {
		if order.ID == id {
			return order, idx
		}
	}
	return nil, -1
}

// targetPrice prefers the fixed price over the percent offset.
func targetPrice(order *entity.ConditionalOrder, baseline decimal.Decimal) decimal.Decimal {
	if order.FixedPrice.Valid {
		return order.FixedPrice.Decimal
	}
	return baseline.Mul(decimal.NewFromInt(1).Add(order.PercentOffset.Div(hundred)))
}

func shouldFire(side entity.OrderSide, price, target decimal.Decimal) bool {
	switch side {
	case entity.OrderSideBid:
		return price.LessThanOrEqual(target)
	case entity.OrderSideAsk:
		return price.GreaterThanOrEqual(target)
	default:
		return false
	}
}

func validateInput(side entity.OrderSide, volume decimal.Decimal, fixedPrice decimal.NullDecimal, percentOffset decimal.Decimal) error {
	if err := side.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if !volume.GreaterThan(decimal.Zero) {
		return fmt.Errorf("%w: volume must be greater than zero", ErrInvalidOrder)
	}
	if fixedPrice.Valid && !fixedPrice.Decimal.GreaterThan(decimal.Zero) {
		return fmt.Errorf("%w: fixed price must be greater than zero", ErrInvalidOrder)
	}
	if percentOffset.LessThanOrEqual(hundred.Neg()) {
		return fmt.Errorf("%w: percent offset must be greater than -100", ErrInvalidOrder)
	}
	return nil
}

func copyOrder(order *entity.ConditionalOrder) entity.ConditionalOrder {
	snapshot := *order
	if order.FiredAt != nil {
		firedAt := *order.FiredAt
		snapshot.FiredAt = &firedAt
	}
	if order.Result != nil {
		result := *order.Result
		snapshot.Result = &result
	}
	return snapshot
}

func normalizeMarket(market string) string {
	return strings.ToUpper(strings.TrimSpace(market))
}
