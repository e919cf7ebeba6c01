package conditional

import "errors"

var (
	ErrNoActiveOrders      = errors.New("no enabled conditional orders to arm")
	ErrRegistryRunning     = errors.New("conditional orders can only be edited while the registry is stopped")
	ErrOrderFired          = errors.New("conditional order already fired")
	ErrOrderNotFound       = errors.New("conditional order not found")
	ErrBaselineUnavailable = errors.New("no baseline price available for percent offset orders")
	ErrInvalidOrder        = errors.New("invalid conditional order")

	errCancelledBeforeSubmission = errors.New("cancelled before submission")
)
