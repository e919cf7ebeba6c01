package exchange

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials = errors.New("invalid exchange credentials")
	ErrInvalidToken       = errors.New("invalid auth token")
	ErrNoMarkets          = errors.New("at least one market is required")
)

// authErrorNames are the error.name values Upbit uses for signature, key and
// nonce problems.
var authErrorNames = map[string]struct{}{
	"invalid_access_key":    {},
	"jwt_verification":      {},
	"expired_access_key":    {},
	"nonce_used":            {},
	"invalid_query_payload": {},
	"no_authorization_ip":   {},
	"no_authorization_i_p":  {},
	"out_of_scope":          {},
}

// NetworkError is a transport failure or a response body that could not be decoded.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("upbit %s network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

type AuthError struct {
	Op      string
	Status  int
	Name    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("upbit %s auth rejected: status=%d name=%s message=%s", e.Op, e.Status, e.Name, e.Message)
}

// ExchangeError is a business rejection, e.g. insufficient funds or an unknown market.
type ExchangeError struct {
	Op      string
	Status  int
	Name    string
	Message string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("upbit %s rejected: status=%d name=%s message=%s", e.Op, e.Status, e.Name, e.Message)
}

func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

func IsExchangeError(err error) bool {
	var exchangeErr *ExchangeError
	return errors.As(err, &exchangeErr)
}

func IsNetworkError(err error) bool {
	var networkErr *NetworkError
	return errors.As(err, &networkErr)
}
