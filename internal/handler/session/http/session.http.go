package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/guregu/null/v6"
	"github.com/krobus00/coin-trader/internal/entity"
	"github.com/krobus00/coin-trader/internal/infrastructure"
	"github.com/krobus00/coin-trader/internal/service/exchange"
	"github.com/krobus00/coin-trader/internal/service/ordermanager"
	"github.com/krobus00/coin-trader/internal/service/pricefeed"
	"github.com/krobus00/coin-trader/internal/service/session"
	"github.com/krobus00/coin-trader/internal/service/strategy/conditional"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var errInvalidBody = errors.New("invalid json body")

type LoginRequest struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
}

type SessionResponse struct {
	LoggedIn      bool                 `json:"logged_in"`
	AccessKey     string               `json:"access_key,omitempty"`
	Market        string               `json:"market"`
	RegistryState entity.RegistryState `json:"registry_state"`
	Accounts      []entity.Account     `json:"accounts,omitempty"`
}

type SelectMarketRequest struct {
	Market string `json:"market"`
}

type PlaceOrderRequest struct {
	Market  string      `json:"market"`
	Side    string      `json:"side"`
	OrdType string      `json:"ord_type"`
	Volume  string      `json:"volume"`
	Price   null.String `json:"price"`
}

type ConditionalOrderRequest struct {
	Side          string      `json:"side"`
	Volume        string      `json:"volume"`
	FixedPrice    null.String `json:"fixed_price"`
	PercentOffset null.String `json:"percent_offset"`
	Enabled       null.Bool   `json:"enabled"`
}

// ConditionalOrderPatchRequest leaves absent fields untouched. Set
// clear_fixed_price to fall back to the percent offset.
type ConditionalOrderPatchRequest struct {
	Side            null.String `json:"side"`
	Volume          null.String `json:"volume"`
	FixedPrice      null.String `json:"fixed_price"`
	ClearFixedPrice bool        `json:"clear_fixed_price"`
	PercentOffset   null.String `json:"percent_offset"`
}

type RegistryResponse struct {
	Market   string                    `json:"market"`
	State    entity.RegistryState      `json:"state"`
	Baseline decimal.NullDecimal       `json:"baseline"`
	Orders   []entity.ConditionalOrder `json:"orders"`
}

type PriceResponse struct {
	Market string            `json:"market"`
	Tick   *entity.PriceTick `json:"tick,omitempty"`
	Status *pricefeed.Status `json:"status,omitempty"`
}

type feedStatus interface {
	Status() pricefeed.Status
}

type Handler struct {
	session       *session.Session
	metrics       *infrastructure.Metrics
	quoteCurrency string
}

func NewSessionHTTPHandler(session *session.Session, metrics *infrastructure.Metrics, quoteCurrency string) *Handler {
	return &Handler{session: session, metrics: metrics, quoteCurrency: quoteCurrency}
}

func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	router.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/session", h.GetSession).Methods(http.MethodGet)
	api.HandleFunc("/session", h.Login).Methods(http.MethodPost)
	api.HandleFunc("/session", h.Logout).Methods(http.MethodDelete)
	api.HandleFunc("/session/market", h.SelectMarket).Methods(http.MethodPost)

	api.HandleFunc("/accounts", h.GetAccounts).Methods(http.MethodGet)
	api.HandleFunc("/markets", h.GetMarkets).Methods(http.MethodGet)
	api.HandleFunc("/ticker", h.GetTicker).Methods(http.MethodGet)
	api.HandleFunc("/orderbook", h.GetOrderBook).Methods(http.MethodGet)
	api.HandleFunc("/price", h.GetPrice).Methods(http.MethodGet)
	api.HandleFunc("/orders", h.PlaceOrder).Methods(http.MethodPost)

	api.HandleFunc("/conditional-orders", h.ListConditionalOrders).Methods(http.MethodGet)
	api.HandleFunc("/conditional-orders", h.AddConditionalOrder).Methods(http.MethodPost)
	api.HandleFunc("/conditional-orders/start", h.StartRegistry).Methods(http.MethodPost)
	api.HandleFunc("/conditional-orders/stop", h.StopRegistry).Methods(http.MethodPost)
	api.HandleFunc("/conditional-orders/{id}", h.UpdateConditionalOrder).Methods(http.MethodPatch)
	api.HandleFunc("/conditional-orders/{id}", h.RemoveConditionalOrder).Methods(http.MethodDelete)
	api.HandleFunc("/conditional-orders/{id}/enable", h.EnableConditionalOrder).Methods(http.MethodPost)
	api.HandleFunc("/conditional-orders/{id}/disable", h.DisableConditionalOrder).Methods(http.MethodPost)
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) GetSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sessionResponse(nil))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	accounts, err := h.session.Login(r.Context(), entity.Credentials{AccessKey: req.AccessKey, SecretKey: req.SecretKey})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.sessionResponse(accounts))
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Logout(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SelectMarket(w http.ResponseWriter, r *http.Request) {
	var req SelectMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Market) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "market is required"})
		return
	}

	if err := h.session.SelectMarket(req.Market); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.sessionResponse(nil))
}

func (h *Handler) GetAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.session.Accounts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *Handler) GetMarkets(w http.ResponseWriter, r *http.Request) {
	quote := strings.TrimSpace(r.URL.Query().Get("quote"))
	if quote == "" {
		if markets := h.session.Markets(); len(markets) > 0 {
			writeJSON(w, http.StatusOK, markets)
			return
		}
		quote = h.quoteCurrency
	}

	markets, err := pricefeed.LoadMarkets(r.Context(), h.session.Public(), quote)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markets)
}

func (h *Handler) GetTicker(w http.ResponseWriter, r *http.Request) {
	markets, err := h.marketsFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ticks, err := h.session.Public().GetTicker(r.Context(), markets)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticks)
}

func (h *Handler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	markets, err := h.marketsFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	raw, err := h.session.Public().GetOrderBook(r.Context(), markets)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// GetPrice returns the hub's latest tick for the selected market, plus the
// poller status when the feed is a poller.
func (h *Handler) GetPrice(w http.ResponseWriter, _ *http.Request) {
	market := h.session.Market()
	resp := PriceResponse{Market: market}
	if tick, ok := h.session.Hub().Latest(market); ok {
		resp.Tick = &tick
	}
	if feed, ok := h.session.Feed().(feedStatus); ok {
		status := feed.Status()
		resp.Status = &status
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	order, err := mapHTTPRequestToOrderRequest(req)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.session.PlaceManualOrder(r.Context(), order)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) ListConditionalOrders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.registryResponse())
}

func (h *Handler) AddConditionalOrder(w http.ResponseWriter, r *http.Request) {
	var req ConditionalOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	input, err := mapHTTPRequestToConditionalInput(req)
	if err != nil {
		writeError(w, err)
		return
	}

	order, err := h.session.Registry().Add(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) UpdateConditionalOrder(w http.ResponseWriter, r *http.Request) {
	var req ConditionalOrderPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	patch, err := mapHTTPRequestToConditionalPatch(req)
	if err != nil {
		writeError(w, err)
		return
	}

	order, err := h.session.Registry().Update(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) RemoveConditionalOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Registry().Remove(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) EnableConditionalOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.session.Registry().Enable(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) DisableConditionalOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.session.Registry().Disable(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) StartRegistry(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Registry().Start(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.registryResponse())
}

func (h *Handler) StopRegistry(w http.ResponseWriter, r *http.Request) {
	h.session.Registry().Stop(r.Context())
	writeJSON(w, http.StatusOK, h.registryResponse())
}

func (h *Handler) sessionResponse(accounts []entity.Account) SessionResponse {
	return SessionResponse{
		LoggedIn:      h.session.LoggedIn(),
		AccessKey:     h.session.AccessKey(),
		Market:        h.session.Market(),
		RegistryState: h.session.Registry().State(),
		Accounts:      accounts,
	}
}

func (h *Handler) registryResponse() RegistryResponse {
	registry := h.session.Registry()
	return RegistryResponse{
		Market:   registry.Market(),
		State:    registry.State(),
		Baseline: registry.Baseline(),
		Orders:   registry.List(),
	}
}

// marketsFromQuery falls back to the selected market when the query has none.
func (h *Handler) marketsFromQuery(r *http.Request) ([]string, error) {
	markets := make([]string, 0)
	for _, market := range strings.Split(r.URL.Query().Get("markets"), ",") {
		if market = strings.TrimSpace(market); market != "" {
			markets = append(markets, market)
		}
	}
	if len(markets) == 0 {
		if selected := h.session.Market(); selected != "" {
			markets = append(markets, selected)
		}
	}
	if len(markets) == 0 {
		return nil, exchange.ErrNoMarkets
	}
	return markets, nil
}

func mapHTTPRequestToOrderRequest(req PlaceOrderRequest) (entity.OrderRequest, error) {
	side, err := entity.ParseOrderSide(strings.ToLower(strings.TrimSpace(req.Side)))
	if err != nil {
		return entity.OrderRequest{}, &ordermanager.ValidationError{Field: "side", Reason: err.Error()}
	}
	kind, err := entity.ParseOrderKind(strings.ToLower(strings.TrimSpace(req.OrdType)))
	if err != nil {
		return entity.OrderRequest{}, &ordermanager.ValidationError{Field: "ord_type", Reason: err.Error()}
	}
	volume, err := decimal.NewFromString(strings.TrimSpace(req.Volume))
	if err != nil {
		return entity.OrderRequest{}, &ordermanager.ValidationError{Field: "volume", Reason: "is not a decimal"}
	}
	price, err := parseNullDecimal(req.Price)
	if err != nil {
		return entity.OrderRequest{}, &ordermanager.ValidationError{Field: "price", Reason: "is not a decimal"}
	}

	return entity.OrderRequest{
		Market: strings.TrimSpace(req.Market),
		Side:   side,
		Kind:   kind,
		Volume: volume,
		Price:  price,
	}, nil
}

func mapHTTPRequestToConditionalInput(req ConditionalOrderRequest) (entity.ConditionalOrderInput, error) {
	volume, err := decimal.NewFromString(strings.TrimSpace(req.Volume))
	if err != nil {
		return entity.ConditionalOrderInput{}, &ordermanager.ValidationError{Field: "volume", Reason: "is not a decimal"}
	}
	fixedPrice, err := parseNullDecimal(req.FixedPrice)
	if err != nil {
		return entity.ConditionalOrderInput{}, &ordermanager.ValidationError{Field: "fixed_price", Reason: "is not a decimal"}
	}
	percentOffset, err := parseNullDecimal(req.PercentOffset)
	if err != nil {
		return entity.ConditionalOrderInput{}, &ordermanager.ValidationError{Field: "percent_offset", Reason: "is not a decimal"}
	}

	return entity.ConditionalOrderInput{
		Side:          entity.OrderSide(strings.ToLower(strings.TrimSpace(req.Side))),
		Volume:        volume,
		FixedPrice:    fixedPrice,
		PercentOffset: percentOffset.Decimal,
		Enabled:       req.Enabled.ValueOrZero(),
	}, nil
}

func mapHTTPRequestToConditionalPatch(req ConditionalOrderPatchRequest) (entity.ConditionalOrderPatch, error) {
	var patch entity.ConditionalOrderPatch

	if req.Side.Valid {
		side := entity.OrderSide(strings.ToLower(strings.TrimSpace(req.Side.String)))
		patch.Side = &side
	}
	if req.Volume.Valid {
		volume, err := decimal.NewFromString(strings.TrimSpace(req.Volume.String))
		if err != nil {
			return patch, &ordermanager.ValidationError{Field: "volume", Reason: "is not a decimal"}
		}
		patch.Volume = &volume
	}
	if req.ClearFixedPrice {
		cleared := decimal.NullDecimal{}
		patch.FixedPrice = &cleared
	} else if req.FixedPrice.Valid {
		fixedPrice, err := parseNullDecimal(req.FixedPrice)
		if err != nil {
			return patch, &ordermanager.ValidationError{Field: "fixed_price", Reason: "is not a decimal"}
		}
		patch.FixedPrice = &fixedPrice
	}
	if req.PercentOffset.Valid {
		percentOffset, err := decimal.NewFromString(strings.TrimSpace(req.PercentOffset.String))
		if err != nil {
			return patch, &ordermanager.ValidationError{Field: "percent_offset", Reason: "is not a decimal"}
		}
		patch.PercentOffset = &percentOffset
	}

	return patch, nil
}

func parseNullDecimal(value null.String) (decimal.NullDecimal, error) {
	if !value.Valid || strings.TrimSpace(value.String) == "" {
		return decimal.NullDecimal{}, nil
	}
	parsed, err := decimal.NewFromString(strings.TrimSpace(value.String))
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(parsed), nil
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errInvalidBody
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]any{"error": err.Error()}

	var authErr *exchange.AuthError
	var exchangeErr *exchange.ExchangeError
	switch {
	case errors.Is(err, errInvalidBody),
		ordermanager.IsValidationError(err),
		errors.Is(err, conditional.ErrInvalidOrder),
		errors.Is(err, session.ErrUnknownMarket),
		errors.Is(err, exchange.ErrNoMarkets):
		status = http.StatusBadRequest
	case errors.As(err, &authErr):
		status = http.StatusUnauthorized
		body["name"] = authErr.Name
	case errors.Is(err, session.ErrNotLoggedIn),
		errors.Is(err, exchange.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, conditional.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrAlreadyLoggedIn),
		errors.Is(err, session.ErrLoginInProgress),
		errors.Is(err, conditional.ErrRegistryRunning),
		errors.Is(err, conditional.ErrOrderFired),
		errors.Is(err, conditional.ErrNoActiveOrders),
		errors.Is(err, conditional.ErrBaselineUnavailable):
		status = http.StatusConflict
	case errors.As(err, &exchangeErr):
		status = http.StatusBadGateway
		body["name"] = exchangeErr.Name
	case errors.Is(err, ordermanager.ErrSubmissionRejected):
		status = http.StatusBadGateway
	case exchange.IsNetworkError(err):
		status = http.StatusGatewayTimeout
	}

	if status == http.StatusInternalServerError {
		logrus.WithError(err).Error("unhandled control api error")
		body["error"] = "internal server error"
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
