package constant

const (
	DevelopmentEnvironment = "development"
	ProductionEnvironment  = "production"
)

const (
	UpbitEndpointAccounts  = "/v1/accounts"
	UpbitEndpointOrders    = "/v1/orders"
	UpbitEndpointOrderBook = "/v1/orderbook"
	UpbitEndpointTicker    = "/v1/ticker"
	UpbitEndpointMarkets   = "/v1/market/all"
)

const (
	PriceFeedSourcePoll      = "poll"
	PriceFeedSourceWebsocket = "websocket"
)

const (
	CoinTraderStreamName                    = "coin_trader"
	CoinTraderStreamSubjectAll              = "coin_trader.*"
	CoinTraderStreamSubjectOrderPlaced      = "coin_trader.order_placed"
	CoinTraderStreamSubjectOrderFailed      = "coin_trader.order_failed"
	CoinTraderStreamSubjectConditionalOrder = "coin_trader.conditional_order"
)
