package domain

// OrderSide represents the side of a trade (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// TradeStatus represents the lifecycle status of a trade.
type TradeStatus string

const (
	StatusOpen            TradeStatus = "open"
	StatusClosed          TradeStatus = "closed"
	StatusPartiallyClosed TradeStatus = "partially_closed"
)

// AccountRole indicates how a broker account participates in a trade.
// Network strategies fan a leader account's actions out to followers.
type AccountRole string

const (
	RoleLeader   AccountRole = "leader"
	RoleFollower AccountRole = "follower"
)

// ConnectionStatus represents the runtime state of one broker WebSocket session.
type ConnectionStatus string

const (
	ConnDisconnected ConnectionStatus = "DISCONNECTED"
	ConnConnecting   ConnectionStatus = "CONNECTING"
	ConnConnected    ConnectionStatus = "CONNECTED"
	ConnReconnecting ConnectionStatus = "RECONNECTING"
	ConnError        ConnectionStatus = "ERROR"
)

// Environment selects which broker venue a session targets.
type Environment string

const (
	EnvDemo Environment = "demo"
	EnvLive Environment = "live"
)
