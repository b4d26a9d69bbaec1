package domain

import "time"

// Side represents the order side (buy or sell).
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType represents the type of order.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus represents the lifecycle state of an order.
// Filled and canceled are terminal; no transitions out of them.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled
}

// Order represents an order in the exchange.
// Prices are in minor units (int64), e.g. 10010 = $100.10, to avoid
// floating-point issues. Market orders carry Price 0.
type Order struct {
	OrderID           string      `json:"order_id"`
	Symbol            string      `json:"symbol"`
	Side              Side        `json:"side"`
	Type              OrderType   `json:"type"`
	Price             int64       `json:"price"`
	Quantity          int64       `json:"quantity"`
	FilledQuantity    int64       `json:"filled_quantity"`
	RemainingQuantity int64       `json:"remaining_quantity"`
	Status            OrderStatus `json:"status"`
	UserID            string      `json:"user_id"`
	CreatedAt         time.Time   `json:"created_at"`
	SequenceID        uint64      `json:"sequence_id"`
}

// Trade represents an execution between two orders. Immutable once emitted.
type Trade struct {
	TradeID      string    `json:"trade_id"`
	Symbol       string    `json:"symbol"`
	BuyOrderID   string    `json:"buy_order_id"`
	SellOrderID  string    `json:"sell_order_id"`
	MakerOrderID string    `json:"maker_order_id"`
	TakerOrderID string    `json:"taker_order_id"`
	Price        int64     `json:"price"`
	Quantity     int64     `json:"quantity"`
	Timestamp    time.Time `json:"timestamp"`
	SequenceID   uint64    `json:"sequence_id"`
}

// Candlestick represents OHLCV data for a time interval.
type Candlestick struct {
	Symbol    string    `json:"symbol"`
	Open      int64     `json:"open"`
	High      int64     `json:"high"`
	Low       int64     `json:"low"`
	Close     int64     `json:"close"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
	Interval  string    `json:"interval"` // e.g. "1m", "5m"
}

// L2OrderBook represents an aggregated L2 order book snapshot.
type L2OrderBook struct {
	Symbol string       `json:"symbol"`
	Bids   []PriceLevel `json:"bids"`
	Asks   []PriceLevel `json:"asks"`
}

// PriceLevel represents an aggregated price level in the L2 order book.
type PriceLevel struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
}

// SubmitResult is the outcome of applying one order operation to a book.
// Order and Makers are struct copies; orders resting in the book never
// escape the matching engine.
type SubmitResult struct {
	Trades []*Trade `json:"trades"`
	Order  *Order   `json:"order"`
	Makers []*Order `json:"makers,omitempty"`
}

// TradeEvent carries a batch of trades and the affected order snapshots
// downstream (market data, external sinks), in emission order.
type TradeEvent struct {
	Symbol string   `json:"symbol"`
	Trades []*Trade `json:"trades"`
	Taker  *Order   `json:"taker"`
	Makers []*Order `json:"makers,omitempty"`
}
