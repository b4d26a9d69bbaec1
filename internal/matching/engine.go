package matching

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nathanyu/matching-engine/internal/domain"
	"github.com/nathanyu/matching-engine/internal/orderbook"
)

// Engine matches incoming orders against a single instrument's order book
// using price-time priority. It is not safe for concurrent use; the
// sequencer guarantees one operation at a time per instrument.
type Engine struct {
	symbol string
	book   *orderbook.OrderBook
}

// NewEngine creates a matching engine for one instrument.
func NewEngine(symbol string) *Engine {
	return &Engine{
		symbol: symbol,
		book:   orderbook.NewOrderBook(symbol),
	}
}

// Symbol returns the instrument this engine matches.
func (e *Engine) Symbol() string {
	return e.symbol
}

// snapshot returns a caller-owned copy of an order.
func snapshot(o *domain.Order) *domain.Order {
	c := *o
	return &c
}

// crosses reports whether a limit taker's price permits matching the maker.
func crosses(taker, maker *domain.Order) bool {
	if taker.Side == domain.SideBuy {
		return taker.Price >= maker.Price
	}
	return taker.Price <= maker.Price
}

// Submit matches an incoming order against the opposite side of the book.
// A limit remainder rests; a market remainder is discarded. The returned
// result holds copies of the taker and every affected maker.
func (e *Engine) Submit(taker *domain.Order) (*domain.SubmitResult, error) {
	if err := validate(taker); err != nil {
		return nil, err
	}
	// Reject before matching: a duplicate would otherwise fail on Insert
	// only after fills were already applied.
	if e.book.Get(taker.OrderID) != nil {
		return nil, fmt.Errorf("%w: duplicate order id %s", domain.ErrInvalidOrder, taker.OrderID)
	}

	trades, makers := e.match(taker)

	if taker.RemainingQuantity > 0 {
		switch taker.Type {
		case domain.OrderTypeLimit:
			if err := e.book.Insert(taker); err != nil {
				return nil, err
			}
		case domain.OrderTypeMarket:
			// Market orders never rest. With no fills at all the book is
			// untouched and the submission is rejected outright.
			if len(trades) == 0 {
				return nil, fmt.Errorf("%w: %s %s", domain.ErrNoLiquidity, e.symbol, taker.Side)
			}
		}
	}

	if e.book.Crossed() {
		return nil, fmt.Errorf("%w: %s after submit of %s", domain.ErrBookCrossed, e.symbol, taker.OrderID)
	}

	return &domain.SubmitResult{
		Trades: trades,
		Order:  snapshot(taker),
		Makers: makers,
	}, nil
}

// match runs the continuous matching loop, mutating the taker and the book.
func (e *Engine) match(taker *domain.Order) ([]*domain.Trade, []*domain.Order) {
	var (
		trades []*domain.Trade
		makers []*domain.Order
	)
	now := time.Now()

	for taker.RemainingQuantity > 0 {
		maker, ok := e.book.BestOpposite(taker.Side)
		if !ok {
			break
		}
		if taker.Type == domain.OrderTypeLimit && !crosses(taker, maker) {
			break
		}

		matchQty := min(taker.RemainingQuantity, maker.RemainingQuantity)

		taker.FilledQuantity += matchQty
		taker.RemainingQuantity -= matchQty
		if taker.RemainingQuantity == 0 {
			taker.Status = domain.OrderStatusFilled
		} else {
			taker.Status = domain.OrderStatusPartiallyFilled
		}

		// Fill removes the maker (and an emptied level) at zero remaining.
		filled, err := e.book.Fill(maker.OrderID, matchQty)
		if err != nil {
			// BestOpposite just returned this order; its absence is a bug.
			panic(fmt.Sprintf("matching: fill of best opposite failed: %v", err))
		}
		makers = append(makers, snapshot(filled))

		trade := &domain.Trade{
			TradeID:      uuid.New().String(),
			Symbol:       e.symbol,
			Price:        maker.Price, // execute at maker's (resting) price
			Quantity:     matchQty,
			MakerOrderID: maker.OrderID,
			TakerOrderID: taker.OrderID,
			Timestamp:    now,
		}
		if taker.Side == domain.SideBuy {
			trade.BuyOrderID = taker.OrderID
			trade.SellOrderID = maker.OrderID
		} else {
			trade.BuyOrderID = maker.OrderID
			trade.SellOrderID = taker.OrderID
		}
		trades = append(trades, trade)
	}

	return trades, makers
}

// Cancel removes a resting order from the book.
func (e *Engine) Cancel(orderID string) (*domain.Order, error) {
	order, err := e.book.Remove(orderID)
	if err != nil {
		return nil, err
	}
	order.Status = domain.OrderStatusCanceled
	return order, nil
}

// Amend changes a resting order's price and/or remaining quantity.
//
// A quantity decrease at an unchanged price is applied in place and keeps
// the order's position in the FIFO queue. Any price change or quantity
// increase is a cancel plus reinsert: the order loses time priority, takes
// the amend operation's sequence number, and may match immediately.
func (e *Engine) Amend(orderID string, price, qty int64, seq uint64) (*domain.SubmitResult, error) {
	resting := e.book.Get(orderID)
	if resting == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	if qty <= 0 || price <= 0 {
		return nil, fmt.Errorf("%w: amend price=%d quantity=%d", domain.ErrInvalidOrder, price, qty)
	}

	if price == resting.Price && qty < resting.RemainingQuantity {
		order, err := e.book.Reduce(orderID, qty)
		if err != nil {
			return nil, err
		}
		return &domain.SubmitResult{Order: snapshot(order)}, nil
	}
	if price == resting.Price && qty == resting.RemainingQuantity {
		return &domain.SubmitResult{Order: snapshot(resting)}, nil
	}

	removed, err := e.book.Remove(orderID)
	if err != nil {
		return nil, err
	}

	amended := snapshot(removed)
	amended.Price = price
	amended.Quantity = removed.FilledQuantity + qty
	amended.RemainingQuantity = qty
	amended.SequenceID = seq

	result, err := e.Submit(amended)
	if err != nil {
		// Validation passed above, so Submit cannot reject the reinsert;
		// restore nothing and surface the failure.
		return nil, err
	}
	return result, nil
}

// Snapshot returns an aggregated L2 view of this instrument's book.
func (e *Engine) Snapshot(depth int) *domain.L2OrderBook {
	return e.book.Snapshot(depth)
}

// BookDepth returns the number of populated price levels on one side.
func (e *Engine) BookDepth(side domain.Side) int {
	if side == domain.SideBuy {
		return e.book.BuyBook.Depth()
	}
	return e.book.SellBook.Depth()
}

// PeekTop exposes the best price level on a side for quoting.
func (e *Engine) PeekTop(side domain.Side) (domain.PriceLevel, bool) {
	return e.book.PeekTop(side)
}

// validate rejects malformed submissions before they touch the book.
func validate(order *domain.Order) error {
	if order.Side != domain.SideBuy && order.Side != domain.SideSell {
		return fmt.Errorf("%w: side %q", domain.ErrInvalidOrder, order.Side)
	}
	if order.RemainingQuantity <= 0 {
		return fmt.Errorf("%w: quantity %d", domain.ErrInvalidOrder, order.RemainingQuantity)
	}
	switch order.Type {
	case domain.OrderTypeLimit:
		if order.Price <= 0 {
			return fmt.Errorf("%w: limit price %d", domain.ErrInvalidOrder, order.Price)
		}
	case domain.OrderTypeMarket:
	default:
		return fmt.Errorf("%w: type %q", domain.ErrInvalidOrder, order.Type)
	}
	return nil
}
