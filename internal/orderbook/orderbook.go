package orderbook

import (
	"container/list"
	"fmt"
	"sort"

	"github.com/nathanyu/matching-engine/internal/domain"
)

// orderEntry maps an order to its linked list element for O(1) cancel.
type orderEntry struct {
	order   *domain.Order
	element *list.Element
	level   *bookLevel
}

// bookLevel is a price level in one side of the book.
// It holds a doubly-linked list of orders at this price (FIFO).
type bookLevel struct {
	Price       int64
	TotalVolume int64
	Orders      *list.List // of *domain.Order
}

// Book represents one side (buy or sell) of an order book.
// Prices are kept in a sorted ascending slice so the best price is a
// slice-end read and level insert/remove is a binary search.
type Book struct {
	Side     domain.Side
	LimitMap map[int64]*bookLevel // price -> level
	prices   []int64              // sorted ascending
}

// NewBook creates a new order book side.
func NewBook(side domain.Side) *Book {
	return &Book{
		Side:     side,
		LimitMap: make(map[int64]*bookLevel),
	}
}

// BestPrice returns the best price on this side, or 0 if empty.
// Best bid is the highest buy price, best ask the lowest sell price.
func (b *Book) BestPrice() int64 {
	if len(b.prices) == 0 {
		return 0
	}
	if b.Side == domain.SideBuy {
		return b.prices[len(b.prices)-1]
	}
	return b.prices[0]
}

// HasOrders returns whether this side has any resting orders.
func (b *Book) HasOrders() bool {
	return len(b.prices) > 0
}

// Depth returns the number of populated price levels.
func (b *Book) Depth() int {
	return len(b.prices)
}

// bestLevel returns the level at the best price, nil when empty.
func (b *Book) bestLevel() *bookLevel {
	if len(b.prices) == 0 {
		return nil
	}
	return b.LimitMap[b.BestPrice()]
}

// addOrder appends an order to the tail of the price level's linked list.
func (b *Book) addOrder(order *domain.Order) *list.Element {
	level, exists := b.LimitMap[order.Price]
	if !exists {
		level = &bookLevel{
			Price:  order.Price,
			Orders: list.New(),
		}
		b.LimitMap[order.Price] = level
		b.insertPrice(order.Price)
	}

	level.TotalVolume += order.RemainingQuantity
	return level.Orders.PushBack(order)
}

// removeOrder removes an order from its price level.
func (b *Book) removeOrder(entry *orderEntry) {
	level := entry.level
	level.Orders.Remove(entry.element)
	level.TotalVolume -= entry.order.RemainingQuantity

	if level.Orders.Len() == 0 {
		delete(b.LimitMap, level.Price)
		b.removePrice(level.Price)
	}
}

// insertPrice adds a price to the sorted slice.
func (b *Book) insertPrice(price int64) {
	i := sort.Search(len(b.prices), func(i int) bool { return b.prices[i] >= price })
	b.prices = append(b.prices, 0)
	copy(b.prices[i+1:], b.prices[i:])
	b.prices[i] = price
}

// removePrice deletes a price from the sorted slice.
func (b *Book) removePrice(price int64) {
	i := sort.Search(len(b.prices), func(i int) bool { return b.prices[i] >= price })
	if i < len(b.prices) && b.prices[i] == price {
		b.prices = append(b.prices[:i], b.prices[i+1:]...)
	}
}

// OrderBook holds the full two-sided order book for a single symbol.
type OrderBook struct {
	Symbol   string
	BuyBook  *Book
	SellBook *Book
	OrderMap map[string]*orderEntry // orderID -> entry for O(1) lookup/cancel
}

// NewOrderBook creates a new order book for a symbol.
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol:   symbol,
		BuyBook:  NewBook(domain.SideBuy),
		SellBook: NewBook(domain.SideSell),
		OrderMap: make(map[string]*orderEntry),
	}
}

// side returns the book side for the given order side.
func (ob *OrderBook) side(s domain.Side) *Book {
	if s == domain.SideBuy {
		return ob.BuyBook
	}
	return ob.SellBook
}

// Insert adds a resting limit order to the appropriate side of the book.
// The book takes ownership of the order.
func (ob *OrderBook) Insert(order *domain.Order) error {
	if order.RemainingQuantity <= 0 || order.Price <= 0 {
		return fmt.Errorf("%w: price=%d quantity=%d", domain.ErrInvalidOrder, order.Price, order.RemainingQuantity)
	}
	if _, exists := ob.OrderMap[order.OrderID]; exists {
		return fmt.Errorf("%w: duplicate order id %s", domain.ErrInvalidOrder, order.OrderID)
	}

	book := ob.side(order.Side)
	elem := book.addOrder(order)
	ob.OrderMap[order.OrderID] = &orderEntry{
		order:   order,
		element: elem,
		level:   book.LimitMap[order.Price],
	}
	return nil
}

// Remove takes an order out of the book (full cancel) and returns it.
func (ob *OrderBook) Remove(orderID string) (*domain.Order, error) {
	entry, exists := ob.OrderMap[orderID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}

	ob.side(entry.order.Side).removeOrder(entry)
	delete(ob.OrderMap, orderID)
	return entry.order, nil
}

// Fill decrements a resting order's remaining quantity by qty, removing the
// order (and an emptied level) when it reaches zero. Returns the order.
func (ob *OrderBook) Fill(orderID string, qty int64) (*domain.Order, error) {
	entry, exists := ob.OrderMap[orderID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	order := entry.order
	if qty <= 0 || qty > order.RemainingQuantity {
		return nil, fmt.Errorf("%w: fill %d exceeds remaining %d", domain.ErrInvalidOrder, qty, order.RemainingQuantity)
	}

	order.FilledQuantity += qty
	order.RemainingQuantity -= qty
	entry.level.TotalVolume -= qty

	if order.RemainingQuantity == 0 {
		order.Status = domain.OrderStatusFilled
		entry.level.Orders.Remove(entry.element)
		if entry.level.Orders.Len() == 0 {
			book := ob.side(order.Side)
			delete(book.LimitMap, entry.level.Price)
			book.removePrice(entry.level.Price)
		}
		delete(ob.OrderMap, orderID)
	} else {
		order.Status = domain.OrderStatusPartiallyFilled
	}
	return order, nil
}

// Reduce lowers a resting order's remaining quantity to newQty in place,
// preserving its position in the level's FIFO queue.
func (ob *OrderBook) Reduce(orderID string, newQty int64) (*domain.Order, error) {
	entry, exists := ob.OrderMap[orderID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	order := entry.order
	if newQty <= 0 || newQty >= order.RemainingQuantity {
		return nil, fmt.Errorf("%w: reduce to %d from remaining %d", domain.ErrInvalidOrder, newQty, order.RemainingQuantity)
	}

	delta := order.RemainingQuantity - newQty
	order.RemainingQuantity = newQty
	order.Quantity -= delta
	entry.level.TotalVolume -= delta
	return order, nil
}

// Get returns the resting order with the given ID, or nil.
func (ob *OrderBook) Get(orderID string) *domain.Order {
	if entry, exists := ob.OrderMap[orderID]; exists {
		return entry.order
	}
	return nil
}

// BestOpposite returns the first resting order the given aggressor side
// would match against: head of the lowest ask level for a buy, head of the
// highest bid level for a sell.
func (ob *OrderBook) BestOpposite(aggressor domain.Side) (*domain.Order, bool) {
	level := ob.side(aggressor.Opposite()).bestLevel()
	if level == nil {
		return nil, false
	}
	front := level.Orders.Front()
	if front == nil {
		return nil, false
	}
	return front.Value.(*domain.Order), true
}

// PeekTop returns the best price and aggregate quantity on the given side
// without mutating the book.
func (ob *OrderBook) PeekTop(side domain.Side) (domain.PriceLevel, bool) {
	level := ob.side(side).bestLevel()
	if level == nil {
		return domain.PriceLevel{}, false
	}
	return domain.PriceLevel{Price: level.Price, Quantity: level.TotalVolume}, true
}

// Crossed reports whether the best bid has reached or passed the best ask.
// A crossed book after an operation completes is an engine bug.
func (ob *OrderBook) Crossed() bool {
	if !ob.BuyBook.HasOrders() || !ob.SellBook.HasOrders() {
		return false
	}
	return ob.BuyBook.BestPrice() >= ob.SellBook.BestPrice()
}

// Snapshot returns an aggregated L2 order book snapshot.
func (ob *OrderBook) Snapshot(depth int) *domain.L2OrderBook {
	return &domain.L2OrderBook{
		Symbol: ob.Symbol,
		Bids:   aggregateLevels(ob.BuyBook, depth, true),
		Asks:   aggregateLevels(ob.SellBook, depth, false),
	}
}

// aggregateLevels collects price levels sorted by price.
// For bids: descending (highest first). For asks: ascending (lowest first).
func aggregateLevels(book *Book, depth int, descending bool) []domain.PriceLevel {
	n := len(book.prices)
	if depth > 0 && n > depth {
		n = depth
	}

	levels := make([]domain.PriceLevel, 0, n)
	for i := 0; i < n; i++ {
		price := book.prices[i]
		if descending {
			price = book.prices[len(book.prices)-1-i]
		}
		level := book.LimitMap[price]
		levels = append(levels, domain.PriceLevel{
			Price:    price,
			Quantity: level.TotalVolume,
		})
	}
	return levels
}
