package ordermanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nathanyu/matching-engine/internal/domain"
	"github.com/nathanyu/matching-engine/internal/sequencer"
)

// Manager validates incoming order requests, assigns order IDs, routes
// operations to the right instrument through the sequencer, and tracks
// order state for lookups and terminal-state checks. It holds its own
// copies of orders; book-resident orders stay owned by the matching engine.
type Manager struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order // orderID -> latest known state

	seq *sequencer.Sequencer
}

// NewManager creates an order manager in front of the given sequencer.
func NewManager(seq *sequencer.Sequencer) *Manager {
	return &Manager{
		orders: make(map[string]*domain.Order),
		seq:    seq,
	}
}

// PlaceOrder validates and submits a new order, returning the trades it
// produced and its residual state.
func (m *Manager) PlaceOrder(ctx context.Context, userID, symbol string, side domain.Side, typ domain.OrderType, price, quantity int64) (*domain.SubmitResult, error) {
	if err := validateRequest(symbol, side, typ, price, quantity); err != nil {
		return nil, err
	}

	order := &domain.Order{
		OrderID:           uuid.New().String(),
		Symbol:            symbol,
		Side:              side,
		Type:              typ,
		Price:             price,
		Quantity:          quantity,
		RemainingQuantity: quantity,
		Status:            domain.OrderStatusNew,
		UserID:            userID,
		CreatedAt:         time.Now(),
	}

	result, err := m.seq.Submit(ctx, order)
	if err != nil {
		return nil, err
	}

	m.record(result)
	return result, nil
}

// CancelOrder cancels a resting order. Cancelling an already-canceled order
// is an idempotent no-op; a filled order reports ErrAlreadyFilled.
func (m *Manager) CancelOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	m.mu.RLock()
	known, exists := m.orders[orderID]
	m.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	if known.Status == domain.OrderStatusCanceled {
		return known, nil
	}
	if known.Status == domain.OrderStatusFilled {
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyFilled, orderID)
	}

	canceled, err := m.seq.Cancel(ctx, known.Symbol, orderID)
	if err != nil {
		// A market remainder never rests, so the book may not know an
		// order the registry still holds as partially filled.
		if errors.Is(err, domain.ErrOrderNotFound) && known.FilledQuantity > 0 {
			return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyFilled, orderID)
		}
		return nil, err
	}

	m.mu.Lock()
	m.orders[orderID] = canceled
	m.mu.Unlock()
	return canceled, nil
}

// AmendOrder changes a resting order's price and/or remaining quantity.
func (m *Manager) AmendOrder(ctx context.Context, orderID string, price, quantity int64) (*domain.SubmitResult, error) {
	m.mu.RLock()
	known, exists := m.orders[orderID]
	m.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	if known.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrAlreadyFilled, orderID, known.Status)
	}

	result, err := m.seq.Amend(ctx, known.Symbol, orderID, price, quantity)
	if err != nil {
		// Same translation as CancelOrder: a market remainder never rested.
		if errors.Is(err, domain.ErrOrderNotFound) && known.FilledQuantity > 0 {
			return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyFilled, orderID)
		}
		return nil, err
	}

	m.record(result)
	return result, nil
}

// GetOrder returns the latest known state of an order, or nil.
func (m *Manager) GetOrder(orderID string) *domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.orders[orderID]
}

// record stores the taker and maker snapshots from an operation result.
func (m *Manager) record(result *domain.SubmitResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if result.Order != nil {
		m.orders[result.Order.OrderID] = result.Order
	}
	for _, maker := range result.Makers {
		m.orders[maker.OrderID] = maker
	}
}

// validateRequest rejects malformed submissions before an ID is assigned.
func validateRequest(symbol string, side domain.Side, typ domain.OrderType, price, quantity int64) error {
	if symbol == "" {
		return fmt.Errorf("%w: symbol is required", domain.ErrInvalidOrder)
	}
	if side != domain.SideBuy && side != domain.SideSell {
		return fmt.Errorf("%w: side %q", domain.ErrInvalidOrder, side)
	}
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity %d", domain.ErrInvalidOrder, quantity)
	}
	switch typ {
	case domain.OrderTypeLimit:
		if price <= 0 {
			return fmt.Errorf("%w: limit price %d", domain.ErrInvalidOrder, price)
		}
	case domain.OrderTypeMarket:
		if price != 0 {
			return fmt.Errorf("%w: market order carries price %d", domain.ErrInvalidOrder, price)
		}
	default:
		return fmt.Errorf("%w: type %q", domain.ErrInvalidOrder, typ)
	}
	return nil
}
