package marketdata

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nathanyu/matching-engine/internal/domain"
)

const (
	ringBufferCapacity = 100
	defaultInterval    = "1m"
)

// candleState tracks the current (building) candlestick for a symbol.
type candleState struct {
	current  *domain.Candlestick
	hasData  bool
	interval time.Duration
}

// RingBuffer is a fixed-size circular buffer of candlesticks.
type RingBuffer struct {
	data  [ringBufferCapacity]*domain.Candlestick
	head  int // next write position
	count int
}

// Push adds a candlestick to the ring buffer.
func (rb *RingBuffer) Push(c *domain.Candlestick) {
	rb.data[rb.head] = c
	rb.head = (rb.head + 1) % ringBufferCapacity
	if rb.count < ringBufferCapacity {
		rb.count++
	}
}

// GetAll returns all candlesticks in chronological order.
func (rb *RingBuffer) GetAll() []*domain.Candlestick {
	if rb.count == 0 {
		return nil
	}

	result := make([]*domain.Candlestick, rb.count)
	start := (rb.head - rb.count + ringBufferCapacity) % ringBufferCapacity
	for i := 0; i < rb.count; i++ {
		idx := (start + i) % ringBufferCapacity
		result[i] = rb.data[idx]
	}
	return result
}

// GetRecent returns the N most recent candlesticks.
func (rb *RingBuffer) GetRecent(n int) []*domain.Candlestick {
	if n <= 0 || rb.count == 0 {
		return nil
	}
	if n > rb.count {
		n = rb.count
	}

	result := make([]*domain.Candlestick, n)
	start := (rb.head - n + ringBufferCapacity) % ringBufferCapacity
	for i := 0; i < n; i++ {
		idx := (start + i) % ringBufferCapacity
		result[i] = rb.data[idx]
	}
	return result
}

// Publisher receives trade events and maintains candlestick data and a
// queryable trade log.
type Publisher struct {
	mu sync.RWMutex

	// Per-symbol candlestick ring buffers (completed candles)
	candles map[string]*RingBuffer

	// Per-symbol current (building) candle state
	states map[string]*candleState

	// Trade log (audit trail, for querying)
	trades []*domain.Trade

	// Channel to receive trade events
	TradeIn chan *domain.TradeEvent

	done   chan struct{}
	ticker *time.Ticker
}

// NewPublisher creates a new market data publisher.
func NewPublisher(bufferSize int) *Publisher {
	return &Publisher{
		candles: make(map[string]*RingBuffer),
		states:  make(map[string]*candleState),
		TradeIn: make(chan *domain.TradeEvent, bufferSize),
		done:    make(chan struct{}),
	}
}

// Start begins the publisher's application loop.
func (p *Publisher) Start() {
	p.ticker = time.NewTicker(1 * time.Minute)
	go p.run()
}

// Stop shuts down the publisher.
func (p *Publisher) Stop() {
	if p.ticker != nil {
		p.ticker.Stop()
	}
	close(p.done)
}

// run is the main application loop.
func (p *Publisher) run() {
	slog.Info("market data publisher started")
	for {
		select {
		case event := <-p.TradeIn:
			p.processTradeEvent(event)
		case <-p.ticker.C:
			p.rotateCandlesticks()
		case <-p.done:
			slog.Info("market data publisher stopped")
			return
		}
	}
}

// processTradeEvent updates the trade log and candlestick data.
func (p *Publisher) processTradeEvent(event *domain.TradeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, trade := range event.Trades {
		p.trades = append(p.trades, trade)
		p.updateCandle(trade)
	}
}

// updateCandle updates the current candlestick for a symbol based on a trade.
func (p *Publisher) updateCandle(trade *domain.Trade) {
	state, exists := p.states[trade.Symbol]
	if !exists {
		state = &candleState{
			interval: 1 * time.Minute,
		}
		p.states[trade.Symbol] = state
	}

	if !state.hasData {
		// First trade in this interval
		state.current = &domain.Candlestick{
			Symbol:    trade.Symbol,
			Open:      trade.Price,
			High:      trade.Price,
			Low:       trade.Price,
			Close:     trade.Price,
			Volume:    trade.Quantity,
			Timestamp: trade.Timestamp.Truncate(state.interval),
			Interval:  defaultInterval,
		}
		state.hasData = true
		return
	}

	c := state.current
	if trade.Price > c.High {
		c.High = trade.Price
	}
	if trade.Price < c.Low {
		c.Low = trade.Price
	}
	c.Close = trade.Price
	c.Volume += trade.Quantity
}

// rotateCandlesticks closes the current candle and starts a new interval.
func (p *Publisher) rotateCandlesticks() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for symbol, state := range p.states {
		if !state.hasData {
			continue
		}

		// Push completed candle to ring buffer
		rb, exists := p.candles[symbol]
		if !exists {
			rb = &RingBuffer{}
			p.candles[symbol] = rb
		}
		rb.Push(state.current)

		// Reset state for next interval
		state.hasData = false
		state.current = nil
	}
}

// GetCandles returns recent candlesticks for a symbol.
func (p *Publisher) GetCandles(symbol string, count int) []*domain.Candlestick {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var result []*domain.Candlestick

	// Include completed candles from ring buffer
	if rb, exists := p.candles[symbol]; exists {
		result = rb.GetRecent(count)
	}

	// Include current building candle if it has data
	if state, exists := p.states[symbol]; exists && state.hasData {
		result = append(result, state.current)
	}

	return result
}

// GetTrades returns trades matching the filter criteria.
func (p *Publisher) GetTrades(symbol, orderID string, since time.Time) []*domain.Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var result []*domain.Trade
	for _, trade := range p.trades {
		if symbol != "" && trade.Symbol != symbol {
			continue
		}
		if orderID != "" && trade.MakerOrderID != orderID && trade.TakerOrderID != orderID {
			continue
		}
		if !since.IsZero() && trade.Timestamp.Before(since) {
			continue
		}
		result = append(result, trade)
	}
	return result
}
