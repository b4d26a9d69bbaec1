package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nathanyu/matching-engine/internal/domain"
	"github.com/nathanyu/matching-engine/internal/matching"
)

var (
	tradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_trades_total",
			Help: "Total number of executed trades by symbol",
		},
		[]string{"symbol"},
	)

	orderBookDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exchange_orderbook_depth",
			Help: "Current number of populated price levels",
		},
		[]string{"symbol", "side"},
	)

	inboundSeqGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exchange_sequencer_inbound_seq",
			Help: "Current inbound sequence number per symbol",
		},
		[]string{"symbol"},
	)

	outboundSeqGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exchange_sequencer_outbound_seq",
			Help: "Current outbound sequence number per symbol",
		},
		[]string{"symbol"},
	)
)

type opKind int

const (
	opSubmit opKind = iota
	opCancel
	opAmend
	opSnapshot
)

// op is one operation admitted into a shard's serial stream.
type op struct {
	kind    opKind
	order   *domain.Order
	orderID string
	price   int64
	qty     int64
	depth   int
	reply   chan opResult
}

type opResult struct {
	submit *domain.SubmitResult
	order  *domain.Order
	snap   *domain.L2OrderBook
	err    error
}

// shard is the single-writer serialization domain for one instrument.
// All book mutations for the symbol happen on its goroutine; the inbound
// sequence number it assigns at admission is the sole source of time
// priority.
type shard struct {
	symbol string
	engine *matching.Engine

	inboundSeq  atomic.Uint64
	outboundSeq atomic.Uint64
	failed      atomic.Bool

	ops  chan *op
	done chan struct{}
}

// Sequencer routes order operations to per-instrument shards, assigns
// sequence numbers, and publishes resulting trade events. Operations on the
// same instrument are strictly ordered; different instruments proceed in
// parallel.
type Sequencer struct {
	mu     sync.RWMutex
	shards map[string]*shard
	closed bool

	bufferSize int
	wg         sync.WaitGroup

	// TradeOut carries trade events to downstream consumers (market data,
	// external sinks). Sends are non-blocking: a full buffer drops the
	// event with a warning, it never stalls matching.
	TradeOut chan *domain.TradeEvent
}

// NewSequencer creates a sequencer. bufferSize sets both the per-shard op
// queue and the outbound event buffer.
func NewSequencer(bufferSize int) *Sequencer {
	return &Sequencer{
		shards:     make(map[string]*shard),
		bufferSize: bufferSize,
		TradeOut:   make(chan *domain.TradeEvent, bufferSize),
	}
}

// Stop shuts down all shards and waits for their goroutines to exit.
// Subsequent operations fail with ErrEngineUnavailable.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, sh := range s.shards {
		close(sh.done)
	}
	s.mu.Unlock()

	s.wg.Wait()
	slog.Info("sequencer stopped")
}

// shardFor returns the shard for a symbol, creating and starting it when
// create is set.
func (s *Sequencer) shardFor(symbol string, create bool) (*shard, error) {
	s.mu.RLock()
	sh, exists := s.shards[symbol]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("%w: sequencer stopped", domain.ErrEngineUnavailable)
	}
	if exists {
		return sh, nil
	}
	if !create {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: sequencer stopped", domain.ErrEngineUnavailable)
	}
	if sh, exists = s.shards[symbol]; exists {
		return sh, nil
	}

	sh = &shard{
		symbol: symbol,
		engine: matching.NewEngine(symbol),
		ops:    make(chan *op, s.bufferSize),
		done:   make(chan struct{}),
	}
	s.shards[symbol] = sh
	s.wg.Add(1)
	go s.run(sh)
	slog.Info("sequencer shard started", "symbol", symbol)
	return sh, nil
}

// run is a shard's application loop. Single writer for its book.
func (s *Sequencer) run(sh *shard) {
	defer s.wg.Done()
	for {
		select {
		case o := <-sh.ops:
			s.apply(sh, o)
		case <-sh.done:
			slog.Info("sequencer shard stopped", "symbol", sh.symbol)
			return
		}
	}
}

// apply executes one operation on the shard's engine and replies.
// An invariant violation poisons the shard: the failing operation surfaces
// its error and everything after it gets ErrEngineUnavailable.
func (s *Sequencer) apply(sh *shard, o *op) {
	if sh.failed.Load() {
		o.reply <- opResult{err: fmt.Errorf("%w: instrument %s halted", domain.ErrEngineUnavailable, sh.symbol)}
		return
	}

	defer func() {
		if r := recover(); r != nil {
			sh.failed.Store(true)
			slog.Error("invariant violation, halting instrument", "symbol", sh.symbol, "panic", r)
			o.reply <- opResult{err: fmt.Errorf("%w: %v", domain.ErrBookCrossed, r)}
		}
	}()

	var res opResult
	switch o.kind {
	case opSubmit:
		seq := sh.inboundSeq.Add(1)
		o.order.SequenceID = seq
		res.submit, res.err = sh.engine.Submit(o.order)
	case opCancel:
		sh.inboundSeq.Add(1)
		res.order, res.err = sh.engine.Cancel(o.orderID)
	case opAmend:
		seq := sh.inboundSeq.Add(1)
		res.submit, res.err = sh.engine.Amend(o.orderID, o.price, o.qty, seq)
	case opSnapshot:
		res.snap = sh.engine.Snapshot(o.depth)
	}

	if res.err == nil && res.submit != nil {
		s.publish(sh, res.submit)
	}

	if res.err != nil && errors.Is(res.err, domain.ErrBookCrossed) {
		sh.failed.Store(true)
		slog.Error("crossed book detected, halting instrument", "symbol", sh.symbol, "error", res.err)
	}

	inboundSeqGauge.WithLabelValues(sh.symbol).Set(float64(sh.inboundSeq.Load()))
	outboundSeqGauge.WithLabelValues(sh.symbol).Set(float64(sh.outboundSeq.Load()))
	orderBookDepth.WithLabelValues(sh.symbol, string(domain.SideBuy)).Set(float64(sh.engine.BookDepth(domain.SideBuy)))
	orderBookDepth.WithLabelValues(sh.symbol, string(domain.SideSell)).Set(float64(sh.engine.BookDepth(domain.SideSell)))

	o.reply <- res
}

// publish stamps trades with outbound sequence numbers and emits the event.
func (s *Sequencer) publish(sh *shard, result *domain.SubmitResult) {
	if len(result.Trades) == 0 {
		return
	}
	for _, trade := range result.Trades {
		trade.SequenceID = sh.outboundSeq.Add(1)
	}
	tradesTotal.WithLabelValues(sh.symbol).Add(float64(len(result.Trades)))

	event := &domain.TradeEvent{
		Symbol: sh.symbol,
		Trades: result.Trades,
		Taker:  result.Order,
		Makers: result.Makers,
	}
	select {
	case s.TradeOut <- event:
	default:
		slog.Warn("trade output channel full, dropping event", "symbol", sh.symbol, "trades", len(result.Trades))
	}
}

// dispatch admits an operation into a shard's stream and waits for the
// result. Blocking happens only here, never mid-match.
func (s *Sequencer) dispatch(ctx context.Context, sh *shard, o *op) (opResult, error) {
	o.reply = make(chan opResult, 1)

	select {
	case sh.ops <- o:
	case <-sh.done:
		return opResult{}, fmt.Errorf("%w: instrument %s shutting down", domain.ErrEngineUnavailable, sh.symbol)
	case <-ctx.Done():
		return opResult{}, ctx.Err()
	}

	select {
	case res := <-o.reply:
		return res, res.err
	case <-sh.done:
		return opResult{}, fmt.Errorf("%w: instrument %s shutting down", domain.ErrEngineUnavailable, sh.symbol)
	}
}

// Submit admits a new order and returns its trades and residual state.
func (s *Sequencer) Submit(ctx context.Context, order *domain.Order) (*domain.SubmitResult, error) {
	sh, err := s.shardFor(order.Symbol, true)
	if err != nil {
		return nil, err
	}
	res, err := s.dispatch(ctx, sh, &op{kind: opSubmit, order: order})
	if err != nil {
		return nil, err
	}
	return res.submit, nil
}

// Cancel removes a resting order. The canceled order state is returned.
func (s *Sequencer) Cancel(ctx context.Context, symbol, orderID string) (*domain.Order, error) {
	sh, err := s.shardFor(symbol, false)
	if err != nil {
		return nil, err
	}
	if sh == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	res, err := s.dispatch(ctx, sh, &op{kind: opCancel, orderID: orderID})
	if err != nil {
		return nil, err
	}
	return res.order, nil
}

// Amend changes a resting order's price and/or remaining quantity, per the
// matching engine's priority rules.
func (s *Sequencer) Amend(ctx context.Context, symbol, orderID string, price, qty int64) (*domain.SubmitResult, error) {
	sh, err := s.shardFor(symbol, false)
	if err != nil {
		return nil, err
	}
	if sh == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	res, err := s.dispatch(ctx, sh, &op{kind: opAmend, orderID: orderID, price: price, qty: qty})
	if err != nil {
		return nil, err
	}
	return res.submit, nil
}

// Snapshot returns a point-in-time consistent L2 view. The read runs on the
// shard's goroutine, so it can never observe a half-applied operation.
func (s *Sequencer) Snapshot(ctx context.Context, symbol string, depth int) (*domain.L2OrderBook, error) {
	sh, err := s.shardFor(symbol, false)
	if err != nil {
		return nil, err
	}
	if sh == nil {
		return &domain.L2OrderBook{
			Symbol: symbol,
			Bids:   []domain.PriceLevel{},
			Asks:   []domain.PriceLevel{},
		}, nil
	}
	res, err := s.dispatch(ctx, sh, &op{kind: opSnapshot, depth: depth})
	if err != nil {
		return nil, err
	}
	return res.snap, nil
}

// InboundSeq returns the current inbound sequence number for a symbol.
func (s *Sequencer) InboundSeq(symbol string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sh, exists := s.shards[symbol]; exists {
		return sh.inboundSeq.Load()
	}
	return 0
}

// OutboundSeq returns the current outbound sequence number for a symbol.
func (s *Sequencer) OutboundSeq(symbol string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sh, exists := s.shards[symbol]; exists {
		return sh.outboundSeq.Load()
	}
	return 0
}
