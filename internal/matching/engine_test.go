package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanyu/matching-engine/internal/domain"
)

func limitOrder(id string, side domain.Side, price, qty int64, seq uint64) *domain.Order {
	return &domain.Order{
		OrderID:           id,
		Symbol:            "AAPL",
		Side:              side,
		Type:              domain.OrderTypeLimit,
		Price:             price,
		Quantity:          qty,
		RemainingQuantity: qty,
		Status:            domain.OrderStatusNew,
		UserID:            "user1",
		SequenceID:        seq,
	}
}

func marketOrder(id string, side domain.Side, qty int64, seq uint64) *domain.Order {
	return &domain.Order{
		OrderID:           id,
		Symbol:            "AAPL",
		Side:              side,
		Type:              domain.OrderTypeMarket,
		Quantity:          qty,
		RemainingQuantity: qty,
		Status:            domain.OrderStatusNew,
		UserID:            "user1",
		SequenceID:        seq,
	}
}

func TestSubmit_NoMatch_Rests(t *testing.T) {
	e := NewEngine("AAPL")

	result, err := e.Submit(limitOrder("s1", domain.SideSell, 10010, 1000, 1))
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
	assert.Equal(t, domain.OrderStatusNew, result.Order.Status)

	snap := e.Snapshot(5)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, int64(1000), snap.Asks[0].Quantity)
}

func TestSubmit_FullFill(t *testing.T) {
	e := NewEngine("AAPL")

	_, err := e.Submit(limitOrder("b1", domain.SideBuy, 100, 10, 1))
	require.NoError(t, err)

	result, err := e.Submit(limitOrder("s1", domain.SideSell, 100, 10, 2))
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, int64(10), trade.Quantity)
	assert.Equal(t, int64(100), trade.Price)
	assert.Equal(t, "b1", trade.BuyOrderID)
	assert.Equal(t, "s1", trade.SellOrderID)
	assert.Equal(t, "b1", trade.MakerOrderID)
	assert.Equal(t, "s1", trade.TakerOrderID)

	assert.Equal(t, domain.OrderStatusFilled, result.Order.Status)
	require.Len(t, result.Makers, 1)
	assert.Equal(t, domain.OrderStatusFilled, result.Makers[0].Status)

	// Book empty on both sides
	snap := e.Snapshot(5)
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)
}

func TestSubmit_ExecutesAtMakerPrice(t *testing.T) {
	e := NewEngine("AAPL")

	_, err := e.Submit(limitOrder("s1", domain.SideSell, 10010, 100, 1))
	require.NoError(t, err)

	// Buyer willing to pay more still trades at the resting price
	result, err := e.Submit(limitOrder("b1", domain.SideBuy, 10050, 100, 2))
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	assert.Equal(t, int64(10010), result.Trades[0].Price)
}

func TestSubmit_FIFOAtSamePrice(t *testing.T) {
	e := NewEngine("AAPL")

	// Two sells at 101: seq1 then seq2, then a buy for 6
	_, err := e.Submit(limitOrder("s1", domain.SideSell, 101, 5, 1))
	require.NoError(t, err)
	_, err = e.Submit(limitOrder("s2", domain.SideSell, 101, 5, 2))
	require.NoError(t, err)

	result, err := e.Submit(limitOrder("b1", domain.SideBuy, 101, 6, 3))
	require.NoError(t, err)

	require.Len(t, result.Trades, 2)
	assert.Equal(t, "s1", result.Trades[0].MakerOrderID)
	assert.Equal(t, int64(5), result.Trades[0].Quantity)
	assert.Equal(t, "s2", result.Trades[1].MakerOrderID)
	assert.Equal(t, int64(1), result.Trades[1].Quantity)
	assert.Equal(t, int64(101), result.Trades[0].Price)
	assert.Equal(t, int64(101), result.Trades[1].Price)

	require.Len(t, result.Makers, 2)
	assert.Equal(t, domain.OrderStatusFilled, result.Makers[0].Status)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, result.Makers[1].Status)
	assert.Equal(t, int64(4), result.Makers[1].RemainingQuantity)

	snap := e.Snapshot(5)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, int64(4), snap.Asks[0].Quantity)
}

func TestSubmit_SweepsMultipleLevels(t *testing.T) {
	e := NewEngine("AAPL")

	_, err := e.Submit(limitOrder("s1", domain.SideSell, 10010, 100, 1))
	require.NoError(t, err)
	_, err = e.Submit(limitOrder("s2", domain.SideSell, 10020, 200, 2))
	require.NoError(t, err)

	result, err := e.Submit(limitOrder("b1", domain.SideBuy, 10020, 300, 3))
	require.NoError(t, err)

	require.Len(t, result.Trades, 2)
	assert.Equal(t, int64(10010), result.Trades[0].Price) // best ask first
	assert.Equal(t, int64(10020), result.Trades[1].Price)
	assert.Equal(t, domain.OrderStatusFilled, result.Order.Status)

	snap := e.Snapshot(5)
	assert.Empty(t, snap.Asks)
}

func TestSubmit_NoCross(t *testing.T) {
	e := NewEngine("AAPL")

	_, err := e.Submit(limitOrder("s1", domain.SideSell, 10020, 100, 1))
	require.NoError(t, err)

	result, err := e.Submit(limitOrder("b1", domain.SideBuy, 10010, 100, 2))
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
	assert.Equal(t, domain.OrderStatusNew, result.Order.Status)

	// Both rest; the book stays uncrossed
	snap := e.Snapshot(5)
	require.Len(t, snap.Bids, 1)
	require.Len(t, snap.Asks, 1)
}

func TestSubmit_ConservationOfQuantity(t *testing.T) {
	e := NewEngine("AAPL")

	_, err := e.Submit(limitOrder("s1", domain.SideSell, 100, 30, 1))
	require.NoError(t, err)
	_, err = e.Submit(limitOrder("s2", domain.SideSell, 100, 70, 2))
	require.NoError(t, err)

	result, err := e.Submit(limitOrder("b1", domain.SideBuy, 100, 50, 3))
	require.NoError(t, err)

	var traded int64
	for _, trade := range result.Trades {
		traded += trade.Quantity
	}
	assert.Equal(t, result.Order.FilledQuantity, traded)

	var makerFilled int64
	for _, maker := range result.Makers {
		makerFilled += maker.FilledQuantity
	}
	assert.Equal(t, traded, makerFilled)
}

func TestSubmit_MarketOrder_Fills(t *testing.T) {
	e := NewEngine("AAPL")

	_, err := e.Submit(limitOrder("s1", domain.SideSell, 10010, 100, 1))
	require.NoError(t, err)

	result, err := e.Submit(marketOrder("b1", domain.SideBuy, 100, 2))
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	assert.Equal(t, int64(10010), result.Trades[0].Price)
	assert.Equal(t, domain.OrderStatusFilled, result.Order.Status)
}

func TestSubmit_MarketOrder_NoLiquidity(t *testing.T) {
	e := NewEngine("AAPL")

	_, err := e.Submit(marketOrder("b1", domain.SideBuy, 10, 1))
	assert.ErrorIs(t, err, domain.ErrNoLiquidity)

	// Book unchanged: no resting order created
	snap := e.Snapshot(5)
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)
}

func TestSubmit_MarketOrder_PartialDiscardsRemainder(t *testing.T) {
	e := NewEngine("AAPL")

	_, err := e.Submit(limitOrder("s1", domain.SideSell, 10010, 40, 1))
	require.NoError(t, err)

	result, err := e.Submit(marketOrder("b1", domain.SideBuy, 100, 2))
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	assert.Equal(t, int64(40), result.Trades[0].Quantity)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, result.Order.Status)
	assert.Equal(t, int64(60), result.Order.RemainingQuantity)

	// The unfilled remainder never rests
	snap := e.Snapshot(5)
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)
}

func TestSubmit_Invalid(t *testing.T) {
	e := NewEngine("AAPL")

	_, err := e.Submit(limitOrder("b1", domain.SideBuy, 0, 100, 1))
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = e.Submit(limitOrder("b2", domain.SideBuy, 100, 0, 1))
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	bad := limitOrder("b3", "hold", 100, 100, 1)
	_, err = e.Submit(bad)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestSubmit_DuplicateID_BookUnchanged(t *testing.T) {
	e := NewEngine("AAPL")

	_, err := e.Submit(limitOrder("b1", domain.SideBuy, 90, 5, 1))
	require.NoError(t, err)
	_, err = e.Submit(limitOrder("s1", domain.SideSell, 100, 5, 2))
	require.NoError(t, err)

	// A taker reusing a resting order's ID is rejected before any fill.
	result, err := e.Submit(limitOrder("b1", domain.SideBuy, 100, 8, 3))
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.Nil(t, result)

	snap := e.Snapshot(5)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, int64(5), snap.Asks[0].Quantity)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, int64(5), snap.Bids[0].Quantity)

	// Duplicating an opposite-side resting ID is rejected the same way.
	result, err = e.Submit(limitOrder("s1", domain.SideBuy, 100, 8, 4))
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.Nil(t, result)
	snap = e.Snapshot(5)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, int64(5), snap.Asks[0].Quantity)
}

func TestCancel(t *testing.T) {
	e := NewEngine("AAPL")

	_, err := e.Submit(limitOrder("s1", domain.SideSell, 10010, 1000, 1))
	require.NoError(t, err)

	canceled, err := e.Cancel("s1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, canceled.Status)

	snap := e.Snapshot(5)
	assert.Empty(t, snap.Asks)
}

func TestCancel_NotFound(t *testing.T) {
	e := NewEngine("AAPL")
	_, err := e.Cancel("nonexistent")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestAmend_DecreaseKeepsPriority(t *testing.T) {
	e := NewEngine("AAPL")

	_, err := e.Submit(limitOrder("s1", domain.SideSell, 10010, 300, 1))
	require.NoError(t, err)
	_, err = e.Submit(limitOrder("s2", domain.SideSell, 10010, 300, 2))
	require.NoError(t, err)

	result, err := e.Amend("s1", 10010, 100, 3)
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
	assert.Equal(t, int64(100), result.Order.RemainingQuantity)
	// Priority preserved: original sequence number survives the amend
	assert.Equal(t, uint64(1), result.Order.SequenceID)

	// s1 still fills before s2
	buyResult, err := e.Submit(limitOrder("b1", domain.SideBuy, 10010, 100, 4))
	require.NoError(t, err)
	require.Len(t, buyResult.Trades, 1)
	assert.Equal(t, "s1", buyResult.Trades[0].MakerOrderID)
}

func TestAmend_IncreaseLosesPriority(t *testing.T) {
	e := NewEngine("AAPL")

	_, err := e.Submit(limitOrder("s1", domain.SideSell, 10010, 100, 1))
	require.NoError(t, err)
	_, err = e.Submit(limitOrder("s2", domain.SideSell, 10010, 100, 2))
	require.NoError(t, err)

	result, err := e.Amend("s1", 10010, 200, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(200), result.Order.RemainingQuantity)
	// Reinserted with the amend operation's sequence number
	assert.Equal(t, uint64(3), result.Order.SequenceID)

	// s2 now fills first
	buyResult, err := e.Submit(limitOrder("b1", domain.SideBuy, 10010, 100, 4))
	require.NoError(t, err)
	require.Len(t, buyResult.Trades, 1)
	assert.Equal(t, "s2", buyResult.Trades[0].MakerOrderID)
}

func TestAmend_PriceChangeMayMatch(t *testing.T) {
	e := NewEngine("AAPL")

	_, err := e.Submit(limitOrder("b1", domain.SideBuy, 10000, 100, 1))
	require.NoError(t, err)
	_, err = e.Submit(limitOrder("s1", domain.SideSell, 10020, 100, 2))
	require.NoError(t, err)

	// Amending the sell down to the bid crosses immediately
	result, err := e.Amend("s1", 10000, 100, 3)
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	assert.Equal(t, int64(10000), result.Trades[0].Price)
	assert.Equal(t, domain.OrderStatusFilled, result.Order.Status)

	snap := e.Snapshot(5)
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)
}

func TestAmend_NotFound(t *testing.T) {
	e := NewEngine("AAPL")
	_, err := e.Amend("missing", 10010, 100, 1)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestAmend_Invalid(t *testing.T) {
	e := NewEngine("AAPL")

	_, err := e.Submit(limitOrder("s1", domain.SideSell, 10010, 100, 1))
	require.NoError(t, err)

	_, err = e.Amend("s1", 10010, 0, 2)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = e.Amend("s1", 0, 100, 2)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestDeterminism(t *testing.T) {
	// Given the same sequence of orders, we should get the same trades
	submit := func() []*domain.Trade {
		e := NewEngine("AAPL")
		var all []*domain.Trade
		orders := []*domain.Order{
			limitOrder("s1", domain.SideSell, 10010, 100, 1),
			limitOrder("s2", domain.SideSell, 10010, 200, 2),
			limitOrder("b1", domain.SideBuy, 10010, 150, 3),
		}
		for _, o := range orders {
			result, err := e.Submit(o)
			require.NoError(t, err)
			all = append(all, result.Trades...)
		}
		return all
	}

	trades1 := submit()
	trades2 := submit()

	require.Equal(t, len(trades1), len(trades2))
	for i := range trades1 {
		assert.Equal(t, trades1[i].Quantity, trades2[i].Quantity)
		assert.Equal(t, trades1[i].Price, trades2[i].Price)
		assert.Equal(t, trades1[i].MakerOrderID, trades2[i].MakerOrderID)
	}
}

func TestBookNeverCrossedBetweenOperations(t *testing.T) {
	e := NewEngine("AAPL")

	ops := []*domain.Order{
		limitOrder("b1", domain.SideBuy, 10000, 100, 1),
		limitOrder("s1", domain.SideSell, 10010, 100, 2),
		limitOrder("b2", domain.SideBuy, 10010, 50, 3),
		limitOrder("s2", domain.SideSell, 9990, 200, 4),
		limitOrder("b3", domain.SideBuy, 9995, 80, 5),
	}
	for _, o := range ops {
		_, err := e.Submit(o)
		require.NoError(t, err)

		snap := e.Snapshot(1)
		if len(snap.Bids) > 0 && len(snap.Asks) > 0 {
			assert.Less(t, snap.Bids[0].Price, snap.Asks[0].Price)
		}
	}
}
