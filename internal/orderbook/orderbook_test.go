package orderbook

import (
	"testing"

	"marketsim/internal/amount"
	"marketsim/internal/orders"
)

func mkOrder(id string, side orders.Side, price, qty string, seq uint64) *orders.Order {
	return &orders.Order{
		ID:             id,
		Side:           side,
		Price:          amount.MustParse(price),
		Quantity:       amount.MustParse(qty),
		FilledQuantity: amount.Zero(),
		Status:         orders.StatusOpen,
		Sequence:       seq,
	}
}

func TestEmptyBookHasNoBestPrices(t *testing.T) {
	ob := NewOrderBook()
	if ob.GetBestBid() != nil || ob.GetBestAsk() != nil {
		t.Fatal("expected empty book")
	}
	if !ob.GetSpread().IsZero() {
		t.Fatal("expected zero spread on empty book")
	}
}

func TestBestBidIsHighestPrice(t *testing.T) {
	ob := NewOrderBook()
	ob.AddOrder(mkOrder("1", orders.SideBid, "100.00", "1", 0))
	ob.AddOrder(mkOrder("2", orders.SideBid, "101.00", "1", 1))
	ob.AddOrder(mkOrder("3", orders.SideBid, "99.00", "1", 2))

	best := ob.GetBestBid()
	if best == nil || best.Price.String() != "101.00000000" {
		t.Fatalf("expected best bid 101, got %v", best)
	}
}

func TestBestAskIsLowestPrice(t *testing.T) {
	ob := NewOrderBook()
	ob.AddOrder(mkOrder("1", orders.SideAsk, "100.00", "1", 0))
	ob.AddOrder(mkOrder("2", orders.SideAsk, "99.00", "1", 1))
	ob.AddOrder(mkOrder("3", orders.SideAsk, "101.00", "1", 2))

	best := ob.GetBestAsk()
	if best == nil || best.Price.String() != "99.00000000" {
		t.Fatalf("expected best ask 99, got %v", best)
	}
}

func TestTimePriorityWithinLevel(t *testing.T) {
	ob := NewOrderBook()
	first := mkOrder("1", orders.SideAsk, "100.00", "5", 0)
	second := mkOrder("2", orders.SideAsk, "100.00", "5", 1)
	ob.AddOrder(first)
	ob.AddOrder(second)

	level := ob.GetBestAsk()
	if level.Head().Order.ID != "1" {
		t.Fatalf("expected order 1 first in queue, got %s", level.Head().Order.ID)
	}
	if level.Head().Next().Order.ID != "2" {
		t.Fatalf("expected order 2 second in queue")
	}
}

func TestCancelOrderRemovesEmptyLevel(t *testing.T) {
	ob := NewOrderBook()
	ob.AddOrder(mkOrder("1", orders.SideBid, "100.00", "5", 0))
	if ob.BidLevels() != 1 {
		t.Fatalf("expected 1 level, got %d", ob.BidLevels())
	}
	cancelled := ob.CancelOrder("1")
	if cancelled == nil || cancelled.ID != "1" {
		t.Fatal("expected order 1 to be returned")
	}
	if ob.BidLevels() != 0 {
		t.Fatalf("expected price level to be removed, got %d levels", ob.BidLevels())
	}
	if ob.GetOrder("1") != nil {
		t.Fatal("order should no longer be retrievable")
	}
}

func TestUpdateOrderQuantityRemovesFilledOrder(t *testing.T) {
	ob := NewOrderBook()
	o := mkOrder("1", orders.SideBid, "100.00", "5", 0)
	ob.AddOrder(o)
	if err := ob.UpdateOrderQuantity("1", amount.MustParse("5")); err != nil {
		t.Fatal(err)
	}
	if ob.GetOrder("1") != nil {
		t.Fatal("fully filled order should be removed from the book")
	}
}

func TestDepthAggregation(t *testing.T) {
	ob := NewOrderBook()
	ob.AddOrder(mkOrder("1", orders.SideAsk, "100.00", "5", 0))
	ob.AddOrder(mkOrder("2", orders.SideAsk, "100.00", "3", 1))
	ob.AddOrder(mkOrder("3", orders.SideAsk, "101.00", "2", 2))

	depth := ob.GetAskDepth(0)
	if len(depth) != 2 {
		t.Fatalf("expected 2 price levels, got %d", len(depth))
	}
	if depth[0].TotalQty.String() != "8.00000000" {
		t.Fatalf("expected level 100 total qty 8, got %s", depth[0].TotalQty)
	}
}
