// Package matching implements the continuous double auction: price-time
// priority limit order matching and cancellation against a world.State.
//
// Architecture: Single-Threaded Core
//
// The engine never locks and never spawns goroutines. Determinism requires
// that matching depend on exactly three things: the set of open opposite-side
// orders, their limit prices, and their sequence numbers — never wall time,
// hash-map iteration, or caller identity. The kernel is the only caller, and
// it serializes every call, so the engine itself stays simple and sequential.
//
// Settlement is not deferred: a match mutates agent balances, order fill
// state, and the trade ledger in the same call that discovered the match.
// There is no escrow — the risk checker's upfront funds gate is the only
// solvency check an order ever receives; funds are debited only as fills
// happen.
package matching

import (
	"marketsim/internal/amount"
	"marketsim/internal/orderbook"
	"marketsim/internal/orders"
	"marketsim/internal/reason"
	"marketsim/internal/risk"
	"marketsim/internal/world"
)

// Fill describes one execution leg of a placement: the resulting trade plus
// the balance deltas it applied to both participants, so the kernel can
// emit BALANCE_UPDATED events without re-deriving the fee math.
type Fill struct {
	Trade             *orders.Trade
	BuyerAgentID      string
	SellerAgentID     string
	BuyerCashDelta    amount.Amount
	BuyerAssetDelta   amount.Amount
	SellerCashDelta   amount.Amount
	SellerAssetDelta  amount.Amount
	BuyerFee          amount.Amount
	SellerFee         amount.Amount
}

// PlacementResult is returned by a successful PlaceLimitOrder: the order as
// it stands after matching (open, partially filled, or filled) and every
// fill it generated, in fill order.
type PlacementResult struct {
	Order *orders.Order
	Fills []Fill
}

// Engine is the continuous double auction matching engine for the single
// traded instrument. It owns no state of its own beyond a reference to the
// world it mutates and the risk checker it validates against.
type Engine struct {
	world   *world.State
	checker *risk.Checker
}

// NewEngine creates a matching engine bound to a world state and its risk
// checker.
func NewEngine(w *world.State, checker *risk.Checker) *Engine {
	return &Engine{world: w, checker: checker}
}

// PlaceLimitOrder validates and places a limit order, matching it
// immediately against the resting book. priceStr and qtyStr are decimal
// strings, parsed here per spec.md §4.5 step 1. feeBps is the run's
// trading fee in basis points, split 50/50 between buyer and seller.
//
// On success it returns a PlacementResult and an empty reason.Code. On
// failure it returns (nil, code) — the first validation failure wins and
// no state is mutated.
func (e *Engine) PlaceLimitOrder(agentID string, side orders.Side, priceStr, qtyStr string, feeBps int64) (*PlacementResult, reason.Code) {
	price, err := amount.Parse(priceStr)
	if err != nil {
		return nil, reason.InvalidAction
	}
	qty, err := amount.Parse(qtyStr)
	if err != nil {
		return nil, reason.InvalidAction
	}

	agent := e.world.GetAgent(agentID)
	if code := e.checker.ValidatePlacement(agent, side, price, qty); code != "" {
		return nil, code
	}

	order := &orders.Order{
		ID:             e.world.NextID(),
		AgentID:        agentID,
		Side:           side,
		Price:          price,
		Quantity:       qty,
		FilledQuantity: amount.Zero(),
		Status:         orders.StatusOpen,
		TickCreated:    e.world.CurrentTick,
		Sequence:       e.world.NextOrderSequence(),
	}
	e.world.Orders[order.ID] = order

	fills := e.match(order, feeBps)

	if order.RemainingQuantity().IsPositive() {
		// AddOrder cannot fail here: order.ID is freshly minted and unique.
		_ = e.world.Book.AddOrder(order)
	}

	return &PlacementResult{Order: order, Fills: fills}, ""
}

// match walks the opposite side of the book in price-time priority,
// filling the incoming order against resting orders until either side is
// exhausted or prices no longer cross.
func (e *Engine) match(incoming *orders.Order, feeBps int64) []Fill {
	var fills []Fill

	for incoming.RemainingQuantity().IsPositive() {
		level := e.bestOpposite(incoming.Side)
		if level == nil || !crosses(incoming, level.Price) {
			break
		}

		node := level.Head()
		for node != nil && incoming.RemainingQuantity().IsPositive() {
			resting := node.Order
			next := node.Next() // capture before a fill may unlink node

			fillQty := amount.Min(incoming.RemainingQuantity(), resting.RemainingQuantity())
			fill := e.settle(incoming, resting, level.Price, fillQty, feeBps)
			fills = append(fills, fill)

			node = next
		}
	}

	return fills
}

// bestOpposite returns the best resting price level on the side opposite
// the incoming order.
func (e *Engine) bestOpposite(side orders.Side) *orderbook.PriceLevel {
	if side == orders.SideBid {
		return e.world.Book.GetBestAsk()
	}
	return e.world.Book.GetBestBid()
}

// crosses reports whether an incoming order at its limit price crosses a
// resting price level: a bid crosses when its price is at least the
// resting ask; an ask crosses when its price is at most the resting bid.
func crosses(incoming *orders.Order, restingPrice amount.Amount) bool {
	if incoming.Side == orders.SideBid {
		return !incoming.Price.LessThan(restingPrice)
	}
	return !incoming.Price.GreaterThan(restingPrice)
}

// settle executes one fill between the incoming order and a resting order
// at the resting order's price (price improvement always accrues to the
// aggressor), applies the fee split, updates both orders' fill state,
// mutates both agents' balances, and appends the trade.
//
// Fee rounding: each half of the total fee truncates toward zero
// independently; any one-unit remainder from an odd total lands on the
// buyer's half, so total_fee always equals buyer_fee + seller_fee exactly.
func (e *Engine) settle(incoming, resting *orders.Order, price, qty amount.Amount, feeBps int64) Fill {
	tradeValue := price.Mul(qty)
	totalFee := tradeValue.MulBps(feeBps)
	sellerFee := totalFee.Div(amount.FromInt64(2))
	buyerFee := totalFee.Sub(sellerFee)

	var buyOrder, sellOrder *orders.Order
	if incoming.Side == orders.SideBid {
		buyOrder, sellOrder = incoming, resting
	} else {
		buyOrder, sellOrder = resting, incoming
	}

	buyerAgent := e.world.GetAgent(buyOrder.AgentID)
	sellerAgent := e.world.GetAgent(sellOrder.AgentID)

	buyerCashDelta := tradeValue.Add(buyerFee).Neg()
	sellerCashDelta := tradeValue.Sub(sellerFee)

	buyerAgent.Cash = buyerAgent.Cash.Add(buyerCashDelta)
	buyerAgent.Asset = buyerAgent.Asset.Add(qty)
	sellerAgent.Cash = sellerAgent.Cash.Add(sellerCashDelta)
	sellerAgent.Asset = sellerAgent.Asset.Sub(qty)

	incoming.FilledQuantity = incoming.FilledQuantity.Add(qty)
	if incoming.IsFilled() {
		incoming.Status = orders.StatusFilled
	}

	// The resting order may already be tracked by the book; let the book
	// own the filled-quantity update so its price-level totals and the
	// order-id index stay consistent (it removes the order once filled).
	_ = e.world.Book.UpdateOrderQuantity(resting.ID, qty)
	if resting.IsFilled() {
		resting.Status = orders.StatusFilled
	}

	trade := &orders.Trade{
		ID:            e.world.NextID(),
		Tick:          e.world.CurrentTick,
		Price:         price,
		Quantity:      qty,
		BuyOrderID:    buyOrder.ID,
		SellOrderID:   sellOrder.ID,
		BuyerAgentID:  buyOrder.AgentID,
		SellerAgentID: sellOrder.AgentID,
		TotalFee:      totalFee,
		Sequence:      e.world.NextTradeSequence(),
	}
	e.world.Trades = append(e.world.Trades, trade)
	e.world.TotalVolume = e.world.TotalVolume.Add(tradeValue)
	e.world.TotalFees = e.world.TotalFees.Add(totalFee)

	return Fill{
		Trade:            trade,
		BuyerAgentID:     buyOrder.AgentID,
		SellerAgentID:    sellOrder.AgentID,
		BuyerCashDelta:   buyerCashDelta,
		BuyerAssetDelta:  qty,
		SellerCashDelta:  sellerCashDelta,
		SellerAssetDelta: qty.Neg(),
		BuyerFee:         buyerFee,
		SellerFee:        sellerFee,
	}
}

// CancelOrder cancels an open order owned by agentID. No balances change:
// funds were never escrowed, so cancellation is a pure book/status mutation.
func (e *Engine) CancelOrder(agentID, orderID string) (*orders.Order, reason.Code) {
	order, ok := e.world.Orders[orderID]
	if !ok {
		return nil, reason.OrderNotFound
	}
	if order.AgentID != agentID {
		return nil, reason.OrderNotOwned
	}
	if order.Status != orders.StatusOpen {
		return nil, reason.OrderNotFound
	}

	e.world.Book.CancelOrder(orderID)
	order.Status = orders.StatusCancelled
	return order, ""
}
