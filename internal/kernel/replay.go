package kernel

import (
	"marketsim/internal/amount"
	"marketsim/internal/events"
	"marketsim/internal/orders"
	"marketsim/internal/world"
)

// Replay folds a previously exported event stream back into a fresh
// world.State, without going through AdvanceTick again. spec.md §8
// requires that "replaying an event log from GENESIS reconstructs a world
// state whose queryable projections... equal the original" — this is that
// reconstruction, grounded in the teacher's EventLog.Replay recovery path
// and generalized from gob-decode-and-dispatch to canonical-event-and-
// dispatch.
//
// Replay does not re-run matching: every balance and fill outcome is
// already recorded in the events (BALANCE_UPDATED carries the
// authoritative post-trade balances, TRADE_EXECUTED the fill amounts), so
// folding is a pure application of recorded facts rather than a
// resimulation.
func Replay(cfg Config, seed uint32, evs []events.Event) (*world.State, error) {
	w := world.New(cfg, seed)
	orderIndex := make(map[string]*orders.Order)

	var maxTick int64
	var maxOrderSeq uint64

	for _, ev := range evs {
		if ev.TickID > maxTick {
			maxTick = ev.TickID
		}

		switch ev.Type {
		case events.TypeAgentCreated:
			agent := &world.Agent{
				ID:          ev.AgentID,
				DisplayName: stringField(ev.Payload, "display_name"),
				Cash:        amount.MustParse(stringField(ev.Payload, "initial_cash")),
				Asset:       amount.MustParse(stringField(ev.Payload, "initial_asset")),
				Status:      world.AgentActive,
			}
			w.AddAgent(agent)

		case events.TypeDecayApplied:
			if agent := w.GetAgent(ev.AgentID); agent != nil {
				agent.Cash = amount.MustParse(stringField(ev.Payload, "cash_after"))
			}

		case events.TypeOrderPlaced:
			side := orders.SideBid
			if stringField(ev.Payload, "side") == "ask" {
				side = orders.SideAsk
			}
			price := amount.MustParse(stringField(ev.Payload, "price"))
			qty := amount.MustParse(stringField(ev.Payload, "quantity"))
			seq := uint64Field(ev.Payload, "sequence")
			if seq > maxOrderSeq {
				maxOrderSeq = seq
			}
			o := &orders.Order{
				ID:             stringField(ev.Payload, "order_id"),
				AgentID:        ev.AgentID,
				Side:           side,
				Price:          price,
				Quantity:       qty,
				FilledQuantity: amount.Zero(),
				Status:         orders.StatusOpen,
				TickCreated:    ev.TickID,
				Sequence:       seq,
			}
			w.Orders[o.ID] = o
			orderIndex[o.ID] = o

		case events.TypeTradeExecuted:
			qty := amount.MustParse(stringField(ev.Payload, "quantity"))
			price := amount.MustParse(stringField(ev.Payload, "price"))
			totalFee := amount.MustParse(stringField(ev.Payload, "total_fee"))
			buyID := stringField(ev.Payload, "buy_order_id")
			sellID := stringField(ev.Payload, "sell_order_id")

			if buyOrder, ok := orderIndex[buyID]; ok {
				buyOrder.FilledQuantity = buyOrder.FilledQuantity.Add(qty)
				if buyOrder.IsFilled() {
					buyOrder.Status = orders.StatusFilled
				}
			}
			if sellOrder, ok := orderIndex[sellID]; ok {
				sellOrder.FilledQuantity = sellOrder.FilledQuantity.Add(qty)
				if sellOrder.IsFilled() {
					sellOrder.Status = orders.StatusFilled
				}
			}

			trade := &orders.Trade{
				ID:            stringField(ev.Payload, "trade_id"),
				Tick:          ev.TickID,
				Price:         price,
				Quantity:      qty,
				BuyOrderID:    buyID,
				SellOrderID:   sellID,
				BuyerAgentID:  stringField(ev.Payload, "buyer_agent_id"),
				SellerAgentID: stringField(ev.Payload, "seller_agent_id"),
				TotalFee:      totalFee,
				Sequence:      w.NextTradeSequence(),
			}
			w.Trades = append(w.Trades, trade)
			w.TotalVolume = w.TotalVolume.Add(price.Mul(qty))
			w.TotalFees = w.TotalFees.Add(totalFee)

		case events.TypeBalanceUpdated:
			if agent := w.GetAgent(ev.AgentID); agent != nil {
				agent.Cash = amount.MustParse(stringField(ev.Payload, "cash"))
				agent.Asset = amount.MustParse(stringField(ev.Payload, "asset"))
			}

		case events.TypeOrderCancelled:
			orderID := stringField(ev.Payload, "order_id")
			if o, ok := orderIndex[orderID]; ok {
				o.Status = orders.StatusCancelled
			}

		case events.TypeAgentBankrupt:
			if agent := w.GetAgent(ev.AgentID); agent != nil {
				agent.Status = world.AgentBankrupt
				bt := ev.TickID
				agent.BankruptAtTick = &bt
				if cashStr, ok := ev.Payload["cash"]; ok {
					agent.Cash = amount.MustParse(cashStr.(string))
				}
			}
			for _, o := range orderIndex {
				if o.AgentID == ev.AgentID && o.Status == orders.StatusOpen {
					o.Status = orders.StatusCancelled
				}
			}
		}
	}

	for _, o := range orderIndex {
		if o.Status == orders.StatusOpen {
			_ = w.Book.AddOrder(o)
		}
	}

	w.OrderSeq = maxOrderSeq
	w.CurrentTick = maxTick + 1

	return w, nil
}

func stringField(payload map[string]interface{}, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func uint64Field(payload map[string]interface{}, key string) uint64 {
	v, ok := payload[key]
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case uint64:
		return t
	case int64:
		return uint64(t)
	case int:
		return uint64(t)
	default:
		return 0
	}
}
