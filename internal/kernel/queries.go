package kernel

import (
	"io"

	"marketsim/internal/amount"
	"marketsim/internal/events"
	"marketsim/internal/orders"
	"marketsim/internal/world"
)

// AgentView is a read-only value-copy snapshot of an agent, returned from
// queries so callers can never mutate kernel-owned state through a
// returned pointer (spec.md §5: "external callers hold only value copies
// of query results").
type AgentView struct {
	ID              string
	DisplayName     string
	Cash            amount.Amount
	Asset           amount.Amount
	Status          string
	ActionsThisTick int
	BankruptAtTick  *int64
}

func toAgentView(a *world.Agent) AgentView {
	var bankruptAt *int64
	if a.BankruptAtTick != nil {
		bt := *a.BankruptAtTick
		bankruptAt = &bt
	}
	return AgentView{
		ID:              a.ID,
		DisplayName:     a.DisplayName,
		Cash:            a.Cash,
		Asset:           a.Asset,
		Status:          a.Status.String(),
		ActionsThisTick: a.ActionsThisTick,
		BankruptAtTick:  bankruptAt,
	}
}

// Agent returns a snapshot of the agent with the given id, or false if it
// does not exist.
func (k *Kernel) Agent(agentID string) (AgentView, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	a := k.state.GetAgent(agentID)
	if a == nil {
		return AgentView{}, false
	}
	return toAgentView(a), true
}

// OpenOrders returns a snapshot of an agent's open orders.
func (k *Kernel) OpenOrders(agentID string) []orders.Order {
	k.mu.Lock()
	defer k.mu.Unlock()
	open := k.state.OpenOrdersOf(agentID)
	out := make([]orders.Order, len(open))
	for i, o := range open {
		out[i] = *o
	}
	return out
}

// BestBid returns the best bid price, or false if the bid side is empty.
func (k *Kernel) BestBid() (amount.Amount, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.BestBid()
}

// BestAsk returns the best ask price, or false if the ask side is empty.
func (k *Kernel) BestAsk() (amount.Amount, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.BestAsk()
}

// MidPrice returns (best_bid + best_ask) / 2, or zero if either side is
// empty.
func (k *Kernel) MidPrice() amount.Amount {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.MidPrice()
}

// Spread returns best_ask - best_bid, or zero if either side is empty.
func (k *Kernel) Spread() amount.Amount {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.Spread()
}

// BidDepth returns the top n aggregated bid levels (0 = all).
func (k *Kernel) BidDepth(n int) []world.DepthLevel {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.BidDepth(n)
}

// AskDepth returns the top n aggregated ask levels (0 = all).
func (k *Kernel) AskDepth(n int) []world.DepthLevel {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.AskDepth(n)
}

// RecentTrades returns the last n trades (n <= 0 means all).
func (k *Kernel) RecentTrades(n int) []orders.Trade {
	k.mu.Lock()
	defer k.mu.Unlock()
	trades := k.state.RecentTrades(n)
	out := make([]orders.Trade, len(trades))
	for i, t := range trades {
		out[i] = *t
	}
	return out
}

// ActiveAgentCount returns the number of active agents.
func (k *Kernel) ActiveAgentCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.ActiveAgentCount()
}

// BankruptAgentCount returns the number of bankrupt agents.
func (k *Kernel) BankruptAgentCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.BankruptAgentCount()
}

// Stats summarizes run-wide totals.
type Stats struct {
	CurrentTick       int64
	TotalVolume       amount.Amount
	TotalFees         amount.Amount
	ActiveAgents      int
	BankruptAgents    int
	TotalOrders       int
	EventCount        int
}

// Stats returns a snapshot of run-wide totals.
func (k *Kernel) Stats() Stats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return Stats{
		CurrentTick:    k.state.CurrentTick,
		TotalVolume:    k.state.TotalVolume,
		TotalFees:      k.state.TotalFees,
		ActiveAgents:   k.state.ActiveAgentCount(),
		BankruptAgents: k.state.BankruptAgentCount(),
		TotalOrders:    len(k.state.Orders),
		EventCount:     k.store.Count(),
	}
}

// VerifyChain recomputes the event hash chain from GENESIS and reports
// whether it is valid, and if not, the zero-based index of the first
// mismatch.
func (k *Kernel) VerifyChain() (valid bool, firstMismatch int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.store.VerifyChain()
}

// Events returns a snapshot of every event recorded so far.
func (k *Kernel) Events() []events.Event {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.store.All()
}

// EventsByTick returns a snapshot of events recorded during the given
// tick.
func (k *Kernel) EventsByTick(tickID int64) []events.Event {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.store.ByTick(tickID)
}

// EventsByAgent returns a snapshot of events associated with the given
// agent.
func (k *Kernel) EventsByAgent(agentID string) []events.Event {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.store.ByAgent(agentID)
}

// ExportEvents writes the event log as JSON, one event per line, in the
// format described on events.Store.Export.
func (k *Kernel) ExportEvents(w io.Writer) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.store.Export(w)
}

// Config returns the run's immutable configuration.
func (k *Kernel) Config() Config {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.Config
}

// Seed returns the run's PRNG seed.
func (k *Kernel) Seed() uint32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.Seed
}
