// Package world implements the kernel-owned container of all simulation
// state: the run configuration, the deterministic id generator, agents and
// their secondary index, the order book, historical trades, and the
// running totals. Nothing outside internal/kernel may mutate this state;
// external callers only ever see query results, which are value copies.
//
// Grounded in the teacher's internal/orderbook.OrderBook (best bid/ask,
// spread, mid, depth queries) and internal/orders.Order/Trade shapes,
// generalized from a multi-symbol equities book to the single-instrument
// agent/asset model this simulator requires.
package world

import (
	"fmt"

	"github.com/google/uuid"

	"marketsim/internal/amount"
	"marketsim/internal/canon"
	"marketsim/internal/orderbook"
	"marketsim/internal/orders"
)

// AgentStatus is the lifecycle state of an agent.
type AgentStatus int

const (
	AgentActive AgentStatus = iota
	AgentBankrupt
	AgentInactive
)

func (s AgentStatus) String() string {
	switch s {
	case AgentActive:
		return "active"
	case AgentBankrupt:
		return "bankrupt"
	case AgentInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// Agent holds one participant's identity and balances.
type Agent struct {
	ID                string
	DisplayName       string
	APIKeyFingerprint string
	Cash              amount.Amount
	Asset             amount.Amount
	Status            AgentStatus
	ActionsThisTick   int
	BankruptAtTick    *int64
}

// Config is the immutable run configuration.
type Config struct {
	InitialCash        amount.Amount
	InitialAsset       amount.Amount
	TradingFeeBps      int64
	DecayRateBps       int64
	DecayIntervalTicks int64
	MaxActionsPerTick  int
	MinPrice           amount.Amount
	MaxPrice           amount.Amount
	MinQuantity        amount.Amount

	// InitialAllocationJitterBps, when positive, tells CreateAgent to draw
	// each new agent's initial cash and asset from InitialCash/InitialAsset
	// jittered by a uniform random offset in [-jitterBps, +jitterBps] basis
	// points, drawn from the run's seeded PRNG (spec.md §4.2's "randomized
	// initial allocations"). Zero disables jitter: every agent gets exactly
	// InitialCash/InitialAsset, as before this field existed.
	InitialAllocationJitterBps int64
}

// State is the kernel-owned world: agents, orders, trades, the order book,
// counters, and the id generator. It is never accessed concurrently; the
// kernel serializes every call that touches it.
type State struct {
	Config Config
	Seed   uint32

	idCounter uint64

	Agents              map[string]*Agent
	agentOrder          []string // insertion order, for deterministic sweeps
	agentsByFingerprint map[string]string

	Orders map[string]*orders.Order
	Trades []*orders.Trade
	Book   *orderbook.OrderBook

	CurrentTick int64
	OrderSeq    uint64
	TradeSeq    uint64

	TotalVolume amount.Amount
	TotalFees   amount.Amount
}

// New creates an empty world state for the given config and seed.
func New(cfg Config, seed uint32) *State {
	return &State{
		Config:              cfg,
		Seed:                seed,
		Agents:              make(map[string]*Agent),
		agentsByFingerprint: make(map[string]string),
		Orders:              make(map[string]*orders.Order),
		Book:                orderbook.NewOrderBook(),
		TotalVolume:         amount.Zero(),
		TotalFees:           amount.Zero(),
	}
}

// NextID produces a deterministic UUID-shaped id by hashing
// "{seed}-{counter}" and reshaping the first 16 digest bytes into the
// RFC4122 v4 layout. Because the only consumer of this generator is the
// kernel itself, the sequence of ids depends strictly on the sequence of
// calls — which is determined entirely by the ordered action log.
func (s *State) NextID() string {
	s.idCounter++
	digest := canon.SHA256Bytes([]byte(fmt.Sprintf("%d-%d", s.Seed, s.idCounter)))

	id, err := uuid.FromBytes(digest[:16])
	if err != nil {
		// digest[:16] is always exactly 16 bytes; FromBytes cannot fail.
		panic(err)
	}
	id.SetVersion(4)
	id.SetVariant(uuid.VariantRFC4122)
	return id.String()
}

// NextOrderSequence assigns the next globally monotonic order sequence
// number.
func (s *State) NextOrderSequence() uint64 {
	s.OrderSeq++
	return s.OrderSeq
}

// NextTradeSequence assigns the next globally monotonic trade sequence
// number. Trades have their own counter, separate from order sequences,
// since spec.md's uniqueness/monotonicity guarantee is scoped to orders,
// events, and receive sequences independently.
func (s *State) NextTradeSequence() uint64 {
	s.TradeSeq++
	return s.TradeSeq
}

// AddAgent registers a new agent and indexes it by API-key fingerprint.
func (s *State) AddAgent(a *Agent) {
	s.Agents[a.ID] = a
	s.agentOrder = append(s.agentOrder, a.ID)
	s.agentsByFingerprint[a.APIKeyFingerprint] = a.ID
}

// GetAgent returns the agent with the given id, or nil.
func (s *State) GetAgent(id string) *Agent {
	return s.Agents[id]
}

// GetAgentByFingerprint looks up an agent by its API-key fingerprint.
func (s *State) GetAgentByFingerprint(fingerprint string) *Agent {
	id, ok := s.agentsByFingerprint[fingerprint]
	if !ok {
		return nil
	}
	return s.Agents[id]
}

// AgentsInInsertionOrder returns agent ids in the order they were created,
// the order the decay sweep and bankruptcy sweep must iterate in so that
// output never depends on Go's randomized map iteration.
func (s *State) AgentsInInsertionOrder() []string {
	out := make([]string, len(s.agentOrder))
	copy(out, s.agentOrder)
	return out
}

// ActiveAgentCount returns the number of agents with status active.
func (s *State) ActiveAgentCount() int {
	n := 0
	for _, id := range s.agentOrder {
		if s.Agents[id].Status == AgentActive {
			n++
		}
	}
	return n
}

// BankruptAgentCount returns the number of agents with status bankrupt.
func (s *State) BankruptAgentCount() int {
	n := 0
	for _, id := range s.agentOrder {
		if s.Agents[id].Status == AgentBankrupt {
			n++
		}
	}
	return n
}

// OpenOrdersOf returns the open orders belonging to an agent, in no
// particular guaranteed order beyond what callers should treat as a
// snapshot.
func (s *State) OpenOrdersOf(agentID string) []*orders.Order {
	var result []*orders.Order
	for _, o := range s.Orders {
		if o.AgentID == agentID && o.Status == orders.StatusOpen {
			result = append(result, o)
		}
	}
	return result
}

// BestBid returns the current best bid price, or the zero Amount with ok
// false if the bid side is empty.
func (s *State) BestBid() (amount.Amount, bool) {
	level := s.Book.GetBestBid()
	if level == nil {
		return amount.Zero(), false
	}
	return level.Price, true
}

// BestAsk returns the current best ask price, or the zero Amount with ok
// false if the ask side is empty.
func (s *State) BestAsk() (amount.Amount, bool) {
	level := s.Book.GetBestAsk()
	if level == nil {
		return amount.Zero(), false
	}
	return level.Price, true
}

// MidPrice returns (best_bid + best_ask) / 2, or zero if either side is
// empty.
func (s *State) MidPrice() amount.Amount {
	return s.Book.GetMidPrice()
}

// Spread returns best_ask - best_bid, or zero if either side is empty.
func (s *State) Spread() amount.Amount {
	return s.Book.GetSpread()
}

// DepthLevel is a read-only snapshot of one aggregated price level.
type DepthLevel struct {
	Price    amount.Amount
	Quantity amount.Amount
	Orders   int
}

// BidDepth returns the top N aggregated bid levels (0 = all), recomputed
// from the live orders on every call.
func (s *State) BidDepth(n int) []DepthLevel {
	return snapshotLevels(s.Book.GetBidDepth(n))
}

// AskDepth returns the top N aggregated ask levels (0 = all), recomputed
// from the live orders on every call.
func (s *State) AskDepth(n int) []DepthLevel {
	return snapshotLevels(s.Book.GetAskDepth(n))
}

func snapshotLevels(levels []*orderbook.PriceLevel) []DepthLevel {
	out := make([]DepthLevel, len(levels))
	for i, l := range levels {
		out[i] = DepthLevel{Price: l.Price, Quantity: l.TotalQty, Orders: l.Count()}
	}
	return out
}

// RecentTrades returns the last n trades in execution order (n <= 0 means
// all trades).
func (s *State) RecentTrades(n int) []*orders.Trade {
	if n <= 0 || n >= len(s.Trades) {
		out := make([]*orders.Trade, len(s.Trades))
		copy(out, s.Trades)
		return out
	}
	out := make([]*orders.Trade, n)
	copy(out, s.Trades[len(s.Trades)-n:])
	return out
}
