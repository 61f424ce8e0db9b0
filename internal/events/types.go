// Package events implements the append-only, hash-chained event log that
// is the authoritative audit trail of a run: every observable state
// transition the kernel makes is witnessed here before it is considered to
// have happened.
//
// Event Sourcing Pattern:
// Instead of storing current state, we store every state change. Current
// state is a fold over the event stream (see kernel.Replay) — a crash, a
// dispute, or an external auditor can always reconstruct it from nothing
// but the ordered events and the GENESIS hash.
package events

import "time"

// Type identifies the kind of event. The set is closed to exactly the
// tags spec.md's tick controller emits.
type Type string

const (
	TypeRunCreated    Type = "RUN_CREATED"
	TypeRunStarted    Type = "RUN_STARTED"
	TypeRunStopped    Type = "RUN_STOPPED"
	TypeAgentCreated  Type = "AGENT_CREATED"
	TypeOrderPlaced   Type = "ORDER_PLACED"
	TypeOrderRejected Type = "ORDER_REJECTED"
	TypeOrderCancelled Type = "ORDER_CANCELLED"
	TypeTradeExecuted Type = "TRADE_EXECUTED"
	TypeBalanceUpdated Type = "BALANCE_UPDATED"
	TypeRateLimitHit  Type = "RATE_LIMIT_HIT"
	TypeDecayApplied  Type = "DECAY_APPLIED"
	TypeAgentBankrupt Type = "AGENT_BANKRUPT"
	TypeTickStart     Type = "TICK_START"
	TypeTickEnd       Type = "TICK_END"
)

// Event is one entry in the hash chain.
//
// RunID, TickID, Seq, Type, AgentID, Payload and PrevHash are the fields fed
// to canon.Hash (as canon.EventFields), and Hash is its result; CreatedAt is
// deliberately excluded from that input — it is informational only, per
// spec.md §4.3.
type Event struct {
	ID        int64
	RunID     string
	TickID    int64
	Seq       int64
	Type      Type
	AgentID   string
	Payload   map[string]interface{}
	PrevHash  string
	Hash      string
	CreatedAt time.Time
}
