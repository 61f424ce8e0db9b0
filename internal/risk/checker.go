// Package risk implements the pre-trade placement validation the matching
// engine runs before an order ever touches the book.
//
// Checks run in a fixed order and the first failure wins — this mirrors
// the teacher's CheckResult{Passed, Reason, ChecksRun} ordered-check
// pattern in internal/risk/checker.go, with the teacher's position-limit,
// daily-volume and price-band checks (margin/leverage-adjacent concepts
// this simulator excludes) replaced by exactly the five checks a limit
// order placement requires here: price bounds, quantity bounds, agent
// existence/activity, and an upfront (non-escrowed) funds check.
package risk

import (
	"marketsim/internal/amount"
	"marketsim/internal/orders"
	"marketsim/internal/reason"
	"marketsim/internal/world"
)

// Checker validates order placements against the run's configured bounds.
type Checker struct {
	cfg world.Config
}

// NewChecker creates a checker bound to a run's configuration.
func NewChecker(cfg world.Config) *Checker {
	return &Checker{cfg: cfg}
}

// ValidatePlacement runs the placement validation steps in the contractual
// order and returns the first failing reason code, or "" if the order may
// proceed to matching.
//
// Price and quantity are assumed already parsed as Amount (malformed
// decimal strings are rejected one layer up, in matching.Engine's
// PlaceLimitOrder, as reason.InvalidAction). agent may be nil to represent "agent
// id not found".
func (c *Checker) ValidatePlacement(agent *world.Agent, side orders.Side, price, qty amount.Amount) reason.Code {
	if !price.IsPositive() || price.LessThan(c.cfg.MinPrice) || price.GreaterThan(c.cfg.MaxPrice) {
		return reason.InvalidPrice
	}
	if !qty.IsPositive() || qty.LessThan(c.cfg.MinQuantity) {
		return reason.InvalidQuantity
	}
	if agent == nil {
		return reason.InvalidAction
	}
	if agent.Status != world.AgentActive {
		return reason.AgentBankrupt
	}

	switch side {
	case orders.SideBid:
		cost := price.Mul(qty)
		if agent.Cash.LessThan(cost) {
			return reason.InsufficientFunds
		}
	case orders.SideAsk:
		if agent.Asset.LessThan(qty) {
			return reason.InsufficientFunds
		}
	}

	return ""
}
