// Package reason holds the closed set of rejection reason codes shared by
// validation, matching, and the tick controller, so every layer that can
// reject an action agrees on the same vocabulary.
package reason

// Code is a rejection reason code. The set is closed: no caller may invent
// a new one.
type Code string

const (
	InsufficientFunds       Code = "INSUFFICIENT_FUNDS"
	InvalidPrice            Code = "INVALID_PRICE"
	InvalidQuantity         Code = "INVALID_QUANTITY"
	OrderNotFound           Code = "ORDER_NOT_FOUND"
	OrderNotOwned           Code = "ORDER_NOT_OWNED"
	AgentBankrupt           Code = "AGENT_BANKRUPT"
	RateLimited             Code = "RATE_LIMITED"
	InvalidAction           Code = "INVALID_ACTION"
	RunNotActive            Code = "RUN_NOT_ACTIVE"
	DuplicateIdempotencyKey Code = "DUPLICATE_IDEMPOTENCY_KEY" // reserved, unused
)
