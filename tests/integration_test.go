// Package tests exercises the kernel end-to-end: agent onboarding, action
// submission, tick advancement, matching outcomes, the hash chain, and
// replay, the way the teacher's tests/integration_test.go drives the whole
// engine stack through its public surface rather than unit-testing
// individual packages in isolation.
package tests

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketsim/internal/amount"
	"marketsim/internal/events"
	"marketsim/internal/kernel"
	"marketsim/internal/orders"
)

func scenarioConfig() kernel.Config {
	return kernel.Config{
		InitialCash:        amount.MustParse("10000.00"),
		InitialAsset:       amount.MustParse("100.00"),
		TradingFeeBps:      10,
		DecayRateBps:       0,
		DecayIntervalTicks: 0,
		MaxActionsPerTick:  10,
		MinPrice:           amount.MustParse("0.00000001"),
		MaxPrice:           amount.MustParse("1000000.00"),
		MinQuantity:        amount.MustParse("0.00000001"),
	}
}

func newTestKernel(t *testing.T, cfg kernel.Config, seed uint32) *kernel.Kernel {
	t.Helper()
	k := kernel.New(cfg, seed, zap.NewNop())
	require.NoError(t, k.Start())
	return k
}

func newAgent(t *testing.T, k *kernel.Kernel, name string) (id, apiKey string) {
	t.Helper()
	id, apiKey, err := k.CreateAgent(name)
	require.NoError(t, err)
	return id, apiKey
}

func submitPlace(t *testing.T, k *kernel.Kernel, agentID, side string, price, qty string) {
	t.Helper()
	s := orders.SideBid
	if side == "ask" {
		s = orders.SideAsk
	}
	res := k.SubmitActions(agentID, []kernel.Action{kernel.PlaceLimitOrder(s, price, qty)}, "")
	require.Len(t, res.Results, 1)
	assert.Equal(t, kernel.StatusAccepted, res.Results[0].Status)
}

// --- Scenario 1: simple cross ---------------------------------------------

func TestScenario_SimpleCross(t *testing.T) {
	k := newTestKernel(t, scenarioConfig(), 1)
	agentA, _ := newAgent(t, k, "A")
	agentB, _ := newAgent(t, k, "B")

	submitPlace(t, k, agentA, "ask", "100.00000000", "10.00000000")
	submitPlace(t, k, agentB, "bid", "100.00000000", "10.00000000")

	k.AdvanceTick()

	trades := k.RecentTrades(0)
	require.Len(t, trades, 1)
	trade := trades[0]
	assert.Equal(t, "100.00000000", trade.Price.String())
	assert.Equal(t, "10.00000000", trade.Quantity.String())
	assert.Equal(t, "1.00000000", trade.TotalFee.String())

	a, ok := k.Agent(agentA)
	require.True(t, ok)
	assert.Equal(t, "10999.50000000", a.Cash.String())
	assert.Equal(t, "90.00000000", a.Asset.String())

	b, ok := k.Agent(agentB)
	require.True(t, ok)
	assert.Equal(t, "8999.50000000", b.Cash.String())
	assert.Equal(t, "110.00000000", b.Asset.String())
}

// --- Scenario 2: price improvement -----------------------------------------

func TestScenario_PriceImprovement(t *testing.T) {
	k := newTestKernel(t, scenarioConfig(), 2)
	agentA, _ := newAgent(t, k, "A")
	agentB, _ := newAgent(t, k, "B")

	submitPlace(t, k, agentA, "ask", "99.00000000", "10.00000000")
	submitPlace(t, k, agentB, "bid", "100.00000000", "10.00000000")

	k.AdvanceTick()

	trades := k.RecentTrades(0)
	require.Len(t, trades, 1)
	assert.Equal(t, "99.00000000", trades[0].Price.String(), "resting order's price wins, not the aggressor's limit")
}

// --- Scenario 3: time priority ----------------------------------------------

func TestScenario_TimePriority(t *testing.T) {
	k := newTestKernel(t, scenarioConfig(), 3)
	agentA, _ := newAgent(t, k, "A")
	agentC, _ := newAgent(t, k, "C")
	agentB, _ := newAgent(t, k, "B")

	submitPlace(t, k, agentA, "ask", "100.00000000", "5.00000000")
	submitPlace(t, k, agentC, "ask", "100.00000000", "5.00000000")
	submitPlace(t, k, agentB, "bid", "100.00000000", "3.00000000")

	k.AdvanceTick()

	trades := k.RecentTrades(0)
	require.Len(t, trades, 1)
	assert.Equal(t, "3.00000000", trades[0].Quantity.String())
	assert.Equal(t, agentA, trades[0].SellerAgentID, "earlier resting order at the same price fills first")

	aOrders := k.OpenOrders(agentA)
	require.Len(t, aOrders, 1)
	assert.Equal(t, "3.00000000", aOrders[0].FilledQuantity.String())
	assert.Equal(t, orders.StatusOpen, aOrders[0].Status)

	cOrders := k.OpenOrders(agentC)
	require.Len(t, cOrders, 1)
	assert.True(t, cOrders[0].FilledQuantity.IsZero())
}

// --- Scenario 4: partial ladder ----------------------------------------------

func TestScenario_PartialLadder(t *testing.T) {
	k := newTestKernel(t, scenarioConfig(), 4)
	agentA, _ := newAgent(t, k, "A")
	agentC, _ := newAgent(t, k, "C")
	agentB, _ := newAgent(t, k, "B")

	submitPlace(t, k, agentA, "ask", "100.00000000", "5.00000000")
	submitPlace(t, k, agentC, "ask", "101.00000000", "5.00000000")
	submitPlace(t, k, agentB, "bid", "101.00000000", "8.00000000")

	k.AdvanceTick()

	trades := k.RecentTrades(0)
	require.Len(t, trades, 2)
	assert.Equal(t, "100.00000000", trades[0].Price.String())
	assert.Equal(t, "5.00000000", trades[0].Quantity.String())
	assert.Equal(t, "101.00000000", trades[1].Price.String())
	assert.Equal(t, "3.00000000", trades[1].Quantity.String())
}

// --- Scenario 5: rate limit ---------------------------------------------------

func TestScenario_RateLimit(t *testing.T) {
	cfg := scenarioConfig()
	cfg.MaxActionsPerTick = 2
	k := newTestKernel(t, cfg, 5)
	agentA, _ := newAgent(t, k, "A")

	res := k.SubmitActions(agentA, []kernel.Action{
		kernel.PlaceLimitOrder(orders.SideBid, "10.00000000", "1.00000000"),
		kernel.PlaceLimitOrder(orders.SideBid, "10.00000000", "1.00000000"),
		kernel.PlaceLimitOrder(orders.SideBid, "10.00000000", "1.00000000"),
	}, "")

	require.Len(t, res.Results, 3)
	assert.Equal(t, kernel.StatusAccepted, res.Results[0].Status)
	assert.Equal(t, kernel.StatusAccepted, res.Results[1].Status)
	assert.Equal(t, kernel.StatusRejected, res.Results[2].Status)
	assert.Equal(t, "RATE_LIMITED", res.Results[2].ReasonCode)

	rateLimitEvents := k.Events()
	found := false
	for _, ev := range rateLimitEvents {
		if ev.Type == events.TypeRateLimitHit {
			found = true
		}
	}
	assert.True(t, found, "a RATE_LIMIT_HIT event must be emitted")
}

// --- Scenario 6: bankruptcy cascade -------------------------------------------

func TestScenario_BankruptcyCascade(t *testing.T) {
	cfg := scenarioConfig()
	cfg.TradingFeeBps = 0
	cfg.DecayRateBps = 20000 // 200% of cash per interval: a rate at or below 100% can never take positive cash below zero, so a rate above that is what actually drives cash negative
	cfg.DecayIntervalTicks = 1
	k := newTestKernel(t, cfg, 6)
	agentA, _ := newAgent(t, k, "A")

	submitPlace(t, k, agentA, "bid", "10.00000000", "1.00000000")
	k.AdvanceTick() // tick 0: decay interval is skipped on tick 0 by design, order rests

	require.NotEmpty(t, k.OpenOrders(agentA), "resting order must still be open going into the decay tick")

	k.AdvanceTick() // tick 1: decay applies at 200%, driving cash negative

	a, ok := k.Agent(agentA)
	require.True(t, ok)
	assert.Equal(t, "bankrupt", a.Status)
	require.NotNil(t, a.BankruptAtTick)
	assert.Equal(t, int64(1), *a.BankruptAtTick)
	assert.Empty(t, k.OpenOrders(agentA), "the bankruptcy sweep must cancel all of the agent's open orders")

	var sawBankrupt bool
	for _, ev := range k.EventsByAgent(agentA) {
		if ev.Type == events.TypeAgentBankrupt {
			sawBankrupt = true
		}
	}
	assert.True(t, sawBankrupt, "AGENT_BANKRUPT must be emitted for the swept agent")
}

// --- Invariants ----------------------------------------------------------

func TestInvariant_CashAndAssetConservation(t *testing.T) {
	k := newTestKernel(t, scenarioConfig(), 42)
	agentA, _ := newAgent(t, k, "A")
	agentB, _ := newAgent(t, k, "B")

	submitPlace(t, k, agentA, "ask", "50.00000000", "20.00000000")
	submitPlace(t, k, agentB, "bid", "55.00000000", "20.00000000")
	k.AdvanceTick()

	trades := k.RecentTrades(0)
	require.Len(t, trades, 1)
	trade := trades[0]

	tradeValue := trade.Price.Mul(trade.Quantity)
	sellerFee := trade.TotalFee.Div(amount.FromInt64(2))
	buyerFee := trade.TotalFee.Sub(sellerFee)
	buyerCashDelta := tradeValue.Add(buyerFee).Neg()
	sellerCashDelta := tradeValue.Sub(sellerFee)

	assert.True(t, buyerCashDelta.Add(sellerCashDelta).Add(trade.TotalFee).IsZero(),
		"buyer_cash_delta + seller_cash_delta + fee_total must be zero")
}

func TestInvariant_OrderFillBounds(t *testing.T) {
	k := newTestKernel(t, scenarioConfig(), 43)
	agentA, _ := newAgent(t, k, "A")
	agentB, _ := newAgent(t, k, "B")

	submitPlace(t, k, agentA, "ask", "10.00000000", "5.00000000")
	submitPlace(t, k, agentB, "bid", "10.00000000", "3.00000000")
	k.AdvanceTick()

	for _, o := range k.OpenOrders(agentA) {
		assert.False(t, o.FilledQuantity.GreaterThan(o.Quantity))
		assert.Equal(t, o.Status == orders.StatusFilled, o.FilledQuantity.Equal(o.Quantity))
	}
}

func TestInvariant_HashChainVerifies(t *testing.T) {
	k := newTestKernel(t, scenarioConfig(), 44)
	agentA, _ := newAgent(t, k, "A")
	submitPlace(t, k, agentA, "bid", "10.00000000", "1.00000000")
	k.AdvanceTick()
	k.AdvanceTick()

	valid, mismatch := k.VerifyChain()
	assert.True(t, valid)
	assert.Equal(t, -1, mismatch)
}

func TestInvariant_SequencesStrictlyIncreasing(t *testing.T) {
	k := newTestKernel(t, scenarioConfig(), 45)
	agentA, _ := newAgent(t, k, "A")
	submitPlace(t, k, agentA, "bid", "10.00000000", "1.00000000")
	submitPlace(t, k, agentA, "bid", "11.00000000", "1.00000000")
	k.AdvanceTick()

	evs := k.Events()
	var lastSeq int64 = -1
	for _, ev := range evs {
		assert.Greater(t, ev.Seq, lastSeq)
		lastSeq = ev.Seq
	}
}

// --- Round-trip / idempotence ----------------------------------------------

func TestIdempotence_DuplicateKeyReturnsSameResultNoNewEvents(t *testing.T) {
	k := newTestKernel(t, scenarioConfig(), 7)
	agentA, _ := newAgent(t, k, "A")

	action := []kernel.Action{kernel.PlaceLimitOrder(orders.SideBid, "10.00000000", "1.00000000")}

	first := k.SubmitActions(agentA, action, "dup-key")
	countAfterFirst := len(k.Events())

	second := k.SubmitActions(agentA, action, "dup-key")
	countAfterSecond := len(k.Events())

	assert.Equal(t, first, second)
	assert.Equal(t, countAfterFirst, countAfterSecond, "a repeated idempotency key must add zero new events")
}

func TestRoundTrip_IdenticalConfigSeedActionsYieldIdenticalLastHash(t *testing.T) {
	run := func(seed uint32) string {
		k := kernel.New(scenarioConfig(), seed, zap.NewNop())
		require.NoError(t, k.Start())
		agentA, _ := newAgent(t, k, "A")
		agentB, _ := newAgent(t, k, "B")
		submitPlace(t, k, agentA, "ask", "100.00000000", "10.00000000")
		submitPlace(t, k, agentB, "bid", "100.00000000", "10.00000000")
		k.AdvanceTick()
		evs := k.Events()
		return evs[len(evs)-1].Hash
	}

	hash1 := run(99)
	hash2 := run(99)
	assert.Equal(t, hash1, hash2)
}

func TestReplay_ReconstructsEquivalentProjections(t *testing.T) {
	cfg := scenarioConfig()
	k := kernel.New(cfg, 8, zap.NewNop())
	require.NoError(t, k.Start())
	agentA, _ := newAgent(t, k, "A")
	agentB, _ := newAgent(t, k, "B")
	submitPlace(t, k, agentA, "ask", "100.00000000", "10.00000000")
	submitPlace(t, k, agentB, "bid", "100.00000000", "10.00000000")
	k.AdvanceTick()
	submitPlace(t, k, agentA, "ask", "105.00000000", "5.00000000")
	k.AdvanceTick()

	originalA, _ := k.Agent(agentA)
	originalB, _ := k.Agent(agentB)

	replayed, err := kernel.Replay(cfg, 8, k.Events())
	require.NoError(t, err)

	replayedA := replayed.GetAgent(agentA)
	replayedB := replayed.GetAgent(agentB)
	require.NotNil(t, replayedA)
	require.NotNil(t, replayedB)

	assert.Equal(t, originalA.Cash.String(), replayedA.Cash.String())
	assert.Equal(t, originalA.Asset.String(), replayedA.Asset.String())
	assert.Equal(t, originalB.Cash.String(), replayedB.Cash.String())
	assert.Equal(t, originalB.Asset.String(), replayedB.Asset.String())

	origBid, origOK := k.BestBid()
	replayBid, replayOK := replayed.BestBid()
	assert.Equal(t, origOK, replayOK)
	if origOK {
		assert.Equal(t, origBid.String(), replayBid.String())
	}
}

func TestReplay_ReconstructsStateAfterDecay(t *testing.T) {
	cfg := scenarioConfig()
	cfg.DecayRateBps = 500
	cfg.DecayIntervalTicks = 1
	k := kernel.New(cfg, 15, zap.NewNop())
	require.NoError(t, k.Start())
	agentA, _ := newAgent(t, k, "A")

	k.AdvanceTick() // tick 0: decay interval skipped by design
	k.AdvanceTick() // tick 1: decay applies, no matching trade involved

	original, ok := k.Agent(agentA)
	require.True(t, ok)
	require.NotEqual(t, cfg.InitialCash.String(), original.Cash.String(), "decay must actually have moved cash")

	replayed, err := kernel.Replay(cfg, 15, k.Events())
	require.NoError(t, err)

	replayedAgent := replayed.GetAgent(agentA)
	require.NotNil(t, replayedAgent)
	assert.Equal(t, original.Cash.String(), replayedAgent.Cash.String(),
		"DECAY_APPLIED must be folded into replayed cash even when the agent never goes bankrupt")
}

func TestCreateAgent_AllocationJitterIsDeterministicAndReplays(t *testing.T) {
	cfg := scenarioConfig()
	cfg.InitialAllocationJitterBps = 2000 // +/- 20%

	run := func() (cashA, assetA string, evs []events.Event) {
		k := kernel.New(cfg, 77, zap.NewNop())
		require.NoError(t, k.Start())
		agentA, _ := newAgent(t, k, "A")
		a, ok := k.Agent(agentA)
		require.True(t, ok)
		return a.Cash.String(), a.Asset.String(), k.Events()
	}

	cash1, asset1, _ := run()
	cash2, asset2, evs := run()
	assert.Equal(t, cash1, cash2, "the same seed must draw the same jitter")
	assert.Equal(t, asset1, asset2)

	var agentID string
	for _, ev := range evs {
		if ev.Type == events.TypeAgentCreated {
			agentID = ev.AgentID
		}
	}
	require.NotEmpty(t, agentID)

	replayed, err := kernel.Replay(cfg, 77, evs)
	require.NoError(t, err)
	replayedAgent := replayed.GetAgent(agentID)
	require.NotNil(t, replayedAgent)
	assert.Equal(t, cash2, replayedAgent.Cash.String())
	assert.Equal(t, asset2, replayedAgent.Asset.String())
}

// --- Boundary behaviors ------------------------------------------------------

func TestBoundary_EmptyBookAcceptsFirstOrderWithoutMatching(t *testing.T) {
	k := newTestKernel(t, scenarioConfig(), 9)
	agentA, _ := newAgent(t, k, "A")
	submitPlace(t, k, agentA, "bid", "10.00000000", "1.00000000")
	k.AdvanceTick()

	assert.Empty(t, k.RecentTrades(0))
	bid, ok := k.BestBid()
	require.True(t, ok)
	assert.Equal(t, "10.00000000", bid.String())
}

func TestBoundary_BidAtExactlyBestAskMatchesAtAskPrice(t *testing.T) {
	k := newTestKernel(t, scenarioConfig(), 10)
	agentA, _ := newAgent(t, k, "A")
	agentB, _ := newAgent(t, k, "B")
	submitPlace(t, k, agentA, "ask", "100.00000000", "1.00000000")
	submitPlace(t, k, agentB, "bid", "100.00000000", "1.00000000")
	k.AdvanceTick()

	trades := k.RecentTrades(0)
	require.Len(t, trades, 1)
	assert.Equal(t, "100.00000000", trades[0].Price.String())
}

func TestBoundary_DecayIsNoOpOnNonPositiveCash(t *testing.T) {
	cfg := scenarioConfig()
	cfg.InitialCash = amount.Zero()
	cfg.DecayRateBps = 500
	cfg.DecayIntervalTicks = 1
	k := newTestKernel(t, cfg, 11)
	_, _ = newAgent(t, k, "A")
	k.AdvanceTick() // tick 0: decay interval is always skipped here by design
	k.AdvanceTick() // tick 1: decay interval fires; must be a no-op on zero cash

	agents := k.ActiveAgentCount()
	assert.Equal(t, 1, agents, "a zero-cash agent must not be pushed bankrupt by a no-op decay")
}

func TestBoundary_RunNotActiveRejectsSubmission(t *testing.T) {
	k := kernel.New(scenarioConfig(), 12, zap.NewNop())
	agentA, _, err := k.CreateAgent("A")
	require.NoError(t, err)

	res := k.SubmitActions(agentA, []kernel.Action{
		kernel.PlaceLimitOrder(orders.SideBid, "10.00000000", "1.00000000"),
	}, "")

	require.Len(t, res.Results, 1)
	assert.Equal(t, kernel.StatusRejected, res.Results[0].Status)
	assert.Equal(t, "RUN_NOT_ACTIVE", res.Results[0].ReasonCode)
}

func TestBoundary_ExportedEventsAreValidJSONLines(t *testing.T) {
	k := newTestKernel(t, scenarioConfig(), 13)
	agentA, _ := newAgent(t, k, "A")
	submitPlace(t, k, agentA, "bid", "10.00000000", "1.00000000")
	k.AdvanceTick()

	var buf bytes.Buffer
	require.NoError(t, k.ExportEvents(&buf))
	assert.NotZero(t, buf.Len())
	for _, line := range bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n")) {
		assert.True(t, json.Valid(line), "export line is not valid JSON: %s", line)
	}
}

func TestCancelOrder_RemovesFromBookNoBalanceChange(t *testing.T) {
	k := newTestKernel(t, scenarioConfig(), 14)
	agentA, _ := newAgent(t, k, "A")
	before, _ := k.Agent(agentA)

	k.SubmitActions(agentA, []kernel.Action{kernel.PlaceLimitOrder(orders.SideBid, "10.00000000", "1.00000000")}, "")
	k.AdvanceTick()

	open := k.OpenOrders(agentA)
	require.Len(t, open, 1)

	k.SubmitActions(agentA, []kernel.Action{kernel.CancelOrder(open[0].ID)}, "")
	k.AdvanceTick()

	assert.Empty(t, k.OpenOrders(agentA))
	after, _ := k.Agent(agentA)
	assert.Equal(t, before.Cash.String(), after.Cash.String(), "cancellation never mutates balances")
}
