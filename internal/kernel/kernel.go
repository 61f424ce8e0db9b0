// Package kernel implements the tick controller: the single-owner actor
// that exclusively mutates world state and the event store, in accordance
// with spec.md §4.7/§5. Every externally visible operation — agent
// creation, action submission, tick advancement, and every read-only
// query — is serialized behind one mutex, so "the kernel is a
// single-threaded cooperative actor" holds regardless of how many
// goroutines call into it concurrently.
//
// Grounded in the teacher's cmd/server/main.go wiring (event log + engine
// + risk checker composed into one owning Server) and in
// uhyunpark-hyperlicked's pkg/app/perp/app.go FinalizeBlock — drain a
// batch of pending actions in receive order, dispatch each through the
// matching engine, emit one event per observable change, then a single
// end-of-batch marker.
package kernel

import (
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"

	"go.uber.org/zap"

	"marketsim/internal/canon"
	"marketsim/internal/disruptor"
	"marketsim/internal/events"
	"marketsim/internal/idempotency"
	"marketsim/internal/matching"
	"marketsim/internal/orders"
	"marketsim/internal/reason"
	"marketsim/internal/risk"
	"marketsim/internal/rng"
	"marketsim/internal/world"
)

// Config is the immutable run configuration, per spec.md §3.
type Config = world.Config

// Status is the run's lifecycle state.
type Status int

const (
	StatusCreated Status = iota
	StatusRunning
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// apiKeyPrefix tags every plaintext API key so holders of a key (and
// log scrapers) can recognize its shape at a glance.
const apiKeyPrefix = "msk_"

// idempotencyFlushEvery is the tick-count flush bound documented in
// spec.md §4.7/§9 — a pragmatic default, not a correctness requirement.
const idempotencyFlushEvery = 100

type pendingAction struct {
	AgentID     string
	Action      Action
	ReceiveSeq  uint64
	ActionIndex int
}

// Kernel is the run's single-owner actor.
type Kernel struct {
	mu sync.Mutex

	runID  string
	status Status

	state   *world.State
	store   *events.Store
	checker *risk.Checker
	engine  *matching.Engine
	idem    *idempotency.Cache
	seq     *disruptor.Sequencer
	logger  *zap.Logger
	rngGen  *rng.Mulberry32

	pending     []pendingAction
	tickCounter int64
}

// New constructs a kernel in the "created" lifecycle state, emits
// RUN_CREATED, and returns it. logger may be nil, in which case a no-op
// logger is used.
func New(cfg Config, seed uint32, logger *zap.Logger) *Kernel {
	if logger == nil {
		logger = zap.NewNop()
	}
	state := world.New(cfg, seed)
	runID := state.NextID()
	store := events.NewStore(runID)
	checker := risk.NewChecker(cfg)

	k := &Kernel{
		runID:   runID,
		status:  StatusCreated,
		state:   state,
		store:   store,
		checker: checker,
		engine:  matching.NewEngine(state, checker),
		idem:    idempotency.New(),
		seq:     disruptor.NewSequencer(),
		logger:  logger,
		rngGen:  rng.New(seed),
	}

	store.Append(0, events.TypeRunCreated, "", map[string]interface{}{
		"run_id":                        runID,
		"seed":                          uint64(seed),
		"initial_cash":                  cfg.InitialCash.String(),
		"initial_asset":                 cfg.InitialAsset.String(),
		"trading_fee_bps":               cfg.TradingFeeBps,
		"decay_rate_bps":                cfg.DecayRateBps,
		"decay_interval_ticks":          cfg.DecayIntervalTicks,
		"max_actions_per_tick":          int64(cfg.MaxActionsPerTick),
		"min_price":                     cfg.MinPrice.String(),
		"max_price":                     cfg.MaxPrice.String(),
		"min_quantity":                  cfg.MinQuantity.String(),
		"initial_allocation_jitter_bps": cfg.InitialAllocationJitterBps,
	})

	return k
}

// RunID returns the run's identifier.
func (k *Kernel) RunID() string { return k.runID }

// Status returns the current lifecycle state.
func (k *Kernel) Status() Status {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.status
}

// CurrentTick returns the tick that is currently accumulating actions.
func (k *Kernel) CurrentTick() int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.CurrentTick
}

// Start transitions created -> running and emits RUN_STARTED.
func (k *Kernel) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.status != StatusCreated {
		return ErrAlreadyRunning
	}
	k.status = StatusRunning
	k.store.Append(k.state.CurrentTick, events.TypeRunStarted, "", nil)
	return nil
}

// Stop transitions running -> stopped and emits RUN_STOPPED. Once stopped,
// action submission is disabled irreversibly.
func (k *Kernel) Stop(reasonText string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.status != StatusRunning {
		return ErrNotRunning
	}
	k.status = StatusStopped
	k.store.Append(k.state.CurrentTick, events.TypeRunStopped, "", map[string]interface{}{
		"reason": reasonText,
	})
	return nil
}

// CreateAgent registers a new agent with the run's configured initial
// balances, generates an opaque API key, stores only its fingerprint, and
// emits AGENT_CREATED. The plaintext key is returned exactly once and
// never stored.
//
// When Config.InitialAllocationJitterBps is positive, the initial cash and
// asset are each jittered by a uniform draw from the run's seeded PRNG
// (spec.md §4.2's "randomized initial allocations") rather than handed out
// flat; the actual amounts are recorded on AGENT_CREATED, which is what
// kernel.Replay reconstructs from, so the jitter draw itself never needs
// to be replayed.
func (k *Kernel) CreateAgent(displayName string) (agentID string, apiKey string, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	apiKey, err = generateAPIKey()
	if err != nil {
		return "", "", err
	}
	fingerprint := canon.SHA256Hex([]byte(apiKey))

	cash, asset := k.state.Config.InitialCash, k.state.Config.InitialAsset
	if jitter := k.state.Config.InitialAllocationJitterBps; jitter > 0 {
		cash = cash.Add(cash.MulBps(k.rngGen.IntRange(-jitter, jitter)))
		asset = asset.Add(asset.MulBps(k.rngGen.IntRange(-jitter, jitter)))
	}

	agent := &world.Agent{
		ID:                k.state.NextID(),
		DisplayName:       displayName,
		APIKeyFingerprint: fingerprint,
		Cash:              cash,
		Asset:             asset,
		Status:            world.AgentActive,
	}
	k.state.AddAgent(agent)

	k.store.Append(k.state.CurrentTick, events.TypeAgentCreated, agent.ID, map[string]interface{}{
		"display_name":  displayName,
		"initial_cash":  agent.Cash.String(),
		"initial_asset": agent.Asset.String(),
	})

	return agent.ID, apiKey, nil
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return apiKeyPrefix + hex.EncodeToString(buf), nil
}

// SubmitActions implements spec.md §4.7's action intake contract.
func (k *Kernel) SubmitActions(agentID string, actions []Action, idempotencyKey string) *SubmitResult {
	k.mu.Lock()
	defer k.mu.Unlock()

	if cached, ok := k.idem.Get(idempotencyKey); ok {
		return cached.(*SubmitResult)
	}

	if k.status != StatusRunning {
		res := singleRejection(k.state.CurrentTick, reason.RunNotActive, "run is not active")
		k.idem.Set(idempotencyKey, res)
		return res
	}

	agent := k.state.GetAgent(agentID)
	if agent != nil && agent.Status == world.AgentBankrupt {
		res := singleRejection(k.state.CurrentTick, reason.AgentBankrupt, "agent is bankrupt")
		k.idem.Set(idempotencyKey, res)
		return res
	}

	results := make([]ActionResult, 0, len(actions))
	for i, act := range actions {
		if agent == nil {
			results = append(results, ActionResult{
				ActionIndex: i,
				Status:      StatusRejected,
				ReasonCode:  string(reason.InvalidAction),
				Message:     "unknown agent",
			})
			continue
		}

		if agent.ActionsThisTick >= k.state.Config.MaxActionsPerTick {
			k.store.Append(k.state.CurrentTick, events.TypeRateLimitHit, agentID, map[string]interface{}{
				"action_index": int64(i),
			})
			results = append(results, ActionResult{
				ActionIndex: i,
				Status:      StatusRejected,
				ReasonCode:  string(reason.RateLimited),
				Message:     "max actions per tick exceeded",
			})
			continue
		}

		recvSeq := k.seq.Next()
		k.pending = append(k.pending, pendingAction{
			AgentID:     agentID,
			Action:      act,
			ReceiveSeq:  recvSeq,
			ActionIndex: i,
		})
		agent.ActionsThisTick++
		results = append(results, ActionResult{ActionIndex: i, Status: StatusAccepted})
	}

	res := &SubmitResult{TickID: k.state.CurrentTick, Results: results}
	k.idem.Set(idempotencyKey, res)
	return res
}

func singleRejection(tick int64, code reason.Code, message string) *SubmitResult {
	return &SubmitResult{
		TickID: tick,
		Results: []ActionResult{{
			ActionIndex: 0,
			Status:      StatusRejected,
			ReasonCode:  string(code),
			Message:     message,
		}},
	}
}

// AdvanceTick implements spec.md §4.7 steps 1-9. It runs synchronously to
// completion; no operation inside it suspends or is cancellable.
func (k *Kernel) AdvanceTick() {
	k.mu.Lock()
	defer k.mu.Unlock()

	tickID := k.state.CurrentTick
	k.store.Append(tickID, events.TypeTickStart, "", map[string]interface{}{"tick_id": tickID})

	for _, id := range k.state.AgentsInInsertionOrder() {
		k.state.Agents[id].ActionsThisTick = 0
	}

	queue := make([]pendingAction, len(k.pending))
	copy(queue, k.pending)
	sort.SliceStable(queue, func(i, j int) bool { return queue[i].ReceiveSeq < queue[j].ReceiveSeq })

	ordersProcessed := 0
	tradesExecuted := 0

	for _, pa := range queue {
		ordersProcessed++
		switch pa.Action.Kind {
		case ActionPlaceLimitOrder:
			k.processPlacement(tickID, pa, &tradesExecuted)
		case ActionCancelOrder:
			k.processCancel(tickID, pa)
		}
	}
	k.pending = k.pending[:0]

	k.applyDecay(tickID)
	k.sweepBankruptcies(tickID)

	k.store.Append(tickID, events.TypeTickEnd, "", map[string]interface{}{
		"tick_id":          tickID,
		"orders_processed": int64(ordersProcessed),
		"trades_executed":  int64(tradesExecuted),
	})

	k.logger.Info("tick_end",
		zap.Int64("tick_id", tickID),
		zap.Int("orders_processed", ordersProcessed),
		zap.Int("trades_executed", tradesExecuted))

	k.state.CurrentTick++
	k.tickCounter++
	if k.tickCounter%idempotencyFlushEvery == 0 {
		k.idem.Flush()
	}
}

func (k *Kernel) processPlacement(tickID int64, pa pendingAction, tradesExecuted *int) {
	result, code := k.engine.PlaceLimitOrder(pa.AgentID, pa.Action.Side, pa.Action.Price, pa.Action.Quantity, k.state.Config.TradingFeeBps)
	if code != "" {
		k.store.Append(tickID, events.TypeOrderRejected, pa.AgentID, map[string]interface{}{
			"reason_code": string(code),
			"side":        pa.Action.Side.String(),
			"price":       pa.Action.Price,
			"quantity":    pa.Action.Quantity,
		})
		return
	}

	k.store.Append(tickID, events.TypeOrderPlaced, pa.AgentID, map[string]interface{}{
		"order_id": result.Order.ID,
		"side":     result.Order.Side.String(),
		"price":    result.Order.Price.String(),
		"quantity": result.Order.Quantity.String(),
		"sequence": result.Order.Sequence,
	})

	for _, f := range result.Fills {
		*tradesExecuted++
		k.store.Append(tickID, events.TypeTradeExecuted, "", map[string]interface{}{
			"trade_id":        f.Trade.ID,
			"price":           f.Trade.Price.String(),
			"quantity":        f.Trade.Quantity.String(),
			"buy_order_id":    f.Trade.BuyOrderID,
			"sell_order_id":   f.Trade.SellOrderID,
			"buyer_agent_id":  f.BuyerAgentID,
			"seller_agent_id": f.SellerAgentID,
			"total_fee":       f.Trade.TotalFee.String(),
			"aggressor_side":  pa.Action.Side.String(),
		})

		buyer := k.state.Agents[f.BuyerAgentID]
		k.store.Append(tickID, events.TypeBalanceUpdated, f.BuyerAgentID, map[string]interface{}{
			"cash":  buyer.Cash.String(),
			"asset": buyer.Asset.String(),
		})

		seller := k.state.Agents[f.SellerAgentID]
		k.store.Append(tickID, events.TypeBalanceUpdated, f.SellerAgentID, map[string]interface{}{
			"cash":  seller.Cash.String(),
			"asset": seller.Asset.String(),
		})
	}
}

func (k *Kernel) processCancel(tickID int64, pa pendingAction) {
	order, code := k.engine.CancelOrder(pa.AgentID, pa.Action.OrderID)
	if code != "" {
		k.store.Append(tickID, events.TypeOrderRejected, pa.AgentID, map[string]interface{}{
			"reason_code": string(code),
			"order_id":    pa.Action.OrderID,
		})
		return
	}
	k.store.Append(tickID, events.TypeOrderCancelled, pa.AgentID, map[string]interface{}{
		"order_id": order.ID,
	})
}

func (k *Kernel) applyDecay(tickID int64) {
	cfg := k.state.Config
	if cfg.DecayIntervalTicks <= 0 || tickID == 0 || tickID%cfg.DecayIntervalTicks != 0 {
		return
	}
	for _, id := range k.state.AgentsInInsertionOrder() {
		a := k.state.Agents[id]
		if a.Status != world.AgentActive || !a.Cash.IsPositive() {
			continue
		}
		decay := a.Cash.MulBps(cfg.DecayRateBps)
		a.Cash = a.Cash.Sub(decay)
		k.store.Append(tickID, events.TypeDecayApplied, id, map[string]interface{}{
			"amount":     decay.String(),
			"cash_after": a.Cash.String(),
		})
	}
}

func (k *Kernel) sweepBankruptcies(tickID int64) {
	for _, id := range k.state.AgentsInInsertionOrder() {
		a := k.state.Agents[id]
		if a.Status != world.AgentActive || !a.Cash.IsNegative() {
			continue
		}
		a.Status = world.AgentBankrupt
		bt := tickID
		a.BankruptAtTick = &bt

		for _, o := range k.state.OpenOrdersOf(id) {
			k.state.Book.CancelOrder(o.ID)
			o.Status = orders.StatusCancelled
		}

		k.store.Append(tickID, events.TypeAgentBankrupt, id, map[string]interface{}{
			"bankrupt_at_tick": tickID,
			"cash":             a.Cash.String(),
		})
	}
}
