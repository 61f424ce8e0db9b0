// Package main runs the demo HTTP surface in front of a single simulation
// kernel: agent onboarding, action submission, book/trade/stat queries, and
// a manual or timer-driven tick advance. The kernel owns every rule; this
// package only translates JSON over gorilla/mux into kernel method calls
// and fans out the resulting trades/quotes to the market data publisher,
// the way the teacher's cmd/server wires engine+risk+eventLog+publisher
// into one owning Server without putting HTTP concerns in the core.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"marketsim/internal/amount"
	"marketsim/internal/events"
	"marketsim/internal/kernel"
	"marketsim/internal/marketdata"
	"marketsim/internal/orders"
	"marketsim/internal/world"
)

// Server owns the kernel and the demo market data fan-out built on top of
// its event stream. It never reaches into world state directly — every
// response is built from kernel query methods.
type Server struct {
	kernel    *kernel.Kernel
	publisher *marketdata.Publisher
	logger    *zap.Logger

	httpServer *http.Server

	mu           sync.RWMutex
	lastL1       marketdata.L1Quote
	recentTrades []marketdata.TradeReport
}

const maxCachedTrades = 200

// NewServer creates a server bound to a freshly constructed kernel and
// starts the internal goroutine that caches the publisher's fan-out for
// the polling endpoints.
func NewServer(cfg kernel.Config, seed uint32, port int, logger *zap.Logger) *Server {
	k := kernel.New(cfg, seed, logger)
	pub := marketdata.NewPublisher(256)

	s := &Server{
		kernel:    k,
		publisher: pub,
		logger:    logger,
	}

	go s.cacheMarketData()

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/agents", s.handleCreateAgent).Methods(http.MethodPost)
	router.HandleFunc("/agents/{id}", s.handleGetAgent).Methods(http.MethodGet)
	router.HandleFunc("/actions", s.handleSubmitActions).Methods(http.MethodPost)
	router.HandleFunc("/tick", s.handleAdvanceTick).Methods(http.MethodPost)
	router.HandleFunc("/book", s.handleBook).Methods(http.MethodGet)
	router.HandleFunc("/trades", s.handleTrades).Methods(http.MethodGet)
	router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	router.HandleFunc("/events/export", s.handleEventsExport).Methods(http.MethodGet)
	router.HandleFunc("/events/verify", s.handleVerifyChain).Methods(http.MethodGet)
	router.HandleFunc("/marketdata/l1", s.handleL1).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// cacheMarketData drains the publisher's channels into the server's
// in-memory cache so the polling endpoints never block on a subscriber
// channel. The publisher itself is not consulted by the kernel — it only
// ever receives what this server explicitly republishes after each tick.
func (s *Server) cacheMarketData() {
	l1 := s.publisher.SubscribeL1()
	trades := s.publisher.SubscribeTrades()
	for {
		select {
		case q, ok := <-l1:
			if !ok {
				return
			}
			s.mu.Lock()
			s.lastL1 = q
			s.mu.Unlock()
		case tr, ok := <-trades:
			if !ok {
				return
			}
			s.mu.Lock()
			s.recentTrades = append(s.recentTrades, tr)
			if len(s.recentTrades) > maxCachedTrades {
				s.recentTrades = s.recentTrades[len(s.recentTrades)-maxCachedTrades:]
			}
			s.mu.Unlock()
		}
	}
}

// Start begins serving HTTP; it blocks until the server is shut down.
func (s *Server) Start() error {
	if err := s.kernel.Start(); err != nil {
		return err
	}
	s.logger.Info("server_start", zap.String("addr", s.httpServer.Addr), zap.String("run_id", s.kernel.RunID()))
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting new requests, stops the run, and closes the
// publisher.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	_ = s.kernel.Stop("server shutdown")
	s.publisher.Close()
	return nil
}

// advanceTick drives one tick forward and republishes its trades and the
// resulting L1 quote, the one place this server touches both the kernel
// and the publisher together.
func (s *Server) advanceTick() int64 {
	tickID := s.kernel.CurrentTick()
	s.kernel.AdvanceTick()

	for _, ev := range s.kernel.EventsByTick(tickID) {
		if ev.Type != events.TypeTradeExecuted {
			continue
		}
		s.publisher.PublishTrade(marketdata.TradeReport{
			TradeID:       stringPayload(ev.Payload, "trade_id"),
			Price:         amount.MustParse(stringPayload(ev.Payload, "price")),
			Quantity:      amount.MustParse(stringPayload(ev.Payload, "quantity")),
			AggressorSide: sidePayload(ev.Payload, "aggressor_side"),
			Tick:          tickID,
		})
	}

	l1 := marketdata.L1Quote{Tick: tickID}
	if bid, ok := s.kernel.BestBid(); ok {
		l1.BidPrice = bid
		if depth := s.kernel.BidDepth(1); len(depth) > 0 {
			l1.BidSize = depth[0].Quantity
		}
	}
	if ask, ok := s.kernel.BestAsk(); ok {
		l1.AskPrice = ask
		if depth := s.kernel.AskDepth(1); len(depth) > 0 {
			l1.AskSize = depth[0].Quantity
		}
	}
	s.publisher.PublishL1(l1)

	return tickID
}

func stringPayload(p map[string]interface{}, key string) string {
	v, _ := p[key].(string)
	return v
}

func sidePayload(p map[string]interface{}, key string) orders.Side {
	if stringPayload(p, key) == "ask" {
		return orders.SideAsk
	}
	return orders.SideBid
}

// --- HTTP handlers -------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "run_id": s.kernel.RunID()})
}

type createAgentRequest struct {
	DisplayName string `json:"display_name"`
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	agentID, apiKey, err := s.kernel.CreateAgent(req.DisplayName)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"agent_id": agentID,
		"api_key":  apiKey,
	})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	agent, ok := s.kernel.Agent(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, agentResponse(agent))
}

func agentResponse(a kernel.AgentView) map[string]interface{} {
	out := map[string]interface{}{
		"id":           a.ID,
		"display_name": a.DisplayName,
		"cash":         a.Cash.String(),
		"asset":        a.Asset.String(),
		"status":       a.Status,
	}
	if a.BankruptAtTick != nil {
		out["bankrupt_at_tick"] = *a.BankruptAtTick
	}
	return out
}

type actionRequest struct {
	Kind     string `json:"kind"`
	Side     string `json:"side,omitempty"`
	Price    string `json:"price,omitempty"`
	Quantity string `json:"quantity,omitempty"`
	OrderID  string `json:"order_id,omitempty"`
}

type submitActionsRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	Actions        []actionRequest `json:"actions"`
}

func (s *Server) handleSubmitActions(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get("X-API-Key")
	agentID, ok := s.kernel.Authenticate(apiKey)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or missing X-API-Key"})
		return
	}

	var req submitActionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	actions := make([]kernel.Action, 0, len(req.Actions))
	for _, a := range req.Actions {
		switch a.Kind {
		case "place_limit_order":
			side := orders.SideBid
			if a.Side == "ask" {
				side = orders.SideAsk
			}
			actions = append(actions, kernel.PlaceLimitOrder(side, a.Price, a.Quantity))
		case "cancel_order":
			actions = append(actions, kernel.CancelOrder(a.OrderID))
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown action kind: " + a.Kind})
			return
		}
	}

	result := s.kernel.SubmitActions(agentID, actions, req.IdempotencyKey)
	writeJSON(w, http.StatusAccepted, result)
}

func (s *Server) handleAdvanceTick(w http.ResponseWriter, r *http.Request) {
	tickID := s.advanceTick()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tick_id":     tickID,
		"next_tick":   s.kernel.CurrentTick(),
		"run_status":  s.kernel.Status().String(),
	})
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	levels := parseIntQuery(r, "levels", 10)

	bids := s.kernel.BidDepth(levels)
	asks := s.kernel.AskDepth(levels)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bids":   depthJSON(bids),
		"asks":   depthJSON(asks),
		"spread": s.kernel.Spread().String(),
		"mid":    s.kernel.MidPrice().String(),
	})
}

func depthJSON(levels []world.DepthLevel) []map[string]interface{} {
	out := make([]map[string]interface{}, len(levels))
	for i, l := range levels {
		out[i] = map[string]interface{}{
			"price":    l.Price.String(),
			"quantity": l.Quantity.String(),
			"orders":   l.Orders,
		}
	}
	return out
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	n := parseIntQuery(r, "limit", 50)
	trades := s.kernel.RecentTrades(n)

	out := make([]map[string]interface{}, len(trades))
	for i, t := range trades {
		out[i] = map[string]interface{}{
			"trade_id":        t.ID,
			"tick":            t.Tick,
			"price":           t.Price.String(),
			"quantity":        t.Quantity.String(),
			"buyer_agent_id":  t.BuyerAgentID,
			"seller_agent_id": t.SellerAgentID,
			"total_fee":       t.TotalFee.String(),
			"sequence":        t.Sequence,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.kernel.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"current_tick":    stats.CurrentTick,
		"total_volume":    stats.TotalVolume.String(),
		"total_fees":      stats.TotalFees.String(),
		"active_agents":   stats.ActiveAgents,
		"bankrupt_agents": stats.BankruptAgents,
		"total_orders":    stats.TotalOrders,
		"event_count":     stats.EventCount,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var evs []events.Event
	switch {
	case q.Get("tick") != "":
		tick := parseIntQuery(r, "tick", 0)
		evs = s.kernel.EventsByTick(int64(tick))
	case q.Get("agent") != "":
		evs = s.kernel.EventsByAgent(q.Get("agent"))
	default:
		evs = s.kernel.Events()
	}
	writeJSON(w, http.StatusOK, evs)
}

func (s *Server) handleEventsExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	if err := s.kernel.ExportEvents(w); err != nil {
		s.logger.Error("events_export_failed", zap.Error(err))
	}
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	valid, firstMismatch := s.kernel.VerifyChain()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":          valid,
		"first_mismatch": firstMismatch,
	})
}

func (s *Server) handleL1(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	l1 := s.lastL1
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bid_price": l1.BidPrice.String(),
		"bid_size":  l1.BidSize.String(),
		"ask_price": l1.AskPrice.String(),
		"ask_size":  l1.AskSize.String(),
		"tick":      l1.Tick,
	})
}

func parseIntQuery(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	var (
		port               int
		seed               uint32
		initialCash        string
		initialAsset       string
		tradingFeeBps      int64
		decayRateBps       int64
		decayIntervalTicks int64
		maxActionsPerTick  int
		minPrice           string
		maxPrice           string
		minQuantity        string
		allocJitterBps     int64
		autoTick           time.Duration
	)

	root := &cobra.Command{
		Use:   "marketsim-server",
		Short: "Runs the deterministic multi-agent market simulator demo HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			cfg := kernel.Config{
				InitialCash:                amount.MustParse(initialCash),
				InitialAsset:               amount.MustParse(initialAsset),
				TradingFeeBps:              tradingFeeBps,
				DecayRateBps:               decayRateBps,
				DecayIntervalTicks:         decayIntervalTicks,
				MaxActionsPerTick:          maxActionsPerTick,
				MinPrice:                   amount.MustParse(minPrice),
				MaxPrice:                   amount.MustParse(maxPrice),
				MinQuantity:                amount.MustParse(minQuantity),
				InitialAllocationJitterBps: allocJitterBps,
			}

			server := NewServer(cfg, seed, port, logger)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var stopTicker chan struct{}
			if autoTick > 0 {
				stopTicker = make(chan struct{})
				go func() {
					ticker := time.NewTicker(autoTick)
					defer ticker.Stop()
					for {
						select {
						case <-ticker.C:
							server.advanceTick()
						case <-stopTicker:
							return
						}
					}
				}()
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				logger.Info("shutdown_signal_received")
				if stopTicker != nil {
					close(stopTicker)
				}
				shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
				defer shutdownCancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Error("shutdown_error", zap.Error(err))
				}
			}()

			if err := server.Start(); err != nil && err != http.ErrServerClosed {
				return err
			}
			logger.Info("server_stopped")
			return nil
		},
	}

	flags := root.Flags()
	flags.IntVar(&port, "port", 8080, "HTTP listen port")
	flags.Uint32Var(&seed, "seed", 1, "deterministic PRNG seed for this run")
	flags.StringVar(&initialCash, "initial-cash", "10000.00", "initial cash balance granted to each new agent")
	flags.StringVar(&initialAsset, "initial-asset", "100.00", "initial asset balance granted to each new agent")
	flags.Int64Var(&tradingFeeBps, "fee-bps", 10, "trading fee in basis points, split between buyer and seller")
	flags.Int64Var(&decayRateBps, "decay-rate-bps", 0, "per-interval cash decay rate in basis points (0 disables)")
	flags.Int64Var(&decayIntervalTicks, "decay-interval-ticks", 0, "tick interval between decay applications (0 disables)")
	flags.IntVar(&maxActionsPerTick, "max-actions-per-tick", 10, "maximum actions accepted per agent per tick")
	flags.StringVar(&minPrice, "min-price", "0.00000001", "minimum allowed limit order price")
	flags.StringVar(&maxPrice, "max-price", "1000000.00", "maximum allowed limit order price")
	flags.StringVar(&minQuantity, "min-quantity", "0.00000001", "minimum allowed limit order quantity")
	flags.Int64Var(&allocJitterBps, "alloc-jitter-bps", 0, "if positive, jitter each new agent's initial cash/asset by a uniform +/- bps draw from the run's seeded PRNG")
	flags.DurationVar(&autoTick, "auto-tick", 0, "if set, advance a tick automatically on this interval instead of waiting for POST /tick")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
