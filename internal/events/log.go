package events

import (
	"bufio"
	"encoding/json"
	"io"
	"time"

	"github.com/cockroachdb/errors"

	"marketsim/internal/canon"
)

// ErrChainBroken is returned by VerifyChain's error-returning variant when
// the stored hash chain does not reproduce from GENESIS. VerifyChain itself
// never trusts a stored event_hash — it is always recomputed.
var ErrChainBroken = errors.New("events: hash chain verification failed")

// Store is the append-only, hash-chained event log for a single run.
//
// Design Decisions:
//
//  1. In-memory, not durable: the core only emits an ordered event stream
//     (spec.md §1); any downstream store that preserves order (the
//     relational schema, a file, a message bus) is free to persist it.
//     This type is the kernel's own staging buffer and query index.
//  2. Secondary indices by type, by agent, and by tick are maintained
//     incrementally on Append so the §4.6 query surface never needs to
//     scan the full log.
//  3. The chain is seeded from canon.Genesis ("GENESIS"); every event's
//     prev_hash is the previous event's hash, or Genesis for the first.
type Store struct {
	runID string

	events  []Event
	byType  map[Type][]int
	byAgent map[string][]int
	byTick  map[int64][]int

	lastHash string
	seq      int64
}

// NewStore creates an empty event store for the given run id.
func NewStore(runID string) *Store {
	return &Store{
		runID:    runID,
		byType:   make(map[Type][]int),
		byAgent:  make(map[string][]int),
		byTick:   make(map[int64][]int),
		lastHash: canon.Genesis,
	}
}

// Append assigns the next per-run event sequence, computes event_hash from
// the current last-hash, records the event, and advances the chain.
// agentID may be empty for events with no associated agent.
func (s *Store) Append(tickID int64, eventType Type, agentID string, payload map[string]interface{}) Event {
	s.seq++

	hash := canon.Hash(canon.EventFields{
		RunID:     s.runID,
		TickID:    tickID,
		EventSeq:  s.seq,
		EventType: string(eventType),
		AgentID:   agentID,
		Payload:   payload,
		PrevHash:  s.lastHash,
	})

	ev := Event{
		ID:        s.seq,
		RunID:     s.runID,
		TickID:    tickID,
		Seq:       s.seq,
		Type:      eventType,
		AgentID:   agentID,
		Payload:   payload,
		PrevHash:  s.lastHash,
		Hash:      hash,
		CreatedAt: time.Now(),
	}

	idx := len(s.events)
	s.events = append(s.events, ev)
	s.byType[eventType] = append(s.byType[eventType], idx)
	if agentID != "" {
		s.byAgent[agentID] = append(s.byAgent[agentID], idx)
	}
	s.byTick[tickID] = append(s.byTick[tickID], idx)
	s.lastHash = hash

	return ev
}

// All returns every event in append order, as a value-copy snapshot.
func (s *Store) All() []Event {
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByType returns every event of the given type, in append order.
func (s *Store) ByType(t Type) []Event {
	return s.pick(s.byType[t])
}

// ByAgent returns every event associated with the given agent, in append
// order.
func (s *Store) ByAgent(agentID string) []Event {
	return s.pick(s.byAgent[agentID])
}

// ByTick returns every event emitted during the given tick, in append
// order.
func (s *Store) ByTick(tickID int64) []Event {
	return s.pick(s.byTick[tickID])
}

func (s *Store) pick(idx []int) []Event {
	out := make([]Event, len(idx))
	for i, j := range idx {
		out[i] = s.events[j]
	}
	return out
}

// LastHash returns the current chain tip, or canon.Genesis if the log is
// empty.
func (s *Store) LastHash() string {
	return s.lastHash
}

// Count returns the number of events recorded.
func (s *Store) Count() int {
	return len(s.events)
}

// VerifyChain recomputes every event_hash in order starting from GENESIS
// and reports whether the chain is valid, and if not, the zero-based index
// of the first mismatch. The stored hash is never trusted — this always
// recomputes.
func (s *Store) VerifyChain() (valid bool, firstMismatch int) {
	prev := canon.Genesis
	for i, ev := range s.events {
		want := canon.Hash(canon.EventFields{
			RunID:     ev.RunID,
			TickID:    ev.TickID,
			EventSeq:  ev.Seq,
			EventType: string(ev.Type),
			AgentID:   ev.AgentID,
			Payload:   ev.Payload,
			PrevHash:  prev,
		})
		if ev.PrevHash != prev || ev.Hash != want {
			return false, i
		}
		prev = ev.Hash
	}
	return true, -1
}

// MustVerify is VerifyChain with the §7 "internal fault" propagation
// policy applied: a broken chain is fatal and wrapped with the mismatch
// index for diagnostics.
func (s *Store) MustVerify() error {
	if valid, idx := s.VerifyChain(); !valid {
		return errors.Wrapf(ErrChainBroken, "first mismatch at index %d", idx)
	}
	return nil
}

// exportLine is the JSON shape written one-per-line by Export. Field names
// follow the event model of spec.md §4.3; created_at is included here for
// downstream convenience even though it is excluded from the hash input
// itself, and agent_id is omitted when empty.
type exportLine struct {
	RunID     string                 `json:"run_id"`
	TickID    int64                  `json:"tick_id"`
	EventSeq  int64                  `json:"event_seq"`
	EventType string                 `json:"event_type"`
	AgentID   string                 `json:"agent_id,omitempty"`
	Payload   map[string]interface{} `json:"payload"`
	PrevHash  string                 `json:"prev_hash"`
	EventHash string                 `json:"event_hash"`
	CreatedAt time.Time              `json:"created_at"`
}

// Export writes one JSON event per line, encoded by encoding/json from
// exportLine: fields appear in exportLine's declared order, not in sorted
// key order, so a line is not the canon.Encode form of the event. Downstream
// stores may persist additional metadata but must not alter these fields, or
// the hash chain they were computed from no longer verifies.
func (s *Store) Export(w io.Writer) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, ev := range s.events {
		line := exportLine{
			RunID:     ev.RunID,
			TickID:    ev.TickID,
			EventSeq:  ev.Seq,
			EventType: string(ev.Type),
			AgentID:   ev.AgentID,
			Payload:   ev.Payload,
			PrevHash:  ev.PrevHash,
			EventHash: ev.Hash,
			CreatedAt: ev.CreatedAt,
		}
		if err := enc.Encode(line); err != nil {
			return errors.Wrap(err, "events: export encode failed")
		}
	}
	return bw.Flush()
}
