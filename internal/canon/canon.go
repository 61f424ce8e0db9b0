// Package canon implements the canonical byte-encoding and SHA-256 event
// hashing used by the event store's hash chain.
//
// The encoder is deliberately narrower than a general-purpose JSON library:
// it accepts only the handful of shapes events ever carry (nil, bool,
// string, int, int64, uint64, []any, map[string]any) and encodes them the same way every
// time — sorted keys, no whitespace, a fixed string-escape policy, shortest
// round-trip number form — so that the same logical event always produces
// the same byte string and therefore the same hash, independent of map
// iteration order or which platform ran the encoder.
//
// Grounded in the deterministic state-hash construction of
// pkg/app/perp/app.go's computeStateHash and pkg/consensus/types.go's
// HashOfBlock: a fixed field order and an explicit serialization, never
// trusting a language runtime's default map order.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Genesis is the fixed prev-hash literal for the first event in any run.
const Genesis = "GENESIS"

// Encode produces the canonical byte form of v.
//
// Supported shapes: nil, bool, string, int, int64, uint64, []any,
// map[string]any. Any other type is a programmer error and panics — the
// event payloads that flow through this encoder are built by this
// repository, never deserialized from an untrusted source.
func Encode(v interface{}) []byte {
	var sb strings.Builder
	encodeValue(&sb, v)
	return []byte(sb.String())
}

func encodeValue(sb *strings.Builder, v interface{}) {
	switch t := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		if t {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case string:
		encodeString(sb, t)
	case int:
		sb.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		sb.WriteString(strconv.FormatInt(t, 10))
	case uint64:
		sb.WriteString(strconv.FormatUint(t, 10))
	case []interface{}:
		sb.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				sb.WriteByte(',')
			}
			encodeValue(sb, elem)
		}
		sb.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			encodeString(sb, k)
			sb.WriteByte(':')
			encodeValue(sb, t[k])
		}
		sb.WriteByte('}')
	default:
		panic(fmt.Sprintf("canon: unsupported value type %T", v))
	}
}

// encodeString writes s as a double-quoted string with a fixed escape
// policy: backslash, double-quote, and the C0 control characters are
// escaped; everything else (including non-ASCII) passes through verbatim.
func encodeString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '"':
			sb.WriteString(`\"`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r < 0x20 {
				sb.WriteString(fmt.Sprintf(`\u%04x`, r))
			} else {
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
}

// EventFields is the exact, fixed-order field set that is hashed for every
// event: {run_id, tick_id, event_seq, event_type, agent_id, payload,
// prev_hash}. created_at is intentionally absent — it is informational
// only and excluded from the hash per the event model.
type EventFields struct {
	RunID     string
	TickID    int64
	EventSeq  int64
	EventType string
	AgentID   string // empty string when the event has no associated agent
	Payload   map[string]interface{}
	PrevHash  string
}

// Hash computes event_hash = SHA256(canonical(fields)) and returns it as a
// 64-hex-character lowercase digest.
func Hash(f EventFields) string {
	payload := f.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	m := map[string]interface{}{
		"run_id":     f.RunID,
		"tick_id":    f.TickID,
		"event_seq":  f.EventSeq,
		"event_type": f.EventType,
		"agent_id":   f.AgentID,
		"payload":    payload,
		"prev_hash":  f.PrevHash,
	}
	sum := sha256.Sum256(Encode(m))
	return hex.EncodeToString(sum[:])
}

// SHA256Hex returns the lowercase hex SHA-256 digest of arbitrary bytes,
// used for API-key fingerprinting and the deterministic id generator.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// SHA256Bytes returns the raw SHA-256 digest of b.
func SHA256Bytes(b []byte) [32]byte {
	return sha256.Sum256(b)
}
