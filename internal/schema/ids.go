package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// idNamespace seeds every deterministic UUID derived in this package so
// that identically-shaped inputs from different call sites never collide.
var idNamespace = uuid.MustParse("6f6e6f4c-6d71-6b00-0000-000000000001")

// RunID identifies a single run row.
type RunID string

// EngineID is the logical isolation namespace (e.g. "MAIN", "EXP") with its
// own allocation cap and broker credentials.
type EngineID string

// IntentID is the caller-supplied identifier for a single submission intent.
type IntentID string

// ClientOrderID is the deterministic, engine-prefixed idempotency key
// assigned before submit. It is the only identifier the broker honors for
// idempotency and is never re-derived from caller input after creation.
type ClientOrderID string

// DeriveClientOrderID computes client_order_id = engine_prefix || H(intent_id || run_id).
// The derivation is pure and deterministic: the same (engine, intent, run)
// always yields the same id, across retries, processes, and restarts.
func DeriveClientOrderID(engine EngineID, intent IntentID, run RunID) ClientOrderID {
	h := sha256.Sum256([]byte(string(intent) + "|" + string(run)))
	return ClientOrderID(fmt.Sprintf("%s-%s", engine, hex.EncodeToString(h[:])[:32]))
}

// DeriveEventID returns a content-derived, non-random audit event id: a
// hash of the previous hash, the canonical payload bytes, and the sequence
// number. Two audit writers fed the same inputs produce the same id.
func DeriveEventID(hashPrev string, canonicalPayload []byte, seq uint64) string {
	h := sha256.New()
	h.Write([]byte(hashPrev))
	h.Write(canonicalPayload)
	h.Write([]byte(fmt.Sprintf("%d", seq)))
	return uuid.NewSHA1(idNamespace, h.Sum(nil)).String()
}

// NewRunID derives a content-hashed, informational run surrogate key from
// its defining attributes. It never gates behavior: lifecycle state and
// LIVE exclusivity are enforced by the run row itself, not by this id.
func NewRunID(engine EngineID, mode RunMode, createdAtUnixNano int64) RunID {
	seed := fmt.Sprintf("%s|%s|%d", engine, mode, createdAtUnixNano)
	return RunID(uuid.NewSHA1(idNamespace, []byte(seed)).String())
}
