// Package audit implements the append-only, hash-chained event log: writer
// and verifier. hash_self = H(hash_prev || canonical(payload) || metadata);
// event ids are content-derived, never random. The writer commits each
// event to disk as one JSONL line; callers that also need the row committed
// to the persistent store in the same logical operation do so via
// store.InsertAuditEvent using the same Event value this package produces.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/riskkernel/mqk/internal/schema"
)

// Event is one hash-chained audit log entry.
type Event struct {
	EventID  string          `json:"event_id"`
	RunID    schema.RunID    `json:"run_id"`
	TsUTC    int64           `json:"ts_utc"`
	Topic    string          `json:"topic"`
	Type     string          `json:"event_type"`
	Payload  json.RawMessage `json:"payload"`
	HashPrev string          `json:"hash_prev"`
	HashSelf string          `json:"hash_self"`
}

// Writer appends events to a single run's audit.jsonl, maintaining the hash
// chain in memory between calls.
type Writer struct {
	mu       sync.Mutex
	file     *os.File
	buf      *bufio.Writer
	lastHash string
	seq      uint64
}

// Open opens (or creates) the audit log at path and recovers the hash-chain
// tip by scanning the existing file, so a restarted process continues the
// chain rather than starting a new one.
func Open(path string) (*Writer, error) {
	lastHash, seq, err := recoverTip(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{
		file:     f,
		buf:      bufio.NewWriter(f),
		lastHash: lastHash,
		seq:      seq,
	}, nil
}

func recoverTip(path string) (string, uint64, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	var lastHash string
	var seq uint64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return "", 0, fmt.Errorf("recover audit tip: malformed line: %w", err)
		}
		lastHash = ev.HashSelf
		seq++
	}
	if err := scanner.Err(); err != nil {
		return "", 0, err
	}
	return lastHash, seq, nil
}

// Append writes one new event for runID/topic/eventType with the given
// payload (any JSON-marshalable value), deriving event_id/hash_self from
// the current chain tip, and returns the committed Event.
func (w *Writer) Append(runID schema.RunID, tsUTC int64, topic, eventType string, payload any) (Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	canonicalPayload, err := canonicalJSON(payload)
	if err != nil {
		return Event{}, err
	}
	payloadRaw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	w.seq++
	eventID := schema.DeriveEventID(w.lastHash, canonicalPayload, w.seq)
	hashSelf := computeHash(w.lastHash, canonicalPayload, eventID, runID, tsUTC, topic, eventType)

	ev := Event{
		EventID:  eventID,
		RunID:    runID,
		TsUTC:    tsUTC,
		Topic:    topic,
		Type:     eventType,
		Payload:  payloadRaw,
		HashPrev: w.lastHash,
		HashSelf: hashSelf,
	}

	line, err := json.Marshal(ev)
	if err != nil {
		w.seq--
		return Event{}, err
	}
	if _, err := w.buf.Write(line); err != nil {
		w.seq--
		return Event{}, err
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		w.seq--
		return Event{}, err
	}
	if err := w.buf.Flush(); err != nil {
		w.seq--
		return Event{}, err
	}
	if err := w.file.Sync(); err != nil {
		w.seq--
		return Event{}, err
	}

	w.lastHash = hashSelf
	return ev, nil
}

func computeHash(hashPrev string, canonicalPayload []byte, eventID string, runID schema.RunID, tsUTC int64, topic, eventType string) string {
	h := sha256.New()
	h.Write([]byte(hashPrev))
	h.Write(canonicalPayload)
	h.Write([]byte(eventID))
	h.Write([]byte(runID))
	h.Write([]byte(fmt.Sprintf("%d", tsUTC)))
	h.Write([]byte(topic))
	h.Write([]byte(eventType))
	return hex.EncodeToString(h.Sum(nil))
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		_ = w.file.Close()
		return err
	}
	return w.file.Close()
}
