package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Broker snapshot wire format. Money and quantity fields are decimal
// strings, never floats: the conversion to micros happens exactly once, at
// the consumer (internal/reconcile), through MoneyFromDecimal, so a
// malformed amount fails loudly instead of rounding silently.

// BrokerAccount is the account summary section of a broker snapshot.
type BrokerAccount struct {
	Equity   string `json:"equity"`
	Cash     string `json:"cash"`
	Currency string `json:"currency"`
}

// BrokerOrder is one order as the broker reports it.
type BrokerOrder struct {
	BrokerOrderID string    `json:"broker_order_id"`
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	Qty           string    `json:"qty"`
	LimitPrice    *string   `json:"limit_price"`
	StopPrice     *string   `json:"stop_price"`
	CreatedAtUTC  time.Time `json:"created_at_utc"`
}

// BrokerFill is one execution as the broker reports it. BrokerFillID must
// be deterministic on the broker's side; it doubles as the inbox dedupe key
// when fills are ingested from a snapshot during recovery.
type BrokerFill struct {
	BrokerFillID  string    `json:"broker_fill_id"`
	BrokerOrderID string    `json:"broker_order_id"`
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Qty           string    `json:"qty"`
	Price         string    `json:"price"`
	Fee           string    `json:"fee"`
	TsUTC         time.Time `json:"ts_utc"`
}

// BrokerPosition is one open position as the broker reports it.
type BrokerPosition struct {
	Symbol   string `json:"symbol"`
	Qty      string `json:"qty"`
	AvgPrice string `json:"avg_price"`
}

// BrokerSnapshot is the full point-in-time broker state the reconcile
// engine consumes. CapturedAtUTC is the monotonicity watermark: snapshots
// must strictly advance it or they are rejected as replays.
type BrokerSnapshot struct {
	CapturedAtUTC time.Time        `json:"captured_at_utc"`
	Account       BrokerAccount    `json:"account"`
	Orders        []BrokerOrder    `json:"orders"`
	Fills         []BrokerFill     `json:"fills"`
	Positions     []BrokerPosition `json:"positions"`
}

// DecodeBrokerSnapshot parses a snapshot off the wire. A snapshot without a
// capture timestamp is refused here rather than defaulting to zero, which
// the watermark would (correctly) reject later with a less useful message.
func DecodeBrokerSnapshot(data []byte) (BrokerSnapshot, error) {
	var s BrokerSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return BrokerSnapshot{}, fmt.Errorf("decode broker snapshot: %w", err)
	}
	if s.CapturedAtUTC.IsZero() {
		return BrokerSnapshot{}, fmt.Errorf("decode broker snapshot: captured_at_utc is missing or zero")
	}
	return s, nil
}

// Encode renders the snapshot as wire JSON. Field order is the struct
// order above, so encoding is deterministic for a given value.
func (s BrokerSnapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}
