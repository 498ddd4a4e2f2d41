package schema

// OrderIntent is what the orchestrator hands to the gateway on behalf of a
// strategy. Gate sources (arm-state, run row, reconcile checkpoint, risk,
// integrity) are never part of the intent: the gateway reads them itself.
type OrderIntent struct {
	IntentID    IntentID
	RunID       RunID
	EngineID    EngineID
	Symbol      string
	Side        OrderSide
	Type        OrderType
	TimeInForce TimeInForce
	Qty         Quantity
	Price       Price  // meaningful for LIMIT/STOP_LIMIT
	StopPrice   Price  // meaningful for STOP/STOP_LIMIT
	StrategyTag string
}

// Validate rejects NaN/Inf-equivalent and structurally unsound intents
// before they ever reach a gate. Money and Quantity are integers so "NaN"
// reduces to: non-positive quantity, unset side/type, or a limit/stop order
// missing its reference price.
func (o OrderIntent) Validate() error {
	if o.Qty <= 0 {
		return newValidationError("order qty must be > 0")
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return newValidationError("order side must be BUY or SELL")
	}
	switch o.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if o.Price <= 0 {
			return newValidationError("limit order requires a positive price")
		}
	case OrderTypeStop:
		if o.StopPrice <= 0 {
			return newValidationError("stop order requires a positive stop price")
		}
	case OrderTypeStopLimit:
		if o.Price <= 0 || o.StopPrice <= 0 {
			return newValidationError("stop-limit order requires positive price and stop price")
		}
	default:
		return newValidationError("unknown order type")
	}
	if o.IntentID == "" {
		return newValidationError("intent id is required")
	}
	return nil
}

// OrderAck is the broker's synchronous response to a submit/cancel/replace.
type OrderAck struct {
	ClientOrderID ClientOrderID
	BrokerOrderID string
	Accepted      bool
	RejectReason  string
}

// Fill is a single broker execution report, keyed for inbox dedupe by
// BrokerMessageID (which may equal the broker's own fill id).
type Fill struct {
	BrokerMessageID string
	ClientOrderID   ClientOrderID
	Symbol          string
	Side            OrderSide
	Qty             Quantity
	Price           Price
	Fee             Money
	TsUTC           int64
}

// Bar is a canonical OHLCV record. Total order across bars is (EndTS, Symbol).
type Bar struct {
	Symbol         string
	Timeframe      string
	EndTS          int64
	Open           Price
	High           Price
	Low            Price
	Close          Price
	Volume         Quantity
	IsComplete     bool
	DayID          int64
	RejectWindowID int64
}

// Less implements the deterministic total order over bars required for
// replay byte-identicality.
func (b Bar) Less(other Bar) bool {
	if b.EndTS != other.EndTS {
		return b.EndTS < other.EndTS
	}
	return b.Symbol < other.Symbol
}
