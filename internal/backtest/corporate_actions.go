package backtest

// ForbidEntry declares a single corporate-action exclusion window: any bar
// for Symbol whose EndTS falls in [StartTS, EndTS] (inclusive, epoch
// nanoseconds, the unit of schema.Bar.EndTS) causes the replay to halt before strategy logic ever sees it.
type ForbidEntry struct {
	Symbol  string
	StartTS int64
	EndTS   int64
}

// NewForbidEntry constructs an exclusion window.
func NewForbidEntry(symbol string, startTS, endTS int64) ForbidEntry {
	return ForbidEntry{Symbol: symbol, StartTS: startTS, EndTS: endTS}
}

// NewCorporateActionPolicy builds a policy from a list of forbidden
// windows. An empty (but non-nil) list is a valid policy: it enforces
// nothing yet but signals the operator has made an explicit choice rather
// than falling back to Allow.
func NewCorporateActionPolicy(entries []ForbidEntry) CorporateActionPolicy {
	return CorporateActionPolicy{forbid: entries}
}

// IsExcluded reports whether a bar for symbol at bar_end_ts falls inside a
// declared forbidden period. Corporate actions (splits, dividends, mergers)
// make raw price data ambiguous: an unadjusted 2-for-1 split looks like a
// 50% overnight loss. Rather than implement adjustment tables (complex,
// data-source-specific, and easy to get silently wrong), this kernel
// forces an explicit choice: either the caller guarantees pre-adjusted data
// (an empty/nil policy, "Allow" in spirit), or
// declares which (symbol, period) pairs are contaminated so the engine can
// halt before running any strategy logic on them.
func (p CorporateActionPolicy) IsExcluded(symbol string, barEndTS int64) bool {
	for _, e := range p.forbid {
		if e.Symbol == symbol && barEndTS >= e.StartTS && barEndTS <= e.EndTS {
			return true
		}
	}
	return false
}
