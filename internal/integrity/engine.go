// Package integrity implements the gap/stale/completeness/disagreement
// checks that feed sticky disarm signals into arm-state. Sticky means: once
// disarmed by a violation here, only an explicit operator action clears it;
// a restart never clears it (arm-state persists the reason).
package integrity

import (
	"time"

	"github.com/riskkernel/mqk/internal/calendar"
	"github.com/riskkernel/mqk/internal/schema"
)

// Detail is a fine-grained sub-reason beneath the closed DisarmReason enum,
// carried in audit evidence so an operator can see exactly what tripped
// DisarmIntegrityViolation.
type Detail string

const (
	DetailIncompleteBar    Detail = "IncompleteBarInLiveMode"
	DetailUnexplainedGap   Detail = "UnexplainedGap"
	DetailStaleFeed        Detail = "StaleFeed"
	DetailFeedDisagreement Detail = "FeedDisagreement"
)

// Config controls integrity checking for one run.
type Config struct {
	Mode           schema.RunMode
	StrictGaps     bool
	StaleThreshold time.Duration
	Calendar       *calendar.Calendar
}

// Verdict is the outcome of one integrity check.
type Verdict struct {
	Halted   bool
	Disarmed bool
	Reason   schema.DisarmReason
	Detail   Detail
}

func clean() Verdict { return Verdict{} }

// Engine holds the sticky halted/disarmed latch across calls; once tripped
// it stays tripped for the lifetime of the process (persistence of the
// sticky state across restarts is armstate's job, not this package's).
type Engine struct {
	cfg Config

	halted      bool
	disarmed    bool
	reason      schema.DisarmReason
	detail      Detail
	lastBarEnd  time.Time
	haveLastBar bool
}

// NewEngine creates an integrity engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Sticky reports the current latched verdict (zero value if clean).
func (e *Engine) Sticky() Verdict {
	if !e.halted && !e.disarmed {
		return clean()
	}
	return Verdict{Halted: e.halted, Disarmed: e.disarmed, Reason: e.reason, Detail: e.detail}
}

// latch trips the sticky flags the first time a violation occurs; it never
// clears itself.
func (e *Engine) latch(v Verdict) Verdict {
	if v.Halted {
		e.halted = true
	}
	if v.Disarmed {
		e.disarmed = true
	}
	if v.Halted || v.Disarmed {
		e.reason = v.Reason
		e.detail = v.Detail
	}
	return e.Sticky()
}

// Clear is the only way to release the sticky latch: an explicit operator
// action, never an automatic retry or restart.
func (e *Engine) Clear() {
	e.halted = false
	e.disarmed = false
	e.reason = schema.DisarmNone
	e.detail = ""
}

// ProcessBar advances integrity state for a single incoming bar.
func (e *Engine) ProcessBar(bar schema.Bar, now time.Time) Verdict {
	if sticky := e.Sticky(); sticky.Halted || sticky.Disarmed {
		return sticky
	}

	if !bar.IsComplete && e.cfg.Mode == schema.ModeLive {
		return e.latch(Verdict{Halted: true, Disarmed: true, Reason: schema.DisarmIntegrityViolation, Detail: DetailIncompleteBar})
	}

	barEnd := time.Unix(0, bar.EndTS).UTC()
	if e.haveLastBar && e.cfg.StrictGaps {
		if !e.gapExplained(e.lastBarEnd, barEnd) {
			return e.latch(Verdict{Halted: true, Disarmed: true, Reason: schema.DisarmIntegrityViolation, Detail: DetailUnexplainedGap})
		}
	}
	e.lastBarEnd = barEnd
	e.haveLastBar = true

	if e.cfg.StaleThreshold > 0 && now.Sub(barEnd) > e.cfg.StaleThreshold {
		return e.latch(Verdict{Disarmed: true, Reason: schema.DisarmIntegrityViolation, Detail: DetailStaleFeed})
	}

	return clean()
}

func (e *Engine) gapExplained(prev, next time.Time) bool {
	if e.cfg.Calendar == nil {
		return false
	}
	return e.cfg.Calendar.ExpectedGap(prev, next)
}

// CheckFeedDisagreement halts when redundant sources for the same bar
// disagree beyond floating-point-free exact comparison on close price.
func (e *Engine) CheckFeedDisagreement(primary, secondary schema.Bar) Verdict {
	if sticky := e.Sticky(); sticky.Halted || sticky.Disarmed {
		return sticky
	}
	if primary.Symbol != secondary.Symbol || primary.EndTS != secondary.EndTS {
		return clean()
	}
	if primary.Close != secondary.Close {
		return e.latch(Verdict{Halted: true, Reason: schema.DisarmIntegrityViolation, Detail: DetailFeedDisagreement})
	}
	return clean()
}
