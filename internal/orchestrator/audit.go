package orchestrator

import (
	"github.com/riskkernel/mqk/internal/integrity"
	"github.com/riskkernel/mqk/internal/reconcile"
	"github.com/riskkernel/mqk/internal/schema"
)

// These helpers commit every state-changing event the run loop produces to
// the hash-chained audit log, the run loop's final "emit audit" step: one
// append to the on-disk JSONL chain, then the same Event into the store's
// audit_events copy, so disk and database never disagree about what was
// committed. A write failure here is deliberately swallowed rather than
// propagated: a stalled audit disk must not itself become a reason to halt
// trading, and internal/audit.Writer already fsyncs each append before
// returning.

func (o *Orchestrator) commitAudit(tsUTC int64, topic, eventType string, payload any) {
	if o.auditW == nil {
		return
	}
	ev, err := o.auditW.Append(o.cfg.RunID, tsUTC, topic, eventType, payload)
	if err != nil {
		return
	}
	if o.db != nil {
		_ = o.db.InsertAuditEvent(ev)
	}
}

type integrityPayload struct {
	Symbol   string              `json:"symbol"`
	EndTS    int64               `json:"end_ts"`
	Halted   bool                `json:"halted"`
	Disarmed bool                `json:"disarmed"`
	Reason   schema.DisarmReason `json:"reason"`
	Detail   integrity.Detail    `json:"detail"`
}

func (o *Orchestrator) recordAuditIntegrity(bar schema.Bar, verdict integrity.Verdict) {
	o.commitAudit(bar.EndTS, "integrity", "integrity_verdict", integrityPayload{
		Symbol:   bar.Symbol,
		EndTS:    bar.EndTS,
		Halted:   verdict.Halted,
		Disarmed: verdict.Disarmed,
		Reason:   verdict.Reason,
		Detail:   verdict.Detail,
	})
}

type rejectPayload struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Reason string `json:"reason"`
}

func (o *Orchestrator) recordAuditReject(bar schema.Bar, intent schema.OrderIntent, cause error) {
	o.commitAudit(bar.EndTS, "gateway", "intent_rejected", rejectPayload{
		Symbol: intent.Symbol,
		Side:   string(intent.Side),
		Reason: cause.Error(),
	})
}

type fillPayload struct {
	ClientOrderID schema.ClientOrderID `json:"client_order_id"`
	Symbol        string               `json:"symbol"`
	Qty           schema.Quantity      `json:"qty"`
	Price         schema.Price         `json:"price"`
}

func (o *Orchestrator) recordAuditFill(fill schema.Fill) {
	o.commitAudit(fill.TsUTC, "fill", "fill_applied", fillPayload{
		ClientOrderID: fill.ClientOrderID,
		Symbol:        fill.Symbol,
		Qty:           fill.Qty,
		Price:         fill.Price,
	})
}

type reconcilePayload struct {
	Action  reconcile.DriftAction `json:"action"`
	Reasons []reconcile.Reason    `json:"reasons"`
	Diffs   []reconcile.Diff      `json:"diffs"`
}

func (o *Orchestrator) recordAuditReconcile(v reconcile.DriftVerdict) {
	o.commitAudit(o.clock.Now().UnixNano(), "reconcile", "reconcile_drift", reconcilePayload{
		Action:  v.Action,
		Reasons: v.Report.Reasons,
		Diffs:   v.Report.Diffs,
	})
}

type haltPayload struct {
	Reason string `json:"reason"`
}

func (o *Orchestrator) recordAuditHalt(tsUTC int64, reason string) {
	o.commitAudit(tsUTC, "run", "run_halted", haltPayload{Reason: reason})
}
