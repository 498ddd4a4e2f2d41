// Package calendar provides a session-aware calendar so the integrity
// engine can distinguish an expected overnight/weekend gap from a feed
// outage.
package calendar

import (
	"sort"
	"time"
)

// Session is a single trading session window, in UTC.
type Session struct {
	Open  time.Time
	Close time.Time
}

// Calendar lists the trading sessions a run expects bars to fall within.
// Sessions are caller-provided (generated upstream from an exchange
// calendar); this package only answers containment/gap questions.
type Calendar struct {
	sessions []Session
}

// New builds a Calendar from sessions, sorted by Open.
func New(sessions []Session) *Calendar {
	cp := make([]Session, len(sessions))
	copy(cp, sessions)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Open.Before(cp[j].Open) })
	return &Calendar{sessions: cp}
}

// InSession reports whether t falls within any known session.
func (c *Calendar) InSession(t time.Time) bool {
	_, ok := c.sessionFor(t)
	return ok
}

func (c *Calendar) sessionFor(t time.Time) (Session, bool) {
	for _, s := range c.sessions {
		if !t.Before(s.Open) && t.Before(s.Close) {
			return s, true
		}
	}
	return Session{}, false
}

// ExpectedGap reports whether the gap between prev and next bar timestamps
// is explained by a session boundary (e.g. an overnight or weekend close)
// rather than a feed outage during an open session.
func (c *Calendar) ExpectedGap(prev, next time.Time) bool {
	if len(c.sessions) == 0 {
		// No calendar configured: caller must fail closed upstream; this
		// method only answers "is the gap explained", and without any
		// session data nothing is explained.
		return false
	}
	prevSession, prevOK := c.sessionFor(prev)
	nextSession, nextOK := c.sessionFor(next)
	if !prevOK || !nextOK {
		return false
	}
	if prevSession == nextSession {
		// Same session: any internal gap is unexplained by the calendar.
		return false
	}
	return true
}
