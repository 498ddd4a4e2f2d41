package integrity

import (
	"testing"
	"time"

	"github.com/riskkernel/mqk/internal/calendar"
	"github.com/riskkernel/mqk/internal/schema"
	"github.com/stretchr/testify/assert"
)

func bar(symbol string, endTS int64, close schema.Price, complete bool) schema.Bar {
	return schema.Bar{Symbol: symbol, EndTS: endTS, Close: close, IsComplete: complete}
}

func TestIncompleteBarHaltsInLiveMode(t *testing.T) {
	e := NewEngine(Config{Mode: schema.ModeLive})
	v := e.ProcessBar(bar("AAPL", 1, 100, false), time.Unix(0, 1))
	assert.True(t, v.Halted)
	assert.True(t, v.Disarmed)
	assert.Equal(t, DetailIncompleteBar, v.Detail)
}

func TestIncompleteBarAllowedInBacktestMode(t *testing.T) {
	e := NewEngine(Config{Mode: schema.ModeBacktest})
	v := e.ProcessBar(bar("AAPL", 1, 100, false), time.Unix(0, 1))
	assert.False(t, v.Halted)
	assert.False(t, v.Disarmed)
}

func TestUnexplainedGapHaltsUnderStrictMode(t *testing.T) {
	e := NewEngine(Config{Mode: schema.ModeLive, StrictGaps: true})
	now := time.Unix(0, int64(time.Hour))
	v1 := e.ProcessBar(bar("AAPL", int64(time.Minute), 100, true), now)
	assert.False(t, v1.Halted)

	v2 := e.ProcessBar(bar("AAPL", int64(time.Hour), 100, true), now)
	assert.True(t, v2.Halted)
	assert.Equal(t, DetailUnexplainedGap, v2.Detail)
}

func TestExplainedSessionGapPasses(t *testing.T) {
	cal := calendar.New([]calendar.Session{
		{Open: time.Unix(0, 0), Close: time.Unix(0, int64(time.Minute))},
		{Open: time.Unix(0, int64(time.Hour)), Close: time.Unix(0, int64(time.Hour)+int64(time.Minute))},
	})
	e := NewEngine(Config{Mode: schema.ModeLive, StrictGaps: true, Calendar: cal})
	v1 := e.ProcessBar(bar("AAPL", int64(30*time.Second), 100, true), time.Unix(0, int64(30*time.Second)))
	assert.False(t, v1.Halted)

	v2 := e.ProcessBar(bar("AAPL", int64(time.Hour)+int64(30*time.Second), 100, true), time.Unix(0, int64(time.Hour)+int64(30*time.Second)))
	assert.False(t, v2.Halted)
	assert.False(t, v2.Disarmed)
}

func TestStaleFeedDisarmsWithoutHalting(t *testing.T) {
	e := NewEngine(Config{Mode: schema.ModeLive, StaleThreshold: time.Minute})
	b := bar("AAPL", 0, 100, true)
	v := e.ProcessBar(b, time.Unix(0, 0).Add(2*time.Minute))
	assert.False(t, v.Halted)
	assert.True(t, v.Disarmed)
	assert.Equal(t, DetailStaleFeed, v.Detail)
}

func TestFeedDisagreementHalts(t *testing.T) {
	e := NewEngine(Config{Mode: schema.ModeLive})
	primary := bar("AAPL", 1, 100, true)
	secondary := bar("AAPL", 1, 101, true)
	v := e.CheckFeedDisagreement(primary, secondary)
	assert.True(t, v.Halted)
	assert.Equal(t, DetailFeedDisagreement, v.Detail)
}

func TestFeedAgreementPasses(t *testing.T) {
	e := NewEngine(Config{Mode: schema.ModeLive})
	primary := bar("AAPL", 1, 100, true)
	secondary := bar("AAPL", 1, 100, true)
	v := e.CheckFeedDisagreement(primary, secondary)
	assert.False(t, v.Halted)
}

func TestStickyLatchSurvivesSubsequentCleanBars(t *testing.T) {
	e := NewEngine(Config{Mode: schema.ModeLive})
	e.ProcessBar(bar("AAPL", 1, 100, false), time.Unix(0, 1))
	require := e.Sticky()
	assert.True(t, require.Disarmed)

	v := e.ProcessBar(bar("AAPL", 2, 100, true), time.Unix(0, 2))
	assert.True(t, v.Disarmed)
}

func TestClearReleasesTheLatch(t *testing.T) {
	e := NewEngine(Config{Mode: schema.ModeLive})
	e.ProcessBar(bar("AAPL", 1, 100, false), time.Unix(0, 1))
	e.Clear()
	assert.Equal(t, Verdict{}, e.Sticky())
}
