package chaos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskkernel/mqk/internal/bus"
)

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	_, err := NewEngine(Config{DropRate: 1.5})
	assert.Error(t, err)
}

func TestNewEngineDefaultsReorderWindowToOne(t *testing.T) {
	eng, err := NewEngine(Config{Seed: 1})
	require.NoError(t, err)
	out := eng.Process(bus.Event{Topic: bus.TopicBar, SeqNo: 1})
	assert.Len(t, out, 1)
}

func TestProcessWithZeroRatesPassesEventsThroughUnchanged(t *testing.T) {
	eng, err := NewEngine(Config{Seed: 42, ReorderWindow: 1})
	require.NoError(t, err)
	in := bus.Event{Topic: bus.TopicFill, SeqNo: 7}
	out := eng.Process(in)
	require.Len(t, out, 1)
	assert.Equal(t, in, out[0])
}

func TestProcessAlwaysDropsAtDropRateOne(t *testing.T) {
	eng, err := NewEngine(Config{Seed: 1, DropRate: 1})
	require.NoError(t, err)
	out := eng.Process(bus.Event{Topic: bus.TopicAck, SeqNo: 1})
	assert.Nil(t, out)
}

func TestProcessAlwaysDuplicatesAtDuplicateRateOne(t *testing.T) {
	eng, err := NewEngine(Config{Seed: 1, DuplicateRate: 1})
	require.NoError(t, err)
	out := eng.Process(bus.Event{Topic: bus.TopicAck, SeqNo: 1})
	assert.Len(t, out, 2)
}

func TestReorderWindowBuffersUntilFull(t *testing.T) {
	eng, err := NewEngine(Config{Seed: 7, ReorderWindow: 3})
	require.NoError(t, err)

	assert.Nil(t, eng.Process(bus.Event{SeqNo: 1}))
	assert.Nil(t, eng.Process(bus.Event{SeqNo: 2}))
	out := eng.Process(bus.Event{SeqNo: 3})
	require.Len(t, out, 1)
}

func TestFlushDrainsBufferedEvents(t *testing.T) {
	eng, err := NewEngine(Config{Seed: 7, ReorderWindow: 5})
	require.NoError(t, err)

	eng.Process(bus.Event{SeqNo: 1})
	eng.Process(bus.Event{SeqNo: 2})
	out := eng.Flush()
	assert.Len(t, out, 2)
	assert.Empty(t, eng.Flush())
}

func TestApplyDelayShiftsTsUTCWithinBound(t *testing.T) {
	eng, err := NewEngine(Config{Seed: 3, MaxDelay: 5 * time.Second})
	require.NoError(t, err)
	in := bus.Event{SeqNo: 1, TsUTC: 1000}
	out := eng.Process(in)
	require.Len(t, out, 1)
	assert.GreaterOrEqual(t, out[0].TsUTC, in.TsUTC)
	assert.LessOrEqual(t, out[0].TsUTC, in.TsUTC+int64(5*time.Second))
}

func TestProcessOnNilEnginePassesThrough(t *testing.T) {
	var eng *Engine
	out := eng.Process(bus.Event{SeqNo: 1})
	assert.Len(t, out, 1)
}
