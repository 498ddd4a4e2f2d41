package artifacts

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskkernel/mqk/internal/backtest"
	"github.com/riskkernel/mqk/internal/schema"
)

func testManifest() RunManifest {
	return RunManifest{
		RunID:           "run-1",
		EngineID:        "MAIN",
		Mode:            schema.ModeBacktest,
		GitHash:         "abc123",
		ConfigHash:      "deadbeef",
		Seed:            42,
		HostFingerprint: "host-1",
		CreatedAtUTC:    time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

func testReport() backtest.Report {
	return backtest.Report{
		EquityCurve: []backtest.EquityPoint{
			{EndTS: 1_000_000_000, EquityMicros: 100_000_000_000},
			{EndTS: 2_000_000_000, EquityMicros: 99_500_000_000},
		},
		Fills: []schema.Fill{{
			BrokerMessageID: "backtest-i1-1",
			ClientOrderID:   "MAIN-abc",
			Symbol:          "AAPL",
			Side:            schema.SideBuy,
			Qty:             10,
			Price:           105_105_000,
			TsUTC:           1_000_000_000,
		}},
		LastPrices: map[string]schema.Price{"AAPL": 100_000_000},
	}
}

func TestInitRunCreatesLayoutAndManifest(t *testing.T) {
	root := t.TempDir()
	runDir, err := InitRun(root, testManifest())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "run-1"), runDir)

	for _, name := range []string{"manifest.json", "audit.jsonl", "orders.csv", "fills.csv", "equity_curve.csv", "metrics.json"} {
		_, err := os.Stat(filepath.Join(runDir, name))
		assert.NoError(t, err, name)
	}

	orders, err := os.ReadFile(filepath.Join(runDir, "orders.csv"))
	require.NoError(t, err)
	assert.Equal(t, ordersCSVHeader, string(orders))
}

func TestInitRunDoesNotOverwriteExistingArtifacts(t *testing.T) {
	root := t.TempDir()
	runDir, err := InitRun(root, testManifest())
	require.NoError(t, err)

	auditPath := filepath.Join(runDir, "audit.jsonl")
	require.NoError(t, os.WriteFile(auditPath, []byte("existing\n"), 0o644))

	_, err = InitRun(root, testManifest())
	require.NoError(t, err)

	data, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	assert.Equal(t, "existing\n", string(data))
}

func TestInitRunRequiresRunID(t *testing.T) {
	m := testManifest()
	m.RunID = ""
	_, err := InitRun(t.TempDir(), m)
	assert.Error(t, err)
}

func TestWriteBacktestReportRowsAndHeaders(t *testing.T) {
	root := t.TempDir()
	runDir, err := InitRun(root, testManifest())
	require.NoError(t, err)
	require.NoError(t, WriteBacktestReport(runDir, testReport()))

	fills, err := os.ReadFile(filepath.Join(runDir, "fills.csv"))
	require.NoError(t, err)
	assert.Equal(t,
		fillsCSVHeader+"1000000000,backtest-i1-1,MAIN-abc,AAPL,BUY,10,105105000,0\n",
		string(fills))

	equity, err := os.ReadFile(filepath.Join(runDir, "equity_curve.csv"))
	require.NoError(t, err)
	assert.Equal(t,
		equityCSVHeader+"1000000000,100000000000\n2000000000,99500000000\n",
		string(equity))

	metrics, err := os.ReadFile(filepath.Join(runDir, "metrics.json"))
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `"final_equity_micros": 99500000000`)
	assert.Contains(t, string(metrics), `"fills": 1`)
}

func TestWriteBacktestReportIsByteIdenticalAcrossRewrites(t *testing.T) {
	root := t.TempDir()
	runDir, err := InitRun(root, testManifest())
	require.NoError(t, err)

	require.NoError(t, WriteBacktestReport(runDir, testReport()))
	first := map[string][]byte{}
	for _, name := range []string{"fills.csv", "equity_curve.csv", "metrics.json"} {
		data, err := os.ReadFile(filepath.Join(runDir, name))
		require.NoError(t, err)
		first[name] = data
	}

	require.NoError(t, WriteBacktestReport(runDir, testReport()))
	for name, want := range first {
		data, err := os.ReadFile(filepath.Join(runDir, name))
		require.NoError(t, err)
		assert.Equal(t, want, data, name)
	}
}
