// Package artifacts owns the per-run export directory layout: manifest.json,
// audit.jsonl, orders.csv, fills.csv, equity_curve.csv, metrics.json. CSVs
// have fixed column orders and deterministic row ordering; nothing here
// reads the wall clock, so writing the same report twice produces
// byte-identical files.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/riskkernel/mqk/internal/backtest"
	"github.com/riskkernel/mqk/internal/schema"
)

// SchemaVersion is bumped whenever an artifact file's shape changes.
const SchemaVersion = 1

const (
	ordersCSVHeader = "ts_utc,order_id,symbol,side,qty,order_type,limit_price,stop_price,status\n"
	fillsCSVHeader  = "ts_utc,fill_id,order_id,symbol,side,qty,price,fee\n"
	equityCSVHeader = "ts_utc,equity\n"
)

// FileList names every artifact in a run directory, relative to it.
type FileList struct {
	AuditJSONL     string `json:"audit_jsonl"`
	ManifestJSON   string `json:"manifest_json"`
	OrdersCSV      string `json:"orders_csv"`
	FillsCSV       string `json:"fills_csv"`
	EquityCurveCSV string `json:"equity_curve_csv"`
	MetricsJSON    string `json:"metrics_json"`
}

// DefaultFileList returns the canonical artifact file names.
func DefaultFileList() FileList {
	return FileList{
		AuditJSONL:     "audit.jsonl",
		ManifestJSON:   "manifest.json",
		OrdersCSV:      "orders.csv",
		FillsCSV:       "fills.csv",
		EquityCurveCSV: "equity_curve.csv",
		MetricsJSON:    "metrics.json",
	}
}

// RunManifest records what produced a run's artifacts. CreatedAtUTC is
// supplied by the caller from an injected or input-derived time, never read
// from the wall clock here, so replaying the same inputs yields the same
// manifest bytes.
type RunManifest struct {
	SchemaVersion         int               `json:"schema_version"`
	RunID                 schema.RunID      `json:"run_id"`
	EngineID              schema.EngineID   `json:"engine_id"`
	Mode                  schema.RunMode    `json:"mode"`
	GitHash               string            `json:"git_hash"`
	ConfigHash            string            `json:"config_hash"`
	ConfigJSON            json.RawMessage   `json:"config_json,omitempty"`
	DataVersions          map[string]string `json:"data_versions,omitempty"`
	Seed                  int64             `json:"seed"`
	HostFingerprint       string            `json:"host_fingerprint"`
	CorporateActionPolicy string            `json:"corporate_action_policy,omitempty"`
	CreatedAtUTC          time.Time         `json:"created_at_utc"`
	Artifacts             FileList          `json:"artifacts"`
}

// InitRun creates exportsRoot/<run_id>/ with placeholder artifact files
// (header-only CSVs, empty audit log; existing files are left alone) and
// writes manifest.json. Returns the run directory path.
func InitRun(exportsRoot string, m RunManifest) (string, error) {
	if m.RunID == "" {
		return "", fmt.Errorf("init run artifacts: run id is required")
	}
	m.SchemaVersion = SchemaVersion
	m.Artifacts = DefaultFileList()

	runDir := filepath.Join(exportsRoot, string(m.RunID))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("create run dir %s: %w", runDir, err)
	}

	placeholders := map[string]string{
		m.Artifacts.AuditJSONL:     "",
		m.Artifacts.OrdersCSV:      ordersCSVHeader,
		m.Artifacts.FillsCSV:       fillsCSVHeader,
		m.Artifacts.EquityCurveCSV: equityCSVHeader,
		m.Artifacts.MetricsJSON:    "{}\n",
	}
	for name, contents := range placeholders {
		if err := ensureFile(filepath.Join(runDir, name), contents); err != nil {
			return "", err
		}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serialize manifest: %w", err)
	}
	manifestPath := filepath.Join(runDir, m.Artifacts.ManifestJSON)
	if err := os.WriteFile(manifestPath, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write manifest %s: %w", manifestPath, err)
	}
	return runDir, nil
}

func ensureFile(path, contentsIfCreate string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte(contentsIfCreate), 0o644); err != nil {
		return fmt.Errorf("create placeholder %s: %w", path, err)
	}
	return nil
}

// backtestMetrics is the metrics.json shape for a replay run. Map keys are
// emitted in sorted order by encoding/json, keeping the file deterministic.
type backtestMetrics struct {
	SchemaVersion     int              `json:"schema_version"`
	Halted            bool             `json:"halted"`
	HaltReason        string           `json:"halt_reason,omitempty"`
	ExecutionBlocked  bool             `json:"execution_blocked"`
	Bars              int              `json:"bars"`
	Fills             int              `json:"fills"`
	FinalEquityMicros int64            `json:"final_equity_micros"`
	Symbols           []string         `json:"symbols"`
	LastPricesMicros  map[string]int64 `json:"last_prices_micros"`
}

// WriteBacktestReport writes (overwriting) fills.csv, equity_curve.csv, and
// metrics.json into an existing run directory. Money columns are integer
// micros. orders.csv keeps its placeholder header: a replay's only order
// records are its fills, and inventing order rows a live run would not
// produce would make the two artifact sets diverge in shape.
func WriteBacktestReport(runDir string, rep backtest.Report) error {
	files := DefaultFileList()

	var fills strings.Builder
	fills.WriteString(fillsCSVHeader)
	for _, f := range rep.Fills {
		fmt.Fprintf(&fills, "%d,%s,%s,%s,%s,%d,%d,%d\n",
			f.TsUTC, f.BrokerMessageID, f.ClientOrderID, f.Symbol, f.Side,
			int64(f.Qty), int64(f.Price), int64(f.Fee))
	}
	if err := os.WriteFile(filepath.Join(runDir, files.FillsCSV), []byte(fills.String()), 0o644); err != nil {
		return fmt.Errorf("write fills.csv: %w", err)
	}

	var equity strings.Builder
	equity.WriteString(equityCSVHeader)
	for _, pt := range rep.EquityCurve {
		fmt.Fprintf(&equity, "%d,%d\n", pt.EndTS, int64(pt.EquityMicros))
	}
	if err := os.WriteFile(filepath.Join(runDir, files.EquityCurveCSV), []byte(equity.String()), 0o644); err != nil {
		return fmt.Errorf("write equity_curve.csv: %w", err)
	}

	symbols := make([]string, 0, len(rep.LastPrices))
	lastPrices := make(map[string]int64, len(rep.LastPrices))
	for s, p := range rep.LastPrices {
		symbols = append(symbols, s)
		lastPrices[s] = int64(p)
	}
	sort.Strings(symbols)

	var finalEquity int64
	if n := len(rep.EquityCurve); n > 0 {
		finalEquity = int64(rep.EquityCurve[n-1].EquityMicros)
	}

	metrics := backtestMetrics{
		SchemaVersion:     SchemaVersion,
		Halted:            rep.Halted,
		HaltReason:        rep.HaltReason,
		ExecutionBlocked:  rep.ExecutionBlocked,
		Bars:              len(rep.EquityCurve),
		Fills:             len(rep.Fills),
		FinalEquityMicros: finalEquity,
		Symbols:           symbols,
		LastPricesMicros:  lastPrices,
	}
	data, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize metrics: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, files.MetricsJSON), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write metrics.json: %w", err)
	}
	return nil
}
