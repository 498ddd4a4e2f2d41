package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"path/filepath"
	"time"

	"github.com/riskkernel/mqk/internal/artifacts"
	"github.com/riskkernel/mqk/internal/audit"
	"github.com/riskkernel/mqk/internal/backtest"
	mqkerrors "github.com/riskkernel/mqk/internal/errors"
	"github.com/riskkernel/mqk/internal/ops"
	"github.com/riskkernel/mqk/internal/schema"
	"github.com/riskkernel/mqk/internal/strategy"
)

// backtestCommand replays a canonical bar CSV through the deterministic
// backtest engine and, when --out is given, writes the run's artifact
// directory (manifest, audit chain, fills, equity curve, metrics). The run
// id and the manifest's creation time are both derived from --seed and the
// input bars, never from the wall clock, so two invocations with the same
// inputs produce byte-identical artifacts.
func backtestCommand(args []string) error {
	fs := flag.NewFlagSet("backtest", flag.ContinueOnError)
	barsPath := fs.String("bars", "", "path to a canonical bar CSV (header: "+`ts_close_utc,open,high,low,close,volume`+")")
	symbol := fs.String("symbol", "", "symbol the CSV covers")
	timeframe := fs.String("timeframe", "1m", "bar timeframe label recorded on each bar")
	engine := fs.String("engine", "MAIN", "engine id")
	initialCash := fs.Int64("initial-cash-micros", 100_000_000_000, "starting cash in micros")
	shadow := fs.Bool("shadow", false, "record equity without executing fills")
	seed := fs.Int64("seed", 1, "determinism seed recorded in the manifest and run id")
	outDir := fs.String("out", "", "exports root for run artifacts; empty skips artifact writing")
	configPath := fs.String("config", "", "optional engine YAML config recorded (hashed) in the manifest")
	gitHash := fs.String("git-hash", "", "build git hash recorded in the manifest")
	hostFingerprint := fs.String("host-fingerprint", "", "host identity recorded in the manifest")
	if err := fs.Parse(args); err != nil {
		return mqkerrors.WithKind(mqkerrors.KindValidationError, err)
	}
	if *barsPath == "" || *symbol == "" {
		return mqkerrors.WithKind(mqkerrors.KindValidationError, fmt.Errorf("--bars and --symbol are required"))
	}
	if *initialCash <= 0 {
		return mqkerrors.WithKind(mqkerrors.KindValidationError, fmt.Errorf("--initial-cash-micros must be > 0"))
	}

	bars, err := backtest.LoadBarsCSV(*barsPath, *symbol, *timeframe)
	if err != nil {
		return err
	}
	if len(bars) == 0 {
		return mqkerrors.WithKind(mqkerrors.KindValidationError, fmt.Errorf("no bars in %s", *barsPath))
	}

	cfg := backtest.ConservativeDefaults()
	cfg.EngineID = schema.EngineID(*engine)
	cfg.RunID = schema.NewRunID(cfg.EngineID, schema.ModeBacktest, *seed)
	cfg.InitialCashMicros = schema.Money(*initialCash)
	cfg.ShadowMode = *shadow

	var configHash string
	var configJSON []byte
	if *configPath != "" {
		loaded, err := ops.Load(*configPath)
		if err != nil {
			return mqkerrors.WithKind(mqkerrors.KindValidationError, err)
		}
		if configHash, err = loaded.Hash(); err != nil {
			return mqkerrors.WithKind(mqkerrors.KindValidationError, err)
		}
		if configJSON, err = json.Marshal(loaded); err != nil {
			return mqkerrors.WithKind(mqkerrors.KindValidationError, err)
		}
	}

	var runDir string
	if *outDir != "" {
		runDir, err = artifacts.InitRun(*outDir, artifacts.RunManifest{
			RunID:                 cfg.RunID,
			EngineID:              cfg.EngineID,
			Mode:                  schema.ModeBacktest,
			GitHash:               *gitHash,
			ConfigHash:            configHash,
			ConfigJSON:            configJSON,
			Seed:                  *seed,
			HostFingerprint:       *hostFingerprint,
			CorporateActionPolicy: "forbid_affected_ranges",
			CreatedAtUTC:          time.Unix(0, bars[0].EndTS).UTC(),
		})
		if err != nil {
			return err
		}
		auditWriter, err := audit.Open(filepath.Join(runDir, artifacts.DefaultFileList().AuditJSONL))
		if err != nil {
			return err
		}
		defer auditWriter.Close()
		cfg.Audit = auditWriter
	}

	eng, err := backtest.New(cfg, strategy.NoOp{})
	if err != nil {
		return err
	}
	report, err := eng.Run(bars)
	if err != nil {
		return err
	}

	if runDir != "" {
		if err := artifacts.WriteBacktestReport(runDir, report); err != nil {
			return err
		}
		fmt.Printf("artifacts_written=true out_dir=%s\n", runDir)
	} else {
		fmt.Println("artifacts_written=false")
	}

	finalEquity := *initialCash
	if n := len(report.EquityCurve); n > 0 {
		finalEquity = int64(report.EquityCurve[n-1].EquityMicros)
	}
	fmt.Println("backtest_ok=true")
	fmt.Printf("run_id=%s\n", cfg.RunID)
	fmt.Printf("bars_loaded=%d\n", len(bars))
	fmt.Printf("fills=%d\n", len(report.Fills))
	fmt.Printf("execution_blocked=%t\n", report.ExecutionBlocked)
	fmt.Printf("halted=%t\n", report.Halted)
	if report.HaltReason != "" {
		fmt.Printf("halt_reason=%s\n", report.HaltReason)
	}
	fmt.Printf("final_equity_micros=%d\n", finalEquity)
	return nil
}
