// Command mqkd is the long-running engine daemon: it loads one run's
// effective config, wires the full gate stack (arm-state, gateway, risk,
// integrity, reconcile, portfolio, audit), serves /metrics, and drives
// internal/orchestrator until told to stop. One process owns exactly one
// run. Wiring order follows load config, build bus/state/metrics, start
// consumer goroutines, block on signal, with continuous profiling
// available via an opt-in pyroscope.Start bootstrap.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"

	"github.com/riskkernel/mqk/internal/armstate"
	"github.com/riskkernel/mqk/internal/audit"
	"github.com/riskkernel/mqk/internal/broker"
	"github.com/riskkernel/mqk/internal/calendar"
	"github.com/riskkernel/mqk/internal/clock"
	"github.com/riskkernel/mqk/internal/gateway"
	"github.com/riskkernel/mqk/internal/integrity"
	"github.com/riskkernel/mqk/internal/obs"
	"github.com/riskkernel/mqk/internal/ops"
	"github.com/riskkernel/mqk/internal/orchestrator"
	"github.com/riskkernel/mqk/internal/portfolio"
	"github.com/riskkernel/mqk/internal/risk"
	"github.com/riskkernel/mqk/internal/runlifecycle"
	"github.com/riskkernel/mqk/internal/schema"
	"github.com/riskkernel/mqk/internal/store"
)

func main() {
	runID := flag.String("run-id", "", "run id to drive (must already be ARMED)")
	configPath := flag.String("config", "", "path to the run's effective engine YAML config")
	dsn := flag.String("db", os.Getenv("MQK_DB_DSN"), "postgres connection string")
	httpAddr := flag.String("http-addr", ":9090", "address to serve /metrics on")
	initialCash := flag.Int64("initial-cash", 10_000_000_000, "starting cash in micros, paper/backtest only")
	auditPath := flag.String("audit-path", "", "path to this run's audit.jsonl (default: ./<run-id>-audit.jsonl)")
	armFlagPath := flag.String("arm-flag-file", "", "externally observable arm flag file for host watchdogs (default: ./<run-id>.armed)")
	brokerKind := flag.String("broker", "paper", "broker adapter: paper (in-process) or ws (paper-trading server over websocket)")
	brokerURL := flag.String("broker-url", "", "paper-trading server websocket url, required with --broker=ws")
	pyroscopeAddr := flag.String("pyroscope-addr", "", "pyroscope server address; empty disables profiling")
	flag.Parse()

	if *runID == "" || *configPath == "" {
		logs.Errorf("mqkd: --run-id and --config are required")
		os.Exit(2)
	}

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "mqkd." + *runID,
			ServerAddress:   *pyroscopeAddr,
			Tags:            map[string]string{"run_id": *runID},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			logs.Errorf("mqkd: pyroscope start failed: %v", err)
		} else {
			defer func() { _ = profiler.Stop() }()
		}
	}

	if err := run(*runID, *configPath, *dsn, *httpAddr, *initialCash, *auditPath, *armFlagPath, *brokerKind, *brokerURL); err != nil {
		logs.Errorf("mqkd: %v", err)
		os.Exit(1)
	}
}

func run(runIDStr, configPath, dsn, httpAddr string, initialCash int64, auditPath, armFlagPath, brokerKind, brokerURL string) error {
	cfg, err := ops.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(store.Option{ConnString: dsn})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	runID := schema.RunID(runIDStr)
	row, err := db.FetchRun(runID)
	if err != nil {
		return fmt.Errorf("fetch run: %w", err)
	}
	mode := schema.RunMode(row.Mode)
	engineID := schema.EngineID(row.EngineID)

	configHash, err := cfg.Hash()
	if err != nil {
		return fmt.Errorf("hash config: %w", err)
	}
	if err := db.AssertRunBinding(runID, engineID, mode, configHash); err != nil {
		return fmt.Errorf("run binding check: %w", err)
	}

	if armFlagPath == "" {
		armFlagPath = fmt.Sprintf("./%s.armed", runIDStr)
	}
	arm := armstate.New(db).WithFlagFile(armFlagPath)
	// Boot policy: a process that finds ARMED persisted forces DISARMED /
	// BootDefault, since arming evidence never survives a process boundary. The
	// operator re-arms through `mqk run arm` after a clean reconcile.
	armVal, armReason, err := arm.Boot()
	if err != nil {
		return fmt.Errorf("arm-state boot: %w", err)
	}
	logs.Infof("mqkd: arm-state at boot: %s/%s", armVal, armReason)

	lifecycle := runlifecycle.New(db, arm)
	clk := clock.Real{}

	riskEng := risk.NewEngine(cfg.Risk)
	integEng := integrity.NewEngine(integrity.Config{
		Mode:           mode,
		StrictGaps:     true,
		StaleThreshold: time.Duration(cfg.StaleThresholdMs) * time.Millisecond,
		Calendar:       calendar.New(nil),
	})
	ledger := portfolio.New(schema.Money(initialCash))

	if auditPath == "" {
		auditPath = fmt.Sprintf("./%s-audit.jsonl", runIDStr)
	}
	auditW, err := audit.Open(auditPath)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditW.Close()

	metrics := obs.NewMetrics()
	reg := obs.NewRegistry(metrics)

	// orch is captured by the ws broker's fill handler before it exists; the
	// reader goroutine only starts delivering fills once the dial returns,
	// and orch is assigned before RecoverOnBoot/Run, so the nil window is
	// confined to this wiring block.
	var orch *orchestrator.Orchestrator
	var brk orchestrator.SnapshotBroker
	switch brokerKind {
	case "paper":
		brk = broker.NewPaper()
	case "ws":
		if brokerURL == "" {
			return fmt.Errorf("--broker-url is required with --broker=ws")
		}
		pws, err := broker.DialPaperWS(brokerURL, func(fill schema.Fill) {
			if orch != nil {
				orch.OnBrokerFill(fill)
			}
		})
		if err != nil {
			return fmt.Errorf("dial paper-trading server: %w", err)
		}
		defer pws.Close()
		brk = pws
	default:
		return fmt.Errorf("unknown broker %q (want paper or ws)", brokerKind)
	}

	gwCfg := gateway.Config{RunID: runID, EngineID: engineID, ResendOnReconnect: true, FreshnessBoundMs: cfg.Reconcile.FreshnessBound}
	gw := gateway.New(gwCfg, riskEng, arm, db)
	dispatcher := gateway.NewDispatcher(runIDStr+"-dispatcher", gw, brk)

	orchCfg := orchestrator.DefaultConfig(runID, engineID, mode)
	orchCfg.DeadmanTTL = time.Duration(cfg.DeadmanTTLMs) * time.Millisecond

	orch = orchestrator.New(orchCfg, clk, db, arm, lifecycle, gw, dispatcher, brk, ledger, riskEng, integEng, nil, auditW, metrics)

	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler(reg))
	httpServer := &http.Server{Addr: httpAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Errorf("mqkd: metrics server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orch.RecoverOnBoot(); err != nil {
		return fmt.Errorf("boot recovery: %w", err)
	}

	logs.Infof("mqkd: driving run %s engine=%s mode=%s", runIDStr, engineID, mode)
	err = orch.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("orchestrator run: %w", err)
	}
	return nil
}
