// Command mqk is the operator surface: it starts, arms, begins, stops, and
// halts runs, migrates the schema, verifies the audit chain, and replays
// backtests. `audit emit` is refused here: events are emitted by a live run.
// Every subcommand is a thin wrapper over internal/runlifecycle,
// internal/store, and internal/audit — this binary holds no business logic
// of its own. Dispatch is a flag.NewFlagSet per subcommand rather than a
// third-party CLI framework.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/yanun0323/logs"

	"github.com/riskkernel/mqk/internal/armstate"
	"github.com/riskkernel/mqk/internal/audit"
	mqkerrors "github.com/riskkernel/mqk/internal/errors"
	"github.com/riskkernel/mqk/internal/ops"
	"github.com/riskkernel/mqk/internal/reconcile"
	"github.com/riskkernel/mqk/internal/runlifecycle"
	"github.com/riskkernel/mqk/internal/schema"
	"github.com/riskkernel/mqk/internal/store"
)

// exitForError maps a closed ErrorKind to the operator-surface exit code
// contract: 0 success, 2 validation, 3 state conflict, 4 safety refusal,
// 1 anything else (including an error carrying no Kind at all).
func exitForError(err error) int {
	if err == nil {
		return 0
	}
	kind, ok := mqkerrors.Kind(err)
	if !ok {
		return 1
	}
	switch kind {
	case mqkerrors.KindValidationError:
		return 2
	case mqkerrors.KindPreconditionFailed:
		// A gate-closed precondition (missing preflight, arm not confirmed)
		// is validation-shaped and stays exit 2; a precondition failure
		// carrying "reconcile-dirty" is a blocked state transition and maps
		// to exit 3, matching the state-conflict family below.
		if strings.Contains(err.Error(), "reconcile-dirty") {
			return 3
		}
		return 2
	case mqkerrors.KindStateConflict, mqkerrors.KindReconcileDirty:
		return 3
	case mqkerrors.KindSecurityRefusal:
		return 4
	default:
		return 1
	}
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: mqk <run|db|audit|backtest> <subcommand> [flags]")
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(os.Args[2:])
	case "db":
		err = dbCommand(os.Args[2:])
	case "audit":
		err = auditCommand(os.Args[2:])
	case "backtest":
		err = backtestCommand(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		logs.Errorf("mqk: %v", err)
	}
	os.Exit(exitForError(err))
}

func openStore(dsn string) (*store.Store, error) {
	if dsn == "" {
		return nil, mqkerrors.WithKind(mqkerrors.KindValidationError, fmt.Errorf("--db dsn is required"))
	}
	return store.Open(store.Option{ConnString: dsn})
}

func runCommand(args []string) error {
	if len(args) < 1 {
		return mqkerrors.WithKind(mqkerrors.KindValidationError, fmt.Errorf("usage: mqk run <start|arm|begin|stop|halt|heartbeat> [flags]"))
	}
	switch args[0] {
	case "start":
		return runStart(args[1:])
	case "arm":
		return runArm(args[1:])
	case "begin":
		return runLifecycleCall(args[1:], "begin")
	case "stop":
		return runLifecycleCall(args[1:], "stop")
	case "halt":
		return runLifecycleCall(args[1:], "halt")
	case "heartbeat":
		return runLifecycleCall(args[1:], "heartbeat")
	default:
		return mqkerrors.WithKind(mqkerrors.KindValidationError, fmt.Errorf("unknown run subcommand %q", args[0]))
	}
}

func runStart(args []string) error {
	fs := flag.NewFlagSet("run start", flag.ContinueOnError)
	engine := fs.String("engine", "", "engine id")
	mode := fs.String("mode", "", "run mode: backtest|paper|live")
	configPath := fs.String("config", "", "path to engine YAML config")
	dsn := fs.String("db", os.Getenv("MQK_DB_DSN"), "postgres connection string")
	gitHash := fs.String("git-hash", "", "build git hash recorded on the run row")
	hostFingerprint := fs.String("host-fingerprint", "", "host identity recorded on the run row")
	if err := fs.Parse(args); err != nil {
		return mqkerrors.WithKind(mqkerrors.KindValidationError, err)
	}
	if *engine == "" || *mode == "" || *configPath == "" {
		return mqkerrors.WithKind(mqkerrors.KindValidationError, fmt.Errorf("--engine, --mode, and --config are required"))
	}

	runMode := schema.RunMode(*mode)
	switch runMode {
	case schema.ModeBacktest, schema.ModePaper, schema.ModeLive:
	default:
		return mqkerrors.WithKind(mqkerrors.KindValidationError, fmt.Errorf("unknown mode %q", *mode))
	}

	cfg, err := ops.Load(*configPath)
	if err != nil {
		return mqkerrors.WithKind(mqkerrors.KindValidationError, err)
	}
	configHash, err := cfg.Hash()
	if err != nil {
		return mqkerrors.WithKind(mqkerrors.KindValidationError, err)
	}

	db, err := openStore(*dsn)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	runID := schema.NewRunID(schema.EngineID(*engine), runMode, now.UnixNano())
	lifecycle := runlifecycle.New(db, armstate.New(db))
	if err := lifecycle.Create(store.NewRun{
		RunID:           runID,
		EngineID:        schema.EngineID(*engine),
		Mode:            runMode,
		StartedAtUTC:    now,
		GitHash:         *gitHash,
		ConfigHash:      configHash,
		Config:          cfg,
		HostFingerprint: *hostFingerprint,
	}); err != nil {
		return err
	}
	fmt.Println(string(runID))
	return nil
}

func runArm(args []string) error {
	fs := flag.NewFlagSet("run arm", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	confirm := fs.String("confirm", "", `LIVE confirmation string: "ARM LIVE <account_last4> <daily_loss_limit>"`)
	dsn := fs.String("db", os.Getenv("MQK_DB_DSN"), "postgres connection string")
	if err := fs.Parse(args); err != nil {
		return mqkerrors.WithKind(mqkerrors.KindValidationError, err)
	}
	if *runID == "" {
		return mqkerrors.WithKind(mqkerrors.KindValidationError, fmt.Errorf("--run-id is required"))
	}

	db, err := openStore(*dsn)
	if err != nil {
		return err
	}
	row, err := db.FetchRun(schema.RunID(*runID))
	if err != nil {
		return err
	}
	mode := schema.RunMode(row.Mode)
	if mode == schema.ModeLive {
		if err := checkArmConfirmation(*confirm); err != nil {
			return err
		}
	}

	lifecycle := runlifecycle.New(db, armstate.New(db))
	// BACKTEST/PAPER never reach the broker, so there is nothing to
	// reconcile against; LIVE's local/broker snapshots are supplied by the
	// daemon that owns the live gateway, not by this one-shot CLI call —
	// an empty snapshot pair is therefore only valid for non-LIVE runs,
	// matching runlifecycle.Arm's own mode check.
	return lifecycle.Arm(schema.RunID(*runID), mode, reconcile.LocalSnapshot{}, reconcile.BrokerSnapshot{})
}

// checkArmConfirmation validates the operator confirmation string's shape:
// "ARM LIVE <account_last4> <daily_loss_limit>". The exact expected values
// are a deployment-specific secret (the account's last 4 digits and its
// configured daily loss limit), so this only validates the literal prefix
// and field count; the daemon that actually owns the account binds the
// real values before forwarding the confirmation on to arm-preflight.
func checkArmConfirmation(confirm string) error {
	var tail1, tail2, tail3, tail4 string
	n, _ := fmt.Sscanf(confirm, "ARM LIVE %s %s %s %s", &tail1, &tail2, &tail3, &tail4)
	if n != 2 {
		return mqkerrors.WithKind(mqkerrors.KindValidationError, fmt.Errorf(`confirmation must read "ARM LIVE <account_last4> <daily_loss_limit>"`))
	}
	return nil
}

func runLifecycleCall(args []string, verb string) error {
	fs := flag.NewFlagSet("run "+verb, flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	reason := fs.String("reason", "", "disarm reason (halt only)")
	dsn := fs.String("db", os.Getenv("MQK_DB_DSN"), "postgres connection string")
	if err := fs.Parse(args); err != nil {
		return mqkerrors.WithKind(mqkerrors.KindValidationError, err)
	}
	if *runID == "" {
		return mqkerrors.WithKind(mqkerrors.KindValidationError, fmt.Errorf("--run-id is required"))
	}

	db, err := openStore(*dsn)
	if err != nil {
		return err
	}
	lifecycle := runlifecycle.New(db, armstate.New(db))

	switch verb {
	case "begin":
		// Same reasoning as runArm's empty snapshot pair: a LIVE run's real
		// local/broker snapshots live with the daemon that owns the gateway,
		// not this one-shot CLI call, so an empty pair is only valid for
		// non-LIVE runs, matching runlifecycle.Begin's own mode check.
		return lifecycle.Begin(schema.RunID(*runID), reconcile.LocalSnapshot{}, reconcile.BrokerSnapshot{})
	case "stop":
		return lifecycle.Stop(schema.RunID(*runID))
	case "halt":
		r := schema.DisarmManual
		if *reason != "" {
			r = schema.DisarmReason(*reason)
		}
		return lifecycle.Halt(schema.RunID(*runID), r)
	case "heartbeat":
		return lifecycle.Heartbeat(schema.RunID(*runID))
	default:
		return mqkerrors.WithKind(mqkerrors.KindValidationError, fmt.Errorf("unknown run subcommand %q", verb))
	}
}

func dbCommand(args []string) error {
	if len(args) < 1 || args[0] != "migrate" {
		return mqkerrors.WithKind(mqkerrors.KindValidationError, fmt.Errorf("usage: mqk db migrate [--yes]"))
	}
	fs := flag.NewFlagSet("db migrate", flag.ContinueOnError)
	yes := fs.Bool("yes", false, "proceed even if a LIVE run is ARMED/RUNNING")
	dsn := fs.String("db", os.Getenv("MQK_DB_DSN"), "postgres connection string")
	if err := fs.Parse(args[1:]); err != nil {
		return mqkerrors.WithKind(mqkerrors.KindValidationError, err)
	}

	db, err := openStore(*dsn)
	if err != nil {
		return err
	}
	if !*yes {
		active, err := db.HasActiveLiveRuns()
		if err != nil {
			return err
		}
		if active {
			return mqkerrors.WithKind(mqkerrors.KindSecurityRefusal, fmt.Errorf("refusing migrate: a LIVE run is ARMED or RUNNING; pass --yes to override"))
		}
	}
	return db.Migrate()
}

func auditCommand(args []string) error {
	if len(args) < 1 {
		return mqkerrors.WithKind(mqkerrors.KindValidationError, fmt.Errorf("usage: mqk audit <emit|verify> [flags]"))
	}
	switch args[0] {
	case "verify":
		return auditVerify(args[1:])
	case "emit":
		return mqkerrors.WithKind(mqkerrors.KindValidationError, fmt.Errorf("audit emit runs inline as part of an active run; there is nothing to emit from this CLI standalone"))
	default:
		return mqkerrors.WithKind(mqkerrors.KindValidationError, fmt.Errorf("unknown audit subcommand %q", args[0]))
	}
}

func auditVerify(args []string) error {
	fs := flag.NewFlagSet("audit verify", flag.ContinueOnError)
	path := fs.String("path", "", "path to the run's audit.jsonl")
	if err := fs.Parse(args); err != nil {
		return mqkerrors.WithKind(mqkerrors.KindValidationError, err)
	}
	if *path == "" {
		return mqkerrors.WithKind(mqkerrors.KindValidationError, fmt.Errorf("--path is required"))
	}

	result, err := audit.Verify(*path)
	if err != nil {
		return mqkerrors.WithKind(mqkerrors.KindDataIntegrity, err)
	}
	if !result.Valid {
		fmt.Printf("audit chain broken at line %d: %s\n", result.BreakIndex, result.Reason)
		return mqkerrors.WithKind(mqkerrors.KindCorruption, fmt.Errorf("audit chain broken at line %d: %s", result.BreakIndex, result.Reason))
	}
	fmt.Printf("audit chain valid: %d lines\n", result.Lines)
	return nil
}
