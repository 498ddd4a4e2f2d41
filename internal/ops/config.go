// Package ops loads and hashes the effective engine configuration: risk
// limits, reconcile freshness bound, arm confirmation policy, calendar
// settings, stress profile, corporate-action policy, and broker credential
// env-var namespacing. Config is authored as YAML and hashed as canonical
// JSON so config_hash is stable regardless of key order or formatting.
package ops

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/riskkernel/mqk/internal/risk"
	"github.com/riskkernel/mqk/internal/schema"
)

// CorporateActionPolicy chooses how a backtest handles a corporate action
// falling inside its date range: apply it deterministically, or forbid the
// range outright. This deployment chose ForbidAffectedRanges (see DESIGN.md).
type CorporateActionPolicy string

const (
	CorporateActionForbidAffectedRanges CorporateActionPolicy = "forbid_affected_ranges"
	CorporateActionApplyDeterministic   CorporateActionPolicy = "apply_deterministic"
)

// ReconcileConfig controls the reconcile gate.
type ReconcileConfig struct {
	// FreshnessBound is the maximum age a reconcile checkpoint's watermark
	// may have and still count as CLEAN for arming. There is no default:
	// a zero value fails Validate, requiring every deployment to set this
	// explicitly rather than inherit a silent one.
	FreshnessBound int64 `yaml:"freshness_bound_ms"`
	// RepairByPrefixHeuristic is an explicit policy flag, not an inferred
	// scheme. Default false.
	RepairByPrefixHeuristic bool `yaml:"repair_by_prefix_heuristic"`
}

// KillSwitchPolicies is the opt-in arm-preflight block from mqk-db's
// arm_preflight: require_killswitch_policies.
type KillSwitchPolicies struct {
	Enabled                bool   `yaml:"enabled"`
	StalePolicy            string `yaml:"stale_policy"`
	FeedDisagreementPolicy string `yaml:"feed_disagreement_policy"`
	MaxRejectsPerWindow    int    `yaml:"max_rejects_per_window"`
}

// ArmConfig controls arm-preflight beyond the reconcile/risk gates.
type ArmConfig struct {
	RequireCleanReconcile bool               `yaml:"require_clean_reconcile"`
	KillSwitchPolicies    KillSwitchPolicies `yaml:"killswitch_policies"`
}

// StressProfile scales backtest slippage/latency beyond the base config;
// it may only ever make fills worse for the account, never better.
type StressProfile struct {
	Name               string `yaml:"name"`
	SlippageMultiplier int64  `yaml:"slippage_multiplier_bps_per_1x"` // applied as a multiplier in bps-space
	LatencyMillis      int64  `yaml:"latency_millis"`
}

// Validate rejects a stress profile that could favor the account.
func (s StressProfile) Validate() error {
	if s.SlippageMultiplier < 0 {
		return fmt.Errorf("stress profile %q: slippage multiplier must be >= 0, got %d", s.Name, s.SlippageMultiplier)
	}
	if s.LatencyMillis < 0 {
		return fmt.Errorf("stress profile %q: latency must be >= 0", s.Name)
	}
	return nil
}

// BrokerCredentials describes the env var namespace an engine's broker
// credentials must live under: each var name must embed the engine id so
// two engines sharing a host can never read each other's credentials.
type BrokerCredentials struct {
	APIKeyEnvVar    string `yaml:"api_key_env_var"`
	APISecretEnvVar string `yaml:"api_secret_env_var"`
}

// Validate checks that both env var names embed the engine id and that
// both are actually set.
func (b BrokerCredentials) Validate(engine schema.EngineID) error {
	if b.APIKeyEnvVar == "" || b.APISecretEnvVar == "" {
		return fmt.Errorf("broker credential env var names are not configured")
	}
	if !containsEngineID(b.APIKeyEnvVar, engine) || !containsEngineID(b.APISecretEnvVar, engine) {
		return fmt.Errorf("broker credential env var names must contain engine id %q", engine)
	}
	if os.Getenv(b.APIKeyEnvVar) == "" || os.Getenv(b.APISecretEnvVar) == "" {
		return fmt.Errorf("broker credential env vars %s/%s are not set", b.APIKeyEnvVar, b.APISecretEnvVar)
	}
	return nil
}

func containsEngineID(envVar string, engine schema.EngineID) bool {
	if engine == "" {
		return false
	}
	return len(envVar) >= len(string(engine)) && indexOf(envVar, string(engine)) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

// Config is the full effective engine configuration.
type Config struct {
	Engine            schema.EngineID       `yaml:"engine"`
	Risk              risk.Config           `yaml:"risk"`
	Reconcile         ReconcileConfig       `yaml:"reconcile"`
	Arm               ArmConfig             `yaml:"arm"`
	Stress            StressProfile         `yaml:"stress"`
	CorporateActions  CorporateActionPolicy `yaml:"corporate_action_policy"`
	BrokerCredentials BrokerCredentials     `yaml:"broker_credentials"`
	StaleThresholdMs  int64                 `yaml:"stale_threshold_ms"`
	DeadmanTTLMs      int64                 `yaml:"deadman_ttl_ms"`
}

// Load reads a YAML config file and validates it.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the ambient invariants that must hold before a config
// is ever used to arm a run. Feature-specific validation (e.g. LIVE-only
// risk floors) happens in runlifecycle's arm-preflight, which has the run
// mode in hand; this only validates internal consistency.
func (c Config) Validate() error {
	if c.Engine == "" {
		return fmt.Errorf("config: engine id is required")
	}
	if c.Reconcile.FreshnessBound <= 0 {
		return fmt.Errorf("config: reconcile.freshness_bound_ms must be set explicitly and be > 0")
	}
	if c.StaleThresholdMs <= 0 {
		return fmt.Errorf("config: stale_threshold_ms must be > 0")
	}
	if c.DeadmanTTLMs <= 0 {
		return fmt.Errorf("config: deadman_ttl_ms must be > 0")
	}
	if err := c.Stress.Validate(); err != nil {
		return err
	}
	switch c.CorporateActions {
	case CorporateActionForbidAffectedRanges, CorporateActionApplyDeterministic, "":
	default:
		return fmt.Errorf("config: unknown corporate_action_policy %q", c.CorporateActions)
	}
	if c.Arm.KillSwitchPolicies.Enabled {
		if c.Arm.KillSwitchPolicies.StalePolicy == "" || c.Arm.KillSwitchPolicies.StalePolicy == "IGNORE" {
			return fmt.Errorf("config: killswitch_policies.stale_policy must be set and non-IGNORE when enabled")
		}
		if c.Arm.KillSwitchPolicies.FeedDisagreementPolicy == "" || c.Arm.KillSwitchPolicies.FeedDisagreementPolicy == "IGNORE" {
			return fmt.Errorf("config: killswitch_policies.feed_disagreement_policy must be set and non-IGNORE when enabled")
		}
		if c.Arm.KillSwitchPolicies.MaxRejectsPerWindow <= 0 {
			return fmt.Errorf("config: killswitch_policies.max_rejects_per_window must be > 0 when enabled")
		}
	}
	return nil
}
