package risk

import (
	"fmt"
	"math/big"

	"github.com/riskkernel/mqk/internal/schema"
)

// EnforceAllocationCap rejects a risk-increasing intent whose worst-case
// notional would push gross exposure over equity * maxGrossExposureMult
// (expressed in micros, so 1_000_000 == 1.0x leverage). A non-nil error
// means reject; callers must skip the intent without halting the run — a
// breached allocation cap is a normal, expected rejection, not a fault.
//
// maxGrossExposureMult <= 0 disables the check (no cap configured).
// proposedNotional must be the worst-case (slippage-adjusted) fill price
// times quantity, not the mid: this bound is deliberately pessimistic and
// deterministic, matching the conservative-fill posture the rest of this
// kernel takes toward ambiguous pricing. math/big avoids any overflow in
// the equity*mult multiplication, which routinely exceeds int64 range for
// large accounts at even modest leverage multiples.
func EnforceAllocationCap(equity, grossExposure, proposedNotional schema.Money, maxGrossExposureMult int64) error {
	if maxGrossExposureMult <= 0 {
		return nil
	}
	capMicros := new(big.Int).Mul(big.NewInt(int64(equity)), big.NewInt(maxGrossExposureMult))
	capMicros.Quo(capMicros, big.NewInt(1_000_000))

	projected := new(big.Int).Add(big.NewInt(int64(grossExposure)), big.NewInt(int64(proposedNotional)))
	if projected.Cmp(capMicros) > 0 {
		return fmt.Errorf("allocation cap breached: projected exposure %s exceeds cap %s", projected, capMicros)
	}
	return nil
}
