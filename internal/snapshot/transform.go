// Package snapshot converts a decoded on-chain VaultSnapshot (wide
// integers, WAD/bps fixed point) into the floating-point domain values the
// grid search operates on, per spec §4.4.
package snapshot

import (
	"math/big"

	"github.com/dittonetwork/rebalance-engine/internal/vault"
	"github.com/dittonetwork/rebalance-engine/internal/yieldmodel"
)

const (
	wadScale = 1e18
	bpsScale = 1e4
)

// low128 masks x down to its low 128 bits, the lossy-but-deliberate
// truncation spec §9 calls for: token amounts up to ~2^53 base units stay
// exact through the subsequent float64 conversion, larger ones erode.
func low128(x *big.Int) *big.Int {
	if x == nil {
		return big.NewInt(0)
	}
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	return new(big.Int).And(x, mask)
}

func toFloat(x *big.Int) float64 {
	f := new(big.Float).SetInt(low128(x))
	v, _ := f.Float64()
	return v
}

// AmountToFloat casts a raw token-unit amount to float64 (low 128 bits,
// no scale division).
func AmountToFloat(x *big.Int) float64 { return toFloat(x) }

// WadToFloat converts a WAD (1e18) fixed-point value to a natural-units
// float64.
func WadToFloat(x *big.Int) float64 { return toFloat(x) / wadScale }

// BpsToFloat converts a basis-point (1e4) fixed-point value to a
// natural-units float64.
func BpsToFloat(x *big.Int) float64 { return toFloat(x) / bpsScale }

// Transformed is the floating-point view of a vault snapshot ready for the
// grid search.
type Transformed struct {
	TotalAssets float64
	GuardState  vault.GuardState
	States      []vault.ProtocolState
	IRMs        []vault.IRMParams
}

// Transform converts the decoded on-chain snapshot into floats, computing
// MetaMorpho's current APY via the dilution model and reading every other
// protocol's current APY directly from its WAD field. is_blocked is left
// false in every ProtocolState: callers read the blocked bit from
// GuardState.BlockedMask directly so positional alignment with the mask
// survives any later reordering.
func Transform(snap vault.VaultSnapshot) Transformed {
	n := len(snap.Protocols)
	states := make([]vault.ProtocolState, n)
	irms := make([]vault.IRMParams, n)

	for i, p := range snap.Protocols {
		state := vault.ProtocolState{
			OurBalance:   AmountToFloat(p.OurBalance),
			PoolSupply:   AmountToFloat(p.PoolTotalSupply),
			PoolBorrow:   AmountToFloat(p.PoolTotalBorrow),
			Utilization:  WadToFloat(p.UtilizationWad),
			ProtocolType: p.ProtocolType,
			IsBlocked:    false,
		}

		irm := vault.IRMParams{
			Kink1:         BpsToFloat(p.IRM.Kink1),
			RateAtKink1:   BpsToFloat(p.IRM.RateAtKink1),
			Kink2:         BpsToFloat(p.IRM.Kink2),
			RateAtKink2:   BpsToFloat(p.IRM.RateAtKink2),
			RateAtMax:     BpsToFloat(p.IRM.RateAtMax),
			ReserveFactor: BpsToFloat(p.IRM.ReserveFactor),
		}

		if p.ProtocolType == vault.ProtocolMorpho {
			state.CurrentAPY = yieldmodel.DilutionAPYCurrent(
				AmountToFloat(p.MetaTotalAssets),
				AmountToFloat(p.MetaTotalSupply),
				AmountToFloat(p.MetaLastTotalAssets),
				p.MetaLastUpdate,
				snap.SnapshotTimestamp,
			)
		} else {
			state.CurrentAPY = WadToFloat(p.CurrentApyWad)
		}

		states[i] = state
		irms[i] = irm
	}

	return Transformed{
		TotalAssets: AmountToFloat(snap.TotalAssets),
		GuardState:  snap.GuardState,
		States:      states,
		IRMs:        irms,
	}
}
