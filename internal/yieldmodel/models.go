// Package yieldmodel implements the pure numeric yield functions of spec
// §4.3: single- and double-kink interest rate models, supply rate
// derivation, utilization update, and the MetaMorpho dilution model.
//
// Every function here is a pure function of its arguments; none perform
// I/O or allocate state, and they use plain float64 arithmetic with no
// numerics package at all (see DESIGN.md for why no third-party numerics
// library is used).
package yieldmodel

import "github.com/dittonetwork/rebalance-engine/internal/vault"

const (
	secondsPerYear   = 31_536_000.0
	dilutionFallback = 7 * 24 * 3600.0
	dilutionMinDt    = 3600.0
	dilutionMaxDt    = 30 * 24 * 3600.0
)

// SingleKinkBorrowRate computes the piecewise-linear single-kink borrow
// rate at utilization u.
func SingleKinkBorrowRate(u, kink1, rateAtKink1, rateAtMax float64) float64 {
	if u <= 0 {
		return 0
	}
	if u <= kink1 {
		if kink1 == 0 {
			return 0
		}
		return u * rateAtKink1 / kink1
	}
	if 1-kink1 <= 0 {
		return rateAtMax
	}
	return rateAtKink1 + (rateAtMax-rateAtKink1)*(u-kink1)/(1-kink1)
}

// DoubleKinkBorrowRate computes the three-segment double-kink borrow rate.
func DoubleKinkBorrowRate(u, kink1, rateAtKink1, kink2, rateAtKink2, rateAtMax float64) float64 {
	if u <= 0 {
		return 0
	}
	if u <= kink1 {
		if kink1 == 0 {
			return 0
		}
		return u * rateAtKink1 / kink1
	}
	if kink2 > kink1 && u <= kink2 {
		return rateAtKink1 + (rateAtKink2-rateAtKink1)*(u-kink1)/(kink2-kink1)
	}

	// Segment 3: extrapolate from the higher of (kink1, rateAtKink1) /
	// (kink2, rateAtKink2) to (1, rateAtMax).
	fromU, fromRate := kink1, rateAtKink1
	if kink2 > kink1 {
		fromU, fromRate = kink2, rateAtKink2
	}
	if 1-fromU <= 0 {
		return rateAtMax
	}
	return fromRate + (rateAtMax-fromRate)*(u-fromU)/(1-fromU)
}

// SupplyRate derives the supply rate paid to depositors from the borrow
// rate, utilization, and reserve factor.
func SupplyRate(borrowRate, utilization, reserveFactor float64) float64 {
	return borrowRate * utilization * (1 - reserveFactor)
}

// UtilizationAfterDelta returns the pool utilization after adding delta to
// poolSupply, holding poolBorrow fixed.
func UtilizationAfterDelta(poolSupply, poolBorrow, delta float64) float64 {
	newSupply := poolSupply + delta
	if newSupply <= 0 {
		return 1.0
	}
	u := poolBorrow / newSupply
	if u > 1 {
		return 1
	}
	return u
}

// DilutionAPYCurrent computes a MetaMorpho-style meta-vault's current APY
// from the change in its share price over time.
func DilutionAPYCurrent(totalAssets, totalSupply, lastTotalAssets float64, lastUpdate, snapshotTs uint64) float64 {
	if totalSupply <= 0 || totalAssets <= 0 {
		return 0
	}
	if lastTotalAssets <= 0 {
		if lastUpdate == 0 {
			return 0.05
		}
		return 0
	}
	if lastTotalAssets >= totalAssets {
		return 0
	}
	if snapshotTs == 0 {
		return 0.05
	}

	dt := dilutionTimeDelta(lastUpdate, snapshotTs)
	return (totalAssets - lastTotalAssets) / lastTotalAssets * secondsPerYear / dt
}

// dilutionTimeDelta computes the elapsed seconds used by the dilution
// model, falling back to 7 days and clamping to [1h, 30d] per spec §4.3.
func dilutionTimeDelta(lastUpdate, snapshotTs uint64) float64 {
	if lastUpdate == 0 || lastUpdate >= snapshotTs || snapshotTs == 0 {
		return dilutionFallback
	}
	dt := float64(snapshotTs - lastUpdate)
	if dt < dilutionMinDt {
		return dilutionMinDt
	}
	if dt > dilutionMaxDt {
		return dilutionMaxDt
	}
	return dt
}

// DilutionAPYAfterDelta scales a meta-vault's current APY by the dilution
// effect of adding delta to poolSupply.
func DilutionAPYAfterDelta(currentApy, poolSupply, delta float64) float64 {
	denom := poolSupply + delta
	if denom <= 0 {
		return 0
	}
	return currentApy * poolSupply / denom
}

// DefaultIRMParams returns the per-protocol default IRM parameters used
// when no IRM data is supplied (legacy mode), per spec §4.3.
func DefaultIRMParams(pt vault.ProtocolType) vault.IRMParams {
	switch pt {
	case vault.ProtocolAave, vault.ProtocolSpark:
		return vault.IRMParams{Kink1: 0.90, RateAtKink1: 0.04, Kink2: 0, RateAtKink2: 0, RateAtMax: 0.75, ReserveFactor: 0.10}
	case vault.ProtocolFluid:
		return vault.IRMParams{Kink1: 0.93, RateAtKink1: 0.10, Kink2: 0, RateAtKink2: 0, RateAtMax: 0.25, ReserveFactor: 0}
	case vault.ProtocolMorpho:
		return vault.IRMParams{Kink1: 1.0, RateAtKink1: 0.05, Kink2: 0, RateAtKink2: 0, RateAtMax: 0.05, ReserveFactor: 0}
	default:
		return vault.IRMParams{Kink1: 0.90, RateAtKink1: 0.05, Kink2: 0, RateAtKink2: 0, RateAtMax: 0.50, ReserveFactor: 0.05}
	}
}

// isAbsent reports whether an IRM parameter set carries no real data (the
// "IRM-params set is absent" condition of spec §4.3): a zero kink1 means
// the curve was never populated, since a legitimate single-kink curve
// always has kink1 > 0.
func isAbsent(p *vault.IRMParams) bool {
	return p == nil || p.Kink1 <= 0
}

// CalcSupplyAPY computes the supply-side APY a protocol would pay after
// adding delta to its current balance, dispatching between the dilution
// model (MetaMorpho) and the IRM models (everyone else) per spec §4.3.
func CalcSupplyAPY(pt vault.ProtocolType, state vault.ProtocolState, irm *vault.IRMParams, delta float64) float64 {
	if pt == vault.ProtocolMorpho {
		return DilutionAPYAfterDelta(state.CurrentAPY, state.PoolSupply, delta)
	}

	params := DefaultIRMParams(pt)
	if !isAbsent(irm) {
		params = *irm
	}

	u := UtilizationAfterDelta(state.PoolSupply, state.PoolBorrow, delta)

	var borrowRate float64
	if params.IsDoubleKink() {
		borrowRate = DoubleKinkBorrowRate(u, params.Kink1, params.RateAtKink1, params.Kink2, params.RateAtKink2, params.RateAtMax)
	} else {
		borrowRate = SingleKinkBorrowRate(u, params.Kink1, params.RateAtKink1, params.RateAtMax)
	}
	return SupplyRate(borrowRate, u, params.ReserveFactor)
}
