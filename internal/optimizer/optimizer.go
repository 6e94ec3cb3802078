// Package optimizer implements the constrained grid search of spec §4.6:
// per-candidate validity filtering, APY evaluation, 12-hour expected-return
// scoring, and argmax selection with first-seen tie-breaking.
package optimizer

import (
	"encoding/hex"
	"math"
	"math/big"
	"time"

	"github.com/dittonetwork/rebalance-engine/internal/grid"
	"github.com/dittonetwork/rebalance-engine/internal/vault"
	"github.com/dittonetwork/rebalance-engine/internal/yieldmodel"
)

const hoursPerYear = 8760.0
const horizonHours = 12.0

// candidate holds one grid point's materialized weights, allocations, APYs
// and score.
type candidate struct {
	weights     []float64
	allocations []float64
	apys        []float64
	score       float64
}

// Optimize runs the grid search over states (positionally aligned with
// irms, which may be nil in legacy mode) and returns the best valid
// allocation found, or the degenerate current-allocation fallback of spec
// §4.6 if no candidate is valid.
func Optimize(states []vault.ProtocolState, irms []vault.IRMParams, totalAssets float64, guard vault.GuardState, cfg vault.OptimizerConfig) vault.OptimizationResult {
	start := time.Now()
	n := len(states)

	stepPct := cfg.StepPct
	if stepPct <= 0 {
		stepPct = 1
	}
	steps := 100 / stepPct

	var maxSteps []int
	bounded := totalAssets > 0
	if bounded {
		maxSteps = deriveMaxSteps(states, totalAssets, cfg.MaxPoolShare, guard, steps)
	}

	scenarios := 0
	var best *candidate

	visit := func(counts []int) {
		scenarios++

		weights := make([]float64, n)
		allocations := make([]float64, n)
		for i, c := range counts {
			weights[i] = float64(c) / float64(steps)
			allocations[i] = weights[i] * totalAssets
		}

		if !isValid(allocations, states, guard, cfg) {
			return
		}

		apys := make([]float64, n)
		score := 0.0
		for i := range allocations {
			delta := allocations[i] - states[i].OurBalance
			var irm *vault.IRMParams
			if irms != nil {
				irm = &irms[i]
			}
			apys[i] = yieldmodel.CalcSupplyAPY(states[i].ProtocolType, states[i], irm, delta)
			score += allocations[i] * apys[i] * (horizonHours / hoursPerYear)
		}

		if best == nil || score > best.score {
			best = &candidate{weights: weights, allocations: allocations, apys: apys, score: score}
		}
	}

	if bounded {
		grid.EnumerateBounded(n, steps, maxSteps, visit)
	} else {
		grid.Enumerate(n, steps, visit)
	}

	if best == nil {
		best = degenerateCandidate(states, totalAssets)
	}

	return render(best, scenarios, time.Since(start))
}

// isValid applies the three per-candidate constraints of spec §3:
// blocked-protocol withdraw-only, pool-share cap, and minimum allocation.
func isValid(allocations []float64, states []vault.ProtocolState, guard vault.GuardState, cfg vault.OptimizerConfig) bool {
	for i, alloc := range allocations {
		if guard.IsBlocked(i) && alloc > states[i].OurBalance {
			return false
		}
		delta := alloc - states[i].OurBalance
		shareCap := (states[i].PoolSupply + delta) * cfg.MaxPoolShare
		if alloc > shareCap {
			return false
		}
		if alloc != 0 && alloc < cfg.MinAllocation {
			return false
		}
	}
	return true
}

// deriveMaxSteps computes the per-axis step cap used by the bounded grid
// variant of spec §4.5: a TVL-derived share cap, replaced outright by the
// current balance's share of total assets for blocked protocols. The cap is
// computed in percentage-point units, per spec §4.5's literal wording, and
// only clamped against the grid's own step count at the end — see
// SPEC_FULL.md for why this (rather than also dividing by step_pct) is the
// resolution that keeps the pre-filter a true superset of the validity
// filter at non-default step sizes.
func deriveMaxSteps(states []vault.ProtocolState, totalAssets, maxPoolShare float64, guard vault.GuardState, steps int) []int {
	out := make([]int, len(states))
	for i, s := range states {
		capPct := 100.0
		if maxPoolShare < 1 {
			capAmount := s.PoolSupply * maxPoolShare / (1 - maxPoolShare)
			capPct = math.Ceil(capAmount / totalAssets * 100)
			if capPct > 100 {
				capPct = 100
			}
			if capPct < 0 {
				capPct = 0
			}
		}

		if guard.IsBlocked(i) {
			capPct = math.Floor(s.OurBalance / totalAssets * 100)
		}

		capSteps := int(capPct)
		if capSteps > steps {
			capSteps = steps
		}
		if capSteps < 0 {
			capSteps = 0
		}
		out[i] = capSteps
	}
	return out
}

// degenerateCandidate returns the current allocation verbatim, per the
// "the engine never refuses to respond" rule of spec §4.6.
func degenerateCandidate(states []vault.ProtocolState, totalAssets float64) *candidate {
	n := len(states)
	weights := make([]float64, n)
	allocations := make([]float64, n)
	apys := make([]float64, n)
	for i, s := range states {
		allocations[i] = s.OurBalance
		if totalAssets > 0 {
			weights[i] = s.OurBalance / totalAssets
		}
		apys[i] = s.CurrentAPY
	}
	return &candidate{weights: weights, allocations: allocations, apys: apys, score: 0}
}

func render(c *candidate, scenarios int, elapsed time.Duration) vault.OptimizationResult {
	n := len(c.allocations)
	allocHex := make([]string, n)
	weightHex := make([]string, n)
	weightedApy := 0.0

	for i := range c.allocations {
		allocHex[i] = toU128Hex(c.allocations[i])
		weightHex[i] = toU128Hex(c.weights[i] * 1e18)
		weightedApy += c.weights[i] * c.apys[i]
	}

	return vault.OptimizationResult{
		Allocations:         allocHex,
		Weights:             weightHex,
		AllocationsDecimal:  append([]float64(nil), c.allocations...),
		WeightsDecimal:      append([]float64(nil), c.weights...),
		ExpectedReturn12h:   c.score,
		ExpectedApyWeighted: weightedApy,
		Apys:                append([]float64(nil), c.apys...),
		ScenariosEvaluated:  scenarios,
		TimeMs:              elapsed.Milliseconds(),
	}
}

var u128Max = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// toU128Hex truncates f toward zero into a u128, saturating at u128::MAX,
// and renders it as a 32-byte zero-padded hex string per spec §4.6.
func toU128Hex(f float64) string {
	if f <= 0 || math.IsNaN(f) {
		return zeroHex()
	}

	bi, _ := big.NewFloat(f).Int(nil)
	if bi.Cmp(u128Max) > 0 {
		bi = u128Max
	}

	buf := make([]byte, 32)
	bi.FillBytes(buf)
	return "0x" + hex.EncodeToString(buf)
}

func zeroHex() string {
	return "0x" + hex.EncodeToString(make([]byte, 32))
}
