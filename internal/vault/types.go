// Package vault holds the data model decoded from (or supplied in lieu of)
// an on-chain vault snapshot: §3 of the specification.
package vault

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ProtocolType tags a lending venue.
type ProtocolType uint8

const (
	ProtocolUnknown ProtocolType = 0
	ProtocolAave    ProtocolType = 1
	ProtocolSpark   ProtocolType = 2
	ProtocolFluid   ProtocolType = 3
	ProtocolMorpho  ProtocolType = 4
)

func (pt ProtocolType) String() string {
	switch pt {
	case ProtocolAave:
		return "AAVE"
	case ProtocolSpark:
		return "SPARK"
	case ProtocolFluid:
		return "FLUID"
	case ProtocolMorpho:
		return "MORPHO"
	default:
		return "UNKNOWN"
	}
}

// GuardState carries the blocked mask and emergency flags decoded alongside
// a snapshot.
type GuardState struct {
	BlockedMask   uint8
	EmergencyMode bool
	EmergencyAll  bool
}

// IsBlocked reports whether protocol index i is withdraw-only.
func (g GuardState) IsBlocked(i int) bool {
	if i < 0 || i > 7 {
		return false
	}
	return g.BlockedMask>>uint(i)&1 == 1
}

// IRMRaw holds the six basis-point interest-rate-model parameters exactly as
// decoded from chain (scale 10^4), before the snapshot transformer converts
// them to natural units.
type IRMRaw struct {
	Kink1         *big.Int
	RateAtKink1   *big.Int
	Kink2         *big.Int
	RateAtKink2   *big.Int
	RateAtMax     *big.Int
	ReserveFactor *big.Int
}

// ProtocolData is one lending venue's on-chain state, positionally aligned
// with the input protocolTypes/pools arrays.
type ProtocolData struct {
	ProtocolType ProtocolType
	Pool         common.Address

	OurBalance      *big.Int
	PoolTotalSupply *big.Int
	PoolTotalBorrow *big.Int
	UtilizationWad  *big.Int
	CurrentApyWad   *big.Int

	IRM IRMRaw

	// MetaMorpho-only fields.
	MetaTotalAssets     *big.Int
	MetaTotalSupply     *big.Int
	MetaLastTotalAssets *big.Int
	MetaLastUpdate      uint64
}

// VaultSnapshot is the full decoded return value of getSnapshot.
type VaultSnapshot struct {
	Asset             common.Address
	TotalAssets       *big.Int
	LooseCash         *big.Int
	TargetWeights     []*big.Int
	LastRebalanceTime uint64
	RebalanceCooldown uint64
	SnapshotTimestamp uint64
	Protocols         []ProtocolData
	GuardState        GuardState
}

// IRMParams holds the six IRM parameters in natural (0.0-1.0) units after
// transformation.
type IRMParams struct {
	Kink1         float64
	RateAtKink1   float64
	Kink2         float64
	RateAtKink2   float64
	RateAtMax     float64
	ReserveFactor float64
}

// IsDoubleKink reports whether this parameter set describes a double-kink
// curve per §4.3's dispatch rule.
func (p IRMParams) IsDoubleKink() bool {
	return p.Kink2 > 0 && p.Kink2 > p.Kink1
}

// ProtocolState is the post-transform, floating-point view of one protocol
// used by the grid search.
type ProtocolState struct {
	OurBalance   float64      `json:"ourBalance"`
	PoolSupply   float64      `json:"poolSupply"`
	PoolBorrow   float64      `json:"poolBorrow"`
	Utilization  float64      `json:"utilization"`
	CurrentAPY   float64      `json:"currentApy"`
	IsBlocked    bool         `json:"isBlocked"`
	ProtocolType ProtocolType `json:"protocolType"`
}

// OptimizerConfig tunes the grid search. Zero values are not valid; use
// DefaultOptimizerConfig and override individual fields.
type OptimizerConfig struct {
	StepPct       int
	MaxPoolShare  float64
	MinAllocation float64
}

// DefaultOptimizerConfig returns the defaults named in spec §3.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		StepPct:       1,
		MaxPoolShare:  0.20,
		MinAllocation: 1000.0,
	}
}

// OptimizationResult is the output of the optimizer driver, before JSON
// envelope rendering.
type OptimizationResult struct {
	Allocations         []string
	Weights             []string
	AllocationsDecimal  []float64
	WeightsDecimal      []float64
	ExpectedReturn12h   float64
	ExpectedApyWeighted float64
	Apys                []float64
	ScenariosEvaluated  int
	TimeMs              int64
}
