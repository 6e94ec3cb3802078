// Package dispatch implements the entry dispatcher of spec §4.7: read one
// JSON object from stdin, pick a mode by its action field, and write exactly
// one JSON envelope to stdout regardless of success or failure.
package dispatch

import (
	"context"
	"encoding/json"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/dittonetwork/rebalance-engine/internal/abicodec"
	"github.com/dittonetwork/rebalance-engine/internal/apperrors"
	"github.com/dittonetwork/rebalance-engine/internal/config"
	"github.com/dittonetwork/rebalance-engine/internal/emergency"
	"github.com/dittonetwork/rebalance-engine/internal/optimizer"
	"github.com/dittonetwork/rebalance-engine/internal/rpcchannel"
	"github.com/dittonetwork/rebalance-engine/internal/snapshot"
	"github.com/dittonetwork/rebalance-engine/internal/vault"
)

// configOverride mirrors the optional "config" input field; a nil pointer
// leaves the corresponding OptimizerConfig default untouched.
type configOverride struct {
	StepPct       *int     `json:"stepPct"`
	MaxPoolShare  *float64 `json:"maxPoolShare"`
	MinAllocation *float64 `json:"minAllocation"`
}

// input is the union of every field any mode might read, per spec §6. Modes
// read only the fields relevant to them and ignore the rest.
type input struct {
	Action string `json:"action"`

	VaultDataReader string   `json:"vaultDataReader"`
	Vault           string   `json:"vault"`
	ProtocolTypes   []uint8  `json:"protocolTypes"`
	Pools           []string `json:"pools"`
	ChainID         uint64   `json:"chainId"`

	TotalAssets float64               `json:"totalAssets"`
	Protocols   []vault.ProtocolState `json:"protocols"`
	BlockedMask uint8                 `json:"blockedMask"`

	Config *configOverride `json:"config"`

	GuardManager string `json:"guardManager"`
}

// Run reads one JSON object from r, dispatches it, and writes one JSON
// envelope to w. It never returns an error to the caller: every failure
// mode is carried inside the envelope with "ok": false, per spec §7.
func Run(r io.Reader, w io.Writer, logger *zap.Logger) {
	var in input
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		writeEnvelope(w, errorResult(apperrors.Wrap(apperrors.KindInputParse, err, "parse input json")))
		return
	}

	action := in.Action
	if action == "" {
		action = "rebalance"
	}

	switch action {
	case "emergency-check", "emergency":
		writeEnvelope(w, runEmergency(in, logger))
	case "rebalance":
		writeEnvelope(w, runRebalance(in, logger))
	default:
		writeEnvelope(w, errorResult(apperrors.New(apperrors.KindUnknownAction, "unknown action %q", action)))
	}
}

func runRebalance(in input, logger *zap.Logger) map[string]any {
	cfg := applyConfigOverride(vault.DefaultOptimizerConfig(), in.Config)

	if in.VaultDataReader != "" {
		res, err := runRPCFed(in, cfg, logger)
		if err != nil {
			return errorResult(err)
		}
		return optimizerResult(res)
	}

	guard := vault.GuardState{BlockedMask: in.BlockedMask}
	res := optimizer.Optimize(in.Protocols, nil, in.TotalAssets, guard, cfg)
	return optimizerResult(res)
}

// runRPCFed implements the RPC-fed branch of spec §4.7: decode the
// addresses, fetch a snapshot through the host RPC channel, transform it,
// and run the grid search with IRMParams.
func runRPCFed(in input, cfg vault.OptimizerConfig, logger *zap.Logger) (vault.OptimizationResult, error) {
	readerAddr, err := abicodec.DecodeHexAddress(in.VaultDataReader)
	if err != nil {
		return vault.OptimizationResult{}, err
	}
	vaultAddr, err := abicodec.DecodeHexAddress(in.Vault)
	if err != nil {
		return vault.OptimizationResult{}, err
	}
	pools := make([]common.Address, len(in.Pools))
	for i, p := range in.Pools {
		addr, err := abicodec.DecodeHexAddress(p)
		if err != nil {
			return vault.OptimizationResult{}, err
		}
		pools[i] = addr
	}

	chCfg, err := config.LoadRPCChannelConfig()
	if err != nil {
		return vault.OptimizationResult{}, err
	}
	ch := rpcchannel.New(chCfg, logger)

	callData, err := abicodec.EncodeGetSnapshotCall(vaultAddr, in.ProtocolTypes, pools)
	if err != nil {
		return vault.OptimizationResult{}, err
	}

	raw, err := rpcchannel.EthCall(context.Background(), ch, in.ChainID, readerAddr, callData)
	if err != nil {
		return vault.OptimizationResult{}, err
	}

	snap, err := abicodec.DecodeSnapshot(raw)
	if err != nil {
		return vault.OptimizationResult{}, err
	}

	t := snapshot.Transform(*snap)
	return optimizer.Optimize(t.States, t.IRMs, t.TotalAssets, t.GuardState, cfg), nil
}

func runEmergency(in input, logger *zap.Logger) map[string]any {
	guardManager, err := abicodec.DecodeHexAddress(in.GuardManager)
	if err != nil {
		return errorResult(err)
	}

	chCfg, err := config.LoadRPCChannelConfig()
	if err != nil {
		return errorResult(err)
	}
	ch := rpcchannel.New(chCfg, logger)

	res, err := emergency.Run(context.Background(), ch, in.ChainID, guardManager, logger)
	if err != nil {
		return errorResult(err)
	}
	return emergencyResult(res)
}

func applyConfigOverride(cfg vault.OptimizerConfig, override *configOverride) vault.OptimizerConfig {
	if override == nil {
		return cfg
	}
	if override.StepPct != nil {
		cfg.StepPct = *override.StepPct
	}
	if override.MaxPoolShare != nil {
		cfg.MaxPoolShare = *override.MaxPoolShare
	}
	if override.MinAllocation != nil {
		cfg.MinAllocation = *override.MinAllocation
	}
	return cfg
}

func optimizerResult(res vault.OptimizationResult) map[string]any {
	return map[string]any{
		"ok":                  true,
		"success":             true,
		"value":               res.Weights,
		"allocations":         res.Allocations,
		"allocationsDecimal":  res.AllocationsDecimal,
		"weights":             res.Weights,
		"weightsDecimal":      res.WeightsDecimal,
		"expectedReturn12h":   res.ExpectedReturn12h,
		"expectedApyWeighted": res.ExpectedApyWeighted,
		"apys":                res.Apys,
		"scenariosEvaluated":  res.ScenariosEvaluated,
		"timeMs":              res.TimeMs,
	}
}

func emergencyResult(res emergency.Result) map[string]any {
	out := map[string]any{
		"ok":               true,
		"success":          true,
		"shouldActivate":   res.ShouldActivate,
		"aggregatedStatus": res.AggregatedStatus,
		"isEmergencyMode":  res.IsEmergencyMode,
		"dataFresh":        res.DataFresh,
		"message":          res.Message,
	}
	if res.SkipRemainingSteps {
		out["skipRemainingSteps"] = true
	}
	return out
}

func errorResult(err error) map[string]any {
	return map[string]any{"ok": false, "success": false, "error": err.Error()}
}

func writeEnvelope(w io.Writer, result map[string]any) {
	ok, _ := result["ok"].(bool)
	env := map[string]any{"ok": ok, "result": result}
	data, err := json.Marshal(env)
	if err != nil {
		// marshal of our own well-typed maps cannot fail in practice; fall
		// back to a minimal hand-built envelope rather than writing nothing.
		w.Write([]byte(`{"ok":false,"result":{"ok":false,"success":false,"error":"failed to marshal result"}}` + "\n"))
		return
	}
	w.Write(append(data, '\n'))
}
