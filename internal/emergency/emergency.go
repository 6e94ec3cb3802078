// Package emergency implements the emergency monitor peer of spec §4.8:
// three read-only guard-manager calls and a decision gate over whether to
// activate emergency mode.
package emergency

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/dittonetwork/rebalance-engine/internal/abicodec"
	"github.com/dittonetwork/rebalance-engine/internal/rpcchannel"
)

// Result is the decision produced by Run, rendered into the output
// envelope by the entry dispatcher.
type Result struct {
	ShouldActivate     bool
	SkipRemainingSteps bool
	AggregatedStatus   uint8
	IsEmergencyMode    bool
	DataFresh          bool
	Message            string
}

// StatusNormal is getAggregatedStatus()'s NORMAL value.
const StatusNormal uint8 = 0

// Run walks the decision table of spec §4.8 against guardManager on chainID,
// calling through ch.
func Run(ctx context.Context, ch *rpcchannel.Channel, chainID uint64, guardManager common.Address, logger *zap.Logger) (Result, error) {
	isEmergency, err := callBool(ctx, ch, chainID, guardManager, abicodec.EncodeIsEmergencyModeCall())
	if err != nil {
		return Result{}, err
	}
	if isEmergency {
		logger.Info("guard manager already in emergency mode")
		return Result{SkipRemainingSteps: true, IsEmergencyMode: true, Message: "guard manager already in emergency mode"}, nil
	}

	guards, err := callGuards(ctx, ch, chainID, guardManager)
	if err != nil {
		return Result{}, err
	}

	enabled, stale := 0, 0
	for _, g := range guards {
		if g.Enabled {
			enabled++
			if g.IsStale {
				stale++
			}
		}
	}
	if stale > 0 {
		msg := fmt.Sprintf("%d/%d enabled guards are stale", stale, enabled)
		logger.Info(msg)
		return Result{SkipRemainingSteps: true, DataFresh: false, Message: msg}, nil
	}

	status, err := callUint8(ctx, ch, chainID, guardManager, abicodec.EncodeGetAggregatedStatusCall())
	if err != nil {
		msg := fmt.Sprintf("failed to read aggregated status despite fresh guards: %v", err)
		logger.Error(msg)
		return Result{SkipRemainingSteps: true, DataFresh: true, Message: msg}, nil
	}

	if status == StatusNormal {
		return Result{SkipRemainingSteps: true, AggregatedStatus: status, DataFresh: true, Message: "aggregated status is normal"}, nil
	}

	return Result{
		ShouldActivate:   true,
		AggregatedStatus: status,
		DataFresh:        true,
		Message:          fmt.Sprintf("aggregated status %d requires activation", status),
	}, nil
}

func callBool(ctx context.Context, ch *rpcchannel.Channel, chainID uint64, to common.Address, data []byte) (bool, error) {
	raw, err := rpcchannel.EthCall(ctx, ch, chainID, to, data)
	if err != nil {
		return false, err
	}
	return abicodec.DecodeBool(raw)
}

func callUint8(ctx context.Context, ch *rpcchannel.Channel, chainID uint64, to common.Address, data []byte) (uint8, error) {
	raw, err := rpcchannel.EthCall(ctx, ch, chainID, to, data)
	if err != nil {
		return 0, err
	}
	return abicodec.DecodeUint8(raw)
}

func callGuards(ctx context.Context, ch *rpcchannel.Channel, chainID uint64, to common.Address) ([]abicodec.GuardStatus, error) {
	raw, err := rpcchannel.EthCall(ctx, ch, chainID, to, abicodec.EncodeGetGuardsStalenessCall())
	if err != nil {
		return nil, err
	}
	return abicodec.DecodeGuardsStaleness(raw)
}
