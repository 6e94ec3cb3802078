package rpcchannel

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dittonetwork/rebalance-engine/internal/apperrors"
)

// ethCallParams is the single positional parameter object of a JSON-RPC
// eth_call, per spec §6.
type ethCallParams struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

// ethCallRequest is the full JSON-RPC 2.0 envelope this engine sends for
// every on-chain read.
type ethCallRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	ChainID uint64 `json:"chainId"`
	Params  []any  `json:"params"`
}

type ethCallResponse struct {
	Result string          `json:"result"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// EthCall wraps data as an eth_call against "to" on chainID, sends it
// through ch, and returns the decoded result bytes.
func EthCall(ctx context.Context, ch *Channel, chainID uint64, to common.Address, data []byte) ([]byte, error) {
	req := ethCallRequest{
		JSONRPC: "2.0",
		ID:      ch.NextRequestID(),
		Method:  "eth_call",
		ChainID: chainID,
		Params: []any{
			ethCallParams{To: to.Hex(), Data: "0x" + hex.EncodeToString(data)},
			"latest",
		},
	}

	raw, err := ch.Call(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp ethCallResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, apperrors.Wrap(apperrors.KindRpcError, err, "decode eth_call response envelope")
	}
	if len(resp.Error) > 0 && string(resp.Error) != "null" {
		return nil, apperrors.New(apperrors.KindRpcError, "eth_call failed: %s", string(resp.Error))
	}

	result := strings.TrimPrefix(resp.Result, "0x")
	result = strings.TrimPrefix(result, "0X")
	b, err := hex.DecodeString(result)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindHexDecode, err, "decode eth_call result")
	}
	return b, nil
}
