// Package rpcchannel implements the file-drop host/guest RPC transport of
// spec §4.1: a cooperative, strictly-serialized request/response exchange
// across a sandbox boundary, using two well-known file names in a shared
// working directory.
package rpcchannel

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dittonetwork/rebalance-engine/internal/apperrors"
	"github.com/dittonetwork/rebalance-engine/internal/config"
)

const (
	pollInterval = 10 * time.Millisecond
	callTimeout  = 10 * time.Second
)

// Channel is a single host/guest RPC transport bound to one working
// directory. A Channel is safe to share but enforces at most one in-flight
// call, mirroring the relay layer's single-pending-request-per-connection
// discipline (internal/relay/ethereum.go's pendingReqs map in the teacher
// project, simplified here to a single slot since there is no connection
// multiplexing).
type Channel struct {
	cfg    config.RPCChannelConfig
	logger *zap.Logger

	mu        sync.Mutex
	requestID int64
}

// New builds a Channel bound to cfg, logging diagnostics through logger.
func New(cfg config.RPCChannelConfig, logger *zap.Logger) *Channel {
	return &Channel{cfg: cfg, logger: logger}
}

// NextRequestID returns a monotonically increasing JSON-RPC request id,
// starting at 1.
func (c *Channel) NextRequestID() int64 {
	return atomic.AddInt64(&c.requestID, 1)
}

// Call writes req to the request file, polls for the response file to
// appear, and returns its raw decoded JSON. At most one Call may be
// in-flight on a given Channel at a time; concurrent callers block on the
// Channel's internal lock, which is what gives the protocol its
// strict request-then-response ordering.
func (c *Channel) Call(ctx context.Context, req any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reqPath := filepath.Join(c.cfg.WorkDir, c.cfg.RequestFile)
	respPath := filepath.Join(c.cfg.WorkDir, c.cfg.ResponseFile)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInputParse, err, "marshal rpc request")
	}

	if err := os.WriteFile(reqPath, body, 0o644); err != nil {
		return nil, apperrors.Wrap(apperrors.KindRpcError, err, "write rpc request file %s", reqPath)
	}

	c.logger.Debug("rpc request written", zap.String("path", reqPath))

	deadline := time.Now().Add(callTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if data, ok := tryReadResponse(respPath); ok {
			os.Remove(reqPath)
			os.Remove(respPath)

			var env struct {
				Error json.RawMessage `json:"error"`
			}
			if err := json.Unmarshal(data, &env); err == nil && len(env.Error) > 0 && string(env.Error) != "null" {
				return nil, apperrors.New(apperrors.KindRpcError, "host returned error: %s", string(env.Error))
			}
			return data, nil
		}

		if time.Now().After(deadline) {
			os.Remove(reqPath)
			c.logger.Error("rpc call timed out", zap.String("path", reqPath))
			return nil, apperrors.New(apperrors.KindRpcTimeout, "RPC call timeout after 10s")
		}

		select {
		case <-ctx.Done():
			os.Remove(reqPath)
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func tryReadResponse(path string) ([]byte, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}
