// Command rebalance-engine is the sandboxed decision engine's entry point:
// wire a logger and the entry dispatcher, then run exactly once per process.
package main

import (
	"os"

	"github.com/dittonetwork/rebalance-engine/internal/dispatch"
	"github.com/dittonetwork/rebalance-engine/internal/wasmlog"
)

func main() {
	logger := wasmlog.New()
	defer logger.Sync()

	dispatch.Run(os.Stdin, os.Stdout, logger)

	// The run() host ABI entry point always returns to the caller; errors are
	// carried inside the JSON envelope on stdout, never via exit status.
	os.Exit(0)
}
