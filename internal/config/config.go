// Package config loads the small set of environment variables this engine
// reads, following the same load-dotenv-then-read-env pattern as the
// teacher project's internal/config package.
package config

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/dittonetwork/rebalance-engine/internal/apperrors"
)

const (
	envWorkDir      = "WASM_RPC_WORK_DIR"
	envRequestFile  = "WASM_RPC_REQUEST_FILE"
	envResponseFile = "WASM_RPC_RESPONSE_FILE"

	defaultRequestFile  = "wasm_rpc_request.json"
	defaultResponseFile = "wasm_rpc_response.json"
)

// RPCChannelConfig is the file-drop transport's working directory and file
// names, per spec §4.1.
type RPCChannelConfig struct {
	WorkDir      string
	RequestFile  string
	ResponseFile string
}

// loadDotEnv best-effort loads a .env file from the working directory. A
// missing file is not an error: most deployments set these variables
// directly in the process environment.
func loadDotEnv() {
	_ = godotenv.Load()
}

// LoadRPCChannelConfig reads the RPC channel configuration from the
// environment. WASM_RPC_WORK_DIR is required; the request/response file
// names fall back to their documented defaults.
func LoadRPCChannelConfig() (RPCChannelConfig, error) {
	loadDotEnv()

	workDir := os.Getenv(envWorkDir)
	if workDir == "" {
		return RPCChannelConfig{}, apperrors.New(apperrors.KindConfigMissing, "%s is not set", envWorkDir)
	}

	return RPCChannelConfig{
		WorkDir:      workDir,
		RequestFile:  getEnv(envRequestFile, defaultRequestFile),
		ResponseFile: getEnv(envResponseFile, defaultResponseFile),
	}, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
