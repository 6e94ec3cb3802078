package dispatch

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// The following mirror types/schema are a second, independent encoder for
// the same nine-field getSnapshot tuple abicodec.DecodeSnapshot expects
// (spec §3/§4.2) — built directly against gethabi rather than through the
// abicodec package, so this test exercises the real wire format end to end
// instead of asserting a package decodes its own encoding. Compare
// internal/abicodec/codec_test.go's encodeTestSnapshot, which does the same
// for abicodec's own package-level round-trip test.

type fixtureIRM struct {
	Kink1         *big.Int
	RateAtKink1   *big.Int
	Kink2         *big.Int
	RateAtKink2   *big.Int
	RateAtMax     *big.Int
	ReserveFactor *big.Int
}

type fixtureProtocol struct {
	ProtocolType        uint8
	Pool                common.Address
	OurBalance          *big.Int
	PoolTotalSupply     *big.Int
	PoolTotalBorrow     *big.Int
	UtilizationWad      *big.Int
	CurrentApyWad       *big.Int
	Irm                 fixtureIRM
	MetaTotalAssets     *big.Int
	MetaTotalSupply     *big.Int
	MetaLastTotalAssets *big.Int
	MetaLastUpdate      uint64
}

type fixtureGuardState struct {
	BlockedMask   uint8
	EmergencyMode bool
	EmergencyAll  bool
}

type fixtureSnapshot struct {
	Asset             common.Address
	TotalAssets       *big.Int
	LooseCash         *big.Int
	TargetWeights     []*big.Int
	LastRebalanceTime *big.Int
	RebalanceCooldown *big.Int
	SnapshotTimestamp *big.Int
	Protocols         []fixtureProtocol
	GuardState        fixtureGuardState
}

func fixtureSnapshotType(t *testing.T) gethabi.Type {
	t.Helper()
	irmComponents := []gethabi.ArgumentMarshaling{
		{Name: "kink1", Type: "uint256"},
		{Name: "rateAtKink1", Type: "uint256"},
		{Name: "kink2", Type: "uint256"},
		{Name: "rateAtKink2", Type: "uint256"},
		{Name: "rateAtMax", Type: "uint256"},
		{Name: "reserveFactor", Type: "uint256"},
	}
	protocolComponents := []gethabi.ArgumentMarshaling{
		{Name: "protocolType", Type: "uint8"},
		{Name: "pool", Type: "address"},
		{Name: "ourBalance", Type: "uint256"},
		{Name: "poolTotalSupply", Type: "uint256"},
		{Name: "poolTotalBorrow", Type: "uint256"},
		{Name: "utilizationWad", Type: "uint256"},
		{Name: "currentApyWad", Type: "uint256"},
		{Name: "irm", Type: "tuple", Components: irmComponents},
		{Name: "metaTotalAssets", Type: "uint256"},
		{Name: "metaTotalSupply", Type: "uint256"},
		{Name: "metaLastTotalAssets", Type: "uint256"},
		{Name: "metaLastUpdate", Type: "uint64"},
	}
	guardComponents := []gethabi.ArgumentMarshaling{
		{Name: "blockedMask", Type: "uint8"},
		{Name: "emergencyMode", Type: "bool"},
		{Name: "emergencyAll", Type: "bool"},
	}
	typ, err := gethabi.NewType("tuple", "", []gethabi.ArgumentMarshaling{
		{Name: "asset", Type: "address"},
		{Name: "totalAssets", Type: "uint256"},
		{Name: "looseCash", Type: "uint256"},
		{Name: "targetWeights", Type: "uint256[]"},
		{Name: "lastRebalanceTime", Type: "uint48"},
		{Name: "rebalanceCooldown", Type: "uint48"},
		{Name: "snapshotTimestamp", Type: "uint48"},
		{Name: "protocols", Type: "tuple[]", Components: protocolComponents},
		{Name: "guardState", Type: "tuple", Components: guardComponents},
	})
	if err != nil {
		t.Fatalf("build fixture snapshot type: %v", err)
	}
	return typ
}

// encodeFixtureSnapshot packs snap and prepends the 32-byte struct-return
// offset word a real getSnapshot contract call emits ahead of the tuple
// (spec §4.2).
func encodeFixtureSnapshot(t *testing.T, snap fixtureSnapshot) []byte {
	t.Helper()
	args := gethabi.Arguments{{Type: fixtureSnapshotType(t)}}
	packed, err := args.Pack(snap)
	if err != nil {
		t.Fatalf("pack fixture snapshot: %v", err)
	}
	out := make([]byte, 32+len(packed))
	out[31] = 0x20
	copy(out[32:], packed)
	return out
}

// serveGetSnapshot starts a background file-drop responder that answers the
// first request it sees with resultBytes, mirroring the fakeGuardManager
// pattern in internal/emergency/emergency_test.go.
func serveGetSnapshot(t *testing.T, dir string, resultBytes []byte) {
	t.Helper()
	reqPath := filepath.Join(dir, "req.json")
	respPath := filepath.Join(dir, "resp.json")
	go func() {
		data, err := waitForRequestFile(reqPath, 2*time.Second)
		if err != nil || data == nil {
			return
		}
		resp, _ := json.Marshal(map[string]string{"result": "0x" + hex.EncodeToString(resultBytes)})
		os.WriteFile(respPath, resp, 0o644)
		os.Remove(reqPath)
	}()
}

func waitForRequestFile(path string, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(path); err == nil {
			return data, nil
		}
		time.Sleep(time.Millisecond)
	}
	return nil, os.ErrDeadlineExceeded
}

// TestRun_RPCFedModeEndToEnd drives the full chain spec §1 calls "the
// core": dispatch selects the RPC-fed branch, abicodec encodes the
// getSnapshot call (the fixture responder answers the first request it sees
// without inspecting it), rpcchannel's file-drop transport carries the
// request/response pair,
// abicodec decodes the returned tuple, snapshot transforms it to floats,
// and optimizer runs the grid search — asserting the allocation that comes
// back out the other end, not just that each package works in isolation.
func TestRun_RPCFedModeEndToEnd(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WASM_RPC_WORK_DIR", dir)
	t.Setenv("WASM_RPC_REQUEST_FILE", "req.json")
	t.Setenv("WASM_RPC_RESPONSE_FILE", "resp.json")

	pool := common.HexToAddress("0x2222222222222222222222222222222222222222")

	snap := fixtureSnapshot{
		Asset:             common.HexToAddress("0x1111111111111111111111111111111111111111"),
		TotalAssets:       big.NewInt(1_000_000),
		LooseCash:         big.NewInt(0),
		TargetWeights:     []*big.Int{},
		LastRebalanceTime: big.NewInt(1_700_000_000),
		RebalanceCooldown: big.NewInt(3600),
		SnapshotTimestamp: big.NewInt(1_700_003_600),
		Protocols: []fixtureProtocol{
			{
				ProtocolType:    1,
				Pool:            pool,
				OurBalance:      big.NewInt(0),
				PoolTotalSupply: big.NewInt(10_000_000),
				PoolTotalBorrow: big.NewInt(5_000_000),
				UtilizationWad:  big.NewInt(5e17),
				CurrentApyWad:   big.NewInt(4e16),
				Irm: fixtureIRM{
					Kink1: big.NewInt(0), RateAtKink1: big.NewInt(0),
					Kink2: big.NewInt(0), RateAtKink2: big.NewInt(0),
					RateAtMax: big.NewInt(0), ReserveFactor: big.NewInt(0),
				},
				MetaTotalAssets:     big.NewInt(0),
				MetaTotalSupply:     big.NewInt(0),
				MetaLastTotalAssets: big.NewInt(0),
				MetaLastUpdate:      0,
			},
		},
		GuardState: fixtureGuardState{BlockedMask: 0, EmergencyMode: false, EmergencyAll: false},
	}

	serveGetSnapshot(t, dir, encodeFixtureSnapshot(t, snap))

	body := fmt.Sprintf(`{
		"action": "rebalance",
		"vaultDataReader": "0x9999999999999999999999999999999999999999",
		"vault": "0x1111111111111111111111111111111111111111",
		"protocolTypes": [1],
		"pools": ["%s"],
		"chainId": 1,
		"config": {"stepPct": 10, "minAllocation": 0}
	}`, pool.Hex())

	var out bytes.Buffer
	Run(strings.NewReader(body), &out, zap.NewNop())

	var env map[string]any
	if err := json.Unmarshal(out.Bytes(), &env); err != nil {
		t.Fatalf("output is not valid json: %v\noutput: %s", err, out.String())
	}

	if env["ok"] != true {
		t.Fatalf("ok = %v, result = %v", env["ok"], env["result"])
	}
	result, ok := env["result"].(map[string]any)
	if !ok {
		t.Fatalf("result is not an object: %v", env["result"])
	}
	if result["success"] != true {
		t.Errorf("success = %v, want true", result["success"])
	}

	allocations, ok := result["allocationsDecimal"].([]any)
	if !ok || len(allocations) != 1 {
		t.Fatalf("allocationsDecimal = %v, want a single-element array", result["allocationsDecimal"])
	}
	if got, want := allocations[0].(float64), 1_000_000.0; got != want {
		t.Errorf("allocationsDecimal[0] = %v, want %v (sole protocol takes the whole TVL)", got, want)
	}

	weights, ok := result["weightsDecimal"].([]any)
	if !ok || len(weights) != 1 || weights[0].(float64) != 1.0 {
		t.Errorf("weightsDecimal = %v, want [1]", result["weightsDecimal"])
	}

	if result["scenariosEvaluated"].(float64) < 1 {
		t.Errorf("scenariosEvaluated = %v, want at least 1", result["scenariosEvaluated"])
	}
}
