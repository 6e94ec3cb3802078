package dispatch

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func runDispatch(t *testing.T, body string) map[string]any {
	t.Helper()
	var out bytes.Buffer
	Run(strings.NewReader(body), &out, zap.NewNop())

	var env map[string]any
	if err := json.Unmarshal(out.Bytes(), &env); err != nil {
		t.Fatalf("output is not valid json: %v\noutput: %s", err, out.String())
	}
	return env
}

func TestRun_LegacyModeDefaultAction(t *testing.T) {
	env := runDispatch(t, `{
		"totalAssets": 0,
		"protocols": [{"protocolType": 1}]
	}`)

	if env["ok"] != true {
		t.Fatalf("ok = %v, want true", env["ok"])
	}
	result, ok := env["result"].(map[string]any)
	if !ok {
		t.Fatalf("result is not an object: %v", env["result"])
	}
	if result["success"] != true {
		t.Errorf("success = %v, want true", result["success"])
	}
	if result["scenariosEvaluated"] == nil {
		t.Errorf("missing scenariosEvaluated in result: %v", result)
	}
}

func TestRun_LegacyModeExplicitRebalanceAction(t *testing.T) {
	env := runDispatch(t, `{
		"action": "rebalance",
		"totalAssets": 1000000,
		"protocols": [
			{"poolSupply": 10000000, "poolBorrow": 5000000, "currentApy": 0.04, "protocolType": 1},
			{"poolSupply": 2000000, "poolBorrow": 1000000, "currentApy": 0.03, "protocolType": 2}
		],
		"config": {"stepPct": 10, "minAllocation": 0}
	}`)

	if env["ok"] != true {
		t.Fatalf("ok = %v, want true", env["ok"])
	}
}

func TestRun_UnknownActionSurfacesError(t *testing.T) {
	env := runDispatch(t, `{"action": "bogus"}`)

	if env["ok"] != false {
		t.Fatalf("ok = %v, want false", env["ok"])
	}
	result := env["result"].(map[string]any)
	if result["error"] == nil {
		t.Errorf("expected an error message, got %v", result)
	}
}

func TestRun_MalformedJSONSurfacesInputParseError(t *testing.T) {
	env := runDispatch(t, `not json`)

	if env["ok"] != false {
		t.Fatalf("ok = %v, want false", env["ok"])
	}
}

func TestRun_EmergencyActionMalformedGuardManagerSurfacesError(t *testing.T) {
	env := runDispatch(t, `{"action": "emergency-check", "guardManager": "not-an-address"}`)

	if env["ok"] != false {
		t.Fatalf("ok = %v, want false", env["ok"])
	}
	result := env["result"].(map[string]any)
	if !strings.Contains(result["error"].(string), "address") {
		t.Errorf("error = %v, want it to mention the malformed address", result["error"])
	}
}
