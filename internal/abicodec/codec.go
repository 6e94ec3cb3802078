// Package abicodec encodes the one outbound call this engine makes
// (getSnapshot) and three read-only guard-manager calls, and decodes their
// ABI-encoded return data, per spec §4.2 and §6.
//
// Rather than hand-rolling the 32-byte head/tail offset arithmetic, the
// schema for each return value is expressed as a tree of go-ethereum
// abi.ArgumentMarshaling nodes and walked with reflect after
// abi.Arguments.UnpackValues does the actual offset/length decoding — the
// "generic walker over a schema tree" spec §9's design notes recommend.
package abicodec

import (
	"encoding/hex"
	"math/big"
	"reflect"
	"strings"

	gethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/dittonetwork/rebalance-engine/internal/apperrors"
	"github.com/dittonetwork/rebalance-engine/internal/vault"
)

// Selector is the first 4 bytes of keccak256(signature), the standard
// Solidity function selector.
type Selector [4]byte

func (s Selector) Bytes() []byte { return s[:] }

func newSelector(signature string) Selector {
	hash := crypto.Keccak256([]byte(signature))
	var sel Selector
	copy(sel[:], hash[:4])
	return sel
}

var (
	SelectorGetSnapshot         = newSelector("getSnapshot(address,uint8[],address[])")
	SelectorIsEmergencyMode     = newSelector("isEmergencyMode()")
	SelectorGetGuardsStaleness  = newSelector("getGuardsStaleness()")
	SelectorGetAggregatedStatus = newSelector("getAggregatedStatus()")
)

// DecodeHexAddress parses a 0x-prefixed 20-byte address, surfacing a
// HexDecodeError on any malformed input.
func DecodeHexAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, apperrors.New(apperrors.KindHexDecode, "not a valid address: %q", s)
	}
	return common.HexToAddress(s), nil
}

// DecodeHexBytes parses a 0x-prefixed hex byte string.
func DecodeHexBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindHexDecode, err, "invalid hex string")
	}
	return b, nil
}

// ---- getSnapshot -----------------------------------------------------

// EncodeGetSnapshotCall ABI-encodes a getSnapshot(address,uint8[],address[])
// call.
func EncodeGetSnapshotCall(vaultAddr common.Address, protocolTypes []uint8, pools []common.Address) ([]byte, error) {
	addressType, _ := gethabi.NewType("address", "", nil)
	uint8ArrType, _ := gethabi.NewType("uint8[]", "", nil)
	addressArrType, _ := gethabi.NewType("address[]", "", nil)

	args := gethabi.Arguments{
		{Type: addressType},
		{Type: uint8ArrType},
		{Type: addressArrType},
	}
	packed, err := args.Pack(vaultAddr, protocolTypes, pools)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindAbiDecode, err, "encode getSnapshot call")
	}

	data := make([]byte, 0, 4+len(packed))
	data = append(data, SelectorGetSnapshot.Bytes()...)
	data = append(data, packed...)
	return data, nil
}

func irmComponents() []gethabi.ArgumentMarshaling {
	return []gethabi.ArgumentMarshaling{
		{Name: "kink1", Type: "uint256"},
		{Name: "rateAtKink1", Type: "uint256"},
		{Name: "kink2", Type: "uint256"},
		{Name: "rateAtKink2", Type: "uint256"},
		{Name: "rateAtMax", Type: "uint256"},
		{Name: "reserveFactor", Type: "uint256"},
	}
}

func protocolComponents() []gethabi.ArgumentMarshaling {
	return []gethabi.ArgumentMarshaling{
		{Name: "protocolType", Type: "uint8"},
		{Name: "pool", Type: "address"},
		{Name: "ourBalance", Type: "uint256"},
		{Name: "poolTotalSupply", Type: "uint256"},
		{Name: "poolTotalBorrow", Type: "uint256"},
		{Name: "utilizationWad", Type: "uint256"},
		{Name: "currentApyWad", Type: "uint256"},
		{Name: "irm", Type: "tuple", Components: irmComponents()},
		{Name: "metaTotalAssets", Type: "uint256"},
		{Name: "metaTotalSupply", Type: "uint256"},
		{Name: "metaLastTotalAssets", Type: "uint256"},
		{Name: "metaLastUpdate", Type: "uint64"},
	}
}

func guardStateComponents() []gethabi.ArgumentMarshaling {
	return []gethabi.ArgumentMarshaling{
		{Name: "blockedMask", Type: "uint8"},
		{Name: "emergencyMode", Type: "bool"},
		{Name: "emergencyAll", Type: "bool"},
	}
}

func snapshotType() (gethabi.Type, error) {
	return gethabi.NewType("tuple", "", []gethabi.ArgumentMarshaling{
		{Name: "asset", Type: "address"},
		{Name: "totalAssets", Type: "uint256"},
		{Name: "looseCash", Type: "uint256"},
		{Name: "targetWeights", Type: "uint256[]"},
		{Name: "lastRebalanceTime", Type: "uint48"},
		{Name: "rebalanceCooldown", Type: "uint48"},
		{Name: "snapshotTimestamp", Type: "uint48"},
		{Name: "protocols", Type: "tuple[]", Components: protocolComponents()},
		{Name: "guardState", Type: "tuple", Components: guardStateComponents()},
	})
}

// DecodeSnapshot decodes a getSnapshot return payload. Per spec §4.2 the
// payload carries a leading 32-byte struct-return offset word ahead of the
// nine-field tuple, which must be skipped before decoding.
func DecodeSnapshot(raw []byte) (*vault.VaultSnapshot, error) {
	const offsetWordLen = 32
	if len(raw) < offsetWordLen {
		return nil, apperrors.UnexpectedArity(len(raw), offsetWordLen)
	}
	body := raw[offsetWordLen:]

	typ, err := snapshotType()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindAbiDecode, err, "build snapshot abi type")
	}
	args := gethabi.Arguments{{Type: typ}}
	vals, err := args.UnpackValues(body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindAbiDecode, err, "decode snapshot tuple")
	}
	if len(vals) != 1 {
		return nil, apperrors.UnexpectedArity(len(vals), 1)
	}

	root := reflect.ValueOf(vals[0])
	snap := &vault.VaultSnapshot{}

	var ok bool
	if snap.Asset, ok = field[common.Address](root, "Asset"); !ok {
		return nil, apperrors.UnexpectedTokenKind("asset", field[any](root, "Asset"))
	}
	snap.TotalAssets, _ = field[*big.Int](root, "TotalAssets")
	snap.LooseCash, _ = field[*big.Int](root, "LooseCash")
	snap.TargetWeights, _ = field[[]*big.Int](root, "TargetWeights")
	snap.LastRebalanceTime = uint48Field(root, "LastRebalanceTime")
	snap.RebalanceCooldown = uint48Field(root, "RebalanceCooldown")
	snap.SnapshotTimestamp = uint48Field(root, "SnapshotTimestamp")

	protocolsVal := fieldByName(root, "Protocols")
	if !protocolsVal.IsValid() {
		return nil, apperrors.UnexpectedTokenKind("protocols", nil)
	}
	n := protocolsVal.Len()
	snap.Protocols = make([]vault.ProtocolData, n)
	for i := 0; i < n; i++ {
		pv := protocolsVal.Index(i)
		pd := vault.ProtocolData{}

		ptRaw, _ := field[uint8](pv, "ProtocolType")
		pd.ProtocolType = vault.ProtocolType(ptRaw)
		pd.Pool, _ = field[common.Address](pv, "Pool")
		pd.OurBalance, _ = field[*big.Int](pv, "OurBalance")
		pd.PoolTotalSupply, _ = field[*big.Int](pv, "PoolTotalSupply")
		pd.PoolTotalBorrow, _ = field[*big.Int](pv, "PoolTotalBorrow")
		pd.UtilizationWad, _ = field[*big.Int](pv, "UtilizationWad")
		pd.CurrentApyWad, _ = field[*big.Int](pv, "CurrentApyWad")

		irmv := fieldByName(pv, "Irm")
		pd.IRM.Kink1, _ = field[*big.Int](irmv, "Kink1")
		pd.IRM.RateAtKink1, _ = field[*big.Int](irmv, "RateAtKink1")
		pd.IRM.Kink2, _ = field[*big.Int](irmv, "Kink2")
		pd.IRM.RateAtKink2, _ = field[*big.Int](irmv, "RateAtKink2")
		pd.IRM.RateAtMax, _ = field[*big.Int](irmv, "RateAtMax")
		pd.IRM.ReserveFactor, _ = field[*big.Int](irmv, "ReserveFactor")

		pd.MetaTotalAssets, _ = field[*big.Int](pv, "MetaTotalAssets")
		pd.MetaTotalSupply, _ = field[*big.Int](pv, "MetaTotalSupply")
		pd.MetaLastTotalAssets, _ = field[*big.Int](pv, "MetaLastTotalAssets")
		pd.MetaLastUpdate, _ = field[uint64](pv, "MetaLastUpdate")

		snap.Protocols[i] = pd
	}

	gv := fieldByName(root, "GuardState")
	snap.GuardState.BlockedMask, _ = field[uint8](gv, "BlockedMask")
	snap.GuardState.EmergencyMode, _ = field[bool](gv, "EmergencyMode")
	snap.GuardState.EmergencyAll, _ = field[bool](gv, "EmergencyAll")

	return snap, nil
}

// ---- guard manager calls ---------------------------------------------

// EncodeIsEmergencyModeCall ABI-encodes isEmergencyMode().
func EncodeIsEmergencyModeCall() []byte { return append([]byte{}, SelectorIsEmergencyMode.Bytes()...) }

// EncodeGetGuardsStalenessCall ABI-encodes getGuardsStaleness().
func EncodeGetGuardsStalenessCall() []byte {
	return append([]byte{}, SelectorGetGuardsStaleness.Bytes()...)
}

// EncodeGetAggregatedStatusCall ABI-encodes getAggregatedStatus().
func EncodeGetAggregatedStatusCall() []byte {
	return append([]byte{}, SelectorGetAggregatedStatus.Bytes()...)
}

// DecodeBool decodes a single bool return value.
func DecodeBool(raw []byte) (bool, error) {
	boolType, _ := gethabi.NewType("bool", "", nil)
	args := gethabi.Arguments{{Type: boolType}}
	vals, err := args.UnpackValues(raw)
	if err != nil {
		return false, apperrors.Wrap(apperrors.KindAbiDecode, err, "decode bool return")
	}
	if len(vals) != 1 {
		return false, apperrors.UnexpectedArity(len(vals), 1)
	}
	v, ok := vals[0].(bool)
	if !ok {
		return false, apperrors.UnexpectedTokenKind("bool return", vals[0])
	}
	return v, nil
}

// DecodeUint8 decodes a single uint8 return value.
func DecodeUint8(raw []byte) (uint8, error) {
	u8Type, _ := gethabi.NewType("uint8", "", nil)
	args := gethabi.Arguments{{Type: u8Type}}
	vals, err := args.UnpackValues(raw)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindAbiDecode, err, "decode uint8 return")
	}
	if len(vals) != 1 {
		return 0, apperrors.UnexpectedArity(len(vals), 1)
	}
	v, ok := vals[0].(uint8)
	if !ok {
		return 0, apperrors.UnexpectedTokenKind("uint8 return", vals[0])
	}
	return v, nil
}

// GuardStatus is one element of getGuardsStaleness()'s returned array.
type GuardStatus struct {
	Guard      common.Address
	Enabled    bool
	LastUpdate uint64
	IsStale    bool
}

func guardStalenessType() (gethabi.Type, error) {
	return gethabi.NewType("tuple[]", "", []gethabi.ArgumentMarshaling{
		{Name: "guard", Type: "address"},
		{Name: "enabled", Type: "bool"},
		{Name: "lastUpdate", Type: "uint48"},
		{Name: "isStale", Type: "bool"},
	})
}

// DecodeGuardsStaleness decodes getGuardsStaleness()'s
// (address,bool,uint48,bool)[] return value.
func DecodeGuardsStaleness(raw []byte) ([]GuardStatus, error) {
	typ, err := guardStalenessType()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindAbiDecode, err, "build guard staleness abi type")
	}
	args := gethabi.Arguments{{Type: typ}}
	vals, err := args.UnpackValues(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindAbiDecode, err, "decode guard staleness array")
	}
	if len(vals) != 1 {
		return nil, apperrors.UnexpectedArity(len(vals), 1)
	}

	arr := reflect.ValueOf(vals[0])
	if arr.Kind() != reflect.Slice {
		return nil, apperrors.UnexpectedTokenKind("guards", vals[0])
	}

	out := make([]GuardStatus, arr.Len())
	for i := 0; i < arr.Len(); i++ {
		gv := arr.Index(i)
		g := GuardStatus{}
		g.Guard, _ = field[common.Address](gv, "Guard")
		g.Enabled, _ = field[bool](gv, "Enabled")
		g.LastUpdate = uint48Field(gv, "LastUpdate")
		g.IsStale, _ = field[bool](gv, "IsStale")
		out[i] = g
	}
	return out, nil
}

// ---- reflect helpers --------------------------------------------------

func fieldByName(v reflect.Value, name string) reflect.Value {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}
	}
	return v.FieldByName(name)
}

func field[T any](v reflect.Value, name string) (T, bool) {
	var zero T
	fv := fieldByName(v, name)
	if !fv.IsValid() {
		return zero, false
	}
	iv, ok := fv.Interface().(T)
	if !ok {
		return zero, false
	}
	return iv, true
}

// uint48Field reads a uint48 field as uint64. go-ethereum decodes only the
// 8/16/32/64-bit widths into native Go integers; uint48 arrives as *big.Int.
func uint48Field(v reflect.Value, name string) uint64 {
	bi, ok := field[*big.Int](v, name)
	if !ok || bi == nil {
		return 0
	}
	return bi.Uint64()
}
