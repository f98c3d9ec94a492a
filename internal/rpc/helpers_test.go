package rpc

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/bridge_client/internal/config"
	"github.com/R3E-Network/bridge_client/internal/pack"
	"github.com/R3E-Network/bridge_client/pkg/logger"
)

type call struct {
	Method string
	Params json.RawMessage
}

// fakeTransport answers calls from a handler and records them.
type fakeTransport struct {
	mu      sync.Mutex
	calls   []call
	handler func(method string, params json.RawMessage) (json.RawMessage, error)
}

func (f *fakeTransport) Call(_ context.Context, method string, params interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, call{Method: method, Params: raw})
	f.mu.Unlock()
	return f.handler(method, raw)
}

func (f *fakeTransport) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func testNetwork(legacy bool) config.Network {
	n := config.Devnet()
	n.LegacySelectors = legacy
	n.RPCRetries = 2
	n.PollInterval = time.Millisecond
	return n
}

func newTestClient(t *testing.T, legacy bool, handler func(string, json.RawMessage) (json.RawMessage, error)) (*Client, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{handler: handler}
	return New(ft, testNetwork(legacy), logger.NewDiscard()), ft
}

func mintParams() MintParams {
	return MintParams{
		Selector: "BTC/toEthereum",
		TxID:     common.FromHex("0x5b2a0f1e9c8d7b6a5f4e3d2c1b0a99887766554433221100ffeeddccbbaa9988"),
		TxIndex:  1,
		Amount:   big.NewInt(100_000),
		To:       common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		Payload:  []byte{},
		Nonce:    [32]byte{1},
		PHash:    [32]byte{2},
		GHash:    [32]byte{3},
		NHash:    [32]byte{4},
		GPubKey:  []byte{0x02, 0x03},
	}
}

var outType = pack.Struct(
	pack.Field("amount", pack.U256Type),
	pack.Field("sig", pack.Bytes65Type),
	pack.Field("sighash", pack.Bytes32Type),
	pack.Field("revert", pack.StringType),
)

func v2QueryResult(t *testing.T, status string, out *pack.StructValue) json.RawMessage {
	t.Helper()
	p := mintParams()
	in, err := txInput(p)
	require.NoError(t, err)

	tx := map[string]interface{}{
		"hash":     pack.EncodeBase64([]byte{9, 9}),
		"version":  TransactionVersion,
		"selector": p.Selector,
		"in":       pack.TypedValue{T: TxInputType, V: in},
	}
	if out != nil {
		tx["out"] = pack.TypedValue{T: outType, V: out}
	}
	raw, err := json.Marshal(map[string]interface{}{"tx": tx, "txStatus": status})
	require.NoError(t, err)
	return raw
}
