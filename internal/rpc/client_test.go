package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/bridge_client/internal/errors"
	"github.com/R3E-Network/bridge_client/internal/pack"
)

func TestSubmitMint_V2Envelope(t *testing.T) {
	c, ft := newTestClient(t, false, func(string, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})

	p := mintParams()
	hash, err := c.SubmitMint(context.Background(), p)
	require.NoError(t, err)

	want, err := ComputeTransactionHash(p)
	require.NoError(t, err)
	assert.Equal(t, want[:], hash)

	calls := ft.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, MethodSubmitTx, calls[0].Method)

	params := calls[0].Params
	assert.Equal(t, "BTC/toEthereum", gjson.GetBytes(params, "tx.selector").String())
	assert.Equal(t, TransactionVersion, gjson.GetBytes(params, "tx.version").String())
	assert.Equal(t, pack.EncodeBase64(hash), gjson.GetBytes(params, "tx.hash").String())
	assert.Equal(t, "bytes", gjson.GetBytes(params, "tx.in.t.struct.0.txid").String())
	assert.Equal(t, "100000", gjson.GetBytes(params, "tx.in.v.amount").String())
}

func TestSubmitMint_AlreadySubmitted(t *testing.T) {
	tests := []struct {
		message   string
		duplicate bool
	}{
		{"tx already submitted", true},
		{"tx=qmF0 already exists", true},
		{"Transaction already exists in pool", true},
		{"nonce already used", false},
		{"amount already minted", false},
		{"already", false},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			c, _ := newTestClient(t, false, func(string, json.RawMessage) (json.RawMessage, error) {
				return nil, &RPCError{Code: -32603, Message: tt.message}
			})

			hash, err := c.SubmitMint(context.Background(), mintParams())
			if tt.duplicate {
				require.NoError(t, err)
				assert.Len(t, hash, 32)
				return
			}
			assert.True(t, errors.Is(err, errors.ErrRemoteRejected), "%v", err)
		})
	}
}

func TestSubmitMint_Rejected(t *testing.T) {
	c, _ := newTestClient(t, false, func(string, json.RawMessage) (json.RawMessage, error) {
		return nil, &RPCError{Code: -32602, Message: "invalid amount"}
	})

	_, err := c.SubmitMint(context.Background(), mintParams())
	assert.True(t, errors.Is(err, errors.ErrRemoteRejected))
}

func TestSubmitMint_RetriesTransient(t *testing.T) {
	attempts := 0
	c, _ := newTestClient(t, false, func(string, json.RawMessage) (json.RawMessage, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.TransientNetwork(errors.New("connection reset"))
		}
		return json.RawMessage(`{}`), nil
	})

	_, err := c.SubmitMint(context.Background(), mintParams())
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestSubmitMint_LegacyEnvelope(t *testing.T) {
	c, ft := newTestClient(t, true, func(string, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"tx":{"hash":"AA=="}}`), nil
	})

	p := mintParams()
	p.Selector = "BTC0Btc2Eth"
	_, err := c.SubmitMint(context.Background(), p)
	require.NoError(t, err)

	params := ft.recorded()[0].Params
	assert.Equal(t, "BTC0Btc2Eth", gjson.GetBytes(params, "tx.to").String())
	assert.Equal(t, "b32", gjson.GetBytes(params, `tx.in.#(name=="n").type`).String())
	assert.Equal(t, "1", gjson.GetBytes(params, `tx.in.#(name=="utxo").value.vOut`).String())
}

func TestLegacySelectorOnModernNetwork(t *testing.T) {
	c, ft := newTestClient(t, false, nil)

	p := mintParams()
	p.Selector = "BTC0Btc2Eth"
	_, err := c.SubmitMint(context.Background(), p)
	assert.True(t, errors.Is(err, errors.ErrUnsupportedSelector))
	assert.Empty(t, ft.recorded())
}

func TestQueryTransaction_V2(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sighash := crypto.Keccak256([]byte("sighash"))
	sig, err := crypto.Sign(sighash, key)
	require.NoError(t, err)

	out := pack.NewStruct("amount", big.NewInt(99_000), "sig", sig, "sighash", sighash, "revert", "")
	c, ft := newTestClient(t, false, func(string, json.RawMessage) (json.RawMessage, error) {
		return v2QueryResult(t, "done", out), nil
	})

	tx, err := c.QueryTransaction(context.Background(), "BTC/toEthereum", []byte{9, 9}, 1)
	require.NoError(t, err)

	assert.Equal(t, StatusDone, tx.Status)
	assert.Equal(t, V2, tx.Version)
	assert.Equal(t, int64(99_000), tx.Amount.Int64())
	assert.Equal(t, sighash, tx.SigHash)
	require.NotNil(t, tx.Signature)
	assert.Equal(t, sig[64]+27, tx.Signature.V)

	assert.Equal(t, pack.EncodeBase64([]byte{9, 9}), gjson.GetBytes(ft.recorded()[0].Params, "txHash").String())
}

func TestQueryTransaction_StatusMapping(t *testing.T) {
	tests := []struct {
		wire string
		want TxStatus
	}{
		{"confirming", StatusConfirming},
		{"pending", StatusPending},
		{"executing", StatusPending},
		{"", StatusPending},
		{"mystery", StatusPending},
	}

	for _, tc := range tests {
		t.Run(tc.wire, func(t *testing.T) {
			c, _ := newTestClient(t, false, func(string, json.RawMessage) (json.RawMessage, error) {
				return v2QueryResult(t, tc.wire, nil), nil
			})
			tx, err := c.QueryTransaction(context.Background(), "BTC/toEthereum", []byte{1}, 1)
			require.NoError(t, err)
			assert.Equal(t, tc.want, tx.Status)
			assert.Nil(t, tx.Out)
			assert.Equal(t, int64(100_000), tx.Amount.Int64())
		})
	}
}

func TestQueryTransaction_RevertReason(t *testing.T) {
	out := pack.NewStruct("amount", big.NewInt(0), "sig", make([]byte, 65), "sighash", make([]byte, 32), "revert", "amount below minimum")
	c, _ := newTestClient(t, false, func(string, json.RawMessage) (json.RawMessage, error) {
		return v2QueryResult(t, "done", out), nil
	})

	tx, err := c.QueryTransaction(context.Background(), "BTC/toEthereum", []byte{1}, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusReverted, tx.Status)
	assert.Equal(t, "amount below minimum", tx.Revert)
}

func TestQueryTransaction_SchemaMismatch(t *testing.T) {
	c, _ := newTestClient(t, false, func(string, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"tx":{"in":{"t":{"struct":[{"amount":"u256"}]},"v":{"amount":"1","extra":"2"}}},"txStatus":"done"}`), nil
	})

	_, err := c.QueryTransaction(context.Background(), "BTC/toEthereum", []byte{1}, 1)
	be := errors.GetBridgeError(err)
	require.NotNil(t, be)
	assert.Equal(t, errors.KindSchemaMismatch, be.Kind)
	assert.Equal(t, "extra", be.Details["key"])
}

func TestQueryTransaction_NotFound(t *testing.T) {
	c, _ := newTestClient(t, false, func(string, json.RawMessage) (json.RawMessage, error) {
		return nil, &RPCError{Code: -32600, Message: "tx not found"}
	})

	_, err := c.QueryTransaction(context.Background(), "BTC/toEthereum", []byte{1}, 1)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestQueryTransaction_Legacy(t *testing.T) {
	std := base64.StdEncoding.EncodeToString
	r := make([]byte, 32)
	r[31] = 1
	s := make([]byte, 32)
	s[31] = 2
	result := `{"tx":{"hash":"` + std([]byte{7}) + `","to":"BTC0Btc2Eth",
		"in":[{"name":"n","type":"b32","value":"` + std(make([]byte, 32)) + `"},
		      {"name":"utxo","type":"ext_btcCompatUTXO","value":{"txHash":"AA==","vOut":"0","amount":"5"}}],
		"autogen":[{"name":"amount","type":"u256","value":"12345"},
		           {"name":"sighash","type":"b32","value":"` + std(make([]byte, 32)) + `"}],
		"out":[{"name":"r","type":"b32","value":"` + std(r) + `"},
		       {"name":"s","type":"b32","value":"` + std(s) + `"},
		       {"name":"v","type":"u8","value":1}]},
		"txStatus":"done"}`

	c, _ := newTestClient(t, true, func(string, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(result), nil
	})

	tx, err := c.QueryTransaction(context.Background(), "BTC0Btc2Eth", []byte{7}, 1)
	require.NoError(t, err)
	assert.Equal(t, V1, tx.Version)
	assert.Equal(t, StatusDone, tx.Status)
	assert.Equal(t, int64(12345), tx.Amount.Int64())
	require.NotNil(t, tx.Signature)
	assert.Equal(t, byte(28), tx.Signature.V)
	assert.Equal(t, byte(2), tx.Signature.S[31])

	utxo, ok := tx.In.Get("utxo")
	require.True(t, ok)
	assert.Equal(t, "0", utxo.(map[string]interface{})["vOut"])
}

func TestQueryTransaction_LegacyUnknownType(t *testing.T) {
	c, _ := newTestClient(t, true, func(string, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"tx":{"in":[{"name":"x","type":"f64","value":"1"}]},"txStatus":"done"}`), nil
	})

	_, err := c.QueryTransaction(context.Background(), "BTC0Btc2Eth", []byte{7}, 1)
	assert.True(t, errors.Is(err, errors.ErrUnknownType))
}

func TestSelectPublicKey(t *testing.T) {
	key := []byte{0x02, 0xaa, 0xbb}

	t.Run("v2 block state", func(t *testing.T) {
		c, ft := newTestClient(t, false, func(string, json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"state":{"t":{},"v":{"BTC":{"shards":[{"pubKey":"` + pack.EncodeBase64(key) + `"}]}}}}`), nil
		})
		got, err := c.SelectPublicKey(context.Background(), "BTC/toEthereum", "BTC")
		require.NoError(t, err)
		assert.Equal(t, key, got)
		assert.Equal(t, MethodQueryBlockState, ft.recorded()[0].Method)
	})

	t.Run("v1 shards", func(t *testing.T) {
		c, ft := newTestClient(t, true, func(string, json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"shards":[
				{"primary":false,"gateways":[{"asset":"BTC","pubKey":"AAAA"}]},
				{"primary":true,"gateways":[{"asset":"ZEC","pubKey":"AAAA"},{"asset":"BTC","pubKey":"` + base64.StdEncoding.EncodeToString(key) + `"}]}]}`), nil
		})
		got, err := c.SelectPublicKey(context.Background(), "BTC0Btc2Eth", "BTC")
		require.NoError(t, err)
		assert.Equal(t, key, got)
		assert.Equal(t, MethodQueryShards, ft.recorded()[0].Method)
	})

	t.Run("configured override", func(t *testing.T) {
		ft := &fakeTransport{}
		n := testNetwork(false)
		n.GPubKey = "0x02aabb"
		c := New(ft, n, nil)
		got, err := c.SelectPublicKey(context.Background(), "BTC/toEthereum", "BTC")
		require.NoError(t, err)
		assert.Equal(t, key, got)
		assert.Empty(t, ft.recorded())
	})
}

func TestConfirmationTarget(t *testing.T) {
	c, _ := newTestClient(t, false, func(string, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"confirmations":{"Bitcoin":"6","Ethereum":"30"}}`), nil
	})
	n, err := c.ConfirmationTarget(context.Background(), "BTC/toEthereum", "Bitcoin")
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	c.network.Confirmations["BTC"] = 1
	n, err = c.ConfirmationTarget(context.Background(), "BTC/toEthereum", "Bitcoin")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	legacy, _ := newTestClient(t, true, nil)
	n, err = legacy.ConfirmationTarget(context.Background(), "BTC0Btc2Eth", "Bitcoin")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestEstimateFee(t *testing.T) {
	c, _ := newTestClient(t, false, func(string, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"state":{"v":{"BTC":{"gasLimit":"400","gasCap":"25",
			"fees":{"chains":[{"chain":"Solana","mintFee":"10","burnFee":"10"},{"chain":"Ethereum","mintFee":"15","burnFee":"20"}]}}}}}`), nil
	})

	fees, err := c.EstimateFee(context.Background(), "BTC", "Bitcoin", "Ethereum")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), fees.Lock.Int64())
	assert.Equal(t, int64(10_000), fees.Release.Int64())
	assert.Equal(t, int64(15), fees.MintBps)
	assert.Equal(t, int64(20), fees.BurnBps)

	_, err = c.EstimateFee(context.Background(), "BTC", "Bitcoin", "Fantom")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestDeriveGatewayHashes(t *testing.T) {
	g := GatewayParams{
		Payload: []byte{0xde, 0xad},
		To:      mintParams().To,
		Nonce:   [32]byte{7},
	}

	c, _ := newTestClient(t, false, nil)
	pHash, gHash, err := c.DeriveGatewayHashes("BTC/toEthereum", g)
	require.NoError(t, err)
	assert.Equal(t, PHash(g.Payload), pHash)
	assert.Equal(t, GHash(pHash, SHash("BTC/toEthereum"), g.To.Bytes(), g.Nonce), gHash)

	legacy, _ := newTestClient(t, true, nil)
	_, legacyGHash, err := legacy.DeriveGatewayHashes("BTC0Btc2Eth", g)
	require.NoError(t, err)
	want, err := LegacyGHash(pHash, new(big.Int), g.Token, g.To, g.Nonce)
	require.NoError(t, err)
	assert.Equal(t, want, legacyGHash)

	_, _, err = c.DeriveGatewayHashes("BTC0Btc2Eth", g)
	assert.True(t, errors.Is(err, errors.ErrUnsupportedSelector))
}

func TestDeriveNHash(t *testing.T) {
	p := mintParams()

	c, _ := newTestClient(t, false, nil)
	got, err := c.DeriveNHash(p)
	require.NoError(t, err)
	assert.Equal(t, NHash(p.Nonce, p.TxID, p.TxIndex), got)

	legacy, _ := newTestClient(t, true, nil)
	p.Selector = "BTC0Btc2Eth"
	got, err = legacy.DeriveNHash(p)
	require.NoError(t, err)
	txHash, err := ComputeTransactionHash(p)
	require.NoError(t, err)
	want, err := LegacyNHash(txHash, p.Nonce)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
