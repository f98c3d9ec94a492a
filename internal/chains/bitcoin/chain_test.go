package bitcoin

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/bridge_client/internal/config"
	"github.com/R3E-Network/bridge_client/internal/errors"
	"github.com/R3E-Network/bridge_client/internal/gateway"
	"github.com/R3E-Network/bridge_client/pkg/logger"
)

func testPubKey(t *testing.T) []byte {
	t.Helper()
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return key.PubKey().SerializeCompressed()
}

func TestParamsByName(t *testing.T) {
	tests := []struct {
		name string
		want *chaincfg.Params
	}{
		{"mainnet", &chaincfg.MainNetParams},
		{"testnet3", &chaincfg.TestNet3Params},
		{"regtest", &chaincfg.RegressionNetParams},
		{"simnet", &chaincfg.SimNetParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParamsByName(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want.Name, got.Name)
		})
	}

	_, err := ParamsByName("signet")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestGatewayScript(t *testing.T) {
	pub := testPubKey(t)
	gHash := [32]byte{0xaa, 0xbb}

	script, err := GatewayScript(gHash, pub)
	require.NoError(t, err)

	disasm, err := txscript.DisasmString(script)
	require.NoError(t, err)
	want := fmt.Sprintf("%x OP_DROP OP_DUP OP_HASH160 %x OP_EQUALVERIFY OP_CHECKSIG", gHash, btcutil.Hash160(pub))
	assert.Equal(t, want, disasm)

	_, err = GatewayScript(gHash, []byte{0x02, 0x01})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestGatewayAddress(t *testing.T) {
	pub := testPubKey(t)

	main, err := GatewayAddress(&chaincfg.MainNetParams, [32]byte{1}, pub)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(main.EncodeAddress(), "3"))
	assert.True(t, main.IsForNet(&chaincfg.MainNetParams))

	reg, err := GatewayAddress(&chaincfg.RegressionNetParams, [32]byte{1}, pub)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(reg.EncodeAddress(), "2"))
	assert.Equal(t, main.ScriptAddress(), reg.ScriptAddress())

	again, err := GatewayAddress(&chaincfg.MainNetParams, [32]byte{1}, pub)
	require.NoError(t, err)
	assert.Equal(t, main.EncodeAddress(), again.EncodeAddress())

	other, err := GatewayAddress(&chaincfg.MainNetParams, [32]byte{2}, pub)
	require.NoError(t, err)
	assert.NotEqual(t, main.EncodeAddress(), other.EncodeAddress())
}

func TestTxIDByteOrder(t *testing.T) {
	display := strings.Repeat("00", 31) + "01"
	id, err := txID(display)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), id[0])
	assert.Equal(t, "01"+strings.Repeat("00", 31), hex.EncodeToString(id))

	_, err = txID("zz")
	assert.True(t, errors.Is(err, errors.ErrSchemaMismatch))
}

type fakeClient struct {
	mu        sync.Mutex
	imported  []string
	importErr error
	utxos     []btcjson.ListUnspentResult
	listErr   error
}

func (f *fakeClient) ImportAddressRescan(address, _ string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imported = append(f.imported, address)
	return f.importErr
}

func (f *fakeClient) ListUnspentMinMaxAddresses(_, _ int, _ []btcutil.Address) ([]btcjson.ListUnspentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]btcjson.ListUnspentResult(nil), f.utxos...), nil
}

func (f *fakeClient) setConfirmations(n int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.utxos {
		f.utxos[i].Confirmations = n
	}
}

func newTestChain(t *testing.T, client UTXOClient) *Chain {
	t.Helper()
	network := config.Localnet()
	network.Bitcoin.WatchInterval = time.Millisecond
	network.Confirmations["BTC"] = 3
	c, err := New(client, network, logger.NewDiscard())
	require.NoError(t, err)
	return c
}

func TestConfirmationTarget(t *testing.T) {
	c := newTestChain(t, &fakeClient{})
	assert.Equal(t, 3, c.ConfirmationTarget("BTC"))
	assert.Equal(t, DefaultConfirmations, c.ConfirmationTarget("ZEC"))
	assert.Equal(t, ChainName, c.Name())
}

func TestWatchDeposits(t *testing.T) {
	txid := strings.Repeat("ab", 32)
	client := &fakeClient{utxos: []btcjson.ListUnspentResult{
		{TxID: txid, Vout: 1, Amount: 0.001, Confirmations: 0},
	}}
	c := newTestChain(t, client)

	address, err := c.DeriveDepositAddress(context.Background(), gateway.AddressParams{
		Asset:   "BTC",
		GHash:   [32]byte{7},
		GPubKey: testPubKey(t),
	})
	require.NoError(t, err)

	deposits := make(chan gateway.Observation, 4)
	confirmations := make(chan gateway.Observation, 16)
	sub, err := c.WatchDeposits(context.Background(), address,
		func(o gateway.Observation) { deposits <- o },
		func(o gateway.Observation) { confirmations <- o },
	)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	select {
	case o := <-deposits:
		assert.Equal(t, "100000", o.Tx.Amount.String())
		assert.Equal(t, uint32(1), o.Tx.Vout)
		assert.Equal(t, 0, o.Confirmations)
		assert.Equal(t, strings.Repeat("ab", 32)+":1", o.Tx.DepositID())
	case <-time.After(2 * time.Second):
		t.Fatal("deposit not reported")
	}

	client.setConfirmations(1)
	select {
	case o := <-confirmations:
		assert.Equal(t, 1, o.Confirmations)
	case <-time.After(2 * time.Second):
		t.Fatal("confirmation not reported")
	}

	sub.Unsubscribe()
	assert.Empty(t, deposits)

	client.mu.Lock()
	assert.Equal(t, []string{address}, client.imported)
	client.mu.Unlock()
}

func TestWatchDepositsErrors(t *testing.T) {
	client := &fakeClient{importErr: fmt.Errorf("wallet disabled")}
	c := newTestChain(t, client)

	_, err := c.WatchDeposits(context.Background(), "not-an-address", nil, nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	addr, err := GatewayAddress(c.Params(), [32]byte{1}, testPubKey(t))
	require.NoError(t, err)
	_, err = c.WatchDeposits(context.Background(), addr.EncodeAddress(), nil, nil)
	assert.True(t, errors.Is(err, errors.ErrTransientNetwork))
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(nil, config.Localnet(), nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}
