package rpc

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxStatusJSON(t *testing.T) {
	tests := []struct {
		raw  string
		want TxStatus
	}{
		{`"pending"`, StatusPending},
		{`"confirming"`, StatusConfirming},
		{`"done"`, StatusDone},
		{`"reverted"`, StatusReverted},
		{`""`, StatusPending},
	}
	for _, tt := range tests {
		var got TxStatus
		require.NoError(t, json.Unmarshal([]byte(tt.raw), &got), tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	var got TxStatus
	assert.Error(t, json.Unmarshal([]byte(`3`), &got))
}

func TestTransactionJSONKeepsStatus(t *testing.T) {
	in := Transaction{
		Hash:     []byte{9, 9},
		Selector: "BTC/fromEthereum",
		Version:  V2,
		Status:   StatusDone,
		Amount:   big.NewInt(5000),
	}
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"Status":"done"`)

	var out Transaction
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, StatusDone, out.Status)
	assert.Equal(t, in.Selector, out.Selector)
	assert.Equal(t, 0, in.Amount.Cmp(out.Amount))
}
