// Package bitcoin implements the UTXO source chain: gateway address
// derivation and deposit watching against a bitcoind-compatible node.
package bitcoin

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // hash160 is defined over RIPEMD-160

	"github.com/R3E-Network/bridge_client/internal/errors"
)

// ParamsByName resolves a chain params name from config.
func ParamsByName(name string) (*chaincfg.Params, error) {
	switch name {
	case "mainnet", "":
		return &chaincfg.MainNetParams, nil
	case "testnet3", "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, errors.InvalidInput("bitcoin.params", "unknown chain params "+name)
	}
}

func hash160(b []byte) []byte {
	sum := sha256.Sum256(b)
	h := ripemd160.New()
	h.Write(sum[:])
	return h.Sum(nil)
}

// GatewayScript builds the redeem script locking funds to gPubKey and
// committing to gHash:
//
//	<gHash> OP_DROP OP_DUP OP_HASH160 <hash160(gPubKey)> OP_EQUALVERIFY OP_CHECKSIG
func GatewayScript(gHash [32]byte, gPubKey []byte) ([]byte, error) {
	if _, err := secp256k1.ParsePubKey(gPubKey); err != nil {
		return nil, errors.InvalidInput("gpubkey", err.Error())
	}
	return txscript.NewScriptBuilder().
		AddData(gHash[:]).
		AddOp(txscript.OP_DROP).
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(hash160(gPubKey)).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// GatewayAddress returns the P2SH address of GatewayScript on params.
func GatewayAddress(params *chaincfg.Params, gHash [32]byte, gPubKey []byte) (*btcutil.AddressScriptHash, error) {
	script, err := GatewayScript(gHash, gPubKey)
	if err != nil {
		return nil, err
	}
	addr, err := btcutil.NewAddressScriptHash(script, params)
	if err != nil {
		return nil, errors.Internal("build p2sh address", err)
	}
	return addr, nil
}
