package rpc

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/R3E-Network/bridge_client/internal/errors"
	"github.com/R3E-Network/bridge_client/internal/pack"
)

// TransactionVersion is the version string hashed into version-2 transactions.
const TransactionVersion = "1"

var (
	bytes32Ty = mustType("bytes32")
	uint256Ty = mustType("uint256")
	addressTy = mustType("address")

	legacyGHashArgs = abi.Arguments{{Type: bytes32Ty}, {Type: uint256Ty}, {Type: addressTy}, {Type: addressTy}, {Type: bytes32Ty}}
	legacyNHashArgs = abi.Arguments{{Type: bytes32Ty}, {Type: bytes32Ty}}
)

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

// TxInputType is the version-2 input struct for both mint and burn.
var TxInputType = pack.Struct(
	pack.Field("txid", pack.BytesType),
	pack.Field("txindex", pack.U32Type),
	pack.Field("amount", pack.U256Type),
	pack.Field("payload", pack.BytesType),
	pack.Field("phash", pack.Bytes32Type),
	pack.Field("to", pack.StringType),
	pack.Field("nonce", pack.Bytes32Type),
	pack.Field("nhash", pack.Bytes32Type),
	pack.Field("gpubkey", pack.BytesType),
	pack.Field("ghash", pack.Bytes32Type),
)

// =============================================================================
// Derived hashes
// =============================================================================

// PHash hashes a destination payload. An empty payload hashes to zero.
func PHash(payload []byte) [32]byte {
	if len(payload) == 0 {
		return [32]byte{}
	}
	return crypto.Keccak256Hash(payload)
}

// PHashABI hashes ABI-encoded payload arguments. No arguments hash to zero.
func PHashABI(args abi.Arguments, values ...interface{}) ([32]byte, error) {
	if len(args) == 0 {
		return [32]byte{}, nil
	}
	encoded, err := args.Pack(values...)
	if err != nil {
		return [32]byte{}, fmt.Errorf("encode payload: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// SHash hashes a selector.
func SHash(selector string) [32]byte {
	return crypto.Keccak256Hash([]byte(selector))
}

// GHash is the version-2 gateway hash.
func GHash(pHash, sHash [32]byte, to []byte, nonce [32]byte) [32]byte {
	return crypto.Keccak256Hash(pHash[:], sHash[:], to, nonce[:])
}

// NHash is the version-2 deposit nonce hash.
func NHash(nonce [32]byte, txid []byte, txindex uint32) [32]byte {
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], txindex)
	return crypto.Keccak256Hash(nonce[:], txid, idx[:])
}

// LegacyGHash is the version-1 gateway hash.
func LegacyGHash(pHash [32]byte, amount *big.Int, token, to common.Address, nonce [32]byte) ([32]byte, error) {
	encoded, err := legacyGHashArgs.Pack(pHash, amount, token, to, nonce)
	if err != nil {
		return [32]byte{}, fmt.Errorf("encode ghash: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// LegacyNHash is the version-1 nonce hash over the signer network hash and nonce.
func LegacyNHash(txHash, nonce [32]byte) ([32]byte, error) {
	encoded, err := legacyNHashArgs.Pack(txHash, nonce)
	if err != nil {
		return [32]byte{}, fmt.Errorf("encode nhash: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// =============================================================================
// Transaction hash
// =============================================================================

// ComputeTransactionHash returns the signer network hash for p. It performs
// no I/O and is the lookup key for idempotent submission.
func ComputeTransactionHash(p TxParams) ([32]byte, error) {
	switch Classify(p.TxSelector()) {
	case V1:
		return legacyTxHash(p)
	default:
		return txHash(p)
	}
}

func legacyTxHash(p TxParams) ([32]byte, error) {
	switch params := p.(type) {
	case MintParams:
		msg := "txHash_" + params.Selector +
			"_" + base64.StdEncoding.EncodeToString(params.GHash[:]) +
			"_" + base64.StdEncoding.EncodeToString(params.TxID) +
			"_" + strconv.FormatUint(uint64(params.TxIndex), 10)
		return crypto.Keccak256Hash([]byte(msg)), nil
	case BurnParams:
		if params.BurnRef == nil {
			return [32]byte{}, errors.InvalidInput("burn_ref", "required for legacy selectors")
		}
		msg := "txHash_" + params.Selector + "_" + params.BurnRef.String()
		return crypto.Keccak256Hash([]byte(msg)), nil
	default:
		return [32]byte{}, errors.UnsupportedSelector(p.TxSelector(), fmt.Sprintf("hash of %T", p))
	}
}

func txHash(p TxParams) ([32]byte, error) {
	in, err := txInput(p)
	if err != nil {
		return [32]byte{}, err
	}
	typed, err := pack.EncodeTyped(TxInputType, in)
	if err != nil {
		return [32]byte{}, err
	}

	h := sha256.New()
	h.Write(pack.EncodeString(TransactionVersion))
	h.Write(pack.EncodeString(p.TxSelector()))
	h.Write(typed)

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// txInput builds the version-2 input struct for p.
func txInput(p TxParams) (*pack.StructValue, error) {
	switch params := p.(type) {
	case MintParams:
		if params.Amount == nil {
			return nil, errors.InvalidInput("amount", "required")
		}
		return pack.NewStruct(
			"txid", nonNil(params.TxID),
			"txindex", uint64(params.TxIndex),
			"amount", params.Amount,
			"payload", nonNil(params.Payload),
			"phash", params.PHash[:],
			"to", params.To.Hex(),
			"nonce", params.Nonce[:],
			"nhash", params.NHash[:],
			"gpubkey", nonNil(params.GPubKey),
			"ghash", params.GHash[:],
		), nil
	case BurnParams:
		if params.Amount == nil {
			return nil, errors.InvalidInput("amount", "required")
		}
		return pack.NewStruct(
			"txid", nonNil(params.TxID),
			"txindex", uint64(params.TxIndex),
			"amount", params.Amount,
			"payload", nonNil(params.Payload),
			"phash", params.PHash[:],
			"to", params.To,
			"nonce", params.Nonce[:],
			"nhash", params.NHash[:],
			"gpubkey", nonNil(params.GPubKey),
			"ghash", params.GHash[:],
		), nil
	default:
		return nil, errors.UnsupportedSelector(p.TxSelector(), fmt.Sprintf("input of %T", p))
	}
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
