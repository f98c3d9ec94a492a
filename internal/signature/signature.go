// Package signature reconciles signer-network ECDSA signatures with the
// authority key a destination contract will check against.
package signature

import (
	"encoding/json"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	bridgeerrors "github.com/R3E-Network/bridge_client/internal/errors"
)

// Recovery ids in their contract form.
const (
	V27 byte = 27
	V28 byte = 28
)

// Signature is a secp256k1 signature with an Ethereum-style recovery id.
type Signature struct {
	R [32]byte
	S [32]byte
	V byte
}

// Result is the outcome of Normalize.
type Result struct {
	Signature Signature
	// Corrected is set when the recovery id had to be switched to match the authority.
	Corrected bool
	// LowS is set when s was replaced by N - s.
	LowS bool
}

// FromBytes parses a 65-byte r||s||v signature. v may be 0/1 or 27/28.
func FromBytes(b []byte) (Signature, error) {
	if len(b) != 65 {
		return Signature{}, bridgeerrors.InvalidInput("signature", fmt.Sprintf("expected 65 bytes, got %d", len(b)))
	}
	var sig Signature
	copy(sig.R[:], b[:32])
	copy(sig.S[:], b[32:64])
	sig.V = b[64]
	if sig.V < V27 {
		sig.V += V27
	}
	if sig.V != V27 && sig.V != V28 {
		return Signature{}, bridgeerrors.InvalidInput("signature", fmt.Sprintf("invalid recovery id %d", b[64]))
	}
	return sig, nil
}

// FromParts builds a signature from r, s and a wire recovery id (0/1 or 27/28).
func FromParts(r, s []byte, v byte) (Signature, error) {
	if len(r) != 32 || len(s) != 32 {
		return Signature{}, bridgeerrors.InvalidInput("signature", "r and s must be 32 bytes")
	}
	b := make([]byte, 0, 65)
	b = append(b, r...)
	b = append(b, s...)
	return FromBytes(append(b, v))
}

// Bytes returns r||s||v with v in {27, 28}.
func (s Signature) Bytes() []byte {
	out := make([]byte, 65)
	copy(out, s.R[:])
	copy(out[32:], s.S[:])
	out[64] = s.V
	return out
}

// Normalize enforces low-s and picks the recovery id that recovers authority.
//
// hash is the 32-byte digest the signer network signed. Normalize is
// idempotent: feeding its output back in yields the same signature with
// Corrected unset.
func Normalize(sig Signature, hash []byte, authority common.Address) (Result, error) {
	if len(hash) != 32 {
		return Result{}, bridgeerrors.InvalidInput("hash", fmt.Sprintf("expected 32 bytes, got %d", len(hash)))
	}
	if sig.V < V27 {
		sig.V += V27
	}

	var res Result

	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(sig.S[:]); overflow {
		return Result{}, bridgeerrors.InvalidInput("signature", "s exceeds curve order")
	}
	if s.IsOverHalfOrder() {
		s.Negate()
		sig.S = s.Bytes()
		sig.V = switchV(sig.V)
		res.LowS = true
	}

	if recovers(sig, hash, authority) {
		res.Signature = sig
		return res, nil
	}

	alt := sig
	alt.V = switchV(sig.V)
	if recovers(alt, hash, authority) {
		res.Signature = alt
		res.Corrected = true
		return res, nil
	}

	return Result{}, bridgeerrors.SignatureRecoveryMismatch(authority.Hex())
}

// Recover returns the address that sig recovers to for hash.
func Recover(sig Signature, hash []byte) (common.Address, error) {
	raw := sig.Bytes()
	raw[64] -= V27
	pub, err := crypto.SigToPub(hash, raw)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func recovers(sig Signature, hash []byte, authority common.Address) bool {
	addr, err := Recover(sig, hash)
	return err == nil && addr == authority
}

func switchV(v byte) byte {
	if v == V27 {
		return V28
	}
	return V27
}

type signatureJSON struct {
	R hexutil.Bytes `json:"r"`
	S hexutil.Bytes `json:"s"`
	V uint8         `json:"v"`
}

// MarshalJSON encodes r and s as 0x-prefixed hex.
func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(signatureJSON{R: s.R[:], S: s.S[:], V: s.V})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (s *Signature) UnmarshalJSON(data []byte) error {
	var w signatureJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parsed, err := FromParts(w.R, w.S, w.V)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
