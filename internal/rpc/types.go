package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/bridge_client/internal/pack"
	"github.com/R3E-Network/bridge_client/internal/signature"
)

// Signer network methods.
const (
	MethodSubmitTx        = "ren_submitTx"
	MethodQueryTx         = "ren_queryTx"
	MethodQueryShards     = "ren_queryShards"
	MethodQueryBlockState = "ren_queryBlockState"
	MethodQueryConfig     = "ren_queryConfig"
)

// TxStatus is the signer network's view of a transaction.
type TxStatus int

const (
	StatusPending TxStatus = iota
	StatusConfirming
	StatusDone
	StatusReverted
)

// String returns the wire name of the status.
func (s TxStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirming:
		return "confirming"
	case StatusDone:
		return "done"
	case StatusReverted:
		return "reverted"
	default:
		return fmt.Sprintf("status(%d)", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s TxStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *TxStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseTxStatus(str)
	return nil
}

// ParseTxStatus maps a wire status to TxStatus. Anything unrecognised,
// including an absent status, is pending.
func ParseTxStatus(s string) TxStatus {
	switch s {
	case "confirming":
		return StatusConfirming
	case "done":
		return StatusDone
	case "reverted":
		return StatusReverted
	default:
		return StatusPending
	}
}

// IsFinal reports whether the signer network will not change s again.
func (s TxStatus) IsFinal() bool {
	return s == StatusDone || s == StatusReverted
}

// GatewayParams are the session values a gateway hash commits to.
type GatewayParams struct {
	Payload []byte
	To      common.Address
	Nonce   [32]byte
	Token   common.Address // legacy only
	Amount  *big.Int       // legacy only
}

// TxParams is implemented by MintParams and BurnParams.
type TxParams interface {
	TxSelector() string
}

// MintParams describes a lock-and-mint request.
type MintParams struct {
	Selector string

	// Source chain deposit.
	TxID    []byte
	TxIndex uint32
	Amount  *big.Int

	// Destination call.
	To      common.Address
	Token   common.Address // legacy only
	Payload []byte
	FnName  string // legacy only
	FnABI   []byte // legacy only

	Nonce   [32]byte
	PHash   [32]byte
	GHash   [32]byte
	NHash   [32]byte
	GPubKey []byte
}

// TxSelector implements TxParams.
func (p MintParams) TxSelector() string { return p.Selector }

// BurnParams describes a burn-and-release request.
type BurnParams struct {
	Selector string

	// BurnRef is the burn reference emitted by the destination contract.
	BurnRef *big.Int

	// Burn transaction on the host chain.
	TxID    []byte
	TxIndex uint32
	Amount  *big.Int

	// To is the release address on the source chain.
	To      string
	Payload []byte

	Nonce   [32]byte
	PHash   [32]byte
	GHash   [32]byte
	NHash   [32]byte
	GPubKey []byte
}

// TxSelector implements TxParams.
func (p BurnParams) TxSelector() string { return p.Selector }

// Transaction is a decoded signer network transaction.
type Transaction struct {
	Hash     []byte
	Selector string
	Version  Version
	Status   TxStatus

	In  *pack.StructValue
	Out *pack.StructValue

	Amount    *big.Int
	Signature *signature.Signature
	SigHash   []byte
	NHash     []byte
	Revert    string
}

// Fees is the signer network's fee schedule for one asset and host chain.
type Fees struct {
	Lock    *big.Int
	Release *big.Int
	// MintBps and BurnBps are basis points of the transferred amount.
	MintBps int64
	BurnBps int64
}
