package gateway

import (
	"math/big"

	"github.com/R3E-Network/bridge_client/internal/rpc"
	"github.com/R3E-Network/bridge_client/internal/signature"
)

// Event is an input to a session transition.
type Event interface {
	sessionEvent()
}

// DepositEvent is an input to a deposit transition.
type DepositEvent interface {
	depositEvent()
}

// Effect is a side effect requested by a transition. Transitions never
// perform I/O; the runner executes effects and feeds results back as events.
type Effect interface {
	effect()
}

// =============================================================================
// Session events
// =============================================================================

// AddressDerived reports the gateway address and the hashes it commits to.
type AddressDerived struct {
	Address            string
	PHash              [32]byte
	GHash              [32]byte
	GPubKey            []byte
	ConfirmationTarget int
}

// AddressFailed reports that no gateway address could be derived.
type AddressFailed struct {
	Err error
}

// DepositDetected reports a source chain deposit to the gateway address.
type DepositDetected struct {
	Tx            SourceTx
	Confirmations int
}

// DepositUpdate routes ev to the deposit with DepositID.
type DepositUpdate struct {
	DepositID string
	Event     DepositEvent
}

// DepositCompleted reports the amount observed on the destination chain
// for a deposit's submission.
type DepositCompleted struct {
	DepositID string
	Amount    *big.Int
}

// Expired closes the session window.
type Expired struct{}

// ClaimRequested is the caller's go-ahead for a deposit's destination submission.
type ClaimRequested struct {
	DepositID string
}

// RetryRequested re-enters an errored deposit.
type RetryRequested struct {
	DepositID string
}

func (AddressDerived) sessionEvent()   {}
func (AddressFailed) sessionEvent()    {}
func (DepositDetected) sessionEvent()  {}
func (DepositUpdate) sessionEvent()    {}
func (DepositCompleted) sessionEvent() {}
func (Expired) sessionEvent()          {}
func (ClaimRequested) sessionEvent()   {}
func (RetryRequested) sessionEvent()   {}

// =============================================================================
// Deposit events
// =============================================================================

// Confirmed carries the deposit's current source chain confirmation count.
type Confirmed struct {
	Confirmations int
}

// NetworkSubmitted records the signer network transaction for the deposit.
type NetworkSubmitted struct {
	TxHash []byte
	NHash  []byte
}

// SignerStatusChanged records a new signer network status.
type SignerStatusChanged struct {
	Status rpc.TxStatus
}

// SignatureAccepted carries a normalized signature.
type SignatureAccepted struct {
	Signature signature.Signature
	SigHash   []byte
	Amount    *big.Int
}

// Claim starts the destination submission.
type Claim struct{}

// DestinationSubmitted records the destination chain transaction.
type DestinationSubmitted struct {
	TxHash string
}

// DestinationObserved carries the amount the destination chain minted.
type DestinationObserved struct {
	Amount *big.Int
}

// Failed records an error.
type Failed struct {
	Err error
}

// Retry re-enters the latest state whose inputs are known.
type Retry struct{}

func (Confirmed) depositEvent()            {}
func (NetworkSubmitted) depositEvent()     {}
func (SignerStatusChanged) depositEvent()  {}
func (SignatureAccepted) depositEvent()    {}
func (Claim) depositEvent()                {}
func (DestinationSubmitted) depositEvent() {}
func (DestinationObserved) depositEvent()  {}
func (Failed) depositEvent()               {}
func (Retry) depositEvent()                {}

// =============================================================================
// Effects
// =============================================================================

// DeriveAddress asks the source chain for the session's gateway address.
type DeriveAddress struct{}

// Watch subscribes to deposits on Address.
type Watch struct {
	Address string
}

// PromptClaim tells the caller a deposit is ready to be claimed.
type PromptClaim struct {
	DepositID string
}

// RequestSignature submits the deposit to the signer network and waits for
// its signature.
type RequestSignature struct {
	DepositID string
}

// AwaitSignature waits for an already submitted signer network transaction.
type AwaitSignature struct {
	DepositID string
}

// SubmitDestination builds and submits the destination chain transaction.
type SubmitDestination struct {
	DepositID string
}

// AwaitDestination waits for an already submitted destination transaction.
type AwaitDestination struct {
	DepositID string
}

func (DeriveAddress) effect()     {}
func (Watch) effect()             {}
func (PromptClaim) effect()       {}
func (RequestSignature) effect()  {}
func (AwaitSignature) effect()    {}
func (SubmitDestination) effect() {}
func (AwaitDestination) effect()  {}
