package gateway

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/R3E-Network/bridge_client/internal/rpc"
	"github.com/R3E-Network/bridge_client/internal/signature"
)

// AddressParams are the values a gateway address is derived from.
type AddressParams struct {
	Asset    string
	Selector string
	GHash    [32]byte
	GPubKey  []byte
}

// Observation is a deposit as seen by a source chain watcher.
type Observation struct {
	Tx            SourceTx
	Confirmations int
}

// Subscription is a running deposit watch.
type Subscription interface {
	Unsubscribe()
}

// SourceChain is the chain deposits are locked on.
type SourceChain interface {
	Name() string
	DeriveDepositAddress(ctx context.Context, p AddressParams) (string, error)
	// WatchDeposits reports each new deposit to onDeposit once and every
	// later confirmation change to onConfirmation.
	WatchDeposits(ctx context.Context, address string, onDeposit, onConfirmation func(Observation)) (Subscription, error)
	ConfirmationTarget(asset string) int
}

// SubmissionRequest is everything a destination mint needs.
type SubmissionRequest struct {
	Asset     string
	PHash     [32]byte
	Amount    *big.Int
	NHash     [32]byte
	Signature signature.Signature
}

// Submission is a destination chain call ready to be sent.
type Submission struct {
	To   string
	Data []byte
}

// Submitted is a sent destination chain transaction.
type Submitted struct {
	TxHash string
	// Wait blocks until the transaction is mined and returns the minted amount.
	Wait func(ctx context.Context) (*big.Int, error)
}

// BurnEvent is a burn log read from the destination chain.
type BurnEvent struct {
	Ref    *big.Int `json:"ref"`
	Amount *big.Int `json:"amount"`
	// To is the release address on the source chain.
	To      string        `json:"to"`
	TxHash  hexutil.Bytes `json:"tx_hash"`
	LogIdx  uint32        `json:"log_index"`
	Asset   string        `json:"asset"`
	Gateway string        `json:"gateway"`
}

// DestinationChain is the smart contract chain assets are minted on.
type DestinationChain interface {
	Name() string
	BuildSubmission(req SubmissionRequest) (Submission, error)
	Submit(ctx context.Context, s Submission) (*Submitted, error)
	// Observe returns the amount minted by an earlier submission.
	Observe(ctx context.Context, txHash string) (*big.Int, error)
	FindBurn(ctx context.Context, asset, txHash string) (*BurnEvent, error)
}

// Protocol is the signer network. *rpc.Client implements it.
type Protocol interface {
	MintSelector(asset, from, to string) string
	BurnSelector(asset, from, to string) string
	DeriveGatewayHashes(selector string, g rpc.GatewayParams) (pHash, gHash [32]byte, err error)
	DeriveNHash(p rpc.TxParams) ([32]byte, error)
	SelectPublicKey(ctx context.Context, selector, asset string) ([]byte, error)
	ConfirmationTarget(ctx context.Context, selector, chain string) (int, error)
	SubmitMint(ctx context.Context, p rpc.MintParams) ([]byte, error)
	SubmitBurn(ctx context.Context, p rpc.BurnParams) ([]byte, error)
	WaitForTransaction(ctx context.Context, selector string, hash []byte, opts rpc.WaitOptions) (*rpc.Transaction, error)
}

var _ Protocol = (*rpc.Client)(nil)
