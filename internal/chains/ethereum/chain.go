package ethereum

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/R3E-Network/bridge_client/internal/config"
	"github.com/R3E-Network/bridge_client/internal/errors"
	"github.com/R3E-Network/bridge_client/internal/gateway"
	"github.com/R3E-Network/bridge_client/pkg/logger"
)

const (
	// ChainName is the name the signer network uses for this chain.
	ChainName = "Ethereum"

	DefaultReceiptInterval = 3 * time.Second
	defaultMintGasLimit    = 300_000
)

// Backend is what the chain needs from a node. *ethclient.Client implements it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

var _ Backend = (*ethclient.Client)(nil)

// Dial connects to the destination chain's JSON-RPC endpoint.
func Dial(ctx context.Context, cfg config.EthereumConfig) (*ethclient.Client, error) {
	if cfg.RPCURL == "" {
		return nil, errors.InvalidInput("ethereum.rpc_url", "required")
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, errors.TransientNetwork(err)
	}
	return client, nil
}

// Chain is a gateway.DestinationChain for an EVM chain.
type Chain struct {
	backend  Backend
	network  config.Network
	auth     *bind.TransactOpts
	interval time.Duration
	log      *logger.Logger
}

var _ gateway.DestinationChain = (*Chain)(nil)

// New creates the chain. Without network.Ethereum.PrivateKey the chain can
// read receipts and find burns but cannot submit mints.
func New(backend Backend, network config.Network, log *logger.Logger) (*Chain, error) {
	if backend == nil {
		return nil, errors.InvalidInput("ethereum.backend", "required")
	}
	if log == nil {
		log = logger.NewDefault("ethereum")
	}
	c := &Chain{
		backend:  backend,
		network:  network,
		interval: DefaultReceiptInterval,
		log:      log,
	}
	if network.Ethereum.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(network.Ethereum.PrivateKey, "0x"))
		if err != nil {
			return nil, errors.InvalidInput("ethereum.private_key", err.Error())
		}
		if c.auth, err = transactor(key, network.Ethereum.ChainID); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func transactor(key *ecdsa.PrivateKey, chainID int64) (*bind.TransactOpts, error) {
	if chainID <= 0 {
		return nil, errors.InvalidInput("ethereum.chain_id", "required to sign transactions")
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(chainID))
	if err != nil {
		return nil, errors.Internal("create transactor", err)
	}
	return auth, nil
}

// Name implements gateway.DestinationChain.
func (c *Chain) Name() string { return ChainName }

func (c *Chain) gatewayFor(asset string) (common.Address, error) {
	addr, ok := c.network.Gateway(asset)
	if !ok {
		return common.Address{}, errors.NotFound("gateway", asset)
	}
	return addr, nil
}

// BuildSubmission implements gateway.DestinationChain by encoding a call to
// the asset gateway's mint function.
func (c *Chain) BuildSubmission(req gateway.SubmissionRequest) (gateway.Submission, error) {
	to, err := c.gatewayFor(req.Asset)
	if err != nil {
		return gateway.Submission{}, err
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return gateway.Submission{}, errors.InvalidInput("amount", "must be positive")
	}
	data, err := GatewayABI.Pack("mint", req.PHash, req.Amount, req.NHash, req.Signature.Bytes())
	if err != nil {
		return gateway.Submission{}, errors.Internal("pack mint call", err)
	}
	return gateway.Submission{To: to.Hex(), Data: data}, nil
}

// Submit implements gateway.DestinationChain. The returned Wait blocks until
// the transaction is mined and returns the amount from its LogMint event.
func (c *Chain) Submit(ctx context.Context, sub gateway.Submission) (*gateway.Submitted, error) {
	if c.auth == nil {
		return nil, errors.InvalidInput("ethereum.private_key", "not configured")
	}
	if !common.IsHexAddress(sub.To) {
		return nil, errors.InvalidInput("to", sub.To)
	}
	to := common.HexToAddress(sub.To)

	opts := *c.auth
	opts.Context = ctx
	if opts.GasLimit == 0 {
		opts.GasLimit = defaultMintGasLimit
	}
	contract := bind.NewBoundContract(to, GatewayABI, c.backend, c.backend, c.backend)
	tx, err := contract.RawTransact(&opts, sub.Data)
	if err != nil {
		return nil, errors.RemoteRejected(err.Error()).WithOp("submit_mint")
	}
	c.log.WithField("tx_hash", tx.Hash().Hex()).WithField("gateway", sub.To).Info("mint submitted")

	return &gateway.Submitted{
		TxHash: tx.Hash().Hex(),
		Wait: func(ctx context.Context) (*big.Int, error) {
			return c.Observe(ctx, tx.Hash().Hex())
		},
	}, nil
}

// Observe implements gateway.DestinationChain. It polls until txHash is
// mined.
func (c *Chain) Observe(ctx context.Context, txHash string) (*big.Int, error) {
	receipt, err := c.waitReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, errors.RemoteRejected("mint reverted: " + txHash).WithOp("observe_mint")
	}
	return mintedAmount(receipt)
}

func (c *Chain) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			return receipt, nil
		case errors.Is(err, geth.NotFound):
		default:
			c.log.WithError(err).WithField("tx_hash", hash.Hex()).Debug("receipt lookup failed")
		}

		select {
		case <-ctx.Done():
			return nil, errors.Cancelled(ctx.Err())
		case <-ticker.C:
		}
	}
}

// FindBurn implements gateway.DestinationChain.
func (c *Chain) FindBurn(ctx context.Context, asset, txHash string) (*gateway.BurnEvent, error) {
	gw, err := c.gatewayFor(asset)
	if err != nil {
		return nil, err
	}
	receipt, err := c.backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, geth.NotFound) {
		return nil, errors.NotFound("transaction", txHash)
	}
	if err != nil {
		return nil, errors.TransientNetwork(err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, errors.RemoteRejected("burn reverted: " + txHash)
	}

	for _, l := range receipt.Logs {
		if l.Address != gw {
			continue
		}
		burn, ok, err := parseBurn(l)
		if err != nil {
			return nil, err
		}
		if ok {
			burn.Asset = asset
			burn.Gateway = gw.Hex()
			return burn, nil
		}
	}
	return nil, errors.NotFound("burn log", txHash)
}

func parseBurn(l *types.Log) (*gateway.BurnEvent, bool, error) {
	event := GatewayABI.Events["LogBurn"]
	if len(l.Topics) < 2 || l.Topics[0] != event.ID {
		return nil, false, nil
	}
	values, err := event.Inputs.NonIndexed().Unpack(l.Data)
	if err != nil {
		return nil, false, errors.SchemaMismatch("LogBurn", err.Error())
	}
	to, ok := values[0].([]byte)
	if !ok {
		return nil, false, errors.SchemaMismatch("LogBurn._to", "expected bytes")
	}
	amount, ok := values[1].(*big.Int)
	if !ok {
		return nil, false, errors.SchemaMismatch("LogBurn._amount", "expected uint256")
	}
	return &gateway.BurnEvent{
		Ref:    new(big.Int).SetBytes(l.Topics[1].Bytes()),
		Amount: amount,
		To:     string(to),
		TxHash: l.TxHash.Bytes(),
		LogIdx: uint32(l.Index),
	}, true, nil
}

func mintedAmount(receipt *types.Receipt) (*big.Int, error) {
	event := GatewayABI.Events["LogMint"]
	for _, l := range receipt.Logs {
		if len(l.Topics) == 0 || l.Topics[0] != event.ID {
			continue
		}
		values, err := event.Inputs.NonIndexed().Unpack(l.Data)
		if err != nil {
			return nil, errors.SchemaMismatch("LogMint", err.Error())
		}
		amount, ok := values[0].(*big.Int)
		if !ok {
			return nil, errors.SchemaMismatch("LogMint._amount", "expected uint256")
		}
		return amount, nil
	}
	return nil, errors.NotFound("mint log", receipt.TxHash.Hex())
}
