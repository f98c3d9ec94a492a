// Package rpc is the signer network protocol client.
//
// Two wire versions exist. Classify picks one from the selector, and the
// Client branches on it in exactly one place per operation; callers never
// see the version.
package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/bridge_client/internal/config"
	"github.com/R3E-Network/bridge_client/internal/errors"
	"github.com/R3E-Network/bridge_client/internal/pack"
	"github.com/R3E-Network/bridge_client/internal/retry"
	"github.com/R3E-Network/bridge_client/pkg/logger"
)

var (
	// alreadySubmitted matches the signer network's duplicate transaction error.
	alreadySubmitted = regexp.MustCompile(`(?i)\b(?:tx|transaction)\b.*\balready (?:submitted|exists)\b`)
	notFound         = regexp.MustCompile(`(?i)not found`)
)

// Client talks to the signer network for one configured network.
type Client struct {
	transport Transport
	network   config.Network
	log       *logger.Logger
}

// New creates a client over transport.
func New(transport Transport, network config.Network, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewDefault("rpc")
	}
	return &Client{transport: transport, network: network, log: log}
}

// NewFromConfig creates a client with an HTTP transport for network.
func NewFromConfig(network config.Network, log *logger.Logger) (*Client, error) {
	t, err := NewHTTPTransport(HTTPConfig{
		URL:       network.LightnodeURL,
		Timeout:   network.RPCTimeout,
		RateLimit: network.RPCRateLimit,
		Burst:     network.RPCBurst,
	})
	if err != nil {
		return nil, err
	}
	return New(t, network, log), nil
}

// Network returns the client's network configuration.
func (c *Client) Network() config.Network {
	return c.network
}

// version classifies selector and rejects legacy selectors on networks
// without the legacy protocol.
func (c *Client) version(selector string) (Version, error) {
	v := Classify(selector)
	if v == V1 && !c.network.LegacySelectors {
		return v, errors.UnsupportedSelector(selector, "legacy protocol on "+c.network.Name)
	}
	return v, nil
}

// MintSelector returns the selector for minting asset from its source chain onto to.
func (c *Client) MintSelector(asset, from, to string) string {
	return lookupSelector(asset, from, to, true, c.network.LegacySelectors)
}

// BurnSelector returns the selector for releasing asset from host chain from back to to.
func (c *Client) BurnSelector(asset, from, to string) string {
	return lookupSelector(asset, from, to, false, c.network.LegacySelectors)
}

// DeriveGatewayHashes returns the payload hash and gateway hash binding a
// session's deposits to g.
func (c *Client) DeriveGatewayHashes(selector string, g GatewayParams) (pHash, gHash [32]byte, err error) {
	v, err := c.version(selector)
	if err != nil {
		return pHash, gHash, err
	}
	pHash = PHash(g.Payload)
	switch v {
	case V1:
		amount := g.Amount
		if amount == nil {
			amount = new(big.Int)
		}
		gHash, err = LegacyGHash(pHash, amount, g.Token, g.To, g.Nonce)
	default:
		gHash = GHash(pHash, SHash(selector), g.To.Bytes(), g.Nonce)
	}
	return pHash, gHash, err
}

// DeriveNHash returns the nonce hash binding p to its source transaction.
// p.NHash is ignored.
func (c *Client) DeriveNHash(p TxParams) ([32]byte, error) {
	v, err := c.version(p.TxSelector())
	if err != nil {
		return [32]byte{}, err
	}
	switch params := p.(type) {
	case MintParams:
		if v == V1 {
			h, err := legacyTxHash(params)
			if err != nil {
				return [32]byte{}, err
			}
			return LegacyNHash(h, params.Nonce)
		}
		return NHash(params.Nonce, params.TxID, params.TxIndex), nil
	case BurnParams:
		if v == V1 {
			h, err := legacyTxHash(params)
			if err != nil {
				return [32]byte{}, err
			}
			return LegacyNHash(h, params.Nonce)
		}
		return NHash(params.Nonce, params.TxID, params.TxIndex), nil
	default:
		return [32]byte{}, errors.UnsupportedSelector(p.TxSelector(), fmt.Sprintf("nhash of %T", p))
	}
}

// =============================================================================
// Submission
// =============================================================================

// SubmitMint submits a mint and returns its signer network hash.
// Resubmitting a known transaction succeeds.
func (c *Client) SubmitMint(ctx context.Context, p MintParams) ([]byte, error) {
	return c.submit(ctx, p)
}

// SubmitBurn submits a burn and returns its signer network hash.
// Resubmitting a known transaction succeeds.
func (c *Client) SubmitBurn(ctx context.Context, p BurnParams) ([]byte, error) {
	return c.submit(ctx, p)
}

func (c *Client) submit(ctx context.Context, p TxParams) ([]byte, error) {
	v, err := c.version(p.TxSelector())
	if err != nil {
		return nil, err
	}
	hash, err := ComputeTransactionHash(p)
	if err != nil {
		return nil, err
	}

	var params interface{}
	switch v {
	case V1:
		params, err = legacySubmitParams(p)
	default:
		params, err = submitParams(p, hash)
	}
	if err != nil {
		return nil, err
	}

	entry := c.log.WithField("selector", p.TxSelector()).WithField("tx_hash", pack.EncodeBase64(hash[:]))

	_, err = retry.Do(ctx, c.network.RPCRetries, func(ctx context.Context) (json.RawMessage, error) {
		return c.transport.Call(ctx, MethodSubmitTx, params)
	}, retry.WithLogger(c.log, MethodSubmitTx))
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && alreadySubmitted.MatchString(rpcErr.Message) {
			entry.Debug("transaction already submitted")
			return hash[:], nil
		}
		if errors.As(err, &rpcErr) {
			return nil, errors.RemoteRejected(rpcErr.Message).WithOp("submit")
		}
		return nil, err
	}

	entry.Info("transaction submitted")
	return hash[:], nil
}

// =============================================================================
// Queries
// =============================================================================

// QueryTransaction fetches and decodes the transaction with hash.
// Transient failures are retried up to retries times.
func (c *Client) QueryTransaction(ctx context.Context, selector string, hash []byte, retries int) (*Transaction, error) {
	v, err := c.version(selector)
	if err != nil {
		return nil, err
	}

	result, err := retry.Do(ctx, retries, func(ctx context.Context) (json.RawMessage, error) {
		return c.transport.Call(ctx, MethodQueryTx, map[string]string{"txHash": pack.EncodeBase64(hash)})
	})
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && notFound.MatchString(rpcErr.Message) {
			return nil, errors.NotFound("transaction", pack.EncodeBase64(hash))
		}
		return nil, err
	}

	var tx *Transaction
	switch v {
	case V1:
		tx, err = parseLegacyTransaction(result)
	default:
		tx, err = parseTransaction(result)
	}
	if err != nil {
		return nil, err
	}
	tx.Version = v
	if tx.Selector == "" {
		tx.Selector = selector
	}
	if len(tx.Hash) == 0 {
		tx.Hash = hash
	}
	return tx, nil
}

// SelectPublicKey returns the signer network's public key for asset.
// A key configured on the network takes precedence.
func (c *Client) SelectPublicKey(ctx context.Context, selector, asset string) ([]byte, error) {
	if c.network.GPubKey != "" {
		key, err := hex.DecodeString(strings.TrimPrefix(c.network.GPubKey, "0x"))
		if err != nil {
			return nil, errors.InvalidInput("gpubkey", err.Error())
		}
		return key, nil
	}

	v, err := c.version(selector)
	if err != nil {
		return nil, err
	}

	var method, path string
	var params interface{}
	switch v {
	case V1:
		method = MethodQueryShards
		params = map[string]string{}
		path = fmt.Sprintf(`shards.#(primary==true).gateways.#(asset==%q).pubKey`, asset)
	default:
		method = MethodQueryBlockState
		params = map[string]string{"contract": asset}
		path = fmt.Sprintf("state.v.%s.shards.0.pubKey", gjson.Escape(asset))
	}

	result, err := c.call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	encoded := gjson.GetBytes(result, path)
	if !encoded.Exists() || encoded.String() == "" {
		return nil, errors.NotFound("public key", asset)
	}
	key, err := pack.DecodeBase64(encoded.String())
	if err != nil {
		return nil, errors.SchemaMismatch("pubKey", "invalid base64")
	}
	return key, nil
}

// ConfirmationTarget returns the number of source chain confirmations the
// signer network waits for before signing selector's deposits on chain.
func (c *Client) ConfirmationTarget(ctx context.Context, selector, chain string) (int, error) {
	route, err := ParseSelector(selector)
	if err != nil {
		return 0, err
	}
	if n, ok := c.network.ConfirmationOverride(route.Asset); ok {
		return n, nil
	}

	v, err := c.version(selector)
	if err != nil {
		return 0, err
	}
	if v == V1 {
		if c.network.Name == config.NameMainnet {
			return 6, nil
		}
		return 2, nil
	}

	result, err := c.call(ctx, MethodQueryConfig, map[string]string{})
	if err != nil {
		return 0, err
	}
	target := gjson.GetBytes(result, "confirmations."+gjson.Escape(chain))
	if !target.Exists() {
		return 0, errors.NotFound("confirmation target", chain)
	}
	return int(target.Int()), nil
}

// EstimateFee returns the fee schedule for moving asset between lockChain
// and hostChain. Fees are always read through the version-2 block state.
func (c *Client) EstimateFee(ctx context.Context, asset, lockChain, hostChain string) (*Fees, error) {
	result, err := c.call(ctx, MethodQueryBlockState, map[string]string{"contract": asset})
	if err != nil {
		return nil, err
	}

	state := gjson.GetBytes(result, "state.v."+gjson.Escape(asset))
	if !state.Exists() {
		return nil, errors.NotFound("block state", asset)
	}

	gasLimit, ok1 := new(big.Int).SetString(state.Get("gasLimit").String(), 10)
	gasCap, ok2 := new(big.Int).SetString(state.Get("gasCap").String(), 10)
	if !ok1 || !ok2 {
		return nil, errors.SchemaMismatch("gasLimit", "block state gas fields are not decimal")
	}
	lock := new(big.Int).Mul(gasLimit, gasCap)

	chainFees := state.Get(fmt.Sprintf(`fees.chains.#(chain==%q)`, hostChain))
	if !chainFees.Exists() {
		return nil, errors.NotFound("fees for chain", hostChain)
	}

	c.log.WithField("asset", asset).WithField("lock_chain", lockChain).
		WithField("host_chain", hostChain).Debug("fees estimated")

	return &Fees{
		Lock:    lock,
		Release: new(big.Int).Set(lock),
		MintBps: chainFees.Get("mintFee").Int(),
		BurnBps: chainFees.Get("burnFee").Int(),
	}, nil
}

func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return retry.Do(ctx, c.network.RPCRetries, func(ctx context.Context) (json.RawMessage, error) {
		return c.transport.Call(ctx, method, params)
	}, retry.WithLogger(c.log, method))
}
