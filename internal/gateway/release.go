package gateway

import (
	"context"
	"strings"

	"github.com/R3E-Network/bridge_client/internal/errors"
	"github.com/R3E-Network/bridge_client/internal/pack"
	"github.com/R3E-Network/bridge_client/internal/rpc"
)

// ReleaseParams identifies a burn to release on the source chain.
type ReleaseParams struct {
	Asset string `json:"asset"`
	// From is the chain the asset was burned on, To the chain it is released on.
	From       string `json:"from"`
	To         string `json:"to"`
	BurnTxHash string `json:"burn_tx_hash"`
}

// Validate checks p for a release request.
func (p ReleaseParams) Validate() error {
	switch {
	case strings.TrimSpace(p.Asset) == "":
		return errors.InvalidInput("asset", "required")
	case p.From == "" || p.To == "":
		return errors.InvalidInput("chain", "from and to are required")
	case p.BurnTxHash == "":
		return errors.InvalidInput("burn_tx_hash", "required")
	}
	return nil
}

// ReleaseResult is a completed burn-and-release.
type ReleaseResult struct {
	Selector    string           `json:"selector"`
	Burn        BurnEvent        `json:"burn"`
	TxHash      string           `json:"tx_hash"`
	Transaction *rpc.Transaction `json:"transaction"`
}

// Release submits the burn in p.BurnTxHash to the signer network and waits
// until the release is done. onStatus, if set, sees each distinct signer
// network status.
func (m *Manager) Release(ctx context.Context, p ReleaseParams, onStatus func(rpc.TxStatus)) (*ReleaseResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	asset := strings.ToUpper(p.Asset)
	log := m.log.WithField("asset", asset).WithField("burn_tx", p.BurnTxHash)

	burn, err := m.deps.Destination.FindBurn(ctx, asset, p.BurnTxHash)
	if err != nil {
		return nil, err
	}
	if burn.Ref == nil || burn.Amount == nil {
		return nil, errors.SchemaMismatch("burn", "burn log without reference or amount")
	}

	selector := m.deps.Protocol.BurnSelector(asset, p.From, p.To)
	var nonce [32]byte
	burn.Ref.FillBytes(nonce[:])

	params := rpc.BurnParams{
		Selector: selector,
		BurnRef:  burn.Ref,
		TxID:     burn.TxHash,
		TxIndex:  burn.LogIdx,
		Amount:   burn.Amount,
		To:       burn.To,
		Nonce:    nonce,
	}
	if params.NHash, err = m.deps.Protocol.DeriveNHash(params); err != nil {
		return nil, err
	}

	hash, err := m.deps.Protocol.SubmitBurn(ctx, params)
	if err != nil {
		return nil, err
	}
	log.WithField("selector", selector).WithField("tx_hash", pack.EncodeBase64(hash)).Info("burn submitted")

	tx, err := m.deps.Protocol.WaitForTransaction(ctx, selector, hash, rpc.WaitOptions{
		OnStatus:     onStatus,
		Timeout:      m.deps.Network.WaitTimeout,
		PollInterval: m.deps.Network.PollInterval,
	})
	if err != nil {
		return nil, err
	}
	log.WithField("release_to", burn.To).Info("release done")

	return &ReleaseResult{
		Selector:    selector,
		Burn:        *burn,
		TxHash:      pack.EncodeBase64(hash),
		Transaction: tx,
	}, nil
}
