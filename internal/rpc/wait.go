package rpc

import (
	"context"
	"time"

	"github.com/R3E-Network/bridge_client/internal/errors"
	"github.com/R3E-Network/bridge_client/internal/pack"
)

// DefaultPollInterval is used when neither the options nor the network set one.
const DefaultPollInterval = 15 * time.Second

// WaitOptions controls WaitForTransaction.
type WaitOptions struct {
	// OnStatus is called at most once per distinct status, even if the
	// signer network reports a status again after moving past it.
	OnStatus func(TxStatus)
	// Cancel is checked between polls; returning true stops the wait.
	Cancel func() bool
	// Timeout bounds the whole wait. Zero waits until ctx ends.
	Timeout      time.Duration
	PollInterval time.Duration
}

// WaitForTransaction polls until the transaction is done or reverted.
//
// A reverted transaction is returned together with a RemoteRejected error.
// Transient and not-found query failures keep the wait going. Cancellation
// via opts.Cancel or ctx yields Cancelled; exceeding opts.Timeout yields
// Timeout.
func (c *Client) WaitForTransaction(ctx context.Context, selector string, hash []byte, opts WaitOptions) (*Transaction, error) {
	if _, err := c.version(selector); err != nil {
		return nil, err
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = c.network.PollInterval
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	waitCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	stopped := func() error {
		if ctx.Err() != nil {
			return errors.Cancelled(ctx.Err())
		}
		return errors.Timeout(opts.Timeout)
	}

	entry := c.log.WithField("selector", selector).WithField("tx_hash", pack.EncodeBase64(hash))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	reported := map[TxStatus]bool{}
	for {
		if opts.Cancel != nil && opts.Cancel() {
			return nil, errors.Cancelled(nil)
		}

		tx, err := c.QueryTransaction(waitCtx, selector, hash, c.network.RPCRetries)
		switch {
		case err == nil:
			if !reported[tx.Status] {
				reported[tx.Status] = true
				entry.WithField("status", tx.Status.String()).Debug("transaction status")
				if opts.OnStatus != nil {
					opts.OnStatus(tx.Status)
				}
			}
			switch tx.Status {
			case StatusDone:
				return tx, nil
			case StatusReverted:
				return tx, errors.RemoteRejected(tx.Revert).WithOp("wait")
			}
		case waitCtx.Err() != nil:
			return nil, stopped()
		case errors.IsTransient(err), errors.Is(err, errors.ErrNotFound):
			entry.WithError(err).Debug("transaction not available yet")
		default:
			return nil, err
		}

		select {
		case <-waitCtx.Done():
			return nil, stopped()
		case <-ticker.C:
		}
	}
}
