package gateway

import (
	"context"
	"time"

	"github.com/R3E-Network/bridge_client/internal/errors"
	"github.com/R3E-Network/bridge_client/internal/metrics"
	"github.com/R3E-Network/bridge_client/internal/retry"
	"github.com/R3E-Network/bridge_client/internal/rpc"
	"github.com/R3E-Network/bridge_client/internal/signature"
)

const watchRetryDelay = time.Second

// execute runs effects. Watch runs inline because the loop owns the
// subscription; everything else runs in its own goroutine against a copy
// of s and reports back through post.
func (r *Runner) execute(s Session, effects []Effect) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case PromptClaim:
			r.log.WithField("deposit", e.DepositID).Info("deposit ready to claim")
			r.publish(Update{Kind: UpdateClaimReady, DepositID: e.DepositID, Session: s.Clone()})
		case Watch:
			r.watch(e.Address)
		case DeriveAddress:
			r.spawn(func(ctx context.Context) { r.deriveAddress(ctx, s) })
		case RequestSignature:
			d, ok := s.Deposits[e.DepositID]
			if ok {
				r.spawn(func(ctx context.Context) { r.requestSignature(ctx, s, d) })
			}
		case AwaitSignature:
			d, ok := s.Deposits[e.DepositID]
			if ok {
				r.spawn(func(ctx context.Context) { r.awaitSignature(ctx, s, d, d.TxHash) })
			}
		case SubmitDestination:
			d, ok := s.Deposits[e.DepositID]
			if ok {
				r.spawn(func(ctx context.Context) { r.submitDestination(ctx, s, d) })
			}
		case AwaitDestination:
			d, ok := s.Deposits[e.DepositID]
			if ok {
				r.spawn(func(ctx context.Context) { r.awaitDestination(ctx, d) })
			}
		default:
			r.log.WithField("effect", eventName(eff)).Warn("unknown effect")
		}
	}
}

func (r *Runner) spawn(fn func(ctx context.Context)) {
	r.effects.Add(1)
	go func() {
		defer r.effects.Done()
		fn(r.ctx)
	}()
}

// fail records err on a deposit unless the runner is shutting down, in
// which case the step resumes on restore.
func (r *Runner) fail(depositID string, err error) {
	if r.ctx.Err() != nil {
		return
	}
	r.post(DepositUpdate{DepositID: depositID, Event: Failed{Err: err}})
}

func (r *Runner) watch(address string) {
	if r.sub != nil || r.deps.Source == nil {
		return
	}
	onDeposit := func(o Observation) {
		r.post(DepositDetected{Tx: o.Tx, Confirmations: o.Confirmations})
	}
	onConfirmation := func(o Observation) {
		r.post(DepositUpdate{DepositID: o.Tx.DepositID(), Event: Confirmed{Confirmations: o.Confirmations}})
	}

	sub, err := retry.Do(r.ctx, r.deps.Network.RPCRetries, func(ctx context.Context) (Subscription, error) {
		return r.deps.Source.WatchDeposits(ctx, address, onDeposit, onConfirmation)
	}, retry.WithDelay(watchRetryDelay), retry.WithLogger(r.log, "watch_deposits"))
	if err != nil {
		r.log.WithError(err).WithField("address", address).Error("failed to watch gateway address")
		return
	}
	r.sub = sub
	r.log.WithField("address", address).Info("watching gateway address")
}

func (r *Runner) deriveAddress(ctx context.Context, s Session) {
	p := r.deps.Protocol

	gPubKey, err := p.SelectPublicKey(ctx, s.Selector, s.Asset)
	if err != nil {
		r.addressFailed(err)
		return
	}
	token, _ := r.deps.Network.Gateway(s.Asset)
	pHash, gHash, err := p.DeriveGatewayHashes(s.Selector, rpc.GatewayParams{
		Payload: s.Payload,
		To:      s.Recipient,
		Nonce:   s.Nonce,
		Token:   token,
		Amount:  s.Amount,
	})
	if err != nil {
		r.addressFailed(err)
		return
	}

	address, err := r.deps.Source.DeriveDepositAddress(ctx, AddressParams{
		Asset:    s.Asset,
		Selector: s.Selector,
		GHash:    gHash,
		GPubKey:  gPubKey,
	})
	if err != nil {
		r.addressFailed(err)
		return
	}

	r.post(AddressDerived{
		Address:            address,
		PHash:              pHash,
		GHash:              gHash,
		GPubKey:            gPubKey,
		ConfirmationTarget: r.confirmationTarget(ctx, s),
	})
}

func (r *Runner) addressFailed(err error) {
	if r.ctx.Err() != nil {
		return
	}
	r.post(AddressFailed{Err: err})
}

// confirmationTarget asks the signer network and falls back to the source
// chain's own target.
func (r *Runner) confirmationTarget(ctx context.Context, s Session) int {
	n, err := r.deps.Protocol.ConfirmationTarget(ctx, s.Selector, r.deps.Source.Name())
	if err == nil {
		return n
	}
	fallback := r.deps.Source.ConfirmationTarget(s.Asset)
	r.log.WithError(err).WithField("fallback", fallback).Warn("confirmation target lookup failed")
	return fallback
}

func (r *Runner) mintParams(s Session, d Deposit) rpc.MintParams {
	token, _ := r.deps.Network.Gateway(s.Asset)
	return rpc.MintParams{
		Selector: s.Selector,
		TxID:     d.Source.TxID,
		TxIndex:  d.Source.Vout,
		Amount:   d.Source.Amount,
		To:       s.Recipient,
		Token:    token,
		Payload:  s.Payload,
		Nonce:    s.Nonce,
		PHash:    s.PHash,
		GHash:    s.GHash,
		GPubKey:  s.GPubKey,
	}
}

func (r *Runner) requestSignature(ctx context.Context, s Session, d Deposit) {
	params := r.mintParams(s, d)
	nHash, err := r.deps.Protocol.DeriveNHash(params)
	if err != nil {
		r.fail(d.ID, err)
		return
	}
	params.NHash = nHash

	hash, err := r.deps.Protocol.SubmitMint(ctx, params)
	if err != nil {
		r.fail(d.ID, err)
		return
	}
	r.post(DepositUpdate{DepositID: d.ID, Event: NetworkSubmitted{TxHash: hash, NHash: nHash[:]}})
	r.awaitSignature(ctx, s, d, hash)
}

func (r *Runner) awaitSignature(ctx context.Context, s Session, d Deposit, hash []byte) {
	tx, err := r.deps.Protocol.WaitForTransaction(ctx, s.Selector, hash, rpc.WaitOptions{
		OnStatus: func(status rpc.TxStatus) {
			r.post(DepositUpdate{DepositID: d.ID, Event: SignerStatusChanged{Status: status}})
		},
		Timeout:      r.deps.Network.WaitTimeout,
		PollInterval: r.deps.Network.PollInterval,
	})
	if err != nil {
		r.fail(d.ID, err)
		return
	}
	if tx.Signature == nil {
		r.fail(d.ID, errors.RemoteRejected("signer network returned no signature").WithOp("await_signature"))
		return
	}

	res, err := signature.Normalize(*tx.Signature, tx.SigHash, r.deps.Authority)
	if err != nil {
		r.log.WithError(err).WithField("deposit", d.ID).
			WithField("authority", r.deps.Authority.Hex()).
			Error("signature does not recover to the mint authority")
		r.fail(d.ID, err)
		return
	}
	if res.Corrected || res.LowS {
		metrics.RecordSignatureCorrection()
		r.log.WithField("deposit", d.ID).WithField("low_s", res.LowS).
			WithField("recovery_id_switched", res.Corrected).Warn("signature normalized")
	}

	amount := tx.Amount
	if amount == nil {
		amount = d.Source.Amount
	}
	r.post(DepositUpdate{DepositID: d.ID, Event: SignatureAccepted{
		Signature: res.Signature,
		SigHash:   tx.SigHash,
		Amount:    amount,
	}})
}

func (r *Runner) submitDestination(ctx context.Context, s Session, d Deposit) {
	if d.Signature == nil {
		r.fail(d.ID, errors.Internal("claim without signature", nil))
		return
	}
	var nHash [32]byte
	copy(nHash[:], d.NHash)

	submission, err := r.deps.Destination.BuildSubmission(SubmissionRequest{
		Asset:     s.Asset,
		PHash:     s.PHash,
		Amount:    d.Amount,
		NHash:     nHash,
		Signature: *d.Signature,
	})
	if err != nil {
		r.fail(d.ID, err)
		return
	}

	submitted, err := r.deps.Destination.Submit(ctx, submission)
	if err != nil {
		r.fail(d.ID, err)
		return
	}
	r.post(DepositUpdate{DepositID: d.ID, Event: DestinationSubmitted{TxHash: submitted.TxHash}})

	amount, err := submitted.Wait(ctx)
	if err != nil {
		r.fail(d.ID, err)
		return
	}
	r.post(DepositCompleted{DepositID: d.ID, Amount: amount})
}

func (r *Runner) awaitDestination(ctx context.Context, d Deposit) {
	amount, err := r.deps.Destination.Observe(ctx, d.Destination.TxHash)
	if err != nil {
		r.fail(d.ID, err)
		return
	}
	r.post(DepositCompleted{DepositID: d.ID, Amount: amount})
}
