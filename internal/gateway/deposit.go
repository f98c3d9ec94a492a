package gateway

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/R3E-Network/bridge_client/internal/errors"
	"github.com/R3E-Network/bridge_client/internal/signature"
)

// SourceTx identifies a deposit on the source chain.
type SourceTx struct {
	TxID   hexutil.Bytes `json:"txid"`
	Vout   uint32        `json:"vout"`
	Amount *big.Int      `json:"amount"`
}

// DepositID returns the stable key of the deposit tx.
func (tx SourceTx) DepositID() string {
	return fmt.Sprintf("%x:%d", []byte(tx.TxID), tx.Vout)
}

// Destination records the destination chain submission of a deposit.
type Destination struct {
	TxHash string   `json:"tx_hash,omitempty"`
	Amount *big.Int `json:"amount,omitempty"`
}

// Deposit is one deposit tracked by a session.
type Deposit struct {
	ID     string       `json:"id"`
	Index  int          `json:"index"`
	State  DepositState `json:"state"`
	Source SourceTx     `json:"source"`

	Confirmations int `json:"confirmations"`
	Target        int `json:"target"`

	// Signer network side.
	SignatureRequested bool                 `json:"signature_requested"`
	TxHash             hexutil.Bytes        `json:"tx_hash,omitempty"`
	NHash              hexutil.Bytes        `json:"nhash,omitempty"`
	SignerStatus       string               `json:"signer_status,omitempty"`
	Signature          *signature.Signature `json:"signature,omitempty"`
	SigHash            hexutil.Bytes        `json:"sighash,omitempty"`
	Amount             *big.Int             `json:"amount,omitempty"`

	Destination Destination `json:"destination"`

	Error     string      `json:"error,omitempty"`
	ErrorKind errors.Kind `json:"error_kind,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newDeposit(tx SourceTx, index, target int, now time.Time) Deposit {
	return Deposit{
		ID:        tx.DepositID(),
		Index:     index,
		State:     DepositStateDetected,
		Source:    tx,
		Target:    target,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition applies ev to d and returns the next deposit with the effects
// to run. target is the owning session's target amount. d is not modified.
func (d Deposit) Transition(ev DepositEvent, target *big.Int, now time.Time) (Deposit, []Effect, error) {
	next := d

	var (
		effects []Effect
		err     error
	)
	if f, ok := ev.(Failed); ok && !d.State.IsTerminal() {
		next.fail(f.Err)
	} else {
		switch d.State {
		case DepositStateDetected, DepositConfirming:
			effects, err = next.onConfirming(ev)
		case DepositSignatureRequested:
			effects, err = next.onSignatureRequested(ev)
		case DepositAccepted:
			effects, err = next.onAccepted(ev)
		case DepositSubmitting:
			effects, err = next.onSubmitting(ev, target)
		case DepositErrored:
			effects, err = next.onErrored(ev)
		case DepositStateCompleted:
			err = next.onCompleted(ev)
		default:
			err = errors.InvalidTransition(d.State.String(), eventName(ev))
		}
	}
	if err != nil {
		return d, nil, err
	}
	next.UpdatedAt = now
	return next, effects, nil
}

// Outstanding returns the effects a restored deposit must resume. Steps
// already recorded are not repeated.
func (d Deposit) Outstanding() []Effect {
	switch d.State {
	case DepositSignatureRequested:
		if len(d.TxHash) > 0 {
			return []Effect{AwaitSignature{DepositID: d.ID}}
		}
		return []Effect{RequestSignature{DepositID: d.ID}}
	case DepositSubmitting:
		if d.Destination.TxHash != "" {
			return []Effect{AwaitDestination{DepositID: d.ID}}
		}
		return []Effect{SubmitDestination{DepositID: d.ID}}
	default:
		return nil
	}
}

func (d *Deposit) onConfirming(ev DepositEvent) ([]Effect, error) {
	c, ok := ev.(Confirmed)
	if !ok {
		return nil, errors.InvalidTransition(d.State.String(), eventName(ev))
	}
	d.State = DepositConfirming
	d.Confirmations = c.Confirmations
	return d.checkConfirmations(), nil
}

func (d *Deposit) checkConfirmations() []Effect {
	if d.Confirmations < d.Target {
		return nil
	}
	d.State = DepositSignatureRequested
	d.SignatureRequested = true
	return []Effect{RequestSignature{DepositID: d.ID}}
}

func (d *Deposit) onSignatureRequested(ev DepositEvent) ([]Effect, error) {
	switch e := ev.(type) {
	case Confirmed:
		d.Confirmations = e.Confirmations
	case NetworkSubmitted:
		d.TxHash = e.TxHash
		d.NHash = e.NHash
	case SignerStatusChanged:
		d.SignerStatus = e.Status.String()
	case SignatureAccepted:
		sig := e.Signature
		d.Signature = &sig
		d.SigHash = e.SigHash
		d.Amount = e.Amount
		d.State = DepositAccepted
	default:
		return nil, errors.InvalidTransition(d.State.String(), eventName(ev))
	}
	return nil, nil
}

func (d *Deposit) onAccepted(ev DepositEvent) ([]Effect, error) {
	switch e := ev.(type) {
	case Confirmed:
		d.Confirmations = e.Confirmations
		return nil, nil
	case Claim:
		d.State = DepositSubmitting
		d.Destination = Destination{}
		return []Effect{SubmitDestination{DepositID: d.ID}}, nil
	default:
		return nil, errors.InvalidTransition(d.State.String(), eventName(ev))
	}
}

func (d *Deposit) onSubmitting(ev DepositEvent, target *big.Int) ([]Effect, error) {
	switch e := ev.(type) {
	case Confirmed:
		d.Confirmations = e.Confirmations
	case DestinationSubmitted:
		d.Destination.TxHash = e.TxHash
	case DestinationObserved:
		d.Destination.Amount = e.Amount
		if meetsTarget(e.Amount, target) {
			d.State = DepositStateCompleted
		}
	default:
		return nil, errors.InvalidTransition(d.State.String(), eventName(ev))
	}
	return nil, nil
}

func (d *Deposit) onErrored(ev DepositEvent) ([]Effect, error) {
	switch e := ev.(type) {
	case Confirmed:
		d.Confirmations = e.Confirmations
		return nil, nil
	case Retry:
		d.Error, d.ErrorKind = "", ""
		switch {
		case d.Destination.TxHash != "":
			d.State = DepositSubmitting
			return []Effect{AwaitDestination{DepositID: d.ID}}, nil
		case d.Signature != nil:
			d.State = DepositAccepted
			return nil, nil
		case len(d.TxHash) > 0:
			d.State = DepositSignatureRequested
			return []Effect{AwaitSignature{DepositID: d.ID}}, nil
		default:
			d.State = DepositConfirming
			return d.checkConfirmations(), nil
		}
	default:
		return nil, errors.InvalidTransition(d.State.String(), eventName(ev))
	}
}

func (d *Deposit) onCompleted(ev DepositEvent) error {
	// Watchers keep reporting confirmations for settled deposits.
	if c, ok := ev.(Confirmed); ok {
		d.Confirmations = c.Confirmations
		return nil
	}
	return errors.InvalidTransition(d.State.String(), eventName(ev))
}

func (d *Deposit) fail(err error) {
	if err == nil {
		err = errors.Internal("deposit failed without an error", nil)
	}
	d.State = DepositErrored
	d.Error = err.Error()
	d.ErrorKind = errors.KindOf(err)
}

// meetsTarget reports whether amount settles a session targeting target.
func meetsTarget(amount, target *big.Int) bool {
	if amount == nil {
		return false
	}
	if target == nil {
		return true
	}
	return amount.Cmp(target) >= 0
}

func eventName(ev interface{}) string {
	return fmt.Sprintf("%T", ev)
}
