package gateway

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/bridge_client/internal/errors"
	"github.com/R3E-Network/bridge_client/internal/signature"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testTx() SourceTx {
	return SourceTx{TxID: []byte{0xab, 0xcd}, Vout: 1, Amount: big.NewInt(100)}
}

func mustTransition(t *testing.T, d Deposit, ev DepositEvent, target int64) (Deposit, []Effect) {
	t.Helper()
	next, effects, err := d.Transition(ev, big.NewInt(target), t0)
	require.NoError(t, err)
	return next, effects
}

func acceptedDeposit(t *testing.T) Deposit {
	t.Helper()
	d := newDeposit(testTx(), 0, 2, t0)
	d, _ = mustTransition(t, d, Confirmed{Confirmations: 2}, 100)
	d, _ = mustTransition(t, d, NetworkSubmitted{TxHash: []byte{1}, NHash: []byte{2}}, 100)
	d, _ = mustTransition(t, d, SignatureAccepted{Signature: signature.Signature{V: 27}, SigHash: []byte{3}, Amount: big.NewInt(100)}, 100)
	require.Equal(t, DepositAccepted, d.State)
	return d
}

func TestDepositID(t *testing.T) {
	assert.Equal(t, "abcd:1", testTx().DepositID())
}

func TestDepositConfirmations(t *testing.T) {
	d := newDeposit(testTx(), 0, 2, t0)
	assert.Equal(t, DepositStateDetected, d.State)

	d, effects := mustTransition(t, d, Confirmed{Confirmations: 1}, 100)
	assert.Equal(t, DepositConfirming, d.State)
	assert.Empty(t, effects)
	assert.False(t, d.SignatureRequested)

	d, effects = mustTransition(t, d, Confirmed{Confirmations: 2}, 100)
	assert.Equal(t, DepositSignatureRequested, d.State)
	assert.True(t, d.SignatureRequested)
	assert.Equal(t, []Effect{RequestSignature{DepositID: d.ID}}, effects)

	// Later confirmations are bookkeeping only.
	d, effects = mustTransition(t, d, Confirmed{Confirmations: 3}, 100)
	assert.Equal(t, DepositSignatureRequested, d.State)
	assert.Equal(t, 3, d.Confirmations)
	assert.Empty(t, effects)
}

func TestDepositAlreadyConfirmedOnDetection(t *testing.T) {
	d := newDeposit(testTx(), 0, 2, t0)
	d, effects := mustTransition(t, d, Confirmed{Confirmations: 5}, 100)
	assert.Equal(t, DepositSignatureRequested, d.State)
	assert.Len(t, effects, 1)
}

func TestDepositClaimAndCompletion(t *testing.T) {
	tests := []struct {
		name     string
		observed int64
		want     DepositState
	}{
		{"above target", 150, DepositStateCompleted},
		{"exactly target", 100, DepositStateCompleted},
		{"one below target", 99, DepositSubmitting},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := acceptedDeposit(t)

			d, effects := mustTransition(t, d, Claim{}, 100)
			assert.Equal(t, DepositSubmitting, d.State)
			assert.Equal(t, []Effect{SubmitDestination{DepositID: d.ID}}, effects)

			d, _ = mustTransition(t, d, DestinationSubmitted{TxHash: "0xfeed"}, 100)
			d, _ = mustTransition(t, d, DestinationObserved{Amount: big.NewInt(tc.observed)}, 100)
			assert.Equal(t, tc.want, d.State)
			assert.Equal(t, tc.observed, d.Destination.Amount.Int64())
			assert.Equal(t, "0xfeed", d.Destination.TxHash)
		})
	}
}

func TestDepositFailure(t *testing.T) {
	d := newDeposit(testTx(), 0, 2, t0)
	d, _ = mustTransition(t, d, Confirmed{Confirmations: 2}, 100)

	d, effects := mustTransition(t, d, Failed{Err: errors.SignatureRecoveryMismatch("0xabc")}, 100)
	assert.Equal(t, DepositErrored, d.State)
	assert.Equal(t, errors.KindSignatureRecoveryMismatch, d.ErrorKind)
	assert.NotEmpty(t, d.Error)
	assert.Empty(t, effects)

	_, _, err := d.Transition(Failed{Err: errors.New("again")}, big.NewInt(100), t0)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
}

func TestDepositRetry(t *testing.T) {
	fail := Failed{Err: errors.RemoteRejected("reverted")}

	t.Run("known signature resumes at accepted", func(t *testing.T) {
		d := acceptedDeposit(t)
		d, _ = mustTransition(t, d, Claim{}, 100)
		d, _ = mustTransition(t, d, fail, 100)

		d, effects := mustTransition(t, d, Retry{}, 100)
		assert.Equal(t, DepositAccepted, d.State)
		assert.Empty(t, effects)
		assert.Empty(t, d.Error)
		assert.NotNil(t, d.Signature)
	})

	t.Run("known destination tx resumes observing", func(t *testing.T) {
		d := acceptedDeposit(t)
		d, _ = mustTransition(t, d, Claim{}, 100)
		d, _ = mustTransition(t, d, DestinationSubmitted{TxHash: "0xmined"}, 100)
		d, _ = mustTransition(t, d, Failed{Err: errors.Timeout(time.Minute)}, 100)

		d, effects := mustTransition(t, d, Retry{}, 100)
		assert.Equal(t, DepositSubmitting, d.State)
		assert.Equal(t, []Effect{AwaitDestination{DepositID: d.ID}}, effects)
		assert.Equal(t, "0xmined", d.Destination.TxHash)

		_, _, err := d.Transition(Claim{}, big.NewInt(100), t0)
		assert.True(t, errors.Is(err, errors.ErrInvalidTransition))

		d, _ = mustTransition(t, d, DestinationObserved{Amount: big.NewInt(100)}, 100)
		assert.Equal(t, DepositStateCompleted, d.State)
	})

	t.Run("known signer tx resumes waiting", func(t *testing.T) {
		d := newDeposit(testTx(), 0, 2, t0)
		d, _ = mustTransition(t, d, Confirmed{Confirmations: 2}, 100)
		d, _ = mustTransition(t, d, NetworkSubmitted{TxHash: []byte{1}}, 100)
		d, _ = mustTransition(t, d, fail, 100)

		d, effects := mustTransition(t, d, Retry{}, 100)
		assert.Equal(t, DepositSignatureRequested, d.State)
		assert.Equal(t, []Effect{AwaitSignature{DepositID: d.ID}}, effects)
	})

	t.Run("nothing known re-evaluates confirmations", func(t *testing.T) {
		d := newDeposit(testTx(), 0, 2, t0)
		d, _ = mustTransition(t, d, Confirmed{Confirmations: 2}, 100)
		d, _ = mustTransition(t, d, fail, 100)

		d, effects := mustTransition(t, d, Retry{}, 100)
		assert.Equal(t, DepositSignatureRequested, d.State)
		assert.Equal(t, []Effect{RequestSignature{DepositID: d.ID}}, effects)
	})
}

func TestDepositInvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		d    func(t *testing.T) Deposit
		ev   DepositEvent
	}{
		{"claim before acceptance", func(*testing.T) Deposit { return newDeposit(testTx(), 0, 2, t0) }, Claim{}},
		{"claim twice", func(t *testing.T) Deposit {
			d, _ := mustTransition(t, acceptedDeposit(t), Claim{}, 100)
			return d
		}, Claim{}},
		{"retry without error", acceptedDeposit, Retry{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := tc.d(t)
			next, effects, err := d.Transition(tc.ev, big.NewInt(100), t0)
			assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
			assert.Equal(t, d, next)
			assert.Nil(t, effects)
		})
	}
}

func TestDepositOutstanding(t *testing.T) {
	d := newDeposit(testTx(), 0, 2, t0)
	assert.Empty(t, d.Outstanding())

	d.State = DepositSignatureRequested
	assert.Equal(t, []Effect{RequestSignature{DepositID: d.ID}}, d.Outstanding())
	d.TxHash = []byte{1}
	assert.Equal(t, []Effect{AwaitSignature{DepositID: d.ID}}, d.Outstanding())

	d.State = DepositAccepted
	assert.Empty(t, d.Outstanding())

	d.State = DepositSubmitting
	assert.Equal(t, []Effect{SubmitDestination{DepositID: d.ID}}, d.Outstanding())
	d.Destination.TxHash = "0xfeed"
	assert.Equal(t, []Effect{AwaitDestination{DepositID: d.ID}}, d.Outstanding())
}

func TestStateNames(t *testing.T) {
	for state, name := range depositStateNames {
		parsed, err := ParseDepositState(name)
		require.NoError(t, err)
		assert.Equal(t, state, parsed)
	}
	for state, name := range sessionStateNames {
		parsed, err := ParseSessionState(name)
		require.NoError(t, err)
		assert.Equal(t, state, parsed)
	}
	_, err := ParseDepositState("minted")
	assert.Error(t, err)
	assert.Equal(t, "deposit-state(42)", DepositState(42).String())
	assert.Equal(t, "detected", DepositStateDetected.String())
	assert.Equal(t, "completed", DepositStateCompleted.String())
}
