package gateway

import (
	"encoding/json"
	"fmt"
)

// DepositState is the lifecycle state of one deposit.
type DepositState int32

const (
	// DepositStateDetected is a deposit seen on the source chain but not yet tracked.
	DepositStateDetected DepositState = iota

	// DepositConfirming is counting source chain confirmations.
	DepositConfirming

	// DepositSignatureRequested has been submitted to the signer network.
	DepositSignatureRequested

	// DepositAccepted holds a verified signature and waits for a claim.
	DepositAccepted

	// DepositSubmitting has a destination chain submission in progress.
	DepositSubmitting

	// DepositStateCompleted observed a destination amount meeting the session target.
	DepositStateCompleted

	// DepositErrored recorded a failure. It can be retried.
	DepositErrored
)

var depositStateNames = map[DepositState]string{
	DepositStateDetected:      "detected",
	DepositConfirming:         "confirming",
	DepositSignatureRequested: "signature-requested",
	DepositAccepted:           "accepted",
	DepositSubmitting:         "submitting",
	DepositStateCompleted:     "completed",
	DepositErrored:            "errored",
}

// String returns the string representation of the state.
func (s DepositState) String() string {
	if name, ok := depositStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("deposit-state(%d)", s)
}

// MarshalJSON implements json.Marshaler.
func (s DepositState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *DepositState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseDepositState(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseDepositState converts a string to DepositState.
func ParseDepositState(s string) (DepositState, error) {
	for state, name := range depositStateNames {
		if name == s {
			return state, nil
		}
	}
	return 0, fmt.Errorf("unknown deposit state %q", s)
}

// IsTerminal reports whether no event other than a retry moves the deposit.
func (s DepositState) IsTerminal() bool {
	return s == DepositStateCompleted || s == DepositErrored
}

// InFlight reports whether the deposit is progressing without caller action.
func (s DepositState) InFlight() bool {
	switch s {
	case DepositStateDetected, DepositConfirming, DepositSignatureRequested, DepositSubmitting:
		return true
	default:
		return false
	}
}

// SessionState is the lifecycle state of a gateway session.
type SessionState int32

const (
	// SessionRestoring is the transient state of a session read from storage.
	SessionRestoring SessionState = iota

	// SessionCreated needs a gateway address.
	SessionCreated

	// SessionListening watches the gateway address for deposits.
	SessionListening

	// SessionRequestingSignature waits for the caller to claim one deposit.
	SessionRequestingSignature

	// SessionCompleted reached its target amount or expired.
	SessionCompleted

	// SessionSourceInitializeError could not derive a gateway address.
	SessionSourceInitializeError
)

var sessionStateNames = map[SessionState]string{
	SessionRestoring:             "restoring",
	SessionCreated:               "created",
	SessionListening:             "listening",
	SessionRequestingSignature:   "requesting-signature",
	SessionCompleted:             "completed",
	SessionSourceInitializeError: "source-initialize-error",
}

// String returns the string representation of the state.
func (s SessionState) String() string {
	if name, ok := sessionStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("session-state(%d)", s)
}

// MarshalJSON implements json.Marshaler.
func (s SessionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *SessionState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseSessionState(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSessionState converts a string to SessionState.
func ParseSessionState(s string) (SessionState, error) {
	for state, name := range sessionStateNames {
		if name == s {
			return state, nil
		}
	}
	return 0, fmt.Errorf("unknown session state %q", s)
}

// IsTerminal reports whether the session accepts no further session transitions.
func (s SessionState) IsTerminal() bool {
	return s == SessionCompleted || s == SessionSourceInitializeError
}
