package gateway

import (
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/R3E-Network/bridge_client/internal/errors"
)

// Params opens a lock-and-mint session.
type Params struct {
	Asset string `json:"asset"`
	// From is the source chain, To the destination chain.
	From string `json:"from"`
	To   string `json:"to"`

	// Amount is the target amount; the session completes once a deposit
	// mints at least this much.
	Amount    *big.Int       `json:"amount"`
	Recipient common.Address `json:"recipient"`
	Payload   hexutil.Bytes  `json:"payload,omitempty"`

	// Nonce is random when zero.
	Nonce common.Hash `json:"nonce"`
	// Expiry defaults to the network's session expiry.
	Expiry time.Time `json:"expiry"`
}

// Validate checks p for a session open request.
func (p Params) Validate() error {
	switch {
	case strings.TrimSpace(p.Asset) == "":
		return errors.InvalidInput("asset", "required")
	case p.From == "" || p.To == "":
		return errors.InvalidInput("chain", "from and to are required")
	case p.Amount == nil || p.Amount.Sign() <= 0:
		return errors.InvalidInput("amount", "must be positive")
	case p.Recipient == (common.Address{}):
		return errors.InvalidInput("recipient", "required")
	}
	return nil
}

// Session is a lock-and-mint transfer through one gateway address.
type Session struct {
	ID       string `json:"id"`
	Selector string `json:"selector"`

	Asset     string         `json:"asset"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Amount    *big.Int       `json:"amount"`
	Recipient common.Address `json:"recipient"`
	Payload   hexutil.Bytes  `json:"payload,omitempty"`
	Nonce     common.Hash    `json:"nonce"`

	PHash              common.Hash   `json:"phash"`
	GHash              common.Hash   `json:"ghash"`
	GPubKey            hexutil.Bytes `json:"gpubkey,omitempty"`
	GatewayAddress     string        `json:"gateway_address,omitempty"`
	ConfirmationTarget int           `json:"confirmation_target"`
	Expiry             time.Time     `json:"expiry"`

	State SessionState `json:"state"`
	// Awaiting is the deposit prompted for a claim.
	Awaiting  string      `json:"awaiting,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorKind errors.Kind `json:"error_kind,omitempty"`

	Deposits map[string]Deposit `json:"deposits"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates a session in Created and asks for its gateway address.
func NewSession(id, selector string, p Params, now time.Time) (Session, []Effect) {
	s := Session{
		ID:        id,
		Selector:  selector,
		Asset:     strings.ToUpper(p.Asset),
		From:      p.From,
		To:        p.To,
		Amount:    p.Amount,
		Recipient: p.Recipient,
		Payload:   p.Payload,
		Nonce:     p.Nonce,
		Expiry:    p.Expiry,
		State:     SessionCreated,
		Deposits:  map[string]Deposit{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s, []Effect{DeriveAddress{}}
}

// Restore resumes a persisted session.
//
// A session already in a terminal state stays there. A session with a
// gateway address goes straight to Listening with its deposits as recorded;
// only their outstanding effects are resumed. An expired session without an
// address completes, anything else starts over from Created.
func Restore(s Session, now time.Time) (Session, []Effect) {
	next := s.Clone()
	next.UpdatedAt = now

	var effects []Effect
	switch {
	case s.State.IsTerminal():
	case s.GatewayAddress != "":
		next.State = SessionListening
		next.Awaiting = ""
		effects = append(effects, Watch{Address: s.GatewayAddress})
	case s.Expired(now):
		next.State = SessionCompleted
		return next, nil
	default:
		next.State = SessionCreated
		return next, []Effect{DeriveAddress{}}
	}

	for _, d := range next.Ordered() {
		effects = append(effects, d.Outstanding()...)
	}
	if next.State.IsTerminal() && next.HasActiveDeposits() && next.GatewayAddress != "" {
		effects = append(effects, Watch{Address: next.GatewayAddress})
	}
	return next, effects
}

// Apply applies ev to s and returns the next session with the effects to
// run. s is not modified.
func (s Session) Apply(ev Event, now time.Time) (Session, []Effect, error) {
	next := s.Clone()

	var (
		effects []Effect
		err     error
	)
	switch s.State {
	case SessionCreated:
		effects, err = next.onCreated(ev)
	case SessionListening, SessionRequestingSignature:
		effects, err = next.onListening(ev, now)
	case SessionCompleted:
		effects, err = next.onCompleted(ev, now)
	default:
		err = errors.InvalidTransition(s.State.String(), eventName(ev))
	}
	if err != nil {
		return s, nil, err
	}
	next.UpdatedAt = now
	return next, effects, nil
}

func (s *Session) onCreated(ev Event) ([]Effect, error) {
	switch e := ev.(type) {
	case AddressDerived:
		s.GatewayAddress = e.Address
		s.PHash = e.PHash
		s.GHash = e.GHash
		s.GPubKey = e.GPubKey
		s.ConfirmationTarget = e.ConfirmationTarget
		s.State = SessionListening
		return []Effect{Watch{Address: e.Address}}, nil
	case AddressFailed:
		err := e.Err
		if err == nil {
			err = errors.Internal("address derivation failed", nil)
		}
		if !errors.Is(err, errors.ErrSourceInitialize) {
			err = errors.SourceInitialize(err)
		}
		s.State = SessionSourceInitializeError
		s.Error = err.Error()
		s.ErrorKind = errors.KindSourceInitialize
		return nil, nil
	case Expired:
		s.State = SessionCompleted
		return nil, nil
	default:
		return nil, errors.InvalidTransition(s.State.String(), eventName(ev))
	}
}

func (s *Session) onListening(ev Event, now time.Time) ([]Effect, error) {
	var effects []Effect
	switch e := ev.(type) {
	case DepositDetected:
		effects = s.track(e, now)
	case Expired:
		s.State = SessionCompleted
		s.Awaiting = ""
		return nil, nil
	default:
		var err error
		effects, err = s.updateDeposits(ev, now)
		if err != nil {
			return nil, err
		}
		if s.State.IsTerminal() {
			return effects, nil
		}
	}

	if s.State == SessionRequestingSignature {
		if d, ok := s.Deposits[s.Awaiting]; !ok || d.State != DepositAccepted {
			s.State = SessionListening
			s.Awaiting = ""
		}
	}
	return append(effects, s.promptNext()...), nil
}

func (s *Session) onCompleted(ev Event, now time.Time) ([]Effect, error) {
	switch ev.(type) {
	case DepositUpdate, DepositCompleted, ClaimRequested, RetryRequested:
		return s.updateDeposits(ev, now)
	default:
		return nil, errors.InvalidTransition(s.State.String(), eventName(ev))
	}
}

// track starts a deposit machine for a newly detected deposit. Known
// deposits only have their confirmations refreshed.
func (s *Session) track(e DepositDetected, now time.Time) []Effect {
	id := e.Tx.DepositID()
	d, known := s.Deposits[id]
	if !known {
		d = newDeposit(e.Tx, len(s.Deposits), s.ConfirmationTarget, now)
	}
	next, effects, err := d.Transition(Confirmed{Confirmations: e.Confirmations}, s.Amount, now)
	if err != nil {
		return nil
	}
	s.Deposits[id] = next
	return effects
}

// updateDeposits routes a deposit-scoped event to its deposit.
func (s *Session) updateDeposits(ev Event, now time.Time) ([]Effect, error) {
	var (
		id  string
		dev DepositEvent
	)
	switch e := ev.(type) {
	case DepositUpdate:
		id, dev = e.DepositID, e.Event
	case DepositCompleted:
		id, dev = e.DepositID, DestinationObserved{Amount: e.Amount}
	case ClaimRequested:
		id, dev = e.DepositID, Claim{}
	case RetryRequested:
		id, dev = e.DepositID, Retry{}
	default:
		return nil, errors.InvalidTransition(s.State.String(), eventName(ev))
	}

	d, ok := s.Deposits[id]
	if !ok {
		return nil, errors.NotFound("deposit", id)
	}
	next, effects, err := d.Transition(dev, s.Amount, now)
	if err != nil {
		return nil, err
	}
	s.Deposits[id] = next

	if _, claim := ev.(ClaimRequested); claim && s.Awaiting == id {
		s.State = SessionListening
		s.Awaiting = ""
	}
	if c, ok := ev.(DepositCompleted); ok && !s.State.IsTerminal() && meetsTarget(c.Amount, s.Amount) {
		s.State = SessionCompleted
		s.Awaiting = ""
	}
	return effects, nil
}

// promptNext moves a listening session to RequestingSignature for the
// earliest detected deposit awaiting a claim.
func (s *Session) promptNext() []Effect {
	if s.State != SessionListening {
		return nil
	}
	for _, d := range s.Ordered() {
		if d.State == DepositAccepted {
			s.State = SessionRequestingSignature
			s.Awaiting = d.ID
			return []Effect{PromptClaim{DepositID: d.ID}}
		}
	}
	return nil
}

// Expired reports whether the session window closed before now.
func (s Session) Expired(now time.Time) bool {
	return !s.Expiry.IsZero() && now.After(s.Expiry)
}

// Ordered returns the deposits in detection order.
func (s Session) Ordered() []Deposit {
	out := make([]Deposit, 0, len(s.Deposits))
	for _, d := range s.Deposits {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// HasActiveDeposits reports whether any deposit is neither completed nor errored.
func (s Session) HasActiveDeposits() bool {
	for _, d := range s.Deposits {
		if !d.State.IsTerminal() {
			return true
		}
	}
	return false
}

// Settled reports whether the session and all of its deposits are at rest.
func (s Session) Settled() bool {
	return s.State.IsTerminal() && !s.HasActiveDeposits()
}

// Clone returns a copy of s that shares no mutable state with it.
func (s Session) Clone() Session {
	out := s
	out.Deposits = make(map[string]Deposit, len(s.Deposits))
	for id, d := range s.Deposits {
		out.Deposits[id] = d
	}
	return out
}
