package gateway

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/bridge_client/internal/config"
	"github.com/R3E-Network/bridge_client/internal/errors"
	"github.com/R3E-Network/bridge_client/internal/rpc"
	"github.com/R3E-Network/bridge_client/internal/signature"
	"github.com/R3E-Network/bridge_client/internal/store"
	"github.com/R3E-Network/bridge_client/pkg/logger"
)

// fakeProtocol signs every mint with key once it is waited for.
type fakeProtocol struct {
	mu      sync.Mutex
	key     *ecdsa.PrivateKey
	signer  *ecdsa.PrivateKey
	target  int
	minted  *big.Int
	submits []rpc.MintParams
	burns   []rpc.BurnParams
}

func (p *fakeProtocol) MintSelector(asset, _, to string) string { return asset + "/to" + to }

func (p *fakeProtocol) BurnSelector(asset, from, _ string) string { return asset + "/from" + from }

func (p *fakeProtocol) DeriveGatewayHashes(_ string, g rpc.GatewayParams) ([32]byte, [32]byte, error) {
	return rpc.PHash(g.Payload), crypto.Keccak256Hash(g.To.Bytes(), g.Nonce[:]), nil
}

func (p *fakeProtocol) DeriveNHash(tp rpc.TxParams) ([32]byte, error) {
	switch params := tp.(type) {
	case rpc.MintParams:
		return rpc.NHash(params.Nonce, params.TxID, params.TxIndex), nil
	case rpc.BurnParams:
		return rpc.NHash(params.Nonce, params.TxID, params.TxIndex), nil
	}
	return [32]byte{}, errors.InvalidInput("params", "unexpected")
}

func (p *fakeProtocol) SelectPublicKey(context.Context, string, string) ([]byte, error) {
	return crypto.CompressPubkey(&p.key.PublicKey), nil
}

func (p *fakeProtocol) ConfirmationTarget(context.Context, string, string) (int, error) {
	return p.target, nil
}

func (p *fakeProtocol) SubmitMint(_ context.Context, params rpc.MintParams) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits = append(p.submits, params)
	h := sha256.Sum256(append(params.TxID, params.NHash[:]...))
	return h[:], nil
}

func (p *fakeProtocol) SubmitBurn(_ context.Context, params rpc.BurnParams) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.burns = append(p.burns, params)
	h := sha256.Sum256(params.TxID)
	return h[:], nil
}

func (p *fakeProtocol) WaitForTransaction(_ context.Context, selector string, hash []byte, opts rpc.WaitOptions) (*rpc.Transaction, error) {
	if opts.OnStatus != nil {
		opts.OnStatus(rpc.StatusPending)
		opts.OnStatus(rpc.StatusDone)
	}
	sighash := crypto.Keccak256(hash)
	raw, err := crypto.Sign(sighash, p.signer)
	if err != nil {
		return nil, err
	}
	sig, err := signature.FromBytes(raw)
	if err != nil {
		return nil, err
	}
	return &rpc.Transaction{
		Hash:      hash,
		Selector:  selector,
		Status:    rpc.StatusDone,
		Amount:    p.minted,
		Signature: &sig,
		SigHash:   sighash,
	}, nil
}

func (p *fakeProtocol) submitted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.submits)
}

type fakeSubscription struct{ source *fakeSource }

func (s fakeSubscription) Unsubscribe() {
	s.source.mu.Lock()
	s.source.unsubscribed = true
	s.source.mu.Unlock()
}

// fakeSource records the watch callbacks so tests can inject deposits.
type fakeSource struct {
	mu             sync.Mutex
	deriveErr      error
	derived        int
	seen           map[string]bool
	onDeposit      func(Observation)
	onConfirmation func(Observation)
	watching       chan struct{}
	unsubscribed   bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{seen: map[string]bool{}, watching: make(chan struct{})}
}

func (s *fakeSource) Name() string { return "Bitcoin" }

func (s *fakeSource) DeriveDepositAddress(_ context.Context, p AddressParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.derived++
	if s.deriveErr != nil {
		return "", s.deriveErr
	}
	return "2N-" + p.Asset, nil
}

func (s *fakeSource) WatchDeposits(_ context.Context, _ string, onDeposit, onConfirmation func(Observation)) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDeposit, s.onConfirmation = onDeposit, onConfirmation
	close(s.watching)
	return fakeSubscription{source: s}, nil
}

func (s *fakeSource) ConfirmationTarget(string) int { return 6 }

func (s *fakeSource) waitWatching(t *testing.T) {
	t.Helper()
	select {
	case <-s.watching:
	case <-time.After(2 * time.Second):
		t.Fatal("source never watched")
	}
}

func (s *fakeSource) emit(tx SourceTx, confirmations int) {
	s.mu.Lock()
	cb := s.onConfirmation
	if !s.seen[tx.DepositID()] {
		s.seen[tx.DepositID()] = true
		cb = s.onDeposit
	}
	s.mu.Unlock()
	cb(Observation{Tx: tx, Confirmations: confirmations})
}

func (s *fakeSource) stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribed
}

func (s *fakeSource) deriveCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.derived
}

// fakeDestination mints minted per submission and fails with the queued errors first.
type fakeDestination struct {
	mu       sync.Mutex
	minted   *big.Int
	failures []error
	requests []SubmissionRequest
}

func (d *fakeDestination) Name() string { return "Ethereum" }

func (d *fakeDestination) BuildSubmission(req SubmissionRequest) (Submission, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	return Submission{To: "0xgateway", Data: req.NHash[:]}, nil
}

func (d *fakeDestination) Submit(context.Context, Submission) (*Submitted, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		return nil, err
	}
	minted := d.minted
	return &Submitted{
		TxHash: "0xmint",
		Wait:   func(context.Context) (*big.Int, error) { return minted, nil },
	}, nil
}

func (d *fakeDestination) Observe(context.Context, string) (*big.Int, error) {
	return d.minted, nil
}

func (d *fakeDestination) FindBurn(_ context.Context, asset, _ string) (*BurnEvent, error) {
	return &BurnEvent{
		Ref:    big.NewInt(42),
		Amount: big.NewInt(5000),
		To:     "bc1qrelease",
		TxHash: []byte{0xbe, 0xef},
		Asset:  asset,
	}, nil
}

type harness struct {
	mgr      *Manager
	protocol *fakeProtocol
	source   *fakeSource
	dest     *fakeDestination
	store    *store.Memory
	network  config.Network
	// skew moves the manager's clock forward.
	skew atomic.Int64
}

func (h *harness) now() time.Time {
	return time.Now().UTC().Add(time.Duration(h.skew.Load()))
}

func (h *harness) advance(d time.Duration) { h.skew.Add(int64(d)) }

func newHarness(t *testing.T) *harness {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	network := config.Devnet()
	network.MintAuthority = crypto.PubkeyToAddress(key.PublicKey).Hex()
	network.PollInterval = time.Millisecond
	network.RPCRetries = 1

	h := &harness{
		protocol: &fakeProtocol{key: key, signer: key, target: 2, minted: big.NewInt(100)},
		source:   newFakeSource(),
		dest:     &fakeDestination{minted: big.NewInt(100)},
		store:    store.NewMemory(),
		network:  network,
	}
	h.mgr, err = NewManager(ManagerConfig{
		Network:     network,
		Protocol:    h.protocol,
		Source:      h.source,
		Destination: h.dest,
		Store:       h.store,
		Log:         logger.NewDiscard(),
		Now:         h.now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.mgr.Stop(context.Background()) })
	return h
}

func (h *harness) open(t *testing.T, amount int64) *Runner {
	t.Helper()
	p := testParams()
	p.Amount = big.NewInt(amount)
	p.Expiry = time.Time{}
	r, err := h.mgr.OpenSession(context.Background(), p)
	require.NoError(t, err)
	h.source.waitWatching(t)
	return r
}

func (h *harness) stored(t *testing.T, id string) Session {
	t.Helper()
	data, err := h.store.Load(context.Background(), id)
	require.NoError(t, err)
	s, err := UnmarshalSession(data)
	require.NoError(t, err)
	return s
}

func eventually(t *testing.T, r *Runner, cond func(Session) bool, msg string) Session {
	t.Helper()
	require.Eventually(t, func() bool { return cond(r.Status()) }, 3*time.Second, 2*time.Millisecond, msg)
	return r.Status()
}

func depositIn(id string, state DepositState) func(Session) bool {
	return func(s Session) bool {
		d, ok := s.Deposits[id]
		return ok && d.State == state
	}
}

func drain(r *Runner) []Update {
	var out []Update
	for u := range r.Updates() {
		out = append(out, u)
	}
	return out
}
