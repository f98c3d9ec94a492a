package gateway

import (
	"context"
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/bridge_client/internal/config"
	"github.com/R3E-Network/bridge_client/internal/errors"
	"github.com/R3E-Network/bridge_client/internal/store"
	"github.com/R3E-Network/bridge_client/pkg/logger"
)

// DefaultSweepSpec is the cron schedule of the expiry sweep.
const DefaultSweepSpec = "@every 30s"

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Network     config.Network
	Protocol    Protocol
	Source      SourceChain
	Destination DestinationChain
	Store       store.Store
	Log         *logger.Logger

	// SweepSpec overrides DefaultSweepSpec.
	SweepSpec string
	Now       func() time.Time
}

// Manager opens, resumes and drives gateway sessions.
type Manager struct {
	deps *Dependencies
	log  *logger.Logger

	sweepSpec string
	cron      *cron.Cron

	mu      sync.Mutex
	runners map[string]*Runner
}

// NewManager validates cfg and creates a manager. Call Start to run the
// expiry sweep.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	switch {
	case cfg.Protocol == nil:
		return nil, errors.InvalidInput("protocol", "required")
	case cfg.Source == nil:
		return nil, errors.InvalidInput("source", "required")
	case cfg.Destination == nil:
		return nil, errors.InvalidInput("destination", "required")
	case cfg.Store == nil:
		return nil, errors.InvalidInput("store", "required")
	}
	authority, err := cfg.Network.Authority()
	if err != nil {
		return nil, errors.InvalidInput("mint_authority", err.Error())
	}

	log := cfg.Log
	if log == nil {
		log = logger.NewDefault("gateway")
	}
	spec := cfg.SweepSpec
	if spec == "" {
		spec = DefaultSweepSpec
	}

	return &Manager{
		deps: &Dependencies{
			Network:     cfg.Network,
			Authority:   authority,
			Protocol:    cfg.Protocol,
			Source:      cfg.Source,
			Destination: cfg.Destination,
			Store:       cfg.Store,
			Log:         log,
			Now:         cfg.Now,
		},
		log:       log,
		sweepSpec: spec,
		cron:      cron.New(),
		runners:   make(map[string]*Runner),
	}, nil
}

// Start schedules the expiry sweep.
func (m *Manager) Start() error {
	if _, err := m.cron.AddFunc(m.sweepSpec, m.Sweep); err != nil {
		return errors.InvalidInput("sweep_spec", err.Error())
	}
	m.cron.Start()
	return nil
}

// Stop halts the sweep and closes every runner. Sessions resume from the
// store on the next Resume.
func (m *Manager) Stop(ctx context.Context) error {
	cronDone := m.cron.Stop()

	m.mu.Lock()
	runners := make([]*Runner, 0, len(m.runners))
	for _, r := range m.runners {
		runners = append(runners, r)
	}
	m.mu.Unlock()

	for _, r := range runners {
		r.Close()
	}

	select {
	case <-cronDone.Done():
		return nil
	case <-ctx.Done():
		return errors.Cancelled(ctx.Err())
	}
}

// OpenSession starts a new lock-and-mint session.
func (m *Manager) OpenSession(ctx context.Context, p Params) (*Runner, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Cancelled(err)
	}
	p.Asset = strings.ToUpper(p.Asset)

	if p.Nonce == [32]byte{} {
		if _, err := rand.Read(p.Nonce[:]); err != nil {
			return nil, errors.Internal("generate nonce", err)
		}
	}
	now := m.deps.now()
	if p.Expiry.IsZero() && m.deps.Network.SessionExpiry > 0 {
		p.Expiry = now.Add(m.deps.Network.SessionExpiry)
	}

	selector := m.deps.Protocol.MintSelector(p.Asset, p.From, p.To)
	s, effects := NewSession(uuid.NewString(), selector, p, now)

	r := newRunner(m.deps, s)
	m.register(r)
	r.start(s, effects)

	m.log.WithField("session", s.ID).WithField("selector", selector).
		WithField("amount", p.Amount.String()).Info("session opened")
	return r, nil
}

// Resume returns the running session id, restoring it from the store if
// it is not running.
func (m *Manager) Resume(ctx context.Context, id string) (*Runner, error) {
	r, _, err := m.resume(ctx, id, nil)
	return r, err
}

// Claim forwards a claim for depositID to session id.
func (m *Manager) Claim(ctx context.Context, id, depositID string) error {
	return m.dispatch(ctx, id, ClaimRequested{DepositID: depositID})
}

// Retry re-enters the errored deposit depositID of session id.
func (m *Manager) Retry(ctx context.Context, id, depositID string) error {
	return m.dispatch(ctx, id, RetryRequested{DepositID: depositID})
}

// Status returns the current state of session id, running or stored.
func (m *Manager) Status(ctx context.Context, id string) (Session, error) {
	if r, ok := m.running(id); ok {
		return r.Status(), nil
	}
	return m.load(ctx, id)
}

// Runner returns the running session id, if any.
func (m *Manager) Runner(id string) (*Runner, bool) {
	return m.running(id)
}

// List returns every stored session id.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.deps.Store.List(ctx)
}

// Sweep expires running sessions whose window has closed.
func (m *Manager) Sweep() {
	now := m.deps.now()

	m.mu.Lock()
	runners := make([]*Runner, 0, len(m.runners))
	for _, r := range m.runners {
		runners = append(runners, r)
	}
	m.mu.Unlock()

	for _, r := range runners {
		s := r.Status()
		if s.State.IsTerminal() || !s.Expired(now) {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.Expire(ctx); err != nil && !errors.Is(err, ErrStopped) {
			m.log.WithError(err).WithField("session", s.ID).Warn("failed to expire session")
		}
		cancel()
	}
}

// dispatch sends ev to session id, restoring the session when its runner
// has already exited.
func (m *Manager) dispatch(ctx context.Context, id string, ev Event) error {
	if r, ok := m.running(id); ok {
		err := r.send(ctx, ev)
		if !errors.Is(err, ErrStopped) {
			return err
		}
		<-r.Done()
		m.unregister(r)
	}
	r, reply, err := m.resume(ctx, id, ev)
	if err != nil {
		return err
	}
	if reply == nil {
		return r.send(ctx, ev)
	}
	return r.awaitReply(ctx, reply)
}

// resume starts a runner for the stored session id. When ev is set it is
// queued ahead of the loop so a settled session still applies it.
func (m *Manager) resume(ctx context.Context, id string, ev Event) (*Runner, <-chan error, error) {
	if r, ok := m.running(id); ok {
		return r, nil, nil
	}

	s, err := m.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	restored, effects := Restore(s, m.deps.now())

	m.mu.Lock()
	if r, ok := m.runners[id]; ok && !isDone(r) {
		m.mu.Unlock()
		return r, nil, nil
	}
	r := newRunner(m.deps, restored)
	m.runners[id] = r
	m.mu.Unlock()
	m.watchExit(r)

	var reply <-chan error
	if ev != nil {
		reply = r.enqueue(ev)
	}
	r.start(restored, effects)

	m.log.WithField("session", id).WithField("state", restored.State.String()).Info("session resumed")
	return r, reply, nil
}

func (m *Manager) load(ctx context.Context, id string) (Session, error) {
	data, err := m.deps.Store.Load(ctx, id)
	if err != nil {
		return Session{}, err
	}
	return UnmarshalSession(data)
}

func (m *Manager) running(id string) (*Runner, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runners[id]
	if !ok || isDone(r) {
		return nil, false
	}
	return r, true
}

func (m *Manager) register(r *Runner) {
	m.mu.Lock()
	m.runners[r.ID()] = r
	m.mu.Unlock()
	m.watchExit(r)
}

func (m *Manager) watchExit(r *Runner) {
	go func() {
		<-r.Done()
		m.unregister(r)
	}()
}

func (m *Manager) unregister(r *Runner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runners[r.ID()] == r {
		delete(m.runners, r.ID())
	}
}

func isDone(r *Runner) bool {
	select {
	case <-r.Done():
		return true
	default:
		return false
	}
}
