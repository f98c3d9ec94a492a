package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/bridge_client/internal/config"
	"github.com/R3E-Network/bridge_client/internal/errors"
	"github.com/R3E-Network/bridge_client/internal/metrics"
	"github.com/R3E-Network/bridge_client/internal/store"
	"github.com/R3E-Network/bridge_client/pkg/logger"
)

const (
	eventBuffer    = 64
	updateBuffer   = 128
	persistTimeout = 10 * time.Second
)

// ErrStopped is returned when an event is sent to a runner that has exited.
var ErrStopped = errors.New("gateway: session runner stopped")

// UpdateKind classifies an Update.
type UpdateKind int

const (
	// UpdateSession reports a session state change.
	UpdateSession UpdateKind = iota
	// UpdateDeposit reports a deposit state change.
	UpdateDeposit
	// UpdateClaimReady prompts the caller to claim a deposit.
	UpdateClaimReady
	// UpdateSettled is the last update; the session and its deposits are at rest.
	UpdateSettled
)

// String returns the string representation of the kind.
func (k UpdateKind) String() string {
	switch k {
	case UpdateSession:
		return "session"
	case UpdateDeposit:
		return "deposit"
	case UpdateClaimReady:
		return "claim-ready"
	case UpdateSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k UpdateKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Update is one entry of a session's update stream.
type Update struct {
	Kind      UpdateKind `json:"kind"`
	DepositID string     `json:"deposit_id,omitempty"`
	Session   Session    `json:"session"`
}

// Dependencies are the collaborators shared by all runners of a manager.
type Dependencies struct {
	Network     config.Network
	Authority   common.Address
	Protocol    Protocol
	Source      SourceChain
	Destination DestinationChain
	Store       store.Store
	Log         *logger.Logger
	Now         func() time.Time
}

func (d *Dependencies) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

type request struct {
	ev    Event
	reply chan error
}

// Runner owns one session. All events are applied by a single goroutine in
// arrival order and the session is persisted after every transition.
type Runner struct {
	deps *Dependencies
	log  *logger.Logger
	id   string

	events  chan request
	updates chan Update
	done    chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	effects sync.WaitGroup

	mu       sync.RWMutex
	snapshot Session
	settled  bool

	// sub is owned by the loop goroutine.
	sub Subscription
}

func newRunner(deps *Dependencies, s Session) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	log := deps.Log
	if log == nil {
		log = logger.NewDiscard()
	}
	return &Runner{
		deps:     deps,
		log:      log.Named(s.ID),
		id:       s.ID,
		events:   make(chan request, eventBuffer),
		updates:  make(chan Update, updateBuffer),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		snapshot: s.Clone(),
	}
}

// start runs the loop from s, first executing effects.
func (r *Runner) start(s Session, effects []Effect) {
	metrics.SessionStarted()
	go r.loop(s, effects)
}

// ID returns the session id.
func (r *Runner) ID() string { return r.id }

// Status returns a snapshot of the session.
func (r *Runner) Status() Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot.Clone()
}

// Updates returns the session's update stream. It is closed when the runner exits.
func (r *Runner) Updates() <-chan Update { return r.updates }

// Done is closed when the runner exits.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Settled reports whether the runner exited because the session came to rest.
func (r *Runner) Settled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settled
}

// Wait blocks until the runner exits and returns the final session.
func (r *Runner) Wait(ctx context.Context) (Session, error) {
	select {
	case <-r.done:
		return r.Status(), nil
	case <-ctx.Done():
		return r.Status(), errors.Cancelled(ctx.Err())
	}
}

// Claim forwards the caller's claim for depositID.
func (r *Runner) Claim(ctx context.Context, depositID string) error {
	return r.send(ctx, ClaimRequested{DepositID: depositID})
}

// Retry re-enters the errored deposit depositID.
func (r *Runner) Retry(ctx context.Context, depositID string) error {
	return r.send(ctx, RetryRequested{DepositID: depositID})
}

// Expire closes the session window.
func (r *Runner) Expire(ctx context.Context) error {
	return r.send(ctx, Expired{})
}

// Close stops the runner without settling the session. Effects in flight
// are cancelled and resume when the session is restored.
func (r *Runner) Close() {
	r.cancel()
	<-r.done
}

// send delivers ev to the loop and returns the transition's error.
func (r *Runner) send(ctx context.Context, ev Event) error {
	reply := make(chan error, 1)
	select {
	case r.events <- request{ev: ev, reply: reply}:
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return errors.Cancelled(ctx.Err())
	}
	return r.awaitReply(ctx, reply)
}

func (r *Runner) awaitReply(ctx context.Context, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-r.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return errors.Cancelled(ctx.Err())
	}
}

// enqueue queues ev before the loop starts.
func (r *Runner) enqueue(ev Event) <-chan error {
	reply := make(chan error, 1)
	r.events <- request{ev: ev, reply: reply}
	return reply
}

// post delivers an effect result or watcher callback. Results arriving after
// the runner stopped are dropped.
func (r *Runner) post(ev Event) {
	select {
	case r.events <- request{ev: ev}:
	case <-r.ctx.Done():
	}
}

func (r *Runner) loop(session Session, effects []Effect) {
	defer r.shutdown()

	r.commit(Session{}, session)
	r.execute(session, effects)
	if session.Settled() && len(r.events) == 0 {
		r.settle(session)
		return
	}

	for {
		select {
		case <-r.ctx.Done():
			return
		case req := <-r.events:
			next, effects, err := session.Apply(req.ev, r.deps.now())
			if req.reply != nil {
				req.reply <- err
			}
			if err != nil {
				r.log.WithError(err).WithField("event", eventName(req.ev)).Debug("event rejected")
				continue
			}

			r.commit(session, next)
			session = next
			r.execute(session, effects)

			if session.Settled() {
				r.settle(session)
				return
			}
		}
	}
}

// commit persists next, records metrics and publishes state changes.
func (r *Runner) commit(prev, next Session) {
	r.mu.Lock()
	r.snapshot = next.Clone()
	r.mu.Unlock()

	r.persist(next)

	if prev.ID == "" || prev.State != next.State {
		from := SessionRestoring.String()
		if prev.ID != "" {
			from = prev.State.String()
		}
		metrics.RecordSessionTransition(from, next.State.String())
		entry := r.log.WithField("from", from).WithField("to", next.State.String())
		if next.Error != "" {
			entry = entry.WithField("error", next.Error)
		}
		entry.Info("session transition")
		r.publish(Update{Kind: UpdateSession, Session: next.Clone()})
	}

	for _, d := range next.Ordered() {
		before, known := prev.Deposits[d.ID]
		if known && before.State == d.State {
			continue
		}
		from := "new"
		if known {
			from = before.State.String()
		}
		metrics.RecordDepositTransition(from, d.State.String())

		entry := r.log.WithField("deposit", d.ID).WithField("from", from).WithField("to", d.State.String())
		if d.State == DepositErrored {
			entry.WithField("error", d.Error).WithField("kind", string(d.ErrorKind)).Warn("deposit errored")
		} else {
			entry.Info("deposit transition")
		}
		r.publish(Update{Kind: UpdateDeposit, DepositID: d.ID, Session: next.Clone()})
	}
}

func (r *Runner) persist(s Session) {
	if r.deps.Store == nil {
		return
	}
	data, err := MarshalSession(s)
	if err != nil {
		r.log.WithError(err).Error("failed to encode session")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.deps.Store.Save(ctx, s.ID, data); err != nil {
		r.log.WithError(err).Error("failed to persist session")
	}
}

// publish never blocks the loop; a full stream drops the update.
func (r *Runner) publish(u Update) {
	select {
	case r.updates <- u:
	default:
		r.log.WithField("kind", u.Kind.String()).Warn("update stream full, dropping update")
	}
}

func (r *Runner) settle(s Session) {
	r.mu.Lock()
	r.settled = true
	r.mu.Unlock()
	r.log.WithField("state", s.State.String()).Info("session settled")
	r.publish(Update{Kind: UpdateSettled, Session: s.Clone()})
}

func (r *Runner) shutdown() {
	r.cancel()
	if r.sub != nil {
		r.sub.Unsubscribe()
		r.sub = nil
	}
	r.effects.Wait()
	metrics.SessionStopped()
	close(r.updates)
	close(r.done)
}
