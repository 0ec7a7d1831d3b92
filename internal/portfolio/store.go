// Package portfolio mirrors the ledger's snapshot for the signed-in identity.
//
// The cached snapshot is only ever replaced wholesale by a fresh fetch; the
// store never computes post-trade balances itself. Fetches are tagged with an
// issuance sequence and the identity epoch they were issued under, so a
// response that arrives after a newer one, or after the identity changed, is
// discarded.
package portfolio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-desk/internal/events"
	"github.com/atmx/paper-desk/internal/metrics"
	"github.com/atmx/paper-desk/internal/model"
	"github.com/atmx/paper-desk/internal/trade"
)

// ErrNotAuthenticated is returned by ExecuteTrade without an identity.
var ErrNotAuthenticated = trade.ErrNotAuthenticated

// DefaultReconcileTimeout bounds the fetch that follows a trade.
const DefaultReconcileTimeout = 10 * time.Second

// Fetcher loads the authoritative snapshot. *api.Client implements it.
type Fetcher interface {
	Portfolio(ctx context.Context, username string) (model.PortfolioSnapshot, error)
}

// Executor runs a trade for identity against a cached snapshot.
// *trade.Protocol implements it.
type Executor interface {
	Execute(ctx context.Context, identity string, snap model.PortfolioSnapshot, req model.TradeRequest) (model.TradeResult, error)
}

// SessionSource publishes session changes. *session.Store implements it.
type SessionSource interface {
	Session() model.Session
	Subscribe(fn func(model.Session)) (unsubscribe func())
}

// State is what subscribers see after every change.
type State struct {
	Identity string                  `json:"identity,omitempty"`
	Snapshot model.PortfolioSnapshot `json:"snapshot"`
	Loaded   bool                    `json:"loaded"`
}

// Store caches one identity's portfolio.
type Store struct {
	fetcher          Fetcher
	executor         Executor
	reconcileTimeout time.Duration
	bus              *events.Bus[State]

	// pubMu keeps publications in the order state was applied.
	pubMu sync.Mutex

	mu       sync.Mutex
	identity string
	epoch    uint64
	issued   uint64
	applied  uint64
	snap     model.PortfolioSnapshot
	loaded   bool
	inflight int

	wg sync.WaitGroup
}

// NewStore creates an empty store with no identity.
func NewStore(fetcher Fetcher, executor Executor) *Store {
	return &Store{
		fetcher:          fetcher,
		executor:         executor,
		reconcileTimeout: DefaultReconcileTimeout,
		bus:              events.NewBus[State](),
		snap:             emptySnapshot(),
	}
}

// SetReconcileTimeout changes the bound on post-trade fetches.
func (s *Store) SetReconcileTimeout(d time.Duration) {
	if d > 0 {
		s.reconcileTimeout = d
	}
}

// Subscribe registers fn for every state change. Callbacks must not call
// back into the store synchronously.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	return s.bus.Subscribe(fn)
}

// Attach follows src: becoming authenticated starts a fetch on ctx, and any
// other state clears the cache before the session transition completes.
// The current session is applied immediately.
func (s *Store) Attach(ctx context.Context, src SessionSource) (detach func()) {
	unsub := src.Subscribe(func(sess model.Session) { s.onSession(ctx, sess) })
	s.onSession(ctx, src.Session())
	return unsub
}

func (s *Store) onSession(ctx context.Context, sess model.Session) {
	if sess.Authenticated() {
		s.bind(sess.Identity)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = s.FetchPortfolio(ctx)
		}()
		return
	}
	s.bind("")
}

// bind switches the store to identity, clearing the cache if it changed.
func (s *Store) bind(identity string) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	if identity == s.identity {
		s.mu.Unlock()
		return
	}
	prev := s.identity
	s.identity = identity
	s.epoch++
	s.applied = 0
	s.snap = emptySnapshot()
	s.loaded = false
	state := s.stateLocked()
	s.mu.Unlock()

	slog.Info("portfolio identity changed", "from", prev, "to", identity)
	s.bus.Publish(state)
}

// FetchPortfolio replaces the cache with a fresh snapshot for the current
// identity. Without an identity it does nothing. On failure the previous
// cache is kept and the error returned.
func (s *Store) FetchPortfolio(ctx context.Context) error {
	s.mu.Lock()
	identity := s.identity
	if identity == "" {
		s.mu.Unlock()
		return nil
	}
	s.issued++
	seq, epoch := s.issued, s.epoch
	s.inflight++
	s.mu.Unlock()

	snap, err := s.fetcher.Portfolio(ctx, identity)

	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	s.inflight--
	if err != nil {
		s.mu.Unlock()
		metrics.ReconcileTotal.WithLabelValues("failed").Inc()
		slog.Warn("portfolio fetch failed, keeping cached snapshot", "identity", identity, "seq", seq, "error", err)
		return err
	}
	if epoch != s.epoch || seq <= s.applied {
		s.mu.Unlock()
		metrics.ReconcileTotal.WithLabelValues("stale").Inc()
		slog.Debug("discarding stale portfolio", "identity", identity, "seq", seq)
		return nil
	}
	s.applied = seq
	s.snap = normalize(snap)
	s.loaded = true
	state := s.stateLocked()
	s.mu.Unlock()

	metrics.ReconcileTotal.WithLabelValues("applied").Inc()
	slog.Debug("portfolio applied",
		"identity", identity,
		"seq", seq,
		"cash", state.Snapshot.CashAvailable.String(),
		"positions", len(state.Snapshot.Positions),
	)
	s.bus.Publish(state)
	return nil
}

// ExecuteTrade runs req for the current identity. After the ledger answers,
// or when its answer was lost, the cache is reconciled before returning.
// Local pre-check failures leave everything untouched.
func (s *Store) ExecuteTrade(ctx context.Context, req model.TradeRequest) (model.TradeResult, error) {
	s.mu.Lock()
	identity := s.identity
	snap := s.snap.Clone()
	s.mu.Unlock()

	if identity == "" {
		return model.TradeResult{}, ErrNotAuthenticated
	}

	res, err := s.executor.Execute(ctx, identity, snap, req)

	var ve *trade.ValidationError
	if errors.As(err, &ve) || errors.Is(err, trade.ErrNotAuthenticated) {
		return res, err
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.reconcileTimeout)
	defer cancel()
	if ferr := s.FetchPortfolio(rctx); ferr != nil {
		slog.Warn("reconciliation after trade failed", "identity", identity, "error", ferr)
	}
	return res, err
}

// Snapshot returns a copy of the cached snapshot.
func (s *Store) Snapshot() model.PortfolioSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone()
}

// State returns the current identity and snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Identity returns the identity the cache belongs to.
func (s *Store) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Loading reports whether a fetch is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}

// Wait blocks until fetches started by session changes have finished.
func (s *Store) Wait() {
	s.wg.Wait()
}

func (s *Store) stateLocked() State {
	return State{Identity: s.identity, Snapshot: s.snap.Clone(), Loaded: s.loaded}
}

func emptySnapshot() model.PortfolioSnapshot {
	return model.PortfolioSnapshot{CashAvailable: decimal.Zero, Positions: []model.Position{}}
}

func normalize(snap model.PortfolioSnapshot) model.PortfolioSnapshot {
	out := snap.Clone()
	if out.Positions == nil {
		out.Positions = []model.Position{}
	}
	return out
}
