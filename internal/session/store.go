// Package session resolves who the desk is acting for. It reads the session
// token from the token cache, decodes identity and expiry from it, and
// publishes every change of session state to subscribers synchronously.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atmx/paper-desk/internal/events"
	"github.com/atmx/paper-desk/internal/metrics"
	"github.com/atmx/paper-desk/internal/model"
	"github.com/atmx/paper-desk/internal/tokencache"
)

var (
	// ErrInvalidToken is returned when a token cannot be decoded or has no
	// subject.
	ErrInvalidToken = errors.New("session: invalid token")

	// ErrExpiredToken is returned when a token's expiry is not in the future.
	ErrExpiredToken = errors.New("session: token expired")

	// ErrNoExchanger is returned by LoginWithPassword when the store was
	// built without a credential exchanger.
	ErrNoExchanger = errors.New("session: no credential exchanger configured")
)

// CredentialExchanger trades a username and password for a session token.
type CredentialExchanger interface {
	Login(ctx context.Context, username, password string) (token string, err error)
}

// Store owns the session state machine: Loading → Anonymous | Authenticated.
//
// Transitions are serialized. Subscribers are called while the transition is
// still in progress, so they must not call back into Login, Logout or
// Initialize.
type Store struct {
	cache     tokencache.Cache
	key       string
	decoder   Decoder
	exchanger CredentialExchanger
	now       func() time.Time
	bus       *events.Bus[model.Session]

	transMu sync.Mutex // held for a whole transition, including notification

	mu     sync.RWMutex
	state  model.Session
	expiry *time.Timer
}

// Option configures a Store.
type Option func(*Store)

// WithDecoder replaces the default JWT decoder.
func WithDecoder(d Decoder) Option { return func(s *Store) { s.decoder = d } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithKey stores the token under key instead of tokencache.DefaultKey.
func WithKey(key string) Option { return func(s *Store) { s.key = key } }

// WithExchanger enables LoginWithPassword.
func WithExchanger(x CredentialExchanger) Option { return func(s *Store) { s.exchanger = x } }

// NewStore creates a store in the Loading state. Call Initialize once the
// subscribers that care about the initial state are registered.
func NewStore(cache tokencache.Cache, opts ...Option) *Store {
	s := &Store{
		cache:   cache,
		key:     tokencache.DefaultKey,
		decoder: NewJWTDecoder(),
		now:     time.Now,
		bus:     events.NewBus[model.Session](),
		state:   model.Session{Status: model.StatusLoading},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Session returns the current session state.
func (s *Store) Session() model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe registers fn for every session change.
func (s *Store) Subscribe(fn func(model.Session)) (unsubscribe func()) {
	return s.bus.Subscribe(fn)
}

// Initialize resolves the startup state from the cached token. An absent,
// undecodable or expired token yields Anonymous; the last two are purged.
// A cache read failure also yields Anonymous and is returned.
func (s *Store) Initialize(ctx context.Context) error {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	token, ok, err := s.cache.Get(ctx, s.key)
	if err != nil {
		s.transition(anonymous())
		return fmt.Errorf("session: read token: %w", err)
	}
	if !ok || token == "" {
		s.transition(anonymous())
		return nil
	}

	claims, err := s.validate(token)
	if err != nil {
		slog.Info("discarding cached session token", "reason", err)
		s.purge(ctx)
		s.transition(anonymous())
		return nil
	}

	s.transition(authenticated(claims))
	return nil
}

// Login stores token and authenticates as its subject. The token is not
// stored when it is undecodable (ErrInvalidToken) or already expired
// (ErrExpiredToken); the current state is left as it was.
func (s *Store) Login(ctx context.Context, token string) error {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	claims, err := s.validate(token)
	if err != nil {
		return err
	}
	if err := s.cache.Set(ctx, s.key, token); err != nil {
		return fmt.Errorf("session: store token: %w", err)
	}

	slog.Info("session authenticated", "identity", claims.Subject, "expires", claims.ExpiresAt)
	s.transition(authenticated(claims))
	return nil
}

// LoginWithPassword exchanges credentials for a token and logs in with it.
func (s *Store) LoginWithPassword(ctx context.Context, username, password string) error {
	if s.exchanger == nil {
		return ErrNoExchanger
	}
	token, err := s.exchanger.Login(ctx, username, password)
	if err != nil {
		return err
	}
	return s.Login(ctx, token)
}

// Logout purges the token and goes Anonymous. The transition happens even
// if the cache cannot be written; that error is returned.
func (s *Store) Logout(ctx context.Context) error {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	err := s.cache.Remove(ctx, s.key)
	s.transition(anonymous())
	if err != nil {
		return fmt.Errorf("session: purge token: %w", err)
	}
	return nil
}

// ExpireIfDue ends an authenticated session whose token has expired and
// reports whether it did.
func (s *Store) ExpireIfDue(ctx context.Context) bool {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	cur := s.Session()
	if !cur.Authenticated() || cur.TokenExpiry.After(s.now()) {
		return false
	}

	slog.Info("session expired", "identity", cur.Identity)
	s.purge(ctx)
	s.transition(anonymous())
	return true
}

func (s *Store) validate(token string) (Claims, error) {
	claims, err := s.decoder.Decode(token)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return Claims{}, err
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if !claims.ExpiresAt.After(s.now()) {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

func (s *Store) purge(ctx context.Context) {
	if err := s.cache.Remove(ctx, s.key); err != nil {
		slog.Warn("failed to purge session token", "err", err)
	}
}

// transition installs next and notifies subscribers if identity or status
// changed. Caller holds transMu.
func (s *Store) transition(next model.Session) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
	if next.Authenticated() {
		if d := next.TokenExpiry.Sub(s.now()); d > 0 {
			s.expiry = time.AfterFunc(d, func() { s.ExpireIfDue(context.Background()) })
		}
	}
	s.mu.Unlock()

	if prev.Status == next.Status && prev.Identity == next.Identity {
		return
	}
	metrics.SessionTransitions.WithLabelValues(string(next.Status)).Inc()
	s.bus.Publish(next)
}

func anonymous() model.Session {
	return model.Session{Status: model.StatusAnonymous}
}

func authenticated(c Claims) model.Session {
	return model.Session{
		Identity:    c.Subject,
		TokenExpiry: c.ExpiresAt,
		Status:      model.StatusAuthenticated,
	}
}
