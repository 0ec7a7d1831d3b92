package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/paper-desk/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Every account has a generation counter that trades bump before
// invalidating. A read only fills the cache if the generation it saw before
// reading the primary is still current, so a read that raced a trade never
// caches the pre-trade account.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// cachedAccount keeps the password hash that model.Account hides from JSON.
type cachedAccount struct {
	model.Account
	PasswordHash string `json:"password_hash"`
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	if err := s.primary.CreateAccount(ctx, a); err != nil {
		return err
	}
	s.cacheAccount(ctx, a)
	return nil
}

func (s *CachedStore) ApplyTrade(ctx context.Context, cash decimal.Decimal, pos model.Position, entry *model.LedgerEntry) error {
	if err := s.primary.ApplyTrade(ctx, cash, pos, entry); err != nil {
		return err
	}
	// Bump the generation before invalidating; next read will re-populate.
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, generationKey(entry.Username))
		p.Del(ctx, accountKey(entry.Username))
		return nil
	})
	if err != nil {
		// The trade is booked; a stale entry can live at most one TTL.
		slog.Warn("invalidate cached account failed", "user", entry.Username, "err", err)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, username string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(username)).Bytes()
	if err == nil {
		var c cachedAccount
		if json.Unmarshal(data, &c) == nil {
			a := c.Account
			a.PasswordHash = c.PasswordHash
			return &a, nil
		}
	}

	gen, err := s.generation(ctx, s.rdb, username)
	if err != nil {
		// Redis is unavailable; serve from the primary without caching.
		return s.primary.GetAccount(ctx, username)
	}
	a, err := s.primary.GetAccount(ctx, username)
	if err != nil {
		return nil, err
	}
	s.fillAccount(ctx, a, gen)
	return a, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return s.primary.ListAccounts(ctx)
}

func (s *CachedStore) GetLedgerEntriesByUser(ctx context.Context, username string) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerEntriesByUser(ctx, username)
}

// --- Cache helpers ---

func (s *CachedStore) cacheAccount(ctx context.Context, a *model.Account) {
	if data, err := json.Marshal(cachedAccount{Account: *a, PasswordHash: a.PasswordHash}); err == nil {
		s.rdb.Set(ctx, accountKey(a.Username), data, s.ttl)
	}
}

// fillAccount caches a unless the account's generation has moved past gen.
// A trade landing between the check and the write aborts the transaction.
func (s *CachedStore) fillAccount(ctx context.Context, a *model.Account, gen int64) {
	data, err := json.Marshal(cachedAccount{Account: *a, PasswordHash: a.PasswordHash})
	if err != nil {
		return
	}
	key := generationKey(a.Username)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.generation(ctx, tx, a.Username)
		if err != nil {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, accountKey(a.Username), data, s.ttl)
			return nil
		})
		return err
	}, key)
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		slog.Warn("cache account failed", "user", a.Username, "err", err)
	}
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *CachedStore) generation(ctx context.Context, c getter, username string) (int64, error) {
	gen, err := c.Get(ctx, generationKey(username)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func accountKey(username string) string { return fmt.Sprintf("account:%s", username) }

func generationKey(username string) string { return fmt.Sprintf("account:%s:gen", username) }
