package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-desk/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	ledger   []model.LedgerEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.Username]; ok {
		return fmt.Errorf("%w: %s", ErrAccountExists, a.Username)
	}
	s.accounts[a.Username] = cloneAccount(a)
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, username string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[username]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, username)
	}
	return cloneAccount(a), nil
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		c := *a
		c.Positions = nil
		accounts = append(accounts, c)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Username < accounts[j].Username })
	return accounts, nil
}

func (s *MemoryStore) ApplyTrade(_ context.Context, cash decimal.Decimal, pos model.Position, entry *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[entry.Username]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, entry.Username)
	}
	a.CashAvailable = cash
	a.Positions = upsertPosition(a.Positions, pos)
	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *MemoryStore) GetLedgerEntriesByUser(_ context.Context, username string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.Username == username {
			result = append(result, e)
		}
	}
	return result, nil
}

// upsertPosition replaces the position for pos.Ticker, dropping it when its
// quantity is zero. Positions stay sorted by ticker.
func upsertPosition(positions []model.Position, pos model.Position) []model.Position {
	out := make([]model.Position, 0, len(positions)+1)
	for _, p := range positions {
		if p.Ticker != pos.Ticker {
			out = append(out, p)
		}
	}
	if pos.Quantity > 0 {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

func cloneAccount(a *model.Account) *model.Account {
	c := *a
	c.Positions = make([]model.Position, len(a.Positions))
	copy(c.Positions, a.Positions)
	return &c
}
