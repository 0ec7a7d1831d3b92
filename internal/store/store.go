// Package store defines the persistence interface for the reference ledger.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-desk/internal/model"
)

var (
	// ErrAccountNotFound is returned when no account exists for a username.
	ErrAccountNotFound = errors.New("store: account not found")

	// ErrAccountExists is returned when creating a duplicate account.
	ErrAccountExists = errors.New("store: account already exists")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account with its open positions.
	CreateAccount(ctx context.Context, account *model.Account) error

	// GetAccount retrieves an account and its open positions.
	GetAccount(ctx context.Context, username string) (*model.Account, error)

	// ListAccounts returns every account without positions.
	ListAccounts(ctx context.Context) ([]model.Account, error)

	// --- Trades ---

	// ApplyTrade atomically sets the account's cash, replaces its position
	// in entry.Ticker (removing it at zero quantity), and appends entry.
	ApplyTrade(ctx context.Context, cash decimal.Decimal, position model.Position, entry *model.LedgerEntry) error

	// --- Immutable ledger ---

	// GetLedgerEntriesByUser returns all trades for a user, oldest first.
	GetLedgerEntriesByUser(ctx context.Context, username string) ([]model.LedgerEntry, error)
}
