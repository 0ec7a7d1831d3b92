package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/paper-desk/internal/model"
)

// Schema creates the ledger tables if they do not exist.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	user_name      TEXT PRIMARY KEY,
	password_hash  TEXT NOT NULL,
	total_equity   NUMERIC NOT NULL DEFAULT 0,
	cash_available NUMERIC NOT NULL DEFAULT 0,
	risk_limits    JSONB NOT NULL DEFAULT '{}',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS positions (
	user_name         TEXT NOT NULL REFERENCES accounts (user_name) ON DELETE CASCADE,
	ticker            TEXT NOT NULL,
	quantity          BIGINT NOT NULL CHECK (quantity > 0),
	average_buy_price NUMERIC NOT NULL,
	PRIMARY KEY (user_name, ticker)
);

CREATE TABLE IF NOT EXISTS trades (
	id        UUID PRIMARY KEY,
	user_name TEXT NOT NULL REFERENCES accounts (user_name),
	ticker    TEXT NOT NULL,
	side      TEXT NOT NULL CHECK (side IN ('BUY', 'SELL')),
	quantity  BIGINT NOT NULL,
	price     NUMERIC NOT NULL,
	cost      NUMERIC NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS trades_user_name_idx ON trades (user_name, timestamp);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	limits, err := json.Marshal(a.RiskLimits)
	if err != nil {
		return fmt.Errorf("encode risk limits: %w", err)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO accounts (user_name, password_hash, total_equity, cash_available, risk_limits, created_at)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::JSONB, $6)`,
			a.Username, a.PasswordHash,
			a.TotalEquity.String(), a.CashAvailable.String(),
			string(limits), a.CreatedAt,
		)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrAccountExists, a.Username)
		}
		if err != nil {
			return err
		}
		for _, p := range a.Positions {
			if err := upsertPositionTx(ctx, tx, a.Username, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetAccount(ctx context.Context, username string) (*model.Account, error) {
	var a model.Account
	var equity, cash, limits string

	err := s.pool.QueryRow(ctx,
		`SELECT user_name, password_hash, total_equity::TEXT, cash_available::TEXT,
		        risk_limits::TEXT, created_at
		 FROM accounts WHERE user_name = $1`, username).
		Scan(&a.Username, &a.PasswordHash, &equity, &cash, &limits, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", username, err)
	}

	a.TotalEquity, _ = decimal.NewFromString(equity)
	a.CashAvailable, _ = decimal.NewFromString(cash)
	if err := json.Unmarshal([]byte(limits), &a.RiskLimits); err != nil {
		return nil, fmt.Errorf("decode risk limits for %s: %w", username, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT ticker, quantity, average_buy_price::TEXT
		 FROM positions WHERE user_name = $1 ORDER BY ticker`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	a.Positions = []model.Position{}
	for rows.Next() {
		var p model.Position
		var avg string
		if err := rows.Scan(&p.Ticker, &p.Quantity, &avg); err != nil {
			return nil, err
		}
		p.AverageBuyPrice, _ = decimal.NewFromString(avg)
		a.Positions = append(a.Positions, p)
	}
	return &a, rows.Err()
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_name, total_equity::TEXT, cash_available::TEXT, created_at
		 FROM accounts ORDER BY user_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		var equity, cash string
		if err := rows.Scan(&a.Username, &equity, &cash, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.TotalEquity, _ = decimal.NewFromString(equity)
		a.CashAvailable, _ = decimal.NewFromString(cash)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *PostgresStore) ApplyTrade(ctx context.Context, cash decimal.Decimal, pos model.Position, e *model.LedgerEntry) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE accounts SET cash_available = $2::NUMERIC WHERE user_name = $1`,
			e.Username, cash.String())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, e.Username)
		}

		if pos.Quantity > 0 {
			err = upsertPositionTx(ctx, tx, e.Username, pos)
		} else {
			_, err = tx.Exec(ctx,
				`DELETE FROM positions WHERE user_name = $1 AND ticker = $2`,
				e.Username, pos.Ticker)
		}
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO trades (id, user_name, ticker, side, quantity, price, cost, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)`,
			e.ID, e.Username, e.Ticker, string(e.Side),
			e.Quantity, e.Price.String(), e.Cost.String(),
			e.Timestamp,
		)
		return err
	})
}

func (s *PostgresStore) GetLedgerEntriesByUser(ctx context.Context, username string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, user_name, ticker, side, quantity,
		        price::TEXT, cost::TEXT, timestamp
		 FROM trades WHERE user_name = $1 ORDER BY timestamp`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func upsertPositionTx(ctx context.Context, tx pgx.Tx, username string, p model.Position) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO positions (user_name, ticker, quantity, average_buy_price)
		 VALUES ($1, $2, $3, $4::NUMERIC)
		 ON CONFLICT (user_name, ticker)
		 DO UPDATE SET quantity = EXCLUDED.quantity, average_buy_price = EXCLUDED.average_buy_price`,
		username, p.Ticker, p.Quantity, p.AverageBuyPrice.String())
	return err
}

// scanLedgerEntries reads pgx rows into LedgerEntry slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanLedgerEntries(rows pgxRows) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var side, priceS, costS string

		if err := rows.Scan(&e.ID, &e.Username, &e.Ticker, &side,
			&e.Quantity, &priceS, &costS, &e.Timestamp); err != nil {
			return nil, err
		}

		e.Side = model.Side(side)
		e.Price, _ = decimal.NewFromString(priceS)
		e.Cost, _ = decimal.NewFromString(costS)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}
