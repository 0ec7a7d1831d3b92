// Package model defines the core domain types shared by the desk client and
// the reference ledger. All monetary values use shopspring/decimal — never
// float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionStatus is the state of the authentication session.
type SessionStatus string

const (
	StatusLoading       SessionStatus = "loading"
	StatusAnonymous     SessionStatus = "anonymous"
	StatusAuthenticated SessionStatus = "authenticated"
)

// Session is the client's view of the current login.
// Identity is empty unless Status is StatusAuthenticated.
type Session struct {
	Identity    string        `json:"identity,omitempty"`
	TokenExpiry time.Time     `json:"token_expiry,omitempty"`
	Status      SessionStatus `json:"status"`
}

// Authenticated reports whether the session carries an identity.
func (s Session) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.Identity != ""
}

// PriceBar is one OHLCV bar of a price series. Bars are immutable once
// published.
type PriceBar struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Position is an open holding in one ticker. Quantity is never negative;
// positions with zero quantity are dropped from snapshots.
type Position struct {
	Ticker          string          `json:"ticker"`
	Quantity        int64           `json:"quantity"`
	AverageBuyPrice decimal.Decimal `json:"average_buy_price"`
}

// PortfolioSnapshot is the authoritative cash balance and open positions of
// one identity, as last reported by the ledger.
type PortfolioSnapshot struct {
	CashAvailable decimal.Decimal `json:"cash_available"`
	Positions     []Position      `json:"positions"`
}

// Position returns the holding for ticker, if any.
func (p PortfolioSnapshot) Position(ticker string) (Position, bool) {
	for _, pos := range p.Positions {
		if pos.Ticker == ticker {
			return pos, true
		}
	}
	return Position{}, false
}

// Clone returns a deep copy so callers cannot mutate a cached snapshot.
func (p PortfolioSnapshot) Clone() PortfolioSnapshot {
	out := PortfolioSnapshot{CashAvailable: p.CashAvailable}
	if p.Positions != nil {
		out.Positions = make([]Position, len(p.Positions))
		copy(out.Positions, p.Positions)
	}
	return out
}

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// TradeRequest is a user's intent to trade at the displayed price.
type TradeRequest struct {
	Ticker   string          `json:"ticker"`
	Side     Side            `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// Notional is price × quantity.
func (r TradeRequest) Notional() decimal.Decimal {
	return r.Price.Mul(decimal.NewFromInt(r.Quantity))
}

// TradeResult is the definitive outcome of a submitted trade.
type TradeResult struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

// --- Ledger (server side) ---

// RiskLimits bound what a ledger account may hold.
type RiskLimits struct {
	MaxAllocationPct        decimal.Decimal `json:"max_allocation_pct" yaml:"max_allocation_pct"`
	MaxRiskPerTradePct      decimal.Decimal `json:"max_risk_per_trade_pct" yaml:"max_risk_per_trade_pct"`
	MaxExposurePerTickerPct decimal.Decimal `json:"max_exposure_per_ticker_pct" yaml:"max_exposure_per_ticker_pct"`
}

// Account is the ledger's record of one user's cash and holdings.
type Account struct {
	Username      string          `json:"user_name" db:"user_name"`
	PasswordHash  string          `json:"-" db:"password_hash"`
	TotalEquity   decimal.Decimal `json:"total_equity" db:"total_equity"`
	CashAvailable decimal.Decimal `json:"cash_available" db:"cash_available"`
	RiskLimits    RiskLimits      `json:"risk_limits" db:"risk_limits"`
	Positions     []Position      `json:"open_positions"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Snapshot projects the account onto the client-facing snapshot.
func (a *Account) Snapshot() PortfolioSnapshot {
	return PortfolioSnapshot{
		CashAvailable: a.CashAvailable,
		Positions:     a.Positions,
	}.Clone()
}

// LedgerEntry is an immutable record of a trade execution.
// Once created, these are never modified or deleted.
type LedgerEntry struct {
	ID        string          `json:"id" db:"id"`
	Username  string          `json:"username" db:"username"`
	Ticker    string          `json:"ticker" db:"ticker"`
	Side      Side            `json:"side" db:"side"`
	Quantity  int64           `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Cost      decimal.Decimal `json:"cost" db:"cost"` // signed: +buy outflow, -sell inflow
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}
