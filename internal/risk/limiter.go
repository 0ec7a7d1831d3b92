// Package risk enforces an account's allocation limits on purchases.
//
// Limits are fractions of total equity. A purchase is checked twice: its own
// notional against the per-trade allocation cap, and the ticker's resulting
// cost-basis exposure against the per-ticker cap. A zero limit disables
// that check. Sales only reduce exposure and are never limited here.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-desk/internal/model"
)

var (
	// ErrAllocationLimitExceeded is returned when a single purchase is
	// larger than the account's per-trade allocation.
	ErrAllocationLimitExceeded = errors.New("risk: per-trade allocation limit exceeded")

	// ErrTickerLimitExceeded is returned when a purchase would push the
	// exposure in one ticker beyond the per-ticker maximum.
	ErrTickerLimitExceeded = errors.New("risk: per-ticker exposure limit exceeded")
)

// Limiter checks purchases against risk limits.
type Limiter struct {
	// Defaults fill in any limit an account leaves at zero.
	Defaults model.RiskLimits
}

// NewLimiter creates a limiter with the given fallback limits.
func NewLimiter(defaults model.RiskLimits) *Limiter {
	return &Limiter{Defaults: defaults}
}

// Effective returns limits with zero fields replaced by the defaults.
func (l *Limiter) Effective(limits model.RiskLimits) model.RiskLimits {
	if limits.MaxAllocationPct.IsZero() {
		limits.MaxAllocationPct = l.Defaults.MaxAllocationPct
	}
	if limits.MaxRiskPerTradePct.IsZero() {
		limits.MaxRiskPerTradePct = l.Defaults.MaxRiskPerTradePct
	}
	if limits.MaxExposurePerTickerPct.IsZero() {
		limits.MaxExposurePerTickerPct = l.Defaults.MaxExposurePerTickerPct
	}
	return limits
}

// CheckBuy validates buying notional worth of ticker.
//
// Parameters:
//   - limits: the account's configured limits
//   - equity: the account's total equity; non-positive disables all checks
//   - exposures: ticker → current cost-basis exposure for this account
//
// Returns nil if the purchase is within limits.
func (l *Limiter) CheckBuy(
	limits model.RiskLimits,
	equity decimal.Decimal,
	ticker string,
	notional decimal.Decimal,
	exposures map[string]decimal.Decimal,
) error {
	if !equity.IsPositive() {
		return nil
	}
	limits = l.Effective(limits)

	// 1. Per-trade allocation.
	if pct := limits.MaxAllocationPct; pct.IsPositive() {
		if notional.GreaterThan(equity.Mul(pct)) {
			return ErrAllocationLimitExceeded
		}
	}

	// 2. Per-ticker exposure after the purchase.
	if pct := limits.MaxExposurePerTickerPct; pct.IsPositive() {
		after := exposures[ticker].Add(notional)
		if after.GreaterThan(equity.Mul(pct)) {
			return ErrTickerLimitExceeded
		}
	}

	return nil
}

// Exposures returns the cost basis held in each ticker.
func Exposures(positions []model.Position) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(positions))
	for _, p := range positions {
		out[p.Ticker] = out[p.Ticker].Add(p.AverageBuyPrice.Mul(decimal.NewFromInt(p.Quantity)))
	}
	return out
}
