// Package trade validates trade intents against the cached portfolio and
// submits them to the ledger, classifying every failure.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atmx/paper-desk/internal/api"
	"github.com/atmx/paper-desk/internal/instrument"
	"github.com/atmx/paper-desk/internal/metrics"
	"github.com/atmx/paper-desk/internal/model"
)

// ErrNotAuthenticated is returned when no identity is bound.
var ErrNotAuthenticated = errors.New("trade: not authenticated")

// ValidationError is a local pre-check failure. Nothing was sent.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "trade: " + e.Reason }

// RejectedError is a definitive refusal from the ledger. Reason is the
// ledger's message, verbatim.
type RejectedError struct {
	Code   int
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("trade: rejected by ledger (%d): %s", e.Code, e.Reason)
}

// NetworkError means the ledger's answer was lost. The trade may or may not
// have been booked.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "trade: outcome unknown: " + e.Err.Error() }

func (e *NetworkError) Unwrap() error { return e.Err }

// Submitter books a trade on the ledger. *api.Client implements it.
type Submitter interface {
	SubmitTrade(ctx context.Context, username string, req model.TradeRequest) (string, error)
}

// Protocol runs the pre-check and submission steps for one trade.
type Protocol struct {
	submitter Submitter
	catalog   *instrument.Catalog
}

// NewProtocol creates a protocol. catalog may be nil to accept any
// well-formed ticker.
func NewProtocol(submitter Submitter, catalog *instrument.Catalog) *Protocol {
	return &Protocol{submitter: submitter, catalog: catalog}
}

// Validate checks req against the cached snapshot without any network call
// and returns the request with its ticker normalized.
func (p *Protocol) Validate(req model.TradeRequest, snap model.PortfolioSnapshot) (model.TradeRequest, error) {
	ticker, err := instrument.ParseTicker(req.Ticker)
	if err != nil {
		if errors.Is(err, instrument.ErrNotSelected) {
			return req, &ValidationError{Reason: "select a ticker first"}
		}
		return req, &ValidationError{Reason: err.Error()}
	}
	if _, err := p.catalog.Resolve(ticker); err != nil {
		return req, &ValidationError{Reason: err.Error()}
	}
	req.Ticker = ticker

	if !req.Side.Valid() {
		return req, &ValidationError{Reason: fmt.Sprintf("unknown side %q", req.Side)}
	}
	if req.Quantity <= 0 {
		return req, &ValidationError{Reason: "number of shares must be greater than 0"}
	}
	if !req.Price.IsPositive() {
		return req, &ValidationError{Reason: "no price available for " + ticker}
	}

	switch req.Side {
	case model.SideBuy:
		if req.Notional().GreaterThan(snap.CashAvailable) {
			return req, &ValidationError{Reason: fmt.Sprintf(
				"not enough balance: need %s, have %s", req.Notional().StringFixed(2), snap.CashAvailable.StringFixed(2))}
		}
	case model.SideSell:
		pos, _ := snap.Position(ticker)
		if pos.Quantity < req.Quantity {
			return req, &ValidationError{Reason: fmt.Sprintf(
				"not enough shares to sell: have %d, want %d", pos.Quantity, req.Quantity)}
		}
	}
	return req, nil
}

// Execute validates req for identity against snap and submits it.
// The returned error is ErrNotAuthenticated, *ValidationError,
// *RejectedError or *NetworkError.
func (p *Protocol) Execute(ctx context.Context, identity string, snap model.PortfolioSnapshot, req model.TradeRequest) (model.TradeResult, error) {
	if identity == "" {
		metrics.TradesTotal.WithLabelValues(string(req.Side), "unauthenticated").Inc()
		return model.TradeResult{}, ErrNotAuthenticated
	}

	req, err := p.Validate(req, snap)
	if err != nil {
		metrics.TradesTotal.WithLabelValues(string(req.Side), "invalid").Inc()
		slog.Info("trade pre-check failed", "identity", identity, "ticker", req.Ticker, "error", err)
		return model.TradeResult{}, err
	}

	start := time.Now()
	msg, err := p.submitter.SubmitTrade(ctx, identity, req)
	metrics.TradeLatency.WithLabelValues(string(req.Side)).Observe(time.Since(start).Seconds())

	if err != nil {
		var se *api.StatusError
		if errors.As(err, &se) {
			metrics.TradesTotal.WithLabelValues(string(req.Side), "rejected").Inc()
			slog.Info("trade rejected", "identity", identity, "ticker", req.Ticker, "code", se.Code, "reason", se.Detail)
			return model.TradeResult{Accepted: false, Message: se.Detail}, &RejectedError{Code: se.Code, Reason: se.Detail}
		}
		metrics.TradesTotal.WithLabelValues(string(req.Side), "network").Inc()
		slog.Warn("trade submission failed", "identity", identity, "ticker", req.Ticker, "error", err)
		return model.TradeResult{}, &NetworkError{Err: err}
	}

	if msg == "" {
		msg = fmt.Sprintf("%s %d %s at %s", req.Side, req.Quantity, req.Ticker, req.Price.StringFixed(2))
	}
	metrics.TradesTotal.WithLabelValues(string(req.Side), "accepted").Inc()
	slog.Info("trade accepted",
		"identity", identity,
		"ticker", req.Ticker,
		"side", req.Side,
		"quantity", req.Quantity,
		"price", req.Price.String(),
	)
	return model.TradeResult{Accepted: true, Message: msg}, nil
}
