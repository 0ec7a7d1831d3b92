package trade_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-desk/internal/api"
	"github.com/atmx/paper-desk/internal/instrument"
	"github.com/atmx/paper-desk/internal/model"
	"github.com/atmx/paper-desk/internal/trade"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// recordingSubmitter counts submissions and answers with msg or err.
type recordingSubmitter struct {
	calls []model.TradeRequest
	msg   string
	err   error
}

func (s *recordingSubmitter) SubmitTrade(_ context.Context, _ string, req model.TradeRequest) (string, error) {
	s.calls = append(s.calls, req)
	return s.msg, s.err
}

func snapshot() model.PortfolioSnapshot {
	return model.PortfolioSnapshot{
		CashAvailable: d(100000),
		Positions: []model.Position{
			{Ticker: "TICK", Quantity: 50, AverageBuyPrice: d(650)},
		},
	}
}

// --- Pre-check tests ---

func TestExecute_PreCheckFailuresSendNothing(t *testing.T) {
	tests := []struct {
		name string
		req  model.TradeRequest
	}{
		{"unselected", model.TradeRequest{Ticker: instrument.Unselected, Side: model.SideBuy, Price: d(10), Quantity: 1}},
		{"empty ticker", model.TradeRequest{Ticker: "", Side: model.SideBuy, Price: d(10), Quantity: 1}},
		{"malformed ticker", model.TradeRequest{Ticker: "TI CK", Side: model.SideBuy, Price: d(10), Quantity: 1}},
		{"zero quantity", model.TradeRequest{Ticker: "TICK", Side: model.SideBuy, Price: d(10), Quantity: 0}},
		{"negative quantity", model.TradeRequest{Ticker: "TICK", Side: model.SideSell, Price: d(10), Quantity: -3}},
		{"no price", model.TradeRequest{Ticker: "TICK", Side: model.SideBuy, Price: decimal.Zero, Quantity: 1}},
		{"bad side", model.TradeRequest{Ticker: "TICK", Side: "HOLD", Price: d(10), Quantity: 1}},
		{"buy over cash", model.TradeRequest{Ticker: "TICK", Side: model.SideBuy, Price: d(700), Quantity: 143}},
		{"sell over position", model.TradeRequest{Ticker: "TICK", Side: model.SideSell, Price: d(700), Quantity: 51}},
		{"sell without position", model.TradeRequest{Ticker: "ACME", Side: model.SideSell, Price: d(10), Quantity: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &recordingSubmitter{msg: "ok"}
			p := trade.NewProtocol(sub, nil)

			_, err := p.Execute(context.Background(), "alice", snapshot(), tt.req)

			var ve *trade.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Reason == "" {
				t.Error("expected a reason")
			}
			if len(sub.calls) != 0 {
				t.Errorf("expected zero submissions, got %d", len(sub.calls))
			}
		})
	}
}

func TestExecute_BuyExactlyCash(t *testing.T) {
	sub := &recordingSubmitter{msg: "Trade executed"}
	p := trade.NewProtocol(sub, nil)

	// 1000 × 100 == 100000: not exceeding cash.
	res, err := p.Execute(context.Background(), "alice", snapshot(), model.TradeRequest{
		Ticker: "tick", Side: model.SideBuy, Price: d(1000), Quantity: 100,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Accepted || res.Message != "Trade executed" {
		t.Errorf("unexpected result %+v", res)
	}
	if len(sub.calls) != 1 || sub.calls[0].Ticker != "TICK" {
		t.Errorf("expected one submission with normalized ticker, got %+v", sub.calls)
	}
}

func TestExecute_UnknownToCatalog(t *testing.T) {
	cat, err := instrument.NewCatalog([]instrument.Instrument{{Ticker: "TICK"}})
	if err != nil {
		t.Fatal(err)
	}
	sub := &recordingSubmitter{}
	p := trade.NewProtocol(sub, cat)

	_, err = p.Execute(context.Background(), "alice", snapshot(), model.TradeRequest{
		Ticker: "ACME", Side: model.SideBuy, Price: d(1), Quantity: 1,
	})
	var ve *trade.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(sub.calls) != 0 {
		t.Error("expected no submission")
	}
}

func TestExecute_NotAuthenticated(t *testing.T) {
	sub := &recordingSubmitter{}
	p := trade.NewProtocol(sub, nil)

	_, err := p.Execute(context.Background(), "", snapshot(), model.TradeRequest{
		Ticker: "TICK", Side: model.SideBuy, Price: d(1), Quantity: 1,
	})
	if !errors.Is(err, trade.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if len(sub.calls) != 0 {
		t.Error("expected no submission")
	}
}

// --- Outcome classification ---

func TestExecute_RejectedByLedger(t *testing.T) {
	sub := &recordingSubmitter{err: &api.StatusError{Op: "trade", Code: 400, Detail: "Insufficient cash"}}
	p := trade.NewProtocol(sub, nil)

	res, err := p.Execute(context.Background(), "alice", snapshot(), model.TradeRequest{
		Ticker: "TICK", Side: model.SideBuy, Price: d(10), Quantity: 1,
	})
	var re *trade.RejectedError
	if !errors.As(err, &re) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if re.Reason != "Insufficient cash" || re.Code != 400 {
		t.Errorf("unexpected rejection %+v", re)
	}
	if res.Accepted || res.Message != "Insufficient cash" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestExecute_NetworkFailure(t *testing.T) {
	cause := errors.New("connection reset")
	sub := &recordingSubmitter{err: &api.TransportError{Op: "trade", Err: cause}}
	p := trade.NewProtocol(sub, nil)

	_, err := p.Execute(context.Background(), "alice", snapshot(), model.TradeRequest{
		Ticker: "TICK", Side: model.SideSell, Price: d(10), Quantity: 50,
	})
	var ne *trade.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("expected NetworkError to wrap the transport cause")
	}
}

func TestExecute_DefaultMessage(t *testing.T) {
	sub := &recordingSubmitter{}
	p := trade.NewProtocol(sub, nil)

	res, err := p.Execute(context.Background(), "alice", snapshot(), model.TradeRequest{
		Ticker: "TICK", Side: model.SideBuy, Price: d(700), Quantity: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Message != "BUY 2 TICK at 700.00" {
		t.Errorf("unexpected message %q", res.Message)
	}
}
