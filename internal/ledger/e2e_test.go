package ledger_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/atmx/paper-desk/internal/api"
	"github.com/atmx/paper-desk/internal/model"
	"github.com/atmx/paper-desk/internal/portfolio"
	"github.com/atmx/paper-desk/internal/session"
	"github.com/atmx/paper-desk/internal/tokencache"
	"github.com/atmx/paper-desk/internal/trade"
)

// TestDeskAgainstLedger drives the desk's stores against a live ledger:
// password login, initial fetch, a trade, and reconciliation.
func TestDeskAgainstLedger(t *testing.T) {
	svc, _, _, router := newTestEnv(t)
	seedAccount(t, svc, "alice", 100000, model.RiskLimits{MaxExposurePerTickerPct: d(0.75)})

	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx := context.Background()
	client := api.NewClient(srv.URL, 0)
	cache := tokencache.NewMemoryCache()
	sess := session.NewStore(cache, session.WithExchanger(client))
	folio := portfolio.NewStore(client, trade.NewProtocol(client, nil))
	folio.Attach(ctx, sess)

	if err := sess.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if err := sess.LoginWithPassword(ctx, "alice", "hunter2"); err != nil {
		t.Fatalf("login: %v", err)
	}
	folio.Wait()

	if got := sess.Session().Identity; got != "alice" {
		t.Fatalf("expected identity alice, got %q", got)
	}
	if got := folio.Snapshot().CashAvailable; !got.Equal(d(100000)) {
		t.Fatalf("expected initial cash 100000, got %s", got)
	}

	res, err := folio.ExecuteTrade(ctx, model.TradeRequest{Ticker: "TICK", Side: model.SideBuy, Price: d(700), Quantity: 100})
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("expected accepted, got %+v", res)
	}
	snap := folio.Snapshot()
	if !snap.CashAvailable.Equal(d(30000)) {
		t.Errorf("expected cash 30000, got %s", snap.CashAvailable)
	}
	if len(snap.Positions) != 1 || snap.Positions[0].Ticker != "TICK" || snap.Positions[0].Quantity != 100 ||
		!snap.Positions[0].AverageBuyPrice.Equal(d(700)) {
		t.Errorf("unexpected positions %+v", snap.Positions)
	}

	// Over the per-ticker limit: passes the local pre-check, refused by the
	// ledger with its reason, cache reconciled to the unchanged state.
	_, err = folio.ExecuteTrade(ctx, model.TradeRequest{Ticker: "TICK", Side: model.SideBuy, Price: d(100), Quantity: 100})
	var re *trade.RejectedError
	if !errors.As(err, &re) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if re.Reason == "" {
		t.Error("expected the ledger's reason")
	}
	if got := folio.Snapshot().CashAvailable; !got.Equal(d(30000)) {
		t.Errorf("expected cash unchanged at 30000, got %s", got)
	}

	if err := sess.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	if snap := folio.Snapshot(); !snap.CashAvailable.IsZero() || len(snap.Positions) != 0 {
		t.Errorf("expected empty cache after logout, got %+v", snap)
	}
	if _, err := folio.ExecuteTrade(ctx, model.TradeRequest{Ticker: "TICK", Side: model.SideSell, Price: d(1), Quantity: 1}); !errors.Is(err, portfolio.ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated after logout, got %v", err)
	}
}
