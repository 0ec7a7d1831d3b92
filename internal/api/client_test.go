package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-desk/internal/api"
	"github.com/atmx/paper-desk/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func TestLogin_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/login" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		r.ParseForm()
		if r.PostForm.Get("username") != "alice" || r.PostForm.Get("password") != "pw" {
			t.Errorf("expected form credentials, got %v", r.PostForm)
		}
		writeJSON(w, 200, `{"access_token":"tok","token_type":"bearer"}`)
	}))
	defer srv.Close()

	tok, err := api.NewClient(srv.URL, time.Second).Login(context.Background(), "alice", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if tok != "tok" {
		t.Errorf("expected tok, got %q", tok)
	}
}

func TestLogin_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 401, `{"detail":"Invalid Credentials"}`)
	}))
	defer srv.Close()

	_, err := api.NewClient(srv.URL, time.Second).Login(context.Background(), "alice", "bad")
	var se *api.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != 401 || se.Detail != "Invalid Credentials" {
		t.Errorf("unexpected status error %+v", se)
	}
}

func TestPortfolio_Decode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/portfolio/alice" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, 200, `{
			"open_positions": [
				{"ticker":"TATAMOTORS","quantity":100,"average_buy_price":700.5},
				{"ticker":"INFY","quantity":0,"average_buy_price":1500}
			],
			"cash_available": 29950
		}`)
	}))
	defer srv.Close()

	snap, err := api.NewClient(srv.URL, time.Second).Portfolio(context.Background(), "alice")
	if err != nil {
		t.Fatalf("portfolio: %v", err)
	}
	if !snap.CashAvailable.Equal(decimal.NewFromInt(29950)) {
		t.Errorf("expected cash 29950, got %s", snap.CashAvailable)
	}
	if len(snap.Positions) != 1 {
		t.Fatalf("zero-quantity positions should be dropped, got %+v", snap.Positions)
	}
	p := snap.Positions[0]
	if p.Ticker != "TATAMOTORS" || p.Quantity != 100 || !p.AverageBuyPrice.Equal(decimal.RequireFromString("700.5")) {
		t.Errorf("unexpected position %+v", p)
	}
}

func TestPortfolio_MalformedBodyIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, `{"open_positions": [`)
	}))
	defer srv.Close()

	_, err := api.NewClient(srv.URL, time.Second).Portfolio(context.Background(), "alice")
	var te *api.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestSubmitTrade_Body(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got map[string]any
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if got["username"] != "alice" || got["ticker"] != "TATAMOTORS" || got["side"] != "BUY" {
			t.Errorf("unexpected body %v", got)
		}
		// Price and quantity travel as JSON numbers.
		if got["price"] != 700.25 || got["quantity"] != float64(3) {
			t.Errorf("expected numeric price and quantity, got %v", got)
		}
		writeJSON(w, 200, `{"message":"Trade executed"}`)
	}))
	defer srv.Close()

	msg, err := api.NewClient(srv.URL, time.Second).SubmitTrade(context.Background(), "alice", model.TradeRequest{
		Ticker:   "TATAMOTORS",
		Side:     model.SideBuy,
		Price:    decimal.RequireFromString("700.25"),
		Quantity: 3,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if msg != "Trade executed" {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestSubmitTrade_ValidationDetailList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 422, `{"detail":[{"loc":["body","price"],"msg":"field required"}]}`)
	}))
	defer srv.Close()

	_, err := api.NewClient(srv.URL, time.Second).SubmitTrade(context.Background(), "alice", model.TradeRequest{
		Ticker: "X", Side: model.SideSell, Price: decimal.NewFromInt(1), Quantity: 1,
	})
	var se *api.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Detail != "field required" {
		t.Errorf("expected flattened detail, got %q", se.Detail)
	}
}

func TestSubmitTrade_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	_, err := api.NewClient(srv.URL, 50*time.Millisecond).SubmitTrade(context.Background(), "alice", model.TradeRequest{
		Ticker: "X", Side: model.SideBuy, Price: decimal.NewFromInt(1), Quantity: 1,
	})
	var te *api.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError on timeout, got %v", err)
	}
}

func writeHTML(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(200)
	w.Write([]byte("<html><body>Down for maintenance</body></html>"))
}

func TestPortfolio_NonJSONSuccessIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeHTML(w)
	}))
	defer srv.Close()

	snap, err := api.NewClient(srv.URL, time.Second).Portfolio(context.Background(), "alice")
	var te *api.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v (snapshot %+v)", err, snap)
	}
}

func TestPortfolio_MissingCashIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, `{"open_positions": []}`)
	}))
	defer srv.Close()

	_, err := api.NewClient(srv.URL, time.Second).Portfolio(context.Background(), "alice")
	var te *api.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestPortfolio_JSONWithoutContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(`{"open_positions":[],"cash_available":"1000"}`))
	}))
	defer srv.Close()

	snap, err := api.NewClient(srv.URL, time.Second).Portfolio(context.Background(), "alice")
	if err != nil {
		t.Fatalf("portfolio: %v", err)
	}
	if !snap.CashAvailable.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected cash 1000, got %s", snap.CashAvailable)
	}
}

func TestSubmitTrade_NonJSONSuccessIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeHTML(w)
	}))
	defer srv.Close()

	_, err := api.NewClient(srv.URL, time.Second).SubmitTrade(context.Background(), "alice", model.TradeRequest{
		Ticker: "X", Side: model.SideBuy, Price: decimal.NewFromInt(1), Quantity: 1,
	})
	var te *api.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestLogin_NonJSONErrorUsesFallbackDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(502)
		w.Write([]byte("<html>Bad Gateway</html>"))
	}))
	defer srv.Close()

	_, err := api.NewClient(srv.URL, time.Second).Login(context.Background(), "alice", "pw")
	var se *api.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != 502 || se.Detail != "Login failed" {
		t.Errorf("unexpected status error %+v", se)
	}
}
