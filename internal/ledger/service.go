// Package ledger is a reference implementation of the trading backend the
// desk talks to: password login issuing JWTs, portfolio snapshots, and trade
// booking with cash, share, and exposure checks.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/atmx/paper-desk/internal/instrument"
	"github.com/atmx/paper-desk/internal/metrics"
	"github.com/atmx/paper-desk/internal/model"
	"github.com/atmx/paper-desk/internal/risk"
	"github.com/atmx/paper-desk/internal/store"
)

// Service handles ledger operations. Uses a mutex for serialized trade
// execution (single-instance). For horizontal scaling, replace with
// distributed locking or database-level optimistic concurrency.
type Service struct {
	store   store.Store
	limiter *risk.Limiter
	tokens  *TokenIssuer
	mu      sync.Mutex
	now     func() time.Time
}

// NewService creates a new ledger service.
func NewService(st store.Store, limiter *risk.Limiter, tokens *TokenIssuer) *Service {
	return &Service{
		store:   st,
		limiter: limiter,
		tokens:  tokens,
		now:     time.Now,
	}
}

// Routes mounts the ledger API on r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/login", s.Login)
	r.Post("/account", s.CreateAccount)
	r.Get("/account", s.ListAccounts)
	r.Post("/account/trade", s.ExecuteTrade)
	r.Get("/portfolio/{username}", s.GetPortfolio)
	r.With(s.RequireToken).Get("/account/{username}/trades", s.GetTradeHistory)
}

// --- Request/Response types ---

// CreateAccountRequest is the JSON body for POST /account.
type CreateAccountRequest struct {
	Username      string           `json:"user_name"`
	Password      string           `json:"password"`
	TotalEquity   decimal.Decimal  `json:"total_equity"`
	CashAvailable decimal.Decimal  `json:"cash_available"`
	RiskLimits    model.RiskLimits `json:"risk_limits"`
}

// TradeRequest is the JSON body for POST /account/trade.
type TradeRequest struct {
	Username string          `json:"username"`
	Ticker   string          `json:"ticker"`
	Side     model.Side      `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"` // whole shares
}

// TradeResponse is the JSON body returned from POST /account/trade.
type TradeResponse struct {
	Message       string          `json:"message"`
	TradeID       string          `json:"trade_id"`
	CashAvailable decimal.Decimal `json:"cash_available"`
}

// PortfolioResponse is the JSON body returned from GET /portfolio/{username}.
type PortfolioResponse struct {
	OpenPositions []model.Position `json:"open_positions"`
	CashAvailable decimal.Decimal  `json:"cash_available"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// --- HTTP Handlers ---

// Login handles POST /login (form encoded username and password).
func (s *Service) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, "invalid form body", http.StatusBadRequest)
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if username == "" || password == "" {
		writeError(w, "username and password are required", http.StatusUnprocessableEntity)
		return
	}

	acct, err := s.store.GetAccount(r.Context(), username)
	if errors.Is(err, store.ErrAccountNotFound) {
		writeError(w, "User does not exist. Try signing up.", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		writeError(w, "Invalid Credentials", http.StatusUnauthorized)
		return
	}

	token, err := s.tokens.Issue(username)
	if err != nil {
		writeError(w, "failed to issue token", http.StatusInternalServerError)
		return
	}

	slog.Info("login", "user", username)
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

// CreateAccount handles POST /account.
func (s *Service) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	acct, err := s.newAccount(req)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.CreateAccount(r.Context(), acct); err != nil {
		if errors.Is(err, store.ErrAccountExists) {
			writeError(w, "account already exists", http.StatusConflict)
			return
		}
		writeError(w, "Error creating account", http.StatusInternalServerError)
		return
	}

	slog.Info("account created",
		"user", acct.Username,
		"equity", acct.TotalEquity.String(),
		"cash", acct.CashAvailable.String(),
	)
	writeJSON(w, http.StatusCreated, acct)
}

// ListAccounts handles GET /account.
func (s *Service) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListAccounts(r.Context())
	if err != nil {
		writeError(w, "failed to list accounts", http.StatusInternalServerError)
		return
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

// GetPortfolio handles GET /portfolio/{username}.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	acct, err := s.store.GetAccount(r.Context(), username)
	if errors.Is(err, store.ErrAccountNotFound) {
		writeError(w, fmt.Sprintf("Account for user %s not found.", username), http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load portfolio", http.StatusInternalServerError)
		return
	}

	positions := acct.Positions
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, PortfolioResponse{
		OpenPositions: positions,
		CashAvailable: acct.CashAvailable,
	})
}

// GetTradeHistory handles GET /account/{username}/trades.
func (s *Service) GetTradeHistory(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	entries, err := s.store.GetLedgerEntriesByUser(r.Context(), username)
	if err != nil {
		writeError(w, "failed to get trade history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ExecuteTrade handles POST /account/trade.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	if req.Username == "" {
		s.reject(w, "invalid", "username is required", http.StatusBadRequest)
		return
	}
	ticker, err := instrument.ParseTicker(req.Ticker)
	if err != nil {
		s.reject(w, "invalid", err.Error(), http.StatusBadRequest)
		return
	}
	if !req.Side.Valid() {
		s.reject(w, "invalid", "side must be BUY or SELL", http.StatusBadRequest)
		return
	}
	if !req.Quantity.IsPositive() || !req.Quantity.IsInteger() {
		s.reject(w, "invalid", "quantity must be a positive whole number", http.StatusBadRequest)
		return
	}
	if !req.Price.IsPositive() {
		s.reject(w, "invalid", "price must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// Serialize trade execution.
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.store.GetAccount(ctx, req.Username)
	if errors.Is(err, store.ErrAccountNotFound) {
		s.reject(w, "unknown_account", fmt.Sprintf("Account for user %s not found.", req.Username), http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}

	qty := req.Quantity.IntPart()
	book := model.TradeRequest{Ticker: ticker, Side: req.Side, Price: req.Price, Quantity: qty}
	notional := book.Notional()
	pos, _ := acct.Snapshot().Position(ticker)
	pos.Ticker = ticker

	var cash, cost decimal.Decimal
	switch req.Side {
	case model.SideBuy:
		if notional.GreaterThan(acct.CashAvailable) {
			s.reject(w, "insufficient_cash", "Insufficient cash", http.StatusBadRequest)
			return
		}
		if err := s.limiter.CheckBuy(acct.RiskLimits, acct.TotalEquity, ticker, notional, risk.Exposures(acct.Positions)); err != nil {
			s.reject(w, "risk_limit", err.Error(), http.StatusBadRequest)
			return
		}
		basis := pos.AverageBuyPrice.Mul(decimal.NewFromInt(pos.Quantity)).Add(notional)
		pos.Quantity += qty
		pos.AverageBuyPrice = basis.Div(decimal.NewFromInt(pos.Quantity)).Round(4)
		cash = acct.CashAvailable.Sub(notional)
		cost = notional
	case model.SideSell:
		if pos.Quantity < qty {
			s.reject(w, "insufficient_shares", "Insufficient shares", http.StatusBadRequest)
			return
		}
		pos.Quantity -= qty
		cash = acct.CashAvailable.Add(notional)
		cost = notional.Neg()
	}

	// Create immutable ledger entry.
	entry := &model.LedgerEntry{
		ID:        uuid.New().String(),
		Username:  req.Username,
		Ticker:    ticker,
		Side:      req.Side,
		Quantity:  qty,
		Price:     req.Price,
		Cost:      cost,
		Timestamp: s.now().UTC(),
	}

	if err := s.store.ApplyTrade(ctx, cash, pos, entry); err != nil {
		writeError(w, "failed to record trade", http.StatusInternalServerError)
		return
	}
	metrics.LedgerTrades.WithLabelValues(string(req.Side)).Inc()

	verb := "Bought"
	if req.Side == model.SideSell {
		verb = "Sold"
	}
	msg := fmt.Sprintf("%s %d shares of %s at %s", verb, qty, ticker, req.Price.StringFixed(2))

	slog.Info("trade executed",
		"trade_id", entry.ID,
		"user", req.Username,
		"ticker", ticker,
		"side", req.Side,
		"qty", qty,
		"price", req.Price.String(),
		"cost", cost.String(),
		"cash", cash.String(),
	)

	writeJSON(w, http.StatusOK, TradeResponse{
		Message:       msg,
		TradeID:       entry.ID,
		CashAvailable: cash,
	})
}

// RequireToken rejects requests without a valid bearer token for the
// {username} in the path.
func (s *Service) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, "Not authenticated", http.StatusUnauthorized)
			return
		}
		sub, err := s.tokens.Verify(raw)
		if err != nil {
			writeError(w, "Could not validate credentials", http.StatusUnauthorized)
			return
		}
		if owner := chi.URLParam(r, "username"); owner != "" && owner != sub {
			writeError(w, "Not permitted", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Seed creates acct with a bcrypt hash of password unless it already exists.
func (s *Service) Seed(ctx context.Context, req CreateAccountRequest) error {
	acct, err := s.newAccount(req)
	if err != nil {
		return err
	}
	err = s.store.CreateAccount(ctx, acct)
	if errors.Is(err, store.ErrAccountExists) {
		return nil
	}
	return err
}

func (s *Service) newAccount(req CreateAccountRequest) (*model.Account, error) {
	if req.Username == "" {
		return nil, errors.New("user_name is required")
	}
	if req.Password == "" {
		return nil, errors.New("password is required")
	}
	if req.CashAvailable.IsNegative() || req.TotalEquity.IsNegative() {
		return nil, errors.New("balances must not be negative")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	equity := req.TotalEquity
	if equity.IsZero() {
		equity = req.CashAvailable
	}
	return &model.Account{
		Username:      req.Username,
		PasswordHash:  string(hash),
		TotalEquity:   equity,
		CashAvailable: req.CashAvailable,
		RiskLimits:    req.RiskLimits,
		Positions:     []model.Position{},
		CreatedAt:     s.now().UTC(),
	}, nil
}

func (s *Service) reject(w http.ResponseWriter, reason, message string, status int) {
	metrics.LedgerRejections.WithLabelValues(reason).Inc()
	writeError(w, message, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response in the {"detail": ...} shape.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"detail": message})
}
