// Package display is the desk's local surface for display components: a
// small JSON API over the session, feed, and portfolio stores, and a
// WebSocket that pushes every state change.
package display

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/paper-desk/internal/api"
	"github.com/atmx/paper-desk/internal/feed"
	"github.com/atmx/paper-desk/internal/instrument"
	"github.com/atmx/paper-desk/internal/model"
	"github.com/atmx/paper-desk/internal/portfolio"
	"github.com/atmx/paper-desk/internal/session"
	"github.com/atmx/paper-desk/internal/trade"
)

// Server exposes the desk's stores over HTTP.
type Server struct {
	ctx       context.Context
	session   *session.Store
	feed      *feed.Feed
	portfolio *portfolio.Store
	catalog   *instrument.Catalog
	hub       *Hub
}

// NewServer wires the stores to hub. ctx bounds feed polling started by
// ticker selection.
func NewServer(ctx context.Context, sess *session.Store, fd *feed.Feed, folio *portfolio.Store, catalog *instrument.Catalog, hub *Hub) *Server {
	s := &Server{
		ctx:       ctx,
		session:   sess,
		feed:      fd,
		portfolio: folio,
		catalog:   catalog,
		hub:       hub,
	}
	sess.Subscribe(func(v model.Session) { hub.Broadcast(Message{Type: TypeSession, Data: v}) })
	fd.Subscribe(func(u feed.Update) { hub.Broadcast(Message{Type: TypeBars, Data: u}) })
	folio.Subscribe(func(st portfolio.State) { hub.Broadcast(Message{Type: TypePortfolio, Data: st}) })
	return s
}

// Routes mounts the display API on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/ws", s.hub.HandleWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", s.GetSession)
		r.Post("/session/login", s.Login)
		r.Post("/session/logout", s.Logout)

		r.Get("/instruments", s.ListInstruments)
		r.Get("/ticker", s.GetTicker)
		r.Put("/ticker", s.SelectTicker)
		r.Get("/bars", s.GetBars)

		r.Get("/portfolio", s.GetPortfolio)
		r.Post("/portfolio/refresh", s.RefreshPortfolio)
		r.Post("/trade", s.Trade)
	})
}

// --- Request/Response types ---

// LoginRequest carries either credentials or an existing token.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Token    string `json:"token"`
}

// TickerRequest selects a ticker; "None" or "" deselects.
type TickerRequest struct {
	Ticker string `json:"ticker"`
}

// TickerResponse reports the selected ticker and its latest price.
type TickerResponse struct {
	Ticker      string           `json:"ticker"`
	LatestPrice *decimal.Decimal `json:"latest_price,omitempty"`
	LastError   string           `json:"last_error,omitempty"`
}

// TradeRequest is a trade at the latest published price unless Price is
// given.
type TradeRequest struct {
	Side     model.Side       `json:"side"`
	Quantity int64            `json:"quantity"`
	Price    *decimal.Decimal `json:"price,omitempty"`
}

// --- Session ---

// GetSession handles GET /api/session.
func (s *Server) GetSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Session())
}

// Login handles POST /api/session/login.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var err error
	switch {
	case req.Token != "":
		err = s.session.Login(r.Context(), req.Token)
	case req.Username != "" && req.Password != "":
		err = s.session.LoginWithPassword(r.Context(), req.Username, req.Password)
	default:
		writeError(w, "username and password or token required", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, loginFailure(err), http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Session())
}

// Logout handles POST /api/session/logout.
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Logout(r.Context()); err != nil {
		slog.Warn("logout could not purge token", "err", err)
	}
	writeJSON(w, http.StatusOK, s.session.Session())
}

// --- Market data ---

// ListInstruments handles GET /api/instruments.
func (s *Server) ListInstruments(w http.ResponseWriter, _ *http.Request) {
	list := s.catalog.List()
	if list == nil {
		list = []instrument.Instrument{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetTicker handles GET /api/ticker.
func (s *Server) GetTicker(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tickerState())
}

// SelectTicker handles PUT /api/ticker.
func (s *Server) SelectTicker(w http.ResponseWriter, r *http.Request) {
	var req TickerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	it, err := s.catalog.Resolve(req.Ticker)
	switch {
	case errors.Is(err, instrument.ErrNotSelected):
		s.feed.Deactivate()
	case err != nil:
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	default:
		s.feed.Activate(s.ctx, it.Ticker)
	}
	writeJSON(w, http.StatusOK, s.tickerState())
}

// GetBars handles GET /api/bars.
func (s *Server) GetBars(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, feed.Update{Ticker: s.feed.Ticker(), Bars: s.feed.Bars()})
}

// --- Portfolio ---

// GetPortfolio handles GET /api/portfolio.
func (s *Server) GetPortfolio(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.portfolio.State())
}

// RefreshPortfolio handles POST /api/portfolio/refresh.
func (s *Server) RefreshPortfolio(w http.ResponseWriter, r *http.Request) {
	if !s.session.Session().Authenticated() {
		writeError(w, "not signed in", http.StatusUnauthorized)
		return
	}
	if err := s.portfolio.FetchPortfolio(r.Context()); err != nil {
		writeError(w, "Could not fetch portfolio data.", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, s.portfolio.State())
}

// Trade handles POST /api/trade for the selected ticker.
func (s *Server) Trade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ticker := s.feed.Ticker()
	if ticker == "" {
		ticker = instrument.Unselected
	}
	price, _ := s.feed.LatestPrice()
	if req.Price != nil {
		price = *req.Price
	}

	res, err := s.portfolio.ExecuteTrade(r.Context(), model.TradeRequest{
		Ticker:   ticker,
		Side:     req.Side,
		Price:    price,
		Quantity: req.Quantity,
	})

	var ve *trade.ValidationError
	var re *trade.RejectedError
	var ne *trade.NetworkError
	switch {
	case err == nil:
		s.hub.Broadcast(Message{Type: TypeTrade, Data: res})
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, portfolio.ErrNotAuthenticated):
		writeError(w, "not signed in", http.StatusUnauthorized)
	case errors.As(err, &ve):
		writeError(w, ve.Reason, http.StatusUnprocessableEntity)
	case errors.As(err, &re):
		s.hub.Broadcast(Message{Type: TypeTrade, Data: res})
		writeError(w, re.Reason, http.StatusConflict)
	case errors.As(err, &ne):
		writeError(w, "trade outcome unknown; portfolio has been refreshed", http.StatusBadGateway)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) tickerState() TickerResponse {
	resp := TickerResponse{Ticker: s.feed.Ticker()}
	if resp.Ticker == "" {
		resp.Ticker = instrument.Unselected
	}
	if px, ok := s.feed.LatestPrice(); ok {
		resp.LatestPrice = &px
	}
	if err := s.feed.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	return resp
}

// loginFailure picks the message shown for a failed login.
func loginFailure(err error) string {
	var se *api.StatusError
	if errors.As(err, &se) {
		return se.Detail
	}
	switch {
	case errors.Is(err, session.ErrExpiredToken):
		return "token expired"
	case errors.Is(err, session.ErrInvalidToken):
		return "invalid token"
	}
	return "Login failed"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"detail": message})
}
