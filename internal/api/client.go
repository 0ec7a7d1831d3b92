// Package api is the desk's client for the remote ledger: login, portfolio
// snapshots, and trade submission.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/atmx/paper-desk/internal/model"
)

// DefaultTimeout bounds every request when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// Client talks to the ledger over HTTP. It never retries: trade submission
// is not idempotent, and reconciliation is driven by the caller.
type Client struct {
	http *resty.Client
}

// NewClient creates a client for the ledger at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: c}
}

// --- Wire types ---

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type positionDTO struct {
	Ticker          string          `json:"ticker"`
	Quantity        decimal.Decimal `json:"quantity"`
	AverageBuyPrice decimal.Decimal `json:"average_buy_price"`
}

type portfolioResponse struct {
	OpenPositions []positionDTO    `json:"open_positions"`
	CashAvailable *decimal.Decimal `json:"cash_available"`
}

type tradeBody struct {
	Username string      `json:"username"`
	Ticker   string      `json:"ticker"`
	Side     model.Side  `json:"side"`
	Price    json.Number `json:"price"`
	Quantity int64       `json:"quantity"`
}

type tradeResponse struct {
	Message *string `json:"message"`
}

// errorBody is the ledger's failure shape. detail is usually a string but
// request validation failures carry a list of objects.
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

// --- Operations ---

// Login exchanges credentials for an access token (POST /login, form encoded).
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"username": username, "password": password}).
		Post("/login")
	if err != nil {
		return "", &TransportError{Op: "login", Err: err}
	}
	if resp.IsError() {
		return "", statusError("login", resp, "Login failed")
	}
	var out tokenResponse
	if err := decode("login", resp, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", &TransportError{Op: "login", Err: errors.New("response has no access_token")}
	}
	return out.AccessToken, nil
}

// Portfolio fetches the authoritative snapshot for username
// (GET /portfolio/{username}). Positions with no shares are dropped.
func (c *Client) Portfolio(ctx context.Context, username string) (model.PortfolioSnapshot, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("username", username).
		Get("/portfolio/{username}")
	if err != nil {
		return model.PortfolioSnapshot{}, &TransportError{Op: "portfolio", Err: err}
	}
	if resp.IsError() {
		return model.PortfolioSnapshot{}, statusError("portfolio", resp, "Could not fetch portfolio data.")
	}
	var out portfolioResponse
	if err := decode("portfolio", resp, &out); err != nil {
		return model.PortfolioSnapshot{}, err
	}
	if out.CashAvailable == nil {
		return model.PortfolioSnapshot{}, &TransportError{Op: "portfolio", Err: errors.New("response has no cash_available")}
	}

	snap := model.PortfolioSnapshot{
		CashAvailable: *out.CashAvailable,
		Positions:     make([]model.Position, 0, len(out.OpenPositions)),
	}
	for _, p := range out.OpenPositions {
		qty := p.Quantity.IntPart()
		if qty <= 0 {
			continue
		}
		snap.Positions = append(snap.Positions, model.Position{
			Ticker:          p.Ticker,
			Quantity:        qty,
			AverageBuyPrice: p.AverageBuyPrice,
		})
	}
	return snap, nil
}

// SubmitTrade books req for username (POST /account/trade) and returns the
// ledger's confirmation message.
func (c *Client) SubmitTrade(ctx context.Context, username string, req model.TradeRequest) (string, error) {
	body := tradeBody{
		Username: username,
		Ticker:   req.Ticker,
		Side:     req.Side,
		Price:    json.Number(req.Price.String()),
		Quantity: req.Quantity,
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/account/trade")
	if err != nil {
		return "", &TransportError{Op: "trade", Err: err}
	}
	if resp.IsError() {
		return "", statusError("trade", resp, "Trade failed")
	}
	var out tradeResponse
	if err := decode("trade", resp, &out); err != nil {
		return "", err
	}
	if out.Message == nil {
		return "", &TransportError{Op: "trade", Err: errors.New("response has no message")}
	}
	return *out.Message, nil
}

// decode unmarshals a success body into v. The body is decoded whatever its
// Content-Type: a 2xx answer that is not the expected JSON object (a proxy
// or maintenance page) is a TransportError, never an empty result.
func decode(op string, resp *resty.Response, v any) error {
	if err := json.Unmarshal(resp.Body(), v); err != nil {
		return &TransportError{
			Op:  op,
			Err: fmt.Errorf("decode %d response (%s): %w", resp.StatusCode(), resp.Header().Get("Content-Type"), err),
		}
	}
	return nil
}

func statusError(op string, resp *resty.Response, fallback string) *StatusError {
	var fail errorBody
	_ = json.Unmarshal(resp.Body(), &fail)
	detail := detailText(fail.Detail)
	if detail == "" {
		detail = fallback
	}
	return &StatusError{Op: op, Code: resp.StatusCode(), Detail: detail}
}

// detailText renders a detail payload as a human-readable reason.
func detailText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(raw, &items) == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}
	return string(raw)
}

// StatusError is a definitive non-success answer from the ledger.
type StatusError struct {
	Op     string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: %s: %d %s: %s", e.Op, e.Code, http.StatusText(e.Code), e.Detail)
}

// TransportError means no decodable answer was received: connection
// failure, timeout, or a malformed body. The effect on the ledger is unknown.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("api: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
