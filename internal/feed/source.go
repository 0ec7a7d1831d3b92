package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/atmx/paper-desk/internal/model"
)

// Source fetches the full raw bar sequence for a ticker.
type Source interface {
	Fetch(ctx context.Context, ticker string) ([]model.PriceBar, error)
}

// HTTPSource polls a JSON document over HTTP. The URL may contain a
// {ticker} placeholder.
type HTTPSource struct {
	client      *resty.Client
	urlTemplate string
	loc         *time.Location
}

// NewHTTPSource creates a source for urlTemplate. Timestamps without a zone
// are read in loc (time.Local when nil).
func NewHTTPSource(urlTemplate string, timeout time.Duration, loc *time.Location) *HTTPSource {
	if loc == nil {
		loc = time.Local
	}
	return &HTTPSource{
		client:      resty.New().SetTimeout(timeout).SetHeader("Accept", "application/json"),
		urlTemplate: urlTemplate,
		loc:         loc,
	}
}

func (s *HTTPSource) Fetch(ctx context.Context, ticker string) ([]model.PriceBar, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("ticker", ticker).
		Get(s.urlTemplate)
	if err != nil {
		return nil, fmt.Errorf("feed: fetch %s: %w", ticker, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("feed: fetch %s: status %d", ticker, resp.StatusCode())
	}
	return DecodeBars(resp.Body(), s.loc)
}

// FileSource reads a recorded series from disk. The path may contain a
// {ticker} placeholder.
type FileSource struct {
	pathTemplate string
	loc          *time.Location
}

// NewFileSource creates a source reading pathTemplate.
func NewFileSource(pathTemplate string, loc *time.Location) *FileSource {
	if loc == nil {
		loc = time.Local
	}
	return &FileSource{pathTemplate: pathTemplate, loc: loc}
}

func (s *FileSource) Fetch(_ context.Context, ticker string) ([]model.PriceBar, error) {
	path := strings.ReplaceAll(s.pathTemplate, "{ticker}", ticker)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("feed: read %s: %w", path, err)
	}
	return DecodeBars(data, s.loc)
}

// rawBar is one record of the market data document.
type rawBar struct {
	Date   json.RawMessage `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// DecodeBars parses a JSON array of {date, open, high, low, close, volume}.
// date is a timestamp string or epoch milliseconds.
func DecodeBars(data []byte, loc *time.Location) ([]model.PriceBar, error) {
	var raw []rawBar
	if err := json.Unmarshal(bytes.TrimSpace(data), &raw); err != nil {
		return nil, fmt.Errorf("feed: decode bars: %w", err)
	}
	bars := make([]model.PriceBar, 0, len(raw))
	for i, r := range raw {
		ts, err := parseDate(r.Date, loc)
		if err != nil {
			return nil, fmt.Errorf("feed: bar %d: %w", i, err)
		}
		bars = append(bars, model.PriceBar{
			Timestamp: ts,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}
	return bars, nil
}

var dateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"1/2/2006 15:04",
	"2006-01-02",
}

func parseDate(raw json.RawMessage, loc *time.Location) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// Epoch milliseconds, as written by most dataframe exporters.
		ms, nerr := strconv.ParseInt(string(raw), 10, 64)
		if nerr != nil {
			return time.Time{}, fmt.Errorf("invalid date %s", raw)
		}
		return time.UnixMilli(ms).In(loc), nil
	}
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05-07:00", s); err == nil {
		return t, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}
