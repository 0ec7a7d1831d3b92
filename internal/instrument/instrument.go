// Package instrument handles ticker validation and the catalog of
// instruments a desk user can select.
package instrument

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Unselected is the sentinel a display sends when no instrument is chosen.
const Unselected = "None"

// tickerRegex matches exchange symbols such as TATAMOTORS, M&M, BRK.B, NIFTY-50.
var tickerRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.&_-]{0,19}$`)

var (
	ErrNotSelected   = errors.New("instrument: no instrument selected")
	ErrInvalidTicker = errors.New("instrument: invalid ticker format")
	ErrUnknownTicker = errors.New("instrument: ticker not in catalog")
)

// Instrument is one selectable entry in the catalog.
type Instrument struct {
	Ticker string `json:"ticker" yaml:"ticker"`
	Name   string `json:"name" yaml:"name"`
}

// ParseTicker normalizes and validates a ticker string. The Unselected
// sentinel and the empty string yield ErrNotSelected.
func ParseTicker(ticker string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if t == "" || t == strings.ToUpper(Unselected) {
		return "", ErrNotSelected
	}
	if !tickerRegex.MatchString(t) {
		return "", fmt.Errorf("%w: %s", ErrInvalidTicker, ticker)
	}
	return t, nil
}

// Catalog is the set of instruments a user may select. An empty catalog
// accepts any well-formed ticker.
type Catalog struct {
	byTicker map[string]Instrument
}

// NewCatalog builds a catalog, validating every ticker.
func NewCatalog(items []Instrument) (*Catalog, error) {
	c := &Catalog{byTicker: make(map[string]Instrument, len(items))}
	for _, it := range items {
		t, err := ParseTicker(it.Ticker)
		if err != nil {
			return nil, err
		}
		it.Ticker = t
		if it.Name == "" {
			it.Name = t
		}
		c.byTicker[t] = it
	}
	return c, nil
}

// Resolve validates ticker against the catalog.
func (c *Catalog) Resolve(ticker string) (Instrument, error) {
	t, err := ParseTicker(ticker)
	if err != nil {
		return Instrument{}, err
	}
	if c == nil || len(c.byTicker) == 0 {
		return Instrument{Ticker: t, Name: t}, nil
	}
	it, ok := c.byTicker[t]
	if !ok {
		return Instrument{}, fmt.Errorf("%w: %s", ErrUnknownTicker, t)
	}
	return it, nil
}

// List returns the catalog sorted by ticker.
func (c *Catalog) List() []Instrument {
	if c == nil {
		return nil
	}
	out := make([]Instrument, 0, len(c.byTicker))
	for _, it := range c.byTicker {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}
