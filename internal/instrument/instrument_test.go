package instrument

import (
	"errors"
	"testing"
)

func TestParseTicker_Valid(t *testing.T) {
	cases := map[string]string{
		"TATAMOTORS": "TATAMOTORS",
		" infy ":     "INFY",
		"M&M":        "M&M",
		"BRK.B":      "BRK.B",
		"NIFTY-50":   "NIFTY-50",
		"BAJAJ_AUTO": "BAJAJ_AUTO",
	}
	for in, want := range cases {
		got, err := ParseTicker(in)
		if err != nil {
			t.Errorf("ParseTicker(%q): unexpected error %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseTicker(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseTicker_Unselected(t *testing.T) {
	for _, in := range []string{"", "None", "none", "  "} {
		if _, err := ParseTicker(in); !errors.Is(err, ErrNotSelected) {
			t.Errorf("ParseTicker(%q): expected ErrNotSelected, got %v", in, err)
		}
	}
}

func TestParseTicker_Invalid(t *testing.T) {
	for _, in := range []string{"TATA MOTORS", "-ABC", "A/B", "ABCDEFGHIJKLMNOPQRSTU"} {
		if _, err := ParseTicker(in); !errors.Is(err, ErrInvalidTicker) {
			t.Errorf("ParseTicker(%q): expected ErrInvalidTicker, got %v", in, err)
		}
	}
}

func TestCatalog_Resolve(t *testing.T) {
	c, err := NewCatalog([]Instrument{{Ticker: "tatamotors", Name: "Tata Motors"}, {Ticker: "INFY"}})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	it, err := c.Resolve("TATAMOTORS")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if it.Name != "Tata Motors" {
		t.Errorf("expected name Tata Motors, got %q", it.Name)
	}

	if _, err := c.Resolve("WIPRO"); !errors.Is(err, ErrUnknownTicker) {
		t.Errorf("expected ErrUnknownTicker, got %v", err)
	}
	if _, err := c.Resolve(Unselected); !errors.Is(err, ErrNotSelected) {
		t.Errorf("expected ErrNotSelected, got %v", err)
	}

	list := c.List()
	if len(list) != 2 || list[0].Ticker != "INFY" || list[1].Name != "Tata Motors" {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestCatalog_EmptyAcceptsAnyTicker(t *testing.T) {
	var c *Catalog
	it, err := c.Resolve("wipro")
	if err != nil || it.Ticker != "WIPRO" {
		t.Errorf("expected WIPRO, got %+v %v", it, err)
	}
}

func TestNewCatalog_RejectsBadTicker(t *testing.T) {
	if _, err := NewCatalog([]Instrument{{Ticker: "None"}}); err == nil {
		t.Error("expected error for sentinel ticker in catalog")
	}
}
