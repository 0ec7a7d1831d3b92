// Package feed polls a recorded market data series for the selected ticker
// and publishes it censored to the simulated "now".
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-desk/internal/events"
	"github.com/atmx/paper-desk/internal/metrics"
	"github.com/atmx/paper-desk/internal/model"
)

// DefaultInterval is the polling period while a ticker is selected.
const DefaultInterval = 60 * time.Second

// ErrInactive is returned by Refresh when no ticker is selected.
var ErrInactive = errors.New("feed: no ticker selected")

// Update is the payload published to subscribers. Bars is ordered by
// timestamp and empty after deactivation.
type Update struct {
	Ticker string           `json:"ticker"`
	Bars   []model.PriceBar `json:"bars"`
}

// Option configures a Feed.
type Option func(*Feed)

// WithInterval sets the polling period.
func WithInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.interval = d
		}
	}
}

// WithClock overrides the wall clock used for censoring.
func WithClock(now func() time.Time) Option {
	return func(f *Feed) { f.now = now }
}

// Feed maintains the price series of at most one active ticker.
type Feed struct {
	source   Source
	interval time.Duration
	now      func() time.Time
	bus      *events.Bus[Update]

	// pubMu orders publications so nothing from an old activation is
	// delivered after the deactivation notice.
	pubMu sync.Mutex

	mu      sync.Mutex
	gen     uint64
	cancel  context.CancelFunc
	ticker  string
	bars    []model.PriceBar
	lastErr error
}

// New creates an inactive feed reading from source.
func New(source Source, opts ...Option) *Feed {
	f := &Feed{
		source:   source,
		interval: DefaultInterval,
		now:      time.Now,
		bus:      events.NewBus[Update](),
		bars:     []model.PriceBar{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Subscribe registers fn for every published series. Callbacks must not
// call Activate or Deactivate synchronously.
func (f *Feed) Subscribe(fn func(Update)) (unsubscribe func()) {
	return f.bus.Subscribe(fn)
}

// Activate selects ticker and starts polling it immediately and then every
// interval. Any previous activation is deactivated first.
func (f *Feed) Activate(ctx context.Context, ticker string) {
	f.Deactivate()

	f.mu.Lock()
	f.gen++
	gen := f.gen
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.ticker = ticker
	f.lastErr = nil
	f.mu.Unlock()

	slog.Info("feed activated", "ticker", ticker, "interval", f.interval)
	go f.run(runCtx, gen, ticker)
}

// Deactivate stops polling, clears the series, and publishes an empty
// update. Nothing is published for the old ticker afterwards.
func (f *Feed) Deactivate() {
	f.mu.Lock()
	if f.cancel == nil {
		f.mu.Unlock()
		return
	}
	f.cancel()
	f.cancel = nil
	f.gen++
	ticker := f.ticker
	f.ticker = ""
	f.bars = []model.PriceBar{}
	f.mu.Unlock()

	f.pubMu.Lock()
	defer f.pubMu.Unlock()
	metrics.FeedBars.Set(0)
	slog.Info("feed deactivated", "ticker", ticker)
	f.bus.Publish(Update{Bars: []model.PriceBar{}})
}

// Refresh polls the active ticker now.
func (f *Feed) Refresh(ctx context.Context) error {
	f.mu.Lock()
	gen, ticker, active := f.gen, f.ticker, f.cancel != nil
	f.mu.Unlock()
	if !active {
		return ErrInactive
	}
	return f.poll(ctx, gen, ticker)
}

// Ticker returns the active ticker, or "" when inactive.
func (f *Feed) Ticker() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticker
}

// Bars returns a copy of the current censored series.
func (f *Feed) Bars() []model.PriceBar {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.PriceBar, len(f.bars))
	copy(out, f.bars)
	return out
}

// LatestPrice returns the close of the last published bar.
func (f *Feed) LatestPrice() (decimal.Decimal, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.bars) == 0 {
		return decimal.Zero, false
	}
	return f.bars[len(f.bars)-1].Close, true
}

// LastError returns the error of the most recent failed poll, cleared by the
// next successful one.
func (f *Feed) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

func (f *Feed) run(ctx context.Context, gen uint64, ticker string) {
	_ = f.poll(ctx, gen, ticker)

	t := time.NewTicker(f.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = f.poll(ctx, gen, ticker)
		}
	}
}

func (f *Feed) poll(ctx context.Context, gen uint64, ticker string) error {
	raw, err := f.source.Fetch(ctx, ticker)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		f.mu.Lock()
		if gen == f.gen {
			f.lastErr = err
		}
		f.mu.Unlock()
		metrics.FeedPolls.WithLabelValues("failed").Inc()
		slog.Warn("feed poll failed, keeping last series", "ticker", ticker, "error", err)
		return err
	}

	bars := Censor(raw, f.now())

	f.pubMu.Lock()
	defer f.pubMu.Unlock()

	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return nil
	}
	f.bars = bars
	f.lastErr = nil
	f.mu.Unlock()

	if len(bars) == 0 {
		metrics.FeedPolls.WithLabelValues("empty").Inc()
	} else {
		metrics.FeedPolls.WithLabelValues("ok").Inc()
	}
	metrics.FeedBars.Set(float64(len(bars)))

	out := make([]model.PriceBar, len(bars))
	copy(out, bars)
	f.bus.Publish(Update{Ticker: ticker, Bars: out})
	return nil
}
