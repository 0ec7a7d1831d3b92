// Command desk runs the paper-trading desk: it keeps the session, the
// selected ticker's price series and the portfolio in sync and serves them
// to display clients over HTTP and WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/paper-desk/internal/api"
	"github.com/atmx/paper-desk/internal/config"
	"github.com/atmx/paper-desk/internal/display"
	"github.com/atmx/paper-desk/internal/feed"
	"github.com/atmx/paper-desk/internal/instrument"
	"github.com/atmx/paper-desk/internal/metrics"
	"github.com/atmx/paper-desk/internal/portfolio"
	"github.com/atmx/paper-desk/internal/session"
	"github.com/atmx/paper-desk/internal/tokencache"
	"github.com/atmx/paper-desk/internal/trade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := flag.String("config", os.Getenv("PAPER_DESK_CONFIG"), "path to YAML config")
	flag.Parse()

	if err := config.LoadEnv(); err != nil {
		slog.Error("load .env failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config failed", "err", err)
		os.Exit(1)
	}
	if err := cfg.ValidateDesk(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}
	dc := cfg.Desk

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache, closeCache, err := openTokenCache(dc.TokenCache)
	if err != nil {
		slog.Error("token cache", "err", err)
		os.Exit(1)
	}
	defer closeCache()

	catalog, err := newCatalog(dc.Instruments)
	if err != nil {
		slog.Error("instrument catalog", "err", err)
		os.Exit(1)
	}

	client := api.NewClient(dc.APIURL, dc.APITimeout)
	sess := session.NewStore(cache,
		session.WithExchanger(client),
		session.WithKey(dc.TokenCache.Key),
	)

	var src feed.Source
	if dc.MarketData.URL != "" {
		src = feed.NewHTTPSource(dc.MarketData.URL, dc.MarketData.Timeout, time.Local)
	} else {
		src = feed.NewFileSource(dc.MarketData.Path, time.Local)
	}
	fd := feed.New(src, feed.WithInterval(dc.MarketData.Interval))
	defer fd.Deactivate()

	folio := portfolio.NewStore(client, trade.NewProtocol(client, catalog))
	detach := folio.Attach(ctx, sess)
	defer detach()

	hub := display.NewHub()
	srv := display.NewServer(ctx, sess, fd, folio, catalog, hub)

	if err := sess.Initialize(ctx); err != nil {
		slog.Warn("could not read cached session", "err", err)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"desk"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	srv.Routes(r)

	httpSrv := &http.Server{
		Addr:        ":" + dc.Port,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("desk listening", "port", dc.Port, "ledger", dc.APIURL)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		slog.Info("shutting down desk...")
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("desk error", "err", err)
		os.Exit(1)
	}
	folio.Wait()
	slog.Info("desk stopped")
}

func openTokenCache(c config.TokenCache) (tokencache.Cache, func(), error) {
	switch c.Backend {
	case config.CacheMemory:
		slog.Warn("using in-memory token cache (sessions will not survive restart)")
		return tokencache.NewMemoryCache(), func() {}, nil
	case config.CacheRedis:
		opt, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		return tokencache.NewRedisCache(rdb, c.Prefix, c.TTL), func() { rdb.Close() }, nil
	default:
		bc, err := tokencache.OpenBadger(tokencache.BadgerOptions{Path: c.Path})
		if err != nil {
			return nil, nil, err
		}
		return bc, func() {
			if err := bc.Close(); err != nil {
				slog.Warn("close token cache", "err", err)
			}
		}, nil
	}
}

// newCatalog returns nil (accept any well-formed ticker) when no instruments
// are configured.
func newCatalog(items []config.Instrument) (*instrument.Catalog, error) {
	if len(items) == 0 {
		return nil, nil
	}
	list := make([]instrument.Instrument, 0, len(items))
	for _, it := range items {
		list = append(list, instrument.Instrument{Ticker: it.Ticker, Name: it.Name})
	}
	return instrument.NewCatalog(list)
}
