// Command ledger runs the reference brokerage ledger the desk trades against.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/paper-desk/internal/config"
	"github.com/atmx/paper-desk/internal/ledger"
	"github.com/atmx/paper-desk/internal/metrics"
	"github.com/atmx/paper-desk/internal/risk"
	"github.com/atmx/paper-desk/internal/store"
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
	if err := cfg.ValidateLedger(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}
	lc := cfg.Ledger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if lc.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, lc.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if lc.RedisURL != "" {
			opt, err := redis.ParseURL(lc.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, lc.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", lc.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	tokens, err := ledger.NewTokenIssuer([]byte(lc.JWTSecret), lc.TokenTTL)
	if err != nil {
		slog.Error("token issuer", "err", err)
		os.Exit(1)
	}
	svc := ledger.NewService(st, risk.NewLimiter(lc.DefaultLimits), tokens)

	for _, a := range lc.Accounts {
		err := svc.Seed(ctx, ledger.CreateAccountRequest{
			Username:      a.Username,
			Password:      a.Password,
			TotalEquity:   a.TotalEquity,
			CashAvailable: a.CashAvailable,
			RiskLimits:    a.RiskLimits,
		})
		if err != nil {
			slog.Error("seed account failed", "user", a.Username, "err", err)
			os.Exit(1)
		}
	}
	if len(lc.Accounts) > 0 {
		slog.Info("seeded accounts", "count", len(lc.Accounts))
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"ledger"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	svc.Routes(r)

	srv := &http.Server{
		Addr:         ":" + lc.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("ledger listening", "port", lc.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		slog.Info("shutting down ledger...")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("ledger stopped")
}

// cors allows the desk UI to call the ledger from another origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
