package main

import (
	"context"
	"fmt"
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

	"github.com/weatherkings/wager-engine/internal/api"
	"github.com/weatherkings/wager-engine/internal/config"
	"github.com/weatherkings/wager-engine/internal/correlation"
	"github.com/weatherkings/wager-engine/internal/events"
	"github.com/weatherkings/wager-engine/internal/ledger"
	"github.com/weatherkings/wager-engine/internal/lines"
	"github.com/weatherkings/wager-engine/internal/market"
	"github.com/weatherkings/wager-engine/internal/metrics"
	"github.com/weatherkings/wager-engine/internal/odds"
	"github.com/weatherkings/wager-engine/internal/resolution"
	"github.com/weatherkings/wager-engine/internal/store"
	"github.com/weatherkings/wager-engine/internal/weather"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var rdb *redis.Client
	var cleanup []func()

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
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
		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL.String())
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

	// --- Events ---
	wsHub := api.NewWSHub()
	go wsHub.Run(ctx)

	pub := events.Multi{wsHub}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		cleanup = append(cleanup, func() { kp.Close() })
		pub = append(pub, kp)
		slog.Info("Kafka events enabled", "topic", cfg.KafkaTopic)
	}

	// --- Weather adapters ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	nws := weather.NewNWSClient(cfg.NWSBaseURL, cfg.UserAgent, httpClient)
	var geocoder weather.Geocoder = weather.NewNominatimClient(cfg.NominatimURL, cfg.UserAgent, httpClient)
	if rdb != nil {
		geocoder = weather.NewCachedGeocoder(geocoder, rdb, cfg.GeocodeTTL)
	}

	// --- Pricing and services ---
	oddsModel, err := odds.NewModel(cfg.OddsParams())
	if err != nil {
		slog.Error("invalid pricing model", "err", err)
		os.Exit(1)
	}
	generator := lines.NewGenerator(oddsModel, cfg.LineOptions())

	maxPerLine, maxCorrelated := cfg.ExposureLimits()
	limiter := correlation.NewExposureLimiter(maxPerLine, maxCorrelated)

	marketSvc := market.NewService(st, nws, geocoder, generator,
		market.WithCities(cfg.Cities),
		market.WithLocation(cfg.Location()),
		market.WithPublisher(pub),
	)
	wagerLedger := ledger.New(st, ledger.WithLimiter(limiter), ledger.WithPublisher(pub))
	resolver := resolution.NewEngine(st, geocoder, nws, pub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"wager-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	handler := api.NewHandler(marketSvc, wagerLedger, resolver, nil)
	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket upgrades must not sit behind a request timeout.
		r.Group(func(r chi.Router) {
			r.Get("/ws", wsHub.HandleWS)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			handler.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("wager-engine listening", "port", cfg.Port, "cities", len(cfg.Cities))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down wager-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("wager-engine stopped")
}
