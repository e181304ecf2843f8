package main

import (
	"context"
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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/onderwereld/economy-engine/internal/auction"
	"github.com/onderwereld/economy-engine/internal/config"
	"github.com/onderwereld/economy-engine/internal/listing"
	"github.com/onderwereld/economy-engine/internal/market"
	"github.com/onderwereld/economy-engine/internal/metrics"
	"github.com/onderwereld/economy-engine/internal/model"
	"github.com/onderwereld/economy-engine/internal/notify"
	"github.com/onderwereld/economy-engine/internal/offer"
	"github.com/onderwereld/economy-engine/internal/player"
	"github.com/onderwereld/economy-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Storage.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Storage.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Storage.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.Storage.RedisURL)
			if err != nil {
				slog.Error("invalid redis url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database_url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	hub := notify.NewHub()
	go hub.Run()

	notifier := notify.NewLogNotifier()

	// --- Services ---
	marketSvc := market.NewService(st, hub, nil)
	listingSvc := listing.NewService(st, marketSvc, notifier, hub, nil)
	offerSvc := offer.NewService(st, marketSvc, notifier, hub, nil)
	auctionSvc := auction.NewService(st, notifier, hub, nil)
	playerSvc := player.NewService(st)

	// --- Seed market price table ---
	seed := make([]model.MarketPriceEntry, 0, len(cfg.Market.Districts)*len(cfg.Market.Goods))
	for _, district := range cfg.Market.Districts {
		for goodID, basePrice := range cfg.Market.Goods {
			seed = append(seed, model.MarketPriceEntry{
				DistrictID:   district,
				GoodID:       goodID,
				CurrentPrice: basePrice,
				Trend:        model.TrendStable,
			})
		}
	}
	if err := marketSvc.Seed(context.Background(), seed); err != nil {
		slog.Error("market seed failed", "err", err)
		os.Exit(1)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for the browser frontend.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
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
		w.Write([]byte(`{"status":"ok","service":"economy-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Admin surface, meant to sit behind the gateway's auth.
		r.Post("/admin/grant", playerSvc.HandleGrant)

		// WebSocket endpoint for real-time economy events.
		r.Get("/ws", hub.HandleWS)

		// Fixed-price marketplace.
		r.Get("/listings", listingSvc.HandleList)
		r.Post("/listings", listingSvc.HandleCreate)
		r.Get("/listings/seller/{sellerID}", listingSvc.HandleListBySeller)
		r.Post("/listings/{listingID}/buy", listingSvc.HandleBuy)
		r.Post("/listings/{listingID}/cancel", listingSvc.HandleCancel)

		// Bilateral trade offers.
		r.Post("/offers", offerSvc.HandleCreate)
		r.Get("/offers/pending/{playerID}", offerSvc.HandleListPending)
		r.Post("/offers/{offerID}/accept", offerSvc.HandleAccept)
		r.Post("/offers/{offerID}/decline", offerSvc.HandleDecline)

		// Live auctions.
		r.Get("/auctions", auctionSvc.HandleList)
		r.Post("/auctions", auctionSvc.HandleCreate)
		r.Post("/auctions/{auctionID}/bids", auctionSvc.HandleBid)
		r.Post("/auctions/{auctionID}/claim", auctionSvc.HandleClaim)

		// Market prices.
		r.Get("/market/prices", marketSvc.GetPrices)

		// Player queries.
		r.Get("/players/{playerID}/wallet", playerSvc.HandleWallet)
		r.Get("/players/{playerID}/inventory", playerSvc.HandleInventory)
		r.Get("/players/{playerID}/trades", playerSvc.HandleTrades)
		r.Get("/vehicles/{vehicleID}", playerSvc.HandleVehicle)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("economy-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down economy-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("economy-engine stopped")
}
