// This is the main entry point of the Voltmarket application: a wallet-first
// energy trading API where participants place bids and supplies against
// auction timeslots, and an operator seals, settles or cancels those windows.
//
// It initializes configuration, the database pool and migrations, the chain
// client and the background sweeper, wires services into handlers, sets up
// the HTTP router and middleware, and handles graceful shutdown.
//
// @title Voltmarket API
// @version 1.0
// @description Wallet-authenticated order and timeslot API for peer-to-peer energy trading.
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type 'Bearer YOUR_JWT_TOKEN' to authorize
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/user/voltmarket-go/apperror"
	"github.com/user/voltmarket-go/auth"
	"github.com/user/voltmarket-go/background"
	"github.com/user/voltmarket-go/config"
	"github.com/user/voltmarket-go/db"
	"github.com/user/voltmarket-go/orders"
	"github.com/user/voltmarket-go/solana"
	"github.com/user/voltmarket-go/timeslots"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	// .env is a development convenience; in production the environment is set
	// directly, so a missing file is not an error.
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	pool, err := db.NewPool(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create database pool")
	}
	defer pool.Close()

	if err := db.RunMigrations(cfg.DB, "./migrations"); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	retryer := db.NewRetryer(*cfg.Retry, log.Logger)

	// Chain client: JSON-RPC when configured, in-process stub otherwise. A
	// failing health probe is worth knowing about at startup but is not fatal;
	// order placement only needs the deterministic escrow derivation.
	chainClient := solana.New(*cfg.Solana, log.Logger)
	{
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Solana.RequestTimeout)
		if err := chainClient.Health(ctx); err != nil {
			log.Warn().Err(err).Msg("Chain endpoint unhealthy at startup")
		}
		cancel()
	}

	// Stores, services, handlers. Manual dependency injection, wired once here.
	authStore := auth.NewPgStore(pool, retryer)
	authService := auth.NewService(authStore, *cfg.Auth, log.Logger)
	authHandlers := auth.NewHandlers(authService)

	orderStore := orders.NewPgStore(pool, retryer)
	orderService := orders.NewService(orderStore, chainClient, log.Logger)
	bidHandlers := orders.NewHandlers(orderService, orders.SideBid)
	supplyHandlers := orders.NewHandlers(orderService, orders.SideSupply)

	timeslotStore := timeslots.NewPgStore(pool, retryer)
	timeslotService := timeslots.NewService(timeslotStore, log.Logger)
	timeslotHandlers := timeslots.NewHandlers(timeslotService)

	sweeper := background.NewSweeper(*cfg.Sweep, authStore, timeslotStore, log.Logger)
	sweeper.Start()

	r := chi.NewRouter()

	// Chi requires all middleware to be registered before any routes.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Second line of panic defense that formats the failure through apperror,
	// so even a panicking handler produces the standard error shape.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			defer func() {
				if rvr := recover(); rvr != nil {
					log.Error().Interface("panic", rvr).Str("path", req.URL.Path).Msg("Panic in handler")
					auth.WriteError(ww, req, apperror.NewInternalError("internal server error", nil))
				}
			}()
			next.ServeHTTP(ww, req)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		auth.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Two-phase wallet authentication.
	r.Route("/auth", func(r chi.Router) {
		r.Post("/init", authHandlers.HandleInitAuth())
		r.Post("/verify", authHandlers.HandleVerifyAuth())
	})

	r.Route("/users", func(r chi.Router) {
		r.Use(auth.RequireAuth(authService))
		r.Get("/me", authHandlers.HandleMe())
	})

	// The two order books share one service; each mount binds a side.
	r.Route("/api/v1/bids", func(r chi.Router) {
		bidHandlers.RegisterRoutes(r, authService)
	})
	r.Route("/api/v1/supplies", func(r chi.Router) {
		supplyHandlers.RegisterRoutes(r, authService)
	})

	r.Route("/api/v1/timeslots", func(r chi.Router) {
		// Reads are public but session-aware: a presented credential is
		// resolved, a missing or stale one just means anonymous.
		r.Use(auth.OptionalAuth(authService))
		timeslotHandlers.RegisterRoutes(r, authService, func(r chi.Router) {
			r.Get("/{id}/bids", bidHandlers.HandleListByTimeslot())
			r.Get("/{id}/supplies", supplyHandlers.HandleListByTimeslot())
			r.Get("/{id}/stats", bidHandlers.HandleTimeslotStats())
		})
	})

	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sweeper.Stop()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server shutdown failed")
	}
	log.Info().Msg("Server stopped gracefully")
}
