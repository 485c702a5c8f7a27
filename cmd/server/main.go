package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/vs-webmaster/vintstreet-sub005/internal/api"
	"github.com/vs-webmaster/vintstreet-sub005/internal/auth"
	"github.com/vs-webmaster/vintstreet-sub005/internal/bidding"
	"github.com/vs-webmaster/vintstreet-sub005/internal/config"
	"github.com/vs-webmaster/vintstreet-sub005/internal/db"
	"github.com/vs-webmaster/vintstreet-sub005/internal/notify"
	"github.com/vs-webmaster/vintstreet-sub005/internal/payments"
	"github.com/vs-webmaster/vintstreet-sub005/internal/settlement"
)

// Main entry point: sets up database, bidding engine, settlement job
// and HTTP server.
func main() {
	log.SetFormatter(&log.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
	})
	log.SetOutput(os.Stdout)

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(ctx)

	// Notifications go to RabbitMQ when a broker is configured, to the
	// log otherwise.
	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.AMQPURL != "" {
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			log.Fatalf("Failed to open channel: %v", err)
		}
		notifier, err = notify.NewAMQPNotifier(ch, cfg.NotifyExchange)
		if err != nil {
			log.Fatalf("Failed to set up notifier: %v", err)
		}
	}

	gateway := payments.NewHTTPGateway(cfg.PaymentGatewayURL)

	bids := bidding.NewService(database)
	settler := settlement.NewJob(database, gateway, notifier, cfg.PlatformFeeFraction, cfg.Currency)
	authService := auth.NewAuthService(database, cfg.JWTSecret)
	hub := api.NewHub()

	handler := api.NewHandler(database, bids, settler, authService, hub)

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// WebSocket endpoint: live auction price feed
	r.Get("/ws", hub.HandleWS)

	// Public endpoints
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)
	r.Get("/auctions", handler.ListAuctions)
	r.Get("/auctions/{id}", handler.GetAuction)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Post("/auctions/{id}/bids", handler.PlaceBid)
		r.Post("/settlement/run", handler.RunSettlement)
	})

	// Settle expired auctions on a fixed cadence. Each run is
	// independent; a manual trigger via the API can run alongside
	// without double-settling.
	go func() {
		ticker := time.NewTicker(cfg.SettlementInterval)
		for range ticker.C {
			results, err := settler.ProcessExpired(ctx, time.Now())
			if err != nil {
				log.WithField("error", err).Error("scheduled settlement run failed")
				continue
			}
			if len(results) > 0 {
				handler.BroadcastSettled(ctx, results)
				log.WithField("processed", len(results)).Info("scheduled settlement run finished")
			}
		}
	}()

	// Periodic price feed. Bids push updates immediately; this tick
	// keeps quiet auctions fresh for watchers.
	go func() {
		ticker := time.NewTicker(cfg.BroadcastInterval)
		for range ticker.C {
			handler.BroadcastActive(ctx)
		}
	}()

	log.Infof("Starting server on %s", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
