package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nexport/freightd/config"
	"github.com/nexport/freightd/internal/events"
	"github.com/nexport/freightd/internal/handler"
	"github.com/nexport/freightd/internal/middleware"
	"github.com/nexport/freightd/internal/repository"
	"github.com/nexport/freightd/internal/service"
	"github.com/nexport/freightd/pkg/cache"
	"github.com/nexport/freightd/pkg/db"
)

func main() {
	// ── Load configuration ──────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	// ── Connect to PostgreSQL ───────────────────────────
	pgPool, err := db.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	defer pgPool.Close()
	log.Println("✓ PostgreSQL connected")

	// ── Connect to Redis ────────────────────────────────
	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("✓ Redis connected")

	// ── Event producer (optional) ───────────────────────
	// Running without Kafka is supported: the booking service treats a nil
	// publisher as a no-op, so local development needs no broker.
	var publisher service.EventPublisher
	var producer *events.Producer
	if cfg.Kafka.Enabled() {
		producer = events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, "freightd", 256)
		producer.Start(ctx)
		publisher = producer
		log.Printf("✓ Kafka producer started (topic %s)", cfg.Kafka.Topic)
	} else {
		log.Println("· Kafka disabled (no brokers configured)")
	}

	// ── Initialize layers ───────────────────────────────
	containerRepo := repository.NewContainerRepository(pgPool, redisClient)
	bookingRepo := repository.NewBookingRepository(pgPool)
	paymentRepo := repository.NewPaymentRepository(pgPool)
	trackingRepo := repository.NewTrackingRepository(pgPool)
	conversationRepo := repository.NewConversationRepository(pgPool)

	pricingSvc := service.NewPricingService(service.DefaultRateConfig())
	allocationSvc := service.NewAllocationService(containerRepo)
	conversationSvc := service.NewConversationService(conversationRepo, containerRepo)
	bookingSvc := service.NewBookingService(
		bookingRepo, paymentRepo, trackingRepo,
		allocationSvc, pricingSvc, conversationSvc, publisher)

	bookingHandler := handler.NewBookingHandler(bookingSvc, bookingRepo, paymentRepo, trackingRepo)
	containerHandler := handler.NewContainerHandler(containerRepo)
	quoteHandler := handler.NewQuoteHandler(pricingSvc, containerRepo)

	// ── Setup router ────────────────────────────────────
	router := mux.NewRouter()

	// Health check endpoint.
	router.HandleFunc("/health", healthHandler(pgPool, redisClient)).Methods(http.MethodGet)

	// API v1 routes.
	api := router.PathPrefix("/api/v1").Subrouter()
	// Provider container fleet
	api.HandleFunc("/containers", containerHandler.CreateContainer).Methods(http.MethodPost)
	api.HandleFunc("/containers", containerHandler.ListContainers).Methods(http.MethodGet)
	api.HandleFunc("/containers/{id}", containerHandler.GetContainer).Methods(http.MethodGet)
	api.HandleFunc("/containers/{id}/location", containerHandler.UpdateLocation).Methods(http.MethodPatch)
	// Price previews
	api.HandleFunc("/quotes", quoteHandler.GetQuote).Methods(http.MethodPost)
	// Booking lifecycle
	api.HandleFunc("/bookings", bookingHandler.CreateBooking).Methods(http.MethodPost)
	api.HandleFunc("/bookings", bookingHandler.ListBookings).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id}", bookingHandler.GetBooking).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id}/payment", bookingHandler.ConfirmPayment).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/payments", bookingHandler.Payments).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id}/cancel", bookingHandler.CancelBooking).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/status", bookingHandler.AdvanceStatus).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/tracking", bookingHandler.Tracking).Methods(http.MethodGet)

	// Middleware chain: recover → log → CORS → routes.
	h := middleware.Recoverer(middleware.RequestLogger(middleware.CORS(router)))

	// ── Start HTTP server ───────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.ServerAddr(),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in a goroutine so we can listen for shutdown signals.
	go func() {
		log.Printf("🚀 Server listening on %s", cfg.Server.ServerAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// ── Graceful shutdown ───────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("⏳ Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	// Drain buffered events before exiting so paid/cancelled events are not lost.
	if producer != nil {
		producer.Close()
		producer.WaitClosed()
		log.Println("✓ Kafka producer drained")
	}

	log.Println("✅ Server gracefully stopped")
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// healthHandler returns an HTTP handler that checks PG and Redis connectivity.
func healthHandler(pgPool *pgxpool.Pool, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Services: make(map[string]string),
		}

		if err := db.HealthCheck(r.Context(), pgPool); err != nil {
			resp.Status = "degraded"
			resp.Services["postgres"] = "unhealthy: " + err.Error()
		} else {
			resp.Services["postgres"] = "healthy"
		}

		if err := cache.HealthCheck(r.Context(), redisClient); err != nil {
			resp.Status = "degraded"
			resp.Services["redis"] = "unhealthy: " + err.Error()
		} else {
			resp.Services["redis"] = "healthy"
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	}
}
