package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"mindcare/internal/config"
	"mindcare/internal/database"
	"mindcare/internal/handler"
	"mindcare/internal/logger"
	"mindcare/internal/mw"
	"mindcare/internal/pricing"
	"mindcare/internal/provider"
	"mindcare/internal/service"
	"mindcare/internal/worker"
)

func main() {
	cfg := config.New()

	log, err := logger.New(os.Getenv("LOG_LEVEL"))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := database.NewDB(cfg.DatabaseURI)
	if err != nil {
		log.Fatal("failed to connect to DB", zap.Error(err))
	}
	defer database.CloseDB(db, log)

	if err := database.InitSchema(db); err != nil {
		log.Fatal("failed to init DB schema", zap.Error(err))
	}

	pricingSvc, err := pricing.New(cfg.Pricing)
	if err != nil {
		log.Fatal("invalid pricing configuration", zap.Error(err))
	}

	providers := provider.NewRegistry(cfg, log)

	// Services
	authSvc := service.NewAuthService(db)
	orderSvc := service.NewOrderService(db, pricingSvc, cfg.OrderTTL, log)
	paymentSvc := service.NewPaymentService(db, orderSvc, providers, log)

	// Worker
	sweeper := worker.NewSweeper(orderSvc, paymentSvc, cfg.SweepInterval, cfg.SweepBatchSize, log)

	// Router
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature", "Paypal-Transmission-Sig", "X-Webhook-Signature"},
		ExposedHeaders:   []string{"Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public routes
	r.Post("/api/user/register", handler.RegisterHandler(authSvc, cfg.JWTSecret))
	r.Post("/api/user/login", handler.LoginHandler(authSvc, cfg.JWTSecret))

	r.Get("/api/payments/pricing", handler.PricingHandler(pricingSvc))
	r.Get("/api/payments/providers", handler.ProvidersHandler(providers))

	// Providers authenticate by signature, not by JWT.
	r.Post("/api/payments/webhooks/{provider}", handler.WebhookHandler(paymentSvc, log))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(mw.AuthMiddleware(cfg.JWTSecret))

		r.Post("/api/payments/orders/registration", handler.CreateRegistrationOrderHandler(authSvc, orderSvc, log))
		r.Post("/api/payments/orders/appointment", handler.CreateAppointmentOrderHandler(authSvc, orderSvc, log))
		r.Get("/api/payments/orders", handler.ListOrdersHandler(orderSvc))
		r.Get("/api/payments/orders/{id}", handler.GetOrderHandler(orderSvc))
		r.Get("/api/payments/orders/{id}/status", handler.OrderStatusHandler(orderSvc))
		r.Post("/api/payments/orders/{id}/cancel", handler.CancelOrderHandler(orderSvc))
		r.Post("/api/payments/orders/{id}/initiate", handler.InitiatePaymentHandler(orderSvc, paymentSvc, log))
		r.Get("/api/payments/orders/{id}/payment", handler.PaymentStatusHandler(orderSvc, paymentSvc, log))
	})

	srv := &http.Server{
		Addr:         cfg.RunAddress,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go sweeper.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	log.Info("starting server", zap.String("addr", cfg.RunAddress))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", zap.Error(err))
		}
	}()

	<-quit
	log.Info("shutting down...")

	cancel() // stop worker
	ctxShut, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()

	if err := srv.Shutdown(ctxShut); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}

	log.Info("server stopped")
}
