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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/vaultgrails/backend/docs"
	"github.com/vaultgrails/backend/internal/database"
	mW "github.com/vaultgrails/backend/internal/middleware"
	"github.com/vaultgrails/backend/internal/services"
)

// @title Vault Grails API
// @version 1.0
// @description Ticket-based raffle platform backend
// @host localhost:8080
// @BasePath /api
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("admin.email", "ADMIN_EMAIL")
	viper.BindEnv("frontend.url", "FRONTEND_URL")
	viper.BindEnv("stripe.secret_key", "STRIPE_SECRET_KEY")
	viper.BindEnv("stripe.webhook_secret", "STRIPE_WEBHOOK_SECRET")
	viper.BindEnv("ads.daily_limit", "ADS_DAILY_LIMIT")
	viper.BindEnv("subscription.monthly_tickets", "SUBSCRIPTION_MONTHLY_TICKETS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	viper.SetDefault("frontend.url", "http://localhost:3000")
	viper.SetDefault("ads.daily_limit", 5)
	viper.SetDefault("subscription.monthly_tickets", 100)

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Vault Grails API"
	docs.SwaggerInfo.Description = "Ticket-based raffle platform backend"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	ledgerService := services.NewTicketLedgerService(db)
	authService := services.NewAuthService(db, redisClient, ledgerService)
	raffleService := services.NewRaffleService(db)
	entryService := services.NewEntryService(db, ledgerService)
	drawService := services.NewDrawService(db)
	paymentService := services.NewPaymentService(db, redisClient, ledgerService)
	adminService := services.NewAdminService(db, ledgerService)

	// Initialize auth middleware with DB and Redis
	mW.InitAuthMiddleware(db, redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// Static file server for raffle images
	r.Handle("/static/raffle-images/*", http.StripPrefix("/static/raffle-images/",
		mW.StaticFileServer("./static/raffle-images")))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
		})
		r.Post("/auth/signup", authService.Signup)
		r.Post("/auth/login", authService.Login)
		r.Get("/tickets/packages", paymentService.ListPackages)
		r.Post("/payments/webhook", paymentService.HandleWebhook)

		// Raffle browsing works anonymously but attaches the caller's
		// identity when a valid token is presented.
		r.Group(func(r chi.Router) {
			r.Use(mW.OptionalAuth)

			r.Get("/raffles", raffleService.ListRaffles)
			r.Get("/raffles/{id}", raffleService.GetRaffle)
		})

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.Authenticate)

			r.Post("/auth/logout", authService.Logout)
			r.Get("/user/profile", authService.GetProfile)
			r.Put("/user/profile", authService.UpdateProfile)
			r.Get("/user/transactions", ledgerService.ListTransactions)
			r.Get("/user/entries", entryService.GetEntries)
			r.Get("/user/entries/active", entryService.GetActiveEntries)
			r.Get("/user/wins", entryService.GetWins)

			r.Get("/tickets/balance", ledgerService.GetBalance)
			r.Post("/raffles/{id}/enter", entryService.EnterRaffle)

			r.Post("/ads/watch", entryService.WatchAd)
			r.Get("/ads/stats", entryService.AdStats)

			r.Post("/payments/create-checkout", paymentService.CreateCheckout)
			r.Post("/payments/create-subscription", paymentService.CreateSubscription)
			r.Get("/payments/checkout-qr", paymentService.CheckoutQR)

			// Admin endpoints
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireAdmin)

				r.Post("/admin/raffles", raffleService.CreateRaffle)
				r.Put("/admin/raffles/{id}", raffleService.UpdateRaffle)
				r.Delete("/admin/raffles/{id}", raffleService.DeleteRaffle)
				r.Post("/admin/raffles/{id}/draw", drawService.DrawRaffle)
				r.Post("/admin/adjustments", adminService.CreateAdjustment)
				r.Get("/admin/users", adminService.ListUsers)
				r.Get("/admin/stats", adminService.GetStats)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
