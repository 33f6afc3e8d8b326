package main

import (
	"net/http"

	"github.com/Evg-Mazay/rsoi-curse/internal/config"
	"github.com/Evg-Mazay/rsoi-curse/internal/database"
	"github.com/Evg-Mazay/rsoi-curse/internal/handlers"
	"github.com/Evg-Mazay/rsoi-curse/internal/middleware"
	"github.com/Evg-Mazay/rsoi-curse/internal/server"
	"github.com/Evg-Mazay/rsoi-curse/internal/services"
	"github.com/Evg-Mazay/rsoi-curse/pkg/jwt"
	"github.com/Evg-Mazay/rsoi-curse/pkg/mq"
	"github.com/Evg-Mazay/rsoi-curse/pkg/serviceauth"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := server.NewLogger(cfg.Server)
	logger.Info("Starting booking service")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	stopTracing := server.StartTracing(cfg, "booking", logger)

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Service-to-service client
	var tokenCache serviceauth.TokenCache = serviceauth.NewMemoryTokenCache()
	if cfg.ServiceAuth.TokenCache == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		tokenCache = serviceauth.NewRedisTokenCache(rdb, cfg.ServiceAuth.ClientID)
		logger.WithField("addr", cfg.Redis.Addr).Info("Using Redis token cache")
	}
	caller := serviceauth.NewClient(
		&http.Client{Timeout: cfg.Booking.CallTimeout},
		tokenCache,
		serviceauth.Credentials{ClientID: cfg.ServiceAuth.ClientID, ClientSecret: cfg.ServiceAuth.ClientSecret},
		logger,
	)

	// Statistics transport
	var stats services.StatsRecorder
	switch cfg.Services.StatsTransport {
	case "amqp":
		publisher, err := mq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			logger.Fatalf("Failed to connect to message broker: %v", err)
		}
		defer publisher.Close()
		stats = services.NewAMQPStatsRecorder(publisher)
	case "http":
		stats = services.NewHTTPStatsRecorder(caller, cfg.Services.StatsURL)
	default:
		stats = services.NoopStatsRecorder{}
	}
	logger.WithField("transport", cfg.Services.StatsTransport).Info("Statistics recorder configured")

	// Initialize repositories and services
	bookingRepo := database.NewBookingRepository(db.DB)
	compensationRepo := database.NewCompensationRepository(db.DB)
	payments := services.NewPaymentClient(caller, cfg.Services.PaymentURL)
	ledger := services.NewOfficeClient(caller, cfg.Services.OfficeURL)

	saga := services.NewBookingSagaService(
		payments,
		ledger,
		bookingRepo,
		stats,
		compensationRepo,
		services.BookingSagaConfig{
			SkipPayment:     cfg.Booking.SkipPayment,
			ReleaseOnFinish: cfg.Booking.ReleaseOnFinish,
			CallTimeout:     cfg.Booking.CallTimeout,
			StatsTimeout:    cfg.Booking.StatsTimeout,
		},
		logger,
	)
	if cfg.Booking.SkipPayment {
		logger.Warn("Payment is disabled: bookings are created without charging")
	}

	// Compensation reconciliation
	var cronService *services.CronService
	if cfg.Booking.ReconcileEnabled {
		reconciler := services.NewReconciliationService(
			compensationRepo,
			bookingRepo,
			payments,
			ledger,
			services.ReconciliationConfig{
				ClaimTTL:    cfg.Booking.ClaimTTL,
				CallTimeout: cfg.Booking.CallTimeout,
			},
			logger,
		)
		cronService = services.NewCronService(reconciler, cfg.Booking.ReconcileSchedule, logger)
		if err := cronService.Start(); err != nil {
			logger.Fatalf("Failed to start cron service: %v", err)
		}
	}

	// Routes
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.ServiceTokenExpiry, cfg.JWT.UserTokenExpiry)
	bookingHandler := handlers.NewBookingHandler(saga, logger)

	router := server.NewRouter(cfg, db, version, logger)
	v1 := router.Group("/api/v1", middleware.AuthMiddleware(jwtService))
	{
		v1.POST("/booking", bookingHandler.CreateBooking)
		v1.GET("/booking", bookingHandler.ListBookings)
		v1.GET("/booking/:id", bookingHandler.GetBooking)
		v1.DELETE("/booking/:id", bookingHandler.CancelBooking)
		v1.PATCH("/booking/:id/finish", bookingHandler.FinishBooking)
	}

	server.Run(cfg.Server.Port, router, logger,
		func() {
			if cronService != nil {
				cronService.Stop()
			}
		},
		stopTracing,
	)
}
