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
	logger.Info("Starting office service")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	stopTracing := server.StartTracing(cfg, "office", logger)

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	if len(cfg.ServiceAuth.KnownClients) == 0 {
		logger.Warn("SERVICE_CLIENTS is empty: no backend service can obtain a token")
	}

	// Vehicle catalog is reached with this service's own credentials
	var catalog services.VehicleCatalog
	if cfg.Services.CatalogURL != "" {
		var tokenCache serviceauth.TokenCache = serviceauth.NewMemoryTokenCache()
		if cfg.ServiceAuth.TokenCache == "redis" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer rdb.Close()
			tokenCache = serviceauth.NewRedisTokenCache(rdb, cfg.ServiceAuth.ClientID)
		}
		caller := serviceauth.NewClient(
			&http.Client{Timeout: cfg.Booking.CallTimeout},
			tokenCache,
			serviceauth.Credentials{ClientID: cfg.ServiceAuth.ClientID, ClientSecret: cfg.ServiceAuth.ClientSecret},
			logger,
		)
		catalog = services.NewCatalogClient(caller, cfg.Services.CatalogURL)
	} else {
		logger.Warn("CAR_SERVICE_URL is empty: stocking does not check the vehicle catalog")
	}

	// Initialize repositories and services
	ledger := services.NewLedgerService(
		database.NewAvailabilityRepository(db.DB),
		database.NewOfficeRepository(db.DB),
		catalog,
		services.LedgerConfig{MinBookingDuration: cfg.Booking.MinBookingDuration},
		logger,
	)

	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.ServiceTokenExpiry, cfg.JWT.UserTokenExpiry)
	officeHandler := handlers.NewOfficeHandler(ledger, logger)
	tokenHandler := handlers.NewTokenHandler(jwtService, cfg.ServiceAuth.KnownClients, logger)

	// Routes
	router := server.NewRouter(cfg, db, version, logger)
	// callers authenticate against {scheme://host}/token
	router.POST("/token", tokenHandler.IssueToken)

	v1 := router.Group("/api/v1")
	{
		authed := v1.Group("", middleware.AuthMiddleware(jwtService))
		{
			authed.GET("/offices", officeHandler.ListOffices)
			authed.GET("/offices/:office_id/availability", officeHandler.OfficeAvailability)
			authed.GET("/offices/:office_id/vehicles/:vehicle_id", officeHandler.OfficeVehicleHistory)
			authed.GET("/vehicles/:vehicle_id/availability", officeHandler.VehicleAvailability)

			admin := authed.Group("", middleware.RequireAdmin())
			{
				admin.POST("/offices/:office_id/vehicles/:vehicle_id", officeHandler.StockVehicle)
				admin.DELETE("/offices/:office_id/vehicles/:vehicle_id", officeHandler.RemoveVehicle)
			}

			internal := authed.Group("", middleware.RequireService())
			{
				internal.PUT("/vehicles/:vehicle_id/availability", officeHandler.ReserveMove)
				internal.POST("/vehicles/:vehicle_id/availability/release", officeHandler.ReleaseMove)
			}
		}
	}

	server.Run(cfg.Server.Port, router, logger, stopTracing)
}
