package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Evg-Mazay/rsoi-curse/internal/config"
	"github.com/Evg-Mazay/rsoi-curse/internal/database"
	"github.com/Evg-Mazay/rsoi-curse/internal/handlers"
	"github.com/Evg-Mazay/rsoi-curse/internal/middleware"
	"github.com/Evg-Mazay/rsoi-curse/pkg/obs"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NewLogger creates the process logger at the configured level
func NewLogger(cfg config.ServerConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)
	return logger
}

// StartTracing installs the OTLP tracer when enabled. The returned func is
// always safe to call.
func StartTracing(cfg *config.Config, defaultName string, logger *logrus.Logger) func() {
	if !cfg.Tracing.Enabled {
		return func() {}
	}

	name := cfg.Tracing.ServiceName
	if name == "" {
		name = defaultName
	}
	shutdown, err := obs.InitTracer(context.Background(), name, cfg.Tracing.Endpoint, cfg.Server.Environment)
	if err != nil {
		logger.WithError(err).Warn("Tracing disabled: failed to initialize exporter")
		return func() {}
	}
	logger.WithField("endpoint", cfg.Tracing.Endpoint).Info("Tracing enabled")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.WithError(err).Warn("Failed to flush traces")
		}
	}
}

// NewRouter creates a gin engine with recovery, request logging, CORS and /health
func NewRouter(cfg *config.Config, db database.DB, version string, logger *logrus.Logger) *gin.Engine {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(cfg.CORS.AllowedOrigins),
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", handlers.HealthCheck(db, version))
	return router
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// Run serves router until SIGINT/SIGTERM, then runs onShutdown hooks and
// drains connections for up to 30 seconds
func Run(port string, router http.Handler, logger *logrus.Logger, onShutdown ...func()) {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on port %s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	for _, hook := range onShutdown {
		hook()
	}

	logger.Info("Server exited successfully")
}
