// Package api provides the HTTP API for the Tadreeb LMS licensing server.
package api

import (
	"net/http"

	"github.com/Abmarne/tadreeblms/internal/api/handlers"
	"github.com/Abmarne/tadreeblms/internal/api/middleware"
	"github.com/Abmarne/tadreeblms/internal/db"
	"github.com/Abmarne/tadreeblms/internal/license"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Config holds configuration for the API router.
type Config struct {
	// RateLimitRequests is the number of requests allowed per period.
	RateLimitRequests int64
	// RateLimitPeriod is the duration string for rate limiting (e.g. "1m", "1h").
	RateLimitPeriod string
	// Version reported by the version endpoint.
	Version string
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		RateLimitRequests: 100,
		RateLimitPeriod:   "1m",
		Version:           "dev",
	}
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(
	cfg Config,
	database *db.DB,
	lifecycle *license.Service,
	quota *license.QuotaEnforcer,
	roster *license.Reconciler,
	logger zerolog.Logger,
) (*Router, error) {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))

	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitPeriod)
	if err != nil {
		return nil, err
	}
	r.Engine.Use(rateLimiter)

	r.Engine.GET("/healthz", func(c *gin.Context) {
		if err := database.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": cfg.Version})
	})

	apiV1 := r.Engine.Group("/api/v1")

	licenseHandler := handlers.NewLicenseHandler(lifecycle, quota, roster, logger)
	licenseHandler.RegisterRoutes(apiV1)

	usersHandler := handlers.NewUsersHandler(database, quota, roster, logger)
	usersHandler.RegisterRoutes(apiV1)

	return r, nil
}
