// Package config provides configuration management for Tadreeb LMS.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// ServerConfig holds server-level configuration loaded from environment variables.
type ServerConfig struct {
	Environment       Environment
	Port              int
	RateLimitRequests int64
	RateLimitPeriod   string
}

// LoadServerConfig reads server configuration from environment variables.
func LoadServerConfig() ServerConfig {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	port := getEnvInt("PORT", 8080)
	if port <= 0 || port > 65535 {
		port = 8080
	}

	rateLimitRequests := int64(getEnvInt("RATE_LIMIT_REQUESTS", 100))
	if rateLimitRequests <= 0 {
		rateLimitRequests = 100
	}

	rateLimitPeriod := os.Getenv("RATE_LIMIT_PERIOD")
	if rateLimitPeriod == "" {
		rateLimitPeriod = "1m"
	}

	return ServerConfig{
		Environment:       env,
		Port:              port,
		RateLimitRequests: rateLimitRequests,
		RateLimitPeriod:   rateLimitPeriod,
	}
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvDuration reads a duration from an environment variable, returning the default if unset or invalid.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
