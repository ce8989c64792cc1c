package config

import (
	"os"
	"time"
)

// DefaultKeygenAPIURL is the hosted Keygen API endpoint.
const DefaultKeygenAPIURL = "https://api.keygen.sh/v1"

// KeygenConfig holds licensing server settings loaded from environment
// variables. AccountID and ProductID gate validation; APIToken is additionally
// required for user and usage-counter operations.
type KeygenConfig struct {
	AccountID string
	ProductID string
	APIToken  string
	APIURL    string

	// RevalidationInterval is the minimum time between mandatory re-checks
	// against the licensing server.
	RevalidationInterval time.Duration

	// GracePeriod is how long the last validated state keeps being served
	// when the licensing server is unreachable.
	GracePeriod time.Duration
}

// LoadKeygenConfig reads licensing configuration from environment variables.
func LoadKeygenConfig() KeygenConfig {
	apiURL := os.Getenv("KEYGEN_API_URL")
	if apiURL == "" {
		apiURL = DefaultKeygenAPIURL
	}

	revalidationHours := getEnvInt("KEYGEN_REVALIDATION_INTERVAL", 24)
	if revalidationHours <= 0 {
		revalidationHours = 24
	}

	graceDays := getEnvInt("KEYGEN_GRACE_PERIOD", 7)
	if graceDays <= 0 {
		graceDays = 7
	}

	return KeygenConfig{
		AccountID:            os.Getenv("KEYGEN_ACCOUNT_ID"),
		ProductID:            os.Getenv("KEYGEN_PRODUCT_ID"),
		APIToken:             os.Getenv("KEYGEN_API_TOKEN"),
		APIURL:               apiURL,
		RevalidationInterval: time.Duration(revalidationHours) * time.Hour,
		GracePeriod:          time.Duration(graceDays) * 24 * time.Hour,
	}
}

// IsConfigured returns true if both account and product identifiers are set.
func (c KeygenConfig) IsConfigured() bool {
	return c.AccountID != "" && c.ProductID != ""
}

// HasAPIToken returns true if an API token is available for authenticated calls.
func (c KeygenConfig) HasAPIToken() bool {
	return c.APIToken != ""
}
