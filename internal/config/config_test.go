package config

import (
	"testing"
	"time"
)

func TestLoadServerConfig_Defaults(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("PORT", "")
	t.Setenv("RATE_LIMIT_REQUESTS", "")
	t.Setenv("RATE_LIMIT_PERIOD", "")

	cfg := LoadServerConfig()

	if cfg.Environment != EnvDevelopment {
		t.Errorf("Environment = %s, want %s", cfg.Environment, EnvDevelopment)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.RateLimitRequests != 100 {
		t.Errorf("RateLimitRequests = %d, want 100", cfg.RateLimitRequests)
	}
	if cfg.RateLimitPeriod != "1m" {
		t.Errorf("RateLimitPeriod = %s, want 1m", cfg.RateLimitPeriod)
	}
}

func TestLoadServerConfig_InvalidValues(t *testing.T) {
	t.Setenv("ENV", "bogus")
	t.Setenv("PORT", "-1")

	cfg := LoadServerConfig()

	if cfg.Environment != EnvDevelopment {
		t.Errorf("Environment = %s, want %s for invalid ENV", cfg.Environment, EnvDevelopment)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080 for out-of-range PORT", cfg.Port)
	}
}

func TestLoadKeygenConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("KEYGEN_ACCOUNT_ID", "")
		t.Setenv("KEYGEN_PRODUCT_ID", "")
		t.Setenv("KEYGEN_API_TOKEN", "")
		t.Setenv("KEYGEN_API_URL", "")
		t.Setenv("KEYGEN_REVALIDATION_INTERVAL", "")
		t.Setenv("KEYGEN_GRACE_PERIOD", "")

		cfg := LoadKeygenConfig()

		if cfg.APIURL != DefaultKeygenAPIURL {
			t.Errorf("APIURL = %s, want %s", cfg.APIURL, DefaultKeygenAPIURL)
		}
		if cfg.RevalidationInterval != 24*time.Hour {
			t.Errorf("RevalidationInterval = %s, want 24h", cfg.RevalidationInterval)
		}
		if cfg.GracePeriod != 7*24*time.Hour {
			t.Errorf("GracePeriod = %s, want 168h", cfg.GracePeriod)
		}
		if cfg.IsConfigured() {
			t.Error("IsConfigured() = true with empty account and product")
		}
		if cfg.HasAPIToken() {
			t.Error("HasAPIToken() = true with empty token")
		}
	})

	t.Run("configured", func(t *testing.T) {
		t.Setenv("KEYGEN_ACCOUNT_ID", "acct-1")
		t.Setenv("KEYGEN_PRODUCT_ID", "prod-1")
		t.Setenv("KEYGEN_API_TOKEN", "tok-1")
		t.Setenv("KEYGEN_REVALIDATION_INTERVAL", "6")
		t.Setenv("KEYGEN_GRACE_PERIOD", "3")

		cfg := LoadKeygenConfig()

		if !cfg.IsConfigured() {
			t.Error("IsConfigured() = false, want true")
		}
		if !cfg.HasAPIToken() {
			t.Error("HasAPIToken() = false, want true")
		}
		if cfg.RevalidationInterval != 6*time.Hour {
			t.Errorf("RevalidationInterval = %s, want 6h", cfg.RevalidationInterval)
		}
		if cfg.GracePeriod != 3*24*time.Hour {
			t.Errorf("GracePeriod = %s, want 72h", cfg.GracePeriod)
		}
	})

	t.Run("account without product is not configured", func(t *testing.T) {
		t.Setenv("KEYGEN_ACCOUNT_ID", "acct-1")
		t.Setenv("KEYGEN_PRODUCT_ID", "")

		cfg := LoadKeygenConfig()

		if cfg.IsConfigured() {
			t.Error("IsConfigured() = true with missing product ID")
		}
	})
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_BOOL", "yes")
	if !getEnvBool("TEST_BOOL", false) {
		t.Error("getEnvBool(yes) = false, want true")
	}

	t.Setenv("TEST_BOOL", "garbage")
	if !getEnvBool("TEST_BOOL", true) {
		t.Error("getEnvBool(garbage) should return default")
	}

	t.Setenv("TEST_INT", "42")
	if got := getEnvInt("TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt = %d, want 42", got)
	}

	t.Setenv("TEST_DUR", "90s")
	if got := getEnvDuration("TEST_DUR", time.Minute); got != 90*time.Second {
		t.Errorf("getEnvDuration = %s, want 90s", got)
	}
	t.Setenv("TEST_DUR", "nope")
	if got := getEnvDuration("TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("getEnvDuration invalid = %s, want default 1m", got)
	}
}
