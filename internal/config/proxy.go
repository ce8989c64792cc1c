package config

import "os"

// ProxyConfig holds outbound proxy settings for calls to the licensing
// server. Deployments behind corporate egress proxies set these.
type ProxyConfig struct {
	HTTPProxy   string
	HTTPSProxy  string
	SOCKS5Proxy string
	NoProxy     string
}

// LoadProxyConfig reads proxy settings from the environment.
func LoadProxyConfig() *ProxyConfig {
	return &ProxyConfig{
		HTTPProxy:   firstEnv("TADREEB_HTTP_PROXY", "HTTP_PROXY", "http_proxy"),
		HTTPSProxy:  firstEnv("TADREEB_HTTPS_PROXY", "HTTPS_PROXY", "https_proxy"),
		SOCKS5Proxy: firstEnv("TADREEB_SOCKS5_PROXY"),
		NoProxy:     firstEnv("NO_PROXY", "no_proxy"),
	}
}

// HasProxy returns true if any proxy is configured.
func (c *ProxyConfig) HasProxy() bool {
	if c == nil {
		return false
	}
	return c.HTTPProxy != "" || c.HTTPSProxy != "" || c.SOCKS5Proxy != ""
}

// firstEnv returns the first non-empty value among the given variables.
func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}
