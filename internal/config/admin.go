package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultAdminConfigDir returns the default admin CLI config directory (~/.tadreeb).
func DefaultAdminConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".tadreeb"), nil
}

// DefaultAdminConfigPath returns the default admin CLI config file path (~/.tadreeb/config.yml).
func DefaultAdminConfigPath() (string, error) {
	dir, err := DefaultAdminConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// AdminConfig holds the admin CLI's configuration.
type AdminConfig struct {
	ServerURL string `yaml:"server_url,omitempty"`
}

// Validate checks that the configuration has required fields for operation.
func (c *AdminConfig) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	return nil
}

// IsConfigured returns true if the CLI has been pointed at a server.
func (c *AdminConfig) IsConfigured() bool {
	return c.ServerURL != ""
}

// LoadAdminConfig reads the admin configuration from the given path.
// If the file does not exist, an empty config is returned.
func LoadAdminConfig(path string) (*AdminConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &AdminConfig{}, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg AdminConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return &cfg, nil
}

// LoadDefaultAdminConfig loads the admin configuration from the default path.
func LoadDefaultAdminConfig() (*AdminConfig, error) {
	path, err := DefaultAdminConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadAdminConfig(path)
}

// Save writes the configuration to the given path, creating directories as needed.
func (c *AdminConfig) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// SaveDefault saves the configuration to the default path.
func (c *AdminConfig) SaveDefault() error {
	path, err := DefaultAdminConfigPath()
	if err != nil {
		return err
	}
	return c.Save(path)
}
