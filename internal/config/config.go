package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the vCenter connection settings and credentials.
// Source: environment, optionally seeded from a .env file.
type Config struct {
	VSphereURL        string
	VSphereUsername   string
	VSpherePassword   string
	VSphereInsecure   bool
	VSphereDatacenter string // empty selects the default datacenter
}

// Load loads configuration from environment variables only.
func Load() (*Config, error) {
	return LoadWithFile("")
}

// LoadWithFile loads configuration from an optional .env file and environment variables.
func LoadWithFile(envFile string) (*Config, error) {
	cfg, err := Read(envFile)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Read is LoadWithFile without validation, for callers that fill in
// missing values from elsewhere (flags, a password prompt) first.
func Read(envFile string) (*Config, error) {
	// Attempt to load .env file if provided, but don't fail if it doesn't exist.
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	return &Config{
		VSphereURL:        os.Getenv("VSPHERE_URL"),
		VSphereUsername:   os.Getenv("VSPHERE_USERNAME"),
		VSpherePassword:   os.Getenv("VSPHERE_PASSWORD"),
		VSphereInsecure:   parseInsecure(os.Getenv("VSPHERE_INSECURE")),
		VSphereDatacenter: os.Getenv("VSPHERE_DATACENTER"),
	}, nil
}

// Validate checks if all required fields are set.
func (c *Config) Validate() error {
	if c.VSphereURL == "" {
		return fmt.Errorf("VSPHERE_URL is required")
	}
	if c.VSphereUsername == "" {
		return fmt.Errorf("VSPHERE_USERNAME is required")
	}
	if c.VSpherePassword == "" {
		return fmt.Errorf("VSPHERE_PASSWORD is required")
	}
	return nil
}

// parseInsecure converts a string to a boolean, defaulting to false.
func parseInsecure(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}
