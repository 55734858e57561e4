package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RefreshPolicy controls how the auth client treats provider token refresh.
type RefreshPolicy string

const (
	// PreferStability short-circuits refresh calls and serves the locally
	// extended token. This avoids the reload flicker the provider's refresh
	// flow causes on tab refocus, at the cost of provider-verified freshness.
	PreferStability RefreshPolicy = "stability"

	// PreferFreshness always lets refresh calls through to the provider.
	PreferFreshness RefreshPolicy = "freshness"
)

// Routes holds the navigation targets used by the route guard.
type Routes struct {
	// Landing is the unauthenticated landing route.
	Landing string `yaml:"landing"`
	// UserDashboard is where a plain user lands after a role mismatch.
	UserDashboard string `yaml:"userDashboard"`
	// ManagementDashboard is where admins and managers land.
	ManagementDashboard string `yaml:"managementDashboard"`
}

// Config holds the settings for the session/auth core.
type Config struct {
	// ProviderURL is the base URL of the identity/data provider.
	ProviderURL string `yaml:"providerUrl"`
	// APIKey is the provider's public API key, sent on every request.
	APIKey string `yaml:"apiKey"`
	// StateDir is where the persisted session and tab state live.
	StateDir string `yaml:"stateDir"`
	// Debug enables verbose console logging.
	Debug bool `yaml:"debug"`

	// RefreshPolicy selects stability vs freshness for token refresh.
	RefreshPolicy RefreshPolicy `yaml:"refreshPolicy"`

	// SessionCheckInterval rate-limits re-validation on tab refocus.
	SessionCheckInterval time.Duration `yaml:"sessionCheckInterval"`
	// TokenLifetime is the extension applied to stored token expiry.
	TokenLifetime time.Duration `yaml:"tokenLifetime"`
	// ExpiryRewriteInterval is the period of the background expiry rewrite.
	ExpiryRewriteInterval time.Duration `yaml:"expiryRewriteInterval"`
	// GuardSafetyTimeout bounds how long the guard waits for auth resolution.
	GuardSafetyTimeout time.Duration `yaml:"guardSafetyTimeout"`
	// GuardRetryCap bounds refresh retries before the guard gives up.
	GuardRetryCap int `yaml:"guardRetryCap"`
	// FetchTimeout is the hard timeout around data-fetch operations.
	FetchTimeout time.Duration `yaml:"fetchTimeout"`

	// BypassPathPrefixes are operationally-sensitive route prefixes where the
	// guard renders children rather than locking operators out during
	// provider slowness.
	BypassPathPrefixes []string `yaml:"bypassPathPrefixes"`

	Routes Routes `yaml:"routes"`
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		RefreshPolicy:         PreferStability,
		SessionCheckInterval:  5 * time.Minute,
		TokenLifetime:         365 * 24 * time.Hour,
		ExpiryRewriteInterval: 5 * time.Minute,
		GuardSafetyTimeout:    5 * time.Second,
		GuardRetryCap:         2,
		FetchTimeout:          10 * time.Second,
		BypassPathPrefixes:    []string{"/dashboard", "/admin", "/manage"},
		Routes: Routes{
			Landing:             "/login",
			UserDashboard:       "/my/updates",
			ManagementDashboard: "/dashboard",
		},
	}
}

// Load reads a YAML config file, layering it over DefaultConfig.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks the configuration for values the core cannot run with.
func (c Config) Validate() error {
	if c.ProviderURL == "" {
		return fmt.Errorf("provider URL is required")
	}
	if c.RefreshPolicy != PreferStability && c.RefreshPolicy != PreferFreshness {
		return fmt.Errorf("unknown refresh policy %q", c.RefreshPolicy)
	}
	if c.SessionCheckInterval <= 0 {
		return fmt.Errorf("session check interval must be greater than 0")
	}
	if c.GuardSafetyTimeout <= 0 {
		return fmt.Errorf("guard safety timeout must be greater than 0")
	}
	if c.GuardRetryCap < 0 {
		return fmt.Errorf("guard retry cap must not be negative")
	}
	return nil
}
