// Package config loads tagfeed's settings from defaults, an optional YAML
// file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Backend names.
const (
	BackendLocal    = "local"
	BackendSupabase = "supabase"
	BackendPostgres = "postgres"
)

// Config is the complete client configuration.
type Config struct {
	Backend     string         `yaml:"backend" validate:"oneof=local supabase postgres"`
	DBPath      string         `yaml:"db_path" validate:"required"`
	Supabase    SupabaseConfig `yaml:"supabase"`
	DatabaseURL string         `yaml:"database_url" validate:"required_if=Backend postgres"`
	Google      GoogleConfig   `yaml:"google"`
	Breaker     BreakerConfig  `yaml:"breaker"`
	MetricsFile string         `yaml:"metrics_file"`
	WatchEvery  time.Duration  `yaml:"watch_every" validate:"gte=0"`
}

// SupabaseConfig locates the managed backend.
type SupabaseConfig struct {
	URL     string `yaml:"url" validate:"omitempty,url"`
	AnonKey string `yaml:"anon_key"`
}

// GoogleConfig holds the OAuth client used by `tagfeed login`.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	CallbackAddr string `yaml:"callback_addr" validate:"required,hostname_port"`
}

// BreakerConfig tunes the circuit breaker around remote backends.
type BreakerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
	MinRequests  uint32        `yaml:"min_requests"`
	FailureRatio float64       `yaml:"failure_ratio" validate:"gte=0,lte=1"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Backend: BackendLocal,
		DBPath:  DefaultDBPath(),
		Google: GoogleConfig{
			CallbackAddr: "127.0.0.1:8765",
		},
		Breaker: BreakerConfig{
			Enabled:      true,
			Timeout:      15 * time.Second,
			MinRequests:  5,
			FailureRatio: 0.6,
		},
		WatchEvery: 30 * time.Second,
	}
}

// DefaultDBPath returns the local database location under the user's
// config directory.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tagfeed.db"
	}
	return filepath.Join(home, ".config", "tagfeed", "tagfeed.db")
}

// Override adjusts a loaded configuration, typically from command-line flags.
type Override func(*Config)

// Load builds the configuration from defaults, the file at path, the
// environment and then overrides, in that order, and validates the result
// once. path may be empty, in which case only defaults and the environment
// apply. A named file that does not exist is an error.
func Load(path string, overrides ...Override) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadEnv(os.Getenv)

	for _, o := range overrides {
		o(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv(getenv func(string) string) {
	if v := getenv("TAGFEED_BACKEND"); v != "" {
		c.Backend = strings.ToLower(v)
	}
	if v := getenv("TAGFEED_DB"); v != "" {
		c.DBPath = v
	}
	if v := getenv("SUPABASE_URL"); v != "" {
		c.Supabase.URL = v
	}
	if v := getenv("SUPABASE_ANON_KEY"); v != "" {
		c.Supabase.AnonKey = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := getenv("GOOGLE_CLIENT_ID"); v != "" {
		c.Google.ClientID = v
	}
	if v := getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		c.Google.ClientSecret = v
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field formats and the settings each backend needs.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config: invalid %s (%s)", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("config: %w", err)
	}
	if c.Backend == BackendSupabase && (c.Supabase.URL == "" || c.Supabase.AnonKey == "") {
		return errors.New("config: supabase backend needs SUPABASE_URL and SUPABASE_ANON_KEY")
	}
	return nil
}

// LoginConfigured reports whether Google OAuth credentials are present.
func (c *Config) LoginConfigured() bool {
	return c.Google.ClientID != "" && c.Google.ClientSecret != ""
}
