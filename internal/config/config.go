// Package config handles application configuration
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"done/internal/auth"
	"done/internal/credentials"
	"done/internal/daemon"
	"done/internal/registry"
)

//go:embed config.sample.yaml
var sampleConfig string

// GetSampleConfig returns the embedded sample configuration content
func GetSampleConfig() string {
	return sampleConfig
}

// Provider ids known to the application.
const (
	ProviderLocal     = "local"
	ProviderMicrosoft = "microsoft"
	ProviderGoogle    = "google"
	ProviderNextcloud = "nextcloud"
)

// DefaultExecutable is the provider process spawned by the registry.
const DefaultExecutable = "done-provider"

// DefaultStartTimeout bounds how long a start waits for the provider to serve.
const DefaultStartTimeout = 10 * time.Second

// DefaultCacheTTL is how long cached list metadata stays fresh.
const DefaultCacheTTL = 5 * time.Minute

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Verbose           bool  `yaml:"verbose"`
	BackgroundEnabled *bool `yaml:"background_enabled"` // Controls provider log file creation (default: true)
}

// ProviderConfig holds the settings of one provider. Empty fields take the
// provider's defaults.
type ProviderConfig struct {
	Enabled      *bool    `yaml:"enabled"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Icon         string   `yaml:"icon"`
	Address      string   `yaml:"address"`
	Executable   string   `yaml:"executable"`
	Args         []string `yaml:"args"`
	DBPath       string   `yaml:"db_path"`       // local only
	ClientID     string   `yaml:"client_id"`     // microsoft, google
	ClientSecret string   `yaml:"client_secret"` // google
	Tenant       string   `yaml:"tenant"`        // microsoft
	RedirectURL  string   `yaml:"redirect_url"`  // microsoft, google
	URL          string   `yaml:"url"`           // nextcloud server
	Username     string   `yaml:"username"`      // nextcloud
}

// IsEnabled reports whether the provider is enabled. Providers are enabled
// unless explicitly disabled.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Config represents the application configuration
type Config struct {
	AppID        string                    `yaml:"app_id"`
	RuntimeDir   string                    `yaml:"runtime_dir"`
	StartTimeout string                    `yaml:"start_timeout"`
	CacheDir     string                    `yaml:"cache_dir"`
	CacheTTL     string                    `yaml:"cache_ttl"` // List metadata cache TTL (e.g., "5m", "30s")
	MetricsAddr  string                    `yaml:"metrics_addr"`
	Logging      LoggingConfig             `yaml:"logging"`
	Providers    map[string]ProviderConfig `yaml:"providers"`
}

type providerDefaults struct {
	name, description, icon, address string
	requiresAuth                     bool
}

var defaults = map[string]providerDefaults{
	ProviderLocal:     {"Local", "Tasks stored on this device", "user-home-symbolic", "127.0.0.1:7007", false},
	ProviderMicrosoft: {"Microsoft To Do", "Tasks synced with your Microsoft account", "microsoft-todo-symbolic", "127.0.0.1:6006", true},
	ProviderGoogle:    {"Google Tasks", "Tasks synced with your Google account", "google-tasks-symbolic", "127.0.0.1:3003", true},
	ProviderNextcloud: {"Nextcloud", "Tasks stored on a Nextcloud server", "nextcloud-symbolic", "127.0.0.1:4004", false},
}

// KnownProviders returns the provider ids in display order.
func KnownProviders() []string {
	return []string{ProviderLocal, ProviderMicrosoft, ProviderGoogle, ProviderNextcloud}
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	cfg := &Config{Providers: map[string]ProviderConfig{}}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from the specified path, or the default XDG path if empty.
// If the config file doesn't exist, it creates one from the sample. A .env
// file next to the config is loaded before environment overrides apply.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		// Existing environment variables win over the file.
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// Parse reads configuration from YAML bytes and applies defaults. It does
// not consult the environment.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in config file: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// save writes the sample configuration to path
func save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.AppID == "" {
		c.AppID = credentials.DefaultAppID
	}
	if c.RuntimeDir == "" {
		c.RuntimeDir = daemon.RuntimeDir(c.AppID)
	} else {
		c.RuntimeDir = ExpandPath(c.RuntimeDir)
	}
	if c.CacheDir == "" {
		c.CacheDir = GetCacheDir()
	} else {
		c.CacheDir = ExpandPath(c.CacheDir)
	}
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	for _, id := range KnownProviders() {
		p := c.Providers[id]
		d := defaults[id]
		if p.Name == "" {
			p.Name = d.name
		}
		if p.Description == "" {
			p.Description = d.description
		}
		if p.Icon == "" {
			p.Icon = d.icon
		}
		if p.Address == "" {
			p.Address = d.address
		}
		if p.Executable == "" {
			p.Executable = DefaultExecutable
		}
		if len(p.Args) == 0 {
			p.Args = []string{id}
		}
		if id == ProviderLocal {
			if p.DBPath == "" {
				p.DBPath = filepath.Join(GetDataDir(), "tasks.db")
			}
			p.DBPath = ExpandPath(p.DBPath)
		}
		c.Providers[id] = p
	}
}

// envKey returns DONE_<ID>_<NAME>.
func envKey(id, name string) string {
	return "DONE_" + strings.ToUpper(id) + "_" + name
}

func (c *Config) applyEnv() {
	for id, p := range c.Providers {
		if v := os.Getenv(envKey(id, "CLIENT_ID")); v != "" {
			p.ClientID = v
		}
		if v := os.Getenv(envKey(id, "CLIENT_SECRET")); v != "" {
			p.ClientSecret = v
		}
		if v := os.Getenv(envKey(id, "ADDRESS")); v != "" {
			p.Address = v
		}
		c.Providers[id] = p
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error
	for id, p := range c.Providers {
		if !slices.Contains(KnownProviders(), id) {
			errs = append(errs, fmt.Errorf("unknown provider: %q", id))
			continue
		}
		host, port, err := net.SplitHostPort(p.Address)
		if err != nil || port == "" {
			errs = append(errs, fmt.Errorf("invalid address for provider %s: %q", id, p.Address))
		} else if host == "" {
			errs = append(errs, fmt.Errorf("provider %s must listen on a loopback host, got %q", id, p.Address))
		}
	}
	if c.StartTimeout != "" {
		d, err := time.ParseDuration(c.StartTimeout)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("invalid duration for start_timeout: %q", c.StartTimeout))
		}
	}
	if c.CacheTTL != "" {
		d, err := time.ParseDuration(c.CacheTTL)
		if err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("invalid duration for cache_ttl: %q", c.CacheTTL))
		}
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			errs = append(errs, fmt.Errorf("invalid metrics_addr: %q", c.MetricsAddr))
		}
	}
	if nc := c.Providers[ProviderNextcloud]; nc.IsEnabled() && nc.URL != "" && !strings.HasPrefix(nc.URL, "http") {
		errs = append(errs, fmt.Errorf("invalid nextcloud url: %q", nc.URL))
	}
	return errors.Join(errs...)
}

// Provider returns the settings of provider id.
func (c *Config) Provider(id string) (ProviderConfig, bool) {
	p, ok := c.Providers[id]
	return p, ok
}

// GetStartTimeout returns start_timeout, or DefaultStartTimeout when unset or invalid.
func (c *Config) GetStartTimeout() time.Duration {
	d, err := time.ParseDuration(c.StartTimeout)
	if err != nil || d <= 0 {
		return DefaultStartTimeout
	}
	return d
}

// GetCacheTTL returns cache_ttl, or DefaultCacheTTL when unset or invalid.
// Zero disables the list cache.
func (c *Config) GetCacheTTL() time.Duration {
	if c.CacheTTL == "" {
		return DefaultCacheTTL
	}
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil || d < 0 {
		return DefaultCacheTTL
	}
	return d
}

// IsBackgroundLoggingEnabled returns true if background logging is enabled.
// Returns true (default) if not configured.
func (c *Config) IsBackgroundLoggingEnabled() bool {
	if c.Logging.BackgroundEnabled == nil {
		return true // Default: enabled
	}
	return *c.Logging.BackgroundEnabled
}

// Identities returns the descriptors of the enabled providers, in display order.
func (c *Config) Identities() []registry.Identity {
	var out []registry.Identity
	for _, id := range KnownProviders() {
		p, ok := c.Providers[id]
		if !ok || !p.IsEnabled() {
			continue
		}
		out = append(out, registry.Identity{
			ID:           id,
			Name:         p.Name,
			Description:  p.Description,
			Icon:         p.Icon,
			Address:      p.Address,
			Executable:   p.Executable,
			Args:         slices.Clone(p.Args),
			RequiresAuth: defaults[id].requiresAuth,
		})
	}
	return out
}

// getXDGDir returns a directory path following the XDG base directory layout.
// envVar is the XDG environment variable (e.g., "XDG_CONFIG_HOME").
// fallbackPath is the relative path from home (e.g., ".config").
// OAuth returns the OAuth client of a provider that requires authorization.
func (c *Config) OAuth(id string) (auth.Config, error) {
	p := c.Providers[id]
	var cfg auth.Config
	switch id {
	case ProviderMicrosoft:
		cfg = auth.MicrosoftConfig(p.ClientID, p.Tenant, p.RedirectURL)
	case ProviderGoogle:
		cfg = auth.GoogleConfig(p.ClientID, p.ClientSecret, p.RedirectURL)
	default:
		return auth.Config{}, fmt.Errorf("provider %s does not use OAuth", id)
	}
	if p.ClientID == "" {
		return auth.Config{}, fmt.Errorf("providers.%s.client_id is not set (or export %s)", id, envKey(id, "CLIENT_ID"))
	}
	cfg.AppID = c.AppID
	return cfg, nil
}

// KeyringPath is the file keyring used when no OS keyring is running.
func (c *Config) KeyringPath() string {
	return filepath.Join(GetDataDir(), "keyring.db")
}

func getXDGDir(envVar, fallbackPath string) string {
	if xdgDir := os.Getenv(envVar); xdgDir != "" {
		return filepath.Join(xdgDir, "done")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", fallbackPath, "done")
	}
	return filepath.Join(home, fallbackPath, "done")
}

// GetConfigDir returns the configuration directory following the XDG base directory layout.
func GetConfigDir() string {
	return getXDGDir("XDG_CONFIG_HOME", ".config")
}

// GetDataDir returns the data directory following the XDG base directory layout.
func GetDataDir() string {
	return getXDGDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// GetCacheDir returns the cache directory following the XDG base directory layout.
func GetCacheDir() string {
	return getXDGDir("XDG_CACHE_HOME", ".cache")
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	// Expand ~ to home directory
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return os.ExpandEnv(path)
}
