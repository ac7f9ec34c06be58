// Package config loads PulseChat configuration from built-in defaults, an
// optional YAML file, a .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Execution modes.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config is the fully resolved application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Frontend  FrontendConfig  `mapstructure:"frontend"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Session   SessionConfig   `mapstructure:"session"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// Source is the config file that was read, empty when only defaults
	// and the environment were used.
	Source string `mapstructure:"-"`
}

// ServerConfig holds listener settings and the execution mode.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Env          string `mapstructure:"env"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
}

// FrontendConfig controls discovery of the compiled frontend bundle.
type FrontendConfig struct {
	// Candidates is an ordered search list. Empty means the built-in
	// defaults derived from the working directory and executable location.
	Candidates []string `mapstructure:"candidates"`
	// RequireShell only accepts a candidate that contains index.html.
	RequireShell bool `mapstructure:"require_shell"`
	// Diagnostics exposes checked filesystem paths in 404 bodies when no
	// frontend was found. Leave off for public deployments.
	Diagnostics bool `mapstructure:"diagnostics"`
}

// CORSConfig holds the per-mode origin allow-lists.
type CORSConfig struct {
	ProductionOrigins  []string `mapstructure:"production_origins"`
	DevelopmentOrigins []string `mapstructure:"development_origins"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type SessionConfig struct {
	Secret     string `mapstructure:"secret"`
	CookieName string `mapstructure:"cookie_name"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsProduction reports whether the production execution mode is selected.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Env, EnvProduction)
}

// AllowedOrigins returns the CORS allow-list for the current mode.
func (c *Config) AllowedOrigins() []string {
	if c.IsProduction() {
		return c.CORS.ProductionOrigins
	}
	return c.CORS.DevelopmentOrigins
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5001)
	v.SetDefault("server.env", EnvDevelopment)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("frontend.candidates", []string{})
	v.SetDefault("frontend.require_shell", false)
	v.SetDefault("frontend.diagnostics", false)
	v.SetDefault("cors.production_origins", []string{
		"https://pulse-chat-app.onrender.com",
		"https://www.pulse-chat-app.onrender.com",
	})
	v.SetDefault("cors.development_origins", []string{"http://localhost:5173"})
	v.SetDefault("database.path", "./data/pulsechat.db")
	v.SetDefault("session.secret", "")
	v.SetDefault("session.cookie_name", "jwt")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("rate_limit.rps", 50)
	v.SetDefault("rate_limit.burst", 100)
}

// Load reads configuration. configPath may be empty, in which case
// pulsechat.yaml is searched in the usual places and a missing file is
// not an error. A .env file in the working directory is applied to the
// environment first without overriding variables that are already set.
func Load(configPath string) (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pulsechat")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/pulsechat")
	}

	// PULSECHAT_SERVER_PORT=9090, PULSECHAT_FRONTEND_CANDIDATES=a,b
	v.SetEnvPrefix("PULSECHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Plain PORT and NODE_ENV are what hosting platforms set.
	_ = v.BindEnv("server.port", "PULSECHAT_SERVER_PORT", "PORT")
	_ = v.BindEnv("server.env", "PULSECHAT_SERVER_ENV", "NODE_ENV", "APP_ENV")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Source = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late at bind time.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive, got %d", c.Server.MaxBodyBytes)
	}
	if c.Session.CookieName == "" {
		return errors.New("session.cookie_name must not be empty")
	}
	// An empty list would make the CORS layer allow every origin.
	if len(c.AllowedOrigins()) == 0 {
		if c.IsProduction() {
			return errors.New("cors.production_origins must not be empty")
		}
		return errors.New("cors.development_origins must not be empty")
	}
	return nil
}

// LoadDotEnv applies KEY=value pairs from path to the process environment.
// A missing file is ignored; existing variables win.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}
