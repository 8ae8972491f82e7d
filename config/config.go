/*
config.go - Server configuration

PURPOSE:
  Loads the server settings from defaults, an optional config file, the
  environment and command-line flags, in that order of precedence (flags
  win).

KEYS:
  port             HTTP server port (default: 8080)
  db_path          SQLite database path (default: assortment.db)
                   Use ":memory:" for an in-memory database
  backend_url      Remote inventory backend; when set, the SQLite store is
                   not opened and all backend calls go over HTTP
  backend_timeout  Timeout for each remote backend call (default: 10s)
  log_level        trace|debug|info|warn|error (default: info)
  log_format       text|json (default: text)
  session_ttl      Idle time before a session is evicted (default: 2h)
  reap_interval    How often idle sessions are looked for (default: 1m)
  allowed_origins  CORS origins, comma separated in the environment
  seed_demo        Load demo warehouses, GRNs and packets (default: false)

ENVIRONMENT:
  Every key can be set as ASSORT_<KEY>, e.g. ASSORT_DB_PATH.

FLAGS:
  -port, -db, -backend-url, -config <file>

SEE ALSO:
  - logrus.go: Logger construction
  - cmd/server/main.go: The only caller
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const EnvPrefix = "ASSORT"

// Config holds the server settings.
type Config struct {
	Port           int           `mapstructure:"port" validate:"min=1,max=65535"`
	DBPath         string        `mapstructure:"db_path"`
	BackendURL     string        `mapstructure:"backend_url" validate:"omitempty,url"`
	BackendTimeout time.Duration `mapstructure:"backend_timeout" validate:"required"`
	LogLevel       string        `mapstructure:"log_level" validate:"oneof=trace debug info warn warning error"`
	LogFormat      string        `mapstructure:"log_format" validate:"oneof=text json"`
	SessionTTL     time.Duration `mapstructure:"session_ttl" validate:"required"`
	ReapInterval   time.Duration `mapstructure:"reap_interval" validate:"required"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	SeedDemo       bool          `mapstructure:"seed_demo"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("db_path", "assortment.db")
	v.SetDefault("backend_url", "")
	v.SetDefault("backend_timeout", 10*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("session_ttl", 2*time.Hour)
	v.SetDefault("reap_interval", time.Minute)
	v.SetDefault("allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("seed_demo", false)
}

// Load parses args (without the program name) and builds the configuration.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	port := fs.Int("port", 8080, "HTTP server port")
	dbPath := fs.String("db", "assortment.db", "SQLite database path")
	backendURL := fs.String("backend-url", "", "Remote inventory backend base URL")
	configFile := fs.String("config", "", "Config file (yaml, toml or json)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Only flags given explicitly override the other sources
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			v.Set("port", *port)
		case "db":
			v.Set("db_path", *dbPath)
		case "backend-url":
			v.Set("backend_url", *backendURL)
		}
	})

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// Remote reports whether a remote backend is configured.
func (c *Config) Remote() bool {
	return c.BackendURL != ""
}
