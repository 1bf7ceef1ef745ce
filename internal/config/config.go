package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "REQUEST_AUTHORIZER"

type Config struct {
	Server struct {
		Addr         string        `mapstructure:"addr"`
		Mode         string        `mapstructure:"mode"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"server"`

	Redis struct {
		URL      string `mapstructure:"url"`
		PoolSize int    `mapstructure:"pool_size"`
	} `mapstructure:"redis"`

	Auth struct {
		Issuer            string   `mapstructure:"issuer"`
		Audience          string   `mapstructure:"audience"`
		AllowedAlgorithms []string `mapstructure:"allowed_algorithms"`
		AdminGroup        string   `mapstructure:"admin_group"`
		GroupsClaim       string   `mapstructure:"groups_claim"`
		JWKS              struct {
			URL                string        `mapstructure:"url"`
			CacheTTL           time.Duration `mapstructure:"cache_ttl"`
			FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
			MinRefreshInterval time.Duration `mapstructure:"min_refresh_interval"`
			RetryCount         int           `mapstructure:"retry_count"`
		} `mapstructure:"jwks"`
		Resource struct {
			CollectionPath string `mapstructure:"collection_path"`
		} `mapstructure:"resource"`
		HeaderKeys struct {
			PrincipalID string `mapstructure:"principal_id"`
			Role        string `mapstructure:"role"`
		} `mapstructure:"header_keys"`
	} `mapstructure:"auth"`

	Observability struct {
		MetricsEnabled     bool    `mapstructure:"metrics_enabled"`
		TraceEnabled       bool    `mapstructure:"trace_enabled"`
		TracingEndpointURL string  `mapstructure:"tracing_endpoint_url"`
		SampleRatio        float64 `mapstructure:"sample_ratio"`
		LogLevel           string  `mapstructure:"log_level"`
		Format             string  `mapstructure:"log_format"`
		LogSource          bool    `mapstructure:"log_source"`
	} `mapstructure:"observability"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("auth.allowed_algorithms", []string{"RS256"})
	v.SetDefault("auth.admin_group", "admin")
	v.SetDefault("auth.groups_claim", "cognito:groups")
	v.SetDefault("auth.jwks.cache_ttl", 10*time.Minute)
	v.SetDefault("auth.jwks.fetch_timeout", 5*time.Second)
	v.SetDefault("auth.jwks.min_refresh_interval", 30*time.Second)
	v.SetDefault("auth.jwks.retry_count", 1)
	v.SetDefault("auth.resource.collection_path", "/users")
	v.SetDefault("auth.header_keys.principal_id", "X-Auth-Principal-Id")
	v.SetDefault("auth.header_keys.role", "X-Auth-Role")

	v.SetDefault("observability.sample_ratio", 1.0)
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
}

// Load reads config.yaml from the given directories (./config and . when none
// are given), overlays config.$APP_ENV.yaml and REQUEST_AUTHORIZER_* env vars.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		slog.Default().Info("No config file found, using defaults and environment")
	}

	if env := os.Getenv("APP_ENV"); env != "" {
		v.SetConfigName(fmt.Sprintf("config.%s", env))
		if err := v.MergeInConfig(); err != nil {
			slog.Default().Info("No environment-specific config (optional)", slog.String("env", env))
		} else {
			slog.Default().Info("Environment-specific config loaded", slog.String("env", env))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		slog.Default().Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	return cfg
}

// Validate rejects configurations the authorizer cannot run safely with.
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.Issuer == "" {
		errs = append(errs, errors.New("auth.issuer is required"))
	}
	if c.Auth.Audience == "" {
		errs = append(errs, errors.New("auth.audience is required"))
	}
	if c.Auth.JWKS.URL == "" {
		errs = append(errs, errors.New("auth.jwks.url is required"))
	}
	if c.Auth.JWKS.CacheTTL <= 0 {
		errs = append(errs, errors.New("auth.jwks.cache_ttl must be positive"))
	}
	if c.Auth.JWKS.FetchTimeout <= 0 {
		errs = append(errs, errors.New("auth.jwks.fetch_timeout must be positive"))
	}
	if c.Auth.JWKS.MinRefreshInterval < 0 {
		errs = append(errs, errors.New("auth.jwks.min_refresh_interval must not be negative"))
	}
	if len(c.Auth.AllowedAlgorithms) == 0 {
		errs = append(errs, errors.New("auth.allowed_algorithms must not be empty"))
	}
	for _, alg := range c.Auth.AllowedAlgorithms {
		if strings.EqualFold(alg, "none") {
			errs = append(errs, errors.New(`auth.allowed_algorithms must not contain "none"`))
		}
	}
	if c.Auth.AdminGroup == "" {
		errs = append(errs, errors.New("auth.admin_group is required"))
	}
	if !strings.HasPrefix(c.Auth.Resource.CollectionPath, "/") {
		errs = append(errs, errors.New("auth.resource.collection_path must start with /"))
	}

	return errors.Join(errs...)
}
