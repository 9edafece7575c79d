package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Source        SourceConfig
	ObjectStore   ObjectStoreConfig
	AI            AIConfig
	Dashboard     DashboardConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type SourceConfig struct {
	MaxUploadBytes int64
	PreviewRows    int
	ConnectTimeout time.Duration
	ProbeTimeout   time.Duration
}

type ObjectStoreConfig struct {
	Enabled         bool
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string
}

type AIConfig struct {
	Enabled        bool
	BaseURL        string
	APIKey         string
	Model          string
	Temperature    float64
	Timeout        time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	ResultRowLimit int
	SampleRows     int
}

type DashboardConfig struct {
	Title    string
	EmbedURL string
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("TABLECHAT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid TABLECHAT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	for _, b := range bindings(&cfg) {
		raw, ok := lookup(b.key)
		if !ok {
			continue
		}
		if err := b.apply(strings.TrimSpace(raw)); err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", b.key, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type binding struct {
	key   string
	apply func(raw string) error
}

func bind[T any](key string, dst *T, parse func(string) (T, error)) binding {
	return binding{key: key, apply: func(raw string) error {
		value, err := parse(raw)
		if err != nil {
			return err
		}
		*dst = value
		return nil
	}}
}

func bindings(cfg *Config) []binding {
	return []binding{
		bind("TABLECHAT_SERVICE_NAME", &cfg.Service.Name, parseString),
		bind("TABLECHAT_HTTP_ADDR", &cfg.HTTP.Address, parseString),
		bind("TABLECHAT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout, time.ParseDuration),
		bind("TABLECHAT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout, time.ParseDuration),
		bind("TABLECHAT_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout, time.ParseDuration),

		bind("TABLECHAT_SOURCE_MAX_UPLOAD_BYTES", &cfg.Source.MaxUploadBytes, parseInt64),
		bind("TABLECHAT_SOURCE_PREVIEW_ROWS", &cfg.Source.PreviewRows, strconv.Atoi),
		bind("TABLECHAT_SOURCE_CONNECT_TIMEOUT", &cfg.Source.ConnectTimeout, time.ParseDuration),
		bind("TABLECHAT_SOURCE_PROBE_TIMEOUT", &cfg.Source.ProbeTimeout, time.ParseDuration),

		bind("TABLECHAT_OBJECTSTORE_ENABLED", &cfg.ObjectStore.Enabled, strconv.ParseBool),
		bind("TABLECHAT_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint, parseString),
		bind("TABLECHAT_OBJECTSTORE_REGION", &cfg.ObjectStore.Region, parseString),
		bind("TABLECHAT_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket, parseString),
		bind("TABLECHAT_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID, parseString),
		bind("TABLECHAT_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey, parseString),
		bind("TABLECHAT_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL, strconv.ParseBool),
		bind("TABLECHAT_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix, parseString),

		bind("TABLECHAT_AI_ENABLED", &cfg.AI.Enabled, strconv.ParseBool),
		bind("TABLECHAT_AI_BASE_URL", &cfg.AI.BaseURL, parseString),
		bind("TABLECHAT_AI_API_KEY", &cfg.AI.APIKey, parseString),
		bind("TABLECHAT_AI_MODEL", &cfg.AI.Model, parseString),
		bind("TABLECHAT_AI_TEMPERATURE", &cfg.AI.Temperature, parseFloat),
		bind("TABLECHAT_AI_TIMEOUT", &cfg.AI.Timeout, time.ParseDuration),
		bind("TABLECHAT_AI_MAX_RETRIES", &cfg.AI.MaxRetries, strconv.Atoi),
		bind("TABLECHAT_AI_RETRY_DELAY", &cfg.AI.RetryDelay, time.ParseDuration),
		bind("TABLECHAT_AI_RESULT_ROW_LIMIT", &cfg.AI.ResultRowLimit, strconv.Atoi),
		bind("TABLECHAT_AI_SAMPLE_ROWS", &cfg.AI.SampleRows, strconv.Atoi),

		bind("TABLECHAT_DASHBOARD_TITLE", &cfg.Dashboard.Title, parseString),
		bind("TABLECHAT_DASHBOARD_EMBED_URL", &cfg.Dashboard.EmbedURL, parseString),

		bind("TABLECHAT_LOG_JSON", &cfg.Observability.LogJSON, strconv.ParseBool),
		bind("TABLECHAT_LOG_LEVEL", &cfg.Observability.LogLevel, parseLogLevel),

		bind("TABLECHAT_AUTH_REQUIRED", &cfg.Auth.Required, strconv.ParseBool),
		bind("TABLECHAT_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys, parseString),
	}
}

func (c Config) validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}
	check(c.Service.Name != "", "service name is required")
	check(c.HTTP.Address != "", "http address is required")
	check(c.Source.MaxUploadBytes > 0, "source max upload bytes must be positive")
	check(c.Source.PreviewRows > 0, "source preview rows must be positive")
	check(c.AI.MaxRetries >= 1, "ai max retries must be at least 1")
	check(c.AI.RetryDelay >= 0, "ai retry delay must not be negative")
	check(c.AI.Temperature >= 0 && c.AI.Temperature <= 2, "ai temperature must be between 0 and 2")
	check(!c.AI.Enabled || c.AI.APIKey != "", "ai api key is required when ai is enabled")
	check(!c.ObjectStore.Enabled || c.ObjectStore.Bucket != "", "object store bucket is required when object store is enabled")
	if c.Dashboard.EmbedURL != "" {
		u, err := url.Parse(c.Dashboard.EmbedURL)
		check(err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "", "dashboard embed url must be an absolute http(s) url")
	}
	return errors.Join(errs...)
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "tablechat-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		Source: SourceConfig{
			MaxUploadBytes: 200 << 20,
			PreviewRows:    20,
			ConnectTimeout: 30 * time.Second,
			ProbeTimeout:   5 * time.Second,
		},
		ObjectStore: ObjectStoreConfig{
			Enabled:         false,
			Endpoint:        "localhost:9000",
			Region:          "us-east-1",
			Bucket:          "tablechat",
			AccessKeyID:     "minio",
			SecretAccessKey: "miniostorage",
			UseSSL:          false,
			Prefix:          "",
		},
		AI: AIConfig{
			Enabled:        false,
			BaseURL:        "https://api.openai.com",
			Model:          "gpt-5",
			Temperature:    0.1,
			Timeout:        60 * time.Second,
			MaxRetries:     2,
			RetryDelay:     2 * time.Second,
			ResultRowLimit: 500,
			SampleRows:     5,
		},
		Dashboard: DashboardConfig{
			Title: "Sales dashboard",
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
		cfg.AI.RetryDelay = 0
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func parseString(raw string) (string, error) {
	return raw, nil
}

func parseInt64(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}

func parseFloat(raw string) (float64, error) {
	return strconv.ParseFloat(raw, 64)
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", raw)
	}
}
