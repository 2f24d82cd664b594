package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Identity lock backends.
const (
	IdentityLockNone  = "none"
	IdentityLockRedis = "redis"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// OpenHIM
	Standalone  bool   `mapstructure:"STANDALONE"`
	MediatorURN string `mapstructure:"MEDIATOR_URN"`

	FHIRServer             string `mapstructure:"FHIR_SERVER"`
	MatchboxServer         string `mapstructure:"MATCHBOX_SERVER"`
	DDCCCanonicalBase      string `mapstructure:"DDCC_CANONICAL_BASE"`
	DVCCanonicalBase       string `mapstructure:"DVC_CANONICAL_BASE"`
	FolderIdentifierSystem string `mapstructure:"FOLDER_IDENTIFIER_SYSTEM"`
	DDCCIdentifierSystem   string `mapstructure:"DDCC_IDENTIFIER_SYSTEM"`

	PrivateKeyFile string `mapstructure:"PRIVATE_KEY_FILE"`
	PublicKeyFile  string `mapstructure:"PUBLIC_KEY_FILE"`
	SHCIssuer      string `mapstructure:"SHC_ISSUER"`
	CountryCode    string `mapstructure:"COUNTRY_CODE"`

	RepositoryTimeout  time.Duration `mapstructure:"REPOSITORY_TIMEOUT"`
	TransformTimeout   time.Duration `mapstructure:"TRANSFORM_TIMEOUT"`
	RequestTimeout     time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	CleanupConcurrency int           `mapstructure:"CLEANUP_CONCURRENCY"`
	WaitForFHIR        bool          `mapstructure:"WAIT_FOR_FHIR"`

	IdentityLock    string        `mapstructure:"IDENTITY_LOCK"`
	RedisURL        string        `mapstructure:"REDIS_URL"`
	IdentityLockTTL time.Duration `mapstructure:"IDENTITY_LOCK_TTL"`

	OtelEnabled      bool    `mapstructure:"OTEL_ENABLED"`
	OtelEndpoint     string  `mapstructure:"OTEL_ENDPOINT"`
	OtelServiceName  string  `mapstructure:"OTEL_SERVICE_NAME"`
	OtelSamplingRate float64 `mapstructure:"OTEL_SAMPLING_RATE"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string   `mapstructure:"BODY_LIMIT"`
	BatchBodyLimit string   `mapstructure:"BATCH_BODY_LIMIT"`
}

var defaults = map[string]interface{}{
	"PORT":                     "4321",
	"ENV":                      "development",
	"LOG_LEVEL":                "info",
	"STANDALONE":               true,
	"MEDIATOR_URN":             "urn:mediator:ddcc",
	"FHIR_SERVER":              "http://localhost:8080/fhir/",
	"MATCHBOX_SERVER":          "http://localhost:8080/matchboxv3/fhir/",
	"DDCC_CANONICAL_BASE":      "http://worldhealthorganization.github.io/ddcc/",
	"DVC_CANONICAL_BASE":       "http://smart.who.int/icvp/",
	"FOLDER_IDENTIFIER_SYSTEM": "http://worldhealthorganization.github.io/ddcc/folder",
	"DDCC_IDENTIFIER_SYSTEM":   "http://worldhealthorganization.github.io/ddcc/Document",
	"PRIVATE_KEY_FILE":         "/secrets/priv.pem",
	"PUBLIC_KEY_FILE":          "/secrets/cert.pem",
	"SHC_ISSUER":               "http://localhost:4321/ddcc/shc_issuer",
	"COUNTRY_CODE":             "XX",
	"REPOSITORY_TIMEOUT":       "30s",
	"TRANSFORM_TIMEOUT":        "30s",
	"REQUEST_TIMEOUT":          "120s",
	"CLEANUP_CONCURRENCY":      3,
	"WAIT_FOR_FHIR":            false,
	"IDENTITY_LOCK":            IdentityLockNone,
	"REDIS_URL":                "",
	"IDENTITY_LOCK_TTL":        "60s",
	"OTEL_ENABLED":             false,
	"OTEL_ENDPOINT":            "localhost:4317",
	"OTEL_SERVICE_NAME":        "ddcc-mediator",
	"OTEL_SAMPLING_RATE":       1.0,
	"CORS_ORIGINS":             "*",
	"RATE_LIMIT_RPS":           20,
	"RATE_LIMIT_BURST":         40,
	"BODY_LIMIT":               "2M",
	"BATCH_BODY_LIMIT":         "20M",
}

// Load reads configuration from the environment, falling back to an optional
// .env file and then to defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Bind env vars explicitly so Unmarshal picks them up
	for key, value := range defaults {
		v.SetDefault(key, value)
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	cfg.FHIRServer = withSlash(cfg.FHIRServer)
	cfg.MatchboxServer = withSlash(cfg.MatchboxServer)
	cfg.DDCCCanonicalBase = withSlash(cfg.DDCCCanonicalBase)
	cfg.DVCCanonicalBase = withSlash(cfg.DVCCanonicalBase)

	return cfg, nil
}

func withSlash(s string) string {
	if s == "" || strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is usable before the server starts.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"FHIR_SERVER":     c.FHIRServer,
		"MATCHBOX_SERVER": c.MatchboxServer,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}

	if c.DDCCIdentifierSystem == "" || c.FolderIdentifierSystem == "" {
		return fmt.Errorf("DDCC_IDENTIFIER_SYSTEM and FOLDER_IDENTIFIER_SYSTEM are required")
	}

	if !c.Standalone && c.MediatorURN == "" {
		return fmt.Errorf("MEDIATOR_URN is required when STANDALONE is false")
	}

	if c.RepositoryTimeout <= 0 || c.TransformTimeout <= 0 || c.RequestTimeout <= 0 {
		return fmt.Errorf("REPOSITORY_TIMEOUT, TRANSFORM_TIMEOUT and REQUEST_TIMEOUT must be positive")
	}

	if c.CleanupConcurrency < 1 {
		return fmt.Errorf("CLEANUP_CONCURRENCY must be at least 1, got %d", c.CleanupConcurrency)
	}

	switch c.IdentityLock {
	case IdentityLockNone:
	case IdentityLockRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when IDENTITY_LOCK is %q", IdentityLockRedis)
		}
		if c.IdentityLockTTL <= 0 {
			return fmt.Errorf("IDENTITY_LOCK_TTL must be positive")
		}
	default:
		return fmt.Errorf("IDENTITY_LOCK must be %q or %q, got %q", IdentityLockNone, IdentityLockRedis, c.IdentityLock)
	}

	if c.OtelSamplingRate < 0 || c.OtelSamplingRate > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATE must be between 0 and 1, got %v", c.OtelSamplingRate)
	}

	return nil
}
