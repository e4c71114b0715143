// Package config loads and validates console configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Backend       BackendConfig       `yaml:"backend"`
	Session       SessionConfig       `yaml:"session"`
	Capability    CapabilityConfig    `yaml:"capability"`
	Definitions   DefinitionsConfig   `yaml:"definitions"`
	Specs         SpecsConfig         `yaml:"specs"`
	Lookup        LookupCacheConfig   `yaml:"lookup"`
	Workspace     WorkspaceConfig     `yaml:"workspace"`
	Engine        EngineConfig        `yaml:"engine"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// BackendConfig describes the REST backend the console drives.
type BackendConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	LoginPath   string        `yaml:"login_path"`
	LogoutPath  string        `yaml:"logout_path"`
	RefreshPath string        `yaml:"refresh_path"`
	ProfilePath string        `yaml:"profile_path"`
	RolesPath   string        `yaml:"roles_path"`

	ChangePasswordPath string `yaml:"change_password_path"`
	ForgotPasswordPath string `yaml:"forgot_password_path"`
	VerifyOTPPath      string `yaml:"verify_otp_path"`
	ResetPasswordPath  string `yaml:"reset_password_path"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig describes the backend circuit breaker. A zero
// failure_threshold disables it.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

// SessionConfig describes where console session tokens live.
type SessionConfig struct {
	CookieName  string             `yaml:"cookie_name"`
	HeaderName  string             `yaml:"header_name"`
	TTL         time.Duration      `yaml:"ttl"`
	RememberTTL time.Duration      `yaml:"remember_ttl"`
	Store       SessionStoreConfig `yaml:"store"`
}

// SessionStoreConfig describes the persistent token tier.
type SessionStoreConfig struct {
	Driver    string `yaml:"driver"`
	AddrEnv   string `yaml:"addr_env"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// CapabilityConfig describes permission resolution settings.
type CapabilityConfig struct {
	Evaluator        string      `yaml:"evaluator"`
	StaticPolicyFile string      `yaml:"static_policy_file"`
	SuperuserRoles   []string    `yaml:"superuser_roles"`
	Cache            CacheConfig `yaml:"cache"`
}

// CacheConfig describes cache settings.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// DefinitionsConfig describes where to find page definition YAML files.
type DefinitionsConfig struct {
	Directories []string `yaml:"directories"`
}

// SpecsConfig points at an optional OpenAPI document of the backend. When
// set, page endpoints are checked against it at startup.
type SpecsConfig struct {
	File       string `yaml:"file"`
	PathPrefix string `yaml:"path_prefix"`
}

// LookupCacheConfig describes select-option lookup cache settings.
type LookupCacheConfig struct {
	Cache CacheConfig `yaml:"cache"`
}

// WorkspaceConfig describes per-session engine retention.
type WorkspaceConfig struct {
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// EngineConfig holds defaults applied to every form/list engine.
type EngineConfig struct {
	RowsPerPage          int `yaml:"rows_per_page"`
	CharLimit            int `yaml:"char_limit"`
	MaxConcurrentCreates int `yaml:"max_concurrent_creates"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Console-Session", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Backend: BackendConfig{
			BaseURL:     "http://localhost:8000",
			Timeout:     15 * time.Second,
			LoginPath:   "/auth/login/",
			LogoutPath:  "/auth/logout/",
			RefreshPath: "/token/refresh/",
			ProfilePath: "/auth/profile/",
			RolesPath:   "/auth/roles/",

			ChangePasswordPath: "/auth/change-password/",
			ForgotPasswordPath: "/auth/forgot-password/",
			VerifyOTPPath:      "/auth/otp-verification/",
			ResetPasswordPath:  "/auth/reset-password/",

			Breaker: BreakerConfig{
				SuccessThreshold: 2,
				OpenTimeout:      30 * time.Second,
			},
		},
		Session: SessionConfig{
			CookieName:  "kwa_session",
			HeaderName:  "X-Console-Session",
			TTL:         12 * time.Hour,
			RememberTTL: 30 * 24 * time.Hour,
			Store: SessionStoreConfig{
				Driver:    "memory",
				AddrEnv:   "KWA_REDIS_ADDR",
				KeyPrefix: "kwa:session:",
			},
		},
		Capability: CapabilityConfig{
			Evaluator:      "backend",
			SuperuserRoles: []string{"Superadmin"},
			Cache: CacheConfig{
				TTL:        5 * time.Minute,
				MaxEntries: 10000,
			},
		},
		Definitions: DefinitionsConfig{
			Directories: []string{"definitions"},
		},
		Lookup: LookupCacheConfig{
			Cache: CacheConfig{
				TTL:        5 * time.Minute,
				MaxEntries: 1000,
			},
		},
		Workspace: WorkspaceConfig{
			IdleTTL:       30 * time.Minute,
			SweepInterval: time.Minute,
		},
		Engine: EngineConfig{
			RowsPerPage:          4,
			CharLimit:            50,
			MaxConcurrentCreates: 8,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Backend.BaseURL == "" {
		errs = append(errs, "backend.base_url is required")
	}
	if c.Backend.RefreshPath == "" {
		errs = append(errs, "backend.refresh_path is required")
	}
	switch c.Session.Store.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("session.store.driver %q must be memory or redis", c.Session.Store.Driver))
	}
	switch c.Capability.Evaluator {
	case "backend":
	case "static":
		if c.Capability.StaticPolicyFile == "" {
			errs = append(errs, "capability.static_policy_file is required for the static evaluator")
		}
	default:
		errs = append(errs, fmt.Sprintf("capability.evaluator %q must be backend or static", c.Capability.Evaluator))
	}
	if c.Engine.RowsPerPage < 1 {
		errs = append(errs, "engine.rows_per_page must be positive")
	}
	if c.Engine.CharLimit < 1 {
		errs = append(errs, "engine.char_limit must be positive")
	}
	if len(c.Definitions.Directories) == 0 {
		errs = append(errs, "definitions.directories must list at least one directory")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads KWA_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KWA_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KWA_BACKEND_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("KWA_SESSION_STORE_DRIVER"); v != "" {
		cfg.Session.Store.Driver = v
	}
	if v := os.Getenv("KWA_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("KWA_CAPABILITY_EVALUATOR"); v != "" {
		cfg.Capability.Evaluator = v
	}
	if v := os.Getenv("KWA_SPECS_FILE"); v != "" {
		cfg.Specs.File = v
	}
}
