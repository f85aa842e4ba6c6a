// Package config provides configuration structures and loading logic for the
// streamguard service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/polisai/streamguard/pkg/policy"
	"github.com/polisai/streamguard/pkg/policy/dlp"
	"gopkg.in/yaml.v3"
)

const (
	defaultAddress     = ":8090"
	defaultMetricsPath = "/metrics"
	defaultSessionTTL  = 15 * time.Minute
	defaultMaxChunk    = 4 << 20
	defaultEntrypoint  = "streamguard/decision"
)

// Config holds the global configuration for the service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	Policy    PolicyConfig    `yaml:"policy"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Address        string        `yaml:"address"`
	MetricsPath    string        `yaml:"metrics_path"`
	MaxConnections int           `yaml:"max_connections"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	MaxChunkBytes  int64         `yaml:"max_chunk_bytes"`
	TLS            TLSConfig     `yaml:"tls"`
	RateLimit      RateLimit     `yaml:"rate_limit"`
}

// RateLimit bounds the request rate of each client address. Zero disables it.
type RateLimit struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	Burst             int `yaml:"burst"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
	Environment  string `yaml:"environment"`
}

// AnalyzerConfig holds the analyzer profiles and streaming parameters.
type AnalyzerConfig struct {
	ChunkSize      int                `yaml:"chunk_size"`
	DefaultProfile string             `yaml:"default_profile"`
	Profiles       map[string]Profile `yaml:"profiles"`
}

// Profile overrides fields of the builtin analyzer configuration. Fields that
// are left out keep their default values.
type Profile struct {
	Stopwords        *[]string `yaml:"stopwords"`
	EntropyThreshold *float64  `yaml:"entropy_threshold"`
	RiskThreshold    *float64  `yaml:"risk_threshold"`
	MaxWords         *int      `yaml:"max_words"`
	BannedPhrases    *[]string `yaml:"banned_phrases"`
}

// PolicyConfig configures the optional Rego decision policy.
type PolicyConfig struct {
	Module      string `yaml:"module"`
	Entrypoint  string `yaml:"entrypoint"`
	FailureMode string `yaml:"failure_mode"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:     defaultAddress,
			MetricsPath: defaultMetricsPath,
			SessionTTL:  defaultSessionTTL,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "streamguard",
		},
		Analyzer: AnalyzerConfig{
			DefaultProfile: dlp.DefaultProfile,
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("STREAMGUARD_ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("STREAMGUARD_MAX_CONNECTIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Server.MaxConnections = n
		}
	}
	if val := os.Getenv("STREAMGUARD_SESSION_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.SessionTTL = d
		}
	}

	if val := os.Getenv("STREAMGUARD_RATE_LIMIT_RPS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Server.RateLimit.RequestsPerSecond = n
		}
	}

	if val := os.Getenv("STREAMGUARD_TLS_CERT_FILE"); val != "" {
		cfg.Server.TLS.Enabled = true
		cfg.Server.TLS.CertFile = val
	}
	if val := os.Getenv("STREAMGUARD_TLS_KEY_FILE"); val != "" {
		cfg.Server.TLS.KeyFile = val
	}

	if val := os.Getenv("STREAMGUARD_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("STREAMGUARD_LOG_PRETTY"); val == "true" {
		cfg.Logging.Pretty = true
	}

	if val := os.Getenv("STREAMGUARD_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("STREAMGUARD_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("STREAMGUARD_CHUNK_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Analyzer.ChunkSize = n
		}
	}
	if val := os.Getenv("STREAMGUARD_DEFAULT_PROFILE"); val != "" {
		cfg.Analyzer.DefaultProfile = val
	}

	if val := os.Getenv("STREAMGUARD_POLICY_MODULE"); val != "" {
		cfg.Policy.Module = val
	}
}

// Validate performs validation of the entire configuration and fills in
// defaults for omitted values.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	if err := c.Analyzer.Validate(); err != nil {
		return fmt.Errorf("analyzer configuration: %w", err)
	}

	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy configuration: %w", err)
	}

	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		c.Telemetry.ServiceName = "streamguard"
	}

	return nil
}

// Validate performs validation of server configuration
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		c.Address = defaultAddress
	}
	if strings.TrimSpace(c.MetricsPath) == "" {
		c.MetricsPath = defaultMetricsPath
	}
	if !strings.HasPrefix(c.MetricsPath, "/") {
		return fmt.Errorf("metrics_path %q must start with /", c.MetricsPath)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max_connections must be >= 0, got %d", c.MaxConnections)
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("session_ttl must be >= 0, got %s", c.SessionTTL)
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = defaultSessionTTL
	}
	if c.MaxChunkBytes < 0 {
		return fmt.Errorf("max_chunk_bytes must be >= 0, got %d", c.MaxChunkBytes)
	}
	if c.MaxChunkBytes == 0 {
		c.MaxChunkBytes = defaultMaxChunk
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must be >= 0, got %d rps burst %d",
			c.RateLimit.RequestsPerSecond, c.RateLimit.Burst)
	}
	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
}

// Validate checks every profile and the default profile reference.
func (c *AnalyzerConfig) Validate() error {
	if c.ChunkSize < 0 {
		return fmt.Errorf("chunk_size must be >= 0, got %d", c.ChunkSize)
	}

	if _, err := c.ProfileConfigs(); err != nil {
		return err
	}

	name := strings.ToLower(strings.TrimSpace(c.DefaultProfile))
	if name == "" {
		name = dlp.DefaultProfile
	}
	c.DefaultProfile = name
	if name == dlp.DefaultProfile {
		return nil
	}
	for profile := range c.Profiles {
		if strings.ToLower(strings.TrimSpace(profile)) == name {
			return nil
		}
	}
	return fmt.Errorf("default_profile %q is not defined", c.DefaultProfile)
}

// ProfileConfigs resolves every profile against the builtin defaults.
func (c *AnalyzerConfig) ProfileConfigs() (map[string]dlp.Config, error) {
	out := make(map[string]dlp.Config, len(c.Profiles))
	for name, p := range c.Profiles {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("profile name is required")
		}
		cfg := p.Resolve(dlp.DefaultConfig())
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("profile %s: %w", name, err)
		}
		out[name] = cfg
	}
	return out, nil
}

// Resolve applies the overrides in p to base.
func (p Profile) Resolve(base dlp.Config) dlp.Config {
	if p.Stopwords != nil {
		base.Stopwords = append([]string(nil), (*p.Stopwords)...)
	}
	if p.EntropyThreshold != nil {
		base.EntropyThreshold = *p.EntropyThreshold
	}
	if p.RiskThreshold != nil {
		base.RiskThreshold = *p.RiskThreshold
	}
	if p.MaxWords != nil {
		base.MaxWords = *p.MaxWords
	}
	if p.BannedPhrases != nil {
		base.BannedPhrases = append([]string(nil), (*p.BannedPhrases)...)
	}
	return base
}

// Validate performs validation of the policy configuration
func (c *PolicyConfig) Validate() error {
	if strings.TrimSpace(c.Entrypoint) == "" {
		c.Entrypoint = defaultEntrypoint
	}
	if strings.TrimSpace(c.FailureMode) == "" {
		c.FailureMode = string(policy.ModeFailOpen)
	}
	mode, err := policy.ParseMode(c.FailureMode)
	if err != nil {
		return fmt.Errorf("failure_mode: %w", err)
	}
	c.FailureMode = string(mode)
	return nil
}

// Enabled reports whether a Rego module is configured.
func (c PolicyConfig) Enabled() bool {
	return strings.TrimSpace(c.Module) != ""
}
