package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/smart-mcp-proxy/sandboxrt/internal/secureenv"
)

// Duration is a wrapper around time.Duration that can be marshaled to/from JSON.
// When serialized to JSON, it is represented as a string (e.g., "30s", "5m").
type Duration time.Duration

// MarshalJSON implements json.Marshaler interface
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler interface
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration format: %w", err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config is the construction-time configuration for the executor facade and
// all of its collaborators (validator, limiter, permission mapper, bridge,
// capability registry, learning hand-off).
type Config struct {
	DataDir string `json:"data_dir" toml:"data_dir" mapstructure:"data-dir"`

	// Execution deadlines and per-run resource caps. These map directly onto
	// the "Configuration surface (executor construction)" in the spec.
	TimeoutMs     int `json:"timeout_ms" toml:"timeout_ms" mapstructure:"timeout-ms"`
	MemoryLimitMb int `json:"memory_limit_mb" toml:"memory_limit_mb" mapstructure:"memory-limit-mb"`
	RPCTimeoutMs  int `json:"rpc_timeout_ms" toml:"rpc_timeout_ms" mapstructure:"rpc-timeout-ms"`

	// RPCRateLimitPerSec/RPCRateBurst configure the RPC Bridge's
	// per-execution token-bucket throttle on external-tool dispatch
	// (spec §4.7). Zero disables throttling.
	RPCRateLimitPerSec float64 `json:"rpc_rate_limit_per_sec" toml:"rpc_rate_limit_per_sec" mapstructure:"rpc-rate-limit-per-sec"`
	RPCRateBurst       int     `json:"rpc_rate_burst" toml:"rpc_rate_burst" mapstructure:"rpc-rate-burst"`

	// Resource Limiter admission policy.
	MaxConcurrent         int     `json:"max_concurrent" toml:"max_concurrent" mapstructure:"max-concurrent"`
	TotalMemoryCapMb      int     `json:"total_memory_cap_mb" toml:"total_memory_cap_mb" mapstructure:"total-memory-cap-mb"`
	MemoryPressureEnabled bool    `json:"memory_pressure_enabled" toml:"memory_pressure_enabled" mapstructure:"memory-pressure-enabled"`
	MemoryPressurePct     float64 `json:"memory_pressure_pct" toml:"memory_pressure_pct" mapstructure:"memory-pressure-pct"`

	// Subprocess-path result cache (spec: "cache.* subprocess path only").
	Cache *CacheConfig `json:"cache,omitempty" toml:"cache" mapstructure:"cache"`

	// IsolateForBasicRun selects the in-process isolate path by default;
	// false forces the subprocess runner even for permission sets that the
	// isolate could otherwise serve.
	IsolateForBasicRun bool `json:"isolate_for_basic_run" toml:"isolate_for_basic_run" mapstructure:"isolate-for-basic-run"`

	// Security Validator settings.
	Security *SecurityConfig `json:"security,omitempty" toml:"security" mapstructure:"security"`

	// Sensitive-data detection the RPC Bridge applies to tool call
	// arguments/responses before they reach a trace event.
	SensitiveData *SensitiveDataDetectionConfig `json:"sensitive_data,omitempty" toml:"sensitive_data" mapstructure:"sensitive-data"`

	// Capability Registry / Naming defaults.
	Capability *CapabilityConfig `json:"capability,omitempty" toml:"capability" mapstructure:"capability"`

	// Environment configuration for secure variable filtering on the
	// subprocess path (reused by the Permission Mapper's env allowlist).
	Environment *secureenv.EnvConfig `json:"environment,omitempty" toml:"environment" mapstructure:"environment"`

	// Logging configuration
	Logging *LogConfig `json:"logging,omitempty" toml:"logging" mapstructure:"logging"`
}

// CacheConfig controls the subprocess-path execution-result cache.
type CacheConfig struct {
	Enabled    bool `json:"enabled" toml:"enabled" mapstructure:"enabled"`
	MaxEntries int  `json:"max_entries" toml:"max_entries" mapstructure:"max-entries"`
	TTLSeconds int  `json:"ttl_seconds" toml:"ttl_seconds" mapstructure:"ttl-seconds"`
}

// SecurityConfig controls the pre-execution Security Validator.
type SecurityConfig struct {
	MaxCodeLength int `json:"max_code_length" toml:"max_code_length" mapstructure:"max-code-length"`
}

// CapabilityConfig supplies the org/project scope used when constructing and
// resolving capability FQDNs.
type CapabilityConfig struct {
	Org     string `json:"org" toml:"org" mapstructure:"org"`
	Project string `json:"project" toml:"project" mapstructure:"project"`
	// HashPrefixLen is the starting length of the hashPrefix component of a
	// capability FQDN; it expands on collision.
	HashPrefixLen int `json:"hash_prefix_len" toml:"hash_prefix_len" mapstructure:"hash-prefix-len"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level" toml:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" toml:"enable_file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" toml:"enable_console" mapstructure:"enable-console"`
	Filename      string `json:"filename" toml:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" toml:"log_dir" mapstructure:"log-dir"`
	MaxSize       int    `json:"max_size" toml:"max_size" mapstructure:"max-size"`
	MaxBackups    int    `json:"max_backups" toml:"max_backups" mapstructure:"max-backups"`
	MaxAge        int    `json:"max_age" toml:"max_age" mapstructure:"max-age"`
	Compress      bool   `json:"compress" toml:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" toml:"json_format" mapstructure:"json-format"`
}

// DefaultCacheConfig returns the default subprocess-path cache configuration.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Enabled:    true,
		MaxEntries: 100,
		TTLSeconds: 300,
	}
}

// DefaultSecurityConfig returns the default Security Validator configuration.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		MaxCodeLength: 100000,
	}
}

// DefaultCapabilityConfig returns the default Capability Registry configuration.
func DefaultCapabilityConfig() *CapabilityConfig {
	return &CapabilityConfig{
		Org:           "local",
		Project:       "default",
		HashPrefixLen: 4,
	}
}

// DefaultConfig returns a default configuration matching the spec's
// "Configuration surface (executor construction)".
func DefaultConfig() *Config {
	return &Config{
		DataDir: "",

		TimeoutMs:     30000,
		MemoryLimitMb: 512,
		RPCTimeoutMs:  10000,

		RPCRateLimitPerSec: 20,
		RPCRateBurst:       10,

		MaxConcurrent:         10,
		TotalMemoryCapMb:      3072,
		MemoryPressureEnabled: false,
		MemoryPressurePct:     80,

		Cache: DefaultCacheConfig(),

		IsolateForBasicRun: true,

		Security:      DefaultSecurityConfig(),
		SensitiveData: DefaultSensitiveDataDetectionConfig(),
		Capability:    DefaultCapabilityConfig(),

		Environment: secureenv.DefaultEnvConfig(),

		Logging: &LogConfig{
			Level:         "info",
			EnableFile:    false,
			EnableConsole: true,
			Filename:      "sandboxrt.log",
			MaxSize:       10,
			MaxBackups:    5,
			MaxAge:        30,
			Compress:      true,
			JSONFormat:    false,
		},
	}
}

// LoadFromFile reads a TOML configuration file, applies it over the
// defaults, and validates the result. An empty path returns DefaultConfig()
// unvalidated-but-defaulted, matching the teacher's "no config file means
// defaults" fallback in config.Load. TOML, not JSON, is the on-disk format —
// the same choice the teacher makes for its own config file and for
// importing third-party CLI configs in internal/configimport.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface
func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// ValidateDetailed performs detailed validation and returns all errors
func (c *Config) ValidateDetailed() []ValidationError {
	var errors []ValidationError

	if c.TimeoutMs <= 0 || c.TimeoutMs > 600000 {
		errors = append(errors, ValidationError{
			Field:   "timeout_ms",
			Message: "must be between 1 and 600000 milliseconds",
		})
	}

	if c.MemoryLimitMb <= 0 {
		errors = append(errors, ValidationError{
			Field:   "memory_limit_mb",
			Message: "must be positive",
		})
	}

	if c.RPCTimeoutMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "rpc_timeout_ms",
			Message: "must be positive",
		})
	}

	if c.MaxConcurrent < 1 || c.MaxConcurrent > 1000 {
		errors = append(errors, ValidationError{
			Field:   "max_concurrent",
			Message: "must be between 1 and 1000",
		})
	}

	if c.TotalMemoryCapMb < c.MemoryLimitMb {
		errors = append(errors, ValidationError{
			Field:   "total_memory_cap_mb",
			Message: "must be at least memory_limit_mb",
		})
	}

	if c.MemoryPressurePct <= 0 || c.MemoryPressurePct > 100 {
		errors = append(errors, ValidationError{
			Field:   "memory_pressure_pct",
			Message: "must be between 0 and 100",
		})
	}

	if c.Cache != nil {
		if c.Cache.MaxEntries < 0 {
			errors = append(errors, ValidationError{
				Field:   "cache.max_entries",
				Message: "cannot be negative",
			})
		}
		if c.Cache.TTLSeconds < 0 {
			errors = append(errors, ValidationError{
				Field:   "cache.ttl_seconds",
				Message: "cannot be negative",
			})
		}
	}

	if c.Security != nil && c.Security.MaxCodeLength <= 0 {
		errors = append(errors, ValidationError{
			Field:   "security.max_code_length",
			Message: "must be positive",
		})
	}

	if c.Capability != nil {
		if c.Capability.Org == "" {
			errors = append(errors, ValidationError{
				Field:   "capability.org",
				Message: "must not be empty",
			})
		}
		if c.Capability.Project == "" {
			errors = append(errors, ValidationError{
				Field:   "capability.project",
				Message: "must not be empty",
			})
		}
		if c.Capability.HashPrefixLen < 4 || c.Capability.HashPrefixLen > 8 {
			errors = append(errors, ValidationError{
				Field:   "capability.hash_prefix_len",
				Message: "must be between 4 and 8",
			})
		}
	}

	if c.DataDir != "" {
		if _, err := os.Stat(c.DataDir); os.IsNotExist(err) {
			errors = append(errors, ValidationError{
				Field:   "data_dir",
				Message: fmt.Sprintf("directory does not exist: %s", c.DataDir),
			})
		}
	}

	if c.Logging != nil {
		validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
		if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
			errors = append(errors, ValidationError{
				Field:   "logging.level",
				Message: fmt.Sprintf("invalid log level: %s (must be trace, debug, info, warn, or error)", c.Logging.Level),
			})
		}
	}

	return errors
}

// Validate applies defaults and performs validation, matching the teacher's
// "apply defaults then validate" two-pass idiom.
func (c *Config) Validate() error {
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = 30000
	}
	if c.MemoryLimitMb <= 0 {
		c.MemoryLimitMb = 512
	}
	if c.RPCTimeoutMs <= 0 {
		c.RPCTimeoutMs = 10000
	}
	if c.RPCRateLimitPerSec > 0 && c.RPCRateBurst <= 0 {
		c.RPCRateBurst = 10
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 10
	}
	if c.TotalMemoryCapMb <= 0 {
		c.TotalMemoryCapMb = 3072
	}
	if c.MemoryPressurePct <= 0 {
		c.MemoryPressurePct = 80
	}
	if c.Cache == nil {
		c.Cache = DefaultCacheConfig()
	}
	if c.Security == nil {
		c.Security = DefaultSecurityConfig()
	}
	if c.SensitiveData == nil {
		c.SensitiveData = DefaultSensitiveDataDetectionConfig()
	}
	if c.Capability == nil {
		c.Capability = DefaultCapabilityConfig()
	}
	if c.Environment == nil {
		c.Environment = secureenv.DefaultEnvConfig()
	}

	errors := c.ValidateDetailed()
	if len(errors) > 0 {
		return fmt.Errorf("%s", errors[0].Error())
	}

	return nil
}

// MarshalJSON implements json.Marshaler interface
func (c *Config) MarshalJSON() ([]byte, error) {
	type Alias Config
	return json.Marshal((*Alias)(c))
}

// UnmarshalJSON implements json.Unmarshaler interface
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	aux := &struct {
		*Alias
	}{
		Alias: (*Alias)(c),
	}
	return json.Unmarshal(data, aux)
}
