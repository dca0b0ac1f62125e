package config

// CustomPattern is a user-defined sensitive-data detection rule: either a
// regex or a keyword list, mutually exclusive, scoped to a category/severity
// for the RPC Bridge's trace-redaction enrichment (spec §4.7).
type CustomPattern struct {
	Name     string   `json:"name" toml:"name" mapstructure:"name"`
	Regex    string   `json:"regex,omitempty" toml:"regex" mapstructure:"regex"`
	Keywords []string `json:"keywords,omitempty" toml:"keywords" mapstructure:"keywords"`
	Category string   `json:"category,omitempty" toml:"category" mapstructure:"category"`
	Severity string   `json:"severity,omitempty" toml:"severity" mapstructure:"severity"`
}

// SensitiveDataDetectionConfig controls the Detector the RPC Bridge uses to
// scan tool-call arguments/responses before they are written into a trace
// event, so a capability's output never leaks a credential into a trace
// a caller or the learning hand-off later reads back.
type SensitiveDataDetectionConfig struct {
	Enabled            bool            `json:"enabled" toml:"enabled" mapstructure:"enabled"`
	ScanRequests       bool            `json:"scan_requests" toml:"scan_requests" mapstructure:"scan-requests"`
	ScanResponses      bool            `json:"scan_responses" toml:"scan_responses" mapstructure:"scan-responses"`
	MaxPayloadSize     int             `json:"max_payload_size" toml:"max_payload_size" mapstructure:"max-payload-size"`
	EntropyThreshold   float64         `json:"entropy_threshold" toml:"entropy_threshold" mapstructure:"entropy-threshold"`
	DisabledCategories []string        `json:"disabled_categories,omitempty" toml:"disabled_categories" mapstructure:"disabled-categories"`
	SensitiveKeywords  []string        `json:"sensitive_keywords,omitempty" toml:"sensitive_keywords" mapstructure:"sensitive-keywords"`
	CustomPatterns     []CustomPattern `json:"custom_patterns,omitempty" toml:"custom_patterns" mapstructure:"custom-patterns"`
}

// DefaultSensitiveDataDetectionConfig returns detection defaults: on, both
// directions scanned, a generous payload cap, and no custom patterns.
func DefaultSensitiveDataDetectionConfig() *SensitiveDataDetectionConfig {
	return &SensitiveDataDetectionConfig{
		Enabled:          true,
		ScanRequests:     true,
		ScanResponses:    true,
		MaxPayloadSize:   65536,
		EntropyThreshold: 4.3,
	}
}

// IsEnabled reports whether detection should run at all.
func (c *SensitiveDataDetectionConfig) IsEnabled() bool {
	return c != nil && c.Enabled
}

// GetMaxPayloadSize returns the configured scan cap, falling back to the
// default when unset.
func (c *SensitiveDataDetectionConfig) GetMaxPayloadSize() int {
	if c == nil || c.MaxPayloadSize <= 0 {
		return 65536
	}
	return c.MaxPayloadSize
}

// GetEntropyThreshold returns the configured Shannon-entropy cutoff, falling
// back to the default when unset.
func (c *SensitiveDataDetectionConfig) GetEntropyThreshold() float64 {
	if c == nil || c.EntropyThreshold <= 0 {
		return 4.3
	}
	return c.EntropyThreshold
}

// IsCategoryEnabled reports whether category has not been explicitly
// disabled.
func (c *SensitiveDataDetectionConfig) IsCategoryEnabled(category string) bool {
	if c == nil {
		return true
	}
	for _, disabled := range c.DisabledCategories {
		if disabled == category {
			return false
		}
	}
	return true
}
