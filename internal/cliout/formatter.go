// Package cliout provides output formatting for sandboxctl commands: JSON
// (the default) and YAML, selected by --output.
//
// Trimmed from the teacher's internal/cli/output package: the table
// formatter and StructuredError type existed for the teacher's
// server/tool-list commands and error envelopes, which this CLI's two
// commands (run, capabilities list) have no tabular or multi-field-error
// analogue for; everything here is either struct or slice output.
package cliout

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Formatter renders data for terminal output.
type Formatter interface {
	Format(data interface{}) (string, error)
}

// JSONFormatter formats output as indented JSON.
type JSONFormatter struct{}

func (f *JSONFormatter) Format(data interface{}) (string, error) {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// YAMLFormatter formats output as YAML.
type YAMLFormatter struct{}

func (f *YAMLFormatter) Format(data interface{}) (string, error) {
	out, err := yaml.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// New returns a Formatter for the named format (case-insensitive).
// Supported: json (default), yaml.
func New(format string) (Formatter, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return &JSONFormatter{}, nil
	case "yaml", "yml":
		return &YAMLFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %s (valid: json, yaml)", format)
	}
}
