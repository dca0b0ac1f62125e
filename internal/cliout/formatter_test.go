package cliout

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestNewSelectsFormatterByName(t *testing.T) {
	tests := []struct {
		format  string
		want    Formatter
		wantErr bool
	}{
		{format: "", want: &JSONFormatter{}},
		{format: "json", want: &JSONFormatter{}},
		{format: "YAML", want: &YAMLFormatter{}},
		{format: "yml", want: &YAMLFormatter{}},
		{format: "toml", wantErr: true},
	}

	for _, tt := range tests {
		got, err := New(tt.format)
		if tt.wantErr {
			if err == nil {
				t.Errorf("New(%q): expected error, got none", tt.format)
			}
			continue
		}
		if err != nil {
			t.Fatalf("New(%q): unexpected error: %v", tt.format, err)
		}
		if gotType, wantType := formatterTypeName(got), formatterTypeName(tt.want); gotType != wantType {
			t.Errorf("New(%q) = %s, want %s", tt.format, gotType, wantType)
		}
	}
}

func formatterTypeName(f Formatter) string {
	switch f.(type) {
	case *JSONFormatter:
		return "json"
	case *YAMLFormatter:
		return "yaml"
	default:
		return "unknown"
	}
}

func TestJSONFormatterFormatIsIndented(t *testing.T) {
	f := &JSONFormatter{}
	result, err := f.Format(map[string]interface{}{"ok": true, "value": 42})
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if !strings.Contains(result, "\n  ") {
		t.Errorf("expected indented JSON, got: %q", result)
	}
}

func TestYAMLFormatterFormatFieldNames(t *testing.T) {
	f := &YAMLFormatter{}

	data := struct {
		ExecutionTimeMs int64 `yaml:"execution_time_ms"`
		OK              bool  `yaml:"ok"`
	}{ExecutionTimeMs: 12, OK: true}

	result, err := f.Format(data)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	var parsed map[string]interface{}
	if err := yaml.Unmarshal([]byte(result), &parsed); err != nil {
		t.Fatalf("Format() result is not valid YAML: %v", err)
	}
	if !strings.Contains(result, "execution_time_ms:") {
		t.Errorf("expected snake_case field in YAML output, got: %q", result)
	}
}
