package validator

import (
	"strings"
	"testing"

	"github.com/smart-mcp-proxy/sandboxrt/internal/config"
)

func TestValidateAcceptsPlainCode(t *testing.T) {
	v := New(config.DefaultSecurityConfig())
	if err := v.Validate("2 + 40", nil); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestValidateRejectsTooLongCode(t *testing.T) {
	v := New(&config.SecurityConfig{MaxCodeLength: 10})
	err := v.Validate(strings.Repeat("a", 11), nil)
	if err == nil {
		t.Fatal("expected error for over-length code")
	}
	secErr, ok := err.(*Error)
	if !ok || secErr.Kind != KindCodeTooLong {
		t.Errorf("expected KindCodeTooLong, got %#v", err)
	}
}

func TestValidateRejectsInvalidContextKey(t *testing.T) {
	v := New(config.DefaultSecurityConfig())
	err := v.Validate("1", map[string]interface{}{"1invalid": 1})
	if err == nil {
		t.Fatal("expected error for invalid context key")
	}
	secErr, ok := err.(*Error)
	if !ok || secErr.Kind != KindInvalidContextKey {
		t.Errorf("expected KindInvalidContextKey, got %#v", err)
	}
}

func TestValidateRejectsDenylistedPattern(t *testing.T) {
	v := New(config.DefaultSecurityConfig())
	err := v.Validate(`require('child_process')`, nil)
	if err == nil {
		t.Fatal("expected error for denylisted pattern")
	}
	secErr, ok := err.(*Error)
	if !ok || secErr.Kind != KindDenylistedPattern {
		t.Errorf("expected KindDenylistedPattern, got %#v", err)
	}
}

func TestValidateDoesNotMutateInputs(t *testing.T) {
	v := New(config.DefaultSecurityConfig())
	ctx := map[string]interface{}{"foo": 1}
	code := "foo + 1"
	_ = v.Validate(code, ctx)

	if len(ctx) != 1 || ctx["foo"] != 1 {
		t.Errorf("context was mutated: %#v", ctx)
	}
}
